// Package main provides the entry point for fleetmon.
//
// fleetmon polls a fleet of servers over SSH and a set of HTTP APIs on a
// schedule, records state changes and alerts a chat webhook about them.
package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"fleetmon/internal/config"
	"fleetmon/internal/logger"
	"fleetmon/internal/server"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

// Version information set during build time
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// main is the entry point of fleetmon.
//
// The startup sequence is as follows:
//  1. Load .env and configuration
//  2. Initialize logger
//  3. Setup graceful shutdown handling
//  4. Start the main server
func main() {
	configFile := pflag.StringP("config", "c", "", "path to config file")
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before configuration")
	pflag.Parse()

	loadEnv(*envFile)

	// Load application configuration (fails fast on error)
	cfg := loadConfig(*configFile)

	logger.Setup(cfg.Log)
	log.Info().
		Str("version", Version).
		Str("commit", GitCommit).
		Str("built", BuildTime).
		Msg("Starting fleetmon")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.New(cfg).Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

// loadEnv loads a dotenv file. A missing file is not an error.
func loadEnv(path string) {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("path", path).Msg("Failed to load env file")
	}
}

// loadConfig loads application configuration and terminates the program
// immediately if configuration cannot be loaded.
func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal().
			Err(err).
			Msg("Failed to load configuration")
	}
	return cfg
}
