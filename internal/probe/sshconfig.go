package probe

import (
	"errors"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"fleetmon/internal/config"

	"github.com/kevinburke/ssh_config"
	"github.com/rs/zerolog/log"
)

const defaultSSHPort = 22

// Endpoint is a fully resolved SSH destination.
type Endpoint struct {
	Alias        string
	Host         string
	Port         int
	User         string
	IdentityFile string
	ProxyCommand string
}

// loadUserConfig parses the ssh client config at path. A missing or
// unreadable file yields nil, which resolves every field from the server entry.
func loadUserConfig(path string) *ssh_config.Config {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		path = filepath.Join(home, ".ssh", "config")
	}

	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", path).Msg("Cannot open ssh config")
		}
		return nil
	}
	defer f.Close()

	cfg, err := ssh_config.Decode(f)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Cannot parse ssh config")
		return nil
	}
	return cfg
}

// ResolveEndpoint merges the ssh config entry for the target's hostname alias
// with the explicit target fields. Values found in the ssh config win; the
// target fills in whatever the lookup does not supply.
func ResolveEndpoint(uc *ssh_config.Config, target config.SSHTarget) Endpoint {
	alias := target.Hostname
	lookup := func(key string) string {
		if uc == nil {
			return ""
		}
		v, err := uc.Get(alias, key)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(v)
	}

	ep := Endpoint{
		Alias:        alias,
		Host:         firstNonEmpty(lookup("HostName"), alias),
		User:         firstNonEmpty(lookup("User"), target.User, currentUser()),
		IdentityFile: firstNonEmpty(lookup("IdentityFile"), target.IdentityFile),
		ProxyCommand: firstNonEmpty(lookup("ProxyCommand"), target.ProxyCommand),
		Port:         defaultSSHPort,
	}
	if strings.EqualFold(ep.ProxyCommand, "none") {
		ep.ProxyCommand = ""
	}

	if p, err := strconv.Atoi(lookup("Port")); err == nil && p > 0 {
		ep.Port = p
	} else if target.Port > 0 {
		ep.Port = target.Port
	}

	ep.IdentityFile = expandHome(ep.IdentityFile)
	return ep
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// expandProxyCommand substitutes the %h, %p, %r and %% tokens.
func expandProxyCommand(cmd string, ep Endpoint) string {
	r := strings.NewReplacer(
		"%%", "%",
		"%h", ep.Host,
		"%p", strconv.Itoa(ep.Port),
		"%r", ep.User,
	)
	return r.Replace(cmd)
}
