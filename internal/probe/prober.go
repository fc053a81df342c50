package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fleetmon/internal/config"

	"github.com/rs/zerolog/log"
)

// Prober bundles the dialer and HTTP prober used by a sweep.
type Prober struct {
	dialer         Dialer
	http           *HTTPProber
	commandTimeout time.Duration
}

// NewProber creates a prober. Every command run through a session it opens
// is bounded by commandTimeout.
func NewProber(dialer Dialer, http *HTTPProber, commandTimeout time.Duration) *Prober {
	return &Prober{dialer: dialer, http: http, commandTimeout: commandTimeout}
}

// Connect opens a session to server.
func (p *Prober) Connect(ctx context.Context, server config.Server) (Session, error) {
	sess, err := p.dialer.Dial(ctx, server)
	if err != nil {
		var connErr *ConnectionError
		if errors.As(err, &connErr) {
			return nil, err
		}
		return nil, &ConnectionError{Server: server.Name, Err: err}
	}
	return &timedSession{Session: sess, timeout: p.commandTimeout}, nil
}

// CheckAPI reports whether api is up. A tunneled API whose server is unknown
// or unreachable is reported down along with the cause.
//
// Parameters:
//   - ctx: Context for cancellation
//   - api: API to check
//   - inv: Inventory used to resolve the tunneling server
//
// Returns:
//   - bool: true when the API answered 200
//   - error: Reason the API is down, nil when up
func (p *Prober) CheckAPI(ctx context.Context, api config.API, inv *config.Inventory) (bool, error) {
	if !api.RequiresSSH {
		if err := p.http.Probe(ctx, api.URL); err != nil {
			return false, err
		}
		return true, nil
	}

	server, ok := inv.Server(api.Server)
	if !ok {
		return false, fmt.Errorf("api %s: unknown server %q", api.Name, api.Server)
	}

	sess, err := p.Connect(ctx, server)
	if err != nil {
		return false, err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Debug().Err(cerr).Str("server", server.Name).Msg("Closing tunnel session")
		}
	}()

	if err := TunneledProbe(ctx, sess, api.URL); err != nil {
		return false, err
	}
	return true, nil
}
