package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// HTTPProber performs direct HTTP availability checks.
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber creates a prober whose requests are bounded by timeout.
//
// Parameters:
//   - timeout: Per-request timeout
//
// Returns:
//   - *HTTPProber: Initialized HTTP prober
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
	}
}

// Probe issues a GET to url. The endpoint is up only when it answers 200.
//
// Parameters:
//   - ctx: Context for cancellation
//   - url: Target URL
//
// Returns:
//   - error: nil when up, *TransportError otherwise
func (p *HTTPProber) Probe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &TransportError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", "fleetmon/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return &TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusOK {
		return &TransportError{URL: url, StatusCode: resp.StatusCode}
	}
	return nil
}

// TunnelCommand returns the remote command that prints the HTTP status code
// of url as seen from the server.
func TunnelCommand(url string) string {
	return "curl -s -o /dev/null -w '%{http_code}' " + ShellQuote(url)
}

// TunneledProbe runs the status check for url inside sess. The endpoint is
// up only when the command prints exactly 200.
func TunneledProbe(ctx context.Context, sess Session, url string) error {
	res, err := sess.Run(ctx, TunnelCommand(url))
	if err != nil {
		return &TransportError{URL: url, Err: err}
	}
	if stderr := strings.TrimSpace(res.Stderr); stderr != "" {
		log.Warn().Str("url", url).Str("stderr", stderr).Msg("Tunneled probe wrote to stderr")
	}

	code := strings.TrimSpace(res.Stdout)
	if code == "200" {
		return nil
	}
	var status int
	_, _ = fmt.Sscanf(code, "%d", &status)
	return &TransportError{URL: url, StatusCode: status}
}

// ShellQuote wraps s in single quotes for a POSIX shell.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
