// Package push implements PushClient: push-proxy HTTP fallback and the
// GIV-candidate selection used when a firewalled server answers a push
// request by opening a connection back to us (§4.K).
package push

import (
	"context"
	"encoding/base32"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/gnutella-core/servent/internal/download"
	"github.com/gnutella-core/servent/internal/server"
	"github.com/gnutella-core/servent/pkg/guid"
	"github.com/gnutella-core/servent/pkg/retry"
)

// Router sends a PUSH message into the Gnutella routing layer, the
// fallback used once every known push-proxy has failed (§4.K).
type Router interface {
	SendPush(ctx context.Context, target guid.GUID, fileIndex uint32, ttl int) error
}

// Config bounds PushClient's retry behaviour (§4.K).
type Config struct {
	HardTTLLimit         int
	RetryRefusedDelay    time.Duration
	AlwaysPushMaxRetries int
}

func DefaultConfig() Config {
	return Config{
		HardTTLLimit:         7,
		RetryRefusedDelay:    300 * time.Second,
		AlwaysPushMaxRetries: 5,
	}
}

// Client drives the push-proxy cycle for one server (§4.K).
type Client struct {
	cfg    Config
	hc     *http.Client
	router Router
}

func New(cfg Config, hc *http.Client, router Router) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 20 * time.Second}
	}
	return &Client{cfg: cfg, hc: hc, router: router}
}

// Push attempts the server's known proxies in order, removing each that
// fails, and falls back to a routed PUSH message if none succeed (§4.K).
func (c *Client) Push(ctx context.Context, srv *server.Server, fileIndex uint32) error {
	for len(srv.PushProxies) > 0 {
		proxy := srv.PushProxies[0]
		err := c.tryProxy(ctx, proxy, srv.Key.GUID, fileIndex)
		if err == nil {
			return nil
		}
		srv.PushProxies = srv.PushProxies[1:]
	}

	if c.router == nil {
		return fmt.Errorf("push: no proxies left and no routing layer configured")
	}
	return c.router.SendPush(ctx, srv.Key.GUID, fileIndex, c.cfg.HardTTLLimit)
}

// tryProxy issues the push-proxy GET request, making at most two
// attempts 200ms apart before giving up on this proxy; any failure,
// whether a connection error or a non-2xx status, triggers the second
// attempt (§4.K).
func (c *Client) tryProxy(ctx context.Context, proxy netip.AddrPort, g guid.GUID, fileIndex uint32) error {
	id := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(g[:])
	url := fmt.Sprintf("http://%s/gnutella/push-proxy?ServerId=%s&file=%d", proxy, id, fileIndex)

	return retry.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := c.hc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode/100 != 2 {
			return fmt.Errorf("push: proxy %s returned %s", proxy, resp.Status)
		}
		return nil
	}, retry.WithMaxAttempts(2), retry.WithInitialDelay(200*time.Millisecond))
}

// RetryDecision is what to do with srv after a failed push attempt
// (§4.K).
type RetryDecision struct {
	Stop        bool
	HoldFor     time.Duration
	TimeoutHold bool
}

// NextRetry implements §4.K's retry policy: an always-push server gets a
// refused-delay hold, or stops after AlwaysPushMaxRetries, whether or
// not it has been contacted before; any other server just increments its
// retry count and holds or timeout-holds.
func (c *Client) NextRetry(srv *server.Server) RetryDecision {
	srv.Retries++

	if srv.AlwaysPush {
		if srv.Retries > c.cfg.AlwaysPushMaxRetries {
			return RetryDecision{Stop: true}
		}
		return RetryDecision{HoldFor: c.cfg.RetryRefusedDelay}
	}

	if srv.Retries%2 == 0 {
		return RetryDecision{HoldFor: c.cfg.RetryRefusedDelay}
	}
	return RetryDecision{TimeoutHold: true}
}

// GIVLine is a parsed incoming "GIV <index>:<hex-guid>/" line (§4.K).
type GIVLine struct {
	FileIndex uint32
	GUID      guid.GUID
}

// ParseGIV parses the ASCII GIV line a server sends on a connection it
// opened back to us in response to a push (§4.K).
func ParseGIV(line string) (GIVLine, error) {
	line = strings.TrimSuffix(strings.TrimSpace(line), "/")
	const prefix = "GIV "
	if !strings.HasPrefix(line, prefix) {
		return GIVLine{}, fmt.Errorf("push: malformed GIV line %q", line)
	}
	body := line[len(prefix):]
	parts := strings.SplitN(body, ":", 2)
	if len(parts) != 2 {
		return GIVLine{}, fmt.Errorf("push: malformed GIV line %q", line)
	}

	var idx uint32
	if _, err := fmt.Sscanf(parts[0], "%d", &idx); err != nil {
		return GIVLine{}, fmt.Errorf("push: malformed file index in %q: %w", line, err)
	}

	g, err := guid.ParseHex(parts[1])
	if err != nil {
		return GIVLine{}, fmt.Errorf("push: malformed guid in %q: %w", line, err)
	}

	return GIVLine{FileIndex: idx, GUID: g}, nil
}

// Accept resolves an incoming GIV to the Download it belongs to, reusing
// the same candidate-selection rule the scheduler applies (§4.K).
func Accept(give GIVLine, peerAddr netip.Addr, servers []*server.Server,
	waitingByServer, runningByServer map[*server.Server][]*download.Download, now time.Time) (download.GIVCandidate, bool) {
	return download.SelectGIVCandidate(servers, waitingByServer, runningByServer, give.GUID, peerAddr, now)
}
