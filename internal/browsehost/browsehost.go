// Package browsehost implements BrowseHost: a client-only fetch of a
// remote servent's full share list over the same QueryHit wire format
// used for ordinary search results (§4.M).
package browsehost

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gnutella-core/servent/internal/hostlist"
	"github.com/gnutella-core/servent/internal/queryhit"
	"github.com/gnutella-core/servent/internal/wire"
	"github.com/gnutella-core/servent/pkg/guid"
)

// Sink receives each decoded hit as BrowseHost streams the response
// body, mirroring what a regular network QueryHit delivery would feed
// into SearchRegistry.OnHit (§4.M). Kept as an interface so this package
// never has to import package search.
type Sink interface {
	OnHit(rs queryhit.ResultSet, muid guid.GUID)
}

// Config bounds the browse request (§4.M).
type Config struct {
	MaxPayloadSize uint32
	MaxExtensions  int
}

func DefaultConfig() Config {
	return Config{MaxPayloadSize: 64 * 1024, MaxExtensions: 16}
}

// Fetch issues the browse-host request against host and streams decoded
// QueryHit packets into sink as they arrive, until the body is
// exhausted or ctx is cancelled (the caller aborting the owning Search
// cancels ctx) (§4.M).
func Fetch(ctx context.Context, hc *http.Client, host string, cfg Config, muid guid.GUID, hostile hostlist.Checker, sink Sink) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+host+"/", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/x-gnutella-packets")
	req.Header.Set("Accept-Encoding", "gzip, deflate")

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("browsehost: %s returned %s", host, resp.Status)
	}

	body, err := decompress(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return err
	}
	if c, ok := body.(io.Closer); ok {
		defer c.Close()
	}

	return decodeFrames(body, cfg, muid, hostile, sink)
}

// decompress layers the optional gunzip/inflate stages ahead of packet
// framing; net/http has already stripped any chunked transfer-coding by
// the time resp.Body reaches here (§4.M).
func decompress(r io.Reader, encoding string) (io.Reader, error) {
	switch encoding {
	case "gzip":
		return gzip.NewReader(r)
	case "deflate":
		return flate.NewReader(r), nil
	case "", "identity":
		return r, nil
	default:
		return nil, fmt.Errorf("browsehost: unsupported Content-Encoding %q", encoding)
	}
}

// decodeFrames reads back-to-back Gnutella packets from r, decoding each
// QueryHit payload and handing it to sink; non-QueryHit packets are
// skipped (§4.M).
func decodeFrames(r io.Reader, cfg Config, muid guid.GUID, hostile hostlist.Checker, sink Sink) error {
	br := bufio.NewReader(r)

	for {
		hdrBuf := make([]byte, wire.HeaderSize)
		if _, err := io.ReadFull(br, hdrBuf); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("browsehost: reading header: %w", err)
		}

		var h wire.Header
		if err := h.UnmarshalBinary(hdrBuf); err != nil {
			return err
		}
		if h.PayloadSize > cfg.MaxPayloadSize {
			return wire.ErrSizeBomb
		}

		payload := make([]byte, h.PayloadSize)
		if _, err := io.ReadFull(br, payload); err != nil {
			return fmt.Errorf("browsehost: reading payload: %w", err)
		}

		if h.Function != wire.FuncQueryHit {
			continue
		}

		rs, err := queryhit.Decode(payload, cfg.MaxExtensions, noPushIgnored{}, hostile)
		if err != nil {
			continue
		}
		sink.OnHit(rs, muid)
	}
}

// FetchAll browses every host concurrently, each under its own MUID, and
// returns the first error encountered (if any) once all fetches have
// finished. OnHit calls from all hosts go through a mutex-guarded
// adapter, so sink itself need not be safe for concurrent use.
func FetchAll(ctx context.Context, hc *http.Client, hosts []string, cfg Config, hostile hostlist.Checker, sink Sink) error {
	g, ctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	guarded := guardedSink{mu: &mu, sink: sink}

	for _, host := range hosts {
		host := host
		g.Go(func() error {
			return Fetch(ctx, hc, host, cfg, guid.New(), hostile, guarded)
		})
	}
	return g.Wait()
}

type guardedSink struct {
	mu   *sync.Mutex
	sink Sink
}

func (g guardedSink) OnHit(rs queryhit.ResultSet, muid guid.GUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sink.OnHit(rs, muid)
}

type noPushIgnored struct{}

func (noPushIgnored) PushIgnored(guid.GUID) bool { return false }
