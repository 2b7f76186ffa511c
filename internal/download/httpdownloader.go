package download

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gnutella-core/servent/pkg/sha1urn"
)

// RequestParams carries everything HttpDownloader needs to build one
// request (§4.J).
type RequestParams struct {
	ExplicitURI string
	HasSHA1     bool
	SHA1        [20]byte
	FileIndex   uint32
	FileName    string

	Plan Plan
	Size int64 // 0 when unknown

	NoHTTP11 bool
	Banning  bool

	Token      string
	Features   string
	AltLocs    []string // pre-rendered alternate-location header values
	AltLocBudgetBytes int

	Host string
}

// BuildRequest implements the URL-selection and header-construction half
// of HttpDownloader (§4.J).
func BuildRequest(ctx context.Context, p RequestParams) (*http.Request, error) {
	target, markedURIRes := selectURL(p)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if p.NoHTTP11 {
		req.Proto = "HTTP/1.0"
		req.ProtoMajor, req.ProtoMinor = 1, 0
	}

	if rng := rangeHeader(p.Plan, p.Size); rng != "" {
		req.Header.Set("Range", rng)
	}

	if !p.Banning {
		if p.Token != "" {
			req.Header.Set("X-Token", p.Token)
		}
		if p.Features != "" {
			req.Header.Set("X-Features", p.Features)
		}
	}

	if p.HasSHA1 && (markedURIRes || len(p.AltLocs) > 0) {
		req.Header.Set("X-Gnutella-Content-URN", sha1urn.Format(p.SHA1))
	}

	if altHeader := renderAltLocs(p.AltLocs, p.AltLocBudgetBytes); altHeader != "" {
		req.Header.Set("X-Alt", altHeader)
	}

	req.Header.Set("Accept-Encoding", "deflate")

	return req, nil
}

func selectURL(p RequestParams) (target string, uriRes bool) {
	switch {
	case p.ExplicitURI != "":
		return "http://" + p.Host + p.ExplicitURI, false
	case p.HasSHA1:
		return "http://" + p.Host + "/uri-res/N2R?" + sha1urn.Format(p.SHA1), true
	default:
		return fmt.Sprintf("http://%s/get/%d/%s", p.Host, p.FileIndex, url.PathEscape(p.FileName)), false
	}
}

func rangeHeader(plan Plan, size int64) string {
	start := plan.Skip - plan.Overlap
	if start < 0 {
		start = 0
	}
	if size > 0 && plan.RangeEnd > 0 && plan.RangeEnd < size {
		return fmt.Sprintf("bytes=%d-%d", start, plan.RangeEnd-1)
	}
	return fmt.Sprintf("bytes=%d-", start)
}

func renderAltLocs(locs []string, budget int) string {
	if len(locs) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, l := range locs {
		if budget > 0 && sb.Len()+len(l)+1 > budget {
			break
		}
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(l)
	}
	return sb.String()
}

// ReplyOutcome is the classification HttpDownloader derives from a
// response's status line and headers (§4.J).
type ReplyOutcome int

const (
	ReplyOK ReplyOutcome = iota
	ReplyRedirect
	ReplyPartialRange
	ReplyRangeIgnored
	ReplyNeedsPFSPRetry
	ReplyQueued
	ReplyBanned
	ReplyParqCooldown
	ReplyOther
)

// ReplyResult is HttpDownloader's decoded verdict for one response
// (§4.J).
type ReplyResult struct {
	Outcome ReplyOutcome

	Location string

	ContentLength int64
	HasLength     bool
	RangeStart    int64
	RangeEnd      int64 // inclusive, as on the wire
	RangeTotal    int64
	HasRange      bool

	ShrunkReply bool

	Available []AvailableRange

	KeepAlive bool

	ParqHoldSeconds int
}

// ClassifyReply runs the §4.J reply-handling decision tree against a
// parsed *http.Response for the request described by plan/size.
func ClassifyReply(resp *http.Response, plan Plan, size int64, isGTKG bool) (ReplyResult, error) {
	res := ReplyResult{KeepAlive: keepAliveDefault(resp)}

	switch resp.StatusCode {
	case http.StatusMovedPermanently:
		res.Outcome = ReplyRedirect
		res.Location = resp.Header.Get("Location")
		return res, nil

	case http.StatusOK, http.StatusPartialContent:
		return classifyContentReply(resp, plan, size, resp.StatusCode == http.StatusPartialContent)

	case http.StatusRequestedRangeNotSatisfiable, http.StatusServiceUnavailable:
		if resp.StatusCode == http.StatusServiceUnavailable {
			if pos, length, eta, retry, ok := parseQueueHeaders(resp); ok {
				_ = pos
				_ = length
				_ = eta
				res.Outcome = ReplyQueued
				res.ParqHoldSeconds = retry
				return res, nil
			}
		}
		if ranges := resp.Header.Get("X-Available-Ranges"); ranges != "" {
			res.Available = parseAvailableRanges(ranges)
			res.Outcome = ReplyNeedsPFSPRetry
			return res, nil
		}
		res.Outcome = ReplyOther
		return res, nil

	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		if resp.StatusCode == http.StatusForbidden && isGTKG &&
			strings.Contains(strings.ToLower(resp.Status), "removed from parq") {
			res.Outcome = ReplyParqCooldown
			res.ParqHoldSeconds = 1200
			return res, nil
		}
		if !isGTKG {
			res.Outcome = ReplyBanned
			return res, nil
		}
		res.Outcome = ReplyOther
		return res, nil

	default:
		res.Outcome = ReplyOther
		return res, nil
	}
}

func classifyContentReply(resp *http.Response, plan Plan, size int64, partial bool) (ReplyResult, error) {
	res := ReplyResult{KeepAlive: keepAliveDefault(resp)}

	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			res.ContentLength = n
			res.HasLength = true
		}
	}

	if cr := resp.Header.Get("Content-Range"); cr != "" {
		start, end, total, ok := parseContentRange(cr)
		if !ok {
			return res, fmt.Errorf("download: malformed Content-Range %q", cr)
		}
		res.RangeStart, res.RangeEnd, res.RangeTotal, res.HasRange = start, end, total, true

		if res.HasLength && res.ContentLength != end-start+1 {
			return res, fmt.Errorf("download: Content-Length/Content-Range disagree")
		}
		if start != plan.Skip-plan.Overlap {
			return res, fmt.Errorf("download: range start %d does not match requested %d", start, plan.Skip-plan.Overlap)
		}
		if total != size && size != 0 {
			return res, fmt.Errorf("download: range total %d does not match known filesize %d", total, size)
		}
		if end > plan.RangeEnd-1 {
			return res, fmt.Errorf("download: range end %d exceeds planned end %d", end, plan.RangeEnd-1)
		}
		if end+1 < plan.RangeEnd {
			res.ShrunkReply = true
		}
	} else if partial {
		return res, fmt.Errorf("download: 206 reply without Content-Range")
	} else if res.HasLength && size > 0 && plan.RangeEnd < size && res.ContentLength == size {
		return res, fmt.Errorf("download: server ignored range request")
	}

	res.Outcome = ReplyOK
	if partial {
		res.Outcome = ReplyPartialRange
	}
	return res, nil
}

func keepAliveDefault(resp *http.Response) bool {
	conn := strings.ToLower(resp.Header.Get("Connection"))
	if resp.ProtoAtLeast(1, 1) {
		return conn != "close"
	}
	return conn == "keep-alive"
}

func parseContentRange(header string) (start, end, total int64, ok bool) {
	header = strings.TrimPrefix(header, "bytes ")
	parts := strings.SplitN(header, "/", 2)
	if len(parts) != 2 {
		return 0, 0, 0, false
	}
	rangeParts := strings.SplitN(parts[0], "-", 2)
	if len(rangeParts) != 2 {
		return 0, 0, 0, false
	}
	s, err1 := strconv.ParseInt(rangeParts[0], 10, 64)
	e, err2 := strconv.ParseInt(rangeParts[1], 10, 64)
	t, err3 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, 0, 0, false
	}
	return s, e, t, true
}

func parseAvailableRanges(header string) []AvailableRange {
	header = strings.TrimPrefix(header, "bytes ")
	var out []AvailableRange
	for _, piece := range strings.Split(header, ",") {
		piece = strings.TrimSpace(piece)
		parts := strings.SplitN(piece, "-", 2)
		if len(parts) != 2 {
			continue
		}
		s, err1 := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		e, err2 := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, AvailableRange{Start: s, End: e + 1})
	}
	return out
}

// parseQueueHeaders decodes PARQ's X-Queue/X-Queued headers (§4.J). ok
// is false when neither header is present.
func parseQueueHeaders(resp *http.Response) (position, length, eta, retryAfter int, ok bool) {
	raw := resp.Header.Get("X-Queued")
	if raw == "" {
		raw = resp.Header.Get("X-Queue")
	}
	if raw == "" {
		return 0, 0, 0, 0, false
	}
	fields := map[string]string{}
	for _, kv := range strings.Split(raw, ",") {
		kv = strings.TrimSpace(kv)
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			fields[strings.ToLower(strings.TrimSpace(parts[0]))] = strings.TrimSpace(parts[1])
		}
	}
	position, _ = strconv.Atoi(fields["position"])
	length, _ = strconv.Atoi(fields["length"])
	eta, _ = strconv.Atoi(fields["eta"])
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		retryAfter, _ = strconv.Atoi(ra)
	}
	return position, length, eta, retryAfter, true
}

// ClockSkew estimates clock skew from a response's Date header and a
// half-RTT estimate; the advertised precision is rtt/2+1s, never zero,
// preserving precision-zero's reserved "NTP-exclusive" meaning (§4.J).
type ClockSkew struct {
	Offset    time.Duration
	Precision time.Duration
}

// EstimateClockSkew compares the server's Date header against the local
// clock at the midpoint of the request/response round trip.
func EstimateClockSkew(serverDate string, sentAt, receivedAt time.Time) (ClockSkew, error) {
	t, err := http.ParseTime(serverDate)
	if err != nil {
		return ClockSkew{}, err
	}
	rtt := receivedAt.Sub(sentAt)
	halfRTT := rtt / 2
	localMidpoint := sentAt.Add(halfRTT)

	return ClockSkew{
		Offset:    t.Sub(localMidpoint),
		Precision: halfRTT + time.Second,
	}, nil
}

// ValidateOverlap re-reads overlap bytes from the partial file (the
// caller supplies them, already read at offset skip-overlap) and
// compares byte-for-byte against the head of newly received data (§4.J).
func ValidateOverlap(localOverlap, receivedHead []byte) bool {
	if len(receivedHead) < len(localOverlap) {
		return false
	}
	return bytes.Equal(localOverlap, receivedHead[:len(localOverlap)])
}
