// Package persist implements PersistStore: the line-oriented on-disk
// format used to save and recover non-transient downloads across
// restarts (§4.L).
package persist

import (
	"bufio"
	"encoding/base32"
	"fmt"
	"io"
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"github.com/gnutella-core/servent/pkg/guid"
)

// RecLines is the number of lines each serialized record occupies,
// written once as a file preamble (§4.L).
const RecLines = 4

// MagicTime is the create_time value reserved for downloads recreated
// from disk (§4.L). Record carries no create time, and nothing in this
// package applies MagicTime.
const MagicTime = 1

// Record is one persisted download (§4.L).
type Record struct {
	FileName  string
	Size      int64
	FileIndex uint32
	GUID      guid.GUID // blank when absent
	Addr      netip.Addr
	Port      uint16
	Hostname  string

	SHA1    [20]byte
	HasSHA1 bool

	ParqID string // empty when absent
}

// Save writes every record to w using the four-line-per-record format
// (§4.L).
func Save(w io.Writer, records []Record) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# RECLINES=%d\n", RecLines)

	for _, r := range records {
		fmt.Fprintln(bw, url.QueryEscape(r.FileName))

		host := fmt.Sprintf("%s:%d", r.Addr, r.Port)
		if r.Hostname != "" {
			host += "," + r.Hostname
		}
		idxField := strconv.FormatUint(uint64(r.FileIndex), 10)
		if !r.GUID.IsBlank() {
			idxField += ":" + r.GUID.String()
		}
		fmt.Fprintf(bw, "%d, %s, %s\n", r.Size, idxField, host)

		if r.HasSHA1 {
			fmt.Fprintln(bw, base32.StdEncoding.EncodeToString(r.SHA1[:]))
		} else {
			fmt.Fprintln(bw, "*")
		}

		if r.ParqID != "" {
			fmt.Fprintln(bw, r.ParqID)
		} else {
			fmt.Fprintln(bw, "*")
		}

		fmt.Fprintln(bw)
	}

	return bw.Flush()
}

// Load parses the records written by Save (§4.L); the returned records
// carry no create time, and MagicTime is not applied. Records with a
// malformed info line are skipped rather than aborting the whole load, so
// one corrupt entry doesn't lose the rest; a record cut off after its
// filename line still ends the load with an error.
func Load(r io.Reader) ([]Record, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var out []Record
	for {
		rec, ok, err := readOneRecord(sc)
		if err != nil {
			return out, err
		}
		if !ok {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}

func readOneRecord(sc *bufio.Scanner) (Record, bool, error) {
	line, ok := nextNonCommentLine(sc)
	if !ok {
		return Record{}, false, nil
	}

	name, err := url.QueryUnescape(line)
	if err != nil {
		name = line
	}

	if !sc.Scan() {
		return Record{}, false, fmt.Errorf("persist: truncated record after filename %q", name)
	}
	size, idxField, host, err := parseInfoLine(sc.Text())
	if err != nil {
		// Skip the rest of this record up to its blank separator line.
		for sc.Scan() && strings.TrimSpace(sc.Text()) != "" {
		}
		return readOneRecord(sc)
	}

	var sha1 [20]byte
	hasSHA1 := false
	if sc.Scan() {
		if t := strings.TrimSpace(sc.Text()); t != "" && t != "*" {
			raw, err := base32.StdEncoding.DecodeString(t)
			if err == nil && len(raw) == 20 {
				copy(sha1[:], raw)
				hasSHA1 = true
			}
		}
	}

	parqID := ""
	if sc.Scan() {
		if t := strings.TrimSpace(sc.Text()); t != "*" {
			parqID = t
		}
	}

	sc.Scan() // blank separator line

	fileIndex, g := splitIndexField(idxField)
	addr, port, hostname := host.addr, host.port, host.hostname

	return Record{
		FileName:  name,
		Size:      size,
		FileIndex: fileIndex,
		GUID:      g,
		Addr:      addr,
		Port:      port,
		Hostname:  hostname,
		SHA1:      sha1,
		HasSHA1:   hasSHA1,
		ParqID:    parqID,
	}, true, nil
}

func nextNonCommentLine(sc *bufio.Scanner) (string, bool) {
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		return line, true
	}
	return "", false
}

type hostField struct {
	addr     netip.Addr
	port     uint16
	hostname string
}

func parseInfoLine(line string) (size int64, idxField string, host hostField, err error) {
	parts := strings.SplitN(line, ",", 3)
	if len(parts) != 3 {
		return 0, "", hostField{}, fmt.Errorf("persist: malformed info line %q", line)
	}
	size, err = strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return 0, "", hostField{}, fmt.Errorf("persist: malformed size in %q: %w", line, err)
	}
	idxField = strings.TrimSpace(parts[1])

	hostPart := strings.TrimSpace(parts[2])
	hostname := ""
	if i := strings.Index(hostPart, ","); i >= 0 {
		hostname = hostPart[i+1:]
		hostPart = hostPart[:i]
	}
	ap, err := netip.ParseAddrPort(hostPart)
	if err != nil {
		return 0, "", hostField{}, fmt.Errorf("persist: malformed address in %q: %w", line, err)
	}
	return size, idxField, hostField{addr: ap.Addr(), port: ap.Port(), hostname: hostname}, nil
}

func splitIndexField(field string) (uint32, guid.GUID) {
	parts := strings.SplitN(field, ":", 2)
	idx, _ := strconv.ParseUint(parts[0], 10, 32)
	if len(parts) == 2 {
		if g, err := guid.ParseHex(parts[1]); err == nil {
			return uint32(idx), g
		}
	}
	return uint32(idx), guid.GUID{}
}
