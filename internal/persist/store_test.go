package persist

import (
	"bytes"
	"net/netip"
	"testing"

	"github.com/gnutella-core/servent/pkg/guid"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	g := guid.New()
	records := []Record{
		{
			FileName:  "some file.mp3",
			Size:      12345,
			FileIndex: 7,
			GUID:      g,
			Addr:      netip.MustParseAddr("1.2.3.4"),
			Port:      6346,
			Hostname:  "peer.example",
			SHA1:      [20]byte{1, 2, 3, 4, 5},
			HasSHA1:   true,
			ParqID:    "abc123",
		},
		{
			FileName:  "plain.bin",
			Size:      99,
			FileIndex: 0,
			Addr:      netip.MustParseAddr("5.6.7.8"),
			Port:      1111,
		},
	}

	var buf bytes.Buffer
	if err := Save(&buf, records); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}

	got, err := Load(&buf)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d: %+v", len(got), got)
	}

	if got[0].FileName != "some file.mp3" || got[0].GUID != g || !got[0].HasSHA1 || got[0].ParqID != "abc123" {
		t.Fatalf("unexpected first record: %+v", got[0])
	}
	if got[0].Hostname != "peer.example" {
		t.Fatalf("expected hostname to round-trip, got %q", got[0].Hostname)
	}
	if got[1].GUID.IsBlank() == false {
		t.Fatalf("expected blank GUID for second record, got %v", got[1].GUID)
	}
	if got[1].HasSHA1 {
		t.Fatalf("expected no SHA-1 for second record")
	}
	if got[1].ParqID != "" {
		t.Fatalf("expected no PARQ id for second record, got %q", got[1].ParqID)
	}
}

func TestLoadSkipsCommentPreamble(t *testing.T) {
	data := "# RECLINES=4\n" +
		"plain.bin\n" +
		"42, 3, 9.9.9.9:2000\n" +
		"*\n" +
		"*\n" +
		"\n"
	got, err := Load(bytes.NewBufferString(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].FileName != "plain.bin" || got[0].Size != 42 {
		t.Fatalf("unexpected result: %+v", got)
	}
}
