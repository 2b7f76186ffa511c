// Package localindex declares the interface the query responder consumes
// to match incoming queries against this servent's shared files. The
// share/library scanner and ignored-file policy that implement it are out
// of scope (spec §1); this package only names the contract.
package localindex

// Match is one file this servent can answer a query with.
type Match struct {
	FileIndex uint32
	FileName  string
	FileSize  uint64
	SHA1      [20]byte
	HasSHA1   bool

	// DontShow / Ignored mirror the SR_DONT_SHOW / SR_IGNORED flag pair
	// the UI-facing ignored-files tri-state collapses to at the core
	// boundary (§9 open question).
	DontShow bool
	Ignored  bool
}

// Index is the LocalIndex capability consumed by QueryResponder (§4.D).
type Index interface {
	// BySHA1 looks up a shared file by its advertised SHA-1 URN hash.
	BySHA1(sum [20]byte) (Match, bool)

	// FullText performs the local full-text match against canonicalized
	// query text.
	FullText(query string) []Match
}
