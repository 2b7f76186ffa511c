// Package download implements Download's state machine, ChunkPlanner,
// and HttpDownloader: the swarmed HTTP retrieval path (§4.I, §4.J).
package download

// FileInfo is the swarming-mode collaborator that tracks which byte
// ranges of a target file are empty, busy (claimed by an in-flight
// request), or done (§4.I). Implemented by the file-spanning storage
// layer; out of this package's scope to construct.
type FileInfo interface {
	// EmptyHole returns an unclaimed [start, end) range, or ok=false if
	// none remain (either everything is busy, or the file is complete).
	EmptyHole() (start, end int64, ok bool)

	// Complete reports whether every byte of the file is done.
	Complete() bool

	// IsDone reports whether [start, end) is already fully received.
	IsDone(start, end int64) bool

	Size() int64
}

// AvailableRange is one interval a server has advertised via
// X-Available-Ranges (§4.I, §4.J).
type AvailableRange struct {
	Start, End int64 // half-open
}

// Plan is ChunkPlanner's output: the byte range to request, plus the
// overlap prefix to re-validate against already-downloaded data before
// trusting the new bytes (§4.I).
type Plan struct {
	Skip     int64
	Overlap  int64
	Pos      int64
	RangeEnd int64

	// NoGapsLeft is true when swarming mode found the file already
	// complete: the caller should stop rather than requeue.
	NoGapsLeft bool
	// Requeue is true when every remaining hole is currently busy: the
	// caller should requeue with a short delay rather than fail.
	Requeue bool
	// NoOp is true when the PFSP branch determined the requested chunk
	// is already covered by the server's newly-observed available
	// ranges, so reissuing would just ping-pong the same request.
	NoOp bool
}

// PlanNonSwarming implements the non-swarming branch of ChunkPlanner:
// resume from `done`, re-validating the trailing overlapRange bytes
// (§4.I).
func PlanNonSwarming(done, overlapRange, filesize int64) Plan {
	var skip, overlap int64
	if done > overlapRange {
		skip = done
	}
	if skip > overlap {
		overlap = overlapRange
	}
	return Plan{Skip: skip, Overlap: overlap, Pos: skip, RangeEnd: filesize}
}

// PlanSwarming implements the swarming branch: ask FileInfo for an empty
// hole, requeuing or stopping when none are available, and reusing
// overlap only when the preceding overlapRange bytes are already done
// (§4.I).
func PlanSwarming(fi FileInfo, overlapRange int64) Plan {
	if fi.Complete() {
		return Plan{NoGapsLeft: true}
	}

	start, end, ok := fi.EmptyHole()
	if !ok {
		return Plan{Requeue: true}
	}

	var overlap int64
	if start > overlapRange && fi.IsDone(start-overlapRange, start) {
		overlap = overlapRange
	}

	return Plan{Skip: start, Overlap: overlap, Pos: start, RangeEnd: end}
}

// PlanPFSP implements the Partial-File-Sharing-Protocol branch: pick an
// available interval intersected with an empty hole, reusing overlap
// only when the preceding range is both locally done and remotely
// available. If the requested interval is already contained in the
// newly observed available ranges, returns Plan{NoOp: true} so the
// caller doesn't reissue the same request (§4.I).
func PlanPFSP(fi FileInfo, available []AvailableRange, overlapRange int64, current Plan) Plan {
	if containsInterval(available, current.Skip-current.Overlap, current.RangeEnd) {
		return Plan{NoOp: true}
	}

	start, end, ok := fi.EmptyHole()
	if !ok {
		if fi.Complete() {
			return Plan{NoGapsLeft: true}
		}
		return Plan{Requeue: true}
	}

	interStart, interEnd, ok := intersect(available, start, end)
	if !ok {
		return Plan{Requeue: true}
	}

	var overlap int64
	if interStart > overlapRange &&
		fi.IsDone(interStart-overlapRange, interStart) &&
		containsInterval(available, interStart-overlapRange, interStart) {
		overlap = overlapRange
	}

	return Plan{Skip: interStart, Overlap: overlap, Pos: interStart, RangeEnd: interEnd}
}

func containsInterval(ranges []AvailableRange, start, end int64) bool {
	for _, r := range ranges {
		if r.Start <= start && end <= r.End {
			return true
		}
	}
	return false
}

func intersect(ranges []AvailableRange, start, end int64) (int64, int64, bool) {
	for _, r := range ranges {
		s, e := max64(r.Start, start), min64(r.End, end)
		if s < e {
			return s, e, true
		}
	}
	return 0, 0, false
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
