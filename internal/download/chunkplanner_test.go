package download

import "testing"

func TestPlanNonSwarmingResumesAfterOverlapRange(t *testing.T) {
	p := PlanNonSwarming(1000, 100, 5000)
	if p.Skip != 1000 || p.Overlap != 100 || p.Pos != 1000 || p.RangeEnd != 5000 {
		t.Fatalf("unexpected plan: %+v", p)
	}
}

func TestPlanNonSwarmingNoOverlapWhenDoneBelowRange(t *testing.T) {
	p := PlanNonSwarming(50, 100, 5000)
	if p.Skip != 0 || p.Overlap != 0 {
		t.Fatalf("unexpected plan: %+v", p)
	}
}

type fakeFileInfo struct {
	holeStart, holeEnd int64
	hasHole            bool
	complete           bool
	done               map[[2]int64]bool
	size               int64
}

func (f *fakeFileInfo) EmptyHole() (int64, int64, bool) { return f.holeStart, f.holeEnd, f.hasHole }
func (f *fakeFileInfo) Complete() bool                  { return f.complete }
func (f *fakeFileInfo) IsDone(start, end int64) bool    { return f.done[[2]int64{start, end}] }
func (f *fakeFileInfo) Size() int64                     { return f.size }

func TestPlanSwarmingStopsWhenComplete(t *testing.T) {
	fi := &fakeFileInfo{complete: true}
	p := PlanSwarming(fi, 100)
	if !p.NoGapsLeft {
		t.Fatalf("expected NoGapsLeft")
	}
}

func TestPlanSwarmingRequeuesWhenOnlyBusyHoles(t *testing.T) {
	fi := &fakeFileInfo{hasHole: false}
	p := PlanSwarming(fi, 100)
	if !p.Requeue {
		t.Fatalf("expected Requeue")
	}
}

func TestPlanSwarmingReusesOverlapWhenPrecedingBytesDone(t *testing.T) {
	fi := &fakeFileInfo{
		holeStart: 500, holeEnd: 1000, hasHole: true,
		done: map[[2]int64]bool{{400, 500}: true},
	}
	p := PlanSwarming(fi, 100)
	if p.Overlap != 100 || p.Skip != 500 {
		t.Fatalf("unexpected plan: %+v", p)
	}
}

func TestPlanPFSPNoOpWhenAlreadyCovered(t *testing.T) {
	current := Plan{Skip: 0, Overlap: 0, RangeEnd: 100}
	available := []AvailableRange{{Start: 0, End: 200}}
	p := PlanPFSP(&fakeFileInfo{}, available, 0, current)
	if !p.NoOp {
		t.Fatalf("expected NoOp, got %+v", p)
	}
}

func TestPlanPFSPIntersectsAvailableAndHole(t *testing.T) {
	fi := &fakeFileInfo{holeStart: 0, holeEnd: 1000, hasHole: true}
	available := []AvailableRange{{Start: 200, End: 600}}
	current := Plan{Skip: 0, Overlap: 0, RangeEnd: 50}
	p := PlanPFSP(fi, available, 0, current)
	if p.Skip != 200 || p.RangeEnd != 600 {
		t.Fatalf("unexpected plan: %+v", p)
	}
}
