package download

import "testing"

func TestBitmapFileInfoEmptyHoleAndComplete(t *testing.T) {
	fi := NewBitmapFileInfo(1000, 100)
	if fi.Complete() {
		t.Fatalf("expected incomplete fresh file")
	}

	start, end, ok := fi.EmptyHole()
	if !ok || start != 0 || end != 1000 {
		t.Fatalf("expected one hole spanning the whole file, got (%d,%d,%v)", start, end, ok)
	}

	fi.MarkDone(0, 1000)
	if !fi.Complete() {
		t.Fatalf("expected complete after marking the whole file done")
	}
	if _, _, ok := fi.EmptyHole(); ok {
		t.Fatalf("expected no holes left")
	}
}

func TestBitmapFileInfoIsDoneRespectsCellGranularity(t *testing.T) {
	fi := NewBitmapFileInfo(1000, 100)
	fi.MarkDone(200, 400)

	if !fi.IsDone(200, 400) {
		t.Fatalf("expected [200,400) to be done")
	}
	if fi.IsDone(150, 400) {
		t.Fatalf("did not expect [150,400) to be done")
	}
}

func TestBitmapFileInfoMarkEmptyReopensRange(t *testing.T) {
	fi := NewBitmapFileInfo(1000, 100)
	fi.MarkDone(0, 1000)
	fi.MarkEmpty(900, 1000)

	if fi.Complete() {
		t.Fatalf("expected incomplete after reopening tail window")
	}
	start, end, ok := fi.EmptyHole()
	if !ok || start != 900 || end != 1000 {
		t.Fatalf("unexpected hole after MarkEmpty: (%d,%d,%v)", start, end, ok)
	}
}
