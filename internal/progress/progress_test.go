package progress

import (
	"io"
	"testing"
)

func TestBarsCountSteps(t *testing.T) {
	b := New(io.Discard)
	b.Step() // no bar open yet
	b.End()
	if b.Done() != 0 {
		t.Fatalf("done = %d before Begin", b.Done())
	}

	b.Begin("epoch 1", 3)
	for i := 0; i < 3; i++ {
		b.Step()
	}
	b.End()
	if b.Done() != 3 {
		t.Errorf("done = %d, want 3", b.Done())
	}

	b.Begin("convert", 2)
	for i := 0; i < 4; i++ {
		b.BatchSaved(i, 10)
	}
	b.Begin("test", 0)
	b.End()
	b.End()
	if b.Done() != 0 {
		t.Errorf("done = %d after an empty bar", b.Done())
	}
}

func TestEndFillsBar(t *testing.T) {
	b := New(io.Discard)
	b.Begin("train", 4)
	b.Step()
	bar := b.bar
	b.End()
	if bar.Current() != bar.Total {
		t.Errorf("bar at %d of %d after End", bar.Current(), bar.Total)
	}
	if b.Done() != 1 {
		t.Errorf("done = %d, want 1", b.Done())
	}
}
