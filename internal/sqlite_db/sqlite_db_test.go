package sqlite_db

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
)

func openLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "data", "ledger.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRunLifecycle(t *testing.T) {
	l := openLedger(t)
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	id, err := l.StartRun("train", map[string]string{"epochs": "2", "prefix": "out/model"})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if len(id) != 36 {
		t.Errorf("run id %q is not a uuid", id)
	}
	for e, loss := range []float64{1.5, 0.75} {
		if err := l.RecordEpoch(id, e+1, loss, 3); err != nil {
			t.Fatalf("RecordEpoch: %v", err)
		}
	}
	if err := l.FinishRun(id, "done"); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	runs, err := l.Runs()
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs", len(runs))
	}
	r := runs[0]
	if r.ID != id || r.Mode != "train" || r.Status != "done" || !r.FinishedAt.Valid {
		t.Errorf("run = %s", spew.Sdump(r))
	}
	if !reflect.DeepEqual(r.Params, map[string]string{"epochs": "2", "prefix": "out/model"}) {
		t.Errorf("params = %v", r.Params)
	}
	if r.StartedAt != "2024-05-01T12:00:01.000000000Z" {
		t.Errorf("started at %s", r.StartedAt)
	}
	if !strings.Contains(r.Host, "cores") {
		t.Errorf("host = %q", r.Host)
	}

	epochs, err := l.Epochs(id)
	if err != nil {
		t.Fatalf("Epochs: %v", err)
	}
	want := []Epoch{{1, 1.5, 3}, {2, 0.75, 3}}
	if !reflect.DeepEqual(epochs, want) {
		t.Errorf("epochs = %v, want %v", epochs, want)
	}
}

func TestEvaluations(t *testing.T) {
	l := openLedger(t)
	id, err := l.StartRun("test", nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range []int{1, 0} {
		if err := l.RecordEvaluation(id, b, 10+b, 0.5, 0.8, 0.6); err != nil {
			t.Fatalf("RecordEvaluation: %v", err)
		}
	}
	evals, err := l.Evaluations(id)
	if err != nil {
		t.Fatal(err)
	}
	want := []Evaluation{{0, 10, 0.5, 0.8, 0.6}, {1, 11, 0.5, 0.8, 0.6}}
	if !reflect.DeepEqual(evals, want) {
		t.Errorf("evaluations = %v, want %v", evals, want)
	}

	if err := l.RecordEvaluation(id, 0, 1, 0, 0, 0); err == nil {
		t.Error("expected a duplicate batch to be rejected")
	}
}

func TestFinishUnknownRun(t *testing.T) {
	l := openLedger(t)
	if err := l.FinishRun("missing", "done"); err == nil {
		t.Error("expected an error for an unknown run")
	}
}

func TestRunsOrdered(t *testing.T) {
	l := openLedger(t)
	var ids []string
	for _, mode := range []string{"train", "test", "test"} {
		id, err := l.StartRun(mode, map[string]string{})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	runs, err := l.Runs()
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, r := range runs {
		got = append(got, r.ID)
		if r.Status != "running" || r.FinishedAt.Valid {
			t.Errorf("unfinished run = %s", spew.Sdump(r))
		}
	}
	if !reflect.DeepEqual(got, ids) {
		t.Errorf("order = %v, want %v", got, ids)
	}
}
