package train

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/golangast/nercnn/neural/nn/ner"
	"github.com/golangast/nercnn/neural/nnu/gobs"
)

type event struct {
	kind  string
	runID string
	n     int
}

type fakeRecorder struct {
	events []event
	status string
}

func (f *fakeRecorder) StartRun(mode string, params map[string]string) (string, error) {
	f.events = append(f.events, event{kind: "start:" + mode, runID: "run-1"})
	return "run-1", nil
}

func (f *fakeRecorder) RecordEpoch(runID string, epoch int, meanLoss float64, batches int) error {
	f.events = append(f.events, event{kind: "epoch", runID: runID, n: epoch})
	return nil
}

func (f *fakeRecorder) RecordEvaluation(runID string, batch, samples int, loss, accuracy, confusionAccuracy float64) error {
	f.events = append(f.events, event{kind: "eval", runID: runID, n: samples})
	return nil
}

func (f *fakeRecorder) FinishRun(runID, status string) error {
	f.status = status
	return nil
}

type countingTracker struct {
	begun, steps, ended int
}

func (c *countingTracker) Begin(string, int) { c.begun++ }
func (c *countingTracker) Step()             { c.steps++ }
func (c *countingTracker) End()              { c.ended++ }

func writeBatches(t *testing.T, sizes ...int) (string, int) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "batches")
	if err := gobs.PrepareDir(dir); err != nil {
		t.Fatal(err)
	}
	total := 0
	for i, n := range sizes {
		var word, hc [][]float64
		var labels []int
		for r := 0; r < n; r++ {
			l := (total + r) % 5
			w := []float64{0, 0, 0}
			w[l%3] = 1
			word = append(word, w)
			hc = append(hc, []float64{float64(l % 2), 1})
			labels = append(labels, l)
		}
		b, err := gobs.NewBatch(i, word, hc, labels)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := gobs.WriteBatch(dir, i, b); err != nil {
			t.Fatal(err)
		}
		total += n
	}
	return dir, total
}

func newModel(t *testing.T) *ner.Model {
	t.Helper()
	cfg := ner.DefaultConfig()
	cfg.WordDim, cfg.HCDim, cfg.NumFilters = 3, 2, 4
	m, err := ner.Construct(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestArtifactNames(t *testing.T) {
	if got := ArchPath("out/model"); got != "out/model.arch.json" {
		t.Errorf("ArchPath = %s", got)
	}
	if got := WeightPath("out/model", 3); got != "out/model_epoch3.weights" {
		t.Errorf("WeightPath = %s", got)
	}
}

func TestTrainWritesArtifactsPerEpoch(t *testing.T) {
	dir, _ := writeBatches(t, 4, 4, 2)
	prefix := filepath.Join(t.TempDir(), "model")
	rec := &fakeRecorder{}
	tr := &countingTracker{}

	res, err := Train(newModel(t), Options{BatchDir: dir, Prefix: prefix, Epochs: 2, Recorder: rec, Tracker: tr})
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if len(res.EpochLoss) != 2 || res.RunID != "run-1" {
		t.Errorf("result = %s", spew.Sdump(res))
	}
	want := []string{prefix + "_epoch1.weights", prefix + "_epoch2.weights"}
	if !reflect.DeepEqual(res.WeightPaths, want) {
		t.Errorf("weights = %v, want %v", res.WeightPaths, want)
	}
	for _, p := range append(want, prefix+".arch.json") {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("missing artifact: %v", err)
		}
	}
	if tr.begun != 2 || tr.steps != 6 || tr.ended != 2 {
		t.Errorf("tracker = %+v", tr)
	}
	wantEvents := []event{{"start:train", "run-1", 0}, {"epoch", "run-1", 1}, {"epoch", "run-1", 2}}
	if !reflect.DeepEqual(rec.events, wantEvents) || rec.status != StatusDone {
		t.Errorf("recorder = %s", spew.Sdump(rec))
	}
}

func TestTrainWithoutBatches(t *testing.T) {
	rec := &fakeRecorder{}
	_, err := Train(newModel(t), Options{BatchDir: t.TempDir(), Prefix: filepath.Join(t.TempDir(), "m"), Epochs: 1, Recorder: rec})
	if err == nil {
		t.Fatal("expected an error for an empty batch directory")
	}
	if len(rec.events) != 0 {
		t.Errorf("run recorded for a failed start: %v", rec.events)
	}
}

func TestTrainFailureIsRecorded(t *testing.T) {
	dir, _ := writeBatches(t, 3)
	if err := os.WriteFile(gobs.Path(dir, 1), []byte("garbage"), 0644); err != nil {
		t.Fatal(err)
	}
	rec := &fakeRecorder{}
	_, err := Train(newModel(t), Options{BatchDir: dir, Prefix: filepath.Join(t.TempDir(), "m"), Epochs: 1, Recorder: rec})
	if err == nil {
		t.Fatal("expected an error for a corrupt batch")
	}
	if rec.status != StatusFailed {
		t.Errorf("status = %q", rec.status)
	}
}

func TestTestMissingArtifactsFailsFirst(t *testing.T) {
	rec := &fakeRecorder{}
	tr := &countingTracker{}
	var out bytes.Buffer
	// The batch directory does not exist either; the artifact check must come first.
	_, err := Test(Options{
		BatchDir:   filepath.Join(t.TempDir(), "none"),
		ArchPath:   filepath.Join(t.TempDir(), "model.arch.json"),
		WeightPath: filepath.Join(t.TempDir(), "model_epoch1.weights"),
		Out:        &out,
		Recorder:   rec,
		Tracker:    tr,
	})
	if !ner.IsArtifactError(err) {
		t.Fatalf("error = %v, want ArtifactError", err)
	}
	if out.Len() != 0 || len(rec.events) != 0 || tr.begun != 0 {
		t.Errorf("work was done before failing: out=%q events=%v", out.String(), rec.events)
	}
}

func TestTrainThenTest(t *testing.T) {
	dir, total := writeBatches(t, 5, 5, 3)
	prefix := filepath.Join(t.TempDir(), "model")
	res, err := Train(newModel(t), Options{BatchDir: dir, Prefix: prefix, Epochs: 2})
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	for _, loss := range []string{ner.MeanSquaredError, ner.CategoricalCrossentropy, ""} {
		rec := &fakeRecorder{}
		var out bytes.Buffer
		rep, err := Test(Options{
			BatchDir:   dir,
			ArchPath:   res.ArchPath,
			WeightPath: res.WeightPaths[1],
			EvalLoss:   loss,
			Out:        &out,
			Recorder:   rec,
		})
		if err != nil {
			t.Fatalf("Test(%q): %v", loss, err)
		}
		if rep.Samples != total || rep.Confusion.Total() != total || len(rep.Batches) != 3 {
			t.Errorf("loss %q: samples %d, confusion %d, batches %d; want %d samples", loss, rep.Samples, rep.Confusion.Total(), len(rep.Batches), total)
		}
		for i, b := range rep.Batches {
			if b.Index != i || b.Metrics.Samples() != b.Confusion.Total() {
				t.Errorf("batch %d: %s", i, spew.Sdump(b.Metrics))
			}
		}
		want := loss
		if want == "" {
			want = ner.CategoricalCrossentropy
		}
		if rep.Loss != want {
			t.Errorf("compiled loss = %s, want %s", rep.Loss, want)
		}
		for _, s := range []string{"Batch 0 confusion matrix", "Batch 2 metrics", "Overall confusion matrix", "precision"} {
			if !strings.Contains(out.String(), s) {
				t.Errorf("output is missing %q", s)
			}
		}
		if len(rec.events) != 4 || rec.status != StatusDone {
			t.Errorf("recorder = %s", spew.Sdump(rec))
		}
	}
}

func TestMeanAccuracyWeightsBySamples(t *testing.T) {
	rep := &TestReport{
		Samples: 4,
		Batches: []BatchResult{
			{Metrics: ner.Metrics{"accuracy": 1, "samples": 3}},
			{Metrics: ner.Metrics{"accuracy": 0, "samples": 1}},
		},
	}
	if got := rep.MeanAccuracy(); got != 0.75 {
		t.Errorf("MeanAccuracy = %v", got)
	}
}
