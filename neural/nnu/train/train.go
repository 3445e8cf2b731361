// Package train runs the epoch loop over persisted batches and evaluates saved models.
package train

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/golangast/nercnn/neural/nn/ner"
	"github.com/golangast/nercnn/neural/nnu/gobs"
)

// Run states passed to Recorder.FinishRun.
const (
	StatusDone   = "done"
	StatusFailed = "failed"
)

// Recorder keeps a ledger of runs. A nil Recorder records nothing.
type Recorder interface {
	StartRun(mode string, params map[string]string) (string, error)
	RecordEpoch(runID string, epoch int, meanLoss float64, batches int) error
	RecordEvaluation(runID string, batch, samples int, loss, accuracy, confusionAccuracy float64) error
	FinishRun(runID, status string) error
}

// Tracker follows progress through a list of batches.
type Tracker interface {
	Begin(label string, total int)
	Step()
	End()
}

// Options configure Train and Test.
type Options struct {
	// BatchDir holds the <index>.batch files.
	BatchDir string
	// Prefix names the artifacts written by Train.
	Prefix string
	Epochs int

	// ArchPath and WeightPath are the artifacts read by Test.
	ArchPath   string
	WeightPath string
	// EvalLoss is the loss the model is recompiled with in Test. Empty keeps the
	// loss stored in the architecture.
	EvalLoss string

	// Out receives the Test report. Nil means os.Stdout.
	Out      io.Writer
	Tracker  Tracker
	Recorder Recorder
}

// ArchPath is the architecture file written for prefix.
func ArchPath(prefix string) string { return prefix + ".arch.json" }

// WeightPath is the weight file written for prefix after epoch.
func WeightPath(prefix string, epoch int) string {
	return fmt.Sprintf("%s_epoch%d.weights", prefix, epoch)
}

// TrainResult summarizes a training run.
type TrainResult struct {
	RunID       string
	ArchPath    string
	WeightPaths []string
	EpochLoss   []float64
}

// sortedBatches lists the batch files of dir in index order.
func sortedBatches(dir string) ([]string, error) {
	paths, err := gobs.ListBatches(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no batch files in %s", dir)
	}
	gobs.SortByIndex(paths)
	return paths, nil
}

// Train fits model on every batch of opts.BatchDir for opts.Epochs epochs. The
// architecture is written once and the weights after every epoch.
func Train(model *ner.Model, opts Options) (res *TrainResult, err error) {
	if opts.Epochs <= 0 {
		return nil, fmt.Errorf("epochs must be positive, got %d", opts.Epochs)
	}
	if opts.Prefix == "" {
		return nil, errors.New("an output prefix is required")
	}
	paths, err := sortedBatches(opts.BatchDir)
	if err != nil {
		return nil, err
	}

	rec := recorderOrNop(opts.Recorder)
	cfg := model.Config()
	runID, err := rec.StartRun("train", map[string]string{
		"batch_dir":   opts.BatchDir,
		"prefix":      opts.Prefix,
		"epochs":      strconv.Itoa(opts.Epochs),
		"batches":     strconv.Itoa(len(paths)),
		"kernel_size": strconv.Itoa(cfg.KernelSize),
		"filters":     strconv.Itoa(cfg.NumFilters),
		"dropout":     strconv.FormatFloat(cfg.Dropout, 'g', -1, 64),
		"l2":          strconv.FormatFloat(cfg.L2, 'g', -1, 64),
		"optimizer":   cfg.Optimizer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}
	defer func() { finish(rec, runID, err) }()

	res = &TrainResult{RunID: runID, ArchPath: ArchPath(opts.Prefix)}
	if err := model.Save(res.ArchPath, ""); err != nil {
		return nil, err
	}
	log.Printf("Training on %d batches for %d epochs", len(paths), opts.Epochs)

	for epoch := 1; epoch <= opts.Epochs; epoch++ {
		meanLoss, err := trainEpoch(model, paths, epoch, opts.Tracker)
		if err != nil {
			return nil, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		weights := WeightPath(opts.Prefix, epoch)
		if err := model.Save("", weights); err != nil {
			return nil, err
		}
		log.Printf("Epoch %d/%d: mean loss %.6f, weights saved to %s", epoch, opts.Epochs, meanLoss, weights)

		if err := rec.RecordEpoch(runID, epoch, meanLoss, len(paths)); err != nil {
			return nil, fmt.Errorf("failed to record epoch %d: %w", epoch, err)
		}
		res.EpochLoss = append(res.EpochLoss, meanLoss)
		res.WeightPaths = append(res.WeightPaths, weights)
	}
	return res, nil
}

func trainEpoch(model *ner.Model, paths []string, epoch int, tr Tracker) (float64, error) {
	if tr != nil {
		tr.Begin(fmt.Sprintf("epoch %d", epoch), len(paths))
		defer tr.End()
	}
	numClasses := model.Config().NumClasses
	total := 0.0
	for _, p := range paths {
		b, err := gobs.ReadBatch(p)
		if err != nil {
			return 0, err
		}
		x, err := ner.BatchInputs(b)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", p, err)
		}
		y, err := ner.ConvertLabels(b.Labels, numClasses)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", p, err)
		}
		loss, err := model.Train(x, y)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", p, err)
		}
		total += loss
		if tr != nil {
			tr.Step()
		}
	}
	return total / float64(len(paths)), nil
}

// BatchResult is the evaluation of one batch file.
type BatchResult struct {
	Index     int
	Metrics   ner.Metrics
	Confusion *ner.Confusion
}

// TestReport aggregates the evaluation of every batch.
type TestReport struct {
	RunID     string
	Loss      string
	Batches   []BatchResult
	Confusion *ner.Confusion
	Samples   int
}

// MeanAccuracy is the sample-weighted mean of the per-batch auto accuracies.
func (r *TestReport) MeanAccuracy() float64 {
	if r.Samples == 0 {
		return 0
	}
	sum := 0.0
	for _, b := range r.Batches {
		sum += b.Metrics["accuracy"] * float64(b.Metrics.Samples())
	}
	return sum / float64(r.Samples)
}

// Test loads the saved model once and evaluates every batch of opts.BatchDir in two
// ways: a confusion matrix against the raw labels and the compiled metrics against
// one-hot labels. Missing artifacts are reported before any batch is read.
func Test(opts Options) (rep *TestReport, err error) {
	if err := ner.CheckArtifacts(opts.ArchPath, opts.WeightPath); err != nil {
		return nil, err
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	model, err := ner.Load(opts.ArchPath, opts.WeightPath, opts.EvalLoss)
	if err != nil {
		return nil, err
	}
	paths, err := sortedBatches(opts.BatchDir)
	if err != nil {
		return nil, err
	}

	rec := recorderOrNop(opts.Recorder)
	runID, err := rec.StartRun("test", map[string]string{
		"batch_dir": opts.BatchDir,
		"arch":      opts.ArchPath,
		"weights":   opts.WeightPath,
		"loss":      model.Loss(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}
	defer func() { finish(rec, runID, err) }()

	rep = &TestReport{RunID: runID, Loss: model.Loss(), Confusion: ner.NewConfusion(model.ClassNames())}
	if opts.Tracker != nil {
		opts.Tracker.Begin("test", len(paths))
		defer opts.Tracker.End()
	}
	for _, p := range paths {
		br, err := evaluateBatch(model, p)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(out, "Batch %d confusion matrix:\n%s", br.Index, br.Confusion)
		fmt.Fprintf(out, "Batch %d metrics: loss=%.6f accuracy=%.4f samples=%d\n\n",
			br.Index, br.Metrics["loss"], br.Metrics["accuracy"], br.Metrics.Samples())

		if err := rec.RecordEvaluation(runID, br.Index, br.Confusion.Total(), br.Metrics["loss"], br.Metrics["accuracy"], br.Confusion.Accuracy()); err != nil {
			return nil, fmt.Errorf("failed to record evaluation: %w", err)
		}
		if err := rep.Confusion.Merge(br.Confusion); err != nil {
			return nil, err
		}
		rep.Samples += br.Confusion.Total()
		rep.Batches = append(rep.Batches, br)
		if opts.Tracker != nil {
			opts.Tracker.Step()
		}
	}

	fmt.Fprintf(out, "Overall confusion matrix:\n%s\n%s", rep.Confusion, rep.Confusion.Report())
	fmt.Fprintf(out, "Mean %s accuracy: %.4f\n", rep.Loss, rep.MeanAccuracy())
	return rep, nil
}

func evaluateBatch(model *ner.Model, path string) (BatchResult, error) {
	b, err := gobs.ReadBatch(path)
	if err != nil {
		return BatchResult{}, err
	}
	x, err := ner.BatchInputs(b)
	if err != nil {
		return BatchResult{}, fmt.Errorf("%s: %w", path, err)
	}
	conf, err := model.EvaluateConfusion(x, b.Labels)
	if err != nil {
		return BatchResult{}, fmt.Errorf("%s: %w", path, err)
	}
	y, err := ner.ConvertLabels(b.Labels, model.Config().NumClasses)
	if err != nil {
		return BatchResult{}, fmt.Errorf("%s: %w", path, err)
	}
	metrics, err := model.EvaluateAuto(x, y)
	if err != nil {
		return BatchResult{}, fmt.Errorf("%s: %w", path, err)
	}
	if metrics.Samples() != conf.Total() {
		return BatchResult{}, fmt.Errorf("%s: confusion matrix counted %d samples, metrics %d", path, conf.Total(), metrics.Samples())
	}
	return BatchResult{Index: b.Index, Metrics: metrics, Confusion: conf}, nil
}

func finish(rec Recorder, runID string, err error) {
	status := StatusDone
	if err != nil {
		status = StatusFailed
	}
	if ferr := rec.FinishRun(runID, status); ferr != nil {
		log.Printf("failed to close run %s: %v", runID, ferr)
	}
}

type nopRecorder struct{}

func (nopRecorder) StartRun(string, map[string]string) (string, error) { return "", nil }
func (nopRecorder) RecordEpoch(string, int, float64, int) error { return nil }
func (nopRecorder) RecordEvaluation(string, int, int, float64, float64, float64) error {
	return nil
}
func (nopRecorder) FinishRun(string, string) error { return nil }

func recorderOrNop(r Recorder) Recorder {
	if r == nil {
		return nopRecorder{}
	}
	return r
}
