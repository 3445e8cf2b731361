package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/golangast/nercnn/internal/config"
	"github.com/golangast/nercnn/internal/progress"
	"github.com/golangast/nercnn/internal/sqlite_db"
	"github.com/golangast/nercnn/neural/nn/ner"
	"github.com/golangast/nercnn/neural/nnu/corpus"
	"github.com/golangast/nercnn/neural/nnu/gobs"
	"github.com/golangast/nercnn/neural/nnu/train"
	"github.com/golangast/nercnn/neural/nnu/word2vec"
	"github.com/golangast/nercnn/tagger/feature"
)

// UI contains the output streams for the application.
// Used for injecting buffers during testing.
type UI struct {
	Out io.Writer
	Err io.Writer
}

func main() {
	log.SetFlags(0)
	ui := UI{Out: os.Stdout, Err: os.Stderr}

	cfg, err := config.Load()
	if err != nil {
		fprintErr(ui.Err, err)
		os.Exit(1)
	}
	if err := newApp(cfg, ui).Run(os.Args); err != nil {
		fprintErr(ui.Err, err)
		os.Exit(1)
	}
}

func fprintErr(w io.Writer, err error) {
	_, _ = fmt.Fprintf(w, "nercnn: %v\n", err)
}

func newApp(cfg *config.Cfg, ui UI) *cli.App {
	return &cli.App{
		Name:      "nercnn",
		Usage:     "batch NER corpora and train a convolutional entity tagger",
		Writer:    ui.Out,
		ErrWriter: ui.Err,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: "train", Usage: "train, test or convert"},
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "token-per-line corpus"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "output path prefix; batches go to <dir>/batches"},
			&cli.IntFlag{Name: "batch-size", Aliases: []string{"b"}, Value: cfg.BatchSize, Usage: "records per batch, 0 for a single batch"},
			&cli.IntFlag{Name: "epochs", Aliases: []string{"e"}, Value: cfg.Epochs},
			&cli.StringFlag{Name: "w2v", Aliases: []string{"w"}, Usage: "word vector file (.bin, .txt, .vec or .gob)"},
			&cli.StringFlag{Name: "weights", Usage: "weight file to test"},
			&cli.StringFlag{Name: "arch", Usage: "architecture file to test"},
			&cli.StringFlag{Name: "eval-loss", Value: cfg.EvalLoss, Usage: "loss the model is recompiled with for testing"},
			&cli.BoolFlag{Name: "reuse-batches", Usage: "skip conversion and use the existing batches"},
			&cli.IntFlag{Name: "kernel-size", Value: cfg.KernelSize},
			&cli.IntFlag{Name: "filters", Value: cfg.NumFilters},
			&cli.Float64Flag{Name: "dropout", Value: cfg.Dropout},
			&cli.Float64Flag{Name: "l2", Value: cfg.L2},
			&cli.Uint64Flag{Name: "seed", Value: cfg.Seed},
			&cli.StringFlag{Name: "optimizer", Value: cfg.Optimizer, Usage: "adadelta or adam"},
			&cli.StringFlag{Name: "ledger", Value: cfg.LedgerPath, Usage: "SQLite run ledger"},
			&cli.BoolFlag{Name: "progress", Value: cfg.Progress, Usage: "draw progress bars"},
		},
		Action: func(c *cli.Context) error {
			return runMode(c, ui)
		},
		Commands: []*cli.Command{
			{
				Name:  "history",
				Usage: "list the runs recorded in the ledger",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "ledger", Value: cfg.LedgerPath, Usage: "SQLite run ledger"},
				},
				Action: func(c *cli.Context) error {
					return historyCommand(c.String("ledger"), ui)
				},
			},
		},
	}
}

func batchDir(prefix string) string {
	return filepath.Join(filepath.Dir(prefix), "batches")
}

func runMode(c *cli.Context, ui UI) error {
	mode := c.String("mode")
	switch mode {
	case "train", "test", "convert":
	default:
		return fmt.Errorf("unknown mode %q, want train, test or convert", mode)
	}
	prefix := c.String("output")
	if prefix == "" {
		return errors.New("--output is required")
	}

	// Missing test artifacts are fatal before any work is done.
	if mode == "test" {
		if c.String("weights") == "" || c.String("arch") == "" {
			return errors.New("test mode requires --weights and --arch")
		}
		if err := ner.CheckArtifacts(c.String("arch"), c.String("weights")); err != nil {
			return err
		}
	}

	var bars *progress.Bars
	if c.Bool("progress") {
		bars = progress.New(ui.Err)
	}

	dir := batchDir(prefix)
	var vectors *word2vec.Table
	if !c.Bool("reuse-batches") || mode == "convert" {
		var err error
		if vectors, err = convertInput(c, dir, bars, ui); err != nil {
			return err
		}
	}
	if mode == "convert" {
		return nil
	}

	rec, closeLedger, err := openLedger(c.String("ledger"))
	if err != nil {
		return err
	}
	defer closeLedger()

	opts := train.Options{
		BatchDir:   dir,
		Prefix:     prefix,
		Epochs:     c.Int("epochs"),
		ArchPath:   c.String("arch"),
		WeightPath: c.String("weights"),
		EvalLoss:   c.String("eval-loss"),
		Out:        ui.Out,
		Recorder:   rec,
	}
	if bars != nil {
		opts.Tracker = bars
	}

	if mode == "test" {
		rep, err := train.Test(opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(ui.Out, "Evaluated %d samples in %d batches\n", rep.Samples, len(rep.Batches))
		return nil
	}

	wordDim, err := inputDims(vectors, dir)
	if err != nil {
		return err
	}
	mcfg := ner.DefaultConfig()
	mcfg.WordDim = wordDim
	mcfg.HCDim = feature.Dim
	mcfg.KernelSize = c.Int("kernel-size")
	mcfg.NumFilters = c.Int("filters")
	mcfg.Dropout = c.Float64("dropout")
	mcfg.L2 = c.Float64("l2")
	mcfg.Seed = c.Uint64("seed")
	mcfg.Optimizer = c.String("optimizer")
	model, err := ner.Construct(mcfg)
	if err != nil {
		return err
	}
	res, err := train.Train(model, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(ui.Out, "Architecture saved to %s\n", res.ArchPath)
	for _, p := range res.WeightPaths {
		fmt.Fprintf(ui.Out, "Weights saved to %s\n", p)
	}
	return nil
}

// inputDims returns the word vector width, from the loaded table or from the
// first stored batch when conversion was skipped.
func inputDims(vectors *word2vec.Table, dir string) (int, error) {
	if vectors != nil {
		return vectors.Dim(), nil
	}
	paths, err := gobs.ListBatches(dir)
	if err != nil {
		return 0, err
	}
	if len(paths) == 0 {
		return 0, fmt.Errorf("no batch files in %s", dir)
	}
	gobs.SortByIndex(paths)
	b, err := gobs.ReadBatch(paths[0])
	if err != nil {
		return 0, err
	}
	return b.Word.Shape[1], nil
}

func convertInput(c *cli.Context, dir string, bars *progress.Bars, ui UI) (*word2vec.Table, error) {
	input, w2v := c.String("input"), c.String("w2v")
	if input == "" || w2v == "" {
		return nil, errors.New("--input and --w2v are required")
	}
	vectors, err := word2vec.Load(w2v)
	if err != nil {
		return nil, err
	}
	log.Printf("Loaded %d word vectors of dimension %d from %s", vectors.Len(), vectors.Dim(), w2v)

	if err := gobs.PrepareDir(dir); err != nil {
		return nil, err
	}
	opts := corpus.Options{BatchSize: c.Int("batch-size")}
	if bars != nil {
		lines, err := countLines(input)
		if err != nil {
			return nil, err
		}
		total := 1
		if opts.BatchSize > 0 {
			total = max((lines+opts.BatchSize-1)/opts.BatchSize, 1)
		}
		bars.Begin("convert", total)
		defer bars.End()
		opts.Progress = bars
	}
	sum, err := corpus.Convert(input, dir, vectors, feature.Handcraft{}, opts)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(ui.Out, "Converted %d records from %d lines into %d batches in %s\n", sum.Records, sum.Lines, sum.Batches, dir)
	return vectors, nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open corpus: %w", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		n++
	}
	return n, sc.Err()
}

func openLedger(path string) (train.Recorder, func(), error) {
	if path == "" {
		return nil, func() {}, nil
	}
	l, err := sqlite_db.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return l, func() { l.Close() }, nil
}

func historyCommand(path string, ui UI) error {
	if path == "" {
		return errors.New("--ledger (or NERCNN_LEDGER) is required")
	}
	l, err := sqlite_db.Open(path)
	if err != nil {
		return err
	}
	defer l.Close()

	runs, err := l.Runs()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(ui.Out, "no runs recorded")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(ui.Out, "%s  %-5s  %-7s  %s  %s\n", r.ID, r.Mode, r.Status, r.StartedAt, r.Host)
		switch r.Mode {
		case "train":
			epochs, err := l.Epochs(r.ID)
			if err != nil {
				return err
			}
			for _, e := range epochs {
				fmt.Fprintf(ui.Out, "    epoch %d: mean loss %.6f over %d batches\n", e.Epoch, e.MeanLoss, e.Batches)
			}
		case "test":
			evals, err := l.Evaluations(r.ID)
			if err != nil {
				return err
			}
			for _, e := range evals {
				fmt.Fprintf(ui.Out, "    batch %d: %d samples, loss %.6f, accuracy %.4f, confusion accuracy %.4f\n",
					e.Batch, e.Samples, e.Loss, e.Accuracy, e.ConfusionAccuracy)
			}
		}
	}
	return nil
}
