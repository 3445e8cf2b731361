// Package corpus converts token-per-line NER corpora into persisted feature batches.
package corpus

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/golangast/nercnn/neural/nnu/gobs"
	"github.com/golangast/nercnn/tagger/tag"
)

// WordExtractor maps a word to its embedding vector.
type WordExtractor interface {
	Extract(word string) []float64
	Dim() int
}

// FeatureExtractor maps a word and its sentence position to hand-crafted features.
type FeatureExtractor interface {
	Extract(word string, isFirst, isLast bool) []float64
	Dim() int
}

// Reporter is told about every batch written. It is a side channel only.
type Reporter interface {
	BatchSaved(index, records int)
}

// Options tune a conversion.
type Options struct {
	// BatchSize is the number of records per batch. Zero or less means the total
	// number of lines, which yields a single batch.
	BatchSize int
	Progress  Reporter
}

// Summary describes a finished conversion.
type Summary struct {
	Lines   int
	Records int
	Skipped int
	Batches int
	Paths   []string
}

// Convert reads rawFile and writes its batches to outputDir.
func Convert(rawFile, outputDir string, words WordExtractor, feats FeatureExtractor, opts Options) (*Summary, error) {
	f, err := os.Open(rawFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus: %w", err)
	}
	defer f.Close()
	return ConvertReader(f, outputDir, words, feats, opts)
}

// ConvertReader is Convert over an already open corpus. The whole corpus is read
// into memory first. On any error the batches written so far are removed.
func ConvertReader(r io.Reader, outputDir string, words WordExtractor, feats FeatureExtractor, opts Options) (*Summary, error) {
	lines, err := readLines(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus: %w", err)
	}

	b := &batcher{
		dir:       outputDir,
		words:     words,
		feats:     feats,
		progress:  opts.Progress,
		batchSize: opts.BatchSize,
	}
	if b.batchSize <= 0 {
		b.batchSize = max(len(lines), 1)
	}

	sum, err := b.run(lines)
	if err != nil {
		if cleanupErr := gobs.DeleteBatchFiles(b.written); cleanupErr != nil {
			err = errors.Join(err, cleanupErr)
		}
		return nil, err
	}
	return sum, nil
}

func readLines(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

type batcher struct {
	dir       string
	words     WordExtractor
	feats     FeatureExtractor
	progress  Reporter
	batchSize int

	wordRows [][]float64
	hcRows   [][]float64
	labels   []int
	next     int
	written  []string
}

func (b *batcher) run(lines []string) (*Summary, error) {
	sum := &Summary{Lines: len(lines)}
	for i, line := range lines {
		// The flush check runs before each line so a batch closes as soon as it is full.
		if len(b.labels) == b.batchSize {
			if err := b.flush(); err != nil {
				return nil, err
			}
		}
		if tag.IsBoundary(line) {
			sum.Skipped++
			continue
		}

		rec, err := tag.ParseLine(line)
		if err != nil {
			return nil, atLine(err, i+1)
		}
		label, err := rec.Label()
		if err != nil {
			return nil, atLine(err, i+1)
		}

		isFirst := i == 0 || tag.IsBoundary(lines[i-1])
		isLast := i == len(lines)-1 || tag.IsBoundary(lines[i+1])

		wv := b.words.Extract(rec.Word)
		hv := b.feats.Extract(rec.Word, isFirst, isLast)
		if len(wv) != b.words.Dim() || len(hv) != b.feats.Dim() {
			return nil, &tag.InputFormatError{
				Line:   i + 1,
				Text:   line,
				Reason: fmt.Sprintf("feature dimensions %d/%d, want %d/%d", len(wv), len(hv), b.words.Dim(), b.feats.Dim()),
			}
		}
		b.wordRows = append(b.wordRows, wv)
		b.hcRows = append(b.hcRows, hv)
		b.labels = append(b.labels, int(label))
		sum.Records++
	}
	if len(b.labels) > 0 {
		if err := b.flush(); err != nil {
			return nil, err
		}
	}
	sum.Batches = b.next
	sum.Paths = b.written
	return sum, nil
}

func (b *batcher) flush() error {
	batch, err := gobs.NewBatch(b.next, b.wordRows, b.hcRows, b.labels)
	if err != nil {
		return fmt.Errorf("batch %d: %w", b.next, err)
	}
	path, err := gobs.WriteBatch(b.dir, b.next, batch)
	if err != nil {
		return err
	}
	b.written = append(b.written, path)
	if b.progress != nil {
		b.progress.BatchSaved(b.next, len(b.labels))
	}
	b.next++
	b.wordRows, b.hcRows, b.labels = nil, nil, nil
	return nil
}

func atLine(err error, line int) error {
	var ife *tag.InputFormatError
	if errors.As(err, &ife) && ife.Line == 0 {
		ife.Line = line
	}
	return err
}
