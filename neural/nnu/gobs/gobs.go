// Package gobs persists feature batches as self-contained gob files.
//
// A batch file is a fixed magic tag, a blake2b-256 checksum of the payload and the
// gob-encoded payload. Files are written to a temporary name and renamed into place,
// so a path ending in Suffix always holds a complete batch.
package gobs

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/golangast/nercnn/neural/tensor"
)

// Suffix is the file extension of batch files.
const Suffix = ".batch"

var magic = []byte("NERBATCH")

// ErrCorrupt is returned for truncated or damaged batch files.
var ErrCorrupt = errors.New("corrupt batch file")

// Batch is an aligned group of word vectors, hand-crafted vectors and labels.
type Batch struct {
	Index  int
	Word   *tensor.Tensor // [n, wordDim]
	HC     *tensor.Tensor // [n, hcDim]
	Labels []int          // [n]
}

// NewBatch packs row vectors into a Batch. All rows of a kind must share one length.
func NewBatch(index int, word, hc [][]float64, labels []int) (*Batch, error) {
	if len(word) != len(labels) || len(hc) != len(labels) {
		return nil, fmt.Errorf("unaligned batch: %d word rows, %d hc rows, %d labels", len(word), len(hc), len(labels))
	}
	w, err := matrix(word)
	if err != nil {
		return nil, fmt.Errorf("word vectors: %w", err)
	}
	h, err := matrix(hc)
	if err != nil {
		return nil, fmt.Errorf("hand-crafted vectors: %w", err)
	}
	return &Batch{Index: index, Word: w, HC: h, Labels: append([]int(nil), labels...)}, nil
}

func matrix(rows [][]float64) (*tensor.Tensor, error) {
	cols := 0
	if len(rows) > 0 {
		cols = len(rows[0])
	}
	data := make([]float64, 0, len(rows)*cols)
	for i, r := range rows {
		if len(r) != cols {
			return nil, fmt.Errorf("row %d has dimension %d, want %d", i, len(r), cols)
		}
		data = append(data, r...)
	}
	return tensor.NewTensor([]int{len(rows), cols}, data, false), nil
}

// Len returns the number of records in the batch.
func (b *Batch) Len() int { return len(b.Labels) }

// Validate checks that the three arrays are aligned.
func (b *Batch) Validate() error {
	if b.Word == nil || b.HC == nil {
		return errors.New("batch is missing a feature matrix")
	}
	n := len(b.Labels)
	for name, m := range map[string]*tensor.Tensor{"word": b.Word, "hc": b.HC} {
		if len(m.Shape) != 2 || m.Shape[0] != n || len(m.Data) != tensor.Size(m.Shape) {
			return fmt.Errorf("%s matrix shape %v does not match %d labels", name, m.Shape, n)
		}
	}
	return nil
}

// Path returns the file name of batch index inside dir.
func Path(dir string, index int) string {
	return filepath.Join(dir, strconv.Itoa(index)+Suffix)
}

// WriteBatch serializes b as dir/<index>.batch and returns the path.
func WriteBatch(dir string, index int, b *Batch) (string, error) {
	if err := b.Validate(); err != nil {
		return "", err
	}
	rec := *b
	rec.Index = index

	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(&rec); err != nil {
		return "", fmt.Errorf("failed to encode batch %d: %w", index, err)
	}
	sum := blake2b.Sum256(payload.Bytes())

	tmp, err := os.CreateTemp(dir, ".batch-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create batch file in %s: %w", dir, err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	for _, chunk := range [][]byte{magic, sum[:], payload.Bytes()} {
		if _, err := tmp.Write(chunk); err != nil {
			tmp.Close()
			return "", fmt.Errorf("failed to write batch %d: %w", index, err)
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to sync batch %d: %w", index, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close batch %d: %w", index, err)
	}

	path := Path(dir, index)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to move batch %d into place: %w", index, err)
	}
	return path, nil
}

// ReadBatch loads and verifies a batch file. A file named after an index must
// hold the batch with that index.
func ReadBatch(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch %s: %w", path, err)
	}
	head := len(magic) + blake2b.Size256
	if len(data) < head || !bytes.Equal(data[:len(magic)], magic) {
		return nil, fmt.Errorf("%s: %w: bad header", path, ErrCorrupt)
	}
	payload := data[head:]
	sum := blake2b.Sum256(payload)
	if !bytes.Equal(sum[:], data[len(magic):head]) {
		return nil, fmt.Errorf("%s: %w: checksum mismatch", path, ErrCorrupt)
	}

	var b Batch
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&b); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", path, ErrCorrupt, err)
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", path, ErrCorrupt, err)
	}
	if i, err := BatchIndex(path); err == nil && i != b.Index {
		return nil, fmt.Errorf("%s: %w: holds batch %d", path, ErrCorrupt, b.Index)
	}
	return &b, nil
}

// ListBatches returns the batch files in dir. The order is unspecified; use
// SortByIndex when a deterministic order matters.
func ListBatches(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches in %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), Suffix) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	return paths, nil
}

// BatchIndex parses the index out of a batch path.
func BatchIndex(path string) (int, error) {
	name := strings.TrimSuffix(filepath.Base(path), Suffix)
	i, err := strconv.Atoi(name)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("%s is not a batch file name", path)
	}
	return i, nil
}

// SortByIndex orders batch paths by numeric index. Names that do not parse sort last.
func SortByIndex(paths []string) {
	sort.SliceStable(paths, func(a, b int) bool {
		ia, errA := BatchIndex(paths[a])
		ib, errB := BatchIndex(paths[b])
		switch {
		case errA != nil && errB != nil:
			return paths[a] < paths[b]
		case errA != nil:
			return false
		case errB != nil:
			return true
		}
		return ia < ib
	})
}

// PrepareDir empties dir, creating it if needed. It must not run while another
// process reads the directory.
func PrepareDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to clear %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return nil
}

// DeleteBatchFiles removes the given batch files, ignoring ones already gone.
func DeleteBatchFiles(paths []string) error {
	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("failed to delete batch file %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}
