// Package word2vec loads pretrained word vector tables and looks words up in them.
//
// Three on-disk layouts are understood: the word2vec C binary format, the
// word2vec text format and gob-encoded SimpleWord2Vec models. Words missing from
// the table map to the zero vector.
package word2vec

import (
	"bufio"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// LoadError reports a missing or malformed vector file.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading word vectors from %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// SimpleWord2Vec is the subset of a gob-encoded word2vec model needed for lookups.
// Other fields present in the stream are ignored by gob.
type SimpleWord2Vec struct {
	Vocabulary  map[string]int
	WordVectors map[int][]float64
	VectorSize  int
}

// Table maps words to fixed-dimension vectors. It is immutable after loading and
// safe to share by reference.
type Table struct {
	dim     int
	index   map[string]int
	vectors [][]float64
}

// New builds a table from an in-memory map. Every vector must have length dim.
func New(dim int, vectors map[string][]float64) (*Table, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d", dim)
	}
	t := &Table{dim: dim, index: make(map[string]int, len(vectors))}
	for word, v := range vectors {
		if err := t.add(word, v); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Table) add(word string, v []float64) error {
	if len(v) != t.dim {
		return fmt.Errorf("vector for %q has dimension %d, want %d", word, len(v), t.dim)
	}
	if _, ok := t.index[word]; ok {
		// First occurrence wins, as in the reference word2vec tools.
		return nil
	}
	t.index[word] = len(t.vectors)
	t.vectors = append(t.vectors, append([]float64(nil), v...))
	return nil
}

// Dim returns the vector dimension.
func (t *Table) Dim() int { return t.dim }

// Len returns the number of words in the table.
func (t *Table) Len() int { return len(t.vectors) }

// Has reports whether word has an exact entry.
func (t *Table) Has(word string) bool {
	_, ok := t.index[word]
	return ok
}

// Extract returns a copy of the vector for word. An exact match is tried first,
// then the lower-cased word; unknown words get the zero vector.
func (t *Table) Extract(word string) []float64 {
	out := make([]float64, t.dim)
	i, ok := t.index[word]
	if !ok {
		i, ok = t.index[strings.ToLower(word)]
	}
	if ok {
		copy(out, t.vectors[i])
	}
	return out
}

// Load reads a vector table, choosing the format from the file extension:
// ".gob" for SimpleWord2Vec models, ".txt" or ".vec" for the text format and
// anything else for the C binary format.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	defer f.Close()

	var t *Table
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gob":
		t, err = readGob(f)
	case ".txt", ".vec":
		t, err = ReadText(f)
	default:
		t, err = ReadBinary(f)
	}
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return t, nil
}

func readGob(r io.Reader) (*Table, error) {
	var m SimpleWord2Vec
	if err := gob.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("error decoding model: %w", err)
	}
	t, err := New(m.VectorSize, nil)
	if err != nil {
		return nil, err
	}
	for word, id := range m.Vocabulary {
		v, ok := m.WordVectors[id]
		if !ok {
			continue
		}
		if err := t.add(word, v); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func parseHeader(line string) (words, dim int, err error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("malformed header %q", line)
	}
	if words, err = strconv.Atoi(fields[0]); err != nil {
		return 0, 0, fmt.Errorf("malformed header %q: %w", line, err)
	}
	if dim, err = strconv.Atoi(fields[1]); err != nil {
		return 0, 0, fmt.Errorf("malformed header %q: %w", line, err)
	}
	if words < 0 || dim <= 0 {
		return 0, 0, fmt.Errorf("malformed header %q", line)
	}
	return words, dim, nil
}

// ReadBinary parses the word2vec C binary format: a "<words> <dim>" header line,
// then for every word the word, a space and dim little-endian float32 values.
func ReadBinary(r io.Reader) (*Table, error) {
	br := bufio.NewReader(r)
	header, err := br.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	words, dim, err := parseHeader(header)
	if err != nil {
		return nil, err
	}
	t, err := New(dim, nil)
	if err != nil {
		return nil, err
	}

	raw := make([]byte, 4*dim)
	for n := 0; n < words; n++ {
		word, err := br.ReadString(' ')
		if err != nil {
			return nil, fmt.Errorf("reading word %d: %w", n, unexpected(err))
		}
		word = strings.TrimLeft(strings.TrimSuffix(word, " "), "\n")
		if word == "" {
			return nil, fmt.Errorf("empty word at entry %d", n)
		}
		if _, err := io.ReadFull(br, raw); err != nil {
			return nil, fmt.Errorf("reading vector of %q: %w", word, unexpected(err))
		}
		v := make([]float64, dim)
		for i := range v {
			v[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:])))
		}
		if err := t.add(word, v); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// ReadText parses the word2vec text format. The "<words> <dim>" header is optional;
// without it the dimension is taken from the first entry. A first line of two
// integers is read as a header only when the next entry has dim values.
func ReadText(r io.Reader) (*Table, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var t *Table
	add := func(line string, lineNo int) error {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return fmt.Errorf("line %d: expected a word and its vector", lineNo)
		}
		v := make([]float64, len(fields)-1)
		for i, s := range fields[1:] {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
			v[i] = f
		}
		if t == nil {
			var err error
			if t, err = New(len(v), nil); err != nil {
				return err
			}
		}
		if err := t.add(fields[0], v); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		return nil
	}

	var header string
	headerDim := 0
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if lineNo == 1 {
			if _, dim, err := parseHeader(line); err == nil {
				header, headerDim = line, dim
				continue
			}
		}
		if header != "" {
			if len(strings.Fields(line)) == headerDim+1 {
				var err error
				if t, err = New(headerDim, nil); err != nil {
					return nil, err
				}
			} else if err := add(header, 1); err != nil {
				return nil, err
			}
			header = ""
		}
		if err := add(line, lineNo); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if header != "" {
		return New(headerDim, nil)
	}
	if t == nil {
		return nil, errors.New("no vectors found")
	}
	return t, nil
}

// WriteBinary writes the table in the word2vec C binary format, words in insertion order.
func (t *Table) WriteBinary(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "%d %d\n", len(t.vectors), t.dim); err != nil {
		return err
	}
	words := make([]string, len(t.vectors))
	for word, i := range t.index {
		words[i] = word
	}
	raw := make([]byte, 4*t.dim)
	for i, word := range words {
		for j, v := range t.vectors[i] {
			binary.LittleEndian.PutUint32(raw[4*j:], math.Float32bits(float32(v)))
		}
		if _, err := bw.WriteString(word + " "); err != nil {
			return err
		}
		if _, err := bw.Write(raw); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
