package word2vec

import (
	"bytes"
	"encoding/gob"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/davecgh/go-spew/spew"
)

func fixture(t *testing.T) *Table {
	t.Helper()
	tbl, err := New(3, map[string][]float64{
		"john":   {0.5, -1, 2},
		"Berlin": {0.25, 0.125, -0.5},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tbl
}

func TestExtract(t *testing.T) {
	tbl := fixture(t)
	testCases := []struct {
		word string
		want []float64
	}{
		{"Berlin", []float64{0.25, 0.125, -0.5}},
		{"John", []float64{0.5, -1, 2}}, // lower-case fallback
		{"berlin", []float64{0, 0, 0}},  // no upper-case fallback
		{"unknown", []float64{0, 0, 0}},
	}
	for _, tc := range testCases {
		if got := tbl.Extract(tc.word); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("Extract(%q) = %v, want %v", tc.word, got, tc.want)
		}
	}

	v := tbl.Extract("john")
	v[0] = 99
	if tbl.Extract("john")[0] != 0.5 {
		t.Error("Extract must return a copy")
	}
}

func TestNewRejectsWrongDimension(t *testing.T) {
	if _, err := New(2, map[string][]float64{"a": {1, 2, 3}}); err == nil {
		t.Fatal("expected a dimension error")
	}
}

func TestBinaryRoundTrip(t *testing.T) {
	tbl := fixture(t)
	path := filepath.Join(t.TempDir(), "vectors.bin")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := tbl.WriteBinary(f); err != nil {
		t.Fatalf("WriteBinary: %v", err)
	}
	f.Close()

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Dim() != 3 || loaded.Len() != 2 {
		t.Fatalf("loaded dim=%d len=%d", loaded.Dim(), loaded.Len())
	}
	for _, w := range []string{"john", "Berlin"} {
		if !reflect.DeepEqual(loaded.Extract(w), tbl.Extract(w)) {
			t.Errorf("vector of %q differs after round trip:\n%s", w, spew.Sdump(loaded.Extract(w), tbl.Extract(w)))
		}
	}
}

func TestReadBinaryTruncated(t *testing.T) {
	var buf bytes.Buffer
	if err := fixture(t).WriteBinary(&buf); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()[:buf.Len()-6]
	if _, err := ReadBinary(bytes.NewReader(data)); err == nil {
		t.Fatal("expected an error for a truncated file")
	}
}

func TestReadText(t *testing.T) {
	for name, src := range map[string]string{
		"with header":    "2 2\nthe 0.1 0.2\ncat -1 1\n",
		"without header": "the 0.1 0.2\n\ncat -1 1\n",
	} {
		t.Run(name, func(t *testing.T) {
			tbl, err := ReadText(strings.NewReader(src))
			if err != nil {
				t.Fatalf("ReadText: %v", err)
			}
			if tbl.Dim() != 2 || tbl.Len() != 2 {
				t.Fatalf("dim=%d len=%d", tbl.Dim(), tbl.Len())
			}
			if got := tbl.Extract("cat"); !reflect.DeepEqual(got, []float64{-1, 1}) {
				t.Errorf("cat = %v", got)
			}
		})
	}
	if _, err := ReadText(strings.NewReader("the 0.1 0.2\ncat 1\n")); err == nil {
		t.Error("ragged vectors must be rejected")
	}
	if _, err := ReadText(strings.NewReader("")); err == nil {
		t.Error("an empty file must be rejected")
	}
}

func TestReadTextNumericFirstEntry(t *testing.T) {
	tbl, err := ReadText(strings.NewReader("7 3\n8 4\n"))
	if err != nil {
		t.Fatalf("ReadText: %v", err)
	}
	if tbl.Dim() != 1 || tbl.Len() != 2 {
		t.Fatalf("dim=%d len=%d", tbl.Dim(), tbl.Len())
	}
	if got := tbl.Extract("7"); !reflect.DeepEqual(got, []float64{3}) {
		t.Errorf("7 = %v", got)
	}

	tbl, err = ReadText(strings.NewReader("0 3\n"))
	if err != nil {
		t.Fatalf("header only: %v", err)
	}
	if tbl.Dim() != 3 || tbl.Len() != 0 {
		t.Errorf("header only: dim=%d len=%d", tbl.Dim(), tbl.Len())
	}
}

func TestLoadGob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "word2vec_model.gob")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	m := SimpleWord2Vec{
		Vocabulary:  map[string]int{"<UNK>": 0, "paris": 1},
		WordVectors: map[int][]float64{0: {0, 0}, 1: {0.3, 0.7}},
		VectorSize:  2,
	}
	if err := gob.NewEncoder(f).Encode(m); err != nil {
		t.Fatal(err)
	}
	f.Close()

	tbl, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := tbl.Extract("Paris"); !reflect.DeepEqual(got, []float64{0.3, 0.7}) {
		t.Errorf("Paris = %v", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.bin"))
	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("error = %v, want *LoadError", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LoadError should unwrap to os.ErrNotExist: %v", err)
	}
}
