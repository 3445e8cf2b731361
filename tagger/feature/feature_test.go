package feature

import (
	"reflect"
	"testing"
)

func TestExtract(t *testing.T) {
	testCases := []struct {
		name        string
		word        string
		first, last bool
		want        []float64
	}{
		{"capitalised first word", "John", true, false, []float64{1, 0, 0, 0, 0, 1, 0}},
		{"acronym", "EU", false, false, []float64{1, 1, 0, 0, 0, 0, 0}},
		{"lower case", "rejects", false, false, []float64{0, 0, 1, 0, 0, 0, 0}},
		{"number", "1996-08-22", false, false, []float64{0, 0, 0, 1, 1, 0, 0}},
		{"final period", ".", false, true, []float64{0, 0, 0, 0, 1, 0, 1}},
		{"mixed case", "McDonald", false, false, []float64{1, 0, 0, 0, 0, 0, 0}},
		{"single token sentence", "Yes", true, true, []float64{1, 0, 0, 0, 0, 1, 1}},
	}
	var h Handcraft
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := h.Extract(tc.word, tc.first, tc.last)
			if len(got) != h.Dim() {
				t.Fatalf("len = %d, want %d", len(got), h.Dim())
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Extract(%q) = %v, want %v", tc.word, got, tc.want)
			}
		})
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	var h Handcraft
	a := h.Extract("Berlin", true, false)
	b := h.Extract("Berlin", true, false)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("%v != %v", a, b)
	}
}
