package tag

import (
	"errors"
	"reflect"
	"testing"
)

func TestLabelOf(t *testing.T) {
	testCases := []struct {
		tag  string
		want Label
	}{
		{"B-ORG", ORG},
		{"I-ORG", ORG},
		{"ORG", ORG},
		{"O", O},
		{"B-PER", PER},
		{"I-LOC", LOC},
		{"B-MISC", MISC},
		{"X-Y-LOC", LOC},
	}
	for _, tc := range testCases {
		t.Run(tc.tag, func(t *testing.T) {
			got, err := LabelOf(tc.tag)
			if err != nil {
				t.Fatalf("LabelOf(%q): %v", tc.tag, err)
			}
			if got != tc.want {
				t.Errorf("LabelOf(%q) = %v, want %v", tc.tag, got, tc.want)
			}
		})
	}
	if int(ORG) != 1 || int(O) != 0 {
		t.Fatalf("label indices changed: O=%d ORG=%d", O, ORG)
	}
}

func TestLabelOfUnknown(t *testing.T) {
	for _, bad := range []string{"B-DATE", "", "org", "B-"} {
		_, err := LabelOf(bad)
		var ife *InputFormatError
		if !errors.As(err, &ife) {
			t.Errorf("LabelOf(%q) error = %v, want InputFormatError", bad, err)
		}
	}
}

func TestParseLine(t *testing.T) {
	testCases := []struct {
		name string
		line string
		want Record
	}{
		{"four fields", "EU NNP I-NP I-ORG\n", Record{Word: "EU", PosTag: "NNP", Chunk: "I-NP", NerTag: "I-ORG"}},
		{"three fields", "John NNP B-PER\n", Record{Word: "John", PosTag: "NNP", NerTag: "B-PER"}},
		{"two fields", "rejects O", Record{Word: "rejects", NerTag: "O"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseLine(tc.line)
			if err != nil {
				t.Fatalf("ParseLine: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}
		})
	}
	if _, err := ParseLine("lonely\n"); err == nil {
		t.Error("a single field line must be rejected")
	}
}

func TestIsBoundary(t *testing.T) {
	for line, want := range map[string]bool{
		"\n":                   true,
		"":                     true,
		"   \t\n":              true,
		"-DOCSTART- -X- O O\n": true,
		"John NNP B-PER\n":     false,
	} {
		if got := IsBoundary(line); got != want {
			t.Errorf("IsBoundary(%q) = %v", line, got)
		}
	}
}

func TestLabelString(t *testing.T) {
	if !reflect.DeepEqual(Names(), []string{"O", "ORG", "PER", "LOC", "MISC"}) {
		t.Errorf("Names() = %v", Names())
	}
	if Label(9).String() != "Label(9)" {
		t.Errorf("out of range label printed as %q", Label(9).String())
	}
}
