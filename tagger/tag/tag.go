// Package tag holds the token records of a CoNLL style NER corpus and the
// closed set of entity labels the tagger predicts.
package tag

import (
	"fmt"
	"strings"
)

// DocStart is the first field of the document boundary line "-DOCSTART- -X- O O".
const DocStart = "-DOCSTART-"

// Label is an entity class index.
type Label int

const (
	O Label = iota
	ORG
	PER
	LOC
	MISC
)

// NumLabels is the size of the label set.
const NumLabels = 5

var labelNames = [NumLabels]string{"O", "ORG", "PER", "LOC", "MISC"}

var labelIndex = map[string]Label{
	"O":    O,
	"ORG":  ORG,
	"PER":  PER,
	"LOC":  LOC,
	"MISC": MISC,
}

func (l Label) String() string {
	if l < 0 || int(l) >= NumLabels {
		return fmt.Sprintf("Label(%d)", int(l))
	}
	return labelNames[l]
}

// Names returns the label names in index order.
func Names() []string {
	return append([]string(nil), labelNames[:]...)
}

// Record is one token line: word, part of speech, chunk tag and entity tag.
type Record struct {
	Word   string
	PosTag string
	Chunk  string
	NerTag string
}

// InputFormatError reports a malformed token line or an unknown entity label.
type InputFormatError struct {
	Line   int // 1-based, 0 when unknown
	Text   string
	Reason string
}

func (e *InputFormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("input format error at line %d (%q): %s", e.Line, e.Text, e.Reason)
	}
	return fmt.Sprintf("input format error (%q): %s", e.Text, e.Reason)
}

// IsBoundary reports whether a raw corpus line is a sentence or document boundary.
// Boundary lines never produce records.
func IsBoundary(line string) bool {
	fields := strings.Fields(line)
	return len(fields) == 0 || fields[0] == DocStart
}

// ParseLine splits a token line. The word is the first field and the entity tag the
// last; POS and chunk tags are read from the second and third fields when present.
func ParseLine(line string) (Record, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Record{}, &InputFormatError{Text: line, Reason: fmt.Sprintf("expected at least 2 fields, got %d", len(fields))}
	}
	r := Record{Word: fields[0], NerTag: fields[len(fields)-1]}
	if len(fields) > 2 {
		r.PosTag = fields[1]
	}
	if len(fields) > 3 {
		r.Chunk = fields[2]
	}
	return r, nil
}

// LabelOf maps an entity tag to its label after stripping any BIO prefix, that is
// everything up to and including the last hyphen.
func LabelOf(nerTag string) (Label, error) {
	name := nerTag
	if i := strings.LastIndex(name, "-"); i >= 0 {
		name = name[i+1:]
	}
	l, ok := labelIndex[name]
	if !ok {
		return 0, &InputFormatError{Text: nerTag, Reason: fmt.Sprintf("unknown entity label %q", name)}
	}
	return l, nil
}

// Label returns the record's entity label.
func (r Record) Label() (Label, error) {
	return LabelOf(r.NerTag)
}
