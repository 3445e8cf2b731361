// Package feature computes orthographic and positional features of a token.
package feature

import (
	"unicode"
)

// Dim is the length of every hand-crafted feature vector.
const Dim = 7

// Features are the hand-crafted token features, each 0 or 1.
type Features struct {
	InitialCapital float64
	AllCapitals    float64
	AllLower       float64
	HasDigit       float64
	HasPunctuation float64
	FirstInSent    float64
	LastInSent     float64
}

// Vector returns the features in their fixed order.
func (f Features) Vector() []float64 {
	return []float64{
		f.InitialCapital,
		f.AllCapitals,
		f.AllLower,
		f.HasDigit,
		f.HasPunctuation,
		f.FirstInSent,
		f.LastInSent,
	}
}

// Handcraft is the stateless hand-crafted feature extractor.
type Handcraft struct{}

// Dim returns the feature vector length.
func (Handcraft) Dim() int { return Dim }

// Extract returns the feature vector of word given its position in the sentence.
func (Handcraft) Extract(word string, isFirst, isLast bool) []float64 {
	return Compute(word, isFirst, isLast).Vector()
}

// Compute derives the Features of a single token.
func Compute(word string, isFirst, isLast bool) Features {
	var f Features
	letters, upper, lower := 0, 0, 0
	for i, r := range word {
		switch {
		case unicode.IsLetter(r):
			letters++
			if unicode.IsUpper(r) {
				upper++
				if i == 0 {
					f.InitialCapital = 1
				}
			} else if unicode.IsLower(r) {
				lower++
			}
		case unicode.IsDigit(r):
			f.HasDigit = 1
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			f.HasPunctuation = 1
		}
	}
	if letters > 0 && upper == letters {
		f.AllCapitals = 1
	}
	if letters > 0 && lower == letters {
		f.AllLower = 1
	}
	f.FirstInSent = flag(isFirst)
	f.LastInSent = flag(isLast)
	return f
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
