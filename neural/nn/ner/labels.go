package ner

import (
	"fmt"

	"github.com/golangast/nercnn/neural/nnu/gobs"
	. "github.com/golangast/nercnn/neural/tensor"
)

// ConvertLabels one-hot encodes labels as a [len(labels), 1, numClass] tensor.
func ConvertLabels(labels []int, numClass int) (*Tensor, error) {
	if numClass <= 0 {
		return nil, fmt.Errorf("number of classes must be positive, got %d", numClass)
	}
	y := NewTensor([]int{len(labels), 1, numClass}, nil, false)
	for i, l := range labels {
		if l < 0 || l >= numClass {
			return nil, fmt.Errorf("label %d at position %d is outside [0, %d)", l, i, numClass)
		}
		y.Data[i*numClass+l] = 1
	}
	return y, nil
}

// BatchInputs views a stored batch as model inputs of shape [n, 1, dim].
func BatchInputs(b *gobs.Batch) (Inputs, error) {
	if err := b.Validate(); err != nil {
		return Inputs{}, err
	}
	n := b.Len()
	word, err := b.Word.Reshape([]int{n, 1, b.Word.Shape[1]})
	if err != nil {
		return Inputs{}, fmt.Errorf("word vectors: %w", err)
	}
	hc, err := b.HC.Reshape([]int{n, 1, b.HC.Shape[1]})
	if err != nil {
		return Inputs{}, fmt.Errorf("hand-crafted vectors: %w", err)
	}
	return Inputs{Word: word, HC: hc}, nil
}
