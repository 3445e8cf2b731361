package nn

import (
	"math"

	"github.com/golangast/nercnn/neural/tensor"
)

// probabilities are clipped to [epsilon, 1-epsilon] before taking logs.
const epsilon = 1e-7

func rows(t *tensor.Tensor) (n, width int) {
	width = t.Shape[len(t.Shape)-1]
	return len(t.Data) / width, width
}

// CategoricalCrossEntropy calculates the mean cross-entropy between predicted
// distributions and one-hot (or soft) targets over all positions of the last axis.
// probs: a tensor of shape [..., num_classes] holding softmax outputs.
// targets: a tensor of the same shape.
// Returns the scalar loss and its gradient with respect to probs.
func CategoricalCrossEntropy(probs, targets *tensor.Tensor) (float64, *tensor.Tensor) {
	n, _ := rows(probs)
	grad := tensor.NewTensor(probs.Shape, nil, false)
	loss := 0.0
	for i, y := range targets.Data {
		if y == 0 {
			continue
		}
		p := math.Min(math.Max(probs.Data[i], epsilon), 1-epsilon)
		loss -= y * math.Log(p)
		grad.Data[i] = -y / p / float64(n)
	}
	return loss / float64(n), grad
}

// MeanSquaredError averages the squared error over every element.
func MeanSquaredError(pred, targets *tensor.Tensor) (float64, *tensor.Tensor) {
	total := float64(len(pred.Data))
	grad := tensor.NewTensor(pred.Shape, nil, false)
	loss := 0.0
	for i, p := range pred.Data {
		d := p - targets.Data[i]
		loss += d * d
		grad.Data[i] = 2 * d / total
	}
	return loss / total, grad
}

// CategoricalAccuracy is the share of positions whose arg-max matches the target's.
func CategoricalAccuracy(pred, targets *tensor.Tensor) float64 {
	p, y := pred.Argmax(), targets.Argmax()
	if len(p) == 0 {
		return 0
	}
	hits := 0
	for i := range p {
		if p[i] == y[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(p))
}

// BinaryAccuracy rounds every element at 0.5 and compares it with its target.
func BinaryAccuracy(pred, targets *tensor.Tensor) float64 {
	if len(pred.Data) == 0 {
		return 0
	}
	hits := 0
	for i, p := range pred.Data {
		rounded := 0.0
		if p > 0.5 {
			rounded = 1
		}
		if rounded == targets.Data[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(pred.Data))
}
