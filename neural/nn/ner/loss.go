package ner

import (
	"fmt"

	"github.com/golangast/nercnn/neural/nn"
	. "github.com/golangast/nercnn/neural/tensor"
)

// Loss names understood by LossByName.
const (
	CategoricalCrossentropy = "categorical_crossentropy"
	MeanSquaredError        = "mean_squared_error"
)

// Loss scores predicted distributions against one-hot targets.
type Loss interface {
	Name() string
	// Compute returns the mean loss over all positions and dLoss/dPred.
	Compute(pred, target *Tensor) (float64, *Tensor)
	// Accuracy returns the metric that goes with this loss.
	Accuracy(pred, target *Tensor) float64
}

// LossByName returns the loss registered under name.
func LossByName(name string) (Loss, error) {
	switch name {
	case CategoricalCrossentropy:
		return crossEntropy{}, nil
	case MeanSquaredError, "mse":
		return meanSquared{}, nil
	default:
		return nil, fmt.Errorf("unknown loss %q", name)
	}
}

func positions(t *Tensor) int {
	return len(t.Data) / t.Shape[len(t.Shape)-1]
}

type crossEntropy struct{}

func (crossEntropy) Name() string { return CategoricalCrossentropy }

func (crossEntropy) Compute(pred, target *Tensor) (float64, *Tensor) {
	return nn.CategoricalCrossEntropy(pred, target)
}

func (crossEntropy) Accuracy(pred, target *Tensor) float64 {
	return categoricalAccuracy(pred, target)
}

type meanSquared struct{}

func (meanSquared) Name() string { return MeanSquaredError }

func (meanSquared) Compute(pred, target *Tensor) (float64, *Tensor) {
	return nn.MeanSquaredError(pred, target)
}

// Accuracy for a non categorical loss compares every rounded probability with its
// target element, so it rewards the many correct zeros of a one-hot vector. This is
// how the metric resolves after a model is recompiled with such a loss;
// EvaluateConfusion is the reliable measure in that case.
func (meanSquared) Accuracy(pred, target *Tensor) float64 {
	return binaryAccuracy(pred, target)
}

func categoricalAccuracy(pred, target *Tensor) float64 { return nn.CategoricalAccuracy(pred, target) }
func binaryAccuracy(pred, target *Tensor) float64 { return nn.BinaryAccuracy(pred, target) }
