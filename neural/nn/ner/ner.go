// Package ner implements the convolutional named entity classifier.
//
// The model has two branches over sequences of shape [batch, steps, dim]:
// a convolution over word vectors followed by dropout, and a convolution over
// hand-crafted features whose kernel spans the feature width. Their outputs are
// concatenated and a dense softmax layer yields a class distribution per step.
package ner

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/golangast/nercnn/neural/nn"
	. "github.com/golangast/nercnn/neural/tensor"
	"github.com/golangast/nercnn/tagger/tag"
)

// Config holds the architecture and training hyper-parameters.
type Config struct {
	WordDim    int     `json:"word_dim"`
	HCDim      int     `json:"hc_dim"`
	NumClasses int     `json:"num_classes"`
	KernelSize int     `json:"kernel_size"`
	NumFilters int     `json:"num_filters"`
	Dropout    float64 `json:"dropout"`
	L2         float64 `json:"l2"`
	Seed       uint64  `json:"seed"`
	Loss       string  `json:"loss"`
	Optimizer  string  `json:"optimizer"`
}

// DefaultConfig returns the standard setup for 200-dimensional word vectors and
// 7 hand-crafted features over the five entity labels.
func DefaultConfig() Config {
	return Config{
		WordDim:    200,
		HCDim:      7,
		NumClasses: tag.NumLabels,
		KernelSize: 5,
		NumFilters: 8,
		Dropout:    0.5,
		L2:         3,
		Seed:       1,
		Loss:       CategoricalCrossentropy,
		Optimizer:  "adadelta",
	}
}

func (c Config) validate() error {
	switch {
	case c.WordDim <= 0, c.HCDim <= 0:
		return fmt.Errorf("input dimensions must be positive, got word=%d hc=%d", c.WordDim, c.HCDim)
	case c.NumClasses < 2:
		return fmt.Errorf("need at least 2 classes, got %d", c.NumClasses)
	case c.KernelSize <= 0, c.NumFilters <= 0:
		return fmt.Errorf("kernel size and filter count must be positive, got %d and %d", c.KernelSize, c.NumFilters)
	case c.L2 < 0:
		return fmt.Errorf("l2 factor must not be negative, got %v", c.L2)
	}
	return nil
}

// Inputs are the two aligned input sequences, each [batch, steps, dim].
type Inputs struct {
	Word *Tensor
	HC   *Tensor
}

// Model is the two-branch convolutional classifier.
type Model struct {
	cfg  Config
	loss Loss

	wordConv *nn.Conv1D
	dropout  *nn.Dropout
	hcConv   *nn.Conv1D
	dense    *nn.Linear
	opt      nn.Optimizer
}

// Construct builds and compiles a freshly initialised model.
func Construct(cfg Config) (*Model, error) {
	if cfg.Loss == "" {
		cfg.Loss = CategoricalCrossentropy
	}
	if cfg.Optimizer == "" {
		cfg.Optimizer = "adadelta"
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	m := &Model{cfg: cfg}
	var err error
	if m.wordConv, err = nn.NewConv1D(rng, cfg.WordDim, cfg.NumFilters, cfg.KernelSize); err != nil {
		return nil, fmt.Errorf("word branch: %w", err)
	}
	if m.dropout, err = nn.NewDropout(rng, cfg.Dropout); err != nil {
		return nil, fmt.Errorf("word branch: %w", err)
	}
	if m.hcConv, err = nn.NewConv1D(rng, cfg.HCDim, cfg.NumFilters, cfg.HCDim); err != nil {
		return nil, fmt.Errorf("feature branch: %w", err)
	}
	if m.dense, err = nn.NewLinear(rng, 2*cfg.NumFilters, cfg.NumClasses); err != nil {
		return nil, fmt.Errorf("output layer: %w", err)
	}
	if err := m.Compile(cfg.Loss, cfg.Optimizer); err != nil {
		return nil, err
	}
	return m, nil
}

// Compile sets the loss used by Train and EvaluateAuto and resets the optimizer.
func (m *Model) Compile(loss, optimizer string) error {
	l, err := LossByName(loss)
	if err != nil {
		return err
	}
	opt, err := nn.NewOptimizer(optimizer, m.Parameters())
	if err != nil {
		return err
	}
	m.loss, m.opt = l, opt
	m.cfg.Loss, m.cfg.Optimizer = l.Name(), optimizer
	return nil
}

// Config returns the model configuration, including the compiled loss.
func (m *Model) Config() Config { return m.cfg }

// Loss returns the name of the compiled loss.
func (m *Model) Loss() string { return m.loss.Name() }

// Parameters returns the learnable tensors in a fixed order.
func (m *Model) Parameters() []*Tensor {
	var params []*Tensor
	params = append(params, m.wordConv.Parameters()...)
	params = append(params, m.hcConv.Parameters()...)
	params = append(params, m.dense.Parameters()...)
	return params
}

// regularized returns the kernels carrying the L2 penalty.
func (m *Model) regularized() []*Tensor {
	return []*Tensor{m.wordConv.Weights, m.hcConv.Weights}
}

// ClassNames names the output classes, using the entity labels when they match.
func (m *Model) ClassNames() []string {
	if m.cfg.NumClasses == tag.NumLabels {
		return tag.Names()
	}
	names := make([]string, m.cfg.NumClasses)
	for i := range names {
		names[i] = fmt.Sprint(i)
	}
	return names
}

func (m *Model) checkInputs(x Inputs) (batch, steps int, err error) {
	if x.Word == nil || x.HC == nil {
		return 0, 0, fmt.Errorf("both inputs are required")
	}
	if len(x.Word.Shape) != 3 || len(x.HC.Shape) != 3 {
		return 0, 0, fmt.Errorf("inputs must be [batch, steps, dim], got %v and %v", x.Word.Shape, x.HC.Shape)
	}
	if x.Word.Shape[0] != x.HC.Shape[0] || x.Word.Shape[1] != x.HC.Shape[1] {
		return 0, 0, fmt.Errorf("input sequences are not aligned: %v vs %v", x.Word.Shape, x.HC.Shape)
	}
	if x.Word.Shape[2] != m.cfg.WordDim || x.HC.Shape[2] != m.cfg.HCDim {
		return 0, 0, fmt.Errorf("input dimensions %d/%d do not match model %d/%d", x.Word.Shape[2], x.HC.Shape[2], m.cfg.WordDim, m.cfg.HCDim)
	}
	return x.Word.Shape[0], x.Word.Shape[1], nil
}

func (m *Model) checkTargets(x Inputs, y *Tensor) error {
	batch, steps, err := m.checkInputs(x)
	if err != nil {
		return err
	}
	if y == nil || len(y.Shape) != 3 || y.Shape[0] != batch || y.Shape[1] != steps || y.Shape[2] != m.cfg.NumClasses {
		var shape []int
		if y != nil {
			shape = y.Shape
		}
		return fmt.Errorf("targets must be [%d, %d, %d], got %v", batch, steps, m.cfg.NumClasses, shape)
	}
	return nil
}

// forward runs both branches and returns [batch, steps, classes] probabilities.
func (m *Model) forward(x Inputs, training bool) (*Tensor, error) {
	a, err := m.wordConv.Forward(x.Word)
	if err != nil {
		return nil, fmt.Errorf("word branch: %w", err)
	}
	a = m.dropout.Forward(a.ReLU(), training)

	b, err := m.hcConv.Forward(x.HC)
	if err != nil {
		return nil, fmt.Errorf("feature branch: %w", err)
	}
	b = b.ReLU()

	merged, err := Concat([]*Tensor{a, b}, -1)
	if err != nil {
		return nil, err
	}
	logits, err := m.dense.Forward(merged)
	if err != nil {
		return nil, fmt.Errorf("output layer: %w", err)
	}
	return logits.Softmax(), nil
}

// Train performs one optimization step on the batch and returns its loss,
// including the L2 penalty.
func (m *Model) Train(x Inputs, y *Tensor) (float64, error) {
	if err := m.checkTargets(x, y); err != nil {
		return 0, err
	}
	m.opt.ZeroGrad()
	probs, err := m.forward(x, true)
	if err != nil {
		return 0, err
	}
	loss, grad := m.loss.Compute(probs, y)
	if err := probs.Backward(grad); err != nil {
		return 0, err
	}
	nn.AddL2Grad(m.regularized(), m.cfg.L2)
	m.opt.Step()
	return loss + nn.L2Penalty(m.regularized(), m.cfg.L2), nil
}

// Predict returns per-step class probabilities with dropout disabled.
func (m *Model) Predict(x Inputs) (*Tensor, error) {
	if _, _, err := m.checkInputs(x); err != nil {
		return nil, err
	}
	return m.forward(x, false)
}
