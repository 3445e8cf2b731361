package ner

import (
	"fmt"
	"strings"

	"github.com/golangast/nercnn/neural/nn"
	. "github.com/golangast/nercnn/neural/tensor"
)

// Metrics are the named results of EvaluateAuto: "loss", "accuracy" and "samples".
type Metrics map[string]float64

// Samples returns the number of evaluated positions.
func (m Metrics) Samples() int { return int(m["samples"]) }

// EvaluateAuto scores the batch with the compiled loss and its accuracy metric.
// The reported loss includes the L2 penalty, the same quantity Train returns.
func (m *Model) EvaluateAuto(x Inputs, y *Tensor) (Metrics, error) {
	if err := m.checkTargets(x, y); err != nil {
		return nil, err
	}
	probs, err := m.forward(x, false)
	if err != nil {
		return nil, err
	}
	loss, _ := m.loss.Compute(probs, y)
	return Metrics{
		"loss":     loss + nn.L2Penalty(m.regularized(), m.cfg.L2),
		"accuracy": m.loss.Accuracy(probs, y),
		"samples":  float64(positions(probs)),
	}, nil
}

// EvaluateConfusion predicts every position and tallies it against the integer labels.
func (m *Model) EvaluateConfusion(x Inputs, labels []int) (*Confusion, error) {
	batch, steps, err := m.checkInputs(x)
	if err != nil {
		return nil, err
	}
	if len(labels) != batch*steps {
		return nil, fmt.Errorf("got %d labels for %d positions", len(labels), batch*steps)
	}
	probs, err := m.forward(x, false)
	if err != nil {
		return nil, err
	}
	c := NewConfusion(m.ClassNames())
	for i, p := range probs.Argmax() {
		if err := c.Add(labels[i], p); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Confusion counts predictions per true class. Matrix[t][p] is the number of
// positions with true class t predicted as p.
type Confusion struct {
	Names  []string
	Matrix [][]int
}

// NewConfusion returns an empty matrix over the named classes.
func NewConfusion(names []string) *Confusion {
	m := make([][]int, len(names))
	for i := range m {
		m[i] = make([]int, len(names))
	}
	return &Confusion{Names: append([]string(nil), names...), Matrix: m}
}

// Add counts one prediction.
func (c *Confusion) Add(truth, pred int) error {
	n := len(c.Matrix)
	if truth < 0 || truth >= n || pred < 0 || pred >= n {
		return fmt.Errorf("class out of range: true %d, predicted %d, classes %d", truth, pred, n)
	}
	c.Matrix[truth][pred]++
	return nil
}

// Merge adds the counts of o, which must cover the same classes.
func (c *Confusion) Merge(o *Confusion) error {
	if len(o.Matrix) != len(c.Matrix) {
		return fmt.Errorf("cannot merge %d classes into %d", len(o.Matrix), len(c.Matrix))
	}
	for t, row := range o.Matrix {
		for p, v := range row {
			c.Matrix[t][p] += v
		}
	}
	return nil
}

// Total is the number of counted positions.
func (c *Confusion) Total() int {
	total := 0
	for _, row := range c.Matrix {
		for _, v := range row {
			total += v
		}
	}
	return total
}

// Correct is the trace of the matrix.
func (c *Confusion) Correct() int {
	correct := 0
	for i := range c.Matrix {
		correct += c.Matrix[i][i]
	}
	return correct
}

func (c *Confusion) Accuracy() float64 {
	return ratio(c.Correct(), c.Total())
}

// Precision of class k. Zero when k was never predicted.
func (c *Confusion) Precision(k int) float64 {
	predicted := 0
	for t := range c.Matrix {
		predicted += c.Matrix[t][k]
	}
	return ratio(c.Matrix[k][k], predicted)
}

// Recall of class k. Zero when k never occurs.
func (c *Confusion) Recall(k int) float64 {
	actual := 0
	for _, v := range c.Matrix[k] {
		actual += v
	}
	return ratio(c.Matrix[k][k], actual)
}

func (c *Confusion) F1(k int) float64 {
	p, r := c.Precision(k), c.Recall(k)
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

// String renders the matrix with true classes as rows.
func (c *Confusion) String() string {
	width := 10
	for _, n := range c.Names {
		width = max(width, len(n)+1)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%*s", width, "true\\pred")
	for _, n := range c.Names {
		fmt.Fprintf(&sb, "%*s", width, n)
	}
	sb.WriteByte('\n')
	for t, row := range c.Matrix {
		fmt.Fprintf(&sb, "%*s", width, c.Names[t])
		for _, v := range row {
			fmt.Fprintf(&sb, "%*d", width, v)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Report lists precision, recall and F1 per class.
func (c *Confusion) Report() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%-8s %9s %9s %9s\n", "class", "precision", "recall", "f1")
	for k, n := range c.Names {
		fmt.Fprintf(&sb, "%-8s %9.4f %9.4f %9.4f\n", n, c.Precision(k), c.Recall(k), c.F1(k))
	}
	fmt.Fprintf(&sb, "accuracy %.4f over %d samples\n", c.Accuracy(), c.Total())
	return sb.String()
}
