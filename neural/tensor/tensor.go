// Package tensor is a small reverse-mode autograd engine over dense float64 arrays.
package tensor

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Operation represents an operation in the computation graph.
type Operation interface {
	Inputs() []*Tensor
	Backward(grad *Tensor) error
}

// Tensor represents a multi-dimensional array of float64 values in row-major order.
type Tensor struct {
	Data         []float64
	Shape        []int
	Grad         *Tensor   `gob:"-"` // Exclude Grad from gob serialization
	Creator      Operation `gob:"-"` // Exclude Creator from gob serialization
	RequiresGrad bool
}

// GobEncode implements the gob.GobEncoder interface.
// Only the values, the shape and the gradient flag are persisted.
func (t *Tensor) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	if err := enc.Encode(t.Data); err != nil {
		return nil, err
	}
	if err := enc.Encode(t.Shape); err != nil {
		return nil, err
	}
	if err := enc.Encode(t.RequiresGrad); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface.
func (t *Tensor) GobDecode(data []byte) error {
	dec := gob.NewDecoder(bytes.NewBuffer(data))

	if err := dec.Decode(&t.Data); err != nil {
		return err
	}
	if err := dec.Decode(&t.Shape); err != nil {
		return err
	}
	if err := dec.Decode(&t.RequiresGrad); err != nil {
		return err
	}
	if len(t.Data) != Size(t.Shape) {
		return fmt.Errorf("decoded tensor has %d values for shape %v", len(t.Data), t.Shape)
	}
	return nil
}

// NewTensor creates a new Tensor with the given shape and optional data.
func NewTensor(shape []int, data []float64, requiresGrad bool) *Tensor {
	if data == nil {
		data = make([]float64, Size(shape))
	}
	s := make([]int, len(shape))
	copy(s, shape)
	return &Tensor{
		Data:         data,
		Shape:        s,
		RequiresGrad: requiresGrad,
	}
}

// Size returns the number of elements a tensor of the given shape holds.
func Size(shape []int) int {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return size
}

// Clone creates a deep copy of the tensor.
// The clone is a new leaf in the graph and carries no gradient.
func (t *Tensor) Clone() *Tensor {
	newData := make([]float64, len(t.Data))
	copy(newData, t.Data)
	return NewTensor(t.Shape, newData, t.RequiresGrad)
}

// ZeroGrad resets the gradient of the tensor to zeros.
func (t *Tensor) ZeroGrad() {
	if !t.RequiresGrad {
		return
	}
	if t.Grad == nil {
		t.Grad = NewTensor(t.Shape, nil, false)
		return
	}
	for i := range t.Grad.Data {
		t.Grad.Data[i] = 0
	}
}

// Inputs returns the input tensors to this operation.
// A tensor on its own is a leaf and has none.
func (t *Tensor) Inputs() []*Tensor {
	return []*Tensor{}
}

// AccumulateGrad adds delta to the gradient at flat index i, allocating the gradient on first use.
func (t *Tensor) AccumulateGrad(i int, delta float64) {
	if t.Grad == nil {
		t.Grad = NewTensor(t.Shape, nil, false)
	}
	t.Grad.Data[i] += delta
}

// EnsureGrad allocates a zero gradient when none exists and returns it.
func (t *Tensor) EnsureGrad() *Tensor {
	if t.Grad == nil {
		t.Grad = NewTensor(t.Shape, nil, false)
	}
	return t.Grad
}

// Backward performs backpropagation starting from this tensor.
// grad seeds dLoss/dt and must have t's shape.
func (t *Tensor) Backward(grad *Tensor) error {
	if grad == nil || len(grad.Data) != len(t.Data) {
		return fmt.Errorf("backward seed does not match tensor shape %v", t.Shape)
	}

	// Post-order DFS gives a topological order where every node follows its inputs.
	var topo []*Tensor
	visited := map[*Tensor]bool{}
	var visit func(v *Tensor)
	visit = func(v *Tensor) {
		if v == nil || visited[v] {
			return
		}
		visited[v] = true
		if v.Creator != nil {
			for _, child := range v.Creator.Inputs() {
				visit(child)
			}
		}
		topo = append(topo, v)
	}
	visit(t)

	for _, v := range topo {
		if v.Creator != nil {
			// Intermediate nodes start from zero on every pass.
			v.Grad = NewTensor(v.Shape, nil, false)
		}
	}
	seed := t.EnsureGrad()
	copy(seed.Data, grad.Data)

	for i := len(topo) - 1; i >= 0; i-- {
		v := topo[i]
		if v.Creator == nil {
			continue
		}
		if err := v.Creator.Backward(v.Grad); err != nil {
			return fmt.Errorf("error during backward pass for tensor with shape %v: %w", v.Shape, err)
		}
	}
	return nil
}

func compareShapes(s1, s2 []int) bool {
	if len(s1) != len(s2) {
		return false
	}
	for i := range s1 {
		if s1[i] != s2[i] {
			return false
		}
	}
	return true
}

// SameShape reports whether both tensors have identical shapes.
func SameShape(a, b *Tensor) bool {
	return compareShapes(a.Shape, b.Shape)
}

// compareShapesExceptAxis compares two shapes, ignoring a specific axis.
func compareShapesExceptAxis(s1, s2 []int, ignoredAxis int) bool {
	if len(s1) != len(s2) {
		return false
	}
	for i := range s1 {
		if i == ignoredAxis {
			continue
		}
		if s1[i] != s2[i] {
			return false
		}
	}
	return true
}
