package tensor

import (
	"fmt"
	"math"
)

// Reshape returns a view of t with a new shape. The data array is shared.
func (t *Tensor) Reshape(newShape []int) (*Tensor, error) {
	newSize := Size(newShape)
	if newSize != len(t.Data) {
		return nil, fmt.Errorf("cannot reshape tensor from %v to %v: total number of elements mismatch (%d vs %d)", t.Shape, newShape, len(t.Data), newSize)
	}

	resultTensor := NewTensor(newShape, t.Data, t.RequiresGrad)
	if resultTensor.RequiresGrad {
		resultTensor.Creator = &ReshapeOperation{Input: t}
	}
	return resultTensor, nil
}

// ReshapeOperation passes the gradient back unchanged; only the shape differs.
type ReshapeOperation struct {
	Input *Tensor
}

func (op *ReshapeOperation) Inputs() []*Tensor {
	return []*Tensor{op.Input}
}

func (op *ReshapeOperation) Backward(grad *Tensor) error {
	if !op.Input.RequiresGrad {
		return nil
	}
	g := op.Input.EnsureGrad()
	for i := range grad.Data {
		g.Data[i] += grad.Data[i]
	}
	return nil
}

// Concat concatenates a slice of tensors along a specified axis.
// All tensors must have the same shape except for the dimension along the concatenation axis.
func Concat(tensors []*Tensor, axis int) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, fmt.Errorf("Concat requires at least one tensor")
	}
	rank := len(tensors[0].Shape)
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return nil, fmt.Errorf("axis %d out of bounds for tensor with shape %v", axis, tensors[0].Shape)
	}

	newShape := make([]int, rank)
	copy(newShape, tensors[0].Shape)
	concatDimSize := 0
	for i, t := range tensors {
		if i > 0 && !compareShapesExceptAxis(tensors[0].Shape, t.Shape, axis) {
			return nil, fmt.Errorf("mismatched shapes for concatenation along axis %d: %v and %v", axis, tensors[0].Shape, t.Shape)
		}
		concatDimSize += t.Shape[axis]
	}
	newShape[axis] = concatDimSize

	outer := Size(newShape[:axis])
	inner := Size(newShape[axis+1:])
	newData := make([]float64, Size(newShape))

	offset := 0
	for _, t := range tensors {
		block := t.Shape[axis] * inner
		for o := 0; o < outer; o++ {
			copy(newData[o*concatDimSize*inner+offset*inner:], t.Data[o*block:(o+1)*block])
		}
		offset += t.Shape[axis]
	}

	resultTensor := NewTensor(newShape, newData, false)
	for _, t := range tensors {
		if t.RequiresGrad {
			resultTensor.RequiresGrad = true
			resultTensor.Creator = &ConcatOperation{InputTensors: tensors, Axis: axis}
			break
		}
	}
	return resultTensor, nil
}

// ConcatOperation represents the concatenation operation for backward pass.
type ConcatOperation struct {
	InputTensors []*Tensor
	Axis         int
}

func (op *ConcatOperation) Inputs() []*Tensor {
	return op.InputTensors
}

func (op *ConcatOperation) Backward(grad *Tensor) error {
	axisSize := grad.Shape[op.Axis]
	outer := Size(grad.Shape[:op.Axis])
	inner := Size(grad.Shape[op.Axis+1:])

	offset := 0
	for _, in := range op.InputTensors {
		block := in.Shape[op.Axis] * inner
		if in.RequiresGrad {
			g := in.EnsureGrad()
			for o := 0; o < outer; o++ {
				src := grad.Data[o*axisSize*inner+offset*inner:]
				dst := g.Data[o*block : (o+1)*block]
				for i := range dst {
					dst[i] += src[i]
				}
			}
		}
		offset += in.Shape[op.Axis]
	}
	return nil
}

// ReLU applies max(0, x) element-wise.
func (t *Tensor) ReLU() *Tensor {
	out := NewTensor(t.Shape, nil, t.RequiresGrad)
	for i, v := range t.Data {
		if v > 0 {
			out.Data[i] = v
		}
	}
	if out.RequiresGrad {
		out.Creator = &ReLUOperation{Input: t}
	}
	return out
}

// ReLUOperation routes the gradient through positive inputs only.
type ReLUOperation struct {
	Input *Tensor
}

func (op *ReLUOperation) Inputs() []*Tensor {
	return []*Tensor{op.Input}
}

func (op *ReLUOperation) Backward(grad *Tensor) error {
	if !op.Input.RequiresGrad {
		return nil
	}
	g := op.Input.EnsureGrad()
	for i, v := range op.Input.Data {
		if v > 0 {
			g.Data[i] += grad.Data[i]
		}
	}
	return nil
}

// Softmax applies the softmax function along the last axis.
func (t *Tensor) Softmax() *Tensor {
	outputTensor := NewTensor(t.Shape, nil, t.RequiresGrad)
	if len(t.Shape) == 0 {
		return outputTensor
	}
	width := t.Shape[len(t.Shape)-1]
	rows := len(t.Data) / max(width, 1)

	for r := 0; r < rows; r++ {
		in := t.Data[r*width : (r+1)*width]
		out := outputTensor.Data[r*width : (r+1)*width]

		// Subtract the max for numerical stability.
		maxVal := math.Inf(-1)
		for _, v := range in {
			if v > maxVal {
				maxVal = v
			}
		}
		sumExp := 0.0
		for k, v := range in {
			out[k] = math.Exp(v - maxVal)
			sumExp += out[k]
		}
		for k := range out {
			out[k] /= sumExp
		}
	}

	if outputTensor.RequiresGrad {
		outputTensor.Creator = &SoftmaxOperation{Input: t, Output: outputTensor}
	}
	return outputTensor
}

// SoftmaxOperation represents the softmax operation for backward pass.
type SoftmaxOperation struct {
	Input  *Tensor
	Output *Tensor
}

func (op *SoftmaxOperation) Inputs() []*Tensor {
	return []*Tensor{op.Input}
}

func (op *SoftmaxOperation) Backward(grad *Tensor) error {
	if !op.Input.RequiresGrad {
		return nil
	}
	g := op.Input.EnsureGrad()
	width := op.Input.Shape[len(op.Input.Shape)-1]
	rows := len(op.Input.Data) / max(width, 1)

	for r := 0; r < rows; r++ {
		base := r * width
		// dL/dx_i = y_i * (dL/dy_i - sum_k dL/dy_k * y_k)
		dot := 0.0
		for k := 0; k < width; k++ {
			dot += grad.Data[base+k] * op.Output.Data[base+k]
		}
		for k := 0; k < width; k++ {
			g.Data[base+k] += op.Output.Data[base+k] * (grad.Data[base+k] - dot)
		}
	}
	return nil
}

// Argmax returns, for every position of the leading axes, the index of the largest
// value along the last axis. Ties resolve to the lowest index.
func (t *Tensor) Argmax() []int {
	if len(t.Shape) == 0 {
		return nil
	}
	width := t.Shape[len(t.Shape)-1]
	if width == 0 {
		return nil
	}
	rows := len(t.Data) / width
	out := make([]int, rows)
	for r := 0; r < rows; r++ {
		best := 0
		for k := 1; k < width; k++ {
			if t.Data[r*width+k] > t.Data[r*width+best] {
				best = k
			}
		}
		out[r] = best
	}
	return out
}
