package nn

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	. "github.com/golangast/nercnn/neural/tensor"
)

// glorotUniform fills n values from U(-limit, limit), limit = sqrt(6 / (fanIn + fanOut)).
func glorotUniform(rng *rand.Rand, n, fanIn, fanOut int) []float64 {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	data := make([]float64, n)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * limit
	}
	return data
}

// Linear represents a fully connected layer applied to the last axis.
type Linear struct {
	Weights *Tensor // [inputDim, outputDim]
	Biases  *Tensor // [outputDim]
	input   *Tensor // Store input for backward pass
}

// NewLinear creates a new Linear layer with Glorot-uniform weights and zero biases.
func NewLinear(rng *rand.Rand, inputDim, outputDim int) (*Linear, error) {
	if inputDim <= 0 || outputDim <= 0 {
		return nil, fmt.Errorf("linear layer dimensions must be positive, got %dx%d", inputDim, outputDim)
	}
	weights := NewTensor([]int{inputDim, outputDim}, glorotUniform(rng, inputDim*outputDim, inputDim, outputDim), true)
	biases := NewTensor([]int{outputDim}, nil, true)
	return &Linear{Weights: weights, Biases: biases}, nil
}

// Parameters returns all learnable parameters of the layer.
func (l *Linear) Parameters() []*Tensor {
	return []*Tensor{l.Weights, l.Biases}
}

// Forward performs the forward pass. The input may have any rank >= 2; all leading
// axes are treated as independent rows.
func (l *Linear) Forward(input *Tensor) (*Tensor, error) {
	if input == nil {
		return nil, fmt.Errorf("Linear.Forward received a nil input tensor")
	}
	inDim, outDim := l.Weights.Shape[0], l.Weights.Shape[1]
	if len(input.Shape) < 2 || input.Shape[len(input.Shape)-1] != inDim {
		return nil, fmt.Errorf("linear layer expects last dimension %d, got shape %v", inDim, input.Shape)
	}
	l.input = input

	rows := len(input.Data) / inDim
	outShape := append(append([]int(nil), input.Shape[:len(input.Shape)-1]...), outDim)
	output := NewTensor(outShape, nil, false)
	for r := 0; r < rows; r++ {
		x := input.Data[r*inDim : (r+1)*inDim]
		y := output.Data[r*outDim : (r+1)*outDim]
		copy(y, l.Biases.Data)
		for i, xv := range x {
			if xv == 0 {
				continue
			}
			w := l.Weights.Data[i*outDim : (i+1)*outDim]
			for j, wv := range w {
				y[j] += xv * wv
			}
		}
	}

	output.RequiresGrad = input.RequiresGrad || l.Weights.RequiresGrad || l.Biases.RequiresGrad
	if output.RequiresGrad {
		output.Creator = l
	}
	return output, nil
}

// Backward performs the backward pass for the Linear layer.
// grad is the gradient from the output (dLoss/dOutput).
func (l *Linear) Backward(grad *Tensor) error {
	if grad == nil || grad.Data == nil {
		return nil
	}
	if l.input == nil {
		return errors.New("linear layer backward called before forward (input is nil)")
	}
	inDim, outDim := l.Weights.Shape[0], l.Weights.Shape[1]
	rows := len(l.input.Data) / inDim

	dW := l.Weights.EnsureGrad()
	dB := l.Biases.EnsureGrad()
	var dX *Tensor
	if l.input.RequiresGrad {
		dX = l.input.EnsureGrad()
	}

	for r := 0; r < rows; r++ {
		x := l.input.Data[r*inDim : (r+1)*inDim]
		g := grad.Data[r*outDim : (r+1)*outDim]
		for j, gv := range g {
			dB.Data[j] += gv
		}
		for i, xv := range x {
			w := l.Weights.Data[i*outDim : (i+1)*outDim]
			dw := dW.Data[i*outDim : (i+1)*outDim]
			sum := 0.0
			for j, gv := range g {
				dw[j] += xv * gv
				sum += gv * w[j]
			}
			if dX != nil {
				dX.Data[r*inDim+i] += sum
			}
		}
	}
	return nil
}

// Inputs returns the input tensors of the Linear operation.
func (l *Linear) Inputs() []*Tensor {
	if l.input != nil {
		return []*Tensor{l.input}
	}
	return []*Tensor{}
}

// Conv1D is a one dimensional convolution over a [batch, steps, channels] sequence
// with "same" padding, so the output keeps the number of steps.
type Conv1D struct {
	Weights    *Tensor // [kernelSize, inChannels, filters]
	Biases     *Tensor // [filters]
	KernelSize int
	input      *Tensor
}

// NewConv1D creates a convolution with Glorot-uniform kernels and zero biases.
func NewConv1D(rng *rand.Rand, inChannels, filters, kernelSize int) (*Conv1D, error) {
	if inChannels <= 0 || filters <= 0 || kernelSize <= 0 {
		return nil, fmt.Errorf("conv1d dimensions must be positive, got in=%d filters=%d kernel=%d", inChannels, filters, kernelSize)
	}
	n := kernelSize * inChannels * filters
	weights := NewTensor([]int{kernelSize, inChannels, filters}, glorotUniform(rng, n, kernelSize*inChannels, kernelSize*filters), true)
	biases := NewTensor([]int{filters}, nil, true)
	return &Conv1D{Weights: weights, Biases: biases, KernelSize: kernelSize}, nil
}

// Parameters returns all learnable parameters of the layer.
func (c *Conv1D) Parameters() []*Tensor {
	return []*Tensor{c.Weights, c.Biases}
}

// padLeft matches the usual "same" convention: the extra pad of an even kernel goes right.
func (c *Conv1D) padLeft() int {
	return (c.KernelSize - 1) / 2
}

// Forward convolves input [batch, steps, inChannels] into [batch, steps, filters].
func (c *Conv1D) Forward(input *Tensor) (*Tensor, error) {
	if input == nil {
		return nil, fmt.Errorf("Conv1D.Forward received a nil input tensor")
	}
	k, inC, f := c.Weights.Shape[0], c.Weights.Shape[1], c.Weights.Shape[2]
	if len(input.Shape) != 3 || input.Shape[2] != inC {
		return nil, fmt.Errorf("conv1d expects [batch, steps, %d] input, got %v", inC, input.Shape)
	}
	c.input = input

	batch, steps := input.Shape[0], input.Shape[1]
	pad := c.padLeft()
	output := NewTensor([]int{batch, steps, f}, nil, false)

	for n := 0; n < batch; n++ {
		for t := 0; t < steps; t++ {
			y := output.Data[(n*steps+t)*f : (n*steps+t+1)*f]
			copy(y, c.Biases.Data)
			for kk := 0; kk < k; kk++ {
				s := t + kk - pad
				if s < 0 || s >= steps {
					continue
				}
				x := input.Data[(n*steps+s)*inC : (n*steps+s+1)*inC]
				for d, xv := range x {
					if xv == 0 {
						continue
					}
					w := c.Weights.Data[(kk*inC+d)*f : (kk*inC+d+1)*f]
					for j, wv := range w {
						y[j] += xv * wv
					}
				}
			}
		}
	}

	output.RequiresGrad = input.RequiresGrad || c.Weights.RequiresGrad || c.Biases.RequiresGrad
	if output.RequiresGrad {
		output.Creator = c
	}
	return output, nil
}

// Backward accumulates kernel, bias and input gradients.
func (c *Conv1D) Backward(grad *Tensor) error {
	if grad == nil || grad.Data == nil {
		return nil
	}
	if c.input == nil {
		return errors.New("conv1d backward called before forward (input is nil)")
	}
	k, inC, f := c.Weights.Shape[0], c.Weights.Shape[1], c.Weights.Shape[2]
	batch, steps := c.input.Shape[0], c.input.Shape[1]
	pad := c.padLeft()

	dW := c.Weights.EnsureGrad()
	dB := c.Biases.EnsureGrad()
	var dX *Tensor
	if c.input.RequiresGrad {
		dX = c.input.EnsureGrad()
	}

	for n := 0; n < batch; n++ {
		for t := 0; t < steps; t++ {
			g := grad.Data[(n*steps+t)*f : (n*steps+t+1)*f]
			for j, gv := range g {
				dB.Data[j] += gv
			}
			for kk := 0; kk < k; kk++ {
				s := t + kk - pad
				if s < 0 || s >= steps {
					continue
				}
				xOff := (n*steps + s) * inC
				for d := 0; d < inC; d++ {
					xv := c.input.Data[xOff+d]
					wOff := (kk*inC + d) * f
					sum := 0.0
					for j, gv := range g {
						dW.Data[wOff+j] += xv * gv
						sum += gv * c.Weights.Data[wOff+j]
					}
					if dX != nil {
						dX.Data[xOff+d] += sum
					}
				}
			}
		}
	}
	return nil
}

// Inputs returns the input tensors of the convolution.
func (c *Conv1D) Inputs() []*Tensor {
	if c.input != nil {
		return []*Tensor{c.input}
	}
	return []*Tensor{}
}

// Dropout zeroes a fraction Rate of its inputs during training and rescales the rest
// by 1/(1-Rate). Outside training it is the identity.
type Dropout struct {
	Rate float64
	rng  *rand.Rand
}

// NewDropout creates a dropout layer drawing its masks from rng.
func NewDropout(rng *rand.Rand, rate float64) (*Dropout, error) {
	if rate < 0 || rate >= 1 {
		return nil, fmt.Errorf("dropout rate must be in [0, 1), got %v", rate)
	}
	return &Dropout{Rate: rate, rng: rng}, nil
}

// Forward applies the dropout mask when training is true.
func (d *Dropout) Forward(input *Tensor, training bool) *Tensor {
	if !training || d.Rate == 0 {
		return input
	}
	keep := 1 - d.Rate
	mask := make([]float64, len(input.Data))
	out := NewTensor(input.Shape, nil, input.RequiresGrad)
	for i, v := range input.Data {
		if d.rng.Float64() < keep {
			mask[i] = 1 / keep
			out.Data[i] = v * mask[i]
		}
	}
	if out.RequiresGrad {
		out.Creator = &DropoutOperation{Input: input, Mask: mask}
	}
	return out
}

// DropoutOperation scales the gradient by the mask used in the forward pass.
type DropoutOperation struct {
	Input *Tensor
	Mask  []float64
}

func (op *DropoutOperation) Inputs() []*Tensor {
	return []*Tensor{op.Input}
}

func (op *DropoutOperation) Backward(grad *Tensor) error {
	if !op.Input.RequiresGrad {
		return nil
	}
	g := op.Input.EnsureGrad()
	for i, m := range op.Mask {
		g.Data[i] += grad.Data[i] * m
	}
	return nil
}

// L2Penalty returns lambda * sum(w^2) over the given parameters.
func L2Penalty(params []*Tensor, lambda float64) float64 {
	if lambda == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range params {
		for _, v := range p.Data {
			sum += v * v
		}
	}
	return lambda * sum
}

// AddL2Grad adds the derivative of L2Penalty, 2 * lambda * w, to each parameter gradient.
func AddL2Grad(params []*Tensor, lambda float64) {
	if lambda == 0 {
		return
	}
	for _, p := range params {
		g := p.EnsureGrad()
		for i, v := range p.Data {
			g.Data[i] += 2 * lambda * v
		}
	}
}
