package nn

import (
	"fmt"
	"math"

	. "github.com/golangast/nercnn/neural/tensor"
)

// Optimizer interface defines the contract for optimizers.
type Optimizer interface {
	Step()
	ZeroGrad()
}

// NewOptimizer returns the optimizer registered under name with its usual defaults.
func NewOptimizer(name string, parameters []*Tensor) (Optimizer, error) {
	switch name {
	case "adadelta", "":
		return NewAdadelta(parameters, 1.0, 0.95, 1e-7), nil
	case "adam":
		return NewAdam(parameters, 0.001, 5.0), nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q", name)
	}
}

// Adadelta adapts per-parameter step sizes from running averages of squared
// gradients and squared updates.
type Adadelta struct {
	parameters   []*Tensor
	learningRate float64
	rho          float64
	epsilon      float64
	accGrad      map[*Tensor][]float64 // E[g^2]
	accDelta     map[*Tensor][]float64 // E[dx^2]
}

// NewAdadelta creates a new Adadelta optimizer.
func NewAdadelta(parameters []*Tensor, learningRate, rho, epsilon float64) *Adadelta {
	return &Adadelta{
		parameters:   parameters,
		learningRate: learningRate,
		rho:          rho,
		epsilon:      epsilon,
		accGrad:      make(map[*Tensor][]float64),
		accDelta:     make(map[*Tensor][]float64),
	}
}

// Step performs a single optimization step.
func (o *Adadelta) Step() {
	for _, p := range o.parameters {
		if p.Grad == nil {
			continue
		}
		eg, ok := o.accGrad[p]
		if !ok {
			eg = make([]float64, len(p.Data))
			o.accGrad[p] = eg
			o.accDelta[p] = make([]float64, len(p.Data))
		}
		ed := o.accDelta[p]
		for i, g := range p.Grad.Data {
			eg[i] = o.rho*eg[i] + (1-o.rho)*g*g
			dx := math.Sqrt(ed[i]+o.epsilon) / math.Sqrt(eg[i]+o.epsilon) * g
			ed[i] = o.rho*ed[i] + (1-o.rho)*dx*dx
			p.Data[i] -= o.learningRate * dx
		}
	}
}

// ZeroGrad resets the gradients of all parameters.
func (o *Adadelta) ZeroGrad() {
	for _, p := range o.parameters {
		p.ZeroGrad()
	}
}

// Adam represents the Adam optimizer.
type Adam struct {
	parameters   []*Tensor
	learningRate float64
	beta1        float64
	beta2        float64
	epsilon      float64
	t            int
	m            map[*Tensor][]float64 // 1st moment vector
	v            map[*Tensor][]float64 // 2nd moment vector
	clipValue    float64
}

// NewAdam creates a new Adam optimizer. Gradients are clipped to [-clipValue, clipValue].
func NewAdam(parameters []*Tensor, learningRate float64, clipValue float64) *Adam {
	return &Adam{
		parameters:   parameters,
		learningRate: learningRate,
		beta1:        0.9,
		beta2:        0.999,
		epsilon:      1e-8,
		m:            make(map[*Tensor][]float64),
		v:            make(map[*Tensor][]float64),
		clipValue:    clipValue,
	}
}

// Step performs a single optimization step.
func (o *Adam) Step() {
	o.t++
	c1 := 1 - math.Pow(o.beta1, float64(o.t))
	c2 := 1 - math.Pow(o.beta2, float64(o.t))
	for _, p := range o.parameters {
		if p.Grad == nil {
			continue
		}
		m, ok := o.m[p]
		if !ok {
			m = make([]float64, len(p.Data))
			o.m[p] = m
			o.v[p] = make([]float64, len(p.Data))
		}
		v := o.v[p]
		for i, g := range p.Grad.Data {
			if g > o.clipValue {
				g = o.clipValue
			} else if g < -o.clipValue {
				g = -o.clipValue
			}
			m[i] = o.beta1*m[i] + (1-o.beta1)*g
			v[i] = o.beta2*v[i] + (1-o.beta2)*g*g
			p.Data[i] -= o.learningRate * (m[i] / c1) / (math.Sqrt(v[i]/c2) + o.epsilon)
		}
	}
}

// ZeroGrad resets the gradients of all parameters.
func (o *Adam) ZeroGrad() {
	for _, p := range o.parameters {
		p.ZeroGrad()
	}
}
