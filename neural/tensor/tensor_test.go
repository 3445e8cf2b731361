package tensor

import (
	"bytes"
	"encoding/gob"
	"math"
	"reflect"
	"testing"
)

func TestConcatLastAxis(t *testing.T) {
	a := NewTensor([]int{2, 1, 2}, []float64{1, 2, 3, 4}, false)
	b := NewTensor([]int{2, 1, 1}, []float64{9, 8}, false)

	c, err := Concat([]*Tensor{a, b}, -1)
	if err != nil {
		t.Fatalf("Concat failed: %v", err)
	}
	if !reflect.DeepEqual(c.Shape, []int{2, 1, 3}) {
		t.Fatalf("unexpected shape %v", c.Shape)
	}
	want := []float64{1, 2, 9, 3, 4, 8}
	if !reflect.DeepEqual(c.Data, want) {
		t.Errorf("got %v, want %v", c.Data, want)
	}
}

func TestConcatMismatchedShapes(t *testing.T) {
	a := NewTensor([]int{2, 2}, nil, false)
	b := NewTensor([]int{3, 1}, nil, false)
	if _, err := Concat([]*Tensor{a, b}, 1); err == nil {
		t.Fatal("expected an error for mismatched shapes")
	}
}

func TestConcatBackwardSplitsGradient(t *testing.T) {
	a := NewTensor([]int{2, 2}, []float64{1, 2, 3, 4}, true)
	b := NewTensor([]int{2, 1}, []float64{5, 6}, true)
	c, err := Concat([]*Tensor{a, b}, 1)
	if err != nil {
		t.Fatalf("Concat failed: %v", err)
	}
	seed := NewTensor(c.Shape, []float64{1, 2, 3, 4, 5, 6}, false)
	if err := c.Backward(seed); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	if !reflect.DeepEqual(a.Grad.Data, []float64{1, 2, 4, 5}) {
		t.Errorf("a grad = %v", a.Grad.Data)
	}
	if !reflect.DeepEqual(b.Grad.Data, []float64{3, 6}) {
		t.Errorf("b grad = %v", b.Grad.Data)
	}
}

func TestSoftmaxRowsSumToOne(t *testing.T) {
	x := NewTensor([]int{2, 3}, []float64{1, 2, 3, -1, 0, 1000}, false)
	y := x.Softmax()
	for r := 0; r < 2; r++ {
		sum := 0.0
		for k := 0; k < 3; k++ {
			sum += y.Data[r*3+k]
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Errorf("row %d sums to %v", r, sum)
		}
	}
	if got := y.Argmax(); !reflect.DeepEqual(got, []int{2, 2}) {
		t.Errorf("Argmax = %v", got)
	}
}

func TestSoftmaxGradientMatchesFiniteDifference(t *testing.T) {
	data := []float64{0.3, -1.2, 0.7}
	weights := []float64{0.5, -2, 1}
	loss := func(d []float64) float64 {
		y := NewTensor([]int{1, 3}, append([]float64(nil), d...), false).Softmax()
		s := 0.0
		for i, v := range y.Data {
			s += weights[i] * v
		}
		return s
	}

	x := NewTensor([]int{1, 3}, append([]float64(nil), data...), true)
	y := x.Softmax()
	if err := y.Backward(NewTensor(y.Shape, weights, false)); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	const h = 1e-6
	for i := range data {
		plus := append([]float64(nil), data...)
		minus := append([]float64(nil), data...)
		plus[i] += h
		minus[i] -= h
		numeric := (loss(plus) - loss(minus)) / (2 * h)
		if math.Abs(numeric-x.Grad.Data[i]) > 1e-6 {
			t.Errorf("grad[%d] = %v, numeric %v", i, x.Grad.Data[i], numeric)
		}
	}
}

func TestReLUBackward(t *testing.T) {
	x := NewTensor([]int{4}, []float64{-1, 0, 2, 3}, true)
	y := x.ReLU()
	if !reflect.DeepEqual(y.Data, []float64{0, 0, 2, 3}) {
		t.Fatalf("ReLU = %v", y.Data)
	}
	if err := y.Backward(NewTensor(y.Shape, []float64{1, 1, 1, 1}, false)); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	if !reflect.DeepEqual(x.Grad.Data, []float64{0, 0, 1, 1}) {
		t.Errorf("grad = %v", x.Grad.Data)
	}
}

func TestReshapeRejectsSizeMismatch(t *testing.T) {
	x := NewTensor([]int{2, 3}, nil, false)
	if _, err := x.Reshape([]int{4, 2}); err == nil {
		t.Fatal("expected an error")
	}
	r, err := x.Reshape([]int{2, 1, 3})
	if err != nil {
		t.Fatalf("Reshape failed: %v", err)
	}
	if !reflect.DeepEqual(r.Shape, []int{2, 1, 3}) {
		t.Errorf("shape = %v", r.Shape)
	}
}

func TestGobRoundTrip(t *testing.T) {
	in := NewTensor([]int{2, 2}, []float64{math.Pi, -0.1, 1e-300, math.MaxFloat64}, true)
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(in); err != nil {
		t.Fatalf("encode: %v", err)
	}
	out := &Tensor{}
	if err := gob.NewDecoder(&buf).Decode(out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(in.Data, out.Data) || !reflect.DeepEqual(in.Shape, out.Shape) || !out.RequiresGrad {
		t.Errorf("round trip mismatch: %+v vs %+v", in, out)
	}
}
