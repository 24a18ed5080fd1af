package task

import "fmt"

// A Layer is one tensor of a model, stored flat in row-major order.
type Layer struct {
	Name   string    `json:"name"`
	Shape  []int     `json:"shape"`
	Values []float32 `json:"-"`
}

// NumElements returns the number of elements the shape describes.
func (l Layer) NumElements() int {
	n := 1
	for _, d := range l.Shape {
		n *= d
	}

	return n
}

// Weights is the ordered list of per-layer tensors of a model.
type Weights []Layer

// Clone returns a deep copy, so that a receiver never shares tensor memory
// with the sender.
func (w Weights) Clone() Weights {
	if w == nil {
		return nil
	}

	out := make(Weights, len(w))
	for i, l := range w {
		out[i] = Layer{
			Name:   l.Name,
			Shape:  append([]int(nil), l.Shape...),
			Values: append([]float32(nil), l.Values...),
		}
	}

	return out
}

// NumParams returns the number of scalar parameters across all layers.
func (w Weights) NumParams() int {
	n := 0
	for _, l := range w {
		n += len(l.Values)
	}

	return n
}

// Validate checks that each layer holds as many values as its shape says.
func (w Weights) Validate() error {
	for i, l := range w {
		if l.NumElements() != len(l.Values) {
			return fmt.Errorf("layer %d (%s): shape %v needs %d values, has %d",
				i, l.Name, l.Shape, l.NumElements(), len(l.Values))
		}
	}

	return nil
}

// ZeroWeights creates zero-initialized weights with the given layer shapes.
func ZeroWeights(names []string, shapes [][]int) Weights {
	w := make(Weights, len(shapes))
	for i, s := range shapes {
		l := Layer{Shape: append([]int(nil), s...)}
		if i < len(names) {
			l.Name = names[i]
		}
		l.Values = make([]float32, l.NumElements())
		w[i] = l
	}

	return w
}

// Update is the gradient update a device reports after training.
type Update struct {
	Round     int     `json:"round"`
	Gradients Weights `json:"gradients"`
	Samples   int     `json:"samples"`
}

// Metrics maps a metric name, such as accuracy or nll, to its value.
type Metrics map[string]float64

// Select keeps only the named metrics. Names that are absent are skipped.
func (m Metrics) Select(names []string) Metrics {
	out := make(Metrics, len(names))
	for _, n := range names {
		if v, ok := m[n]; ok {
			out[n] = v
		}
	}

	return out
}
