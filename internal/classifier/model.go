package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrInvalidModel is returned when a model document cannot be used.
var ErrInvalidModel = errors.New("invalid model")

// Model maps a feature vector to a probability per class index.
type Model interface {
	// Classes returns the class names in index order.
	Classes() []string
	// Probabilities returns one probability per class, summing to 1.
	Probabilities(features []float64) ([]float64, error)
}

// LinearModel is a multinomial logistic classifier: softmax(W·f + b).
type LinearModel struct {
	classes []string
	weights *mat.Dense
	bias    *mat.VecDense
}

// NewLinearModel builds a model from one weight row and one bias per class.
func NewLinearModel(classes []string, weights [][]float64, bias []float64) (*LinearModel, error) {
	n := len(weights)
	if n == 0 {
		return nil, fmt.Errorf("%w: no classes", ErrInvalidModel)
	}
	if len(bias) != n {
		return nil, fmt.Errorf("%w: %d bias terms for %d classes", ErrInvalidModel, len(bias), n)
	}
	if len(classes) != 0 && len(classes) != n {
		return nil, fmt.Errorf("%w: %d class names for %d weight rows", ErrInvalidModel, len(classes), n)
	}

	data := make([]float64, 0, n*NumFeatures)
	for i, row := range weights {
		if len(row) != NumFeatures {
			return nil, fmt.Errorf("%w: weight row %d has %d values, want %d", ErrInvalidModel, i, len(row), NumFeatures)
		}
		data = append(data, row...)
	}

	names := make([]string, n)
	copy(names, classes)

	return &LinearModel{
		classes: names,
		weights: mat.NewDense(n, NumFeatures, data),
		bias:    mat.NewVecDense(n, append([]float64(nil), bias...)),
	}, nil
}

// Classes returns the class names. Entries are empty when the document had none.
func (m *LinearModel) Classes() []string {
	return m.classes
}

// Probabilities scores the features and normalizes with a numerically stable softmax.
func (m *LinearModel) Probabilities(features []float64) ([]float64, error) {
	if len(features) != NumFeatures {
		return nil, fmt.Errorf("got %d features, want %d", len(features), NumFeatures)
	}

	rows, _ := m.weights.Dims()
	z := mat.NewVecDense(rows, nil)
	z.MulVec(m.weights, mat.NewVecDense(NumFeatures, features))
	z.AddVec(z, m.bias)

	p := make([]float64, rows)
	copy(p, z.RawVector().Data)

	floats.AddConst(-floats.Max(p), p)
	for i := range p {
		p[i] = math.Exp(p[i])
	}
	floats.Scale(1/floats.Sum(p), p)
	return p, nil
}

// Scaler standardizes features as (f - mean) / scale.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func (s *Scaler) validate() error {
	if len(s.Mean) != NumFeatures || len(s.Scale) != NumFeatures {
		return fmt.Errorf("%w: scaler needs %d means and scales", ErrInvalidModel, NumFeatures)
	}
	for i, v := range s.Scale {
		if v == 0 {
			return fmt.Errorf("%w: scaler scale %d is zero", ErrInvalidModel, i)
		}
	}
	return nil
}

// Transform returns a scaled copy of features.
func (s *Scaler) Transform(features []float64) []float64 {
	out := make([]float64, len(features))
	floats.SubTo(out, features, s.Mean)
	floats.Div(out, s.Scale)
	return out
}

// document is the on-disk model format.
type document struct {
	Classes []string    `json:"classes"`
	Weights [][]float64 `json:"weights"`
	Bias    []float64   `json:"bias"`
	Scaler  *Scaler     `json:"scaler,omitempty"`
}

// ReadModel decodes a JSON model document and its optional scaler.
func ReadModel(r io.Reader) (*LinearModel, *Scaler, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}

	m, err := NewLinearModel(doc.Classes, doc.Weights, doc.Bias)
	if err != nil {
		return nil, nil, err
	}
	if doc.Scaler != nil {
		if err := doc.Scaler.validate(); err != nil {
			return nil, nil, err
		}
	}
	return m, doc.Scaler, nil
}
