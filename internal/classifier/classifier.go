// Package classifier wraps hand-shape classification models and lets the active model
// variant be swapped at runtime.
package classifier

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/ayusman/gestalyze/internal/hand"
	"github.com/ayusman/gestalyze/internal/logger"
)

// ErrUnknownVariant is returned when a variant id was never loaded.
var ErrUnknownVariant = errors.New("unknown model variant")

// UnknownVariantError names the variant that could not be found.
type UnknownVariantError struct {
	ID string
}

func (e *UnknownVariantError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnknownVariant, e.ID)
}

func (e *UnknownVariantError) Unwrap() error {
	return ErrUnknownVariant
}

// Prediction is the outcome of classifying one hand against a single variant.
type Prediction struct {
	Variant       string
	Letter        string
	Probabilities map[string]float64
}

// Features flattens landmarks into the training-time order: x0, y0, x1, y1, ... x20, y20.
func Features(points *[hand.NumLandmarks]hand.Point) []float64 {
	f := make([]float64, 0, NumFeatures)
	for _, p := range points {
		f = append(f, p.X, p.Y)
	}
	return f
}

// Points is the inverse of Features. Z is left at zero.
func Points(features []float64) ([hand.NumLandmarks]hand.Point, error) {
	var points [hand.NumLandmarks]hand.Point
	if len(features) != NumFeatures {
		return points, fmt.Errorf("got %d features, want %d", len(features), NumFeatures)
	}
	for i := range points {
		points[i] = hand.Point{X: features[2*i], Y: features[2*i+1]}
	}
	return points, nil
}

// Adapter holds every loaded variant and an atomically swappable active one.
// It is safe for concurrent use.
type Adapter struct {
	variants map[string]*Variant
	active   atomic.Pointer[Variant]
}

// NewAdapter creates an adapter over the given variants with active selected.
func NewAdapter(variants []*Variant, active string) (*Adapter, error) {
	a := &Adapter{variants: make(map[string]*Variant, len(variants))}
	for _, v := range variants {
		if _, dup := a.variants[v.ID]; dup {
			return nil, fmt.Errorf("duplicate model variant %q", v.ID)
		}
		a.variants[v.ID] = v
	}

	v, ok := a.variants[active]
	if !ok {
		return nil, &UnknownVariantError{ID: active}
	}
	a.active.Store(v)
	return a, nil
}

// Switch makes id the active variant. Predictions already running finish on the
// variant they started with.
func (a *Adapter) Switch(id string) error {
	v, ok := a.variants[id]
	if !ok {
		return &UnknownVariantError{ID: id}
	}
	if prev := a.active.Swap(v); prev != v {
		logger.Info("Classifier", "active variant %s -> %s", prev.ID, id)
	}
	return nil
}

// Active returns the active variant id.
func (a *Adapter) Active() string {
	return a.active.Load().ID
}

// Variant returns a loaded variant by id.
func (a *Adapter) Variant(id string) (*Variant, bool) {
	v, ok := a.variants[id]
	return v, ok
}

// Variants returns the loaded variant ids in sorted order.
func (a *Adapter) Variants() []string {
	ids := make([]string, 0, len(a.variants))
	for id := range a.variants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Predict returns the most likely label.
func (a *Adapter) Predict(points *[hand.NumLandmarks]hand.Point) (string, error) {
	p, err := a.Classify(points)
	if err != nil {
		return "", err
	}
	return p.Letter, nil
}

// PredictProba returns the probability of every label of the active variant.
func (a *Adapter) PredictProba(points *[hand.NumLandmarks]hand.Point) (map[string]float64, error) {
	p, err := a.Classify(points)
	if err != nil {
		return nil, err
	}
	return p.Probabilities, nil
}

// Classify returns both label and distribution from one read of the active variant.
func (a *Adapter) Classify(points *[hand.NumLandmarks]hand.Point) (Prediction, error) {
	return classify(a.active.Load(), points)
}

func classify(v *Variant, points *[hand.NumLandmarks]hand.Point) (Prediction, error) {
	features := Features(points)
	if v.Scaler != nil {
		features = v.Scaler.Transform(features)
	}

	probs, err := v.Model.Probabilities(features)
	if err != nil {
		return Prediction{}, fmt.Errorf("variant %s: %w", v.ID, err)
	}

	labels := v.Labels()
	if len(probs) != len(labels) {
		return Prediction{}, fmt.Errorf("variant %s: model returned %d probabilities for %d labels", v.ID, len(probs), len(labels))
	}

	best := 0
	dist := make(map[string]float64, len(probs))
	for i, p := range probs {
		dist[labels[i]] = p
		if p > probs[best] {
			best = i
		}
	}

	return Prediction{
		Variant:       v.ID,
		Letter:        labels[best],
		Probabilities: dist,
	}, nil
}
