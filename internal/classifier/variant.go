package classifier

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/ayusman/gestalyze/internal/hand"
)

// NumFeatures is the length of the feature vector: x then y for each landmark.
const NumFeatures = hand.NumLandmarks * 2

// Kind decides how a model's class index becomes a label.
// The set of kinds is closed; add a new one here.
type Kind interface {
	Name() string
	label(index int, classes []string) string
	sealed()
}

// Alphabet maps class index i to the letter 'A'+i.
type Alphabet struct{}

// Name implements Kind.
func (Alphabet) Name() string { return "alphabet" }

func (Alphabet) label(index int, _ []string) string {
	return string(rune('A' + index))
}

func (Alphabet) sealed() {}

// Labeled uses the model's own class names.
type Labeled struct{}

// Name implements Kind.
func (Labeled) Name() string { return "labeled" }

func (Labeled) label(index int, classes []string) string {
	return classes[index]
}

func (Labeled) sealed() {}

// ParseKind returns the kind with the given name.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(name) {
	case "alphabet":
		return Alphabet{}, nil
	case "labeled":
		return Labeled{}, nil
	default:
		return nil, fmt.Errorf("unknown model kind %q", name)
	}
}

// Variant is one loaded model and its optional scaler.
// Variants are immutable once built.
type Variant struct {
	ID     string
	Kind   Kind
	Model  Model
	Scaler *Scaler

	labels []string
}

// NewVariant binds a model to a kind and precomputes its labels.
func NewVariant(id string, kind Kind, model Model, scaler *Scaler) (*Variant, error) {
	if id == "" {
		return nil, fmt.Errorf("variant id is required")
	}

	classes := model.Classes()
	labels := make([]string, len(classes))
	seen := make(map[string]bool, len(classes))

	for i := range classes {
		if _, ok := kind.(Alphabet); ok && i >= 26 {
			return nil, fmt.Errorf("%w: alphabet variant %q has %d classes", ErrInvalidModel, id, len(classes))
		}
		l := kind.label(i, classes)
		if l == "" {
			return nil, fmt.Errorf("%w: variant %q class %d has no label", ErrInvalidModel, id, i)
		}
		if seen[l] {
			return nil, fmt.Errorf("%w: variant %q repeats label %q", ErrInvalidModel, id, l)
		}
		seen[l] = true
		labels[i] = l
	}

	return &Variant{
		ID:     id,
		Kind:   kind,
		Model:  model,
		Scaler: scaler,
		labels: labels,
	}, nil
}

// Labels returns the class labels in index order.
func (v *Variant) Labels() []string {
	return v.labels
}

// Spec names a model variant to load: "id:kind:path".
type Spec struct {
	ID   string
	Kind Kind
	Path string
}

// ParseSpec parses "id:kind:path". The path may itself contain colons.
func ParseSpec(s string) (Spec, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return Spec{}, fmt.Errorf("invalid variant spec %q, want id:kind:path", s)
	}

	kind, err := ParseKind(parts[1])
	if err != nil {
		return Spec{}, fmt.Errorf("variant spec %q: %w", s, err)
	}
	return Spec{ID: parts[0], Kind: kind, Path: parts[2]}, nil
}

// Load reads the model file named by the spec.
func Load(spec Spec) (*Variant, error) {
	f, err := os.Open(spec.Path)
	if err != nil {
		return nil, fmt.Errorf("open model %s: %w", spec.ID, err)
	}
	defer f.Close()
	return read(spec, f)
}

// LoadFS reads the model file named by the spec from fsys.
func LoadFS(fsys fs.FS, spec Spec) (*Variant, error) {
	f, err := fsys.Open(spec.Path)
	if err != nil {
		return nil, fmt.Errorf("open model %s: %w", spec.ID, err)
	}
	defer f.Close()
	return read(spec, f)
}

func read(spec Spec, r io.Reader) (*Variant, error) {
	model, scaler, err := ReadModel(r)
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", spec.ID, err)
	}
	return NewVariant(spec.ID, spec.Kind, model, scaler)
}
