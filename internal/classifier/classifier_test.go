package classifier

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/gestalyze/internal/hand"
)

func syntheticWeights(classes int) ([][]float64, []float64) {
	weights := make([][]float64, classes)
	bias := make([]float64, classes)
	for c := range weights {
		weights[c] = make([]float64, NumFeatures)
		for j := range weights[c] {
			weights[c][j] = math.Sin(float64((c + 1) * (j + 3)))
		}
		bias[c] = 0.1 * float64(c%3)
	}
	return weights, bias
}

func onlineVariant(t *testing.T) *Variant {
	t.Helper()
	weights, bias := syntheticWeights(26)
	m, err := NewLinearModel(nil, weights, bias)
	require.NoError(t, err)
	v, err := NewVariant("online", Alphabet{}, m, nil)
	require.NoError(t, err)
	return v
}

func customVariant(t *testing.T) *Variant {
	t.Helper()
	classes := []string{"A", "B", "C", "D", "L", "V", "W", "Y"}
	weights, bias := syntheticWeights(len(classes))
	m, err := NewLinearModel(classes, weights, bias)
	require.NoError(t, err)

	scaler := &Scaler{Mean: make([]float64, NumFeatures), Scale: make([]float64, NumFeatures)}
	for i := range scaler.Mean {
		scaler.Mean[i] = 0.5
		scaler.Scale[i] = 0.25
	}
	v, err := NewVariant("custom", Labeled{}, m, scaler)
	require.NoError(t, err)
	return v
}

func newAdapter(t *testing.T, active string) *Adapter {
	t.Helper()
	a, err := NewAdapter([]*Variant{customVariant(t), onlineVariant(t)}, active)
	require.NoError(t, err)
	return a
}

func TestFeatures_Order(t *testing.T) {
	var points [hand.NumLandmarks]hand.Point
	for i := range points {
		points[i] = hand.Point{X: float64(i), Y: 100 + float64(i), Z: -1}
	}

	f := Features(&points)
	require.Len(t, f, NumFeatures)
	for i := 0; i < hand.NumLandmarks; i++ {
		assert.Equal(t, float64(i), f[2*i], "x of landmark %d", i)
		assert.Equal(t, 100+float64(i), f[2*i+1], "y of landmark %d", i)
	}

	back, err := Points(f)
	require.NoError(t, err)
	for i := range back {
		assert.Equal(t, points[i].X, back[i].X)
		assert.Equal(t, points[i].Y, back[i].Y)
	}
	assert.Equal(t, f, Features(&back))

	_, err = Points(f[:40])
	assert.Error(t, err)
}

func TestAdapter_ProbabilitiesSumToOne(t *testing.T) {
	poses := map[string]hand.Observation{
		"open palm": hand.OpenPalm("Left"),
		"fist":      hand.Fist("Right"),
		"peace":     hand.Peace("Left"),
		"three":     hand.ThreeFingers("Right"),
	}

	for _, id := range []string{"custom", "online"} {
		a := newAdapter(t, id)
		v, _ := a.Variant(id)

		for name, obs := range poses {
			t.Run(id+"/"+name, func(t *testing.T) {
				probs, err := a.PredictProba(&obs.Points)
				require.NoError(t, err)
				assert.Len(t, probs, len(v.Labels()))

				sum := 0.0
				for _, p := range probs {
					assert.GreaterOrEqual(t, p, 0.0)
					sum += p
				}
				assert.InDelta(t, 1.0, sum, 1e-6)
			})
		}
	}
}

func TestAdapter_PredictMatchesArgmax(t *testing.T) {
	a := newAdapter(t, "online")
	obs := hand.Peace("Left")

	letter, err := a.Predict(&obs.Points)
	require.NoError(t, err)
	probs, err := a.PredictProba(&obs.Points)
	require.NoError(t, err)

	for l, p := range probs {
		assert.LessOrEqual(t, p, probs[letter], "label %s beats predicted %s", l, letter)
	}
	assert.Len(t, letter, 1)
	assert.True(t, letter >= "A" && letter <= "Z")
}

// A model that only looks at the x of landmarks 0 and 5 must notice when they trade places.
func TestAdapter_SwappedLandmarksChangePrediction(t *testing.T) {
	weights := [][]float64{make([]float64, NumFeatures), make([]float64, NumFeatures)}
	weights[0][2*hand.Wrist] = 10
	weights[1][2*hand.IndexMCP] = 10
	m, err := NewLinearModel(nil, weights, []float64{0, 0})
	require.NoError(t, err)
	v, err := NewVariant("probe", Alphabet{}, m, nil)
	require.NoError(t, err)
	a, err := NewAdapter([]*Variant{v}, "probe")
	require.NoError(t, err)

	var points [hand.NumLandmarks]hand.Point
	points[hand.Wrist] = hand.Point{X: 0.9, Y: 0.8}
	points[hand.IndexMCP] = hand.Point{X: 0.1, Y: 0.6}

	before, err := a.Predict(&points)
	require.NoError(t, err)

	points[hand.Wrist], points[hand.IndexMCP] = points[hand.IndexMCP], points[hand.Wrist]
	after, err := a.Predict(&points)
	require.NoError(t, err)

	assert.Equal(t, "A", before)
	assert.Equal(t, "B", after)
}

func TestAdapter_Switch(t *testing.T) {
	a := newAdapter(t, "custom")
	assert.Equal(t, "custom", a.Active())
	assert.Equal(t, []string{"custom", "online"}, a.Variants())

	require.NoError(t, a.Switch("online"))
	assert.Equal(t, "online", a.Active())

	obs := hand.OpenPalm("Left")
	p, err := a.Classify(&obs.Points)
	require.NoError(t, err)
	assert.Equal(t, "online", p.Variant)
	assert.Len(t, p.Probabilities, 26)

	err = a.Switch("missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownVariant))

	var uv *UnknownVariantError
	require.True(t, errors.As(err, &uv))
	assert.Equal(t, "missing", uv.ID)
	assert.Equal(t, "online", a.Active(), "failed switch must keep the active variant")
}

func TestNewAdapter_Errors(t *testing.T) {
	_, err := NewAdapter([]*Variant{onlineVariant(t)}, "custom")
	assert.ErrorIs(t, err, ErrUnknownVariant)

	_, err = NewAdapter([]*Variant{onlineVariant(t), onlineVariant(t)}, "online")
	assert.Error(t, err)
}

func TestAdapter_ConcurrentSwitchAndClassify(t *testing.T) {
	a := newAdapter(t, "custom")
	obs := hand.ThreeFingers("Left")
	custom, _ := a.Variant("custom")

	var wg sync.WaitGroup
	errs := make(chan error, 8)

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				p, err := a.Classify(&obs.Points)
				if err != nil {
					errs <- err
					return
				}
				want := 26
				if p.Variant == "custom" {
					want = len(custom.Labels())
				}
				if len(p.Probabilities) != want {
					errs <- errors.New("prediction mixed two variants")
					return
				}
				if _, ok := p.Probabilities[p.Letter]; !ok {
					errs <- errors.New("letter missing from its own distribution")
					return
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		ids := []string{"online", "custom"}
		for j := 0; j < 500; j++ {
			if err := a.Switch(ids[j%2]); err != nil {
				errs <- err
				return
			}
		}
	}()

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestParseSpec(t *testing.T) {
	tests := []struct {
		in       string
		wantID   string
		wantKind string
		wantPath string
		wantErr  bool
	}{
		{in: "online:alphabet:models/online.json", wantID: "online", wantKind: "alphabet", wantPath: "models/online.json"},
		{in: " custom:LABELED:C:/models/custom.json ", wantID: "custom", wantKind: "labeled", wantPath: "C:/models/custom.json"},
		{in: "online:alphabet", wantErr: true},
		{in: ":alphabet:x.json", wantErr: true},
		{in: "x:forest:x.json", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			spec, err := ParseSpec(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, spec.ID)
			assert.Equal(t, tt.wantKind, spec.Kind.Name())
			assert.Equal(t, tt.wantPath, spec.Path)
		})
	}
}

func TestReadModel(t *testing.T) {
	t.Run("with scaler", func(t *testing.T) {
		doc := `{"classes":["A","B"],"weights":[` + row(1) + `,` + row(-1) + `],"bias":[0,0],` +
			`"scaler":{"mean":` + row(0.5) + `,"scale":` + row(2) + `}}`

		m, s, err := ReadModel(strings.NewReader(doc))
		require.NoError(t, err)
		require.NotNil(t, s)
		assert.Equal(t, []string{"A", "B"}, m.Classes())

		f := make([]float64, NumFeatures)
		for i := range f {
			f[i] = 1.5
		}
		scaled := s.Transform(f)
		assert.InDelta(t, 0.5, scaled[0], 1e-12)
		assert.Equal(t, 1.5, f[0], "Transform must not modify its input")
	})

	t.Run("without scaler", func(t *testing.T) {
		doc := `{"weights":[` + row(1) + `],"bias":[0]}`
		_, s, err := ReadModel(strings.NewReader(doc))
		require.NoError(t, err)
		assert.Nil(t, s)
	})

	invalid := map[string]string{
		"not json":       `{`,
		"no classes":     `{"weights":[],"bias":[]}`,
		"short row":      `{"weights":[[1,2]],"bias":[0]}`,
		"bias mismatch":  `{"weights":[` + row(1) + `],"bias":[0,1]}`,
		"zero scale":     `{"weights":[` + row(1) + `],"bias":[0],"scaler":{"mean":` + row(0) + `,"scale":` + row(0) + `}}`,
		"class mismatch": `{"classes":["A","B"],"weights":[` + row(1) + `],"bias":[0]}`,
		"short scaler":   `{"weights":[` + row(1) + `],"bias":[0],"scaler":{"mean":[0],"scale":[1]}}`,
	}
	for name, doc := range invalid {
		t.Run(name, func(t *testing.T) {
			_, _, err := ReadModel(strings.NewReader(doc))
			assert.ErrorIs(t, err, ErrInvalidModel)
		})
	}
}

func TestNewVariant_Labels(t *testing.T) {
	weights, bias := syntheticWeights(3)

	m, err := NewLinearModel([]string{"X", "", "Z"}, weights, bias)
	require.NoError(t, err)
	_, err = NewVariant("bad", Labeled{}, m, nil)
	assert.ErrorIs(t, err, ErrInvalidModel)

	v, err := NewVariant("alpha", Alphabet{}, m, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, v.Labels())

	weights, bias = syntheticWeights(27)
	m, err = NewLinearModel(nil, weights, bias)
	require.NoError(t, err)
	_, err = NewVariant("too-many", Alphabet{}, m, nil)
	assert.ErrorIs(t, err, ErrInvalidModel)
}

func row(v float64) string {
	parts := make([]string, NumFeatures)
	for i := range parts {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
