package nn

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"beyondgd/internal/data"
	"beyondgd/internal/evo"
	"beyondgd/internal/model"
)

const KindMLP = "mlp"

var ErrInvalidConfig = errors.New("invalid network config")

type Config struct {
	Inputs     int
	Hidden     []int
	Outputs    int
	Activation string
	// Dropout is the drop probability on hidden activations in training mode.
	Dropout float64
}

func (c Config) validate() error {
	if c.Inputs <= 0 || c.Outputs <= 0 {
		return fmt.Errorf("%w: inputs=%d outputs=%d", ErrInvalidConfig, c.Inputs, c.Outputs)
	}
	for i, h := range c.Hidden {
		if h <= 0 {
			return fmt.Errorf("%w: hidden layer %d has width %d", ErrInvalidConfig, i, h)
		}
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("%w: dropout=%v", ErrInvalidConfig, c.Dropout)
	}
	return nil
}

func (c Config) Architecture() model.Architecture {
	return model.Architecture{
		Kind:       KindMLP,
		Inputs:     c.Inputs,
		Hidden:     append([]int(nil), c.Hidden...),
		Outputs:    c.Outputs,
		Activation: c.Activation,
		Dropout:    c.Dropout,
	}
}

// MLP is a dense softmax classifier. Hidden layers use the configured
// activation, the output layer is linear.
type MLP struct {
	id  string
	cfg Config
	act Activation

	weights []*mat.Dense // in x out
	biases  []*mat.Dense // 1 x out
	params  []*mat.Dense

	training bool
	rng      *rand.Rand
}

var (
	_ evo.Entity         = (*MLP)(nil)
	_ evo.Differentiable = (*MLP)(nil)
)

// NewMLP builds a network with Glorot-uniform weights and zero biases.
func NewMLP(id string, cfg Config, rng *rand.Rand) (*MLP, error) {
	if rng == nil {
		return nil, errors.New("random source is required")
	}
	m, err := newShell(id, cfg, rand.New(rand.NewSource(rng.Int63())))
	if err != nil {
		return nil, err
	}
	sizes := m.layerSizes()
	for l := 0; l+1 < len(sizes); l++ {
		limit := math.Sqrt(6 / float64(sizes[l]+sizes[l+1]))
		raw := m.weights[l].RawMatrix().Data
		for i := range raw {
			raw[i] = (rng.Float64()*2 - 1) * limit
		}
	}
	return m, nil
}

// newShell allocates zeroed tensors for cfg.
func newShell(id string, cfg Config, rng *rand.Rand) (*MLP, error) {
	if cfg.Activation == "" {
		cfg.Activation = "tanh"
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	act, err := GetActivation(cfg.Activation)
	if err != nil {
		return nil, err
	}
	cfg.Hidden = append([]int(nil), cfg.Hidden...)

	m := &MLP{id: id, cfg: cfg, act: act, rng: rng}
	sizes := m.layerSizes()
	for l := 0; l+1 < len(sizes); l++ {
		w := mat.NewDense(sizes[l], sizes[l+1], nil)
		b := mat.NewDense(1, sizes[l+1], nil)
		m.weights = append(m.weights, w)
		m.biases = append(m.biases, b)
		m.params = append(m.params, w, b)
	}
	return m, nil
}

func (m *MLP) layerSizes() []int {
	sizes := make([]int, 0, len(m.cfg.Hidden)+2)
	sizes = append(sizes, m.cfg.Inputs)
	sizes = append(sizes, m.cfg.Hidden...)
	return append(sizes, m.cfg.Outputs)
}

func (m *MLP) ID() string { return m.id }

func (m *MLP) Config() Config { return m.cfg }

// Parameters lists tensors as [W0, b0, W1, b1, ...].
func (m *MLP) Parameters() []*mat.Dense { return m.params }

func (m *MLP) SetTraining(on bool) { m.training = on }

func (m *MLP) Training() bool { return m.training }

// Clone deep-copies the network. The copy's dropout source is seeded from
// the receiver's, so Clone must not race with other calls on m.
func (m *MLP) Clone(id string) evo.Entity {
	c, err := newShell(id, m.cfg, rand.New(rand.NewSource(m.rng.Int63())))
	if err != nil {
		panic(fmt.Sprintf("clone of validated network %s: %v", m.id, err))
	}
	for i, p := range m.params {
		c.params[i].Copy(p)
	}
	c.training = m.training
	return c
}

// pass holds per-layer intermediates of one forward pass.
type pass struct {
	inputs []*mat.Dense // input of layer l (post dropout)
	pre    []*mat.Dense // pre-activation of hidden layer l
	post   []*mat.Dense // activation of hidden layer l before dropout
	masks  []*mat.Dense // dropout scale of hidden layer l, nil when off
	logits *mat.Dense
}

func (m *MLP) forward(x *mat.Dense, dropout bool) (*pass, error) {
	rows, cols := x.Dims()
	if cols != m.cfg.Inputs {
		return nil, fmt.Errorf("%w: input has %d features, network expects %d", evo.ErrShapeMismatch, cols, m.cfg.Inputs)
	}
	keep := 1 - m.cfg.Dropout
	p := &pass{}
	a := x
	last := len(m.weights) - 1
	for l, w := range m.weights {
		p.inputs = append(p.inputs, a)
		var z mat.Dense
		z.Mul(a, w)
		bias := m.biases[l].RawRowView(0)
		for r := 0; r < rows; r++ {
			row := z.RawRowView(r)
			for j := range row {
				row[j] += bias[j]
			}
		}
		if l == last {
			p.logits = &z
			break
		}

		_, width := z.Dims()
		act := mat.NewDense(rows, width, nil)
		act.Apply(func(i, j int, v float64) float64 { return m.act.Func(v) }, &z)
		p.pre = append(p.pre, &z)
		p.post = append(p.post, act)

		if !dropout || m.cfg.Dropout == 0 {
			p.masks = append(p.masks, nil)
			a = act
			continue
		}
		mask := mat.NewDense(rows, width, nil)
		raw := mask.RawMatrix().Data
		for i := range raw {
			if m.rng.Float64() < keep {
				raw[i] = 1 / keep
			}
		}
		dropped := mat.NewDense(rows, width, nil)
		dropped.MulElem(act, mask)
		p.masks = append(p.masks, mask)
		a = dropped
	}
	return p, nil
}

// softmax returns row-wise probabilities of logits.
func softmax(logits *mat.Dense) *mat.Dense {
	rows, cols := logits.Dims()
	out := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		in := logits.RawRowView(r)
		dst := out.RawRowView(r)
		peak := in[0]
		for _, v := range in[1:] {
			peak = math.Max(peak, v)
		}
		sum := 0.0
		for j, v := range in {
			dst[j] = math.Exp(v - peak)
			sum += dst[j]
		}
		for j := range dst {
			dst[j] /= sum
		}
	}
	return out
}

func (m *MLP) checkLabels(batch data.Batch) error {
	rows, _ := batch.X.Dims()
	if rows != len(batch.Y) {
		return fmt.Errorf("%w: %d rows, %d labels", evo.ErrShapeMismatch, rows, len(batch.Y))
	}
	for i, y := range batch.Y {
		if y < 0 || y >= m.cfg.Outputs {
			return fmt.Errorf("label %d at row %d outside [0,%d)", y, i, m.cfg.Outputs)
		}
	}
	return nil
}

// Loss returns the mean softmax cross-entropy on batch. With WithGrad it
// also returns gradients aligned with Parameters. Dropout is active only
// in training mode.
func (m *MLP) Loss(batch data.Batch, mode evo.GradMode) (float64, []*mat.Dense, error) {
	if batch.Len() == 0 {
		return 0, nil, data.ErrEmptyDataset
	}
	if err := m.checkLabels(batch); err != nil {
		return 0, nil, err
	}
	p, err := m.forward(batch.X, m.training)
	if err != nil {
		return 0, nil, err
	}

	probs := softmax(p.logits)
	n := float64(len(batch.Y))
	loss := 0.0
	for r, y := range batch.Y {
		loss -= math.Log(math.Max(probs.At(r, y), 1e-12))
	}
	loss /= n
	if mode == evo.NoGrad {
		return loss, nil, nil
	}

	// dL/dlogits = (softmax - onehot) / n
	delta := probs
	for r, y := range batch.Y {
		delta.Set(r, y, delta.At(r, y)-1)
	}
	delta.Scale(1/n, delta)

	grads := make([]*mat.Dense, len(m.params))
	for l := len(m.weights) - 1; l >= 0; l-- {
		in := p.inputs[l]
		_, width := delta.Dims()

		gw := mat.NewDense(m.weights[l].RawMatrix().Rows, width, nil)
		gw.Mul(in.T(), delta)
		gb := mat.NewDense(1, width, nil)
		sums := gb.RawRowView(0)
		rows, _ := delta.Dims()
		for r := 0; r < rows; r++ {
			for j, v := range delta.RawRowView(r) {
				sums[j] += v
			}
		}
		grads[2*l] = gw
		grads[2*l+1] = gb

		if l == 0 {
			break
		}
		var upstream mat.Dense
		upstream.Mul(delta, m.weights[l].T())
		h := l - 1
		if mask := p.masks[h]; mask != nil {
			upstream.MulElem(&upstream, mask)
		}
		pre, post := p.pre[h], p.post[h]
		upstream.Apply(func(i, j int, v float64) float64 {
			return v * m.act.Derivative(pre.At(i, j), post.At(i, j))
		}, &upstream)
		delta = &upstream
	}
	return loss, grads, nil
}

// Predict returns the arg-max class of every row of x.
func (m *MLP) Predict(x *mat.Dense) ([]int, error) {
	p, err := m.forward(x, false)
	if err != nil {
		return nil, err
	}
	rows, _ := p.logits.Dims()
	out := make([]int, rows)
	for r := 0; r < rows; r++ {
		row := p.logits.RawRowView(r)
		best := 0
		for j, v := range row {
			if v > row[best] {
				best = j
			}
		}
		out[r] = best
	}
	return out, nil
}

func (m *MLP) correct(batch data.Batch) (int, error) {
	if err := m.checkLabels(batch); err != nil {
		return 0, err
	}
	pred, err := m.Predict(batch.X)
	if err != nil {
		return 0, err
	}
	hits := 0
	for i, y := range batch.Y {
		if pred[i] == y {
			hits++
		}
	}
	return hits, nil
}

// Accuracy is the fraction of batch rows classified correctly. An empty
// batch scores 0.
func (m *MLP) Accuracy(batch data.Batch) (float64, error) {
	if batch.Len() == 0 {
		return 0, nil
	}
	hits, err := m.correct(batch)
	if err != nil {
		return 0, err
	}
	return float64(hits) / float64(batch.Len()), nil
}

// Evaluate is the sample-weighted accuracy over every batch of src.
func (m *MLP) Evaluate(ctx context.Context, src data.Source) (float64, error) {
	hits, total := 0, 0
	for batch := range src.Iter(ctx) {
		if batch.Len() == 0 {
			continue
		}
		h, err := m.correct(batch)
		if err != nil {
			return 0, err
		}
		hits += h
		total += batch.Len()
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	return float64(hits) / float64(total), nil
}

// Factory builds seeded networks of one architecture.
type Factory struct {
	Config Config
}

func (f Factory) New(id string, rng *rand.Rand) (evo.Entity, error) {
	return NewMLP(id, f.Config, rng)
}

func ToRecord(m *MLP, fitness float64) model.EntityRecord {
	params := make([]model.Tensor, len(m.params))
	for i, p := range m.params {
		rows, cols := p.Dims()
		raw := make([]float64, 0, rows*cols)
		for r := 0; r < rows; r++ {
			raw = append(raw, p.RawRowView(r)...)
		}
		params[i] = model.Tensor{Rows: rows, Cols: cols, Data: raw}
	}
	return model.EntityRecord{
		VersionedRecord: model.VersionedRecord{SchemaVersion: SupportedSchemaVersion, CodecVersion: SupportedCodecVersion},
		ID:              m.id,
		Architecture:    m.cfg.Architecture(),
		Params:          params,
		Fitness:         fitness,
	}
}

// FromRecord rebuilds a network saved by ToRecord.
func FromRecord(rec model.EntityRecord, rng *rand.Rand) (*MLP, error) {
	if rec.Architecture.Kind != KindMLP {
		return nil, fmt.Errorf("%w: unsupported architecture kind %q", ErrInvalidConfig, rec.Architecture.Kind)
	}
	if rng == nil {
		return nil, errors.New("random source is required")
	}
	arch := rec.Architecture
	m, err := newShell(rec.ID, Config{
		Inputs:     arch.Inputs,
		Hidden:     arch.Hidden,
		Outputs:    arch.Outputs,
		Activation: arch.Activation,
		Dropout:    arch.Dropout,
	}, rand.New(rand.NewSource(rng.Int63())))
	if err != nil {
		return nil, err
	}
	if len(rec.Params) != len(m.params) {
		return nil, fmt.Errorf("%w: record %s has %d tensors, want %d", evo.ErrShapeMismatch, rec.ID, len(rec.Params), len(m.params))
	}
	for i, t := range rec.Params {
		rows, cols := m.params[i].Dims()
		if t.Rows != rows || t.Cols != cols || len(t.Data) != rows*cols {
			return nil, fmt.Errorf("%w: record %s tensor %d is %dx%d", evo.ErrShapeMismatch, rec.ID, i, t.Rows, t.Cols)
		}
		m.params[i].Copy(mat.NewDense(rows, cols, append([]float64(nil), t.Data...)))
	}
	return m, nil
}
