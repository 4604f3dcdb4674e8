// Package anomaly implements isolation forest scoring over feature vectors.
package anomaly

import (
	"bytes"
	"encoding/gob"
	"errors"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Forest is an isolation forest. Anomalies isolate in fewer random splits
// than regular points, so short average path lengths mean high scores.
type Forest struct {
	mu sync.RWMutex

	nTrees        int
	sampleSize    int
	contamination float64
	maxDepth      int
	rng           *rand.Rand

	trees   []*treeNode
	trained bool

	// c(sampleSize), the BST unsuccessful-search normalizer
	cNorm float64

	// raw-score cutoff set from the contamination quantile at fit time
	threshold float64
}

// treeNode is one node of an isolation tree. Fields are exported for gob.
type treeNode struct {
	SplitFeature int
	SplitValue   float64
	Left         *treeNode
	Right        *treeNode
	Size         int
}

// Option configures a Forest.
type Option func(*Forest)

// WithTrees sets the ensemble size.
func WithTrees(n int) Option {
	return func(f *Forest) { f.nTrees = n }
}

// WithSampleSize sets the bootstrap sample size per tree.
func WithSampleSize(n int) Option {
	return func(f *Forest) { f.sampleSize = n }
}

// WithContamination sets the expected anomaly fraction in training data.
func WithContamination(c float64) Option {
	return func(f *Forest) { f.contamination = c }
}

// WithSeed fixes the random source so fits are reproducible.
func WithSeed(seed int64) Option {
	return func(f *Forest) { f.rng = rand.New(rand.NewSource(seed)) }
}

// New creates a Forest with the given options.
func New(opts ...Option) *Forest {
	f := &Forest{
		nTrees:        200,
		sampleSize:    256,
		contamination: 0.1,
		rng:           rand.New(rand.NewSource(42)),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fit trains the forest on scaled feature vectors.
func (f *Forest) Fit(data [][]float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(data) == 0 {
		return errors.New("empty training data")
	}

	nSamples := len(data)
	nFeatures := len(data[0])

	sampleSize := f.sampleSize
	if sampleSize > nSamples {
		sampleSize = nSamples
	}
	f.maxDepth = int(math.Ceil(math.Log2(float64(sampleSize))))

	f.trees = make([]*treeNode, f.nTrees)
	for i := 0; i < f.nTrees; i++ {
		// Bootstrap: sample with replacement
		sample := make([][]float64, sampleSize)
		for j := range sample {
			sample[j] = data[f.rng.Intn(nSamples)]
		}
		f.trees[i] = f.buildNode(sample, nFeatures, 0)
	}

	f.cNorm = averagePathLength(float64(sampleSize))
	f.trained = true

	if f.contamination > 0 {
		raws := make([]float64, nSamples)
		for i, row := range data {
			raws[i] = f.decision(row)
		}
		// Points below the threshold are the contaminated fraction.
		f.threshold = quantile(raws, f.contamination)
	}

	return nil
}

func (f *Forest) buildNode(data [][]float64, nFeatures, depth int) *treeNode {
	n := len(data)
	if depth >= f.maxDepth || n <= 1 {
		return &treeNode{Size: n}
	}

	feature := f.rng.Intn(nFeatures)

	minVal, maxVal := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		if row[feature] < minVal {
			minVal = row[feature]
		}
		if row[feature] > maxVal {
			maxVal = row[feature]
		}
	}
	if minVal == maxVal {
		return &treeNode{Size: n}
	}

	splitValue := minVal + f.rng.Float64()*(maxVal-minVal)

	var left, right [][]float64
	for _, row := range data {
		if row[feature] < splitValue {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	return &treeNode{
		SplitFeature: feature,
		SplitValue:   splitValue,
		Left:         f.buildNode(left, nFeatures, depth+1),
		Right:        f.buildNode(right, nFeatures, depth+1),
	}
}

// Score returns the normalized anomaly score in [0, 1]. Higher means more
// anomalous; regular points land below 0.5.
func (f *Forest) Score(sample []float64) (float64, error) {
	raw, err := f.DecisionFunction(sample)
	if err != nil {
		return 0, err
	}
	return clamp01(0.5 - raw), nil
}

// DecisionFunction returns the raw score 0.5 - 2^(-avgPath/c). Negative
// values indicate anomalies, mirroring the usual decision_function sign
// convention.
func (f *Forest) DecisionFunction(sample []float64) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return 0, domain.ErrUntrainedModel
	}
	return f.decision(sample), nil
}

func (f *Forest) decision(sample []float64) float64 {
	var totalPath float64
	for _, root := range f.trees {
		totalPath += pathLength(sample, root, 0)
	}
	avgPath := totalPath / float64(len(f.trees))

	s := math.Pow(2, -avgPath/f.cNorm)
	return 0.5 - s
}

// IsAnomaly reports whether the sample falls below the contamination cutoff
// learned at fit time.
func (f *Forest) IsAnomaly(sample []float64) (bool, error) {
	raw, err := f.DecisionFunction(sample)
	if err != nil {
		return false, err
	}
	return raw < f.threshold, nil
}

// Trained reports whether Fit or Load has completed.
func (f *Forest) Trained() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.trained
}

// pathLength walks a sample down one tree. Leaves add the expected
// remaining depth c(size) for the points that pooled there.
func pathLength(sample []float64, n *treeNode, depth int) float64 {
	if n.Left == nil && n.Right == nil {
		return float64(depth) + averagePathLength(float64(n.Size))
	}
	if sample[n.SplitFeature] < n.SplitValue {
		return pathLength(sample, n.Left, depth+1)
	}
	return pathLength(sample, n.Right, depth+1)
}

// averagePathLength is c(n) = 2*H(n-1) - 2*(n-1)/n with the harmonic number
// approximated via the Euler-Mascheroni constant.
func averagePathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	return 2*(math.Log(n-1)+0.5772156649) - 2*(n-1)/n
}

// forestState is the gob persistence form of a trained forest.
type forestState struct {
	NTrees        int
	SampleSize    int
	Contamination float64
	CNorm         float64
	Threshold     float64
	MaxDepth      int
	Trees         []*treeNode
}

// Save serializes the trained model.
func (f *Forest) Save() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, domain.ErrUntrainedModel
	}

	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(forestState{
		NTrees:        f.nTrees,
		SampleSize:    f.sampleSize,
		Contamination: f.contamination,
		CNorm:         f.cNorm,
		Threshold:     f.threshold,
		MaxDepth:      f.maxDepth,
		Trees:         f.trees,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load deserializes a trained model.
func (f *Forest) Load(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var st forestState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return err
	}

	f.nTrees = st.NTrees
	f.sampleSize = st.SampleSize
	f.contamination = st.Contamination
	f.cNorm = st.CNorm
	f.threshold = st.Threshold
	f.maxDepth = st.MaxDepth
	f.trees = st.Trees
	f.trained = true
	return nil
}

// quantile returns the q-quantile of data without modifying it.
func quantile(data []float64, q float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)-1) * q)
	return sorted[idx]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
