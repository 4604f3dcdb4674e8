// Package ensemble provides a bagged decision tree classifier trained on a
// user's history plus synthetic fraud examples. Its output refines the
// unsupervised blend when training succeeds; training failure is expected
// for sparse or degenerate histories and callers treat it as non-fatal.
package ensemble

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Classifier is a bagging ensemble of CART trees.
type Classifier struct {
	mu sync.RWMutex

	nTrees   int
	maxDepth int
	minLeaf  int
	rng      *rand.Rand

	trees   []*cartNode
	trained bool
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithTrees sets the ensemble size.
func WithTrees(n int) Option {
	return func(c *Classifier) { c.nTrees = n }
}

// WithMaxDepth limits tree depth.
func WithMaxDepth(d int) Option {
	return func(c *Classifier) { c.maxDepth = d }
}

// WithSeed fixes the random source so fits are reproducible.
func WithSeed(seed int64) Option {
	return func(c *Classifier) { c.rng = rand.New(rand.NewSource(seed)) }
}

// New creates a Classifier with the given options.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		nTrees:   50,
		maxDepth: 6,
		minLeaf:  2,
		rng:      rand.New(rand.NewSource(42)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fit trains on labeled feature vectors, label 1 meaning fraud. Both classes
// must be present; training data too uniform to split is an error.
func (c *Classifier) Fit(X [][]float64, y []int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(X) == 0 || len(X) != len(y) {
		return fmt.Errorf("%w: bad training shape %d/%d", domain.ErrEnsembleTraining, len(X), len(y))
	}
	var pos int
	for _, label := range y {
		if label != 0 && label != 1 {
			return fmt.Errorf("%w: labels must be 0 or 1", domain.ErrEnsembleTraining)
		}
		pos += label
	}
	if pos == 0 || pos == len(y) {
		return fmt.Errorf("%w: need both classes, got %d/%d positive", domain.ErrEnsembleTraining, pos, len(y))
	}

	mtry := int(math.Ceil(math.Sqrt(float64(len(X[0])))))

	c.trees = make([]*cartNode, c.nTrees)
	for i := 0; i < c.nTrees; i++ {
		// Bootstrap resample
		bx := make([][]float64, len(X))
		by := make([]int, len(y))
		for j := range bx {
			k := c.rng.Intn(len(X))
			bx[j] = X[k]
			by[j] = y[k]
		}
		c.trees[i] = buildTree(bx, by, c.rng, c.maxDepth, c.minLeaf, mtry)
	}
	c.trained = true
	return nil
}

// PredictProb returns the averaged fraud probability across trees, in [0, 1].
func (c *Classifier) PredictProb(x []float64) (float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.trained {
		return 0, domain.ErrUntrainedModel
	}

	var sum float64
	for _, root := range c.trees {
		sum += predictTree(root, x)
	}
	return sum / float64(len(c.trees)), nil
}

// Trained reports whether Fit or Load has completed.
func (c *Classifier) Trained() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.trained
}

type classifierState struct {
	NTrees   int
	MaxDepth int
	MinLeaf  int
	Trees    []*cartNode
}

// Save serializes the trained classifier.
func (c *Classifier) Save() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.trained {
		return nil, domain.ErrUntrainedModel
	}

	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(classifierState{
		NTrees:   c.nTrees,
		MaxDepth: c.maxDepth,
		MinLeaf:  c.minLeaf,
		Trees:    c.trees,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load deserializes a trained classifier.
func (c *Classifier) Load(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var st classifierState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return err
	}
	if len(st.Trees) == 0 {
		return errors.New("classifier state has no trees")
	}

	c.nTrees = st.NTrees
	c.maxDepth = st.MaxDepth
	c.minLeaf = st.MinLeaf
	c.trees = st.Trees
	c.trained = true
	return nil
}
