package ensemble

import (
	"math/rand"
	"sort"
)

// cartNode is one node of a classification tree. Fields are exported for gob.
type cartNode struct {
	Leaf    bool
	Prob    float64 // leaf: fraction of fraud samples that reached it
	Feature int
	Value   float64
	Left    *cartNode
	Right   *cartNode
}

// buildTree grows a binary classification tree with gini splits. Candidate
// features are subsampled at each node, random-forest style.
func buildTree(X [][]float64, y []int, rng *rand.Rand, maxDepth, minLeaf, mtry int) *cartNode {
	return growNode(X, y, rng, 0, maxDepth, minLeaf, mtry)
}

func growNode(X [][]float64, y []int, rng *rand.Rand, depth, maxDepth, minLeaf, mtry int) *cartNode {
	n := len(X)
	pos := 0
	for _, label := range y {
		pos += label
	}

	if depth >= maxDepth || n < 2*minLeaf || pos == 0 || pos == n {
		return &cartNode{Leaf: true, Prob: float64(pos) / float64(n)}
	}

	feature, value, ok := bestSplit(X, y, rng, minLeaf, mtry)
	if !ok {
		return &cartNode{Leaf: true, Prob: float64(pos) / float64(n)}
	}

	var lx, rx [][]float64
	var ly, ry []int
	for i, row := range X {
		if row[feature] < value {
			lx = append(lx, row)
			ly = append(ly, y[i])
		} else {
			rx = append(rx, row)
			ry = append(ry, y[i])
		}
	}

	return &cartNode{
		Feature: feature,
		Value:   value,
		Left:    growNode(lx, ly, rng, depth+1, maxDepth, minLeaf, mtry),
		Right:   growNode(rx, ry, rng, depth+1, maxDepth, minLeaf, mtry),
	}
}

// bestSplit searches a random feature subset for the split minimizing
// weighted gini impurity. Split candidates are midpoints between adjacent
// distinct values.
func bestSplit(X [][]float64, y []int, rng *rand.Rand, minLeaf, mtry int) (feature int, value float64, ok bool) {
	nFeatures := len(X[0])
	perm := rng.Perm(nFeatures)
	if mtry < len(perm) {
		perm = perm[:mtry]
	}

	bestGini := 2.0
	for _, f := range perm {
		vals := make([]float64, len(X))
		for i, row := range X {
			vals[i] = row[f]
		}
		sort.Float64s(vals)

		for i := 1; i < len(vals); i++ {
			if vals[i] == vals[i-1] {
				continue
			}
			cut := (vals[i] + vals[i-1]) / 2

			var ln, lp, rn, rp int
			for j, row := range X {
				if row[f] < cut {
					ln++
					lp += y[j]
				} else {
					rn++
					rp += y[j]
				}
			}
			if ln < minLeaf || rn < minLeaf {
				continue
			}

			g := weightedGini(ln, lp, rn, rp)
			if g < bestGini {
				bestGini = g
				feature = f
				value = cut
				ok = true
			}
		}
	}
	return feature, value, ok
}

func weightedGini(ln, lp, rn, rp int) float64 {
	total := float64(ln + rn)
	return float64(ln)/total*gini(ln, lp) + float64(rn)/total*gini(rn, rp)
}

func gini(n, pos int) float64 {
	if n == 0 {
		return 0
	}
	p := float64(pos) / float64(n)
	return 2 * p * (1 - p)
}

// predictTree walks a sample to a leaf probability.
func predictTree(root *cartNode, x []float64) float64 {
	node := root
	for !node.Leaf {
		if x[node.Feature] < node.Value {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return node.Prob
}
