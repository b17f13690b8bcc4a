package cache

import (
	"encoding/json"
	"io"
	"math/bits"
	"math/rand"

	"github.com/pkg/errors"
)

// Permutations is the fixed set of station orders the cache sorts its entries
// under. Position 0 of an order is the most significant bit.
type Permutations struct {
	orders [][]uint
	// ranks[k][i] is the position of universe index i in orders[k]
	ranks [][]uint
}

func NewPermutations(orders [][]int) (*Permutations, error) {
	if len(orders) == 0 {
		return nil, errors.New("at least one permutation is required")
	}
	size := len(orders[0])
	p := &Permutations{}
	for k, order := range orders {
		if len(order) != size {
			return nil, errors.Errorf("permutation %d has %d positions, want %d", k, len(order), size)
		}
		o := make([]uint, size)
		r := make([]uint, size)
		seen := make([]bool, size)
		for pos, i := range order {
			if i < 0 || i >= size || seen[i] {
				return nil, errors.Errorf("permutation %d is not a permutation of [0, %d)", k, size)
			}
			seen[i] = true
			o[pos] = uint(i)
			r[i] = uint(pos)
		}
		p.orders = append(p.orders, o)
		p.ranks = append(p.ranks, r)
	}
	return p, nil
}

// RandomPermutations returns k orders over size positions. The first is the
// identity; the rest are drawn from seed.
func RandomPermutations(size, k int, seed int64) *Permutations {
	rng := rand.New(rand.NewSource(seed))
	orders := make([][]int, k)
	for i := range orders {
		if i == 0 {
			orders[i] = make([]int, size)
			for j := range size {
				orders[i][j] = j
			}
			continue
		}
		orders[i] = rng.Perm(size)
	}
	p, err := NewPermutations(orders)
	if err != nil {
		panic(err)
	}
	return p
}

// ReadPermutations decodes a JSON array of orders.
func ReadPermutations(r io.Reader) (*Permutations, error) {
	var orders [][]int
	if err := json.NewDecoder(r).Decode(&orders); err != nil {
		return nil, errors.Wrap(err, "decoding permutations")
	}
	return NewPermutations(orders)
}

func (p *Permutations) Len() int {
	return len(p.orders)
}

func (p *Permutations) Size() int {
	return len(p.orders[0])
}

// compare orders a and b under permutation k: the differing bit that comes
// first in the order decides, and the vector holding it is larger.
func (p *Permutations) compare(k int, a, b BitVector) int {
	ranks := p.ranks[k]
	aw, bw := a.bits.Bytes(), b.bits.Bytes()
	best, bestRank := uint(0), ^uint(0)
	for w := range aw {
		x := aw[w] ^ bw[w]
		for x != 0 {
			i := uint(w*64 + bits.TrailingZeros64(x))
			if r := ranks[i]; r < bestRank {
				best, bestRank = i, r
			}
			x &= x - 1
		}
	}
	if bestRank == ^uint(0) {
		return 0
	}
	if a.bits.Test(best) {
		return 1
	}
	return -1
}
