package vectorindex

import (
	"container/heap"
	"math"
)

// noMatch pads a flat scan when k exceeds the stored row count.
const noMatch = -1

type hit struct {
	id    int
	score float32
}

// worse reports whether a ranks below b: lower score, or the larger id on a
// tie.
func worse(a, b hit) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	return a.id > b.id
}

// hitHeap is a min-heap on rank, so the root is the weakest kept hit.
type hitHeap []hit

func (h hitHeap) Len() int           { return len(h) }
func (h hitHeap) Less(i, j int) bool { return worse(h[i], h[j]) }
func (h hitHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *hitHeap) Push(x any) {
	*h = append(*h, x.(hit))
}

func (h *hitHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// flatSearch scores every row of data (rows of width dim) against q by inner
// product and returns exactly k hits, best first. Slots past the row count
// carry noMatch.
func flatSearch(data []float32, dim int, q []float32, k int) []hit {
	rows := len(data) / dim
	h := make(hitHeap, 0, min(k, rows)+1)
	for id := 0; id < rows; id++ {
		row := data[id*dim : (id+1)*dim]
		var dot float32
		for i, v := range row {
			dot += v * q[i]
		}
		if math.IsNaN(float64(dot)) {
			continue
		}
		c := hit{id: id, score: dot}
		if h.Len() < k {
			heap.Push(&h, c)
			continue
		}
		if worse(h[0], c) {
			h[0] = c
			heap.Fix(&h, 0)
		}
	}
	out := make([]hit, k)
	n := h.Len()
	for i := n - 1; i >= 0; i-- {
		out[i] = heap.Pop(&h).(hit)
	}
	for i := n; i < k; i++ {
		out[i] = hit{id: noMatch, score: float32(math.Inf(-1))}
	}
	return out
}

// Normalize scales v to unit L2 norm in place. The zero vector is left as is.
// Stored rows and queries both go through here so inner product equals cosine.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
