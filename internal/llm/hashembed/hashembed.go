// Package hashembed is an offline Embedder that projects lowercase word
// tokens into a fixed number of signed buckets (the hashing trick). It needs
// no model or network, which makes it the default for local runs and tests.
package hashembed

import (
	"context"
	"hash/fnv"
	"maps"
	"math"
	"slices"
	"strings"
	"unicode"
)

const DefaultDimension = 384

type Embedder struct {
	dim int
}

func New(dim int) *Embedder {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &Embedder{dim: dim}
}

func (e *Embedder) Dimension() int { return e.dim }

// Embed returns one unnormalized vector per text. Each token adds
// 1+log(tf) to its bucket, with the sign taken from the hash's top bit so
// collisions tend to cancel rather than accumulate. Tokens are summed in
// sorted order so colliding buckets come out bit-identical on every call.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		counts := make(map[string]int)
		for _, tok := range Tokenize(text) {
			counts[tok]++
		}
		vec := make([]float32, e.dim)
		for _, tok := range slices.Sorted(maps.Keys(counts)) {
			tf := counts[tok]
			h := fnv.New64a()
			h.Write([]byte(tok))
			sum := h.Sum64()
			w := float32(1 + math.Log(float64(tf)))
			if sum>>63 == 1 {
				w = -w
			}
			vec[sum%uint64(e.dim)] += w
		}
		out[i] = vec
	}
	return out, nil
}

// Tokenize lowercases text and splits it on anything that is not a letter
// or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
