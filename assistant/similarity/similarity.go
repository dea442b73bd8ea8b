// Package similarity implements cosine similarity ranking over embedding
// vectors and a small scoped in-memory index built on it.
package similarity

import (
	"sort"

	"gonum.org/v1/gonum/floats"
)

const (
	// DefaultTopK is the number of matches returned when callers have no preference.
	DefaultTopK = 5
	// DefaultThreshold is the minimum score a match must reach.
	DefaultThreshold = 0.7
)

// Record pairs a vector with an opaque payload.
type Record[T any] struct {
	Vector  []float64
	Payload T
}

// Match is a ranked result. It carries the payload and score, never the vector.
type Match[T any] struct {
	Score   float64
	Payload T
}

// CosineSimilarity returns dot(a,b)/(|a||b|). Vectors of different length or
// with a zero norm score 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}

// TopKSimilar scores every item against query, drops those below threshold,
// and returns at most k matches in descending score order. Ties keep input
// order.
func TopKSimilar[T any](query []float64, items []Record[T], k int, threshold float64) []Match[T] {
	if k <= 0 || len(items) == 0 {
		return []Match[T]{}
	}

	matches := make([]Match[T], 0, len(items))
	for _, item := range items {
		score := CosineSimilarity(query, item.Vector)
		if score < threshold {
			continue
		}
		matches = append(matches, Match[T]{Score: score, Payload: item.Payload})
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// FromFloat32 widens a provider embedding.
func FromFloat32(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
