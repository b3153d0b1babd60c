// Package embed defines the embedding capability injected into analyses that
// want semantic similarity. The engine behind it is an external collaborator;
// this package only carries vectors across the boundary.
//
// Components receive an Embedder by injection at construction, never via a
// package-level singleton, so tests can substitute a fake and a process can
// run without any embedding engine at all.
package embed

import (
	"context"
	"math"
)

// Embedder produces a vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Cosine returns the cosine similarity of two vectors, or 0 when either has
// zero norm or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
