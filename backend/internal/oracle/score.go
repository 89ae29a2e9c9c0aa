package oracle

import (
	"math"
	"sort"

	"matchmaker/backend/internal/domain"
)

// Score returns the compatibility of two personas in [0,1].
//
// It is the cosine similarity of the two trait vectors over the union of trait
// names, missing traits counting as zero. Terms are summed in sorted name order
// so Score(a, b) and Score(b, a) are bit-for-bit equal.
func Score(a, b *domain.Persona) float64 {
	if a == nil || b == nil {
		return 0
	}
	return cosine(a.Traits, b.Traits)
}

func cosine(a, b map[string]float64) float64 {
	names := make([]string, 0, len(a)+len(b))
	for name := range a {
		names = append(names, name)
	}
	for name := range b {
		if _, ok := a[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var dot, normA, normB float64
	for _, name := range names {
		va, vb := finite(a[name]), finite(b[name])
		dot += va * vb
		normA += va * va
		normB += vb * vb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return clamp01(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
