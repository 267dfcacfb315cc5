package store

import "math"

// similarityFloorMin is the absolute lowest similarity threshold the
// adaptive policy will retreat to. Lower values caused cross-topic
// contamination; treat anything below as a misconfiguration.
const similarityFloorMin = 0.80

// adaptiveFloors returns the thresholds to attempt in order: the requested
// floor, then (only when the request is above 0.82) one retreat to
// max(0.80, floor−0.03).
func adaptiveFloors(minSimilarity float64) []float64 {
	if minSimilarity < similarityFloorMin {
		minSimilarity = similarityFloorMin
	}
	floors := []float64{minSimilarity}
	if minSimilarity > 0.82 {
		retreat := math.Max(similarityFloorMin, minSimilarity-0.03)
		if retreat < minSimilarity {
			floors = append(floors, retreat)
		}
	}
	return floors
}

// CosineSimilarity computes the cosine similarity of two vectors. Returns 0
// for mismatched or zero-length inputs.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
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
