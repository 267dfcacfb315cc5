package index

import "math"

// bm25Score computes one term's BM25 contribution for one document.
// Standard Okapi form with the non-negative IDF variant.
func bm25Score(tf, df, docLen int, avgDocLen float64, docCount int, k1, b float64) float64 {
	if tf <= 0 || df <= 0 || docCount <= 0 {
		return 0
	}
	idf := math.Log(1 + (float64(docCount)-float64(df)+0.5)/(float64(df)+0.5))
	if avgDocLen <= 0 {
		avgDocLen = 1
	}
	norm := k1*(1-b+b*float64(docLen)/avgDocLen) + float64(tf)
	return idf * float64(tf) * (k1 + 1) / norm
}

// minMaxNormalize rescales scores to [0, 1] in place. A constant score map
// normalizes to 1.
func minMaxNormalize(scores map[int64]float64) {
	if len(scores) == 0 {
		return
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range scores {
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}
	span := hi - lo
	for id, s := range scores {
		if span == 0 {
			scores[id] = 1
		} else {
			scores[id] = (s - lo) / span
		}
	}
}
