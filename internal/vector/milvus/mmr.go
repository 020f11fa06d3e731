package milvus

import "math"

const defaultMMRLambda = 0.5

// mmrSelect picks up to k candidate indices by maximal marginal relevance:
// each step takes the candidate maximizing
//
//	lambda*sim(query, cand) - (1-lambda)*max sim(cand, already selected)
//
// Selection order is the returned order.
func mmrSelect(query []float32, candidates [][]float32, k int, lambda float64) []int {
	if len(candidates) == 0 || k <= 0 {
		return nil
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	relevance := make([]float64, len(candidates))
	for i, c := range candidates {
		relevance[i] = cosine(query, c)
	}

	selected := make([]int, 0, k)
	remaining := make(map[int]struct{}, len(candidates))
	for i := range candidates {
		remaining[i] = struct{}{}
	}

	for len(selected) < k {
		best := -1
		bestScore := math.Inf(-1)

		for i := range remaining {
			redundancy := 0.0
			for _, s := range selected {
				if sim := cosine(candidates[i], candidates[s]); sim > redundancy {
					redundancy = sim
				}
			}
			score := lambda*relevance[i] - (1-lambda)*redundancy
			if score > bestScore {
				bestScore = score
				best = i
			}
		}

		selected = append(selected, best)
		delete(remaining, best)
	}

	return selected
}

func cosine(a, b []float32) float64 {
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
