package textutil

// EditDistance returns the optimal string alignment distance between a and b:
// insertions, deletions, substitutions and transpositions of adjacent runes
// each cost one.
func EditDistance(a, b string) int {
	r1 := []rune(a)
	r2 := []rune(b)
	n, m := len(r1), len(r2)
	if n == 0 {
		return m
	}
	if m == 0 {
		return n
	}

	// Three rolling rows: two back, previous, current.
	prev2 := make([]int, m+1)
	prev := make([]int, m+1)
	curr := make([]int, m+1)
	for j := 0; j <= m; j++ {
		prev[j] = j
	}
	for i := 1; i <= n; i++ {
		curr[0] = i
		for j := 1; j <= m; j++ {
			cost := 1
			if r1[i-1] == r2[j-1] {
				cost = 0
			}
			best := min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
			if i > 1 && j > 1 && r1[i-1] == r2[j-2] && r1[i-2] == r2[j-1] {
				best = min(best, prev2[j-2]+1)
			}
			curr[j] = best
		}
		prev2, prev, curr = prev, curr, prev2
	}
	return prev[m]
}

// EditSimilarity normalizes EditDistance to [0,1], where 1 means identical.
func EditSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 1
	}
	sim := 1 - float64(EditDistance(a, b))/float64(longest)
	if sim < 0 {
		return 0
	}
	return sim
}

// Dice returns the Sørensen-Dice coefficient of two token sets. Duplicate
// tokens count once. Two empty sets score 0.
func Dice(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, token := range a {
		setA[token] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, token := range b {
		setB[token] = struct{}{}
	}
	shared := 0
	for token := range setA {
		if _, ok := setB[token]; ok {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(setA)+len(setB))
}

// Coverage returns the share of distinct tokens in query that also occur in
// target.
func Coverage(query, target []string) float64 {
	if len(query) == 0 {
		return 0
	}
	targetSet := make(map[string]struct{}, len(target))
	for _, token := range target {
		targetSet[token] = struct{}{}
	}
	seen := make(map[string]struct{}, len(query))
	covered := 0
	for _, token := range query {
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		if _, ok := targetSet[token]; ok {
			covered++
		}
	}
	return float64(covered) / float64(len(seen))
}
