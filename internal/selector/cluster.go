package selector

import (
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/aristath/cryptocore/pkg/types"
)

const kMeansMaxIterations = 100

// Cluster groups symbols into k clusters over min-max normalized
// (volume, spread, depth, ATR%) features using K-means, then trims each
// cluster down to its maxMembers closest-to-centroid symbols. Seeding is
// deterministic (evenly spaced over the sorted input) rather than random,
// so repeated runs over the same universe produce the same clusters.
func Cluster(symbols []types.Symbol, k, maxMembers int) map[string]int {
	n := len(symbols)
	if n == 0 {
		return map[string]int{}
	}
	if k > n {
		k = n
	}
	if k <= 0 {
		k = 1
	}

	features := buildFeatureMatrix(symbols)
	normalizeColumns(features)

	centroids := seedCentroids(features, k)
	assignments := make([]int, n)

	for iter := 0; iter < kMeansMaxIterations; iter++ {
		changed := false
		for i, row := range features {
			best, bestDist := 0, distance(row, centroids[0])
			for c := 1; c < k; c++ {
				if d := distance(row, centroids[c]); d < bestDist {
					best, bestDist = c, d
				}
			}
			if assignments[i] != best {
				changed = true
			}
			assignments[i] = best
		}
		centroids = recomputeCentroids(features, assignments, k)
		if !changed && iter > 0 {
			break
		}
	}

	result := make(map[string]int, n)
	for i, s := range symbols {
		result[s.ID] = assignments[i]
	}
	return trimClusters(symbols, features, centroids, assignments, maxMembers, result)
}

func buildFeatureMatrix(symbols []types.Symbol) [][]float64 {
	features := make([][]float64, len(symbols))
	for i, s := range symbols {
		volume, _ := s.Volume24hUSD.Float64()
		spread, _ := s.SpreadMidPct.Float64()
		depth, _ := s.DepthTop10USD.Float64()
		atr, _ := s.ATRDailyPct.Float64()
		features[i] = []float64{volume, spread, depth, atr}
	}
	return features
}

func normalizeColumns(features [][]float64) {
	if len(features) == 0 {
		return
	}
	cols := len(features[0])
	for c := 0; c < cols; c++ {
		min, max := features[0][c], features[0][c]
		for _, row := range features {
			if row[c] < min {
				min = row[c]
			}
			if row[c] > max {
				max = row[c]
			}
		}
		span := max - min
		if span == 0 {
			continue
		}
		for _, row := range features {
			row[c] = (row[c] - min) / span
		}
	}
}

func seedCentroids(features [][]float64, k int) [][]float64 {
	n := len(features)
	centroids := make([][]float64, k)
	for i := 0; i < k; i++ {
		idx := (i * n) / k
		centroids[i] = append([]float64(nil), features[idx]...)
	}
	return centroids
}

func distance(a, b []float64) float64 {
	diff := make([]float64, len(a))
	floats.SubTo(diff, a, b)
	return floats.Norm(diff, 2)
}

func recomputeCentroids(features [][]float64, assignments []int, k int) [][]float64 {
	dims := len(features[0])
	sums := make([][]float64, k)
	counts := make([]int, k)
	for c := range sums {
		sums[c] = make([]float64, dims)
	}
	for i, row := range features {
		c := assignments[i]
		floats.Add(sums[c], row)
		counts[c]++
	}
	centroids := make([][]float64, k)
	for c := 0; c < k; c++ {
		if counts[c] == 0 {
			centroids[c] = make([]float64, dims)
			continue
		}
		centroids[c] = make([]float64, dims)
		for d := 0; d < dims; d++ {
			centroids[c][d] = sums[c][d] / float64(counts[c])
		}
	}
	return centroids
}

// trimClusters keeps only the maxMembers symbols closest to their
// cluster's centroid, dropping the rest from the returned cluster map
// (they simply have no cluster membership, i.e. are excluded from
// cluster-level breaker scoping).
func trimClusters(symbols []types.Symbol, features, centroids [][]float64, assignments []int, maxMembers int, result map[string]int) map[string]int {
	type member struct {
		id   string
		dist float64
	}
	byCluster := make(map[int][]member)
	for i, s := range symbols {
		c := assignments[i]
		byCluster[c] = append(byCluster[c], member{id: s.ID, dist: distance(features[i], centroids[c])})
	}

	trimmed := make(map[string]int, len(result))
	for c, members := range byCluster {
		sort.Slice(members, func(i, j int) bool { return members[i].dist < members[j].dist })
		limit := maxMembers
		if limit <= 0 || limit > len(members) {
			limit = len(members)
		}
		for _, m := range members[:limit] {
			trimmed[m.id] = c
		}
	}
	return trimmed
}
