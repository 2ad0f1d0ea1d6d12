package discovery

import "math/rand"

// kmeans partitions vectors into k clusters using Euclidean distance,
// running at most maxIterations Lloyd's-algorithm steps or until
// assignments stop changing. Centroids are seeded by sampling k distinct
// points without replacement from a seeded RNG, so a fixed seed gives a
// fixed clustering for a fixed input order.
func kmeans(vectors [][]float64, k, maxIterations int, seed int64) []int {
	n := len(vectors)
	if n == 0 {
		return nil
	}
	if k > n {
		k = n
	}
	if k <= 0 {
		k = 1
	}

	rng := rand.New(rand.NewSource(seed))
	centroids := seedCentroids(vectors, k, rng)
	assignments := make([]int, n)

	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, v := range vectors {
			best := nearestCentroid(v, centroids)
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		dim := len(vectors[0])
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, v := range vectors {
			c := assignments[i]
			counts[c]++
			for d, x := range v {
				sums[c][d] += x
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			for d := range centroids[c] {
				centroids[c][d] = sums[c][d] / float64(counts[c])
			}
		}

		if iter > 0 && !changed {
			break
		}
	}

	return assignments
}

func seedCentroids(vectors [][]float64, k int, rng *rand.Rand) [][]float64 {
	idx := rng.Perm(len(vectors))[:k]
	centroids := make([][]float64, k)
	for i, vi := range idx {
		cp := make([]float64, len(vectors[vi]))
		copy(cp, vectors[vi])
		centroids[i] = cp
	}
	return centroids
}

func nearestCentroid(v []float64, centroids [][]float64) int {
	best := 0
	bestDist := euclideanDistSq(v, centroids[0])
	for c := 1; c < len(centroids); c++ {
		d := euclideanDistSq(v, centroids[c])
		if d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best
}

func euclideanDistSq(a, b []float64) float64 {
	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return sum
}
