package main

import (
	"fmt"
	"math/rand"
	"os"

	json "github.com/goccy/go-json"
)

// loadEmbeddings reads a JSON file holding an array of equal-length float
// vectors ([][]float32). Shape validation happens later, when the batch is
// built against the engine's dimensionality.
func loadEmbeddings(path string) ([][]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read embeddings file: %w", err)
	}
	var vectors [][]float32
	if err := json.Unmarshal(data, &vectors); err != nil {
		return nil, fmt.Errorf("parse embeddings file %s: %w", path, err)
	}
	return vectors, nil
}

// randomEmbeddings fills n vectors of the given dimensionality with uniform
// values in [0, 1), deterministically per seed.
func randomEmbeddings(n, dim int, seed int64) [][]float32 {
	r := rand.New(rand.NewSource(seed))
	vectors := make([][]float32, n)
	for i := range vectors {
		v := make([]float32, dim)
		for j := range v {
			v[j] = r.Float32()
		}
		vectors[i] = v
	}
	return vectors
}
