package session

import "fmt"

// Embeddings is an owned, length-checked batch of embedding vectors backed
// by a single flat buffer. Construction validates shape once; a valid
// Embeddings value can never read out of bounds.
type Embeddings struct {
	data  []float32
	count int
	dim   int
}

// NewEmbeddings copies vectors into an owned batch. All vectors must have
// the same non-zero length.
func NewEmbeddings(vectors [][]float32) (Embeddings, error) {
	if len(vectors) == 0 {
		return Embeddings{}, nil
	}
	dim := len(vectors[0])
	if dim == 0 {
		return Embeddings{}, fmt.Errorf("%w: vector 0 is empty", ErrDimensionMismatch)
	}
	data := make([]float32, 0, len(vectors)*dim)
	for i, v := range vectors {
		if len(v) != dim {
			return Embeddings{}, fmt.Errorf("%w: vector %d has length %d, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
		data = append(data, v...)
	}
	return Embeddings{data: data, count: len(vectors), dim: dim}, nil
}

// EmbeddingsFromFlat copies a flat count x dim buffer into an owned batch.
// The caller-declared count must agree exactly with the data length;
// anything else is rejected rather than truncated.
func EmbeddingsFromFlat(data []float32, count, dim int) (Embeddings, error) {
	if count < 0 || dim <= 0 {
		return Embeddings{}, fmt.Errorf("%w: count=%d dim=%d", ErrCountMismatch, count, dim)
	}
	if len(data) != count*dim {
		return Embeddings{}, fmt.Errorf("%w: %d values, want %d (count %d x dim %d)", ErrCountMismatch, len(data), count*dim, count, dim)
	}
	if count == 0 {
		return Embeddings{}, nil
	}
	owned := make([]float32, len(data))
	copy(owned, data)
	return Embeddings{data: owned, count: count, dim: dim}, nil
}

// Count is the number of vectors in the batch.
func (e Embeddings) Count() int { return e.count }

// Dim is the length of each vector, 0 for an empty batch.
func (e Embeddings) Dim() int { return e.dim }

// Vector returns the i-th vector as a view into the batch buffer.
func (e Embeddings) Vector(i int) []float32 {
	return e.data[i*e.dim : (i+1)*e.dim]
}
