package indexer

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder is a deterministic, offline embedder. It hashes word tokens and
// character trigrams into a fixed number of buckets and L2-normalizes the result.
// Useful for tests and for running without an embedding provider.
type HashEmbedder struct {
	dimension int
	maxBatch  int
}

// NewHashEmbedder creates a hash embedder. Dimension defaults to 256.
func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = 256
	}
	return &HashEmbedder{dimension: dimension, maxBatch: 256}
}

// Embed returns one vector per text, in input order.
func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors[i] = e.vector(t)
	}
	return vectors, nil
}

// ModelID identifies the embedding space.
func (e *HashEmbedder) ModelID() string {
	return fmt.Sprintf("hash-%d", e.dimension)
}

// Dimension returns the embedding dimension.
func (e *HashEmbedder) Dimension() int {
	return e.dimension
}

// MaxBatch returns the largest accepted batch.
func (e *HashEmbedder) MaxBatch() int {
	return e.maxBatch
}

func (e *HashEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dimension)
	for _, tok := range tokenize(text) {
		v[bucket(tok, e.dimension)] += 1
		if len(tok) >= 3 {
			for i := 0; i+3 <= len(tok); i++ {
				v[bucket("#"+tok[i:i+3], e.dimension)] += 0.25
			}
		}
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
	return v
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

func bucket(s string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(s))
	return int(h.Sum32() % uint32(n))
}

// EncodeVector encodes a float32 vector to bytes.
// Uses little-endian encoding for compatibility.
func EncodeVector(vector []float32) []byte {
	buf := new(bytes.Buffer)
	buf.Grow(4 * len(vector))
	if err := binary.Write(buf, binary.LittleEndian, vector); err != nil {
		// This should never happen with float32 slices
		panic(fmt.Sprintf("failed to encode vector: %v", err))
	}
	return buf.Bytes()
}

// DecodeVector decodes a byte slice back to a float32 vector.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid vector data length: %d", len(data))
	}

	vector := make([]float32, len(data)/4)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &vector); err != nil {
		return nil, fmt.Errorf("failed to decode vector: %w", err)
	}
	return vector, nil
}
