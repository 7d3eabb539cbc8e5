package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// Hashing is an offline embedder using the hashing trick over lowercase word
// tokens. Vectors are L2-normalized. It needs no model server and is meant for
// local development and tests.
type Hashing struct {
	dim int
}

func NewHashingEmbedder(dim int) *Hashing {
	return &Hashing{dim: dim}
}

func (h *Hashing) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		v, err := h.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, v)
	}
	return vectors, nil
}

func (h *Hashing) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v := make([]float32, h.dim)
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		f := fnv.New32a()
		_, _ = f.Write([]byte(tok))
		v[int(f.Sum32())%h.dim]++
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	// empty text still needs a unit vector for cosine search
	if norm == 0 {
		v[0] = 1
		return v, nil
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v, nil
}
