package vectorstore

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/tmc/langchaingo/schema"

	"session-rag/internal/models"
)

// Metadata returns the metadata stored next to a chunk.
func Metadata(c models.Chunk) map[string]any {
	return map[string]any{
		models.MetaDocumentID: c.DocumentID,
		models.MetaChunkIndex: c.ChunkIndex,
		models.MetaIngestedAt: c.IngestedAt,
		models.MetaSource:     c.Source,
	}
}

// StringMetadata is Metadata for stores that only keep string values.
func StringMetadata(c models.Chunk) map[string]string {
	return map[string]string{
		models.MetaDocumentID: c.DocumentID,
		models.MetaChunkIndex: strconv.Itoa(c.ChunkIndex),
		models.MetaIngestedAt: strconv.FormatInt(c.IngestedAt, 10),
		models.MetaSource:     c.Source,
	}
}

func ToDocuments(chunks []models.Chunk) []schema.Document {
	docs := make([]schema.Document, 0, len(chunks))
	for _, c := range chunks {
		docs = append(docs, schema.Document{
			PageContent: c.Content,
			Metadata:    Metadata(c),
		})
	}
	return docs
}

// FromMetadata rebuilds a chunk from its content and stored metadata.
func FromMetadata[V any](content string, meta map[string]V) models.Chunk {
	c := models.Chunk{Content: content}
	if v, ok := meta[models.MetaDocumentID]; ok {
		c.DocumentID = toString(v)
	}
	if v, ok := meta[models.MetaSource]; ok {
		c.Source = toString(v)
	}
	if v, ok := meta[models.MetaChunkIndex]; ok {
		c.ChunkIndex = int(toInt(v))
	}
	if v, ok := meta[models.MetaIngestedAt]; ok {
		c.IngestedAt = toInt(v)
	}
	return c
}

// SortChunks orders chunks by ingestion time, then by position in their document.
func SortChunks(chunks []models.Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].IngestedAt != chunks[j].IngestedAt {
			return chunks[i].IngestedAt < chunks[j].IngestedAt
		}
		return chunks[i].ChunkIndex < chunks[j].ChunkIndex
	})
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		b, _ := json.Marshal(s)
		return string(b)
	}
}

func toInt(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, _ := n.Float64()
			return int64(f)
		}
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}
