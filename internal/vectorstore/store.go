package vectorstore

import (
	"context"
	"errors"

	"github.com/tmc/langchaingo/schema"

	"session-rag/internal/models"
)

var (
	ErrIndexExists   = errors.New("index already exists")
	ErrIndexNotFound = errors.New("index not found")
)

// Store keeps one named index per session. Implementations embed chunks
// themselves with the embedder they were built with.
type Store interface {
	// CreateIndex returns ErrIndexExists when the index is already there.
	CreateIndex(ctx context.Context, name string) error
	IndexExists(ctx context.Context, name string) (bool, error)
	// DeleteIndex returns ErrIndexNotFound for a missing index.
	DeleteIndex(ctx context.Context, name string) error
	// AddChunks embeds and stores chunks, returning their record ids. Stored
	// chunks are searchable once AddChunks returns.
	AddChunks(ctx context.Context, name string, chunks []models.Chunk) ([]string, error)
	// ListChunks returns up to limit chunks in storage order.
	ListChunks(ctx context.Context, name string, limit int) ([]models.Chunk, error)
	Retriever(name string, k int) schema.Retriever
}
