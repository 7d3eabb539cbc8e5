package chromemdb

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"

	"session-rag/internal/models"
	"session-rag/internal/vectorstore"
)

const (
	compress = false
	// ids are zero padded positions so lexical and insertion order agree
	idFormat = "%09d"
)

// VectorDBManager keeps one chromem collection per session
type VectorDBManager struct {
	db       *chromem.DB
	embedder embeddings.Embedder
	dbPath   string

	// serializes index creation and id assignment
	mu sync.Mutex
}

var _ vectorstore.Store = (*VectorDBManager)(nil)

// NewVectorDBManager opens a persistent database at dbPath, or an in-memory
// one when dbPath is empty.
func NewVectorDBManager(dbPath string, embedder embeddings.Embedder) (*VectorDBManager, error) {
	var db *chromem.DB
	var err error
	if dbPath == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %v", err)
		}
	}

	return &VectorDBManager{
		db:       db,
		embedder: embedder,
		dbPath:   dbPath,
	}, nil
}

func (m *VectorDBManager) embed(ctx context.Context, text string) ([]float32, error) {
	return m.embedder.EmbedQuery(ctx, text)
}

func (m *VectorDBManager) collection(name string) *chromem.Collection {
	return m.db.GetCollection(name, m.embed)
}

func (m *VectorDBManager) CreateIndex(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.collection(name) != nil {
		return vectorstore.ErrIndexExists
	}
	if _, err := m.db.CreateCollection(name, nil, m.embed); err != nil {
		return fmt.Errorf("failed to create collection: %v", err)
	}
	log.Debug().Str("collection", name).Str("path", m.dbPath).Msg("Created collection")
	return nil
}

func (m *VectorDBManager) IndexExists(_ context.Context, name string) (bool, error) {
	return m.collection(name) != nil, nil
}

func (m *VectorDBManager) DeleteIndex(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.collection(name) == nil {
		return vectorstore.ErrIndexNotFound
	}
	if err := m.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("failed to drop collection: %v", err)
	}
	return nil
}

// AddChunks embeds the chunks in one batch and appends them to the collection.
func (m *VectorDBManager) AddChunks(ctx context.Context, name string, chunks []models.Chunk) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := m.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.collection(name)
	if c == nil {
		return nil, vectorstore.ErrIndexNotFound
	}

	next := c.Count()
	ids := make([]string, len(chunks))
	documents := make([]chromem.Document, len(chunks))
	for i, chunk := range chunks {
		ids[i] = fmt.Sprintf(idFormat, next+i)
		documents[i] = chromem.Document{
			ID:        ids[i],
			Content:   chunk.Content,
			Metadata:  vectorstore.StringMetadata(chunk),
			Embedding: vectors[i],
		}
	}

	if err := c.AddDocuments(ctx, documents, runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("failed to add documents: %v", err)
	}
	return ids, nil
}

func (m *VectorDBManager) ListChunks(ctx context.Context, name string, limit int) ([]models.Chunk, error) {
	c := m.collection(name)
	if c == nil {
		return nil, vectorstore.ErrIndexNotFound
	}

	n := c.Count()
	if limit > 0 && n > limit {
		n = limit
	}
	chunks := make([]models.Chunk, 0, n)
	for i := 0; i < n; i++ {
		doc, err := c.GetByID(ctx, fmt.Sprintf(idFormat, i))
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, vectorstore.FromMetadata(doc.Content, doc.Metadata))
	}
	vectorstore.SortChunks(chunks)
	return chunks, nil
}

func (m *VectorDBManager) Retriever(name string, k int) schema.Retriever {
	return retriever{m: m, name: name, k: k}
}

type retriever struct {
	m    *VectorDBManager
	name string
	k    int
}

// GetRelevantDocuments returns the k chunks nearest to the query, fewer when
// the collection is smaller.
func (r retriever) GetRelevantDocuments(ctx context.Context, query string) ([]schema.Document, error) {
	c := r.m.collection(r.name)
	if c == nil {
		return nil, vectorstore.ErrIndexNotFound
	}

	n := min(r.k, c.Count())
	if n <= 0 {
		return nil, nil
	}

	queryEmbedding, err := r.m.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	results, err := c.QueryEmbedding(ctx, queryEmbedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %v", err)
	}

	chunks := make([]models.Chunk, len(results))
	for i, res := range results {
		chunks[i] = vectorstore.FromMetadata(res.Content, res.Metadata)
	}
	docs := vectorstore.ToDocuments(chunks)
	for i, res := range results {
		docs[i].Score = res.Similarity
	}
	return docs, nil
}
