package rag

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
	"github.com/tmc/langchaingo/textsplitter"
	"golang.org/x/sync/singleflight"

	"session-rag/internal/config"
	"session-rag/internal/helper"
	"session-rag/internal/models"
	"session-rag/internal/parser"
	"session-rag/internal/session"
	"session-rag/internal/vectorstore"
)

var (
	ErrIndexNotFound = vectorstore.ErrIndexNotFound
	ErrEmptyDocument = errors.New("document has no text to index")
)

// RAG owns the per-session index lifecycle and the ingest and query pipelines.
// One instance is shared by every request.
type RAG struct {
	store    vectorstore.Store
	llm      llms.Model
	registry session.Registry
	splitter textsplitter.TextSplitter
	cfg      *config.RAGConfig

	creating singleflight.Group
	now      func() time.Time

	mu         sync.Mutex
	lastIngest int64
}

func NewRAG(store vectorstore.Store, llm llms.Model, registry session.Registry, cfg *config.RAGConfig) *RAG {
	if registry == nil {
		registry = session.NewMemoryRegistry()
	}
	return &RAG{
		store:    store,
		llm:      llm,
		registry: registry,
		splitter: parser.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		cfg:      cfg,
		now:      time.Now,
	}
}

// EnsureIndex creates the session index unless it already exists. Concurrent
// calls for one token share a single create, which is not cancelled when the
// caller that started it goes away.
func (r *RAG) EnsureIndex(ctx context.Context, token string) error {
	if err := checkToken(token); err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)
	_, err, _ := r.creating.Do(token, func() (interface{}, error) {
		exists, err := r.store.IndexExists(ctx, token)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, nil
		}
		err = r.store.CreateIndex(ctx, token)
		if errors.Is(err, vectorstore.ErrIndexExists) {
			return nil, nil
		}
		return nil, err
	})
	return err
}

func (r *RAG) Exists(ctx context.Context, token string) (bool, error) {
	if err := checkToken(token); err != nil {
		return false, err
	}
	return r.store.IndexExists(ctx, token)
}

func (r *RAG) requireIndex(ctx context.Context, token string) error {
	exists, err := r.Exists(ctx, token)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, token)
	}
	return nil
}

// AddDocument splits text, embeds the chunks and appends them to the session
// index, creating it on first use. Re-adding the same text stores it again.
func (r *RAG) AddDocument(ctx context.Context, token, text, source string) (*models.IngestResult, error) {
	if err := checkToken(token); err != nil {
		return nil, err
	}
	pieces, err := parser.SplitText(r.splitter, text)
	if err != nil {
		return nil, fmt.Errorf("failed to split text: %w", err)
	}
	if len(pieces) == 0 {
		return nil, ErrEmptyDocument
	}

	if err := r.EnsureIndex(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	documentID, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	ingestedAt := r.ingestTime()
	chunks := make([]models.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = models.Chunk{
			Content:    p,
			DocumentID: documentID,
			ChunkIndex: i,
			Source:     source,
			IngestedAt: ingestedAt,
		}
	}

	ids, err := r.store.AddChunks(ctx, token, chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to store chunks: %w", err)
	}
	r.touch(ctx, token)

	log.Info().
		Str("session", token).
		Str("document_id", documentID).
		Str("source", source).
		Int("chunks", len(chunks)).
		Msg("Document indexed")

	return &models.IngestResult{
		SessionToken: token,
		DocumentID:   documentID,
		Chunks:       len(chunks),
		IDs:          ids,
	}, nil
}

// AddFile parses a local file and indexes its text. name is recorded as the
// chunk source and defaults to the path.
func (r *RAG) AddFile(ctx context.Context, token, path, name string) (*models.IngestResult, error) {
	if err := checkToken(token); err != nil {
		return nil, err
	}
	text, err := parser.ParseFile(path)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = path
	}
	return r.AddDocument(ctx, token, text, name)
}

// ViewSplitText returns the stored chunk texts of a session in storage order.
func (r *RAG) ViewSplitText(ctx context.Context, token string) ([]string, error) {
	if err := r.requireIndex(ctx, token); err != nil {
		return nil, err
	}

	chunks, err := r.store.ListChunks(ctx, token, r.cfg.ViewLimit)
	if err != nil {
		return nil, err
	}
	r.touch(ctx, token)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	return texts, nil
}

// InvokeLLM answers question from the top_k chunks of the session index.
// A non-empty basePrompt replaces the configured prompt file.
func (r *RAG) InvokeLLM(ctx context.Context, token, question, basePrompt string) (string, error) {
	if err := r.requireIndex(ctx, token); err != nil {
		return "", err
	}

	prompt, err := r.promptTemplate(basePrompt)
	if err != nil {
		return "", err
	}

	stuff := chains.NewStuffDocuments(chains.NewLLMChain(r.llm, prompt))
	stuff.Separator = models.ContextSeparator
	qa := chains.NewRetrievalQA(stuff, r.store.Retriever(token, r.cfg.TopK))
	answer, err := chains.Run(ctx, qa, question)
	if err != nil {
		return "", fmt.Errorf("failed to invoke llm: %w", err)
	}
	r.touch(ctx, token)

	log.Debug().Str("session", token).Int("answer_len", len(answer)).Msg("LLM answered")
	return answer, nil
}

// DeleteSession drops the session index and its registry entry.
func (r *RAG) DeleteSession(ctx context.Context, token string) error {
	if err := checkToken(token); err != nil {
		return err
	}
	err := r.store.DeleteIndex(ctx, token)
	if errors.Is(err, vectorstore.ErrIndexNotFound) {
		_ = r.registry.Forget(ctx, token)
		return fmt.Errorf("%w: %s", ErrIndexNotFound, token)
	}
	if err != nil {
		return err
	}
	if err := r.registry.Forget(ctx, token); err != nil {
		log.Warn().Err(err).Str("session", token).Msg("Failed to remove session from registry")
	}
	log.Info().Str("session", token).Msg("Session deleted")
	return nil
}

func (r *RAG) promptTemplate(basePrompt string) (prompts.PromptTemplate, error) {
	template := basePrompt + models.PromptTrailer
	if basePrompt == "" {
		data, err := os.ReadFile(r.cfg.PromptFilePath)
		if err != nil {
			return prompts.PromptTemplate{}, fmt.Errorf("failed to read prompt file: %w", err)
		}
		template = string(data)
	}
	return prompts.PromptTemplate{
		Template:       template,
		InputVariables: []string{"question", "context"},
		TemplateFormat: prompts.TemplateFormatFString,
	}, nil
}

// ingestTime returns a strictly increasing timestamp so documents never share
// a position in storage order.
func (r *RAG) ingestTime() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.now().UnixNano()
	if t <= r.lastIngest {
		t = r.lastIngest + 1
	}
	r.lastIngest = t
	return t
}

func (r *RAG) touch(ctx context.Context, token string) {
	if err := r.registry.Touch(ctx, token); err != nil {
		log.Warn().Err(err).Str("session", token).Msg("Failed to record session use")
	}
}
