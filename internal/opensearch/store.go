package opensearch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	opensearchgo "github.com/opensearch-project/opensearch-go"
	"github.com/opensearch-project/opensearch-go/opensearchapi"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
	lcopensearch "github.com/tmc/langchaingo/vectorstores/opensearch"

	"session-rag/internal/config"
	"session-rag/internal/models"
	"session-rag/internal/vectorstore"
)

// field names shared with the langchaingo opensearch store
const (
	contentField  = "content"
	vectorField   = "contentVector"
	metadataField = "metadata"
)

// Store keeps each session in its own OpenSearch k-NN index.
type Store struct {
	client    *opensearchgo.Client
	store     lcopensearch.Store
	embedder  embeddings.Embedder
	dimension int
}

var _ vectorstore.Store = (*Store)(nil)

// NewClient builds an OpenSearch client from the connection settings.
func NewClient(cfg *config.OpenSearchConfig) (*opensearchgo.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify} //nolint:gosec

	client, err := opensearchgo.NewClient(opensearchgo.Config{
		Addresses:           []string{cfg.URL()},
		Username:            cfg.Username,
		Password:            cfg.Password,
		Transport:           transport,
		CompressRequestBody: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}
	return client, nil
}

func New(client *opensearchgo.Client, embedder embeddings.Embedder, dimension int) (*Store, error) {
	store, err := lcopensearch.New(client, lcopensearch.WithEmbedder(embedder))
	if err != nil {
		return nil, err
	}
	return &Store{
		client:    client,
		store:     store,
		embedder:  embedder,
		dimension: dimension,
	}, nil
}

// indexMapping replaces the default schema with a single knn_vector field of
// the configured dimension, the chunk text and sortable metadata.
func (s *Store) indexMapping(indexMap *map[string]interface{}) {
	(*indexMap)["settings"] = map[string]interface{}{
		"index": map[string]interface{}{
			"knn": true,
		},
	}
	(*indexMap)["mappings"] = map[string]interface{}{
		"properties": map[string]interface{}{
			vectorField: map[string]interface{}{
				"type":      "knn_vector",
				"dimension": s.dimension,
			},
			contentField: map[string]interface{}{
				"type": "text",
			},
			metadataField: map[string]interface{}{
				"properties": map[string]interface{}{
					models.MetaDocumentID: map[string]interface{}{"type": "keyword"},
					models.MetaChunkIndex: map[string]interface{}{"type": "integer"},
					models.MetaIngestedAt: map[string]interface{}{"type": "long"},
					models.MetaSource:     map[string]interface{}{"type": "keyword"},
				},
			},
		},
	}
}

func (s *Store) CreateIndex(ctx context.Context, name string) error {
	res, err := s.store.CreateIndex(ctx, name, s.indexMapping)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", name, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		if strings.Contains(string(body), "resource_already_exists_exception") {
			return vectorstore.ErrIndexExists
		}
		return fmt.Errorf("failed to create index %s: %s %s", name, res.Status(), body)
	}
	log.Debug().Str("index", name).Int("dimension", s.dimension).Msg("Created index")
	return nil
}

func (s *Store) IndexExists(ctx context.Context, name string) (bool, error) {
	req := opensearchapi.IndicesExistsRequest{Index: []string{name}}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return false, fmt.Errorf("failed to check index %s: %w", name, err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("failed to check index %s: %s", name, res.Status())
	}
}

func (s *Store) DeleteIndex(ctx context.Context, name string) error {
	res, err := s.store.DeleteIndex(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to delete index %s: %w", name, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return vectorstore.ErrIndexNotFound
	}
	if res.IsError() {
		return fmt.Errorf("failed to delete index %s: %s", name, res.Status())
	}
	return nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// AddChunks embeds all chunks in one call and writes them with a single bulk
// request that refreshes the index before returning.
func (s *Store) AddChunks(ctx context.Context, name string, chunks []models.Chunk) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, lcopensearch.ErrNumberOfVectorDoesNotMatch
	}

	ids := make([]string, len(chunks))
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for i, c := range chunks {
		ids[i] = uuid.NewString()
		action := map[string]interface{}{"index": map[string]interface{}{"_id": ids[i]}}
		doc := map[string]interface{}{
			contentField:  c.Content,
			vectorField:   vectors[i],
			metadataField: vectorstore.Metadata(c),
		}
		if err := enc.Encode(action); err != nil {
			return nil, err
		}
		if err := enc.Encode(doc); err != nil {
			return nil, err
		}
	}

	req := opensearchapi.BulkRequest{
		Index:   name,
		Body:    &body,
		Refresh: "true",
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("failed to index chunks: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("failed to index chunks: %s", res.Status())
	}

	var result bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if result.Errors {
		for _, item := range result.Items {
			for _, op := range item {
				if op.Status > 299 {
					return nil, fmt.Errorf("failed to index chunk %s: %s: %s", op.ID, op.Error.Type, op.Error.Reason)
				}
			}
		}
		return nil, errors.New("failed to index chunks")
	}
	return ids, nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source struct {
				Content  string                 `json:"content"`
				Metadata map[string]interface{} `json:"metadata"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (s *Store) ListChunks(ctx context.Context, name string, limit int) ([]models.Chunk, error) {
	query := map[string]interface{}{
		"size":    limit,
		"query":   map[string]interface{}{"match_all": map[string]interface{}{}},
		"_source": []string{contentField, metadataField},
		"sort": []interface{}{
			map[string]interface{}{metadataField + "." + models.MetaIngestedAt: map[string]interface{}{"order": "asc", "unmapped_type": "long"}},
			map[string]interface{}{metadataField + "." + models.MetaChunkIndex: map[string]interface{}{"order": "asc", "unmapped_type": "integer"}},
		},
	}
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(query); err != nil {
		return nil, err
	}

	req := opensearchapi.SearchRequest{
		Index: []string{name},
		Body:  &body,
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks of %s: %w", name, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, vectorstore.ErrIndexNotFound
	}
	if res.IsError() {
		return nil, fmt.Errorf("failed to list chunks of %s: %s", name, res.Status())
	}

	dec := json.NewDecoder(res.Body)
	dec.UseNumber()
	var result searchResponse
	if err := dec.Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	chunks := make([]models.Chunk, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		chunks = append(chunks, vectorstore.FromMetadata(hit.Source.Content, hit.Source.Metadata))
	}
	vectorstore.SortChunks(chunks)
	return chunks, nil
}

// Retriever runs a k-NN search against the session index.
func (s *Store) Retriever(name string, k int) schema.Retriever {
	return vectorstores.ToRetriever(s.store, k, vectorstores.WithNameSpace(name))
}
