package opensearch

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"session-rag/internal/config"
	"session-rag/internal/embedding"
	"session-rag/internal/models"
	"session-rag/internal/vectorstore"
)

// fakeOpenSearch implements the handful of endpoints the store talks to.
type fakeOpenSearch struct {
	mu       sync.Mutex
	indices  map[string][]map[string]interface{}
	mappings map[string]interface{}
	bulkURLs []string
}

func newFakeOpenSearch() *fakeOpenSearch {
	return &fakeOpenSearch{
		indices:  map[string][]map[string]interface{}{},
		mappings: map[string]interface{}{},
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter, index string) {
	writeJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":  map[string]interface{}{"type": "index_not_found_exception", "reason": "no such index [" + index + "]"},
		"status": 404,
	})
}

func readBody(r *http.Request) []byte {
	var reader io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil
		}
		defer gz.Close()
		reader = gz
	}
	b, _ := io.ReadAll(reader)
	return b
}

func (f *fakeOpenSearch) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body := readBody(r)
	path := strings.Trim(r.URL.Path, "/")
	if path == "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"version": map[string]interface{}{"number": "2.11.0", "distribution": "opensearch"},
		})
		return
	}

	parts := strings.Split(path, "/")
	index := parts[0]
	docs, exists := f.indices[index]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodHead:
			if !exists {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			if exists {
				writeJSON(w, http.StatusBadRequest, map[string]interface{}{
					"error":  map[string]interface{}{"type": "resource_already_exists_exception", "reason": "index [" + index + "] already exists"},
					"status": 400,
				})
				return
			}
			var m map[string]interface{}
			_ = json.Unmarshal(body, &m)
			f.mappings[index] = m["mappings"]
			f.indices[index] = []map[string]interface{}{}
			writeJSON(w, http.StatusOK, map[string]interface{}{"acknowledged": true, "index": index})
		case http.MethodDelete:
			if !exists {
				notFound(w, index)
				return
			}
			delete(f.indices, index)
			writeJSON(w, http.StatusOK, map[string]interface{}{"acknowledged": true})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	if !exists {
		notFound(w, index)
		return
	}

	switch parts[1] {
	case "_bulk":
		f.bulkURLs = append(f.bulkURLs, r.URL.String())
		var items []interface{}
		scanner := bufio.NewScanner(bytes.NewReader(body))
		scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)
		var action map[string]map[string]interface{}
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			if action == nil {
				_ = json.Unmarshal(line, &action)
				continue
			}
			doc := map[string]interface{}{}
			_ = json.Unmarshal(line, &doc)
			doc["_id"] = action["index"]["_id"]
			docs = append(docs, doc)
			items = append(items, map[string]interface{}{"index": map[string]interface{}{"_id": doc["_id"], "status": 201}})
			action = nil
		}
		f.indices[index] = docs
		writeJSON(w, http.StatusOK, map[string]interface{}{"errors": false, "items": items})
	case "_search":
		f.search(w, docs, body)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeOpenSearch) search(w http.ResponseWriter, docs []map[string]interface{}, body []byte) {
	var req struct {
		Size  int `json:"size"`
		Query struct {
			Knn map[string]struct {
				Vector []float64 `json:"vector"`
				K      int       `json:"k"`
			} `json:"knn"`
		} `json:"query"`
	}
	_ = json.Unmarshal(body, &req)

	type hit struct {
		doc   map[string]interface{}
		score float64
	}
	hits := make([]hit, 0, len(docs))
	for _, d := range docs {
		hits = append(hits, hit{doc: d})
	}

	if knn, ok := req.Query.Knn[vectorField]; ok {
		for i := range hits {
			raw, _ := hits[i].doc[vectorField].([]interface{})
			var dist float64
			for j, v := range raw {
				x, _ := v.(float64)
				if j < len(knn.Vector) {
					dist += (x - knn.Vector[j]) * (x - knn.Vector[j])
				}
			}
			hits[i].score = 1 / (1 + math.Sqrt(dist))
		}
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	}

	if req.Size > 0 && len(hits) > req.Size {
		hits = hits[:req.Size]
	}

	out := make([]interface{}, 0, len(hits))
	for _, h := range hits {
		out = append(out, map[string]interface{}{
			"_id":     h.doc["_id"],
			"_score":  h.score,
			"_source": h.doc,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hits": map[string]interface{}{
			"total": map[string]interface{}{"value": len(out), "relation": "eq"},
			"hits":  out,
		},
	})
}

func newTestStore(t *testing.T) (*Store, *fakeOpenSearch) {
	t.Helper()
	fake := newFakeOpenSearch()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	client, err := NewClient(&config.OpenSearchConfig{Host: u.Hostname(), Port: port})
	require.NoError(t, err)

	store, err := New(client, embedding.NewHashingEmbedder(32), 32)
	require.NoError(t, err)
	return store, fake
}

func chunks(docID string, ingestedAt int64, texts ...string) []models.Chunk {
	out := make([]models.Chunk, len(texts))
	for i, text := range texts {
		out[i] = models.Chunk{Content: text, DocumentID: docID, ChunkIndex: i, IngestedAt: ingestedAt, Source: "text"}
	}
	return out
}

func TestStoreIndexLifecycle(t *testing.T) {
	ctx := context.Background()
	store, fake := newTestStore(t)

	exists, err := store.IndexExists(ctx, "session-a")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.CreateIndex(ctx, "session-a"))
	assert.ErrorIs(t, store.CreateIndex(ctx, "session-a"), vectorstore.ErrIndexExists)

	exists, err = store.IndexExists(ctx, "session-a")
	require.NoError(t, err)
	assert.True(t, exists)

	mappings, _ := fake.mappings["session-a"].(map[string]interface{})
	props, _ := mappings["properties"].(map[string]interface{})
	vector, _ := props[vectorField].(map[string]interface{})
	assert.Equal(t, "knn_vector", vector["type"])
	assert.EqualValues(t, 32, vector["dimension"])
	assert.Contains(t, props, contentField)

	require.NoError(t, store.DeleteIndex(ctx, "session-a"))
	assert.ErrorIs(t, store.DeleteIndex(ctx, "session-a"), vectorstore.ErrIndexNotFound)
}

func TestStoreAddAndListChunks(t *testing.T) {
	ctx := context.Background()
	store, fake := newTestStore(t)
	require.NoError(t, store.CreateIndex(ctx, "s"))

	ids, err := store.AddChunks(ctx, "s", chunks("doc-2", 200, "third", "fourth"))
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	_, err = store.AddChunks(ctx, "s", chunks("doc-1", 100, "first", "second"))
	require.NoError(t, err)

	require.Len(t, fake.bulkURLs, 2)
	assert.Contains(t, fake.bulkURLs[0], "refresh=true")

	listed, err := store.ListChunks(ctx, "s", 10000)
	require.NoError(t, err)
	var texts []string
	for _, c := range listed {
		texts = append(texts, c.Content)
	}
	assert.Equal(t, []string{"first", "second", "third", "fourth"}, texts)
	assert.Equal(t, "doc-1", listed[0].DocumentID)
	assert.Equal(t, int64(100), listed[0].IngestedAt)

	limited, err := store.ListChunks(ctx, "s", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = store.ListChunks(ctx, "missing", 10)
	assert.ErrorIs(t, err, vectorstore.ErrIndexNotFound)
}

func TestStoreRetriever(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	require.NoError(t, store.CreateIndex(ctx, "s"))

	_, err := store.AddChunks(ctx, "s", chunks("d", 1,
		"the cat sat on the mat",
		"opensearch stores dense vectors",
		"bananas are yellow fruit",
	))
	require.NoError(t, err)

	docs, err := store.Retriever("s", 2).GetRelevantDocuments(ctx, "dense vectors in opensearch")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "opensearch stores dense vectors", docs[0].PageContent)
	assert.Equal(t, "d", docs[0].Metadata[models.MetaDocumentID])
}

func TestStoreAddChunksEmpty(t *testing.T) {
	store, fake := newTestStore(t)

	ids, err := store.AddChunks(context.Background(), "s", nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, fake.bulkURLs)
}
