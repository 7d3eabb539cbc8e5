package models

// Chunk is one split of an ingested document as stored in a session index.
type Chunk struct {
	Content    string
	DocumentID string
	ChunkIndex int
	Source     string
	IngestedAt int64
}

// IngestResult is returned after a document has been split and stored.
type IngestResult struct {
	SessionToken string   `json:"session_token"`
	DocumentID   string   `json:"document_id"`
	Chunks       int      `json:"chunks"`
	IDs          []string `json:"-"`
}

type PromptResponse struct {
	Query   string `json:"query"`
	Source  string `json:"session_token"`
	Content string `json:"message"`
}
