package models

// metadata keys stored next to every chunk
const (
	MetaDocumentID = "document_id"
	MetaChunkIndex = "chunk_index"
	MetaIngestedAt = "ingested_at"
	MetaSource     = "source"
)

const (
	ContextSeparator = "\n\n"

	// PromptTrailer is appended to a caller supplied base prompt.
	PromptTrailer = "\nQuestion: {question}\nContext: {context}\nAnswer:"
)
