// Package model holds the data types shared across the RAG pipeline:
// chunks, upload records, conversation turns, and conversation memory.
package model

import "time"

// ContentType enumerates the document kinds the ingestion path dispatches on.
type ContentType string

const (
	ContentPDF   ContentType = "pdf"
	ContentText  ContentType = "text"
	ContentAudio ContentType = "audio"
	ContentVideo ContentType = "video"
)

// ChunkMetadata is the structured metadata carried by every chunk.
type ChunkMetadata struct {
	Source      string      `json:"source"`
	Title       string      `json:"title"`
	ContentType ContentType `json:"content_type"`
	ChunkIndex  int         `json:"chunk_index"`
	TenantID    string      `json:"tenant_id"`
	PageIndex   *int        `json:"page_index,omitempty"`
	CreatedAt   time.Time   `json:"created_at,omitempty"`
	SourceChunkCount int    `json:"source_chunk_count,omitempty"`
}

// Chunk is the atomic retrievable unit. Embedding is set once the chunk is
// embedded by the Model Gateway; it is nil for chunks produced by the
// Document Processor before embedding.
type Chunk struct {
	Text      string        `json:"text"`
	Embedding []float32     `json:"-"`
	Metadata  ChunkMetadata `json:"metadata"`
}

// UploadStatus enumerates the lifecycle of an UploadRecord.
type UploadStatus string

const (
	UploadPending    UploadStatus = "pending"
	UploadProcessing UploadStatus = "processing"
	UploadReady      UploadStatus = "ready"
	UploadFailed     UploadStatus = "failed"
)

// UploadRecord tracks the lifecycle of one ingested file.
type UploadRecord struct {
	ID           string       `json:"id"`
	TenantID     string       `json:"tenant_id"`
	Filename     string       `json:"filename"`
	DeclaredType ContentType  `json:"declared_type"`
	ByteSize     int          `json:"byte_size"`
	Status       UploadStatus `json:"status"`
	ChunkCount   int          `json:"chunk_count"`
	FailReason   string       `json:"fail_reason,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Citation ties a generated answer back to a retrieved chunk.
type Citation struct {
	Title      string  `json:"title"`
	Score      float64 `json:"score"`
	ChunkIndex int     `json:"chunk_index"`
}

// ConversationTurn is one persisted question/answer exchange.
type ConversationTurn struct {
	ID                 string     `json:"id"`
	TenantID           string     `json:"tenant_id"`
	ConversationID     string     `json:"conversation_id"`
	UserMessage        string     `json:"user_message"`
	AssistantResponse  string     `json:"assistant_response"`
	Sources            []Citation `json:"sources"`
	Confidence         float64    `json:"confidence"`
	ShouldEscalate     bool       `json:"should_escalate"`
	HallucinationFlags []string   `json:"hallucination_flags,omitempty"`
	Reviewed           bool       `json:"reviewed"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Role enumerates the speaker of a conversation-memory message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSummary   Role = "summary"
)

// Message is one entry in conversation memory.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CortexNote is a tenant-scoped standing instruction or persistent fact
// captured outside any single conversation's sliding window, retrieved by
// semantic similarity and injected ahead of the live turn.
type CortexNote struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}
