package vector

import "time"

// Source type constants for indexed business records.
const (
	SourceTypeClient        = "client"
	SourceTypeSite          = "site"
	SourceTypeQuote         = "quote"
	SourceTypeSubcontractor = "subcontractor"
	SourceTypeDocument      = "document"
)

// Key uniquely identifies one stored chunk vector.
type Key struct {
	SourceType string
	SourceID   string
	ChunkIndex int
}

// Vector is one embedded chunk of a business record.
type Vector struct {
	SourceType string    `json:"source_type"`
	SourceID   string    `json:"source_id"`
	ChunkIndex int       `json:"chunk_index"`
	Text       string    `json:"text"`
	Values     []float32 `json:"values"`
	Model      string    `json:"model"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Key returns the unique key of this vector.
func (v Vector) Key() Key {
	return Key{SourceType: v.SourceType, SourceID: v.SourceID, ChunkIndex: v.ChunkIndex}
}

// Result is one retrieval hit, ordered descending by Score.
type Result struct {
	Vector
	Score float64 `json:"score"`
}
