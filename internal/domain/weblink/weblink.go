package weblink

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Status is one axis of a Weblink's pipeline state. The empty value means the step
// has not started.
type Status string

const (
	StatusNone       Status = ""
	StatusProcessing Status = "processing"
	StatusFinish     Status = "finish"
	StatusFailed     Status = "failed"
)

type ParseSource string

const (
	ParseSourceClientUpload ParseSource = "clientUpload"
	ParseSourceServerCrawl  ParseSource = "serverCrawl"
)

// Weblink is the durable record for one canonical URL and the single source of truth
// for its pipeline progress.
type Weblink struct {
	ID                  uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	URL                 string         `gorm:"column:url;not null;uniqueIndex" json:"url"`
	LinkID              string         `gorm:"column:link_id;not null;uniqueIndex" json:"link_id"`
	StorageKey          string         `gorm:"column:storage_key" json:"storage_key,omitempty"`
	ParsedDocStorageKey string         `gorm:"column:parsed_doc_storage_key" json:"parsed_doc_storage_key,omitempty"`
	ChunkStorageKey     string         `gorm:"column:chunk_storage_key" json:"chunk_storage_key,omitempty"`
	PageMeta            datatypes.JSON `gorm:"column:page_meta" json:"page_meta,omitempty"`
	ContentMeta         datatypes.JSON `gorm:"column:content_meta" json:"content_meta,omitempty"`
	ParseStatus         Status         `gorm:"column:parse_status;index" json:"parse_status"`
	ChunkStatus         Status         `gorm:"column:chunk_status;index" json:"chunk_status"`
	ParserVersion       string         `gorm:"column:parser_version" json:"parser_version,omitempty"`
	ParseSource         ParseSource    `gorm:"column:parse_source" json:"parse_source,omitempty"`
	Summary             string         `gorm:"column:summary" json:"summary,omitempty"`
	RelatedQuestions    datatypes.JSON `gorm:"column:related_questions" json:"related_questions,omitempty"`
	LastParseTime       *time.Time     `gorm:"column:last_parse_time" json:"last_parse_time,omitempty"`
	CreatedAt           time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"not null;index" json:"updated_at"`
}

func (Weblink) TableName() string { return "weblink" }

// State is the two-axis view of a Weblink's progress.
type State struct {
	Parse          Status
	Chunk          Status
	HasParsedDoc   bool
	HasChunks      bool
	VersionMatches bool
}

func (w *Weblink) State(currentVersion string) State {
	if w == nil {
		return State{}
	}
	return State{
		Parse:          w.ParseStatus,
		Chunk:          w.ChunkStatus,
		HasParsedDoc:   w.ParsedDocStorageKey != "",
		HasChunks:      w.ChunkStorageKey != "",
		VersionMatches: w.ParserVersion == currentVersion,
	}
}

// Ready reports whether the parsed document exists at the current parser version.
func (s State) Ready() bool {
	return s.HasParsedDoc && s.Parse == StatusFinish && s.VersionMatches
}

// Parsed reports whether the storage-key step has nothing left to do.
func (s State) Parsed() bool {
	return s.HasParsedDoc && s.Parse == StatusFinish
}

// Indexed reports whether the chunk step has nothing left to do.
func (s State) Indexed() bool {
	return s.HasChunks && s.Chunk == StatusFinish && s.VersionMatches
}

// IsReady is the readiness predicate used by the orchestrator.
func IsReady(w *Weblink, currentVersion string) bool {
	return w != nil && w.State(currentVersion).Ready()
}

// HasContentMeta reports whether classification already produced a non-empty object.
func (w *Weblink) HasContentMeta() bool {
	if w == nil {
		return false
	}
	raw := string(w.ContentMeta)
	return raw != "" && raw != "{}" && raw != "null"
}
