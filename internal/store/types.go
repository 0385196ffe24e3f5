// Package store provides the embedded single-file persistence layer:
// entity/relationship metadata, the FTS5 lexical index, and the HNSW
// vector index, all multiplexed over one SQLite database per machine.
package store

import (
	"context"
	"fmt"
	"time"
)

// EntityType identifies the kind of thing an Entity represents.
type EntityType string

const (
	EntityTypeInstruction     EntityType = "instruction"
	EntityTypeDecision        EntityType = "decision"
	EntityTypeFile            EntityType = "file"
	EntityTypeClass           EntityType = "class"
	EntityTypeFunction        EntityType = "function"
	EntityTypeDocumentSection EntityType = "document_section"
	EntityTypeOther           EntityType = "other"
)

// RelationshipType identifies how two entities relate in the graph index.
type RelationshipType string

const (
	RelContains   RelationshipType = "contains"
	RelImports    RelationshipType = "imports"
	RelExtends    RelationshipType = "extends"
	RelImplements RelationshipType = "implements"
	RelTypeOf     RelationshipType = "type_of"
	RelReferences RelationshipType = "references"
)

// DefaultExpandRelationships is the allow-list used by graph expansion
// when a caller does not specify one explicitly.
var DefaultExpandRelationships = []RelationshipType{
	RelContains, RelImports, RelExtends, RelImplements, RelTypeOf,
}

// State keys for the per-project key/value state table.
const (
	StateKeyIndexDimension = "index_embedding_dimension"
	StateKeyIndexModel     = "index_embedding_model"
)

// Entity is a retrievable unit of context: a file, a symbol, a decision
// record, a document section, or an externally-defined "other".
type Entity struct {
	ID            string // caller-assigned stable id
	ProjectID     string
	Type          EntityType
	Name          string            // short, non-unique label
	QualifiedName string            // unique within project, e.g. "path/to/file::Func"; upsert key alongside id
	Path          string            // source path, if any
	Content       string            // full body
	Summary       string            // short summary, used under degradation
	ContentHash   string            // sha256 of Content, for staleness checks
	Metadata      map[string]string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Relationship is a directed, typed edge between two entities.
type Relationship struct {
	ID        string
	ProjectID string
	SourceID  string
	TargetID  string
	Type      RelationshipType
	Weight    float64
	CreatedAt time.Time
}

// Project is a single logical namespace within the shared database file.
type Project struct {
	ID         string
	Name       string
	RootPath   string
	Dimension  int // active embedding dimension, fixed at creation
	Model      string
	EntityCnt  int
	RelCnt     int
	CreatedAt  time.Time
	UpdatedAt  time.Time
	SchemaVers int
}

// CurrentSchemaVersion is the schema version new projects are created at.
const CurrentSchemaVersion = 1

// MetadataStore persists entities, relationships, and project bookkeeping.
// Implementations MUST serialize every mutating call behind a transaction so
// callers never observe a torn write (spec §5).
type MetadataStore interface {
	CreateProject(ctx context.Context, name, rootPath string, dimension int, model string) (*Project, error)
	GetProject(ctx context.Context, id string) (*Project, error)
	RefreshProjectStats(ctx context.Context, id string) error

	UpsertEntity(ctx context.Context, e *Entity) error
	GetEntity(ctx context.Context, projectID, id string) (*Entity, error)
	GetEntities(ctx context.Context, projectID string, ids []string) ([]*Entity, error)
	DeleteEntity(ctx context.Context, projectID, id string) error

	UpsertRelationship(ctx context.Context, r *Relationship) error
	Neighbors(ctx context.Context, projectID, entityID string, types []RelationshipType) ([]*Relationship, error)
	DeleteRelationshipsForEntity(ctx context.Context, projectID, entityID string) error

	GetState(ctx context.Context, projectID, key string) (string, error)
	SetState(ctx context.Context, projectID, key, value string) error

	CreateSession(ctx context.Context, projectID, label string) (*Session, error)
	AppendMessage(ctx context.Context, projectID, sessionID, role, content string) (*Message, error)
	UpsertDecision(ctx context.Context, d *Decision) error
	SearchDecisions(ctx context.Context, projectID, query string, limit int) ([]*DecisionResult, error)

	Close() error
}

// Session groups a run of conversation Messages under one project.
type Session struct {
	ID        string
	ProjectID string
	Label     string
	CreatedAt time.Time
}

// Message is one turn of a Session's conversation history.
type Message struct {
	ID        string
	ProjectID string
	SessionID string
	Role      string // "user", "assistant", or "system"
	Content   string
	CreatedAt time.Time
}

// Decision is a first-class record of a choice made during a project,
// searchable via its own lexical index independent of the entity table.
type Decision struct {
	ID           string
	ProjectID    string
	Title        string
	Content      string // description / rationale
	Context      string
	Alternatives []string
	SupersedesID string // ID of the decision this one replaces, if any
	CreatedAt    time.Time
}

// DecisionResult is a single lexical hit against the decision index.
type DecisionResult struct {
	DecisionID string
	Score      float64
	Downgraded bool
}

// Document is the unit indexed into the lexical (FTS5) index.
type Document struct {
	ID      string // entity id
	Content string
}

// LexResult is a single lexical-search hit.
type LexResult struct {
	EntityID     string
	Score        float64
	MatchedTerms []string
	Downgraded   bool // true if the query fell back to a LIKE scan
}

// LexIndex provides keyword search over entity content.
type LexIndex interface {
	Index(ctx context.Context, projectID string, docs []*Document) error
	Search(ctx context.Context, projectID, query string, limit int) ([]*LexResult, error)
	Delete(ctx context.Context, projectID string, ids []string) error
	AllIDs(ctx context.Context, projectID string) ([]string, error)
	Close() error
}

// LexConfig holds the lexical index's tuning. Only StopWords is applied:
// ranking uses FTS5's bm25() with its built-in parameters, and TokenizeCode
// uses its own fixed minimum token length, so K1, B and MinTokenLength are
// not read.
type LexConfig struct {
	K1             float64
	B              float64
	StopWords      []string
	MinTokenLength int
}

// DefaultLexConfig returns the tuning the store uses absent overrides.
func DefaultLexConfig() LexConfig {
	return LexConfig{
		K1:             1.2,
		B:              0.75,
		StopWords:      DefaultCodeStopWords,
		MinTokenLength: 2,
	}
}

// DefaultCodeStopWords contains common identifiers too generic to rank on.
var DefaultCodeStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while",
	"data", "result", "value", "item", "key", "err", "ctx", "tmp",
}

// DefaultDecisionStopWords tunes the decision lexical index separately
// from DefaultCodeStopWords: decision text is prose, not code, so it
// filters English function words rather than generic identifiers.
// Overridable via retrieval.decision_stopwords.
var DefaultDecisionStopWords = []string{
	"the", "a", "an", "is", "are", "was", "were", "be", "been",
	"and", "or", "but", "for", "to", "of", "in", "on", "at", "we",
}

// VecResult is a single vector-search hit.
type VecResult struct {
	EntityID string
	Distance float32
	Score    float32 // normalized similarity, (0,1]
	Stale    bool    // ContentHash at embed time no longer matches current entity
}

// VectorConfig configures the HNSW graph backing a project's vector index.
type VectorConfig struct {
	Dimension int
	Metric    string // "cos" or "l2"
	M         int
	EfSearch  int
}

// DefaultVectorConfig returns sensible HNSW defaults for the given dimension.
func DefaultVectorConfig(dimension int) VectorConfig {
	return VectorConfig{
		Dimension: dimension,
		Metric:    "cos",
		M:         32,
		EfSearch:  64,
	}
}

// VectorIndex provides approximate nearest-neighbour search over embeddings.
type VectorIndex interface {
	Add(ctx context.Context, projectID string, ids []string, vectors [][]float32, contentHashes []string) error
	Search(ctx context.Context, projectID string, query []float32, k int) ([]*VecResult, error)
	Delete(ctx context.Context, projectID string, ids []string) error
	Count(projectID string) int
	Close() error
}

// ErrDimensionMismatch is returned when a vector's length does not match the
// project's fixed embedding dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
