package stores

import (
	"context"
	"time"

	"github.com/stagecast/stagecast/pkg/engine"
)

// Driver identifies which execution driver produced a pass.
type Driver string

const (
	DriverEager  Driver = "eager"
	DriverStream Driver = "stream"
)

// Pass represents one complete driver invocation over a stage document.
// Statuses follow the engine's pass lifecycle.
type Pass struct {
	ID              string            `json:"id"`
	DocumentPath    string            `json:"document_path"`
	Environment     string            `json:"environment"`
	Driver          Driver            `json:"driver"`
	Status          engine.PassStatus `json:"status"`
	StagesTotal     int               `json:"stages_total"`
	StagesSucceeded int               `json:"stages_succeeded"`
	StagesFailed    int               `json:"stages_failed"`
	Error           *string           `json:"error,omitempty"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      *time.Time        `json:"finished_at,omitempty"`
}

// StageResult represents one recorded stage outcome within a pass.
type StageResult struct {
	ID         int64              `json:"id"`
	PassID     string             `json:"pass_id"`
	Stage      string             `json:"stage"`
	Kind       engine.OutcomeKind `json:"kind"`
	Payload    string             `json:"payload"`  // JSON blob, per-target results
	Retcodes   string             `json:"retcodes"` // JSON object, retcode -> count
	RecordedAt time.Time          `json:"recorded_at"`
}

// Event represents an append-only pass log entry. Sequence numbers are
// assigned by the caller and are ordered within a pass.
type Event struct {
	ID        int64     `json:"id"`
	PassID    string    `json:"pass_id"`
	Seq       int64     `json:"seq"`
	Type      string    `json:"type"`
	Stage     string    `json:"stage,omitempty"`
	Payload   *string   `json:"payload,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// Store defines the interface for the pass history persistence layer.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
	HealthCheck(ctx context.Context) error

	// Pass operations
	CreatePass(ctx context.Context, pass *Pass) error
	FinishPass(ctx context.Context, id string, status engine.PassStatus, succeeded, failed int, errMsg *string) error
	GetPass(ctx context.Context, id string) (*Pass, error)
	ListPasses(ctx context.Context, status *engine.PassStatus, limit, offset int) ([]*Pass, error)

	// Stage result operations
	RecordStageResult(ctx context.Context, result *StageResult) error
	ListStageResults(ctx context.Context, passID string) ([]*StageResult, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, passID string, eventType *string, limit, offset int) ([]*Event, error)
}
