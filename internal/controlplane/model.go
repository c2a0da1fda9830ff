// Package controlplane is the control-plane record model and HTTP/JSON CRUD
// surface (component G): a Postgres-backed store and REST API for
// tenants/sources/sinks/pipelines. The pipeline engine (internal/pipeline)
// never imports this package — it only consumes
// the neutral types that jobs.go builds from these records (source.Config,
// the sink packages' Config structs, model.BatchConfig).
package controlplane

import "time"

// Tenant is the top-level scoping resource every source/sink/pipeline
// belongs to.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SourceConfig is the embedded config blob of a Source record (§4.G).
type SourceConfig struct {
	Host        string `json:"host"`
	Port        uint16 `json:"port"`
	DBName      string `json:"dbname"`
	Username    string `json:"username"`
	Password    string `json:"password,omitempty"`
	Publication string `json:"publication"`
	SlotName    string `json:"slot_name"`
}

// Source is a registered upstream PostgreSQL instance to replicate from.
type Source struct {
	ID        string       `json:"id"`
	TenantID  string       `json:"tenant_id"`
	Config    SourceConfig `json:"config"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// SinkKind discriminates which destination backend a Sink record describes.
type SinkKind string

const (
	SinkStdout   SinkKind = "stdout"
	SinkBigQuery SinkKind = "bigquery"
	SinkDelta    SinkKind = "delta"
)

// Sink is a registered destination. Config is kind-specific JSON, stored and
// returned opaquely by the store; only JobManager's newSinkForPipeline
// (jobs.go) interprets it, decoding it into the sink package's own Config.
type Sink struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	Kind      SinkKind       `json:"kind"`
	Config    map[string]any `json:"config"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// PipelineBatchConfig mirrors model.BatchConfig in JSON-friendly form
// (seconds instead of time.Duration).
type PipelineBatchConfig struct {
	MaxSize     int `json:"max_size"`
	MaxFillSecs int `json:"max_fill_secs"`
}

// PipelineConfig is the embedded config blob of a Pipeline record (§4.G).
type PipelineConfig struct {
	Batch PipelineBatchConfig `json:"batch"`
}

// Pipeline binds one source to one sink with batching bounds. The store
// only persists it; JobManager (jobs.go) runs it, behind the job-lifecycle
// routes that cmd/pgsink's "control-plane" command serves. Its own id, not sink_id, is
// what a read returns, resolved the opposite way from the reference
// source's bug.
type Pipeline struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	SourceID  string         `json:"source_id"`
	SinkID    string         `json:"sink_id"`
	Config    PipelineConfig `json:"config"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
