// Package jobs defines the Job/Operation data model spec.md §3 and §4.10
// describe, independent of how jobs are stored or dispatched. Grounded
// on raito's internal/jobs/status.go (a small Status enum with string
// constants) generalized to the four-state QUEUED/RUNNING/DONE/ERROR
// lifecycle spec.md requires, with no SQL-backed persistence (that
// concern moved entirely to internal/store, since raito's persistence
// for this shape was sqlc-generated code never present in the example
// pack).
package jobs

import "time"

// Status is one of the four lifecycle states spec.md §3 names.
type Status string

const (
	StatusQueued  Status = "QUEUED"
	StatusRunning Status = "RUNNING"
	StatusDone    Status = "DONE"
	StatusError   Status = "ERROR"
)

// Terminal reports whether s is a terminal state (spec.md §3:
// "terminal states are immutable").
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// Spec is the user-supplied job request (spec.md §3's Job.spec).
type Spec struct {
	SourceURL     string `json:"source_url"`
	LanguageCode  string `json:"language_code,omitempty"`
	Tone          string `json:"tone,omitempty"`
	TOCEngine     string `json:"toc_engine,omitempty"`    // "init" | "llm"
	RenderEngine  string `json:"render_engine,omitempty"` // "noop" | "llm"
	RewritePrompt string `json:"rewrite_prompt,omitempty"`
	MaxPages      int    `json:"max_pages,omitempty"`
	MaxDepth      int    `json:"max_depth,omitempty"`
}

// Job is spec.md §3's Job resource.
type Job struct {
	Name            string    `json:"name"` // "jobs/<uuid>"
	Spec            Spec      `json:"spec"`
	State           Status    `json:"state"`
	ProgressPercent int       `json:"progress_percent"`
	Message         string    `json:"message,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	ArtifactRef     string    `json:"artifact_ref,omitempty"`
}

// Operation is CreateJob's synchronous response (spec.md §4.10/§6).
type Operation struct {
	Name     string   `json:"name"`
	Metadata Metadata `json:"metadata"`
}

// Metadata names the job an Operation refers to.
type Metadata struct {
	Job string `json:"job"`
}

// Stage names the pipeline stage boundaries progress is reported at
// (spec.md §4.10).
type Stage string

const (
	StageCrawl      Stage = "crawl"
	StageExtract    Stage = "extract"
	StageManifest   Stage = "manifest"
	StageTOC        Stage = "toc"
	StageBookInit   Stage = "book init"
	StageBookRender Stage = "book render"
	StageBookBundle Stage = "book bundle"
	StageBookEPUB   Stage = "book epub"
	StageArtifact   Stage = "artifact"
	StageDone       Stage = "done"
)

// stageProgress gives each stage boundary a coarse, monotonically
// increasing progress_percent value.
var stageProgress = map[Stage]int{
	StageCrawl:      10,
	StageExtract:    30,
	StageManifest:   45,
	StageTOC:        55,
	StageBookInit:   60,
	StageBookRender: 80,
	StageBookBundle: 90,
	StageBookEPUB:   96,
	StageArtifact:   99,
	StageDone:       100,
}

// ProgressFor returns the coarse progress_percent for a stage boundary.
func ProgressFor(stage Stage) int {
	return stageProgress[stage]
}
