package audits

import (
	"time"
)

// JobID identifies one audit job
type JobID string

// Type selects the prompt bundle and output schema of a job
type Type string

const (
	TypeSecurity Type = "security"
	TypeGas      Type = "gas"
)

// Valid reports whether t is one of the known audit types
func (t Type) Valid() bool {
	return t == TypeSecurity || t == TypeGas
}

// Status of a job
type Status string

const (
	StatusWaiting         Status = "waiting"
	StatusProcessing      Status = "processing"
	StatusSuccess         Status = "success"
	StatusSuccessUnparsed Status = "success_unparsed"
	StatusFailed          Status = "failed"
)

// Terminal reports whether no further transition is expected
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusSuccessUnparsed || s == StatusFailed
}

// StepStatus of a single pipeline step checkpoint
type StepStatus string

const (
	StepProcessing StepStatus = "processing"
	StepSuccess    StepStatus = "success"
	StepFailed     StepStatus = "failed"
)

// ReportStep is the checkpoint key of the judge stage
const ReportStep = "report"

// Level is the severity of a finding
type Level string

const (
	LevelCritical      Level = "critical"
	LevelHigh          Level = "high"
	LevelMedium        Level = "medium"
	LevelLow           Level = "low"
	LevelInformational Level = "informational"
)

// Levels lists every severity from most to least severe. Findings are
// always written in this order, whatever order the model emitted.
var Levels = []Level{
	LevelCritical,
	LevelHigh,
	LevelMedium,
	LevelLow,
	LevelInformational,
}

// Job is the aggregate root: one audit request over one piece of contract source
type Job struct {
	ID                JobID     `json:"id" validate:"required"`
	Type              Type      `json:"audit_type" validate:"required,oneof=security gas"`
	Source            string    `json:"-" validate:"required"`
	Status            Status    `json:"status"`
	Model             string    `json:"model,omitempty"`
	RawOutput         string    `json:"raw_output,omitempty"`
	ProcessingSeconds *int      `json:"processing_time_seconds,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Checkpoint is the persisted outcome of one step of one job.
// There is exactly one row per (JobID, Step).
type Checkpoint struct {
	JobID             JobID      `json:"job_id"`
	Step              string     `json:"step"`
	Status            StepStatus `json:"status"`
	Result            *string    `json:"result,omitempty"`
	ProcessingSeconds *int       `json:"processing_time_seconds,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Finding is a single issue reported by the judge stage
type Finding struct {
	ID             string    `json:"id"`
	JobID          JobID     `json:"job_id"`
	Type           Type      `json:"audit_type"`
	Level          Level     `json:"level"`
	Name           string    `json:"name"`
	Explanation    string    `json:"explanation"`
	Recommendation string    `json:"recommendation"`
	Reference      string    `json:"reference"`
	CreatedAt      time.Time `json:"created_at"`

	IsAttested bool       `json:"is_attested"`
	IsVerified bool       `json:"is_verified"`
	Feedback   *string    `json:"feedback,omitempty"`
	AttestedAt *time.Time `json:"attested_at,omitempty"`
}
