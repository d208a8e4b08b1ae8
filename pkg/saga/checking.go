// Package saga holds the durable per-submission state machine: the Checking
// record, the pure transition function over it, the keyed instance store,
// and the orchestrator that drives transitions from bus events.
package saga

import (
	"time"

	"github.com/patternlab/checker/pkg/contracts"
)

// Status represents the current state of a submission check.
type Status string

const (
	StatusCompiling Status = "compiling"
	StatusCompiled  Status = "compiled"
	StatusTesting   Status = "testing"
	StatusTested    Status = "tested"
	StatusReviewing Status = "reviewing"
	StatusReviewed  Status = "reviewed"
	StatusCanceled  Status = "canceled"
	StatusFailed    Status = "failed"
	StatusPassed    Status = "passed"
)

// Terminal reports whether the status is absorbing: once reached, every
// further trigger is ignored.
func (s Status) Terminal() bool {
	switch s {
	case StatusCanceled, StatusFailed, StatusPassed:
		return true
	}
	return false
}

// ActiveStage returns the pipeline stage a non-terminal status is waiting on,
// or "" for terminal statuses.
func (s Status) ActiveStage() contracts.Stage {
	switch s {
	case StatusCompiling:
		return contracts.StageCompile
	case StatusTesting:
		return contracts.StageVerify
	case StatusReviewing:
		return contracts.StageReview
	}
	return ""
}

// StageOutcome records the result of one stage attempt. Write-once per
// attempt; only a retry of the same stage may overwrite it.
type StageOutcome struct {
	Attempted bool   `json:"attempted"`
	Success   bool   `json:"success"`
	Message   string `gorm:"type:text" json:"message"`
}

// Checking is the durable record of one submission check, keyed by
// correlation id. Mutated only through Apply; never physically deleted.
type Checking struct {
	CorrelationID string `gorm:"primaryKey;size:36"`
	UserID        string `gorm:"index;size:64;not null"`
	TaskID        string `gorm:"index;size:64;not null"`
	TaskName      string `gorm:"size:255"`
	Status        Status `gorm:"index;size:20;not null"`

	Compiled StageOutcome `gorm:"embedded;embeddedPrefix:compiled_"`
	Tested   StageOutcome `gorm:"embedded;embeddedPrefix:tested_"`
	Reviewed StageOutcome `gorm:"embedded;embeddedPrefix:reviewed_"`

	CreatedAt   time.Time `gorm:"autoCreateTime"`
	CompletedAt *time.Time
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// Overall reports whether the check passed end to end.
func (c *Checking) Overall() bool {
	return c.Status == StatusPassed
}

// Finished reports whether the full pipeline ran to successful completion.
func (c *Checking) Finished() bool {
	return c.Compiled.Success && c.Tested.Success && c.Reviewed.Success
}
