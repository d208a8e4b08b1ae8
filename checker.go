// Package checker orchestrates design-pattern submission checks through a
// compile, verify, review pipeline of independent workers on a durable
// message bus.
//
// This is the main package users should import. It re-exports the public
// types from the internal pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	// Open the durable store and wire the bus
//	db, _ := gorm.Open(sqlite.Open("checker.db"), &gorm.Config{})
//	transport := checker.NewGormTransport(db)
//	transport.Migrate(context.Background())
//	b := checker.NewBus(transport)
//
//	// Wire the orchestrator and the synchronous entry point
//	store := checker.NewStore(db)
//	br := checker.NewBridge()
//	timers := checker.NewSupervisor(db, b)
//	orch := checker.NewOrchestrator(store, b, br, timers, cat, timeouts)
//	orch.Register()
//	seq := checker.NewSequencer(b, br, cat, reviews, timeouts)
//
//	// Start the delivery worker and serve the API
//	go checker.NewBusWorker(b).Start(ctx)
//	http.ListenAndServe(":8080", httpapi.Handler(seq))
package checker

import (
	"time"

	"gorm.io/gorm"

	"github.com/patternlab/checker/pkg/artifacts"
	"github.com/patternlab/checker/pkg/bridge"
	"github.com/patternlab/checker/pkg/bus"
	"github.com/patternlab/checker/pkg/catalog"
	"github.com/patternlab/checker/pkg/config"
	"github.com/patternlab/checker/pkg/contracts"
	"github.com/patternlab/checker/pkg/saga"
	"github.com/patternlab/checker/pkg/security"
	"github.com/patternlab/checker/pkg/sequencer"
	"github.com/patternlab/checker/pkg/timeout"
)

// Type aliases for the public surface
type (
	// Stage identifies one pipeline phase of a submission check.
	Stage = contracts.Stage

	// Event is the interface implemented by all checking messages.
	Event = contracts.Event

	// StartChecking requests a new submission check.
	StartChecking = contracts.StartChecking

	// StageRequested asks a stage worker to process the submission.
	StageRequested = contracts.StageRequested

	// StageOutcome reports the result of a stage attempt.
	StageOutcome = contracts.StageOutcome

	// StageTimeout is the durable deadline signal for a stage.
	StageTimeout = contracts.StageTimeout

	// Cancel aborts a check at its current stage.
	Cancel = contracts.Cancel

	// ProgressUpdate summarizes a check for the progress tracker.
	ProgressUpdate = contracts.ProgressUpdate

	// Checking is the durable record of one submission check.
	Checking = saga.Checking

	// Status represents the current state of a submission check.
	Status = saga.Status

	// Trigger is a state machine input derived from a bus event.
	Trigger = saga.Trigger

	// Store persists Checking records with per-key write serialization.
	Store = saga.Store

	// Orchestrator drives each submission's state machine from bus events.
	Orchestrator = saga.Orchestrator

	// Bridge translates asynchronous completions into bounded waits.
	Bridge = bridge.Bridge

	// Result is the outcome a wait observes for one stage.
	Result = bridge.Result

	// Supervisor arms and disarms durable stage deadlines.
	Supervisor = timeout.Supervisor

	// Bus manages topic subscriptions and durable publishing.
	Bus = bus.Bus

	// Message is one durable unit of delivery.
	Message = bus.Message

	// Transport is the persistence layer behind a Bus.
	Transport = bus.Transport

	// GormTransport implements Transport using GORM.
	GormTransport = bus.GormTransport

	// BusWorker polls the transport and dispatches messages.
	BusWorker = bus.Worker

	// WorkerOption configures a BusWorker.
	WorkerOption = bus.WorkerOption

	// PublishOption modifies publish behavior.
	PublishOption = bus.PublishOption

	// Sequencer drives a check end to end for one synchronous caller.
	Sequencer = sequencer.Sequencer

	// CheckResult is the per-stage outcome returned to the client.
	CheckResult = sequencer.CheckResult

	// Catalog looks up design-pattern tasks.
	Catalog = catalog.Catalog

	// Task is one design-pattern exercise.
	Task = catalog.Task

	// ArtifactStore fetches persisted review texts.
	ArtifactStore = artifacts.Store

	// Config is the top-level runtime configuration.
	Config = config.Config

	// StageTimeouts holds the per-stage deadlines.
	StageTimeouts = config.StageTimeouts
)

// Pipeline stages
const (
	StageCompile = contracts.StageCompile
	StageVerify  = contracts.StageVerify
	StageReview  = contracts.StageReview
)

// Checking statuses
const (
	StatusCompiling = saga.StatusCompiling
	StatusCompiled  = saga.StatusCompiled
	StatusTesting   = saga.StatusTesting
	StatusTested    = saga.StatusTested
	StatusReviewing = saga.StatusReviewing
	StatusReviewed  = saga.StatusReviewed
	StatusCanceled  = saga.StatusCanceled
	StatusFailed    = saga.StatusFailed
	StatusPassed    = saga.StatusPassed
)

// Error variables
var (
	ErrTaskNotFound  = sequencer.ErrTaskNotFound
	ErrInvalidTaskID = security.ErrInvalidTaskID
	ErrInvalidUserID = security.ErrInvalidUserID
	ErrDuplicate     = bus.ErrDuplicate
)

// NewBus creates a Bus on the given transport.
func NewBus(t Transport) *Bus {
	return bus.New(t)
}

// NewGormTransport creates a GORM-backed bus transport.
func NewGormTransport(db *gorm.DB) *GormTransport {
	return bus.NewGormTransport(db)
}

// NewBusWorker creates a delivery worker for the given bus.
func NewBusWorker(b *Bus, opts ...WorkerOption) *BusWorker {
	return bus.NewWorker(b, opts...)
}

// NewBridge creates an empty completion bridge.
func NewBridge() *Bridge {
	return bridge.New()
}

// NewSupervisor creates a timeout supervisor on the given database and bus.
func NewSupervisor(db *gorm.DB, b *Bus) *Supervisor {
	return timeout.New(db, b)
}

// NewStore creates a Checking store on the given database.
func NewStore(db *gorm.DB) *Store {
	return saga.NewStore(db)
}

// NewOrchestrator wires the checking orchestrator.
func NewOrchestrator(store *Store, b *Bus, br *Bridge, timers *Supervisor, cat Catalog, timeouts StageTimeouts) *Orchestrator {
	return saga.NewOrchestrator(store, b, br, timers, cat, timeouts)
}

// NewSequencer creates the synchronous pipeline entry point.
func NewSequencer(pub sequencer.Publisher, br *Bridge, cat Catalog, reviews ArtifactStore, timeouts StageTimeouts) *Sequencer {
	return sequencer.New(pub, br, cat, reviews, timeouts)
}

// NewGormCatalog creates a GORM-backed task catalog.
func NewGormCatalog(db *gorm.DB) *catalog.GormCatalog {
	return catalog.NewGormCatalog(db)
}

// DefaultStageTimeouts returns the standard per-stage deadlines.
func DefaultStageTimeouts() StageTimeouts {
	return config.DefaultStageTimeouts()
}

// Publish option functions

// WithDelay makes a message invisible to consumers for the duration.
func WithDelay(d time.Duration) PublishOption {
	return bus.WithDelay(d)
}

// WithDedupKey suppresses a publish if an undelivered message with the same
// key already exists.
func WithDedupKey(key string) PublishOption {
	return bus.WithDedupKey(key)
}
