package migration

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/polystore/polystore/lib/storage"
	"github.com/polystore/polystore/lib/storage/dispatcher"
	"github.com/rs/zerolog"
)

// --------------------------------------------------------------------------
// States and Steps
// --------------------------------------------------------------------------

// State is the runner's position in its lifecycle:
// Idle -> Running -> {Completed, Halted}.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// Step is one ordered unit of schema-evolution logic. Steps must be authored
// idempotently: a partially failed step's side effects are not rolled back
// by the runner, and a retried run re-executes the failed step.
type Step struct {
	// Name identifies the step in logs and halt errors.
	Name string
	// Apply performs the step against the storage target.
	Apply func(ctx context.Context, s dispatcher.IStorage) error
}

// Result describes the outcome of one run invocation.
type Result struct {
	RunID        string // unique ID of this run invocation
	State        State  // StateCompleted or StateHalted
	StartVersion uint64 // persisted version before the run
	Version      uint64 // persisted version after the run
	Applied      int    // number of steps applied by this run
	HaltedStep   int    // index of the failing step, -1 if none
	Err          error  // cause of the halt, nil if completed
}

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// DefaultVersionKey is the key of the tracking record used for backends
// without a native version concept.
const DefaultVersionKey = "__polystore/version"

// Options configures the runner behavior during initialization
type Options struct {
	Logger     zerolog.Logger // Logger used by the runner
	VersionKey string         // Key of the fallback tracking record
}

// DefaultOptions returns the default runner options
func DefaultOptions() *Options {
	return &Options{
		Logger:     zerolog.Nop(),
		VersionKey: DefaultVersionKey,
	}
}

// --------------------------------------------------------------------------
// Runner
// --------------------------------------------------------------------------

// Runner executes an ordered list of migration steps against a single
// storage target, exactly once each. The persisted VersionMarker counts the
// successfully applied steps; the applied sequence is always a strict prefix
// of the declared sequence. One Runner guards one target.
type Runner struct {
	storage  dispatcher.IStorage
	versions storage.IVersionStore
	logger   zerolog.Logger
	running  atomic.Bool
	state    atomic.Int32
}

// NewRunner creates a Runner for the given storage target. The runner
// borrows dispatcher access only for the duration of a run; it does not own
// the target. If the bound adapter exposes native versioning it is used for
// the VersionMarker, otherwise the marker lives in a tracking record.
func NewRunner(s dispatcher.IStorage, opts *Options) *Runner {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.VersionKey == "" {
		opts.VersionKey = DefaultVersionKey
	}

	versions := s.Versioner()
	if versions == nil {
		versions = &recordVersions{storage: s, key: opts.VersionKey}
	}

	return &Runner{
		storage:  s,
		versions: versions,
		logger:   opts.Logger,
	}
}

// State returns the runner's current lifecycle state.
func (r *Runner) State() State {
	return State(r.state.Load())
}

// Version reads the persisted VersionMarker of the target, 0 if absent.
func (r *Runner) Version(ctx context.Context) (uint64, error) {
	return r.versions.Version(ctx)
}

// Run applies all steps not yet recorded in the VersionMarker, in order. On
// a step failure the run halts, the marker is not advanced past the last
// successful step, and a retried run resumes at the failed step. Completed
// steps are never re-executed.
//
// Only one run may be active per target: a concurrent invocation fails fast
// with a ConcurrentMigrationRejected error and leaves the marker untouched.
func (r *Runner) Run(ctx context.Context, steps []Step) (*Result, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, storage.NewError(storage.RetCConcurrentMigration,
			"a migration run is already active for this target")
	}
	defer r.running.Store(false)

	r.state.Store(int32(StateRunning))

	res := &Result{
		RunID:      uuid.NewString(),
		HaltedStep: -1,
	}
	log := r.logger.With().Str("run_id", res.RunID).Logger()

	version, err := r.versions.Version(ctx)
	if err != nil {
		r.state.Store(int32(StateIdle))
		return nil, err
	}
	res.StartVersion = version
	res.Version = version

	// A marker ahead of the declared steps means the target was migrated by
	// a newer step list. The target is treated as fully applied; the marker
	// is never decremented.
	if version > uint64(len(steps)) {
		log.Warn().
			Uint64("version", version).
			Int("steps", len(steps)).
			Msg("version marker ahead of declared steps, treating as fully applied")
		r.state.Store(int32(StateCompleted))
		res.State = StateCompleted
		return res, nil
	}

	for i := version; i < uint64(len(steps)); i++ {
		step := steps[i]

		if err := step.Apply(ctx, r.storage); err != nil {
			r.state.Store(int32(StateHalted))
			res.State = StateHalted
			res.HaltedStep = int(i)
			res.Err = err

			log.Error().Err(err).Uint64("step", i).Str("name", step.Name).
				Msg("migration halted")

			return res, &storage.Error{
				Code: storage.RetCMigrationHalted,
				Msg:  fmt.Sprintf("step %d (%s) failed", i, step.Name),
				Err:  err,
			}
		}

		if err := r.versions.SetVersion(ctx, i+1); err != nil {
			// The step ran but the marker could not be advanced; a retried
			// run re-executes the step, which is why steps are idempotent.
			r.state.Store(int32(StateHalted))
			res.State = StateHalted
			res.HaltedStep = int(i)
			res.Err = err

			return res, &storage.Error{
				Code: storage.RetCMigrationHalted,
				Msg:  fmt.Sprintf("step %d (%s) succeeded but the version marker could not be persisted", i, step.Name),
				Err:  err,
			}
		}

		res.Applied++
		res.Version = i + 1

		log.Info().Uint64("version", i+1).Str("name", step.Name).Msg("migration step applied")
	}

	r.state.Store(int32(StateCompleted))
	res.State = StateCompleted
	return res, nil
}
