package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"go.uber.org/zap"
)

// State is a step of the session state machine.
type State string

const (
	StateIdle            State = "idle"
	StateScopeLoaded     State = "scope_loaded"
	StateChangesComputed State = "changes_computed"
	StateChangesApplied  State = "changes_applied"
	StateScopeCommitted  State = "scope_committed"
	StateFailed          State = "failed"
)

// AgentOptions configures the client side of sessions.
type AgentOptions struct {
	// BatchSize bounds rows per upload batch and per apply transaction.
	BatchSize int

	// StoreTimeout bounds every store call.
	StoreTimeout time.Duration

	// MaxAttempts bounds SynchronizeWithRetry. Values below 1 mean 1.
	MaxAttempts int

	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
}

// Agent runs synchronization sessions from a client store to a Remote.
// Sessions for different scopes may run concurrently; sessions for the same
// scope pair are serialized by compare-and-swap on their scope rows.
type Agent struct {
	setup   *Setup
	scopes  *ScopeManager
	applier *Applier
	remote  Remote
	logger  *zap.Logger
	opts    AgentOptions
	now     func() time.Time

	mu    gosync.Mutex
	state State
}

// NewAgent creates an agent synchronizing local with remote.
func NewAgent(local Provider, remote Remote, setup *Setup, logger *zap.Logger, opts AgentOptions) (*Agent, error) {
	if local == nil || remote == nil || setup == nil {
		return nil, fmt.Errorf("%w: agent needs a local provider, a remote and a setup", ErrInvalidConfig)
	}
	if opts.BatchSize < 1 {
		return nil, fmt.Errorf("%w: batch size must be at least 1", ErrInvalidConfig)
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Agent{
		setup:   setup,
		scopes:  NewScopeManager(local, logger, opts.StoreTimeout),
		applier: NewApplier(local, logger, opts.BatchSize, opts.StoreTimeout),
		remote:  remote,
		logger:  logger,
		opts:    opts,
		now:     time.Now,
		state:   StateIdle,
	}, nil
}

// State returns the state of the most recent session step.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Scopes returns the scope manager of the local store.
func (a *Agent) Scopes() *ScopeManager {
	return a.scopes
}

// session tracks one Synchronize call.
type session struct {
	agent  *Agent
	id     string
	state  State
	logger *zap.Logger
}

func (s *session) transition(to State) {
	s.logger.Debug("Session state changed",
		zap.String("from", string(s.state)),
		zap.String("to", string(to)))
	s.state = to
	s.agent.mu.Lock()
	s.agent.state = to
	s.agent.mu.Unlock()
}

func (s *session) fail(err error) error {
	var se *SyncError
	if errors.As(err, &se) {
		return err
	}
	failedIn := s.state
	s.transition(StateFailed)
	return &SyncError{State: failedIn, Err: err}
}

// Synchronize runs one session for scopeName over tables (all configured
// tables when empty) and returns its report. Row-level failures are reported,
// not returned; any other failure leaves both scope rows untouched.
func (a *Agent) Synchronize(ctx context.Context, scopeName string, tables []string, policy ConflictPolicy) (*SessionReport, error) {
	report := &SessionReport{ScopeName: scopeName, StartedAt: a.now()}
	s := &session{agent: a, state: StateIdle, logger: a.logger.With(zap.String("scope", scopeName))}

	if err := policy.Validate(); err != nil {
		return nil, s.fail(err)
	}
	schemas, err := a.setup.Tables(tables)
	if err != nil {
		return nil, s.fail(err)
	}

	// Load scopes on both sides
	local, _, err := a.scopes.LoadLocal(ctx, scopeName, schemas)
	if err != nil {
		return nil, s.fail(err)
	}

	begin, err := a.remote.BeginSession(ctx, BeginRequest{
		ScopeName:     scopeName,
		ClientScopeID: local.ID,
		Tables:        tableNames(schemas),
		Fingerprint:   local.Fingerprint,
		Policy:        policy.Kind,
	})
	if err != nil {
		return nil, s.fail(fmt.Errorf("failed to begin remote session: %w", err))
	}
	s.id = begin.SessionID
	s.logger = s.logger.With(zap.String("session_id", begin.SessionID))
	report.SessionID = begin.SessionID

	committed := false
	defer func() {
		if committed {
			return
		}
		abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := a.remote.AbortSession(abortCtx, begin.SessionID); err != nil && !errors.Is(err, ErrSessionNotFound) {
			s.logger.Warn("Failed to abort remote session", zap.Error(err))
		}
	}()

	peer, initial, err := a.scopes.LoadPeer(ctx, local, begin.ServerScopeID)
	if err != nil {
		return nil, s.fail(err)
	}
	report.Initial = initial || begin.Initial
	s.transition(StateScopeLoaded)

	// Compute deltas in both directions
	var current int64
	var upload *ChangeSet
	err = WithTx(ctx, a.scopes.provider, a.opts.StoreTimeout, func(tx Tx) error {
		err := bounded(ctx, a.opts.StoreTimeout, func(ctx context.Context) error {
			var err error
			current, err = a.scopes.provider.CurrentVersion(ctx, tx)
			return err
		})
		if err != nil {
			return err
		}
		return bounded(ctx, a.opts.StoreTimeout, func(ctx context.Context) error {
			var err error
			upload, err = ComputeChanges(ctx, a.scopes.provider, tx, peer, schemas, current, DeltaOptions{
				ExcludeOrigin: begin.ServerScopeID,
				Initial:       initial,
			})
			return err
		})
	})
	if err != nil {
		return nil, s.fail(fmt.Errorf("failed to compute local changes: %w", err))
	}
	if _, err := a.remote.ComputeChanges(ctx, begin.SessionID); err != nil {
		return nil, s.fail(err)
	}
	s.transition(StateChangesComputed)

	// Upload and apply at the server
	batches, err := Split(upload, a.opts.BatchSize)
	if err != nil {
		return nil, s.fail(err)
	}
	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return nil, s.fail(err)
		}
		if err := a.remote.UploadBatch(ctx, begin.SessionID, b); err != nil {
			return nil, s.fail(fmt.Errorf("failed to upload batch %d: %w", b.Index, err))
		}
	}

	applied, err := a.remote.ApplyChanges(ctx, begin.SessionID)
	if err != nil {
		return nil, s.fail(err)
	}
	report.TotalUploaded = applied.Uploaded - len(applied.Errors)
	report.Upload = applied.Stats
	report.addConflicts(applied.Conflicts)
	report.Errors = append(report.Errors, applied.Errors...)

	// Download and apply at the client
	downloaded := make([]Batch, 0, applied.DownloadBatches)
	for i := 0; i < applied.DownloadBatches; i++ {
		if err := ctx.Err(); err != nil {
			return nil, s.fail(err)
		}
		b, err := a.remote.DownloadBatch(ctx, begin.SessionID, i)
		if err != nil {
			return nil, s.fail(fmt.Errorf("failed to download batch %d: %w", i, err))
		}
		downloaded = append(downloaded, *b)
	}

	download, err := Reassemble(downloaded)
	if err != nil {
		return nil, s.fail(err)
	}
	ordered, err := Order(download, a.setup.Graph())
	if err != nil {
		return nil, s.fail(err)
	}

	result, err := a.applier.Apply(ctx, ApplyRequest{
		Tables:      schemas,
		Changes:     ordered,
		Anchor:      peer.LastSyncVersion,
		LocalScope:  local.ID,
		RemoteScope: begin.ServerScopeID,
		Policy:      policy,
	})
	if err != nil {
		return nil, s.fail(fmt.Errorf("failed to apply server changes: %w", err))
	}
	report.TotalDownloaded = result.Applied
	report.Download = result.Stats
	report.addConflicts(result.Conflicts)
	report.Errors = append(report.Errors, result.Errors...)
	s.transition(StateChangesApplied)

	// The remote anchor commits first. A failed local commit leaves the
	// client anchor behind and the next session re-sends those changes.
	err = WithTx(ctx, a.scopes.provider, a.opts.StoreTimeout, func(tx Tx) error {
		if err := a.scopes.Check(ctx, tx, peer); err != nil {
			return err
		}
		if _, err := a.remote.CommitSession(ctx, begin.SessionID); err != nil {
			return fmt.Errorf("failed to commit remote session: %w", err)
		}
		committed = true
		return a.scopes.Commit(ctx, tx, peer, current, a.now())
	})
	if err != nil {
		return nil, s.fail(err)
	}
	s.transition(StateScopeCommitted)

	report.CompletedAt = a.now()
	s.logger.Info("Sync session completed",
		zap.Int("uploaded", report.TotalUploaded),
		zap.Int("downloaded", report.TotalDownloaded),
		zap.Int("conflicts", report.ConflictsResolved),
		zap.Int("errors", len(report.Errors)),
		zap.Duration("duration", report.Duration()))

	s.transition(StateIdle)
	return report, nil
}

// SynchronizeWithRetry runs Synchronize again after retryable failures,
// up to MaxAttempts times.
func (a *Agent) SynchronizeWithRetry(ctx context.Context, scopeName string, tables []string, policy ConflictPolicy) (*SessionReport, error) {
	var lastErr error
	for attempt := 1; attempt <= a.opts.MaxAttempts; attempt++ {
		report, err := a.Synchronize(ctx, scopeName, tables, policy)
		if err == nil {
			return report, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == a.opts.MaxAttempts {
			break
		}

		a.logger.Warn("Sync session failed, retrying",
			zap.String("scope", scopeName),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if a.opts.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(a.opts.RetryDelay):
			}
		}
	}
	return nil, lastErr
}
