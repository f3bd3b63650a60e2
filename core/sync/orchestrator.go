package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrchestratorOptions configures the server side of sessions.
type OrchestratorOptions struct {
	// ScopeName restricts sessions to one scope when set.
	ScopeName string

	// BatchSize bounds rows per download batch and per apply transaction.
	BatchSize int

	// StoreTimeout bounds every store call.
	StoreTimeout time.Duration

	// SessionTTL expires idle sessions.
	SessionTTL time.Duration

	// Merge is used when a client asks for the merge policy. It receives the
	// client row as local and the server row as remote.
	Merge MergeFunc
}

// Orchestrator drives the server side of sessions against one store.
// It satisfies Remote for in-process use.
type Orchestrator struct {
	setup   *Setup
	scopes  *ScopeManager
	applier *Applier
	stage   BatchStage
	logger  *zap.Logger
	opts    OrchestratorOptions
	now     func() time.Time

	mu       gosync.Mutex
	sessions map[string]*serverSession
}

type serverSession struct {
	id          string
	tables      []TableSchema
	local       *ScopeInfo
	peer        *ScopeInfo
	initial     bool
	policy      ConflictPolicy
	current     int64
	download    *ChangeSet
	batches     []Batch
	computed    bool
	applied     bool
	lastTouched time.Time
	mu          gosync.Mutex
}

// NewOrchestrator creates an orchestrator serving setup from p. A nil stage
// uses an in-memory stage.
func NewOrchestrator(p Provider, setup *Setup, stage BatchStage, logger *zap.Logger, opts OrchestratorOptions) (*Orchestrator, error) {
	if setup == nil {
		return nil, fmt.Errorf("%w: orchestrator needs a table setup", ErrInvalidConfig)
	}
	if opts.BatchSize < 1 {
		return nil, fmt.Errorf("%w: batch size must be at least 1", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if stage == nil {
		stage = NewMemoryStage()
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * time.Minute
	}

	return &Orchestrator{
		setup:    setup,
		scopes:   NewScopeManager(p, logger, opts.StoreTimeout),
		applier:  NewApplier(p, logger, opts.BatchSize, opts.StoreTimeout),
		stage:    stage,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
		sessions: make(map[string]*serverSession),
	}, nil
}

// Scopes returns the scope manager of the server store.
func (o *Orchestrator) Scopes() *ScopeManager {
	return o.scopes
}

// BeginSession provisions the server scope if needed, checks that both sides
// agree on the schema and opens a session.
func (o *Orchestrator) BeginSession(ctx context.Context, req BeginRequest) (*BeginResponse, error) {
	o.expireSessions(ctx)

	if req.ScopeName == "" || req.ClientScopeID == "" {
		return nil, fmt.Errorf("%w: scope name and client scope id are required", ErrInvalidConfig)
	}
	if o.opts.ScopeName != "" && req.ScopeName != o.opts.ScopeName {
		return nil, fmt.Errorf("%w: scope %s is not served here", ErrInvalidConfig, req.ScopeName)
	}

	// The policy is expressed from the client's point of view
	policy := ConflictPolicy{Kind: req.Policy}
	if policy.Kind == PolicyMerge {
		policy.Merge = o.opts.Merge
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	policy = policy.Mirror()

	tables, err := o.setup.Tables(req.Tables)
	if err != nil {
		return nil, err
	}

	local, provisioned, err := o.scopes.LoadLocal(ctx, req.ScopeName, tables)
	if err != nil {
		return nil, err
	}
	if req.Fingerprint != "" && req.Fingerprint != local.Fingerprint {
		return nil, fmt.Errorf("%w: client and server columns of scope %s differ", ErrSchema, req.ScopeName)
	}
	if req.ClientScopeID == local.ID {
		return nil, fmt.Errorf("%w: client and server share scope id %s", ErrInvalidConfig, local.ID)
	}

	peer, initial, err := o.scopes.LoadPeer(ctx, local, req.ClientScopeID)
	if err != nil {
		return nil, err
	}

	session := &serverSession{
		id:          uuid.NewString(),
		tables:      tables,
		local:       local,
		peer:        peer,
		initial:     initial,
		policy:      policy,
		lastTouched: o.now(),
	}

	o.mu.Lock()
	o.sessions[session.id] = session
	o.mu.Unlock()

	o.logger.Info("Sync session started",
		zap.String("session_id", session.id),
		zap.String("scope", req.ScopeName),
		zap.String("client_scope_id", req.ClientScopeID),
		zap.Bool("initial", initial),
		zap.Int64("anchor", peer.LastSyncVersion))

	return &BeginResponse{
		SessionID:     session.id,
		ServerScopeID: local.ID,
		Fingerprint:   local.Fingerprint,
		Initial:       initial,
		Provisioned:   provisioned,
	}, nil
}

// ComputeChanges computes the server delta for the client of the session.
func (o *Orchestrator) ComputeChanges(ctx context.Context, sessionID string) (*ComputeResponse, error) {
	session, err := o.session(sessionID)
	if err != nil {
		return nil, err
	}
	session.mu.Lock()
	defer session.mu.Unlock()

	if !session.computed {
		err = WithTx(ctx, o.scopes.provider, o.opts.StoreTimeout, func(tx Tx) error {
			var err error
			err = bounded(ctx, o.opts.StoreTimeout, func(ctx context.Context) error {
				session.current, err = o.scopes.provider.CurrentVersion(ctx, tx)
				return err
			})
			if err != nil {
				return err
			}
			return bounded(ctx, o.opts.StoreTimeout, func(ctx context.Context) error {
				session.download, err = ComputeChanges(ctx, o.scopes.provider, tx, session.peer, session.tables, session.current, DeltaOptions{
					ExcludeOrigin: session.peer.PeerID,
					Initial:       session.initial,
				})
				return err
			})
		})
		if err != nil {
			return nil, fmt.Errorf("failed to compute server changes: %w", err)
		}
		session.computed = true
	}

	return &ComputeResponse{Changes: session.download.Len(), Version: session.current}, nil
}

// UploadBatch stages one batch of client changes.
func (o *Orchestrator) UploadBatch(ctx context.Context, sessionID string, batch Batch) error {
	if _, err := o.session(sessionID); err != nil {
		return err
	}
	if err := batch.Verify(); err != nil {
		return err
	}
	return o.stage.Put(ctx, sessionID, batch)
}

// ApplyChanges applies the staged upload at the server. Conflicts are
// resolved here and the download set is patched so both sides converge in
// this session: keys won by the client are dropped from the download and
// keys won by the server or merged are sent back as forced rows.
func (o *Orchestrator) ApplyChanges(ctx context.Context, sessionID string) (*ApplyResponse, error) {
	session, err := o.session(sessionID)
	if err != nil {
		return nil, err
	}
	session.mu.Lock()
	defer session.mu.Unlock()

	if !session.computed {
		return nil, fmt.Errorf("%w: server changes of session %s not computed yet", ErrInvalidConfig, sessionID)
	}
	if session.applied {
		return nil, fmt.Errorf("%w: session %s already applied", ErrInvalidConfig, sessionID)
	}

	batches, err := o.stage.List(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read staged batches: %w", err)
	}
	upload, err := Reassemble(batches)
	if err != nil {
		return nil, err
	}
	ordered, err := Order(upload, o.setup.Graph())
	if err != nil {
		return nil, err
	}

	result, err := o.applier.Apply(ctx, ApplyRequest{
		Tables:       session.tables,
		Changes:      ordered,
		Anchor:       session.peer.LastSyncVersion,
		LocalScope:   session.local.ID,
		RemoteScope:  session.peer.PeerID,
		MergedOrigin: session.peer.PeerID,
		Policy:       session.policy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply client changes: %w", err)
	}

	for _, rec := range result.Conflicts {
		id := rowID(rec.Table, rec.Key)
		switch rec.Resolution {
		case ResolutionApplyRemote, ResolutionFailed:
			session.download.Remove(id)
		case ResolutionKeepLocal, ResolutionMerged:
			session.download.Put(*rec.Result)
		}
	}
	sortChanges(session.download.Changes, session.download.Tables)

	session.batches, err = Split(session.download, o.opts.BatchSize)
	if err != nil {
		return nil, err
	}
	session.applied = true

	if err := o.stage.Drop(ctx, sessionID); err != nil {
		o.logger.Warn("Failed to drop staged batches", zap.String("session_id", sessionID), zap.Error(err))
	}

	o.logger.Info("Client changes applied",
		zap.String("session_id", sessionID),
		zap.Int("uploaded", upload.Len()),
		zap.Int("conflicts", len(result.Conflicts)),
		zap.Int("errors", len(result.Errors)))

	return &ApplyResponse{
		Uploaded:        upload.Len(),
		Stats:           result.Stats,
		Conflicts:       result.Conflicts,
		Errors:          result.Errors,
		DownloadChanges: session.download.Len(),
		DownloadBatches: len(session.batches),
	}, nil
}

// DownloadBatch returns one batch of the patched server delta.
func (o *Orchestrator) DownloadBatch(_ context.Context, sessionID string, index int) (*Batch, error) {
	session, err := o.session(sessionID)
	if err != nil {
		return nil, err
	}
	session.mu.Lock()
	defer session.mu.Unlock()

	if !session.applied {
		return nil, fmt.Errorf("%w: session %s has no download yet", ErrInvalidConfig, sessionID)
	}
	if index < 0 || index >= len(session.batches) {
		return nil, fmt.Errorf("%w: batch %d of %d requested", ErrIncompleteBatch, index, len(session.batches))
	}
	b := session.batches[index]
	return &b, nil
}

// CommitSession advances the server anchor for the client and closes the session.
func (o *Orchestrator) CommitSession(ctx context.Context, sessionID string) (*CommitResponse, error) {
	session, err := o.session(sessionID)
	if err != nil {
		return nil, err
	}
	session.mu.Lock()
	defer session.mu.Unlock()

	if !session.applied {
		return nil, fmt.Errorf("%w: session %s cannot commit before apply", ErrInvalidConfig, sessionID)
	}

	err = WithTx(ctx, o.scopes.provider, o.opts.StoreTimeout, func(tx Tx) error {
		return o.scopes.Commit(ctx, tx, session.peer, session.current, o.now())
	})
	if err != nil {
		return nil, err
	}

	o.remove(sessionID)
	o.logger.Info("Sync session committed",
		zap.String("session_id", sessionID),
		zap.Int64("version", session.current))

	return &CommitResponse{Version: session.current}, nil
}

// AbortSession discards a session and its staged batches.
func (o *Orchestrator) AbortSession(ctx context.Context, sessionID string) error {
	if _, err := o.session(sessionID); err != nil {
		return err
	}
	o.remove(sessionID)
	if err := o.stage.Drop(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to drop staged batches: %w", err)
	}
	o.logger.Info("Sync session aborted", zap.String("session_id", sessionID))
	return nil
}

// ActiveSessions returns the number of open sessions.
func (o *Orchestrator) ActiveSessions() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

func (o *Orchestrator) session(id string) (*serverSession, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if o.now().Sub(s.lastTouched) > o.opts.SessionTTL {
		delete(o.sessions, id)
		return nil, fmt.Errorf("%w: %s expired", ErrSessionNotFound, id)
	}
	s.lastTouched = o.now()
	return s, nil
}

func (o *Orchestrator) remove(id string) {
	o.mu.Lock()
	delete(o.sessions, id)
	o.mu.Unlock()
}

func (o *Orchestrator) expireSessions(ctx context.Context) {
	o.mu.Lock()
	var expired []string
	for id, s := range o.sessions {
		if o.now().Sub(s.lastTouched) > o.opts.SessionTTL {
			expired = append(expired, id)
			delete(o.sessions, id)
		}
	}
	o.mu.Unlock()

	for _, id := range expired {
		_ = o.stage.Drop(ctx, id)
		o.logger.Info("Sync session expired", zap.String("session_id", id))
	}
}
