package sync_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"table-sync/core/sync"
	"table-sync/core/sync/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	customers = sync.TableSchema{
		Name:       "Customers",
		PrimaryKey: []string{"CustomerID"},
		Columns:    []string{"CustomerID", "FirstName", "LastName"},
	}
	serviceTickets = sync.TableSchema{
		Name:       "ServiceTickets",
		PrimaryKey: []string{"ServiceTicketID"},
		Columns:    []string{"ServiceTicketID", "Title", "StatusValue", "CustomerID"},
		ForeignKeys: []sync.ForeignKey{
			{Column: "CustomerID", Table: "Customers", ReferencedColumn: "CustomerID"},
		},
	}
)

type fakeClock struct {
	ms atomic.Int64
}

func (c *fakeClock) Now() time.Time {
	return time.UnixMilli(c.ms.Load())
}

func (c *fakeClock) Advance(d time.Duration) {
	c.ms.Add(d.Milliseconds())
}

type fixture struct {
	clock  *fakeClock
	server *memstore.Store
	client *memstore.Store
	setup  *sync.Setup
	orch   *sync.Orchestrator
	agent  *sync.Agent
}

// mergeNames joins the first names of both sides, client first.
func mergeNames(_ string, _ sync.Key, local, remote sync.Row) (sync.Row, error) {
	if local == nil || remote == nil {
		return nil, nil
	}
	out := remote.Clone()
	out["FirstName"] = fmt.Sprintf("%v|%v", local["FirstName"], remote["FirstName"])
	return out, nil
}

func newFixture(t *testing.T, batchSize int, clientTables ...sync.TableSchema) *fixture {
	t.Helper()

	clock := &fakeClock{}
	clock.ms.Store(1_700_000_000_000)

	server := memstore.New("server", memstore.WithClock(clock.Now))
	client := memstore.New("client", memstore.WithClock(clock.Now))
	require.NoError(t, server.CreateTable(customers))
	require.NoError(t, server.CreateTable(serviceTickets))

	if len(clientTables) == 0 {
		clientTables = []sync.TableSchema{customers, serviceTickets}
	}
	for _, table := range clientTables {
		require.NoError(t, client.CreateTable(table))
	}

	setup, err := sync.NewSetup(customers, serviceTickets)
	require.NoError(t, err)

	orch, err := sync.NewOrchestrator(server, setup, nil, zap.NewNop(), sync.OrchestratorOptions{
		BatchSize: batchSize,
		Merge:     mergeNames,
	})
	require.NoError(t, err)

	agent, err := sync.NewAgent(client, orch, setup, zap.NewNop(), sync.AgentOptions{
		BatchSize:   batchSize,
		MaxAttempts: 3,
	})
	require.NoError(t, err)

	return &fixture{clock: clock, server: server, client: client, setup: setup, orch: orch, agent: agent}
}

func (f *fixture) newAgent(t *testing.T, local sync.Provider, remote sync.Remote, opts sync.AgentOptions) *sync.Agent {
	t.Helper()
	if opts.BatchSize == 0 {
		opts.BatchSize = 100
	}
	agent, err := sync.NewAgent(local, remote, f.setup, zap.NewNop(), opts)
	require.NoError(t, err)
	return agent
}

func seedServer(t *testing.T, store *memstore.Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, "Customers", sync.Row{"CustomerID": 1, "FirstName": "John", "LastName": "Doe"}))
	require.NoError(t, store.Insert(ctx, "Customers", sync.Row{"CustomerID": 10, "FirstName": "Jane", "LastName": "Roe"}))
	for i := 1; i <= 5; i++ {
		customer := 1
		if i > 3 {
			customer = 10
		}
		require.NoError(t, store.Insert(ctx, "ServiceTickets", sync.Row{
			"ServiceTicketID": i,
			"Title":           fmt.Sprintf("Ticket %d", i),
			"StatusValue":     0,
			"CustomerID":      customer,
		}))
	}
}

var lww = sync.ConflictPolicy{Kind: sync.PolicyLastWriteWins}

func assertConverged(t *testing.T, f *fixture) {
	t.Helper()
	for _, table := range []string{"Customers", "ServiceTickets"} {
		assert.Equal(t, f.server.Rows(table), f.client.Rows(table), "table %s differs", table)
	}
}

// TestSynchronize_TwoTables tests the first sync deep copy, an empty second
// sync and propagation of deletes in reverse dependency order.
func TestSynchronize_TwoTables(t *testing.T) {
	for _, batchSize := range []int{1, 2, 100} {
		t.Run(fmt.Sprintf("batch size %d", batchSize), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, batchSize)
			seedServer(t, f.server)

			report, err := f.agent.Synchronize(ctx, "default", nil, lww)
			require.NoError(t, err)
			assert.Equal(t, 7, report.TotalDownloaded)
			assert.Equal(t, 0, report.TotalUploaded)
			assert.True(t, report.Initial)
			assert.Equal(t, 7, report.Download.Inserts)
			assert.Equal(t, 2, f.client.Count("Customers"))
			assert.Equal(t, 5, f.client.Count("ServiceTickets"))
			assertConverged(t, f)

			report, err = f.agent.Synchronize(ctx, "default", nil, lww)
			require.NoError(t, err)
			assert.Equal(t, 0, report.TotalDownloaded)
			assert.Equal(t, 0, report.TotalUploaded)
			assert.False(t, report.Initial)

			for i := 1; i <= 5; i++ {
				require.NoError(t, f.server.Delete(ctx, "ServiceTickets", sync.Key{int64(i)}))
			}
			require.NoError(t, f.server.Delete(ctx, "Customers", sync.Key{int64(1)}))
			require.NoError(t, f.server.Delete(ctx, "Customers", sync.Key{int64(10)}))

			report, err = f.agent.Synchronize(ctx, "default", nil, lww)
			require.NoError(t, err)
			assert.Equal(t, 7, report.TotalDownloaded)
			assert.Equal(t, 7, report.Download.Deletes)
			assert.Empty(t, report.Errors)
			assert.Equal(t, 0, f.client.Count("Customers"))
			assert.Equal(t, 0, f.client.Count("ServiceTickets"))
			assert.Equal(t, sync.StateIdle, f.agent.State())
		})
	}
}

// TestSynchronize_Bidirectional tests that changes on both sides meet.
func TestSynchronize_Bidirectional(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	seedServer(t, f.server)

	_, err := f.agent.Synchronize(ctx, "default", nil, lww)
	require.NoError(t, err)

	require.NoError(t, f.client.Insert(ctx, "Customers", sync.Row{"CustomerID": 20, "FirstName": "Ann", "LastName": "Lee"}))
	require.NoError(t, f.client.Insert(ctx, "ServiceTickets", sync.Row{"ServiceTicketID": 6, "Title": "New", "StatusValue": 1, "CustomerID": 20}))
	require.NoError(t, f.server.Update(ctx, "Customers", sync.Row{"CustomerID": 1, "LastName": "Doe-Smith"}))
	require.NoError(t, f.server.Delete(ctx, "ServiceTickets", sync.Key{int64(5)}))

	report, err := f.agent.Synchronize(ctx, "default", nil, lww)
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalUploaded)
	assert.Equal(t, 2, report.Upload.Inserts)
	assert.Equal(t, 2, report.TotalDownloaded)
	assert.Equal(t, 1, report.Download.Updates)
	assert.Equal(t, 1, report.Download.Deletes)
	assert.Equal(t, 0, report.ConflictsResolved)
	assertConverged(t, f)

	// Idempotence: nothing new on either side
	report, err = f.agent.Synchronize(ctx, "default", nil, lww)
	require.NoError(t, err)
	assert.Equal(t, 0, report.TotalUploaded)
	assert.Equal(t, 0, report.TotalDownloaded)
	assert.Equal(t, 0, report.ConflictsResolved)
}

// TestSynchronize_InitialUpload tests a first sync from a populated client to an empty server.
func TestSynchronize_InitialUpload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	seedServer(t, f.client)

	report, err := f.agent.Synchronize(ctx, "default", nil, lww)
	require.NoError(t, err)
	assert.Equal(t, 7, report.TotalUploaded)
	assert.Equal(t, 0, report.TotalDownloaded)
	assertConverged(t, f)
}

// TestSynchronize_LastWriteWinsConverges tests that a row updated on both
// sides ends up with the newer value everywhere with exactly one conflict.
func TestSynchronize_LastWriteWinsConverges(t *testing.T) {
	tests := []struct {
		name         string
		serverFirst  bool
		want         string
		uploaded     int
		downloaded   int
		resolutionAt sync.Resolution
	}{
		{name: "server newer", serverFirst: false, want: "server", uploaded: 1, downloaded: 1, resolutionAt: sync.ResolutionKeepLocal},
		{name: "client newer", serverFirst: true, want: "client", uploaded: 1, downloaded: 0, resolutionAt: sync.ResolutionApplyRemote},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, 100)
			seedServer(t, f.server)
			_, err := f.agent.Synchronize(ctx, "default", nil, lww)
			require.NoError(t, err)

			write := func(store *memstore.Store, name string) {
				f.clock.Advance(time.Second)
				require.NoError(t, store.Update(ctx, "Customers", sync.Row{"CustomerID": 1, "FirstName": name}))
			}
			if tt.serverFirst {
				write(f.server, "server")
				write(f.client, "client")
			} else {
				write(f.client, "client")
				write(f.server, "server")
			}

			report, err := f.agent.Synchronize(ctx, "default", nil, lww)
			require.NoError(t, err)
			assert.Equal(t, 1, report.ConflictsResolved)
			assert.Equal(t, map[sync.Resolution]int{tt.resolutionAt: 1}, report.Conflicts)
			assert.Equal(t, tt.uploaded, report.TotalUploaded)
			assert.Equal(t, tt.downloaded, report.TotalDownloaded)

			serverRow, _ := f.server.Get("Customers", sync.Key{int64(1)})
			clientRow, _ := f.client.Get("Customers", sync.Key{int64(1)})
			assert.Equal(t, tt.want, serverRow["FirstName"])
			assert.Equal(t, tt.want, clientRow["FirstName"])
			assertConverged(t, f)

			report, err = f.agent.Synchronize(ctx, "default", nil, lww)
			require.NoError(t, err)
			assert.Equal(t, 0, report.ConflictsResolved)
			assert.Equal(t, 0, report.TotalUploaded)
			assert.Equal(t, 0, report.TotalDownloaded)
		})
	}
}

// TestSynchronize_Policies tests the explicit winner policies and merge.
func TestSynchronize_Policies(t *testing.T) {
	tests := []struct {
		name   string
		policy sync.ConflictPolicy
		want   string
	}{
		{name: "remote wins keeps the server row", policy: sync.ConflictPolicy{Kind: sync.PolicyRemoteWins}, want: "server"},
		{name: "local wins keeps the client row", policy: sync.ConflictPolicy{Kind: sync.PolicyLocalWins}, want: "client"},
		{name: "merge combines both rows", policy: sync.ConflictPolicy{Kind: sync.PolicyMerge, Merge: mergeNames}, want: "client|server"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, 100)
			seedServer(t, f.server)
			_, err := f.agent.Synchronize(ctx, "default", nil, tt.policy)
			require.NoError(t, err)

			require.NoError(t, f.server.Update(ctx, "Customers", sync.Row{"CustomerID": 10, "FirstName": "server"}))
			require.NoError(t, f.client.Update(ctx, "Customers", sync.Row{"CustomerID": 10, "FirstName": "client"}))

			report, err := f.agent.Synchronize(ctx, "default", nil, tt.policy)
			require.NoError(t, err)
			assert.Equal(t, 1, report.ConflictsResolved)

			serverRow, _ := f.server.Get("Customers", sync.Key{int64(10)})
			clientRow, _ := f.client.Get("Customers", sync.Key{int64(10)})
			assert.Equal(t, tt.want, serverRow["FirstName"])
			assert.Equal(t, tt.want, clientRow["FirstName"])

			report, err = f.agent.Synchronize(ctx, "default", nil, tt.policy)
			require.NoError(t, err)
			assert.Equal(t, 0, report.TotalUploaded+report.TotalDownloaded+report.ConflictsResolved)
		})
	}
}

// TestSynchronize_RequiresPolicy tests that no policy means no session.
func TestSynchronize_RequiresPolicy(t *testing.T) {
	f := newFixture(t, 10)

	_, err := f.agent.Synchronize(context.Background(), "default", nil, sync.ConflictPolicy{})
	require.Error(t, err)
	assert.ErrorIs(t, err, sync.ErrInvalidConfig)
	assert.Equal(t, sync.StateFailed, f.agent.State())
}

// TestSynchronize_RowErrorsAreReported tests that a failing row does not abort the session.
func TestSynchronize_RowErrorsAreReported(t *testing.T) {
	ctx := context.Background()

	looseTickets := serviceTickets
	looseTickets.ForeignKeys = nil
	f := newFixture(t, 2, customers, looseTickets)
	seedServer(t, f.server)

	require.NoError(t, f.client.Insert(ctx, "ServiceTickets", sync.Row{"ServiceTicketID": 100, "Title": "Orphan", "StatusValue": 0, "CustomerID": 99}))

	report, err := f.agent.Synchronize(ctx, "default", nil, lww)
	require.NoError(t, err)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "ServiceTickets", report.Errors[0].Table)
	assert.Equal(t, sync.Key{int64(100)}, report.Errors[0].Key)
	assert.ErrorIs(t, report.Errors[0], memstore.ErrForeignKey)
	assert.Equal(t, 0, report.TotalUploaded)
	assert.Equal(t, 7, report.TotalDownloaded)
}

// hookRemote runs callbacks before forwarding selected calls.
type hookRemote struct {
	sync.Remote
	beforeApply    func(ctx context.Context)
	beforeDownload func()
}

func (h *hookRemote) ApplyChanges(ctx context.Context, sessionID string) (*sync.ApplyResponse, error) {
	if h.beforeApply != nil {
		h.beforeApply(ctx)
	}
	return h.Remote.ApplyChanges(ctx, sessionID)
}

func (h *hookRemote) DownloadBatch(ctx context.Context, sessionID string, index int) (*sync.Batch, error) {
	if h.beforeDownload != nil {
		h.beforeDownload()
	}
	return h.Remote.DownloadBatch(ctx, sessionID, index)
}

// TestSynchronize_CancelLeavesScopesUntouched tests that a cancelled session
// commits nothing and the next session redoes the work.
func TestSynchronize_CancelLeavesScopesUntouched(t *testing.T) {
	f := newFixture(t, 100)
	seedServer(t, f.server)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agent := f.newAgent(t, f.client, &hookRemote{Remote: f.orch, beforeDownload: cancel}, sync.AgentOptions{})
	_, err := agent.Synchronize(ctx, "default", nil, lww)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, sync.StateFailed, agent.State())

	var syncErr *sync.SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, sync.StateChangesComputed, syncErr.State)
	assert.Equal(t, 0, f.client.Count("Customers"))
	assert.Equal(t, 0, f.orch.ActiveSessions())

	report, err := f.agent.Synchronize(context.Background(), "default", nil, lww)
	require.NoError(t, err)
	assert.Equal(t, 7, report.TotalDownloaded)
}

// TestSynchronize_ScopeConflict tests that a concurrent session on the same
// scope pair makes the slower one fail with a retryable error.
func TestSynchronize_ScopeConflict(t *testing.T) {
	f := newFixture(t, 100)
	seedServer(t, f.server)

	var innerErr error
	hook := &hookRemote{Remote: f.orch}
	hook.beforeApply = func(ctx context.Context) {
		hook.beforeApply = nil
		_, innerErr = f.agent.Synchronize(ctx, "default", nil, lww)
	}

	agent := f.newAgent(t, f.client, hook, sync.AgentOptions{})
	_, err := agent.Synchronize(context.Background(), "default", nil, lww)
	require.NoError(t, innerErr)
	require.Error(t, err)
	assert.ErrorIs(t, err, sync.ErrScopeConflict)
	assert.True(t, sync.IsRetryable(err))

	report, err := f.agent.SynchronizeWithRetry(context.Background(), "default", nil, lww)
	require.NoError(t, err)
	assert.Equal(t, 0, report.TotalDownloaded)
	assertConverged(t, f)
}

// slowStore delays CurrentVersion until the context expires.
type slowStore struct {
	*memstore.Store
}

func (s *slowStore) CurrentVersion(ctx context.Context, tx sync.Tx) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(5 * time.Second):
		return s.Store.CurrentVersion(ctx, tx)
	}
}

// TestSynchronize_StoreTimeout tests that a slow store call fails the session with ErrTimeout.
func TestSynchronize_StoreTimeout(t *testing.T) {
	f := newFixture(t, 100)
	seedServer(t, f.server)

	agent := f.newAgent(t, &slowStore{Store: f.client}, f.orch, sync.AgentOptions{StoreTimeout: 20 * time.Millisecond})
	_, err := agent.Synchronize(context.Background(), "default", nil, lww)
	require.Error(t, err)
	assert.ErrorIs(t, err, sync.ErrTimeout)
	assert.True(t, sync.IsRetryable(err))
	assert.Equal(t, sync.StateFailed, agent.State())
}

// TestSynchronize_TransactionWaitTimeout tests that waiting for a transaction
// held by another writer fails the session with ErrTimeout.
func TestSynchronize_TransactionWaitTimeout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)
	seedServer(t, f.server)

	held, err := f.client.Begin(ctx)
	require.NoError(t, err)

	agent := f.newAgent(t, f.client, f.orch, sync.AgentOptions{StoreTimeout: 50 * time.Millisecond})

	done := make(chan error, 1)
	go func() {
		_, err := agent.Synchronize(ctx, "default", nil, lww)
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, sync.ErrTimeout)
		assert.True(t, sync.IsRetryable(err))
	case <-time.After(2 * time.Second):
		t.Fatal("Synchronize did not return while the store was locked")
	}

	require.NoError(t, held.Rollback())

	report, err := agent.Synchronize(ctx, "default", nil, lww)
	require.NoError(t, err)
	assert.Equal(t, 7, report.TotalDownloaded)
	assertConverged(t, f)
}

// TestSynchronize_LastWriteWinsAcrossClients tests that the write time of a
// change relayed through the server is kept, so the later of two client
// writes wins.
func TestSynchronize_LastWriteWinsAcrossClients(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)
	seedServer(t, f.server)

	other := memstore.New("client-b", memstore.WithClock(f.clock.Now))
	require.NoError(t, other.CreateTable(customers))
	require.NoError(t, other.CreateTable(serviceTickets))
	agentB := f.newAgent(t, other, f.orch, sync.AgentOptions{MaxAttempts: 1})

	_, err := f.agent.Synchronize(ctx, "default", nil, lww)
	require.NoError(t, err)
	_, err = agentB.Synchronize(ctx, "default", nil, lww)
	require.NoError(t, err)

	f.clock.Advance(time.Second)
	require.NoError(t, f.client.Update(ctx, "Customers", sync.Row{"CustomerID": 1, "FirstName": "A-early"}))
	f.clock.Advance(time.Second)
	require.NoError(t, other.Update(ctx, "Customers", sync.Row{"CustomerID": 1, "FirstName": "B-later"}))

	f.clock.Advance(time.Second)
	report, err := f.agent.Synchronize(ctx, "default", nil, lww)
	require.NoError(t, err)
	assert.Equal(t, 0, report.ConflictsResolved)

	f.clock.Advance(time.Second)
	report, err = agentB.Synchronize(ctx, "default", nil, lww)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ConflictsResolved)
	assert.Equal(t, map[sync.Resolution]int{sync.ResolutionApplyRemote: 1}, report.Conflicts)

	_, err = f.agent.Synchronize(ctx, "default", nil, lww)
	require.NoError(t, err)

	for name, store := range map[string]*memstore.Store{"server": f.server, "client-a": f.client, "client-b": other} {
		row, ok := store.Get("Customers", sync.Key{int64(1)})
		require.True(t, ok, name)
		assert.Equal(t, "B-later", row["FirstName"], name)
	}
}

// TestSynchronize_SchemaMismatch tests that differing columns are rejected.
func TestSynchronize_SchemaMismatch(t *testing.T) {
	wide := customers
	wide.Columns = append([]string{"Email"}, customers.Columns...)
	f := newFixture(t, 10, wide, serviceTickets)

	_, err := f.agent.Synchronize(context.Background(), "default", nil, lww)
	require.Error(t, err)
	assert.ErrorIs(t, err, sync.ErrSchema)
	assert.False(t, sync.IsRetryable(err))
}

// TestOrchestrator_Sessions tests session lookup, ordering rules and expiry.
func TestOrchestrator_Sessions(t *testing.T) {
	ctx := context.Background()
	server := memstore.New("server")
	require.NoError(t, server.CreateTable(customers))
	require.NoError(t, server.CreateTable(serviceTickets))
	setup, err := sync.NewSetup(customers, serviceTickets)
	require.NoError(t, err)

	orch, err := sync.NewOrchestrator(server, setup, nil, zap.NewNop(), sync.OrchestratorOptions{BatchSize: 10, SessionTTL: 20 * time.Millisecond})
	require.NoError(t, err)

	_, err = orch.ComputeChanges(ctx, "missing")
	assert.ErrorIs(t, err, sync.ErrSessionNotFound)

	_, err = orch.BeginSession(ctx, sync.BeginRequest{ScopeName: "default", ClientScopeID: "c1", Policy: sync.PolicyMerge})
	assert.ErrorIs(t, err, sync.ErrInvalidConfig)

	begin, err := orch.BeginSession(ctx, sync.BeginRequest{ScopeName: "default", ClientScopeID: "c1", Policy: sync.PolicyRemoteWins})
	require.NoError(t, err)
	assert.True(t, begin.Initial)
	assert.True(t, begin.Provisioned)

	_, err = orch.ApplyChanges(ctx, begin.SessionID)
	assert.ErrorIs(t, err, sync.ErrInvalidConfig)

	time.Sleep(50 * time.Millisecond)
	_, err = orch.ComputeChanges(ctx, begin.SessionID)
	assert.True(t, errors.Is(err, sync.ErrSessionNotFound))
	assert.Equal(t, 0, orch.ActiveSessions())
}
