// Package sync implements scope based, bidirectional table synchronization
// between one server store and any number of client stores.
//
// Every store keeps a per-row change history with monotonically increasing
// version stamps. A session brings two stores in line by exchanging only the
// changes made since the last successful session between them.
//
// # Architecture
//
// The package is built from small pieces that only depend on the Provider
// contract, never on a concrete database:
//
// 1. ScopeManager: loads the scope rows of a store, provisions the change
// tracking infrastructure on first use and commits anchors with
// compare-and-swap on their revision.
//
// 2. ComputeChanges and Coalesce: select the changes between an anchor and
// the current version and reduce them to one change per key.
//
// 3. Split and Reassemble: cut a change set into checksummed batches and put
// it back together, rejecting gaps and conflicting duplicates.
//
// 4. DependencyGraph and Order: sort tables by foreign keys so parents are
// written before children and deleted after them.
//
// 5. Detect and Resolve: find rows changed on both sides and settle them with
// an explicit ConflictPolicy.
//
// 6. Agent and Orchestrator: the client and server halves of a session. The
// Agent talks to any Remote, either an Orchestrator in process or the HTTP
// client of the syncclient feature.
//
// # Session
//
// A session moves through the states Idle, ScopeLoaded, ChangesComputed,
// ChangesApplied and ScopeCommitted, or ends in Failed. Conflicts are
// resolved at the server while the upload is applied; the server then
// removes the keys the client won from its download and sends the rows it
// won back as forced changes, so both sides converge in one session and
// every conflict is counted once.
//
// Changes applied on behalf of a peer are tagged with the peer's scope id as
// origin. Delta computation skips them, which keeps a second session without
// new writes empty.
//
// # Usage Example
//
//	setup, err := sync.NewSetup(customers, serviceTickets)
//	orchestrator, err := sync.NewOrchestrator(serverStore, setup, nil, logger, sync.OrchestratorOptions{BatchSize: 500})
//	agent, err := sync.NewAgent(clientStore, orchestrator, setup, logger, sync.AgentOptions{BatchSize: 500})
//
//	report, err := agent.Synchronize(ctx, "default", nil, sync.ConflictPolicy{Kind: sync.PolicyLastWriteWins})
package sync
