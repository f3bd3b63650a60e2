package sync

import "context"

// BeginRequest opens a server session for a client scope.
type BeginRequest struct {
	ScopeName     string     `json:"scope_name"`
	ClientScopeID string     `json:"client_scope_id"`
	Tables        []string   `json:"tables"`
	Fingerprint   string     `json:"fingerprint"`
	Policy        PolicyKind `json:"policy"`
}

// BeginResponse describes the opened session.
type BeginResponse struct {
	SessionID     string `json:"session_id"`
	ServerScopeID string `json:"server_scope_id"`
	Fingerprint   string `json:"fingerprint"`

	// Initial is true when the server never synchronized with this client.
	Initial bool `json:"initial"`

	// Provisioned is true when the server scope was created by this request.
	Provisioned bool `json:"provisioned"`
}

// ComputeResponse reports the server side delta of a session.
type ComputeResponse struct {
	Changes int   `json:"changes"`
	Version int64 `json:"version"`
}

// ApplyResponse reports how the uploaded changes were applied at the server.
type ApplyResponse struct {
	Uploaded        int              `json:"uploaded"`
	Stats           ApplyStats       `json:"stats"`
	Conflicts       []ConflictRecord `json:"conflicts"`
	Errors          []RowError       `json:"errors"`
	DownloadChanges int              `json:"download_changes"`
	DownloadBatches int              `json:"download_batches"`
}

// CommitResponse reports the anchor stored by the server.
type CommitResponse struct {
	Version int64 `json:"version"`
}

// Remote is the server end of a session as seen by an Agent. The
// Orchestrator implements it in process and the HTTP client over the wire.
type Remote interface {
	BeginSession(ctx context.Context, req BeginRequest) (*BeginResponse, error)
	ComputeChanges(ctx context.Context, sessionID string) (*ComputeResponse, error)
	UploadBatch(ctx context.Context, sessionID string, batch Batch) error
	ApplyChanges(ctx context.Context, sessionID string) (*ApplyResponse, error)
	DownloadBatch(ctx context.Context, sessionID string, index int) (*Batch, error)
	CommitSession(ctx context.Context, sessionID string) (*CommitResponse, error)
	AbortSession(ctx context.Context, sessionID string) error
}
