package sync

import "time"

// SessionReport summarizes a completed session.
type SessionReport struct {
	SessionID string `json:"session_id"`
	ScopeName string `json:"scope_name"`

	// TotalUploaded counts client changes applied at the server, including
	// rows whose conflict was resolved.
	TotalUploaded int `json:"total_uploaded"`

	// TotalDownloaded counts server changes applied at the client.
	TotalDownloaded int `json:"total_downloaded"`

	// ConflictsResolved counts conflicts resolved on either side.
	ConflictsResolved int `json:"conflicts_resolved"`

	// Conflicts counts conflicts per resolution.
	Conflicts map[Resolution]int `json:"conflicts"`

	Upload   ApplyStats `json:"upload"`
	Download ApplyStats `json:"download"`

	// Errors lists rows that could not be applied on either side.
	Errors []RowError `json:"errors"`

	// Initial is true for the first session between the two scopes.
	Initial bool `json:"initial"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Duration returns how long the session took.
func (r *SessionReport) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

func (r *SessionReport) addConflicts(records []ConflictRecord) {
	for _, rec := range records {
		if r.Conflicts == nil {
			r.Conflicts = make(map[Resolution]int)
		}
		r.Conflicts[rec.Resolution]++
		if rec.Resolution != ResolutionFailed {
			r.ConflictsResolved++
		}
	}
}
