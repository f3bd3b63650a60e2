package sync

import (
	"fmt"
	"strings"
)

// PolicyKind names a conflict resolution policy.
type PolicyKind string

const (
	// PolicyRemoteWins applies the incoming change.
	PolicyRemoteWins PolicyKind = "remote_wins"
	// PolicyLocalWins keeps the local row and sends it back to the peer.
	PolicyLocalWins PolicyKind = "local_wins"
	// PolicyLastWriteWins keeps the change with the later timestamp.
	PolicyLastWriteWins PolicyKind = "last_write_wins"
	// PolicyMerge combines both rows with a caller-supplied function.
	PolicyMerge PolicyKind = "merge"
)

// ParsePolicyKind parses a configured policy name.
func ParsePolicyKind(s string) (PolicyKind, error) {
	switch k := PolicyKind(strings.ToLower(strings.TrimSpace(s))); k {
	case PolicyRemoteWins, PolicyLocalWins, PolicyLastWriteWins, PolicyMerge:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown conflict policy %q", ErrInvalidConfig, s)
	}
}

// MergeFunc combines the local and remote versions of a row. Either side is
// nil when that side deleted the row. Returning a nil row deletes it.
type MergeFunc func(table string, key Key, local, remote Row) (Row, error)

// ConflictPolicy selects how conflicts are resolved. There is no default:
// the zero value is rejected.
type ConflictPolicy struct {
	Kind  PolicyKind
	Merge MergeFunc
}

// Validate checks that the policy is usable.
func (p ConflictPolicy) Validate() error {
	switch p.Kind {
	case "":
		return fmt.Errorf("%w: a conflict policy is required", ErrInvalidConfig)
	case PolicyRemoteWins, PolicyLocalWins, PolicyLastWriteWins:
		return nil
	case PolicyMerge:
		if p.Merge == nil {
			return fmt.Errorf("%w: merge policy without a merge function", ErrInvalidConfig)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown conflict policy %q", ErrInvalidConfig, p.Kind)
	}
}

// Mirror returns the same policy as seen from the other peer: remote and
// local swap roles, and the merge function receives its rows swapped.
func (p ConflictPolicy) Mirror() ConflictPolicy {
	switch p.Kind {
	case PolicyRemoteWins:
		return ConflictPolicy{Kind: PolicyLocalWins}
	case PolicyLocalWins:
		return ConflictPolicy{Kind: PolicyRemoteWins}
	case PolicyMerge:
		if p.Merge == nil {
			return p
		}
		merge := p.Merge
		return ConflictPolicy{Kind: PolicyMerge, Merge: func(table string, key Key, local, remote Row) (Row, error) {
			return merge(table, key, remote, local)
		}}
	default:
		return p
	}
}

// Resolution is the outcome of a resolved conflict.
type Resolution string

const (
	// ResolutionApplyRemote means the incoming change was applied.
	ResolutionApplyRemote Resolution = "apply_remote"
	// ResolutionKeepLocal means the local row was kept and sent back.
	ResolutionKeepLocal Resolution = "keep_local"
	// ResolutionMerged means a merged row was applied and sent back.
	ResolutionMerged Resolution = "merged"
	// ResolutionFailed means the conflict could not be resolved.
	ResolutionFailed Resolution = "failed"
)

// ConflictRecord describes one detected conflict and its outcome.
type ConflictRecord struct {
	Table  string     `json:"table"`
	Key    Key        `json:"key"`
	Local  TrackedRow `json:"local"`
	Remote TrackedRow `json:"remote"`

	// LocalScope and RemoteScope are the scope ids of both sides,
	// used to break timestamp ties.
	LocalScope  string `json:"local_scope"`
	RemoteScope string `json:"remote_scope"`

	Policy     PolicyKind `json:"policy"`
	Resolution Resolution `json:"resolution"`

	// Result is the change that wins. For ApplyRemote it is applied locally,
	// for KeepLocal it is sent to the peer, for Merged both.
	Result *TrackedRow `json:"result,omitempty"`

	Message string `json:"error,omitempty"`
	Err     error  `json:"-"`
}

// Detect reports a conflict when the local row changed after the anchor the
// remote change was computed against and that local change did not come from
// the remote itself. Two deletes never conflict.
func Detect(local *TrackedRow, remote TrackedRow, anchor int64, remoteOrigin string) *ConflictRecord {
	if local == nil || remote.Forced {
		return nil
	}
	if local.Version <= anchor {
		return nil
	}
	if remoteOrigin != "" && local.Origin == remoteOrigin {
		return nil
	}
	if local.IsDelete() && remote.IsDelete() {
		return nil
	}
	return &ConflictRecord{
		Table:  remote.Table,
		Key:    remote.Key,
		Local:  *local,
		Remote: remote,
	}
}

// Resolve applies policy to a detected conflict and fills in its outcome.
// Merge failures mark the record failed and return the error.
func Resolve(rec *ConflictRecord, policy ConflictPolicy) error {
	rec.Policy = policy.Kind

	switch policy.Kind {
	case PolicyRemoteWins:
		rec.applyRemote()
	case PolicyLocalWins:
		rec.keepLocal()
	case PolicyLastWriteWins:
		if remoteIsNewer(rec) {
			rec.applyRemote()
		} else {
			rec.keepLocal()
		}
	case PolicyMerge:
		return rec.merge(policy.Merge)
	default:
		err := policy.Validate()
		if err == nil {
			err = fmt.Errorf("%w: unsupported policy %q", ErrInvalidConfig, policy.Kind)
		}
		rec.fail(err)
		return err
	}
	return nil
}

func remoteIsNewer(rec *ConflictRecord) bool {
	if rec.Remote.UpdatedAt != rec.Local.UpdatedAt {
		return rec.Remote.UpdatedAt > rec.Local.UpdatedAt
	}
	return rec.RemoteScope > rec.LocalScope
}

func (rec *ConflictRecord) applyRemote() {
	result := rec.Remote
	rec.Resolution = ResolutionApplyRemote
	rec.Result = &result
}

func (rec *ConflictRecord) keepLocal() {
	result := rec.Local
	result.Key = rec.Key
	result.Table = rec.Table
	result.Forced = true
	if result.Kind == ChangeInsert {
		result.Kind = ChangeUpdate
	}
	rec.Resolution = ResolutionKeepLocal
	rec.Result = &result
}

func (rec *ConflictRecord) merge(fn MergeFunc) error {
	if fn == nil {
		err := fmt.Errorf("%w: merge policy without a merge function", ErrInvalidConfig)
		rec.fail(err)
		return err
	}

	var local, remote Row
	if !rec.Local.IsDelete() {
		local = rec.Local.Row.Clone()
	}
	if !rec.Remote.IsDelete() {
		remote = rec.Remote.Row.Clone()
	}

	merged, err := fn(rec.Table, rec.Key, local, remote)
	if err != nil {
		rec.fail(fmt.Errorf("merge of %s %s failed: %w", rec.Table, rec.Key, err))
		return rec.Err
	}

	result := TrackedRow{
		Table:     rec.Table,
		Key:       rec.Key,
		Kind:      ChangeUpdate,
		UpdatedAt: max(rec.Local.UpdatedAt, rec.Remote.UpdatedAt),
		Row:       merged,
		Forced:    true,
	}
	if merged == nil {
		result.Kind = ChangeDelete
		result.Row = rec.Local.Row.Clone()
		if result.Row == nil {
			result.Row = rec.Remote.Row.Clone()
		}
	}
	rec.Resolution = ResolutionMerged
	rec.Result = &result
	return nil
}

func (rec *ConflictRecord) fail(err error) {
	rec.Resolution = ResolutionFailed
	rec.Result = nil
	rec.Err = err
	rec.Message = err.Error()
}
