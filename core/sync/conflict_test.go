package sync

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDetect tests the conflict detection rule.
func TestDetect(t *testing.T) {
	remote := TrackedRow{Table: "T", Key: Key{int64(1)}, Kind: ChangeUpdate, Row: Row{"ID": int64(1)}}

	tests := []struct {
		name     string
		local    *TrackedRow
		remote   TrackedRow
		conflict bool
	}{
		{name: "unknown locally", local: nil, remote: remote},
		{name: "local change before anchor", local: &TrackedRow{Version: 5, Kind: ChangeUpdate}, remote: remote},
		{name: "local change after anchor", local: &TrackedRow{Version: 11, Kind: ChangeUpdate}, remote: remote, conflict: true},
		{name: "local change came from the remote", local: &TrackedRow{Version: 11, Kind: ChangeUpdate, Origin: "remote"}, remote: remote},
		{name: "delete against delete", local: &TrackedRow{Version: 11, Kind: ChangeDelete}, remote: TrackedRow{Table: "T", Key: Key{int64(1)}, Kind: ChangeDelete}},
		{name: "delete against update", local: &TrackedRow{Version: 11, Kind: ChangeDelete}, remote: remote, conflict: true},
		{name: "forced remote", local: &TrackedRow{Version: 11, Kind: ChangeUpdate}, remote: TrackedRow{Table: "T", Key: Key{int64(1)}, Kind: ChangeUpdate, Forced: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Detect(tt.local, tt.remote, 10, "remote")
			assert.Equal(t, tt.conflict, rec != nil)
		})
	}
}

// TestConflictPolicy_Validate tests that a policy must be explicit.
func TestConflictPolicy_Validate(t *testing.T) {
	assert.ErrorIs(t, ConflictPolicy{}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, ConflictPolicy{Kind: PolicyMerge}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, ConflictPolicy{Kind: "coin_flip"}.Validate(), ErrInvalidConfig)
	assert.NoError(t, ConflictPolicy{Kind: PolicyRemoteWins}.Validate())

	kind, err := ParsePolicyKind(" Last_Write_Wins ")
	require.NoError(t, err)
	assert.Equal(t, PolicyLastWriteWins, kind)

	_, err = ParsePolicyKind("")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func conflictRecord(localAt, remoteAt int64) *ConflictRecord {
	return &ConflictRecord{
		Table:       "T",
		Key:         Key{int64(1)},
		Local:       TrackedRow{Table: "T", Key: Key{int64(1)}, Kind: ChangeUpdate, UpdatedAt: localAt, Row: Row{"ID": int64(1), "Name": "local"}},
		Remote:      TrackedRow{Table: "T", Key: Key{int64(1)}, Kind: ChangeUpdate, UpdatedAt: remoteAt, Row: Row{"ID": int64(1), "Name": "remote"}},
		LocalScope:  "scope-b",
		RemoteScope: "scope-a",
	}
}

// TestResolve_Policies tests the outcome of each policy.
func TestResolve_Policies(t *testing.T) {
	tests := []struct {
		name       string
		rec        *ConflictRecord
		policy     ConflictPolicy
		resolution Resolution
		winner     string
	}{
		{name: "remote wins", rec: conflictRecord(200, 100), policy: ConflictPolicy{Kind: PolicyRemoteWins}, resolution: ResolutionApplyRemote, winner: "remote"},
		{name: "local wins", rec: conflictRecord(100, 200), policy: ConflictPolicy{Kind: PolicyLocalWins}, resolution: ResolutionKeepLocal, winner: "local"},
		{name: "last write remote newer", rec: conflictRecord(100, 200), policy: ConflictPolicy{Kind: PolicyLastWriteWins}, resolution: ResolutionApplyRemote, winner: "remote"},
		{name: "last write local newer", rec: conflictRecord(300, 200), policy: ConflictPolicy{Kind: PolicyLastWriteWins}, resolution: ResolutionKeepLocal, winner: "local"},
		{name: "last write tie goes to higher scope id", rec: conflictRecord(200, 200), policy: ConflictPolicy{Kind: PolicyLastWriteWins}, resolution: ResolutionKeepLocal, winner: "local"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, Resolve(tt.rec, tt.policy))
			assert.Equal(t, tt.resolution, tt.rec.Resolution)
			require.NotNil(t, tt.rec.Result)
			assert.Equal(t, tt.winner, tt.rec.Result.Row["Name"])
			if tt.resolution == ResolutionKeepLocal {
				assert.True(t, tt.rec.Result.Forced)
			}
		})
	}
}

// TestResolve_LastWriteWinsSymmetric tests that both sides pick the same winner on a tie.
func TestResolve_LastWriteWinsSymmetric(t *testing.T) {
	atB := conflictRecord(200, 200)
	require.NoError(t, Resolve(atB, ConflictPolicy{Kind: PolicyLastWriteWins}))

	atA := &ConflictRecord{
		Table: "T", Key: Key{int64(1)},
		Local:       atB.Remote,
		Remote:      atB.Local,
		LocalScope:  atB.RemoteScope,
		RemoteScope: atB.LocalScope,
	}
	require.NoError(t, Resolve(atA, ConflictPolicy{Kind: PolicyLastWriteWins}))

	assert.Equal(t, atB.Result.Row["Name"], atA.Result.Row["Name"])
}

// TestResolve_Merge tests merged rows, merge deletes and merge failures.
func TestResolve_Merge(t *testing.T) {
	concat := func(table string, key Key, local, remote Row) (Row, error) {
		return Row{"ID": local["ID"], "Name": local["Name"].(string) + "+" + remote["Name"].(string)}, nil
	}

	rec := conflictRecord(1, 2)
	require.NoError(t, Resolve(rec, ConflictPolicy{Kind: PolicyMerge, Merge: concat}))
	assert.Equal(t, ResolutionMerged, rec.Resolution)
	assert.Equal(t, "local+remote", rec.Result.Row["Name"])
	assert.Equal(t, ChangeUpdate, rec.Result.Kind)
	assert.True(t, rec.Result.Forced)

	deleting := func(string, Key, Row, Row) (Row, error) { return nil, nil }
	rec = conflictRecord(1, 2)
	require.NoError(t, Resolve(rec, ConflictPolicy{Kind: PolicyMerge, Merge: deleting}))
	assert.Equal(t, ChangeDelete, rec.Result.Kind)

	boom := errors.New("boom")
	failing := func(string, Key, Row, Row) (Row, error) { return nil, boom }
	rec = conflictRecord(1, 2)
	err := Resolve(rec, ConflictPolicy{Kind: PolicyMerge, Merge: failing})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, ResolutionFailed, rec.Resolution)
	assert.Nil(t, rec.Result)
	assert.Contains(t, rec.Message, "boom")
}
