package sync

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCompareKeys tests numeric, string and composite key ordering.
func TestCompareKeys(t *testing.T) {
	tests := []struct {
		name string
		a, b Key
		want int
	}{
		{name: "numeric less", a: Key{int64(2)}, b: Key{int64(10)}, want: -1},
		{name: "numeric mixed types", a: Key{int64(3)}, b: Key{3.0}, want: 0},
		{name: "string", a: Key{"b"}, b: Key{"a"}, want: 1},
		{name: "composite second column", a: Key{int64(1), "x"}, b: Key{int64(1), "y"}, want: -1},
		{name: "shorter first", a: Key{int64(1)}, b: Key{int64(1), "a"}, want: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CompareKeys(tt.a, tt.b))
		})
	}
}

// TestKey_JSONKeepsIntegers tests that decoded keys keep integral values as int64.
func TestKey_JSONKeepsIntegers(t *testing.T) {
	key := Key{int64(42), "abc"}
	assert.Equal(t, `[42,"abc"]`, key.String())

	parsed, err := ParseKey(key.String())
	require.NoError(t, err)
	assert.Equal(t, key, parsed)
	assert.Equal(t, key.String(), parsed.String())
}

// TestTrackedRow_JSONRoundTrip tests that a tracked row survives transport unchanged.
func TestTrackedRow_JSONRoundTrip(t *testing.T) {
	row := TrackedRow{
		Table:     "Customers",
		Key:       Key{int64(1)},
		Kind:      ChangeUpdate,
		Version:   7,
		Origin:    "scope-a",
		UpdatedAt: 1700000000000,
		Row:       Row{"CustomerID": int64(1), "Name": "Ada", "Balance": 12.5},
	}

	data, err := json.Marshal(row)
	require.NoError(t, err)

	var decoded TrackedRow
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, row, decoded)
}

// TestKeyFromRow_MissingColumn tests that a missing key column is an error.
func TestKeyFromRow_MissingColumn(t *testing.T) {
	_, err := KeyFromRow(Row{"Name": "x"}, []string{"ID"})
	assert.Error(t, err)

	key, err := KeyFromRow(Row{"ID": 5, "Tenant": "t1"}, []string{"Tenant", "ID"})
	require.NoError(t, err)
	assert.Equal(t, Key{"t1", int64(5)}, key)
}

// TestChangeSet_PutAndRemove tests keyed replacement in a change set.
func TestChangeSet_PutAndRemove(t *testing.T) {
	cs := &ChangeSet{}
	cs.Put(TrackedRow{Table: "T", Key: Key{int64(1)}, Kind: ChangeInsert})
	cs.Put(TrackedRow{Table: "T", Key: Key{int64(1)}, Kind: ChangeUpdate})
	cs.Put(TrackedRow{Table: "T", Key: Key{int64(2)}, Kind: ChangeDelete})

	require.Equal(t, 2, cs.Len())
	assert.Equal(t, ChangeUpdate, cs.Changes[0].Kind)

	assert.True(t, cs.Remove(rowID("T", Key{int64(2)})))
	assert.False(t, cs.Remove(rowID("T", Key{int64(3)})))
	assert.Equal(t, 1, cs.Len())
}
