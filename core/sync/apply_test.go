package sync_test

import (
	"context"
	"testing"

	"table-sync/core/sync"
	"table-sync/core/sync/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var employees = sync.TableSchema{
	Name:       "Employees",
	PrimaryKey: []string{"EmployeeID"},
	Columns:    []string{"EmployeeID", "Name", "ManagerID"},
	ForeignKeys: []sync.ForeignKey{
		{Column: "ManagerID", Table: "Employees", ReferencedColumn: "EmployeeID"},
	},
}

func employee(id int64, manager any) sync.TrackedRow {
	return sync.TrackedRow{
		Table: "Employees",
		Key:   sync.Key{id},
		Kind:  sync.ChangeInsert,
		Row:   sync.Row{"EmployeeID": id, "Name": "E", "ManagerID": manager},
	}
}

func newEmployeeStore(t *testing.T) *memstore.Store {
	t.Helper()
	ctx := context.Background()

	store := memstore.New("receiver")
	require.NoError(t, store.CreateTable(employees))
	err := sync.WithTx(ctx, store, 0, func(tx sync.Tx) error {
		return store.EnsureTrackingInfrastructure(ctx, tx, []sync.TableSchema{employees})
	})
	require.NoError(t, err)
	return store
}

// TestApplier_SelfReferencingChain tests that a self-referencing chain
// arriving children first is applied completely, and that a row whose parent
// never arrives is reported once no more rows can be applied.
func TestApplier_SelfReferencingChain(t *testing.T) {
	tests := []struct {
		name    string
		changes []sync.TrackedRow
		applied int
		failed  []string
	}{
		{
			name: "chain of four",
			changes: []sync.TrackedRow{
				employee(1, int64(2)),
				employee(2, int64(3)),
				employee(3, int64(4)),
				employee(4, nil),
			},
			applied: 4,
		},
		{
			name: "missing parent",
			changes: []sync.TrackedRow{
				employee(1, int64(2)),
				employee(2, nil),
				employee(5, int64(99)),
			},
			applied: 2,
			failed:  []string{sync.Key{int64(5)}.String()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newEmployeeStore(t)
			applier := sync.NewApplier(store, zap.NewNop(), 100, 0)

			result, err := applier.Apply(context.Background(), sync.ApplyRequest{
				Tables:      []sync.TableSchema{employees},
				Changes:     tt.changes,
				LocalScope:  "receiver",
				RemoteScope: "sender",
				Policy:      lww,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.applied, result.Applied)
			assert.Equal(t, tt.applied, result.Stats.Inserts)
			assert.Equal(t, tt.applied, store.Count("Employees"))

			var failed []string
			for _, rowErr := range result.Errors {
				failed = append(failed, rowErr.Key.String())
			}
			assert.Equal(t, tt.failed, failed)
		})
	}
}
