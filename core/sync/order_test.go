package sync

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fk(table string) ForeignKey {
	return ForeignKey{Column: table + "ID", Table: table, ReferencedColumn: table + "ID"}
}

// TestNewDependencyGraph_Order tests parents-first ordering with name tie-break.
func TestNewDependencyGraph_Order(t *testing.T) {
	g, err := NewDependencyGraph([]TableSchema{
		{Name: "OrderLines", PrimaryKey: []string{"ID"}, ForeignKeys: []ForeignKey{fk("Orders"), fk("Products")}},
		{Name: "Orders", PrimaryKey: []string{"ID"}, ForeignKeys: []ForeignKey{fk("Customers")}},
		{Name: "Products", PrimaryKey: []string{"ID"}},
		{Name: "Customers", PrimaryKey: []string{"ID"}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Customers", "Orders", "Products", "OrderLines"}, g.Order())
	assert.Equal(t, 3, g.Position("OrderLines"))
	assert.Equal(t, -1, g.Position("Unknown"))
	assert.ElementsMatch(t, []string{"Orders", "Products"}, g.Parents("OrderLines"))
}

// TestNewDependencyGraph_SelfReference tests that a self reference is not a cycle.
func TestNewDependencyGraph_SelfReference(t *testing.T) {
	g, err := NewDependencyGraph([]TableSchema{
		{Name: "Employees", PrimaryKey: []string{"ID"}, ForeignKeys: []ForeignKey{{Column: "ManagerID", Table: "Employees", ReferencedColumn: "ID"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Employees"}, g.Order())
}

// TestNewDependencyGraph_Cycle tests that cycles are rejected.
func TestNewDependencyGraph_Cycle(t *testing.T) {
	_, err := NewDependencyGraph([]TableSchema{
		{Name: "A", PrimaryKey: []string{"ID"}, ForeignKeys: []ForeignKey{fk("B")}},
		{Name: "B", PrimaryKey: []string{"ID"}, ForeignKeys: []ForeignKey{fk("C")}},
		{Name: "C", PrimaryKey: []string{"ID"}, ForeignKeys: []ForeignKey{fk("A")}},
		{Name: "D", PrimaryKey: []string{"ID"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCyclicDependency)
	assert.Contains(t, err.Error(), "A, B, C")
}

// TestNewSetup_Validation tests configuration errors caught by NewSetup.
func TestNewSetup_Validation(t *testing.T) {
	_, err := NewSetup()
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewSetup(TableSchema{Name: "A"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewSetup(TableSchema{Name: "A", PrimaryKey: []string{"ID"}}, TableSchema{Name: "A", PrimaryKey: []string{"ID"}})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewSetup(
		TableSchema{Name: "A", PrimaryKey: []string{"ID"}, ForeignKeys: []ForeignKey{fk("B")}},
		TableSchema{Name: "B", PrimaryKey: []string{"ID"}, ForeignKeys: []ForeignKey{fk("A")}},
	)
	assert.ErrorIs(t, err, ErrCyclicDependency)
}

// TestSetup_Tables tests subset selection in dependency order.
func TestSetup_Tables(t *testing.T) {
	setup, err := NewSetup(
		TableSchema{Name: "ServiceTickets", PrimaryKey: []string{"ServiceTicketID"}, ForeignKeys: []ForeignKey{fk("Customers")}},
		TableSchema{Name: "Customers", PrimaryKey: []string{"CustomerID"}},
	)
	require.NoError(t, err)

	all, err := setup.Tables(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Customers", "ServiceTickets"}, tableNames(all))

	subset, err := setup.Tables([]string{"ServiceTickets"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ServiceTickets"}, tableNames(subset))

	_, err = setup.Tables([]string{"Nope"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// TestOrder_ParentsBeforeChildren tests that any input order yields upserts
// parents first and deletes children first.
func TestOrder_ParentsBeforeChildren(t *testing.T) {
	g, err := NewDependencyGraph([]TableSchema{
		{Name: "Customers", PrimaryKey: []string{"CustomerID"}},
		{Name: "ServiceTickets", PrimaryKey: []string{"ServiceTicketID"}, ForeignKeys: []ForeignKey{fk("Customers")}},
	})
	require.NoError(t, err)

	changes := []TrackedRow{
		{Table: "ServiceTickets", Key: Key{int64(2)}, Kind: ChangeInsert},
		{Table: "Customers", Key: Key{int64(10)}, Kind: ChangeInsert},
		{Table: "ServiceTickets", Key: Key{int64(1)}, Kind: ChangeUpdate},
		{Table: "Customers", Key: Key{int64(1)}, Kind: ChangeDelete},
		{Table: "ServiceTickets", Key: Key{int64(9)}, Kind: ChangeDelete},
		{Table: "Customers", Key: Key{int64(2)}, Kind: ChangeUpdate},
	}

	want := []string{
		rowID("Customers", Key{int64(2)}),
		rowID("Customers", Key{int64(10)}),
		rowID("ServiceTickets", Key{int64(1)}),
		rowID("ServiceTickets", Key{int64(2)}),
		rowID("ServiceTickets", Key{int64(9)}),
		rowID("Customers", Key{int64(1)}),
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]TrackedRow(nil), changes...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		ordered, err := Order(&ChangeSet{Changes: shuffled}, g)
		require.NoError(t, err)

		got := make([]string, len(ordered))
		for j, c := range ordered {
			got[j] = c.ID()
		}
		assert.Equal(t, want, got)
	}
}

// TestOrder_UnknownTable tests that rows of tables outside the graph are rejected.
func TestOrder_UnknownTable(t *testing.T) {
	g, err := NewDependencyGraph([]TableSchema{{Name: "A", PrimaryKey: []string{"ID"}}})
	require.NoError(t, err)

	_, err = Order(&ChangeSet{Changes: []TrackedRow{{Table: "B", Key: Key{int64(1)}, Kind: ChangeInsert}}}, g)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
