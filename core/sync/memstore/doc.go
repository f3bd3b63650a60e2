// Package memstore provides an in-memory sync.Provider.
//
// Tables hold rows keyed by primary key and, once tracked, an append-only
// change log. Declared foreign keys are enforced on every write, so the
// application order of a session is checked the same way a relational store
// would check it. Transactions keep an undo journal and run one at a time.
package memstore
