package gormstore

import (
	"context"
	"fmt"

	"table-sync/core/database"
	"table-sync/core/sync"
)

// TrackingStatus describes the change tracking state of one table.
type TrackingStatus struct {
	Table      string   `json:"table"`
	Exists     bool     `json:"exists"`
	Tracked    bool     `json:"tracked"`
	Rows       int64    `json:"rows"`
	Entries    int64    `json:"entries"`
	Tombstones int64    `json:"tombstones"`
	Columns    []string `json:"columns,omitempty"`
	Missing    []string `json:"missing_columns,omitempty"`
}

// Healthy reports whether every live row has a tracking entry and every
// declared column exists.
func (s TrackingStatus) Healthy() bool {
	return s.Exists && s.Tracked && len(s.Missing) == 0 && s.Entries-s.Tombstones == s.Rows
}

// Inspect reports the tracking state of tables without modifying anything.
func (s *Store) Inspect(ctx context.Context, tables []sync.TableSchema) ([]TrackingStatus, error) {
	db := s.db.WithContext(ctx)
	out := make([]TrackingStatus, 0, len(tables))

	for _, table := range tables {
		status := TrackingStatus{Table: table.Name}

		infos, err := database.GetTableColumns(db, table.Name)
		if err == nil && len(infos) > 0 {
			status.Exists = true
			status.Columns = database.ColumnNames(infos)

			present := make(map[string]bool, len(infos))
			for _, c := range status.Columns {
				present[c] = true
			}
			for _, c := range append(append([]string(nil), table.PrimaryKey...), table.Columns...) {
				if !present[c] {
					status.Missing = append(status.Missing, c)
				}
			}

			if err := db.Table(table.Name).Count(&status.Rows).Error; err != nil {
				return nil, fmt.Errorf("failed to count rows of %s: %w", table.Name, err)
			}
		}

		tracked, err := database.TableExists(db, trackingTable(table.Name))
		if err != nil {
			return nil, err
		}
		status.Tracked = tracked
		if tracked {
			if err := db.Table(trackingTable(table.Name)).Count(&status.Entries).Error; err != nil {
				return nil, fmt.Errorf("failed to count tracking entries of %s: %w", table.Name, err)
			}
			err := db.Table(trackingTable(table.Name)).
				Where("kind = ?", string(sync.ChangeDelete)).
				Count(&status.Tombstones).Error
			if err != nil {
				return nil, fmt.Errorf("failed to count tombstones of %s: %w", table.Name, err)
			}
		}

		out = append(out, status)
	}
	return out, nil
}

// Scopes returns every scope row stored in the database.
func (s *Store) Scopes(ctx context.Context) ([]*sync.ScopeInfo, error) {
	db := s.db.WithContext(ctx)

	exists, err := database.TableExists(db, scopeTable)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	var recs []scopeRecord
	if err := db.Order("scope_name, peer_id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list scopes on %s: %w", s.name, err)
	}

	out := make([]*sync.ScopeInfo, 0, len(recs))
	for _, rec := range recs {
		info, err := rec.toScopeInfo()
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}
