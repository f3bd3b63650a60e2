package gormstore

import (
	"encoding/json"
	"fmt"
	"time"

	"table-sync/core/sync"
)

// scopeRecord maps a row of the scope metadata table.
type scopeRecord struct {
	ScopeName       string `gorm:"column:scope_name;primaryKey"`
	PeerID          string `gorm:"column:peer_id;primaryKey"`
	ScopeID         string `gorm:"column:scope_id"`
	TablesJSON      string `gorm:"column:tables_json"`
	LastSyncVersion int64  `gorm:"column:last_sync_version"`
	LastSyncAt      int64  `gorm:"column:last_sync_at"`
	Fingerprint     string `gorm:"column:fingerprint"`
	Revision        int64  `gorm:"column:revision"`
}

// TableName overrides the table name used by scopeRecord.
func (scopeRecord) TableName() string {
	return scopeTable
}

func newScopeRecord(info *sync.ScopeInfo) (scopeRecord, error) {
	tables, err := json.Marshal(info.Tables)
	if err != nil {
		return scopeRecord{}, fmt.Errorf("failed to encode scope tables: %w", err)
	}
	rec := scopeRecord{
		ScopeName:       info.Name,
		PeerID:          info.PeerID,
		ScopeID:         info.ID,
		TablesJSON:      string(tables),
		LastSyncVersion: info.LastSyncVersion,
		Fingerprint:     info.Fingerprint,
		Revision:        info.Revision,
	}
	if !info.LastSync.IsZero() {
		rec.LastSyncAt = info.LastSync.UnixMilli()
	}
	return rec, nil
}

func (r scopeRecord) toScopeInfo() (*sync.ScopeInfo, error) {
	info := &sync.ScopeInfo{
		ID:              r.ScopeID,
		Name:            r.ScopeName,
		PeerID:          r.PeerID,
		LastSyncVersion: r.LastSyncVersion,
		Fingerprint:     r.Fingerprint,
		Revision:        r.Revision,
	}
	if err := json.Unmarshal([]byte(r.TablesJSON), &info.Tables); err != nil {
		return nil, fmt.Errorf("failed to decode tables of scope %s: %w", r.ScopeName, err)
	}
	if r.LastSyncAt > 0 {
		info.LastSync = time.UnixMilli(r.LastSyncAt).UTC()
	}
	return info, nil
}

// trackingRecord maps a row of a <table>_tracking table.
type trackingRecord struct {
	PkKey          string `gorm:"column:pk_key"`
	Kind           string `gorm:"column:kind"`
	Version        int64  `gorm:"column:version"`
	CreatedVersion int64  `gorm:"column:created_version"`
	Origin         string `gorm:"column:origin"`
	UpdatedAt      int64  `gorm:"column:updated_at"`
	Payload        string `gorm:"column:payload"`
}

func (r trackingRecord) toTrackedRow(table string) (sync.TrackedRow, error) {
	key, err := sync.ParseKey(r.PkKey)
	if err != nil {
		return sync.TrackedRow{}, err
	}

	kind := sync.ChangeKind(r.Kind)
	if !kind.IsValid() {
		return sync.TrackedRow{}, fmt.Errorf("unknown change kind %q for %s %s", r.Kind, table, r.PkKey)
	}

	var row sync.Row
	if r.Payload != "" {
		if err := json.Unmarshal([]byte(r.Payload), &row); err != nil {
			return sync.TrackedRow{}, fmt.Errorf("failed to decode payload of %s %s: %w", table, r.PkKey, err)
		}
	}

	return sync.TrackedRow{
		Table:          table,
		Key:            key,
		Kind:           kind,
		Version:        r.Version,
		CreatedVersion: r.CreatedVersion,
		Origin:         r.Origin,
		UpdatedAt:      r.UpdatedAt,
		Row:            row,
	}, nil
}
