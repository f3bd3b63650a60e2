package integrity

import (
	"context"
	"fmt"

	"table-sync/core/sync"
	"table-sync/core/sync/gormstore"

	"go.uber.org/zap"
)

// TrackingReport is the result of a tracking integrity check.
type TrackingReport struct {
	Store   string                     `json:"store"`
	Healthy bool                       `json:"healthy"`
	Tables  []gormstore.TrackingStatus `json:"tables"`
	Errors  []string                   `json:"errors"`
}

// Service inspects the change tracking of the server store.
type Service struct {
	store  *gormstore.Store
	setup  *sync.Setup
	logger *zap.Logger
}

// NewService creates a new integrity service.
func NewService(store *gormstore.Store, setup *sync.Setup, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, setup: setup, logger: logger}
}

// CheckTracking compares every configured table with its tracking table.
func (s *Service) CheckTracking(ctx context.Context) (*TrackingReport, error) {
	tables, err := s.setup.Tables(nil)
	if err != nil {
		return nil, err
	}

	statuses, err := s.store.Inspect(ctx, tables)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect tracking: %w", err)
	}

	report := &TrackingReport{Store: s.store.Name(), Healthy: true, Tables: statuses, Errors: []string{}}
	for _, st := range statuses {
		switch {
		case !st.Exists:
			report.Errors = append(report.Errors, fmt.Sprintf("table %s does not exist", st.Table))
		case len(st.Missing) > 0:
			report.Errors = append(report.Errors, fmt.Sprintf("table %s lacks columns %v", st.Table, st.Missing))
		case !st.Tracked:
			report.Errors = append(report.Errors, fmt.Sprintf("table %s is not tracked", st.Table))
		case !st.Healthy():
			report.Errors = append(report.Errors, fmt.Sprintf("table %s has %d rows but %d live tracking entries",
				st.Table, st.Rows, st.Entries-st.Tombstones))
		}
	}
	report.Healthy = len(report.Errors) == 0

	if !report.Healthy {
		s.logger.Warn("Tracking integrity check failed", zap.Strings("errors", report.Errors))
	}
	return report, nil
}

// Scopes returns the scope rows of the server store.
func (s *Service) Scopes(ctx context.Context) ([]*sync.ScopeInfo, error) {
	scopes, err := s.store.Scopes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list scopes: %w", err)
	}
	if scopes == nil {
		scopes = []*sync.ScopeInfo{}
	}
	return scopes, nil
}
