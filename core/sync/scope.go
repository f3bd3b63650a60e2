package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ScopeManager loads, provisions and commits scope metadata on one store.
type ScopeManager struct {
	provider Provider
	logger   *zap.Logger
	timeout  time.Duration
	sf       singleflight.Group
}

// NewScopeManager creates a scope manager for p.
func NewScopeManager(p Provider, logger *zap.Logger, timeout time.Duration) *ScopeManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScopeManager{provider: p, logger: logger, timeout: timeout}
}

// Provider returns the underlying store.
func (m *ScopeManager) Provider() Provider {
	return m.provider
}

// LoadLocal returns the local scope row of name, provisioning the tracking
// infrastructure and the row on first use. Concurrent first calls for the
// same store and scope share one provisioning run. The boolean is true when
// this call provisioned the scope.
func (m *ScopeManager) LoadLocal(ctx context.Context, name string, tables []TableSchema) (*ScopeInfo, bool, error) {
	type loaded struct {
		info        *ScopeInfo
		provisioned bool
	}

	key := m.provider.Name() + "|" + name
	v, err, _ := m.sf.Do(key, func() (interface{}, error) {
		var out loaded
		err := WithTx(ctx, m.provider, m.timeout, func(tx Tx) error {
			info, err := m.read(ctx, tx, name, "")
			if err == nil {
				out.info = info
				return m.verify(ctx, tx, info, tables)
			}
			if !errors.Is(err, ErrNotProvisioned) {
				return err
			}

			info, err = m.provision(ctx, tx, name, tables)
			if err != nil {
				return err
			}
			out.info = info
			out.provisioned = true
			return nil
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return nil, false, err
	}

	res := v.(loaded)
	return res.info.Clone(), res.provisioned, nil
}

// Provision creates tracking infrastructure and the local scope row when missing.
func (m *ScopeManager) Provision(ctx context.Context, name string, tables []TableSchema) (*ScopeInfo, error) {
	info, _, err := m.LoadLocal(ctx, name, tables)
	return info, err
}

func (m *ScopeManager) provision(ctx context.Context, tx Tx, name string, tables []TableSchema) (*ScopeInfo, error) {
	err := bounded(ctx, m.timeout, func(ctx context.Context) error {
		return m.provider.EnsureTrackingInfrastructure(ctx, tx, tables)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to provision scope %s on %s: %w", name, m.provider.Name(), err)
	}

	fingerprint, err := m.fingerprint(ctx, tx, tables)
	if err != nil {
		return nil, err
	}

	info := &ScopeInfo{
		ID:          uuid.NewString(),
		Name:        name,
		Tables:      tableNames(tables),
		Fingerprint: fingerprint,
	}
	err = bounded(ctx, m.timeout, func(ctx context.Context) error {
		return m.provider.WriteScopeInfo(ctx, tx, info)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store scope %s on %s: %w", name, m.provider.Name(), err)
	}

	m.logger.Info("Scope provisioned",
		zap.String("store", m.provider.Name()),
		zap.String("scope", name),
		zap.String("scope_id", info.ID),
		zap.Strings("tables", info.Tables))
	return info, nil
}

// verify checks that a stored scope still matches the configured tables.
func (m *ScopeManager) verify(ctx context.Context, tx Tx, info *ScopeInfo, tables []TableSchema) error {
	want := tableNames(tables)
	have := append([]string(nil), info.Tables...)
	sort.Strings(want)
	sort.Strings(have)
	if strings.Join(want, ",") != strings.Join(have, ",") {
		return fmt.Errorf("%w: scope %s tracks [%s], configured [%s]",
			ErrSchema, info.Name, strings.Join(have, ", "), strings.Join(want, ", "))
	}

	fingerprint, err := m.fingerprint(ctx, tx, tables)
	if err != nil {
		return err
	}
	if fingerprint != info.Fingerprint {
		return fmt.Errorf("%w: columns of scope %s changed since provisioning", ErrSchema, info.Name)
	}
	return nil
}

func (m *ScopeManager) fingerprint(ctx context.Context, tx Tx, tables []TableSchema) (string, error) {
	columns := make(map[string][]string, len(tables))
	for _, t := range tables {
		var cols []string
		err := bounded(ctx, m.timeout, func(ctx context.Context) error {
			var err error
			cols, err = m.provider.Columns(ctx, tx, t)
			return err
		})
		if err != nil {
			return "", fmt.Errorf("failed to read columns of %s: %w", t.Name, err)
		}
		columns[t.Name] = cols
	}
	return Fingerprint(columns), nil
}

// LoadPeer returns the anchor row of local for peerID. A peer never seen
// before yields an unsaved row with a zero anchor and true.
func (m *ScopeManager) LoadPeer(ctx context.Context, local *ScopeInfo, peerID string) (*ScopeInfo, bool, error) {
	var (
		info    *ScopeInfo
		initial bool
	)
	err := WithTx(ctx, m.provider, m.timeout, func(tx Tx) error {
		var err error
		info, err = m.read(ctx, tx, local.Name, peerID)
		if errors.Is(err, ErrNotProvisioned) {
			info = &ScopeInfo{
				ID:          local.ID,
				Name:        local.Name,
				PeerID:      peerID,
				Tables:      append([]string(nil), local.Tables...),
				Fingerprint: local.Fingerprint,
			}
			initial = true
			return nil
		}
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return info, initial, nil
}

// Check verifies inside tx that peer was not committed by someone else
// since it was loaded.
func (m *ScopeManager) Check(ctx context.Context, tx Tx, peer *ScopeInfo) error {
	stored, err := m.read(ctx, tx, peer.Name, peer.PeerID)
	switch {
	case errors.Is(err, ErrNotProvisioned):
		if peer.Revision != 0 {
			return fmt.Errorf("%w: scope %s for peer %s disappeared", ErrScopeConflict, peer.Name, peer.PeerID)
		}
		return nil
	case err != nil:
		return err
	case stored.Revision != peer.Revision:
		return fmt.Errorf("%w: scope %s for peer %s is at revision %d, expected %d",
			ErrScopeConflict, peer.Name, peer.PeerID, stored.Revision, peer.Revision)
	}
	return nil
}

// Commit advances the anchor of peer to version inside tx using
// compare-and-swap on its revision.
func (m *ScopeManager) Commit(ctx context.Context, tx Tx, peer *ScopeInfo, version int64, at time.Time) error {
	next := peer.Clone()
	next.LastSyncVersion = version
	next.LastSync = at.UTC()

	err := bounded(ctx, m.timeout, func(ctx context.Context) error {
		return m.provider.WriteScopeInfo(ctx, tx, next)
	})
	if err != nil {
		return fmt.Errorf("failed to commit scope %s for peer %s: %w", peer.Name, peer.PeerID, err)
	}

	*peer = *next
	return nil
}

// Deprovision drops tracking structures and scope rows of name.
func (m *ScopeManager) Deprovision(ctx context.Context, name string, tables []TableSchema) error {
	err := WithTx(ctx, m.provider, m.timeout, func(tx Tx) error {
		return bounded(ctx, m.timeout, func(ctx context.Context) error {
			return m.provider.Deprovision(ctx, tx, name, tables)
		})
	})
	if err != nil {
		return fmt.Errorf("failed to deprovision scope %s on %s: %w", name, m.provider.Name(), err)
	}

	m.logger.Info("Scope deprovisioned",
		zap.String("store", m.provider.Name()),
		zap.String("scope", name))
	return nil
}

func (m *ScopeManager) read(ctx context.Context, tx Tx, name, peerID string) (*ScopeInfo, error) {
	var info *ScopeInfo
	err := bounded(ctx, m.timeout, func(ctx context.Context) error {
		var err error
		info, err = m.provider.ReadScopeInfo(ctx, tx, name, peerID)
		return err
	})
	return info, err
}

// Fingerprint hashes the sorted table and lower-cased column names.
func Fingerprint(columns map[string][]string) string {
	tables := make([]string, 0, len(columns))
	for t := range columns {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	h := sha256.New()
	for _, t := range tables {
		cols := make([]string, len(columns[t]))
		for i, c := range columns[t] {
			cols[i] = strings.ToLower(c)
		}
		sort.Strings(cols)
		h.Write([]byte(t))
		h.Write([]byte{'('})
		h.Write([]byte(strings.Join(cols, ",")))
		h.Write([]byte{')'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
