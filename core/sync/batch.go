package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Batch is one transport unit of a change set.
type Batch struct {
	// Index is the zero-based position of the batch.
	Index int `json:"index"`

	// Total is the number of batches of the change set.
	Total int `json:"total"`

	// IsLast marks the final batch.
	IsLast bool `json:"is_last"`

	// Range and Tables repeat the change set header so any batch can
	// rebuild it.
	Range  VersionRange `json:"range"`
	Tables []string     `json:"tables"`

	// Changes is a contiguous slice of the change set.
	Changes []TrackedRow `json:"changes"`

	// Checksum is the hex sha256 of the encoded changes.
	Checksum string `json:"checksum"`
}

// Verify recomputes the checksum of the batch.
func (b Batch) Verify() error {
	sum, err := checksum(b.Changes)
	if err != nil {
		return err
	}
	if sum != b.Checksum {
		return fmt.Errorf("%w: batch %d checksum mismatch", ErrIncompleteBatch, b.Index)
	}
	return nil
}

// Split partitions a change set into batches of at most maxBatchSize rows,
// keeping the table-then-key order. An empty change set yields one empty batch
// so the receiver can still tell the sequence is complete.
func Split(cs *ChangeSet, maxBatchSize int) ([]Batch, error) {
	if maxBatchSize < 1 {
		return nil, fmt.Errorf("%w: batch size must be at least 1, got %d", ErrInvalidConfig, maxBatchSize)
	}

	var changes []TrackedRow
	var r VersionRange
	var tables []string
	if cs != nil {
		changes = cs.Changes
		r = cs.Range
		tables = cs.Tables
	}

	total := (len(changes) + maxBatchSize - 1) / maxBatchSize
	if total == 0 {
		total = 1
	}

	batches := make([]Batch, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxBatchSize
		end := start + maxBatchSize
		if end > len(changes) {
			end = len(changes)
		}

		var chunk []TrackedRow
		if start < end {
			chunk = append([]TrackedRow(nil), changes[start:end]...)
		}

		sum, err := checksum(chunk)
		if err != nil {
			return nil, err
		}

		batches = append(batches, Batch{
			Index:    i,
			Total:    total,
			IsLast:   i == total-1,
			Range:    r,
			Tables:   append([]string(nil), tables...),
			Changes:  chunk,
			Checksum: sum,
		})
	}
	return batches, nil
}

// Reassemble rebuilds a change set from batches received in any order.
// Identical duplicates are tolerated; a missing index, inconsistent totals or
// a duplicate index with different content return ErrIncompleteBatch.
func Reassemble(batches []Batch) (*ChangeSet, error) {
	if len(batches) == 0 {
		return nil, fmt.Errorf("%w: no batches received", ErrIncompleteBatch)
	}

	total := batches[0].Total
	if total < 1 {
		return nil, fmt.Errorf("%w: invalid batch total %d", ErrIncompleteBatch, total)
	}

	byIndex := make(map[int]Batch, total)
	for _, b := range batches {
		if b.Total != total {
			return nil, fmt.Errorf("%w: batch %d announces %d batches, expected %d", ErrIncompleteBatch, b.Index, b.Total, total)
		}
		if b.Index < 0 || b.Index >= total {
			return nil, fmt.Errorf("%w: batch index %d out of range", ErrIncompleteBatch, b.Index)
		}
		if err := b.Verify(); err != nil {
			return nil, err
		}
		if prev, ok := byIndex[b.Index]; ok {
			if prev.Checksum != b.Checksum {
				return nil, fmt.Errorf("%w: batch %d received twice with different content", ErrIncompleteBatch, b.Index)
			}
			continue
		}
		byIndex[b.Index] = b
	}

	indexes := make([]int, 0, len(byIndex))
	for i := range byIndex {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for i := 0; i < total; i++ {
		if i >= len(indexes) || indexes[i] != i {
			return nil, fmt.Errorf("%w: batch %d of %d missing", ErrIncompleteBatch, i, total)
		}
	}
	if !byIndex[total-1].IsLast {
		return nil, fmt.Errorf("%w: batch %d is not marked last", ErrIncompleteBatch, total-1)
	}

	first := byIndex[0]
	cs := &ChangeSet{Range: first.Range, Tables: append([]string(nil), first.Tables...)}
	for i := 0; i < total; i++ {
		cs.Changes = append(cs.Changes, byIndex[i].Changes...)
	}
	return cs, nil
}

func checksum(changes []TrackedRow) (string, error) {
	data, err := json.Marshal(changes)
	if err != nil {
		return "", fmt.Errorf("failed to encode batch: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
