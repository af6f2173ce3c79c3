package state

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"grimm.is/turnstile/internal/access"
)

// Standard bucket names
const (
	BucketGrants  = "grants"        // Live (pending/active) grants keyed by MAC
	BucketHistory = "grant_history" // Finished and running grants keyed by grant ID
)

// GrantBucket persists live grants so expirations survive a restart.
type GrantBucket struct {
	store  Store
	bucket string
}

// NewGrantBucket creates a grant bucket accessor.
func NewGrantBucket(store Store) (*GrantBucket, error) {
	if err := EnsureBucket(store, BucketGrants); err != nil {
		return nil, err
	}
	return &GrantBucket{store: store, bucket: BucketGrants}, nil
}

// Put stores g, replacing any previous grant for the same MAC.
func (b *GrantBucket) Put(g access.Grant) error {
	return b.store.SetJSON(b.bucket, string(g.MAC), g)
}

// Delete removes the grant for mac. Missing keys are not an error.
func (b *GrantBucket) Delete(mac access.MAC) error {
	if err := b.store.Delete(b.bucket, string(mac)); err != nil && err != ErrNotFound {
		return err
	}
	return nil
}

// Load returns every persisted grant ordered by GrantedAt.
func (b *GrantBucket) Load() ([]access.Grant, error) {
	data, err := b.store.List(b.bucket)
	if err != nil {
		return nil, err
	}

	grants := make([]access.Grant, 0, len(data))
	for key, raw := range data {
		var g access.Grant
		if err := json.Unmarshal(raw, &g); err != nil {
			return nil, fmt.Errorf("decode grant %s: %w", key, err)
		}
		grants = append(grants, g)
	}
	sort.Slice(grants, func(i, j int) bool {
		return grants[i].GrantedAt.Before(grants[j].GrantedAt)
	})
	return grants, nil
}

// HistoryBucket keeps grant history for the retention period.
type HistoryBucket struct {
	store     Store
	bucket    string
	retention time.Duration
}

// NewHistoryBucket creates a history accessor. Records expire retention
// after their last update; zero keeps them forever.
func NewHistoryBucket(store Store, retention time.Duration) (*HistoryBucket, error) {
	if err := EnsureBucket(store, BucketHistory); err != nil {
		return nil, err
	}
	return &HistoryBucket{store: store, bucket: BucketHistory, retention: retention}, nil
}

// Put inserts or updates a record.
func (b *HistoryBucket) Put(rec access.HistoryRecord) error {
	return b.store.SetJSONWithTTL(b.bucket, rec.ID, rec, b.retention)
}

// Get returns the record with the given ID.
func (b *HistoryBucket) Get(id string) (*access.HistoryRecord, error) {
	var rec access.HistoryRecord
	if err := b.store.GetJSON(b.bucket, id, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Recent returns up to limit records, newest first. limit <= 0 returns all.
func (b *HistoryBucket) Recent(limit int) ([]access.HistoryRecord, error) {
	data, err := b.store.List(b.bucket)
	if err != nil {
		return nil, err
	}

	recs := make([]access.HistoryRecord, 0, len(data))
	for _, raw := range data {
		var rec access.HistoryRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].GrantedAt.After(recs[j].GrantedAt)
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// Totals returns the number of retained grants and their summed minutes.
func (b *HistoryBucket) Totals() (grants, minutes int, err error) {
	recs, err := b.Recent(0)
	if err != nil {
		return 0, 0, err
	}
	for _, r := range recs {
		grants++
		minutes += r.Minutes
	}
	return grants, minutes, nil
}
