package callrecords

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory repository useful for tests and local runs.
type MemoryRepo struct {
	mu   sync.Mutex
	rows map[string]CallRecord
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{rows: map[string]CallRecord{}}
}

func (r *MemoryRepo) Insert(ctx context.Context, rec CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[rec.ID] = rec
	return nil
}

func (r *MemoryRepo) Finalize(ctx context.Context, workspaceID, id string, fin Finalization) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.rows[id]
	if !ok || rec.WorkspaceID != workspaceID {
		return ErrNotFound
	}
	rec.Status = fin.Status
	if fin.AnsweredAt != nil {
		rec.AnsweredAt = fin.AnsweredAt
	}
	ended := fin.EndedAt
	rec.EndedAt = &ended
	rec.DurationSeconds = fin.DurationSeconds
	rec.UpdatedAt = fin.EndedAt
	r.rows[id] = rec
	return nil
}

func (r *MemoryRepo) List(ctx context.Context, workspaceID string, f ListFilter) ([]CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]CallRecord, 0, len(r.rows))
	for _, rec := range r.rows {
		if rec.WorkspaceID != workspaceID {
			continue
		}
		if f.ContactID != "" && rec.ContactID != f.ContactID {
			continue
		}
		if f.Direction != "" && rec.Direction != f.Direction {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Get returns a record by id, test helper.
func (r *MemoryRepo) Get(id string) (CallRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	return rec, ok
}
