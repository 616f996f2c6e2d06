package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/applybot/jobtracker/internal/db"
)

const SystemNamespace = "jobtracker/"

const keyPrefix = "jobs/"

// KVStore keeps jobs as JSON values in the badger key-value store.
type KVStore struct {
	dbStore *db.Store
}

func NewKVStore(dbStore *db.Store) *KVStore {
	return &KVStore{dbStore: dbStore}
}

func (s *KVStore) Close() error {
	return s.dbStore.Close()
}

func (s *KVStore) Create(_ context.Context, payload Document) (string, error) {
	j := New(payload)
	data, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	if err := s.dbStore.Set(SystemNamespace, keyPrefix+j.ID, data); err != nil {
		return "", fmt.Errorf("store job: %w", err)
	}
	return j.ID, nil
}

func (s *KVStore) List(_ context.Context) ([]*Job, error) {
	var all []*Job
	err := s.dbStore.Scan(SystemNamespace, keyPrefix, func(key string, value []byte) error {
		var j Job
		if err := json.Unmarshal(value, &j); err != nil {
			return fmt.Errorf("unmarshal job %s: %w", key, err)
		}
		all = append(all, &j)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return all, nil
}

func (s *KVStore) Get(_ context.Context, id string) (*Job, bool, error) {
	data, err := s.dbStore.Get(SystemNamespace, keyPrefix+id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get job: %w", err)
	}

	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, false, fmt.Errorf("unmarshal job: %w", err)
	}
	return &j, true, nil
}

func (s *KVStore) UpdateStatus(_ context.Context, id string, u StatusUpdate) error {
	_, err := s.mutate(id, func(j *Job) error {
		u.Apply(j, time.Now().UTC())
		return nil
	})
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

func (s *KVStore) UpdatePayload(_ context.Context, id string, updates Document) (*Job, bool, error) {
	j, err := s.mutate(id, func(j *Job) error {
		j.Payload = j.Payload.Merge(updates)
		j.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("update job payload: %w", err)
	}
	return j, j != nil, nil
}

func (s *KVStore) Restart(_ context.Context, id string, updates Document) (*Job, bool, error) {
	j, err := s.mutate(id, func(j *Job) error {
		if j.Status == StatusRunning {
			return ErrRunning
		}
		j.Payload = j.Payload.Merge(updates)
		StatusUpdate{Status: StatusQueued, Progress: Int(0)}.Apply(j, time.Now().UTC())
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("restart job: %w", err)
	}
	return j, j != nil, nil
}

// mutate applies fn to the stored job in one transaction. A missing job
// yields (nil, nil); an error from fn aborts the write.
func (s *KVStore) mutate(id string, fn func(j *Job) error) (*Job, error) {
	var updated *Job
	err := s.dbStore.Update(SystemNamespace, keyPrefix+id, func(old []byte) ([]byte, error) {
		var j Job
		if err := json.Unmarshal(old, &j); err != nil {
			return nil, fmt.Errorf("unmarshal job: %w", err)
		}
		if j.Payload == nil {
			j.Payload = Document{}
		}
		if err := fn(&j); err != nil {
			return nil, err
		}
		updated = &j
		return json.Marshal(&j)
	})
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}
