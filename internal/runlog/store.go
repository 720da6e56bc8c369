// Package runlog keeps a small on-disk ledger of timelapse runs so past
// results stay visible across restarts.
package runlog

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	runsBucket  = []byte("runs")
	indexBucket = []byte("index") // run id -> time-ordered key
)

type Outcome string

const (
	OutcomeRunning   Outcome = "running"
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

type RunRecord struct {
	ID         string    `json:"id"`
	Printer    string    `json:"printer"`
	Camera     string    `json:"camera"`
	Detect     string    `json:"detect"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Frames     int       `json:"frames"`
	Video      string    `json:"video,omitempty"`
	Outcome    Outcome   `json:"outcome"`
	LastError  string    `json:"last_error,omitempty"`
}

type Store interface {
	Close() error
	Put(rec *RunRecord) error
	Get(id string) (*RunRecord, error)
	List(limit int) ([]RunRecord, error)
}

type BBoltStore struct {
	db *bolt.DB
}

func Open(path string) (*BBoltStore, error) {
	if path == "" {
		return nil, errors.New("runlog path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir runlog dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open runlog: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, e := tx.CreateBucketIfNotExists(runsBucket); e != nil {
			return e
		}
		if _, e := tx.CreateBucketIfNotExists(indexBucket); e != nil {
			return e
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BBoltStore{db: db}, nil
}

func (s *BBoltStore) Close() error {
	return s.db.Close()
}

// key orders records by start time so a cursor walk returns runs
// chronologically; the id suffix keeps simultaneous starts distinct.
func key(rec *RunRecord) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(rec.StartedAt.UnixNano()))
	return append(buf[:], []byte(rec.ID)...)
}

// Put writes or updates a record. Callers write once at run start and again
// at the end with the final outcome; both writes land on the same key.
func (s *BBoltStore) Put(rec *RunRecord) error {
	if rec.ID == "" {
		return errors.New("run record has no id")
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	k := key(rec)
	return s.db.Update(func(tx *bolt.Tx) error {
		if e := tx.Bucket(runsBucket).Put(k, b); e != nil {
			return e
		}
		return tx.Bucket(indexBucket).Put([]byte(rec.ID), k)
	})
}

func (s *BBoltStore) Get(id string) (*RunRecord, error) {
	var out *RunRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		k := tx.Bucket(indexBucket).Get([]byte(id))
		if k == nil {
			return nil
		}
		v := tx.Bucket(runsBucket).Get(k)
		if v == nil {
			return nil
		}
		var rec RunRecord
		if e := json.Unmarshal(v, &rec); e != nil {
			return e
		}
		out = &rec
		return nil
	})
	return out, err
}

// List returns up to limit records, newest first. limit <= 0 returns all.
func (s *BBoltStore) List(limit int) ([]RunRecord, error) {
	var out []RunRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(runsBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var rec RunRecord
			if e := json.Unmarshal(v, &rec); e != nil {
				return e
			}
			out = append(out, rec)
			if limit > 0 && len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	return out, err
}
