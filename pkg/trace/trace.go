package trace

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/tempo/pkg/events"
)

var bucketTraces = []byte("traces")

// Entry is one recorded observability event.
type Entry struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Executive string            `json:"executive"`
	When      time.Time         `json:"when"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Recorder persists the kernel's observability feed to a BoltDB file,
// one nested bucket per run. Diagnostic tooling only; the kernel never
// reads traces back.
type Recorder struct {
	db *bolt.DB

	mu   sync.Mutex
	sub  events.Subscriber
	done chan struct{}
}

// Open creates or opens the trace database in dataDir.
func Open(dataDir string) (*Recorder, error) {
	dbPath := filepath.Join(dataDir, "tempo-trace.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTraces)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Recorder{db: db}, nil
}

// Close detaches from the broker (if attached) and closes the database.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.done != nil {
		close(r.done)
		r.done = nil
	}
	r.mu.Unlock()
	return r.db.Close()
}

// Record appends one entry to the given run's bucket.
func (r *Recorder) Record(runID string, entry *Entry) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketTraces)
		b, err := root.CreateBucketIfNotExists([]byte(runID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], seq)
		return b.Put(key[:], data)
	})
}

// ListRun returns all entries recorded for a run, in append order.
func (r *Recorder) ListRun(runID string) ([]*Entry, error) {
	var entries []*Entry
	err := r.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketTraces)
		b := root.Bucket([]byte(runID))
		if b == nil {
			return fmt.Errorf("run not found: %s", runID)
		}
		return b.ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			entries = append(entries, &e)
			return nil
		})
	})
	return entries, err
}

// ListRuns returns the recorded run identities.
func (r *Recorder) ListRuns() ([]string, error) {
	var runs []string
	err := r.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketTraces)
		return root.ForEachBucket(func(k []byte) error {
			runs = append(runs, string(k))
			return nil
		})
	})
	return runs, err
}

// Attach subscribes the recorder to a broker and records every event
// under the run identity supplied by runID, until Close.
func (r *Recorder) Attach(broker *events.Broker, runID func() string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return
	}
	r.sub = broker.Subscribe()
	r.done = make(chan struct{})
	done := r.done
	sub := r.sub
	go func() {
		for {
			select {
			case ev, ok := <-sub:
				if !ok {
					return
				}
				entry := &Entry{
					ID:        ev.ID,
					Type:      string(ev.Type),
					Executive: ev.Executive,
					When:      ev.When,
					Timestamp: ev.Timestamp,
					Metadata:  ev.Metadata,
				}
				if err := r.Record(runID(), entry); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()
}
