package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

const (
	jobPrefix   = "job/"
	eventPrefix = "ev/"
	indexPrefix = "idx/"
	seqWidth    = 20
)

// ErrMissingJobID is returned when a persistent repository is opened without a job id
var ErrMissingJobID = errors.New("status db needs a job id")

var _ Repo = (*LevelDBRepo)(nil)

// LevelDBRepo persists status events so a run can be inspected after the process exits.
// All keys live under job/<jobID>/, so runs sharing one database never see each
// other's events. Within a job, keys sort by task identity and then by arrival
// sequence, so a prefix scan yields a task's events in the order they were recorded.
type LevelDBRepo struct {
	db     *leveldb.DB
	log    log.Logger
	prefix string

	mu   sync.Mutex
	seqs map[string]uint64
	ids  []types.TaskID
}

// storedEvent is the on-disk form of a StatusEvent. It keeps the structured
// identity and full time precision, which the flat JSON form does not.
type storedEvent struct {
	Label      string          `json:"label"`
	URI        string          `json:"uri"`
	Variant    string          `json:"variant,omitempty"`
	NoDigits   int             `json:"no_digits"`
	Status     types.Lifecycle `json:"status"`
	Time       time.Time       `json:"time"`
	Result     types.Outcome   `json:"result,omitempty"`
	ReturnCode *int            `json:"returncode,omitempty"`
	Stdout     []byte          `json:"stdout,omitempty"`
	Stderr     []byte          `json:"stderr,omitempty"`
	HasStdout  bool            `json:"has_stdout,omitempty"`
	HasStderr  bool            `json:"has_stderr,omitempty"`
	FailReason string          `json:"fail_reason,omitempty"`
	Extra      map[string]any  `json:"extra,omitempty"`
}

// OpenLevelDBRepo opens (or creates) the database at path and scopes the
// repository to jobID. Reopening with the same job id resumes that job's events.
func OpenLevelDBRepo(path, jobID string, logger log.Logger) (*LevelDBRepo, error) {
	if jobID == "" {
		return nil, ErrMissingJobID
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open status db %s: %w", path, err)
	}
	return newLevelDBRepo(db, jobID, logger)
}

// NewInMemoryLevelDBRepo backs the repository with leveldb's memory storage
func NewInMemoryLevelDBRepo(jobID string, logger log.Logger) (*LevelDBRepo, error) {
	if jobID == "" {
		return nil, ErrMissingJobID
	}
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory status db: %w", err)
	}
	return newLevelDBRepo(db, jobID, logger)
}

func newLevelDBRepo(db *leveldb.DB, jobID string, logger log.Logger) (*LevelDBRepo, error) {
	if logger == nil {
		logger = log.New()
		logger.Error("No logger provided, using default")
	}
	r := &LevelDBRepo{
		db:     db,
		log:    logger.New("component", "status-db", "job", jobID),
		prefix: jobPrefix + jobID + "/",
		seqs:   make(map[string]uint64),
	}
	if err := r.recover(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// recover rebuilds the job's sequence counters and identity index from existing keys
func (r *LevelDBRepo) recover() error {
	iter := r.db.NewIterator(util.BytesPrefix([]byte(r.prefix+indexPrefix)), nil)
	for iter.Next() {
		var se storedEvent
		if err := json.Unmarshal(iter.Value(), &se); err != nil {
			iter.Release()
			return fmt.Errorf("corrupt index entry %q: %w", iter.Key(), err)
		}
		id := se.taskID()
		r.ids = append(r.ids, id)

		count := uint64(0)
		evIter := r.db.NewIterator(util.BytesPrefix(r.eventKeyPrefix(id)), nil)
		for evIter.Next() {
			count++
		}
		evIter.Release()
		if err := evIter.Error(); err != nil {
			iter.Release()
			return err
		}
		r.seqs[id.String()] = count
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return fmt.Errorf("failed to scan status db: %w", err)
	}
	if len(r.ids) > 0 {
		r.log.Info("Recovered status db", "tasks", len(r.ids))
	}
	return nil
}

// Record implements Repo
func (r *LevelDBRepo) Record(ev types.StatusEvent) error {
	if ev.TaskID.IsZero() {
		return ErrMissingTaskID
	}
	value, err := json.Marshal(toStored(ev))
	if err != nil {
		return fmt.Errorf("failed to encode status event: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := ev.TaskID.String()
	seq, seen := r.seqs[key]
	batch := new(leveldb.Batch)
	if !seen {
		idx, err := json.Marshal(storedEvent{
			Label:    ev.TaskID.Label,
			URI:      ev.TaskID.URI,
			Variant:  ev.TaskID.Variant,
			NoDigits: ev.TaskID.NoDigits,
		})
		if err != nil {
			return fmt.Errorf("failed to encode task index: %w", err)
		}
		batch.Put(r.indexKey(len(r.ids)), idx)
	}
	batch.Put(r.eventKey(ev.TaskID, seq), value)
	if err := r.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to write status event: %w", err)
	}
	if !seen {
		r.ids = append(r.ids, ev.TaskID)
	}
	r.seqs[key] = seq + 1
	return nil
}

// EventsFor implements Repo. An undecodable event fails the whole read.
func (r *LevelDBRepo) EventsFor(id types.TaskID) ([]types.StatusEvent, error) {
	iter := r.db.NewIterator(util.BytesPrefix(r.eventKeyPrefix(id)), nil)
	defer iter.Release()

	out := []types.StatusEvent{}
	for iter.Next() {
		var se storedEvent
		if err := json.Unmarshal(iter.Value(), &se); err != nil {
			r.log.Error("Undecodable status event", "task", id, "key", string(iter.Key()), "err", err)
			return nil, fmt.Errorf("%w: %s: %w", ErrCorruptEvent, iter.Key(), err)
		}
		out = append(out, se.event())
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to read status events of %s: %w", id, err)
	}
	return out, nil
}

// TaskIDs returns the identities with at least one recorded event, in first-seen order
func (r *LevelDBRepo) TaskIDs() []types.TaskID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.TaskID, len(r.ids))
	copy(out, r.ids)
	return out
}

// Close releases the underlying database
func (r *LevelDBRepo) Close() error {
	return r.db.Close()
}

func (r *LevelDBRepo) eventKeyPrefix(id types.TaskID) []byte {
	return []byte(r.prefix + eventPrefix + id.String() + "\x00")
}

func (r *LevelDBRepo) eventKey(id types.TaskID, seq uint64) []byte {
	return append(r.eventKeyPrefix(id), []byte(fmt.Sprintf("%0*d", seqWidth, seq))...)
}

func (r *LevelDBRepo) indexKey(n int) []byte {
	return []byte(r.prefix + indexPrefix + fmt.Sprintf("%0*d", seqWidth, n))
}

func toStored(ev types.StatusEvent) storedEvent {
	return storedEvent{
		Label:      ev.TaskID.Label,
		URI:        ev.TaskID.URI,
		Variant:    ev.TaskID.Variant,
		NoDigits:   ev.TaskID.NoDigits,
		Status:     ev.Status,
		Time:       ev.Time,
		Result:     ev.Result,
		ReturnCode: ev.ReturnCode,
		Stdout:     ev.Stdout,
		Stderr:     ev.Stderr,
		HasStdout:  ev.Stdout != nil,
		HasStderr:  ev.Stderr != nil,
		FailReason: ev.FailReason,
		Extra:      ev.Extra,
	}
}

func (se storedEvent) taskID() types.TaskID {
	return types.TaskID{Label: se.Label, URI: se.URI, Variant: se.Variant, NoDigits: se.NoDigits}
}

func (se storedEvent) event() types.StatusEvent {
	ev := types.StatusEvent{
		TaskID:     se.taskID(),
		Status:     se.Status,
		Time:       se.Time,
		Result:     se.Result,
		ReturnCode: se.ReturnCode,
		FailReason: se.FailReason,
		Extra:      se.Extra,
	}
	// An empty capture is still a capture: keep it distinct from "absent"
	if se.HasStdout {
		ev.Stdout = se.Stdout
		if ev.Stdout == nil {
			ev.Stdout = []byte{}
		}
	}
	if se.HasStderr {
		ev.Stderr = se.Stderr
		if ev.Stderr == nil {
			ev.Stderr = []byte{}
		}
	}
	return ev
}
