package badger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/docket/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// Jobs carry no badgerhold indexes. A badgerhold index keeps one key list per
// field value, so a low-cardinality field like status puts every pending job in
// a single value that each write rewrites. Instead each job owns a few small
// secondary keys, written and deleted in the same transaction as the record:
//
//	jobidx:<phase>:pending:<available_at ns, 20 digits>:<page, 10 digits>:<id>   claim order
//	jobidx:<phase>:status:<status>:<updated_at ns, 20 digits>:<id>              listing by status
//	jobidx:<phase>:updated:<updated_at ns, 20 digits>:<id>                      listing by recency
//	jobidx:<phase>:count:<status>                                              job count per status
//	jobidx:<phase>:failed:<kind>                                               failed jobs per error kind
const jobIndexPrefix = "jobidx:"

func unixNano(t time.Time) int64 {
	n := t.UnixNano()
	if n < 0 {
		return 0
	}
	return n
}

func pendingPrefix(phase models.Phase) []byte {
	return []byte(fmt.Sprintf("%s%s:pending:", jobIndexPrefix, phase))
}

func pendingKey(job *models.Job) []byte {
	page := job.PageNumber
	if page < 0 {
		page = 0
	}
	return []byte(fmt.Sprintf("%s%s:pending:%020d:%010d:%s", jobIndexPrefix, job.Phase, unixNano(job.AvailableAt), page, job.ID))
}

// parsePendingKey returns the availability instant and job ID of a pending key
func parsePendingKey(phase models.Phase, key []byte) (int64, string, error) {
	suffix := key[len(pendingPrefix(phase)):]
	// 20 digits, colon, 10 digits, colon, id
	if len(suffix) < 33 {
		return 0, "", fmt.Errorf("malformed pending key %q", key)
	}
	ts, err := strconv.ParseInt(string(suffix[:20]), 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed pending key %q: %w", key, err)
	}
	return ts, string(suffix[32:]), nil
}

func statusPrefix(phase models.Phase, status models.JobStatus) []byte {
	return []byte(fmt.Sprintf("%s%s:status:%s:", jobIndexPrefix, phase, status))
}

func statusKey(job *models.Job) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", statusPrefix(job.Phase, job.Status), unixNano(job.UpdatedAt), job.ID))
}

func updatedPrefix(phase models.Phase) []byte {
	return []byte(fmt.Sprintf("%s%s:updated:", jobIndexPrefix, phase))
}

func updatedKey(job *models.Job) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", updatedPrefix(job.Phase), unixNano(job.UpdatedAt), job.ID))
}

// idFromTimeKey extracts the job ID from a status or updated key
func idFromTimeKey(prefix, key []byte) (string, error) {
	suffix := key[len(prefix):]
	if len(suffix) < 22 {
		return "", fmt.Errorf("malformed index key %q", key)
	}
	return string(suffix[21:]), nil
}

func countKey(phase models.Phase, status models.JobStatus) []byte {
	return []byte(fmt.Sprintf("%s%s:count:%s", jobIndexPrefix, phase, status))
}

func failedKindKey(phase models.Phase, kind models.ErrorKind) []byte {
	return []byte(fmt.Sprintf("%s%s:failed:%s", jobIndexPrefix, phase, kind))
}

func readCounter(txn *badger.Txn, key []byte) (int64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n int64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("malformed counter %q", key)
		}
		n = int64(binary.BigEndian.Uint64(val))
		return nil
	})
	return n, err
}

// jobWriter applies job writes inside one transaction, keeping the secondary
// keys in step with the record. Counter deltas are buffered and written once by flush.
type jobWriter struct {
	store  *badgerhold.Store
	txn    *badger.Txn
	deltas map[string]int64
}

func newJobWriter(store *badgerhold.Store, txn *badger.Txn) *jobWriter {
	return &jobWriter{store: store, txn: txn, deltas: make(map[string]int64)}
}

func (w *jobWriter) account(job *models.Job, sign int64) {
	w.deltas[string(countKey(job.Phase, job.Status))] += sign
	if job.Status == models.JobStatusFailed {
		w.deltas[string(failedKindKey(job.Phase, job.ErrorKind))] += sign
	}
}

// put writes job. old is the stored record before this change, nil for a new job.
func (w *jobWriter) put(old, job *models.Job) error {
	if old != nil {
		keys := [][]byte{statusKey(old), updatedKey(old)}
		if old.Status == models.JobStatusPending {
			keys = append(keys, pendingKey(old))
		}
		for _, key := range keys {
			if err := w.txn.Delete(key); err != nil {
				return err
			}
		}
		w.account(old, -1)
	}

	keys := [][]byte{statusKey(job), updatedKey(job)}
	if job.Status == models.JobStatusPending {
		keys = append(keys, pendingKey(job))
	}
	for _, key := range keys {
		if err := w.txn.Set(key, nil); err != nil {
			return err
		}
	}
	w.account(job, 1)

	return w.store.TxUpsert(w.txn, job.ID, job)
}

// flush writes the buffered counter deltas
func (w *jobWriter) flush() error {
	for key, delta := range w.deltas {
		if delta == 0 {
			continue
		}
		current, err := readCounter(w.txn, []byte(key))
		if err != nil {
			return err
		}
		next := current + delta
		if next < 0 {
			next = 0
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(next))
		if err := w.txn.Set([]byte(key), buf); err != nil {
			return err
		}
	}
	w.deltas = make(map[string]int64)
	return nil
}

// scanKeys visits keys under prefix without loading values. visit returns false to stop.
func scanKeys(txn *badger.Txn, prefix []byte, reverse bool, visit func(key []byte) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Reverse = reverse
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	seek := prefix
	if reverse {
		seek = append(append([]byte{}, prefix...), 0xFF)
	}
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		more, err := visit(it.Item().KeyCopy(nil))
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}
