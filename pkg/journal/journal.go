package journal

import (
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"cyclegc/pkg/gc"
)

// Collection journal
//
// Every finished collection pass of an attached collector is appended as
// one record under a sequence-numbered key, so the history survives the
// process and can be replayed in order.

const keyPrefix = "pass/"

// Journal stores collection records in a Pebble database
type Journal struct {
	db  *pebble.DB
	seq uint64

	state   *gc.State
	cbID    int
	started time.Time
	err     error
}

// Open opens or creates a journal in dir
func Open(dir string) (*Journal, error) {
	return OpenFS(dir, vfs.Default)
}

// OpenFS opens or creates a journal in dir on fs
func OpenFS(dir string, fs vfs.FS) (*Journal, error) {
	db, err := pebble.Open(dir, &pebble.Options{FS: fs})
	if err != nil {
		return nil, errors.Wrapf(err, "open journal %s", dir)
	}
	j := &Journal{db: db}
	if j.seq, err = j.lastSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) lastSeq() (uint64, error) {
	iter, err := j.newIter()
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	if !iter.Last() {
		return 0, iter.Error()
	}
	return parseKey(iter.Key())
}

func (j *Journal) newIter() (*pebble.Iterator, error) {
	return j.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
}

// Close detaches the journal and closes the database
func (j *Journal) Close() error {
	j.Detach()
	return j.db.Close()
}

// Append stores r under the next sequence number and returns it
func (j *Journal) Append(r Record) (uint64, error) {
	j.seq++
	r.Seq = j.seq
	if err := j.db.Set(keyFor(r.Seq), encodeRecord(r), pebble.Sync); err != nil {
		return 0, errors.Wrapf(err, "append record %d", r.Seq)
	}
	return r.Seq, nil
}

// Attach records every pass of s. The journal writes from inside the
// collector's progress callback, so s must only be used under the
// execution lock as usual.
func (j *Journal) Attach(s *gc.State) {
	j.Detach()
	j.state = s
	j.cbID = s.AddCallback(j.onProgress)
}

// Detach stops recording
func (j *Journal) Detach() {
	if j.state == nil {
		return
	}
	j.state.RemoveCallback(j.cbID)
	j.state = nil
}

// Err returns the first write error hit while attached
func (j *Journal) Err() error {
	return j.err
}

// A failed write must not abort the collection: it is logged and kept.
func (j *Journal) onProgress(phase gc.Phase, info gc.Info) error {
	if phase == gc.PhaseStart {
		j.started = time.Now()
		return nil
	}
	_, err := j.Append(Record{
		Time:          j.started,
		Generation:    info.Generation,
		Collected:     info.Collected,
		Uncollectable: info.Uncollectable,
		Elapsed:       time.Since(j.started),
	})
	if err != nil {
		j.state.Logger().Printf("journal: %v", err)
		if j.err == nil {
			j.err = err
		}
	}
	return nil
}

// Replay calls fn for every record in sequence order
func (j *Journal) Replay(fn func(Record) error) error {
	iter, err := j.newIter()
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		r, err := decodeRecord(iter.Value())
		if err != nil {
			return errors.Wrapf(err, "key %s", iter.Key())
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Recent returns up to n of the latest records, oldest first
func (j *Journal) Recent(n int) ([]Record, error) {
	iter, err := j.newIter()
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Record
	for iter.Last(); iter.Valid() && len(out) < n; iter.Prev() {
		r, err := decodeRecord(iter.Value())
		if err != nil {
			return nil, errors.Wrapf(err, "key %s", iter.Key())
		}
		out = append(out, r)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, nil
}

// LastSeq returns the sequence number of the newest record
func (j *Journal) LastSeq() uint64 {
	return j.seq
}

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, seq))
}

func parseKey(b []byte) (uint64, error) {
	if len(b) <= len(keyPrefix) {
		return 0, errors.Newf("invalid journal key %q", b)
	}
	seq, err := strconv.ParseUint(string(b[len(keyPrefix):]), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid journal key %q", b)
	}
	return seq, nil
}
