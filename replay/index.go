package replay

import (
	"encoding/binary"
	"fmt"
	"strconv"

	badger "github.com/dgraph-io/badger/v4"
	"golang.org/x/sync/singleflight"

	"github.com/murk-sim/murk"
)

// Index is an optional accelerant for random-access tick lookup in a replay
// file: tick_id -> byte offset of that frame's tick_id field. A log is fully
// readable and replayable without one; build it once during recording (or
// while linearly scanning an existing log) to later Seek without a full
// linear pass (§12 "replay seek index").
type Index struct {
	db *badger.DB
	// group dedups concurrent Offset lookups against the same tick, the
	// way a divergence search fans out several goroutines that can land on
	// the same candidate tick before any of them has an answer yet.
	group singleflight.Group
}

// OpenIndex opens (creating if absent) a Badger-backed index rooted at dir.
func OpenIndex(dir string) (*Index, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, murk.WrapError(murk.CodeReplayIO, "index_open", err)
	}
	return &Index{db: db}, nil
}

// Close releases the underlying Badger handle.
func (ix *Index) Close() error {
	if err := ix.db.Close(); err != nil {
		return murk.WrapError(murk.CodeReplayIO, "index_close", err)
	}
	return nil
}

// Put records the byte offset of tick's frame. Callers building an index
// while writing a log call this right before each WriteFrame.
func (ix *Index) Put(tick murk.TickId, offset uint64) error {
	key := tickKey(tick)
	var val [8]byte
	binary.LittleEndian.PutUint64(val[:], offset)
	err := ix.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val[:])
	})
	if err != nil {
		return murk.WrapError(murk.CodeReplayIO, "index_put", err)
	}
	return nil
}

type offsetResult struct {
	offset uint64
	ok     bool
}

// Offset looks up the byte offset of tick's frame. ok is false if the tick
// was never indexed (e.g. the index was built against a truncated prefix of
// the log, or never built for this log at all). Concurrent lookups for the
// same tick collapse into a single Badger transaction.
func (ix *Index) Offset(tick murk.TickId) (offset uint64, ok bool, err error) {
	v, err, _ := ix.group.Do(strconv.FormatUint(uint64(tick), 10), func() (interface{}, error) {
		var res offsetResult
		txnErr := ix.db.View(func(txn *badger.Txn) error {
			item, getErr := txn.Get(tickKey(tick))
			if getErr == badger.ErrKeyNotFound {
				return nil
			}
			if getErr != nil {
				return getErr
			}
			res.ok = true
			return item.Value(func(b []byte) error {
				if len(b) != 8 {
					return fmt.Errorf("index value for tick %d has length %d", tick, len(b))
				}
				res.offset = binary.LittleEndian.Uint64(b)
				return nil
			})
		})
		if txnErr != nil {
			return offsetResult{}, murk.WrapError(murk.CodeReplayIO, "index_get", txnErr)
		}
		return res, nil
	})
	if err != nil {
		return 0, false, err
	}
	res := v.(offsetResult)
	return res.offset, res.ok, nil
}

func tickKey(tick murk.TickId) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(tick))
	return k
}
