package replay

import (
	"io"

	"github.com/murk-sim/murk"
)

// SeekReader pairs a Reader over a seekable log with an Index, letting a
// caller jump directly to a tick's frame instead of scanning from the start.
type SeekReader struct {
	rs  io.ReadSeeker
	idx *Index
	*Reader
}

// NewSeekReader wraps rs for sequential reads and consults idx for Seek.
func NewSeekReader(rs io.ReadSeeker, idx *Index) *SeekReader {
	return &SeekReader{rs: rs, idx: idx, Reader: NewReader(rs)}
}

// SeekTick repositions the stream at tick's frame and resets internal
// buffering so the next ReadFrame call returns that tick. Returns CodeReplayIO
// wrapping ErrTickNotIndexed if the index has no entry for tick.
func (sr *SeekReader) SeekTick(tick murk.TickId) error {
	offset, ok, err := sr.idx.Offset(tick)
	if err != nil {
		return err
	}
	if !ok {
		return murk.WrapError(murk.CodeReplayIO, "seek", ErrTickNotIndexed)
	}
	if _, err := sr.rs.Seek(int64(offset), io.SeekStart); err != nil {
		return murk.WrapError(murk.CodeReplayIO, "seek", err)
	}
	sr.Reader = NewReader(sr.rs).WithLogger(sr.Reader.log)
	return nil
}

// ErrTickNotIndexed is returned (wrapped) by SeekTick when the index has no
// recorded offset for the requested tick.
var ErrTickNotIndexed = errTickNotIndexed{}

type errTickNotIndexed struct{}

func (errTickNotIndexed) Error() string { return "replay: tick not present in index" }
