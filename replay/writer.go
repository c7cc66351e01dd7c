package replay

import (
	"bufio"
	"bytes"
	"io"

	"go.uber.org/zap"

	"github.com/murk-sim/murk"
)

// Writer appends replay frames to an underlying io.Writer (§4.7 "Log
// structure"). It does not buffer across process restarts: callers own
// file opening/closing.
type Writer struct {
	w      *bufio.Writer
	log    *zap.Logger
	frames uint64
}

// NewWriter wraps w, buffering writes until Flush.
func NewWriter(w io.Writer) *Writer { return &Writer{w: bufio.NewWriter(w), log: zap.NewNop()} }

// WithLogger installs l for this writer's diagnostic logging (header/frame
// I/O errors are returned to the caller regardless; this only covers
// slow-path events like periodic flush notices).
func (wr *Writer) WithLogger(l *zap.Logger) *Writer {
	if l != nil {
		wr.log = l
	}
	return wr
}

// WriteHeader writes the magic, format version, build metadata, and init
// descriptor. Must be called exactly once, before any WriteFrame call.
func (wr *Writer) WriteHeader(h Header) error {
	var buf bytes.Buffer
	buf.WriteString(Magic)
	writeU32(&buf, h.FormatVersion)
	writeString(&buf, h.RunID)
	writeString(&buf, h.Build.Toolchain)
	writeString(&buf, h.Build.TargetTriple)
	writeString(&buf, h.Build.EngineVersion)
	writeString(&buf, h.Build.CompileFlags)
	writeU64(&buf, h.Init.Seed)
	writeU64(&buf, h.Init.ConfigHash)
	writeU32(&buf, h.Init.FieldCount)
	writeU64(&buf, h.Init.CellCount)
	writeBytes(&buf, h.Init.SpaceDescriptor)

	_, err := wr.w.Write(buf.Bytes())
	return err
}

// WriteFrame appends one tick's frame: tick_id, command_count, each
// command record, then the snapshot hash (§4.7 "Frames").
func (wr *Writer) WriteFrame(f Frame) error {
	var buf bytes.Buffer
	writeU64(&buf, uint64(f.TickID))
	writeU32(&buf, uint32(len(f.Commands)))
	for _, rec := range f.Commands {
		buf.WriteByte(byte(rec.PayloadTag))
		writeBytes(&buf, rec.PayloadBytes)
		writeI32(&buf, rec.PriorityClass)
		writePresenceString(&buf, rec.HasSourceID, rec.SourceID)
		writePresenceI64(&buf, rec.HasSourceSeq, rec.SourceSeq)
		writeU64(&buf, uint64(rec.ExpiresAfterTick))
		writeU64(&buf, rec.ArrivalSeq)
	}
	writeU64(&buf, f.SnapshotHash)

	_, err := wr.w.Write(buf.Bytes())
	if err != nil {
		return murk.WrapError(murk.CodeReplayIO, "frame", err)
	}
	wr.frames++
	if wr.frames%100000 == 0 {
		wr.log.Info("replay frames written", zap.Uint64("count", wr.frames))
	}
	return nil
}

// Flush pushes buffered bytes to the underlying writer.
func (wr *Writer) Flush() error { return wr.w.Flush() }
