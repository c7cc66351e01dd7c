package replay

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/murk-sim/murk"
)

// Reader parses a replay log previously produced by Writer (§4.7).
type Reader struct {
	r   *bufio.Reader
	log *zap.Logger
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader { return &Reader{r: bufio.NewReader(r), log: zap.NewNop()} }

// WithLogger installs l for this reader's diagnostic logging.
func (rd *Reader) WithLogger(l *zap.Logger) *Reader {
	if l != nil {
		rd.log = l
	}
	return rd
}

// ReadHeader parses and validates the magic and format version, rejecting
// any version but FormatVersion with UnsupportedVersion (§6).
func (rd *Reader) ReadHeader() (Header, error) {
	var h Header

	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(rd.r, magic); err != nil {
		return h, murk.WrapError(murk.CodeReplayIO, "magic", err)
	}
	if string(magic) != Magic {
		return h, murk.WrapError(murk.CodeInvalidMagic, "", fmt.Errorf("got %q", magic))
	}

	version, err := rd.readU32Stream()
	if err != nil {
		return h, murk.WrapError(murk.CodeReplayIO, "format_version", err)
	}
	if version != FormatVersion {
		rd.log.Warn("replay format version mismatch", zap.Uint32("found", version), zap.Uint32("want", FormatVersion))
		return h, murk.WrapError(murk.CodeUnsupportedVersion, "", fmt.Errorf("found %d", version))
	}
	h.FormatVersion = version

	runID, rerr := rd.readStringStream()
	h.RunID = runID
	if rerr == nil {
		h.Build.Toolchain, rerr = rd.readStringStream()
	}
	if rerr == nil {
		h.Build.TargetTriple, rerr = rd.readStringStream()
	}
	if rerr == nil {
		h.Build.EngineVersion, rerr = rd.readStringStream()
	}
	if rerr == nil {
		h.Build.CompileFlags, rerr = rd.readStringStream()
	}
	if rerr == nil {
		h.Init.Seed, rerr = rd.readU64Stream()
	}
	if rerr == nil {
		h.Init.ConfigHash, rerr = rd.readU64Stream()
	}
	if rerr == nil {
		h.Init.FieldCount, rerr = rd.readU32Stream()
	}
	if rerr == nil {
		h.Init.CellCount, rerr = rd.readU64Stream()
	}
	if rerr == nil {
		h.Init.SpaceDescriptor, rerr = rd.readBytesStream()
	}
	if rerr != nil {
		return h, murk.WrapError(murk.CodeReplayIO, "header", rerr)
	}
	return h, nil
}

// ReadFrame parses the next frame. A clean EOF exactly at a frame boundary
// returns io.EOF; 1-7 bytes of a partial tick_id (or any truncation deeper
// into the frame) returns MalformedFrame, never a silent clean end (§4.7
// "EOF discipline").
func (rd *Reader) ReadFrame() (Frame, error) {
	var tickBuf [8]byte
	n, err := io.ReadFull(rd.r, tickBuf[:])
	if err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return Frame{}, io.EOF
		}
		return Frame{}, murk.WrapError(murk.CodeMalformedFrame, "tick_id", err)
	}

	f := Frame{TickID: murk.TickId(binary.LittleEndian.Uint64(tickBuf[:]))}

	count, err := rd.readU32Stream()
	if err != nil {
		return Frame{}, murk.WrapError(murk.CodeMalformedFrame, "command_count", err)
	}

	f.Commands = make([]CommandRecord, count)
	for i := uint32(0); i < count; i++ {
		rec, err := rd.readCommandRecord()
		if err != nil {
			return Frame{}, murk.WrapError(murk.CodeMalformedFrame, "command", err)
		}
		f.Commands[i] = rec
	}

	hash, err := rd.readU64Stream()
	if err != nil {
		return Frame{}, murk.WrapError(murk.CodeMalformedFrame, "snapshot_hash", err)
	}
	f.SnapshotHash = hash
	return f, nil
}

func (rd *Reader) readCommandRecord() (CommandRecord, error) {
	var rec CommandRecord

	tagByte, err := rd.r.ReadByte()
	if err != nil {
		return rec, err
	}
	rec.PayloadTag = murk.PayloadType(tagByte)

	payload, err := rd.readBytesStream()
	if err != nil {
		return rec, err
	}
	rec.PayloadBytes = payload

	priority, err := rd.readU32Stream()
	if err != nil {
		return rec, err
	}
	rec.PriorityClass = int32(priority)

	hasID, sourceID, err := rd.readPresenceStringStream()
	if err != nil {
		return rec, err
	}
	rec.HasSourceID, rec.SourceID = hasID, sourceID

	hasSeq, sourceSeq, err := rd.readPresenceI64Stream()
	if err != nil {
		return rec, err
	}
	rec.HasSourceSeq, rec.SourceSeq = hasSeq, sourceSeq

	expires, err := rd.readU64Stream()
	if err != nil {
		return rec, err
	}
	rec.ExpiresAfterTick = murk.TickId(expires)

	arrival, err := rd.readU64Stream()
	if err != nil {
		return rec, err
	}
	rec.ArrivalSeq = arrival

	return rec, nil
}

// The stream-level helpers below mirror codec.go's bytes.Reader helpers
// but operate directly on the buffered io.Reader, since a replay log is
// read incrementally rather than from one in-memory buffer.

func (rd *Reader) readU32Stream() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(rd.r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (rd *Reader) readU64Stream() (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(rd.r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func (rd *Reader) readBytesStream() ([]byte, error) {
	n, err := rd.readU32Stream()
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(rd.r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (rd *Reader) readStringStream() (string, error) {
	b, err := rd.readBytesStream()
	return string(b), err
}

func (rd *Reader) readPresenceStringStream() (bool, string, error) {
	flag, err := rd.r.ReadByte()
	if err != nil {
		return false, "", err
	}
	switch flag {
	case presenceNone:
		return false, "", nil
	case presenceSome:
		s, err := rd.readStringStream()
		return true, s, err
	default:
		return false, "", fmt.Errorf("invalid presence flag 0x%02x", flag)
	}
}

func (rd *Reader) readPresenceI64Stream() (bool, int64, error) {
	flag, err := rd.r.ReadByte()
	if err != nil {
		return false, 0, err
	}
	switch flag {
	case presenceNone:
		return false, 0, nil
	case presenceSome:
		v, err := rd.readU64Stream()
		return true, int64(v), err
	default:
		return false, 0, fmt.Errorf("invalid presence flag 0x%02x", flag)
	}
}

