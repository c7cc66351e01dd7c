// Package replay records and reproduces a world run bit-exactly on the
// same build/ISA (§4.7). The log is little-endian binary: a header naming
// the build and initial configuration, then one frame per tick carrying
// the commands applied and the resulting snapshot hash.
package replay

import "github.com/murk-sim/murk"

const (
	// Magic is the fixed 4-byte header prefix.
	Magic = "MURK"
	// FormatVersion is the current on-wire format version. Readers must
	// reject any other value with UnsupportedVersion (§6).
	FormatVersion = 3
)

// presence flag values (§4.7 "Presence flags"): distinguishes None from
// Some(0) and any other byte value is malformed.
const (
	presenceNone byte = 0x00
	presenceSome byte = 0x01
)

// BuildMetadata is recorded verbatim in the header so a later reader can
// tell whether it is safe to trust bit-exact replay on this machine.
type BuildMetadata struct {
	Toolchain     string
	TargetTriple  string
	EngineVersion string
	CompileFlags  string
}

// InitDescriptor captures the construction-time configuration a replay run
// must match to be meaningfully comparable (§4.7, CodeConfigMismatch).
type InitDescriptor struct {
	Seed            uint64
	ConfigHash      uint64
	FieldCount      uint32
	CellCount       uint64
	SpaceDescriptor []byte
}

// Header is the full replay log preamble.
type Header struct {
	FormatVersion uint32
	RunID         string // engine.Config.WorldID at recording time
	Build         BuildMetadata
	Init          InitDescriptor
}

// CommandRecord is one logged command: the wire form of murk.Command plus
// its encoded payload bytes (§4.7 "Frames").
type CommandRecord struct {
	PayloadTag       murk.PayloadType
	PayloadBytes     []byte
	PriorityClass    int32
	HasSourceID      bool
	SourceID         string
	HasSourceSeq     bool
	SourceSeq        int64
	ExpiresAfterTick murk.TickId
	ArrivalSeq       uint64
}

// Frame is one tick's worth of logged commands plus the snapshot hash
// observed after that tick published.
type Frame struct {
	TickID       murk.TickId
	Commands     []CommandRecord
	SnapshotHash uint64
}
