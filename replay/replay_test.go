package replay

import (
	"bytes"
	"io"
	"testing"

	"github.com/murk-sim/murk"
)

func TestWriterReaderRoundTripHeaderAndFrame(t *testing.T) {
	h := Header{
		FormatVersion: FormatVersion,
		RunID:         "run-123",
		Build: BuildMetadata{
			Toolchain:     "go1.22",
			TargetTriple:  "x86_64-unknown-linux-gnu",
			EngineVersion: "0.1.0",
			CompileFlags:  "-tags=release",
		},
		Init: InitDescriptor{
			Seed:            42,
			ConfigHash:      0xdeadbeef,
			FieldCount:      2,
			CellCount:       16,
			SpaceDescriptor: []byte{1, 2, 3},
		},
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteHeader(h); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}

	frame := Frame{
		TickID: 7,
		Commands: []CommandRecord{
			{PayloadTag: murk.PayloadSetParameter, PayloadBytes: []byte("x"), PriorityClass: 1, ArrivalSeq: 9},
		},
		SnapshotHash: 0x1234,
	}
	if err := w.WriteFrame(frame); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	r := NewReader(&buf)
	gotHeader, err := r.ReadHeader()
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if gotHeader.RunID != h.RunID {
		t.Fatalf("want RunID %q, got %q", h.RunID, gotHeader.RunID)
	}
	if gotHeader.Build != h.Build {
		t.Fatalf("want Build %+v, got %+v", h.Build, gotHeader.Build)
	}
	if gotHeader.Init.Seed != h.Init.Seed || gotHeader.Init.ConfigHash != h.Init.ConfigHash {
		t.Fatalf("want Init %+v, got %+v", h.Init, gotHeader.Init)
	}

	gotFrame, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if gotFrame.TickID != frame.TickID || gotFrame.SnapshotHash != frame.SnapshotHash {
		t.Fatalf("want frame %+v, got %+v", frame, gotFrame)
	}
	if len(gotFrame.Commands) != 1 || gotFrame.Commands[0].ArrivalSeq != 9 {
		t.Fatalf("want one command with ArrivalSeq 9, got %+v", gotFrame.Commands)
	}

	if _, err := r.ReadFrame(); err != io.EOF {
		t.Fatalf("want io.EOF at log end, got %v", err)
	}
}

func TestReadHeaderRejectsBadMagic(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte("XXXX")))
	_, err := r.ReadHeader()
	if code, ok := murk.CodeOf(err); !ok || code != murk.CodeInvalidMagic {
		t.Fatalf("want CodeInvalidMagic, got %v", err)
	}
}

func TestReadHeaderRejectsUnsupportedVersion(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(Magic)
	writeU32(&buf, FormatVersion+1)
	r := NewReader(&buf)
	_, err := r.ReadHeader()
	if code, ok := murk.CodeOf(err); !ok || code != murk.CodeUnsupportedVersion {
		t.Fatalf("want CodeUnsupportedVersion, got %v", err)
	}
}

func srcPtr(s string) *string { return &s }
func seqPtr(v int64) *int64   { return &v }

func TestToRecordFromRecordRoundTrip(t *testing.T) {
	cases := []murk.Command{
		{Payload: murk.PayloadMove, Move: &murk.MovePayload{EntityID: 1, Delta: []int32{1, -1}}, PriorityClass: 2, SourceID: srcPtr("a"), SourceSeq: seqPtr(5)},
		{Payload: murk.PayloadSpawn, Spawn: &murk.SpawnPayload{EntityID: 2, Coord: []int32{3, 4}, Kind: 9}},
		{Payload: murk.PayloadDespawn, Despawn: &murk.DespawnPayload{EntityID: 3}},
		{Payload: murk.PayloadSetField, SetFld: &murk.SetFieldPayload{Field: 1, Cell: 2, Values: []float32{1.5, 2.5}}},
		{Payload: murk.PayloadSetParameter, SetParm: &murk.SetParameterPayload{Name: "gravity", Value: 9.8}},
		{Payload: murk.PayloadSetParameterBatch, SetBatc: &murk.SetParameterBatchPayload{Entries: map[string]float64{"a": 1, "b": 2}}},
		{Payload: murk.PayloadCustom, Custom: &murk.CustomPayload{TypeID: 7, Data: []byte{9, 8, 7}}},
	}

	for _, cmd := range cases {
		rec, err := ToRecord(cmd)
		if err != nil {
			t.Fatalf("ToRecord(%v): %v", cmd.Payload, err)
		}
		got, err := FromRecord(rec)
		if err != nil {
			t.Fatalf("FromRecord(%v): %v", cmd.Payload, err)
		}
		if got.Payload != cmd.Payload {
			t.Fatalf("payload mismatch: want %v got %v", cmd.Payload, got.Payload)
		}
		switch cmd.Payload {
		case murk.PayloadMove:
			if got.Move.EntityID != cmd.Move.EntityID || len(got.Move.Delta) != len(cmd.Move.Delta) {
				t.Fatalf("Move round trip mismatch: want %+v got %+v", cmd.Move, got.Move)
			}
			if got.SourceID == nil || *got.SourceID != *cmd.SourceID {
				t.Fatalf("SourceID not preserved: got %v", got.SourceID)
			}
			if got.SourceSeq == nil || *got.SourceSeq != *cmd.SourceSeq {
				t.Fatalf("SourceSeq not preserved: got %v", got.SourceSeq)
			}
		case murk.PayloadSpawn:
			if got.Spawn.EntityID != cmd.Spawn.EntityID || got.Spawn.Kind != cmd.Spawn.Kind {
				t.Fatalf("Spawn round trip mismatch: want %+v got %+v", cmd.Spawn, got.Spawn)
			}
		case murk.PayloadDespawn:
			if got.Despawn.EntityID != cmd.Despawn.EntityID {
				t.Fatalf("Despawn round trip mismatch")
			}
		case murk.PayloadSetField:
			if got.SetFld.Field != cmd.SetFld.Field || got.SetFld.Cell != cmd.SetFld.Cell {
				t.Fatalf("SetField round trip mismatch: want %+v got %+v", cmd.SetFld, got.SetFld)
			}
		case murk.PayloadSetParameter:
			if got.SetParm.Name != cmd.SetParm.Name || got.SetParm.Value != cmd.SetParm.Value {
				t.Fatalf("SetParameter round trip mismatch")
			}
		case murk.PayloadSetParameterBatch:
			if len(got.SetBatc.Entries) != len(cmd.SetBatc.Entries) {
				t.Fatalf("SetParameterBatch round trip mismatch: want %+v got %+v", cmd.SetBatc.Entries, got.SetBatc.Entries)
			}
		case murk.PayloadCustom:
			if got.Custom.TypeID != cmd.Custom.TypeID || !bytes.Equal(got.Custom.Data, cmd.Custom.Data) {
				t.Fatalf("Custom round trip mismatch: want %+v got %+v", cmd.Custom, got.Custom)
			}
		}
	}
}

func TestFromRecordRejectsUnknownPayloadTag(t *testing.T) {
	_, err := FromRecord(CommandRecord{PayloadTag: murk.PayloadType(99)})
	if code, ok := murk.CodeOf(err); !ok || code != murk.CodeUnknownPayloadType {
		t.Fatalf("want CodeUnknownPayloadType, got %v", err)
	}
}

type fakeSnapshot struct {
	ids    []murk.FieldId
	fields map[murk.FieldId][]float32
}

func (s fakeSnapshot) TickID() murk.TickId                         { return 0 }
func (s fakeSnapshot) WorldGenerationID() murk.WorldGenerationId    { return 0 }
func (s fakeSnapshot) ParameterVersion() murk.ParameterVersion      { return 0 }
func (s fakeSnapshot) FieldIDs() []murk.FieldId                     { return s.ids }
func (s fakeSnapshot) ReadField(id murk.FieldId) ([]float32, bool) {
	v, ok := s.fields[id]
	return v, ok
}

func TestSnapshotHashIsDeterministicAndOrderInsensitiveToFieldIteration(t *testing.T) {
	snap := fakeSnapshot{
		ids:    []murk.FieldId{0, 1},
		fields: map[murk.FieldId][]float32{0: {1, 2, 3}, 1: {4, 5}},
	}
	h1 := SnapshotHash(snap)
	h2 := SnapshotHash(snap)
	if h1 != h2 {
		t.Fatalf("want deterministic hash, got %d vs %d", h1, h2)
	}

	other := fakeSnapshot{
		ids:    []murk.FieldId{0, 1},
		fields: map[murk.FieldId][]float32{0: {1, 2, 3}, 1: {4, 5, 9}},
	}
	if SnapshotHash(other) == h1 {
		t.Fatal("expected different field contents to produce a different hash")
	}
}

func TestDivergenceCompare(t *testing.T) {
	if d := Compare(3, 0xAAAA, 0xAAAA); d != nil {
		t.Fatalf("want nil on matching hashes, got %+v", d)
	}
	d := Compare(3, 0xAAAA, 0xBBBB)
	if d == nil || d.TickID != 3 || d.RecordedHash != 0xAAAA || d.ReplayedHash != 0xBBBB {
		t.Fatalf("want a populated Divergence, got %+v", d)
	}
}

func TestIndexPutAndOffsetRoundTrip(t *testing.T) {
	ix, err := OpenIndex(t.TempDir())
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	defer ix.Close()

	if err := ix.Put(5, 128); err != nil {
		t.Fatalf("Put: %v", err)
	}
	offset, ok, err := ix.Offset(5)
	if err != nil {
		t.Fatalf("Offset: %v", err)
	}
	if !ok || offset != 128 {
		t.Fatalf("want offset 128, got %d ok=%v", offset, ok)
	}

	_, ok, err = ix.Offset(6)
	if err != nil {
		t.Fatalf("Offset(6): %v", err)
	}
	if ok {
		t.Fatal("want ok=false for an un-indexed tick")
	}
}

func TestSeekReaderSeekTickRepositionsStream(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteHeader(Header{FormatVersion: FormatVersion}); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	offsets := make(map[murk.TickId]uint64)
	for tick := murk.TickId(1); tick <= 3; tick++ {
		// Writer buffers; flush so buf.Len() is the frame's true byte offset.
		if err := w.Flush(); err != nil {
			t.Fatalf("Flush: %v", err)
		}
		offsets[tick] = uint64(buf.Len())
		if err := w.WriteFrame(Frame{TickID: tick, SnapshotHash: uint64(tick) * 10}); err != nil {
			t.Fatalf("WriteFrame(%d): %v", tick, err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	ix, err := OpenIndex(t.TempDir())
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	defer ix.Close()
	for tick, off := range offsets {
		if err := ix.Put(tick, off); err != nil {
			t.Fatalf("Put(%d): %v", tick, err)
		}
	}

	sr := NewSeekReader(bytes.NewReader(buf.Bytes()), ix)
	if err := sr.SeekTick(2); err != nil {
		t.Fatalf("SeekTick: %v", err)
	}
	frame, err := sr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame after seek: %v", err)
	}
	if frame.TickID != 2 || frame.SnapshotHash != 20 {
		t.Fatalf("want tick 2 frame, got %+v", frame)
	}

	if err := sr.SeekTick(99); err == nil {
		t.Fatal("expected an error seeking to an un-indexed tick")
	}
}
