package replay

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/murk-sim/murk"
)

// ToRecord encodes cmd's discriminated payload to its on-wire schema and
// captures the rest of the command as a CommandRecord (§4.7 "Command
// payload encoding").
func ToRecord(cmd murk.Command) (CommandRecord, error) {
	var buf bytes.Buffer
	switch cmd.Payload {
	case murk.PayloadMove:
		if cmd.Move == nil {
			return CommandRecord{}, fmt.Errorf("replay: Move command with nil payload")
		}
		writeU64(&buf, cmd.Move.EntityID)
		writeI32Vec(&buf, cmd.Move.Delta)
	case murk.PayloadSpawn:
		if cmd.Spawn == nil {
			return CommandRecord{}, fmt.Errorf("replay: Spawn command with nil payload")
		}
		writeU64(&buf, cmd.Spawn.EntityID)
		writeI32Vec(&buf, cmd.Spawn.Coord)
		writeU32(&buf, cmd.Spawn.Kind)
	case murk.PayloadDespawn:
		if cmd.Despawn == nil {
			return CommandRecord{}, fmt.Errorf("replay: Despawn command with nil payload")
		}
		writeU64(&buf, cmd.Despawn.EntityID)
	case murk.PayloadSetField:
		if cmd.SetFld == nil {
			return CommandRecord{}, fmt.Errorf("replay: SetField command with nil payload")
		}
		writeU16(&buf, uint16(cmd.SetFld.Field))
		writeI64(&buf, int64(cmd.SetFld.Cell))
		writeF32Vec(&buf, cmd.SetFld.Values)
	case murk.PayloadSetParameter:
		if cmd.SetParm == nil {
			return CommandRecord{}, fmt.Errorf("replay: SetParameter command with nil payload")
		}
		writeString(&buf, cmd.SetParm.Name)
		writeF64(&buf, cmd.SetParm.Value)
	case murk.PayloadSetParameterBatch:
		if cmd.SetBatc == nil {
			return CommandRecord{}, fmt.Errorf("replay: SetParameterBatch command with nil payload")
		}
		names := sortedKeys(cmd.SetBatc.Entries)
		writeU32(&buf, uint32(len(names)))
		for _, name := range names {
			writeString(&buf, name)
			writeF64(&buf, cmd.SetBatc.Entries[name])
		}
	case murk.PayloadCustom:
		if cmd.Custom == nil {
			return CommandRecord{}, fmt.Errorf("replay: Custom command with nil payload")
		}
		writeU32(&buf, cmd.Custom.TypeID)
		writeBytes(&buf, cmd.Custom.Data)
	default:
		return CommandRecord{}, fmt.Errorf("replay: unknown payload type %d", cmd.Payload)
	}

	rec := CommandRecord{
		PayloadTag:       cmd.Payload,
		PayloadBytes:     buf.Bytes(),
		PriorityClass:    cmd.PriorityClass,
		ExpiresAfterTick: cmd.ExpiresAfterTick,
		ArrivalSeq:       cmd.ArrivalSeq,
	}
	if cmd.SourceID != nil {
		rec.HasSourceID = true
		rec.SourceID = *cmd.SourceID
	}
	if cmd.SourceSeq != nil {
		rec.HasSourceSeq = true
		rec.SourceSeq = *cmd.SourceSeq
	}
	return rec, nil
}

// FromRecord decodes rec back into a murk.Command. Unknown payload tags
// fail with CodeUnknownPayloadType (§6).
func FromRecord(rec CommandRecord) (murk.Command, error) {
	cmd := murk.Command{
		Payload:          rec.PayloadTag,
		PriorityClass:    rec.PriorityClass,
		ExpiresAfterTick: rec.ExpiresAfterTick,
		ArrivalSeq:       rec.ArrivalSeq,
	}
	if rec.HasSourceID {
		id := rec.SourceID
		cmd.SourceID = &id
	}
	if rec.HasSourceSeq {
		seq := rec.SourceSeq
		cmd.SourceSeq = &seq
	}

	r := bytes.NewReader(rec.PayloadBytes)
	switch rec.PayloadTag {
	case murk.PayloadMove:
		entityID, err := readU64(r)
		if err != nil {
			return cmd, err
		}
		delta, err := readI32Vec(r)
		if err != nil {
			return cmd, err
		}
		cmd.Move = &murk.MovePayload{EntityID: entityID, Delta: delta}
	case murk.PayloadSpawn:
		entityID, err := readU64(r)
		if err != nil {
			return cmd, err
		}
		coord, err := readI32Vec(r)
		if err != nil {
			return cmd, err
		}
		kind, err := readU32(r)
		if err != nil {
			return cmd, err
		}
		cmd.Spawn = &murk.SpawnPayload{EntityID: entityID, Coord: coord, Kind: kind}
	case murk.PayloadDespawn:
		entityID, err := readU64(r)
		if err != nil {
			return cmd, err
		}
		cmd.Despawn = &murk.DespawnPayload{EntityID: entityID}
	case murk.PayloadSetField:
		field, err := readU16(r)
		if err != nil {
			return cmd, err
		}
		cell, err := readI64(r)
		if err != nil {
			return cmd, err
		}
		values, err := readF32Vec(r)
		if err != nil {
			return cmd, err
		}
		cmd.SetFld = &murk.SetFieldPayload{Field: murk.FieldId(field), Cell: int(cell), Values: values}
	case murk.PayloadSetParameter:
		name, err := readString(r)
		if err != nil {
			return cmd, err
		}
		value, err := readF64(r)
		if err != nil {
			return cmd, err
		}
		cmd.SetParm = &murk.SetParameterPayload{Name: name, Value: value}
	case murk.PayloadSetParameterBatch:
		count, err := readU32(r)
		if err != nil {
			return cmd, err
		}
		entries := make(map[string]float64, count)
		for i := uint32(0); i < count; i++ {
			name, err := readString(r)
			if err != nil {
				return cmd, err
			}
			value, err := readF64(r)
			if err != nil {
				return cmd, err
			}
			entries[name] = value
		}
		cmd.SetBatc = &murk.SetParameterBatchPayload{Entries: entries}
	case murk.PayloadCustom:
		typeID, err := readU32(r)
		if err != nil {
			return cmd, err
		}
		data, err := readBytes(r)
		if err != nil {
			return cmd, err
		}
		cmd.Custom = &murk.CustomPayload{TypeID: typeID, Data: data}
	default:
		return cmd, murk.WrapError(murk.CodeUnknownPayloadType, "", fmt.Errorf("tag %d", rec.PayloadTag))
	}
	return cmd, nil
}

// sortedKeys returns m's keys in ascending order so SetParameterBatch's
// entries encode deterministically despite Go's randomised map iteration —
// required for bit-exact replay (§3 invariant, §8 "same-seed determinism").
func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
