package replay

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/murk-sim/murk"
)

// All integers are little-endian (§4.7, §6). These helpers are the single
// place that encodes that rule; every frame/payload writer and reader goes
// through them so a format change has one point of edit.

func writeU16(w *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.Write(b[:])
}

func writeU32(w *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

func writeU64(w *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.Write(b[:])
}

func writeI32(w *bytes.Buffer, v int32) { writeU32(w, uint32(v)) }
func writeI64(w *bytes.Buffer, v int64) { writeU64(w, uint64(v)) }
func writeF64(w *bytes.Buffer, v float64) { writeU64(w, math.Float64bits(v)) }

func writeBytes(w *bytes.Buffer, b []byte) {
	writeU32(w, uint32(len(b)))
	w.Write(b)
}

func writeString(w *bytes.Buffer, s string) { writeBytes(w, []byte(s)) }

func writeI32Vec(w *bytes.Buffer, v []int32) {
	writeU32(w, uint32(len(v)))
	for _, x := range v {
		writeI32(w, x)
	}
}

func writeF32Vec(w *bytes.Buffer, v []float32) {
	writeU32(w, uint32(len(v)))
	for _, x := range v {
		writeU32(w, math.Float32bits(x))
	}
}

func readU16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readI64(r *bytes.Reader) (int64, error) {
	v, err := readU64(r)
	return int64(v), err
}

func readF64(r *bytes.Reader) (float64, error) {
	v, err := readU64(r)
	return math.Float64frombits(v), err
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readBytes(r)
	return string(b), err
}

func readI32Vec(r *bytes.Reader) ([]int32, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	v := make([]int32, n)
	for i := range v {
		u, err := readU32(r)
		if err != nil {
			return nil, err
		}
		v[i] = int32(u)
	}
	return v, nil
}

func readF32Vec(r *bytes.Reader) ([]float32, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	v := make([]float32, n)
	for i := range v {
		u, err := readU32(r)
		if err != nil {
			return nil, err
		}
		v[i] = math.Float32frombits(u)
	}
	return v, nil
}

// writePresenceString writes the §4.7 presence-flagged optional string.
func writePresenceString(w *bytes.Buffer, has bool, s string) {
	if !has {
		w.WriteByte(presenceNone)
		return
	}
	w.WriteByte(presenceSome)
	writeString(w, s)
}

// writePresenceI64 writes the §4.7 presence-flagged optional int64.
func writePresenceI64(w *bytes.Buffer, has bool, v int64) {
	if !has {
		w.WriteByte(presenceNone)
		return
	}
	w.WriteByte(presenceSome)
	writeI64(w, v)
}

func readPresenceFlag(r *bytes.Reader) (present bool, err error) {
	flag, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	switch flag {
	case presenceNone:
		return false, nil
	case presenceSome:
		return true, nil
	default:
		return false, murk.WrapError(murk.CodeMalformedFrame, "", fmt.Errorf("invalid presence flag 0x%02x", flag))
	}
}

func readPresenceString(r *bytes.Reader) (has bool, s string, err error) {
	has, err = readPresenceFlag(r)
	if err != nil || !has {
		return has, "", err
	}
	s, err = readString(r)
	return has, s, err
}

func readPresenceI64(r *bytes.Reader) (has bool, v int64, err error) {
	has, err = readPresenceFlag(r)
	if err != nil || !has {
		return has, 0, err
	}
	v, err = readI64(r)
	return has, v, err
}
