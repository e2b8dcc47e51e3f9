// Package mp encodes and decodes the moteus multiplex register protocol.
//
// Protocol docs at https://github.com/mjbots/moteus/blob/main/docs/reference.md
package mp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

type Register uint16

type Type uint8

const (
	Int8 Type = iota
	Int16
	Int32
	Float
)

func (t Type) size() int {
	switch t {
	case Int8:
		return 1
	case Int16:
		return 2
	case Int32, Float:
		return 4
	}
	return 0
}

type Kind uint8

const (
	KindWrite Kind = 0x00
	KindRead  Kind = 0x10
	KindReply Kind = 0x20
	// KindWriteError and KindReadError are followed by a register and an error code.
	KindWriteError Kind = 0x30
	KindReadError  Kind = 0x31
	KindNop        Kind = 0x50
)

// Subframe is one decoded element of a frame.
type Subframe struct {
	Kind  Kind
	Type  Type
	Start Register
	Count int
	// Values holds the decoded values of write and reply subframes. Integer
	// registers are returned unscaled.
	Values []float64
	// Err holds the error code of write and read error subframes.
	Err uint64
}

// Frame accumulates subframes for a single CAN-FD payload.
type Frame struct {
	buf bytes.Buffer
}

func (f *Frame) header(kind Kind, t Type, start Register, count int) {
	if count >= 1 && count <= 3 {
		f.buf.WriteByte(byte(kind) | byte(t)<<2 | byte(count))
	} else {
		f.buf.WriteByte(byte(kind) | byte(t)<<2)
		f.varuint(uint64(count))
	}
	f.varuint(uint64(start))
}

func (f *Frame) varuint(v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		f.buf.WriteByte(b)
		if v == 0 {
			return
		}
	}
}

func (f *Frame) value(t Type, v float64) {
	var tmp [4]byte
	switch t {
	case Int8:
		f.buf.WriteByte(byte(int8(v)))
	case Int16:
		binary.LittleEndian.PutUint16(tmp[:], uint16(int16(v)))
		f.buf.Write(tmp[:2])
	case Int32:
		binary.LittleEndian.PutUint32(tmp[:], uint32(int32(v)))
		f.buf.Write(tmp[:4])
	case Float:
		binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(float32(v)))
		f.buf.Write(tmp[:4])
	}
}

// Write appends a write of consecutive registers starting at start.
func (f *Frame) Write(t Type, start Register, values ...float64) {
	f.header(KindWrite, t, start, len(values))
	for _, v := range values {
		f.value(t, v)
	}
}

// Read appends a read request for count consecutive registers.
func (f *Frame) Read(t Type, start Register, count int) {
	f.header(KindRead, t, start, count)
}

// Reply appends a reply carrying values for consecutive registers.
func (f *Frame) Reply(t Type, start Register, values ...float64) {
	f.header(KindReply, t, start, len(values))
	for _, v := range values {
		f.value(t, v)
	}
}

// Len returns the unpadded payload length.
func (f *Frame) Len() int {
	return f.buf.Len()
}

// Bytes returns the payload padded with NOPs to a valid CAN-FD length.
func (f *Frame) Bytes() []byte {
	out := append([]byte(nil), f.buf.Bytes()...)
	for len(out) < PaddedLen(len(out)) {
		out = append(out, byte(KindNop))
	}
	return out
}

var fdLengths = []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// PaddedLen returns the smallest CAN-FD payload length that fits n bytes.
func PaddedLen(n int) int {
	for _, l := range fdLengths {
		if l >= n {
			return l
		}
	}
	return n
}

var ErrTruncated = errors.New("truncated frame")

type reader struct {
	b []byte
}

func (r *reader) byte() (byte, error) {
	if len(r.b) == 0 {
		return 0, ErrTruncated
	}
	b := r.b[0]
	r.b = r.b[1:]
	return b, nil
}

func (r *reader) varuint() (uint64, error) {
	var v uint64
	for shift := uint(0); shift < 64; shift += 7 {
		b, err := r.byte()
		if err != nil {
			return 0, err
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, errors.New("varuint overflow")
}

func (r *reader) value(t Type) (float64, error) {
	n := t.size()
	if len(r.b) < n {
		return 0, ErrTruncated
	}
	b := r.b[:n]
	r.b = r.b[n:]
	switch t {
	case Int8:
		return float64(int8(b[0])), nil
	case Int16:
		return float64(int16(binary.LittleEndian.Uint16(b))), nil
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(b))), nil
	default:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
	}
}

// Parse decodes every subframe in data. Trailing NOPs are skipped.
func Parse(data []byte) ([]Subframe, error) {
	r := &reader{b: data}
	var out []Subframe
	for len(r.b) > 0 {
		h, _ := r.byte()
		switch {
		case Kind(h) == KindNop:
			continue
		case Kind(h) == KindWriteError || Kind(h) == KindReadError:
			reg, err := r.varuint()
			if err != nil {
				return nil, err
			}
			code, err := r.varuint()
			if err != nil {
				return nil, err
			}
			out = append(out, Subframe{Kind: Kind(h), Start: Register(reg), Err: code})
			continue
		}
		kind := Kind(h & 0xf0)
		if kind != KindWrite && kind != KindRead && kind != KindReply {
			return nil, fmt.Errorf("unknown subframe 0x%02x", h)
		}
		sf := Subframe{Kind: kind, Type: Type(h >> 2 & 0x3), Count: int(h & 0x3)}
		if sf.Count == 0 {
			c, err := r.varuint()
			if err != nil {
				return nil, err
			}
			sf.Count = int(c)
		}
		start, err := r.varuint()
		if err != nil {
			return nil, err
		}
		sf.Start = Register(start)
		if kind != KindRead {
			for i := 0; i < sf.Count; i++ {
				v, err := r.value(sf.Type)
				if err != nil {
					return nil, err
				}
				sf.Values = append(sf.Values, v)
			}
		}
		out = append(out, sf)
	}
	return out, nil
}

// Registers flattens the values of write and reply subframes by register.
func Registers(subframes []Subframe) map[Register]float64 {
	regs := make(map[Register]float64)
	for _, sf := range subframes {
		for i, v := range sf.Values {
			regs[sf.Start+Register(i)] = v
		}
	}
	return regs
}
