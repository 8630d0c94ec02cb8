package classfile

import (
	"encoding/binary"
	"fmt"

	"fortio.org/safecast"
)

// Asm accumulates bytecode for Builder.AddMethod. Branch targets are named
// labels resolved when Bytes is called.
type Asm struct {
	code   []byte
	labels map[string]int
	fixups []fixup
}

type fixup struct {
	opPC  int // pc of the branch opcode, offsets are relative to it
	at    int // position of the offset operand
	label string
	wide  bool
}

// NewAsm returns an empty assembler.
func NewAsm() *Asm {
	return &Asm{labels: make(map[string]int)}
}

// Op appends an opcode followed by raw operand bytes.
func (a *Asm) Op(op byte, operands ...byte) *Asm {
	a.code = append(a.code, op)
	a.code = append(a.code, operands...)
	return a
}

// OpU16 appends an opcode with a big-endian u2 operand (constant pool
// indexes, sipush values).
func (a *Asm) OpU16(op byte, operand uint16) *Asm {
	a.code = append(a.code, op)
	a.code = binary.BigEndian.AppendUint16(a.code, operand)
	return a
}

// Label marks the current position.
func (a *Asm) Label(name string) *Asm {
	a.labels[name] = len(a.code)
	return a
}

// Branch appends a branch opcode with a 2-byte offset to label.
func (a *Asm) Branch(op byte, label string) *Asm {
	pc := len(a.code)
	a.code = append(a.code, op, 0, 0)
	a.fixups = append(a.fixups, fixup{opPC: pc, at: pc + 1, label: label})
	return a
}

// BranchW appends a branch opcode with a 4-byte offset (goto_w).
func (a *Asm) BranchW(op byte, label string) *Asm {
	pc := len(a.code)
	a.code = append(a.code, op, 0, 0, 0, 0)
	a.fixups = append(a.fixups, fixup{opPC: pc, at: pc + 1, label: label, wide: true})
	return a
}

// TableSwitch appends a tableswitch covering low..low+len(targets)-1.
func (a *Asm) TableSwitch(op byte, low int32, defaultLabel string, targets ...string) *Asm {
	pc := len(a.code)
	a.code = append(a.code, op)
	for len(a.code)%4 != 0 {
		a.code = append(a.code, 0)
	}
	a.wideFixup(pc, defaultLabel)
	a.code = binary.BigEndian.AppendUint32(a.code, uint32(low))
	a.code = binary.BigEndian.AppendUint32(a.code, uint32(low+int32(len(targets))-1))
	for _, t := range targets {
		a.wideFixup(pc, t)
	}
	return a
}

// LookupSwitch appends a lookupswitch. keys and targets pair up by position
// and keys must be sorted.
func (a *Asm) LookupSwitch(op byte, defaultLabel string, keys []int32, targets []string) *Asm {
	pc := len(a.code)
	a.code = append(a.code, op)
	for len(a.code)%4 != 0 {
		a.code = append(a.code, 0)
	}
	a.wideFixup(pc, defaultLabel)
	a.code = binary.BigEndian.AppendUint32(a.code, uint32(len(keys)))
	for i, k := range keys {
		a.code = binary.BigEndian.AppendUint32(a.code, uint32(k))
		a.wideFixup(pc, targets[i])
	}
	return a
}

func (a *Asm) wideFixup(opPC int, label string) {
	a.fixups = append(a.fixups, fixup{opPC: opPC, at: len(a.code), label: label, wide: true})
	a.code = append(a.code, 0, 0, 0, 0)
}

// PC returns the offset the next instruction will be written at.
func (a *Asm) PC() int { return len(a.code) }

// Pos returns the offset of a defined label, or -1.
func (a *Asm) Pos(label string) int {
	if pc, ok := a.labels[label]; ok {
		return pc
	}
	return -1
}

// Bytes resolves branch offsets and returns the bytecode.
func (a *Asm) Bytes() ([]byte, error) {
	out := make([]byte, len(a.code))
	copy(out, a.code)
	for _, f := range a.fixups {
		target, ok := a.labels[f.label]
		if !ok {
			return nil, fmt.Errorf("undefined label %q at pc %d", f.label, f.opPC)
		}
		off := target - f.opPC
		if f.wide {
			wide, err := safecast.Conv[int32](off)
			if err != nil {
				return nil, fmt.Errorf("branch to %q at pc %d: %w", f.label, f.opPC, err)
			}
			binary.BigEndian.PutUint32(out[f.at:], uint32(wide))
			continue
		}
		short, err := safecast.Conv[int16](off)
		if err != nil {
			return nil, fmt.Errorf("branch to %q at pc %d out of range (%d)", f.label, f.opPC, off)
		}
		binary.BigEndian.PutUint16(out[f.at:], uint16(short))
	}
	return out, nil
}

// MustBytes is Bytes for fixtures whose labels are known to be valid.
func (a *Asm) MustBytes() []byte {
	out, err := a.Bytes()
	if err != nil {
		panic(err)
	}
	return out
}
