// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package imagesource

import (
	"fmt"

	"github.com/google/syzygy-sub008/address"
)

// SimpleX86Decoder recognizes the control-flow-relevant x86 opcodes
// (ret, int3, direct call/jmp, short and near conditional jumps) and
// treats everything else as an opaque single byte. It exists so the
// core's Decoder seam has a working implementation without pulling in
// a full instruction-length table; no byte-accurate x86 length
// disassembler was available anywhere in the source pack this module
// was built from (golang-asm, the one x86-adjacent dependency in
// reach, is an assembler, not a decoder — see decompose/x86enc). A
// production deployment should supply its own Decoder, typically
// backed by a proper length-disassembler library; nothing in
// decompose or basicblock depends on this one.
type SimpleX86Decoder struct{}

func (SimpleX86Decoder) Decode(buf []byte, addr address.Absolute) (Instruction, error) {
	if len(buf) == 0 {
		return Instruction{}, fmt.Errorf("imagesource: no bytes available at %#x", uint32(addr))
	}
	op := buf[0]
	switch {
	case op == 0xC3:
		return Instruction{Size: 1, FlowControl: FlowReturn}, nil
	case op == 0xC2:
		if len(buf) < 3 {
			return Instruction{}, fmt.Errorf("imagesource: truncated RET imm16 at %#x", uint32(addr))
		}
		return Instruction{Size: 3, FlowControl: FlowReturn}, nil
	case op == 0xCC:
		return Instruction{Size: 1, FlowControl: FlowInterrupt}, nil
	case op == 0xCD:
		if len(buf) < 2 {
			return Instruction{}, fmt.Errorf("imagesource: truncated INT at %#x", uint32(addr))
		}
		return Instruction{Size: 2, FlowControl: FlowInterrupt}, nil
	case op == 0xE8:
		if len(buf) < 5 {
			return Instruction{}, fmt.Errorf("imagesource: truncated CALL at %#x", uint32(addr))
		}
		return rel32(buf, FlowCall), nil
	case op == 0xE9:
		if len(buf) < 5 {
			return Instruction{}, fmt.Errorf("imagesource: truncated JMP at %#x", uint32(addr))
		}
		return rel32(buf, FlowUncBranch), nil
	case op == 0xEB:
		if len(buf) < 2 {
			return Instruction{}, fmt.Errorf("imagesource: truncated JMP at %#x", uint32(addr))
		}
		return rel8(buf, FlowUncBranch), nil
	case op >= 0x70 && op <= 0x7F:
		if len(buf) < 2 {
			return Instruction{}, fmt.Errorf("imagesource: truncated Jcc at %#x", uint32(addr))
		}
		return rel8(buf, FlowCndBranch), nil
	case op == 0x0F && len(buf) >= 2 && buf[1] >= 0x80 && buf[1] <= 0x8F:
		if len(buf) < 6 {
			return Instruction{}, fmt.Errorf("imagesource: truncated near Jcc at %#x", uint32(addr))
		}
		inst := rel32(buf[1:], FlowCndBranch)
		inst.Size++
		return inst, nil
	default:
		return Instruction{Size: 1, FlowControl: FlowNone}, nil
	}
}

func rel8(buf []byte, fc FlowControl) Instruction {
	return Instruction{
		Size:        2,
		FlowControl: fc,
		Operands: [4]Operand{
			{Type: OperandPCRelative, Size: 1, Immediate: int64(int8(buf[1]))},
		},
	}
}

func rel32(buf []byte, fc FlowControl) Instruction {
	imm := int32(uint32(buf[1]) | uint32(buf[2])<<8 | uint32(buf[3])<<16 | uint32(buf[4])<<24)
	return Instruction{
		Size:        5,
		FlowControl: fc,
		Operands: [4]Operand{
			{Type: OperandPCRelative, Size: 4, Immediate: int64(imm)},
		},
	}
}
