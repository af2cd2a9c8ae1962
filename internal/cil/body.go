package cil

import (
	"encoding/binary"
	"fmt"
)

// 方法体头格式标志（ECMA-335 II.25.4）。
const (
	bodyTiny = 0x2
	bodyFat  = 0x3
)

// Instruction 方法体中解码出的一条 IL 指令。
type Instruction struct {
	Offset uint32 // 相对方法代码起点的偏移
	opcode uint16
	isStr  bool
	str    string
	tokOff uint32 // ldstr 操作数在文件中的绝对偏移
	asm    *Assembly
}

// LoadString 若该指令为 ldstr，返回其字符串操作数。
func (ins *Instruction) LoadString() (string, bool) {
	return ins.str, ins.isStr
}

// SetLoadString 将 ldstr 的字符串操作数替换为 s，序列化时写回。
func (ins *Instruction) SetLoadString(s string) error {
	if !ins.isStr {
		return fmt.Errorf("偏移 0x%x 处的指令 0x%02x 不是 ldstr，无法替换字符串", ins.Offset, ins.opcode)
	}
	ins.asm.patches[ins.tokOff] = s
	ins.str = s
	return nil
}

// Instructions 解码方法体并返回全部指令；抽象或外部方法返回 nil。
func (m *Method) Instructions() ([]*Instruction, error) {
	if m.row.rva == 0 {
		return nil, nil
	}
	img := m.asm.img
	off, err := img.rvaToOffset(m.row.rva)
	if err != nil {
		return nil, fmt.Errorf("方法 %s 的体 RVA 无效: %w", m.Name, err)
	}

	hdr, err := img.view(off, 1)
	if err != nil {
		return nil, fmt.Errorf("方法 %s: %w", m.Name, err)
	}
	var codeOff, codeSize uint32
	switch hdr[0] & 0x3 {
	case bodyTiny:
		codeOff = off + 1
		codeSize = uint32(hdr[0] >> 2)
	case bodyFat:
		fat, err := img.view(off, 12)
		if err != nil {
			return nil, fmt.Errorf("方法 %s: 胖方法体头越界: %w", m.Name, err)
		}
		flags := binary.LittleEndian.Uint16(fat)
		hdrSize := uint32(flags>>12) * 4
		if hdrSize < 12 {
			return nil, fmt.Errorf("方法 %s: 胖方法体头长度 %d 非法", m.Name, hdrSize)
		}
		codeOff = off + hdrSize
		codeSize = binary.LittleEndian.Uint32(fat[4:])
	default:
		return nil, fmt.Errorf("方法 %s: 未知的方法体头格式 0x%02x", m.Name, hdr[0])
	}

	code, err := img.view(codeOff, codeSize)
	if err != nil {
		return nil, fmt.Errorf("方法 %s: 代码区越界: %w", m.Name, err)
	}

	var out []*Instruction
	for pc := uint32(0); pc < codeSize; {
		start := pc
		op := uint16(code[pc])
		pc++
		kind := opcodeOperand[op]
		if kind == opndPrefix {
			if pc >= codeSize {
				return nil, fmt.Errorf("方法 %s: 0xFE 前缀后代码截断", m.Name)
			}
			op = 0xFE00 | uint16(code[pc])
			pc++
			kind = opcodeOperandFE[op&0xFF]
		}
		if kind == opndBad {
			return nil, fmt.Errorf("方法 %s: 偏移 0x%x 处遇到未定义指令 0x%02x", m.Name, start, op)
		}

		ins := &Instruction{Offset: start, opcode: op, asm: m.asm}
		switch kind {
		case opndSwitch:
			if pc+4 > codeSize {
				return nil, fmt.Errorf("方法 %s: switch 指令越界", m.Name)
			}
			n := binary.LittleEndian.Uint32(code[pc:])
			pc += 4
			need := uint64(n) * 4
			if uint64(pc)+need > uint64(codeSize) {
				return nil, fmt.Errorf("方法 %s: switch 目标表越界", m.Name)
			}
			pc += uint32(need)
		case opndString:
			if pc+4 > codeSize {
				return nil, fmt.Errorf("方法 %s: ldstr 操作数越界", m.Name)
			}
			tok := binary.LittleEndian.Uint32(code[pc:])
			if tok>>24 != 0x70 {
				return nil, fmt.Errorf("方法 %s: ldstr 操作数 0x%08x 不是 #US token", m.Name, tok)
			}
			s, err := m.asm.md.userString(tok & 0xFFFFFF)
			if err != nil {
				return nil, fmt.Errorf("方法 %s: %w", m.Name, err)
			}
			ins.isStr = true
			ins.str = s
			ins.tokOff = codeOff + pc
			pc += 4
		default:
			sz := kind.size()
			if uint64(pc)+uint64(sz) > uint64(codeSize) {
				return nil, fmt.Errorf("方法 %s: 指令 0x%02x 操作数越界", m.Name, op)
			}
			pc += sz
		}
		out = append(out, ins)
	}
	return out, nil
}
