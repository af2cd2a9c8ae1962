package cil

// operandKind IL 指令内联操作数的形态（ECMA-335 VI.C.2）。
type operandKind uint8

const (
	opndBad operandKind = iota // 该编码未定义指令
	opndNone
	opndI1
	opndI2
	opndI4
	opndI8
	opndSwitch
	opndString // ldstr 的 #US token
	opndPrefix // 0xFE 双字节编码前缀
)

const (
	opcLdstr  = 0x72
	opcPrefix = 0xFE
)

// size 操作数占用的字节数；opndSwitch 需要先读分支数。
func (k operandKind) size() uint32 {
	switch k {
	case opndI1:
		return 1
	case opndI2:
		return 2
	case opndI4, opndString:
		return 4
	case opndI8:
		return 8
	}
	return 0
}

var (
	opcodeOperand   [256]operandKind // 单字节编码
	opcodeOperandFE [256]operandKind // 0xFE 前缀后的第二字节
)

func init() {
	set := func(tbl *[256]operandKind, lo, hi int, k operandKind) {
		for op := lo; op <= hi; op++ {
			tbl[op] = k
		}
	}

	t := &opcodeOperand
	set(t, 0x00, 0x0D, opndNone) // nop … stloc.3
	set(t, 0x0E, 0x13, opndI1)   // ldarg.s … stloc.s
	set(t, 0x14, 0x1E, opndNone) // ldnull … ldc.i4.8
	t[0x1F] = opndI1             // ldc.i4.s
	t[0x20] = opndI4             // ldc.i4
	t[0x21] = opndI8             // ldc.i8
	t[0x22] = opndI4             // ldc.r4
	t[0x23] = opndI8             // ldc.r8
	set(t, 0x25, 0x26, opndNone) // dup, pop
	set(t, 0x27, 0x29, opndI4)   // jmp, call, calli
	t[0x2A] = opndNone           // ret
	set(t, 0x2B, 0x37, opndI1)   // 短分支
	set(t, 0x38, 0x44, opndI4)   // 长分支
	t[0x45] = opndSwitch
	set(t, 0x46, 0x6E, opndNone) // ldind/stind、算术与 conv
	set(t, 0x6F, 0x75, opndI4)   // callvirt … isinst
	t[opcLdstr] = opndString
	t[0x76] = opndNone // conv.r.un
	t[0x79] = opndI4   // unbox
	t[0x7A] = opndNone // throw
	set(t, 0x7B, 0x81, opndI4)   // 字段访问与 stobj
	set(t, 0x82, 0x8B, opndNone) // conv.ovf.*.un
	set(t, 0x8C, 0x8D, opndI4)   // box, newarr
	t[0x8E] = opndNone           // ldlen
	t[0x8F] = opndI4             // ldelema
	set(t, 0x90, 0xA2, opndNone) // ldelem.*/stelem.*
	set(t, 0xA3, 0xA5, opndI4)   // ldelem, stelem, unbox.any
	set(t, 0xB3, 0xBA, opndNone) // conv.ovf.*
	t[0xC2] = opndI4             // refanyval
	t[0xC3] = opndNone           // ckfinite
	t[0xC6] = opndI4             // mkrefany
	t[0xD0] = opndI4             // ldtoken
	set(t, 0xD1, 0xDC, opndNone) // conv 与溢出算术、endfinally
	t[0xDD] = opndI4             // leave
	t[0xDE] = opndI1             // leave.s
	set(t, 0xDF, 0xE0, opndNone) // stind.i, conv.u
	t[opcPrefix] = opndPrefix

	f := &opcodeOperandFE
	set(f, 0x00, 0x05, opndNone) // arglist, 比较
	set(f, 0x06, 0x07, opndI4)   // ldftn, ldvirtftn
	set(f, 0x09, 0x0E, opndI2)   // ldarg … stloc
	f[0x0F] = opndNone           // localloc
	f[0x11] = opndNone           // endfilter
	f[0x12] = opndI1             // unaligned.
	set(f, 0x13, 0x14, opndNone) // volatile., tail.
	set(f, 0x15, 0x16, opndI4)   // initobj, constrained.
	set(f, 0x17, 0x18, opndNone) // cpblk, initblk
	f[0x19] = opndI1             // no.
	f[0x1A] = opndNone           // rethrow
	f[0x1C] = opndI4             // sizeof
	set(f, 0x1D, 0x1E, opndNone) // refanytype, readonly.
}
