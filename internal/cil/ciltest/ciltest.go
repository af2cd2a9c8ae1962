// Package ciltest 构造测试用的最小托管程序集。
//
// 生成的是完整的 PE32 映像：单个 .text 节内依次放置 CLI 头、方法体与
// 元数据（#~、#Strings、#US、#GUID、#Blob 五个流齐全），足以走解析与
// 写回的正常路径。
package ciltest

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"unicode/utf16"
)

// Assembly 待生成程序集的描述。
type Assembly struct {
	Name  string // 清单程序集简单名；为空则不生成 Assembly 表
	Types []Type
	Refs  []string // AssemblyRef 简单名
}

// Type 一个类型及其方法，按声明顺序写入 TypeDef 表。
type Type struct {
	Namespace string
	Name      string
	Methods   []Method
	Enclosing string // 外层类型的 Name；为空表示顶层类型
}

// Method 一个方法。方法体依次加载 Strings 中的字面量后返回。
type Method struct {
	Name    string
	Strings []string
	NoBody  bool // 抽象方法，RVA 置 0
	Fat     bool // 强制胖方法体头；代码超过瘦体上限时自动提升
}

const (
	imageBase   = 0x10000000
	sectAlign   = 0x2000
	fileAlign   = 0x200
	textRVA     = 0x2000
	textFileOff = 0x200
	cliSize     = 72
)

// Build 生成程序集映像的字节。
func Build(t testing.TB, spec Assembly) []byte {
	t.Helper()

	strs := newStrHeap()
	us := newUSHeap()

	moduleName := spec.Name
	if moduleName == "" {
		moduleName = "fixture"
	}
	moduleStr := strs.add(moduleName + ".dll")
	strs.add("<Module>")
	for _, typ := range spec.Types {
		strs.add(typ.Namespace)
		strs.add(typ.Name)
		for _, m := range typ.Methods {
			strs.add(m.Name)
		}
	}
	if spec.Name != "" {
		strs.add(spec.Name)
	}
	for _, ref := range spec.Refs {
		strs.add(ref)
	}

	// 类型的 TypeDef 行号，<Module> 占第 1 行。
	rowOf := make(map[string]uint16, len(spec.Types))
	for i, typ := range spec.Types {
		rowOf[typ.Name] = uint16(i + 2)
	}

	// 方法体区：CLI 头之后、元数据之前，记录每个方法的 RVA。
	bodies := &buf{}
	var rvas []uint32
	for _, typ := range spec.Types {
		for _, m := range typ.Methods {
			if m.NoBody {
				rvas = append(rvas, 0)
				continue
			}
			code := &buf{}
			for _, s := range m.Strings {
				code.u8(0x72) // ldstr
				code.u32(0x70000000 | us.add(s))
				code.u8(0x26) // pop
			}
			code.u8(0x2A) // ret
			bodies.align(4)
			off := cliSize + len(bodies.b)
			if m.Fat || len(code.b) >= 64 {
				bodies.u16(0x3013) // 胖体, initlocals
				bodies.u16(8)      // maxstack
				bodies.u32(uint32(len(code.b)))
				bodies.u32(0) // 无局部变量签名
			} else {
				bodies.u8(byte(len(code.b))<<2 | 0x2)
			}
			bodies.raw(code.b)
			rvas = append(rvas, uint32(textRVA+off))
		}
	}

	tblStream := buildTables(t, spec, strs, moduleStr, rowOf, rvas)
	meta := buildMetadata(tblStream, pad4(strs.buf), pad4(us.buf), make([]byte, 16),
		pad4([]byte{0x00, 0x03, 0x00, 0x00, 0x01}))

	// .text：CLI 头、方法体、元数据。
	metaOff := align(cliSize+len(bodies.b), 4)
	text := &buf{}
	text.u32(cliSize)
	text.u16(2)
	text.u16(5)
	text.u32(uint32(textRVA + metaOff))
	text.u32(uint32(len(meta)))
	text.u32(1) // ILONLY
	text.u32(0) // 无入口 token
	text.zeros(cliSize - 24)
	text.raw(bodies.b)
	text.padTo(metaOff)
	text.raw(meta)

	rawSize := align(len(text.b), fileAlign)
	sizeOfImage := align(textRVA+len(text.b), sectAlign)

	out := &buf{}
	out.u8('M')
	out.u8('Z')
	out.zeros(0x3C - 2)
	out.u32(0x40) // e_lfanew
	out.raw([]byte("PE\x00\x00"))

	// COFF 文件头
	out.u16(0x14C) // i386
	out.u16(1)
	out.u32(0)
	out.u32(0)
	out.u32(0)
	out.u16(0xE0)   // 可选头大小
	out.u16(0x2022) // EXECUTABLE | LARGE_ADDRESS_AWARE | DLL

	// PE32 可选头
	out.u16(0x10B)
	out.u8(8)
	out.u8(0)
	out.u32(uint32(rawSize)) // SizeOfCode
	out.u32(0)
	out.u32(0)
	out.u32(0) // 入口由 CLI 头决定
	out.u32(textRVA)
	out.u32(0) // BaseOfData
	out.u32(imageBase)
	out.u32(sectAlign)
	out.u32(fileAlign)
	out.u16(4)
	out.u16(0)
	out.u16(0)
	out.u16(0)
	out.u16(4)
	out.u16(0)
	out.u32(0)
	out.u32(uint32(sizeOfImage))
	out.u32(textFileOff) // SizeOfHeaders
	out.u32(0)
	out.u16(3)      // 控制台子系统
	out.u16(0x8540) // DYNAMIC_BASE | NX_COMPAT | NO_SEH | TERMINAL_SERVER_AWARE
	out.u32(0x100000)
	out.u32(0x1000)
	out.u32(0x100000)
	out.u32(0x1000)
	out.u32(0)
	out.u32(16)
	for i := 0; i < 16; i++ {
		if i == 14 { // CLI 头目录
			out.u32(textRVA)
			out.u32(cliSize)
		} else {
			out.u32(0)
			out.u32(0)
		}
	}

	// 节表：仅 .text
	var name [8]byte
	copy(name[:], ".text")
	out.raw(name[:])
	out.u32(uint32(len(text.b)))
	out.u32(textRVA)
	out.u32(uint32(rawSize))
	out.u32(textFileOff)
	out.u32(0)
	out.u32(0)
	out.u16(0)
	out.u16(0)
	out.u32(0x60000020) // CODE | EXECUTE | READ

	out.padTo(textFileOff)
	out.raw(text.b)
	out.padTo(textFileOff + rawSize)
	return out.b
}

// BuildFile 生成程序集并写入临时目录，返回文件路径。
func BuildFile(t testing.TB, spec Assembly) string {
	t.Helper()
	name := spec.Name
	if name == "" {
		name = "fixture"
	}
	path := filepath.Join(t.TempDir(), name+".dll")
	if err := os.WriteFile(path, Build(t, spec), 0o644); err != nil {
		t.Fatalf("写入测试程序集失败: %v", err)
	}
	return path
}

// buildTables 生成 #~ 流：Module、TypeDef、MethodDef 以及可选的
// Assembly、AssemblyRef、NestedClass。
func buildTables(t testing.TB, spec Assembly, strs *strHeap, moduleStr uint16,
	rowOf map[string]uint16, rvas []uint32) []byte {
	t.Helper()

	nMethods := len(rvas)
	type nestedPair struct{ nested, enclosing uint16 }
	var nested []nestedPair
	for _, typ := range spec.Types {
		if typ.Enclosing == "" {
			continue
		}
		enc, ok := rowOf[typ.Enclosing]
		if !ok {
			t.Fatalf("类型 %s 的外层类型 %s 不存在", typ.Name, typ.Enclosing)
		}
		nested = append(nested, nestedPair{rowOf[typ.Name], enc})
	}

	valid := uint64(1)<<0x00 | uint64(1)<<0x02
	if nMethods > 0 {
		valid |= 1 << 0x06
	}
	if spec.Name != "" {
		valid |= 1 << 0x20
	}
	if len(spec.Refs) > 0 {
		valid |= 1 << 0x23
	}
	if len(nested) > 0 {
		valid |= 1 << 0x29
	}

	w := &buf{}
	w.u32(0)
	w.u8(2)
	w.u8(0)
	w.u8(0) // 堆索引全部 2 字节
	w.u8(1)
	w.u64(valid)
	w.u64(0)
	w.u32(1)
	w.u32(uint32(1 + len(spec.Types)))
	if nMethods > 0 {
		w.u32(uint32(nMethods))
	}
	if spec.Name != "" {
		w.u32(1)
	}
	if len(spec.Refs) > 0 {
		w.u32(uint32(len(spec.Refs)))
	}
	if len(nested) > 0 {
		w.u32(uint32(len(nested)))
	}

	// Module
	w.u16(0)
	w.u16(moduleStr)
	w.u16(1)
	w.u16(0)
	w.u16(0)

	// TypeDef：<Module> 先行，MethodList 为连续区间。
	w.u32(0)
	w.u16(strs.add("<Module>"))
	w.u16(0)
	w.u16(0)
	w.u16(1)
	w.u16(1)
	methodRow := uint16(1)
	for _, typ := range spec.Types {
		flags := uint32(0x00100001) // Public | BeforeFieldInit
		if typ.Enclosing != "" {
			flags = 0x00100002 // NestedPublic | BeforeFieldInit
		}
		w.u32(flags)
		w.u16(strs.add(typ.Name))
		w.u16(strs.add(typ.Namespace))
		w.u16(0)
		w.u16(1)
		w.u16(methodRow)
		methodRow += uint16(len(typ.Methods))
	}

	// MethodDef
	i := 0
	for _, typ := range spec.Types {
		for _, m := range typ.Methods {
			w.u32(rvas[i])
			w.u16(0)
			w.u16(0x0096) // Public | Static | HideBySig
			w.u16(strs.add(m.Name))
			w.u16(1) // 共享签名 blob
			w.u16(1)
			i++
		}
	}

	if spec.Name != "" {
		w.u32(0x8004) // SHA1
		w.u16(1)
		w.u16(0)
		w.u16(0)
		w.u16(0)
		w.u32(0)
		w.u16(0)
		w.u16(strs.add(spec.Name))
		w.u16(0)
	}
	for _, ref := range spec.Refs {
		w.u16(4)
		w.u16(0)
		w.u16(0)
		w.u16(0)
		w.u32(0)
		w.u16(0)
		w.u16(strs.add(ref))
		w.u16(0)
		w.u16(0)
	}
	for _, p := range nested {
		w.u16(p.nested)
		w.u16(p.enclosing)
	}
	return pad4(w.b)
}

// buildMetadata 组装元数据根与五个流。
func buildMetadata(tbl, strings, us, guid, blob []byte) []byte {
	streams := []struct {
		name string
		data []byte
	}{
		{"#~", tbl},
		{"#Strings", strings},
		{"#US", us},
		{"#GUID", guid},
		{"#Blob", blob},
	}

	version := []byte("v4.0.30319\x00\x00")
	hdrLen := 16 + len(version) + 4
	for _, s := range streams {
		hdrLen += 8 + align(len(s.name)+1, 4)
	}

	w := &buf{}
	w.u32(0x424A5342)
	w.u16(1)
	w.u16(1)
	w.u32(0)
	w.u32(uint32(len(version)))
	w.raw(version)
	w.u16(0)
	w.u16(uint16(len(streams)))
	off := hdrLen
	for _, s := range streams {
		w.u32(uint32(off))
		w.u32(uint32(len(s.data)))
		nm := make([]byte, align(len(s.name)+1, 4))
		copy(nm, s.name)
		w.raw(nm)
		off += len(s.data)
	}
	for _, s := range streams {
		w.raw(s.data)
	}
	return w.b
}

// strHeap #Strings 堆，按内容去重。
type strHeap struct {
	buf []byte
	idx map[string]uint16
}

func newStrHeap() *strHeap {
	return &strHeap{buf: []byte{0}, idx: map[string]uint16{"": 0}}
}

func (h *strHeap) add(s string) uint16 {
	if off, ok := h.idx[s]; ok {
		return off
	}
	off := uint16(len(h.buf))
	h.buf = append(h.buf, s...)
	h.buf = append(h.buf, 0)
	h.idx[s] = off
	return off
}

// usHeap #US 堆：压缩长度 + UTF-16LE + 标志字节。
type usHeap struct {
	buf []byte
	idx map[string]uint32
}

func newUSHeap() *usHeap {
	return &usHeap{buf: []byte{0}, idx: map[string]uint32{}}
}

func (h *usHeap) add(s string) uint32 {
	if off, ok := h.idx[s]; ok {
		return off
	}
	off := uint32(len(h.buf))
	u := utf16.Encode([]rune(s))
	var flag byte
	for _, c := range u {
		if c >= 0x100 || (c >= 0x01 && c <= 0x08) || (c >= 0x0E && c <= 0x1F) ||
			c == 0x27 || c == 0x2D || c == 0x7F {
			flag = 1
			break
		}
	}
	n := uint32(2*len(u) + 1)
	switch {
	case n < 0x80:
		h.buf = append(h.buf, byte(n))
	case n < 0x4000:
		h.buf = append(h.buf, 0x80|byte(n>>8), byte(n))
	default:
		h.buf = append(h.buf, 0xC0|byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	}
	for _, c := range u {
		h.buf = binary.LittleEndian.AppendUint16(h.buf, c)
	}
	h.buf = append(h.buf, flag)
	h.idx[s] = off
	return off
}

// buf 小端顺序拼装器。
type buf struct {
	b []byte
}

func (w *buf) u8(v byte) { w.b = append(w.b, v) }

func (w *buf) u16(v uint16) { w.b = binary.LittleEndian.AppendUint16(w.b, v) }

func (w *buf) u32(v uint32) { w.b = binary.LittleEndian.AppendUint32(w.b, v) }

func (w *buf) u64(v uint64) { w.b = binary.LittleEndian.AppendUint64(w.b, v) }

func (w *buf) raw(p []byte) { w.b = append(w.b, p...) }

func (w *buf) zeros(n int) { w.b = append(w.b, make([]byte, n)...) }

func (w *buf) padTo(n int) {
	if len(w.b) < n {
		w.b = append(w.b, make([]byte, n-len(w.b))...)
	}
}

func (w *buf) align(n int) { w.padTo(align(len(w.b), n)) }

func align(n, a int) int { return (n + a - 1) &^ (a - 1) }

func pad4(b []byte) []byte {
	return append(b, make([]byte, align(len(b), 4)-len(b))...)
}
