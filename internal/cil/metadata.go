package cil

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

// 元数据根签名 "BSJB"（ECMA-335 II.24.2.1）。
const metadataSignature = 0x424A5342

// streamHeader 一个元数据流。offset 相对元数据根。
type streamHeader struct {
	name   string
	offset uint32
	size   uint32
}

// metadata 元数据根与各流的原始内容。堆切片直接引用 image.raw。
type metadata struct {
	rootOff uint32 // 元数据根的文件偏移
	version string
	flags   uint16
	streams []streamHeader

	tables  []byte // #~
	strings []byte // #Strings
	us      []byte // #US（可能不存在）
	guid    []byte // #GUID
	blob    []byte // #Blob

	hasUS bool
}

func parseMetadata(img *image) (*metadata, error) {
	rootOff, err := img.rvaToOffset(img.cli.metaRVA)
	if err != nil {
		return nil, fmt.Errorf("locate metadata root: %w", err)
	}
	raw, err := img.view(rootOff, img.cli.metaSize)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	r := &reader{b: raw}
	if sig := r.u32(); sig != metadataSignature {
		return nil, fmt.Errorf("bad metadata signature 0x%08x", sig)
	}
	r.skip(2 + 2 + 4) // major, minor, reserved
	verLen := r.u32()
	if verLen > 255 {
		return nil, fmt.Errorf("implausible metadata version length %d", verLen)
	}
	verBytes := r.bytes(verLen)
	md := &metadata{rootOff: rootOff}
	if i := bytes.IndexByte(verBytes, 0); i >= 0 {
		verBytes = verBytes[:i]
	}
	md.version = string(verBytes)
	md.flags = r.u16()
	nStreams := r.u16()

	for i := 0; i < int(nStreams); i++ {
		var h streamHeader
		h.offset = r.u32()
		h.size = r.u32()
		// 流名为 \0 结尾、补齐到 4 字节的 ASCII。
		start := r.off
		for r.err == nil && r.u8() != 0 {
		}
		if r.err != nil {
			return nil, fmt.Errorf("truncated stream table: %w", r.err)
		}
		h.name = string(raw[start : r.off-1])
		nameLen := r.off - start
		r.skip((4 - nameLen%4) % 4)
		if r.err != nil {
			return nil, fmt.Errorf("truncated stream table: %w", r.err)
		}
		if uint64(h.offset)+uint64(h.size) > uint64(len(raw)) {
			return nil, fmt.Errorf("stream %s exceeds metadata bounds", h.name)
		}
		md.streams = append(md.streams, h)

		data := raw[h.offset : h.offset+h.size]
		switch h.name {
		case "#~":
			md.tables = data
		case "#-":
			return nil, fmt.Errorf("uncompressed #- table stream is not supported")
		case "#Strings":
			md.strings = data
		case "#US":
			md.us = data
			md.hasUS = true
		case "#GUID":
			md.guid = data
		case "#Blob":
			md.blob = data
		}
	}
	if r.err != nil {
		return nil, fmt.Errorf("truncated metadata root: %w", r.err)
	}
	if md.tables == nil {
		return nil, fmt.Errorf("metadata has no #~ table stream")
	}
	if md.strings == nil {
		return nil, fmt.Errorf("metadata has no #Strings heap")
	}
	return md, nil
}

// stringAt 读取 #Strings 堆中 off 处的 UTF-8 名称。
func (md *metadata) stringAt(off uint32) (string, error) {
	if off >= uint32(len(md.strings)) {
		return "", fmt.Errorf("#Strings offset 0x%x out of range", off)
	}
	b := md.strings[off:]
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return "", fmt.Errorf("unterminated #Strings entry at 0x%x", off)
	}
	return string(b[:i]), nil
}

// userString 读取 #US 堆中 off 处的 UTF-16 字符串字面量。
// 条目为压缩长度 + UTF-16LE 内容 + 1 字节标志（ECMA-335 II.24.2.4）。
func (md *metadata) userString(off uint32) (string, error) {
	if !md.hasUS {
		return "", fmt.Errorf("assembly has no #US heap")
	}
	if off >= uint32(len(md.us)) {
		return "", fmt.Errorf("#US offset 0x%x out of range", off)
	}
	length, n, err := readCompressedU32(md.us[off:])
	if err != nil {
		return "", fmt.Errorf("#US entry at 0x%x: %w", off, err)
	}
	if length == 0 {
		return "", nil
	}
	start := off + n
	if uint64(start)+uint64(length) > uint64(len(md.us)) {
		return "", fmt.Errorf("#US entry at 0x%x exceeds heap", off)
	}
	payload := md.us[start : start+length]
	// 末尾为标志字节，不属于字符内容。
	payload = payload[:len(payload)&^1]
	u := make([]uint16, len(payload)/2)
	for i := range u {
		u[i] = binary.LittleEndian.Uint16(payload[2*i:])
	}
	return string(utf16.Decode(u)), nil
}

// encodeUserString 编码一个 #US 条目（压缩长度 + UTF-16LE + 标志字节）。
func encodeUserString(s string) []byte {
	u := utf16.Encode([]rune(s))
	flag := byte(0)
	for _, c := range u {
		// Cecil/dnlib 的特殊字符判定：除常规可见 ASCII 外均置 1。
		if c >= 0x100 || (c >= 0x01 && c <= 0x08) || (c >= 0x0E && c <= 0x1F) ||
			c == 0x27 || c == 0x2D || c == 0x7F {
			flag = 1
			break
		}
	}
	out := appendCompressedU32(nil, uint32(2*len(u)+1))
	for _, c := range u {
		out = binary.LittleEndian.AppendUint16(out, c)
	}
	return append(out, flag)
}

// readCompressedU32 解码 ECMA-335 II.23.2 压缩无符号整数，返回值与编码长度。
func readCompressedU32(b []byte) (uint32, uint32, error) {
	if len(b) == 0 {
		return 0, 0, fmt.Errorf("empty compressed integer")
	}
	switch {
	case b[0]&0x80 == 0:
		return uint32(b[0]), 1, nil
	case b[0]&0xC0 == 0x80:
		if len(b) < 2 {
			return 0, 0, fmt.Errorf("truncated 2-byte compressed integer")
		}
		return uint32(b[0]&0x3F)<<8 | uint32(b[1]), 2, nil
	case b[0]&0xE0 == 0xC0:
		if len(b) < 4 {
			return 0, 0, fmt.Errorf("truncated 4-byte compressed integer")
		}
		return uint32(b[0]&0x1F)<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), 4, nil
	}
	return 0, 0, fmt.Errorf("invalid compressed integer prefix 0x%02x", b[0])
}

func appendCompressedU32(dst []byte, v uint32) []byte {
	switch {
	case v < 0x80:
		return append(dst, byte(v))
	case v < 0x4000:
		return append(dst, 0x80|byte(v>>8), byte(v))
	default:
		return append(dst, 0xC0|byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
}

// reader 小端顺序读取器。出错后保持首个错误，后续调用返回零值。
type reader struct {
	b   []byte
	off uint32
	err error
}

func (r *reader) fail(n uint32) {
	if r.err == nil {
		r.err = fmt.Errorf("read of %d bytes at 0x%x exceeds buffer (%d bytes)", n, r.off, len(r.b))
	}
}

func (r *reader) bytes(n uint32) []byte {
	if r.err != nil {
		return nil
	}
	if uint64(r.off)+uint64(n) > uint64(len(r.b)) {
		r.fail(n)
		return nil
	}
	b := r.b[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) skip(n uint32) {
	r.bytes(n)
}

func (r *reader) u8() byte {
	b := r.bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.bytes(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.bytes(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}
