package cil

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/snowyegret23/EditDllString/internal/util"
)

// 承载重定位元数据的节。已初始化数据，只读。
const (
	edstrSection         = ".edstr"
	edstrCharacteristics = 0x40000040
)

// WriteFile 序列化程序集并写到 path，先写临时文件再改名落位。
func (asm *Assembly) WriteFile(path string) error {
	out, err := asm.Bytes()
	if err != nil {
		return err
	}
	return util.ReplaceFile(path, out)
}

// Bytes 序列化程序集。无替换时返回原始字节的副本；有替换时将新字符串
// 追加进 #US 堆，整块元数据重定位到文件尾部的 .edstr 节，并改写受影响的
// PE 头字段。写回后强名称签名必然失效，一并清除。
func (asm *Assembly) Bytes() ([]byte, error) {
	if len(asm.patches) == 0 {
		return append([]byte(nil), asm.img.raw...), nil
	}

	// 按操作数偏移排序，保证 #US 追加顺序稳定。
	tokOffs := make([]uint32, 0, len(asm.patches))
	for off := range asm.patches {
		tokOffs = append(tokOffs, off)
	}
	sort.Slice(tokOffs, func(i, j int) bool { return tokOffs[i] < tokOffs[j] })

	usData := asm.md.us
	if !asm.md.hasUS {
		usData = []byte{0}
	}
	usData = append([]byte(nil), usData...)
	newOff := make(map[string]uint32, len(tokOffs))
	for _, tokOff := range tokOffs {
		text := asm.patches[tokOff]
		if _, ok := newOff[text]; ok {
			continue
		}
		newOff[text] = uint32(len(usData))
		usData = append(usData, encodeUserString(text)...)
	}
	if len(usData) > 1<<24 {
		return nil, fmt.Errorf("替换后的 #US 堆 %d 字节，超出 24 位 token 上限", len(usData))
	}

	meta, err := asm.rebuildMetadata(usData)
	if err != nil {
		return nil, err
	}
	metaSize := uint32(len(meta))

	img := asm.img
	out := append([]byte(nil), img.raw...)
	for _, tokOff := range tokOffs {
		tok := 0x70000000 | newOff[asm.patches[tokOff]]
		binary.LittleEndian.PutUint32(out[tokOff:], tok)
	}

	// 此前写回产生的 .edstr 节直接覆盖，避免重复导入时文件无限增长。
	nSections := len(img.pe.Sections)
	slotOff := img.sectionTableOff + 40*uint32(nSections)
	var va uint32
	if last := img.lastSection(); last != nil && last.Name == edstrSection &&
		img.cli.metaRVA >= last.VirtualAddress && img.cli.metaRVA < last.VirtualAddress+last.VirtualSize {
		slotOff = img.sectionTableOff + 40*uint32(nSections-1)
		va = last.VirtualAddress
		out = out[:last.Offset]
	} else {
		if slotOff+40 > img.sizeOfHeaders {
			return nil, fmt.Errorf("节表已满，头部没有空间追加 %s 节", edstrSection)
		}
		for _, s := range img.pe.Sections {
			end := s.VirtualAddress + s.VirtualSize
			if s.VirtualSize == 0 {
				end = s.VirtualAddress + s.Size
			}
			if end > va {
				va = end
			}
		}
		va = alignUp(va, img.sectAlign)
		binary.LittleEndian.PutUint16(out[img.coffOff+2:], uint16(nSections+1))
	}

	rawOff := alignUp(uint32(len(out)), img.fileAlign)
	out = append(out, make([]byte, rawOff-uint32(len(out)))...)
	out = append(out, meta...)
	rawSize := alignUp(metaSize, img.fileAlign)
	out = append(out, make([]byte, rawOff+rawSize-uint32(len(out)))...)

	var hdr [40]byte
	copy(hdr[:8], edstrSection)
	binary.LittleEndian.PutUint32(hdr[8:], metaSize)
	binary.LittleEndian.PutUint32(hdr[12:], va)
	binary.LittleEndian.PutUint32(hdr[16:], rawSize)
	binary.LittleEndian.PutUint32(hdr[20:], rawOff)
	binary.LittleEndian.PutUint32(hdr[36:], edstrCharacteristics)
	copy(out[slotOff:], hdr[:])

	binary.LittleEndian.PutUint32(out[img.optOff+optSizeOfImage:], alignUp(va+metaSize, img.sectAlign))
	binary.LittleEndian.PutUint32(out[img.optOff+optCheckSum:], 0)

	// CLI 头：元数据目录指向新节，清除强名称签名目录与标志。
	binary.LittleEndian.PutUint32(out[img.cliOff+8:], va)
	binary.LittleEndian.PutUint32(out[img.cliOff+12:], metaSize)
	binary.LittleEndian.PutUint32(out[img.cliOff+16:], img.cli.flags&^cliFlagStrongNameSigned)
	binary.LittleEndian.PutUint32(out[img.cliOff+32:], 0)
	binary.LittleEndian.PutUint32(out[img.cliOff+36:], 0)

	// Authenticode 签名同样失效，清空 Security 数据目录。
	if img.numDirs > 4 {
		binary.LittleEndian.PutUint32(out[img.dataDirOff+32:], 0)
		binary.LittleEndian.PutUint32(out[img.dataDirOff+36:], 0)
	}
	return out, nil
}

// rebuildMetadata 以原有流布局为骨架重建元数据块，仅 #US 替换为 usData。
func (asm *Assembly) rebuildMetadata(usData []byte) ([]byte, error) {
	md := asm.md
	streams := append([]streamHeader(nil), md.streams...)
	if !md.hasUS {
		streams = append(streams, streamHeader{name: "#US"})
	}

	verField := append([]byte(md.version), 0)
	verField = append(verField, make([]byte, int(alignUp(uint32(len(verField)), 4))-len(verField))...)

	// 根头：签名、版本号、保留字、版本串长度与内容、标志、流数。
	headerLen := uint32(20 + len(verField))
	for _, s := range streams {
		headerLen += 8 + alignUp(uint32(len(s.name)+1), 4)
	}

	type streamLayout struct {
		name   string
		offset uint32
		size   uint32
		data   []byte
	}
	layouts := make([]streamLayout, len(streams))
	cursor := alignUp(headerLen, 4)
	for i, s := range streams {
		var data []byte
		if s.name == "#US" {
			padded := alignUp(uint32(len(usData)), 4)
			data = append(append([]byte(nil), usData...), make([]byte, padded-uint32(len(usData)))...)
		} else {
			src, err := asm.img.view(md.rootOff+s.offset, s.size)
			if err != nil {
				return nil, fmt.Errorf("流 %s 原始数据不可读: %w", s.name, err)
			}
			data = src
		}
		layouts[i] = streamLayout{name: s.name, offset: cursor, size: uint32(len(data)), data: data}
		cursor = alignUp(cursor+uint32(len(data)), 4)
	}

	out := make([]byte, 0, cursor)
	out = binary.LittleEndian.AppendUint32(out, metadataSignature)
	out = binary.LittleEndian.AppendUint16(out, 1)
	out = binary.LittleEndian.AppendUint16(out, 1)
	out = binary.LittleEndian.AppendUint32(out, 0)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(verField)))
	out = append(out, verField...)
	out = binary.LittleEndian.AppendUint16(out, md.flags)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(streams)))
	for _, l := range layouts {
		out = binary.LittleEndian.AppendUint32(out, l.offset)
		out = binary.LittleEndian.AppendUint32(out, l.size)
		name := append([]byte(l.name), 0)
		name = append(name, make([]byte, int(alignUp(uint32(len(name)), 4))-len(name))...)
		out = append(out, name...)
	}
	for _, l := range layouts {
		out = append(out, make([]byte, int(l.offset)-len(out))...)
		out = append(out, l.data...)
	}
	return out, nil
}
