package cil

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"
)

// PE 可选头中各补丁点相对可选头起始的偏移（PE32 与 PE32+ 相同）。
const (
	optSizeOfImage = 56
	optCheckSum    = 64
)

// cliHeader IMAGE_COR20_HEADER，.NET 程序集的运行时头。
type cliHeader struct {
	cb            uint32
	majorRuntime  uint16
	minorRuntime  uint16
	metaRVA       uint32
	metaSize      uint32
	flags         uint32
	entryPoint    uint32
	resRVA        uint32
	resSize       uint32
	snRVA         uint32
	snSize        uint32
}

// COMIMAGE_FLAGS_STRONGNAMESIGNED，写回后签名必然失效，需要清除。
const cliFlagStrongNameSigned = 0x8

// image 已载入内存的 PE 文件及补丁所需的原始偏移。
type image struct {
	raw []byte
	pe  *pe.File

	lfanew          uint32
	coffOff         uint32 // COFF 文件头偏移
	optOff          uint32 // 可选头偏移
	dataDirOff      uint32 // 数据目录表偏移
	numDirs         uint32
	sectionTableOff uint32
	fileAlign       uint32
	sectAlign       uint32
	sizeOfHeaders   uint32

	cliOff uint32 // IMAGE_COR20_HEADER 文件偏移
	cli    cliHeader
}

func openImage(raw []byte) (*image, error) {
	if len(raw) < 0x40 || raw[0] != 'M' || raw[1] != 'Z' {
		return nil, fmt.Errorf("not a PE file: missing MZ header")
	}

	pf, err := pe.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse PE: %w", err)
	}

	img := &image{raw: raw, pe: pf}
	img.lfanew = binary.LittleEndian.Uint32(raw[0x3C:])
	img.coffOff = img.lfanew + 4
	img.optOff = img.coffOff + 20

	if int(img.optOff)+2 > len(raw) {
		return nil, fmt.Errorf("truncated PE header")
	}
	optMagic := binary.LittleEndian.Uint16(raw[img.optOff:])

	switch oh := pf.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		img.dataDirOff = img.optOff + 96
		img.numDirs = oh.NumberOfRvaAndSizes
		img.fileAlign = oh.FileAlignment
		img.sectAlign = oh.SectionAlignment
		img.sizeOfHeaders = oh.SizeOfHeaders
	case *pe.OptionalHeader64:
		img.dataDirOff = img.optOff + 112
		img.numDirs = oh.NumberOfRvaAndSizes
		img.fileAlign = oh.FileAlignment
		img.sectAlign = oh.SectionAlignment
		img.sizeOfHeaders = oh.SizeOfHeaders
	default:
		return nil, fmt.Errorf("unsupported optional header magic 0x%04x", optMagic)
	}
	img.sectionTableOff = img.optOff + uint32(pf.FileHeader.SizeOfOptionalHeader)

	if img.numDirs <= pe.IMAGE_DIRECTORY_ENTRY_COM_DESCRIPTOR {
		return nil, fmt.Errorf("not a managed assembly: CLI data directory absent")
	}
	cliDirOff := img.dataDirOff + 8*pe.IMAGE_DIRECTORY_ENTRY_COM_DESCRIPTOR
	cliRVA := binary.LittleEndian.Uint32(raw[cliDirOff:])
	cliSize := binary.LittleEndian.Uint32(raw[cliDirOff+4:])
	if cliRVA == 0 || cliSize < 72 {
		return nil, fmt.Errorf("not a managed assembly: CLI header missing")
	}

	img.cliOff, err = img.rvaToOffset(cliRVA)
	if err != nil {
		return nil, fmt.Errorf("locate CLI header: %w", err)
	}
	if err := img.parseCLIHeader(); err != nil {
		return nil, err
	}
	return img, nil
}

func (img *image) parseCLIHeader() error {
	b, err := img.view(img.cliOff, 72)
	if err != nil {
		return fmt.Errorf("read CLI header: %w", err)
	}
	h := &img.cli
	h.cb = binary.LittleEndian.Uint32(b[0:])
	h.majorRuntime = binary.LittleEndian.Uint16(b[4:])
	h.minorRuntime = binary.LittleEndian.Uint16(b[6:])
	h.metaRVA = binary.LittleEndian.Uint32(b[8:])
	h.metaSize = binary.LittleEndian.Uint32(b[12:])
	h.flags = binary.LittleEndian.Uint32(b[16:])
	h.entryPoint = binary.LittleEndian.Uint32(b[20:])
	h.resRVA = binary.LittleEndian.Uint32(b[24:])
	h.resSize = binary.LittleEndian.Uint32(b[28:])
	h.snRVA = binary.LittleEndian.Uint32(b[32:])
	h.snSize = binary.LittleEndian.Uint32(b[36:])

	if h.cb < 72 {
		return fmt.Errorf("invalid CLI header size %d", h.cb)
	}
	if h.metaRVA == 0 || h.metaSize == 0 {
		return fmt.Errorf("CLI header has no metadata directory")
	}
	return nil
}

// rvaToOffset RVA 转文件偏移。头部区域（第一个节之前）RVA 与偏移一致。
func (img *image) rvaToOffset(rva uint32) (uint32, error) {
	for _, s := range img.pe.Sections {
		if rva >= s.VirtualAddress && rva < s.VirtualAddress+s.VirtualSize {
			off := rva - s.VirtualAddress
			if off >= s.Size {
				return 0, fmt.Errorf("RVA 0x%x lies in uninitialized data of section %s", rva, s.Name)
			}
			return s.Offset + off, nil
		}
	}
	if rva < img.sizeOfHeaders {
		return rva, nil
	}
	return 0, fmt.Errorf("RVA 0x%x not mapped by any section", rva)
}

// view 带边界检查的原始字节切片。
func (img *image) view(off, size uint32) ([]byte, error) {
	end := uint64(off) + uint64(size)
	if end > uint64(len(img.raw)) {
		return nil, fmt.Errorf("file truncated: need bytes [0x%x, 0x%x), have 0x%x", off, end, len(img.raw))
	}
	return img.raw[off:end], nil
}

// lastSection 节表中的最后一项（按表序）。
func (img *image) lastSection() *pe.Section {
	if len(img.pe.Sections) == 0 {
		return nil
	}
	return img.pe.Sections[len(img.pe.Sections)-1]
}

func alignUp(v, align uint32) uint32 {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}
