package cil

import (
	"fmt"
	"math/bits"
)

// 元数据表编号（ECMA-335 II.22）。
const (
	tabModule                 = 0x00
	tabTypeRef                = 0x01
	tabTypeDef                = 0x02
	tabFieldPtr               = 0x03
	tabField                  = 0x04
	tabMethodPtr              = 0x05
	tabMethodDef              = 0x06
	tabParamPtr               = 0x07
	tabParam                  = 0x08
	tabInterfaceImpl          = 0x09
	tabMemberRef              = 0x0A
	tabConstant               = 0x0B
	tabCustomAttribute        = 0x0C
	tabFieldMarshal           = 0x0D
	tabDeclSecurity           = 0x0E
	tabClassLayout            = 0x0F
	tabFieldLayout            = 0x10
	tabStandAloneSig          = 0x11
	tabEventMap               = 0x12
	tabEventPtr               = 0x13
	tabEvent                  = 0x14
	tabPropertyMap            = 0x15
	tabPropertyPtr            = 0x16
	tabProperty               = 0x17
	tabMethodSemantics        = 0x18
	tabMethodImpl             = 0x19
	tabModuleRef              = 0x1A
	tabTypeSpec               = 0x1B
	tabImplMap                = 0x1C
	tabFieldRVA               = 0x1D
	tabEncLog                 = 0x1E
	tabEncMap                 = 0x1F
	tabAssembly               = 0x20
	tabAssemblyProcessor      = 0x21
	tabAssemblyOS             = 0x22
	tabAssemblyRef            = 0x23
	tabAssemblyRefProcessor   = 0x24
	tabAssemblyRefOS          = 0x25
	tabFile                   = 0x26
	tabExportedType           = 0x27
	tabManifestResource       = 0x28
	tabNestedClass            = 0x29
	tabGenericParam           = 0x2A
	tabMethodSpec             = 0x2B
	tabGenericParamConstraint = 0x2C

	numTables = 0x2D
)

type colKind uint8

const (
	colFixed colKind = iota
	colStrings
	colGUID
	colBlob
	colTable
	colCoded
)

type col struct {
	kind colKind
	arg  uint8
}

func fixed(n uint8) col    { return col{colFixed, n} }
func cstr() col            { return col{colStrings, 0} }
func cguid() col           { return col{colGUID, 0} }
func cblob() col           { return col{colBlob, 0} }
func cidx(table uint8) col { return col{colTable, table} }
func coded(ix uint8) col   { return col{colCoded, ix} }

// 组合索引编号（ECMA-335 II.24.2.6）。
const (
	cixTypeDefOrRef = iota
	cixHasConstant
	cixHasCustomAttribute
	cixHasFieldMarshal
	cixHasDeclSecurity
	cixMemberRefParent
	cixHasSemantics
	cixMethodDefOrRef
	cixMemberForwarded
	cixImplementation
	cixCustomAttributeType
	cixResolutionScope
	cixTypeOrMethodDef
)

// noTable 组合索引中未占用的 tag。
const noTable = 0xFF

type codedIndex struct {
	bits   uint8
	tables []uint8
}

var codedIndexes = [...]codedIndex{
	cixTypeDefOrRef:  {2, []uint8{tabTypeDef, tabTypeRef, tabTypeSpec}},
	cixHasConstant:   {2, []uint8{tabField, tabParam, tabProperty}},
	cixHasCustomAttribute: {5, []uint8{
		tabMethodDef, tabField, tabTypeRef, tabTypeDef, tabParam, tabInterfaceImpl,
		tabMemberRef, tabModule, tabDeclSecurity, tabProperty, tabEvent,
		tabStandAloneSig, tabModuleRef, tabTypeSpec, tabAssembly, tabAssemblyRef,
		tabFile, tabExportedType, tabManifestResource, tabGenericParam,
		tabGenericParamConstraint, tabMethodSpec,
	}},
	cixHasFieldMarshal:     {1, []uint8{tabField, tabParam}},
	cixHasDeclSecurity:     {2, []uint8{tabTypeDef, tabMethodDef, tabAssembly}},
	cixMemberRefParent:     {3, []uint8{tabTypeDef, tabTypeRef, tabModuleRef, tabMethodDef, tabTypeSpec}},
	cixHasSemantics:        {1, []uint8{tabEvent, tabProperty}},
	cixMethodDefOrRef:      {1, []uint8{tabMethodDef, tabMemberRef}},
	cixMemberForwarded:     {1, []uint8{tabField, tabMethodDef}},
	cixImplementation:      {2, []uint8{tabFile, tabAssemblyRef, tabExportedType}},
	cixCustomAttributeType: {3, []uint8{noTable, noTable, tabMethodDef, tabMemberRef, noTable}},
	cixResolutionScope:     {2, []uint8{tabModule, tabModuleRef, tabAssemblyRef, tabTypeRef}},
	cixTypeOrMethodDef:     {1, []uint8{tabTypeDef, tabMethodDef}},
}

// tableSchemas 每张表的列布局（ECMA-335 II.22）。
var tableSchemas = [numTables][]col{
	tabModule:          {fixed(2), cstr(), cguid(), cguid(), cguid()},
	tabTypeRef:         {coded(cixResolutionScope), cstr(), cstr()},
	tabTypeDef:         {fixed(4), cstr(), cstr(), coded(cixTypeDefOrRef), cidx(tabField), cidx(tabMethodDef)},
	tabFieldPtr:        {cidx(tabField)},
	tabField:           {fixed(2), cstr(), cblob()},
	tabMethodPtr:       {cidx(tabMethodDef)},
	tabMethodDef:       {fixed(4), fixed(2), fixed(2), cstr(), cblob(), cidx(tabParam)},
	tabParamPtr:        {cidx(tabParam)},
	tabParam:           {fixed(2), fixed(2), cstr()},
	tabInterfaceImpl:   {cidx(tabTypeDef), coded(cixTypeDefOrRef)},
	tabMemberRef:       {coded(cixMemberRefParent), cstr(), cblob()},
	tabConstant:        {fixed(2), coded(cixHasConstant), cblob()},
	tabCustomAttribute: {coded(cixHasCustomAttribute), coded(cixCustomAttributeType), cblob()},
	tabFieldMarshal:    {coded(cixHasFieldMarshal), cblob()},
	tabDeclSecurity:    {fixed(2), coded(cixHasDeclSecurity), cblob()},
	tabClassLayout:     {fixed(2), fixed(4), cidx(tabTypeDef)},
	tabFieldLayout:     {fixed(4), cidx(tabField)},
	tabStandAloneSig:   {cblob()},
	tabEventMap:        {cidx(tabTypeDef), cidx(tabEvent)},
	tabEventPtr:        {cidx(tabEvent)},
	tabEvent:           {fixed(2), cstr(), coded(cixTypeDefOrRef)},
	tabPropertyMap:     {cidx(tabTypeDef), cidx(tabProperty)},
	tabPropertyPtr:     {cidx(tabProperty)},
	tabProperty:        {fixed(2), cstr(), cblob()},
	tabMethodSemantics: {fixed(2), cidx(tabMethodDef), coded(cixHasSemantics)},
	tabMethodImpl:      {cidx(tabTypeDef), coded(cixMethodDefOrRef), coded(cixMethodDefOrRef)},
	tabModuleRef:       {cstr()},
	tabTypeSpec:        {cblob()},
	tabImplMap:         {fixed(2), coded(cixMemberForwarded), cstr(), cidx(tabModuleRef)},
	tabFieldRVA:        {fixed(4), cidx(tabField)},
	tabEncLog:          {fixed(4), fixed(4)},
	tabEncMap:          {fixed(4)},
	tabAssembly:        {fixed(4), fixed(2), fixed(2), fixed(2), fixed(2), fixed(4), cblob(), cstr(), cstr()},
	tabAssemblyProcessor: {fixed(4)},
	tabAssemblyOS:        {fixed(4), fixed(4), fixed(4)},
	tabAssemblyRef: {fixed(2), fixed(2), fixed(2), fixed(2), fixed(4),
		cblob(), cstr(), cstr(), cblob()},
	tabAssemblyRefProcessor: {fixed(4), cidx(tabAssemblyRef)},
	tabAssemblyRefOS:        {fixed(4), fixed(4), fixed(4), cidx(tabAssemblyRef)},
	tabFile:                 {fixed(4), cstr(), cblob()},
	tabExportedType:         {fixed(4), fixed(4), cstr(), cstr(), coded(cixImplementation)},
	tabManifestResource:     {fixed(4), fixed(4), cstr(), coded(cixImplementation)},
	tabNestedClass:          {cidx(tabTypeDef), cidx(tabTypeDef)},
	tabGenericParam:         {fixed(2), fixed(2), coded(cixTypeOrMethodDef), cstr()},
	tabMethodSpec:           {coded(cixMethodDefOrRef), cblob()},
	tabGenericParamConstraint: {cidx(tabGenericParam), coded(cixTypeDefOrRef)},
}

// tables 解析后的 #~ 流：行数、行宽与各表数据偏移。
type tables struct {
	md        *metadata
	heapSizes byte
	valid     uint64
	rowCount  [numTables]uint32
	rowSize   [numTables]uint32
	offset    [numTables]uint32
}

func parseTables(md *metadata) (*tables, error) {
	t := &tables{md: md}
	r := &reader{b: md.tables}
	r.skip(4) // reserved
	major := r.u8()
	minor := r.u8()
	t.heapSizes = r.u8()
	r.skip(1) // reserved
	t.valid = r.u64()
	r.skip(8) // sorted
	if r.err != nil {
		return nil, fmt.Errorf("truncated #~ header: %w", r.err)
	}
	if major != 2 || minor != 0 {
		return nil, fmt.Errorf("unsupported table schema version %d.%d", major, minor)
	}
	if hi := t.valid >> numTables; hi != 0 {
		return nil, fmt.Errorf("unknown metadata tables present (valid mask %#x)", t.valid)
	}

	for i := 0; i < numTables; i++ {
		if t.valid&(1<<uint(i)) != 0 {
			t.rowCount[i] = r.u32()
		}
	}
	if r.err != nil {
		return nil, fmt.Errorf("truncated #~ row counts: %w", r.err)
	}
	if t.rowCount[tabFieldPtr]+t.rowCount[tabMethodPtr]+t.rowCount[tabParamPtr] != 0 {
		return nil, fmt.Errorf("pointer indirection tables are not supported")
	}

	// 行宽依赖全部表的行数，先算宽再定位各表数据。
	off := r.off
	for i := 0; i < numTables; i++ {
		if t.rowCount[i] == 0 {
			continue
		}
		var size uint32
		for _, c := range tableSchemas[i] {
			size += t.colWidth(c)
		}
		t.rowSize[i] = size
		t.offset[i] = off
		end := uint64(off) + uint64(size)*uint64(t.rowCount[i])
		if end > uint64(len(md.tables)) {
			return nil, fmt.Errorf("table 0x%02x exceeds #~ stream bounds", i)
		}
		off = uint32(end)
	}
	return t, nil
}

func (t *tables) colWidth(c col) uint32 {
	switch c.kind {
	case colFixed:
		return uint32(c.arg)
	case colStrings:
		if t.heapSizes&0x1 != 0 {
			return 4
		}
		return 2
	case colGUID:
		if t.heapSizes&0x2 != 0 {
			return 4
		}
		return 2
	case colBlob:
		if t.heapSizes&0x4 != 0 {
			return 4
		}
		return 2
	case colTable:
		if t.rowCount[c.arg] > 0xFFFF {
			return 4
		}
		return 2
	case colCoded:
		ci := codedIndexes[c.arg]
		var max uint32
		for _, tab := range ci.tables {
			if tab != noTable && t.rowCount[tab] > max {
				max = t.rowCount[tab]
			}
		}
		if max > 0xFFFF>>ci.bits {
			return 4
		}
		return 2
	}
	panic("unreachable column kind")
}

// rowValues 按模式解码第 idx 行（1 起）的全部列。
func (t *tables) rowValues(table int, idx uint32) ([]uint32, error) {
	if idx == 0 || idx > t.rowCount[table] {
		return nil, fmt.Errorf("table 0x%02x row %d out of range (have %d)", table, idx, t.rowCount[table])
	}
	r := &reader{b: t.md.tables, off: t.offset[table] + (idx-1)*t.rowSize[table]}
	schema := tableSchemas[table]
	vals := make([]uint32, len(schema))
	for i, c := range schema {
		if t.colWidth(c) == 4 {
			vals[i] = r.u32()
		} else {
			vals[i] = uint32(r.u16())
		}
	}
	if r.err != nil {
		return nil, fmt.Errorf("table 0x%02x row %d: %w", table, idx, r.err)
	}
	return vals, nil
}

type typeDefRow struct {
	flags      uint32
	name       uint32
	namespace  uint32
	extends    uint32
	fieldList  uint32
	methodList uint32
}

func (t *tables) typeDef(idx uint32) (typeDefRow, error) {
	v, err := t.rowValues(tabTypeDef, idx)
	if err != nil {
		return typeDefRow{}, err
	}
	return typeDefRow{v[0], v[1], v[2], v[3], v[4], v[5]}, nil
}

type methodDefRow struct {
	rva       uint32
	implFlags uint32
	flags     uint32
	name      uint32
	signature uint32
	paramList uint32
}

func (t *tables) methodDef(idx uint32) (methodDefRow, error) {
	v, err := t.rowValues(tabMethodDef, idx)
	if err != nil {
		return methodDefRow{}, err
	}
	return methodDefRow{v[0], v[1], v[2], v[3], v[4], v[5]}, nil
}

type nestedClassRow struct {
	nested    uint32
	enclosing uint32
}

func (t *tables) nestedClass(idx uint32) (nestedClassRow, error) {
	v, err := t.rowValues(tabNestedClass, idx)
	if err != nil {
		return nestedClassRow{}, err
	}
	return nestedClassRow{v[0], v[1]}, nil
}

type assemblyRefRow struct {
	major, minor, build, revision uint32
	flags                         uint32
	publicKeyOrToken              uint32
	name                          uint32
	culture                       uint32
	hash                          uint32
}

func (t *tables) assemblyRef(idx uint32) (assemblyRefRow, error) {
	v, err := t.rowValues(tabAssemblyRef, idx)
	if err != nil {
		return assemblyRefRow{}, err
	}
	return assemblyRefRow{v[0], v[1], v[2], v[3], v[4], v[5], v[6], v[7], v[8]}, nil
}

// assemblyName 清单程序集（Assembly 表第 1 行）的简单名，不存在则为空。
func (t *tables) assemblyName() (string, error) {
	if t.rowCount[tabAssembly] == 0 {
		return "", nil
	}
	v, err := t.rowValues(tabAssembly, 1)
	if err != nil {
		return "", err
	}
	return t.md.stringAt(v[7])
}

// presentTables 已出现的表数，仅用于诊断日志。
func (t *tables) presentTables() int {
	return bits.OnesCount64(t.valid)
}
