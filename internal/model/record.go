package model

// SheetHeaders 表格首行列头，导出与导入共用。
var SheetHeaders = [4]string{"类名", "方法名", "原文", "译文"}

// Record 一条字符串字面量的导出/导入记录。
type Record struct {
	ClassName  string
	MethodName string
	Original   string
	Translated string
}

// Key 定位一条字面量的三元组。
type Key struct {
	Class    string
	Method   string
	Original string
}

// Key 返回该记录的查找键。
func (r Record) Key() Key {
	return Key{Class: r.ClassName, Method: r.MethodName, Original: r.Original}
}

// Index 导入记录索引。同一键出现多次时，首条记录生效。
type Index struct {
	byKey map[Key]Record
}

// NewIndex 构建索引。
func NewIndex(records []Record) *Index {
	ix := &Index{byKey: make(map[Key]Record, len(records))}
	for _, r := range records {
		k := r.Key()
		if _, ok := ix.byKey[k]; !ok {
			ix.byKey[k] = r
		}
	}
	return ix
}

// Lookup 按类名、方法名与原文查找记录。
func (ix *Index) Lookup(class, method, original string) (Record, bool) {
	r, ok := ix.byKey[Key{Class: class, Method: method, Original: original}]
	return r, ok
}

// Len 索引中互异键的数量。
func (ix *Index) Len() int {
	return len(ix.byKey)
}

// ContainsCJK 判断文本是否包含 CJK 统一表意文字（U+4E00..U+9FFF）。
// 仅覆盖基本区，假名、谚文与扩展区不计入。
func ContainsCJK(s string) bool {
	for _, r := range s {
		if r >= 0x4E00 && r <= 0x9FFF {
			return true
		}
	}
	return false
}

// ExportStats 一次导出的汇总数字。
type ExportStats struct {
	Types   int
	Methods int
	Strings int // 写入表格的字面量数
	Skipped int // 被过滤器跳过的字面量数
}

// ImportStats 一次导入的汇总数字。
type ImportStats struct {
	Rows     int // 表格中的数据行数
	Strings  int // 程序集中扫描到的字面量数
	Replaced int // 实际替换的指令数
}
