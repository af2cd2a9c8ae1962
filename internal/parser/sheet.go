// Package parser 读取导入用的字符串表格。
//
// 支持 CSV 与 XLSX 两种格式，按扩展名选择。首行视为表头，数据行为
// 类名、方法名、原文、译文四列（译文列可以缺省）。
package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/snowyegret23/EditDllString/internal/model"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// LoadRecords 按扩展名读取表格中的全部记录。
func LoadRecords(path string) ([]model.Record, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return loadCSV(path)
	case ".xlsx":
		return loadXLSX(path)
	default:
		return nil, fmt.Errorf("不支持的表格格式 %q，仅支持 .csv 与 .xlsx", filepath.Ext(path))
	}
}

func loadCSV(path string) ([]model.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取表格失败: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	r := csv.NewReader(bytes.NewReader(data))
	// 列数在 rowsToRecords 里统一校验，这里放开限制。
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("解析 CSV 失败: %w", err)
	}
	return rowsToRecords(rows)
}

func loadXLSX(path string) ([]model.Record, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("打开表格失败: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("工作簿中没有工作表")
	}
	// 只读第一个工作表。
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("读取工作表 %s 失败: %w", sheets[0], err)
	}
	return rowsToRecords(rows)
}

// rowsToRecords 首行是表头，数据行需要 3 或 4 列。
func rowsToRecords(rows [][]string) ([]model.Record, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("表格为空")
	}
	records := make([]model.Record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if rowEmpty(row) {
			continue
		}
		if len(row) < 3 || len(row) > 4 {
			return nil, fmt.Errorf("第 %d 行有 %d 列，应为类名、方法名、原文、译文四列", i+2, len(row))
		}
		rec := model.Record{
			ClassName:  row[0],
			MethodName: row[1],
			Original:   row[2],
		}
		if len(row) == 4 {
			rec.Translated = row[3]
		}
		records = append(records, rec)
	}
	return records, nil
}

// rowEmpty 整行没有任何内容。XLSX 的尾部空行会读成零列或全空单元格。
func rowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
