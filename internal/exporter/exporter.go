// Package exporter 把程序集方法体中的 ldstr 字符串导出成待翻译表格。
package exporter

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"github.com/snowyegret23/EditDllString/internal/cil"
	"github.com/snowyegret23/EditDllString/internal/model"
	"github.com/snowyegret23/EditDllString/internal/util"
)

// SheetName 导出工作簿中唯一的数据表名。
const SheetName = "字符串"

// Exporter 字符串导出器。
type Exporter struct {
	cjkOnly  bool
	progress bool
	log      *logrus.Entry
}

// New 创建导出器。cjkOnly 为真时只保留含汉字的字符串。
func New(cjkOnly, progress bool, log *logrus.Entry) *Exporter {
	return &Exporter{
		cjkOnly:  cjkOnly,
		progress: progress,
		log:      log,
	}
}

// Export 遍历程序集并把采集到的字符串写入 sheetPath。
// 按扩展名选择 CSV 或 XLSX 两种输出格式。
func (e *Exporter) Export(asm *cil.Assembly, sheetPath string) (*model.ExportStats, error) {
	records, stats, err := e.collect(asm)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(sheetPath)) {
	case ".csv":
		err = writeCSV(sheetPath, records)
	case ".xlsx":
		err = writeXLSX(sheetPath, records)
	default:
		return nil, fmt.Errorf("不支持的表格格式 %q，仅支持 .csv 与 .xlsx", filepath.Ext(sheetPath))
	}
	if err != nil {
		return nil, err
	}
	e.log.Infof("导出完成: %d 个字符串写入 %s", stats.Strings, sheetPath)
	return stats, nil
}

// collect 按类型声明序、方法声明序、指令序采集字符串，不排序也不去重。
func (e *Exporter) collect(asm *cil.Assembly) ([]model.Record, *model.ExportStats, error) {
	types := asm.Types()
	stats := &model.ExportStats{Types: len(types)}
	for _, t := range types {
		stats.Methods += len(t.Methods())
	}

	bar := util.NewProgress(e.progress, stats.Methods, "导出字符串")
	var records []model.Record
	for _, typ := range types {
		for _, m := range typ.Methods() {
			ins, err := m.Instructions()
			if err != nil {
				return nil, nil, fmt.Errorf("解析方法 %s 失败: %w", m.FullName(), err)
			}
			for _, in := range ins {
				s, ok := in.LoadString()
				if !ok || s == "" {
					continue
				}
				if e.cjkOnly && !model.ContainsCJK(s) {
					stats.Skipped++
					continue
				}
				records = append(records, model.Record{
					ClassName:  typ.FullName(),
					MethodName: m.Name,
					Original:   s,
				})
				stats.Strings++
			}
			bar.Step()
		}
	}
	bar.Done()

	e.log.Debugf("遍历 %d 个类型 %d 个方法，采集 %d 条，过滤 %d 条",
		stats.Types, stats.Methods, stats.Strings, stats.Skipped)
	return records, stats, nil
}

// writeCSV 带 UTF-8 BOM 输出，方便 Excel 直接打开。
func writeCSV(path string, records []model.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("创建表格失败: %w", err)
	}
	defer f.Close()

	if _, err := f.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return fmt.Errorf("写入表格失败: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(model.SheetHeaders[:]); err != nil {
		return fmt.Errorf("写入表头失败: %w", err)
	}
	for _, rec := range records {
		row := []string{rec.ClassName, rec.MethodName, rec.Original, rec.Translated}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("写入表格失败: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("写入表格失败: %w", err)
	}
	return f.Close()
}

func writeXLSX(path string, records []model.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName("Sheet1", SheetName)

	for i, h := range model.SheetHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(SheetName, cell, h)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#E2E8F0"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	f.SetRowStyle(SheetName, 1, 1, headerStyle)

	f.SetColWidth(SheetName, "A", "A", 40)
	f.SetColWidth(SheetName, "B", "B", 30)
	f.SetColWidth(SheetName, "C", "D", 60)

	for i, rec := range records {
		row := i + 2
		f.SetCellValue(SheetName, fmt.Sprintf("A%d", row), rec.ClassName)
		f.SetCellValue(SheetName, fmt.Sprintf("B%d", row), rec.MethodName)
		f.SetCellValue(SheetName, fmt.Sprintf("C%d", row), rec.Original)
		f.SetCellValue(SheetName, fmt.Sprintf("D%d", row), rec.Translated)
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("保存表格失败: %w", err)
	}
	return nil
}
