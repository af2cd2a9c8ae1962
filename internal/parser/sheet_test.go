package parser

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadRecords_CSVWithBOM(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "sheet.csv",
		"\xEF\xBB\xBF类名,方法名,原文,译文\n"+
			"Game.Dialog,Show,你好,Hello\n"+
			"Game.Dialog,Show,再见,\n")

	records, err := LoadRecords(path)
	if err != nil {
		t.Fatalf("LoadRecords: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records want=2 got=%d", len(records))
	}
	if records[0].ClassName != "Game.Dialog" || records[0].Original != "你好" || records[0].Translated != "Hello" {
		t.Fatalf("unexpected first record: %+v", records[0])
	}
	if records[1].Translated != "" {
		t.Fatalf("empty translation want=\"\" got=%q", records[1].Translated)
	}
}

func TestLoadRecords_CSVThreeColumns(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "sheet.csv",
		"类名,方法名,原文\n"+
			"Game.Dialog,Show,你好\n")

	records, err := LoadRecords(path)
	if err != nil {
		t.Fatalf("LoadRecords: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records want=1 got=%d", len(records))
	}
	if records[0].Translated != "" {
		t.Fatalf("three-column row should have empty translation, got %q", records[0].Translated)
	}
}

func TestLoadRecords_BadColumnCount(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "sheet.csv",
		"类名,方法名,原文,译文\n"+
			"Game.Dialog,Show\n")

	_, err := LoadRecords(path)
	if err == nil {
		t.Fatalf("expected error for two-column row")
	}
	if !strings.Contains(err.Error(), "第 2 行") {
		t.Fatalf("error should name the row: %v", err)
	}
}

func TestLoadRecords_SkipsEmptyRows(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "sheet.csv",
		"类名,方法名,原文,译文\n"+
			"\n"+
			"Game.Dialog,Show,你好,Hello\n"+
			",,,\n")

	records, err := LoadRecords(path)
	if err != nil {
		t.Fatalf("LoadRecords: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records want=1 got=%d", len(records))
	}
}

func TestLoadRecords_HeaderOnly(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "sheet.csv", "类名,方法名,原文,译文\n")

	records, err := LoadRecords(path)
	if err != nil {
		t.Fatalf("LoadRecords: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("header-only sheet want=0 got=%d", len(records))
	}
}

func TestLoadRecords_XLSX(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sheet.xlsx")
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]string{
		{"类名", "方法名", "原文", "译文"},
		{"Game.Dialog", "Show", "你好", "Hello"},
		{"Game.Menu", "Open", "设置", "Settings"},
	}
	for i, row := range rows {
		for j, cell := range row {
			name, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				t.Fatalf("cell name: %v", err)
			}
			if err := f.SetCellValue(sheet, name, cell); err != nil {
				t.Fatalf("set cell: %v", err)
			}
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save xlsx: %v", err)
	}

	records, err := LoadRecords(path)
	if err != nil {
		t.Fatalf("LoadRecords: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records want=2 got=%d", len(records))
	}
	if records[1].ClassName != "Game.Menu" || records[1].Translated != "Settings" {
		t.Fatalf("unexpected second record: %+v", records[1])
	}
}

func TestLoadRecords_UnsupportedExtension(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "sheet.txt", "whatever")

	_, err := LoadRecords(path)
	if err == nil {
		t.Fatalf("expected error for .txt")
	}
	if !strings.Contains(err.Error(), ".csv") {
		t.Fatalf("error should name supported formats: %v", err)
	}
}

func TestLoadRecords_EmptyFile(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "sheet.csv", "")

	_, err := LoadRecords(path)
	if err == nil {
		t.Fatalf("expected error for empty sheet")
	}
}
