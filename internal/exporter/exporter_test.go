package exporter

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"github.com/snowyegret23/EditDllString/internal/cil"
	"github.com/snowyegret23/EditDllString/internal/cil/ciltest"
	"github.com/snowyegret23/EditDllString/internal/model"
	"github.com/snowyegret23/EditDllString/internal/parser"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func buildFixture(t *testing.T) *cil.Assembly {
	t.Helper()

	path := ciltest.BuildFile(t, ciltest.Assembly{
		Name: "Demo",
		Types: []ciltest.Type{
			{Namespace: "Demo", Name: "Greeter", Methods: []ciltest.Method{
				{Name: "Hello", Strings: []string{"你好，世界", "plain"}},
				{Name: "Empty", Strings: []string{""}},
			}},
			{Namespace: "Demo", Name: "Menu", Methods: []ciltest.Method{
				{Name: "Open", Strings: []string{"设置"}},
			}},
		},
	})
	asm, err := cil.Open(path, cil.Options{})
	if err != nil {
		t.Fatalf("打开测试程序集失败: %v", err)
	}
	return asm
}

func TestExport_CSVTraversalOrder(t *testing.T) {
	t.Parallel()

	asm := buildFixture(t)
	out := filepath.Join(t.TempDir(), "strings.csv")

	stats, err := New(false, false, testLogger()).Export(asm, out)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if stats.Types != 3 || stats.Methods != 3 {
		t.Fatalf("stats types/methods want=3/3 got=%d/%d", stats.Types, stats.Methods)
	}
	if stats.Strings != 3 || stats.Skipped != 0 {
		t.Fatalf("stats strings/skipped want=3/0 got=%d/%d", stats.Strings, stats.Skipped)
	}

	records, err := parser.LoadRecords(out)
	if err != nil {
		t.Fatalf("LoadRecords: %v", err)
	}
	want := []model.Record{
		{ClassName: "Demo.Greeter", MethodName: "Hello", Original: "你好，世界"},
		{ClassName: "Demo.Greeter", MethodName: "Hello", Original: "plain"},
		{ClassName: "Demo.Menu", MethodName: "Open", Original: "设置"},
	}
	if len(records) != len(want) {
		t.Fatalf("records want=%d got=%d", len(want), len(records))
	}
	for i, rec := range records {
		if rec != want[i] {
			t.Fatalf("record %d want=%+v got=%+v", i, want[i], rec)
		}
	}
}

func TestExport_CJKFilter(t *testing.T) {
	t.Parallel()

	asm := buildFixture(t)
	out := filepath.Join(t.TempDir(), "strings.csv")

	stats, err := New(true, false, testLogger()).Export(asm, out)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if stats.Strings != 2 {
		t.Fatalf("filtered strings want=2 got=%d", stats.Strings)
	}
	if stats.Skipped != 1 {
		t.Fatalf("skipped want=1 got=%d", stats.Skipped)
	}

	records, err := parser.LoadRecords(out)
	if err != nil {
		t.Fatalf("LoadRecords: %v", err)
	}
	for _, rec := range records {
		if !model.ContainsCJK(rec.Original) {
			t.Fatalf("非汉字字符串不应导出: %q", rec.Original)
		}
	}
}

func TestExport_XLSXLayout(t *testing.T) {
	t.Parallel()

	asm := buildFixture(t)
	out := filepath.Join(t.TempDir(), "strings.xlsx")

	if _, err := New(false, false, testLogger()).Export(asm, out); err != nil {
		t.Fatalf("Export: %v", err)
	}

	f, err := excelize.OpenFile(out)
	if err != nil {
		t.Fatalf("打开导出结果失败: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) != 1 || sheets[0] != SheetName {
		t.Fatalf("sheets want=[%s] got=%v", SheetName, sheets)
	}
	rows, err := f.GetRows(SheetName)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows want=4 got=%d", len(rows))
	}
	for i, h := range model.SheetHeaders {
		if rows[0][i] != h {
			t.Fatalf("header %d want=%s got=%s", i, h, rows[0][i])
		}
	}

	records, err := parser.LoadRecords(out)
	if err != nil {
		t.Fatalf("LoadRecords: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records want=3 got=%d", len(records))
	}
	if records[0].ClassName != "Demo.Greeter" || records[0].Original != "你好，世界" {
		t.Fatalf("unexpected first record: %+v", records[0])
	}
}

func TestExport_UnsupportedExtension(t *testing.T) {
	t.Parallel()

	asm := buildFixture(t)
	out := filepath.Join(t.TempDir(), "strings.txt")

	if _, err := New(false, false, testLogger()).Export(asm, out); err == nil {
		t.Fatalf("expected error for .txt")
	}
}
