package util

import (
	"bytes"
	"strings"
	"testing"
)

func TestProgress_DisabledIsNoop(t *testing.T) {
	t.Parallel()

	p := NewProgress(false, 100, "测试")
	p.Step()
	p.Done()

	p = NewProgress(true, 0, "测试")
	p.Step()
	p.Done()
}

func TestProgress_WritesBar(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := newProgressTo(&buf, 3, "导出")
	p.Step()
	p.Step()
	p.Step()
	p.Done()

	out := buf.String()
	if out == "" {
		t.Fatalf("expected bar output")
	}
	if !strings.Contains(out, "导出") {
		t.Fatalf("description missing from output: %q", out)
	}
	if !strings.Contains(out, "3/3") {
		t.Fatalf("count missing from output: %q", out)
	}
}
