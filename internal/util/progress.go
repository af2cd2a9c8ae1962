package util

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v2"
)

// Progress 终端进度条。禁用或总数为零时所有方法都是空操作。
type Progress struct {
	bar *progressbar.ProgressBar
	out io.Writer
}

// NewProgress 创建一个写到标准错误的进度条。
func NewProgress(enabled bool, total int, description string) *Progress {
	if !enabled || total <= 0 {
		return &Progress{}
	}
	return newProgressTo(os.Stderr, total, description)
}

func newProgressTo(w io.Writer, total int, description string) *Progress {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
	)
	return &Progress{bar: bar, out: w}
}

// Step 前进一格。
func (p *Progress) Step() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Add(1)
}

// Done 走满进度并换行。
func (p *Progress) Done() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
	fmt.Fprintln(p.out)
}
