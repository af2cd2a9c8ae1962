// Package importer 把翻译表格中的译文写回程序集。
package importer

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/snowyegret23/EditDllString/internal/cil"
	"github.com/snowyegret23/EditDllString/internal/model"
	"github.com/snowyegret23/EditDllString/internal/util"
)

// Importer 字符串导入器。
type Importer struct {
	progress bool
	log      *logrus.Entry
}

// New 创建导入器。
func New(progress bool, log *logrus.Entry) *Importer {
	return &Importer{
		progress: progress,
		log:      log,
	}
}

// Result 一次导入的结果。
type Result struct {
	Stats   model.ImportStats
	Written string // 写出的文件路径
	Backup  string // 备份文件路径，未备份时为空
}

// Run 用 records 中的译文替换程序集里匹配的字符串，然后整体写回。
//
// output 为空或指向程序集自身时视为原地覆盖，此时必须提供 backup，
// 且备份在任何改动落盘之前完成。即使没有任何替换也会照常写出。
func (im *Importer) Run(asm *cil.Assembly, records []model.Record, output, backup string) (*Result, error) {
	ix := model.NewIndex(records)
	res := &Result{}
	res.Stats.Rows = len(records)

	dest := output
	if dest == "" || filepath.Clean(dest) == filepath.Clean(asm.Path()) {
		dest = asm.Path()
		if backup == "" {
			return nil, fmt.Errorf("原地覆盖前必须配置备份路径")
		}
		if err := util.CopyFile(asm.Path(), backup); err != nil {
			return nil, fmt.Errorf("备份到 %s 失败: %w", backup, err)
		}
		res.Backup = backup
		im.log.Infof("原文件已备份到 %s", backup)
	}

	types := asm.Types()
	total := 0
	for _, t := range types {
		total += len(t.Methods())
	}

	bar := util.NewProgress(im.progress, total, "替换字符串")
	for _, typ := range types {
		for _, m := range typ.Methods() {
			ins, err := m.Instructions()
			if err != nil {
				return nil, fmt.Errorf("解析方法 %s 失败: %w", m.FullName(), err)
			}
			for _, in := range ins {
				s, ok := in.LoadString()
				if !ok {
					continue
				}
				res.Stats.Strings++
				rec, found := ix.Lookup(typ.FullName(), m.Name, s)
				if !found && strings.Contains(s, "\r\n") {
					// CSV 读取会把引号字段内的 \r\n 归一成 \n，精确匹配
					// 落空时按归一后的原文再查一次。
					rec, found = ix.Lookup(typ.FullName(), m.Name, strings.ReplaceAll(s, "\r\n", "\n"))
				}
				if !found || rec.Translated == "" || rec.Translated == s {
					continue
				}
				if err := in.SetLoadString(rec.Translated); err != nil {
					return nil, fmt.Errorf("替换 %s 中的字符串失败: %w", m.FullName(), err)
				}
				res.Stats.Replaced++
			}
			bar.Step()
		}
	}
	bar.Done()

	if err := asm.WriteFile(dest); err != nil {
		return nil, fmt.Errorf("写出 %s 失败: %w", dest, err)
	}
	res.Written = dest

	im.log.Infof("导入完成: 表格 %d 行，命中替换 %d 处，写出 %s",
		res.Stats.Rows, res.Stats.Replaced, dest)
	return res, nil
}
