package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/snowyegret23/EditDllString/internal/cil"
	"github.com/snowyegret23/EditDllString/internal/config"
	"github.com/snowyegret23/EditDllString/internal/exporter"
	"github.com/snowyegret23/EditDllString/internal/importer"
	"github.com/snowyegret23/EditDllString/internal/logging"
	"github.com/snowyegret23/EditDllString/internal/model"
	"github.com/snowyegret23/EditDllString/internal/parser"
)

func main() {
	mode, ok := parseMode(os.Args[1:])
	if !ok {
		printUsage()
		return
	}

	fmt.Println("==========================================")
	fmt.Println("  EditDllString - DLL 字符串翻译工具")
	fmt.Println("==========================================")

	// 加载配置
	cfg, err := config.LoadConfig()
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			fmt.Printf("未找到配置文件: %s\n", config.ConfigPath())
			fmt.Println("请在该位置创建 config.toml，样例:")
			fmt.Println()
			fmt.Print(config.Sample)
			return
		}
		log.Fatalf("加载配置失败: %v", err)
	}
	if err := cfg.ValidateFor(mode); err != nil {
		log.Fatalf("配置不完整: %v", err)
	}

	logger := logging.New(cfg.Log.Verbose, logrus.Fields{"mode": mode.String()})

	// 打开目标程序集
	searchDirs := []string{filepath.Dir(cfg.Paths.Target)}
	if cfg.Paths.SearchDir != "" {
		searchDirs = append(searchDirs, cfg.Paths.SearchDir)
	}
	fmt.Printf("目标程序集: %s\n", cfg.Paths.Target)
	asm, err := cil.Open(cfg.Paths.Target, cil.Options{
		SearchDirs: searchDirs,
		Logger:     logger,
	})
	if err != nil {
		log.Fatalf("打开程序集失败: %v", err)
	}

	switch mode {
	case model.ModeExport:
		runExport(cfg, asm, logger)
	case model.ModeImport:
		runImport(cfg, asm, logger)
	}
}

// parseMode 解析唯一的模式参数。
func parseMode(args []string) (model.Mode, bool) {
	if len(args) != 1 {
		return 0, false
	}
	switch args[0] {
	case "-export", "-e":
		return model.ModeExport, true
	case "-import", "-i":
		return model.ModeImport, true
	}
	return 0, false
}

func printUsage() {
	fmt.Println("用法: editdllstring <模式>")
	fmt.Println()
	fmt.Println("模式:")
	fmt.Println("  -export, -e   从目标程序集导出字符串表格")
	fmt.Println("  -import, -i   把表格中的译文写回程序集")
	fmt.Println()
	fmt.Printf("其余选项在 %s 中配置。\n", config.ConfigPath())
}

func runExport(cfg *config.AppConfig, asm *cil.Assembly, logger *logrus.Entry) {
	fmt.Printf("导出字符串到 %s ...\n", cfg.Paths.Sheet)

	stats, err := exporter.New(cfg.Filter.CJKOnly, cfg.Log.Progress, logger).Export(asm, cfg.Paths.Sheet)
	if err != nil {
		log.Fatalf("导出失败: %v", err)
	}

	fmt.Printf("导出完成: %d 个类型 / %d 个方法，共 %d 条字符串\n",
		stats.Types, stats.Methods, stats.Strings)
	if cfg.Filter.CJKOnly {
		fmt.Printf("按汉字过滤跳过 %d 条\n", stats.Skipped)
	}
}

func runImport(cfg *config.AppConfig, asm *cil.Assembly, logger *logrus.Entry) {
	fmt.Printf("读取表格 %s ...\n", cfg.Paths.Sheet)

	records, err := parser.LoadRecords(cfg.Paths.Sheet)
	if err != nil {
		log.Fatalf("读取表格失败: %v", err)
	}
	fmt.Printf("表格共 %d 行\n", len(records))

	res, err := importer.New(cfg.Log.Progress, logger).Run(asm, records, cfg.Paths.Output, cfg.Paths.Backup)
	if err != nil {
		log.Fatalf("导入失败: %v", err)
	}

	if res.Backup != "" {
		fmt.Printf("原文件已备份到: %s\n", res.Backup)
	}
	fmt.Printf("导入完成: 扫描 %d 处字符串，替换 %d 处\n", res.Stats.Strings, res.Stats.Replaced)
	fmt.Printf("已写出: %s\n", res.Written)
}
