package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/snowyegret23/EditDllString/internal/model"
)

// ErrNotFound 配置文件不存在。
var ErrNotFound = errors.New("配置文件不存在")

// AppConfig 应用配置
type AppConfig struct {
	Paths  PathsConfig  `toml:"paths"`
	Filter FilterConfig `toml:"filter"`
	Log    LogConfig    `toml:"log"`
}

// PathsConfig 路径配置
type PathsConfig struct {
	// Target 待处理的托管程序集（.dll/.exe）
	Target string `toml:"target"`
	// Sheet 导出目标或导入来源表格（.csv/.xlsx）
	Sheet string `toml:"sheet"`
	// SearchDir 解析依赖程序集的查找目录
	SearchDir string `toml:"search_dir"`
	// Output 导入产物路径；为空表示原地覆盖 Target
	Output string `toml:"output"`
	// Backup 原地覆盖前的备份路径
	Backup string `toml:"backup"`
}

// FilterConfig 导出过滤配置
type FilterConfig struct {
	// CJKOnly 仅导出含 CJK 表意文字的字面量
	CJKOnly bool `toml:"cjk_only"`
}

// LogConfig 日志与进度配置
type LogConfig struct {
	Verbose  bool `toml:"verbose"`
	Progress bool `toml:"progress"`
}

// Sample 配置文件样例，配置缺失时打印给用户参考。
const Sample = `[paths]
# 待处理的托管程序集（.dll/.exe）
target = "Assembly-CSharp.dll"
# 导出目标 / 导入来源表格，支持 .csv 与 .xlsx
sheet = "strings.csv"
# 依赖程序集查找目录，留空则只查找 target 同目录
search_dir = ""
# 导入产物路径，留空表示原地覆盖 target
output = ""
# 原地覆盖前的备份路径
backup = "Assembly-CSharp.bak.dll"

[filter]
# 仅导出含汉字的字符串
cjk_only = false

[log]
verbose = false
progress = true
`

// DefaultConfig 默认配置
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Log: LogConfig{
			Verbose:  false,
			Progress: true,
		},
	}
}

// GetExeDir 获取可执行文件所在目录
func GetExeDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

// ConfigPath 配置文件路径：可执行文件同目录下的 config.toml，
// 环境变量 EDITDLLSTRING_CONFIG 可以指定其它位置。
func ConfigPath() string {
	if v := strings.TrimSpace(os.Getenv("EDITDLLSTRING_CONFIG")); v != "" {
		return v
	}
	exeDir, err := GetExeDir()
	if err != nil {
		// 无法获取可执行文件目录，使用当前目录
		exeDir = "."
	}
	return filepath.Join(exeDir, "config.toml")
}

// LoadConfig 加载配置文件
func LoadConfig() (*AppConfig, error) {
	return LoadConfigFrom(ConfigPath())
}

// LoadConfigFrom 从指定路径加载配置。文件中的相对路径以配置文件
// 所在目录为基准。
func LoadConfigFrom(path string) (*AppConfig, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析 %s 失败: %w", filepath.Base(path), err)
	}

	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// resolvePaths 把相对路径折算到 baseDir。
func (c *AppConfig) resolvePaths(baseDir string) {
	for _, p := range []*string{
		&c.Paths.Target,
		&c.Paths.Sheet,
		&c.Paths.SearchDir,
		&c.Paths.Output,
		&c.Paths.Backup,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(baseDir, *p)
		}
	}
}

// ValidateFor 校验 mode 所需的配置项是否齐备。
func (c *AppConfig) ValidateFor(mode model.Mode) error {
	if strings.TrimSpace(c.Paths.Target) == "" {
		return fmt.Errorf("配置缺少 paths.target")
	}
	if strings.TrimSpace(c.Paths.Sheet) == "" {
		return fmt.Errorf("配置缺少 paths.sheet")
	}
	if mode == model.ModeImport && c.Paths.Output == "" && strings.TrimSpace(c.Paths.Backup) == "" {
		return fmt.Errorf("原地导入会覆盖 paths.target，必须配置 paths.backup")
	}
	return nil
}
