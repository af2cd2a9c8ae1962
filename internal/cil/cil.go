// Package cil 读取与改写 .NET 托管程序集（ECMA-335 元数据）。
//
// 解析 PE 容器中的 CLI 头、元数据流与 #~ 表，按声明顺序暴露类型与方法，
// 并支持替换方法体内 ldstr 指令的字符串操作数后重新序列化整个程序集。
package cil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Options 打开程序集时的可选项。
type Options struct {
	// SearchDirs 解析依赖程序集时的额外查找目录。
	SearchDirs []string
	// Logger 为空时使用静默日志器。
	Logger *logrus.Entry
}

// Assembly 一个已解析的托管程序集。
type Assembly struct {
	path     string
	img      *image
	md       *metadata
	tbl      *tables
	types    []*TypeDef
	patches  map[uint32]string // ldstr 操作数文件偏移 -> 新字符串
	resolver *resolver
	log      *logrus.Entry
}

// TypeDef 程序集中定义的一个类型。
type TypeDef struct {
	Name      string
	Namespace string
	declaring *TypeDef
	methods   []*Method
}

// Method 类型中定义的一个方法。
type Method struct {
	Name  string
	asm   *Assembly
	owner *TypeDef
	row   methodDefRow
}

// AssemblyRef 清单中声明的一条外部程序集引用。
type AssemblyRef struct {
	Name    string
	Version string
}

// Open 读取并解析 path 指向的托管程序集。
func Open(path string, opts Options) (*Assembly, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取程序集失败: %w", err)
	}
	asm, err := openBytes(raw, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	asm.path = path
	asm.logReferences()
	return asm, nil
}

func openBytes(raw []byte, opts Options) (*Assembly, error) {
	img, err := openImage(raw)
	if err != nil {
		return nil, err
	}
	md, err := parseMetadata(img)
	if err != nil {
		return nil, err
	}
	tbl, err := parseTables(md)
	if err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		silent := logrus.New()
		silent.SetLevel(logrus.PanicLevel)
		log = logrus.NewEntry(silent)
	}

	asm := &Assembly{
		img:     img,
		md:      md,
		tbl:     tbl,
		patches: make(map[uint32]string),
		log:     log,
	}
	if len(opts.SearchDirs) > 0 {
		asm.resolver = newResolver(opts.SearchDirs)
	}
	if err := asm.buildTypes(); err != nil {
		return nil, err
	}
	log.Debugf("解析完成: %d 张元数据表, %d 个类型", tbl.presentTables(), len(asm.types))
	return asm, nil
}

// buildTypes 按 TypeDef 行序构造类型与方法，并串联嵌套关系。
func (asm *Assembly) buildTypes() error {
	nTypes := asm.tbl.rowCount[tabTypeDef]
	nMethods := asm.tbl.rowCount[tabMethodDef]
	rows := make([]typeDefRow, nTypes)
	asm.types = make([]*TypeDef, nTypes)
	for i := uint32(1); i <= nTypes; i++ {
		row, err := asm.tbl.typeDef(i)
		if err != nil {
			return err
		}
		name, err := asm.md.stringAt(row.name)
		if err != nil {
			return err
		}
		ns, err := asm.md.stringAt(row.namespace)
		if err != nil {
			return err
		}
		rows[i-1] = row
		asm.types[i-1] = &TypeDef{Name: name, Namespace: ns}
	}

	for i := uint32(1); i <= nTypes; i++ {
		start := rows[i-1].methodList
		end := nMethods + 1
		if i < nTypes {
			end = rows[i].methodList
		}
		if start == 0 || start > end {
			return fmt.Errorf("类型 %s 的方法区间 [%d,%d) 非法", asm.types[i-1].Name, start, end)
		}
		typ := asm.types[i-1]
		for j := start; j < end; j++ {
			row, err := asm.tbl.methodDef(j)
			if err != nil {
				return err
			}
			name, err := asm.md.stringAt(row.name)
			if err != nil {
				return err
			}
			typ.methods = append(typ.methods, &Method{Name: name, asm: asm, owner: typ, row: row})
		}
	}

	for i := uint32(1); i <= asm.tbl.rowCount[tabNestedClass]; i++ {
		nc, err := asm.tbl.nestedClass(i)
		if err != nil {
			return err
		}
		if nc.nested == 0 || nc.nested > nTypes || nc.enclosing == 0 || nc.enclosing > nTypes {
			return fmt.Errorf("NestedClass 第 %d 行引用越界", i)
		}
		asm.types[nc.nested-1].declaring = asm.types[nc.enclosing-1]
	}
	return nil
}

// Path 程序集的来源路径，内存中打开时为空。
func (asm *Assembly) Path() string { return asm.path }

// Name 清单程序集的简单名；无清单时退回文件名。
func (asm *Assembly) Name() string {
	name, err := asm.tbl.assemblyName()
	if err == nil && name != "" {
		return name
	}
	base := filepath.Base(asm.path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Types 按声明顺序返回全部类型，含 <Module> 与嵌套类型。
func (asm *Assembly) Types() []*TypeDef { return asm.types }

// References 返回清单中声明的外部程序集引用。
func (asm *Assembly) References() ([]AssemblyRef, error) {
	n := asm.tbl.rowCount[tabAssemblyRef]
	refs := make([]AssemblyRef, 0, n)
	for i := uint32(1); i <= n; i++ {
		row, err := asm.tbl.assemblyRef(i)
		if err != nil {
			return nil, err
		}
		name, err := asm.md.stringAt(row.name)
		if err != nil {
			return nil, err
		}
		refs = append(refs, AssemblyRef{
			Name:    name,
			Version: fmt.Sprintf("%d.%d.%d.%d", row.major, row.minor, row.build, row.revision),
		})
	}
	return refs, nil
}

// ResolveReference 在查找目录中定位名为 name 的依赖程序集文件。
func (asm *Assembly) ResolveReference(name string) (string, bool) {
	if asm.resolver == nil {
		return "", false
	}
	return asm.resolver.resolve(name)
}

// logReferences 尝试在查找目录中定位依赖，仅输出调试日志，找不到不视为错误。
func (asm *Assembly) logReferences() {
	if asm.resolver == nil {
		return
	}
	refs, err := asm.References()
	if err != nil {
		asm.log.Debugf("枚举程序集引用失败: %v", err)
		return
	}
	for _, ref := range refs {
		if p, ok := asm.resolver.resolve(ref.Name); ok {
			asm.log.Debugf("依赖 %s %s -> %s", ref.Name, ref.Version, p)
		} else {
			asm.log.Debugf("依赖 %s %s 未在查找目录中找到", ref.Name, ref.Version)
		}
	}
}

// FullName 类型全名：命名空间.名称，嵌套类型以 / 连接外层类型。
func (t *TypeDef) FullName() string {
	if t.declaring != nil {
		return t.declaring.FullName() + "/" + t.Name
	}
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// Declaring 嵌套类型的外层类型，顶层类型返回 nil。
func (t *TypeDef) Declaring() *TypeDef { return t.declaring }

// Methods 按声明顺序返回该类型的方法。
func (t *TypeDef) Methods() []*Method { return t.methods }

// FullName 方法全名：类型全名::方法名。
func (m *Method) FullName() string {
	return m.owner.FullName() + "::" + m.Name
}
