package cil

import (
	"path/filepath"

	"github.com/snowyegret23/EditDllString/internal/util"
)

// resolver 在一组目录中按简单名定位依赖程序集。
type resolver struct {
	dirs []string
}

func newResolver(dirs []string) *resolver {
	return &resolver{dirs: dirs}
}

// resolve 依次尝试 <dir>/<name>.dll 与 <dir>/<name>.exe。
func (r *resolver) resolve(name string) (string, bool) {
	for _, dir := range r.dirs {
		for _, ext := range []string{".dll", ".exe"} {
			p := filepath.Join(dir, name+ext)
			if util.FileExists(p) {
				return p, true
			}
		}
	}
	return "", false
}
