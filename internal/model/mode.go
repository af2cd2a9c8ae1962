package model

// Mode 工具的运行模式。
type Mode int

const (
	ModeExport Mode = iota + 1
	ModeImport
)

func (m Mode) String() string {
	switch m {
	case ModeExport:
		return "export"
	case ModeImport:
		return "import"
	}
	return "unknown"
}
