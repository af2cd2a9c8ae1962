// Package logging 构造命令行工具的日志器。
//
// 用户可见的流程输出走标准输出，这里的日志只承担诊断信息：默认仅
// 告警以上级别，verbose 打开后降到调试级别。
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New 返回带固定字段的日志入口。
func New(verbose bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}
	return logger.WithFields(fields)
}
