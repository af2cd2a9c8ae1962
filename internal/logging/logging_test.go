package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNew_LevelGate(t *testing.T) {
	t.Parallel()

	quiet := New(false, nil)
	if got := quiet.Logger.GetLevel(); got != logrus.WarnLevel {
		t.Fatalf("quiet level want=%v got=%v", logrus.WarnLevel, got)
	}

	verbose := New(true, logrus.Fields{"mode": "export"})
	if got := verbose.Logger.GetLevel(); got != logrus.DebugLevel {
		t.Fatalf("verbose level want=%v got=%v", logrus.DebugLevel, got)
	}
	if verbose.Data["mode"] != "export" {
		t.Fatalf("fields not attached: %+v", verbose.Data)
	}
}
