package logflags

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func TestMakeLoggerRespectsFlag(t *testing.T) {
	enabled := makeLogger(true, logrus.Fields{"k": "v"})
	if enabled.Logger.Level != logrus.DebugLevel {
		t.Fatalf("expected DebugLevel when flag is true, got %v", enabled.Logger.Level)
	}

	disabled := makeLogger(false, logrus.Fields{"k": "v"})
	if disabled.Logger.Level != logrus.PanicLevel {
		t.Fatalf("expected PanicLevel when flag is false, got %v", disabled.Logger.Level)
	}
}

func TestSetupTogglesNamedLayers(t *testing.T) {
	defer func() { ptrace, procstat, analysis, disasm, eventLoop = false, false, false, false, false }()

	if err := Setup(true, "ptrace,analysis", nil); err != nil {
		t.Fatal(err)
	}
	if !Ptrace() || !Analysis() {
		t.Fatal("expected ptrace and analysis layers enabled")
	}
	if Procstat() || Disasm() || EventLoop() {
		t.Fatal("expected only the named layers enabled")
	}
}

func TestSetupRejectsLogOutputWithoutLog(t *testing.T) {
	if err := Setup(false, "ptrace", nil); err != errLogstrWithoutLog {
		t.Fatalf("expected errLogstrWithoutLog, got %v", err)
	}
}

func TestNewWrapsEntry(t *testing.T) {
	l := New(PtraceLogger(), Fields{"k": "v"})
	if _, ok := l.(*logrusLogger); !ok {
		t.Fatalf("expected New to return a *logrusLogger by default, got %T", l)
	}
}
