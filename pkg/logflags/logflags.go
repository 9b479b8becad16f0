// Package logflags controls the diagnostic logging emitted by the
// process control core and the static analyzer. Every layer is silent
// by default; Setup enables the layers named on the command line.
package logflags

import (
	"errors"
	"io"
	"io/ioutil"
	"log"
	"strings"

	"github.com/sirupsen/logrus"
)

var ptrace = false
var procstat = false
var analysis = false
var disasm = false
var eventLoop = false

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New().WithFields(fields)
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.PanicLevel
	}
	return logger
}

// Ptrace returns true if the OS adapter should log every ptrace(2)
// request it issues.
func Ptrace() bool { return ptrace }

// PtraceLogger returns a configured logger for the OS adapter.
func PtraceLogger() *logrus.Entry {
	return makeLogger(ptrace, logrus.Fields{"layer": "native", "kind": "ptrace"})
}

// Procstat returns true if process enumeration (libprocstat/kvm calls)
// should be logged.
func Procstat() bool { return procstat }

// ProcstatLogger returns a configured logger for process enumeration.
func ProcstatLogger() *logrus.Entry {
	return makeLogger(procstat, logrus.Fields{"layer": "native", "kind": "procstat"})
}

// Analysis returns true if the static analyzer should log seeding,
// walking and cache decisions.
func Analysis() bool { return analysis }

// AnalysisLogger returns a configured logger for the static analyzer.
func AnalysisLogger() *logrus.Entry {
	return makeLogger(analysis, logrus.Fields{"layer": "analysis"})
}

// Disasm returns true if the disassembler collaborator should log
// decode failures instead of only returning them.
func Disasm() bool { return disasm }

// DisasmLogger returns a configured logger for the disassembler.
func DisasmLogger() *logrus.Entry {
	return makeLogger(disasm, logrus.Fields{"layer": "disasm"})
}

// EventLoop returns true if the process controller should log every
// classified DebugEvent as it is produced.
func EventLoop() bool { return eventLoop }

// EventLoopLogger returns a configured logger for the event loop.
func EventLoopLogger() *logrus.Entry {
	return makeLogger(eventLoop, logrus.Fields{"layer": "native", "kind": "events"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets logging flags based on the contents of logstr and directs
// the standard logger at out (or discards it if logFlag is false).
func Setup(logFlag bool, logstr string, out io.Writer) error {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if out != nil {
		log.SetOutput(out)
	}
	if logstr == "" {
		logstr = "native"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch logcmd {
		case "ptrace":
			ptrace = true
		case "procstat":
			procstat = true
		case "analysis":
			analysis = true
		case "disasm":
			disasm = true
		case "events", "native":
			eventLoop = true
		}
	}
	return nil
}
