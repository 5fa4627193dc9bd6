package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestLoggerFunctions(t *testing.T) {
	Init("invalid") // should default to info
	if log == nil {
		t.Fatal("log not initialized")
	}
	if log.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info level, got %s", log.GetLevel())
	}
	// Avoid os.Exit on Fatal
	log.ExitFunc = func(int) {}

	Debug("debug")
	Info("info")
	Warn("warn")
	Error("error")
	Debugf("%s", "debugf")
	Infof("%s", "infof")
	Warnf("%s", "warnf")
	Errorf("%s", "errorf")
	Fatal("fatal")
	Fatalf("%s", "fatalf")
}

func TestWithFields(t *testing.T) {
	Init("debug")
	var buf bytes.Buffer
	log.SetOutput(&buf)

	WithFields(map[string]interface{}{"key": "a/b.jpg", "attempt": 2}).Warn("retrying")

	out := buf.String()
	if !strings.Contains(out, "key=a/b.jpg") || !strings.Contains(out, "attempt=2") {
		t.Fatalf("missing fields in output: %s", out)
	}
}
