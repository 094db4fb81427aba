package log

import (
	"bytes"
	"strings"
	"testing"
)

func Test_Prefix(t *testing.T) {
	// make io.Writer buffers for stdout and stderr:
	stdoutBuffer := bytes.NewBuffer(nil)
	stderrBuffer := bytes.NewBuffer(nil)
	l := NewWithPrefix(stdoutBuffer, stderrBuffer, "myprefix")
	l.Info("test")
	if stdoutBuffer.Len() == 0 {
		t.Errorf("expected stdout buffer to not be empty")
	}

	logBuffer := stdoutBuffer.String()
	if !strings.Contains(logBuffer, "myprefix") {
		t.Errorf("expected prefix to be used in output")
	}
	if !strings.Contains(logBuffer, "test") {
		t.Errorf("expected logline to contain 'test'")
	}
	if stderrBuffer.Len() != 0 {
		t.Errorf("expected stderr buffer to be empty")
	}
}

func Test_Loglevel(t *testing.T) {
	stdoutBuffer := bytes.NewBuffer(nil)
	stderrBuffer := bytes.NewBuffer(nil)
	l := NewWithPrefix(stdoutBuffer, stderrBuffer, "myprefix")
	l.SetLevel(InfoLevel)
	l.Trace("trace-message")
	if stdoutBuffer.Len() != 0 {
		t.Errorf("trace level: expected stdout buffer to be empty")
	}
	if stderrBuffer.Len() != 0 {
		t.Errorf("trace level: expected stderr buffer to be empty")
	}
	l.Debug("debug-message")
	if stdoutBuffer.Len() != 0 {
		t.Errorf("debug level: expected stdout buffer to be empty")
	}
	if stderrBuffer.Len() != 0 {
		t.Errorf("debug level: expected stderr buffer to be empty")
	}
	// now we output info and we expect it to be in stdout:
	l.Info("info-message")
	if stdoutBuffer.Len() == 0 {
		t.Errorf("info level: expected stdout buffer to not be empty")
	}
	currentStdoutSize := stdoutBuffer.Len()
	if stderrBuffer.Len() != 0 {
		t.Errorf("info level: expected stderr buffer to be empty")
	}
	// warn goes to stderr:
	l.Warn("warn-message")
	if stdoutBuffer.Len() != currentStdoutSize {
		t.Errorf("warn level: expected stdout buffer to not change")
	}
	if stderrBuffer.Len() == 0 {
		t.Errorf("warn level: expected stderr buffer to not be empty")
	}
	currentStderrSize := stderrBuffer.Len()
	l.Error("error-message")
	if stdoutBuffer.Len() != currentStdoutSize {
		t.Errorf("error level: expected stdout buffer to not change")
	}
	if stderrBuffer.Len() == currentStderrSize {
		t.Errorf("error level: expected stderr buffer to change")
	}
}

func Test_WithField(t *testing.T) {
	stdoutBuffer := bytes.NewBuffer(nil)
	stderrBuffer := bytes.NewBuffer(nil)
	l := NewWithPrefix(stdoutBuffer, stderrBuffer, "bridge")
	l.WithField("topic", "/spin_config").Warnf("dropping message: %s", "bad field")
	out := stderrBuffer.String()
	if !strings.Contains(out, "/spin_config") {
		t.Errorf("expected field value in output, got %q", out)
	}
	if !strings.Contains(out, "bridge") {
		t.Errorf("expected module field to survive WithField, got %q", out)
	}
	if stdoutBuffer.Len() != 0 {
		t.Errorf("expected stdout buffer to be empty")
	}
}

func Test_SetLevelFromString(t *testing.T) {
	l := NewLogger(bytes.NewBuffer(nil), bytes.NewBuffer(nil))
	for in, want := range map[string]LogLevel{
		"":      InfoLevel,
		"trace": TraceLevel,
		"debug": DebugLevel,
		"warn":  WarnLevel,
		"error": ErrorLevel,
	} {
		if err := l.SetLevelFromString(in); err != nil {
			t.Fatalf("SetLevelFromString(%q): %s", in, err)
		}
		if l.Level() != want {
			t.Errorf("SetLevelFromString(%q): got %s, want %s", in, l.Level(), want)
		}
	}
	if err := l.SetLevelFromString("verbose"); err == nil {
		t.Errorf("expected error on unknown level")
	}
}
