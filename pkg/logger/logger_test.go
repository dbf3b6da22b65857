package logger

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

// newTestLogger builds a logger writing into a temp directory without
// going through the global configuration.
func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	l := &Logger{
		areaEnabled:   make(map[LogArea]*int32),
		logPath:       filepath.Join(t.TempDir(), "test.log"),
		maxSizeMB:     10,
		rotationCount: 3,
	}
	for _, area := range ListAreas() {
		l.areaEnabled[area] = new(int32)
	}
	atomic.StoreInt32(&l.enabled, 1)
	atomic.StoreInt32(&l.level, int32(DEBUG))
	if err := l.openLogFile(); err != nil {
		t.Fatalf("openLogFile failed: %v", err)
	}
	t.Cleanup(func() {
		l.mutex.Lock()
		if l.file != nil {
			l.file.Close()
			l.file = nil
		}
		l.mutex.Unlock()
	})
	return l
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{"DEBUG", DEBUG},
		{"info", INFO},
		{"WARN", WARN},
		{"WARNING", WARN},
		{"error", ERROR},
		{"FATAL", FATAL},
		{"nonsense", INFO},
		{"", INFO},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.input); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestShouldLogGating(t *testing.T) {
	l := newTestLogger(t)

	// Areas start disabled
	if l.shouldLog(INFO, AreaShell) {
		t.Error("disabled area must not log")
	}
	atomic.StoreInt32(l.areaEnabled[AreaShell], 1)
	if !l.shouldLog(INFO, AreaShell) {
		t.Error("enabled area should log at INFO")
	}

	// Level gate
	atomic.StoreInt32(&l.level, int32(WARN))
	if l.shouldLog(INFO, AreaShell) {
		t.Error("INFO must not pass a WARN threshold")
	}
	if !l.shouldLog(ERROR, AreaShell) {
		t.Error("ERROR should pass a WARN threshold")
	}

	// Master switch wins over everything
	atomic.StoreInt32(&l.enabled, 0)
	if l.shouldLog(ERROR, AreaShell) {
		t.Error("disabled logger must not log at all")
	}
}

func TestEnableDisableArea(t *testing.T) {
	l := newTestLogger(t)
	old := globalLogger
	globalLogger = l
	t.Cleanup(func() { globalLogger = old })

	if GetAreaStatus(AreaBrainfuck) {
		t.Fatal("areas should start disabled")
	}
	EnableArea(AreaBrainfuck)
	if !GetAreaStatus(AreaBrainfuck) {
		t.Fatal("EnableArea had no effect")
	}
	Info(AreaBrainfuck, "tape grew to %d cells", 30000)

	DisableArea(AreaBrainfuck)
	if GetAreaStatus(AreaBrainfuck) {
		t.Fatal("DisableArea had no effect")
	}
	Info(AreaBrainfuck, "this entry must not appear")

	data, err := os.ReadFile(l.logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "tape grew to 30000 cells") {
		t.Errorf("enabled-area entry missing from log: %q", content)
	}
	if !strings.Contains(content, "[BRAINFUCK]") {
		t.Errorf("area tag missing from log: %q", content)
	}
	if strings.Contains(content, "must not appear") {
		t.Errorf("disabled-area entry leaked into log: %q", content)
	}
}

func TestRotationKeepsBoundedFiles(t *testing.T) {
	l := newTestLogger(t)
	// Every entry exceeds a zero-size limit and forces a rotation
	l.maxSizeMB = 0
	atomic.StoreInt32(l.areaEnabled[AreaGeneral], 1)

	l.writeLog(INFO, AreaGeneral, "first entry")
	l.writeLog(INFO, AreaGeneral, "second entry")

	if _, err := os.Stat(l.logPath); err != nil {
		t.Fatalf("active log file missing after rotation: %v", err)
	}
	rotated, err := os.ReadFile(l.logPath + ".1")
	if err != nil {
		t.Fatalf("rotated file missing: %v", err)
	}
	if !strings.Contains(string(rotated), "second entry") {
		t.Errorf("rotated file should hold the newest full log, got %q", rotated)
	}
	older, err := os.ReadFile(l.logPath + ".2")
	if err != nil {
		t.Fatalf("second rotated file missing: %v", err)
	}
	if !strings.Contains(string(older), "first entry") {
		t.Errorf("oldest entry should land in .2, got %q", older)
	}
}
