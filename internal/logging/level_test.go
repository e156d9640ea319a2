package logging

import "testing"

// TestNameToLevel tests every recognized level name plus an unrecognized
// one.
func TestNameToLevel(t *testing.T) {
	tests := []struct {
		name    string
		want    Level
		wantOK  bool
	}{
		{"disabled", LevelDisabled, true},
		{"error", LevelError, true},
		{"warn", LevelWarn, true},
		{"info", LevelInfo, true},
		{"debug", LevelDebug, true},
		{"trace", LevelTrace, true},
		{"bogus", LevelDisabled, false},
		{"", LevelDisabled, false},
	}
	for _, test := range tests {
		got, ok := NameToLevel(test.name)
		if got != test.want || ok != test.wantOK {
			t.Errorf("NameToLevel(%q) = (%v, %t), want (%v, %t)", test.name, got, ok, test.want, test.wantOK)
		}
	}
}

// TestLevelString tests that every level stringifies to its configuration
// name, and that an out-of-range value falls back to "unknown".
func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDisabled, "disabled"},
		{LevelError, "error"},
		{LevelWarn, "warn"},
		{LevelInfo, "info"},
		{LevelDebug, "debug"},
		{LevelTrace, "trace"},
		{Level(99), "unknown"},
	}
	for _, test := range tests {
		if got := test.level.String(); got != test.want {
			t.Errorf("Level(%d).String() = %q, want %q", test.level, got, test.want)
		}
	}
}

// TestLevelOrdering tests that the level hierarchy is ordered the way
// SetLevel/enabled relies on (each level strictly more verbose than the
// last).
func TestLevelOrdering(t *testing.T) {
	levels := []Level{LevelDisabled, LevelError, LevelWarn, LevelInfo, LevelDebug, LevelTrace}
	for i := 1; i < len(levels); i++ {
		if levels[i] <= levels[i-1] {
			t.Errorf("level %v is not ordered after %v", levels[i], levels[i-1])
		}
	}
}

// TestNilLoggerDoesNotPanic tests that every Logger method is safe to call
// on a nil receiver, per the package doc's documented contract.
func TestNilLoggerDoesNotPanic(t *testing.T) {
	var l *Logger
	l.Print("x")
	l.Printf("%s", "x")
	l.Println("x")
	l.Debug("x")
	l.Debugf("%s", "x")
	l.Tracef("%s", "x")
	l.Warnf("%s", "x")
	l.Errorf("%s", "x")
	if l.Sublogger("child") != nil {
		t.Error("Sublogger on a nil Logger did not return nil")
	}
	if l.Writer() == nil {
		t.Error("Writer on a nil Logger returned nil")
	}
	if l.DebugWriter() == nil {
		t.Error("DebugWriter on a nil Logger returned nil")
	}
}

// TestSublogger tests that dotted prefixes chain correctly.
func TestSublogger(t *testing.T) {
	root := &Logger{}
	child := root.Sublogger("engine")
	grandchild := child.Sublogger("scanner")
	if child.prefix != "engine" {
		t.Errorf("child.prefix = %q, want \"engine\"", child.prefix)
	}
	if grandchild.prefix != "engine.scanner" {
		t.Errorf("grandchild.prefix = %q, want \"engine.scanner\"", grandchild.prefix)
	}
}
