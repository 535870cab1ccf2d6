package zap

import (
	"errors"
	"testing"

	"github.com/unkn0wn-root/shopsync"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := ZapLogger{L: zap.New(core)}

	l.Debug("d", nil)
	l.Info("i", shopsync.Fields{"ns": "cart"})
	l.Warn("w", shopsync.Fields{"err": errors.New("boom"), "key": "cart:local"})
	l.Error("e", shopsync.Fields{})

	all := logs.All()
	if len(all) != 4 {
		t.Fatalf("got %d entries", len(all))
	}
	want := []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, e := range all {
		if e.Level != want[i] {
			t.Fatalf("entry %d level = %v want %v", i, e.Level, want[i])
		}
	}
	ctx := all[2].ContextMap()
	if ctx["err"] != "boom" || ctx["key"] != "cart:local" {
		t.Fatalf("warn fields = %v", ctx)
	}
	if all[1].ContextMap()["ns"] != "cart" {
		t.Fatalf("info fields = %v", all[1].ContextMap())
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	l, err := New("warn")
	if err != nil {
		t.Fatal(err)
	}
	if l.L.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("info should be disabled at warn level")
	}
}
