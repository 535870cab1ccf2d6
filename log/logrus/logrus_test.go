package logrus

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/unkn0wn-root/shopsync"
)

func TestForwardsLevelAndFields(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	l := LogrusLogger{E: logrus.NewEntry(base)}

	l.Warn("provider set failed", shopsync.Fields{"key": "cart:local"})
	e := hook.LastEntry()
	if e == nil || e.Level != logrus.WarnLevel || e.Message != "provider set failed" {
		t.Fatalf("last entry = %+v", e)
	}
	if e.Data["key"] != "cart:local" {
		t.Fatalf("fields = %v", e.Data)
	}

	l.Debug("d", nil)
	l.Info("i", nil)
	l.Error("e", nil)
	if n := len(hook.AllEntries()); n != 4 {
		t.Fatalf("entries = %d", n)
	}
}

func TestNewHonorsLevel(t *testing.T) {
	l, err := New("error")
	if err != nil {
		t.Fatal(err)
	}
	if l.E.Logger.IsLevelEnabled(logrus.WarnLevel) {
		t.Fatalf("warn enabled at error level")
	}
	if l.E.Data["component"] != "shopsync" {
		t.Fatalf("component field missing: %v", l.E.Data)
	}
	if _, err := New("nope"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
