package history

import (
	"path/filepath"
	"testing"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "history"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return l
}

func TestAppendAssignsSequentialNumbers(t *testing.T) {
	l := newTestLog(t)

	e1, err := l.Append(OpInstall, "2026-08-01", "12:00:00", []PackageChange{
		{Name: "nano", Operation: "install", After: &Revision{Version: "1.0", Release: "1"}},
	}, nil)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if e1.No != 1 {
		t.Errorf("expected first entry numbered 1, got %d", e1.No)
	}

	e2, err := l.Append(OpRemove, "2026-08-01", "12:05:00", []PackageChange{
		{Name: "nano", Operation: "remove", Before: &Revision{Version: "1.0", Release: "1"}},
	}, nil)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if e2.No != 2 {
		t.Errorf("expected second entry numbered 2, got %d", e2.No)
	}
}

func TestListReturnsEntriesInOrder(t *testing.T) {
	l := newTestLog(t)
	for i := 0; i < 3; i++ {
		if _, err := l.Append(OpInstall, "2026-08-01", "12:00:00", nil, nil); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := l.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.No != i+1 {
			t.Errorf("entry %d has No=%d, want %d", i, e.No, i+1)
		}
	}
}

func TestGetReturnsSpecificEntry(t *testing.T) {
	l := newTestLog(t)
	if _, err := l.Append(OpInstall, "2026-08-01", "12:00:00", []PackageChange{
		{Name: "a", Operation: "install", After: &Revision{Version: "1.0", Release: "1"}},
	}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Append(OpUpgrade, "2026-08-01", "13:00:00", []PackageChange{
		{Name: "a", Operation: "upgrade",
			Before: &Revision{Version: "1.0", Release: "1"},
			After:  &Revision{Version: "2.0", Release: "1"}},
	}, nil); err != nil {
		t.Fatal(err)
	}

	entry, err := l.Get(2)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if entry.Type != OpUpgrade {
		t.Errorf("expected type upgrade, got %s", entry.Type)
	}
	if len(entry.Packages) != 1 || entry.Packages[0].Name != "a" {
		t.Errorf("unexpected packages: %+v", entry.Packages)
	}

	if _, err := l.Get(99); err == nil {
		t.Errorf("expected error for unknown entry number")
	}
}

func TestPackageChangeStringRendersHumanReadable(t *testing.T) {
	cases := []struct {
		change PackageChange
		want   string
	}{
		{
			PackageChange{Name: "nano", Operation: "install", After: &Revision{Version: "1.0", Release: "1"}},
			"nano 1.0-1 is installed.",
		},
		{
			PackageChange{Name: "nano", Operation: "remove", Before: &Revision{Version: "1.0", Release: "1"}},
			"nano 1.0-1 is removed.",
		},
		{
			PackageChange{
				Name: "nano", Operation: "upgrade",
				Before: &Revision{Version: "1.0", Release: "1"},
				After:  &Revision{Version: "2.0", Release: "1"},
			},
			"nano is upgraded from 1.0-1 to 2.0-1.",
		},
		{
			PackageChange{
				Name: "nano", Operation: "upgrade", Delta: true,
				Before: &Revision{Version: "1.0", Release: "1"},
				After:  &Revision{Version: "2.0", Release: "1"},
			},
			"nano is upgraded from 1.0-1 to 2.0-1 with delta.",
		},
	}
	for _, c := range cases {
		if got := c.change.String(); got != c.want {
			t.Errorf("String() = %q, want %q", got, c.want)
		}
	}
}

func TestTakebackTargetComputesDiff(t *testing.T) {
	l := newTestLog(t)
	snapshot, err := l.Snapshot("2026-08-01", "12:00:00", []PackageChange{
		{Name: "nano", Operation: "install", After: &Revision{Version: "1.0", Release: "1"}},
		{Name: "vim", Operation: "install", After: &Revision{Version: "1.0", Release: "1"}},
	})
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	current := map[string]Revision{
		"nano": {Version: "2.0", Release: "1"}, // upgraded since snapshot
		"curl": {Version: "1.0", Release: "1"}, // installed after snapshot
	}

	toRemove, toInstall, err := l.TakebackTarget(snapshot.No, current)
	if err != nil {
		t.Fatalf("TakebackTarget failed: %v", err)
	}
	if len(toRemove) != 1 || toRemove[0] != "curl" {
		t.Errorf("expected curl to be removed, got %v", toRemove)
	}
	if rev, ok := toInstall["nano"]; !ok || rev.Version != "1.0" {
		t.Errorf("expected nano reverted to 1.0, got %+v", toInstall["nano"])
	}
	if _, ok := toInstall["vim"]; !ok {
		t.Errorf("expected vim reinstalled, got %+v", toInstall)
	}
}

func TestLatestOnEmptyLogIsZero(t *testing.T) {
	l := newTestLog(t)
	n, err := l.Latest()
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 on empty log, got %d", n)
	}
}
