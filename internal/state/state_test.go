package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileYieldsEmptySnapshot(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := m.RelayState("relay.one"); ok {
		t.Fatal("expected no persisted relay state")
	}
}

func TestLoadInvalidFileYieldsEmptySnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := m.RelayState("relay.one"); ok {
		t.Fatal("expected empty snapshot for invalid file")
	}
}

func TestSetRelayStateSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	m, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	m.SetRelayState("relay.one", true)
	tilt := 42
	m.SetCoverState("cover.one", 77, &tilt)
	m.Save()

	waitForFile(t, path)

	reloaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	on, ok := reloaded.RelayState("relay.one")
	if !ok || !on {
		t.Fatalf("expected relay.one=true, got %v/%v", on, ok)
	}
	cover, ok := reloaded.CoverState("cover.one")
	if !ok || cover.Position != 77 || cover.Tilt == nil || *cover.Tilt != 42 {
		t.Fatalf("expected cover.one position=77 tilt=42, got %+v/%v", cover, ok)
	}
}

func TestRemoveRelayStateDeletesEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	m, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	m.SetRelayState("relay.one", true)
	m.RemoveRelayState("relay.one")
	if _, ok := m.RelayState("relay.one"); ok {
		t.Fatal("expected relay.one to be gone after RemoveRelayState")
	}
}

func TestSaveIsAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	m, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	m.SetRelayState("relay.one", true)
	m.Save()
	waitForFile(t, path)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("state file is not valid json: %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Fatalf("leftover temp file after atomic save: %s", e.Name())
		}
	}
}

func waitForFile(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			time.Sleep(20 * time.Millisecond) // let the rename settle
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("state file %s was never written", path)
}
