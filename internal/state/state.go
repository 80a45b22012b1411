// Package state implements the single persisted-snapshot manager:
// relay on/off and cover position/tilt, loaded leniently at boot and saved
// atomically, with concurrent saves collapsed ("skip if busy").
package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"boneio/internal/xlog"
)

var log = xlog.New("state")

// Cover is the persisted position (and, for venetian covers, tilt) of one
// cover.
type Cover struct {
	Position int  `json:"position"`
	Tilt     *int `json:"tilt,omitempty"`
}

// Snapshot is the full contents of state.json.
type Snapshot struct {
	Relay map[string]bool  `json:"relay"`
	Cover map[string]Cover `json:"cover"`
}

func emptySnapshot() Snapshot {
	return Snapshot{Relay: map[string]bool{}, Cover: map[string]Cover{}}
}

// Manager owns the in-memory snapshot and its on-disk mirror.
type Manager struct {
	path string

	mu    sync.RWMutex
	state Snapshot

	saving int32 // atomic flag: a save is currently in flight
}

// Load reads <config_dir>/state.json. A missing file yields an empty
// snapshot rather than an error.
func Load(path string) (*Manager, error) {
	m := &Manager{path: path, state: emptySnapshot()}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("state file not found at %s, starting empty", path)
			return m, nil
		}
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Warn("state file at %s is invalid, starting empty: %v", path, err)
		return m, nil
	}
	if snap.Relay == nil {
		snap.Relay = map[string]bool{}
	}
	if snap.Cover == nil {
		snap.Cover = map[string]Cover{}
	}
	m.state = snap
	return m, nil
}

// RelayState returns the persisted on/off for id, and whether it was
// present.
func (m *Manager) RelayState(id string) (bool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.state.Relay[id]
	return v, ok
}

// SetRelayState records a relay's state in memory. Save must be called to
// persist it.
func (m *Manager) SetRelayState(id string, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Relay[id] = on
}

// RemoveRelayState deletes a relay's persisted entry, used when the
// interlock gate forces a restored ON back to OFF at boot.
func (m *Manager) RemoveRelayState(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state.Relay, id)
}

// CoverState returns the persisted position/tilt for id, and whether it was
// present.
func (m *Manager) CoverState(id string) (Cover, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.state.Cover[id]
	return v, ok
}

func (m *Manager) SetCoverState(id string, position int, tilt *int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Cover[id] = Cover{Position: position, Tilt: tilt}
}

// Save persists the current snapshot asynchronously. A save already in
// flight causes this request to be dropped silently, matching the source's
// "skip if busy" debounce.
func (m *Manager) Save() {
	if !atomic.CompareAndSwapInt32(&m.saving, 0, 1) {
		log.Debug("state save already in progress, skipping")
		return
	}
	go func() {
		defer atomic.StoreInt32(&m.saving, 0)
		m.mu.RLock()
		snap := m.state
		cp := Snapshot{Relay: map[string]bool{}, Cover: map[string]Cover{}}
		for k, v := range snap.Relay {
			cp.Relay[k] = v
		}
		for k, v := range snap.Cover {
			cp.Cover[k] = v
		}
		m.mu.RUnlock()

		data, err := json.MarshalIndent(cp, "", "  ")
		if err != nil {
			log.Error("failed to marshal state: %v", err)
			return
		}
		if err := writeFileAtomic(m.path, data); err != nil {
			log.Error("failed to write state file: %v", err)
		}
	}()
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
