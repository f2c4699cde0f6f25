// Package signal handles out-of-band run control via the .loom directory.
// A cancel file dropped into .loom/signals stops the workflow at the next
// batch boundary; the engine persists a checkpoint before exiting.
package signal

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Manager watches the signals directory for cancel/pause files.
type Manager struct {
	signalsDir string

	mu          sync.RWMutex
	stopSignal  bool
	pauseSignal bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewManager creates a signal manager rooted at the given directory.
// The watcher is best-effort; when it cannot start, signal checks fall back
// to polling the files directly.
func NewManager(rootDir string) (*Manager, error) {
	signalsDir := filepath.Join(rootDir, ".loom", "signals")
	if err := os.MkdirAll(signalsDir, 0755); err != nil {
		return nil, err
	}

	m := &Manager{
		signalsDir: signalsDir,
		done:       make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return m, nil
	}
	if err := watcher.Add(signalsDir); err != nil {
		watcher.Close()
		return m, nil
	}
	m.watcher = watcher

	go m.watch()

	return m, nil
}

func (m *Manager) watch() {
	for {
		select {
		case <-m.done:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			m.mu.Lock()
			switch filepath.Base(event.Name) {
			case "cancel":
				m.stopSignal = true
			case "pause":
				m.pauseSignal = true
			}
			m.mu.Unlock()
		case <-m.watcher.Errors:
			// Keep watching.
		}
	}
}

// ShouldStop returns true if a cancel signal has been received.
func (m *Manager) ShouldStop() bool {
	// Check the file directly in case the watcher missed it.
	if _, err := os.Stat(filepath.Join(m.signalsDir, "cancel")); err == nil {
		m.mu.Lock()
		m.stopSignal = true
		m.mu.Unlock()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stopSignal
}

// ShouldPause returns true if a pause signal has been received.
func (m *Manager) ShouldPause() bool {
	if _, err := os.Stat(filepath.Join(m.signalsDir, "pause")); err == nil {
		m.mu.Lock()
		m.pauseSignal = true
		m.mu.Unlock()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pauseSignal
}

// SendCancel creates a cancel signal file.
func (m *Manager) SendCancel() error {
	path := filepath.Join(m.signalsDir, "cancel")
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644)
}

// SendPause creates a pause signal file.
func (m *Manager) SendPause() error {
	path := filepath.Join(m.signalsDir, "pause")
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644)
}

// Clear removes all signal files and resets signal state.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopSignal = false
	m.pauseSignal = false

	os.Remove(filepath.Join(m.signalsDir, "cancel"))
	os.Remove(filepath.Join(m.signalsDir, "pause"))
}

// Close shuts down the signal manager.
func (m *Manager) Close() {
	close(m.done)
	if m.watcher != nil {
		m.watcher.Close()
	}
}
