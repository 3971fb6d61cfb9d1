package health

import (
	"time"

	"github.com/hamed0406/healthwatch/internal/domain"
)

// SetWatchSession installs ws as the active global session, ending any
// previous one at ws.StartTime. The ended session is returned. A nil ws only
// clears.
func (m *Machine) SetWatchSession(ws *domain.WatchSession) *domain.WatchSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.watch
	if prev != nil && prev.Active {
		end := time.Now().UTC()
		if ws != nil {
			end = ws.StartTime
		}
		prev.End(end)
	}
	m.watch = ws
	return prev.Clone()
}

// WatchSession returns a copy of the current session, or nil.
func (m *Machine) WatchSession() *domain.WatchSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watch.Clone()
}

func (m *Machine) PauseWatch(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watch != nil && m.watch.Pause(now)
}

func (m *Machine) ResumeWatch(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watch != nil && m.watch.Resume(now)
}

// EndWatch ends the active session and returns it; nil when none was active.
func (m *Machine) EndWatch(now time.Time) *domain.WatchSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watch == nil || !m.watch.Active {
		return nil
	}
	m.watch.End(now)
	return m.watch.Clone()
}

// WatchRecording reports whether a session is active and not paused.
func (m *Machine) WatchRecording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watch.Recording()
}
