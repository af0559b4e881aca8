package timeline

import "sync"

// Manager owns one Timeline per project. Handlers obtain a handle per
// request; nothing holds timeline state at package scope.
type Manager struct {
	mu        sync.Mutex
	timelines map[string]*Timeline
}

func NewManager() *Manager {
	return &Manager{timelines: make(map[string]*Timeline)}
}

// Get returns the project's timeline, creating a ready one on first use.
func (m *Manager) Get(projectID string) *Timeline {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.timelines[projectID]
	if !ok {
		t = New()
		t.SetReady()
		m.timelines[projectID] = t
	}
	return t
}

// Peek returns the project's timeline without creating one.
func (m *Manager) Peek(projectID string) *Timeline {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timelines[projectID]
}
