package client

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Tab is one client-visible terminal view, backed by one Controller.
type Tab struct {
	id   string
	name string
	ctrl *Controller
}

func (t *Tab) ID() string              { return t.id }
func (t *Tab) Name() string            { return t.name }
func (t *Tab) Controller() *Controller { return t.ctrl }
func (t *Tab) Status() string          { return t.ctrl.State().ConnectionStatus() }

// ControllerFactory builds the Controller for a new tab. The factory receives
// the tab's display name so it can label logs and callbacks.
type ControllerFactory func(tabName string) *Controller

// TabManager owns the set of tabs. It is constructed once at application
// start and handed to the UI layer; there is no package-level tab state. The
// set of tabs is never empty in steady state: closing the last tab creates a
// replacement before returning.
type TabManager struct {
	log           *zap.SugaredLogger
	newController ControllerFactory

	mu      sync.Mutex
	tabs    map[string]*Tab
	order   []string
	active  string
	counter int
}

// NewTabManager builds a manager and bootstraps it with one tab.
func NewTabManager(log *zap.SugaredLogger, factory ControllerFactory) *TabManager {
	m := &TabManager{
		log:           log.Named("tabs"),
		newController: factory,
		tabs:          make(map[string]*Tab),
	}
	m.mu.Lock()
	m.createLocked()
	m.mu.Unlock()
	return m
}

func (m *TabManager) createLocked() *Tab {
	m.counter++
	name := fmt.Sprintf("Terminal %d", m.counter)
	t := &Tab{
		id:   uuid.NewString(),
		name: name,
		ctrl: m.newController(name),
	}
	m.tabs[t.id] = t
	m.order = append(m.order, t.id)
	m.active = t.id
	m.log.Debugw("created tab", "ID", t.id, "Name", name)
	t.ctrl.Start()
	return t
}

// CreateTab allocates a new tab, makes it active, and starts its connection.
func (m *TabManager) CreateTab() *Tab {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked()
}

// CloseTab closes the tab's connection with the clean-close code and releases
// it. If it was the active tab, the most recently created remaining tab
// becomes active. Closing the last tab creates a replacement first.
func (m *TabManager) CloseTab(id string) {
	m.mu.Lock()
	t, ok := m.tabs[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.tabs, id)
	for i, tid := range m.order {
		if tid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if len(m.tabs) == 0 {
		m.createLocked()
	} else if m.active == id {
		m.active = m.order[len(m.order)-1]
	}
	m.mu.Unlock()

	m.log.Debugw("closing tab", "ID", id)
	t.ctrl.Close()
}

// ActiveTab returns the currently active tab.
func (m *TabManager) ActiveTab() *Tab {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tabs[m.active]
}

// Tabs returns all tabs in creation order.
func (m *TabManager) Tabs() []*Tab {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Tab, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.tabs[id])
	}
	return out
}

// Len returns the number of tabs.
func (m *TabManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tabs)
}

// Close closes every tab's controller without creating replacements. Used on
// application shutdown.
func (m *TabManager) Close() {
	m.mu.Lock()
	tabs := make([]*Tab, 0, len(m.tabs))
	for _, t := range m.tabs {
		tabs = append(tabs, t)
	}
	m.tabs = make(map[string]*Tab)
	m.order = nil
	m.active = ""
	m.mu.Unlock()
	for _, t := range tabs {
		t.ctrl.Close()
	}
}
