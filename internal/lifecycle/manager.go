// Package lifecycle hands the shared map surface to one editing session at a
// time and guarantees it is left clean when the session ends.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/earthring/zonesync/internal/selection"
	"github.com/earthring/zonesync/internal/surface"
	"github.com/earthring/zonesync/internal/syncctl"
)

// ErrSurfaceBusy is returned by Acquire while another session holds the
// surface.
var ErrSurfaceBusy = errors.New("surface is held by another editing session")

// Manager owns a long-lived surface shared by the create, edit and preview
// flows.
type Manager struct {
	mu      sync.Mutex
	surface surface.Surface
	active  *Session
	nextID  int64
	opts    []syncctl.Option
}

// NewManager wraps surf. Options are passed to every session controller.
func NewManager(surf surface.Surface, opts ...syncctl.Option) *Manager {
	return &Manager{surface: surf, opts: opts}
}

// Active reports whether a session currently holds the surface.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

// Session is one editing session bound to the shared surface.
type Session struct {
	ID int64

	manager    *Manager
	model      *selection.Model
	controller *syncctl.Controller
	release    sync.Once
}

// Acquire starts a session seeded with seed: empty for a new zone, the
// persisted selection when editing. The surface is hydrated before Acquire
// returns. Callers must Release the session on every exit path.
func (m *Manager) Acquire(seed selection.State) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, fmt.Errorf("acquire session: %w", ErrSurfaceBusy)
	}

	model, err := selection.NewModel(seed)
	if err != nil {
		return nil, fmt.Errorf("acquire session: %w", err)
	}

	m.nextID++
	s := &Session{
		ID:      m.nextID,
		manager: m,
		model:   model,
	}
	s.controller = syncctl.New(model, m.surface, m.opts...)
	m.surface.Attach(s.controller.SurfaceSink())
	s.controller.Hydrate()
	s.controller.Drain()

	m.active = s
	log.Printf("[Session] Acquired session %d (modality=%s)", s.ID, seed.Modality())
	return s, nil
}

// WithSession runs fn inside a session and releases it however fn exits,
// including by panic.
func (m *Manager) WithSession(seed selection.State, fn func(*Session) error) error {
	s, err := m.Acquire(seed)
	if err != nil {
		return err
	}
	defer s.Release()
	return fn(s)
}

// Controller returns the session's sync controller.
func (s *Session) Controller() *syncctl.Controller {
	return s.controller
}

// Model returns the session's selection model. Only use it from the
// goroutine consuming the controller queue.
func (s *Session) Model() *selection.Model {
	return s.model
}

// Run consumes the controller queue until ctx ends.
func (s *Session) Run(ctx context.Context) error {
	return s.controller.Run(ctx)
}

// Submit validates the current selection and returns the submission payload.
func (s *Session) Submit() (selection.Payload, error) {
	state := s.model.Snapshot()
	if err := selection.Validate(state); err != nil {
		return selection.Payload{}, err
	}
	return selection.NewPayload(state), nil
}

// Release detaches the session and clears every layer it may have left on
// the surface. It is synchronous and safe to call more than once. Any Run
// loop for this session must have returned before Release is called.
func (s *Session) Release() {
	s.release.Do(func() {
		m := s.manager
		surf := m.surface

		surf.Attach(nil)
		s.controller.Close()

		surf.ClearDrawnFeatures()
		surf.ClearSelection()
		surf.EnableDrawing(true)
		surf.SetInteractive(true)

		if _, err := s.model.SetPolygon(nil); err != nil {
			log.Printf("[Session] Failed to reset polygon for session %d: %v", s.ID, err)
		}

		m.mu.Lock()
		if m.active == s {
			m.active = nil
		}
		m.mu.Unlock()
		log.Printf("[Session] Released session %d", s.ID)
	})
}
