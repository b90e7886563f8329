// Package projects is the registry of restoration projects and their verification state.
package projects

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.openly.dev/pointy"

	"github.com/sand/blue-carbon-registry/backend/internal/address"
	"github.com/sand/blue-carbon-registry/backend/internal/entities"
	"github.com/sand/blue-carbon-registry/backend/internal/storage"
)

var (
	ErrProjectNotFound         = errors.New("project not found")
	ErrInvalidTransition       = errors.New("project is not pending")
	ErrRejectionReasonRequired = errors.New("rejection reason is required")
	ErrInvalidProject          = errors.New("invalid project")
)

// Listener receives the full project list after every mutation.
type Listener func(projects []entities.Project)

type Option func(*Store)

// WithDemoSeed seeds the demo dataset when storage holds no projects.
func WithDemoSeed(enabled bool) Option {
	return func(s *Store) { s.seedDemo = enabled }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store owns the canonical project list. It is the only writer of ProjectsKey.
type Store struct {
	logger   *slog.Logger
	store    storage.Store
	seedDemo bool
	now      func() time.Time

	mu       sync.RWMutex
	projects []entities.Project // most recent first
	nextID   int

	listenersMu  sync.Mutex
	listeners    map[int]Listener
	nextListener int
}

func New(logger *slog.Logger, store storage.Store, opts ...Option) *Store {
	s := &Store{
		logger:    logger,
		store:     store,
		now:       time.Now,
		nextID:    1,
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init loads the persisted list, seeding demo projects when enabled and storage is empty.
func (s *Store) Init() error {
	loaded, err := s.load()
	if err != nil {
		return err
	}

	if len(loaded) == 0 && s.seedDemo {
		loaded = demoProjects()
		s.logger.Info("Seeding demo projects", "count", len(loaded))
	}

	s.mu.Lock()
	s.projects = loaded
	s.nextID = 1
	for _, p := range loaded {
		if p.ID >= s.nextID {
			s.nextID = p.ID + 1
		}
	}
	s.persistLocked()
	s.mu.Unlock()

	s.logger.Info("Project store initialised", "projects", len(loaded))
	return nil
}

// Close drops all listeners.
func (s *Store) Close() error {
	s.listenersMu.Lock()
	s.listeners = make(map[int]Listener)
	s.listenersMu.Unlock()
	return nil
}

// Add registers an NGO submission as a pending project at the head of the list.
func (s *Store) Add(draft entities.ProjectDraft, submittedBy string) (entities.Project, error) {
	if strings.TrimSpace(draft.Name) == "" || strings.TrimSpace(draft.Organization) == "" {
		return entities.Project{}, fmt.Errorf("%w: name and organization are required", ErrInvalidProject)
	}
	if draft.Hectares < 0 || draft.EstimatedCredits < 0 {
		return entities.Project{}, fmt.Errorf("%w: hectares and estimated credits must not be negative", ErrInvalidProject)
	}

	methodology := draft.Methodology
	if !methodology.Valid() {
		methodology = entities.MethodologyOther
	}

	s.mu.Lock()
	project := entities.Project{
		ID:               s.nextID,
		Name:             draft.Name,
		Organization:     draft.Organization,
		Location:         draft.Location,
		Description:      draft.Description,
		Hectares:         draft.Hectares,
		EstimatedCredits: draft.EstimatedCredits,
		CreditsIssued:    0,
		Methodology:      methodology,
		Status:           entities.ProjectPending,
		StartDate:        draft.StartDate,
		EndDate:          draft.EndDate,
		DateRegistered:   s.now().UTC(),
		SubmittedBy:      submittedBy,
		NGOWalletAddress: address.Normalize(draft.NGOWalletAddress),
		Imagery:          draft.Imagery,
		RegistrationTx:   draft.RegistrationTx,
	}
	s.nextID++
	s.projects = append([]entities.Project{project}, s.projects...)
	s.persistLocked()
	s.mu.Unlock()

	s.logger.Info("Project submitted", "id", project.ID, "name", project.Name, "submitted_by", submittedBy)
	s.notify()

	return project, nil
}

// Approve issues the estimated credits. Only pending projects can be approved.
func (s *Store) Approve(id int, verifiedBy string) (entities.Project, error) {
	project, err := s.decide(id, func(p *entities.Project, now time.Time) {
		p.Status = entities.ProjectApproved
		p.CreditsIssued = p.EstimatedCredits
		p.VerificationDate = &now
		p.VerifiedBy = pointy.String(verifiedBy)
	})
	if err != nil {
		return entities.Project{}, err
	}

	s.logger.Info("Project approved", "id", id, "credits_issued", project.CreditsIssued, "verified_by", verifiedBy)
	return project, nil
}

// Reject closes a pending project with a mandatory reason.
func (s *Store) Reject(id int, verifiedBy, reason string) (entities.Project, error) {
	if strings.TrimSpace(reason) == "" {
		return entities.Project{}, ErrRejectionReasonRequired
	}

	project, err := s.decide(id, func(p *entities.Project, now time.Time) {
		p.Status = entities.ProjectRejected
		p.VerificationDate = &now
		p.VerifiedBy = pointy.String(verifiedBy)
		p.RejectionReason = pointy.String(reason)
	})
	if err != nil {
		return entities.Project{}, err
	}

	s.logger.Info("Project rejected", "id", id, "reason", reason, "verified_by", verifiedBy)
	return project, nil
}

func (s *Store) decide(id int, apply func(p *entities.Project, now time.Time)) (entities.Project, error) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return entities.Project{}, fmt.Errorf("%w: %d", ErrProjectNotFound, id)
	}
	if s.projects[idx].Status != entities.ProjectPending {
		status := s.projects[idx].Status
		s.mu.Unlock()
		return entities.Project{}, fmt.Errorf("%w: project %d is %s", ErrInvalidTransition, id, status)
	}

	apply(&s.projects[idx], s.now().UTC())
	project := s.projects[idx]
	s.persistLocked()
	s.mu.Unlock()

	s.notify()
	return project, nil
}

// Get returns a project by id.
func (s *Store) Get(id int) (entities.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return entities.Project{}, fmt.Errorf("%w: %d", ErrProjectNotFound, id)
	}
	return s.projects[idx], nil
}

// List returns every project, most recent first.
func (s *Store) List() []entities.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]entities.Project(nil), s.projects...)
}

func (s *Store) ListByStatus(status entities.ProjectStatus) []entities.Project {
	return s.filter(func(p entities.Project) bool { return p.Status == status })
}

func (s *Store) ListByOrganization(organization string) []entities.Project {
	return s.filter(func(p entities.Project) bool { return p.Organization == organization })
}

func (s *Store) filter(keep func(entities.Project) bool) []entities.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]entities.Project, 0, len(s.projects))
	for _, p := range s.projects {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

// Statistics summarises the current registry.
func (s *Store) Statistics() entities.ProjectStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats entities.ProjectStatistics
	for _, p := range s.projects {
		stats.TotalProjects++
		stats.TotalHectares += p.Hectares
		stats.TotalCreditsIssued += p.CreditsIssued
		switch p.Status {
		case entities.ProjectApproved:
			stats.ApprovedProjects++
		case entities.ProjectPending:
			stats.PendingProjects++
		case entities.ProjectRejected:
			stats.RejectedProjects++
		}
	}
	return stats
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.listenersMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

func (s *Store) notify() {
	snapshot := s.List()

	s.listenersMu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}

func (s *Store) indexLocked(id int) int {
	for i := range s.projects {
		if s.projects[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) load() ([]entities.Project, error) {
	raw, err := s.store.Get(storage.ProjectsKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load projects: %w", err)
	}

	var projects []entities.Project
	if err = json.Unmarshal(raw, &projects); err != nil {
		s.logger.Error("Stored project list is unreadable, starting empty", "error", err)
		return nil, nil
	}
	return projects, nil
}

// persistLocked writes the whole list. Failures are logged; memory stays authoritative.
func (s *Store) persistLocked() {
	raw, err := json.Marshal(s.projects)
	if err != nil {
		s.logger.Error("Failed to encode projects", "error", err)
		return
	}
	if err = s.store.Put(storage.ProjectsKey, raw); err != nil {
		s.logger.Error("Failed to persist projects", "error", err)
	}
}
