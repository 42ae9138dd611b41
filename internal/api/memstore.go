package api

import (
	"sort"
	"strings"
	"sync"

	"github.com/formlane/formlane/internal/services"
)

// MemoryStore is an in-process implementation of the remote store,
// used when no database is configured and as the test backend.
type MemoryStore struct {
	mu        sync.RWMutex
	forms     map[string]*services.FormDefinition
	responses map[string][]*services.ResponseRecord
	users     map[string]*services.User
	audit     []services.AuditEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		forms:     map[string]*services.FormDefinition{},
		responses: map[string][]*services.ResponseRecord{},
		users:     map[string]*services.User{},
	}
}

func (s *MemoryStore) InsertForm(f *services.FormDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.forms[f.ID]; ok {
		return services.NewConflictError("form exists")
	}
	cp := *f
	s.forms[f.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateForm(f *services.FormDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.forms[f.ID]; !ok {
		return services.NewNotFoundError("form not found")
	}
	cp := *f
	s.forms[f.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteForm(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.forms, id)
	delete(s.responses, id)
	return nil
}

func (s *MemoryStore) GetForm(id string) (*services.FormDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.forms[id]
	if !ok {
		return nil, nil
	}
	cp := *f
	return &cp, nil
}

func (s *MemoryStore) ListForms() ([]*services.FormDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*services.FormDefinition, 0, len(s.forms))
	for _, f := range s.forms {
		cp := *f
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) InsertResponse(r *services.ResponseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.responses[r.FormID] = append(s.responses[r.FormID], &cp)
	return nil
}

func (s *MemoryStore) ListResponsesByForm(formID string) ([]*services.ResponseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs := s.responses[formID]
	out := make([]*services.ResponseRecord, 0, len(rs))
	for _, r := range rs {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) AddAudit(e services.AuditEntry) {
	s.mu.Lock()
	s.audit = append(s.audit, e)
	s.mu.Unlock()
}

func (s *MemoryStore) ListAudit() []services.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]services.AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}

func (s *MemoryStore) FindUserByEmail(email string) (*services.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) AddUser(u *services.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[strings.ToLower(u.Email)] = &cp
	return nil
}

var (
	_ services.FormStore     = (*MemoryStore)(nil)
	_ services.ResponseStore = (*MemoryStore)(nil)
	_ services.AuthStore     = (*MemoryStore)(nil)
)
