package services

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/formlane/formlane/internal/cache"
)

// FormStore is the authoritative remote surface required by FormService.
type FormStore interface {
	InsertForm(f *FormDefinition) error
	UpdateForm(f *FormDefinition) error
	DeleteForm(id string) error
	GetForm(id string) (*FormDefinition, error)
	ListForms() ([]*FormDefinition, error)
	AddAudit(e AuditEntry)
}

const (
	formSnapshotKey     = "forms.snapshot"
	responseSnapshotKey = "responses.snapshot"
	// responseCacheCap is how many of the most recent response records
	// survive a quota trim of the local response cache.
	responseCacheCap = 50
)

type cachedForm struct {
	form  *FormDefinition
	state SyncState
}

// FormService keeps the remote form store and the local cache consistent
// and enforces data-quality invariants on every write. The remote store
// is the source of truth; the local cache is advisory and only serves
// fallback reads.
type FormService struct {
	store    FormStore
	local    cache.Store
	logger   *zap.Logger
	now      func() time.Time
	idGen    func() string
	tokenGen func() string

	mu        sync.RWMutex
	forms     map[string]*cachedForm
	byToken   map[string]string
	allowed   map[string]map[string]struct{}
	responses map[string][]*ResponseRecord
}

func NewFormService(store FormStore, local cache.Store, logger *zap.Logger) *FormService {
	if local == nil {
		local = cache.NewMemory(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &FormService{
		store:     store,
		local:     local,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		idGen:     func() string { return shortID(12) },
		tokenGen:  newAccessToken,
		forms:     map[string]*cachedForm{},
		byToken:   map[string]string{},
		allowed:   map[string]map[string]struct{}{},
		responses: map[string][]*ResponseRecord{},
	}
	s.restoreResponseSnapshot()
	return s
}

// restoreResponseSnapshot repopulates the response mirror from the local
// cache at startup. Best effort: an unreadable snapshot is discarded.
func (s *FormService) restoreResponseSnapshot() {
	data, ok := s.local.Get(responseSnapshotKey)
	if !ok {
		return
	}
	var all []*ResponseRecord
	if err := json.Unmarshal(data, &all); err != nil {
		s.logger.Warn("discarding unreadable response snapshot", zap.Error(err))
		s.local.Delete(responseSnapshotKey)
		return
	}
	for _, r := range all {
		s.responses[r.FormID] = append(s.responses[r.FormID], r)
	}
}

func shortID(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}

func newAccessToken() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return shortID(32)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// CreateForm builds a new form with a fresh id and access token, validates
// the embedded scoring and collaboration data, and writes it remote. On
// remote failure the record is kept locally as Unsynced and the error is
// surfaced alongside the local record, so the caller's edit is not lost.
func (s *FormService) CreateForm(p *Principal, form *FormDefinition) (*FormDefinition, error) {
	if p == nil || NormalizeEmail(p.Email) == "" {
		return nil, NewUnauthorizedError("sign in to create forms")
	}
	if form == nil {
		return nil, NewInvalidError("form required")
	}
	if strings.TrimSpace(form.Title) == "" {
		return nil, NewInvalidError("title required")
	}

	f := *form
	f.ID = s.idGen()
	f.AccessToken = s.tokenGen()
	f.OwnerID = NormalizeEmail(p.Email)
	f.CreatedAt = s.now()
	f.UpdatedAt = f.CreatedAt
	s.sanitizeForm(&f)

	s.mu.Lock()
	s.cacheFormLocked(&f, SyncUnsynced)
	s.mu.Unlock()

	if err := s.store.InsertForm(&f); err != nil {
		s.logger.Warn("remote insert failed, keeping form unsynced",
			zap.String("form_id", f.ID), zap.Error(err))
		return &f, NewBadGatewayError(fmt.Sprintf("form saved locally only: %v", err))
	}

	s.mu.Lock()
	s.cacheFormLocked(&f, SyncPersisted)
	s.persistFormSnapshotLocked()
	s.mu.Unlock()

	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: f.OwnerID, Action: "create_form", Target: f.ID})
	return &f, nil
}

// UpdateForm merges a partial patch into the stored form, re-validates
// score ranges and collaborator lists, writes remote and then reloads the
// record from remote so the authoritative copy wins.
func (s *FormService) UpdateForm(p *Principal, id string, raw map[string]any) (*FormDefinition, error) {
	old, err := s.fetchForm(id)
	if err != nil {
		return nil, err
	}
	caps := ResolveAccess(AccessRequest{Principal: p}, old)
	if !caps.CanEdit {
		return nil, NewForbiddenError("forbidden")
	}
	if _, ok := raw["owner_id"]; ok {
		return nil, NewInvalidError("owner_id cannot be modified")
	}
	if _, ok := raw["access_token"]; ok {
		return nil, NewInvalidError("access_token is managed by the access link endpoint")
	}

	merged := *old
	if v, ok := raw["title"].(string); ok {
		if strings.TrimSpace(v) == "" {
			return nil, NewInvalidError("title required")
		}
		merged.Title = v
	}
	if v, ok := raw["description"].(string); ok {
		merged.Description = v
	}
	if v, ok := raw["is_private"].(bool); ok {
		merged.IsPrivate = v
	}
	if v, ok := raw["show_total_score"].(bool); ok {
		merged.ShowTotalScore = v
	}
	if v, ok := raw["allow_view_own_responses"].(bool); ok {
		merged.AllowViewOwnResponses = v
	}
	if v, ok := raw["allow_edit_own_responses"].(bool); ok {
		merged.AllowEditOwnResponses = v
	}
	if v, ok := raw["collaborators"]; ok {
		merged.Collaborators = toStringSlice(v)
	}
	if v, ok := raw["allowed_users"]; ok {
		merged.AllowedUsers = toStringSlice(v)
	}
	if v, ok := raw["score_ranges"]; ok {
		ranges, dropped := decodeScoreRanges(v)
		if dropped > 0 {
			s.logger.Warn("dropped malformed score range entries",
				zap.String("form_id", id), zap.Int("dropped", dropped))
		}
		merged.ScoreRanges = ranges
	}
	if v, ok := raw["fields"]; ok {
		fields, err := decodeAs[[]FieldDefinition](v)
		if err != nil {
			return nil, NewInvalidError("malformed fields")
		}
		merged.Fields = fields
	}
	merged.UpdatedAt = s.now()
	s.sanitizeForm(&merged)

	if err := s.store.UpdateForm(&merged); err != nil {
		s.mu.Lock()
		s.cacheFormLocked(&merged, SyncUnsynced)
		s.mu.Unlock()
		s.logger.Warn("remote update failed, keeping form unsynced",
			zap.String("form_id", id), zap.Error(err))
		return &merged, NewBadGatewayError(fmt.Sprintf("form updated locally only: %v", err))
	}

	// Remote write acknowledged; reload so concurrent remote edits win.
	reloaded, err := s.store.GetForm(id)
	if err != nil || reloaded == nil {
		s.mu.Lock()
		s.cacheFormLocked(&merged, SyncStale)
		s.mu.Unlock()
		s.logger.Warn("reload after update failed", zap.String("form_id", id), zap.Error(err))
		reloaded = &merged
	} else {
		s.mu.Lock()
		s.cacheFormLocked(reloaded, SyncPersisted)
		s.persistFormSnapshotLocked()
		s.mu.Unlock()
	}

	actor := ""
	if p != nil {
		actor = NormalizeEmail(p.Email)
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "update_form", Target: id})
	return reloaded, nil
}

// DeleteForm removes a form locally first so no dangling index entries or
// cached responses survive, then attempts the remote delete. A remote
// failure is logged, not returned: the local removal stands.
func (s *FormService) DeleteForm(p *Principal, id string) error {
	form, err := s.fetchForm(id)
	if err != nil {
		return err
	}
	if p == nil || NormalizeEmail(p.Email) != NormalizeEmail(form.OwnerID) {
		return NewForbiddenError("only the owner can delete a form")
	}

	s.mu.Lock()
	s.purgeFormLocked(id)
	s.persistFormSnapshotLocked()
	s.persistResponseSnapshotLocked()
	s.mu.Unlock()

	if err := s.store.DeleteForm(id); err != nil {
		s.logger.Warn("remote delete failed, local removal kept",
			zap.String("form_id", id), zap.Error(err))
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: NormalizeEmail(p.Email), Action: "delete_form", Target: id})
	return nil
}

// GetForm resolves access for the caller and returns a view of the form.
// Non-editors get a copy stripped of the access token and audience lists.
func (s *FormService) GetForm(req AccessRequest, id string) (*FormDefinition, error) {
	form, err := s.fetchForm(id)
	if err != nil {
		return nil, err
	}
	caps := ResolveAccess(req, form)
	if !caps.CanView {
		return nil, NewForbiddenError("forbidden")
	}
	view := *form
	if !caps.CanEdit {
		view.AccessToken = ""
		view.Collaborators = nil
		view.AllowedUsers = nil
	}
	return &view, nil
}

// ListForms refreshes the cache from remote (falling back to the last
// snapshot) and returns the forms the principal owns or collaborates on.
// Admins see everything, read-only.
func (s *FormService) ListForms(p *Principal) ([]*FormDefinition, error) {
	if p == nil || NormalizeEmail(p.Email) == "" {
		return nil, NewUnauthorizedError("sign in to list forms")
	}
	if err := s.LoadAll(); err != nil {
		return nil, err
	}
	email := NormalizeEmail(p.Email)
	admin := p.Standing == StandingAdmin

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*FormDefinition, 0, len(s.forms))
	for _, cf := range s.forms {
		if admin || NormalizeEmail(cf.form.OwnerID) == email || containsEmail(cf.form.Collaborators, email) {
			view := *cf.form
			out = append(out, &view)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// LoadAll replaces the local cache with the remote list and persists a
// snapshot for offline fallback. If the remote fetch fails, the previous
// snapshot is restored with every record marked Stale; with no snapshot
// the failure is surfaced.
func (s *FormService) LoadAll() error {
	forms, err := s.store.ListForms()
	if err == nil {
		s.mu.Lock()
		s.forms = map[string]*cachedForm{}
		for _, f := range forms {
			s.cacheFormLocked(f, SyncPersisted)
		}
		s.persistFormSnapshotLocked()
		s.mu.Unlock()
		return nil
	}

	data, ok := s.local.Get(formSnapshotKey)
	if !ok {
		return NewBadGatewayError(fmt.Sprintf("remote unavailable and no local snapshot: %v", err))
	}
	var snapshot []*FormDefinition
	if jerr := json.Unmarshal(data, &snapshot); jerr != nil {
		return NewBadGatewayError(fmt.Sprintf("remote unavailable and snapshot unreadable: %v", jerr))
	}
	s.logger.Warn("remote unavailable, serving stale snapshot",
		zap.Int("forms", len(snapshot)), zap.Error(err))
	s.mu.Lock()
	s.forms = map[string]*cachedForm{}
	for _, f := range snapshot {
		s.cacheFormLocked(f, SyncStale)
	}
	s.mu.Unlock()
	return nil
}

// SyncStateOf reports the cache state of a form, for diagnostics.
func (s *FormService) SyncStateOf(id string) (SyncState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cf, ok := s.forms[id]; ok {
		return cf.state, true
	}
	return 0, false
}

// GenerateAccessLink rotates the form's access token and returns the new
// one. The token is kept locally even when the remote write fails, in
// which case the error reports the degraded state.
func (s *FormService) GenerateAccessLink(p *Principal, formID string) (string, error) {
	form, err := s.fetchForm(formID)
	if err != nil {
		return "", err
	}
	caps := ResolveAccess(AccessRequest{Principal: p}, form)
	if !caps.CanEdit {
		return "", NewForbiddenError("forbidden")
	}

	updated := *form
	updated.AccessToken = s.tokenGen()
	updated.UpdatedAt = s.now()

	if err := s.store.UpdateForm(&updated); err != nil {
		s.mu.Lock()
		s.cacheFormLocked(&updated, SyncUnsynced)
		s.mu.Unlock()
		s.logger.Warn("remote token rotation failed, kept unsynced",
			zap.String("form_id", formID), zap.Error(err))
		return updated.AccessToken, NewBadGatewayError(fmt.Sprintf("token rotated locally only: %v", err))
	}

	s.mu.Lock()
	s.cacheFormLocked(&updated, SyncPersisted)
	s.persistFormSnapshotLocked()
	s.mu.Unlock()

	actor := ""
	if p != nil {
		actor = NormalizeEmail(p.Email)
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "rotate_access_link", Target: formID})
	return updated.AccessToken, nil
}

// ValidateAccessToken reports whether token grants response access to the
// given form.
func (s *FormService) ValidateAccessToken(formID, token string) bool {
	if strings.TrimSpace(token) == "" {
		return false
	}
	s.mu.RLock()
	if id, ok := s.byToken[token]; ok && id == formID {
		s.mu.RUnlock()
		return true
	}
	s.mu.RUnlock()
	form, err := s.fetchForm(formID)
	if err != nil || form == nil {
		return false
	}
	return form.AccessToken != "" && form.AccessToken == token
}

// CacheResponse mirrors a submitted response into the local cache. On
// quota exhaustion the history is trimmed to the most recent records; if
// even the trimmed write fails the response cache is dropped outright so
// other cached state stays intact.
func (s *FormService) CacheResponse(r *ResponseRecord) {
	if r == nil {
		return
	}
	s.mu.Lock()
	cp := *r
	s.responses[r.FormID] = append(s.responses[r.FormID], &cp)
	s.persistResponseSnapshotLocked()
	s.mu.Unlock()
}

// CachedResponses returns the locally cached responses for a form, most
// recent last.
func (s *FormService) CachedResponses(formID string) []*ResponseRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs := s.responses[formID]
	out := make([]*ResponseRecord, 0, len(rs))
	for _, r := range rs {
		cp := *r
		out = append(out, &cp)
	}
	return out
}

// --- internals ---

// fetchForm prefers the remote copy and falls back to the local cache,
// marking the record Stale, when the remote store is unreachable.
func (s *FormService) fetchForm(id string) (*FormDefinition, error) {
	if strings.TrimSpace(id) == "" {
		return nil, NewInvalidError("form id required")
	}
	form, err := s.store.GetForm(id)
	if err == nil {
		if form == nil {
			s.mu.Lock()
			s.purgeFormLocked(id)
			s.mu.Unlock()
			return nil, NewNotFoundError("form not found")
		}
		s.mu.Lock()
		s.cacheFormLocked(form, SyncPersisted)
		s.mu.Unlock()
		cp := *form
		return &cp, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cf, ok := s.forms[id]; ok {
		cf.state = SyncStale
		s.logger.Warn("remote read failed, serving stale form",
			zap.String("form_id", id), zap.Error(err))
		cp := *cf.form
		return &cp, nil
	}
	return nil, NewBadGatewayError(fmt.Sprintf("remote unavailable: %v", err))
}

// sanitizeForm validates score ranges and audience lists in place and
// refreshes the per-field denormalized range copies from the canonical
// form-level list. Invalid entries are dropped, counted and logged.
func (s *FormService) sanitizeForm(f *FormDefinition) {
	clean, dropped := ValidateScoreRanges(f.ScoreRanges)
	if dropped > 0 {
		s.logger.Warn("dropped invalid score ranges",
			zap.String("form_id", f.ID), zap.Int("dropped", dropped))
	}
	if pairs := OverlappingRanges(clean); len(pairs) > 0 {
		s.logger.Warn("score ranges overlap, first match wins",
			zap.String("form_id", f.ID), zap.Int("pairs", len(pairs)))
	}
	f.ScoreRanges = clean

	var droppedEmails int
	f.Collaborators, droppedEmails = NormalizeEmailList(f.Collaborators)
	if droppedEmails > 0 {
		s.logger.Warn("dropped invalid collaborator entries",
			zap.String("form_id", f.ID), zap.Int("dropped", droppedEmails))
	}
	f.AllowedUsers, droppedEmails = NormalizeEmailList(f.AllowedUsers)
	if droppedEmails > 0 {
		s.logger.Warn("dropped invalid allowed-user entries",
			zap.String("form_id", f.ID), zap.Int("dropped", droppedEmails))
	}

	for i := range f.Fields {
		f.Fields[i].ScoreRanges = clean
	}
}

func (s *FormService) cacheFormLocked(f *FormDefinition, state SyncState) {
	cp := *f
	if old, ok := s.forms[cp.ID]; ok && old.form.AccessToken != cp.AccessToken {
		delete(s.byToken, old.form.AccessToken)
	}
	s.forms[cp.ID] = &cachedForm{form: &cp, state: state}
	if cp.AccessToken != "" {
		s.byToken[cp.AccessToken] = cp.ID
	}
	for _, e := range cp.AllowedUsers {
		if s.allowed[e] == nil {
			s.allowed[e] = map[string]struct{}{}
		}
		s.allowed[e][cp.ID] = struct{}{}
	}
}

func (s *FormService) purgeFormLocked(id string) {
	cf, ok := s.forms[id]
	if !ok {
		delete(s.responses, id)
		return
	}
	delete(s.forms, id)
	if cf.form.AccessToken != "" {
		delete(s.byToken, cf.form.AccessToken)
	}
	for email, set := range s.allowed {
		delete(set, id)
		if len(set) == 0 {
			delete(s.allowed, email)
		}
	}
	delete(s.responses, id)
}

func (s *FormService) persistFormSnapshotLocked() {
	forms := make([]*FormDefinition, 0, len(s.forms))
	for _, cf := range s.forms {
		forms = append(forms, cf.form)
	}
	sort.Slice(forms, func(i, j int) bool { return forms[i].ID < forms[j].ID })
	data, err := json.Marshal(forms)
	if err != nil {
		s.logger.Warn("encode form snapshot", zap.Error(err))
		return
	}
	if err := s.local.Set(formSnapshotKey, data); err != nil {
		s.logger.Warn("persist form snapshot", zap.Error(err))
	}
}

func (s *FormService) persistResponseSnapshotLocked() {
	flatten := func() []*ResponseRecord {
		var all []*ResponseRecord
		for _, rs := range s.responses {
			all = append(all, rs...)
		}
		sort.Slice(all, func(i, j int) bool {
			if all[i].SubmittedAt.Equal(all[j].SubmittedAt) {
				return all[i].ID < all[j].ID
			}
			return all[i].SubmittedAt.Before(all[j].SubmittedAt)
		})
		return all
	}

	all := flatten()
	data, err := json.Marshal(all)
	if err != nil {
		s.logger.Warn("encode response snapshot", zap.Error(err))
		return
	}
	err = s.local.Set(responseSnapshotKey, data)
	if err == nil {
		return
	}
	if err != cache.ErrQuotaExceeded {
		s.logger.Warn("persist response snapshot", zap.Error(err))
		return
	}

	// Quota hit: keep only the most recent records and retry.
	if len(all) > responseCacheCap {
		trimmed := all[len(all)-responseCacheCap:]
		byForm := map[string][]*ResponseRecord{}
		for _, r := range trimmed {
			byForm[r.FormID] = append(byForm[r.FormID], r)
		}
		s.responses = byForm
		if data, err = json.Marshal(trimmed); err == nil {
			if err = s.local.Set(responseSnapshotKey, data); err == nil {
				s.logger.Warn("response cache trimmed to fit quota",
					zap.Int("kept", len(trimmed)))
				return
			}
		}
	}
	// Still over quota: drop the response cache rather than corrupt it.
	s.local.Delete(responseSnapshotKey)
	s.logger.Warn("response cache dropped after quota exhaustion")
}

func toStringSlice(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// decodeScoreRanges is lenient: entries that do not decode (non-numeric
// bounds, wrong shape) are dropped and counted instead of failing the
// whole patch. Interval validation happens later in sanitizeForm.
func decodeScoreRanges(raw any) ([]ScoreRange, int) {
	items, ok := raw.([]any)
	if !ok {
		if raw == nil {
			return nil, 0
		}
		return nil, 1
	}
	out := make([]ScoreRange, 0, len(items))
	dropped := 0
	for _, item := range items {
		r, err := decodeAs[ScoreRange](item)
		if err != nil {
			dropped++
			continue
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, dropped
	}
	return out, dropped
}

func decodeAs[T any](raw any) (T, error) {
	var out T
	b, err := json.Marshal(raw)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, err
	}
	return out, nil
}
