package services

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ResponseStore abstracts the remote persistence needed for submissions.
type ResponseStore interface {
	GetForm(id string) (*FormDefinition, error)
	InsertResponse(r *ResponseRecord) error
	ListResponsesByForm(formID string) ([]*ResponseRecord, error)
	AddAudit(e AuditEntry)
}

// responseMirror is the slice of FormService the submission path needs
// for local caching and fallback reads.
type responseMirror interface {
	CacheResponse(r *ResponseRecord)
	CachedResponses(formID string) []*ResponseRecord
}

// ResponseService runs the submission workflow: permission gate, score
// aggregation, feedback resolution, remote write, local mirror.
type ResponseService struct {
	store  ResponseStore
	mirror responseMirror
	logger *zap.Logger
	now    func() time.Time
	idGen  func() string
}

func NewResponseService(store ResponseStore, mirror *FormService, logger *zap.Logger) *ResponseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	var m responseMirror
	if mirror != nil {
		m = mirror
	}
	return &ResponseService{
		store:  store,
		mirror: m,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		idGen:  func() string { return shortID(12) },
	}
}

// SubmitResponse validates and persists one submission. The returned
// record carries the computed total score and feedback message when the
// form has scoring enabled. When the remote write fails the record is
// still mirrored locally and the error reports the degraded state.
func (s *ResponseService) SubmitResponse(req AccessRequest, formID string, answers ResponseSet) (*ResponseRecord, error) {
	if len(answers) == 0 {
		return nil, NewInvalidError("empty response set")
	}
	form, err := s.store.GetForm(formID)
	if err != nil {
		return nil, NewBadGatewayError(fmt.Sprintf("load form: %v", err))
	}
	if form == nil {
		return nil, NewNotFoundError("form not found")
	}
	caps := ResolveAccess(req, form)
	if !caps.CanRespond {
		return nil, NewForbiddenError("responding not permitted")
	}

	email := ""
	if req.Principal != nil {
		email = NormalizeEmail(req.Principal.Email)
	}

	rec := &ResponseRecord{
		ID:             s.idGen(),
		FormID:         form.ID,
		ResponderEmail: email,
		Answers:        answers,
		SubmittedAt:    s.now(),
	}

	if form.ShowTotalScore {
		rec.TotalScore = ComputeTotalScore(answers, form.Fields)
		// The form-level range list is canonical; per-field copies are
		// never consulted here.
		if msg, ok := ResolveFeedback(rec.TotalScore, form.ScoreRanges); ok {
			rec.ScoreMessage = msg
		}
	}

	// A resubmission by the original responder supersedes the previous
	// record instead of mutating it.
	if form.AllowEditOwnResponses && email != "" {
		if prev := s.latestByResponder(form.ID, email); prev != nil {
			rec.Supersedes = prev.ID
		}
	}

	if err := s.store.InsertResponse(rec); err != nil {
		if s.mirror != nil {
			s.mirror.CacheResponse(rec)
		}
		s.logger.Warn("remote response write failed, cached locally",
			zap.String("form_id", form.ID), zap.Error(err))
		return rec, NewBadGatewayError(fmt.Sprintf("response saved locally only: %v", err))
	}
	if s.mirror != nil {
		s.mirror.CacheResponse(rec)
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: email, Action: "submit_response", Target: form.ID})
	return rec, nil
}

// ListResponses returns a form's submissions. Editors get everything;
// a responder gets their own records when the form allows it. Remote
// unavailability falls back to the local mirror.
func (s *ResponseService) ListResponses(req AccessRequest, formID string) ([]*ResponseRecord, error) {
	form, err := s.store.GetForm(formID)
	if err != nil {
		return nil, NewBadGatewayError(fmt.Sprintf("load form: %v", err))
	}
	if form == nil {
		return nil, NewNotFoundError("form not found")
	}
	caps := ResolveAccess(req, form)

	email := ""
	if req.Principal != nil {
		email = NormalizeEmail(req.Principal.Email)
	}
	ownOnly := false
	switch {
	case caps.CanEdit:
	case form.AllowViewOwnResponses && email != "":
		ownOnly = true
	default:
		return nil, NewForbiddenError("forbidden")
	}

	records, err := s.store.ListResponsesByForm(formID)
	if err != nil {
		if s.mirror == nil {
			return nil, NewBadGatewayError(fmt.Sprintf("list responses: %v", err))
		}
		s.logger.Warn("remote response read failed, serving local mirror",
			zap.String("form_id", formID), zap.Error(err))
		records = s.mirror.CachedResponses(formID)
	}
	if !ownOnly {
		return records, nil
	}
	own := make([]*ResponseRecord, 0, len(records))
	for _, r := range records {
		if strings.EqualFold(r.ResponderEmail, email) {
			own = append(own, r)
		}
	}
	return own, nil
}

func (s *ResponseService) latestByResponder(formID, email string) *ResponseRecord {
	records, err := s.store.ListResponsesByForm(formID)
	if err != nil {
		if s.mirror == nil {
			return nil
		}
		records = s.mirror.CachedResponses(formID)
	}
	var latest *ResponseRecord
	for _, r := range records {
		if !strings.EqualFold(r.ResponderEmail, email) {
			continue
		}
		if latest == nil || r.SubmittedAt.After(latest.SubmittedAt) {
			latest = r
		}
	}
	return latest
}
