package services

import (
	"errors"
	"testing"
	"time"

	"github.com/formlane/formlane/internal/cache"
)

func scoredForm() *FormDefinition {
	return &FormDefinition{
		ID:             "F1",
		Title:          "Assessment",
		OwnerID:        "a@x.com",
		ShowTotalScore: true,
		Fields:         []FieldDefinition{checkboxField("f1")},
		ScoreRanges: []ScoreRange{
			{Min: 0, Max: 4, Message: "keep practicing"},
			{Min: 5, Max: 10, Message: "well done"},
		},
	}
}

func newTestResponseService(store *stubStore) (*ResponseService, *FormService) {
	forms := newTestFormService(store, cache.NewMemory(0))
	svc := NewResponseService(store, forms, nil)
	svc.now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }
	return svc, forms
}

func TestSubmitResponseComputesScoreAndFeedback(t *testing.T) {
	store := newStubStore()
	store.forms["F1"] = scoredForm()
	svc, _ := newTestResponseService(store)

	responder := &Principal{Email: "r@x.com", Standing: StandingUser}
	rec, err := svc.SubmitResponse(AccessRequest{Principal: responder}, "F1", ResponseSet{
		"f1": ListAnswer("a", "b"),
	})
	if err != nil {
		t.Fatalf("SubmitResponse returned error: %v", err)
	}
	if rec.TotalScore != 8 {
		t.Fatalf("total score = %d, want 8", rec.TotalScore)
	}
	if rec.ScoreMessage != "well done" {
		t.Fatalf("score message = %q, want well done", rec.ScoreMessage)
	}
	if rec.ResponderEmail != "r@x.com" {
		t.Fatalf("responder = %q", rec.ResponderEmail)
	}
	if len(store.responses["F1"]) != 1 {
		t.Fatalf("response not persisted remote")
	}
	if len(store.audits) != 1 || store.audits[0].Action != "submit_response" {
		t.Fatalf("unexpected audits %+v", store.audits)
	}
}

func TestSubmitResponseScoringDisabled(t *testing.T) {
	store := newStubStore()
	form := scoredForm()
	form.ShowTotalScore = false
	store.forms["F1"] = form
	svc, _ := newTestResponseService(store)

	rec, err := svc.SubmitResponse(AccessRequest{Principal: &Principal{Email: "r@x.com", Standing: StandingUser}},
		"F1", ResponseSet{"f1": ListAnswer("a", "b")})
	if err != nil {
		t.Fatalf("SubmitResponse returned error: %v", err)
	}
	if rec.TotalScore != 0 || rec.ScoreMessage != "" {
		t.Fatalf("scoring should be off, got score=%d message=%q", rec.TotalScore, rec.ScoreMessage)
	}
}

func TestSubmitResponseRejectsEmptySet(t *testing.T) {
	store := newStubStore()
	store.forms["F1"] = scoredForm()
	svc, _ := newTestResponseService(store)

	_, err := svc.SubmitResponse(AccessRequest{}, "F1", ResponseSet{})
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorInvalid {
		t.Fatalf("expected invalid error, got %v", err)
	}
}

func TestSubmitResponseAccessGating(t *testing.T) {
	store := newStubStore()
	form := scoredForm()
	form.IsPrivate = true
	form.AllowedUsers = []string{"b@x.com"}
	form.AccessToken = "tok123"
	store.forms["F1"] = form
	svc, _ := newTestResponseService(store)
	answers := ResponseSet{"f1": ListAnswer("a")}

	if _, err := svc.SubmitResponse(AccessRequest{}, "F1", answers); err == nil {
		t.Fatalf("anonymous without token must be rejected")
	}
	stranger := &Principal{Email: "z@x.com", Standing: StandingUser}
	if _, err := svc.SubmitResponse(AccessRequest{Principal: stranger}, "F1", answers); err == nil {
		t.Fatalf("stranger must be rejected")
	}
	admin := &Principal{Email: "root@x.com", Standing: StandingAdmin}
	_, err := svc.SubmitResponse(AccessRequest{Principal: admin}, "F1", answers)
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorForbidden {
		t.Fatalf("admin preview must not respond, got %v", err)
	}
	// An access token admits anonymous respondents to a private form.
	if _, err := svc.SubmitResponse(AccessRequest{Token: "tok123"}, "F1", answers); err != nil {
		t.Fatalf("token bearer rejected: %v", err)
	}
	allowed := &Principal{Email: "B@x.com", Standing: StandingUser}
	if _, err := svc.SubmitResponse(AccessRequest{Principal: allowed}, "F1", answers); err != nil {
		t.Fatalf("allow-listed responder rejected: %v", err)
	}
}

func TestSubmitResponseUnknownForm(t *testing.T) {
	svc, _ := newTestResponseService(newStubStore())
	_, err := svc.SubmitResponse(AccessRequest{}, "missing", ResponseSet{"f1": TextAnswer("x")})
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSubmitResponseRemoteFailureCachesLocally(t *testing.T) {
	store := newStubStore()
	store.forms["F1"] = scoredForm()
	store.insertResponseErr = errors.New("connection refused")
	svc, forms := newTestResponseService(store)

	rec, err := svc.SubmitResponse(AccessRequest{Principal: &Principal{Email: "r@x.com", Standing: StandingUser}},
		"F1", ResponseSet{"f1": ListAnswer("a")})
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorBadGateway {
		t.Fatalf("expected bad gateway, got %v", err)
	}
	if rec == nil || rec.TotalScore != 3 {
		t.Fatalf("record must survive remote failure, got %+v", rec)
	}
	cached := forms.CachedResponses("F1")
	if len(cached) != 1 || cached[0].ID != rec.ID {
		t.Fatalf("response not mirrored locally: %+v", cached)
	}
}

func TestSubmitResponseSupersedesPrevious(t *testing.T) {
	store := newStubStore()
	form := scoredForm()
	form.AllowEditOwnResponses = true
	store.forms["F1"] = form
	svc, _ := newTestResponseService(store)
	responder := &Principal{Email: "r@x.com", Standing: StandingUser}

	first, err := svc.SubmitResponse(AccessRequest{Principal: responder}, "F1", ResponseSet{"f1": ListAnswer("a")})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if first.Supersedes != "" {
		t.Fatalf("first record must not supersede anything, got %q", first.Supersedes)
	}
	svc.now = func() time.Time { return first.SubmittedAt.Add(time.Minute) }

	second, err := svc.SubmitResponse(AccessRequest{Principal: responder}, "F1", ResponseSet{"f1": ListAnswer("b")})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if second.Supersedes != first.ID {
		t.Fatalf("supersedes = %q, want %q", second.Supersedes, first.ID)
	}
	if len(store.responses["F1"]) != 2 {
		t.Fatalf("resubmission must not mutate the old record, have %d", len(store.responses["F1"]))
	}

	// Without the flag, resubmission is a plain new record.
	form.AllowEditOwnResponses = false
	third, err := svc.SubmitResponse(AccessRequest{Principal: responder}, "F1", ResponseSet{"f1": ListAnswer("a")})
	if err != nil {
		t.Fatalf("third submit: %v", err)
	}
	if third.Supersedes != "" {
		t.Fatalf("supersedes should be empty without edit permission, got %q", third.Supersedes)
	}
}

func TestListResponsesEditorSeesAll(t *testing.T) {
	store := newStubStore()
	store.forms["F1"] = scoredForm()
	svc, _ := newTestResponseService(store)
	for _, email := range []string{"r1@x.com", "r2@x.com"} {
		p := &Principal{Email: email, Standing: StandingUser}
		if _, err := svc.SubmitResponse(AccessRequest{Principal: p}, "F1", ResponseSet{"f1": ListAnswer("a")}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	records, err := svc.ListResponses(AccessRequest{Principal: owner()}, "F1")
	if err != nil {
		t.Fatalf("ListResponses returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("owner sees %d records, want 2", len(records))
	}
}

func TestListResponsesOwnOnly(t *testing.T) {
	store := newStubStore()
	form := scoredForm()
	form.AllowViewOwnResponses = true
	store.forms["F1"] = form
	svc, _ := newTestResponseService(store)
	for _, email := range []string{"r1@x.com", "r2@x.com"} {
		p := &Principal{Email: email, Standing: StandingUser}
		if _, err := svc.SubmitResponse(AccessRequest{Principal: p}, "F1", ResponseSet{"f1": ListAnswer("a")}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	records, err := svc.ListResponses(AccessRequest{Principal: &Principal{Email: "R1@x.com", Standing: StandingUser}}, "F1")
	if err != nil {
		t.Fatalf("ListResponses returned error: %v", err)
	}
	if len(records) != 1 || records[0].ResponderEmail != "r1@x.com" {
		t.Fatalf("own-only filter failed: %+v", records)
	}

	// The flag off means respondents see nothing.
	form.AllowViewOwnResponses = false
	_, err = svc.ListResponses(AccessRequest{Principal: &Principal{Email: "r1@x.com", Standing: StandingUser}}, "F1")
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestListResponsesFallsBackToMirror(t *testing.T) {
	store := newStubStore()
	store.forms["F1"] = scoredForm()
	store.insertResponseErr = errors.New("remote down")
	svc, _ := newTestResponseService(store)

	p := &Principal{Email: "r@x.com", Standing: StandingUser}
	rec, err := svc.SubmitResponse(AccessRequest{Principal: p}, "F1", ResponseSet{"f1": ListAnswer("a")})
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorBadGateway {
		t.Fatalf("expected bad gateway, got %v", err)
	}

	store.listResponsesErr = errors.New("remote down")
	records, err := svc.ListResponses(AccessRequest{Principal: owner()}, "F1")
	if err != nil {
		t.Fatalf("mirror fallback failed: %v", err)
	}
	if len(records) != 1 || records[0].ID != rec.ID {
		t.Fatalf("unexpected mirror records %+v", records)
	}
}
