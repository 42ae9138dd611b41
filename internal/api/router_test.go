package api

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/formlane/formlane/internal/cache"
	"github.com/formlane/formlane/internal/middleware"
)

func newTestServer(t *testing.T) (*httptest.Server, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	rt := NewRouter(store, cache.NewMemory(0), nil)
	mux := http.NewServeMux()
	rt.Register(mux)
	srv := httptest.NewServer(middleware.WithAuth(mux))
	t.Cleanup(srv.Close)
	return srv, store
}

func doJSON(t *testing.T, method, url, token string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer res.Body.Close()
	data, _ := io.ReadAll(res.Body)
	out := map[string]any{}
	if len(data) > 0 && strings.Contains(res.Header.Get("Content-Type"), "json") {
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("%s %s: bad json %q: %v", method, url, data, err)
		}
	}
	return res.StatusCode, out
}

func registerUser(t *testing.T, base, email string) string {
	t.Helper()
	status, body := doJSON(t, http.MethodPost, base+"/api/auth/register", "", map[string]string{
		"email": email, "password": "hunter2!",
	})
	if status != http.StatusOK {
		t.Fatalf("register %s: status %d body %v", email, status, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("register %s: no token in %v", email, body)
	}
	return token
}

func TestAuthFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	registerUser(t, srv.URL, "a@x.com")

	// Duplicate registration conflicts.
	status, _ := doJSON(t, http.MethodPost, srv.URL+"/api/auth/register", "", map[string]string{
		"email": "a@x.com", "password": "hunter2!",
	})
	if status != http.StatusConflict {
		t.Fatalf("duplicate register: status %d, want 409", status)
	}

	status, body := doJSON(t, http.MethodPost, srv.URL+"/api/auth/login", "", map[string]string{
		"email": "A@X.com", "password": "hunter2!",
	})
	if status != http.StatusOK || body["token"] == "" {
		t.Fatalf("login: status %d body %v", status, body)
	}

	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/auth/login", "", map[string]string{
		"email": "a@x.com", "password": "wrong",
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("bad password: status %d, want 401", status)
	}
}

func TestFormLifecycleOverHTTP(t *testing.T) {
	srv, store := newTestServer(t)
	ownerTok := registerUser(t, srv.URL, "a@x.com")

	// Creating a form requires a signed-in principal.
	status, _ := doJSON(t, http.MethodPost, srv.URL+"/api/forms", "", map[string]any{"title": "Quiz"})
	if status != http.StatusUnauthorized {
		t.Fatalf("anonymous create: status %d, want 401", status)
	}

	status, created := doJSON(t, http.MethodPost, srv.URL+"/api/forms", ownerTok, map[string]any{
		"title":            "Quiz",
		"show_total_score": true,
		"fields": []map[string]any{{
			"id":                 "f1",
			"type":               "checkbox",
			"label":              "Skills",
			"has_numeric_values": true,
			"options": []map[string]any{
				{"id": "o1", "value": "go", "numeric_value": 3},
				{"id": "o2", "value": "sql", "numeric_value": 5},
			},
		}},
		"score_ranges": []map[string]any{
			{"min": 0, "max": 4, "message": "keep practicing"},
			{"min": 5, "max": 10, "message": "well done"},
		},
	})
	if status != http.StatusOK {
		t.Fatalf("create form: status %d body %v", status, created)
	}
	formID, _ := created["id"].(string)
	if formID == "" {
		t.Fatalf("no form id in %v", created)
	}
	if created["access_token"] == "" {
		t.Fatalf("owner response missing access token: %v", created)
	}

	// Public form: an anonymous respondent may submit.
	status, sub := doJSON(t, http.MethodPost, srv.URL+"/api/forms/"+formID+"/responses", "", map[string]any{
		"answers": map[string]any{"f1": []string{"go", "sql"}},
	})
	if status != http.StatusOK {
		t.Fatalf("submit: status %d body %v", status, sub)
	}
	if sub["total_score"] != float64(8) || sub["score_message"] != "well done" {
		t.Fatalf("scoring over the wire: %v", sub)
	}

	// Anonymous viewers never see the response list.
	status, _ = doJSON(t, http.MethodGet, srv.URL+"/api/forms/"+formID+"/responses", "", nil)
	if status != http.StatusForbidden {
		t.Fatalf("anonymous list: status %d, want 403", status)
	}
	status, listed := doJSON(t, http.MethodGet, srv.URL+"/api/forms/"+formID+"/responses", ownerTok, nil)
	if status != http.StatusOK {
		t.Fatalf("owner list: status %d", status)
	}
	if rs, _ := listed["responses"].([]any); len(rs) != 1 {
		t.Fatalf("owner sees %v", listed)
	}

	// Owner listing of forms includes the new one.
	status, forms := doJSON(t, http.MethodGet, srv.URL+"/api/forms", ownerTok, nil)
	if status != http.StatusOK {
		t.Fatalf("list forms: status %d", status)
	}
	if fs, _ := forms["forms"].([]any); len(fs) != 1 {
		t.Fatalf("forms listing: %v", forms)
	}

	// Patch round trip.
	status, patched := doJSON(t, http.MethodPatch, srv.URL+"/api/forms/"+formID, ownerTok, map[string]any{
		"description": "updated",
	})
	if status != http.StatusOK || patched["description"] != "updated" {
		t.Fatalf("patch: status %d body %v", status, patched)
	}

	// Delete and confirm the form is gone, responses included.
	status, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/forms/"+formID, ownerTok, nil)
	if status != http.StatusOK {
		t.Fatalf("delete: status %d", status)
	}
	status, _ = doJSON(t, http.MethodGet, srv.URL+"/api/forms/"+formID, ownerTok, nil)
	if status != http.StatusNotFound {
		t.Fatalf("get after delete: status %d, want 404", status)
	}
	if rs, _ := store.ListResponsesByForm(formID); len(rs) != 0 {
		t.Fatalf("responses survived delete: %v", rs)
	}
}

func TestPrivateFormAccessOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	ownerTok := registerUser(t, srv.URL, "a@x.com")
	guestTok := registerUser(t, srv.URL, "b@x.com")

	status, created := doJSON(t, http.MethodPost, srv.URL+"/api/forms", ownerTok, map[string]any{
		"title":         "Internal",
		"is_private":    true,
		"allowed_users": []string{"b@x.com"},
		"fields":        []map[string]any{{"id": "f1", "type": "text", "label": "Q"}},
	})
	if status != http.StatusOK {
		t.Fatalf("create: status %d body %v", status, created)
	}
	formID := created["id"].(string)

	// Anonymous callers are shut out without the share token.
	status, _ = doJSON(t, http.MethodGet, srv.URL+"/api/forms/"+formID, "", nil)
	if status != http.StatusForbidden {
		t.Fatalf("anonymous get: status %d, want 403", status)
	}

	// Rotate the share link, then use it anonymously.
	status, link := doJSON(t, http.MethodPost, srv.URL+"/api/forms/"+formID+"/link", ownerTok, nil)
	if status != http.StatusOK {
		t.Fatalf("rotate link: status %d body %v", status, link)
	}
	shareTok := link["token"].(string)

	status, valid := doJSON(t, http.MethodGet,
		srv.URL+"/api/forms/"+formID+"/link/validate?token="+shareTok, "", nil)
	if status != http.StatusOK || valid["valid"] != true {
		t.Fatalf("validate link: status %d body %v", status, valid)
	}
	status, valid = doJSON(t, http.MethodGet,
		srv.URL+"/api/forms/"+formID+"/link/validate?token=bogus", "", nil)
	if status != http.StatusOK || valid["valid"] != false {
		t.Fatalf("validate bogus link: status %d body %v", status, valid)
	}

	status, view := doJSON(t, http.MethodGet, srv.URL+"/api/forms/"+formID+"?token="+shareTok, "", nil)
	if status != http.StatusOK {
		t.Fatalf("get with share token: status %d", status)
	}
	if _, leaked := view["access_token"]; leaked {
		t.Fatalf("share view leaked the access token: %v", view)
	}
	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/forms/"+formID+"/responses?token="+shareTok, "", map[string]any{
		"answers": map[string]any{"f1": "via link"},
	})
	if status != http.StatusOK {
		t.Fatalf("submit with share token: status %d", status)
	}

	// Allow-listed user responds with their own identity.
	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/forms/"+formID+"/responses", guestTok, map[string]any{
		"answers": map[string]any{"f1": "hi"},
	})
	if status != http.StatusOK {
		t.Fatalf("allow-listed submit: status %d", status)
	}
	// But they cannot edit.
	status, _ = doJSON(t, http.MethodPatch, srv.URL+"/api/forms/"+formID, guestTok, map[string]any{"title": "Hax"})
	if status != http.StatusForbidden {
		t.Fatalf("guest patch: status %d, want 403", status)
	}
}

func TestResponsesCSVExport(t *testing.T) {
	srv, _ := newTestServer(t)
	ownerTok := registerUser(t, srv.URL, "a@x.com")

	status, created := doJSON(t, http.MethodPost, srv.URL+"/api/forms", ownerTok, map[string]any{
		"title":  "Feedback",
		"fields": []map[string]any{{"id": "f1", "type": "text", "label": "Comment"}},
	})
	if status != http.StatusOK {
		t.Fatalf("create: status %d", status)
	}
	formID := created["id"].(string)

	for i := 0; i < 2; i++ {
		status, _ := doJSON(t, http.MethodPost, srv.URL+"/api/forms/"+formID+"/responses", "", map[string]any{
			"answers": map[string]any{"f1": fmt.Sprintf("comment %d", i)},
		})
		if status != http.StatusOK {
			t.Fatalf("submit %d: status %d", i, status)
		}
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/forms/"+formID+"/responses?format=csv", nil)
	req.Header.Set("Authorization", "Bearer "+ownerTok)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("csv request: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("csv: status %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("content type %q", ct)
	}
	rows, err := csv.NewReader(res.Body).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("csv rows = %d, want header + 2", len(rows))
	}
	if rows[1][3] != "Comment" {
		t.Fatalf("unexpected csv row %v", rows[1])
	}
}
