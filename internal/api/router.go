package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/formlane/formlane/internal/cache"
	"github.com/formlane/formlane/internal/middleware"
	"github.com/formlane/formlane/internal/services"
)

// Store is the full remote surface the router wires into the services.
type Store interface {
	services.FormStore
	services.ResponseStore
	services.AuthStore
}

type Router struct {
	forms     *services.FormService
	responses *services.ResponseService
	auth      *services.AuthService
	logger    *zap.Logger
}

func NewRouter(store Store, local cache.Store, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	forms := services.NewFormService(store, local, logger)
	return &Router{
		forms:     forms,
		responses: services.NewResponseService(store, forms, logger),
		auth:      services.NewAuthService(store, middleware.SignToken),
		logger:    logger,
	}
}

// Forms exposes the form service for startup tasks (cache warm-up).
func (rt *Router) Forms() *services.FormService { return rt.forms }

func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/register", rt.handleRegister) // POST
	mux.HandleFunc("/api/auth/login", rt.handleLogin)       // POST
	mux.HandleFunc("/api/forms", rt.handleForms)            // GET list, POST create
	mux.HandleFunc("/api/forms/", rt.handleFormScoped)      // {id}, {id}/link, {id}/link/validate, {id}/responses
}

func (rt *Router) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := rt.auth.Register(req.Email, req.Password)
	if err != nil {
		rt.writeErr(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, map[string]any{"token": res.Token, "user_id": res.UserID})
}

func (rt *Router) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := rt.auth.Login(req.Email, req.Password)
	if err != nil {
		rt.writeErr(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, map[string]any{"token": res.Token, "user_id": res.UserID})
}

func (rt *Router) handleForms(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromContext(r.Context())
	switch r.Method {
	case http.MethodGet:
		forms, err := rt.forms.ListForms(principal)
		if err != nil {
			rt.writeErr(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, map[string]any{"forms": forms})
	case http.MethodPost:
		var form services.FormDefinition
		if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		created, err := rt.forms.CreateForm(principal, &form)
		if err != nil {
			// A remote-store failure still leaves a usable local record.
			if se, ok := services.AsServiceError(err); ok && se.Code == services.ErrorBadGateway && created != nil {
				rt.writeJSON(w, http.StatusAccepted, map[string]any{"form": created, "warning": se.Message})
				return
			}
			rt.writeErr(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, created)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (rt *Router) handleFormScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/forms/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := parts[0]
	switch {
	case len(parts) == 1:
		rt.handleForm(w, r, id)
	case len(parts) == 2 && parts[1] == "link":
		rt.handleAccessLink(w, r, id)
	case len(parts) == 3 && parts[1] == "link" && parts[2] == "validate":
		rt.handleValidateLink(w, r, id)
	case len(parts) == 2 && parts[1] == "responses":
		rt.handleResponses(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (rt *Router) accessRequest(r *http.Request) services.AccessRequest {
	return services.AccessRequest{
		Principal: middleware.PrincipalFromContext(r.Context()),
		Token:     r.URL.Query().Get("token"),
	}
}

func (rt *Router) handleForm(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		form, err := rt.forms.GetForm(rt.accessRequest(r), id)
		if err != nil {
			rt.writeErr(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, form)
	case http.MethodPatch:
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		principal := middleware.PrincipalFromContext(r.Context())
		updated, err := rt.forms.UpdateForm(principal, id, raw)
		if err != nil {
			if se, ok := services.AsServiceError(err); ok && se.Code == services.ErrorBadGateway && updated != nil {
				rt.writeJSON(w, http.StatusAccepted, map[string]any{"form": updated, "warning": se.Message})
				return
			}
			rt.writeErr(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		principal := middleware.PrincipalFromContext(r.Context())
		if err := rt.forms.DeleteForm(principal, id); err != nil {
			rt.writeErr(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (rt *Router) handleAccessLink(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	principal := middleware.PrincipalFromContext(r.Context())
	token, err := rt.forms.GenerateAccessLink(principal, id)
	if err != nil {
		if se, ok := services.AsServiceError(err); ok && se.Code == services.ErrorBadGateway && token != "" {
			rt.writeJSON(w, http.StatusAccepted, map[string]any{"token": token, "warning": se.Message})
			return
		}
		rt.writeErr(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, map[string]any{"token": token})
}

func (rt *Router) handleValidateLink(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	valid := rt.forms.ValidateAccessToken(id, r.URL.Query().Get("token"))
	rt.writeJSON(w, http.StatusOK, map[string]any{"valid": valid})
}

func (rt *Router) handleResponses(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Answers services.ResponseSet `json:"answers"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rec, err := rt.responses.SubmitResponse(rt.accessRequest(r), id, req.Answers)
		if err != nil {
			if se, ok := services.AsServiceError(err); ok && se.Code == services.ErrorBadGateway && rec != nil {
				rt.writeJSON(w, http.StatusAccepted, map[string]any{"response": rec, "warning": se.Message})
				return
			}
			rt.writeErr(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, rec)
	case http.MethodGet:
		access := rt.accessRequest(r)
		records, err := rt.responses.ListResponses(access, id)
		if err != nil {
			rt.writeErr(w, err)
			return
		}
		if r.URL.Query().Get("format") == "csv" {
			form, err := rt.forms.GetForm(access, id)
			if err != nil {
				rt.writeErr(w, err)
				return
			}
			data, err := services.ExportResponsesCSV(form, records)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "text/csv")
			w.Header().Set("Content-Disposition", "attachment; filename=responses.csv")
			_, _ = w.Write(data)
			return
		}
		rt.writeJSON(w, http.StatusOK, map[string]any{"responses": records})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (rt *Router) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		rt.logger.Warn("encode response", zap.Error(err))
	}
}

func (rt *Router) writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if se, ok := services.AsServiceError(err); ok {
		switch se.Code {
		case services.ErrorInvalid:
			status = http.StatusBadRequest
		case services.ErrorUnauthorized:
			status = http.StatusUnauthorized
		case services.ErrorForbidden:
			status = http.StatusForbidden
		case services.ErrorNotFound:
			status = http.StatusNotFound
		case services.ErrorConflict:
			status = http.StatusConflict
		case services.ErrorBadGateway:
			status = http.StatusBadGateway
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": err.Error()})
}
