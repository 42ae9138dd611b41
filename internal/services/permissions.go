package services

import "strings"

// Standing is the identity provider's classification of the caller.
type Standing string

const (
	StandingAdmin     Standing = "admin"
	StandingUser      Standing = "user"
	StandingAnonymous Standing = "anonymous"
)

// Principal identifies the caller of an operation. Role (owner,
// collaborator, invited user) is derived per form by email comparison,
// never stored.
type Principal struct {
	Email    string
	Standing Standing
}

// AccessRequest bundles the optional principal with an optionally
// presented access token. Token access needs no principal at all.
type AccessRequest struct {
	Principal *Principal
	Token     string
}

// Capabilities is the resolver's verdict. It is a plain result, not an
// error: callers turn false flags into rejections themselves.
type Capabilities struct {
	CanView    bool `json:"can_view"`
	CanEdit    bool `json:"can_edit"`
	CanRespond bool `json:"can_respond"`
}

// ResolveAccess decides what the caller may do with a form. It never
// fails; an unresolvable caller simply gets all capabilities false.
//
// Evaluation order: ownership/collaboration grants edit; public forms
// are open to everyone; private forms open to editors, allow-listed
// emails, or a matching access token (which never grants edit). An
// admin principal may view anything for inspection but is barred from
// responding.
func ResolveAccess(req AccessRequest, form *FormDefinition) Capabilities {
	if form == nil {
		return Capabilities{}
	}
	var caps Capabilities
	email := ""
	admin := false
	if req.Principal != nil {
		email = NormalizeEmail(req.Principal.Email)
		admin = req.Principal.Standing == StandingAdmin
	}

	if email != "" {
		if email == NormalizeEmail(form.OwnerID) || containsEmail(form.Collaborators, email) {
			caps.CanEdit = true
		}
	}

	tokenOK := req.Token != "" && form.AccessToken != "" && req.Token == form.AccessToken

	if !form.IsPrivate {
		caps.CanView = true
		caps.CanRespond = true
	} else {
		allowed := caps.CanEdit || tokenOK || (email != "" && containsEmail(form.AllowedUsers, email))
		caps.CanView = allowed
		caps.CanRespond = allowed
	}

	if admin {
		// Administrator preview: inspect anything, submit nothing.
		caps.CanView = true
		caps.CanRespond = false
	}
	return caps
}

// NormalizeEmail lower-cases and trims an address for comparison and
// storage. All email matching in the engine goes through this.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func containsEmail(list []string, normalized string) bool {
	for _, e := range list {
		if NormalizeEmail(e) == normalized {
			return true
		}
	}
	return false
}

// NormalizeEmailList trims, lower-cases, de-duplicates and drops blank
// or address-less entries. The dropped count lets callers log the loss.
func NormalizeEmailList(raw []string) ([]string, int) {
	if len(raw) == 0 {
		return nil, 0
	}
	seen := map[string]struct{}{}
	clean := make([]string, 0, len(raw))
	dropped := 0
	for _, e := range raw {
		n := NormalizeEmail(e)
		if n == "" || !strings.Contains(n, "@") {
			dropped++
			continue
		}
		if _, dup := seen[n]; dup {
			dropped++
			continue
		}
		seen[n] = struct{}{}
		clean = append(clean, n)
	}
	if len(clean) == 0 {
		return nil, dropped
	}
	return clean, dropped
}
