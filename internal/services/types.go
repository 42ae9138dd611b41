package services

import "time"

// Option is a single selectable choice on a choice-like field. NumericValue
// is optional: options without one never contribute to the total score.
type Option struct {
	ID           string `json:"id"`
	Label        string `json:"label"`
	Value        string `json:"value"`
	NumericValue *int   `json:"numeric_value,omitempty"`
}

// ScoreRange maps a closed score interval to a feedback message.
type ScoreRange struct {
	Min     int    `json:"min"`
	Max     int    `json:"max"`
	Message string `json:"message"`
}

type FieldDefinition struct {
	ID               string    `json:"id"`
	Type             FieldType `json:"type"`
	Label            string    `json:"label"`
	Required         bool      `json:"required,omitempty"`
	Options          []Option  `json:"options,omitempty"`
	HasNumericValues bool      `json:"has_numeric_values,omitempty"`
	// ScoreRanges is a denormalized copy of the form-level list kept for
	// legacy readers. The form-level list is canonical; this copy is
	// refreshed on every form write and never read at submission time.
	ScoreRanges []ScoreRange `json:"score_ranges,omitempty"`
}

type FormDefinition struct {
	ID                    string            `json:"id"`
	Title                 string            `json:"title"`
	Description           string            `json:"description,omitempty"`
	Fields                []FieldDefinition `json:"fields,omitempty"`
	IsPrivate             bool              `json:"is_private,omitempty"`
	OwnerID               string            `json:"owner_id"`
	Collaborators         []string          `json:"collaborators,omitempty"`
	AllowedUsers          []string          `json:"allowed_users,omitempty"`
	AccessToken           string            `json:"access_token,omitempty"`
	ShowTotalScore        bool              `json:"show_total_score,omitempty"`
	ScoreRanges           []ScoreRange      `json:"score_ranges,omitempty"`
	AllowViewOwnResponses bool              `json:"allow_view_own_responses,omitempty"`
	AllowEditOwnResponses bool              `json:"allow_edit_own_responses,omitempty"`
	CreatedAt             time.Time         `json:"created_at,omitempty"`
	UpdatedAt             time.Time         `json:"updated_at,omitempty"`
}

// ResponseSet maps field ids to submitted answers.
type ResponseSet map[string]Answer

// ResponseRecord is one submission. Records are immutable; an allowed
// resubmission creates a new record pointing at the one it supersedes.
type ResponseRecord struct {
	ID             string      `json:"id"`
	FormID         string      `json:"form_id"`
	ResponderEmail string      `json:"responder_email,omitempty"`
	Answers        ResponseSet `json:"answers"`
	TotalScore     int         `json:"total_score,omitempty"`
	ScoreMessage   string      `json:"score_message,omitempty"`
	Supersedes     string      `json:"supersedes,omitempty"`
	SubmittedAt    time.Time   `json:"submitted_at"`
}

// SyncState tracks how a locally cached form relates to the remote store.
type SyncState int

const (
	// SyncUnsynced means the record exists locally but the remote write
	// has not been acknowledged.
	SyncUnsynced SyncState = iota
	// SyncPersisted means the remote store acknowledged the last write.
	SyncPersisted
	// SyncStale means the local copy may diverge from the remote store.
	SyncStale
)

func (s SyncState) String() string {
	switch s {
	case SyncUnsynced:
		return "unsynced"
	case SyncPersisted:
		return "persisted"
	case SyncStale:
		return "stale"
	}
	return "unknown"
}

type AuditEntry struct {
	Time   time.Time `json:"time"`
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	Target string    `json:"target"`
	Note   string    `json:"note,omitempty"`
}

// User is an authenticated account known to the identity store.
type User struct {
	ID        string
	Email     string
	PassHash  []byte
	Standing  string
	CreatedAt time.Time
}
