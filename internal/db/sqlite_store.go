package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/formlane/formlane/internal/services"
)

// SQLiteStore is the authoritative remote store over SQLite. Nested
// structures (fields, audience lists, score ranges, answers) are stored
// as JSON columns.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSQLiteStore(db *sql.DB, logger *zap.Logger) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func boolToInt64(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func int64ToBool(v int64) bool { return v != 0 }

func toNullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func encodeJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeJSON[T any](ns sql.NullString, logger *zap.Logger, what string) T {
	var out T
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return out
	}
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		logger.Warn("sqlite store: decode column", zap.String("column", what), zap.Error(err))
	}
	return out
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// --- forms ---

const formColumns = `id, title, description, owner_id, is_private, access_token,
	show_total_score, allow_view_own_responses, allow_edit_own_responses,
	fields, collaborators, allowed_users, score_ranges, created_at, updated_at`

func (s *SQLiteStore) InsertForm(f *services.FormDefinition) error {
	fields, err := encodeJSON(f.Fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	collaborators, err := encodeJSON(f.Collaborators)
	if err != nil {
		return fmt.Errorf("encode collaborators: %w", err)
	}
	allowed, err := encodeJSON(f.AllowedUsers)
	if err != nil {
		return fmt.Errorf("encode allowed users: %w", err)
	}
	ranges, err := encodeJSON(f.ScoreRanges)
	if err != nil {
		return fmt.Errorf("encode score ranges: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO forms (`+formColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Title, toNullString(f.Description), f.OwnerID, boolToInt64(f.IsPrivate),
		toNullString(f.AccessToken), boolToInt64(f.ShowTotalScore),
		boolToInt64(f.AllowViewOwnResponses), boolToInt64(f.AllowEditOwnResponses),
		fields, collaborators, allowed, ranges,
		f.CreatedAt.Format(time.RFC3339Nano), f.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert form: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateForm(f *services.FormDefinition) error {
	fields, err := encodeJSON(f.Fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	collaborators, err := encodeJSON(f.Collaborators)
	if err != nil {
		return fmt.Errorf("encode collaborators: %w", err)
	}
	allowed, err := encodeJSON(f.AllowedUsers)
	if err != nil {
		return fmt.Errorf("encode allowed users: %w", err)
	}
	ranges, err := encodeJSON(f.ScoreRanges)
	if err != nil {
		return fmt.Errorf("encode score ranges: %w", err)
	}
	res, err := s.db.Exec(`UPDATE forms SET title = ?, description = ?, is_private = ?,
		access_token = ?, show_total_score = ?, allow_view_own_responses = ?,
		allow_edit_own_responses = ?, fields = ?, collaborators = ?, allowed_users = ?,
		score_ranges = ?, updated_at = ? WHERE id = ?`,
		f.Title, toNullString(f.Description), boolToInt64(f.IsPrivate),
		toNullString(f.AccessToken), boolToInt64(f.ShowTotalScore),
		boolToInt64(f.AllowViewOwnResponses), boolToInt64(f.AllowEditOwnResponses),
		fields, collaborators, allowed, ranges,
		f.UpdatedAt.Format(time.RFC3339Nano), f.ID)
	if err != nil {
		return fmt.Errorf("update form: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.NewNotFoundError("form not found")
	}
	return nil
}

func (s *SQLiteStore) DeleteForm(id string) error {
	if _, err := s.db.Exec(`DELETE FROM responses WHERE form_id = ?`, id); err != nil {
		return fmt.Errorf("delete form responses: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM forms WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete form: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetForm(id string) (*services.FormDefinition, error) {
	row := s.db.QueryRow(`SELECT `+formColumns+` FROM forms WHERE id = ?`, id)
	f, err := s.scanForm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get form: %w", err)
	}
	return f, nil
}

func (s *SQLiteStore) ListForms() ([]*services.FormDefinition, error) {
	rows, err := s.db.Query(`SELECT ` + formColumns + ` FROM forms ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*services.FormDefinition
	for rows.Next() {
		f, err := s.scanForm(rows)
		if err != nil {
			return nil, fmt.Errorf("scan form: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanForm(row rowScanner) (*services.FormDefinition, error) {
	var (
		f                                      services.FormDefinition
		description, token                     sql.NullString
		isPrivate, showScore, viewOwn, editOwn int64
		fields, collaborators, allowed, ranges sql.NullString
		createdAt, updatedAt                   string
	)
	if err := row.Scan(&f.ID, &f.Title, &description, &f.OwnerID, &isPrivate, &token,
		&showScore, &viewOwn, &editOwn, &fields, &collaborators, &allowed, &ranges,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	f.Description = description.String
	f.AccessToken = token.String
	f.IsPrivate = int64ToBool(isPrivate)
	f.ShowTotalScore = int64ToBool(showScore)
	f.AllowViewOwnResponses = int64ToBool(viewOwn)
	f.AllowEditOwnResponses = int64ToBool(editOwn)
	f.Fields = decodeJSON[[]services.FieldDefinition](fields, s.logger, "fields")
	f.Collaborators = decodeJSON[[]string](collaborators, s.logger, "collaborators")
	f.AllowedUsers = decodeJSON[[]string](allowed, s.logger, "allowed_users")
	f.ScoreRanges = decodeJSON[[]services.ScoreRange](ranges, s.logger, "score_ranges")
	f.CreatedAt = parseTime(createdAt)
	f.UpdatedAt = parseTime(updatedAt)
	return &f, nil
}

// --- responses ---

func (s *SQLiteStore) InsertResponse(r *services.ResponseRecord) error {
	answers, err := encodeJSON(r.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO responses (id, form_id, responder_email, answers,
		total_score, score_message, supersedes, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.FormID, toNullString(r.ResponderEmail), answers,
		r.TotalScore, toNullString(r.ScoreMessage), toNullString(r.Supersedes),
		r.SubmittedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert response: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListResponsesByForm(formID string) ([]*services.ResponseRecord, error) {
	rows, err := s.db.Query(`SELECT id, form_id, responder_email, answers, total_score,
		score_message, supersedes, submitted_at FROM responses
		WHERE form_id = ? ORDER BY submitted_at, id`, formID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*services.ResponseRecord
	for rows.Next() {
		var (
			r                          services.ResponseRecord
			email, answers, msg, super sql.NullString
			submittedAt                string
		)
		if err := rows.Scan(&r.ID, &r.FormID, &email, &answers, &r.TotalScore, &msg,
			&super, &submittedAt); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		r.ResponderEmail = email.String
		r.ScoreMessage = msg.String
		r.Supersedes = super.String
		r.Answers = decodeJSON[services.ResponseSet](answers, s.logger, "answers")
		r.SubmittedAt = parseTime(submittedAt)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// --- users ---

func (s *SQLiteStore) FindUserByEmail(email string) (*services.User, error) {
	row := s.db.QueryRow(`SELECT id, email, pass_hash, standing, created_at FROM users
		WHERE email = ?`, strings.ToLower(strings.TrimSpace(email)))
	var (
		u         services.User
		createdAt string
	)
	err := row.Scan(&u.ID, &u.Email, &u.PassHash, &u.Standing, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

func (s *SQLiteStore) AddUser(u *services.User) error {
	standing := u.Standing
	if standing == "" {
		standing = "user"
	}
	_, err := s.db.Exec(`INSERT INTO users (id, email, pass_hash, standing, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		u.ID, strings.ToLower(strings.TrimSpace(u.Email)), u.PassHash, standing,
		u.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("add user: %w", err)
	}
	return nil
}

// --- audit ---

func (s *SQLiteStore) AddAudit(e services.AuditEntry) {
	_, err := s.db.Exec(`INSERT INTO audit_log (time, actor, action, target, note)
		VALUES (?, ?, ?, ?, ?)`,
		e.Time.Format(time.RFC3339Nano), toNullString(e.Actor), e.Action,
		toNullString(e.Target), toNullString(e.Note))
	if err != nil {
		s.logger.Warn("sqlite store: add audit", zap.Error(err))
	}
}

var (
	_ services.FormStore     = (*SQLiteStore)(nil)
	_ services.ResponseStore = (*SQLiteStore)(nil)
	_ services.AuthStore     = (*SQLiteStore)(nil)
)
