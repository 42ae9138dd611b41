package services

import (
	"encoding/json"
	"strconv"
	"strings"
)

// AnswerKind tags the shape carried by an Answer.
type AnswerKind int

const (
	AnswerNone AnswerKind = iota
	AnswerText
	AnswerNumber
	AnswerBool
	AnswerList
	AnswerFile
	AnswerAddress
)

// FileRef points at an uploaded artifact. Transport of the bytes is
// outside this engine; only the reference is stored.
type FileRef struct {
	Name string `json:"name,omitempty"`
	URL  string `json:"url"`
	Size int64  `json:"size,omitempty"`
}

type Address struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	Region  string `json:"region,omitempty"`
	Postal  string `json:"postal,omitempty"`
	Country string `json:"country,omitempty"`
}

// Answer is a tagged union over the shapes a submitted value can take.
// The zero value (AnswerNone) stands for an unanswered field.
type Answer struct {
	Kind    AnswerKind
	Text    string
	Number  float64
	Bool    bool
	List    []string
	File    *FileRef
	Address *Address
}

func TextAnswer(s string) Answer       { return Answer{Kind: AnswerText, Text: s} }
func NumberAnswer(n float64) Answer    { return Answer{Kind: AnswerNumber, Number: n} }
func BoolAnswer(b bool) Answer         { return Answer{Kind: AnswerBool, Bool: b} }
func ListAnswer(vs ...string) Answer   { return Answer{Kind: AnswerList, List: vs} }
func FileAnswer(ref FileRef) Answer    { return Answer{Kind: AnswerFile, File: &ref} }
func AddressAnswer(a Address) Answer   { return Answer{Kind: AnswerAddress, Address: &a} }

// MarshalJSON emits the underlying value, not the tag, so stored payloads
// look like what respondents submitted.
func (a Answer) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case AnswerText:
		return json.Marshal(a.Text)
	case AnswerNumber:
		return json.Marshal(a.Number)
	case AnswerBool:
		return json.Marshal(a.Bool)
	case AnswerList:
		return json.Marshal(a.List)
	case AnswerFile:
		return json.Marshal(a.File)
	case AnswerAddress:
		return json.Marshal(a.Address)
	}
	return []byte("null"), nil
}

// UnmarshalJSON sniffs the raw shape. Objects are tried as file references
// first (URL present), then as structured addresses; anything unrecognized
// degrades to AnswerNone rather than erroring.
func (a *Answer) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*a = Answer{}
		return nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = TextAnswer(s)
	case '[':
		var vs []string
		if err := json.Unmarshal(data, &vs); err != nil {
			*a = Answer{}
			return nil
		}
		*a = Answer{Kind: AnswerList, List: vs}
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*a = BoolAnswer(b)
	case '{':
		var f FileRef
		if err := json.Unmarshal(data, &f); err == nil && f.URL != "" {
			*a = Answer{Kind: AnswerFile, File: &f}
			return nil
		}
		var addr Address
		if err := json.Unmarshal(data, &addr); err == nil {
			*a = Answer{Kind: AnswerAddress, Address: &addr}
			return nil
		}
		*a = Answer{}
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			*a = Answer{}
			return nil
		}
		*a = NumberAnswer(n)
	}
	return nil
}

// IsZero reports an unanswered field.
func (a Answer) IsZero() bool { return a.Kind == AnswerNone }

// selections flattens the answer into the list of selected option values.
func (a Answer) selections() []string {
	switch a.Kind {
	case AnswerList:
		return a.List
	case AnswerText:
		if a.Text == "" {
			return nil
		}
		return []string{a.Text}
	}
	return nil
}

// asString renders single-choice answers for option matching.
func (a Answer) asString() (string, bool) {
	switch a.Kind {
	case AnswerText:
		return a.Text, a.Text != ""
	case AnswerNumber:
		return strconv.FormatFloat(a.Number, 'f', -1, 64), true
	}
	return "", false
}

// asInt parses direct numeric answers. Non-numeric input reports false.
func (a Answer) asInt() (int, bool) {
	switch a.Kind {
	case AnswerNumber:
		return int(a.Number), true
	case AnswerText:
		n, err := strconv.Atoi(strings.TrimSpace(a.Text))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// affirmative normalizes binary-choice answers. Accepted affirmative
// tokens mirror what the submission widgets historically sent.
func (a Answer) affirmative() bool {
	switch a.Kind {
	case AnswerBool:
		return a.Bool
	case AnswerText:
		switch strings.ToLower(strings.TrimSpace(a.Text)) {
		case "true", "yes", "y", "1":
			return true
		}
	case AnswerNumber:
		return a.Number == 1
	}
	return false
}
