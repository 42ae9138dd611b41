package services

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"
)

func TestExportResponsesCSV(t *testing.T) {
	form := &FormDefinition{
		ID: "F1",
		Fields: []FieldDefinition{
			{ID: "f1", Label: "Skills", Type: FieldCheckbox},
			{ID: "f2", Label: "Comment", Type: FieldText},
			{ID: "f3", Label: "Attachment", Type: FieldFile},
		},
	}
	submitted := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	records := []*ResponseRecord{
		{
			ID:             "r1",
			FormID:         "F1",
			ResponderEmail: "r@x.com",
			Answers: ResponseSet{
				"f1": ListAnswer("go", "sql"),
				"f2": TextAnswer("fine, thanks"),
				"f3": FileAnswer(FileRef{URL: "https://files.example.com/cv.pdf"}),
			},
			TotalScore:   8,
			ScoreMessage: "well done",
			SubmittedAt:  submitted,
		},
		{
			ID:          "r2",
			FormID:      "F1",
			Answers:     ResponseSet{"f2": TextAnswer("anon"), "f1": Answer{}},
			SubmittedAt: submitted.Add(time.Minute),
		},
	}

	data, err := ExportResponsesCSV(form, records)
	if err != nil {
		t.Fatalf("ExportResponsesCSV returned error: %v", err)
	}
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("re-parse: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("row count = %d, want header + 4 answers", len(rows))
	}
	if rows[0][0] != "response_id" || rows[0][4] != "value" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	// Rows follow field declaration order within a record.
	if rows[1][2] != "f1" || rows[1][3] != "Skills" || rows[1][4] != "go | sql" {
		t.Fatalf("unexpected first row %v", rows[1])
	}
	if rows[1][5] != "8" || rows[1][6] != "well done" {
		t.Fatalf("score columns wrong: %v", rows[1])
	}
	if rows[3][4] != "https://files.example.com/cv.pdf" {
		t.Fatalf("file answer row wrong: %v", rows[3])
	}
	// The second record contributes only its answered field.
	if rows[4][0] != "r2" || rows[4][2] != "f2" || rows[4][1] != "" {
		t.Fatalf("unexpected last row %v", rows[4])
	}
}

func TestExportResponsesCSVEmpty(t *testing.T) {
	form := &FormDefinition{ID: "F1", Fields: []FieldDefinition{{ID: "f1", Label: "Q"}}}
	data, err := ExportResponsesCSV(form, nil)
	if err != nil {
		t.Fatalf("ExportResponsesCSV returned error: %v", err)
	}
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected header only, got %v (%v)", rows, err)
	}
}

func TestAnswerJSONSniffing(t *testing.T) {
	cases := []struct {
		raw  string
		kind AnswerKind
	}{
		{`"hello"`, AnswerText},
		{`["a","b"]`, AnswerList},
		{`true`, AnswerBool},
		{`3.5`, AnswerNumber},
		{`{"url":"https://x/f.png","name":"f.png"}`, AnswerFile},
		{`{"city":"Oslo","country":"NO"}`, AnswerAddress},
		{`null`, AnswerNone},
		{`{"weird":1}`, AnswerAddress},
		{`[1,2]`, AnswerNone},
	}
	for _, tc := range cases {
		var a Answer
		if err := json.Unmarshal([]byte(tc.raw), &a); err != nil {
			t.Fatalf("%s: %v", tc.raw, err)
		}
		if a.Kind != tc.kind {
			t.Fatalf("%s: kind = %d, want %d", tc.raw, a.Kind, tc.kind)
		}
	}
}

func TestAnswerJSONRoundTrip(t *testing.T) {
	set := ResponseSet{
		"f1": ListAnswer("a", "b"),
		"f2": NumberAnswer(4),
		"f3": BoolAnswer(true),
		"f4": FileAnswer(FileRef{URL: "https://x/f.png"}),
	}
	data, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back ResponseSet
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back["f1"].Kind != AnswerList || len(back["f1"].List) != 2 {
		t.Fatalf("list lost: %+v", back["f1"])
	}
	if back["f2"].Kind != AnswerNumber || back["f2"].Number != 4 {
		t.Fatalf("number lost: %+v", back["f2"])
	}
	if back["f4"].Kind != AnswerFile || back["f4"].File.URL != "https://x/f.png" {
		t.Fatalf("file lost: %+v", back["f4"])
	}
}
