package services

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// ExportResponsesCSV renders a form's submissions as a long-format CSV:
// one row per answered field, with the total score repeated per row.
func ExportResponsesCSV(form *FormDefinition, records []*ResponseRecord) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write([]string{"response_id", "responder", "field_id", "field_label", "value", "total_score", "score_message", "submitted_at"})

	labels := map[string]string{}
	order := make([]string, 0, len(form.Fields))
	for _, f := range form.Fields {
		labels[f.ID] = f.Label
		order = append(order, f.ID)
	}

	for _, r := range records {
		for _, fid := range order {
			ans, ok := r.Answers[fid]
			if !ok || ans.IsZero() {
				continue
			}
			rec := []string{
				r.ID,
				r.ResponderEmail,
				fid,
				labels[fid],
				renderAnswer(ans),
				strconv.Itoa(r.TotalScore),
				r.ScoreMessage,
				r.SubmittedAt.Format(time.RFC3339),
			}
			if err := w.Write(rec); err != nil {
				return nil, err
			}
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func renderAnswer(a Answer) string {
	switch a.Kind {
	case AnswerText:
		return a.Text
	case AnswerNumber:
		return strconv.FormatFloat(a.Number, 'f', -1, 64)
	case AnswerBool:
		return strconv.FormatBool(a.Bool)
	case AnswerList:
		return strings.Join(a.List, " | ")
	case AnswerFile:
		if a.File != nil {
			return a.File.URL
		}
	case AnswerAddress:
		if a.Address != nil {
			b, _ := json.Marshal(a.Address)
			return string(b)
		}
	}
	return ""
}
