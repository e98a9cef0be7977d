package audit

import (
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Trail is the exported audit trail for one claim or the whole log.
type Trail struct {
	ClaimID    string      `json:"claim_id,omitempty"`
	ExportedAt time.Time   `json:"exported_at"`
	ChainValid bool        `json:"chain_valid"`
	BrokenLink *BrokenLink `json:"broken_link,omitempty"`
	EventCount int         `json:"event_count"`
	Events     []Event     `json:"events"`
}

// NewTrail verifies events and wraps them for export.
func NewTrail(claimID string, events []Event, now time.Time) (*Trail, error) {
	broken, err := Verify(events)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []Event{}
	}
	return &Trail{
		ClaimID:    claimID,
		ExportedAt: now.UTC(),
		ChainValid: broken == nil,
		BrokenLink: broken,
		EventCount: len(events),
		Events:     events,
	}, nil
}

// WriteJSON writes the trail as indented JSON.
func (t *Trail) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(t); err != nil {
		return eris.Wrap(err, "audit: encode json trail")
	}
	return nil
}

var xlsxHeader = []string{
	"timestamp", "claim_id", "event_type", "actor_type", "actor_id",
	"model", "decision", "payload", "before", "after",
	"prev_event_hash", "event_hash",
}

// WriteXLSX writes the trail as a workbook with an "events" sheet and a
// "summary" sheet.
func (t *Trail) WriteXLSX(w io.Writer) error {
	f := xlsx.NewFile()

	sheet, err := f.AddSheet("events")
	if err != nil {
		return eris.Wrap(err, "audit: add events sheet")
	}
	addRow(sheet, xlsxHeader...)
	for _, e := range t.Events {
		var before, after string
		if e.Snapshots != nil {
			before, after = string(e.Snapshots.BeforeJSON), string(e.Snapshots.AfterJSON)
		}
		model := e.ModelName
		if e.ModelProvider != "" {
			model = e.ModelProvider + "/" + e.ModelName
		}
		addRow(sheet,
			e.Timestamp.UTC().Format(time.RFC3339),
			e.ClaimID,
			string(e.EventType),
			string(e.ActorType),
			e.ActorID,
			model,
			string(e.Decision),
			string(e.Payload),
			before,
			after,
			e.PrevEventHash,
			e.EventHash,
		)
	}

	summary, err := f.AddSheet("summary")
	if err != nil {
		return eris.Wrap(err, "audit: add summary sheet")
	}
	valid := "yes"
	if !t.ChainValid {
		valid = "no"
	}
	addRow(summary, "claim_id", t.ClaimID)
	addRow(summary, "exported_at", t.ExportedAt.Format(time.RFC3339))
	addRow(summary, "event_count", strconv.Itoa(t.EventCount))
	addRow(summary, "chain_valid", valid)
	if t.BrokenLink != nil {
		addRow(summary, "broken_event_id", t.BrokenLink.EventID)
		addRow(summary, "broken_reason", t.BrokenLink.Reason)
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "audit: write xlsx")
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}
