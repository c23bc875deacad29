package syncer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/divsync/internal/session"
)

var (
	errMissingSourceID = errors.New("source_id is required")
	errMissingDivision = errors.New("division_id is required")
	errBadTimestamp    = errors.New("updated_at must be RFC3339")
	errBadPayload      = errors.New("payload must be a JSON object")
)

// wireRecord is the shape of one record returned by the source.
type wireRecord struct {
	SourceID   string          `json:"source_id"`
	DivisionID string          `json:"division_id"`
	UpdatedAt  string          `json:"updated_at"`
	Payload    json.RawMessage `json:"payload"`
}

// decodeRecord turns a raw source record into a session.Record.
func decodeRecord(index int, raw json.RawMessage, syncedAt time.Time) (session.Record, error) {
	var w wireRecord
	if err := json.Unmarshal(raw, &w); err != nil {
		return session.Record{}, &RecordParseError{Index: index, Err: err}
	}

	fail := func(err error) (session.Record, error) {
		return session.Record{}, &RecordParseError{Index: index, SourceID: w.SourceID, Err: err}
	}
	if w.SourceID == "" {
		return fail(errMissingSourceID)
	}
	if w.DivisionID == "" {
		return fail(errMissingDivision)
	}
	updated, err := time.Parse(time.RFC3339Nano, w.UpdatedAt)
	if err != nil {
		return fail(fmt.Errorf("%w: %q", errBadTimestamp, w.UpdatedAt))
	}

	payload := bytes.TrimSpace(w.Payload)
	switch {
	case len(payload) == 0 || bytes.Equal(payload, []byte("null")):
		payload = []byte("{}")
	case payload[0] != '{':
		return fail(errBadPayload)
	}

	return session.Record{
		SourceID:        w.SourceID,
		DivisionID:      w.DivisionID,
		Payload:         json.RawMessage(payload),
		RemoteUpdatedAt: updated.UTC(),
		LocalSyncedAt:   syncedAt,
	}, nil
}
