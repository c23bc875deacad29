package syncer

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRecord(t *testing.T) {
	t.Parallel()

	synced := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		raw     string
		wantErr error
		payload string
	}{
		{
			name:    "valid",
			raw:     `{"source_id":"s-1","division_id":"d-1","updated_at":"2026-03-01T09:00:00+01:00","payload":{"a":1}}`,
			payload: `{"a":1}`,
		},
		{
			name:    "missing payload",
			raw:     `{"source_id":"s-1","division_id":"d-1","updated_at":"2026-03-01T09:00:00Z"}`,
			payload: `{}`,
		},
		{name: "not json", raw: `{`, wantErr: ErrRecordParse},
		{name: "no source id", raw: `{"division_id":"d","updated_at":"2026-03-01T09:00:00Z"}`, wantErr: errMissingSourceID},
		{name: "no division", raw: `{"source_id":"s","updated_at":"2026-03-01T09:00:00Z"}`, wantErr: errMissingDivision},
		{name: "bad time", raw: `{"source_id":"s","division_id":"d","updated_at":"03/01/2026"}`, wantErr: errBadTimestamp},
		{name: "array payload", raw: `{"source_id":"s","division_id":"d","updated_at":"2026-03-01T09:00:00Z","payload":[1]}`, wantErr: errBadPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec, err := decodeRecord(4, json.RawMessage(tt.raw), synced)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.ErrorIs(t, err, ErrRecordParse)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.payload, string(rec.Payload))
			assert.Equal(t, time.UTC, rec.RemoteUpdatedAt.Location(), "RemoteUpdatedAt not normalized to UTC")
			assert.True(t, rec.LocalSyncedAt.Equal(synced))
		})
	}
}
