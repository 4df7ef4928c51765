package worker

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpoint/proctor-backend/internal/model"
)

func TestViolationPayloadToModel(t *testing.T) {
	sessionID := uuid.New()
	occurred := time.Now().Truncate(time.Second)

	t.Run("valid payload", func(t *testing.T) {
		p := &violationPayload{
			SessionID:   sessionID.String(),
			Type:        "tab_switch",
			Severity:    "medium",
			Description: "switched tab",
			OccurredAt:  occurred.Unix(),
		}
		v, err := p.toModel()
		require.NoError(t, err)
		assert.Equal(t, sessionID, v.SessionID)
		assert.Equal(t, model.ViolationTabSwitch, v.Type)
		assert.Equal(t, model.SeverityMedium, v.Severity)
		assert.Equal(t, occurred.Unix(), v.OccurredAt.Unix())
	})

	// Rows the table constraints would reject must fail conversion so the
	// fallback path drops them instead of requeueing them forever.
	t.Run("unknown severity", func(t *testing.T) {
		p := &violationPayload{SessionID: sessionID.String(), Type: "tab_switch", Severity: "banana"}
		_, err := p.toModel()
		assert.Error(t, err)
	})

	t.Run("unknown type", func(t *testing.T) {
		p := &violationPayload{SessionID: sessionID.String(), Type: "screaming", Severity: "low"}
		_, err := p.toModel()
		assert.Error(t, err)
	})

	t.Run("malformed session id", func(t *testing.T) {
		p := &violationPayload{SessionID: "not-a-uuid", Type: "tab_switch", Severity: "low"}
		_, err := p.toModel()
		assert.Error(t, err)
	})
}
