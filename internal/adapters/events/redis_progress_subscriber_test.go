package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/clinicalcoding/internal/domain/entities"
)

func TestDecodeProgressEvent(t *testing.T) {
	event, err := decodeProgressEvent(`{"id":"evt-1","report_id":"rep-1","status":"PROCESSING","progress_percent":55,"current_step":"crosswalk"}`)

	require.NoError(t, err)
	assert.Equal(t, "rep-1", event.ReportID)
	assert.Equal(t, entities.ReportStatusProcessing, event.Status)
	assert.Equal(t, 55, event.ProgressPercent)
	assert.Equal(t, "crosswalk", event.CurrentStep)
}

func TestDecodeProgressEvent_Rejects(t *testing.T) {
	tests := map[string]string{
		"malformed":      `{"report_id":`,
		"missing report": `{"id":"evt-1","progress_percent":20}`,
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := decodeProgressEvent(payload)
			assert.Error(t, err)
		})
	}
}
