package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/workflow-engine/internal/domain/entity"
)

func TestHistoryExporter_Write(t *testing.T) {
	ts := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	inst := &entity.WorkflowInstance{
		ID:                   "inst-1",
		WorkflowDefinitionID: "def-1",
		EntityType:           "lead",
		EntityID:             "L-1",
		CurrentState:         "review",
		Context:              map[string]any{"score": 50},
		Status:               entity.InstanceStatusRunning,
		Version:              2,
		StartedAt:            ts,
	}
	entries := []*entity.WorkflowHistory{
		{
			Sequence:    1,
			ToState:     "draft",
			TriggeredBy: entity.StringPtr("alice"),
			Timestamp:   ts,
			GuardResult: entity.GuardResult{Passed: true},
			Metadata:    map[string]any{entity.HistoryMetaOutcome: entity.OutcomeStarted},
		},
		{
			Sequence:     2,
			FromState:    entity.StringPtr("draft"),
			ToState:      "review",
			Timestamp:    ts.Add(time.Minute),
			GuardResult:  entity.GuardResult{Passed: true, Expression: "score > 10"},
			ActionResult: entity.ActionResult{Executed: false, Action: "send-notification", Error: "no recipient"},
			Metadata:     map[string]any{entity.HistoryMetaOutcome: entity.OutcomeApplied},
		},
	}

	var buf bytes.Buffer
	err := NewHistoryExporter(zap.NewNop()).Write(&buf, &entity.WorkflowDefinition{Name: "lead review", Version: 3}, inst, entries)
	require.NoError(t, err)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetHistory)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Sequence", rows[0][0])
	assert.Equal(t, []string{"1", "2026-02-03T04:05:06Z", "", "draft", "started", "alice"}, rows[1][:6])
	assert.Equal(t, "draft", rows[2][2])
	assert.Equal(t, "score > 10", rows[2][6])
	assert.Equal(t, "send-notification", rows[2][9])
	assert.Equal(t, "no recipient", rows[2][11])

	summary, err := f.GetRows(SheetInstance)
	require.NoError(t, err)
	assert.Equal(t, []string{"Instance ID", "inst-1"}, summary[0])
	assert.Equal(t, []string{"Context", `{"score":50}`}, summary[9])
	assert.Equal(t, []string{"Definition", "lead review"}, summary[10])
}

func TestHistoryExporter_EmptyLedger(t *testing.T) {
	var buf bytes.Buffer
	inst := &entity.WorkflowInstance{ID: "i", StartedAt: time.Now()}
	require.NoError(t, NewHistoryExporter(zap.NewNop()).Write(&buf, nil, inst, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{SheetHistory, SheetInstance}, f.GetSheetList())
}
