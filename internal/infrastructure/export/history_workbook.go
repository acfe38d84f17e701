// Package export renders instance ledgers as spreadsheet workbooks.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/workflow-engine/internal/domain/entity"
)

// Sheet names of the history workbook
const (
	SheetHistory  = "History"
	SheetInstance = "Instance"
)

// ContentType is the MIME type of the produced workbook
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var historyHeader = []interface{}{
	"Sequence", "Timestamp", "From", "To", "Outcome", "Triggered By",
	"Guard", "Guard Passed", "Guard Error", "Action", "Action Executed", "Action Error", "Metadata",
}

// HistoryExporter writes an instance and its ledger to an XLSX workbook
type HistoryExporter struct {
	logger *zap.Logger
}

// NewHistoryExporter creates a new exporter
func NewHistoryExporter(logger *zap.Logger) *HistoryExporter {
	return &HistoryExporter{logger: logger}
}

// Write renders the workbook to w. def may be nil.
func (e *HistoryExporter) Write(w io.Writer, def *entity.WorkflowDefinition, inst *entity.WorkflowInstance, entries []*entity.WorkflowHistory) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetHistory); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetInstance); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create style: %w", err)
	}

	if err := e.fillHistory(f, entries, bold); err != nil {
		return fmt.Errorf("failed to fill history: %w", err)
	}
	if err := e.fillInstance(f, def, inst, bold); err != nil {
		return fmt.Errorf("failed to fill instance: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Debug("History workbook written",
		zap.String("instance_id", inst.ID),
		zap.Int("rows", len(entries)))
	return nil
}

func (e *HistoryExporter) fillHistory(f *excelize.File, entries []*entity.WorkflowHistory, headerStyle int) error {
	if err := f.SetSheetRow(SheetHistory, "A1", &historyHeader); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(historyHeader), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetHistory, "A1", last, headerStyle); err != nil {
		return err
	}

	for i, h := range entries {
		row := []interface{}{
			h.Sequence,
			h.Timestamp.UTC().Format(time.RFC3339),
			deref(h.FromState),
			h.ToState,
			h.Outcome(),
			deref(h.TriggeredBy),
			h.GuardResult.Expression,
			h.GuardResult.Passed,
			h.GuardResult.Error,
			h.ActionResult.Action,
			h.ActionResult.Executed,
			h.ActionResult.Error,
			encode(h.Metadata),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetHistory, cell, &row); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(SheetHistory, "B", "B", 22); err != nil {
		return err
	}
	return f.SetPanes(SheetHistory, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func (e *HistoryExporter) fillInstance(f *excelize.File, def *entity.WorkflowDefinition, inst *entity.WorkflowInstance, labelStyle int) error {
	completed := ""
	if inst.CompletedAt != nil {
		completed = inst.CompletedAt.UTC().Format(time.RFC3339)
	}
	rows := [][]interface{}{
		{"Instance ID", inst.ID},
		{"Definition ID", inst.WorkflowDefinitionID},
		{"Entity Type", inst.EntityType},
		{"Entity ID", inst.EntityID},
		{"Current State", inst.CurrentState},
		{"Status", inst.Status},
		{"Version", inst.Version},
		{"Started At", inst.StartedAt.UTC().Format(time.RFC3339)},
		{"Completed At", completed},
		{"Context", encode(inst.Context)},
	}
	if def != nil {
		rows = append(rows,
			[]interface{}{"Definition", def.Name},
			[]interface{}{"Definition Version", def.Version},
		)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetInstance, cell, &row); err != nil {
			return err
		}
	}
	last, err := excelize.CoordinatesToCellName(1, len(rows))
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetInstance, "A1", last, labelStyle); err != nil {
		return err
	}
	return f.SetColWidth(SheetInstance, "A", "A", 20)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func encode(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprintf("%v", m)
	}
	return string(b)
}
