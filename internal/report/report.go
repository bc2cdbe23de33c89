// Package report exports a learner's course progress as a spreadsheet for
// the progress screen's download action.
package report

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/p-n-ai/pai-learn/internal/progress"
)

const sheetName = "Progress"

var titleCaser = cases.Title(language.English)

// Build renders a course view into a workbook: a summary header followed
// by one row per lesson. The caller owns closing the file.
func Build(view progress.CourseView) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create style: %w", err)
	}

	setCell := func(cell string, value any) {
		_ = f.SetCellValue(sheetName, cell, value)
	}

	title := view.Title
	if view.Emoji != "" {
		title = view.Emoji + " " + title
	}
	setCell("A1", title)
	setCell("A2", "Overall progress")
	setCell("B2", fmt.Sprintf("%d%%", view.Percent))
	setCell("A3", "Lessons completed")
	setCell("B3", fmt.Sprintf("%d of %d", view.LessonsCompleted, view.TotalLessons))
	_ = f.SetCellStyle(sheetName, "A1", "A1", bold)

	headers := []string{"Section", "Lesson", "Type", "Minutes", "State"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 5)
		setCell(cell, h)
	}
	_ = f.SetCellStyle(sheetName, "A5", "E5", bold)

	row := 6
	for _, sec := range view.Sections {
		for _, l := range sec.Lessons {
			setCell(fmt.Sprintf("A%d", row), sec.Title)
			setCell(fmt.Sprintf("B%d", row), l.Title)
			setCell(fmt.Sprintf("C%d", row), titleCaser.String(string(l.Type)))
			setCell(fmt.Sprintf("D%d", row), l.EstimatedMinutes)
			setCell(fmt.Sprintf("E%d", row), stateLabel(string(l.State)))
			row++
		}
	}

	_ = f.SetColWidth(sheetName, "A", "B", 32)
	_ = f.SetColWidth(sheetName, "C", "E", 14)

	return f, nil
}

// stateLabel turns an enum value like "in_progress" into "In Progress".
func stateLabel(state string) string {
	return titleCaser.String(strings.ReplaceAll(state, "_", " "))
}
