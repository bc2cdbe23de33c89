package report

import (
	"testing"

	"github.com/p-n-ai/pai-learn/internal/outline"
	"github.com/p-n-ai/pai-learn/internal/progress"
)

func sampleView() progress.CourseView {
	return progress.CourseView{
		ID:               "course-1",
		Title:            "Linear Algebra",
		Emoji:            "📐",
		Percent:          50,
		LessonsCompleted: 1,
		TotalLessons:     2,
		Sections: []progress.SectionView{
			{ID: "s1", Title: "Foundations", Lessons: []progress.LessonView{
				{ID: "l1", Title: "Vectors", Type: outline.TypeLesson, EstimatedMinutes: 15, State: outline.LessonCompleted},
				{ID: "l2", Title: "Matrices", Type: outline.TypeQuiz, EstimatedMinutes: 10, State: outline.LessonInProgress},
			}},
		},
	}
}

func TestBuild(t *testing.T) {
	f, err := Build(sampleView())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer f.Close()

	cell := func(ref string) string {
		t.Helper()
		v, err := f.GetCellValue(sheetName, ref)
		if err != nil {
			t.Fatalf("GetCellValue(%s) error = %v", ref, err)
		}
		return v
	}

	if got := cell("A1"); got != "📐 Linear Algebra" {
		t.Errorf("A1 = %q, want emoji-prefixed title", got)
	}
	if got := cell("B2"); got != "50%" {
		t.Errorf("B2 = %q, want 50%%", got)
	}
	if got := cell("B3"); got != "1 of 2" {
		t.Errorf("B3 = %q, want \"1 of 2\"", got)
	}

	// Header row.
	if got := cell("A5"); got != "Section" {
		t.Errorf("A5 = %q, want Section", got)
	}
	if got := cell("E5"); got != "State" {
		t.Errorf("E5 = %q, want State", got)
	}

	// One row per lesson, starting at row 6.
	if got := cell("B6"); got != "Vectors" {
		t.Errorf("B6 = %q, want Vectors", got)
	}
	if got := cell("E6"); got != "Completed" {
		t.Errorf("E6 = %q, want Completed", got)
	}
	if got := cell("C7"); got != "Quiz" {
		t.Errorf("C7 = %q, want Quiz", got)
	}
	if got := cell("E7"); got != "In Progress" {
		t.Errorf("E7 = %q, want state label with spaces", got)
	}
	if got := cell("A8"); got != "" {
		t.Errorf("A8 = %q, want empty beyond last lesson", got)
	}
}

func TestBuild_NoEmoji(t *testing.T) {
	view := sampleView()
	view.Emoji = ""

	f, err := Build(view)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer f.Close()

	got, err := f.GetCellValue(sheetName, "A1")
	if err != nil {
		t.Fatalf("GetCellValue() error = %v", err)
	}
	if got != "Linear Algebra" {
		t.Errorf("A1 = %q, want bare title", got)
	}
}

func TestStateLabel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"completed", "Completed"},
		{"in_progress", "In Progress"},
		{"needs_review", "Needs Review"},
	}
	for _, tt := range tests {
		if got := stateLabel(tt.in); got != tt.want {
			t.Errorf("stateLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
