package evidence

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"forge/internal/task"
)

func TestBuildIsContentAddressed(t *testing.T) {
	a := Build("t1", "COMPLETE", []string{"b.go", "a.go"}, nil, "", "live")
	b := Build("t1", "COMPLETE", []string{"a.go", "b.go"}, nil, "", "live")
	assert.Equal(t, a.Hash, b.Hash, "file order should not affect the hash")

	c := Build("t1", "INCOMPLETE", []string{"a.go", "b.go"}, nil, "", "live")
	assert.NotEqual(t, a.Hash, c.Hash)
}

func TestSummaryCompleteIsFourLines(t *testing.T) {
	tk := &task.Task{ID: "t1", Description: "do thing", State: task.StateComplete, ResponseSummary: "done"}
	rec := Build("t1", "COMPLETE", []string{"README.md"}, nil, "", "live")

	out := Summary(tk, rec, "(none)")
	lines := strings.Split(out, "\n")
	assert.Len(t, lines, 4)
	assert.Equal(t, "RESULT: COMPLETE", lines[0])
	assert.Equal(t, "TASK: t1", lines[1])
	assert.Equal(t, "NEXT: (none)", lines[2])
	assert.Equal(t, "HINT: /logs t1", lines[3])
}

func TestSummaryIncompleteIsFiveLinesWithWhy(t *testing.T) {
	tk := &task.Task{ID: "t1", Description: "do thing", State: task.StateIncomplete, ErrorMessage: "no_file_changes_verified"}
	rec := Build("t1", "INCOMPLETE", nil, nil, "", "recovery-stub")

	out := Summary(tk, rec, "(none)")
	lines := strings.Split(out, "\n")
	assert.Len(t, lines, 5)
	assert.Equal(t, "WHY: no_file_changes_verified", lines[3])
	assert.Equal(t, "HINT: /logs t1", lines[4])
}

func TestSummaryUsesNextTaskID(t *testing.T) {
	tk := &task.Task{ID: "t1", State: task.StateComplete}
	rec := Build("t1", "COMPLETE", nil, nil, "", "live")

	out := Summary(tk, rec, "t2")
	assert.Contains(t, out, "NEXT: t2")
}
