// Package evidence produces the immutable EvidenceRecord attached to every
// terminal task outcome, and formats the immediate textual summary shown
// to the operator, per §4.6.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"forge/internal/task"
)

// Record is the immutable, content-addressed evidence attached to one
// completed task. Hash is computed over the fields that determine the
// outcome, so two independent runs that reach the same result produce the
// same evidence hash.
type Record struct {
	Hash          string
	TaskID        string
	ResultStatus  string
	FilesModified []string
	VerifiedFiles []VerifiedFile
	StderrTail    string
	ExecutionMode string
	CreatedAt     time.Time
}

// VerifiedFile is one file the verification pass confirmed (or failed to
// confirm) was actually changed, per §4.7. LinesAdded/LinesDeleted are only
// populated for "modified" files where a line-level diff was available.
type VerifiedFile struct {
	Path         string
	Change       string // "added" | "modified" | "deleted"
	LinesAdded   int
	LinesDeleted int
}

// Build constructs a content-addressed Record. Callers must not mutate it
// afterward; content-addressing assumes immutability.
func Build(taskID, resultStatus string, filesModified []string, verified []VerifiedFile, stderrTail, executionMode string) Record {
	files := append([]string(nil), filesModified...)
	sort.Strings(files)

	h := sha256.New()
	h.Write([]byte(taskID))
	h.Write([]byte(resultStatus))
	for _, f := range files {
		h.Write([]byte(f))
	}
	for _, vf := range verified {
		h.Write([]byte(vf.Path))
		h.Write([]byte(vf.Change))
	}

	return Record{
		Hash:          hex.EncodeToString(h.Sum(nil)),
		TaskID:        taskID,
		ResultStatus:  resultStatus,
		FilesModified: files,
		VerifiedFiles: verified,
		StderrTail:    stderrTail,
		ExecutionMode: executionMode,
		CreatedAt:     time.Now().UTC(),
	}
}

// Summary renders the immediate textual summary shown to the operator as
// soon as a task reaches a terminal state: RESULT/TASK/NEXT/HINT for
// COMPLETE (four lines), with a WHY line inserted before HINT for
// INCOMPLETE/ERROR (five lines), per §5's literal schema. next is the next
// queued task's id, or "(none)".
func Summary(t *task.Task, rec Record, next string) string {
	if next == "" {
		next = "(none)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "RESULT: %s\n", t.State)
	fmt.Fprintf(&b, "TASK: %s\n", t.ID)
	fmt.Fprintf(&b, "NEXT: %s\n", next)

	if t.State == task.StateIncomplete || t.State == task.StateError {
		fmt.Fprintf(&b, "WHY: %s\n", nonEmpty(t.ErrorMessage, "unknown"))
	}
	fmt.Fprintf(&b, "HINT: /logs %s", t.ID)
	return b.String()
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
