package coordinator

import (
	"fmt"
	"strings"

	"github.com/adskit/ads/internal/task/models"
)

// buildDelegatePrompt renders the work order handed to a delegate agent. The
// delegate must answer with a single fenced JSON TaskResult.
func buildDelegatePrompt(spec *models.TaskSpec) string {
	var b strings.Builder
	b.WriteString("You are executing a delegated task.\n\n")
	fmt.Fprintf(&b, "Task ID: %s\nRevision: %d\n\nGoal:\n%s\n", spec.TaskID, spec.Revision, spec.Goal)
	writeList(&b, "Constraints", spec.Constraints)
	writeList(&b, "Deliverables", spec.Deliverables)
	writeList(&b, "Acceptance criteria", spec.AcceptanceCriteria)
	b.WriteString(`
When you are done, reply with exactly one JSON object in a fenced code block:

` + "```json" + `
{
  "taskId": "` + spec.TaskID + `",
  "revision": ` + fmt.Sprintf("%d", spec.Revision) + `,
  "status": "submitted" | "needs_clarification" | "failed",
  "summary": "<what you did>",
  "changedFiles": ["..."],
  "howToVerify": ["..."],
  "knownRisks": ["..."],
  "questions": ["..."]
}
` + "```" + `

Use status "needs_clarification" and fill questions if the goal is ambiguous.
`)
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

// buildVerdictPrompt renders the supervisor's review request over a round's
// executed tasks.
func buildVerdictPrompt(executed []*Executed) string {
	var b strings.Builder
	b.WriteString("The delegated tasks of this round have finished. Review each one.\n")
	for _, e := range executed {
		fmt.Fprintf(&b, "\n--- Task %s (agent %s, revision %d) ---\n", e.Spec.TaskID, e.Spec.AgentID, e.Spec.Revision)
		b.WriteString(e.Summary())
	}
	b.WriteString(`
Reply with exactly one JSON object in a fenced code block:

` + "```json" + `
{"verdicts": [{"taskId": "...", "accept": true, "note": "..."}]}
` + "```" + `

Accept a task only if its result meets the acceptance criteria and its
verification passed. A rejected task will be re-issued as a new revision.
`)
	return b.String()
}

// verdictRetryPrompt is the schema-only retry sent when the supervisor's
// verdict could not be parsed.
const verdictRetryPrompt = "Your previous reply could not be parsed. " +
	"Reply with ONLY a JSON object, no prose:\n" +
	"{\"verdicts\": [{\"taskId\": \"...\", \"accept\": true|false, \"note\": \"...\"}]}"

// Summary renders one executed task for the verdict prompt.
func (e *Executed) Summary() string {
	var b strings.Builder
	switch {
	case e.Err != nil:
		fmt.Fprintf(&b, "Execution failed: %v\n", e.Err)
	case e.Result == nil:
		b.WriteString("No result produced.\n")
	default:
		fmt.Fprintf(&b, "Status: %s\nSummary: %s\n", e.Result.Status, e.Result.Summary)
		if len(e.Result.ChangedFiles) > 0 {
			fmt.Fprintf(&b, "Changed files: %s\n", strings.Join(e.Result.ChangedFiles, ", "))
		}
		if len(e.Result.Questions) > 0 {
			fmt.Fprintf(&b, "Questions: %s\n", strings.Join(e.Result.Questions, "; "))
		}
	}
	if e.Report != nil {
		b.WriteString(formatVerificationSummary(e.Report))
	}
	return b.String()
}

// formatVerificationSummary renders a report into the text block shown to the
// supervisor.
func formatVerificationSummary(report *models.VerificationReport) string {
	if !report.Enabled {
		return "Verification: disabled\n"
	}
	if len(report.Results) == 0 {
		return "Verification: no checks declared\n"
	}
	var b strings.Builder
	b.WriteString("Verification:\n")
	for _, res := range report.Results {
		mark := "PASS"
		if !res.OK {
			mark = "FAIL"
		}
		name := res.Cmd
		if res.Suite != "" {
			name = "suite " + res.Suite
		}
		fmt.Fprintf(&b, "  [%s] %s (%dms)", mark, name, res.ElapsedMs)
		if res.TimedOut {
			b.WriteString(" timed out")
		} else if res.ExitCode != nil && *res.ExitCode != res.ExpectedExitCode {
			fmt.Fprintf(&b, " exit %d, expected %d", *res.ExitCode, res.ExpectedExitCode)
		}
		for _, note := range res.Notes {
			fmt.Fprintf(&b, "\n    - %s", note)
		}
		b.WriteString("\n")
	}
	return b.String()
}
