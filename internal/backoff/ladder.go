// Package backoff degrades a project's sync cadence after terminal failures
// and restores it on the next clean run.
package backoff

// escalationSteps is the fixed tail of the cron ladder, sparsest last.
var escalationSteps = []string{
	"*/30 * * * *",
	"0 * * * *",
	"0 */3 * * *",
	"0 */6 * * *",
	"0 */12 * * *",
}

// Ladder builds the cadence sequence for a project, seeded by its original
// cron. The backoff level indexes into it, so insertion order matters; an
// original cron that reappears in the fixed steps collapses to one entry.
func Ladder(originalCron string) []string {
	exprs := make([]string, 0, len(escalationSteps)+1)
	seen := make(map[string]struct{}, len(escalationSteps)+1)

	add := func(expr string) {
		if _, ok := seen[expr]; ok {
			return
		}
		seen[expr] = struct{}{}
		exprs = append(exprs, expr)
	}

	add(originalCron)
	for _, expr := range escalationSteps {
		add(expr)
	}
	return exprs
}
