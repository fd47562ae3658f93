package cli

import "io"

var (
	ParseParams      = parseParams
	LogMigrationPlan = logMigrationPlan
	IndexConfig      = getIndexConfig
)

// SetOutput redirects command output until the returned function runs
func SetOutput(w io.Writer) func() {
	old := stdout
	stdout = w
	return func() { stdout = old }
}
