package config

const (
	TypeRotationTask        = "keyring:rotate"
	TypeRotationResumeTask  = "keyring:rotate-resume"
	TypePruneTask           = "datakey:prune"
	TypeGenerationCountTask = "datakey:count"
	TypeKeyUsageTask        = "apikey:touch"
)

// DefinedTasks lists the task types eligible for cron scheduling; they all
// run without a payload and sweep whatever work is due.
var DefinedTasks = map[string]struct{}{
	TypeRotationResumeTask: {},
	TypePruneTask:          {},
}
