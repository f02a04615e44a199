package domain

// Job status constants
const (
	JobStatusPending   = "PENDING"
	JobStatusRunning   = "RUNNING"
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
	JobStatusCanceled  = "CANCELED"
)

// Job type constants for the handlers shipped with the worker
const (
	JobTypeAITranslation     = "ai_translation"
	JobTypeCacheInvalidation = "cache_invalidation"
	JobTypeReleaseDeployment = "release_deployment"
)

// KnownJobTypes lists the job types the worker registers handlers for
var KnownJobTypes = []string{
	JobTypeAITranslation,
	JobTypeCacheInvalidation,
	JobTypeReleaseDeployment,
}

// IsKnownJobType reports whether jobType has a shipped handler
func IsKnownJobType(jobType string) bool {
	for _, t := range KnownJobTypes {
		if t == jobType {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether a job in this status will never run again
// without operator action
func IsTerminalStatus(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}
