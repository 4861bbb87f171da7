package models

// JobHandle identifies a submitted bulk search job. Only the job client creates one.
type JobHandle struct {
	StatusLocation string
}

// JobState is the lifecycle state of a bulk search job.
type JobState string

// Job states as seen by the poller. The service reports a few more
// in-progress spellings; the client folds them into JobPending.
const (
	JobPending  JobState = "PENDING"
	JobComplete JobState = "COMPLETE"
	JobFailed   JobState = "FAILED"
)

// Terminal reports whether no further polling is needed.
func (s JobState) Terminal() bool {
	return s == JobComplete || s == JobFailed
}

// JobStatus is one observation of a job. Results is only set when State is JobComplete.
type JobStatus struct {
	State   JobState
	Results []MatchSummary
	Reason  string
}
