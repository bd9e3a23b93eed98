package notifier

import "github.com/ridgeline-systems/zvault/internal/store"

// RunOutcome carries what Executor knows about one finished attempt — enough
// for Notify to decide whether to send and what to say, without the
// notifier package needing its own view of the Store.
type RunOutcome struct {
	Job           *store.Job
	Log           *store.JobLog
	IsScheduled   bool
	SourceNode    string
	DestNode      string
}

// JobDigestEntry is one Job's line in the daily digest.
type JobDigestEntry struct {
	JobID            string
	Name             string
	SourceNode       string
	DestNode         string
	SourceDataset    string
	DestDataset      string
	Schedule         string
	Runs24h          int
	Success24h       int
	Failed24h        int
	Duration24h      float64
	LastStatus       store.JobStatus
	LastRunAt        string
	LastTransferred  string
	LastError        string
	LastErrorTime    string
}

// Digest is the aggregated payload for the scheduled daily summary.
type Digest struct {
	TotalJobs     int
	TotalRuns     int
	Successful    int
	Failed        int
	TotalDuration float64
	Jobs          []JobDigestEntry
}
