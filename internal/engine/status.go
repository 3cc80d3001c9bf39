package engine

// Status is the process-wide sync indicator derived from reachability
// and the outcome of the most recent remote write attempt. It is never
// stored in the record.
type Status string

const (
	StatusSynced  Status = "Synced"
	StatusSyncing Status = "Syncing"
	StatusOffline Status = "Offline"
	StatusError   Status = "Error"
)
