package upstream

import "time"

// Target is a test target (project) on the platform. A session focuses on
// at most one target at a time.
type Target struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Result is a single test result within a run report. TraceURL points at an
// externally hosted trace artifact when the run captured one.
type Result struct {
	Title    string `json:"title,omitempty"`
	Status   string `json:"status,omitempty"`
	TraceURL string `json:"trace_url,omitempty"`
}

// Report is a run report for a target.
type Report struct {
	ID           string   `json:"id"`
	Status       string   `json:"status"`
	ExecutionURL string   `json:"execution_url,omitempty"`
	Results      []Result `json:"results,omitempty"`
}

// CaseSummary describes a discovered test case.
type CaseSummary struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Folder string `json:"folder,omitempty"`
}

// NotificationKind is a closed set of feed entry kinds. Kinds the adapter
// does not recognize are ignored, keeping the feed forward compatible.
type NotificationKind string

const (
	// NotificationRunFinished signals a report execution finished.
	NotificationRunFinished NotificationKind = "RUN_FINISHED"
	// NotificationDiscoveryFinished signals a test case discovery finished.
	NotificationDiscoveryFinished NotificationKind = "DISCOVERY_FINISHED"
)

// Notification is one entry of the pull-only notification feed.
type Notification struct {
	Kind      NotificationKind `json:"kind"`
	Timestamp time.Time        `json:"timestamp"`
	TargetID  string           `json:"target_id"`
}
