package sessions

import (
	"context"
	"time"
)

// StdioSessionID is the reserved session ID for the single-connection stdio
// transport. At most one such session exists per process and it is bound
// before the transport starts serving.
const StdioSessionID = "stdio"

// Status reflects whether the owning process currently holds a live
// transport handle for the session. It is derived by stores on read and is
// never authoritative input.
type Status string

const (
	StatusActive           Status = "active"
	StatusTransportMissing Status = "transport_missing"
)

// TransportHandle is the live, process-local connection object used to push
// out-of-band signals to a specific client. Handles are never serialized and
// never cross a process boundary.
type TransportHandle interface {
	SessionID() string

	// NotifyResourceListChanged pushes a "resource list changed" signal to
	// the connected client. Delivery is fire-and-forget: at-least-once,
	// deduplicated by effect on the client side.
	NotifyResourceListChanged(ctx context.Context) error
}

// Record is the unit of state held per connected client.
//
// Credential is immutable after creation. TargetID is mutated by tool calls
// that switch the client's focus to a different test target and cleared when
// that target disappears upstream. The cache fields (ReportIDs, CaseIDs,
// TraceIndex) are entirely derived and rebuilt on refresh; they are never a
// snapshot older than their corresponding refresh timestamp.
type Record struct {
	SessionID  string `json:"session_id"`
	Credential string `json:"credential"`
	Status     Status `json:"status"`

	// TargetID is the upstream test target the client is currently focused
	// on. Empty means there is nothing to reconcile for this session.
	TargetID string `json:"target_id,omitempty"`

	ReportIDs  []string          `json:"report_ids,omitempty"`
	CaseIDs    []string          `json:"case_ids,omitempty"`
	TraceIndex map[string]string `json:"trace_index,omitempty"`

	// Low-water marks for staleness comparison. Only ever move forward.
	LastReportRefresh time.Time `json:"last_report_refresh"`
	LastCaseRefresh   time.Time `json:"last_case_refresh"`

	// Handle is process-local and excluded from serialization.
	Handle TransportHandle `json:"-"`
}

// Clone returns a deep copy of the record. The transport handle is shared,
// not copied; it is an opaque reference to the live connection.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.ReportIDs = append([]string(nil), r.ReportIDs...)
	cp.CaseIDs = append([]string(nil), r.CaseIDs...)
	if r.TraceIndex != nil {
		cp.TraceIndex = make(map[string]string, len(r.TraceIndex))
		for k, v := range r.TraceIndex {
			cp.TraceIndex[k] = v
		}
	}
	return &cp
}
