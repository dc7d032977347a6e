package domain

// ============================================================
// Progress events (streamed as NDJSON)
// ============================================================

// EventType tags each progress event on the wire.
type EventType string

const (
	EventInit          EventType = "init"
	EventState         EventType = "state"
	EventProofStatus   EventType = "proofStatus"
	EventChargeStarted EventType = "chargeStarted"
	EventChargeResult  EventType = "chargeResult"
	EventLog           EventType = "log"
	EventDone          EventType = "done"
)

// ChargeStatus is the outcome reported for one charge.
type ChargeStatus string

const (
	ChargeSuccess   ChargeStatus = "success"
	ChargeUnmatched ChargeStatus = "unmatched"
	ChargeError     ChargeStatus = "error"
)

// Event is one entry of a run's progress stream.
type Event interface {
	EventType() EventType
}

// EmitFunc receives progress events in order, as they happen.
type EmitFunc func(Event)

// InitEvent lists the charges a run will process.
type InitEvent struct {
	Type    EventType `json:"type"`
	RunID   string    `json:"runId"`
	Charges []string  `json:"charges"`
}

func (e InitEvent) EventType() EventType { return EventInit }

// StateEvent announces a state transition.
type StateEvent struct {
	Type  EventType `json:"type"`
	State RunState  `json:"state"`
}

func (e StateEvent) EventType() EventType { return EventState }

// ProofStatusEvent reports what was read from one proof page.
type ProofStatusEvent struct {
	Type    EventType `json:"type"`
	Index   int       `json:"index"`
	Summary string    `json:"summary"`
}

func (e ProofStatusEvent) EventType() EventType { return EventProofStatus }

// ChargeStartedEvent marks the beginning of one charge.
type ChargeStartedEvent struct {
	Type EventType `json:"type"`
	Name string    `json:"name"`
}

func (e ChargeStartedEvent) EventType() EventType { return EventChargeStarted }

// ChargeResultEvent reports the outcome of one charge.
type ChargeResultEvent struct {
	Type          EventType    `json:"type"`
	Name          string       `json:"name"`
	Status        ChargeStatus `json:"status"`
	Method        MatchMethod  `json:"method"`
	ProofIndex    int          `json:"proofIndex"`
	Justification string       `json:"justification,omitempty"`
}

func (e ChargeResultEvent) EventType() EventType { return EventChargeResult }

// LogEvent is a free-form line for the live log.
type LogEvent struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}

func (e LogEvent) EventType() EventType { return EventLog }

// DoneEvent closes the stream with the run summary.
type DoneEvent struct {
	Type            EventType `json:"type"`
	RunID           string    `json:"runId"`
	Total           int       `json:"total"`
	Matched         int       `json:"matched"`
	Unmatched       int       `json:"unmatched"`
	ArchiveLocation string    `json:"archiveLocation"`
	ReportLocation  string    `json:"reportLocation,omitempty"`
	UnclaimedProofs []int     `json:"unclaimedProofs"`
}

func (e DoneEvent) EventType() EventType { return EventDone }

// NewLog builds a log event.
func NewLog(msg string) LogEvent {
	return LogEvent{Type: EventLog, Message: msg}
}

// NewDone builds the closing event from a summary.
func NewDone(s *RunSummary) DoneEvent {
	return DoneEvent{
		Type:            EventDone,
		RunID:           s.RunID,
		Total:           s.Total,
		Matched:         s.Matched,
		Unmatched:       s.Unmatched,
		ArchiveLocation: s.ArchiveLocation,
		ReportLocation:  s.ReportLocation,
		UnclaimedProofs: s.UnclaimedProofs,
	}
}
