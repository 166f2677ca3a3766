package models

import "time"

type Verdict string

const (
	VerdictValid   Verdict = "valid"
	VerdictInvalid Verdict = "invalid"
	VerdictRisky   Verdict = "risky"
	VerdictCustom  Verdict = "custom"
)

// Category returns the capitalized form used for per-category files.
func (v Verdict) Category() string {
	switch v {
	case VerdictValid:
		return "Valid"
	case VerdictInvalid:
		return "Invalid"
	case VerdictRisky:
		return "Risky"
	case VerdictCustom:
		return "Custom"
	}
	return "Risky"
}

// VerdictFromCategory maps a file category back to its verdict.
// Unknown categories come back as risky so a corrupted file never
// produces an out-of-range verdict.
func VerdictFromCategory(category string) Verdict {
	switch category {
	case "Valid", "valid":
		return VerdictValid
	case "Invalid", "invalid":
		return VerdictInvalid
	case "Custom", "custom":
		return VerdictCustom
	}
	return VerdictRisky
}

// Verification method selectors accepted by the engine, plus the
// method tags recorded on results.
const (
	MethodAuto  = "auto"
	MethodLogin = "login"
	MethodSMTP  = "smtp"

	MethodAPI     = "api"
	MethodBrowser = "browser"
	MethodBounce  = "bounce"
	MethodCached  = "cached"
	MethodPolicy  = "policy"
)

// VerificationResult is the final classification for one address.
// Immutable once produced; equality is by Address.
type VerificationResult struct {
	Address   string            `json:"address"`
	Verdict   Verdict           `json:"verdict"`
	Reason    string            `json:"reason"`
	Provider  string            `json:"provider"`
	Method    string            `json:"method"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

type OutcomeKind string

const (
	OutcomeDefinitiveValid   OutcomeKind = "definitive_valid"
	OutcomeDefinitiveInvalid OutcomeKind = "definitive_invalid"
	OutcomeAmbiguous         OutcomeKind = "ambiguous"
	OutcomeCustom            OutcomeKind = "custom"
	OutcomeError             OutcomeKind = "error"
)

// ProbeOutcome is the intermediate signal a single probe produces.
type ProbeOutcome struct {
	Kind     OutcomeKind       `json:"kind"`
	Reason   string            `json:"reason"`
	Evidence map[string]string `json:"evidence,omitempty"`
}

func (o ProbeOutcome) Definitive() bool {
	return o.Kind == OutcomeDefinitiveValid || o.Kind == OutcomeDefinitiveInvalid
}

// Task tracks one batch verification run.
type Task struct {
	ID        string                        `json:"id"`
	Addresses []string                      `json:"addresses"`
	Method    string                        `json:"method"`
	Status    TaskStatus                    `json:"status"`
	Completed int                           `json:"completed"`
	Results   map[string]VerificationResult `json:"results"`
	Start     time.Time                     `json:"start"`
	End       *time.Time                    `json:"end,omitempty"`
}

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// HistoryEntry is one event in an address's verification history.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
}
