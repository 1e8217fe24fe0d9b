package model

// Severity of a classified remote failure.
type Severity string

const (
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// Classification is the structured verdict on a failed remote call. It is never
// persisted on its own; it rides inside SyncLog detail payloads and drives the
// backoff controller's decisions.
type Classification struct {
	Code      string   `json:"code"`
	Message   string   `json:"message"`
	Retryable bool     `json:"retryable"`
	Severity  Severity `json:"severity"`
}
