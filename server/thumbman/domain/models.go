package domain

// StorageEvent is an inbound "object finalized" notification. EventID is the
// deduplication key; the event source delivers at least once.
type StorageEvent struct {
	Bucket      string `json:"bucket"`
	ObjectKey   string `json:"name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size"`
	EventID     string `json:"event_id"`
}

// SizeSpec declares one derivative size. The table is loaded once at startup
// and read-only afterwards.
type SizeSpec struct {
	Name          string
	MaxWidth      int
	MaxHeight     int
	Enabled       bool
	OutputFormat  string // "jpeg" or "png"
	OutputQuality int
}

// SizeFailure records one size that could not be generated.
type SizeFailure struct {
	SizeName string `json:"size_name"`
	Reason   string `json:"reason"`
}

type OutcomeStatus string

const (
	OutcomeSkipped   OutcomeStatus = "skipped"
	OutcomeDuplicate OutcomeStatus = "duplicate"
	OutcomeCompleted OutcomeStatus = "completed"
	OutcomeFailed    OutcomeStatus = "failed"
)

// IngressOutcome summarizes what the pipeline did with one storage event.
// Business failures are part of the outcome, never a transport error.
type IngressOutcome struct {
	Status    OutcomeStatus `json:"status"`
	Reason    string        `json:"reason,omitempty"`
	AssetID   string        `json:"asset_id,omitempty"`
	ObjectKey string        `json:"object_key,omitempty"`
	Generated []string      `json:"generated,omitempty"`
	Failures  []SizeFailure `json:"failures,omitempty"`
}
