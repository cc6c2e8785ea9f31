package constants

// DocStatus is the canonical per-document outcome for a batch run.
type DocStatus string

// Stable values (store these exact strings in DB).
const (
	DocStatusQueued    DocStatus = "QUEUED"    // waiting for a worker
	DocStatusRunning   DocStatus = "RUNNING"   // in progress
	DocStatusCompleted DocStatus = "COMPLETED" // extraction + validation done
	DocStatusReview    DocStatus = "REVIEW"    // completed but flagged for human review
	DocStatusFailed    DocStatus = "FAILED"    // terminal failure, reason recorded
)

// FieldNames is the closed set of extracted contract fields, in report order.
var FieldNames = []string{
	"party",
	"contract_name",
	"contract_type",
	"address",
	"country",
	"signed_date",
	"start_date",
	"end_date",
	"signature_status",
}
