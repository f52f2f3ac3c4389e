package domain

// AckStatus is what we tell the gateway about a delivery, deliberately
// decoupled from whether a transition was applied. ACCEPTED and REJECTED both
// stop redelivery; only RETRY asks the gateway to deliver again.
type AckStatus string

const (
	AckAccepted AckStatus = "ACCEPTED"
	AckRejected AckStatus = "REJECTED"
	AckRetry    AckStatus = "RETRY"
)

// Ack is the acknowledgment computed for a webhook delivery. It is recorded
// in the idempotency ledger so duplicates replay the exact same answer.
type Ack struct {
	Status  AckStatus `json:"status"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
}

func AckOf(status AckStatus, code, message string) Ack {
	return Ack{Status: status, Code: code, Message: message}
}
