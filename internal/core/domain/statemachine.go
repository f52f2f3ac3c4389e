package domain

// TransitionDecision classifies what a gateway event may do to a refund in
// its current status.
type TransitionDecision int

const (
	// DecisionApply moves the refund to Transition.Next.
	DecisionApply TransitionDecision = iota
	// DecisionNoOp records the event but changes nothing. Covers terminal
	// states and progress reports (PENDING/UNKNOWN) while awaiting the gateway.
	DecisionNoOp
	// DecisionOutOfSequence rejects the event as an anomaly: the refund never
	// reached a gateway-owned state.
	DecisionOutOfSequence
)

// Transition is the result of DecideTransition.
type Transition struct {
	Decision TransitionDecision
	Next     RefundStatus // meaningful only when Decision == DecisionApply
}

// gatewayTransitions is the authoritative table for event-driven transitions.
// Ordering is enforced by state precedence, not timestamps: once a refund
// leaves GATEWAY_PENDING/GATEWAY_ERROR, stale redeliveries become no-ops.
var gatewayTransitions = map[RefundStatus]map[EventOutcome]RefundStatus{
	RefundStatusGatewayPending: {
		EventOutcomeSucceeded: RefundStatusCompleted,
		EventOutcomeFailed:    RefundStatusGatewayError,
	},
	RefundStatusGatewayError: {
		EventOutcomeSucceeded: RefundStatusCompleted,
		EventOutcomeFailed:    RefundStatusFailed,
	},
}

// DecideTransition is a pure function of (current status, event outcome).
// It never consults wall-clock time.
func DecideTransition(current RefundStatus, outcome EventOutcome) Transition {
	if current.IsTerminal() {
		return Transition{Decision: DecisionNoOp}
	}
	byOutcome, ok := gatewayTransitions[current]
	if !ok {
		return Transition{Decision: DecisionOutOfSequence}
	}
	next, ok := byOutcome[outcome]
	if !ok {
		return Transition{Decision: DecisionNoOp}
	}
	return Transition{Decision: DecisionApply, Next: next}
}

// portalTransitions lists the legal operator-driven moves. Gateway-owned and
// terminal states are absent: nothing but a gateway event leaves
// GATEWAY_PENDING/GATEWAY_ERROR, and nothing leaves a terminal state.
var portalTransitions = map[RefundStatus][]RefundStatus{
	RefundStatusDraft: {
		RefundStatusSubmitted,
		RefundStatusCanceled,
	},
	RefundStatusSubmitted: {
		RefundStatusValidationFailed,
		RefundStatusPendingApproval,
		RefundStatusProcessing,
		RefundStatusCanceled,
	},
	RefundStatusValidationFailed: {
		RefundStatusSubmitted,
		RefundStatusCanceled,
	},
	RefundStatusPendingApproval: {
		RefundStatusProcessing,
		RefundStatusRejected,
		RefundStatusCanceled,
	},
	RefundStatusProcessing: {
		RefundStatusGatewayPending,
	},
}

// CanTransition reports whether an operator action may move a refund from
// one status to another.
func CanTransition(from, to RefundStatus) bool {
	for _, allowed := range portalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
