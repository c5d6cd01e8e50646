package checkout

// Step is where a checkout session currently is.
type Step string

const (
	StepCartReview      Step = "cart_review"
	StepDeliveryEntry   Step = "delivery_entry"
	StepPaymentSelect   Step = "payment_select"
	StepOrderPending    Step = "order_pending"
	StepAwaitingGateway Step = "awaiting_gateway"
	StepConfirmed       Step = "confirmed"
	StepFailed          Step = "failed"
)

var transitions = map[Step][]Step{
	StepCartReview:      {StepDeliveryEntry},
	StepDeliveryEntry:   {StepCartReview, StepPaymentSelect},
	StepPaymentSelect:   {StepCartReview, StepDeliveryEntry, StepOrderPending, StepAwaitingGateway},
	StepOrderPending:    {StepCartReview, StepDeliveryEntry, StepPaymentSelect, StepConfirmed, StepFailed},
	StepAwaitingGateway: {StepPaymentSelect, StepConfirmed, StepFailed},
	StepFailed:          {StepCartReview, StepDeliveryEntry, StepPaymentSelect},
	StepConfirmed:       {StepCartReview},
}

// CanTransitionTo reports whether the flow may move from one step to another.
func CanTransitionTo(from, to Step) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known step.
func (s Step) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal is true once an order was confirmed.
func (s Step) IsTerminal() bool {
	return s == StepConfirmed
}

// entryRank orders the data-entry steps; other steps rank -1.
func (s Step) entryRank() int {
	switch s {
	case StepCartReview:
		return 0
	case StepDeliveryEntry:
		return 1
	case StepPaymentSelect:
		return 2
	default:
		return -1
	}
}

func (s Step) String() string {
	return string(s)
}
