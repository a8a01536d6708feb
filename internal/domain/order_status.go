package domain

type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "CREATED"
	OrderStatusSubmitted OrderStatus = "SUBMITTED"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusFailed    OrderStatus = "FAILED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusCreated:   {OrderStatusSubmitted, OrderStatusConfirmed, OrderStatusFailed},
	OrderStatusSubmitted: {OrderStatusConfirmed, OrderStatusFailed},
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusConfirmed || s == OrderStatusFailed
}

// IsUnresolved reports whether the POS outcome of the order is not known yet.
func (s OrderStatus) IsUnresolved() bool {
	return s == OrderStatusCreated || s == OrderStatusSubmitted
}

func (s OrderStatus) String() string {
	return string(s)
}

func CanTransitionTo(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesOf lists the statuses an order may be in to move to target.
func SourcesOf(target OrderStatus) []OrderStatus {
	var out []OrderStatus
	for _, from := range []OrderStatus{OrderStatusCreated, OrderStatusSubmitted} {
		if CanTransitionTo(from, target) {
			out = append(out, from)
		}
	}
	return out
}
