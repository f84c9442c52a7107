package models

// ValidOrderTransitions определяет допустимые переходы статусов ордера
//
// rejected ставится только при валидации и в книгу не попадает,
// поэтому переходов в него из других статусов нет.
var ValidOrderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {
		OrderStatusFilled,
		OrderStatusPartiallyFilled,
		OrderStatusCancelled,
	},
	OrderStatusPartiallyFilled: {
		OrderStatusPartiallyFilled, // очередное частичное исполнение
		OrderStatusFilled,
		OrderStatusCancelled,
	},
	OrderStatusFilled:    {},
	OrderStatusCancelled: {},
	OrderStatusRejected:  {},
}

// CanTransitionOrder проверяет допустимость перехода статуса ордера
func CanTransitionOrder(from, to OrderStatus) bool {
	allowed, ok := ValidOrderTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminalStatus - из статуса нет переходов
func IsTerminalStatus(s OrderStatus) bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}

// IsOpenStatus - ордер может быть исполнен или отменён
func IsOpenStatus(s OrderStatus) bool {
	return s == OrderStatusPending || s == OrderStatusPartiallyFilled
}

// IsValidStatus - статус известен
func IsValidStatus(s OrderStatus) bool {
	_, ok := ValidOrderTransitions[s]
	return ok
}
