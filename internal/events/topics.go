package events

// Topic constants for storefront domain events.
const (
	TopicOrderPaid        = "order.paid"
	TopicOrderUnrecorded  = "order.unrecorded"
	TopicOrderStatus      = "order.fulfillment_changed"
	TopicPaymentFailed    = "payment.failed"
	TopicPaymentCancelled = "payment.cancelled"
)

