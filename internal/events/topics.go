package events

// Topic constants for payment events.
const (
	TopicSessionCreated   = "payment.session_created"
	TopicPaymentConfirmed = "payment.confirmed"
	TopicPaymentDeclined  = "payment.declined"
	TopicCallbackRejected = "payment.callback_rejected"
	TopicCallbackOrphaned = "payment.callback_unmatched"
	TopicInquiryCompleted = "payment.inquiry_completed"
)
