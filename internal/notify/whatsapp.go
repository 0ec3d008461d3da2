package notify

import "context"

// OperatorMessenger sends a text message to the shop operator.
type OperatorMessenger interface {
	NotifyOperator(ctx context.Context, text string) error
}

// WhatsAppSink forwards the push text of every event to the operator's WhatsApp.
type WhatsAppSink struct {
	messenger OperatorMessenger
}

func NewWhatsAppSink(m OperatorMessenger) *WhatsAppSink {
	return &WhatsAppSink{messenger: m}
}

func (s *WhatsAppSink) Name() string { return "whatsapp" }

func (s *WhatsAppSink) Send(ctx context.Context, evt Event) error {
	return s.messenger.NotifyOperator(ctx, evt.Text())
}
