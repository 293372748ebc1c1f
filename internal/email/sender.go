package email

import (
	"context"
	"errors"
)

// Sender define la interfaz para avisos por correo de mensajes nuevos.
type Sender interface {
	SendMessageNotification(ctx context.Context, toEmail, senderName, preview string) error
}

type disabledSender struct {
	reason string
}

func NewDisabledSender(reason string) Sender {
	return &disabledSender{reason: reason}
}

func (s *disabledSender) SendMessageNotification(_ context.Context, _ string, _ string, _ string) error {
	if s.reason == "" {
		return errors.New("email sender disabled")
	}
	return errors.New(s.reason)
}
