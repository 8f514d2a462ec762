package services

import (
	"context"
	"log/slog"

	"warranty-reminder/internal/config"
	"warranty-reminder/internal/errs"
)

//go:generate mockgen -source=notify.go -destination=notify_mock.go -package=services

// NotificationSender delivers rendered reminders. Failures are reported as
// *errs.TransportError; a channel that is not configured returns an error
// marked errs.ErrChannelDisabled.
type NotificationSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
	SendSms(ctx context.Context, to, body string) error
}

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// NotifyService routes messages to the enabled channels
type NotifyService struct {
	email *EmailNotifier
	sms   *SMSNotifier
}

// NewNotifyService creates a new notification service from configuration
func NewNotifyService(cfg *config.NotificationsConfig, logger *slog.Logger) (*NotifyService, error) {
	service := &NotifyService{}

	if cfg.Email.Enabled {
		service.email = NewEmailNotifier(&cfg.Email)
		logger.Info("email notifications enabled", slog.String("smtp_host", cfg.Email.SMTPHost))
	}

	if cfg.SMS.Enabled {
		sms, err := NewSMSNotifier(&cfg.SMS)
		if err != nil {
			return nil, err
		}
		service.sms = sms
		logger.Info("sms notifications enabled", slog.String("gateway", cfg.SMS.GatewayURL))
	}

	return service, nil
}

// NewNotifyServiceWith assembles a service from already built notifiers.
// Either may be nil to disable that channel.
func NewNotifyServiceWith(email *EmailNotifier, sms *SMSNotifier) *NotifyService {
	return &NotifyService{email: email, sms: sms}
}

func (s *NotifyService) SendEmail(ctx context.Context, to, subject, body string) error {
	if s.email == nil {
		return errs.Mark(errs.New("email channel is not configured"), errs.ErrChannelDisabled)
	}
	return s.email.Send(ctx, to, subject, body)
}

func (s *NotifyService) SendSms(ctx context.Context, to, body string) error {
	if s.sms == nil {
		return errs.Mark(errs.New("sms channel is not configured"), errs.ErrChannelDisabled)
	}
	return s.sms.Send(ctx, to, body)
}

// Channels lists the enabled channel names
func (s *NotifyService) Channels() []string {
	var channels []string
	if s.email != nil {
		channels = append(channels, ChannelEmail)
	}
	if s.sms != nil {
		channels = append(channels, ChannelSMS)
	}
	return channels
}
