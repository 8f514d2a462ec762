package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warranty-reminder/internal/config"
	"warranty-reminder/internal/errs"
)

func TestNotifyServiceDisabledChannels(t *testing.T) {
	svc, err := NewNotifyService(&config.NotificationsConfig{}, discardLogger())
	require.NoError(t, err)

	assert.Empty(t, svc.Channels())
	assert.True(t, errs.Is(svc.SendEmail(context.Background(), "a@example.com", "s", "b"), errs.ErrChannelDisabled))
	assert.True(t, errs.Is(svc.SendSms(context.Background(), "+15550102030", "b"), errs.ErrChannelDisabled))
}

func TestNotifyServiceRoutesEmail(t *testing.T) {
	server := startSMTPServer(t, "250 OK")
	svc, err := NewNotifyService(&config.NotificationsConfig{
		Email: *emailConfig(server.port()),
		SMS:   config.SMSConfig{Enabled: true, GatewayURL: "http://gateway.invalid"},
	}, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, []string{ChannelEmail, ChannelSMS}, svc.Channels())
	require.NoError(t, svc.SendEmail(context.Background(), "owner@example.com", "Warranty reminder: TV", "body"))
	assert.Len(t, server.received(), 1)
}
