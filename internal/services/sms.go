package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/net/proxy"

	"warranty-reminder/internal/config"
	"warranty-reminder/internal/errs"
)

// SMSNotifier sends text messages through an HTTP SMS gateway
type SMSNotifier struct {
	config *config.SMSConfig
	client *http.Client
	now    func() time.Time
}

type smsPayload struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Body string `json:"body"`
}

// NewSMSNotifier creates a new SMS notifier. When a SOCKS5 proxy is
// configured every gateway request is dialed through it.
func NewSMSNotifier(cfg *config.SMSConfig) (*SMSNotifier, error) {
	client := &http.Client{}

	if cfg.Proxy != "" {
		dialer, err := proxy.SOCKS5("tcp", cfg.Proxy, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 proxy: %w", err)
		}
		transport := &http.Transport{}
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
		client.Transport = transport
	}

	return &SMSNotifier{config: cfg, client: client, now: time.Now}, nil
}

// Send posts one message to the gateway
func (s *SMSNotifier) Send(ctx context.Context, to, body string) error {
	jsonData, err := json.Marshal(smsPayload{To: to, From: s.config.Sender, Body: body})
	if err != nil {
		return errs.NewTransportError(ChannelSMS, false, err)
	}

	gatewayURL := s.config.GatewayURL

	// Sign the request when a secret is configured
	if s.config.Secret != "" {
		timestamp := strconv.FormatInt(s.now().UnixMilli(), 10)
		sign := generateSign(timestamp, s.config.Secret)

		parsedURL, err := url.Parse(gatewayURL)
		if err != nil {
			return errs.NewTransportError(ChannelSMS, false, fmt.Errorf("invalid gateway URL: %w", err))
		}

		query := parsedURL.Query()
		query.Set("timestamp", timestamp)
		query.Set("sign", sign)
		parsedURL.RawQuery = query.Encode()
		gatewayURL = parsedURL.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gatewayURL, bytes.NewReader(jsonData))
	if err != nil {
		return errs.NewTransportError(ChannelSMS, false, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errs.NewTransportError(ChannelSMS, true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Surface the gateway's error message when it sends one
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var result struct {
		Error string `json:"error"`
	}
	msg := fmt.Sprintf("sms gateway returned status %d", resp.StatusCode)
	if json.Unmarshal(detail, &result) == nil && result.Error != "" {
		msg += ": " + result.Error
	}

	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return errs.NewTransportError(ChannelSMS, retryable, errs.New(msg))
}

// generateSign signs "timestamp\nsecret" with HMAC-SHA256
func generateSign(timestamp, secret string) string {
	stringToSign := fmt.Sprintf("%s\n%s", timestamp, secret)
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(stringToSign))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
