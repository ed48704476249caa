package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"student_risk_notifier/internal/domain/notification"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	accountSIDPrefix   = "AC"
	minAuthTokenLength = 32
	providerDateLayout = time.RFC1123Z

	StatusUnknown = "unknown"
	StatusFailed  = "failed"
)

// Config holds the provider credentials and pacing for the SMS channel.
type Config struct {
	AccountSID   string
	AuthToken    string
	FromNumber   string
	BaseURL      string // e.g. https://api.twilio.com
	CountryCode  string // calling code without "+", e.g. 250
	BulkInterval time.Duration
	Timeout      time.Duration
}

// Gateway sends SMS through a Twilio-compatible REST API. Whether the gateway
// is enabled is decided once in NewGateway and never re-evaluated.
type Gateway struct {
	cfg     Config
	enabled bool
	client  *http.Client
	limiter *rate.Limiter
	logger  *logrus.Entry
}

// NewGateway validates cfg and builds the gateway. Invalid or missing
// credentials produce a disabled gateway, not an error.
func NewGateway(cfg Config, client *http.Client, logger *logrus.Entry) *Gateway {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	limit := rate.Inf
	if cfg.BulkInterval > 0 {
		limit = rate.Every(cfg.BulkInterval)
	}

	g := &Gateway{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}

	switch {
	case cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.FromNumber == "":
		logger.Warn("SMS gateway disabled: account SID, auth token and sender number are required")
	case !strings.HasPrefix(cfg.AccountSID, accountSIDPrefix):
		logger.Warnf("SMS gateway disabled: account SID must start with %q", accountSIDPrefix)
	case len(cfg.AuthToken) < minAuthTokenLength:
		logger.Warnf("SMS gateway disabled: auth token shorter than %d characters", minAuthTokenLength)
	default:
		g.enabled = true
		logger.WithField("from", cfg.FromNumber).Info("SMS gateway enabled")
	}
	return g
}

func (g *Gateway) Channel() notification.Channel { return notification.ChannelSMS }
func (g *Gateway) Enabled() bool                 { return g.enabled }

type messageResponse struct {
	SID          string  `json:"sid"`
	Status       string  `json:"status"`
	ErrorCode    *int    `json:"error_code"`
	ErrorMessage *string `json:"error_message"`
	DateCreated  string  `json:"date_created"`
	DateSent     string  `json:"date_sent"`
	DateUpdated  string  `json:"date_updated"`
}

type errorResponse struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

// Send delivers one SMS. All failures, including a disabled gateway, are
// reported in the returned attempt.
func (g *Gateway) Send(ctx context.Context, rawNumber string, msg notification.Message) notification.DeliveryAttempt {
	if !g.enabled {
		return notification.Failed(notification.ChannelSMS, rawNumber, notification.ErrChannelNotConfigured)
	}
	if strings.TrimSpace(rawNumber) == "" {
		return notification.Failed(notification.ChannelSMS, rawNumber, fmt.Errorf("%w: empty phone number", notification.ErrInvalidRecipient))
	}

	to := NormalizeNumber(rawNumber, g.cfg.CountryCode)
	attempt := notification.DeliveryAttempt{
		Channel:     notification.ChannelSMS,
		Recipient:   to,
		Message:     notification.Message{Body: msg.Body},
		AttemptedAt: time.Now(),
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", g.cfg.FromNumber)
	form.Set("Body", msg.Body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", g.cfg.BaseURL, g.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return g.fail(attempt, fmt.Errorf("%w: build request: %v", notification.ErrTransportFailure, err))
	}
	req.SetBasicAuth(g.cfg.AccountSID, g.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return g.fail(attempt, fmt.Errorf("%w: %v", notification.ErrTransportFailure, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return g.fail(attempt, fmt.Errorf("%w: read response: %v", notification.ErrTransportFailure, err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr errorResponse
		if jsonErr := json.Unmarshal(body, &apiErr); jsonErr == nil && apiErr.Message != "" {
			return g.fail(attempt, fmt.Errorf("%w: provider error %d: %s", notification.ErrTransportFailure, apiErr.Code, apiErr.Message))
		}
		return g.fail(attempt, fmt.Errorf("%w: provider returned HTTP %d", notification.ErrTransportFailure, resp.StatusCode))
	}

	var out messageResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return g.fail(attempt, fmt.Errorf("%w: decode response: %v", notification.ErrTransportFailure, err))
	}

	attempt.Success = true
	attempt.ProviderRef = out.SID
	g.logger.WithFields(logrus.Fields{"to": to, "sid": out.SID, "status": out.Status}).Debug("SMS accepted by provider")
	return attempt
}

func (g *Gateway) fail(attempt notification.DeliveryAttempt, err error) notification.DeliveryAttempt {
	attempt.Success = false
	attempt.Err = err
	attempt.ErrorDetail = err.Error()
	g.logger.WithError(err).WithField("to", attempt.Recipient).Warn("SMS send failed")
	return attempt
}

// SendBulk sends sequentially, paced by the gateway's limiter. The result is
// successful as soon as one message got through.
func (g *Gateway) SendBulk(ctx context.Context, recipients []notification.BulkRecipient) notification.BulkResult {
	result := notification.BulkResult{Attempts: make([]notification.DeliveryAttempt, 0, len(recipients))}

	for _, r := range recipients {
		var attempt notification.DeliveryAttempt
		if !g.enabled {
			attempt = notification.Failed(notification.ChannelSMS, r.Recipient, notification.ErrChannelNotConfigured)
		} else if err := g.limiter.Wait(ctx); err != nil {
			attempt = notification.Failed(notification.ChannelSMS, r.Recipient, fmt.Errorf("%w: %v", notification.ErrTransportFailure, err))
		} else {
			attempt = g.Send(ctx, r.Recipient, r.Message)
		}

		if attempt.Success {
			result.Sent++
		} else {
			result.Failed++
		}
		result.Attempts = append(result.Attempts, attempt)
	}

	result.Success = result.Sent > 0
	g.logger.WithFields(logrus.Fields{"sent": result.Sent, "failed": result.Failed}).Info("SMS bulk send finished")
	return result
}

// CheckStatus looks up the provider status of a sent message. It never fails:
// a disabled gateway reports "unknown" and a failed lookup reports "failed".
func (g *Gateway) CheckStatus(ctx context.Context, sid string) notification.ProviderStatus {
	if !g.enabled {
		return notification.ProviderStatus{Status: StatusUnknown}
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages/%s.json", g.cfg.BaseURL, g.cfg.AccountSID, url.PathEscape(sid))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return notification.ProviderStatus{Status: StatusFailed}
	}
	req.SetBasicAuth(g.cfg.AccountSID, g.cfg.AuthToken)
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.WithError(err).WithField("sid", sid).Warn("SMS status lookup failed")
		return notification.ProviderStatus{Status: StatusFailed}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.logger.WithFields(logrus.Fields{"sid": sid, "http_status": resp.StatusCode}).Warn("SMS status lookup rejected")
		return notification.ProviderStatus{Status: StatusFailed}
	}

	var out messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		g.logger.WithError(err).WithField("sid", sid).Warn("SMS status response could not be decoded")
		return notification.ProviderStatus{Status: StatusFailed}
	}

	status := notification.ProviderStatus{
		Status:      out.Status,
		DateCreated: parseProviderDate(out.DateCreated),
		DateSent:    parseProviderDate(out.DateSent),
		DateUpdated: parseProviderDate(out.DateUpdated),
	}
	if status.Status == "" {
		status.Status = StatusUnknown
	}
	if out.ErrorCode != nil {
		status.ErrorCode = strconv.Itoa(*out.ErrorCode)
	}
	return status
}

func parseProviderDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(providerDateLayout, s)
	if err != nil {
		return nil
	}
	return &t
}
