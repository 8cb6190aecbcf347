package security

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Severity grades a security event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// SecurityEvent is what callers report. Severity may be left empty.
type SecurityEvent struct {
	UserID    string
	Action    string
	Resource  string
	IP        string
	UserAgent string
	Success   bool
	Details   map[string]interface{}
	Severity  Severity
}

// LogEntry is the record written to the log, persisted by an EventSink and
// forwarded to the webhook.
type LogEntry struct {
	ID        string                 `json:"-"`
	Timestamp time.Time              `json:"timestamp"`
	Severity  Severity               `json:"severity"`
	Action    string                 `json:"action"`
	Resource  string                 `json:"resource"`
	IP        string                 `json:"ip"`
	UserAgent string                 `json:"userAgent"`
	Success   bool                   `json:"success"`
	Details   map[string]interface{} `json:"details,omitempty"`
	UserID    string                 `json:"userId,omitempty"`
}

// EventSink persists audit entries.
type EventSink interface {
	InsertSecurityEvent(ctx context.Context, e *LogEntry) error
}

// AuditLogger records security events. Logging is best-effort: nothing it
// does can fail the caller.
type AuditLogger struct {
	log        logrus.FieldLogger
	webhookURL string
	client     *http.Client
	limiter    *rate.Limiter
	sink       EventSink
	now        func() time.Time
	wg         sync.WaitGroup
}

type AuditOption func(*AuditLogger)

// WithWebhook forwards events above low severity to url.
func WithWebhook(url string) AuditOption {
	return func(a *AuditLogger) { a.webhookURL = url }
}

func WithHTTPClient(c *http.Client) AuditOption {
	return func(a *AuditLogger) { a.client = c }
}

// WithWebhookRate caps outbound webhook posts; events over the budget are
// only logged locally.
func WithWebhookRate(perSecond float64, burst int) AuditOption {
	return func(a *AuditLogger) { a.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithEventSink persists every entry in addition to logging it.
func WithEventSink(s EventSink) AuditOption {
	return func(a *AuditLogger) { a.sink = s }
}

func WithAuditClock(now func() time.Time) AuditOption {
	return func(a *AuditLogger) { a.now = now }
}

func NewAuditLogger(log logrus.FieldLogger, opts ...AuditOption) *AuditLogger {
	a := &AuditLogger{
		log:     log,
		client:  http.DefaultClient,
		limiter: rate.NewLimiter(10, 20),
		now:     time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// LogSecurityEvent writes ev as a structured log line, persists it when a
// sink is configured and, for severities above low, posts it to the webhook
// in the background. The returned entry is what was recorded.
func (a *AuditLogger) LogSecurityEvent(ctx context.Context, ev SecurityEvent) LogEntry {
	sev := ev.Severity
	if sev == "" {
		sev = SeverityLow
		if !ev.Success {
			sev = SeverityMedium
		}
	}
	entry := LogEntry{
		ID:        uuid.NewString(),
		Timestamp: a.now().UTC(),
		Severity:  sev,
		Action:    ev.Action,
		Resource:  ev.Resource,
		IP:        ev.IP,
		UserAgent: ev.UserAgent,
		Success:   ev.Success,
		Details:   ev.Details,
		UserID:    ev.UserID,
	}

	fields := logrus.Fields{
		"security":  true,
		"severity":  entry.Severity,
		"action":    entry.Action,
		"resource":  entry.Resource,
		"ip":        entry.IP,
		"userAgent": entry.UserAgent,
		"success":   entry.Success,
	}
	if entry.UserID != "" {
		fields["userId"] = entry.UserID
	}
	if len(entry.Details) > 0 {
		fields["details"] = entry.Details
	}
	l := a.log.WithFields(fields)
	switch sev.rank() {
	case 0:
		l.Info("security event")
	case 1:
		l.Warn("security event")
	default:
		l.Error("security event")
	}

	if a.sink != nil {
		if err := a.sink.InsertSecurityEvent(ctx, &entry); err != nil {
			a.log.WithError(err).Error("persist security event")
		}
	}

	if sev.rank() > 0 && a.webhookURL != "" {
		a.forward(entry)
	}
	return entry
}

func (a *AuditLogger) forward(entry LogEntry) {
	if !a.limiter.Allow() {
		a.log.WithFields(logrus.Fields{
			"eventId":  entry.ID,
			"action":   entry.Action,
			"severity": entry.Severity,
			"resource": entry.Resource,
			"ip":       entry.IP,
		}).Warn("security webhook budget exceeded; event not forwarded")
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), WebhookTimeout)
		defer cancel()
		if err := PostWebhook(ctx, a.client, a.webhookURL, entry); err != nil {
			a.log.WithError(err).Error("failed to send security alert")
		}
	}()
}

// Wait blocks until in-flight webhook posts finish or ctx is done.
func (a *AuditLogger) Wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
