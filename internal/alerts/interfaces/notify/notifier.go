package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	alertapp "hydroponics-cloud/internal/alerts/application"
	alertevents "hydroponics-cloud/internal/alerts/application/events"
	alerts "hydroponics-cloud/internal/alerts/domain"
	"hydroponics-cloud/internal/eventing"
)

const (
	eventRaised    = "raised"
	eventCleared   = "cleared"
	eventEscalated = "escalated"
)

// AlertReader reports the alerts still active for a group.
type AlertReader interface {
	ActiveAlerts(ctx context.Context, userID, groupID string) ([]alerts.ActiveAlert, error)
}

// Clock provides time for cooldown bookkeeping.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

type delivery struct {
	key     string
	event   string
	content string
	data    TemplateData
}

const queueSize = 64

// Notifier sends alert notifications through a channel and escalates alerts that stay active.
// Bus handlers only render and enqueue; Run performs delivery.
type Notifier struct {
	channel        Channel
	template       *Template
	reader         AlertReader
	clock          Clock
	afterFunc      alertapp.AfterFunc
	logger         *zap.Logger
	escalation     time.Duration
	cooldown       time.Duration
	dedupeWindow   time.Duration
	requestTimeout time.Duration

	queue chan delivery

	mu     sync.Mutex
	timers map[string]alertapp.Stopper
	sent   map[string]sendRecord
}

// Option configures the notifier.
type Option func(*Notifier)

// WithEscalation re-notifies action alerts still active after the delay. It needs an AlertReader.
func WithEscalation(after time.Duration, reader AlertReader) Option {
	return func(n *Notifier) {
		if after > 0 && reader != nil {
			n.escalation = after
			n.reader = reader
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same alert and event.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithAfterFunc overrides the escalation timer factory.
func WithAfterFunc(fn alertapp.AfterFunc) Option {
	return func(n *Notifier) {
		if fn != nil {
			n.afterFunc = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewNotifier constructs an alert notifier. A nil template uses DefaultTemplate.
func NewNotifier(channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("alert notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		channel:  channel,
		template: template,
		clock:    systemClock{},
		afterFunc: func(d time.Duration, f func()) alertapp.Stopper {
			return time.AfterFunc(d, f)
		},
		logger:         zap.NewNop(),
		requestTimeout: 5 * time.Second,
		queue:          make(chan delivery, queueSize),
		timers:         make(map[string]alertapp.Stopper),
		sent:           make(map[string]sendRecord),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Register subscribes the notifier to alert events.
func (n *Notifier) Register(bus eventing.Bus) []eventing.Unsubscribe {
	return []eventing.Unsubscribe{
		eventing.SubscribeTyped(bus, n.HandleAlertRaised),
		eventing.SubscribeTyped(bus, n.HandleAlertCleared),
	}
}

// Run delivers queued notifications until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-n.queue:
			n.deliver(ctx, d)
		}
	}
}

// HandleAlertRaised notifies and schedules escalation of action alerts.
func (n *Notifier) HandleAlertRaised(ctx context.Context, evt alertevents.AlertRaised) error {
	key := alertKey(evt.UserID, evt.GroupID, evt.Parameter)
	n.dispatch(ctx, key, eventRaised, TemplateData{
		UserID:     evt.UserID,
		GroupID:    evt.GroupID,
		Parameter:  evt.Parameter,
		Action:     evt.Action,
		Current:    formatFloat(evt.Current),
		Target:     formatFloat(evt.Target),
		Magnitude:  formatFloat(evt.Magnitude),
		Message:    evt.Message,
		Severity:   evt.Severity,
		Suggestion: suggestionFor(evt.Severity, evt.CommandActive),
		OccurredAt: evt.OccurredAt.UTC().Format(time.RFC3339),
	})
	if evt.Severity == string(alerts.SeverityAction) {
		n.scheduleEscalation(key, evt)
	}
	return nil
}

// HandleAlertCleared notifies and cancels pending escalation.
func (n *Notifier) HandleAlertCleared(ctx context.Context, evt alertevents.AlertCleared) error {
	key := alertKey(evt.UserID, evt.GroupID, evt.Parameter)
	n.cancelEscalation(key)
	n.dispatch(ctx, key, eventCleared, TemplateData{
		UserID:     evt.UserID,
		GroupID:    evt.GroupID,
		Parameter:  evt.Parameter,
		Action:     evt.Action,
		OccurredAt: evt.OccurredAt.UTC().Format(time.RFC3339),
	})
	return nil
}

// Close stops all pending escalation timers.
func (n *Notifier) Close() {
	n.mu.Lock()
	timers := n.timers
	n.timers = make(map[string]alertapp.Stopper)
	n.mu.Unlock()
	for _, timer := range timers {
		timer.Stop()
	}
}

// PendingEscalations returns the number of scheduled escalations.
func (n *Notifier) PendingEscalations() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.timers)
}

func (n *Notifier) dispatch(_ context.Context, key, event string, data TemplateData) {
	data.Event = event
	data.EventLabel = eventLabel(event)
	content, err := n.template.Render(data)
	if err != nil {
		n.logger.Warn("render alert notification failed", zap.Error(err))
		return
	}
	select {
	case n.queue <- delivery{key: key, event: event, content: content, data: data}:
	default:
		n.logger.Warn("alert notification queue full, dropping",
			zap.String("group_id", data.GroupID), zap.String("parameter", data.Parameter))
	}
}

func (n *Notifier) deliver(ctx context.Context, d delivery) {
	if !n.shouldSend(d.key, d.event, d.content) {
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, n.requestTimeout)
	defer cancel()
	if err := n.channel.Send(sendCtx, d.content); err != nil {
		n.logger.Warn("send alert notification failed",
			zap.String("user_id", d.data.UserID),
			zap.String("group_id", d.data.GroupID),
			zap.String("parameter", d.data.Parameter),
			zap.Error(err))
		return
	}
	n.markSent(d.key, d.event, d.content)
}

func (n *Notifier) scheduleEscalation(key string, evt alertevents.AlertRaised) {
	if n.escalation <= 0 || n.reader == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if existing, ok := n.timers[key]; ok {
		existing.Stop()
	}
	n.timers[key] = n.afterFunc(n.escalation, func() {
		n.runEscalation(key, evt)
	})
}

func (n *Notifier) cancelEscalation(key string) {
	n.mu.Lock()
	timer, ok := n.timers[key]
	delete(n.timers, key)
	n.mu.Unlock()
	if ok {
		timer.Stop()
	}
}

func (n *Notifier) runEscalation(key string, evt alertevents.AlertRaised) {
	n.mu.Lock()
	delete(n.timers, key)
	n.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), n.requestTimeout)
	defer cancel()
	active, err := n.reader.ActiveAlerts(ctx, evt.UserID, evt.GroupID)
	if err != nil {
		return
	}
	for _, alert := range active {
		if alert.Parameter != evt.Parameter {
			continue
		}
		n.dispatch(ctx, key, eventEscalated, TemplateData{
			UserID:     alert.UserID,
			GroupID:    alert.GroupID,
			Parameter:  alert.Parameter,
			Action:     alert.TriggeredAction,
			Current:    formatFloat(alert.Current),
			Target:     formatFloat(alert.Target),
			Magnitude:  formatFloat(alert.Magnitude),
			Message:    alert.Message,
			Severity:   string(alert.Severity),
			Suggestion: escalationSuggestion(evt.CommandActive),
			OccurredAt: n.clock.Now().UTC().Format(time.RFC3339),
		})
		return
	}
}

func (n *Notifier) shouldSend(key, event, content string) bool {
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	now := n.clock.Now().UTC()
	n.mu.Lock()
	record, ok := n.sent[key+"|"+event]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hashContent(content) && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(key, event, content string) {
	n.mu.Lock()
	n.sent[key+"|"+event] = sendRecord{at: n.clock.Now().UTC(), hash: hashContent(content)}
	n.mu.Unlock()
}

func alertKey(userID, groupID, parameter string) string {
	return userID + "/" + groupID + "/" + parameter
}

func eventLabel(event string) string {
	switch event {
	case eventRaised:
		return "Raised"
	case eventCleared:
		return "Cleared"
	case eventEscalated:
		return "Escalated"
	default:
		return event
	}
}

func suggestionFor(severity string, commandActive bool) string {
	switch {
	case severity != string(alerts.SeverityAction):
		return "Check the grow area; no automatic action is available."
	case commandActive:
		return "A corrective pump command was issued."
	default:
		return "No pump command was issued (manual mode or no device for this action). Correct it by hand."
	}
}

func escalationSuggestion(commandActive bool) string {
	if commandActive {
		return "Corrective action has not resolved the alert. Inspect the pumps."
	}
	return "The alert is still active and no pump is correcting it. Correct it by hand."
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
