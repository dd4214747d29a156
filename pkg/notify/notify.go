// Package notify delivers operator notifications (queue finished, queue halted, usage alert).
// Delivery is best effort: a failing sink is logged and never fails the caller.
package notify

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/alt-text-gen/pkg/config"
	"github.com/Sriram-PR/alt-text-gen/pkg/utils"
)

// Notifier is implemented by Dispatcher and by every sink
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// Sink is a named Notifier
type Sink interface {
	Notifier
	Name() string
}

// Dispatcher fans a notification out to its sinks
type Dispatcher struct {
	sinks []Sink
	log   *logrus.Entry
}

// NewDispatcher creates a Dispatcher over sinks
func NewDispatcher(log *logrus.Entry, sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks, log: log.WithField("component", "notify")}
}

// FromConfig builds the log sink plus whichever remote sinks cfg enables.
// A Telegram sink that cannot be created is logged and skipped.
func FromConfig(cfg config.NotifyConfig, client *http.Client, log *logrus.Entry) *Dispatcher {
	sinks := []Sink{NewLogSink(log)}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, NewWebhookSink(cfg.WebhookURL, client))
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := NewTelegramSink(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Warnf("Telegram notifications disabled: %s", utils.RedactError(err))
		} else {
			sinks = append(sinks, tg)
		}
	}
	return NewDispatcher(log, sinks...)
}

// Notify sends to every sink. Subject and body are redacted first. Always returns nil.
func (d *Dispatcher) Notify(ctx context.Context, subject, body string) error {
	subject = utils.RedactSecrets(subject)
	body = utils.RedactSecrets(body)
	for _, s := range d.sinks {
		if err := s.Notify(ctx, subject, body); err != nil {
			d.log.WithField("sink", s.Name()).Warnf("Notification failed: %s", utils.RedactError(err))
		}
	}
	return nil
}

// LogSink writes notifications to the application log
type LogSink struct {
	log *logrus.Entry
}

// NewLogSink creates a LogSink
func NewLogSink(log *logrus.Entry) *LogSink {
	return &LogSink{log: log.WithField("component", "notify")}
}

func (l *LogSink) Name() string { return "log" }

func (l *LogSink) Notify(_ context.Context, subject, body string) error {
	l.log.WithField("subject", subject).Info(body)
	return nil
}
