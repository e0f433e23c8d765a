// Package notify delivers console notifications to logs and chat robots.
package notify

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Level orders notification severities.
type Level int

const (
	LevelSuccess Level = iota
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "success"
	case LevelWarning:
		return "warning"
	default:
		return "error"
	}
}

// Notifier is the notification sink used by the bulletin console.
type Notifier interface {
	Success(ctx context.Context, title, content string)
	Warning(ctx context.Context, title, content string)
	Error(ctx context.Context, title, content string)
}

// LogNotifier writes notifications as log entries.
type LogNotifier struct {
	log logrus.FieldLogger
}

func NewLogNotifier(log logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Success(_ context.Context, title, content string) {
	n.entry(title, content).Info("notify success")
}

func (n *LogNotifier) Warning(_ context.Context, title, content string) {
	n.entry(title, content).Warn("notify warning")
}

func (n *LogNotifier) Error(_ context.Context, title, content string) {
	n.entry(title, content).Error("notify error")
}

func (n *LogNotifier) entry(title, content string) *logrus.Entry {
	fields := logrus.Fields{"title": title}
	if content != "" {
		fields["content"] = content
	}
	return n.log.WithFields(fields)
}

// Fanout forwards every notification to all channels in order.
type Fanout []Notifier

func (f Fanout) Success(ctx context.Context, title, content string) {
	for _, n := range f {
		n.Success(ctx, title, content)
	}
}

func (f Fanout) Warning(ctx context.Context, title, content string) {
	for _, n := range f {
		n.Warning(ctx, title, content)
	}
}

func (f Fanout) Error(ctx context.Context, title, content string) {
	for _, n := range f {
		n.Error(ctx, title, content)
	}
}
