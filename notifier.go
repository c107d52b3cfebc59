package goIdP

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// LogNotifier is a [NotificationService] that writes each message to a
// logger instead of delivering it. The variables, including reset links, are
// logged in clear; use it for development and operator tooling only.
type LogNotifier struct {
	Log logrus.FieldLogger
}

// Send logs the message at info level.
func (n LogNotifier) Send(_ context.Context, to, template, locale string, vars map[string]any) error {
	if n.Log == nil {
		return errors.New("log notifier has no logger")
	}
	fields := logrus.Fields{
		"to":       to,
		"template": template,
		"locale":   locale,
	}
	for k, v := range vars {
		fields["var_"+k] = v
	}
	n.Log.WithFields(fields).Info("notification")
	return nil
}
