package goIdP

import (
	"context"
	"time"

	internalaudit "github.com/MrEthical07/goIdP/internal/audit"
	"github.com/sirupsen/logrus"
)

// Engine is the per-provider core shared by every credential mechanism. It
// owns the account lifecycle and the audit and metrics plumbing; the
// concrete providers embed it.
//
// Engine instances are created by [Builder] and are safe for concurrent use.
type Engine struct {
	config       Config
	authority    string
	repositoryID string

	accounts  AccountStore
	resources ResourceIndex

	audit   *internalaudit.Dispatcher
	metrics *Metrics
	log     logrus.FieldLogger
	now     func() time.Time

	// deleteCredentials removes the mechanism's credentials of an account
	// before the account row itself goes away.
	deleteCredentials func(ctx context.Context, account Account) error
	// relinkCredentials moves the account's credentials to its new user id
	// once a link has been committed.
	relinkCredentials func(ctx context.Context, account Account) error
	closers           []func()
}

// Realm returns the realm this provider is bound to.
func (e *Engine) Realm() string {
	if e == nil {
		return ""
	}
	return e.config.Realm
}

// ProviderID returns the provider id.
func (e *Engine) ProviderID() string {
	if e == nil {
		return ""
	}
	return e.config.ProviderID
}

// RepositoryID returns the repository partition accounts are stored in.
func (e *Engine) RepositoryID() string {
	if e == nil {
		return ""
	}
	return e.repositoryID
}

// Authority names the mechanism, one of [AuthorityPassword] or [AuthorityWebAuthn].
func (e *Engine) Authority() string {
	if e == nil {
		return ""
	}
	return e.authority
}

// Config returns a copy of the resolved provider configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

// Close flushes the audit dispatcher and releases provider resources.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	for _, c := range e.closers {
		c()
	}
}

// AuditDropped reports how many audit events were discarded because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns the current counters and histograms.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return emptySnapshot()
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observe(id MetricID, start time.Time) {
	if e == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, time.Since(start))
}

func (e *Engine) clock() time.Time {
	if e == nil || e.now == nil {
		return time.Now().UTC()
	}
	return e.now().UTC()
}

func (e *Engine) logger(op string) logrus.FieldLogger {
	log := e.log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return log.WithFields(logrus.Fields{
		"realm":     e.config.Realm,
		"provider":  e.config.ProviderID,
		"operation": op,
	})
}

func (e *Engine) ready() bool {
	return e != nil && e.accounts != nil
}
