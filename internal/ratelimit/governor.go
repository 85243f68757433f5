// Package ratelimit is a sliding-window admission control keyed by identity.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	applog "github.com/thereayou/clubchat/pkg/log"
)

// Rule configures one guarded action.
type Rule struct {
	Name   string
	Window time.Duration
	Quota  int

	// SkipSuccessful refunds attempts that end up succeeding, so only failures
	// count (e.g. handshakes). SkipFailed is the opposite.
	SkipSuccessful bool
	SkipFailed     bool
}

// Decision is the outcome of one Allow call. Refusal is a value, not an error.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time

	rule  Rule
	key   string
	entry string
	at    time.Time
}

// Store records hits in a sliding log. Hit must trim, count and (if below quota)
// add atomically per key.
type Store interface {
	Hit(ctx context.Context, key, entry string, now time.Time, window time.Duration, quota int) (HitResult, error)
	Remove(ctx context.Context, key, entry string) error
}

type HitResult struct {
	Admitted bool
	Count    int
	Oldest   time.Time
}

// Governor applies Rules over a Store.
type Governor struct {
	store Store
	rules map[string]Rule
	now   func() time.Time
}

func NewGovernor(store Store, rules ...Rule) *Governor {
	g := &Governor{
		store: store,
		rules: make(map[string]Rule, len(rules)),
		now:   time.Now,
	}
	for _, r := range rules {
		g.rules[r.Name] = r
	}
	return g
}

func (g *Governor) Rule(name string) (Rule, bool) {
	r, ok := g.rules[name]
	return r, ok
}

// Allow records an attempt of action for key. A store failure admits the
// attempt and is logged.
func (g *Governor) Allow(ctx context.Context, action, key string) (Decision, error) {
	rule, ok := g.rules[action]
	if !ok {
		return Decision{}, fmt.Errorf("ratelimit: unknown rule %q", action)
	}
	if rule.Quota <= 0 || rule.Window <= 0 {
		return Decision{Allowed: true, rule: rule, key: key}, nil
	}

	now := g.now()
	bucket := rule.Name + ":" + key
	entry := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())

	res, err := g.store.Hit(ctx, bucket, entry, now, rule.Window, rule.Quota)
	if err != nil {
		applog.Ctx(ctx).Warn().Err(err).Str(applog.FieldRule, rule.Name).Msg("rate limit store unavailable, admitting")
		return Decision{Allowed: true, Limit: rule.Quota, Remaining: rule.Quota, rule: rule, key: bucket, at: now}, nil
	}

	d := Decision{
		Allowed: res.Admitted,
		Limit:   rule.Quota,
		rule:    rule,
		key:     bucket,
		at:      now,
	}
	if !res.Oldest.IsZero() {
		d.ResetAt = res.Oldest.Add(rule.Window)
	} else {
		d.ResetAt = now.Add(rule.Window)
	}

	if res.Admitted {
		d.entry = entry
		d.Remaining = rule.Quota - res.Count
		if d.Remaining < 0 {
			d.Remaining = 0
		}
		return d, nil
	}

	d.RetryAfter = d.ResetAt.Sub(now)
	if d.RetryAfter < 0 {
		d.RetryAfter = 0
	}
	return d, nil
}

// Settle reports how an admitted attempt ended. It refunds the hit when the rule
// does not count that outcome.
func (g *Governor) Settle(ctx context.Context, d Decision, succeeded bool) {
	if !d.Allowed || d.entry == "" {
		return
	}
	refund := (succeeded && d.rule.SkipSuccessful) || (!succeeded && d.rule.SkipFailed)
	if !refund {
		return
	}
	if err := g.store.Remove(ctx, d.key, d.entry); err != nil {
		applog.Ctx(ctx).Warn().Err(err).Str(applog.FieldRule, d.rule.Name).Msg("rate limit refund failed")
	}
}
