// Package controls serves the routing thresholds: configured defaults with
// stored overrides on top, cached for a short TTL.
package controls

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/claims-router/internal/audit"
	"github.com/sells-group/claims-router/internal/routing"
	"github.com/sells-group/claims-router/internal/store"
)

// Store is the slice of store.Store the provider needs.
type Store interface {
	ListControls(ctx context.Context) ([]store.ControlRow, error)
	SetControls(ctx context.Context, rows []store.ControlRow) error
	DeleteControls(ctx context.Context) error
}

// Provider reads and writes controls.
type Provider struct {
	store    Store
	log      *audit.Logger
	defaults routing.Controls
	ttl      time.Duration
	now      func() time.Time

	mu       sync.Mutex
	cached   routing.Controls
	loadedAt time.Time
	loaded   bool
}

// Option configures a Provider.
type Option func(*Provider)

// WithClock overrides the clock used for cache expiry and row timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// NewProvider returns a Provider. ttl <= 0 disables caching.
func NewProvider(s Store, log *audit.Logger, defaults routing.Controls, ttl time.Duration, opts ...Option) *Provider {
	p := &Provider{
		store:    s,
		log:      log,
		defaults: defaults,
		ttl:      ttl,
		now:      time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Defaults returns the configured defaults.
func (p *Provider) Defaults() routing.Controls { return p.defaults }

// Current returns the effective controls. When the store cannot be read the
// last loaded value is served and the failure is logged.
func (p *Provider) Current(ctx context.Context) (routing.Controls, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loaded && p.ttl > 0 && p.now().Sub(p.loadedAt) < p.ttl {
		return p.cached, nil
	}
	c, err := p.load(ctx)
	if err != nil {
		if p.loaded {
			zap.L().Warn("controls: serving stale controls", zap.Error(err))
			return p.cached, nil
		}
		return routing.Controls{}, err
	}
	p.cached, p.loadedAt, p.loaded = c, p.now(), true
	return c, nil
}

func (p *Provider) load(ctx context.Context) (routing.Controls, error) {
	rows, err := p.store.ListControls(ctx)
	if err != nil {
		return routing.Controls{}, eris.Wrap(err, "controls: list")
	}
	values := make(map[string]any, len(rows))
	for _, r := range rows {
		var v any
		if err := json.Unmarshal(r.Value, &v); err != nil {
			zap.L().Warn("controls: skipping undecodable value", zap.String("key", r.Key), zap.Error(err))
			continue
		}
		values[r.Key] = v
	}
	c, skipped := p.defaults.Merge(values)
	if len(skipped) > 0 {
		zap.L().Warn("controls: ignored stored keys", zap.Strings("keys", skipped))
	}
	return c, nil
}

func (p *Provider) invalidate() {
	p.mu.Lock()
	p.loaded = false
	p.mu.Unlock()
}

// Update sets a single control.
func (p *Provider) Update(ctx context.Context, key string, value any, actor string) (routing.Controls, error) {
	return p.UpdateMany(ctx, map[string]any{key: value}, actor)
}

// UpdateMany validates every value against the current controls and writes
// them in one batch. Unknown keys are an error here, unlike on load.
func (p *Provider) UpdateMany(ctx context.Context, values map[string]any, actor string) (routing.Controls, error) {
	if len(values) == 0 {
		return p.Current(ctx)
	}
	before, err := p.Current(ctx)
	if err != nil {
		return routing.Controls{}, err
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	after := before
	now := p.now().UTC()
	rows := make([]store.ControlRow, 0, len(keys))
	for _, k := range keys {
		if after, err = after.With(k, values[k]); err != nil {
			return routing.Controls{}, err
		}
		v, _ := after.Get(k) //nolint:errcheck // key accepted by With
		raw, err := json.Marshal(v)
		if err != nil {
			return routing.Controls{}, eris.Wrapf(err, "controls: marshal %s", k)
		}
		rows = append(rows, store.ControlRow{Key: k, Value: raw, UpdatedAt: now, UpdatedBy: actor})
	}
	if err := after.Validate(); err != nil {
		return routing.Controls{}, err
	}

	if err := p.store.SetControls(ctx, rows); err != nil {
		return routing.Controls{}, eris.Wrap(err, "controls: save")
	}
	p.invalidate()

	p.log.Record(ctx, audit.Entry{
		EventType: audit.EventControlsUpdated,
		ActorType: audit.ActorManager,
		ActorID:   actor,
		Before:    before,
		After:     after,
		Payload:   map[string]any{"action": "update", "keys": keys},
	})
	zap.L().Info("controls: updated", zap.Strings("keys", keys), zap.String("actor", actor))
	return after, nil
}

// Reset drops every stored override so the defaults apply again.
func (p *Provider) Reset(ctx context.Context, actor string) (routing.Controls, error) {
	before, err := p.Current(ctx)
	if err != nil {
		return routing.Controls{}, err
	}
	if err := p.store.DeleteControls(ctx); err != nil {
		return routing.Controls{}, eris.Wrap(err, "controls: reset")
	}
	p.invalidate()

	p.log.Record(ctx, audit.Entry{
		EventType: audit.EventControlsUpdated,
		ActorType: audit.ActorManager,
		ActorID:   actor,
		Before:    before,
		After:     p.defaults,
		Payload:   map[string]any{"action": "reset"},
	})
	return p.defaults, nil
}

// Export writes the effective controls as YAML.
func (p *Provider) Export(ctx context.Context, w io.Writer) error {
	c, err := p.Current(ctx)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return eris.Wrap(err, "controls: encode yaml")
	}
	if err := enc.Close(); err != nil {
		return eris.Wrap(err, "controls: flush yaml")
	}
	return nil
}

// Import reads a YAML mapping of control keys to values and applies it.
func (p *Provider) Import(ctx context.Context, r io.Reader, actor string) (routing.Controls, error) {
	var values map[string]any
	if err := yaml.NewDecoder(r).Decode(&values); err != nil {
		if errors.Is(err, io.EOF) {
			return routing.Controls{}, eris.New("controls: empty import")
		}
		return routing.Controls{}, eris.Wrap(err, "controls: decode yaml")
	}
	return p.UpdateMany(ctx, values, actor)
}
