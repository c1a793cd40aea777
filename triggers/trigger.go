// triggers/trigger.go
package triggers

import (
	"fmt"
	"sync"
	"time"

	"killswitch_go_1/logs"
)

// Context is the snapshot every trigger is evaluated against. It is built by
// the caller (the monitor loop, or a test) and never mutated by a trigger;
// triggers must not reach into global state.
type Context struct {
	Timestamp         time.Time
	Metrics           map[string]float64
	ExchangeConnected bool
	LastPriceUpdate   time.Time
	APIErrorCount     int
}

// Metric looks up a named numeric metric in the snapshot.
func (c Context) Metric(name string) (float64, bool) {
	v, ok := c.Metrics[name]
	return v, ok
}

// Result is what each evaluator produces per check. It is ephemeral; when a
// result causes a transition its fields are folded into the audit event's
// metadata. Metadata always carries the trigger's name and kind.
type Result struct {
	Fired     bool
	Reason    string
	Value     float64
	Threshold float64
	Metadata  map[string]string
}

// EventMetadata renders the result for an audit event's metadata map.
func (r Result) EventMetadata() map[string]string {
	md := make(map[string]string, len(r.Metadata)+2)
	for k, v := range r.Metadata {
		md[k] = v
	}
	md["value"] = fmt.Sprintf("%g", r.Value)
	md["threshold"] = fmt.Sprintf("%g", r.Threshold)
	return md
}

// Trigger is the common evaluator contract. Check must be safe for
// concurrent use and must not block on I/O.
type Trigger interface {
	Name() string
	Kind() string
	Enabled() bool
	Check(ctx Context) Result
}

// base carries the bookkeeping every evaluator shares: identity, the enabled
// flag, and the per-trigger cooldown window. A trigger that fired recently
// reports not-firing until its own cooldown elapses, independent of the kill
// switch's state.
type base struct {
	name     string
	kind     string
	enabled  bool
	cooldown time.Duration

	mu        sync.Mutex
	lastFired time.Time
}

func (b *base) Name() string  { return b.name }
func (b *base) Kind() string  { return b.kind }
func (b *base) Enabled() bool { return b.enabled }

// onCooldown reports whether the trigger fired within its cooldown window.
func (b *base) onCooldown(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cooldown <= 0 || b.lastFired.IsZero() {
		return false
	}
	return now.Sub(b.lastFired) < b.cooldown
}

func (b *base) markFired(now time.Time) {
	b.mu.Lock()
	b.lastFired = now
	b.mu.Unlock()
}

// result stamps the trigger's identity into a Result's metadata.
func (b *base) result(fired bool, reason string, extra map[string]string) Result {
	md := map[string]string{
		"trigger_name": b.name,
		"trigger_kind": b.kind,
	}
	for k, v := range extra {
		md[k] = v
	}
	return Result{Fired: fired, Reason: reason, Metadata: md}
}

// Registry holds named triggers and evaluates them in registration order.
type Registry struct {
	mu       sync.Mutex
	triggers map[string]Trigger
	order    []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{triggers: make(map[string]Trigger)}
}

// Register adds a trigger; names must be unique.
func (r *Registry) Register(t Trigger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.triggers[t.Name()]; exists {
		return fmt.Errorf("trigger '%s' is already registered", t.Name())
	}
	r.triggers[t.Name()] = t
	r.order = append(r.order, t.Name())
	return nil
}

// Get returns a registered trigger by name.
func (r *Registry) Get(name string) (Trigger, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.triggers[name]
	return t, ok
}

// Names returns the registered trigger names in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// CheckAll evaluates every enabled trigger against the snapshot. A panicking
// evaluator is isolated into a synthetic non-firing result so one broken
// trigger cannot suppress the others or crash the safety loop.
func (r *Registry) CheckAll(ctx Context) []Result {
	r.mu.Lock()
	ordered := make([]Trigger, 0, len(r.order))
	for _, name := range r.order {
		ordered = append(ordered, r.triggers[name])
	}
	r.mu.Unlock()

	results := make([]Result, 0, len(ordered))
	for _, t := range ordered {
		if !t.Enabled() {
			continue
		}
		results = append(results, safeCheck(t, ctx))
	}
	return results
}

// GetTriggered returns only the firing subset, trigger names attached via
// each result's metadata.
func (r *Registry) GetTriggered(ctx Context) []Result {
	var fired []Result
	for _, res := range r.CheckAll(ctx) {
		if res.Fired {
			fired = append(fired, res)
		}
	}
	return fired
}

func safeCheck(t Trigger, ctx Context) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("[Triggers] Trigger '%s' panicked during check: %v", t.Name(), r)
			res = Result{
				Fired:  false,
				Reason: fmt.Sprintf("evaluator failed: %v", r),
				Metadata: map[string]string{
					"trigger_name": t.Name(),
					"trigger_kind": t.Kind(),
					"error":        fmt.Sprintf("%v", r),
				},
			}
		}
	}()
	return t.Check(ctx)
}
