// Package view drives the live display of a member's streaming balance. It
// runs two loops per displayed stream: a low-frequency snapshot refresh
// against the pool source and a high-frequency redraw that is pure local
// computation, so the balance counts up smoothly between fetches.
package view

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/flowdroplabs/flowdrop/stream/pkg/accrual"
)

// ErrNoMember is returned by a SnapshotFetcher when the pool has no record
// for the requested member. It is an expected state, not a failure.
var ErrNoMember = errors.New("no pool member record")

// SnapshotFetcher supplies the current pool snapshot for a member.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, poolID, member string) (accrual.PoolSnapshot, error)
}

// State is the lifecycle state of a stream view.
type State string

const (
	// StateUninitialized means Start has not been called yet.
	StateUninitialized State = "uninitialized"
	// StateLoading means no snapshot has been received yet.
	StateLoading State = "loading"
	// StateStreaming means a snapshot is held and the balance is accruing.
	StateStreaming State = "streaming"
	// StateIdle means the pool has no record for this member ("no stream").
	StateIdle State = "idle"
)

// Update is emitted to subscribers on every redraw tick.
type Update struct {
	State    State     `json:"state"`
	Balance  string    `json:"balance"`
	FlowRate *big.Int  `json:"flow_rate"`
	Stale    bool      `json:"stale,omitempty"`
	At       time.Time `json:"at"`
}

type ViewConfig struct {
	Logger          *slog.Logger
	Clock           clockwork.Clock
	Fetcher         SnapshotFetcher
	PoolID          string
	Member          string
	RefreshInterval time.Duration
	RedrawInterval  time.Duration
}

func (cfg *ViewConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Fetcher == nil {
		return errors.New("snapshot fetcher is required")
	}
	if cfg.PoolID == "" {
		return errors.New("pool id is required")
	}
	if cfg.Member == "" {
		return errors.New("member is required")
	}
	if cfg.RefreshInterval <= 0 {
		return errors.New("refresh interval must be greater than 0")
	}
	if cfg.RedrawInterval <= 0 {
		return errors.New("redraw interval must be greater than 0")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

type View struct {
	log *slog.Logger
	cfg ViewConfig

	// refreshMu serializes refreshes; the loop uses TryLock so a tick that
	// fires while a fetch is still in flight is skipped, never queued.
	refreshMu sync.Mutex

	mu          sync.RWMutex
	state       State
	snapshot    accrual.PoolSnapshot
	hasSnapshot bool
	stale       bool

	subsMu sync.Mutex
	subs   []chan Update

	readyOnce sync.Once
	readyCh   chan struct{}
}

func NewView(cfg ViewConfig) (*View, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &View{
		log:     cfg.Logger,
		cfg:     cfg,
		state:   StateUninitialized,
		readyCh: make(chan struct{}),
	}, nil
}

// Ready reports whether at least one refresh has completed (with either a
// snapshot or a definitive no-member answer).
func (v *View) Ready() bool {
	select {
	case <-v.readyCh:
		return true
	default:
		return false
	}
}

func (v *View) WaitReady(ctx context.Context) error {
	select {
	case <-v.readyCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while waiting for stream view: %w", ctx.Err())
	}
}

// Subscribe returns a channel receiving an Update per redraw tick. The
// channel holds only the latest update; slow consumers never block redraw.
// Callers must release the channel with Unsubscribe when done, or the view
// keeps broadcasting to it for as long as the view lives.
func (v *View) Subscribe() <-chan Update {
	ch := make(chan Update, 1)
	v.subsMu.Lock()
	v.subs = append(v.subs, ch)
	v.subsMu.Unlock()
	return ch
}

// Unsubscribe detaches a channel returned by Subscribe. The channel is not
// closed, it just stops receiving updates. Unknown channels are a no-op.
func (v *View) Unsubscribe(ch <-chan Update) {
	v.subsMu.Lock()
	defer v.subsMu.Unlock()
	for i, sub := range v.subs {
		if sub == ch {
			v.subs = append(v.subs[:i], v.subs[i+1:]...)
			return
		}
	}
}

// SubscriberCount returns the number of attached subscriber channels.
func (v *View) SubscriberCount() int {
	v.subsMu.Lock()
	defer v.subsMu.Unlock()
	return len(v.subs)
}

// Start launches the refresh and redraw loops. Both stop together when ctx
// is cancelled; no timers outlive the viewing context.
func (v *View) Start(ctx context.Context) {
	v.mu.Lock()
	if v.state == StateUninitialized {
		v.state = StateLoading
	}
	v.mu.Unlock()

	go v.refreshLoop(ctx)
	go v.redrawLoop(ctx)
}

func (v *View) refreshLoop(ctx context.Context) {
	v.log.Info("stream view: starting refresh loop",
		"pool", v.cfg.PoolID, "member", v.cfg.Member, "interval", v.cfg.RefreshInterval)

	v.safeRefresh(ctx)

	ticker := v.cfg.Clock.NewTicker(v.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			v.safeRefresh(ctx)
		}
	}
}

func (v *View) redrawLoop(ctx context.Context) {
	ticker := v.cfg.Clock.NewTicker(v.cfg.RedrawInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			v.broadcast(v.Current())
		}
	}
}

func (v *View) safeRefresh(ctx context.Context) {
	if !v.refreshMu.TryLock() {
		v.log.Debug("stream view: refresh still in flight, skipping tick", "member", v.cfg.Member)
		return
	}
	defer v.refreshMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			v.log.Error("stream view: refresh panicked", "panic", r)
		}
	}()

	if err := v.Refresh(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		v.log.Error("stream view: refresh failed", "member", v.cfg.Member, "error", err)
	}
}

// Refresh fetches a new snapshot. A no-member answer moves the view to
// Idle; a transient failure keeps the last snapshot and flow rate and only
// marks the view stale, so the display degrades rather than blanks.
func (v *View) Refresh(ctx context.Context) error {
	snapshot, err := v.cfg.Fetcher.FetchSnapshot(ctx, v.cfg.PoolID, v.cfg.Member)
	switch {
	case errors.Is(err, ErrNoMember):
		v.mu.Lock()
		v.state = StateIdle
		v.hasSnapshot = false
		v.stale = false
		v.mu.Unlock()
		v.markReady()
		v.log.Debug("stream view: member holds no units", "member", v.cfg.Member)
		return nil
	case err != nil:
		v.mu.Lock()
		if v.hasSnapshot {
			v.stale = true
		}
		v.mu.Unlock()
		return fmt.Errorf("failed to fetch pool snapshot: %w", err)
	}

	v.mu.Lock()
	v.state = StateStreaming
	v.snapshot = snapshot
	v.hasSnapshot = true
	v.stale = false
	v.mu.Unlock()
	v.markReady()

	v.log.Debug("stream view: snapshot refreshed",
		"member", v.cfg.Member,
		"memberUnits", snapshot.MemberUnits,
		"totalUnits", snapshot.TotalUnits,
		"updatedAt", snapshot.UpdatedAt)
	return nil
}

// Current computes the update for the present instant. Pure read; safe to
// call at any frequency.
func (v *View) Current() Update {
	now := v.cfg.Clock.Now()

	v.mu.RLock()
	defer v.mu.RUnlock()

	if !v.hasSnapshot {
		return Update{
			State:    v.state,
			Balance:  accrual.Format(nil),
			FlowRate: new(big.Int),
			At:       now,
		}
	}
	return Update{
		State:    v.state,
		Balance:  accrual.FormatBalanceAt(v.snapshot, now),
		FlowRate: accrual.MemberFlowRate(v.snapshot),
		Stale:    v.stale,
		At:       now,
	}
}

func (v *View) markReady() {
	v.readyOnce.Do(func() {
		close(v.readyCh)
		v.log.Debug("stream view: ready", "member", v.cfg.Member)
	})
}

func (v *View) broadcast(u Update) {
	v.subsMu.Lock()
	defer v.subsMu.Unlock()
	for _, ch := range v.subs {
		// Drop the stale update so the channel always holds the latest.
		select {
		case ch <- u:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- u:
			default:
			}
		}
	}
}
