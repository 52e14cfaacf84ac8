package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/flowdroplabs/flowdrop/api/metrics"
	"github.com/flowdroplabs/flowdrop/stream/pkg/accrual"
	"github.com/flowdroplabs/flowdrop/stream/pkg/view"
)

// meteredFetcher counts snapshot refresh outcomes around the real fetcher.
type meteredFetcher struct {
	inner view.SnapshotFetcher
}

func (m meteredFetcher) FetchSnapshot(ctx context.Context, poolID, member string) (accrual.PoolSnapshot, error) {
	s, err := m.inner.FetchSnapshot(ctx, poolID, member)
	switch {
	case errors.Is(err, view.ErrNoMember):
		metrics.RecordSnapshotRefresh("no_member")
	case err != nil:
		metrics.RecordSnapshotRefresh("error")
	default:
		metrics.RecordSnapshotRefresh("success")
	}
	return s, err
}

// StreamRegistry holds one live balance view per member, created on first
// request and refreshed for as long as the registry's context lives. All
// views share one snapshot fetcher and one clock.
type StreamRegistry struct {
	log             *slog.Logger
	clock           clockwork.Clock
	fetcher         view.SnapshotFetcher
	poolID          string
	refreshInterval time.Duration
	redrawInterval  time.Duration

	ctx   context.Context
	views *xsync.Map[string, *view.View]
}

type StreamRegistryConfig struct {
	Logger          *slog.Logger
	Clock           clockwork.Clock
	Fetcher         view.SnapshotFetcher
	PoolID          string
	RefreshInterval time.Duration
	RedrawInterval  time.Duration
}

func (cfg *StreamRegistryConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Fetcher == nil {
		return errors.New("snapshot fetcher is required")
	}
	if cfg.PoolID == "" {
		return errors.New("pool id is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 10 * time.Second
	}
	if cfg.RedrawInterval <= 0 {
		cfg.RedrawInterval = 100 * time.Millisecond
	}
	return nil
}

// NewStreamRegistry creates a registry whose views live until ctx is
// cancelled.
func NewStreamRegistry(ctx context.Context, cfg StreamRegistryConfig) (*StreamRegistry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &StreamRegistry{
		log:             cfg.Logger,
		clock:           cfg.Clock,
		fetcher:         meteredFetcher{inner: cfg.Fetcher},
		poolID:          cfg.PoolID,
		refreshInterval: cfg.RefreshInterval,
		redrawInterval:  cfg.RedrawInterval,
		ctx:             ctx,
		views:           xsync.NewMap[string, *view.View](),
	}, nil
}

// ViewFor returns the member's view, creating and starting it on first use.
func (r *StreamRegistry) ViewFor(member string) (*view.View, error) {
	if v, ok := r.views.Load(member); ok {
		return v, nil
	}

	v, err := view.NewView(view.ViewConfig{
		Logger:          r.log,
		Clock:           r.clock,
		Fetcher:         r.fetcher,
		PoolID:          r.poolID,
		Member:          member,
		RefreshInterval: r.refreshInterval,
		RedrawInterval:  r.redrawInterval,
	})
	if err != nil {
		return nil, err
	}

	actual, loaded := r.views.LoadOrStore(member, v)
	if !loaded {
		actual.Start(r.ctx)
	}
	return actual, nil
}

// streamResponse is the point-in-time stream state for one member.
type streamResponse struct {
	Member string      `json:"member"`
	Pool   string      `json:"pool"`
	Stream view.Update `json:"stream"`
}

// HandleGetStream returns the member's current stream state and balance.
// The first request for a member waits briefly for the initial snapshot;
// later requests are pure in-memory reads.
func (h *Handlers) HandleGetStream(w http.ResponseWriter, r *http.Request) {
	member := chi.URLParam(r, "member")
	if member == "" {
		writeError(w, http.StatusBadRequest, "member is required")
		return
	}

	v, err := h.cfg.Streams.ViewFor(member)
	if err != nil {
		h.log.Error("failed to create stream view", "member", member, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create stream view")
		return
	}

	waitCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := v.WaitReady(waitCtx); err != nil {
		// Still loading; report that state rather than failing the request.
		h.log.Debug("stream view not ready yet", "member", member)
	}

	writeJSON(w, http.StatusOK, streamResponse{
		Member: member,
		Pool:   h.cfg.Streams.poolID,
		Stream: v.Current(),
	})
}
