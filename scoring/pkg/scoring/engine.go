package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/flowdroplabs/flowdrop/api/metrics"
	"github.com/flowdroplabs/flowdrop/scoring/pkg/history"
)

const defaultPrimaryTimeout = 30 * time.Second

// ErrDuplicatePost is returned by Score when the post ID has already been
// scored by this engine. The delivery should be acknowledged, not retried.
var ErrDuplicatePost = errors.New("post already scored")

// Evaluator is the primary evaluation path. Failures are expected and
// recoverable; the engine falls back to rules on any error.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, post Post, hist history.Entry) (Evaluation, error)
}

type Config struct {
	Logger  *slog.Logger
	History *history.Store

	// Primary is optional. When nil every post scores on the rule path.
	Primary  Evaluator
	Fallback *RuleEvaluator

	// PrimaryTimeout bounds one primary evaluation. Defaults to 30s.
	PrimaryTimeout time.Duration
}

func (c Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.History == nil {
		return fmt.Errorf("history store is required")
	}
	if c.Fallback == nil {
		return fmt.Errorf("fallback evaluator is required")
	}
	return nil
}

// Engine scores posts and folds results into the author history store.
type Engine struct {
	cfg  Config
	seen *xsync.Map[string, struct{}]
}

func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.PrimaryTimeout <= 0 {
		cfg.PrimaryTimeout = defaultPrimaryTimeout
	}
	return &Engine{cfg: cfg, seen: xsync.NewMap[string, struct{}]()}, nil
}

// Score evaluates one post and records the result in the author's history.
// The evaluation and the history fold run under the author's lock, so the
// entry handed to the evaluators is the true state BEFORE this post even
// when the same author's posts arrive concurrently. Exactly one history
// record is written per post ID; re-delivery of a post already scored
// returns ErrDuplicatePost with the author's current entry and records
// nothing.
func (e *Engine) Score(ctx context.Context, post Post) (ScoreBreakdown, history.Entry, error) {
	if post.AuthorID == "" {
		return ScoreBreakdown{}, history.Entry{}, fmt.Errorf("post %q has no author", post.ID)
	}
	if post.ID != "" {
		if _, loaded := e.seen.LoadOrStore(post.ID, struct{}{}); loaded {
			return ScoreBreakdown{}, e.cfg.History.Get(post.AuthorID), ErrDuplicatePost
		}
	}

	var bd ScoreBreakdown
	entry := e.cfg.History.Apply(post.AuthorID, post.CreatedAt, func(prior history.Entry) float64 {
		bd = e.evaluate(ctx, post, prior)
		return bd.TotalScore
	})
	metrics.RecordPostScored(bd.Evaluator, bd.TotalScore)

	e.cfg.Logger.Info("post scored",
		"postID", post.ID,
		"authorID", post.AuthorID,
		"evaluator", bd.Evaluator,
		"totalScore", bd.TotalScore,
		"postCount", entry.PostCount,
		"averageScore", entry.AverageScore,
	)
	return bd, entry, nil
}

func (e *Engine) evaluate(ctx context.Context, post Post, prior history.Entry) ScoreBreakdown {
	if e.cfg.Primary != nil {
		pctx, cancel := context.WithTimeout(ctx, e.cfg.PrimaryTimeout)
		ev, err := e.cfg.Primary.Evaluate(pctx, post, prior)
		cancel()
		if err == nil {
			return finalize(ev, e.cfg.Primary.Name())
		}
		e.cfg.Logger.Warn("primary evaluator failed, falling back to rules",
			"postID", post.ID, "error", err)
		metrics.ScoringFallbacksTotal.Inc()
	}
	return finalize(e.cfg.Fallback.Evaluate(post, prior), "rules")
}
