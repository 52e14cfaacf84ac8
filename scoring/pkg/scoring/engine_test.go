package scoring

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowdroplabs/flowdrop/scoring/pkg/history"
	flowtesting "github.com/flowdroplabs/flowdrop/utils/pkg/testing"
)

type stubEvaluator struct {
	ev         Evaluation
	err        error
	block      bool // block until the context is done
	calls      int
	onEvaluate func(prior history.Entry)
}

func (s *stubEvaluator) Name() string { return "stub" }

func (s *stubEvaluator) Evaluate(ctx context.Context, _ Post, hist history.Entry) (Evaluation, error) {
	s.calls++
	if s.onEvaluate != nil {
		s.onEvaluate(hist)
	}
	if s.block {
		<-ctx.Done()
		return Evaluation{}, ctx.Err()
	}
	return s.ev, s.err
}

func newTestEngine(t *testing.T, primary Evaluator) (*Engine, *history.Store) {
	t.Helper()
	hist := history.NewStore()
	eng, err := NewEngine(Config{
		Logger:         flowtesting.NewLogger(),
		History:        hist,
		Primary:        primary,
		Fallback:       NewRuleEvaluator([]string{"@flowdrop"}),
		PrimaryTimeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	return eng, hist
}

func TestFlowDrop_Engine_Validate(t *testing.T) {
	t.Parallel()

	valid := Config{
		Logger:   flowtesting.NewLogger(),
		History:  history.NewStore(),
		Fallback: NewRuleEvaluator(nil),
	}
	require.NoError(t, valid.Validate())

	t.Run("logger is required", func(t *testing.T) {
		t.Parallel()
		cfg := valid
		cfg.Logger = nil
		require.ErrorContains(t, cfg.Validate(), "logger is required")
	})
	t.Run("history store is required", func(t *testing.T) {
		t.Parallel()
		cfg := valid
		cfg.History = nil
		require.ErrorContains(t, cfg.Validate(), "history store is required")
	})
	t.Run("fallback evaluator is required", func(t *testing.T) {
		t.Parallel()
		cfg := valid
		cfg.Fallback = nil
		require.ErrorContains(t, cfg.Validate(), "fallback evaluator is required")
	})
}

func TestFlowDrop_Engine_Score(t *testing.T) {
	t.Parallel()

	post := Post{
		ID:        "p1",
		AuthorID:  "alice",
		Text:      "what do people make of the new distribution curve? genuinely curious",
		CreatedAt: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	}

	t.Run("primary path is used when it succeeds", func(t *testing.T) {
		t.Parallel()

		primary := &stubEvaluator{ev: Evaluation{
			Factors:   Factors{CommunicationQuality: 90, CommunityImpact: 50, Consistency: 50, CampaignEngagement: 70},
			Reasoning: &Reasoning{CommunicationQuality: "substantive question"},
		}}
		eng, hist := newTestEngine(t, primary)

		bd, entry, err := eng.Score(context.Background(), post)
		require.NoError(t, err)
		require.Equal(t, "stub", bd.Evaluator)
		require.Equal(t, 1, primary.calls)
		// 90*0.4 + 50*0.3 + 50*0.2 + 70*0.1
		require.Equal(t, 68.0, bd.TotalScore)
		require.NotNil(t, bd.Reasoning)

		require.Equal(t, 1, entry.PostCount)
		require.Equal(t, 68.0, entry.CumulativeScore)
		require.Equal(t, post.CreatedAt, entry.LastPostAt)
		require.Equal(t, entry, hist.Get("alice"))
	})

	t.Run("out-of-range primary factors are clamped before weighting", func(t *testing.T) {
		t.Parallel()

		primary := &stubEvaluator{ev: Evaluation{
			Factors: Factors{CommunicationQuality: 150, CommunityImpact: -10, Consistency: 50, CampaignEngagement: 50},
		}}
		eng, _ := newTestEngine(t, primary)

		bd, _, err := eng.Score(context.Background(), post)
		require.NoError(t, err)
		require.Equal(t, 100.0, bd.CommunicationQuality)
		require.Equal(t, 0.0, bd.CommunityImpact)
	})

	t.Run("primary failure falls back to rules transparently", func(t *testing.T) {
		t.Parallel()

		primary := &stubEvaluator{err: fmt.Errorf("model overloaded")}
		eng, hist := newTestEngine(t, primary)

		bd, entry, err := eng.Score(context.Background(), post)
		require.NoError(t, err)
		require.Equal(t, "rules", bd.Evaluator)
		require.Equal(t, 1, primary.calls)

		// Same shape as a direct rule evaluation.
		want := finalize(NewRuleEvaluator([]string{"@flowdrop"}).Evaluate(post, history.Entry{}), "rules")
		require.Equal(t, want, bd)

		// Exactly one history record regardless of the failover.
		require.Equal(t, 1, entry.PostCount)
		require.Equal(t, 1, hist.Size())
	})

	t.Run("primary timeout falls back to rules", func(t *testing.T) {
		t.Parallel()

		primary := &stubEvaluator{block: true}
		eng, _ := newTestEngine(t, primary)

		start := time.Now()
		bd, _, err := eng.Score(context.Background(), post)
		require.NoError(t, err)
		require.Equal(t, "rules", bd.Evaluator)
		require.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("nil primary always scores on rules", func(t *testing.T) {
		t.Parallel()

		eng, _ := newTestEngine(t, nil)
		bd, _, err := eng.Score(context.Background(), post)
		require.NoError(t, err)
		require.Equal(t, "rules", bd.Evaluator)
	})

	t.Run("missing author is an error and records nothing", func(t *testing.T) {
		t.Parallel()

		eng, hist := newTestEngine(t, nil)
		_, _, err := eng.Score(context.Background(), Post{ID: "p9", Text: "hi"})
		require.ErrorContains(t, err, "no author")
		require.Equal(t, 0, hist.Size())
	})

	t.Run("re-delivered post ID is scored exactly once", func(t *testing.T) {
		t.Parallel()

		eng, hist := newTestEngine(t, nil)
		first, entry, err := eng.Score(context.Background(), post)
		require.NoError(t, err)
		require.Equal(t, 1, entry.PostCount)

		_, again, err := eng.Score(context.Background(), post)
		require.ErrorIs(t, err, ErrDuplicatePost)
		require.Equal(t, 1, again.PostCount)
		require.InDelta(t, first.TotalScore, again.CumulativeScore, 1e-9)
		require.Equal(t, entry, hist.Get("alice"))
	})

	t.Run("concurrent posts by one author see sequential priors", func(t *testing.T) {
		t.Parallel()

		// Each evaluation runs under the author's lock, so whichever post
		// goes second must see the first already folded in.
		var mu sync.Mutex
		var priors []history.Entry
		eng, _ := newTestEngine(t, &stubEvaluator{onEvaluate: func(prior history.Entry) {
			mu.Lock()
			priors = append(priors, prior)
			mu.Unlock()
		}})

		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p := post
				p.ID = fmt.Sprintf("concurrent-%d", i)
				_, _, err := eng.Score(context.Background(), p)
				require.NoError(t, err)
			}()
		}
		wg.Wait()

		require.Len(t, priors, 2)
		counts := []int{priors[0].PostCount, priors[1].PostCount}
		sort.Ints(counts)
		require.Equal(t, []int{0, 1}, counts)
	})

	t.Run("consistency judges the gap to the previous post", func(t *testing.T) {
		t.Parallel()

		eng, _ := newTestEngine(t, nil)
		first, _, err := eng.Score(context.Background(), post)
		require.NoError(t, err)
		require.Equal(t, 50.0, first.Consistency)

		followup := post
		followup.ID = "p2"
		followup.CreatedAt = post.CreatedAt.Add(24 * time.Hour)
		second, entry, err := eng.Score(context.Background(), followup)
		require.NoError(t, err)
		require.Equal(t, 80.0, second.Consistency)
		require.Equal(t, 2, entry.PostCount)
	})
}
