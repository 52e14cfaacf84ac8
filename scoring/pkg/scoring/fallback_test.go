package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowdroplabs/flowdrop/scoring/pkg/history"
)

var substantiveText = "Deep dive on the new pool mechanics: distribution units now settle per block, " +
	"and member balances accrue continuously between updates. I ran the numbers on three sample pools " +
	"and the rounding behavior matches the docs. Great work from the team, genuinely impressed."

func TestFlowDrop_RuleEvaluator_Scenarios(t *testing.T) {
	t.Parallel()

	eval := NewRuleEvaluator([]string{"@flowdrop"})

	t.Run("low-effort hype post from a verified account scores below 50", func(t *testing.T) {
		t.Parallel()

		post := Post{
			ID:             "p1",
			AuthorID:       "hype",
			Text:           "gm",
			CreatedAt:      time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
			AuthorVerified: true,
		}
		bd := finalize(eval.Evaluate(post, history.Entry{}), "rules")

		require.Less(t, bd.TotalScore, 50.0)
		require.True(t, bd.Flags.IsFarming)
		require.False(t, bd.Flags.IsSubstantive)
	})

	t.Run("substantive first reply to a target scores high where it should", func(t *testing.T) {
		t.Parallel()

		post := Post{
			ID:        "p2",
			AuthorID:  "newcomer",
			Text:      substantiveText,
			CreatedAt: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
			ReplyTo:   "@flowdrop",
			Likes:     10,
			Reshares:  5,
			Replies:   2,
		}
		bd := finalize(eval.Evaluate(post, history.Entry{}), "rules")

		require.Greater(t, bd.CommunicationQuality, 60.0)
		require.Greater(t, bd.CampaignEngagement, 60.0)
		// First-ever post: consistency is the neutral baseline, exactly.
		require.Equal(t, 50.0, bd.Consistency)
		require.True(t, bd.Flags.IsSubstantive)
		require.False(t, bd.Flags.IsSpam)
	})

	t.Run("repeated-character spam is flagged and scores low on communication", func(t *testing.T) {
		t.Parallel()

		post := Post{Text: "mooooooon to the moon moon moon", CreatedAt: time.Now()}
		ev := eval.Evaluate(post, history.Entry{})
		require.True(t, ev.Flags.IsSpam)
		require.LessOrEqual(t, ev.CommunicationQuality, 15.0)
	})

	t.Run("mentioning a target in the body counts as campaign engagement", func(t *testing.T) {
		t.Parallel()

		withMention := eval.Evaluate(Post{Text: "really enjoying the @flowdrop rollout across chains this week"}, history.Entry{})
		without := eval.Evaluate(Post{Text: "really enjoying the rollout across chains this week"}, history.Entry{})
		require.Greater(t, withMention.CampaignEngagement, without.CampaignEngagement)
	})

	t.Run("generic acknowledgement scores low on campaign engagement", func(t *testing.T) {
		t.Parallel()

		ev := eval.Evaluate(Post{Text: "thanks!", ReplyTo: "@flowdrop"}, history.Entry{})
		require.Equal(t, 10.0, ev.CampaignEngagement)
	})
}

func TestFlowDrop_RuleEvaluator_Consistency(t *testing.T) {
	t.Parallel()

	eval := NewRuleEvaluator(nil)
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	prior := history.Entry{PostCount: 1, CumulativeScore: 60, AverageScore: 60, LastPostAt: base}

	cases := []struct {
		name string
		gap  time.Duration
		want float64
	}{
		{"rapid-fire gap looks like spam", 30 * time.Minute, 20},
		{"short gap is mediocre", 4 * time.Hour, 50},
		{"ideal cadence", 24 * time.Hour, 80},
		{"weekly cadence is slightly penalized", 100 * time.Hour, 65},
		{"dormant author returns to neutral", 300 * time.Hour, 50},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			post := Post{Text: substantiveText, CreatedAt: base.Add(tc.gap)}
			ev := eval.Evaluate(post, prior)
			require.Equal(t, tc.want, ev.Consistency)
		})
	}

	t.Run("long posting record earns a bounded loyalty bonus", func(t *testing.T) {
		t.Parallel()

		veteran := history.Entry{PostCount: 500, LastPostAt: base}
		post := Post{Text: substantiveText, CreatedAt: base.Add(24 * time.Hour)}
		ev := eval.Evaluate(post, veteran)
		require.Equal(t, 100.0, ev.Consistency) // 80 + capped 20
	})
}

func TestFlowDrop_RuleEvaluator_BoundsAndDeterminism(t *testing.T) {
	t.Parallel()

	eval := NewRuleEvaluator([]string{"flowdrop"})
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	posts := []Post{
		{},
		{Text: "🚀🚀🚀🚀🚀🚀 moon", CreatedAt: now},
		{Text: substantiveText, Likes: 1_000_000, Reshares: 1_000_000, Replies: 1_000_000, AuthorFollowers: 10_000_000, AuthorVerified: true, ChannelID: "launch", CreatedAt: now},
		{Text: "what do people make of the new distribution curve? genuinely curious", ReplyTo: "@flowdrop", CreatedAt: now},
	}
	hists := []history.Entry{
		{},
		{PostCount: 3, CumulativeScore: 150, AverageScore: 50, LastPostAt: now.Add(-10 * time.Minute)},
		{PostCount: 1000, CumulativeScore: 90_000, AverageScore: 90, LastPostAt: now.Add(-24 * time.Hour)},
	}

	for _, post := range posts {
		for _, hist := range hists {
			bd := finalize(eval.Evaluate(post, hist), "rules")

			for _, v := range []float64{bd.CommunicationQuality, bd.CommunityImpact, bd.Consistency, bd.CampaignEngagement, bd.TotalScore} {
				require.GreaterOrEqual(t, v, 0.0)
				require.LessOrEqual(t, v, 100.0)
			}

			// The breakdown must reproduce the total within rounding tolerance.
			recomputed := bd.CommunicationQuality*WeightCommunicationQuality +
				bd.CommunityImpact*WeightCommunityImpact +
				bd.Consistency*WeightConsistency +
				bd.CampaignEngagement*WeightCampaignEngagement
			require.InDelta(t, recomputed, bd.TotalScore, 0.005+1e-9)

			// Deterministic: identical input, identical output.
			require.Equal(t, eval.Evaluate(post, hist), eval.Evaluate(post, hist))
		}
	}
}
