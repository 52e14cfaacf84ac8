// Package scoring turns one social post plus its author's rolling history
// into a bounded, weighted, four-factor quality score. The primary
// evaluation path asks an LLM for judgment; a deterministic rule evaluator
// produces the same shape when the model is unavailable.
package scoring

import (
	"math"
	"time"
)

// Factor weights. Fixed, summing to 1.0.
const (
	WeightCommunicationQuality = 0.4
	WeightCommunityImpact      = 0.3
	WeightConsistency          = 0.2
	WeightCampaignEngagement   = 0.1
)

// Post is one public social post as delivered by the feed webhook.
// Optional fields default to zero/false; that is never an error.
type Post struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`

	Likes    int `json:"likes"`
	Reshares int `json:"reshares"`
	Replies  int `json:"replies"`

	// ReplyTo is the account this post replies to, empty when not a reply.
	ReplyTo string `json:"reply_to,omitempty"`
	// ChannelID is set when the post was made in a recognized channel.
	ChannelID string `json:"channel_id,omitempty"`
	HasLink   bool   `json:"has_link,omitempty"`

	AuthorFollowers int  `json:"author_followers"`
	AuthorVerified  bool `json:"author_verified"`
}

// IsReply reports whether the post is a reply to another post.
func (p Post) IsReply() bool {
	return p.ReplyTo != ""
}

// Factors are the four raw factor scores, each meant to live in [0,100].
type Factors struct {
	CommunicationQuality float64 `json:"communication_quality"`
	CommunityImpact      float64 `json:"community_impact"`
	Consistency          float64 `json:"consistency"`
	CampaignEngagement   float64 `json:"campaign_engagement"`
}

// Reasoning is the primary evaluator's free-text justification per factor.
// Absent on the fallback path.
type Reasoning struct {
	CommunicationQuality string `json:"communication_quality"`
	CommunityImpact      string `json:"community_impact"`
	Consistency          string `json:"consistency"`
	CampaignEngagement   string `json:"campaign_engagement"`
}

// QualityFlags are boolean quality indicators attached to an evaluation.
type QualityFlags struct {
	IsSpam        bool `json:"is_spam"`
	IsFarming     bool `json:"is_farming"`
	IsSubstantive bool `json:"is_substantive"`
}

// Evaluation is the raw output of one evaluator before weighting.
type Evaluation struct {
	Factors
	Reasoning *Reasoning
	Flags     *QualityFlags
}

// ScoreBreakdown is the finished, weighted score for one post. Each factor
// is clamped to [0,100] and rounded to 2 decimals before weighting, so the
// breakdown stays auditable against the total within rounding tolerance.
type ScoreBreakdown struct {
	CommunicationQuality float64 `json:"communication_quality"`
	CommunityImpact      float64 `json:"community_impact"`
	Consistency          float64 `json:"consistency"`
	CampaignEngagement   float64 `json:"campaign_engagement"`

	TotalScore float64 `json:"total_score"`

	Reasoning *Reasoning    `json:"reasoning,omitempty"`
	Flags     *QualityFlags `json:"flags,omitempty"`

	// Evaluator names the path that produced the factors: "anthropic" or "rules".
	Evaluator string `json:"evaluator"`
}

func finalize(ev Evaluation, evaluator string) ScoreBreakdown {
	bd := ScoreBreakdown{
		CommunicationQuality: round2(clamp(ev.CommunicationQuality, 0, 100)),
		CommunityImpact:      round2(clamp(ev.CommunityImpact, 0, 100)),
		Consistency:          round2(clamp(ev.Consistency, 0, 100)),
		CampaignEngagement:   round2(clamp(ev.CampaignEngagement, 0, 100)),
		Reasoning:            ev.Reasoning,
		Flags:                ev.Flags,
		Evaluator:            evaluator,
	}
	bd.TotalScore = round2(
		bd.CommunicationQuality*WeightCommunicationQuality +
			bd.CommunityImpact*WeightCommunityImpact +
			bd.Consistency*WeightConsistency +
			bd.CampaignEngagement*WeightCampaignEngagement)
	return bd
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
