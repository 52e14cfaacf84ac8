package scoring

import (
	"strings"
	"time"
	"unicode"

	"github.com/flowdroplabs/flowdrop/scoring/pkg/history"
)

// Rule thresholds for the deterministic evaluator.
const (
	// Communication quality.
	idealMinWords = 10
	idealMaxWords = 280

	// Consistency gaps between consecutive posts by the same author.
	spamGap      = 2 * time.Hour
	idealGapLow  = 6 * time.Hour
	idealGapHigh = 48 * time.Hour
	dormantGap   = 168 * time.Hour

	// Neutral baseline for an author's first-ever post.
	firstPostConsistency = 50
)

// fillerWords are greeting/hype tokens that carry no substance on their own.
var fillerWords = map[string]struct{}{
	"gm": {}, "gn": {}, "gmgm": {}, "wagmi": {}, "lfg": {}, "moon": {},
	"pump": {}, "hello": {}, "hi": {}, "hey": {}, "morning": {}, "ser": {},
}

// ackWords are generic acknowledgements that score low on campaign engagement.
var ackWords = map[string]struct{}{
	"thanks": {}, "thank": {}, "ty": {}, "nice": {}, "ok": {}, "okay": {},
	"cool": {}, "great": {}, "gg": {}, "gm": {}, "gn": {}, "lfg": {},
	"wagmi": {}, "bullish": {}, "based": {},
}

// reflectiveWords signal the author is reasoning rather than reacting.
var reflectiveWords = map[string]struct{}{
	"think": {}, "believe": {}, "because": {}, "learned": {}, "wonder": {},
	"feel": {}, "realize": {}, "realized": {}, "why": {}, "how": {},
}

// RuleEvaluator is the deterministic fallback scorer. Pure function of the
// post and history; never calls any external service, so the same input
// always produces the same output.
type RuleEvaluator struct {
	targets map[string]struct{}
}

// NewRuleEvaluator creates a rule evaluator tracking the given target
// accounts for campaign engagement.
func NewRuleEvaluator(targetAccounts []string) *RuleEvaluator {
	targets := make(map[string]struct{}, len(targetAccounts))
	for _, t := range targetAccounts {
		targets[strings.ToLower(strings.TrimPrefix(t, "@"))] = struct{}{}
	}
	return &RuleEvaluator{targets: targets}
}

// Evaluate scores the post against the rule thresholds.
func (r *RuleEvaluator) Evaluate(post Post, hist history.Entry) Evaluation {
	words := tokenize(post.Text)

	comm := r.scoreCommunication(post, words)
	impact := r.scoreCommunityImpact(post)
	consistency := r.scoreConsistency(post, hist)
	campaign := r.scoreCampaignEngagement(post, words)

	farming := len(words) > 0 && allIn(words, fillerWords) && len(words) <= 3
	spam := hasRepeatedCharSpam(post.Text) || emojiRatio(post.Text, len(words)) > 0.5

	return Evaluation{
		Factors: Factors{
			CommunicationQuality: comm,
			CommunityImpact:      impact,
			Consistency:          consistency,
			CampaignEngagement:   campaign,
		},
		Flags: &QualityFlags{
			IsSpam:        spam,
			IsFarming:     farming || spam,
			IsSubstantive: len(words) >= idealMinWords && !spam,
		},
	}
}

func (r *RuleEvaluator) scoreCommunication(post Post, words []string) float64 {
	score := 0.0

	switch {
	case len(words) == 0:
		score = 5
	case len(words) <= 3 && allIn(words, fillerWords):
		// Farming pattern: a few generic hype tokens and nothing else.
		score = 10
	case hasRepeatedCharSpam(post.Text):
		score = 15
	default:
		score = 50
		switch {
		case len(words) >= idealMinWords && len(words) <= idealMaxWords:
			score += 25
		case len(words) >= 4:
			score += 5
		case len(words) > idealMaxWords:
			score += 5
		}
		if emojiRatio(post.Text, len(words)) > 0.5 {
			score -= 20
		}
		if strings.Contains(post.Text, "?") {
			score += 10
		}
		if anyIn(words, reflectiveWords) {
			score += 5
		}
	}

	if post.AuthorVerified {
		score += 10
	}
	return clamp(score, 0, 100)
}

func (r *RuleEvaluator) scoreCommunityImpact(post Post) float64 {
	score := 10.0

	// Reshares carry the most reach, replies signal conversation, likes the
	// least. Capped so engagement alone cannot max the factor.
	engagement := float64(post.Likes + 2*post.Replies + 3*post.Reshares)
	score += min(60, engagement)

	switch {
	case post.AuthorFollowers >= 100_000:
		score += 20
	case post.AuthorFollowers >= 10_000:
		score += 15
	case post.AuthorFollowers >= 1_000:
		score += 10
	case post.AuthorFollowers >= 100:
		score += 5
	}

	if post.ChannelID != "" {
		score += 5
	}
	return clamp(score, 0, 100)
}

func (r *RuleEvaluator) scoreConsistency(post Post, hist history.Entry) float64 {
	if !hist.HasPosted() {
		return firstPostConsistency
	}

	gap := post.CreatedAt.Sub(hist.LastPostAt)
	var score float64
	switch {
	case gap < spamGap:
		score = 20
	case gap < idealGapLow:
		score = 50
	case gap <= idealGapHigh:
		score = 80
	case gap <= dormantGap:
		score = 65
	default:
		score = 50
	}

	// Small loyalty bonus for a long posting record.
	score += min(20, float64(hist.PostCount/5))
	return clamp(score, 0, 100)
}

func (r *RuleEvaluator) scoreCampaignEngagement(post Post, words []string) float64 {
	if len(words) == 0 {
		return 5
	}
	if len(words) <= 2 && allIn(words, ackWords) {
		return 10
	}

	score := 20.0
	if r.isTarget(post.ReplyTo) || r.mentionsTarget(post.Text) {
		score += 30
	}
	if len(words) >= idealMinWords {
		score += 15
	}
	if strings.Contains(post.Text, "?") {
		score += 10
	}
	return clamp(score, 0, 100)
}

func (r *RuleEvaluator) isTarget(account string) bool {
	if account == "" {
		return false
	}
	_, ok := r.targets[strings.ToLower(strings.TrimPrefix(account, "@"))]
	return ok
}

func (r *RuleEvaluator) mentionsTarget(text string) bool {
	lower := strings.ToLower(text)
	for target := range r.targets {
		if strings.Contains(lower, "@"+target) {
			return true
		}
	}
	return false
}

// tokenize lowercases and strips surrounding punctuation from each word.
func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '@'
		})
		if w != "" {
			words = append(words, w)
		}
	}
	return words
}

func allIn(words []string, set map[string]struct{}) bool {
	for _, w := range words {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return len(words) > 0
}

func anyIn(words []string, set map[string]struct{}) bool {
	for _, w := range words {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}

// hasRepeatedCharSpam reports a run of 5+ identical characters.
func hasRepeatedCharSpam(text string) bool {
	var prev rune
	run := 0
	for _, r := range text {
		if r == prev {
			run++
			if run >= 5 {
				return true
			}
		} else {
			prev = r
			run = 1
		}
	}
	return false
}

func emojiRatio(text string, wordCount int) float64 {
	if wordCount == 0 {
		return 0
	}
	emojis := 0
	for _, r := range text {
		if unicode.Is(unicode.So, r) {
			emojis++
		}
	}
	return float64(emojis) / float64(wordCount)
}
