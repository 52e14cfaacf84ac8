package scoring

import (
	"fmt"
	"strings"
	"time"

	"github.com/flowdroplabs/flowdrop/scoring/pkg/history"
)

const evaluatorSystemPrompt = `You are a strict content-quality judge for a social rewards program.
You score a single social post on four factors, each an integer or decimal from 0 to 100:

1. communication_quality (weight 40%): substantive length (roughly 10-280 words is ideal),
   genuine questions and reflective language score high. Near-duplicate or repeated-character
   spam, emoji floods, and short generic filler ("gm", "wagmi", "lfg" and similar with 3 or
   fewer words) score very low. A verified/power author earns a small boost.
2. community_impact (weight 30%): strictly increasing in likes, reshares and replies
   (reshares matter most, then replies, then likes), higher for larger follower reach,
   small bonus for posting in a recognized channel.
3. consistency (weight 20%): judge the gap since the author's previous post. Roughly 6-48
   hours is ideal; under 2 hours looks like spam; over a week is slightly penalized. A long
   lifetime posting record earns a small bonus. A first-ever post gets a neutral 50.
4. campaign_engagement (weight 10%): replying to or genuinely mentioning a tracked target
   account scores high, as do substantive length and real questions. Generic one-word
   acknowledgements ("thanks", "nice", "ok") score very low.

Respond with ONLY a JSON object, no prose and no markdown fences, in exactly this shape:
{
  "communication_quality": <0-100>,
  "community_impact": <0-100>,
  "consistency": <0-100>,
  "campaign_engagement": <0-100>,
  "reasoning": {
    "communication_quality": "<one sentence>",
    "community_impact": "<one sentence>",
    "consistency": "<one sentence>",
    "campaign_engagement": "<one sentence>"
  },
  "flags": {
    "is_spam": <bool>,
    "is_farming": <bool>,
    "is_substantive": <bool>
  }
}`

func buildUserPrompt(post Post, hist history.Entry, targets []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "POST:\n%s\n\n", post.Text)
	fmt.Fprintf(&b, "METADATA:\n")
	fmt.Fprintf(&b, "- created_at: %s\n", post.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- likes: %d, reshares: %d, replies: %d\n", post.Likes, post.Reshares, post.Replies)
	fmt.Fprintf(&b, "- author_followers: %d, author_verified: %t\n", post.AuthorFollowers, post.AuthorVerified)
	if post.IsReply() {
		fmt.Fprintf(&b, "- reply_to: %s\n", post.ReplyTo)
	}
	if post.ChannelID != "" {
		fmt.Fprintf(&b, "- channel: %s\n", post.ChannelID)
	}
	if post.HasLink {
		fmt.Fprintf(&b, "- contains_link: true\n")
	}

	fmt.Fprintf(&b, "\nTRACKED TARGET ACCOUNTS: %s\n", strings.Join(targets, ", "))

	fmt.Fprintf(&b, "\nAUTHOR HISTORY:\n")
	if hist.HasPosted() {
		fmt.Fprintf(&b, "- lifetime posts: %d\n", hist.PostCount)
		fmt.Fprintf(&b, "- average score: %.2f\n", hist.AverageScore)
		fmt.Fprintf(&b, "- previous post at: %s (%.1f hours before this one)\n",
			hist.LastPostAt.UTC().Format(time.RFC3339),
			post.CreatedAt.Sub(hist.LastPostAt).Hours())
	} else {
		fmt.Fprintf(&b, "- first-ever post by this author\n")
	}

	return b.String()
}
