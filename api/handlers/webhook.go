package handlers

import (
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/flowdroplabs/flowdrop/api/metrics"
	"github.com/flowdroplabs/flowdrop/scoring/pkg/history"
	"github.com/flowdroplabs/flowdrop/scoring/pkg/scoring"
	"github.com/flowdroplabs/flowdrop/scoring/pkg/store"
)

// WebhookResponse is the acknowledgement returned to the feed for one
// scored post.
type WebhookResponse struct {
	// DeliveryID identifies this webhook delivery in logs.
	DeliveryID string                 `json:"delivery_id"`
	PostID     string                 `json:"post_id"`
	AuthorID   string                 `json:"author_id"`
	Score      scoring.ScoreBreakdown `json:"score"`
	History    historyView            `json:"history"`
	Units      int64                  `json:"units"`
	TxHash     string                 `json:"tx_hash,omitempty"`

	// Duplicate marks a re-delivered post that was acknowledged without
	// being scored or counted again.
	Duplicate bool `json:"duplicate,omitempty"`
}

type historyView struct {
	PostCount       int       `json:"post_count"`
	CumulativeScore float64   `json:"cumulative_score"`
	AverageScore    float64   `json:"average_score"`
	LastPostAt      time.Time `json:"last_post_at"`
}

// HandlePostWebhook ingests one post from the feed: score it, persist it,
// fold it into the author's totals, and push the author's new unit count to
// the distributor. Deliveries are at-least-once, so a post ID seen before is
// acknowledged without scoring or counting it again. A distributor failure
// is reported but never rolls back scoring or persistence.
func (h *Handlers) HandlePostWebhook(w http.ResponseWriter, r *http.Request) {
	var post scoring.Post
	if err := decodeJSONBody(r, &post); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if post.ID == "" {
		writeError(w, http.StatusBadRequest, "post id is required")
		return
	}
	if post.AuthorID == "" {
		writeError(w, http.StatusBadRequest, "author id is required")
		return
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}

	ctx := r.Context()
	deliveryID := uuid.NewString()
	h.log.Debug("webhook delivery received", "deliveryID", deliveryID, "postID", post.ID, "authorID", post.AuthorID)

	// The engine dedupes deliveries within this process; the store check
	// catches re-deliveries that arrive after a restart.
	if h.cfg.Store != nil {
		exists, err := h.cfg.Store.HasPost(ctx, post.ID)
		if err != nil {
			h.log.Error("failed to check for earlier delivery", "postID", post.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to check for earlier delivery")
			return
		}
		if exists {
			entry, units, err := h.cfg.Store.GetAuthorTotals(ctx, post.AuthorID)
			if err != nil {
				h.log.Error("failed to read author totals", "authorID", post.AuthorID, "error", err)
				writeError(w, http.StatusInternalServerError, "failed to read author totals")
				return
			}
			h.ackDuplicate(w, deliveryID, post, entry, units)
			return
		}
	}

	bd, entry, err := h.cfg.Engine.Score(ctx, post)
	if errors.Is(err, scoring.ErrDuplicatePost) {
		h.ackDuplicate(w, deliveryID, post, entry, store.UnitsForScore(entry.CumulativeScore))
		return
	}
	if err != nil {
		h.log.Error("failed to score post", "deliveryID", deliveryID, "postID", post.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to score post")
		return
	}

	units := store.UnitsForScore(entry.CumulativeScore)
	if h.cfg.Store != nil {
		if err := h.cfg.Store.SavePost(ctx, post, bd); err != nil {
			h.log.Error("failed to persist post", "postID", post.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to persist post")
			return
		}
		if units, err = h.cfg.Store.UpsertAuthorTotals(ctx, post.AuthorID, entry); err != nil {
			h.log.Error("failed to persist author totals", "authorID", post.AuthorID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to persist author totals")
			return
		}
	}

	if bd.Flags != nil && (bd.Flags.IsSpam || bd.Flags.IsFarming) {
		h.cfg.Notifier.NotifyFlaggedPost(ctx, post.ID, post.AuthorID, bd.TotalScore, bd.Flags.IsSpam, bd.Flags.IsFarming)
	}

	var txHash string
	if h.cfg.Units != nil {
		txHash, err = h.cfg.Units.UpdateMemberUnits(ctx, post.AuthorID, big.NewInt(units))
		metrics.RecordUnitSubmission(err)
		if err != nil {
			// The score is already on file; the next post will resubmit the
			// author's full unit count.
			h.log.Error("failed to submit unit update", "authorID", post.AuthorID, "units", units, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, WebhookResponse{
		DeliveryID: deliveryID,
		PostID:     post.ID,
		AuthorID:   post.AuthorID,
		Score:      bd,
		History:    newHistoryView(entry),
		Units:      units,
		TxHash:     txHash,
	})
}

// ackDuplicate acknowledges a re-delivered post with the author's current
// totals so the feed stops retrying. Nothing is scored, persisted, or
// submitted for it.
func (h *Handlers) ackDuplicate(w http.ResponseWriter, deliveryID string, post scoring.Post, entry history.Entry, units int64) {
	h.log.Info("acknowledged duplicate delivery",
		"deliveryID", deliveryID, "postID", post.ID, "authorID", post.AuthorID)
	writeJSON(w, http.StatusOK, WebhookResponse{
		DeliveryID: deliveryID,
		PostID:     post.ID,
		AuthorID:   post.AuthorID,
		History:    newHistoryView(entry),
		Units:      units,
		Duplicate:  true,
	})
}

func newHistoryView(entry history.Entry) historyView {
	return historyView{
		PostCount:       entry.PostCount,
		CumulativeScore: entry.CumulativeScore,
		AverageScore:    entry.AverageScore,
		LastPostAt:      entry.LastPostAt,
	}
}
