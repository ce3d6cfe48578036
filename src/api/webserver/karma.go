package webserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/snowlist/snowlist/src/api/karma"
)

type Karma struct {
	ledger *karma.Ledger
}

func NewKarma(ledger *karma.Ledger) Karma {
	return Karma{ledger: ledger}
}

func (h Karma) Get(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "invalid user id"})
		return
	}

	total, err := h.ledger.Total(c, id)
	if errors.Is(err, karma.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"err": "user not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	milestone := karma.ForTotal(total)
	c.JSON(http.StatusOK, gin.H{
		"total": total,
		"milestone": gin.H{
			"name":         milestone.Name,
			"threshold":    milestone.Threshold,
			"voting_power": milestone.VotingPower,
			"unlocks":      milestone.Unlocks,
		},
	})
}

// RecordAction is the internal scoring hook for request handlers outside
// this core (votes, posts, moderation). Admin only.
func (h Karma) RecordAction(c *gin.Context) {
	if c.GetString("role") != "admin" {
		c.JSON(http.StatusForbidden, gin.H{"err": "admin only"})
		return
	}

	var req struct {
		UserID      uint64 `json:"user_id" binding:"required"`
		Action      string `json:"action" binding:"required"`
		RelatedKind string `json:"related_kind"`
		RelatedID   uint64 `json:"related_id"`
		Upvotes     int64  `json:"upvotes"`
		Downvotes   int64  `json:"downvotes"`
		PostViews   int64  `json:"post_views"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	txn, err := h.ledger.Record(c, req.UserID, req.Action, karma.Context{
		RelatedKind: req.RelatedKind,
		RelatedID:   req.RelatedID,
		Upvotes:     req.Upvotes,
		Downvotes:   req.Downvotes,
		PostViews:   req.PostViews,
	})
	switch {
	case errors.Is(err, karma.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"err": "user not found"})
	case errors.Is(err, karma.ErrUnknownAction):
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
	default:
		c.JSON(http.StatusCreated, gin.H{
			"raw_delta":     txn.RawDelta,
			"applied_delta": txn.AppliedDelta,
			"balance_after": txn.BalanceAfter,
		})
	}
}
