package webserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/snowlist/snowlist/src/api/karma"
	"github.com/snowlist/snowlist/src/api/repository"
	"github.com/snowlist/snowlist/src/api/snowball"
	"github.com/snowlist/snowlist/src/api/types"
)

type Repositories struct {
	store  *repository.Store
	engine *snowball.Engine
	ledger *karma.Ledger
}

func NewRepositories(store *repository.Store, engine *snowball.Engine, ledger *karma.Ledger) Repositories {
	return Repositories{store: store, engine: engine, ledger: ledger}
}

func (h Repositories) Create(c *gin.Context) {
	var req struct {
		Slug string `json:"slug" binding:"required,min=2,max=64"`
		Name string `json:"name" binding:"required,min=2,max=128"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	repo, err := h.store.Create(c, req.Slug, req.Name, userID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, repo)
}

func (h Repositories) AddEmails(c *gin.Context) {
	repoID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "invalid repository id"})
		return
	}

	var req struct {
		Entries []struct {
			Email string   `json:"email" binding:"required"`
			Tags  []string `json:"tags"`
		} `json:"entries" binding:"required,min=1,max=10000"`
		Source  string `json:"source" binding:"omitempty,oneof=manual csv snowball api"`
		EventID uint64 `json:"event_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	if req.Source == "" {
		req.Source = types.SourceManual
	}

	entries := make([]repository.Entry, 0, len(req.Entries))
	for _, e := range req.Entries {
		entries = append(entries, repository.Entry{Email: e.Email, Tags: e.Tags})
	}

	res, err := h.store.AddEmails(c, repoID, entries, repository.AddOpts{
		Source:  req.Source,
		ActorID: userID(c),
		EventID: req.EventID,
	})
	if err != nil {
		if errors.Is(err, repository.ErrRepositoryNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"err": "repository not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	// CSV uploads that actually added members earn karma.
	if req.Source == types.SourceCSV && len(res.New) > 0 {
		if _, err := h.ledger.Record(c, userID(c), karma.ActionCsvUpload, karma.Context{
			RelatedKind: "repository",
			RelatedID:   repoID,
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"new":       len(res.New),
		"duplicate": res.Duplicate,
		"invalid":   res.Invalid,
		"rejected":  res.Rejected,
	})
}

func (h Repositories) RemoveEmail(c *gin.Context) {
	repoID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "invalid repository id"})
		return
	}

	err = h.store.RemoveEmail(c, repoID, c.Param("email"))
	switch {
	case errors.Is(err, repository.ErrMemberNotFound):
		c.JSON(http.StatusNotFound, gin.H{"err": "member not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"removed": true})
	}
}

// Verify consumes a one-shot verification token. A reused or unknown token
// is a 404 with no state change.
func (h Repositories) Verify(c *gin.Context) {
	member, err := h.store.VerifyEmail(c, c.Param("token"))
	if errors.Is(err, repository.ErrTokenNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"err": "token not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	// Members recruited through a snowball credit the sharer.
	if err := h.engine.ConfirmVerified(c, member); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"email":  member.Email,
		"status": member.Status,
	})
}

// Engagement is the webhook for delivery confirmations: opens, clicks and
// contributions reported by the delivery service.
func (h Repositories) Engagement(c *gin.Context) {
	memberID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "invalid member id"})
		return
	}

	var req struct {
		Kind string `json:"kind" binding:"required,oneof=open click contribution"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	err = h.store.RecordEngagement(c, memberID, req.Kind)
	switch {
	case errors.Is(err, repository.ErrMemberNotFound):
		c.JSON(http.StatusNotFound, gin.H{"err": "member not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"recorded": true})
	}
}
