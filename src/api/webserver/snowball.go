package webserver

import (
	"errors"
	"net/http"
	"strconv"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"

	"github.com/snowlist/snowlist/src/api/snowball"
)

type Snowballs struct {
	engine    *snowball.Engine
	sanitizer *bluemonday.Policy
}

func NewSnowballs(engine *snowball.Engine) Snowballs {
	// Strict sanitizer for the share message, which ends up in outbound
	// email bodies.
	sanitizer := bluemonday.StrictPolicy()
	sanitizer.AllowElements("p", "br", "strong", "em", "code", "blockquote")
	sanitizer.AllowAttrs("href").OnElements("a")
	sanitizer.RequireParseableURLs(true)
	sanitizer.RequireNoFollowOnLinks(true)

	return Snowballs{engine: engine, sanitizer: sanitizer}
}

func (h Snowballs) Initiate(c *gin.Context) {
	postID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "invalid post id"})
		return
	}

	var req struct {
		RepositoryID     uint64 `json:"repository_id" binding:"required"`
		Message          string `json:"message" binding:"max=5000"`
		ParentGeneration int    `json:"parent_generation" binding:"min=0,max=100"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	req.Message = h.sanitizer.Sanitize(req.Message)
	if !utf8.ValidString(req.Message) {
		c.JSON(http.StatusBadRequest, gin.H{"err": "invalid characters in message"})
		return
	}

	event, err := h.engine.Initiate(c, snowball.Input{
		PostID:           postID,
		RepositoryID:     req.RepositoryID,
		SharerID:         userID(c),
		Message:          req.Message,
		ParentGeneration: req.ParentGeneration,
	})
	switch {
	case errors.Is(err, snowball.ErrSnowballDisabled):
		c.JSON(http.StatusBadRequest, gin.H{"err": "snowball disabled for this repository"})
	case errors.Is(err, snowball.ErrSnowballInFlight):
		c.JSON(http.StatusConflict, gin.H{"err": "snowball already in progress"})
	case errors.Is(err, snowball.ErrPostNotFound), errors.Is(err, snowball.ErrRepositoryNotFound):
		c.JSON(http.StatusNotFound, gin.H{"err": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
	default:
		c.JSON(http.StatusCreated, gin.H{
			"event_id":   event.ID,
			"generation": event.Generation,
		})
	}
}
