package webserver

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/snowlist/snowlist/src/api/ratelimit"
)

// RateLimitMiddleware runs every request through the limiter. Denied
// requests get a 429 with the retry hint and nothing else happens; the
// counter keeps accruing so retries never reset the window.
//
// The middleware sits in front of JWTMiddleware, so it does its own
// lenient token parse: a bad token just means the request is limited as
// anonymous and rejected properly further down the chain.
func RateLimitMiddleware(limiter *ratelimit.Limiter, secret []byte, window time.Duration, maxFn ratelimit.MaxFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := ratelimit.Subject{
			Key: c.ClientIP(),
			IP:  c.ClientIP(),
		}
		if uid, role, ok := peekClaims(c, secret); ok {
			subject.Key = strconv.FormatUint(uid, 10)
			subject.UserID = uid
			subject.Role = role
			subject.Authenticated = true
		}

		decision, err := limiter.Allow(c, subject, c.FullPath(), window, maxFn)
		if err != nil {
			// Counter store down: admit rather than taking the API down
			// with it.
			log.Printf("ratelimit: %v", err)
			c.Next()
			return
		}

		if !decision.Allowed {
			retryMs := decision.RetryAfter.Milliseconds()
			c.Header("Retry-After", fmt.Sprintf("%d", (retryMs+999)/1000))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"err":            "rate limit exceeded",
				"retry_after_ms": retryMs,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

func peekClaims(c *gin.Context, secret []byte) (uint64, string, bool) {
	h := c.GetHeader("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return 0, "", false
	}
	tok, err := jwt.Parse(h[7:], func(t *jwt.Token) (interface{}, error) { return secret, nil })
	if err != nil || !tok.Valid {
		return 0, "", false
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return 0, "", false
	}
	uid, ok := claims["uid"].(float64)
	if !ok {
		return 0, "", false
	}
	role, _ := claims["role"].(string)
	return uint64(uid), role, true
}
