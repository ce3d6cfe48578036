package webserver

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/snowlist/snowlist/src/api/config"
	"github.com/snowlist/snowlist/src/api/data"
	"github.com/snowlist/snowlist/src/api/email"
	"github.com/snowlist/snowlist/src/api/karma"
	"github.com/snowlist/snowlist/src/api/ratelimit"
	"github.com/snowlist/snowlist/src/api/repository"
	"github.com/snowlist/snowlist/src/api/snowball"
)

func attachRoutes(r *gin.Engine, cfg config.Config, db *gorm.DB, rdb *redis.Client) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000", "https://app.snowlist.io"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
	}))

	ledger := karma.NewLedger(db)
	store := repository.NewStore(db, data.NewTokenStore(rdb), email.LogSender{})
	engine := snowball.NewEngine(db, data.NewQueue(rdb), ledger)
	limiter := ratelimit.New(ratelimit.NewRedisStore(rdb), cfg.IPWhitelist, []string{"/healthz"})

	maxFn := ratelimit.KarmaBasedMax(cfg.RateLimitMax, cfg.KarmaMultiplier, ledger)
	r.Use(RateLimitMiddleware(limiter, []byte(cfg.JWTSecret), cfg.RateLimitWindow, maxFn))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })

	authH := NewAuth(db, []byte(cfg.JWTSecret))
	repoH := NewRepositories(store, engine, ledger)
	snowH := NewSnowballs(engine)
	karmaH := NewKarma(ledger)

	v1 := r.Group("/v1")
	{
		v1.POST("/auth/token", authH.Token)
		v1.GET("/verify/:token", repoH.Verify)

		secured := v1.Use(JWTMiddleware([]byte(cfg.JWTSecret)))
		secured.POST("/repositories", repoH.Create)
		secured.POST("/repositories/:id/emails", repoH.AddEmails)
		secured.DELETE("/repositories/:id/emails/:email", repoH.RemoveEmail)
		secured.POST("/members/:id/engagement", repoH.Engagement)
		secured.POST("/posts/:id/snowball", snowH.Initiate)
		secured.GET("/users/:id/karma", karmaH.Get)
		secured.POST("/karma/actions", karmaH.RecordAction)
	}
}
