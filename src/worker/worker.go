package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/snowlist/snowlist/src/api/config"
	"github.com/snowlist/snowlist/src/api/data"
	"github.com/snowlist/snowlist/src/api/email"
	"github.com/snowlist/snowlist/src/api/karma"
	"github.com/snowlist/snowlist/src/api/snowball"
)

// Delivery worker: consumes distribution jobs from the redis stream the
// API publishes to, sends the email and confirms delivery on the event.
// Runs as any number of identical processes; the consumer group makes
// each job land on exactly one of them.
type Worker struct {
	db     *gorm.DB
	rdb    *redis.Client
	engine *snowball.Engine
	sender email.Sender
	name   string
}

func main() {
	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "snowlist:snowlist@tcp(127.0.0.1:3306)/snowlist"
	}
	db := data.MustMySQL(mysqlDSN)

	if err := data.LoadSettings(db); err != nil {
		log.Printf("Failed to load settings: %v", err)
	}

	cfg := config.Load(db)
	rdb := data.MustRedis(cfg.RedisURL)

	hostname, _ := os.Hostname()
	w := &Worker{
		db:     db,
		rdb:    rdb,
		engine: snowball.NewEngine(db, data.NewQueue(rdb), karma.NewLedger(db)),
		sender: email.LogSender{},
		name:   "worker-" + hostname,
	}

	ctx, cancel := context.WithCancel(context.Background())

	if err := rdb.XGroupCreateMkStream(ctx, data.StreamDistribution, data.GroupDelivery, "0").Err(); err != nil {
		// BUSYGROUP means another worker created it first.
		if err.Error() != "BUSYGROUP Consumer Group name already exists" {
			log.Printf("consumer group: %v", err)
		}
	}

	go w.run(ctx)

	log.Printf("Snowlist delivery worker %s started", w.name)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	cancel()
}

func (w *Worker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			streams, err := w.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    data.GroupDelivery,
				Consumer: w.name,
				Streams:  []string{data.StreamDistribution, ">"},
				Count:    10,
				Block:    5 * time.Second,
			}).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					log.Printf("Error reading stream: %v", err)
				}
				continue
			}

			for _, stream := range streams {
				for _, msg := range stream.Messages {
					job := parseJob(msg.Values)
					if err := w.deliver(ctx, job); err != nil {
						log.Printf("Failed to deliver to %s: %v", job.Email, err)
						continue
					}
					if err := w.rdb.XAck(ctx, data.StreamDistribution, data.GroupDelivery, msg.ID).Err(); err != nil {
						log.Printf("Failed to ack %s: %v", msg.ID, err)
					}
				}
			}
		}
	}
}

func (w *Worker) deliver(ctx context.Context, job snowball.Job) error {
	if err := w.sender.SendDistributionEmail(ctx, job.Email, job.PostID, job.RepositoryID, job.Message); err != nil {
		return err
	}
	if err := w.engine.ConfirmSent(ctx, job.EventID); err != nil {
		return err
	}
	log.Printf("Delivered post %d to %s (event %d, generation %d)", job.PostID, job.Email, job.EventID, job.Generation)
	return nil
}

func parseJob(values map[string]any) snowball.Job {
	var job snowball.Job
	job.EventID = parseUint(values, "event_id")
	job.PostID = parseUint(values, "post_id")
	job.RepositoryID = parseUint(values, "repository_id")
	job.SharerID = parseUint(values, "sharer_id")
	job.MemberID = parseUint(values, "member_id")
	job.Generation = int(parseUint(values, "generation"))
	if email, ok := values["email"].(string); ok {
		job.Email = email
	}
	if message, ok := values["message"].(string); ok {
		job.Message = message
	}
	return job
}

func parseUint(values map[string]any, key string) uint64 {
	s, ok := values[key].(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
