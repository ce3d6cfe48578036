package data

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/redis/go-redis/v9"

	"github.com/snowlist/snowlist/src/api/snowball"
)

const (
	tokenPrefix    = "verify:"
	inflightPrefix = "snowball:inflight:"
	jobPrefix      = "snowjob:"

	// StreamDistribution carries one entry per distribution email to send.
	StreamDistribution = "snowlist.distribution"
	// GroupDelivery is the consumer group the workers read with.
	GroupDelivery = "delivery"

	tokenTTL    = 48 * time.Hour
	inflightTTL = 10 * time.Minute
	jobKeyTTL   = 24 * time.Hour
)

func MustRedis(url string) *redis.Client {
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	return redis.NewClient(opt)
}

// TokenStore holds verification tokens with a TTL. Claim removes the token
// atomically, so a token can succeed at most once across processes.
type TokenStore struct {
	rdb *redis.Client
}

func NewTokenStore(rdb *redis.Client) *TokenStore {
	return &TokenStore{rdb: rdb}
}

func (t *TokenStore) Save(ctx context.Context, token string, memberID uint64) error {
	return t.rdb.Set(ctx, tokenPrefix+token, memberID, tokenTTL).Err()
}

func (t *TokenStore) Claim(ctx context.Context, token string) (uint64, bool, error) {
	val, err := t.rdb.GetDel(ctx, tokenPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("token value: %w", err)
	}
	return id, true, nil
}

// Queue is the distribution job queue backing the snowball engine: a redis
// stream for the jobs themselves plus SETNX guard keys for in-flight events
// and per-recipient dedupe.
type Queue struct {
	rdb *redis.Client
}

func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

func (q *Queue) ClaimInFlight(ctx context.Context, postID, repositoryID uint64) (bool, error) {
	key := fmt.Sprintf("%s%d:%d", inflightPrefix, postID, repositoryID)
	return q.rdb.SetNX(ctx, key, 1, inflightTTL).Result()
}

func (q *Queue) ReleaseInFlight(ctx context.Context, postID, repositoryID uint64) error {
	key := fmt.Sprintf("%s%d:%d", inflightPrefix, postID, repositoryID)
	return q.rdb.Del(ctx, key).Err()
}

// ClaimJob reserves the (post, repository, recipient) job key. A second
// claim within the TTL returns false, so retried initiations never enqueue
// a duplicate email for the same recipient.
func (q *Queue) ClaimJob(ctx context.Context, postID, repositoryID uint64, email string) (bool, error) {
	return q.rdb.SetNX(ctx, jobPrefix+jobDigest(postID, repositoryID, email), 1, jobKeyTTL).Result()
}

func (q *Queue) PublishJob(ctx context.Context, job snowball.Job) error {
	_, err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamDistribution,
		Values: map[string]any{
			"event_id":      job.EventID,
			"post_id":       job.PostID,
			"repository_id": job.RepositoryID,
			"sharer_id":     job.SharerID,
			"generation":    job.Generation,
			"member_id":     job.MemberID,
			"email":         job.Email,
			"message":       job.Message,
		},
	}).Result()
	return err
}

func jobDigest(postID, repositoryID uint64, email string) string {
	h := xxhash.NewS64(0)
	fmt.Fprintf(h, "%d|%d|%s", postID, repositoryID, email)
	return strconv.FormatUint(h.Sum64(), 16)
}
