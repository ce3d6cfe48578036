package snowball

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/snowlist/snowlist/src/api/karma"
	"github.com/snowlist/snowlist/src/api/types"
)

var (
	ErrSnowballDisabled   = errors.New("snowball disabled for repository")
	ErrSnowballInFlight   = errors.New("snowball already in progress")
	ErrPostNotFound       = errors.New("post not found")
	ErrRepositoryNotFound = errors.New("repository not found")
)

// Job is one distribution email to deliver, keyed by
// (post, repository, recipient).
type Job struct {
	EventID      uint64
	PostID       uint64
	RepositoryID uint64
	SharerID     uint64
	Generation   int
	MemberID     uint64
	Email        string
	Message      string
}

// Queue is the durable job queue plus its dedupe guards. The redis
// implementation lives in the data package.
type Queue interface {
	ClaimInFlight(ctx context.Context, postID, repositoryID uint64) (bool, error)
	ReleaseInFlight(ctx context.Context, postID, repositoryID uint64) error
	ClaimJob(ctx context.Context, postID, repositoryID uint64, email string) (bool, error)
	PublishJob(ctx context.Context, job Job) error
}

// Engine drives snowball distributions: score the repository's verified
// members, persist the event with its recipient snapshot, enqueue one job
// per recipient and credit the sharer.
type Engine struct {
	db     *gorm.DB
	queue  Queue
	ledger *karma.Ledger
	now    func() time.Time
}

func NewEngine(db *gorm.DB, queue Queue, ledger *karma.Ledger) *Engine {
	return &Engine{db: db, queue: queue, ledger: ledger, now: time.Now}
}

type Input struct {
	PostID           uint64
	RepositoryID     uint64
	SharerID         uint64
	Message          string // already sanitized by the caller
	ParentGeneration int    // 0 for a fresh share, parent's generation on a re-share
}

// Initiate is safe under client retry: the in-flight guard plus the unique
// (post, repository) index reject a duplicate call instead of fanning out
// twice, and per-recipient job keys dedupe at the queue boundary.
func (e *Engine) Initiate(ctx context.Context, in Input) (types.SnowballEvent, error) {
	var repo types.Repository
	err := e.db.WithContext(ctx).First(&repo, "id = ? AND archived = ?", in.RepositoryID, false).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.SnowballEvent{}, ErrRepositoryNotFound
	}
	if err != nil {
		return types.SnowballEvent{}, err
	}
	if !repo.AllowSnowball {
		return types.SnowballEvent{}, ErrSnowballDisabled
	}

	var post types.Post
	err = e.db.WithContext(ctx).First(&post, in.PostID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.SnowballEvent{}, ErrPostNotFound
	}
	if err != nil {
		return types.SnowballEvent{}, err
	}

	var sharer types.User
	if err := e.db.WithContext(ctx).First(&sharer, in.SharerID).Error; err != nil {
		return types.SnowballEvent{}, fmt.Errorf("sharer: %w", err)
	}

	ok, err := e.queue.ClaimInFlight(ctx, in.PostID, in.RepositoryID)
	if err != nil {
		return types.SnowballEvent{}, err
	}
	if !ok {
		return types.SnowballEvent{}, ErrSnowballInFlight
	}

	event, err := e.initiate(ctx, in, repo, post, sharer)
	if err != nil {
		// Let a clean retry through; completed events stay guarded by the
		// unique index.
		_ = e.queue.ReleaseInFlight(ctx, in.PostID, in.RepositoryID)
		return types.SnowballEvent{}, err
	}
	return event, nil
}

func (e *Engine) initiate(ctx context.Context, in Input, repo types.Repository, post types.Post, sharer types.User) (types.SnowballEvent, error) {
	now := e.now()
	sharerEmail := strings.ToLower(sharer.Email)

	var members []types.EmailMember
	if err := e.db.WithContext(ctx).
		Find(&members, "repository_id = ? AND status = ? AND email <> ?",
			repo.ID, types.StatusVerified, sharerEmail).Error; err != nil {
		return types.SnowballEvent{}, err
	}

	candidates := make([]Candidate, 0, len(members))
	for _, m := range members {
		candidates = append(candidates, Candidate{
			MemberID:      m.ID,
			Email:         m.Email,
			Tags:          splitList(m.Tags),
			Opens:         m.Opens,
			Clicks:        m.Clicks,
			Contributions: m.Contributions,
			LastActiveAt:  m.LastActiveAt,
		})
	}

	selected := Select(candidates, splitList(post.Hashtags), repo.SnowballThreshold, repo.MaxEmailsPerUpload, now)

	generation := in.ParentGeneration + 1
	if generation < 1 {
		generation = 1
	}

	event := types.SnowballEvent{
		PostID:       in.PostID,
		RepositoryID: in.RepositoryID,
		SharerID:     in.SharerID,
		Generation:   generation,
		Message:      in.Message,
		CreatedAt:    now,
	}
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&event).Error; err != nil {
			return err
		}
		for _, r := range selected {
			rec := types.SnowballRecipient{
				EventID:  event.ID,
				MemberID: r.MemberID,
				Email:    r.Email,
				Score:    r.Score,
			}
			if err := tx.Create(&rec).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isDuplicateErr(err) {
			return types.SnowballEvent{}, ErrSnowballInFlight
		}
		return types.SnowballEvent{}, err
	}

	for _, r := range selected {
		claimed, err := e.queue.ClaimJob(ctx, in.PostID, in.RepositoryID, r.Email)
		if err != nil {
			return types.SnowballEvent{}, err
		}
		if !claimed {
			continue
		}
		job := Job{
			EventID:      event.ID,
			PostID:       in.PostID,
			RepositoryID: in.RepositoryID,
			SharerID:     in.SharerID,
			Generation:   generation,
			MemberID:     r.MemberID,
			Email:        r.Email,
			Message:      in.Message,
		}
		if err := e.queue.PublishJob(ctx, job); err != nil {
			return types.SnowballEvent{}, err
		}
	}

	if _, err := e.ledger.Record(ctx, in.SharerID, karma.ActionSnowballInitiated, karma.Context{
		RelatedKind: "snowball",
		RelatedID:   event.ID,
		PostViews:   post.Views,
		Upvotes:     post.Upvotes,
		Downvotes:   post.Downvotes,
		Generation:  generation,
		Now:         now,
	}); err != nil {
		return types.SnowballEvent{}, err
	}

	return event, nil
}

// ConfirmSent is called by the delivery worker after a distribution email
// goes out.
func (e *Engine) ConfirmSent(ctx context.Context, eventID uint64) error {
	return e.db.WithContext(ctx).Model(&types.SnowballEvent{}).
		Where("id = ?", eventID).
		Update("sent_count", gorm.Expr("sent_count + 1")).Error
}

// ConfirmVerified credits the sharer when a member recruited through a
// snowball event completes verification. The reward carries the event's
// generation decay.
func (e *Engine) ConfirmVerified(ctx context.Context, member types.EmailMember) error {
	if member.Source != types.SourceSnowball || member.SourceEventID == 0 {
		return nil
	}

	var event types.SnowballEvent
	err := e.db.WithContext(ctx).First(&event, member.SourceEventID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("snowball: member %d references missing event %d", member.ID, member.SourceEventID)
		return nil
	}
	if err != nil {
		return err
	}

	if err := e.db.WithContext(ctx).Model(&types.SnowballEvent{}).
		Where("id = ?", event.ID).
		Update("verified_count", gorm.Expr("verified_count + 1")).Error; err != nil {
		return err
	}

	_, err = e.ledger.Record(ctx, event.SharerID, karma.ActionEmailVerified, karma.Context{
		RelatedKind: "snowball",
		RelatedID:   event.ID,
		Generation:  event.Generation,
	})
	return err
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isDuplicateErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "UNIQUE constraint failed")
}
