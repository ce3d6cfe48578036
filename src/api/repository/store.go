package repository

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/snowlist/snowlist/src/api/email"
	"github.com/snowlist/snowlist/src/api/types"
)

var (
	ErrRepositoryNotFound = errors.New("repository not found")
	ErrMemberNotFound     = errors.New("member not found")
	ErrTokenNotFound      = errors.New("verification token not found")
)

// Rejection reasons
const (
	ReasonInvalidFormat = "invalid_format"
	ReasonQuotaExceeded = "quota_exceeded"
)

// TokenStore mirrors pending verification tokens into an ephemeral store.
// Claim is one-shot: it removes the token atomically across processes.
type TokenStore interface {
	Save(ctx context.Context, token string, memberID uint64) error
	Claim(ctx context.Context, token string) (uint64, bool, error)
}

// Store owns repositories and their members. No other component writes
// EmailMember rows.
type Store struct {
	db     *gorm.DB
	tokens TokenStore
	sender email.Sender
	now    func() time.Time
}

func NewStore(db *gorm.DB, tokens TokenStore, sender email.Sender) *Store {
	return &Store{db: db, tokens: tokens, sender: sender, now: time.Now}
}

type Entry struct {
	Email string
	Tags  []string
}

type Rejection struct {
	Email  string
	Reason string
}

type AddResult struct {
	New       []types.EmailMember
	Duplicate []string
	Invalid   []Rejection
	Rejected  []Rejection
}

type AddOpts struct {
	Source  string
	ActorID uint64
	EventID uint64 // snowball event the entries came through, 0 otherwise
}

// Create persists a new repository with platform default settings.
func (s *Store) Create(ctx context.Context, slug, name string, ownerID uint64) (types.Repository, error) {
	repo := types.Repository{
		Slug:                slug,
		Name:                name,
		OwnerID:             ownerID,
		AllowSnowball:       true,
		SnowballThreshold:   3,
		MaxEmailsPerUpload:  100,
		RequireVerification: true,
	}
	if err := s.db.WithContext(ctx).Create(&repo).Error; err != nil {
		return types.Repository{}, err
	}
	return repo, nil
}

func (s *Store) Get(ctx context.Context, repositoryID uint64) (types.Repository, error) {
	var repo types.Repository
	err := s.db.WithContext(ctx).First(&repo, "id = ? AND archived = ?", repositoryID, false).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.Repository{}, ErrRepositoryNotFound
	}
	return repo, err
}

// AddEmails processes a parsed batch of entries. Partial success: invalid
// and over-quota entries are bucketed and the rest still commit. Rows
// already processed stay committed if a later row fails.
func (s *Store) AddEmails(ctx context.Context, repositoryID uint64, entries []Entry, opts AddOpts) (AddResult, error) {
	var res AddResult

	repo, err := s.Get(ctx, repositoryID)
	if err != nil {
		return res, err
	}

	autoVerify := repo.AutoApprove && isOwnerOrModerator(repo, opts.ActorID)
	if !repo.RequireVerification {
		autoVerify = true
	}

	seen := make(map[string]bool)
	accepted := 0
	now := s.now()

	for _, entry := range entries {
		norm := NormalizeEmail(entry.Email)
		if !IsValidEmail(norm) {
			res.Invalid = append(res.Invalid, Rejection{Email: entry.Email, Reason: ReasonInvalidFormat})
			continue
		}
		if seen[norm] {
			res.Duplicate = append(res.Duplicate, norm)
			continue
		}
		seen[norm] = true

		var existing types.EmailMember
		err := s.db.WithContext(ctx).
			First(&existing, "repository_id = ? AND email = ?", repositoryID, norm).Error
		if err == nil {
			res.Duplicate = append(res.Duplicate, norm)
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return res, err
		}

		if accepted >= repo.MaxEmailsPerUpload {
			res.Rejected = append(res.Rejected, Rejection{Email: norm, Reason: ReasonQuotaExceeded})
			continue
		}

		member := types.EmailMember{
			RepositoryID:  repositoryID,
			Email:         norm,
			Source:        opts.Source,
			SourceEventID: opts.EventID,
			Tags:          joinTags(entry.Tags),
			AddedAt:       now,
		}
		if autoVerify {
			member.Status = types.StatusVerified
			member.VerifiedAt = &now
		} else {
			member.Status = types.StatusPending
			member.VerificationToken = newToken()
		}

		if err := s.db.WithContext(ctx).Create(&member).Error; err != nil {
			// Unique index on (repository, email): a concurrent upload won
			// the race, treat as duplicate.
			if errors.Is(err, gorm.ErrDuplicatedKey) || isDuplicateErr(err) {
				res.Duplicate = append(res.Duplicate, norm)
				continue
			}
			return res, err
		}
		accepted++

		counts := map[string]any{"email_count": gorm.Expr("email_count + 1")}
		if autoVerify {
			counts["verified_email_count"] = gorm.Expr("verified_email_count + 1")
		}
		if err := s.db.WithContext(ctx).Model(&types.Repository{}).
			Where("id = ?", repositoryID).Updates(counts).Error; err != nil {
			return res, err
		}

		if member.Status == types.StatusPending {
			if err := s.tokens.Save(ctx, member.VerificationToken, member.ID); err != nil {
				log.Printf("repository: token save for %s: %v", norm, err)
			}
			go func(m types.EmailMember) {
				if err := s.sender.SendVerificationEmail(context.Background(), m.Email, m.VerificationToken, m.RepositoryID); err != nil {
					log.Printf("repository: verification email to %s: %v", m.Email, err)
				}
			}(member)
		}

		res.New = append(res.New, member)
	}

	return res, nil
}

// VerifyEmail consumes a verification token. The token works exactly once:
// the ephemeral copy is claimed atomically and the row transition is
// guarded on status, so a concurrent second call gets ErrTokenNotFound.
func (s *Store) VerifyEmail(ctx context.Context, token string) (types.EmailMember, error) {
	if token == "" {
		return types.EmailMember{}, ErrTokenNotFound
	}

	var member types.EmailMember

	memberID, ok, err := s.tokens.Claim(ctx, token)
	if err != nil {
		return types.EmailMember{}, err
	}
	if ok {
		err = s.db.WithContext(ctx).First(&member, memberID).Error
	} else {
		// Token expired from the ephemeral store; fall back to the column.
		err = s.db.WithContext(ctx).
			First(&member, "verification_token = ? AND status = ?", token, types.StatusPending).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.EmailMember{}, ErrTokenNotFound
	}
	if err != nil {
		return types.EmailMember{}, err
	}

	now := s.now()
	res := s.db.WithContext(ctx).Model(&types.EmailMember{}).
		Where("id = ? AND status = ?", member.ID, types.StatusPending).
		Updates(map[string]any{
			"status":             types.StatusVerified,
			"verified_at":        now,
			"verification_token": "",
		})
	if res.Error != nil {
		return types.EmailMember{}, res.Error
	}
	if res.RowsAffected == 0 {
		return types.EmailMember{}, ErrTokenNotFound
	}

	if err := s.db.WithContext(ctx).Model(&types.Repository{}).
		Where("id = ?", member.RepositoryID).
		Update("verified_email_count", gorm.Expr("verified_email_count + 1")).Error; err != nil {
		return types.EmailMember{}, err
	}

	member.Status = types.StatusVerified
	member.VerifiedAt = &now
	member.VerificationToken = ""
	return member, nil
}

// RemoveEmail deletes a member and maintains the repository counters.
func (s *Store) RemoveEmail(ctx context.Context, repositoryID uint64, rawEmail string) error {
	norm := NormalizeEmail(rawEmail)

	var member types.EmailMember
	err := s.db.WithContext(ctx).
		First(&member, "repository_id = ? AND email = ?", repositoryID, norm).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrMemberNotFound
	}
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Delete(&types.EmailMember{}, member.ID).Error; err != nil {
		return err
	}

	counts := map[string]any{"email_count": gorm.Expr("email_count - 1")}
	if member.Status == types.StatusVerified {
		counts["verified_email_count"] = gorm.Expr("verified_email_count - 1")
	}
	return s.db.WithContext(ctx).Model(&types.Repository{}).
		Where("id = ?", repositoryID).Updates(counts).Error
}

// Engagement kinds
const (
	EngagementOpen         = "open"
	EngagementClick        = "click"
	EngagementContribution = "contribution"
)

// RecordEngagement bumps a member's activity counters from delivery
// confirmations. These counters feed snowball candidate scoring.
func (s *Store) RecordEngagement(ctx context.Context, memberID uint64, kind string) error {
	var column string
	switch kind {
	case EngagementOpen:
		column = "opens"
	case EngagementClick:
		column = "clicks"
	case EngagementContribution:
		column = "contributions"
	default:
		return errors.New("unknown engagement kind: " + kind)
	}

	res := s.db.WithContext(ctx).Model(&types.EmailMember{}).
		Where("id = ?", memberID).
		Updates(map[string]any{
			column:           gorm.Expr(column + " + 1"),
			"last_active_at": s.now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// VerifiedMembers returns the verified member snapshot for a repository.
func (s *Store) VerifiedMembers(ctx context.Context, repositoryID uint64) ([]types.EmailMember, error) {
	var members []types.EmailMember
	err := s.db.WithContext(ctx).
		Find(&members, "repository_id = ? AND status = ?", repositoryID, types.StatusVerified).Error
	return members, err
}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func isOwnerOrModerator(repo types.Repository, userID uint64) bool {
	if userID == 0 {
		return false
	}
	if repo.OwnerID == userID {
		return true
	}
	id := strconv.FormatUint(userID, 10)
	for _, m := range strings.Split(repo.Moderators, ",") {
		if strings.TrimSpace(m) == id {
			return true
		}
	}
	return false
}

func isDuplicateErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "UNIQUE constraint failed")
}
