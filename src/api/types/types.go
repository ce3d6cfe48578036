package types

import "time"

// Member statuses
const (
	StatusPending  = "pending"
	StatusVerified = "verified"
	StatusRejected = "rejected"
)

// Member sources
const (
	SourceManual   = "manual"
	SourceCSV      = "csv"
	SourceSnowball = "snowball"
	SourceAPI      = "api"
)

// Platform accounts. Karma columns are derived from the ledger and are
// written only through karma.Ledger, never directly.
type User struct {
	ID          uint64 `gorm:"primaryKey"`
	Handle      string `gorm:"size:64;unique;not null"`
	Email       string `gorm:"size:256;unique;not null"`
	Role        string `gorm:"size:16;default:member"` // member, moderator, admin
	KarmaTotal  int64  `gorm:"default:0"`
	LastKarmaAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Append-only karma ledger. Rows are immutable once written.
type KarmaTransaction struct {
	ID           uint64 `gorm:"primaryKey"`
	UserID       uint64 `gorm:"index;not null"`
	Action       string `gorm:"size:40;not null"`
	RawDelta     int64  `gorm:"not null"`
	AppliedDelta int64  `gorm:"not null"`
	BalanceAfter int64  `gorm:"not null"`
	RelatedKind  string `gorm:"size:16"` // post, comment, repository, snowball
	RelatedID    uint64
	CreatedAt    time.Time `gorm:"index"`
}

// Topic email lists
type Repository struct {
	ID                  uint64  `gorm:"primaryKey"`
	Slug                string  `gorm:"size:64;unique;not null"`
	Name                string  `gorm:"size:128;not null"`
	OwnerID             uint64  `gorm:"index;not null"`
	Moderators          string  `gorm:"size:512"` // comma separated user ids
	AllowSnowball       bool    `gorm:"default:true"`
	SnowballThreshold   float64 `gorm:"default:3"`
	MaxEmailsPerUpload  int     `gorm:"default:100"`
	AutoApprove         bool    `gorm:"default:false"`
	RequireVerification bool    `gorm:"default:true"`
	EmailCount          int64   `gorm:"default:0"`
	VerifiedEmailCount  int64   `gorm:"default:0"`
	Archived            bool    `gorm:"default:false"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Repository members, unique per (repository, lowercased email).
// VerificationToken is set while pending and cleared on verification.
type EmailMember struct {
	ID                uint64 `gorm:"primaryKey"`
	RepositoryID      uint64 `gorm:"uniqueIndex:idx_repo_email;not null"`
	Email             string `gorm:"uniqueIndex:idx_repo_email;size:256;not null"`
	Status            string `gorm:"size:16;default:pending"`
	Source            string `gorm:"size:16;default:manual"`
	SourceEventID     uint64 `gorm:"default:0"` // snowball event that recruited this member
	VerificationToken string `gorm:"size:64;index"`
	Tags              string `gorm:"size:512"` // comma separated topic tags
	Opens             int64  `gorm:"default:0"`
	Clicks            int64  `gorm:"default:0"`
	Contributions     int64  `gorm:"default:0"`
	AddedAt           time.Time
	VerifiedAt        *time.Time
	LastActiveAt      *time.Time
}

// Posts shared into repositories. Authored externally; the snowball engine
// reads hashtags and vote counts for scoring.
type Post struct {
	ID        uint64 `gorm:"primaryKey"`
	AuthorID  uint64 `gorm:"index;not null"`
	Title     string `gorm:"size:255"`
	Body      string `gorm:"type:text"`
	Hashtags  string `gorm:"size:512"` // comma separated
	Upvotes   int64  `gorm:"default:0"`
	Downvotes int64  `gorm:"default:0"`
	Views     int64  `gorm:"default:0"`
	CreatedAt time.Time
}

// One snowball distribution per (post, repository).
type SnowballEvent struct {
	ID            uint64 `gorm:"primaryKey"`
	PostID        uint64 `gorm:"uniqueIndex:idx_post_repo;not null"`
	RepositoryID  uint64 `gorm:"uniqueIndex:idx_post_repo;not null"`
	SharerID      uint64 `gorm:"index;not null"`
	Generation    int    `gorm:"default:1"`
	Message       string `gorm:"type:text"`
	SentCount     int64  `gorm:"default:0"`
	VerifiedCount int64  `gorm:"default:0"`
	CreatedAt     time.Time
}

// Recipient snapshot taken at selection time.
type SnowballRecipient struct {
	ID       uint64  `gorm:"primaryKey"`
	EventID  uint64  `gorm:"index;not null"`
	MemberID uint64  `gorm:"not null"`
	Email    string  `gorm:"size:256;not null"`
	Score    float64 `gorm:"not null"`
}

// Settings
type Setting struct {
	ID    uint8  `gorm:"primaryKey"`
	Name  string `gorm:"size:32;not null"`
	Value string `gorm:"size:256;not null"`
}
