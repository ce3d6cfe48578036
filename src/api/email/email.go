package email

import (
	"context"
	"log"
)

// Sender is the outbound mail boundary. Delivery is fire-and-forget from
// the core's perspective; failures surface asynchronously through delivery
// stats, never through the initiating call.
type Sender interface {
	SendVerificationEmail(ctx context.Context, to, token string, repositoryID uint64) error
	SendDistributionEmail(ctx context.Context, to string, postID, repositoryID uint64, message string) error
}

// LogSender writes outbound mail to the process log. Stands in until a
// real provider is configured.
type LogSender struct{}

func (LogSender) SendVerificationEmail(_ context.Context, to, token string, repositoryID uint64) error {
	log.Printf("email: verification to %s for repository %d (token %s)", to, repositoryID, token)
	return nil
}

func (LogSender) SendDistributionEmail(_ context.Context, to string, postID, repositoryID uint64, _ string) error {
	log.Printf("email: distribution to %s for post %d repository %d", to, postID, repositoryID)
	return nil
}
