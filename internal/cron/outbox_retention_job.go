package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/loyaltyhub-backend/pkg/logger"
)

const defaultOutboxRetention = 30 * 24 * time.Hour

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPurger interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

// OutboxRetentionJobParams configures the outbox purge. TerminalAttempts must
// match the publisher's max attempts so only dead-lettered rows are purged
// alongside published ones.
type OutboxRetentionJobParams struct {
	Logger           *logger.Logger
	Tx               txRunner
	Outbox           outboxPurger
	RetentionDays    int
	TerminalAttempts int
}

type outboxRetentionJob struct {
	logg             *logger.Logger
	tx               txRunner
	outbox           outboxPurger
	retention        time.Duration
	terminalAttempts int
	now              func() time.Time
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox repository required")
	case params.TerminalAttempts <= 0:
		return nil, fmt.Errorf("terminal attempts must be positive")
	}
	retention := defaultOutboxRetention
	if params.RetentionDays > 0 {
		retention = time.Duration(params.RetentionDays) * 24 * time.Hour
	}
	return &outboxRetentionJob{
		logg:             params.Logger,
		tx:               params.Tx,
		outbox:           params.Outbox,
		retention:        retention,
		terminalAttempts: params.TerminalAttempts,
		now:              time.Now,
	}, nil
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var purged int64
	if err := j.tx.WithTx(ctx, func(tx *gorm.DB) error {
		n, err := j.outbox.DeletePublishedBefore(ctx, tx, cutoff, j.terminalAttempts)
		purged = n
		return err
	}); err != nil {
		return fmt.Errorf("purge outbox before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if purged > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"job":    j.Name(),
			"cutoff": cutoff,
			"purged": purged,
		}), "outbox.retention.purged")
	}
	return nil
}
