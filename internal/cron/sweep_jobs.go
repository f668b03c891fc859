package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/loyaltyhub-backend/internal/settlement"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/logger"
)

type expiredOrderCloser interface {
	CloseExpiredOrders(ctx context.Context) (int, error)
}

type expiredGroupHandler interface {
	HandleExpiredGroups(ctx context.Context) (int, error)
}

type settlementRetrier interface {
	RetrySettlement(ctx context.Context) (settlement.RetryResult, error)
}

type staleVoucherExpirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// NewCloseExpiredOrdersJob closes pending orders past the payment window.
func NewCloseExpiredOrdersJob(logg *logger.Logger, orders expiredOrderCloser) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if orders == nil {
		return nil, fmt.Errorf("order engine required")
	}
	return &closeExpiredOrdersJob{logg: logg, orders: orders}, nil
}

type closeExpiredOrdersJob struct {
	logg   *logger.Logger
	orders expiredOrderCloser
}

func (j *closeExpiredOrdersJob) Name() string { return "close-expired-orders" }

func (j *closeExpiredOrdersJob) Run(ctx context.Context) error {
	closed, err := j.orders.CloseExpiredOrders(ctx)
	j.logg.Info(j.logg.WithField(ctx, "orders_closed", closed), "expired order sweep complete")
	return err
}

// NewExpiredGroupsJob fails forming groups whose deadline has passed.
func NewExpiredGroupsJob(logg *logger.Logger, groups expiredGroupHandler) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if groups == nil {
		return nil, fmt.Errorf("group-buy engine required")
	}
	return &expiredGroupsJob{logg: logg, groups: groups}, nil
}

type expiredGroupsJob struct {
	logg   *logger.Logger
	groups expiredGroupHandler
}

func (j *expiredGroupsJob) Name() string { return "expired-groups" }

func (j *expiredGroupsJob) Run(ctx context.Context) error {
	failed, err := j.groups.HandleExpiredGroups(ctx)
	j.logg.Info(j.logg.WithField(ctx, "groups_failed", failed), "expired group sweep complete")
	return err
}

func NewSettlementRetryJob(logg *logger.Logger, settlements settlementRetrier) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if settlements == nil {
		return nil, fmt.Errorf("settlement engine required")
	}
	return &settlementRetryJob{logg: logg, settlements: settlements}, nil
}

type settlementRetryJob struct {
	logg        *logger.Logger
	settlements settlementRetrier
}

func (j *settlementRetryJob) Name() string { return "settlement-retry" }

func (j *settlementRetryJob) Run(ctx context.Context) error {
	result, err := j.settlements.RetrySettlement(ctx)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"attempted": result.Attempted,
		"settled":   result.Settled,
		"failed":    result.Failed,
		"skipped":   result.Skipped,
	})
	j.logg.Info(logCtx, "settlement retry complete")
	return err
}

func NewVoucherExpiryJob(logg *logger.Logger, vouchers staleVoucherExpirer) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if vouchers == nil {
		return nil, fmt.Errorf("voucher service required")
	}
	return &voucherExpiryJob{logg: logg, vouchers: vouchers}, nil
}

type voucherExpiryJob struct {
	logg     *logger.Logger
	vouchers staleVoucherExpirer
}

func (j *voucherExpiryJob) Name() string { return "voucher-expiry" }

func (j *voucherExpiryJob) Run(ctx context.Context) error {
	expired, err := j.vouchers.ExpireStale(ctx)
	if err != nil {
		return fmt.Errorf("expire vouchers: %w", err)
	}
	j.logg.Info(j.logg.WithField(ctx, "vouchers_expired", expired), "voucher expiry sweep complete")
	return nil
}
