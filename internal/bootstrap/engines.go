// Package bootstrap assembles the domain engines shared by the api, worker
// and cron binaries.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/loyaltyhub-backend/internal/activities"
	"github.com/angelmondragon/loyaltyhub-backend/internal/groupbuy"
	"github.com/angelmondragon/loyaltyhub-backend/internal/members"
	"github.com/angelmondragon/loyaltyhub-backend/internal/merchants"
	"github.com/angelmondragon/loyaltyhub-backend/internal/orders"
	"github.com/angelmondragon/loyaltyhub-backend/internal/settlement"
	"github.com/angelmondragon/loyaltyhub-backend/internal/vouchers"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/config"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/db"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/identifiers"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/locks"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/logger"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/metrics"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/outbox"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/payments"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/redis"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/stock"
)

// PaymentProvider is a gateway that can also verify its own callbacks.
type PaymentProvider interface {
	payments.Gateway
	payments.CallbackParser
}

// Engines holds every domain service wired against one db and redis.
type Engines struct {
	Activities activities.Service
	Vouchers   vouchers.Service
	Orders     orders.Service
	Groups     groupbuy.Service
	Settlement settlement.Service
	Locks      *locks.Service
	Outbox     *outbox.Service
	Payments   PaymentProvider
}

type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *db.Client
	Redis      *redis.Client
	Registerer prometheus.Registerer
	// Payments overrides the gateway built from config.
	Payments PaymentProvider
}

// NewPaymentProvider builds the WeChat Pay client, or a disabled gateway when
// credentials are absent so that money movement fails loudly instead of
// silently succeeding.
func NewPaymentProvider(ctx context.Context, cfg config.WechatPayConfig, logg *logger.Logger) (PaymentProvider, error) {
	if !cfg.Enabled() {
		logg.Warn(ctx, "wechatpay credentials missing; payment gateway disabled")
		return payments.Disabled{}, nil
	}
	client, err := payments.NewWechatPay(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func NewEngines(ctx context.Context, p Params) (*Engines, error) {
	if p.Config == nil || p.Logger == nil || p.DB == nil || p.Redis == nil {
		return nil, fmt.Errorf("config, logger, db and redis are required")
	}
	cfg := p.Config
	gormDB := p.DB.DB()

	provider := p.Payments
	if provider == nil {
		var err error
		if provider, err = NewPaymentProvider(ctx, cfg.WechatPay, p.Logger); err != nil {
			return nil, fmt.Errorf("payment gateway: %w", err)
		}
	}

	ids, err := identifiers.NewGenerator(identifiers.Options{
		NodeID:      cfg.Orders.SnowflakeNode,
		OrderPrefix: cfg.Orders.NumberPrefix,
		GroupSalt:   cfg.GroupBuy.HashSalt,
	})
	if err != nil {
		return nil, fmt.Errorf("identifier generator: %w", err)
	}
	ledger, err := stock.NewLedger(p.Redis)
	if err != nil {
		return nil, fmt.Errorf("stock ledger: %w", err)
	}
	lockSvc, err := locks.NewService(p.Redis, cfg.GroupBuy.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("lock service: %w", err)
	}
	settlementMetrics := metrics.NewSettlementMetrics(p.Registerer)
	events := outbox.NewService(outbox.NewRepository(gormDB), p.Logger)

	memberSvc, err := members.NewService(members.NewRepository(gormDB))
	if err != nil {
		return nil, err
	}
	merchantSvc, err := merchants.NewService(merchants.NewRepository(gormDB), cfg.Settlement.FeeRate())
	if err != nil {
		return nil, err
	}

	activityRepo := activities.NewRepository(gormDB)
	activitySvc, err := activities.NewService(activityRepo, memberSvc)
	if err != nil {
		return nil, err
	}

	voucherRepo := vouchers.NewRepository(gormDB)
	voucherSvc, err := vouchers.NewService(voucherRepo, p.DB, activityRepo)
	if err != nil {
		return nil, err
	}

	orderRepo := orders.NewRepository(gormDB)
	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:       orderRepo,
		Tx:         p.DB,
		Outbox:     events,
		Activities: activitySvc,
		SoldCounts: activityRepo,
		Ledger:     ledger,
		Vouchers:   voucherSvc,
		Gateway:    provider,
		Numbers:    ids,
		Metrics:    settlementMetrics,
		Logger:     p.Logger,
		Config:     cfg.Orders,
	})
	if err != nil {
		return nil, fmt.Errorf("order engine: %w", err)
	}

	groupRepo := groupbuy.NewRepository(gormDB)
	groupSvc, err := groupbuy.NewService(groupbuy.ServiceParams{
		Repo:       groupRepo,
		Tx:         p.DB,
		Outbox:     events,
		Activities: activitySvc,
		Orders:     orderSvc,
		Locks:      lockSvc,
		Numbers:    ids,
		Logger:     p.Logger,
		Config:     cfg.GroupBuy,
	})
	if err != nil {
		return nil, fmt.Errorf("group-buy engine: %w", err)
	}

	settlementSvc, err := settlement.NewService(settlement.ServiceParams{
		Repo:       settlement.NewRepository(gormDB),
		Tx:         p.DB,
		Outbox:     events,
		Vouchers:   voucherRepo,
		Orders:     orderRepo,
		Groups:     groupRepo,
		Activities: activityRepo,
		Merchants:  merchantSvc,
		Members:    memberSvc,
		Gateway:    provider,
		Locks:      lockSvc,
		Metrics:    settlementMetrics,
		Logger:     p.Logger,
		Config:     cfg.Settlement,
	})
	if err != nil {
		return nil, fmt.Errorf("settlement engine: %w", err)
	}

	return &Engines{
		Activities: activitySvc,
		Vouchers:   voucherSvc,
		Orders:     orderSvc,
		Groups:     groupSvc,
		Settlement: settlementSvc,
		Locks:      lockSvc,
		Outbox:     events,
		Payments:   provider,
	}, nil
}
