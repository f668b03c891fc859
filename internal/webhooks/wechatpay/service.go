package wechatpaywebhook

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/loyaltyhub-backend/internal/orders"
	pkgerrors "github.com/angelmondragon/loyaltyhub-backend/pkg/errors"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/logger"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/payments"
)

type paymentConfirmer interface {
	ConfirmPayment(ctx context.Context, input orders.ConfirmPaymentInput) error
}

// Service turns verified payment notifications into order confirmations.
type Service struct {
	orders paymentConfirmer
	logg   *logger.Logger
}

func NewService(confirmer paymentConfirmer, logg *logger.Logger) (*Service, error) {
	if confirmer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment confirmer required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{orders: confirmer, logg: logg}, nil
}

// HandleCallback confirms the order for a successful trade. Other trade
// states are acknowledged without side effects; the order stays pending
// until it is paid or swept.
func (s *Service) HandleCallback(ctx context.Context, cb *payments.Callback) error {
	if cb == nil || strings.TrimSpace(cb.OrderNumber) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "callback order number required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"order_number":   cb.OrderNumber,
		"gateway_txn_id": cb.GatewayTxnID,
		"trade_state":    cb.TradeState,
	})
	if !cb.Succeeded() {
		s.logg.Info(ctx, fmt.Sprintf("ignoring %s payment notification", cb.TradeState))
		return nil
	}
	if strings.TrimSpace(cb.GatewayTxnID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "callback transaction id required")
	}
	return s.orders.ConfirmPayment(ctx, orders.ConfirmPaymentInput{
		OrderNumber:  cb.OrderNumber,
		GatewayTxnID: cb.GatewayTxnID,
		PaidAt:       cb.PayTime,
	})
}
