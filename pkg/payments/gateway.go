package payments

import (
	"context"
	"net/http"
	"time"

	pkgerrors "github.com/angelmondragon/loyaltyhub-backend/pkg/errors"
	"github.com/shopspring/decimal"
)

// TradeStateSuccess is the only callback trade state that confirms payment.
const TradeStateSuccess = "SUCCESS"

// PaymentRequest asks the gateway for prepay parameters.
type PaymentRequest struct {
	OrderNumber string
	Amount      decimal.Decimal
	Description string
	PayerRef    string
}

// PrepayParams are handed to the client to launch the payment sheet.
type PrepayParams struct {
	PrepayID  string `json:"prepayId"`
	AppID     string `json:"appId"`
	TimeStamp string `json:"timeStamp"`
	NonceStr  string `json:"nonceStr"`
	Package   string `json:"package"`
	SignType  string `json:"signType"`
	PaySign   string `json:"paySign"`
}

// RefundRequest returns money for a paid order. Total defaults to Amount.
type RefundRequest struct {
	OrderNumber  string
	RefundNumber string
	GatewayTxnID string
	Amount       decimal.Decimal
	Total        decimal.Decimal
	Reason       string
}

// PayoutRequest moves a merchant's share of a captured payment.
type PayoutRequest struct {
	Reference       string
	GatewayTxnID    string
	OrderNumber     string
	Amount          decimal.Decimal
	ReceiverAccount string
	Description     string
}

// Callback is a verified inbound payment notification.
type Callback struct {
	OrderNumber  string
	GatewayTxnID string
	TradeState   string
	PayTime      time.Time
}

func (c Callback) Succeeded() bool {
	return c.TradeState == TradeStateSuccess
}

// Gateway is the outbound payment contract used by the engines.
type Gateway interface {
	CreatePayment(ctx context.Context, req PaymentRequest) (*PrepayParams, error)
	Refund(ctx context.Context, req RefundRequest) (bool, error)
	Payout(ctx context.Context, req PayoutRequest) (bool, error)
}

// CallbackParser verifies and decodes inbound payment notifications.
type CallbackParser interface {
	ParseCallback(ctx context.Context, r *http.Request) (*Callback, error)
}

// Disabled is used when no gateway credentials are configured. Every call
// fails with CodeDependency so money movement is recorded as failed.
type Disabled struct{}

func (Disabled) CreatePayment(context.Context, PaymentRequest) (*PrepayParams, error) {
	return nil, errDisabled()
}

func (Disabled) Refund(context.Context, RefundRequest) (bool, error) {
	return false, errDisabled()
}

func (Disabled) Payout(context.Context, PayoutRequest) (bool, error) {
	return false, errDisabled()
}

func (Disabled) ParseCallback(context.Context, *http.Request) (*Callback, error) {
	return nil, errDisabled()
}

func errDisabled() error {
	return pkgerrors.New(pkgerrors.CodeDependency, "payment gateway not configured")
}

// ToMinorUnits converts a currency amount into integer cents/fen.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
