package payments

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/angelmondragon/loyaltyhub-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/loyaltyhub-backend/pkg/errors"
	"github.com/wechatpay-apiv3/wechatpay-go/core"
	"github.com/wechatpay-apiv3/wechatpay-go/core/auth/verifiers"
	"github.com/wechatpay-apiv3/wechatpay-go/core/downloader"
	"github.com/wechatpay-apiv3/wechatpay-go/core/notify"
	"github.com/wechatpay-apiv3/wechatpay-go/core/option"
	"github.com/wechatpay-apiv3/wechatpay-go/services/payments"
	"github.com/wechatpay-apiv3/wechatpay-go/services/payments/jsapi"
	"github.com/wechatpay-apiv3/wechatpay-go/services/profitsharing"
	"github.com/wechatpay-apiv3/wechatpay-go/services/refunddomestic"
	"github.com/wechatpay-apiv3/wechatpay-go/utils"
)

const currencyCNY = "CNY"

// WechatPay implements Gateway and CallbackParser on the WeChat Pay v3 API.
type WechatPay struct {
	cfg     config.WechatPayConfig
	jsapi   jsapi.JsapiApiService
	refunds refunddomestic.RefundsApiService
	sharing profitsharing.OrdersApiService
	notify  *notify.Handler
}

// NewWechatPay loads the merchant key and builds an auto-refreshing client.
func NewWechatPay(ctx context.Context, cfg config.WechatPayConfig) (*WechatPay, error) {
	if !cfg.Enabled() {
		return nil, errors.New("wechatpay credentials are incomplete")
	}
	privateKey, err := utils.LoadPrivateKeyWithPath(cfg.MchPrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load merchant private key: %w", err)
	}
	return newWechatPay(ctx, cfg, privateKey)
}

func newWechatPay(ctx context.Context, cfg config.WechatPayConfig, privateKey *rsa.PrivateKey) (*WechatPay, error) {
	client, err := core.NewClient(ctx, option.WithWechatPayAutoAuthCipher(
		cfg.MchID,
		cfg.MchCertificateSerialNo,
		privateKey,
		cfg.MchAPIv3Key,
	))
	if err != nil {
		return nil, fmt.Errorf("create wechatpay client: %w", err)
	}
	visitor := downloader.MgrInstance().GetCertificateVisitor(cfg.MchID)
	handler, err := notify.NewRSANotifyHandler(cfg.MchAPIv3Key, verifiers.NewSHA256WithRSAVerifier(visitor))
	if err != nil {
		return nil, fmt.Errorf("create notify handler: %w", err)
	}
	return &WechatPay{
		cfg:     cfg,
		jsapi:   jsapi.JsapiApiService{Client: client},
		refunds: refunddomestic.RefundsApiService{Client: client},
		sharing: profitsharing.OrdersApiService{Client: client},
		notify:  handler,
	}, nil
}

func (w *WechatPay) CreatePayment(ctx context.Context, req PaymentRequest) (*PrepayParams, error) {
	resp, _, err := w.jsapi.PrepayWithRequestPayment(ctx, jsapi.PrepayRequest{
		Appid:       core.String(w.cfg.AppID),
		Mchid:       core.String(w.cfg.MchID),
		Description: core.String(req.Description),
		OutTradeNo:  core.String(req.OrderNumber),
		NotifyUrl:   core.String(w.cfg.NotifyURL),
		Amount: &jsapi.Amount{
			Total:    core.Int64(ToMinorUnits(req.Amount)),
			Currency: core.String(currencyCNY),
		},
		Payer: &jsapi.Payer{
			Openid: core.String(req.PayerRef),
		},
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
	}
	return &PrepayParams{
		PrepayID:  deref(resp.PrepayId),
		AppID:     deref(resp.Appid),
		TimeStamp: deref(resp.TimeStamp),
		NonceStr:  deref(resp.NonceStr),
		Package:   deref(resp.Package),
		SignType:  deref(resp.SignType),
		PaySign:   deref(resp.PaySign),
	}, nil
}

// Refund reports true once the gateway has accepted the refund.
func (w *WechatPay) Refund(ctx context.Context, req RefundRequest) (bool, error) {
	total := req.Total
	if total.IsZero() {
		total = req.Amount
	}
	outRefundNo := req.RefundNumber
	if outRefundNo == "" {
		outRefundNo = "RF" + req.OrderNumber
	}
	resp, _, err := w.refunds.Create(ctx, refunddomestic.CreateRequest{
		TransactionId: core.String(req.GatewayTxnID),
		OutTradeNo:    core.String(req.OrderNumber),
		OutRefundNo:   core.String(outRefundNo),
		Reason:        core.String(req.Reason),
		NotifyUrl:     core.String(w.cfg.RefundNotifyURL),
		Amount: &refunddomestic.AmountReq{
			Refund:   core.Int64(ToMinorUnits(req.Amount)),
			Total:    core.Int64(ToMinorUnits(total)),
			Currency: core.String(currencyCNY),
		},
	})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refund")
	}
	if resp.Status == nil {
		return false, nil
	}
	switch string(*resp.Status) {
	case "SUCCESS", "PROCESSING":
		return true, nil
	default:
		return false, nil
	}
}

// Payout splits the merchant share of a captured transaction to its receiver account.
func (w *WechatPay) Payout(ctx context.Context, req PayoutRequest) (bool, error) {
	if req.ReceiverAccount == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "payout receiver account is required")
	}
	resp, _, err := w.sharing.CreateOrder(ctx, profitsharing.CreateOrderRequest{
		Appid:         core.String(w.cfg.AppID),
		TransactionId: core.String(req.GatewayTxnID),
		OutOrderNo:    core.String(req.Reference),
		Receivers: []profitsharing.CreateOrderReceiver{{
			Type:        core.String(w.cfg.ProfitSharingReceiverType),
			Account:     core.String(req.ReceiverAccount),
			Amount:      core.Int64(ToMinorUnits(req.Amount)),
			Description: core.String(req.Description),
		}},
		UnfreezeUnsplit: core.Bool(true),
	})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payout")
	}
	if resp.State == nil {
		return false, nil
	}
	switch string(*resp.State) {
	case "FINISHED", "PROCESSING":
		return true, nil
	default:
		return false, nil
	}
}

// ParseCallback verifies the signature and decrypts the transaction resource.
func (w *WechatPay) ParseCallback(ctx context.Context, r *http.Request) (*Callback, error) {
	txn := new(payments.Transaction)
	if _, err := w.notify.ParseNotifyRequest(ctx, r, txn); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid payment notification")
	}
	cb := &Callback{
		OrderNumber:  deref(txn.OutTradeNo),
		GatewayTxnID: deref(txn.TransactionId),
		TradeState:   deref(txn.TradeState),
	}
	if raw := deref(txn.SuccessTime); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			cb.PayTime = parsed
		}
	}
	if cb.PayTime.IsZero() {
		cb.PayTime = time.Now().UTC()
	}
	return cb, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
