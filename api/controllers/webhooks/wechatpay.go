package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	pkgerrors "github.com/angelmondragon/loyaltyhub-backend/pkg/errors"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/logger"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/payments"
)

type WechatPayWebhookService interface {
	HandleCallback(ctx context.Context, cb *payments.Callback) error
}

type wechatPayWebhookGuard interface {
	CheckAndMark(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// notifyAck is the body WeChat Pay expects on a rejected notification.
type notifyAck struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WechatPayNotify handles payment result notifications. WeChat Pay treats any
// 2xx as acknowledged and retries everything else, so only failures that a
// redelivery can fix are answered with an error status.
func WechatPayNotify(svc WechatPayWebhookService, parser payments.CallbackParser, guard wechatPayWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil || parser == nil || guard == nil {
			writeNotifyFailure(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment notify handler unavailable"))
			return
		}

		cb, err := parser.ParseCallback(ctx, r)
		if err != nil {
			writeNotifyFailure(ctx, logg, w, err)
			return
		}

		if !cb.Succeeded() {
			if err := svc.HandleCallback(ctx, cb); err != nil {
				writeNotifyFailure(ctx, logg, w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		key := cb.OrderNumber + ":" + cb.GatewayTxnID
		seen, err := guard.CheckAndMark(ctx, key)
		if err != nil {
			writeNotifyFailure(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if seen {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if err := svc.HandleCallback(ctx, cb); err != nil {
			if delErr := guard.Delete(ctx, key); delErr != nil {
				logg.Error(logg.WithField(ctx, "order_number", cb.OrderNumber), "payment notify guard release failed", delErr)
			}
			writeNotifyFailure(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(logg.WithField(ctx, "order_number", cb.OrderNumber), fmt.Sprintf("payment notification %s processed", cb.GatewayTxnID))
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeNotifyFailure(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())
	if logg != nil {
		logg.Error(logg.WithField(ctx, "error_code", string(typed.Code())), "wechatpay.notify.error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(meta.HTTPStatus)
	_ = json.NewEncoder(w).Encode(notifyAck{Code: "FAIL", Message: meta.PublicMessage})
}
