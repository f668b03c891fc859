package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/loyaltyhub-backend/api/controllers"
	admincontrollers "github.com/angelmondragon/loyaltyhub-backend/api/controllers/admin"
	groupcontrollers "github.com/angelmondragon/loyaltyhub-backend/api/controllers/groups"
	merchantcontrollers "github.com/angelmondragon/loyaltyhub-backend/api/controllers/merchant"
	ordercontrollers "github.com/angelmondragon/loyaltyhub-backend/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/loyaltyhub-backend/api/controllers/webhooks"
	"github.com/angelmondragon/loyaltyhub-backend/api/middleware"
	wechatpaywebhook "github.com/angelmondragon/loyaltyhub-backend/internal/webhooks/wechatpay"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/config"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/db"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/enums"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/logger"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/payments"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/redis"
)

// Services groups the domain services mounted on the router.
type Services struct {
	Orders        ordercontrollers.OrderService
	Groups        groupcontrollers.GroupService
	Verifications merchantcontrollers.VerificationService
	Activities    admincontrollers.ActivityService
	Vouchers      admincontrollers.VoucherGrantService
	PaymentNotify webhookcontrollers.WechatPayWebhookService
	NotifyParser  payments.CallbackParser
	NotifyGuard   *wechatpaywebhook.IdempotencyGuard
}

type idempotencyStore interface {
	redis.IdempotencyStore
	redis.Pinger
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient idempotencyStore,
	svcs Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    dbP,
			"redis": redisClient,
		}))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/wechatpay/notify", webhookcontrollers.WechatPayNotify(svcs.PaymentNotify, svcs.NotifyParser, svcs.NotifyGuard, logg))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleMember))

			r.Route("/orders", func(r chi.Router) {
				r.Post("/", ordercontrollers.Create(svcs.Orders, logg))
				r.Post("/{orderNumber}/pay", ordercontrollers.RequestPayment(svcs.Orders, logg))
				r.Post("/{orderID}/cancel", ordercontrollers.Cancel(svcs.Orders, logg))
			})

			r.Route("/groups", func(r chi.Router) {
				r.Post("/", groupcontrollers.Initiate(svcs.Groups, logg))
				r.Get("/{groupID}", groupcontrollers.Get(svcs.Groups, logg))
				r.Post("/{groupID}/join", groupcontrollers.Join(svcs.Groups, logg))
				r.Post("/{groupID}/cancel", groupcontrollers.Cancel(svcs.Groups, logg))
				r.Post("/{groupID}/pay", groupcontrollers.Pay(svcs.Groups, logg))
			})
		})

		r.Route("/merchant", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleMerchant))
			r.Post("/verifications", merchantcontrollers.Verify(svcs.Verifications, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin))
			r.Post("/activities", admincontrollers.CreateActivity(svcs.Activities, logg))
			r.Post("/vouchers/grant", admincontrollers.GrantVoucher(svcs.Vouchers, logg))
		})
	})

	return r
}
