package routes

import (
	"meetandmore-server/services"
	"meetandmore-server/utils"

	"github.com/kataras/iris/v12"
)

// Deps holds the services the handlers call. Set once at startup.
type Deps struct {
	Settlement *services.SettlementService
	Refunds    *services.RefundService
	Dates      *services.DateService
}

var deps Deps

// Register mounts the HTTP surface. Everything except the gateway webhook and
// the public date listing requires a verified access token.
func Register(app *iris.Application, d Deps) {
	deps = d

	auth := utils.AccessTokenMiddleware()

	payments := app.Party("/api/payments")
	{
		payments.Post("/webhook", PaymentWebhook)
		payments.Post("/refund", auth, utils.UserIDFromTokenMiddleware, RequestRefund)
	}

	events := app.Party("/api/events")
	{
		events.Get("/dates", ListEventDates)
		events.Post("/dates/ensure", auth, utils.AdminOnlyMiddleware, EnsureEventDates)
	}

	notifications := app.Party("/api/notifications", auth, utils.UserIDFromTokenMiddleware)
	{
		notifications.Get("/", ListNotifications)
		notifications.Patch("/{id:uint}/read", MarkNotificationRead)
	}
}
