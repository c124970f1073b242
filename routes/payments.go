package routes

import (
	"errors"
	"time"

	"meetandmore-server/models"
	"meetandmore-server/services"
	"meetandmore-server/utils"

	"github.com/kataras/iris/v12"
	log "github.com/sirupsen/logrus"
)

// WebhookInput is the gateway's capture callback. Signature verification
// happens at the edge proxy before this handler runs.
type WebhookInput struct {
	Event            string `json:"event" validate:"required"`
	OrderID          string `json:"orderId" validate:"required"`
	GatewayPaymentID string `json:"gatewayPaymentId" validate:"required"`
}

// PaymentWebhook marks the payment paid and routes it to the main or late
// settlement path.
func PaymentWebhook(ctx iris.Context) {
	var input WebhookInput
	if err := ctx.ReadJSON(&input); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	if input.Event != "payment.captured" {
		ctx.JSON(iris.Map{"received": true})
		return
	}

	err := deps.Settlement.RecordCapture(ctx.Request().Context(), input.OrderID, input.GatewayPaymentID,
		func(event models.EventDate) bool {
			return services.FormationDeadlinePassed(event, time.Now())
		})
	if err != nil {
		log.WithError(err).WithField("order_id", input.OrderID).Error("Failed to process capture webhook")
		utils.JSONError(ctx, iris.StatusUnprocessableEntity, "capture_failed", err.Error())
		return
	}

	ctx.JSON(iris.Map{"received": true})
}

// RefundInput identifies the booking a user wants to cancel.
type RefundInput struct {
	EventDateID uint `json:"eventDateId" validate:"required"`
}

// RequestRefund is the user-initiated cancellation endpoint.
func RequestRefund(ctx iris.Context) {
	userID, ok := ctx.Values().Get("userID").(uint)
	if !ok {
		utils.JSONError(ctx, iris.StatusUnauthorized, "unauthorized", "user ID missing from token")
		return
	}

	var input RefundInput
	if err := ctx.ReadJSON(&input); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	err := deps.Refunds.CancelBooking(ctx.Request().Context(), userID, input.EventDateID)
	if errors.Is(err, services.ErrCancellationWindowClosed) {
		utils.JSONError(ctx, iris.StatusConflict, "window_closed",
			"cancellation is only possible within 24 hours of booking and before Friday of the event week")
		return
	}
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"user_id":       userID,
			"event_date_id": input.EventDateID,
		}).Error("Cancellation failed")
		utils.JSONError(ctx, iris.StatusUnprocessableEntity, "refund_failed", err.Error())
		return
	}

	ctx.JSON(iris.Map{"success": true, "message": "Your refund is being processed"})
}
