package consumers

import (
	"context"
	"encoding/json"
	"fmt"

	"meetandmore-server/queue"
	"meetandmore-server/services"
)

func paymentSuccessHandler(d Deps) queue.Handler {
	return func(ctx context.Context, payload json.RawMessage) error {
		var job services.PaymentJob
		if err := json.Unmarshal(payload, &job); err != nil || job.PaymentID == 0 {
			return fmt.Errorf("%w: payment-success payload: %v", queue.ErrBadPayload, err)
		}
		return d.Settlement.HandlePaymentSuccess(ctx, job)
	}
}
