// Package consumers binds queue topics to their handlers. Each topic lives in
// its own file; RegisterAll is the single wiring point used by main.
package consumers

import (
	"context"

	"meetandmore-server/config"
	"meetandmore-server/queue"
	"meetandmore-server/scheduler"
	"meetandmore-server/services"
	"meetandmore-server/utils"

	"gorm.io/gorm"
)

// Deps carries everything the handlers need.
type Deps struct {
	DB            *gorm.DB
	Broker        *queue.Broker
	Settlement    *services.SettlementService
	Notifications *services.NotificationService
	Mailer        utils.Mailer
	Push          utils.PushSender
}

// RegisterAll starts one worker per topic. Settlement topics run with
// concurrency 1 to keep per-entity ordering simple; batched topics rely on
// the batcher instead of parallelism.
func RegisterAll(ctx context.Context, cfg config.App, d Deps) {
	base := queue.Options{
		Concurrency: 1,
		MaxAttempts: cfg.JobMaxAttempts,
		BackoffBase: cfg.JobBackoffBase,
	}

	d.Broker.Consume(ctx, scheduler.TopicGroupAssignment, groupAssignmentHandler(d), base)
	d.Broker.Consume(ctx, scheduler.TopicVenueReveal, venueRevealHandler(d), base)
	d.Broker.Consume(ctx, scheduler.TopicFollowUp, followUpHandler(d), base)
	d.Broker.Consume(ctx, services.TopicPaymentSuccess, paymentSuccessHandler(d), base)
	d.Broker.Consume(ctx, services.TopicLatePayment, latePaymentHandler(d), base)
	d.Broker.Consume(ctx, queue.DeadLetterTopic, deadLetterHandler(d), base)

	registerBulkEmail(ctx, cfg, d)
	registerPushBatch(ctx, cfg, d)
}
