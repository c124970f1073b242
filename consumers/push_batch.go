package consumers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"meetandmore-server/config"
	"meetandmore-server/queue"
	"meetandmore-server/services"
	"meetandmore-server/utils"

	log "github.com/sirupsen/logrus"
)

func registerPushBatch(ctx context.Context, cfg config.App, d Deps) {
	d.Broker.Consume(ctx, services.TopicNotificationBatch, pushBatchHandler(d), queue.Options{
		Concurrency: 1,
		MaxAttempts: cfg.JobMaxAttempts,
		BackoffBase: cfg.JobBackoffBase,
		// Expo throttles aggressively; stay under their ceiling.
		RateLimit: &queue.RateLimit{Max: 10, Window: time.Second},
	})
}

// pushBatchHandler expands one job into per-token Expo messages. Per-token
// delivery errors are dead-lettered individually rather than failing the
// batch; a transport error fails the job for the normal retry path.
func pushBatchHandler(d Deps) queue.Handler {
	return func(ctx context.Context, payload json.RawMessage) error {
		var job services.PushJob
		if err := json.Unmarshal(payload, &job); err != nil || len(job.Tokens) == 0 {
			return fmt.Errorf("%w: notification-batch payload: %v", queue.ErrBadPayload, err)
		}

		messages := make([]utils.ExpoMessage, 0, len(job.Tokens))
		for _, token := range job.Tokens {
			messages = append(messages, utils.ExpoMessage{
				To:    token,
				Title: job.Title,
				Body:  job.Body,
				Data:  job.Data,
				Sound: "default",
			})
		}

		results, err := d.Push.SendBatch(ctx, messages)
		if err != nil {
			return fmt.Errorf("send push batch: %w", err)
		}

		for i, res := range results {
			if res.Status == "ok" || i >= len(messages) {
				continue
			}
			log.WithFields(log.Fields{
				"token":  messages[i].To,
				"status": res.Status,
			}).Warn("Push delivery rejected for token")
			if repErr := d.Broker.ReportFailure(ctx, services.TopicNotificationBatch, messages[i],
				fmt.Errorf("push rejected: %s %s", res.Status, res.Message)); repErr != nil {
				log.WithError(repErr).Error("Failed to dead-letter rejected push")
			}
		}
		return nil
	}
}
