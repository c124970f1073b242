package services

import (
	"context"
	"fmt"

	"meetandmore-server/models"
	"meetandmore-server/queue"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Topics for user-facing side effects. Settlement handlers never send email
// or push synchronously; they enqueue onto these and let the consumers batch.
const (
	TopicBulkEmail         = "bulk-email"
	TopicNotificationBatch = "notification-batch"
)

// EmailJob is the bulk-email payload. TemplateName selects a server-side
// template; Data is interpolated by the mail consumer.
type EmailJob struct {
	To           []string               `json:"to"`
	Subject      string                 `json:"subject"`
	TemplateName string                 `json:"templateName"`
	Data         map[string]interface{} `json:"data,omitempty"`
}

// PushJob is the notification-batch payload.
type PushJob struct {
	Tokens []string          `json:"tokens"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

// NotificationService writes in-app notification rows and enqueues the email
// and push jobs that accompany settlement transitions.
type NotificationService struct {
	db            *gorm.DB
	broker        *queue.Broker
	operatorEmail string
}

func NewNotificationService(db *gorm.DB, broker *queue.Broker, operatorEmail string) *NotificationService {
	return &NotificationService{db: db, broker: broker, operatorEmail: operatorEmail}
}

// NotifyUser persists an in-app notification row so the client can render
// history regardless of push delivery.
func (ns *NotificationService) NotifyUser(ctx context.Context, userID uint, notifType, message string, requiresAction bool) error {
	n := models.Notification{
		UserID:         userID,
		Type:           notifType,
		Message:        message,
		RequiresAction: requiresAction,
	}
	if err := ns.db.WithContext(ctx).Create(&n).Error; err != nil {
		return fmt.Errorf("create notification for user %d: %w", userID, err)
	}
	return nil
}

// EnqueueEmail queues one templated email for the bulk mail consumer.
func (ns *NotificationService) EnqueueEmail(ctx context.Context, to []string, subject, templateName string, data map[string]interface{}) error {
	return ns.broker.Enqueue(ctx, TopicBulkEmail, EmailJob{
		To:           to,
		Subject:      subject,
		TemplateName: templateName,
		Data:         data,
	})
}

// EnqueuePushToUser queues a push for every registered device of a user.
// Users without tokens or with notifications disabled are skipped quietly.
func (ns *NotificationService) EnqueuePushToUser(ctx context.Context, user models.User, title, body string, data map[string]string) error {
	tokens := user.PushTokenList()
	if len(tokens) == 0 {
		log.WithField("user_id", user.ID).Debug("User has no push tokens, skipping push")
		return nil
	}
	return ns.broker.Enqueue(ctx, TopicNotificationBatch, PushJob{
		Tokens: tokens,
		Title:  title,
		Body:   body,
		Data:   data,
	})
}

// AlertOperator emails the on-call operator address. Used for manual-refund
// escalations and dead-letter arrivals.
func (ns *NotificationService) AlertOperator(ctx context.Context, subject string, data map[string]interface{}) error {
	if ns.operatorEmail == "" {
		log.Warn("No operator email configured, dropping operator alert")
		return nil
	}
	return ns.EnqueueEmail(ctx, []string{ns.operatorEmail}, subject, "operator_alert", data)
}
