package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"meetandmore-server/models"
	"meetandmore-server/queue"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fixture struct {
	db      *gorm.DB
	rdb     *redis.Client
	broker  *queue.Broker
	gateway *fakeGateway
	cities  int

	notifications *NotificationService
	refunds       *RefundService
	referrals     *ReferralService
	settlement    *SettlementService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.VenueCity{}, &models.EventDate{}, &models.User{},
		&models.Payment{}, &models.PaymentLog{}, &models.Waitlist{},
		&models.Team{}, &models.TeamMember{}, &models.Notification{},
		&models.DeadLetterLog{}, &models.Referral{}, &models.Reward{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	broker := queue.NewBroker(rdb)
	gateway := &fakeGateway{status: "captured"}
	notifications := NewNotificationService(db, broker, "ops@example.com")
	refunds := NewRefundService(db, broker, gateway, notifications)
	referrals := NewReferralService(notifications)
	settlement := NewSettlementService(db, broker, refunds, notifications, referrals)

	return &fixture{
		db:            db,
		rdb:           rdb,
		broker:        broker,
		gateway:       gateway,
		notifications: notifications,
		refunds:       refunds,
		referrals:     referrals,
		settlement:    settlement,
	}
}

type fakeGateway struct {
	mu          sync.Mutex
	status      string
	fetchErr    error
	refundErr   error
	fetchCalls  int
	refundCalls int
	lastIdemKey string
}

func (g *fakeGateway) FetchPayment(ctx context.Context, id string) (GatewayPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchCalls++
	if g.fetchErr != nil {
		return GatewayPayment{}, g.fetchErr
	}
	return GatewayPayment{ID: id, Status: g.status, Raw: json.RawMessage(`{}`)}, nil
}

func (g *fakeGateway) Refund(ctx context.Context, id string, amount int64, idemKey string) (GatewayRefund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refundCalls++
	g.lastIdemKey = idemKey
	if g.refundErr != nil {
		return GatewayRefund{}, g.refundErr
	}
	return GatewayRefund{ID: "rfnd_1", Status: "processed", Raw: json.RawMessage(`{}`)}, nil
}

func (f *fixture) seedEvent(t *testing.T, date time.Time) models.EventDate {
	t.Helper()
	// City names carry a unique index; each event gets its own city.
	f.cities++
	city := models.VenueCity{Name: fmt.Sprintf("Testville %d", f.cities), Timezone: "UTC", VenueName: "The Long Table", VenueAddress: "1 Main St", Active: true}
	if err := f.db.Create(&city).Error; err != nil {
		t.Fatalf("create city: %v", err)
	}
	event := models.EventDate{CityID: city.ID, Date: date, IsAvailable: true}
	if err := f.db.Create(&event).Error; err != nil {
		t.Fatalf("create event: %v", err)
	}
	return event
}

func (f *fixture) seedUser(t *testing.T, name string, gender models.Gender) models.User {
	t.Helper()
	user := models.User{Name: name, Email: name + "@example.com", Gender: gender}
	if err := f.db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func (f *fixture) seedPaidBooking(t *testing.T, user models.User, event models.EventDate) (models.Payment, models.Waitlist) {
	t.Helper()
	payment := models.Payment{
		UserID:           user.ID,
		EventDateID:      event.ID,
		OrderID:          "order_" + user.Name,
		GatewayPaymentID: "pay_" + user.Name,
		Amount:           2500,
		Currency:         "EUR",
		Status:           models.PaymentPaid,
	}
	if err := f.db.Create(&payment).Error; err != nil {
		t.Fatalf("create payment: %v", err)
	}
	entry := models.Waitlist{
		UserID:      user.ID,
		EventDateID: event.ID,
		PaymentID:   payment.ID,
		Status:      models.WaitlistWaiting,
	}
	if err := f.db.Create(&entry).Error; err != nil {
		t.Fatalf("create waitlist entry: %v", err)
	}
	return payment, entry
}

func (f *fixture) queueLen(t *testing.T, topic string) int64 {
	t.Helper()
	n, err := f.broker.Len(context.Background(), topic)
	if err != nil {
		t.Fatalf("queue len %s: %v", topic, err)
	}
	return n
}
