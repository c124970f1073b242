package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"meetandmore-server/models"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestHandlePaymentSuccessCreatesWaitlistOnce(t *testing.T) {
	f := newFixture(t)
	event := f.seedEvent(t, time.Now().Add(72*time.Hour))
	user := f.seedUser(t, "ada", models.GenderFemale)

	payment := models.Payment{
		UserID:      user.ID,
		EventDateID: event.ID,
		OrderID:     "order_1",
		Amount:      2500,
		Currency:    "EUR",
		Status:      models.PaymentPaid,
	}
	if err := f.db.Create(&payment).Error; err != nil {
		t.Fatalf("create payment: %v", err)
	}

	job := PaymentJob{PaymentID: payment.ID, UserID: user.ID, EventDateID: event.ID, Amount: 2500, Currency: "EUR"}
	for i := 0; i < 2; i++ {
		if err := f.settlement.HandlePaymentSuccess(context.Background(), job); err != nil {
			t.Fatalf("HandlePaymentSuccess: %v", err)
		}
	}

	var count int64
	f.db.Model(&models.Waitlist{}).
		Where("user_id = ? AND event_date_id = ?", user.ID, event.ID).
		Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 waitlist entry, got %d", count)
	}
}

// The 8M/5F pool settles into two teams with eleven confirmed entries; the
// two leftover males are refunded.
func TestAssignGroupsEndToEnd(t *testing.T) {
	f := newFixture(t)
	event := f.seedEvent(t, time.Now().Add(48*time.Hour))

	names := []struct {
		name   string
		gender models.Gender
	}{
		{"m1", models.GenderMale}, {"m2", models.GenderMale}, {"m3", models.GenderMale},
		{"m4", models.GenderMale}, {"m5", models.GenderMale}, {"m6", models.GenderMale},
		{"m7", models.GenderMale}, {"m8", models.GenderMale},
		{"f1", models.GenderFemale}, {"f2", models.GenderFemale}, {"f3", models.GenderFemale},
		{"f4", models.GenderFemale}, {"f5", models.GenderFemale},
	}
	for _, n := range names {
		user := f.seedUser(t, n.name, n.gender)
		f.seedPaidBooking(t, user, event)
	}

	if err := f.settlement.AssignGroups(context.Background(), event.ID); err != nil {
		t.Fatalf("AssignGroups: %v", err)
	}

	var teams []models.Team
	if err := f.db.Preload("Members").Where("event_date_id = ?", event.ID).
		Order("id ASC").Find(&teams).Error; err != nil {
		t.Fatalf("load teams: %v", err)
	}
	if len(teams) != 2 {
		t.Fatalf("expected 2 teams, got %d", len(teams))
	}
	if len(teams[0].Members)+len(teams[1].Members) != 11 {
		t.Fatalf("expected 11 members across teams, got %d and %d",
			len(teams[0].Members), len(teams[1].Members))
	}

	var confirmed, canceled int64
	f.db.Model(&models.Waitlist{}).
		Where("event_date_id = ? AND status = ?", event.ID, models.WaitlistConfirmed).Count(&confirmed)
	f.db.Model(&models.Waitlist{}).
		Where("event_date_id = ? AND status = ?", event.ID, models.WaitlistCanceled).Count(&canceled)
	if confirmed != 11 {
		t.Fatalf("expected 11 confirmed entries, got %d", confirmed)
	}
	if canceled != 2 {
		t.Fatalf("expected 2 canceled entries, got %d", canceled)
	}
	if f.gateway.refundCalls != 2 {
		t.Fatalf("expected 2 refunds for the leftover males, got %d", f.gateway.refundCalls)
	}
}

// Users with an unsupported gender never reach the matcher; they are refunded
// alongside the unassigned.
func TestAssignGroupsRefundsUnsupportedGender(t *testing.T) {
	f := newFixture(t)
	event := f.seedEvent(t, time.Now().Add(48*time.Hour))

	for _, n := range []struct {
		name   string
		gender models.Gender
	}{
		{"m1", models.GenderMale}, {"m2", models.GenderMale}, {"m3", models.GenderMale},
		{"f1", models.GenderFemale}, {"f2", models.GenderFemale},
		{"x1", models.GenderOther},
	} {
		user := f.seedUser(t, n.name, n.gender)
		f.seedPaidBooking(t, user, event)
	}

	if err := f.settlement.AssignGroups(context.Background(), event.ID); err != nil {
		t.Fatalf("AssignGroups: %v", err)
	}

	var teams []models.Team
	f.db.Preload("Members").Where("event_date_id = ?", event.ID).Find(&teams)
	if len(teams) != 1 || len(teams[0].Members) != 5 {
		t.Fatalf("expected one 5-member team, got %+v", teams)
	}
	if f.gateway.refundCalls != 1 {
		t.Fatalf("expected 1 refund for the rejected entry, got %d", f.gateway.refundCalls)
	}
}

func TestHandleLatePaymentJoinsTeam(t *testing.T) {
	f := newFixture(t)
	event := f.seedEvent(t, time.Now().Add(12*time.Hour))

	team := models.Team{EventDateID: event.ID, Status: models.TeamFormed}
	for i, g := range []models.Gender{models.GenderMale, models.GenderMale, models.GenderMale, models.GenderFemale, models.GenderFemale} {
		member := f.seedUser(t, string(rune('a'+i)), g)
		team.Members = append(team.Members, models.TeamMember{UserID: member.ID, Gender: g})
	}
	if err := f.db.Create(&team).Error; err != nil {
		t.Fatalf("create team: %v", err)
	}

	late := f.seedUser(t, "late", models.GenderFemale)
	payment := models.Payment{
		UserID: late.ID, EventDateID: event.ID, OrderID: "order_late",
		Amount: 2500, Currency: "EUR", Status: models.PaymentPaid,
	}
	if err := f.db.Create(&payment).Error; err != nil {
		t.Fatalf("create payment: %v", err)
	}

	job := PaymentJob{PaymentID: payment.ID, UserID: late.ID, EventDateID: event.ID}
	if err := f.settlement.HandleLatePayment(context.Background(), job); err != nil {
		t.Fatalf("HandleLatePayment: %v", err)
	}

	var reloaded models.Team
	if err := f.db.Preload("Members").First(&reloaded, team.ID).Error; err != nil {
		t.Fatalf("reload team: %v", err)
	}
	if len(reloaded.Members) != 6 {
		t.Fatalf("expected 6 members after late join, got %d", len(reloaded.Members))
	}
	males, females := reloaded.GenderCount()
	if males != 3 || females != 3 {
		t.Fatalf("expected 3M/3F, got %dM/%dF", males, females)
	}

	var entry models.Waitlist
	if err := f.db.Where("user_id = ?", late.ID).First(&entry).Error; err != nil {
		t.Fatalf("load waitlist: %v", err)
	}
	if entry.Status != models.WaitlistConfirmed {
		t.Fatalf("expected confirmed entry, got %s", entry.Status)
	}
	if f.gateway.refundCalls != 0 {
		t.Fatalf("unexpected refund: %d calls", f.gateway.refundCalls)
	}
}

func TestHandleLatePaymentRefundsWhenNoTeamFits(t *testing.T) {
	f := newFixture(t)
	event := f.seedEvent(t, time.Now().Add(12*time.Hour))

	// A full 3M/3F team leaves no room.
	team := models.Team{EventDateID: event.ID, Status: models.TeamFormed}
	genders := []models.Gender{
		models.GenderMale, models.GenderMale, models.GenderMale,
		models.GenderFemale, models.GenderFemale, models.GenderFemale,
	}
	for i, g := range genders {
		member := f.seedUser(t, string(rune('a'+i)), g)
		team.Members = append(team.Members, models.TeamMember{UserID: member.ID, Gender: g})
	}
	if err := f.db.Create(&team).Error; err != nil {
		t.Fatalf("create team: %v", err)
	}

	late := f.seedUser(t, "late", models.GenderMale)
	payment := models.Payment{
		UserID: late.ID, EventDateID: event.ID, OrderID: "order_late",
		GatewayPaymentID: "pay_late",
		Amount:           2500, Currency: "EUR", Status: models.PaymentPaid,
	}
	if err := f.db.Create(&payment).Error; err != nil {
		t.Fatalf("create payment: %v", err)
	}

	job := PaymentJob{PaymentID: payment.ID, UserID: late.ID, EventDateID: event.ID}
	if err := f.settlement.HandleLatePayment(context.Background(), job); err != nil {
		t.Fatalf("HandleLatePayment: %v", err)
	}

	if f.gateway.refundCalls != 1 {
		t.Fatalf("expected refund for unplaceable late arrival, got %d calls", f.gateway.refundCalls)
	}
	var reloaded models.Payment
	f.db.First(&reloaded, payment.ID)
	if reloaded.Status != models.PaymentRefunded {
		t.Fatalf("expected refunded payment, got %s", reloaded.Status)
	}
}

// A capture lands on the main path before formation has run and on the late
// path after; a repeated callback for the same order enqueues nothing.
func TestRecordCaptureRouting(t *testing.T) {
	f := newFixture(t)
	event := f.seedEvent(t, time.Now().Add(48*time.Hour))
	user := f.seedUser(t, "kim", models.GenderFemale)

	payment := models.Payment{
		UserID: user.ID, EventDateID: event.ID, OrderID: "order_main",
		Amount: 2500, Currency: "EUR", Status: models.PaymentCreated,
	}
	if err := f.db.Create(&payment).Error; err != nil {
		t.Fatalf("create payment: %v", err)
	}

	notRun := func(models.EventDate) bool { return false }
	if err := f.settlement.RecordCapture(context.Background(), "order_main", "pay_main", notRun); err != nil {
		t.Fatalf("RecordCapture: %v", err)
	}
	if n := f.queueLen(t, TopicPaymentSuccess); n != 1 {
		t.Fatalf("expected 1 payment-success job, got %d", n)
	}

	var reloaded models.Payment
	f.db.First(&reloaded, payment.ID)
	if reloaded.Status != models.PaymentPaid || reloaded.GatewayPaymentID != "pay_main" {
		t.Fatalf("payment not captured: %+v", reloaded)
	}
	var captures int64
	f.db.Model(&models.PaymentLog{}).
		Where("payment_id = ? AND action = ?", payment.ID, models.LogActionCapture).Count(&captures)
	if captures != 1 {
		t.Fatalf("expected 1 capture log, got %d", captures)
	}

	// Duplicate callback: no second job, no second log.
	if err := f.settlement.RecordCapture(context.Background(), "order_main", "pay_main", notRun); err != nil {
		t.Fatalf("RecordCapture duplicate: %v", err)
	}
	if n := f.queueLen(t, TopicPaymentSuccess); n != 1 {
		t.Fatalf("duplicate callback enqueued again, queue len %d", n)
	}

	ran := func(models.EventDate) bool { return true }
	late := models.Payment{
		UserID: user.ID, EventDateID: event.ID, OrderID: "order_late",
		Amount: 2500, Currency: "EUR", Status: models.PaymentCreated,
	}
	if err := f.db.Create(&late).Error; err != nil {
		t.Fatalf("create payment: %v", err)
	}
	if err := f.settlement.RecordCapture(context.Background(), "order_late", "pay_late", ran); err != nil {
		t.Fatalf("RecordCapture late: %v", err)
	}
	if n := f.queueLen(t, TopicLatePayment); n != 1 {
		t.Fatalf("expected 1 late-payment job, got %d", n)
	}
}

// A capture callback for a failed payment that still holds the first-dinner
// discount is rejected and logged for review.
func TestRecordCaptureWarnsOnFailedFirstDinnerPayment(t *testing.T) {
	f := newFixture(t)
	event := f.seedEvent(t, time.Now().Add(48*time.Hour))
	user := f.seedUser(t, "lee", models.GenderMale)

	payment := models.Payment{
		UserID: user.ID, EventDateID: event.ID, OrderID: "order_failed",
		Amount: 2500, Currency: "EUR", Status: models.PaymentFailed,
		FirstDinnerDiscount: true,
	}
	if err := f.db.Create(&payment).Error; err != nil {
		t.Fatalf("create payment: %v", err)
	}

	hook := test.NewGlobal()
	defer hook.Reset()

	err := f.settlement.RecordCapture(context.Background(), "order_failed", "pay_failed",
		func(models.EventDate) bool { return false })
	if err == nil {
		t.Fatal("expected error capturing a failed payment")
	}

	warned := false
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && strings.Contains(entry.Message, "first-dinner discount") {
			warned = true
		}
	}
	if !warned {
		t.Fatal("expected a warning about the first-dinner discount flag")
	}
}

func TestCompleteEventIssuesRewards(t *testing.T) {
	f := newFixture(t)
	event := f.seedEvent(t, time.Now().Add(-2*time.Hour))

	owner := f.seedUser(t, "owner", models.GenderFemale)
	ownerID := owner.ID
	ref := models.Referral{
		Code: "FRIENDS", UserID: &ownerID,
		Type: models.ReferralStandard, Status: models.ReferralActive,
		UsageCount: 2, RewardAfterUsages: 3,
	}
	if err := f.db.Create(&ref).Error; err != nil {
		t.Fatalf("create referral: %v", err)
	}
	reward := models.Reward{ReferralType: models.ReferralStandard, Currency: "EUR", OwnerReward: 1000}
	if err := f.db.Create(&reward).Error; err != nil {
		t.Fatalf("create reward: %v", err)
	}

	diner := f.seedUser(t, "diner", models.GenderMale)
	payment, entry := f.seedPaidBooking(t, diner, event)
	if err := f.db.Model(&payment).Update("coupon_code", "FRIENDS").Error; err != nil {
		t.Fatalf("set coupon: %v", err)
	}
	if err := f.db.Model(&entry).Update("status", models.WaitlistConfirmed).Error; err != nil {
		t.Fatalf("confirm entry: %v", err)
	}

	if err := f.settlement.CompleteEvent(context.Background(), event.ID); err != nil {
		t.Fatalf("CompleteEvent: %v", err)
	}

	var reloadedEntry models.Waitlist
	f.db.First(&reloadedEntry, entry.ID)
	if reloadedEntry.Status != models.WaitlistCompleted {
		t.Fatalf("expected completed entry, got %s", reloadedEntry.Status)
	}

	var rateCount, againCount int64
	f.db.Model(&models.Notification{}).
		Where("user_id = ? AND type = ?", diner.ID, models.NotifRateExp).Count(&rateCount)
	f.db.Model(&models.Notification{}).
		Where("user_id = ? AND type = ?", diner.ID, models.NotifAnotherDinner).Count(&againCount)
	if rateCount != 1 || againCount != 1 {
		t.Fatalf("expected follow-up notifications, got rate=%d again=%d", rateCount, againCount)
	}

	var reloadedRef models.Referral
	f.db.First(&reloadedRef, ref.ID)
	if reloadedRef.UsageCount != 3 {
		t.Fatalf("expected usage count 3, got %d", reloadedRef.UsageCount)
	}

	var ownerNotif int64
	f.db.Model(&models.Notification{}).Where("user_id = ?", owner.ID).Count(&ownerNotif)
	if ownerNotif != 1 {
		t.Fatalf("expected owner reward notification, got %d", ownerNotif)
	}
}
