package routes

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"meetandmore-server/models"
	"meetandmore-server/storage"
	"meetandmore-server/utils"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setTestDB(t *testing.T) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Notification{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	prev := storage.DB
	storage.DB = db
	t.Cleanup(func() { storage.DB = prev })
}

func TestListNotificationsPaginated(t *testing.T) {
	app := buildTestApp()
	setTestDB(t)

	for i := 0; i < 3; i++ {
		notif := models.Notification{UserID: 1, Type: models.NotifMessage, Message: "hello"}
		if err := storage.DB.Create(&notif).Error; err != nil {
			t.Fatalf("create notification: %v", err)
		}
	}
	other := models.Notification{UserID: 2, Type: models.NotifMessage, Message: "not yours"}
	if err := storage.DB.Create(&other).Error; err != nil {
		t.Fatalf("create notification: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/notifications?page=1&perPage=2", nil)
	req.Header.Set("Authorization", "Bearer "+signTestToken("user"))
	resp := httptest.NewRecorder()
	app.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var body struct {
		Data []models.Notification `json:"data"`
		Meta utils.PageMeta        `json:"meta"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Data) != 2 {
		t.Fatalf("expected 2 notifications on the page, got %d", len(body.Data))
	}
	if body.Meta.Total != 3 || body.Meta.Page != 1 || body.Meta.PerPage != 2 {
		t.Fatalf("unexpected meta: %+v", body.Meta)
	}
	for _, n := range body.Data {
		if n.UserID != 1 {
			t.Fatalf("got another user's notification: %+v", n)
		}
	}
}
