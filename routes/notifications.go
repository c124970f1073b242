package routes

import (
	"time"

	"meetandmore-server/models"
	"meetandmore-server/storage"
	"meetandmore-server/utils"

	"github.com/kataras/iris/v12"
	log "github.com/sirupsen/logrus"
)

// ListNotifications returns the caller's in-app notifications, newest first.
func ListNotifications(ctx iris.Context) {
	userID, ok := ctx.Values().Get("userID").(uint)
	if !ok {
		utils.JSONError(ctx, iris.StatusUnauthorized, "unauthorized", "user ID missing from token")
		return
	}

	page := ctx.URLParamIntDefault("page", 1)
	if page < 1 {
		page = 1
	}
	perPage := ctx.URLParamIntDefault("perPage", 20)
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	var total int64
	if err := storage.DB.Model(&models.Notification{}).
		Where("user_id = ?", userID).
		Count(&total).Error; err != nil {
		log.WithError(err).WithField("user_id", userID).Error("Failed to count notifications")
		utils.JSONError(ctx, iris.StatusInternalServerError, "internal", "could not load notifications")
		return
	}

	var notifications []models.Notification
	if err := storage.DB.
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset((page-1)*perPage).
		Limit(perPage).
		Find(&notifications).Error; err != nil {
		log.WithError(err).WithField("user_id", userID).Error("Failed to list notifications")
		utils.JSONError(ctx, iris.StatusInternalServerError, "internal", "could not load notifications")
		return
	}

	utils.JSONPage(ctx, notifications, page, perPage, total)
}

// MarkNotificationRead flags one of the caller's notifications as read.
func MarkNotificationRead(ctx iris.Context) {
	userID, ok := ctx.Values().Get("userID").(uint)
	if !ok {
		utils.JSONError(ctx, iris.StatusUnauthorized, "unauthorized", "user ID missing from token")
		return
	}

	id, err := ctx.Params().GetUint("id")
	if err != nil {
		utils.JSONError(ctx, iris.StatusBadRequest, "bad_request", "invalid notification id")
		return
	}

	now := time.Now()
	res := storage.DB.Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]interface{}{"is_read": true, "read_at": &now})
	if res.Error != nil {
		log.WithError(res.Error).Error("Failed to mark notification read")
		utils.JSONError(ctx, iris.StatusInternalServerError, "internal", "could not update notification")
		return
	}
	if res.RowsAffected == 0 {
		utils.JSONError(ctx, iris.StatusNotFound, "not_found", "notification not found")
		return
	}

	ctx.JSON(iris.Map{"success": true})
}
