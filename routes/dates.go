package routes

import (
	"meetandmore-server/models"
	"meetandmore-server/storage"
	"meetandmore-server/utils"

	"github.com/kataras/iris/v12"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ListEventDates returns the available upcoming dates, optionally filtered by
// city, paginated.
func ListEventDates(ctx iris.Context) {
	page := ctx.URLParamIntDefault("page", 1)
	if page < 1 {
		page = 1
	}
	perPage := ctx.URLParamIntDefault("perPage", 20)
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	cityID := ctx.URLParamIntDefault("cityId", 0)
	filter := func(db *gorm.DB) *gorm.DB {
		q := db.Where("is_available = ? AND date > NOW()", true)
		if cityID > 0 {
			q = q.Where("city_id = ?", cityID)
		}
		return q
	}

	var total int64
	if err := storage.DB.Model(&models.EventDate{}).Scopes(filter).Count(&total).Error; err != nil {
		log.WithError(err).Error("Failed to count event dates")
		utils.JSONError(ctx, iris.StatusInternalServerError, "internal", "could not load event dates")
		return
	}

	var dates []models.EventDate
	if err := storage.DB.Scopes(filter).
		Preload("City").
		Order("date ASC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&dates).Error; err != nil {
		log.WithError(err).Error("Failed to list event dates")
		utils.JSONError(ctx, iris.StatusInternalServerError, "internal", "could not load event dates")
		return
	}

	utils.JSONPage(ctx, dates, page, perPage, total)
}

// EnsureEventDates is the admin trigger for topping up the rolling window of
// bookable Saturdays across all active cities.
func EnsureEventDates(ctx iris.Context) {
	if err := deps.Dates.EnsureAllCities(ctx.Request().Context()); err != nil {
		log.WithError(err).Error("Failed to ensure event dates")
		utils.JSONError(ctx, iris.StatusInternalServerError, "internal", "could not generate event dates")
		return
	}
	ctx.JSON(iris.Map{"success": true})
}
