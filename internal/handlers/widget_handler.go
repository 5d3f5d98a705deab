package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"integration-service/internal/database"
	"integration-service/internal/models"
	"integration-service/internal/store"
)

// widgetDataLimit bounds how many mapped records feed one widget render.
const widgetDataLimit = 100

// WidgetDataResponse is the payload a widget renders from. Data shape
// depends on the widget type. Widgets only ever see mapped fields; raw
// payloads are not part of this contract.
type WidgetDataResponse struct {
	WidgetID uuid.UUID   `json:"widget_id"`
	Type     string      `json:"type"`
	Title    string      `json:"title"`
	Data     interface{} `json:"data"`
}

// CreateWidget godoc
// @Summary Create a dashboard widget
// @Tags widgets
// @Accept  json
// @Produce  json
// @Param   widget  body  models.CreateWidgetRequest  true  "Widget to create"
// @Success 201 {object} models.Widget
// @Failure 400 {object} models.APIError
// @Failure 404 {object} models.APIError
// @Router /widgets [post]
func CreateWidget(c *gin.Context) {
	var req models.CreateWidgetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeValidation, "Invalid request payload", gin.H{"reason": err.Error()})
		return
	}

	sourceID, err := uuid.Parse(req.DataSourceID)
	if err != nil {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeInvalidIDFormat, "Invalid data_source_id format.", gin.H{"data_source_id": req.DataSourceID})
		return
	}

	if reason := validateWidgetConfig(req.Type, req.Config); reason != "" {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeInvalidConfig, reason, nil)
		return
	}

	db := database.GetDB()
	if !dataSourceExists(c, db, sourceID) {
		return
	}

	widget := models.Widget{
		ID:           uuid.New(),
		DataSourceID: sourceID,
		Type:         req.Type,
		Title:        req.Title,
		Config:       req.Config,
	}
	if err := db.Create(&widget).Error; err != nil {
		RespondWithError(c, http.StatusInternalServerError, models.ErrorCodeInternalServerError, "Failed to create widget.", nil)
		return
	}
	RespondWithSuccess(c, http.StatusCreated, widget)
}

// validateWidgetConfig checks the type-specific required config fields.
func validateWidgetConfig(widgetType string, config map[string]interface{}) string {
	switch widgetType {
	case "metric":
		if configString(config, "value_field") == "" {
			return "metric widget config requires value_field"
		}
	case "chart":
		if configString(config, "x_field") == "" || configString(config, "y_field") == "" {
			return "chart widget config requires x_field and y_field"
		}
	case "table":
		columns, ok := config["columns"].([]interface{})
		if !ok || len(columns) == 0 {
			return "table widget config requires a non-empty columns list"
		}
		for i, col := range columns {
			colMap, ok := col.(map[string]interface{})
			if !ok || configString(colMap, "field") == "" {
				return fmt.Sprintf("table widget column %d requires a field", i)
			}
		}
	case "list":
		if configString(config, "title_field") == "" {
			return "list widget config requires title_field"
		}
	}
	return ""
}

// ListWidgets godoc
// @Summary List widgets
// @Tags widgets
// @Produce  json
// @Param   data_source_id  query  string  false  "Filter by data source"
// @Success 200 {array} models.Widget
// @Router /widgets [get]
func ListWidgets(c *gin.Context) {
	db := database.GetDB()
	query := db.Order("created_at asc")
	if raw := c.Query("data_source_id"); raw != "" {
		sourceID, err := uuid.Parse(raw)
		if err != nil {
			RespondWithError(c, http.StatusBadRequest, models.ErrorCodeInvalidIDFormat, "Invalid data_source_id format.", gin.H{"data_source_id": raw})
			return
		}
		query = query.Where("data_source_id = ?", sourceID)
	}

	var widgets []models.Widget
	if err := query.Find(&widgets).Error; err != nil {
		RespondWithError(c, http.StatusInternalServerError, models.ErrorCodeInternalServerError, "Failed to list widgets.", nil)
		return
	}
	RespondWithSuccess(c, http.StatusOK, widgets)
}

// GetWidget godoc
// @Summary Get a widget
// @Tags widgets
// @Produce  json
// @Param   id  path  string  true  "Widget ID"
// @Success 200 {object} models.Widget
// @Failure 404 {object} models.APIError
// @Router /widgets/{id} [get]
func GetWidget(c *gin.Context) {
	widget, ok := loadWidget(c)
	if !ok {
		return
	}
	RespondWithSuccess(c, http.StatusOK, widget)
}

// UpdateWidget godoc
// @Summary Update a widget
// @Tags widgets
// @Accept  json
// @Produce  json
// @Param   id  path  string  true  "Widget ID"
// @Param   widget  body  models.UpdateWidgetRequest  true  "Fields to update"
// @Success 200 {object} models.Widget
// @Failure 400 {object} models.APIError
// @Failure 404 {object} models.APIError
// @Router /widgets/{id} [put]
func UpdateWidget(c *gin.Context) {
	widget, ok := loadWidget(c)
	if !ok {
		return
	}

	var req models.UpdateWidgetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeValidation, "Invalid request payload", gin.H{"reason": err.Error()})
		return
	}

	if req.Type != nil {
		widget.Type = *req.Type
	}
	if req.Title != nil {
		widget.Title = *req.Title
	}
	if req.Config != nil {
		widget.Config = *req.Config
	}

	if reason := validateWidgetConfig(widget.Type, widget.Config); reason != "" {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeInvalidConfig, reason, nil)
		return
	}

	if err := database.GetDB().Save(widget).Error; err != nil {
		RespondWithError(c, http.StatusInternalServerError, models.ErrorCodeInternalServerError, "Failed to update widget.", nil)
		return
	}
	RespondWithSuccess(c, http.StatusOK, widget)
}

// DeleteWidget godoc
// @Summary Delete a widget
// @Tags widgets
// @Param   id  path  string  true  "Widget ID"
// @Success 204 "No Content"
// @Failure 404 {object} models.APIError
// @Router /widgets/{id} [delete]
func DeleteWidget(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	res := database.GetDB().Where("id = ?", id).Delete(&models.Widget{})
	if res.Error != nil {
		RespondWithError(c, http.StatusInternalServerError, models.ErrorCodeInternalServerError, "Failed to delete widget.", nil)
		return
	}
	if res.RowsAffected == 0 {
		RespondWithError(c, http.StatusNotFound, models.ErrorCodeWidgetNotFound, "Widget not found.", gin.H{"id": id})
		return
	}
	RespondWithSuccess(c, http.StatusNoContent, nil)
}

// GetWidgetData godoc
// @Summary Get the mapped data a widget renders
// @Description Read-only projection of mapped records per the widget's config. Rendering never triggers a sync, and a field absent from a mapped record comes back null rather than erroring the widget.
// @Tags widgets
// @Produce  json
// @Param   id  path  string  true  "Widget ID"
// @Param   limit  query  int  false  "Maximum records to project (default/max 100)"
// @Success 200 {object} WidgetDataResponse
// @Failure 404 {object} models.APIError
// @Router /widgets/{id}/data [get]
func GetWidgetData(c *gin.Context) {
	widget, ok := loadWidget(c)
	if !ok {
		return
	}

	limit := widgetDataLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			RespondWithError(c, http.StatusBadRequest, models.ErrorCodeValidation, "Invalid limit parameter.", gin.H{"limit": raw})
			return
		}
		if n < limit {
			limit = n
		}
	}

	records, _, err := recordStore.List(widget.DataSourceID, store.ListOptions{
		Page:      1,
		PageSize:  limit,
		SortBy:    "synced_at",
		SortOrder: "desc",
	})
	if err != nil {
		RespondWithError(c, http.StatusInternalServerError, models.ErrorCodeInternalServerError, "Failed to load widget data.", nil)
		return
	}

	RespondWithSuccess(c, http.StatusOK, WidgetDataResponse{
		WidgetID: widget.ID,
		Type:     widget.Type,
		Title:    widget.Title,
		Data:     projectWidgetData(widget, records),
	})
}

// projectWidgetData shapes mapped records per the widget type. Missing
// fields project as nulls; one bad record never breaks the widget.
func projectWidgetData(widget *models.Widget, records []models.IntegratedRecord) interface{} {
	switch widget.Type {
	case "metric":
		valueField := configString(widget.Config, "value_field")
		label := configString(widget.Config, "label")
		if label == "" {
			label = widget.Title
		}
		var value interface{}
		if len(records) > 0 {
			value = records[0].MappedData[valueField]
		}
		return gin.H{"label": label, "value": value}

	case "chart":
		xField := configString(widget.Config, "x_field")
		yField := configString(widget.Config, "y_field")
		points := make([]gin.H, 0, len(records))
		for _, rec := range records {
			points = append(points, gin.H{
				"x": rec.MappedData[xField],
				"y": rec.MappedData[yField],
			})
		}
		return gin.H{"points": points}

	case "table":
		rawColumns, _ := widget.Config["columns"].([]interface{})
		type column struct {
			Field string `json:"field"`
			Label string `json:"label"`
			Type  string `json:"type,omitempty"`
		}
		columns := make([]column, 0, len(rawColumns))
		for _, raw := range rawColumns {
			colMap, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			col := column{
				Field: configString(colMap, "field"),
				Label: configString(colMap, "label"),
				Type:  configString(colMap, "type"),
			}
			if col.Label == "" {
				col.Label = col.Field
			}
			columns = append(columns, col)
		}
		rows := make([][]interface{}, 0, len(records))
		for _, rec := range records {
			row := make([]interface{}, len(columns))
			for i, col := range columns {
				row[i] = rec.MappedData[col.Field]
			}
			rows = append(rows, row)
		}
		return gin.H{"columns": columns, "rows": rows}

	case "list":
		titleField := configString(widget.Config, "title_field")
		subtitleField := configString(widget.Config, "subtitle_field")
		badgeField := configString(widget.Config, "badge_field")
		items := make([]gin.H, 0, len(records))
		for _, rec := range records {
			item := gin.H{"title": rec.MappedData[titleField]}
			if subtitleField != "" {
				item["subtitle"] = rec.MappedData[subtitleField]
			}
			if badgeField != "" {
				item["badge"] = rec.MappedData[badgeField]
			}
			items = append(items, item)
		}
		return gin.H{"items": items}
	}
	return nil
}

func configString(config map[string]interface{}, key string) string {
	if v, ok := config[key].(string); ok {
		return v
	}
	return ""
}

func loadWidget(c *gin.Context) (*models.Widget, bool) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return nil, false
	}

	var widget models.Widget
	err := database.GetDB().Where("id = ?", id).Take(&widget).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		RespondWithError(c, http.StatusNotFound, models.ErrorCodeWidgetNotFound, "Widget not found.", gin.H{"id": id})
		return nil, false
	}
	if err != nil {
		RespondWithError(c, http.StatusInternalServerError, models.ErrorCodeInternalServerError, "Failed to load widget.", nil)
		return nil, false
	}
	return &widget, true
}
