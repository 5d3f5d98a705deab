package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"integration-service/internal/database"
	"integration-service/internal/models"
	"integration-service/internal/syncengine"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

var AllowedDataSourceSortByFields = map[string]bool{
	"name":         true,
	"created_at":   true,
	"updated_at":   true,
	"last_sync_at": true,
}

// CreateDataSource godoc
// @Summary Register a new data source
// @Description Register an external HTTP API as a data source, including its auth and pagination configuration.
// @Tags datasources
// @Accept  json
// @Produce  json
// @Param   data_source  body   models.CreateDataSourceRequest   true  "Data source to register"
// @Success 201 {object} models.DataSource
// @Failure 400 {object} models.APIError
// @Failure 409 {object} models.APIError
// @Failure 500 {object} models.APIError
// @Router /datasources [post]
func CreateDataSource(c *gin.Context) {
	var req models.CreateDataSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeValidation, "Invalid request payload", gin.H{"reason": err.Error()})
		return
	}

	ds := models.DataSource{
		ID:                 uuid.New(),
		Name:               req.Name,
		BaseURL:            req.BaseURL,
		AuthType:           req.AuthType,
		AuthConfig:         req.AuthConfig,
		IsActive:           true,
		SyncCadence:        req.SyncCadence,
		SupportsPagination: req.SupportsPagination,
		PaginationType:     req.PaginationType,
		DefaultPageSize:    req.DefaultPageSize,
		MaxPageSize:        req.MaxPageSize,
	}
	if ds.AuthType == "" {
		ds.AuthType = "none"
	}
	if ds.SyncCadence == "" {
		ds.SyncCadence = "manual"
	}
	if ds.DefaultPageSize == 0 {
		ds.DefaultPageSize = 50
	}
	if ds.MaxPageSize == 0 {
		ds.MaxPageSize = 200
	}
	if req.IsActive != nil {
		ds.IsActive = *req.IsActive
	}
	if req.PaginationConfig != nil {
		ds.PaginationConfig = *req.PaginationConfig
	}

	if reason, ok := validateDataSourceConfig(&ds); !ok {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeInvalidConfig, reason, nil)
		return
	}

	db := database.GetDB()
	if err := db.Create(&ds).Error; err != nil {
		if isUniqueViolation(err) {
			RespondWithError(c, http.StatusConflict, models.ErrorCodeDuplicateName, "Data source with this name already exists.", gin.H{"name": ds.Name})
			return
		}
		RespondWithError(c, http.StatusInternalServerError, models.ErrorCodeInternalServerError, "Failed to create data source.", nil)
		return
	}

	RespondWithSuccess(c, http.StatusCreated, ds)
}

// validateDataSourceConfig checks the parts of a data source the binding tags
// cannot: auth credentials matching the auth type, and pagination fields
// matching the protocol.
func validateDataSourceConfig(ds *models.DataSource) (string, bool) {
	if _, err := syncengine.NewAuthBinder(ds.AuthType, ds.AuthConfig); err != nil {
		return err.Error(), false
	}
	if ds.SupportsPagination {
		if ds.PaginationType == "" {
			return "pagination_type is required when supports_pagination is true", false
		}
		if _, err := syncengine.NewStrategy(ds); err != nil {
			return err.Error(), false
		}
	}
	return "", true
}

// ListDataSources godoc
// @Summary List data sources
// @Tags datasources
// @Produce  json
// @Param   limit     query  int     false "Page size (default 10, max 100)"
// @Param   offset    query  int     false "Offset (default 0)"
// @Param   sort_by   query  string  false "Sort field (name, created_at, updated_at, last_sync_at)"
// @Param   sort_order query string  false "asc or desc"
// @Success 200 {array} models.DataSource
// @Failure 400 {object} models.APIError
// @Failure 500 {object} models.APIError
// @Router /datasources [get]
func ListDataSources(c *gin.Context) {
	limitStr := c.DefaultQuery("limit", strconv.Itoa(DefaultLimit))
	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeValidation, "Invalid limit parameter: not a number.", gin.H{"limit": limitStr})
		return
	}
	if limit <= 0 {
		limit = DefaultLimit
	} else if limit > MaxLimit {
		limit = MaxLimit
	}

	offsetStr := c.DefaultQuery("offset", "0")
	offset, err := strconv.Atoi(offsetStr)
	if err != nil {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeValidation, "Invalid offset parameter: not a number.", gin.H{"offset": offsetStr})
		return
	}
	if offset < 0 {
		offset = 0
	}

	sortBy := c.DefaultQuery("sort_by", "created_at")
	if !AllowedDataSourceSortByFields[sortBy] {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeValidation, "Invalid sort_by field for data sources.", gin.H{"field": sortBy})
		return
	}
	sortOrder := c.DefaultQuery("sort_order", "asc")
	if sortOrder != "asc" && sortOrder != "desc" {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeValidation, "Invalid sort_order: must be asc or desc.", gin.H{"sort_order": sortOrder})
		return
	}

	db := database.GetDB()
	var sources []models.DataSource
	if err := db.Order(sortBy + " " + sortOrder).Limit(limit).Offset(offset).Find(&sources).Error; err != nil {
		RespondWithError(c, http.StatusInternalServerError, models.ErrorCodeInternalServerError, "Failed to list data sources.", nil)
		return
	}
	RespondWithSuccess(c, http.StatusOK, sources)
}

// GetDataSource godoc
// @Summary Get a data source
// @Tags datasources
// @Produce  json
// @Param   id  path  string  true  "Data source ID"
// @Success 200 {object} models.DataSource
// @Failure 404 {object} models.APIError
// @Router /datasources/{id} [get]
func GetDataSource(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	db := database.GetDB()
	var ds models.DataSource
	err := db.Preload("FieldMappings").Where("id = ?", id).Take(&ds).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		RespondWithError(c, http.StatusNotFound, models.ErrorCodeDataSourceNotFound, "Data source not found.", gin.H{"id": id})
		return
	}
	if err != nil {
		RespondWithError(c, http.StatusInternalServerError, models.ErrorCodeInternalServerError, "Failed to load data source.", nil)
		return
	}
	RespondWithSuccess(c, http.StatusOK, ds)
}

// UpdateDataSource godoc
// @Summary Update a data source
// @Tags datasources
// @Accept  json
// @Produce  json
// @Param   id  path  string  true  "Data source ID"
// @Param   data_source  body  models.UpdateDataSourceRequest  true  "Fields to update"
// @Success 200 {object} models.DataSource
// @Failure 400 {object} models.APIError
// @Failure 404 {object} models.APIError
// @Failure 409 {object} models.APIError
// @Router /datasources/{id} [put]
func UpdateDataSource(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req models.UpdateDataSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeValidation, "Invalid request payload", gin.H{"reason": err.Error()})
		return
	}

	db := database.GetDB()
	var ds models.DataSource
	err := db.Where("id = ?", id).Take(&ds).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		RespondWithError(c, http.StatusNotFound, models.ErrorCodeDataSourceNotFound, "Data source not found.", gin.H{"id": id})
		return
	}
	if err != nil {
		RespondWithError(c, http.StatusInternalServerError, models.ErrorCodeInternalServerError, "Failed to load data source.", nil)
		return
	}

	if req.Name != nil {
		ds.Name = *req.Name
	}
	if req.BaseURL != nil {
		ds.BaseURL = *req.BaseURL
	}
	if req.AuthType != nil {
		ds.AuthType = *req.AuthType
	}
	if req.AuthConfig != nil {
		ds.AuthConfig = *req.AuthConfig
	}
	if req.IsActive != nil {
		ds.IsActive = *req.IsActive
	}
	if req.SyncCadence != nil {
		ds.SyncCadence = *req.SyncCadence
	}
	if req.SupportsPagination != nil {
		ds.SupportsPagination = *req.SupportsPagination
	}
	if req.PaginationType != nil {
		ds.PaginationType = *req.PaginationType
	}
	if req.DefaultPageSize != nil {
		ds.DefaultPageSize = *req.DefaultPageSize
	}
	if req.MaxPageSize != nil {
		ds.MaxPageSize = *req.MaxPageSize
	}
	if req.PaginationConfig != nil {
		ds.PaginationConfig = *req.PaginationConfig
	}

	if reason, ok := validateDataSourceConfig(&ds); !ok {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeInvalidConfig, reason, nil)
		return
	}

	if err := db.Save(&ds).Error; err != nil {
		if isUniqueViolation(err) {
			RespondWithError(c, http.StatusConflict, models.ErrorCodeDuplicateName, "Data source with this name already exists.", gin.H{"name": ds.Name})
			return
		}
		RespondWithError(c, http.StatusInternalServerError, models.ErrorCodeInternalServerError, "Failed to update data source.", nil)
		return
	}
	RespondWithSuccess(c, http.StatusOK, ds)
}

// DeleteDataSource godoc
// @Summary Delete a data source
// @Description Delete a data source and cascade its field mappings, integrated records, widgets and sync lease.
// @Tags datasources
// @Param   id  path  string  true  "Data source ID"
// @Success 204 "No Content"
// @Failure 404 {object} models.APIError
// @Router /datasources/{id} [delete]
func DeleteDataSource(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	db := database.GetDB()
	var ds models.DataSource
	err := db.Where("id = ?", id).Take(&ds).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		RespondWithError(c, http.StatusNotFound, models.ErrorCodeDataSourceNotFound, "Data source not found.", gin.H{"id": id})
		return
	}
	if err != nil {
		RespondWithError(c, http.StatusInternalServerError, models.ErrorCodeInternalServerError, "Failed to load data source.", nil)
		return
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("data_source_id = ?", id).Delete(&models.IntegratedRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("data_source_id = ?", id).Delete(&models.FieldMapping{}).Error; err != nil {
			return err
		}
		if err := tx.Where("data_source_id = ?", id).Delete(&models.Widget{}).Error; err != nil {
			return err
		}
		if err := tx.Where("data_source_id = ?", id).Delete(&models.SyncLease{}).Error; err != nil {
			return err
		}
		return tx.Delete(&ds).Error
	})
	if err != nil {
		RespondWithError(c, http.StatusInternalServerError, models.ErrorCodeInternalServerError, "Failed to delete data source.", nil)
		return
	}
	RespondWithSuccess(c, http.StatusNoContent, nil)
}

// TestConnection godoc
// @Summary Test a connection for an unsaved data source configuration
// @Tags datasources
// @Accept  json
// @Produce  json
// @Param   config  body  models.TestConnectionRequest  true  "Connection configuration to test"
// @Success 200 {object} models.ConnectionTestResult
// @Failure 400 {object} models.APIError
// @Router /datasources/test-connection [post]
func TestConnection(c *gin.Context) {
	var req models.TestConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeValidation, "Invalid request payload", gin.H{"reason": err.Error()})
		return
	}

	result := syncengine.TestConnection(c.Request.Context(), req.BaseURL, req.AuthType, req.AuthConfig, connTestTimeout)
	RespondWithSuccess(c, http.StatusOK, result)
}

// TestDataSourceConnection godoc
// @Summary Test the connection of a saved data source
// @Tags datasources
// @Produce  json
// @Param   id  path  string  true  "Data source ID"
// @Success 200 {object} models.ConnectionTestResult
// @Failure 404 {object} models.APIError
// @Router /datasources/{id}/test-connection [post]
func TestDataSourceConnection(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	db := database.GetDB()
	var ds models.DataSource
	err := db.Where("id = ?", id).Take(&ds).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		RespondWithError(c, http.StatusNotFound, models.ErrorCodeDataSourceNotFound, "Data source not found.", gin.H{"id": id})
		return
	}
	if err != nil {
		RespondWithError(c, http.StatusInternalServerError, models.ErrorCodeInternalServerError, "Failed to load data source.", nil)
		return
	}

	result := syncengine.TestConnection(c.Request.Context(), ds.BaseURL, ds.AuthType, ds.AuthConfig, connTestTimeout)
	RespondWithSuccess(c, http.StatusOK, result)
}

// parseUUIDParam parses a UUID path parameter, writing the error response
// itself when the value is malformed.
func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	raw := c.Param(name)
	id, err := uuid.Parse(raw)
	if err != nil {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeInvalidIDFormat, "Invalid UUID format.", gin.H{name: raw})
		return uuid.Nil, false
	}
	return id, true
}
