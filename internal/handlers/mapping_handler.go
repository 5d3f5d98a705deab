package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"integration-service/internal/database"
	"integration-service/internal/models"
	"integration-service/internal/syncengine"
)

// CreateFieldMapping godoc
// @Summary Create a field mapping for a data source
// @Description Create a rule translating one raw JSON path into one typed target field. Duplicate target fields are rejected.
// @Tags mappings
// @Accept  json
// @Produce  json
// @Param   id  path  string  true  "Data source ID"
// @Param   mapping  body  models.CreateFieldMappingRequest  true  "Mapping to create"
// @Success 201 {object} models.FieldMapping
// @Failure 400 {object} models.APIError
// @Failure 404 {object} models.APIError
// @Failure 409 {object} models.APIError
// @Router /datasources/{id}/mappings [post]
func CreateFieldMapping(c *gin.Context) {
	sourceID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req models.CreateFieldMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeValidation, "Invalid request payload", gin.H{"reason": err.Error()})
		return
	}

	if req.TransformExpr != "" {
		if _, err := syncengine.CompileTransform(req.TransformExpr); err != nil {
			RespondWithError(c, http.StatusBadRequest, models.ErrorCodeValidation, "Invalid transformation expression.", gin.H{"reason": err.Error()})
			return
		}
	}

	db := database.GetDB()
	if !dataSourceExists(c, db, sourceID) {
		return
	}

	mapping := models.FieldMapping{
		ID:            uuid.New(),
		DataSourceID:  sourceID,
		SourcePath:    req.SourcePath,
		TargetField:   req.TargetField,
		FieldType:     req.FieldType,
		Required:      req.Required,
		DefaultValue:  req.DefaultValue,
		TransformExpr: req.TransformExpr,
	}

	if err := db.Create(&mapping).Error; err != nil {
		if isUniqueViolation(err) {
			RespondWithError(c, http.StatusConflict, models.ErrorCodeDuplicateTargetField,
				"Target field is already mapped for this data source.", gin.H{"target_field": mapping.TargetField})
			return
		}
		RespondWithError(c, http.StatusInternalServerError, models.ErrorCodeInternalServerError, "Failed to create field mapping.", nil)
		return
	}
	RespondWithSuccess(c, http.StatusCreated, mapping)
}

// ListFieldMappings godoc
// @Summary List a data source's field mappings
// @Tags mappings
// @Produce  json
// @Param   id  path  string  true  "Data source ID"
// @Success 200 {array} models.FieldMapping
// @Failure 404 {object} models.APIError
// @Router /datasources/{id}/mappings [get]
func ListFieldMappings(c *gin.Context) {
	sourceID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	db := database.GetDB()
	if !dataSourceExists(c, db, sourceID) {
		return
	}

	var mappings []models.FieldMapping
	if err := db.Where("data_source_id = ?", sourceID).Order("created_at asc").Find(&mappings).Error; err != nil {
		RespondWithError(c, http.StatusInternalServerError, models.ErrorCodeInternalServerError, "Failed to list field mappings.", nil)
		return
	}
	RespondWithSuccess(c, http.StatusOK, mappings)
}

// UpdateFieldMapping godoc
// @Summary Update a field mapping
// @Description Changing a mapping applies prospectively: already-stored mapped records are not re-mapped.
// @Tags mappings
// @Accept  json
// @Produce  json
// @Param   mapping_id  path  string  true  "Mapping ID"
// @Param   mapping  body  models.UpdateFieldMappingRequest  true  "Fields to update"
// @Success 200 {object} models.FieldMapping
// @Failure 400 {object} models.APIError
// @Failure 404 {object} models.APIError
// @Failure 409 {object} models.APIError
// @Router /mappings/{mapping_id} [put]
func UpdateFieldMapping(c *gin.Context) {
	mappingID, ok := parseUUIDParam(c, "mapping_id")
	if !ok {
		return
	}

	var req models.UpdateFieldMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeValidation, "Invalid request payload", gin.H{"reason": err.Error()})
		return
	}

	db := database.GetDB()
	var mapping models.FieldMapping
	err := db.Where("id = ?", mappingID).Take(&mapping).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		RespondWithError(c, http.StatusNotFound, models.ErrorCodeMappingNotFound, "Field mapping not found.", gin.H{"id": mappingID})
		return
	}
	if err != nil {
		RespondWithError(c, http.StatusInternalServerError, models.ErrorCodeInternalServerError, "Failed to load field mapping.", nil)
		return
	}

	if req.SourcePath != nil {
		mapping.SourcePath = *req.SourcePath
	}
	if req.TargetField != nil {
		mapping.TargetField = *req.TargetField
	}
	if req.FieldType != nil {
		mapping.FieldType = *req.FieldType
	}
	if req.Required != nil {
		mapping.Required = *req.Required
	}
	if req.DefaultValue != nil {
		mapping.DefaultValue = *req.DefaultValue
	}
	if req.TransformExpr != nil {
		mapping.TransformExpr = *req.TransformExpr
	}

	if mapping.TransformExpr != "" {
		if _, err := syncengine.CompileTransform(mapping.TransformExpr); err != nil {
			RespondWithError(c, http.StatusBadRequest, models.ErrorCodeValidation, "Invalid transformation expression.", gin.H{"reason": err.Error()})
			return
		}
	}

	if err := db.Save(&mapping).Error; err != nil {
		if isUniqueViolation(err) {
			RespondWithError(c, http.StatusConflict, models.ErrorCodeDuplicateTargetField,
				"Target field is already mapped for this data source.", gin.H{"target_field": mapping.TargetField})
			return
		}
		RespondWithError(c, http.StatusInternalServerError, models.ErrorCodeInternalServerError, "Failed to update field mapping.", nil)
		return
	}
	RespondWithSuccess(c, http.StatusOK, mapping)
}

// DeleteFieldMapping godoc
// @Summary Delete a field mapping
// @Tags mappings
// @Param   mapping_id  path  string  true  "Mapping ID"
// @Success 204 "No Content"
// @Failure 404 {object} models.APIError
// @Router /mappings/{mapping_id} [delete]
func DeleteFieldMapping(c *gin.Context) {
	mappingID, ok := parseUUIDParam(c, "mapping_id")
	if !ok {
		return
	}

	db := database.GetDB()
	res := db.Where("id = ?", mappingID).Delete(&models.FieldMapping{})
	if res.Error != nil {
		RespondWithError(c, http.StatusInternalServerError, models.ErrorCodeInternalServerError, "Failed to delete field mapping.", nil)
		return
	}
	if res.RowsAffected == 0 {
		RespondWithError(c, http.StatusNotFound, models.ErrorCodeMappingNotFound, "Field mapping not found.", gin.H{"id": mappingID})
		return
	}
	RespondWithSuccess(c, http.StatusNoContent, nil)
}

// dataSourceExists verifies the data source and writes the 404 itself when
// it is missing.
func dataSourceExists(c *gin.Context, db *gorm.DB, sourceID uuid.UUID) bool {
	var count int64
	if err := db.Model(&models.DataSource{}).Where("id = ?", sourceID).Count(&count).Error; err != nil {
		RespondWithError(c, http.StatusInternalServerError, models.ErrorCodeInternalServerError, "Failed to check data source.", nil)
		return false
	}
	if count == 0 {
		RespondWithError(c, http.StatusNotFound, models.ErrorCodeDataSourceNotFound, "Data source not found.", gin.H{"id": sourceID})
		return false
	}
	return true
}
