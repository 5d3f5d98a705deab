package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"integration-service/internal/database"
	"integration-service/internal/models"
	"integration-service/internal/store"
)

// ListRecords godoc
// @Summary List a data source's integrated records
// @Description Paginated listing of raw/mapped record pairs. Filters match mapped fields: filter[status]=active.
// @Tags records
// @Produce  json
// @Param   id  path  string  true  "Data source ID"
// @Param   page       query  int     false "Page (1-based, default 1)"
// @Param   page_size  query  int     false "Page size (default 25, max 200)"
// @Param   sort_by    query  string  false "synced_at or record_identifier"
// @Param   sort_order query  string  false "asc or desc"
// @Success 200 {object} models.RecordListResponse
// @Failure 400 {object} models.APIError
// @Failure 404 {object} models.APIError
// @Router /datasources/{id}/records [get]
func ListRecords(c *gin.Context) {
	sourceID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	db := database.GetDB()
	if !dataSourceExists(c, db, sourceID) {
		return
	}

	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeValidation, "Invalid page parameter.", gin.H{"page": c.Query("page")})
		return
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(store.DefaultPageSize)))
	if err != nil || pageSize < 1 {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeValidation, "Invalid page_size parameter.", gin.H{"page_size": c.Query("page_size")})
		return
	}

	sortBy := c.DefaultQuery("sort_by", "synced_at")
	if !store.AllowedSortFields[sortBy] {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeValidation, "Invalid sort_by field for records.", gin.H{"field": sortBy})
		return
	}
	sortOrder := c.DefaultQuery("sort_order", "desc")
	if sortOrder != "asc" && sortOrder != "desc" {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeValidation, "Invalid sort_order: must be asc or desc.", gin.H{"sort_order": sortOrder})
		return
	}

	records, total, err := recordStore.List(sourceID, store.ListOptions{
		Page:      page,
		PageSize:  pageSize,
		SortBy:    sortBy,
		SortOrder: sortOrder,
		Filters:   c.QueryMap("filter"),
	})
	if err != nil {
		RespondWithError(c, http.StatusInternalServerError, models.ErrorCodeInternalServerError, "Failed to list records.", nil)
		return
	}
	if pageSize > store.MaxPageSize {
		pageSize = store.MaxPageSize
	}

	RespondWithSuccess(c, http.StatusOK, models.RecordListResponse{
		Records:    records,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	})
}

// SampleRecord godoc
// @Summary Get the most recent raw record for a data source
// @Description Used by the mapping-authoring UI to show real field names. Returns 204 when the source has no records.
// @Tags records
// @Produce  json
// @Param   id  path  string  true  "Data source ID"
// @Success 200 {object} models.IntegratedRecord
// @Success 204 "No records yet"
// @Failure 404 {object} models.APIError
// @Router /datasources/{id}/records/sample [get]
func SampleRecord(c *gin.Context) {
	sourceID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	db := database.GetDB()
	if !dataSourceExists(c, db, sourceID) {
		return
	}

	record, err := recordStore.Sample(sourceID)
	if err != nil {
		RespondWithError(c, http.StatusInternalServerError, models.ErrorCodeInternalServerError, "Failed to load sample record.", nil)
		return
	}
	if record == nil {
		RespondWithSuccess(c, http.StatusNoContent, nil)
		return
	}
	RespondWithSuccess(c, http.StatusOK, record)
}

// DeleteRecord godoc
// @Summary Delete one integrated record
// @Tags records
// @Param   record_id  path  string  true  "Record ID"
// @Success 204 "No Content"
// @Failure 404 {object} models.APIError
// @Router /records/{record_id} [delete]
func DeleteRecord(c *gin.Context) {
	recordID, ok := parseUUIDParam(c, "record_id")
	if !ok {
		return
	}

	deleted, err := recordStore.DeleteByID(recordID)
	if err != nil {
		RespondWithError(c, http.StatusInternalServerError, models.ErrorCodeInternalServerError, "Failed to delete record.", nil)
		return
	}
	if !deleted {
		RespondWithError(c, http.StatusNotFound, models.ErrorCodeRecordNotFound, "Record not found.", gin.H{"id": recordID})
		return
	}
	RespondWithSuccess(c, http.StatusNoContent, nil)
}
