package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"integration-service/internal/models"
	"integration-service/internal/syncengine"
)

// StartSync godoc
// @Summary Start a sync run for a data source
// @Description Run the sync orchestrator across the data source's pages. Optional caps limit the run to a number of pages or records. Only one run per data source may be active; a second request is rejected, not queued. The report is returned even when the run fails partway.
// @Tags sync
// @Accept  json
// @Produce  json
// @Param   id  path  string  true  "Data source ID"
// @Param   opts  body  models.StartSyncRequest  false  "Optional page/record caps"
// @Success 200 {object} models.SyncReport
// @Failure 400 {object} models.APIError
// @Failure 404 {object} models.APIError
// @Failure 409 {object} models.APIError "A run is already active for this data source"
// @Router /datasources/{id}/sync [post]
func StartSync(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req models.StartSyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondWithError(c, http.StatusBadRequest, models.ErrorCodeValidation, "Invalid request payload", gin.H{"reason": err.Error()})
			return
		}
	}

	report, err := orchestrator.StartSync(c.Request.Context(), id, req)
	if err != nil {
		switch {
		case errors.Is(err, syncengine.ErrRunActive):
			RespondWithError(c, http.StatusConflict, models.ErrorCodeRunAlreadyActive,
				"A sync run is already active for this data source. Retry later.", gin.H{"id": id})
		case errors.Is(err, gorm.ErrRecordNotFound):
			RespondWithError(c, http.StatusNotFound, models.ErrorCodeDataSourceNotFound, "Data source not found.", gin.H{"id": id})
		default:
			var cfgErr *syncengine.ConfigError
			if errors.As(err, &cfgErr) {
				RespondWithError(c, http.StatusBadRequest, models.ErrorCodeInvalidConfig, cfgErr.Error(), nil)
				return
			}
			RespondWithError(c, http.StatusInternalServerError, models.ErrorCodeInternalServerError, "Failed to start sync run.", nil)
		}
		return
	}

	RespondWithSuccess(c, http.StatusOK, report)
}
