package models

// APIError represents a standardized error response format for the API.
// @Description APIError represents a standardized error response format, including an application-specific error code, a human-readable message, and optional details.
type APIError struct {
	Code    string      `json:"code"`              // Application-specific error code (e.g., "NOT_FOUND", "VALIDATION_ERROR")
	Message string      `json:"message"`           // Human-readable message describing the error
	Details interface{} `json:"details,omitempty"` // Optional field for additional error details (e.g., validation failures per field)
}

// Predefined application-specific error codes
const (
	// Generic Errors
	ErrorCodeInternalServerError = "INTERNAL_SERVER_ERROR"
	ErrorCodeUnknown             = "UNKNOWN_ERROR"

	// Input Validation & Data Errors
	ErrorCodeValidation      = "VALIDATION_ERROR"  // General validation failure
	ErrorCodeInvalidJSON     = "INVALID_JSON"      // Malformed JSON payload
	ErrorCodeInvalidIDFormat = "INVALID_ID_FORMAT" // e.g., UUID format error
	ErrorCodeInvalidConfig   = "INVALID_CONFIG"    // Bad auth or pagination configuration

	// Resource Specific Errors
	ErrorCodeNotFound           = "NOT_FOUND" // Generic resource not found
	ErrorCodeDataSourceNotFound = "DATA_SOURCE_NOT_FOUND"
	ErrorCodeMappingNotFound    = "MAPPING_NOT_FOUND"
	ErrorCodeRecordNotFound     = "RECORD_NOT_FOUND"
	ErrorCodeWidgetNotFound     = "WIDGET_NOT_FOUND"

	// Business Logic / State Errors
	ErrorCodeConflict             = "CONFLICT_ERROR" // e.g., unique constraint violation
	ErrorCodeDuplicateName        = "DUPLICATE_NAME"
	ErrorCodeDuplicateTargetField = "DUPLICATE_TARGET_FIELD" // target field already mapped for this data source
	ErrorCodeRunAlreadyActive     = "RUN_ALREADY_ACTIVE"     // a sync run is in flight for this data source
	ErrorCodeSyncFailed           = "SYNC_FAILED"
)
