package models

import (
	"time"

	"github.com/google/uuid"
)

// ValidAuthTypes defines the allowed authentication types for a data source.
var ValidAuthTypes = map[string]bool{
	"none":    true,
	"basic":   true,
	"bearer":  true,
	"api_key": true,
}

// ValidPaginationTypes defines the allowed pagination protocols.
var ValidPaginationTypes = map[string]bool{
	"offset": true,
	"page":   true,
	"cursor": true,
}

// ValidFieldTypes defines the allowed target types for a field mapping.
var ValidFieldTypes = map[string]bool{
	"string":  true,
	"number":  true,
	"boolean": true,
	"date":    true,
	"json":    true,
}

// ValidSyncCadences defines the allowed sync cadences for a data source.
var ValidSyncCadences = map[string]bool{
	"manual": true,
	"hourly": true,
	"daily":  true,
	"weekly": true,
}

// ValidWidgetTypes defines the allowed dashboard widget types.
var ValidWidgetTypes = map[string]bool{
	"metric": true,
	"chart":  true,
	"table":  true,
	"list":   true,
}

// PaginationConfig holds the request parameter names and response field paths
// used by a data source's pagination protocol. All fields are optional; the
// engine falls back to conventional names (limit/offset/page/per_page/cursor).
type PaginationConfig struct {
	PageParam      string `json:"page_param,omitempty"`
	SizeParam      string `json:"size_param,omitempty"`
	OffsetParam    string `json:"offset_param,omitempty"`
	LimitParam     string `json:"limit_param,omitempty"`
	CursorParam    string `json:"cursor_param,omitempty"`
	CursorPath     string `json:"cursor_path,omitempty"`      // response path holding the next cursor
	TotalCountPath string `json:"total_count_path,omitempty"` // response path holding the total record count
	TotalPagesPath string `json:"total_pages_path,omitempty"` // response path holding the total page count
	RecordsPath    string `json:"records_path,omitempty"`     // response path holding the records array
}

// DataSource represents one registered external HTTP API.
// @Description DataSource represents one registered external HTTP API to synchronize from.
type DataSource struct {
	ID                 uuid.UUID         `json:"id" gorm:"type:uuid;primary_key"`
	Name               string            `json:"name" gorm:"type:varchar(255);not null;unique"`
	BaseURL            string            `json:"base_url" gorm:"type:text;not null"`
	AuthType           string            `json:"auth_type" gorm:"type:varchar(20);not null;default:none"`
	AuthConfig         map[string]string `json:"-" gorm:"serializer:json"` // never serialized out; write-only via requests
	IsActive           bool              `json:"is_active" gorm:"default:true"`
	LastSyncAt         *time.Time        `json:"last_sync_at,omitempty"`
	SyncCadence        string            `json:"sync_cadence" gorm:"type:varchar(20);not null;default:manual"`
	SupportsPagination bool              `json:"supports_pagination" gorm:"default:false"`
	PaginationType     string            `json:"pagination_type,omitempty" gorm:"type:varchar(20)"`
	DefaultPageSize    int               `json:"default_page_size" gorm:"default:50"`
	MaxPageSize        int               `json:"max_page_size" gorm:"default:200"`
	PaginationConfig   PaginationConfig  `json:"pagination_config" gorm:"serializer:json"`
	CreatedAt          time.Time         `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt          time.Time         `json:"updated_at" gorm:"autoUpdateTime"`

	FieldMappings []FieldMapping `json:"field_mappings,omitempty" gorm:"foreignKey:DataSourceID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

// FieldMapping represents one rule translating a raw JSON path into a typed
// target field. Target field names are unique within a data source.
type FieldMapping struct {
	ID            uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	DataSourceID  uuid.UUID `json:"data_source_id" gorm:"type:uuid;not null;uniqueIndex:idx_mapping_source_target"`
	SourcePath    string    `json:"source_path" gorm:"type:varchar(512);not null"`
	TargetField   string    `json:"target_field" gorm:"type:varchar(255);not null;uniqueIndex:idx_mapping_source_target"`
	FieldType     string    `json:"field_type" gorm:"type:varchar(20);not null"`
	Required      bool      `json:"required" gorm:"default:false"`
	DefaultValue  string    `json:"default_value,omitempty" gorm:"type:text"`
	TransformExpr string    `json:"transform_expr,omitempty" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// IntegratedRecord is one persisted (raw, mapped) pair owned by a data source.
// (DataSourceID, RecordIdentifier) is unique when the identifier is non-null;
// records without an identifier are append-only.
type IntegratedRecord struct {
	ID               uuid.UUID              `json:"id" gorm:"type:uuid;primary_key"`
	DataSourceID     uuid.UUID              `json:"data_source_id" gorm:"type:uuid;not null;index;uniqueIndex:idx_record_source_ident"`
	RecordIdentifier *string                `json:"record_identifier,omitempty" gorm:"type:varchar(512);uniqueIndex:idx_record_source_ident"`
	RawData          map[string]interface{} `json:"raw_data" gorm:"serializer:json"`
	MappedData       map[string]interface{} `json:"mapped_data" gorm:"serializer:json"`
	SyncedAt         time.Time              `json:"synced_at"`
}

// SyncLease is the per-data-source mutual exclusion record for sync runs.
// A lease is held while a run is active and expires on its own so that a
// crashed process cannot leave a source permanently locked.
type SyncLease struct {
	DataSourceID uuid.UUID `gorm:"type:uuid;primary_key"`
	Token        uuid.UUID `gorm:"type:uuid;not null"`
	ExpiresAt    time.Time `gorm:"not null"`
}

// Widget is a configuration-driven dashboard consumer of mapped records.
// Config shape depends on Type:
//
//	metric: {"value_field": "...", "label": "..."}
//	chart:  {"x_field": "...", "y_field": "..."}
//	table:  {"columns": [{"field": "...", "label": "...", "type": "..."}]}
//	list:   {"title_field": "...", "subtitle_field": "...", "badge_field": "..."}
type Widget struct {
	ID           uuid.UUID              `json:"id" gorm:"type:uuid;primary_key"`
	DataSourceID uuid.UUID              `json:"data_source_id" gorm:"type:uuid;not null;index"`
	Type         string                 `json:"type" gorm:"type:varchar(20);not null"`
	Title        string                 `json:"title" gorm:"type:varchar(255);not null"`
	Config       map[string]interface{} `json:"config" gorm:"serializer:json"`
	CreatedAt    time.Time              `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time              `json:"updated_at" gorm:"autoUpdateTime"`
}

// Terminal statuses of a sync run.
const (
	SyncStatusCompleted = "completed"
	SyncStatusPartial   = "partial" // stopped early on a cap or the run time budget
	SyncStatusFailed    = "failed"
	SyncStatusCanceled  = "canceled"
)

// SyncReport is the transient result of one sync run. It is returned to the
// caller and never persisted.
type SyncReport struct {
	DataSourceID      uuid.UUID      `json:"data_source_id"`
	Status            string         `json:"status"`
	PagesFetched      int            `json:"pages_fetched"`
	RecordsProcessed  int            `json:"records_processed"`
	RecordsUpserted   int            `json:"records_upserted"`
	RecordsWithIssues int            `json:"records_with_issues"` // stored, but with at least one required-field error
	RecordsSkipped    int            `json:"records_skipped"`
	SkipReasons       map[string]int `json:"skip_reasons,omitempty"`
	SourceTotal       *int64         `json:"source_total,omitempty"` // total reported by the source, when configured
	ElapsedMs         int64          `json:"elapsed_ms"`
	Warnings          []string       `json:"warnings,omitempty"`
	Error             string         `json:"error,omitempty"`
	StartedAt         time.Time      `json:"started_at"`
	FinishedAt        time.Time      `json:"finished_at"`
}

// ConnectionTestResult reports the outcome of a connection test against a
// data source endpoint. Unreachable hosts and non-2xx responses are reported
// here, never raised.
type ConnectionTestResult struct {
	Reachable  bool   `json:"reachable"`
	HTTPStatus int    `json:"http_status,omitempty"`
	ElapsedMs  int64  `json:"elapsed_ms"`
	SampleBody string `json:"sample_body,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CreateDataSourceRequest defines the request payload for registering a data source.
type CreateDataSourceRequest struct {
	Name               string            `json:"name" binding:"required,min=1,max=255"`
	BaseURL            string            `json:"base_url" binding:"required,url"`
	AuthType           string            `json:"auth_type" binding:"omitempty,oneof=none basic bearer api_key"`
	AuthConfig         map[string]string `json:"auth_config,omitempty"`
	IsActive           *bool             `json:"is_active,omitempty"`
	SyncCadence        string            `json:"sync_cadence" binding:"omitempty,oneof=manual hourly daily weekly"`
	SupportsPagination bool              `json:"supports_pagination"`
	PaginationType     string            `json:"pagination_type" binding:"omitempty,oneof=offset page cursor"`
	DefaultPageSize    int               `json:"default_page_size" binding:"omitempty,min=1"`
	MaxPageSize        int               `json:"max_page_size" binding:"omitempty,min=1"`
	PaginationConfig   *PaginationConfig `json:"pagination_config,omitempty"`
}

// UpdateDataSourceRequest defines the request payload for updating a data source.
// Pointer fields distinguish "not provided" from zero values.
type UpdateDataSourceRequest struct {
	Name               *string            `json:"name,omitempty" binding:"omitempty,min=1,max=255"`
	BaseURL            *string            `json:"base_url,omitempty" binding:"omitempty,url"`
	AuthType           *string            `json:"auth_type,omitempty" binding:"omitempty,oneof=none basic bearer api_key"`
	AuthConfig         *map[string]string `json:"auth_config,omitempty"`
	IsActive           *bool              `json:"is_active,omitempty"`
	SyncCadence        *string            `json:"sync_cadence,omitempty" binding:"omitempty,oneof=manual hourly daily weekly"`
	SupportsPagination *bool              `json:"supports_pagination,omitempty"`
	PaginationType     *string            `json:"pagination_type,omitempty" binding:"omitempty,oneof=offset page cursor"`
	DefaultPageSize    *int               `json:"default_page_size,omitempty" binding:"omitempty,min=1"`
	MaxPageSize        *int               `json:"max_page_size,omitempty" binding:"omitempty,min=1"`
	PaginationConfig   *PaginationConfig  `json:"pagination_config,omitempty"`
}

// CreateFieldMappingRequest defines the request payload for creating a field mapping.
type CreateFieldMappingRequest struct {
	SourcePath    string `json:"source_path" binding:"required,min=1,max=512"`
	TargetField   string `json:"target_field" binding:"required,min=1,max=255"`
	FieldType     string `json:"field_type" binding:"required,oneof=string number boolean date json"`
	Required      bool   `json:"required"`
	DefaultValue  string `json:"default_value,omitempty"`
	TransformExpr string `json:"transform_expr,omitempty"`
}

// UpdateFieldMappingRequest defines the request payload for updating a field mapping.
type UpdateFieldMappingRequest struct {
	SourcePath    *string `json:"source_path,omitempty" binding:"omitempty,min=1,max=512"`
	TargetField   *string `json:"target_field,omitempty" binding:"omitempty,min=1,max=255"`
	FieldType     *string `json:"field_type,omitempty" binding:"omitempty,oneof=string number boolean date json"`
	Required      *bool   `json:"required,omitempty"`
	DefaultValue  *string `json:"default_value,omitempty"`
	TransformExpr *string `json:"transform_expr,omitempty"`
}

// StartSyncRequest defines the optional caps for a sync run. A zero value
// means "no cap".
type StartSyncRequest struct {
	MaxPages   int `json:"max_pages" binding:"omitempty,min=1"`
	MaxRecords int `json:"max_records" binding:"omitempty,min=1"`
}

// TestConnectionRequest defines the payload for testing a connection before
// a data source is saved.
type TestConnectionRequest struct {
	BaseURL    string            `json:"base_url" binding:"required,url"`
	AuthType   string            `json:"auth_type" binding:"omitempty,oneof=none basic bearer api_key"`
	AuthConfig map[string]string `json:"auth_config,omitempty"`
}

// RecordListResponse is the paginated envelope for integrated record listings.
type RecordListResponse struct {
	Records    []IntegratedRecord `json:"records"`
	TotalCount int64              `json:"total_count"`
	Page       int                `json:"page"`
	PageSize   int                `json:"page_size"`
}

// CreateWidgetRequest defines the request payload for creating a widget.
type CreateWidgetRequest struct {
	DataSourceID string                 `json:"data_source_id" binding:"required,uuid"`
	Type         string                 `json:"type" binding:"required,oneof=metric chart table list"`
	Title        string                 `json:"title" binding:"required,min=1,max=255"`
	Config       map[string]interface{} `json:"config" binding:"required"`
}

// UpdateWidgetRequest defines the request payload for updating a widget.
type UpdateWidgetRequest struct {
	Type   *string                 `json:"type,omitempty" binding:"omitempty,oneof=metric chart table list"`
	Title  *string                 `json:"title,omitempty" binding:"omitempty,min=1,max=255"`
	Config *map[string]interface{} `json:"config,omitempty"`
}
