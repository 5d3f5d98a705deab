package syncengine

import (
	"fmt"
	"strconv"

	"integration-service/internal/models"
)

// Default request parameter names, used when the pagination config does not
// override them.
const (
	defaultLimitParam  = "limit"
	defaultOffsetParam = "offset"
	defaultPageParam   = "page"
	defaultSizeParam   = "per_page"
	defaultCursorParam = "cursor"
)

// PageMeta carries the facts about an already-fetched page that a strategy
// needs to decide on the next one. PageIndex is 0-based.
type PageMeta struct {
	PageIndex   int
	RecordCount int
	Body        interface{} // full decoded response body
}

// NextPage is a strategy's decision for the upcoming fetch. When Done is
// true, Params is empty and the run ends normally. Warning is set when the
// strategy hit an unexpected response shape (e.g. a non-string cursor) and
// chose to stop instead of failing the run.
type NextPage struct {
	Params  map[string]string
	Done    bool
	Warning string
}

// Strategy computes request parameters for successive pages. Implementations
// are stateless: everything they need is derived from the prior page's meta,
// so retrying a failed page never advances pagination.
type Strategy interface {
	// Next returns the request for the page following prior. A nil prior
	// means the first page.
	Next(prior *PageMeta) NextPage
}

// NewStrategy selects and validates the pagination strategy for a data
// source. Sources that do not support pagination get a single-fetch
// strategy regardless of their pagination fields.
func NewStrategy(ds *models.DataSource) (Strategy, error) {
	if !ds.SupportsPagination {
		return singleFetchStrategy{}, nil
	}

	pageSize := ds.DefaultPageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	// Oversized page sizes are clamped silently; the source's cap wins.
	if ds.MaxPageSize > 0 && pageSize > ds.MaxPageSize {
		pageSize = ds.MaxPageSize
	}

	cfg := ds.PaginationConfig
	switch ds.PaginationType {
	case "offset":
		return &offsetStrategy{
			limitParam:     paramName(cfg.LimitParam, defaultLimitParam),
			offsetParam:    paramName(cfg.OffsetParam, defaultOffsetParam),
			pageSize:       pageSize,
			totalCountPath: cfg.TotalCountPath,
		}, nil
	case "page":
		return &pageStrategy{
			pageParam:      paramName(cfg.PageParam, defaultPageParam),
			sizeParam:      paramName(cfg.SizeParam, defaultSizeParam),
			pageSize:       pageSize,
			totalPagesPath: cfg.TotalPagesPath,
		}, nil
	case "cursor":
		if cfg.CursorPath == "" {
			return nil, &ConfigError{Reason: "cursor pagination requires pagination_config.cursor_path"}
		}
		return &cursorStrategy{
			cursorParam: paramName(cfg.CursorParam, defaultCursorParam),
			limitParam:  paramName(cfg.LimitParam, defaultLimitParam),
			pageSize:    pageSize,
			cursorPath:  cfg.CursorPath,
		}, nil
	default:
		return nil, &ConfigError{Reason: fmt.Sprintf("unsupported pagination type %q", ds.PaginationType)}
	}
}

func paramName(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}

// singleFetchStrategy fetches the whole payload once.
type singleFetchStrategy struct{}

func (singleFetchStrategy) Next(prior *PageMeta) NextPage {
	if prior != nil {
		return NextPage{Done: true}
	}
	return NextPage{Params: map[string]string{}}
}

// offsetStrategy advances an offset by the page size each page. End of data
// is a short page, or the configured total count being reached.
type offsetStrategy struct {
	limitParam     string
	offsetParam    string
	pageSize       int
	totalCountPath string
}

func (s *offsetStrategy) Next(prior *PageMeta) NextPage {
	nextOffset := 0
	if prior != nil {
		if prior.RecordCount < s.pageSize {
			return NextPage{Done: true}
		}
		nextOffset = (prior.PageIndex + 1) * s.pageSize
		if s.totalCountPath != "" {
			if total, ok := resolveNumberPath(prior.Body, s.totalCountPath); ok && int64(nextOffset) >= total {
				return NextPage{Done: true}
			}
		}
	}
	return NextPage{Params: map[string]string{
		s.limitParam:  strconv.Itoa(s.pageSize),
		s.offsetParam: strconv.Itoa(nextOffset),
	}}
}

// pageStrategy requests 1-based page numbers. End of data is an empty or
// short page, or the configured total-pages field being reached.
type pageStrategy struct {
	pageParam      string
	sizeParam      string
	pageSize       int
	totalPagesPath string
}

func (s *pageStrategy) Next(prior *PageMeta) NextPage {
	nextPage := 1
	if prior != nil {
		if prior.RecordCount == 0 || prior.RecordCount < s.pageSize {
			return NextPage{Done: true}
		}
		nextPage = prior.PageIndex + 2 // prior.PageIndex is 0-based
		if s.totalPagesPath != "" {
			if totalPages, ok := resolveNumberPath(prior.Body, s.totalPagesPath); ok && int64(nextPage) > totalPages {
				return NextPage{Done: true}
			}
		}
	}
	return NextPage{Params: map[string]string{
		s.pageParam: strconv.Itoa(nextPage),
		s.sizeParam: strconv.Itoa(s.pageSize),
	}}
}

// cursorStrategy threads an opaque cursor from each response into the next
// request. A missing or null cursor field ends the run; a cursor of an
// unexpected type also ends the run but leaves a warning for the report.
type cursorStrategy struct {
	cursorParam string
	limitParam  string
	pageSize    int
	cursorPath  string
}

func (s *cursorStrategy) Next(prior *PageMeta) NextPage {
	params := map[string]string{
		s.limitParam: strconv.Itoa(s.pageSize),
	}
	if prior == nil {
		// First request carries no cursor.
		return NextPage{Params: params}
	}

	raw, ok := ResolvePath(prior.Body, s.cursorPath)
	if !ok || raw == nil {
		return NextPage{Done: true}
	}
	switch cursor := raw.(type) {
	case string:
		if cursor == "" {
			return NextPage{Done: true}
		}
		params[s.cursorParam] = cursor
	case float64:
		params[s.cursorParam] = strconv.FormatFloat(cursor, 'f', -1, 64)
	default:
		return NextPage{
			Done:    true,
			Warning: fmt.Sprintf("cursor field %q has unexpected type %T; stopping pagination", s.cursorPath, raw),
		}
	}
	return NextPage{Params: params}
}
