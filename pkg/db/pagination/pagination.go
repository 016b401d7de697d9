package pagination

import (
	"encoding/base64"
	"encoding/json"
	"math"
)

// MaxPage bounds offset pages so (Page-1)*PageSize stays far from overflow.
const MaxPage = 1 << 20

// Page is a 1-based offset page request.
type Page struct {
	Page     int `form:"page,default=1"`
	PageSize int `form:"page_size"`
}

// Normalize clamps page into [1, MaxPage] and falls back to defaultSize when
// the size is unset or out of range.
func (p Page) Normalize(defaultSize, maxSize int) Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Page > MaxPage {
		p.Page = MaxPage
	}
	if p.PageSize <= 0 || (maxSize > 0 && p.PageSize > maxSize) {
		p.PageSize = defaultSize
	}
	return p
}

// Offset saturates at math.MaxInt instead of wrapping negative.
func (p Page) Offset() int {
	if p.Page < 1 || p.PageSize <= 0 {
		return 0
	}
	if p.Page-1 > math.MaxInt/p.PageSize {
		return math.MaxInt
	}
	return (p.Page - 1) * p.PageSize
}

// PageMeta describes an offset page in responses.
type PageMeta struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasMore    bool  `json:"has_more"`
}

// NewPageMeta reports HasMore when rows remain past this page.
func NewPageMeta(p Page, count int, total int64) PageMeta {
	meta := PageMeta{
		Page:     p.Page,
		PageSize: p.PageSize,
		Total:    total,
		HasMore:  int64(p.Offset()) < total-int64(count),
	}
	if p.PageSize > 0 {
		meta.TotalPages = int((total + int64(p.PageSize) - 1) / int64(p.PageSize))
	}
	return meta
}

// Pagination is a cursor page request.
type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size,default=50"`
}

type Cursor struct {
	ID        string `json:"id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token"`
	HasMore       bool   `json:"has_more"`
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeCursor(data string) (*Cursor, error) {
	b, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, err
	}

	return &cursor, nil
}

// BuildCursorPageInfo expects data fetched with limit+1 rows.
func BuildCursorPageInfo[T any](data []*T, limit int, extractCursor func(*T) string) *PageInfo {
	if len(data) == 0 {
		return &PageInfo{HasMore: false}
	}

	if len(data) <= limit {
		return &PageInfo{HasMore: false}
	}

	return &PageInfo{
		HasMore:       true,
		NextPageToken: extractCursor(data[limit-1]),
	}
}
