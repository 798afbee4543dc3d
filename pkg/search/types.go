package search

import "time"

type Config struct {
	// IndexPath of the on-disk index; empty keeps the index in memory.
	IndexPath       string
	DefaultAnalyzer string
	OpenTimeout     time.Duration
	QueryTimeout    time.Duration
	BatchSize       int
}

// Document types.
const (
	TypeTranscript = "transcript"
	TypeNote       = "note"
)

// Indexed fields.
const (
	FieldType      = "type"
	FieldSessionID = "session_id"
	FieldUserID    = "user_id"
	FieldSpeaker   = "speaker"
	FieldText      = "text"
	FieldTimestamp = "timestamp"
	// FieldLocalTime keeps the timestamp as written, with its original
	// offset; stored only.
	FieldLocalTime = "local_time"
)

type Doc struct {
	ID     string
	Type   string
	Fields map[string]any
}

// -------- 过滤器 --------
type TimeRangeFilter struct {
	Field string
	From  *time.Time
	To    *time.Time
}

// Facet 聚合
type FacetRequest struct {
	Name  string // 返回名
	Field string // 字段
	Size  int    // Top N
}

type SearchRequest struct {
	// 关键字，全部词命中
	Keyword string
	// 短语
	Phrase string

	// 结构化 Term
	MustTerms map[string][]string

	TimeRanges []TimeRangeFilter

	Facets []FacetRequest

	// 排序与分页
	SortBy []string
	From   int
	Size   int

	Highlight bool
}

type Hit struct {
	ID        string
	Score     float64
	Fields    map[string]any
	Fragments map[string][]string
}

type FacetTerm struct {
	Term  string
	Count int
}

type FacetResult struct {
	Total int
	Terms []FacetTerm
}

type SearchResult struct {
	Total  uint64
	Took   time.Duration
	Hits   []Hit
	Facets map[string]FacetResult
}
