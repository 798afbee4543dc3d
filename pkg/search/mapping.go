package search

import (
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

// BuildIndexMapping maps transcript and note documents. Both share the
// utterance layout: analyzed text plus keyword fields for filtering.
func BuildIndexMapping(defaultAnalyzer string) *mapping.IndexMappingImpl {
	if defaultAnalyzer == "" {
		defaultAnalyzer = standard.Name
	}
	idx := mapping.NewIndexMapping()
	idx.DefaultAnalyzer = defaultAnalyzer
	idx.TypeField = FieldType

	// 文本
	text := mapping.NewTextFieldMapping()
	text.Store = true
	text.Index = true
	text.Analyzer = defaultAnalyzer
	text.IncludeInAll = true
	text.IncludeTermVectors = true // 高亮更精准

	// 关键词
	kw := mapping.NewTextFieldMapping()
	kw.Store = true
	kw.Index = true
	kw.Analyzer = keyword.Name
	kw.IncludeInAll = false

	// 只存储
	stored := mapping.NewTextFieldMapping()
	stored.Store = true
	stored.Index = false
	stored.IncludeInAll = false

	// 时间
	dt := mapping.NewDateTimeFieldMapping()
	dt.Store = true
	dt.Index = true

	for _, typ := range []string{TypeTranscript, TypeNote} {
		doc := mapping.NewDocumentMapping()
		doc.Dynamic = false
		doc.AddFieldMappingsAt(FieldText, text)
		doc.AddFieldMappingsAt(FieldSessionID, kw)
		doc.AddFieldMappingsAt(FieldUserID, kw)
		doc.AddFieldMappingsAt(FieldSpeaker, kw)
		doc.AddFieldMappingsAt(FieldType, kw)
		doc.AddFieldMappingsAt(FieldTimestamp, dt)
		doc.AddFieldMappingsAt(FieldLocalTime, stored)
		idx.AddDocumentMapping(typ, doc)
	}

	def := mapping.NewDocumentMapping()
	def.Dynamic = false
	idx.DefaultMapping = def
	return idx
}
