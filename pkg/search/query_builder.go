package search

import (
	"sort"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	q "github.com/blevesearch/bleve/v2/search/query"
)

func buildQuery(req SearchRequest) q.Query {
	var must []q.Query

	if kw := strings.TrimSpace(req.Keyword); kw != "" {
		mq := bleve.NewMatchQuery(kw)
		mq.SetField(FieldText)
		mq.SetOperator(q.MatchQueryOperatorAnd)
		must = append(must, mq)
	}
	if ph := strings.TrimSpace(req.Phrase); ph != "" {
		pq := bleve.NewMatchPhraseQuery(ph)
		pq.SetField(FieldText)
		must = append(must, pq)
	}

	// Term 等值过滤；字段顺序固定，便于测试和日志
	fields := make([]string, 0, len(req.MustTerms))
	for f := range req.MustTerms {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		vs := req.MustTerms[f]
		switch {
		case len(vs) == 1:
			must = append(must, term(f, vs[0]))
		case len(vs) > 1:
			qs := make([]q.Query, 0, len(vs))
			for _, v := range vs {
				qs = append(qs, term(f, v))
			}
			must = append(must, bleve.NewDisjunctionQuery(qs...))
		}
	}

	for _, r := range req.TimeRanges {
		var start, end time.Time
		if r.From != nil {
			start = *r.From
		}
		if r.To != nil {
			end = *r.To
		}
		inclusive := true
		drq := bleve.NewDateRangeInclusiveQuery(start, end, &inclusive, &inclusive)
		drq.SetField(r.Field)
		must = append(must, drq)
	}

	if len(must) == 0 {
		return bleve.NewMatchAllQuery()
	}
	return bleve.NewConjunctionQuery(must...)
}

func term(field, value string) q.Query {
	tq := bleve.NewTermQuery(value)
	tq.SetField(field)
	return tq
}
