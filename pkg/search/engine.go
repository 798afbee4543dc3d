package search

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

var ErrClosed = errors.New("search engine closed")

type Engine interface {
	Index(ctx context.Context, doc Doc) error
	IndexBatch(ctx context.Context, docs []Doc) error
	Delete(ctx context.Context, id string) error
	// DeleteByTerm removes every document whose keyword field equals value.
	DeleteByTerm(ctx context.Context, field, value string) (int, error)
	Search(ctx context.Context, req SearchRequest) (SearchResult, error)
	Count() (uint64, error)
	Close() error
}

type bleveEngine struct {
	cfg    Config
	index  bleve.Index
	mu     sync.RWMutex
	closed bool
}

// New opens the index at cfg.IndexPath, creating it with m when missing.
// An empty IndexPath builds an in-memory index. The on-disk index is
// exclusive to one process; OpenTimeout bounds the wait for its lock.
func New(cfg Config, m mapping.IndexMapping) (Engine, error) {
	be := &bleveEngine{cfg: cfg}
	if cfg.IndexPath == "" {
		idx, err := bleve.NewMemOnly(m)
		if err != nil {
			return nil, err
		}
		be.index = idx
		return be, nil
	}

	var idx bleve.Index
	open := func(context.Context) error {
		var err error
		if _, statErr := os.Stat(cfg.IndexPath); statErr == nil {
			idx, err = bleve.Open(cfg.IndexPath)
		} else if os.IsNotExist(statErr) {
			idx, err = bleve.New(cfg.IndexPath, m)
		} else {
			err = statErr
		}
		return err
	}
	if err := withDeadline(context.Background(), cfg.OpenTimeout, open); err != nil {
		return nil, fmt.Errorf("open search index %s: %w", cfg.IndexPath, err)
	}
	be.index = idx
	return be, nil
}

func (e *bleveEngine) guard() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}
	return nil
}

func withDeadline(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	c, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	ch := make(chan error, 1)
	go func() { ch <- fn(c) }()
	select {
	case <-c.Done():
		return c.Err()
	case err := <-ch:
		return err
	}
}

func fields(doc Doc) map[string]any {
	data := make(map[string]any, len(doc.Fields)+1)
	for k, v := range doc.Fields {
		data[k] = v
	}
	if doc.Type != "" {
		data[FieldType] = doc.Type
	}
	return data
}

func (e *bleveEngine) Index(ctx context.Context, doc Doc) error {
	if err := e.guard(); err != nil {
		return err
	}
	return withDeadline(ctx, e.cfg.QueryTimeout, func(ctx context.Context) error {
		return e.index.Index(doc.ID, fields(doc))
	})
}

func (e *bleveEngine) IndexBatch(ctx context.Context, docs []Doc) error {
	if err := e.guard(); err != nil {
		return err
	}
	bs := e.cfg.BatchSize
	if bs <= 0 {
		bs = 200
	}
	for i := 0; i < len(docs); i += bs {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(i+bs, len(docs))
		b := e.index.NewBatch()
		for _, d := range docs[i:end] {
			if err := b.Index(d.ID, fields(d)); err != nil {
				return err
			}
		}
		if err := e.index.Batch(b); err != nil {
			return err
		}
	}
	return nil
}

func (e *bleveEngine) Delete(ctx context.Context, id string) error {
	if err := e.guard(); err != nil {
		return err
	}
	return withDeadline(ctx, e.cfg.QueryTimeout, func(ctx context.Context) error {
		return e.index.Delete(id)
	})
}

func (e *bleveEngine) DeleteByTerm(ctx context.Context, field, value string) (int, error) {
	if err := e.guard(); err != nil {
		return 0, err
	}
	const page = 500
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		sr := bleve.NewSearchRequest(term(field, value))
		sr.Size = page
		res, err := e.index.Search(sr)
		if err != nil {
			return n, err
		}
		if len(res.Hits) == 0 {
			return n, nil
		}
		b := e.index.NewBatch()
		for _, h := range res.Hits {
			b.Delete(h.ID)
		}
		if err := e.index.Batch(b); err != nil {
			return n, err
		}
		n += len(res.Hits)
	}
}

func (e *bleveEngine) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	if err := e.guard(); err != nil {
		return SearchResult{}, err
	}

	sr := bleve.NewSearchRequest(buildQuery(req))

	// 分页
	if req.Size <= 0 {
		req.Size = 10
	}
	if req.From < 0 {
		req.From = 0
	}
	sr.Size = req.Size
	sr.From = req.From

	// 排序
	if len(req.SortBy) > 0 {
		sr.SortBy(req.SortBy)
	}
	sr.Fields = []string{"*"}

	// 高亮
	if req.Highlight {
		sr.Highlight = bleve.NewHighlightWithStyle("html")
		sr.Highlight.Fields = []string{FieldText}
	}

	// Facets
	if len(req.Facets) > 0 {
		sr.Facets = make(map[string]*bleve.FacetRequest, len(req.Facets))
		for _, f := range req.Facets {
			size := f.Size
			if size <= 0 {
				size = 10
			}
			sr.Facets[f.Name] = bleve.NewFacetRequest(f.Field, size)
		}
	}

	var res *bleve.SearchResult
	err := withDeadline(ctx, e.cfg.QueryTimeout, func(ctx context.Context) error {
		r, e2 := e.index.SearchInContext(ctx, sr)
		if e2 != nil {
			return e2
		}
		res = r
		return nil
	})
	if err != nil {
		return SearchResult{}, err
	}

	out := SearchResult{
		Total:  res.Total,
		Took:   res.Took,
		Hits:   make([]Hit, 0, len(res.Hits)),
		Facets: map[string]FacetResult{},
	}
	for _, h := range res.Hits {
		out.Hits = append(out.Hits, Hit{
			ID:        h.ID,
			Score:     h.Score,
			Fields:    h.Fields,
			Fragments: h.Fragments,
		})
	}
	for name, fr := range res.Facets {
		ft := FacetResult{Total: fr.Total}
		if fr.Terms != nil {
			for _, t := range fr.Terms.Terms() {
				ft.Terms = append(ft.Terms, FacetTerm{Term: t.Term, Count: t.Count})
			}
		}
		out.Facets[name] = ft
	}
	return out, nil
}

func (e *bleveEngine) Count() (uint64, error) {
	if err := e.guard(); err != nil {
		return 0, err
	}
	return e.index.DocCount()
}

func (e *bleveEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.index.Close()
}
