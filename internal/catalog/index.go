package catalog

import (
	"MeetingScribe/internal/session"
	"MeetingScribe/internal/store"
	"MeetingScribe/internal/timestamp"
	"MeetingScribe/pkg/search"
	"context"
	"fmt"
	"strings"
	"time"
)

// IndexSession replaces the search documents of the session in dir with
// its current notes and transcripts. It returns the number indexed.
func IndexSession(ctx context.Context, eng search.Engine, dir string) (int, error) {
	md, err := session.ReadMetadata(session.MetadataPath(dir))
	if err != nil {
		return 0, err
	}
	st, err := store.OpenDir(dir, nil)
	if err != nil {
		return 0, err
	}
	defer st.Close()

	notes, err := st.Notes(ctx)
	if err != nil {
		return 0, err
	}
	transcripts, err := st.Transcripts(ctx)
	if err != nil {
		return 0, err
	}

	id := md.SessionID
	docs := make([]search.Doc, 0, len(notes)+len(transcripts))
	for _, n := range notes {
		docs = append(docs, utteranceDoc(id, search.TypeNote, n.ID, n.UserID, n.UserName, n.Content, n.Timestamp))
	}
	for _, t := range transcripts {
		docs = append(docs, utteranceDoc(id, search.TypeTranscript, t.ID, t.UserID, t.UserName, t.Text, t.Timestamp))
	}

	if _, err := eng.DeleteByTerm(ctx, search.FieldSessionID, id); err != nil {
		return 0, err
	}
	if err := eng.IndexBatch(ctx, docs); err != nil {
		return 0, err
	}
	return len(docs), nil
}

func utteranceDoc(sessionID, typ string, rowID uint, userID, speaker, text, ts string) search.Doc {
	fields := map[string]any{
		search.FieldSessionID: sessionID,
		search.FieldUserID:    userID,
		search.FieldSpeaker:   speaker,
		search.FieldText:      text,
		search.FieldLocalTime: ts,
	}
	if t, err := timestamp.Parse(ts); err == nil {
		fields[search.FieldTimestamp] = t
	}
	return search.Doc{ID: fmt.Sprintf("%s/%s/%d", sessionID, typ, rowID), Type: typ, Fields: fields}
}

// SearchQuery filters utterances across sessions. Zero fields are ignored.
type SearchQuery struct {
	Text      string     `form:"q" json:"q"`
	Phrase    string     `form:"phrase" json:"phrase,omitempty"`
	SessionID string     `form:"session" json:"session,omitempty"`
	Speaker   string     `form:"speaker" json:"speaker,omitempty"`
	Kind      string     `form:"kind" json:"kind,omitempty"` // transcript|note
	From      *time.Time `form:"-" json:"from,omitempty"`
	To        *time.Time `form:"-" json:"to,omitempty"`
	Limit     int        `form:"limit" json:"limit,omitempty"`
	Offset    int        `form:"offset" json:"offset,omitempty"`
	// Chronological orders hits by time instead of relevance.
	Chronological bool `form:"chronological" json:"chronological,omitempty"`
}

// Utterance is one search hit.
type Utterance struct {
	SessionID string   `json:"session_id"`
	Kind      string   `json:"kind"`
	UserID    string   `json:"user_id"`
	Speaker   string   `json:"speaker"`
	Text      string   `json:"text"`
	Timestamp string   `json:"timestamp"`
	Score     float64  `json:"score"`
	Fragments []string `json:"fragments,omitempty"`
}

type SearchResult struct {
	Total uint64      `json:"total"`
	Hits  []Utterance `json:"hits"`
}

// Search runs q against eng.
func Search(ctx context.Context, eng search.Engine, q SearchQuery) (*SearchResult, error) {
	req := search.SearchRequest{
		Keyword:   q.Text,
		Phrase:    q.Phrase,
		MustTerms: map[string][]string{},
		From:      q.Offset,
		Size:      q.Limit,
		Highlight: q.Text != "" || q.Phrase != "",
	}
	if req.Size <= 0 || req.Size > 200 {
		req.Size = 20
	}
	if q.SessionID != "" {
		req.MustTerms[search.FieldSessionID] = []string{q.SessionID}
	}
	if q.Speaker != "" {
		req.MustTerms[search.FieldSpeaker] = []string{q.Speaker}
	}
	if q.Kind != "" {
		req.MustTerms[search.FieldType] = []string{strings.ToLower(q.Kind)}
	}
	if q.From != nil || q.To != nil {
		req.TimeRanges = []search.TimeRangeFilter{{Field: search.FieldTimestamp, From: q.From, To: q.To}}
	}
	if q.Chronological {
		req.SortBy = []string{search.FieldTimestamp, "_id"}
	}

	res, err := eng.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	out := &SearchResult{Total: res.Total, Hits: make([]Utterance, 0, len(res.Hits))}
	for _, h := range res.Hits {
		out.Hits = append(out.Hits, Utterance{
			SessionID: str(h.Fields[search.FieldSessionID]),
			Kind:      str(h.Fields[search.FieldType]),
			UserID:    str(h.Fields[search.FieldUserID]),
			Speaker:   str(h.Fields[search.FieldSpeaker]),
			Text:      str(h.Fields[search.FieldText]),
			Timestamp: str(h.Fields[search.FieldLocalTime]),
			Score:     h.Score,
			Fragments: h.Fragments[search.FieldText],
		})
	}
	return out, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
