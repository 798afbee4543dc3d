package store

import (
	"MeetingScribe/internal/models"
	"MeetingScribe/internal/timestamp"
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
)

// Timeline entry kinds.
const (
	KindEvent      = "event"
	KindNote       = "note"
	KindTranscript = "transcript"
)

// Voice-state transitions recognised in the timeline.
const (
	ActionJoined     = "joined"
	ActionLeft       = "left"
	ActionMuted      = "muted"
	ActionUnmuted    = "unmuted"
	ActionDeafened   = "deafened"
	ActionUndeafened = "undeafened"
)

// Entry is one line of the merged session timeline.
type Entry struct {
	Timestamp string
	Kind      string
	UserID    string
	UserName  string
	Text      string // action for events, content for notes and transcripts
}

// Clock returns the HH:MM:SS part of the entry timestamp.
func (e Entry) Clock() string {
	t, err := timestamp.Parse(e.Timestamp)
	if err != nil {
		return e.Timestamp
	}
	return t.Format("15:04:05")
}

func (e Entry) String() string {
	if e.Kind == KindEvent {
		return fmt.Sprintf("%s %s %s", e.Clock(), e.UserName, e.Text)
	}
	return fmt.Sprintf("%s %s: %s", e.Clock(), e.UserName, e.Text)
}

// Classify names the transition of ev. Channel changes win over mute
// changes, which win over deafen changes. Returns "" for transitions with
// no timeline meaning (e.g. streaming toggles).
func Classify(ev models.Event) string {
	b, a := ev.Before, ev.After
	switch {
	case b.ChannelID == nil && a.ChannelID != nil:
		return ActionJoined
	case b.ChannelID != nil && a.ChannelID == nil:
		return ActionLeft
	case !b.SelfMute && a.SelfMute:
		return ActionMuted
	case b.SelfMute && !a.SelfMute:
		return ActionUnmuted
	case !b.SelfDeaf && a.SelfDeaf:
		return ActionDeafened
	case b.SelfDeaf && !a.SelfDeaf:
		return ActionUndeafened
	}
	return ""
}

// Timeline is the merged, timestamp-ordered view of a session.
type Timeline struct {
	Participants []models.User
	Events       []Entry
	Notes        []Entry
	Transcript   []Entry
}

// All returns every entry merged in timestamp order. Ties keep the order
// events, notes, transcript.
func (tl *Timeline) All() []Entry {
	all := make([]Entry, 0, len(tl.Events)+len(tl.Notes)+len(tl.Transcript))
	all = append(all, tl.Events...)
	all = append(all, tl.Notes...)
	all = append(all, tl.Transcript...)
	sort.SliceStable(all, func(i, j int) bool {
		return instant(all[i].Timestamp) < instant(all[j].Timestamp)
	})
	return all
}

// BuildTimeline reads the whole session store into a Timeline.
func (s *Store) BuildTimeline(ctx context.Context) (*Timeline, error) {
	users, err := s.Users(ctx)
	if err != nil {
		return nil, err
	}
	events, err := s.Events(ctx)
	if err != nil {
		return nil, err
	}
	notes, err := s.Notes(ctx)
	if err != nil {
		return nil, err
	}
	transcripts, err := s.Transcripts(ctx)
	if err != nil {
		return nil, err
	}

	tl := &Timeline{Participants: users}
	for _, ev := range events {
		action := Classify(ev)
		if action == "" {
			continue
		}
		tl.Events = append(tl.Events, Entry{Timestamp: ev.Timestamp, Kind: KindEvent, UserID: ev.UserID, UserName: ev.UserName, Text: action})
	}
	for _, n := range notes {
		tl.Notes = append(tl.Notes, Entry{Timestamp: n.Timestamp, Kind: KindNote, UserID: n.UserID, UserName: n.UserName, Text: n.Content})
	}
	for _, tr := range transcripts {
		tl.Transcript = append(tl.Transcript, Entry{Timestamp: tr.Timestamp, Kind: KindTranscript, UserID: tr.UserID, UserName: tr.UserName, Text: tr.Text})
	}
	byInstant(tl.Events)
	byInstant(tl.Notes)
	byInstant(tl.Transcript)
	return tl, nil
}

// Render writes the sectioned plain-text form consumed by the summarizer.
func (tl *Timeline) Render(w io.Writer, date string) error {
	var b strings.Builder
	b.WriteString("[MEETING METADATA]\n")
	if date != "" {
		fmt.Fprintf(&b, "Date: %s\n", date)
	}
	b.WriteString("\n[PARTICIPANTS]\n")
	for _, u := range tl.Participants {
		if u.IsBot {
			continue
		}
		b.WriteString(u.UserName)
		b.WriteByte('\n')
	}
	section := func(title string, entries []Entry) {
		fmt.Fprintf(&b, "\n[%s]\n", title)
		for _, e := range entries {
			b.WriteString(e.String())
			b.WriteByte('\n')
		}
	}
	section("EVENT LOG", tl.Events)
	section("CHAT NOTES", tl.Notes)
	section("TRANSCRIPT", tl.Transcript)
	_, err := io.WriteString(w, b.String())
	return err
}

func byInstant(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return instant(entries[i].Timestamp) < instant(entries[j].Timestamp)
	})
}

// instant orders timestamps by absolute time; unparsable ones sort first.
func instant(ts string) int64 {
	t, err := timestamp.Parse(ts)
	if err != nil {
		return math.MinInt64
	}
	return t.UnixMilli()
}
