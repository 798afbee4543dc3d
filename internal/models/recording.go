package models

import "time"

// Table names match the session store layout read by downstream tools.
const (
	TableEvents      = "events"
	TableNotes       = "notes"
	TableUsers       = "users"
	TableTranscripts = "transcripts"
	TableSessions    = "sessions"
)

// VoiceState is one side of a voice-state transition.
type VoiceState struct {
	ChannelID          *string `gorm:"size:64"`
	ChannelName        *string `gorm:"size:256"`
	Deaf               bool
	Mute               bool
	SelfMute           bool
	SelfDeaf           bool
	SelfStream         bool
	SelfVideo          bool
	Suppress           bool
	AFK                bool
	RequestedToSpeakAt *string `gorm:"size:40"` // ISO-8601
}

// Event 语音状态变化
type Event struct {
	ID        uint       `gorm:"primaryKey;autoIncrement"`
	Timestamp string     `gorm:"size:40;not null;index:idx_timestamp_events"`
	OffsetMs  int64      `gorm:"not null"`
	UserID    string     `gorm:"size:64;not null"`
	UserName  string     `gorm:"size:256"`
	Before    VoiceState `gorm:"embedded;embeddedPrefix:before_"`
	After     VoiceState `gorm:"embedded;embeddedPrefix:after_"`
}

func (Event) TableName() string { return TableEvents }

// Note 会议文字笔记
type Note struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Timestamp string `gorm:"size:40;not null;index:idx_timestamp_notes"`
	OffsetMs  int64  `gorm:"not null"`
	UserID    string `gorm:"size:64;not null"`
	UserName  string `gorm:"size:256"`
	Content   string `gorm:"type:text;not null"`
}

func (Note) TableName() string { return TableNotes }

// User is a participant seen in the session. JoinOffsetMs is the
// authoritative alignment offset of users/<UserID>.wav.
type User struct {
	UserID       string  `gorm:"primaryKey;size:64"`
	UserName     string  `gorm:"size:256;not null"`
	NickName     *string `gorm:"size:256"`
	IsBot        bool    `gorm:"not null"`
	JoinOffsetMs int64   `gorm:"not null"`
}

func (User) TableName() string { return TableUsers }

// Transcript is one reconstructed utterance.
type Transcript struct {
	ID           uint    `gorm:"primaryKey;autoIncrement"`
	Timestamp    string  `gorm:"size:40;not null;index:idx_timestamp_transcripts"`
	UserID       string  `gorm:"size:64;not null"`
	UserName     string  `gorm:"size:256"`
	Text         string  `gorm:"type:text;not null"`
	SegmentStart float64 // seconds from the start of the speaker's track
	SegmentEnd   float64
}

func (Transcript) TableName() string { return TableTranscripts }

// Session catalog status values.
const (
	SessionActive      = "active"
	SessionComplete    = "complete"
	SessionIncomplete  = "incomplete"
	SessionTranscribed = "transcribed"
	SessionFailed      = "failed"
)

// SessionRecord 会话索引, kept in the cross-session catalog database.
type SessionRecord struct {
	ID               string     `gorm:"primaryKey;size:64" json:"id"`
	Dir              string     `gorm:"size:1024" json:"dir"`
	Title            string     `gorm:"size:256" json:"title,omitempty"`
	ChannelID        string     `gorm:"size:64" json:"channel_id,omitempty"`
	ChannelName      string     `gorm:"size:256" json:"channel_name,omitempty"`
	StartedAt        time.Time  `gorm:"index" json:"started_at"`
	EndedAt          *time.Time `json:"ended_at"`
	ParticipantCount int        `json:"participant_count"`
	Status           string     `gorm:"size:32;index" json:"status"`
	TranscribedAt    *time.Time `json:"transcribed_at,omitempty"`
	LastError        string     `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt        time.Time  `json:"-"`
	UpdatedAt        time.Time  `json:"-"`
}

func (SessionRecord) TableName() string { return TableSessions }
