package session

import (
	"MeetingScribe/internal/models"
	"MeetingScribe/internal/timestamp"
	"time"
)

// PCM format delivered by the voice transport: 48 kHz, 16 bit, stereo.
const (
	SampleRate     = 48000
	Channels       = 2
	BitDepth       = 16
	FrameDuration  = 20 * time.Millisecond
	FrameBytes     = SampleRate / 50 * Channels * BitDepth / 8 // 3840
	MaxSilenceRun  = 1500                                      // 30 s
	bytesPerSample = BitDepth / 8
	// SampleFrameBytes is one left+right sample pair.
	SampleFrameBytes = Channels * bytesPerSample
)

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time

// Speaker identifies a participant as reported by the voice transport.
type Speaker struct {
	ID       string
	Name     string
	NickName string
	IsBot    bool
}

// DisplayName prefers the guild nickname.
func (s Speaker) DisplayName() string {
	if s.NickName != "" {
		return s.NickName
	}
	return s.Name
}

func (s Speaker) userRecord(joinOffsetMs int64) *models.User {
	u := &models.User{UserID: s.ID, UserName: s.Name, IsBot: s.IsBot, JoinOffsetMs: joinOffsetMs}
	if s.NickName != "" {
		nick := s.NickName
		u.NickName = &nick
	}
	return u
}

// Channel describes the voice channel being recorded.
type Channel struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	CategoryID   *string `json:"category_id"`
	CategoryName *string `json:"category_name"`
	GuildID      string  `json:"guild_id,omitempty"`
}

// VoiceState is a participant's voice state as seen by the transport. An
// empty ChannelID means "not connected".
type VoiceState struct {
	ChannelID          string
	ChannelName        string
	Deaf               bool
	Mute               bool
	SelfMute           bool
	SelfDeaf           bool
	SelfStream         bool
	SelfVideo          bool
	Suppress           bool
	AFK                bool
	RequestedToSpeakAt *time.Time
}

func (v VoiceState) snapshot() models.VoiceState {
	s := models.VoiceState{
		Deaf:       v.Deaf,
		Mute:       v.Mute,
		SelfMute:   v.SelfMute,
		SelfDeaf:   v.SelfDeaf,
		SelfStream: v.SelfStream,
		SelfVideo:  v.SelfVideo,
		Suppress:   v.Suppress,
		AFK:        v.AFK,
	}
	if v.ChannelID != "" {
		id, name := v.ChannelID, v.ChannelName
		s.ChannelID = &id
		s.ChannelName = &name
	}
	if v.RequestedToSpeakAt != nil {
		ts := timestamp.Format(*v.RequestedToSpeakAt)
		s.RequestedToSpeakAt = &ts
	}
	return s
}

// AudioSink is what the voice transport feeds decoded audio into.
type AudioSink interface {
	// PrefersRawAudio reports that the sink wants PCM rather than Opus.
	PrefersRawAudio() bool
	Write(sp Speaker, pcm []byte)
}

// Track states.
const (
	TrackRunning = "running"
	TrackStopped = "stopped"
	TrackErrored = "errored"
)

// Session is the handle returned by Manager.Start.
type Session struct {
	ID               string
	Dir              string
	Start            time.Time
	Title            string
	Channel          Channel
	End              *time.Time
	ParticipantCount int
}
