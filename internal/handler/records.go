package handlers

import (
	"MeetingScribe/internal/session"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type speakerJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Nick string `json:"nick"`
	Bot  bool   `json:"bot"`
}

func (s speakerJSON) speaker() session.Speaker {
	name := s.Name
	if name == "" {
		name = s.ID
	}
	return session.Speaker{ID: s.ID, Name: name, NickName: s.Nick, IsBot: s.Bot}
}

type voiceStateJSON struct {
	ChannelID          string     `json:"channel_id"`
	ChannelName        string     `json:"channel_name"`
	Deaf               bool       `json:"deaf"`
	Mute               bool       `json:"mute"`
	SelfMute           bool       `json:"self_mute"`
	SelfDeaf           bool       `json:"self_deaf"`
	SelfStream         bool       `json:"self_stream"`
	SelfVideo          bool       `json:"self_video"`
	Suppress           bool       `json:"suppress"`
	AFK                bool       `json:"afk"`
	RequestedToSpeakAt *time.Time `json:"requested_to_speak_at"`
}

func (v voiceStateJSON) state() session.VoiceState {
	return session.VoiceState{
		ChannelID:          v.ChannelID,
		ChannelName:        v.ChannelName,
		Deaf:               v.Deaf,
		Mute:               v.Mute,
		SelfMute:           v.SelfMute,
		SelfDeaf:           v.SelfDeaf,
		SelfStream:         v.SelfStream,
		SelfVideo:          v.SelfVideo,
		Suppress:           v.Suppress,
		AFK:                v.AFK,
		RequestedToSpeakAt: v.RequestedToSpeakAt,
	}
}

type noteRequest struct {
	Speaker speakerJSON `json:"speaker"`
	Text    string      `json:"text"`
}

type voiceStateRequest struct {
	Speaker speakerJSON    `json:"speaker"`
	Before  voiceStateJSON `json:"before"`
	After   voiceStateJSON `json:"after"`
}

// PostNote 记录文字笔记
func (h *Handlers) PostNote(c *gin.Context) {
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Speaker.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "speaker.id and text are required"})
		return
	}
	mgr, ok := h.opts.Registry.Get(c.Param("guild"))
	if !ok {
		h.respondError(c, session.ErrNotRecording)
		return
	}
	if err := mgr.LogNote(req.Speaker.speaker(), req.Text); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// PostVoiceState 记录语音状态变化
func (h *Handlers) PostVoiceState(c *gin.Context) {
	var req voiceStateRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Speaker.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "speaker.id is required"})
		return
	}
	mgr, ok := h.opts.Registry.Get(c.Param("guild"))
	if !ok {
		h.respondError(c, session.ErrNotRecording)
		return
	}
	if err := mgr.LogEvent(req.Speaker.speaker(), req.Before.state(), req.After.state()); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}
