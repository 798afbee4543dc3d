package handlers

import (
	"MeetingScribe/internal/session"
	"MeetingScribe/pkg/metrics"
	"MeetingScribe/pkg/websocket"
	"context"
	"encoding/json"
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Ingest upgrades to a websocket that carries a guild's live audio and
// events. Binary frames are audio (see websocket.EncodeAudio); text frames
// are speaker, voice_state and note messages.
func (h *Handlers) Ingest(c *gin.Context) {
	guild := c.Param("guild")
	mgr, ok := h.opts.Registry.Get(guild)
	if !ok {
		h.respondError(c, session.ErrNotRecording)
		return
	}
	conn, err := websocket.Upgrade(c.Writer, c.Request, h.opts.WebSocket, h.log)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.String("guild", guild), zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	stop := context.AfterFunc(h.base, cancel)
	defer stop()

	in := &ingest{mgr: mgr, speakers: make(map[string]session.Speaker), metrics: h.opts.Metrics}
	h.log.Info("ingest connected", zap.String("guild", guild), zap.String("conn", conn.ID))
	if err := conn.Serve(ctx, in); err != nil {
		h.log.Warn("ingest ended with error", zap.String("guild", guild), zap.Error(err))
	}
	h.log.Info("ingest disconnected", zap.String("guild", guild), zap.String("conn", conn.ID), zap.Int64("frames", in.frames))
}

// ingest is used by a single reader goroutine.
type ingest struct {
	mgr      *session.Manager
	speakers map[string]session.Speaker
	metrics  *metrics.Metrics
	frames   int64
}

func (in *ingest) OnBinary(data []byte) error {
	id, pcm, err := websocket.DecodeAudio(data)
	if err != nil {
		return err
	}
	if in.mgr.State() != session.StateActive {
		return session.ErrSessionStopped
	}
	sp, ok := in.speakers[id]
	if !ok {
		sp = session.Speaker{ID: id, Name: id}
	}
	in.mgr.Sink().Write(sp, pcm)
	in.frames++
	in.metrics.RecordIngestFrame()
	return nil
}

func (in *ingest) OnText(msg websocket.Message) (*websocket.Message, error) {
	ack := &websocket.Message{Type: websocket.MessageTypeAck}
	switch msg.Type {
	case websocket.MessageTypeSpeaker:
		var sp speakerJSON
		if err := json.Unmarshal(msg.Data, &sp); err != nil || sp.ID == "" {
			return nil, fmt.Errorf("invalid speaker")
		}
		in.speakers[sp.ID] = sp.speaker()
		return ack, nil
	case websocket.MessageTypeVoiceState:
		var req voiceStateRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil || req.Speaker.ID == "" {
			return nil, fmt.Errorf("invalid voice_state")
		}
		return ack, in.mgr.LogEvent(in.speaker(req.Speaker), req.Before.state(), req.After.state())
	case websocket.MessageTypeNote:
		var req noteRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil || req.Speaker.ID == "" {
			return nil, fmt.Errorf("invalid note")
		}
		return ack, in.mgr.LogNote(in.speaker(req.Speaker), req.Text)
	}
	return nil, fmt.Errorf("unknown message type %q", msg.Type)
}

// speaker prefers what the client declared with a speaker message.
func (in *ingest) speaker(s speakerJSON) session.Speaker {
	if known, ok := in.speakers[s.ID]; ok && s.Name == "" {
		return known
	}
	sp := s.speaker()
	in.speakers[sp.ID] = sp
	return sp
}
