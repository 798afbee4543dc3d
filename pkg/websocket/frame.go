package websocket

import (
	"encoding/binary"
	"encoding/json"
	"errors"
)

var ErrBadFrame = errors.New("malformed audio frame")

// Message 文本消息信封
type Message struct {
	Type  string          `json:"type"`
	Seq   int64           `json:"seq,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// EncodeAudio builds a binary audio frame: big-endian uint16 speaker id
// length, the id, then PCM.
func EncodeAudio(speakerID string, pcm []byte) ([]byte, error) {
	if speakerID == "" || len(speakerID) > 0xFFFF {
		return nil, ErrBadFrame
	}
	b := make([]byte, 2+len(speakerID)+len(pcm))
	binary.BigEndian.PutUint16(b, uint16(len(speakerID)))
	copy(b[2:], speakerID)
	copy(b[2+len(speakerID):], pcm)
	return b, nil
}

// DecodeAudio splits a binary frame. pcm aliases b.
func DecodeAudio(b []byte) (speakerID string, pcm []byte, err error) {
	if len(b) < 2 {
		return "", nil, ErrBadFrame
	}
	n := int(binary.BigEndian.Uint16(b))
	if n == 0 || len(b) < 2+n {
		return "", nil, ErrBadFrame
	}
	return string(b[2 : 2+n]), b[2+n:], nil
}
