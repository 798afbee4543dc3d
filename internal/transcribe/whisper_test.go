package transcribe

import (
	"MeetingScribe/internal/session"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestWAV(t *testing.T, frames int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users", "1.wav")
	sink, err := session.OpenWAV(path)
	require.NoError(t, err)
	require.NoError(t, sink.WriteSilence(frames))
	require.NoError(t, sink.Close())
	return path
}

func TestWhisperClient(t *testing.T) {
	path := writeTestWAV(t, 50)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/inference", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<24))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))
		assert.Equal(t, "small", r.FormValue("model"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "1.wav", hdr.Filename)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "RIFF", string(data[:4]))

		json.NewEncoder(w).Encode(map[string]any{
			"text":     "hello there",
			"segments": []map[string]any{{"start": 0.2, "end": 0.9, "text": "hello there"}},
		})
	}))
	defer srv.Close()

	c := NewWhisperClient(srv.URL+"/", "", time.Second)
	segs, err := c.Transcribe(context.Background(), Request{Path: path, Model: "small"})
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.InDelta(t, 0.2, segs[0].Start, 1e-9)
	assert.Equal(t, "hello there", segs[0].Text)
}

func TestWhisperClientTextOnlyAndErrors(t *testing.T) {
	path := writeTestWAV(t, 10)
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			http.Error(w, "model not loaded", status)
			return
		}
		w.Write([]byte(`{"text": "whole file"}`))
	}))
	defer srv.Close()

	c := NewWhisperClient(srv.URL, "/v1/audio/transcriptions", time.Second)
	c.RetryDelay = time.Millisecond
	segs, err := c.Transcribe(context.Background(), Request{Path: path})
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, "whole file", segs[0].Text)

	status = http.StatusServiceUnavailable
	_, err = c.Transcribe(context.Background(), Request{Path: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestWhisperClientRetriesServerErrors(t *testing.T) {
	path := writeTestWAV(t, 50)
	st, err := os.Stat(path)
	require.NoError(t, err)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, _, err := r.FormFile("file")
		if assert.NoError(t, err) {
			data, _ := io.ReadAll(f)
			assert.Equal(t, st.Size(), int64(len(data)), "whole file is uploaded on every attempt")
			f.Close()
		}
		if calls.Add(1) == 1 {
			http.Error(w, "warming up", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"text": "second time lucky"}`))
	}))
	defer srv.Close()

	c := NewWhisperClient(srv.URL, "", time.Second)
	c.RetryDelay = time.Millisecond
	segs, err := c.Transcribe(context.Background(), Request{Path: path})
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, "second time lucky", segs[0].Text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestWhisperClientDoesNotRetryClientErrors(t *testing.T) {
	path := writeTestWAV(t, 10)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad model", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewWhisperClient(srv.URL, "", time.Second)
	c.RetryDelay = time.Millisecond
	_, err := c.Transcribe(context.Background(), Request{Path: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad model")
	assert.Equal(t, int32(1), calls.Load())
}

func TestProbeWAV(t *testing.T) {
	d, err := ProbeWAV(writeTestWAV(t, 50))
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	_, err = ProbeWAV(filepath.Join(t.TempDir(), "missing.wav"))
	assert.Error(t, err)
}
