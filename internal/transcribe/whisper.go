package transcribe

import (
	"MeetingScribe/pkg/errors"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// WhisperClient uploads a WAV file to a whisper-compatible HTTP server
// (whisper.cpp /inference, faster-whisper-server /v1/audio/transcriptions)
// and reads verbose JSON segments back.
type WhisperClient struct {
	url      string
	endpoint string
	client   *http.Client

	// Attempts bounds tries per file; transport errors, 429 and 5xx are
	// retried after RetryDelay, doubling each time.
	Attempts   int
	RetryDelay time.Duration
}

// NewWhisperClient targets url + endpoint; endpoint defaults to /inference.
func NewWhisperClient(url, endpoint string, timeout time.Duration) *WhisperClient {
	if endpoint == "" {
		endpoint = "/inference"
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &WhisperClient{
		url:        strings.TrimRight(url, "/"),
		endpoint:   endpoint,
		client:     newPooledHTTPClient(4, timeout),
		Attempts:   3,
		RetryDelay: 2 * time.Second,
	}
}

func newPooledHTTPClient(poolSize int, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        poolSize,
			MaxIdleConnsPerHost: poolSize,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

type whisperResponse struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
}

func (c *WhisperClient) Transcribe(ctx context.Context, req Request) ([]Segment, error) {
	attempts := max(c.Attempts, 1)
	delay := c.RetryDelay
	for attempt := 1; ; attempt++ {
		segs, err := c.transcribeOnce(ctx, req)
		if err == nil || !errors.HasCode(err, errors.CodeTransient) || attempt >= attempts || ctx.Err() != nil {
			return segs, err
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= 2
	}
}

func (c *WhisperClient) transcribeOnce(ctx context.Context, req Request) ([]Segment, error) {
	f, err := os.Open(req.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// 流式上传，避免整段音频驻留内存
	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeMultipart(mw, f, req))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+c.endpoint, pr)
	if err != nil {
		return nil, fmt.Errorf("create whisper request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, errors.WrapCode(err, errors.CodeTransient, "whisper request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("whisper status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, errors.WrapCode(err, errors.CodeTransient, "")
		}
		return nil, err
	}

	var out whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode whisper response: %w", err)
	}
	// 没有分段信息时整体作为一段
	if len(out.Segments) == 0 && strings.TrimSpace(out.Text) != "" {
		out.Segments = []Segment{{Start: 0, Text: out.Text}}
	}
	return out.Segments, nil
}

func writeMultipart(w *multipart.Writer, wav io.Reader, req Request) error {
	fields := map[string]string{
		"response_format": "verbose_json",
		"temperature":     "0",
		"model":           req.Model,
		"language":        req.Language,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := w.WriteField(k, v); err != nil {
			return err
		}
	}
	part, err := w.CreateFormFile("file", filepath.Base(req.Path))
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, wav); err != nil {
		return fmt.Errorf("write wav data: %w", err)
	}
	return w.Close()
}
