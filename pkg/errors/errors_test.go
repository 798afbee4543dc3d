package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapKeepsCode(t *testing.T) {
	base := WrapCode(io.ErrUnexpectedEOF, CodeTransient, "write event")
	wrapped := Wrap(base, "event log")

	assert.Equal(t, CodeTransient, GetCode(wrapped))
	assert.True(t, IsRetryable(wrapped))
	assert.True(t, Is(wrapped, io.ErrUnexpectedEOF))
	assert.Equal(t, io.ErrUnexpectedEOF, Cause(wrapped))
	assert.Equal(t, "event log: write event: unexpected EOF", wrapped.Error())
}

func TestCodeThroughStdWrap(t *testing.T) {
	err := fmt.Errorf("outer: %w", WithCode(CodeSessionFatal, "mkdir failed"))
	assert.True(t, HasCode(err, CodeSessionFatal))
	assert.False(t, IsRetryable(err))
	assert.Equal(t, "session_fatal", CodeName(GetCode(err)))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(stderrors.New("disk busy")))
	assert.False(t, IsRetryable(WithCode(CodeTrackFatal, "sink closed")))
}

func TestWithContextDoesNotMutate(t *testing.T) {
	e := WithCode(CodeMissingDependency, "metadata missing")
	e2 := e.WithContext("session", "s1")

	assert.Empty(t, e.Context)
	assert.Len(t, e2.Context, 1)
	assert.Equal(t, "metadata missing session=s1", e2.Error())
	assert.Equal(t, "unknown", CodeName(42))
}

func TestSentinelSurvivesWithContext(t *testing.T) {
	sentinel := WithCode(CodeInvalidState, "not recording")
	err := sentinel.WithContext("key", "guild-a")
	assert.True(t, Is(err, sentinel))
	assert.True(t, Is(Wrap(err, "stop"), sentinel))
	assert.False(t, Is(WithCode(CodeInvalidState, "other"), sentinel))
}
