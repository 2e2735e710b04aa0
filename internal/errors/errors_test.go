package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TS01: Error wrapping preserves original error
func TestPipelineError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("connection reset")

	// When: wrapping with PipelineError
	pipeErr := New(ErrCodeFetchFailed, "efetch batch 3 failed", originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, pipeErr)
	assert.Equal(t, originalErr, errors.Unwrap(pipeErr))
	assert.True(t, errors.Is(pipeErr, originalErr))
}

func TestPipelineError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		pmid     string
		expected string
	}{
		{
			name:     "fetch error",
			code:     ErrCodeSearchFailed,
			message:  "esearch returned 500",
			expected: "[ERR_101_SEARCH_FAILED] esearch returned 500",
		},
		{
			name:     "parse error with pmid",
			code:     ErrCodeParseFailed,
			message:  "missing article title",
			pmid:     "38012345",
			expected: "[ERR_201_PARSE_FAILED] pmid=38012345: missing article title",
		},
		{
			name:     "store error",
			code:     ErrCodeStoreFailed,
			message:  "upsert rejected",
			expected: "[ERR_501_STORE_FAILED] upsert rejected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			if tt.pmid != "" {
				err = err.WithPMID(tt.pmid)
			}
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestPipelineError_Is_MatchesByCode(t *testing.T) {
	// Given: two errors with same code
	err1 := New(ErrCodeParseFailed, "article A malformed", nil)
	err2 := New(ErrCodeParseFailed, "article B malformed", nil)

	// Then: they match by code
	assert.True(t, errors.Is(err1, err2))
}

func TestPipelineError_Is_DoesNotMatchDifferentCodes(t *testing.T) {
	// Given: two errors with different codes
	err1 := New(ErrCodeParseFailed, "malformed", nil)
	err2 := New(ErrCodeEmbedFailed, "batch failed", nil)

	// Then: they do not match
	assert.False(t, errors.Is(err1, err2))
}

func TestPipelineError_StageDerivedFromCode(t *testing.T) {
	tests := []struct {
		code  string
		stage Stage
	}{
		{ErrCodeSearchFailed, StageFetch},
		{ErrCodeNetwork, StageFetch},
		{ErrCodeParseFailed, StageParse},
		{ErrCodeChunkFailed, StageChunk},
		{ErrCodeRateLimited, StageEmbed},
		{ErrCodeStoreTimeout, StageStore},
		{ErrCodeConfigInvalid, StagePipeline},
		{ErrCodeCheckpointFailed, StagePipeline},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.stage, err.Stage)
			assert.Equal(t, tt.stage, GetStage(err))
		})
	}
}

func TestPipelineError_TimestampSet(t *testing.T) {
	err := New(ErrCodeEmbedFailed, "batch dropped", nil)
	assert.False(t, err.Timestamp.IsZero())
}

func TestIsRetryable_ByCode(t *testing.T) {
	tests := []struct {
		code      string
		retryable bool
	}{
		{ErrCodeNetwork, true},
		{ErrCodeRateLimited, true},
		{ErrCodeStoreTimeout, true},
		{ErrCodeStoreEdge, true},
		{ErrCodeSearchFailed, false},
		{ErrCodeParseFailed, false},
		{ErrCodeStoreFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(New(tt.code, "msg", nil)))
		})
	}
}

func TestIsRetryable_PlainErrorIsNot(t *testing.T) {
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestWrap_UsesErrorMessage(t *testing.T) {
	inner := errors.New("dial tcp: connection refused")
	wrapped := Wrap(ErrCodeNetwork, inner)

	require.NotNil(t, wrapped)
	assert.Equal(t, "dial tcp: connection refused", wrapped.Message)
	assert.True(t, wrapped.Retryable)
	assert.Equal(t, inner, errors.Unwrap(wrapped))
}

func TestStageConstructors(t *testing.T) {
	assert.Equal(t, StageFetch, FetchError("f", nil).Stage)
	assert.Equal(t, StageParse, ParseError("p", nil).Stage)
	assert.Equal(t, StageChunk, ChunkError("c", nil).Stage)
	assert.Equal(t, StageEmbed, EmbedError("e", nil).Stage)
	assert.Equal(t, StageStore, StoreError("s", nil).Stage)
	assert.Equal(t, StagePipeline, ConfigError("cf", nil).Stage)
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeEmbedFailed, GetCode(EmbedError("x", nil)))
	assert.Equal(t, "", GetCode(errors.New("plain")))
}

func TestFormatForCLI_PipelineError(t *testing.T) {
	err := ParseError("unclosed element", nil).WithPMID("12345678")
	out := FormatForCLI(err)

	assert.Contains(t, out, "Error: unclosed element")
	assert.Contains(t, out, "PMID:  12345678")
	assert.Contains(t, out, "Stage: parse")
	assert.Contains(t, out, "Code:  ERR_201_PARSE_FAILED")
}

func TestFormatForCLI_PlainError(t *testing.T) {
	out := FormatForCLI(errors.New("boom"))
	assert.Equal(t, "Error: boom\n", out)
}
