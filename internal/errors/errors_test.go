package errors

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmanError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("disk I/O error")

	// When: wrapping with AmanError
	amanErr := New(ErrCodeDatabaseWrite, "could not write item rows", originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, amanErr)
	assert.Equal(t, originalErr, errors.Unwrap(amanErr))
	assert.True(t, errors.Is(amanErr, originalErr))
}

func TestAmanError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{
			name:     "locked field",
			code:     ErrCodeFieldLocked,
			message:  "Cannot remove field with machine name 'status': it is locked.",
			expected: "[ERR_108_FIELD_LOCKED] Cannot remove field with machine name 'status': it is locked.",
		},
		{
			name:     "unknown condition field",
			code:     ErrCodeUnknownCondition,
			message:  "Unknown field in filter clause: 'foo'.",
			expected: "[ERR_404_UNKNOWN_CONDITION_FIELD] Unknown field in filter clause: 'foo'.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestAmanError_Is_MatchesByCode(t *testing.T) {
	// Given: two errors with the same code but different messages
	a := New(ErrCodeFieldReserved, "a", nil)
	b := New(ErrCodeFieldReserved, "b", nil)

	// Then: errors.Is matches on code only
	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, New(ErrCodeFieldLocked, "a", nil)))
}

func TestCategoryAndRetryable_FollowCode(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		retryable bool
	}{
		{ErrCodeUnknownProcessor, CategoryConfig, false},
		{ErrCodeDatabaseOpen, CategoryStorage, false},
		{ErrCodeNetworkTimeout, CategoryNetwork, true},
		{ErrCodeInvalidOperator, CategoryValidation, false},
		{ErrCodeBackendUnavailable, CategoryInternal, true},
		{ErrCodeNoFulltextFields, CategorySearch, false},
		{"bogus", CategoryInternal, false},
		{"ERR_9", CategoryInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.category, err.Category())
			assert.Equal(t, tt.retryable, err.Retryable())
		})
	}
}

func TestHelpers_SeeThroughWrapping(t *testing.T) {
	// Given: an AmanError wrapped by fmt.Errorf
	inner := New(ErrCodeNetworkUnavailable, "redis down", nil)
	wrapped := fmt.Errorf("cache lookup: %w", inner)

	// Then: the helpers find the coded error in the chain
	assert.True(t, IsRetryable(wrapped))
	assert.Equal(t, ErrCodeNetworkUnavailable, GetCode(wrapped))
	assert.Equal(t, CategoryNetwork, GetCategory(wrapped))
	assert.True(t, HasCode(wrapped, ErrCodeNetworkUnavailable))
}

func TestHelpers_PlainErrors(t *testing.T) {
	err := errors.New("plain")

	assert.False(t, IsRetryable(err))
	assert.False(t, IsRetryable(nil))
	assert.Empty(t, GetCode(err))
	assert.Empty(t, GetCategory(err))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
	assert.Equal(t, "[ERR_103_UNKNOWN_FIELD] field 'x' missing", Newf(ErrCodeUnknownField, "field '%s' missing", "x").Error())

	cause := errors.New("table missing")
	err := Wrap(ErrCodeSchema, cause)
	assert.Equal(t, "table missing", err.Message)
	assert.ErrorIs(t, err, cause)
}

func TestWithDetailAndSuggestion_Chain(t *testing.T) {
	err := New(ErrCodeUnknownBackend, "unknown backend", nil).
		WithDetail("backend", "solr").
		WithSuggestion("use 'search_api_db' or 'bleve'")

	assert.Equal(t, "solr", err.Details["backend"])
	assert.Equal(t, "use 'search_api_db' or 'bleve'", err.Suggestion)
}

func TestLogAttr(t *testing.T) {
	// Given: a logger writing JSON
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	// When: logging a wrapped coded error
	err := fmt.Errorf("batch: %w", New(ErrCodeDatabaseWrite, "insert failed", errors.New("disk full")).WithDetail("index", "content"))
	logger.Error("index_batch_failed", LogAttr(err))

	// Then: the error is logged as a group
	var line struct {
		Error map[string]string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, map[string]string{
		"code":    ErrCodeDatabaseWrite,
		"message": "insert failed",
		"cause":   "disk full",
		"index":   "content",
	}, line.Error)
}

func TestLogAttr_PlainError(t *testing.T) {
	assert.Equal(t, "boom", LogAttr(errors.New("boom")).Value.String())
}
