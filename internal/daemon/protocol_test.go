package daemon

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/query"
)

func TestSearchParams_Validate(t *testing.T) {
	p := SearchParams{}
	require.Error(t, p.Validate())

	neg := -5
	p = SearchParams{Index: "content", Query: query.Request{Limit: &neg}}
	require.NoError(t, p.Validate())
	assert.Nil(t, p.Query.Limit, "negative limit falls back to the default")
}

func TestAutocompleteParams_Validate(t *testing.T) {
	p := AutocompleteParams{Index: "content"}
	require.Error(t, p.Validate())

	p.Input = "sea"
	require.NoError(t, p.Validate())
	assert.Equal(t, 10, p.Limit)
}

func TestSearchParams_JSONRoundTripKeepsRawKeys(t *testing.T) {
	data := []byte(`{"index":"content","query":{"keys":"foo bar","limit":5}}`)

	var p SearchParams
	require.NoError(t, json.Unmarshal(data, &p))

	require.NotNil(t, p.Query.Keys)
	assert.Equal(t, "foo bar", p.Query.Keys.Raw)
	require.NotNil(t, p.Query.Limit)
	assert.Equal(t, 5, *p.Query.Limit)
}

func TestRPCError_MapsCategories(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantData string
	}{
		{
			name:     "unknown index",
			err:      amanerrors.New(amanerrors.ErrCodeConfigNotFound, "no index", nil),
			wantCode: ErrCodeIndexNotFound,
			wantData: amanerrors.ErrCodeConfigNotFound,
		},
		{
			name:     "bad query",
			err:      amanerrors.New(amanerrors.ErrCodeInvalidQuery, "bad", nil),
			wantCode: ErrCodeInvalidParams,
			wantData: amanerrors.ErrCodeInvalidQuery,
		},
		{
			name:     "plain error",
			err:      errors.New("boom"),
			wantCode: ErrCodeSearchFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rpcError(tt.err, ErrCodeSearchFailed)

			assert.Equal(t, tt.wantCode, got.Code)
			assert.Equal(t, tt.wantData, got.Data)
			assert.Equal(t, tt.err.Error(), got.Message)
		})
	}
}
