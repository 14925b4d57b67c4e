package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amansearch/internal/query"
)

func queryFor(keys string) query.Request {
	return query.Request{Keys: &query.KeysInput{Raw: keys}}
}

func TestClient_NotRunning(t *testing.T) {
	client := NewClient(Config{SocketPath: testSocketPath(t), Timeout: 100 * time.Millisecond})

	assert.False(t, client.IsRunning())
	assert.Error(t, client.Ping(context.Background()))
	_, err := client.Status(context.Background())
	assert.Error(t, err)
}

func TestClient_ValidatesBeforeConnecting(t *testing.T) {
	client := NewClient(Config{SocketPath: testSocketPath(t), Timeout: 100 * time.Millisecond})

	_, err := client.Search(context.Background(), SearchParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid params")

	_, err = client.Autocomplete(context.Background(), AutocompleteParams{Index: "content"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid params")
}
