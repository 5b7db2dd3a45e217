package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPRequesterPostsContractCall(t *testing.T) {
	var got relayRequest
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	requester := NewHTTPRequester(server.Client(), server.URL, "secret")
	require.NoError(t, requester.RequestActivation(context.Background(), 9, "42"))

	assert.Equal(t, "activate", got.Action)
	assert.Equal(t, "42", got.TokenID)
	assert.Equal(t, 9, got.TabID)
	assert.Equal(t, "Bearer secret", auth)
}

func TestHTTPRequesterAbandonment(t *testing.T) {
	var got relayRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer server.Close()

	requester := NewHTTPRequester(server.Client(), server.URL, "")
	require.NoError(t, requester.RequestAbandonment(context.Background(), 3, "7"))
	assert.Equal(t, "abandon", got.Action)
}

func TestHTTPRequesterAgentError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	requester := NewHTTPRequester(server.Client(), server.URL, "")
	err := requester.RequestActivation(context.Background(), 1, "42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
