package iothub_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benmeehan/iothub-agent/internal/hubtest"
	"github.com/benmeehan/iothub-agent/pkg/iothub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rawTestKey = []byte("0123456789abcdef0123456789abcdef")

func newHubClient(t *testing.T) (*hubtest.Hub, *iothub.Client) {
	t.Helper()
	hub := hubtest.New("myhub", "dev1", rawTestKey)
	t.Cleanup(hub.Close)

	client := iothub.NewClient("myhub", "dev1", testKey, iothub.WithEndpoint(hub.URL()))
	_, err := client.CreateToken(10 * time.Minute)
	require.NoError(t, err)
	return hub, client
}

func TestNewClient_DerivedURLs(t *testing.T) {
	client := iothub.NewClient("myhub", "dev1", testKey)

	assert.Equal(t, "https://myhub.azure-devices.net/devices/dev1/messages/", client.BaseURL())
	assert.Equal(t, "myhub.azure-devices.net/devices/dev1", client.Resource())
	assert.Nil(t, client.Token())
}

func TestClient_RequestShapes(t *testing.T) {
	type seen struct {
		method, path, rawQuery, auth, contentType string
	}
	requests := make(chan seen, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests <- seen{r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("Authorization"), r.Header.Get("Content-Type")}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := iothub.NewClient("myhub", "dev1", testKey,
		iothub.WithEndpoint(server.URL),
		iothub.WithAPIVersion(iothub.PreviewAPIVersion))
	token, err := client.CreateToken(time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name string
		call func() (int, error)
		want seen
	}{
		{
			name: "send",
			call: func() (int, error) { return client.Send([]byte(`{"t":1}`)) },
			want: seen{http.MethodPost, "/devices/dev1/messages/events", "api-version=2015-08-15-preview", token.String(), "application/json"},
		},
		{
			name: "complete",
			call: func() (int, error) { return client.CompleteMessage("lock-1") },
			want: seen{http.MethodDelete, "/devices/dev1/messages/devicebound/lock-1", "api-version=2015-08-15-preview", token.String(), ""},
		},
		{
			name: "reject",
			call: func() (int, error) { return client.RejectMessage("lock-1") },
			want: seen{http.MethodDelete, "/devices/dev1/messages/devicebound/lock-1", "reject&api-version=2015-08-15-preview", token.String(), ""},
		},
		{
			name: "abandon",
			call: func() (int, error) { return client.AbandonMessage("lock-1") },
			want: seen{http.MethodPost, "/devices/dev1/messages/devicebound/lock-1/abandon", "api-version=2015-08-15-preview", token.String(), ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := tt.call()
			require.NoError(t, err)
			assert.Equal(t, http.StatusNoContent, code)
			assert.Equal(t, tt.want, <-requests)
		})
	}
}

func TestClient_Send(t *testing.T) {
	hub, client := newHubClient(t)

	code, err := client.Send([]byte(`{"temperature":21.5}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, code)
	require.Len(t, hub.Events(), 1)
	assert.Equal(t, `{"temperature":21.5}`, string(hub.Events()[0]))
}

func TestClient_SendReturnsServiceStatus(t *testing.T) {
	hub, client := newHubClient(t)
	hub.SetSendStatus(http.StatusBadRequest)

	code, err := client.Send([]byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestClient_UnauthorizedIsStatusNotError(t *testing.T) {
	hub := hubtest.New("myhub", "dev1", rawTestKey)
	defer hub.Close()

	t.Run("no token", func(t *testing.T) {
		client := iothub.NewClient("myhub", "dev1", testKey, iothub.WithEndpoint(hub.URL()))
		code, err := client.Send([]byte(`{}`))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, code)
	})

	t.Run("wrong key", func(t *testing.T) {
		client := iothub.NewClient("myhub", "dev1", "c2VjcmV0", iothub.WithEndpoint(hub.URL()))
		_, err := client.CreateToken(time.Minute)
		require.NoError(t, err)

		code, err := client.Send([]byte(`{}`))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, code)
	})

	t.Run("expired", func(t *testing.T) {
		client := iothub.NewClient("myhub", "dev1", testKey, iothub.WithEndpoint(hub.URL()))
		token, err := client.CreateToken(time.Minute)
		require.NoError(t, err)

		hub.SetClock(func() time.Time { return token.ExpiresAt() })
		defer hub.SetClock(time.Now)

		msg, err := client.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, msg.StatusCode)
		assert.Empty(t, msg.ETag)

		hub.SetClock(func() time.Time { return token.ExpiresAt().Add(-time.Second) })
		code, err := client.Send([]byte(`{}`))
		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, code)
	})

	// only the send made inside the validity window got through
	assert.Len(t, hub.Events(), 1)
}

func TestClient_ReadMessageEmptyQueue(t *testing.T) {
	_, client := newHubClient(t)

	msg, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, msg.StatusCode)
	assert.Equal(t, "", msg.ETag)
	assert.Equal(t, "", msg.Body)
	assert.True(t, msg.Empty())
}

func TestClient_ReadThenComplete(t *testing.T) {
	hub, client := newHubClient(t)
	id := hub.Enqueue(`{"cmd":"reboot"}`)

	msg, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, msg.StatusCode)
	assert.NotEmpty(t, msg.ETag)
	assert.NotContains(t, msg.ETag, `"`)
	assert.Equal(t, `{"cmd":"reboot"}`, msg.Body)
	assert.Equal(t, id, msg.Headers.Get("iothub-messageid"))
	assert.Equal(t, 0, hub.Pending())
	assert.Equal(t, 1, hub.Locked())

	code, err := client.CompleteMessage(msg.ETag)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, code)
	assert.Equal(t, 0, hub.Locked())
	assert.Equal(t, []string{id}, hub.Completed())

	next, err := client.ReadMessage()
	require.NoError(t, err)
	assert.True(t, next.Empty())
}

func TestClient_ReadThenReject(t *testing.T) {
	hub, client := newHubClient(t)
	id := hub.Enqueue("bad payload")

	msg, err := client.ReadMessage()
	require.NoError(t, err)

	code, err := client.RejectMessage(msg.ETag)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, code)
	assert.Equal(t, []string{id}, hub.Rejected())
	assert.Empty(t, hub.Completed())
	assert.Equal(t, 0, hub.Pending())
}

func TestClient_ReadThenAbandonRedelivers(t *testing.T) {
	hub, client := newHubClient(t)
	id := hub.Enqueue("retry me")

	first, err := client.ReadMessage()
	require.NoError(t, err)

	code, err := client.AbandonMessage(first.ETag)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, code)
	assert.Equal(t, 1, hub.Pending())
	assert.Equal(t, 0, hub.Locked())

	second, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "retry me", second.Body)
	assert.Equal(t, id, second.Headers.Get("iothub-messageid"))
	assert.Equal(t, "2", second.Headers.Get("iothub-deliverycount"))
	assert.NotEqual(t, first.ETag, second.ETag)
}

func TestClient_SettleUnknownLock(t *testing.T) {
	_, client := newHubClient(t)

	code, err := client.CompleteMessage("no-such-lock")
	require.NoError(t, err)
	assert.Equal(t, http.StatusPreconditionFailed, code)
}

func TestClient_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := server.URL
	server.Close()

	client := iothub.NewClient("myhub", "dev1", testKey, iothub.WithEndpoint(endpoint))

	_, err := client.Send([]byte(`{}`))
	var netErr *iothub.NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, http.MethodPost, netErr.Op)

	msg, err := client.ReadMessage()
	assert.Nil(t, msg)
	assert.True(t, errors.As(err, &netErr))

	_, err = client.AbandonMessage("lock")
	assert.True(t, errors.As(err, &netErr))
}

func TestClient_ReadMessageBodyError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.Header().Set("ETag", `"lock"`)
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "short")
	}))
	defer server.Close()

	client := iothub.NewClient("myhub", "dev1", testKey, iothub.WithEndpoint(server.URL))

	_, err := client.ReadMessage()
	var netErr *iothub.NetworkError
	assert.True(t, errors.As(err, &netErr))
}
