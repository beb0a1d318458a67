package messaging

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient connects to the NATS server in NATS_URL (default
// localhost:4222) and skips the test when none is reachable.
func newTestClient(t *testing.T) *NATSClient {
	t.Helper()
	conf := DefaultNATSConfig()
	if url := os.Getenv("NATS_URL"); url != "" {
		conf.URL = url
	}
	conf.Name = "chatfilter-test"
	conf.MaxReconnects = 0
	c, err := NewNATSClient(conf)
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestPublishRejectsUnsafeAuthor(t *testing.T) {
	// No connection is needed: the author is checked before publishing.
	c := &NATSClient{}
	for _, author := range []string{"", "a.b", "a*", ">", "victim 30d"} {
		assert.Error(t, c.PublishModerationResult(author, nil), "author %q", author)
		assert.Error(t, c.PublishCommand(author, nil), "author %q", author)
	}
}

func TestAdminRequestReply(t *testing.T) {
	c := newTestClient(t)

	require.NoError(t, c.ServeAdmin(func(data []byte) []byte {
		return append([]byte("echo:"), data...)
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.AdminRequest(ctx, []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, "echo:ping", string(resp))
}

func TestModerationResultDelivery(t *testing.T) {
	c := newTestClient(t)

	got := make(chan []byte, 1)
	require.NoError(t, c.SubscribeModerationResult("test_alice", func(data []byte) {
		got <- data
	}))
	require.NoError(t, c.PublishModerationResult("test_alice", []byte(`{"blocked":true}`)))

	select {
	case data := <-got:
		assert.JSONEq(t, `{"blocked":true}`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("result not delivered")
	}
}

func TestUnsubscribeUnknownSubject(t *testing.T) {
	c := newTestClient(t)
	assert.Error(t, c.Unsubscribe("moderation.nothing"))
}

func TestModerationCheckDelivery(t *testing.T) {
	c := newTestClient(t)

	got := make(chan []byte, 1)
	require.NoError(t, c.SubscribeModerationCheck(func(data []byte) {
		select {
		case got <- data:
		default:
		}
	}))
	require.NoError(t, c.PublishModerationRequest([]byte(`{"author":"test_bob","text":"hi"}`)))

	select {
	case data := <-got:
		assert.JSONEq(t, `{"author":"test_bob","text":"hi"}`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("check request not delivered")
	}
}
