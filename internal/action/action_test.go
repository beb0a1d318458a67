package action

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Command
	}{
		{"permanent ban", "ban alice", Command{Verb: VerbBan, Author: "alice"}},
		{"leading slash", "/mute bob 10m", Command{Verb: VerbMute, Author: "bob", Duration: 10 * time.Minute}},
		{"days and reason", "ban carol 3d repeated abuse", Command{
			Verb: VerbBan, Author: "carol", Duration: 72 * time.Hour, Reason: "repeated abuse",
		}},
		{"reason only", "MUTE dave spamming chat", Command{Verb: VerbMute, Author: "dave", Reason: "spamming chat"}},
		{"unmute ignores rest", "unmute erin now", Command{Verb: VerbUnmute, Author: "erin"}},
		{"unban", "unban frank", Command{Verb: VerbUnban, Author: "frank"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCommandErrors(t *testing.T) {
	_, err := ParseCommand("kick alice")
	assert.ErrorIs(t, err, ErrNotBuiltin)

	_, err = ParseCommand("   ")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotBuiltin)

	_, err = ParseCommand("ban")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotBuiltin)

	_, err = ParseCommand("mute alice -5m")
	assert.Error(t, err)
}

func TestCommandKind(t *testing.T) {
	assert.Equal(t, KindBan, Command{Verb: VerbUnban}.Kind())
	assert.Equal(t, KindMute, Command{Verb: VerbMute}.Kind())
	assert.True(t, Command{Verb: VerbUnmute}.Lifts())
	assert.False(t, Command{Verb: VerbBan}.Lifts())
}

type fakeForwarder struct {
	sent []ForwardedCommand
	err  error
}

func (f *fakeForwarder) PublishCommand(author string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	var fc ForwardedCommand
	if err := json.Unmarshal(data, &fc); err != nil {
		return err
	}
	f.sent = append(f.sent, fc)
	return nil
}

func TestExecutorForwardsWithoutStore(t *testing.T) {
	fwd := &fakeForwarder{}
	e := NewExecutor(nil, fwd, nil)

	rep, err := e.Execute(context.Background(), "alice", []string{"kick alice", "mute alice 5m"})
	require.NoError(t, err)
	assert.Equal(t, Report{Forwarded: 2}, rep)
	require.Len(t, fwd.sent, 2)
	assert.Equal(t, "kick alice", fwd.sent[0].Command)
	assert.Equal(t, "alice", fwd.sent[1].Author)
}

func TestExecutorAttemptsEveryCommand(t *testing.T) {
	fwd := &fakeForwarder{err: errors.New("nats down")}
	e := NewExecutor(nil, fwd, nil)

	rep, err := e.Execute(context.Background(), "bob", []string{"kick bob", "ban", "warn bob"})
	require.Error(t, err)
	assert.Equal(t, 3, rep.Failed)
	assert.ErrorContains(t, err, "nats down")
	assert.ErrorContains(t, err, "missing author")
}

func TestExecutorNoForwarder(t *testing.T) {
	e := NewExecutor(nil, nil, nil)
	rep, err := e.Execute(context.Background(), "bob", []string{"kick bob"})
	assert.Error(t, err)
	assert.Equal(t, 1, rep.Failed)

	rep, err = e.Execute(context.Background(), "bob", nil)
	assert.NoError(t, err)
	assert.Equal(t, Report{}, rep)
}

// newTestStore requires a running Redis on localhost:6379.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	cleanup := func() {
		iter := client.Scan(ctx, 0, SanctionPrefix+"*:test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return NewStore(client)
}

func TestStoreApplyAndLift(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.Active(ctx, KindBan, "test_alice")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Apply(ctx, KindMute, "test_alice", 30*time.Second, "spam"))
	sn, ok, err := s.Active(ctx, KindMute, "test_alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "spam", sn.Reason)
	assert.False(t, sn.Permanent)
	assert.Greater(t, sn.Remaining, 25*time.Second)

	require.NoError(t, s.Apply(ctx, KindBan, "test_alice", 0, ""))
	sn, ok, err = s.Blocking(ctx, "test_alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, KindBan, sn.Kind)
	assert.True(t, sn.Permanent)

	lifted, err := s.Lift(ctx, KindBan, "test_alice")
	require.NoError(t, err)
	assert.True(t, lifted)
	lifted, err = s.Lift(ctx, KindBan, "test_alice")
	require.NoError(t, err)
	assert.False(t, lifted)

	sn, ok, err = s.Blocking(ctx, "test_alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, KindMute, sn.Kind)
}

func TestExecutorAppliesBuiltins(t *testing.T) {
	s := newTestStore(t)
	fwd := &fakeForwarder{}
	e := NewExecutor(s, fwd, nil)
	ctx := context.Background()

	rep, err := e.Execute(ctx, "test_bob", []string{"mute test_bob 1m", "say hi test_bob", "unmute test_bob"})
	require.NoError(t, err)
	assert.Equal(t, Report{Applied: 2, Forwarded: 1}, rep)

	_, ok, err := s.Active(ctx, KindMute, "test_bob")
	require.NoError(t, err)
	assert.False(t, ok)
}
