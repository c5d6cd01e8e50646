package auth

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type form struct {
	Name string `json:"name"`
}

func TestGate_ReplaysPendingExactlyOnce(t *testing.T) {
	g := NewGate()
	var calls int
	var seen form
	var seenToken string
	g.Register("submit", func(_ context.Context, token string, payload json.RawMessage) (any, error) {
		calls++
		seenToken = token
		require.NoError(t, json.Unmarshal(payload, &seen))
		return "ok", nil
	})

	require.NoError(t, g.Hold("submit", form{Name: "Sita"}))
	assert.False(t, g.Authenticated())

	res, ran, err := g.Authenticate(context.Background(), " tok ")
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, "ok", res)
	assert.Equal(t, "Sita", seen.Name)
	assert.Equal(t, "tok", seenToken)

	_, ran, err = g.Authenticate(context.Background(), "tok2")
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "tok2", g.Token())
}

func TestGate_FailedReplayIsNotRetried(t *testing.T) {
	g := NewGate()
	calls := 0
	g.Register("submit", func(context.Context, string, json.RawMessage) (any, error) {
		calls++
		return nil, errors.New("backend down")
	})
	require.NoError(t, g.Hold("submit", form{}))

	_, ran, err := g.Authenticate(context.Background(), "tok")
	assert.True(t, ran)
	assert.Error(t, err)

	_, ran, _ = g.Authenticate(context.Background(), "tok")
	assert.False(t, ran)
	assert.Equal(t, 1, calls)
}

func TestGate_NewerHoldReplacesOlder(t *testing.T) {
	g := NewGate()
	var got form
	g.Register("submit", func(_ context.Context, _ string, payload json.RawMessage) (any, error) {
		return nil, json.Unmarshal(payload, &got)
	})
	require.NoError(t, g.Hold("submit", form{Name: "first"}))
	require.NoError(t, g.Hold("submit", form{Name: "second"}))

	_, _, err := g.Authenticate(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "second", got.Name)
}

func TestGate_UnknownAction(t *testing.T) {
	g := NewGate()
	require.NoError(t, g.Hold("mystery", form{}))
	_, _, err := g.Authenticate(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestGate_EmptyTokenRejected(t *testing.T) {
	g := NewGate()
	_, _, err := g.Authenticate(context.Background(), "  ")
	assert.Error(t, err)
	assert.False(t, g.Authenticated())
}

func TestGate_StateRoundTripKeepsPending(t *testing.T) {
	g := NewGate()
	require.NoError(t, g.Hold("submit", form{Name: "Ram"}))

	restored := NewGate()
	restored.Restore(g.State())
	p, ok := restored.PendingAction()
	require.True(t, ok)
	assert.Equal(t, "submit", p.Action)
	assert.JSONEq(t, `{"name":"Ram"}`, string(p.Payload))
}

func TestGate_LogoutClears(t *testing.T) {
	g := NewGate()
	_, _, err := g.Authenticate(context.Background(), "tok")
	require.NoError(t, err)
	require.NoError(t, g.Hold("submit", form{}))
	g.Logout()

	assert.False(t, g.Authenticated())
	_, ok := g.PendingAction()
	assert.False(t, ok)
}
