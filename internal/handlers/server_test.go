// internal/handlers/server_test.go
package handlers

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paddlearena/arena/internal/engine"
	"github.com/paddlearena/arena/internal/models"
	"github.com/paddlearena/arena/internal/session"
)

// stubStore satisfies engine.MatchStore with sequential ids and no storage.
type stubStore struct {
	nextID int64
}

func (s *stubStore) InsertMatch(ctx context.Context, p1, p2 int64, kind models.GameKind, tournamentMatchID int64, difficulty models.Difficulty) (int64, error) {
	s.nextID++
	return s.nextID, nil
}

func (s *stubStore) UpdateMatchResult(ctx context.Context, id, winnerID int64, score1, score2 int) error {
	return nil
}

func (s *stubStore) GetMatchMeta(ctx context.Context, id int64) (models.MatchMeta, error) {
	return models.MatchMeta{}, nil
}

func newTestServer() (*Server, *session.Registry) {
	registry := session.NewRegistry()
	eng := engine.NewEngine(&stubStore{}, registry)
	return NewServer(eng, nil, registry), registry
}

func connect(reg *session.Registry, userID int64) *session.Conn {
	c := &session.Conn{
		ID:      uuid.New(),
		UserID:  userID,
		Cancel:  func() {},
		OutChan: make(chan map[string]interface{}, 16),
	}
	reg.Register(c)
	return c
}

func drain(c *session.Conn) []map[string]interface{} {
	var out []map[string]interface{}
	for {
		select {
		case msg := <-c.OutChan:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func typesOf(msgs []map[string]interface{}) []string {
	var out []string
	for _, m := range msgs {
		if t, ok := m["type"].(string); ok {
			out = append(out, t)
		}
	}
	return out
}

func TestInviteDeliveredToTarget(t *testing.T) {
	s, reg := newTestServer()
	connect(reg, 1)
	c2 := connect(reg, 2)

	s.HandleInvite(1, 2)

	msgs := drain(c2)
	require.Len(t, msgs, 1)
	assert.Equal(t, "game_invite_received", msgs[0]["type"])
	assert.Equal(t, int64(1), msgs[0]["inviterUserId"])
}

func TestInviteRejectedWhenTargetOffline(t *testing.T) {
	s, reg := newTestServer()
	c1 := connect(reg, 1)

	s.HandleInvite(1, 2)

	msgs := drain(c1)
	require.Len(t, msgs, 1)
	assert.Equal(t, "error", msgs[0]["type"])
}

func TestInviteSelfRejected(t *testing.T) {
	s, reg := newTestServer()
	c1 := connect(reg, 1)

	s.HandleInvite(1, 1)

	msgs := drain(c1)
	require.Len(t, msgs, 1)
	assert.Equal(t, "error", msgs[0]["type"])
}

func TestAcceptCreatesCasualMatch(t *testing.T) {
	s, reg := newTestServer()
	c1 := connect(reg, 1)
	c2 := connect(reg, 2)

	s.HandleInvite(1, 2)
	drain(c2)

	s.HandleInviteAccepted(context.Background(), 2)

	assert.Equal(t, 1, s.Engine.LiveCount())
	assert.Contains(t, typesOf(drain(c1)), "game_created")
	assert.Contains(t, typesOf(drain(c2)), "game_created")

	// The invitation is consumed: accepting again fails.
	s.HandleInviteAccepted(context.Background(), 2)
	msgs := drain(c2)
	require.Len(t, msgs, 1)
	assert.Equal(t, "error", msgs[0]["type"])
	assert.Equal(t, 1, s.Engine.LiveCount())
}

func TestRejectNotifiesInviter(t *testing.T) {
	s, reg := newTestServer()
	c1 := connect(reg, 1)
	c2 := connect(reg, 2)

	s.HandleInvite(1, 2)
	drain(c1)
	drain(c2)

	s.HandleInviteRejected(2)

	msgs := drain(c1)
	require.Len(t, msgs, 1)
	assert.Equal(t, "game_invitation_rejected", msgs[0]["type"])
	assert.Equal(t, int64(2), msgs[0]["inviteeUserId"])

	// Rejecting with nothing pending is a quiet no-op.
	s.HandleInviteRejected(2)
	assert.Empty(t, drain(c1))
}

func TestSecondInviteToBusyTargetRejected(t *testing.T) {
	s, reg := newTestServer()
	connect(reg, 1)
	c2 := connect(reg, 2)
	c3 := connect(reg, 3)

	s.HandleInvite(1, 2)
	drain(c2)

	s.HandleInvite(3, 2)

	msgs := drain(c3)
	require.Len(t, msgs, 1)
	assert.Equal(t, "error", msgs[0]["type"])
}

func TestDisconnectDropsPendingInvites(t *testing.T) {
	s, reg := newTestServer()
	connect(reg, 1)
	c2 := connect(reg, 2)

	s.HandleInvite(1, 2)
	drain(c2)

	// The inviter goes away; the invite must die with them.
	s.dropInvitesFor(1)

	s.HandleInviteAccepted(context.Background(), 2)
	msgs := drain(c2)
	require.Len(t, msgs, 1)
	assert.Equal(t, "error", msgs[0]["type"])
	assert.Zero(t, s.Engine.LiveCount())
}
