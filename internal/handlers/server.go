// internal/handlers/server.go
package handlers

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/paddlearena/arena/internal/engine"
	"github.com/paddlearena/arena/internal/models"
	"github.com/paddlearena/arena/internal/session"
	"github.com/paddlearena/arena/internal/tournament"
)

// Server bundles the live collaborators every WebSocket connection routes
// into: the match engine, the tournament orchestrator, and the session
// registry. It also tracks pending 1v1 invitations, which live only as long
// as both parties stay connected.
type Server struct {
	Engine       *engine.Engine
	Orchestrator *tournament.Orchestrator
	Registry     *session.Registry

	inviteMu sync.Mutex
	// invitee -> inviter; one pending invite per invitee at a time.
	invites map[int64]int64
}

func NewServer(eng *engine.Engine, orch *tournament.Orchestrator, reg *session.Registry) *Server {
	return &Server{
		Engine:       eng,
		Orchestrator: orch,
		Registry:     reg,
		invites:      make(map[int64]int64),
	}
}

// HandleInvite records a pending invitation and notifies the target. A target
// who is offline, busy with an existing invite, or the inviter themselves
// gets the invite rejected at the door.
func (s *Server) HandleInvite(inviterID, targetID int64) {
	if targetID == inviterID {
		s.Registry.SendError(inviterID, "you cannot invite yourself")
		return
	}
	if !s.Registry.IsConnected(targetID) {
		s.Registry.SendError(inviterID, "player is not online")
		return
	}

	s.inviteMu.Lock()
	if _, busy := s.invites[targetID]; busy {
		s.inviteMu.Unlock()
		s.Registry.SendError(inviterID, "player already has a pending invitation")
		return
	}
	s.invites[targetID] = inviterID
	s.inviteMu.Unlock()

	log.Infof("user %d invited user %d to a match", inviterID, targetID)
	s.Registry.SendToUser(targetID, map[string]interface{}{
		"type":          "game_invite_received",
		"inviterUserId": inviterID,
	})
}

// HandleInviteAccepted consumes the pending invitation and starts a casual
// match between inviter and invitee. The inviter may have gone offline in the
// meantime; the invitee is told so instead of getting a dead match.
func (s *Server) HandleInviteAccepted(ctx context.Context, inviteeID int64) {
	s.inviteMu.Lock()
	inviterID, ok := s.invites[inviteeID]
	delete(s.invites, inviteeID)
	s.inviteMu.Unlock()

	if !ok {
		s.Registry.SendError(inviteeID, "no pending invitation")
		return
	}
	if !s.Registry.IsConnected(inviterID) {
		s.Registry.SendError(inviteeID, "inviter is no longer online")
		return
	}

	if _, err := s.Engine.CreateMatch(ctx, inviterID, inviteeID, models.GameKindCasual, 0, ""); err != nil {
		log.Errorf("failed to create invited match between %d and %d: %v", inviterID, inviteeID, err)
		s.Registry.SendError(inviterID, "failed to create match")
		s.Registry.SendError(inviteeID, "failed to create match")
	}
}

// HandleInviteRejected consumes the pending invitation and tells the inviter.
func (s *Server) HandleInviteRejected(inviteeID int64) {
	s.inviteMu.Lock()
	inviterID, ok := s.invites[inviteeID]
	delete(s.invites, inviteeID)
	s.inviteMu.Unlock()

	if !ok {
		return
	}
	s.Registry.SendToUser(inviterID, map[string]interface{}{
		"type":          "game_invitation_rejected",
		"inviteeUserId": inviteeID,
	})
}

// dropInvitesFor clears any pending invitation the user is party to, called
// on disconnect so stale invites cannot be accepted into a half-dead match.
func (s *Server) dropInvitesFor(userID int64) {
	s.inviteMu.Lock()
	defer s.inviteMu.Unlock()
	delete(s.invites, userID)
	for invitee, inviter := range s.invites {
		if inviter == userID {
			delete(s.invites, invitee)
		}
	}
}
