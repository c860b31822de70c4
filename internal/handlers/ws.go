// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/paddlearena/arena/internal/auth"
	"github.com/paddlearena/arena/internal/middleware"
	"github.com/paddlearena/arena/internal/models"
	"github.com/paddlearena/arena/internal/session"
)

// ClientMessage is the envelope for every message a client sends over the
// arena socket. Fields beyond Type are populated per message type.
type ClientMessage struct {
	Type string `json:"type"`

	GameID       int64  `json:"gameId,omitempty"`
	TournamentID int64  `json:"tournamentId,omitempty"`
	Direction    string `json:"direction,omitempty"`
	Difficulty   string `json:"difficulty,omitempty"`
	Alias        string `json:"alias,omitempty"`
	Ready        bool   `json:"ready,omitempty"`
	FriendID     int64  `json:"friendId,omitempty"`
}

// WSHandler upgrades the HTTP connection to the arena WebSocket. It
// authenticates the user from the auth_token cookie (or ?token= for clients
// that cannot set cookies), registers the connection with the session
// registry so the engine and orchestrator can push to it, and blocks in the
// read loop until the connection dies.
func WSHandler(logger *logrus.Logger, s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"arena"},
			OriginPatterns: []string{"*"}, // Adjust for production security.
		})
		if err != nil {
			logger.Warnf("WebSocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "Internal server error during handler exit.")

		if c.Subprotocol() != "arena" {
			logger.Warnf("Client connected with invalid subprotocol: %s", c.Subprotocol())
			c.Close(websocket.StatusCode(BadSubprotocolError), "Client must use the 'arena' subprotocol.")
			return
		}

		token := extractCookieToken(r.Header.Get("Cookie"), "auth_token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		userID, err := auth.AuthenticateJWT(token)
		if err != nil {
			logger.Warnf("WebSocket auth failed from %s: %v", r.RemoteAddr, err)
			c.Close(websocket.StatusCode(InvalidAuthTokenError), "Authentication failed.")
			return
		}
		middleware.LogWebSocketConnect(logger, r.RemoteAddr, userID)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		conn := &session.Conn{
			ID:      uuid.New(),
			UserID:  userID,
			Cancel:  cancel,
			OutChan: make(chan map[string]interface{}, 64),
		}
		s.Registry.Register(conn)
		s.Engine.HandleReconnect(userID)

		go writePump(ctx, c, conn, logger)

		readErr := readMessages(ctx, c, s, userID, logger)

		middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, userID, readErr)
		if s.Registry.Unregister(userID, conn.ID) {
			s.dropInvitesFor(userID)
		}
	}
}

// writePump drains the connection's OutChan and writes each message to the
// socket. It exits when the channel closes (the registry superseded this
// connection) or the context dies.
func writePump(ctx context.Context, c *websocket.Conn, conn *session.Conn, logger *logrus.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-conn.OutChan:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Errorf("Failed to marshal push message for user %d: %v", conn.UserID, err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.Warnf("Failed to write to user %d: %v", conn.UserID, err)
				conn.Cancel()
				return
			}
		}
	}
}

// readMessages continuously reads client messages and routes them to the
// engine, the orchestrator, or the invite flow. It returns the read error
// that ended the loop (nil for a normal closure).
func readMessages(ctx context.Context, c *websocket.Conn, s *Server, userID int64, logger *logrus.Logger) error {
	for {
		msgType, data, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return nil
			}
			if strings.Contains(err.Error(), "context canceled") {
				return nil
			}
			return err
		}
		if msgType != websocket.MessageText {
			logger.Warnf("Received non-text message type %d from user %d. Ignoring.", msgType, userID)
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warnf("Invalid JSON from user %d: %v. Data: %s", userID, err, string(data))
			s.Registry.SendError(userID, "Invalid JSON format.")
			continue
		}

		logger.Debugf("Received '%s' from user %d.", msg.Type, userID)
		routeMessage(ctx, s, userID, msg)

		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

// routeMessage dispatches a single parsed client message.
func routeMessage(ctx context.Context, s *Server, userID int64, msg ClientMessage) {
	switch msg.Type {
	case "player_move":
		s.Engine.ApplyMove(msg.GameID, userID, msg.Direction)

	case "game_ready":
		s.Engine.MarkReady(msg.GameID, userID)

	case "start_ai_game":
		difficulty := models.Difficulty(msg.Difficulty)
		if difficulty == "" {
			difficulty = models.DifficultyMedium
		}
		if _, err := s.Engine.CreateMatch(ctx, userID, models.AIUserID, models.GameKindAI, 0, difficulty); err != nil {
			s.Registry.SendError(userID, "failed to create match")
		}

	case "game_invite":
		s.HandleInvite(userID, msg.FriendID)

	case "game_invitation_accepted":
		s.HandleInviteAccepted(ctx, userID)

	case "game_invitation_rejected":
		s.HandleInviteRejected(userID)

	case "create_tournament":
		if _, err := s.Orchestrator.CreateTournament(ctx, userID, msg.Alias); err != nil {
			s.Registry.SendError(userID, "failed to create tournament")
		}

	case "join_tournament":
		s.Orchestrator.JoinTournament(ctx, msg.TournamentID, userID, msg.Alias)

	case "leave_tournament":
		s.Orchestrator.LeaveTournament(ctx, msg.TournamentID, userID)

	case "toggle_ready":
		s.Orchestrator.ToggleReady(ctx, msg.TournamentID, userID, msg.Ready)

	case "ping":
		s.Registry.SendToUser(userID, map[string]interface{}{"type": "pong"})

	default:
		s.Registry.SendError(userID, fmt.Sprintf("Unknown message type: %s", msg.Type))
	}
}
