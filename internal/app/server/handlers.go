package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/livechess-gg/livechess/internal/domains/dtos"
	"github.com/livechess-gg/livechess/internal/domains/entities"
	"github.com/livechess-gg/livechess/internal/events"
	"github.com/livechess-gg/livechess/internal/session"
	"github.com/livechess-gg/livechess/pkg/logging"
)

type errorResponse struct {
	Type      string                `json:"type"`
	Code      string                `json:"code"`
	Error     string                `json:"error"`
	Rejection *dtos.ResumeRejection `json:"rejection,omitempty"`
}

type snapshotResponse struct {
	Type     string               `json:"type"`
	Snapshot dtos.SessionSnapshot `json:"snapshot"`
}

type eventResponse struct {
	Type  string       `json:"type"`
	Event events.Event `json:"event"`
}

type resumeAckResponse struct {
	Type string         `json:"type"`
	Ack  dtos.ResumeAck `json:"ack"`
}

// handleMessage dispatches one websocket intent. Mutation outcomes go back
// to the initiator synchronously; the opponent learns through the event
// channel or polling.
func (s *server) handleMessage(
	ctx context.Context,
	conn *wsConn,
	sessionId, playerId string,
	p payload,
) {
	var sess *entities.GameSession
	var err error

	switch p.Type {
	case "move":
		ply, plyErr := strconv.Atoi(p.Data["ply"])
		if plyErr != nil {
			conn.WriteJSON(errorResponse{
				Type:  "error",
				Code:  session.CodeStaleMove,
				Error: "missing or invalid ply",
			})
			return
		}
		sess, err = s.store.RecordMove(ctx, sessionId, playerId, p.Data["move"], ply)

	case "pause":
		reason := entities.PauseReason(p.Data["reason"])
		if reason == "" {
			reason = entities.PauseManual
		}
		sess, err = s.store.Pause(ctx, sessionId, playerId, reason)

	case "resume_request":
		ack, reqErr := s.store.RequestResume(ctx, sessionId, playerId)
		if reqErr != nil {
			s.writeError(conn, reqErr)
			return
		}
		conn.WriteJSON(resumeAckResponse{Type: "resume_ack", Ack: *ack})
		return

	case "resume_response":
		accept := p.Data["decision"] == "accept"
		sess, err = s.store.RespondResume(ctx, sessionId, playerId, accept)

	case "resign":
		sess, err = s.store.Resign(ctx, sessionId, playerId)

	case "offer_draw":
		sess, err = s.store.OfferDraw(ctx, sessionId, playerId)

	case "heartbeat":
		if err := s.store.Heartbeat(ctx, sessionId, playerId); err != nil {
			s.writeError(conn, err)
		}
		return

	default:
		logging.Info("invalid payload type", zap.String("type", p.Type))
		conn.WriteJSON(errorResponse{
			Type:  "error",
			Code:  "BAD_PAYLOAD",
			Error: "unknown payload type: " + p.Type,
		})
		return
	}

	if err != nil {
		s.writeError(conn, err)
		return
	}
	conn.WriteJSON(snapshotResponse{
		Type:     "snapshot",
		Snapshot: dtos.SessionToSnapshot(sess),
	})
}

// writeError sends a typed failure. Resume rejections additionally carry
// the pending request's holder, expiry and retry hint so the client can
// render an honest, specific message.
func (s *server) writeError(conn *wsConn, err error) {
	resp := errorResponse{
		Type:  "error",
		Code:  session.Code(err),
		Error: err.Error(),
	}
	var rejected *session.ResumeRejectedError
	if errors.As(err, &rejected) {
		resp.Rejection = &dtos.ResumeRejection{
			Accepted:     false,
			Reason:       session.CodeRequestAlreadyPending,
			RequestedBy:  rejected.RequestedBy,
			ExpiresAt:    rejected.ExpiresAt,
			RetryAfterMs: rejected.RetryAfter.Milliseconds(),
		}
	}
	conn.WriteJSON(resp)
}

func (s *server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if _, err := s.auth(r); err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	var req dtos.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	sess, err := s.store.CreateSession(r.Context(), req.WhiteId, req.BlackId,
		entities.TimeControl{
			InitialMs:   req.InitialMs,
			IncrementMs: req.IncrementMs,
		})
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(errorResponse{
			Type:  "error",
			Code:  session.Code(err),
			Error: err.Error(),
		})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(dtos.SessionToSnapshot(sess))
}

// handleSessionState is the polling fallback: the full authoritative
// snapshot, always reconstructable regardless of missed push events.
func (s *server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	playerId, err := s.auth(r)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	sessionId := r.PathValue("sessionId")
	sess, err := s.store.GetSession(r.Context(), sessionId)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if _, ok := sess.PlayerById(playerId); !ok {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(dtos.SessionToSnapshot(sess))
}
