package service

import (
	"context"
	"log/slog"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/tripsync/internal/auth"
	"github.com/mmynk/tripsync/internal/rpc"
	"github.com/mmynk/tripsync/internal/session"
)

// SessionService hands out anonymous participant identities.
type SessionService struct {
	jwtManager *auth.JWTManager
}

// NewSessionService creates a new SessionService.
func NewSessionService(jwtManager *auth.JWTManager) *SessionService {
	return &SessionService{jwtManager: jwtManager}
}

// IssueToken mints a participant identity, or renews the caller's if the
// request carries a valid token.
func (s *SessionService) IssueToken(ctx context.Context, req *connect.Request[rpc.IssueTokenRequest]) (*connect.Response[rpc.IssueTokenResponse], error) {
	participantID := ""
	if bearer, ok := strings.CutPrefix(req.Header().Get("Authorization"), "Bearer "); ok {
		if claims, err := s.jwtManager.Validate(bearer); err == nil {
			participantID = claims.ParticipantID
		}
	}
	renewed := participantID != ""
	if !renewed {
		participantID = session.NewParticipantID()
	}

	token, err := s.jwtManager.Generate(participantID)
	if err != nil {
		slog.Error("Failed to generate token", "participant_id", participantID, "error", err)
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	slog.Info("Token issued", "participant_id", participantID, "renewed", renewed)
	return connect.NewResponse(&rpc.IssueTokenResponse{Token: token, ParticipantID: participantID}), nil
}
