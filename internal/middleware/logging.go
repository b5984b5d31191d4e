package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"connectrpc.com/connect"

	"github.com/mmynk/tripsync/internal/metrics"
)

type loggingInterceptor struct{}

// LoggingInterceptor returns a Connect interceptor that logs every handled RPC
// and stream. It logs the procedure name, participant ID, duration, and any
// error codes/messages.
func LoggingInterceptor() connect.Interceptor {
	return loggingInterceptor{}
}

func (loggingInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if req.Spec().IsClient {
			return next(ctx, req)
		}
		start := time.Now()
		resp, err := next(ctx, req)
		logRPC(ctx, "RPC", req.Spec().Procedure, start, err)
		return resp, err
	}
}

func (loggingInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (loggingInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		start := time.Now()
		slog.Info("Stream opened", "procedure", conn.Spec().Procedure, "participant_id", GetParticipantID(ctx))
		err := next(ctx, conn)
		logRPC(ctx, "Stream", conn.Spec().Procedure, start, err)
		return err
	}
}

func logRPC(ctx context.Context, kind, procedure string, start time.Time, err error) {
	participantID := GetParticipantID(ctx) // empty if unauthenticated
	duration := time.Since(start).Milliseconds()

	if err == nil {
		metrics.RPCs.WithLabelValues(procedure, "ok").Inc()
		slog.Info(kind+" ok",
			"procedure", procedure,
			"participant_id", participantID,
			"duration_ms", duration,
		)
		return
	}

	metrics.RPCs.WithLabelValues(procedure, connect.CodeOf(err).String()).Inc()
	var connectErr *connect.Error
	if errors.As(err, &connectErr) {
		slog.Warn(kind+" error",
			"procedure", procedure,
			"code", connectErr.Code(),
			"error", connectErr.Message(),
			"participant_id", participantID,
			"duration_ms", duration,
		)
	} else {
		slog.Error(kind+" error",
			"procedure", procedure,
			"error", err,
			"participant_id", participantID,
			"duration_ms", duration,
		)
	}
}
