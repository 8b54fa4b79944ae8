// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/opfuse/services/fusion/telemetry"
)

// Stream message types.
const (
	StreamPartition = "partition"
	StreamDone      = "done"
	StreamError     = "error"
)

// StreamMessage is one server message on the match stream.
type StreamMessage struct {
	Type      string         `json:"type"`
	RunID     string         `json:"run_id,omitempty"`
	Partition *PartitionView `json:"partition,omitempty"`

	// Result is the run summary of a "done" message. Its partitions were
	// already sent one per message and are omitted.
	Result *MatchResponse `json:"result,omitempty"`
	Error  *ErrorResponse `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// HandleMatchStream handles GET /v1/match/stream.
//
// Description:
//
//	Upgrades to a WebSocket session. Each text message from the client is
//	a MatchRequest. The server answers with one "partition" message per
//	partition in commit order, then a "done" message, or with a single
//	"error" message. A failed request does not end the session; the
//	client closes it when finished.
func (h *Handlers) HandleMatchStream(c *gin.Context) {
	ctx := c.Request.Context()
	logger := telemetry.LoggerWithTrace(ctx, h.logger).With(
		slog.String("request_id", getOrCreateRequestID(c)),
		slog.String("handler", "HandleMatchStream"),
	)

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	for {
		var req MatchRequest
		if err := ws.ReadJSON(&req); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				if sendError(ws, logger, errInvalidRequest, CodeInvalidRequest, "invalid request body: "+err.Error()) != nil {
					return
				}
				continue
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket session ended", slog.String("error", err.Error()))
			}
			return
		}

		if err := binding.Validator.ValidateStruct(&req); err != nil {
			if sendError(ws, logger, err, CodeInvalidRequest, "invalid request body: "+err.Error()) != nil {
				return
			}
			continue
		}
		if h.limiter != nil && !h.limiter.Allow() {
			if sendError(ws, logger, errRateLimited, CodeRateLimited, errRateLimited.Error()) != nil {
				return
			}
			continue
		}

		resp, err := h.match(ctx, &req, logger)
		if err != nil {
			status, code := classify(err)
			logRejection(logger, status, code, err)
			if sendError(ws, logger, err, code, err.Error()) != nil {
				return
			}
			continue
		}
		if streamResult(ws, logger, resp) != nil {
			return
		}
	}
}

func streamResult(ws *websocket.Conn, logger *slog.Logger, resp MatchResponse) error {
	for i := range resp.Partitions {
		msg := StreamMessage{Type: StreamPartition, RunID: resp.RunID, Partition: &resp.Partitions[i]}
		if err := sendJSON(ws, logger, msg); err != nil {
			return err
		}
	}
	summary := resp
	summary.Partitions = nil
	return sendJSON(ws, logger, StreamMessage{Type: StreamDone, RunID: resp.RunID, Result: &summary})
}

func sendError(ws *websocket.Conn, logger *slog.Logger, cause error, code, msg string) error {
	logger.Debug("stream request rejected", slog.String("code", code), slog.String("error", cause.Error()))
	return sendJSON(ws, logger, StreamMessage{Type: StreamError, Error: &ErrorResponse{Error: msg, Code: code}})
}

func sendJSON(ws *websocket.Conn, logger *slog.Logger, v any) error {
	err := ws.WriteJSON(v)
	if err != nil {
		logger.Warn("failed to write websocket message", slog.String("error", err.Error()))
	}
	return err
}
