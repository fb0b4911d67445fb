// OutcomeOps Analytics - Serverless Web Analytics Pipeline
// Copyright 2026 OutcomeOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outcomeops/analytics

package tracker

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	json "github.com/goccy/go-json"

	"github.com/outcomeops/analytics/internal/logging"
	"github.com/outcomeops/analytics/internal/models"
)

// corsHeaders are attached to every gateway response. The tracking script
// runs on the tracked sites themselves, so the origin set is open.
var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Methods": "POST, OPTIONS",
	"Access-Control-Allow-Headers": "Content-Type",
	"Content-Type":                 "application/json",
}

// LambdaHandler adapts the tracker service to API-gateway invocations.
type LambdaHandler struct {
	svc *Service
}

// NewLambdaHandler returns a LambdaHandler over the service.
func NewLambdaHandler(svc *Service) *LambdaHandler {
	return &LambdaHandler{svc: svc}
}

// Handle processes one gateway request. CORS preflights short-circuit to
// 200; everything else must be a POST of one event to /t or an event
// batch to /t/batch.
func (h *LambdaHandler) Handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	method := req.RequestContext.HTTP.Method

	if method == http.MethodOptions {
		// Preflight: 200 with an empty body, CORS headers only.
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusOK, Headers: corsHeaders}, nil
	}
	if method != http.MethodPost {
		return gatewayResponse(http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"}), nil
	}

	single := req.RawPath == "/t"
	if !single && req.RawPath != "/t/batch" {
		return gatewayResponse(http.StatusNotFound, errorResponse{Error: "not found"}), nil
	}

	body, err := requestBody(req)
	if err != nil {
		return gatewayResponse(http.StatusBadRequest, errorResponse{Error: "invalid request body"}), nil
	}

	batch, err := decodeBatch(single, body)
	if err != nil {
		return gatewayResponse(http.StatusBadRequest, errorResponse{Error: "invalid JSON body"}), nil
	}

	// A lone invalid event is a 400 with the reason; batch failures are
	// counted in the response instead.
	if single {
		if err := h.svc.Validate(batch[0]); err != nil {
			return gatewayResponse(http.StatusBadRequest, errorResponse{Error: err.Error()}), nil
		}
	}

	written, failed, err := h.svc.WriteEvents(ctx, batch)
	switch {
	case errors.Is(err, ErrNoEvents):
		return gatewayResponse(http.StatusBadRequest, errorResponse{Error: "no events in request"}), nil
	case errors.Is(err, ErrTooManyEvents):
		return gatewayResponse(http.StatusBadRequest, errorResponse{Error: "too many events in batch"}), nil
	case err != nil:
		logging.Error().Err(err).Msg("failed to write tracking events")
		return gatewayResponse(http.StatusInternalServerError, errorResponse{Error: "failed to store events"}), nil
	}

	if single {
		return gatewayResponse(http.StatusOK, statusResponse{Status: "ok"}), nil
	}
	return gatewayResponse(http.StatusOK, writeResponse{Status: "ok", Written: written, Errors: failed}), nil
}

// decodeBatch parses the request body: /t/batch carries an events
// envelope, /t carries one bare event.
func decodeBatch(single bool, body []byte) ([]*models.TrackingEvent, error) {
	if !single {
		var req batchRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, err
		}
		return req.Events, nil
	}

	var event models.TrackingEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, err
	}
	return []*models.TrackingEvent{&event}, nil
}

func requestBody(req events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if req.IsBase64Encoded {
		return base64.StdEncoding.DecodeString(req.Body)
	}
	return []byte(req.Body), nil
}

func gatewayResponse(status int, body any) events.APIGatewayV2HTTPResponse {
	encoded, err := json.Marshal(body)
	if err != nil {
		logging.Error().Err(err).Msg("failed to encode gateway response")
	}
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers:    corsHeaders,
		Body:       string(encoded),
	}
}
