package main

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/AnarchoFatSats/comercial-mva/pkg/api"
	"github.com/AnarchoFatSats/comercial-mva/pkg/ingest"
	"github.com/AnarchoFatSats/comercial-mva/pkg/leads"
)

// Ingester is the part of the ingestion service the handler drives.
type Ingester interface {
	Ingest(ctx context.Context, data []byte) (*ingest.Result, error)
	IngestPartial(ctx context.Context, data []byte) (*ingest.Result, error)
}

// Handler maps API Gateway proxy requests onto the ingestion service.
// Paths ending in /early-leads carry partial leads; everything else is a
// terminal lead record.
type Handler struct {
	Service Ingester
	// APIKey, when set, must match the x-api-key header.
	APIKey string
}

var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Methods": "OPTIONS,POST",
	"Access-Control-Allow-Headers": "Content-Type,x-api-key",
	"Content-Type":                 "application/json",
}

func respond(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status, body = http.StatusInternalServerError, []byte(`{"title":"Internal Server Error"}`)
	}
	headers := make(map[string]string, len(corsHeaders))
	for k, v := range corsHeaders {
		headers[k] = v
	}
	if status >= http.StatusBadRequest {
		headers["Content-Type"] = "application/problem+json"
	}
	return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers, Body: string(body)}
}

func problem(status int, title, detail string) events.APIGatewayProxyResponse {
	return respond(status, api.ProblemDetail{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

func header(req events.APIGatewayProxyRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Handle processes one request. Errors are always rendered as responses.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	switch req.HTTPMethod {
	case http.MethodOptions:
		return respond(http.StatusOK, map[string]string{}), nil
	case http.MethodPost:
	default:
		return problem(http.StatusMethodNotAllowed, "Method Not Allowed", "Use POST"), nil
	}

	if h.APIKey != "" && subtle.ConstantTimeCompare([]byte(header(req, "x-api-key")), []byte(h.APIKey)) != 1 {
		return problem(http.StatusUnauthorized, "Unauthorized", "Invalid API key"), nil
	}

	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return problem(http.StatusBadRequest, "Bad Request", "Invalid base64 body"), nil
		}
		body = decoded
	}
	if len(body) == 0 {
		return problem(http.StatusBadRequest, "Bad Request", "Missing request body"), nil
	}

	ingestFn := h.Service.Ingest
	if strings.HasSuffix(strings.TrimSuffix(req.Path, "/"), "/early-leads") {
		ingestFn = h.Service.IngestPartial
	}
	res, err := ingestFn(ctx, body)
	if err != nil {
		var ve *leads.ValidationError
		if errors.As(err, &ve) {
			return problem(http.StatusBadRequest, "Invalid Lead", ve.Error()), nil
		}
		slog.ErrorContext(ctx, "ingest failed", "path", req.Path, "request_id", req.RequestContext.RequestID, "error", err)
		return problem(http.StatusInternalServerError, "Internal Server Error", "Failed to process lead"), nil
	}
	return respond(http.StatusOK, res), nil
}
