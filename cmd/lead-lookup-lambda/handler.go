package main

import (
	"context"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/AnarchoFatSats/comercial-mva/pkg/ingest"
)

// Looker finds the latest lead for a phone number.
type Looker interface {
	Lookup(ctx context.Context, phone string) (*ingest.LookupResult, error)
}

// Handler serves contact flow invocations.
type Handler struct {
	Lookup Looker
}

// callerPhone prefers an explicit phone parameter, then a contact attribute,
// then the caller's endpoint address.
func callerPhone(ev events.ConnectEvent) string {
	if p := ev.Details.Parameters["phone"]; p != "" {
		return p
	}
	if p := ev.Details.ContactData.Attributes["phone"]; p != "" {
		return p
	}
	return ev.Details.ContactData.CustomerEndpoint.Address
}

// Handle never fails the contact flow: lookup errors come back as a miss.
func (h *Handler) Handle(ctx context.Context, ev events.ConnectEvent) (events.ConnectResponse, error) {
	logger := slog.Default().With("component", "lookup", "contact_id", ev.Details.ContactData.ContactID)

	res, err := h.Lookup.Lookup(ctx, callerPhone(ev))
	if err != nil {
		logger.WarnContext(ctx, "lead lookup failed", "error", err)
		var miss *ingest.LookupResult
		return events.ConnectResponse(miss.ConnectAttributes()), nil
	}
	logger.InfoContext(ctx, "lead lookup", "found", res.Found)
	return events.ConnectResponse(res.ConnectAttributes()), nil
}
