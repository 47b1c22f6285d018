package main

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnarchoFatSats/comercial-mva/pkg/ingest"
	"github.com/AnarchoFatSats/comercial-mva/pkg/store"
)

type fakeLooker struct {
	phone string
	res   *ingest.LookupResult
	err   error
}

func (f *fakeLooker) Lookup(_ context.Context, phone string) (*ingest.LookupResult, error) {
	f.phone = phone
	return f.res, f.err
}

func event(address string, params, attrs map[string]string) events.ConnectEvent {
	var ev events.ConnectEvent
	ev.Details.ContactData.CustomerEndpoint.Address = address
	ev.Details.ContactData.Attributes = attrs
	ev.Details.Parameters = params
	return ev
}

func TestCallerPhone(t *testing.T) {
	assert.Equal(t, "+15551234567", callerPhone(event("+15551234567", nil, nil)))
	assert.Equal(t, "5550000000", callerPhone(event("+15551234567", nil, map[string]string{"phone": "5550000000"})))
	assert.Equal(t, "5559999999", callerPhone(event("+15551234567",
		map[string]string{"phone": "5559999999"}, map[string]string{"phone": "5550000000"})))
}

func TestHandle_Found(t *testing.T) {
	f := &fakeLooker{res: &ingest.LookupResult{
		Found: true,
		Summary: &store.LeadSummary{
			LeadID:       "lead-1",
			ContactName:  "Jane Doe",
			ContactPhone: "5551234567",
			FunnelType:   "CommercialMVA",
			Status:       "Qualified",
			Qualified:    true,
		},
	}}
	h := &Handler{Lookup: f}

	resp, err := h.Handle(context.Background(), event("+15551234567", nil, nil))
	require.NoError(t, err)
	assert.Equal(t, "+15551234567", f.phone)
	assert.Equal(t, "lead-1", resp["leadId"])
	assert.Equal(t, "Jane", resp["firstName"])
	assert.Equal(t, "Yes", resp["qualified"])
	assert.NotContains(t, resp, "notFound")
}

func TestHandle_ErrorIsAMiss(t *testing.T) {
	h := &Handler{Lookup: &fakeLooker{err: errors.New("dynamodb throttled")}}
	resp, err := h.Handle(context.Background(), event("anonymous", nil, nil))
	require.NoError(t, err)
	assert.Equal(t, "true", resp["notFound"])
	assert.Equal(t, "Unknown", resp["qualified"])
}
