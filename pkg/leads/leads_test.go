package leads

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func qualifiedRecord() *Record {
	return &Record{
		LeadID: "5b7f0c1e-1111-4a4a-9c9c-000000000001",
		Status: StatusQualified,
		Answers: map[string]AnswerValue{
			"vehicle_type": {Value: "company_vehicle", DisplayText: "Company Vehicle"},
			"fault":        {Value: "other_driver", DisplayText: "The Other Driver"},
		},
		AnswerOrder: []string{"vehicle_type", "fault"},
		Contact:     &Contact{FirstName: "Jane", LastName: "Doe", Phone: "5551234567", Email: "jane@example.com", TCPAConsent: true},
		Tracking: Tracking{
			UTMSource:   "google",
			LandingPage: "https://myinjuryclaimnow.com/",
			UserAgent:   "test",
			CreatedAt:   time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC),
		},
		FunnelID:    "commercial-mva",
		SourceSite:  "myinjuryclaimnow.com",
		FunnelType:  "CommercialMVA",
		LeadType:    "WorkVehicleAccident",
		AdCategory:  "LegalServices",
		SubmittedAt: time.Date(2025, 6, 15, 14, 5, 0, 0, time.UTC),
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := map[string]string{
		"5551234567":       "5551234567",
		"(555) 123-4567":   "5551234567",
		"+1 555 123 4567":  "5551234567",
		"15551234567":      "5551234567",
		"555-123-456":      "555123456",
		"25551234567":      "25551234567",
		"":                 "",
		"call me maybe 55": "55",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizePhone(in), in)
	}
	assert.True(t, ValidPhone("(555) 123-4567"))
	assert.False(t, ValidPhone("555-123-456"))
	assert.False(t, ValidPhone("15551234567"))
	assert.False(t, ValidPhone("+1 555 123 4567"))
	assert.Equal(t, "15551234567", Digits("+1 (555) 123-4567"))
}

func TestValidEmail(t *testing.T) {
	assert.True(t, ValidEmail("jane@example.com"))
	assert.True(t, ValidEmail("j.doe+x@mail.example.co"))
	assert.False(t, ValidEmail("jane@example"))
	assert.False(t, ValidEmail("jane example@x.com"))
	assert.False(t, ValidEmail("@example.com"))
}

func TestValidator_Record(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	good, err := json.Marshal(qualifiedRecord())
	require.NoError(t, err)
	r, err := v.DecodeRecord(good)
	require.NoError(t, err)
	assert.Equal(t, "Jane", r.Contact.FirstName)

	tests := []struct {
		name   string
		mutate func(*Record)
	}{
		{"qualified without contact", func(r *Record) { r.Contact = nil }},
		{"qualified with reason", func(r *Record) { r.DisqualificationReason = "USER_AT_FAULT" }},
		{"disqualified with contact", func(r *Record) { r.Status = StatusDisqualified; r.DisqualificationReason = "USER_AT_FAULT" }},
		{"disqualified without reason", func(r *Record) { r.Status = StatusDisqualified; r.Contact = nil }},
		{"bad phone", func(r *Record) { r.Contact.Phone = "555-123-4567" }},
		{"missing lead id", func(r *Record) { r.LeadID = "" }},
		{"unknown status", func(r *Record) { r.Status = "InProgress" }},
		{"missing funnel type", func(r *Record) { r.FunnelType = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := qualifiedRecord()
			tt.mutate(rec)
			data, err := json.Marshal(rec)
			require.NoError(t, err)

			_, err = v.DecodeRecord(data)
			require.Error(t, err)
			var ve *ValidationError
			assert.True(t, errors.As(err, &ve))
		})
	}

	_, err = v.DecodeRecord([]byte("{not json"))
	require.Error(t, err)
}

func TestValidator_Partial(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	p := PartialLead{
		PartialID:  "p-1",
		FirstName:  "Jane",
		Email:      "jane@example.com",
		SourceSite: "myinjuryclaimnow.com",
		FunnelType: "CommercialMVA",
	}
	data, _ := json.Marshal(p)
	got, err := v.DecodePartial(data)
	require.NoError(t, err)
	assert.Equal(t, "p-1", got.PartialID)

	p.Email = "nope"
	data, _ = json.Marshal(p)
	_, err = v.DecodePartial(data)
	require.Error(t, err)
}

func TestDigest(t *testing.T) {
	a := qualifiedRecord()
	b := qualifiedRecord()

	da, err := Digest(a)
	require.NoError(t, err)
	db, err := Digest(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)
	assert.Len(t, da, 64)

	b.CertificationToken = "https://cert.trustedform.com/abc"
	db, err = Digest(b)
	require.NoError(t, err)
	assert.NotEqual(t, da, db)
}

func TestPlaceRecord(t *testing.T) {
	r := qualifiedRecord()
	at := time.Date(2025, 6, 15, 14, 5, 7, 123_000_000, time.UTC)

	l := PlaceRecord(r, at)
	assert.Equal(t, "funnelType=CommercialMVA/leadType=WorkVehicleAccident/adCategory=LegalServices/2025/06/15/", l.Prefix)
	assert.Equal(t, l.Prefix+"myinjuryclaimnow_com_2025-06-15T140507123Z_"+r.LeadID+".json", l.Key)
	assert.Equal(t, "2025-06-15", l.SubmissionDate)
	assert.Equal(t, at.Add(90*24*time.Hour).Unix(), l.ExpiresAt)

	r.AdCategory = ""
	assert.Contains(t, PlaceRecord(r, at).Prefix, "adCategory=unknown/")
	assert.Equal(t, "adCategory=unknown&funnelType=CommercialMVA&leadType=WorkVehicleAccident&status=Qualified", Tags(r))
}

func TestRecordClone(t *testing.T) {
	r := qualifiedRecord()
	c := r.Clone()
	c.Contact.FirstName = "Janet"
	c.Answers["fault"] = AnswerValue{Value: "me"}
	c.AnswerOrder[0] = "x"

	assert.Equal(t, "Jane", r.Contact.FirstName)
	assert.Equal(t, "other_driver", r.Answers["fault"].Value)
	assert.Equal(t, "vehicle_type", r.AnswerOrder[0])
	assert.Equal(t, "Jane Doe", r.Contact.FullName())
}
