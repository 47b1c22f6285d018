package funnel

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalFunnel = `
id: pedestrian
version: 0.1.0
sourceSite: example.com
funnelType: Pedestrian
leadType: PedestrianAccident
dateQuestion: when
maxClaimAgeDays: 365
start: s1
rules:
  - reason: USER_AT_FAULT
    question: fault
    equals: me
  - reason: CLAIM_TOO_OLD
    expr: claim_age_days > max_claim_age_days
steps:
  - id: s1
    question: fault
    kind: choice
    options:
      - {value: me, next: DISQUALIFY}
      - {value: driver, next: s2}
  - id: s2
    question: when
    kind: date
    next: CONTACT
  - id: s3
    kind: contact
`

func TestBuiltin_CommercialMVA(t *testing.T) {
	f := defaultFunnel(t)

	assert.Equal(t, "commercial-mva", f.ID)
	assert.Equal(t, "1.3.0", f.Version.String())
	assert.Equal(t, Meta{
		SourceSite: "myinjuryclaimnow.com",
		FunnelType: "CommercialMVA",
		LeadType:   "WorkVehicleAccident",
		AdCategory: "LegalServices",
	}, f.Meta)
	assert.Equal(t, "America/New_York", f.Evaluator().Location().String())
	assert.Equal(t, "accident_date", f.Evaluator().DateQuestion())
}

func TestParse_Minimal(t *testing.T) {
	f, err := Parse([]byte(minimalFunnel))
	require.NoError(t, err)

	assert.Equal(t, "pedestrian", f.ID)
	assert.Equal(t, "UTC", f.Evaluator().Location().String())
	s, ok := f.Graph.Step("s1")
	require.True(t, ok)
	e, ok := s.Edge("driver")
	require.True(t, ok)
	assert.Equal(t, "driver", e.Label, "label defaults to value")
	assert.False(t, f.RequireTCPAConsent)

	f, err = Parse([]byte(strings.Replace(minimalFunnel, "start: s1", "start: s1\nrequireTcpaConsent: true", 1)))
	require.NoError(t, err)
	assert.True(t, f.RequireTCPAConsent)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		wantMsg string
	}{
		{"bad yaml", func(s string) string { return s + "\n\t- :" }, "decode"},
		{"no id", func(s string) string { return strings.Replace(s, "id: pedestrian", "", 1) }, "id is required"},
		{"bad version", func(s string) string { return strings.Replace(s, "0.1.0", "one", 1) }, "invalid version"},
		{"no source site", func(s string) string { return strings.Replace(s, "sourceSite: example.com", "", 1) }, "sourceSite"},
		{"bad timezone", func(s string) string { return strings.Replace(s, "start: s1", "start: s1\ntimezone: Mars/Olympus", 1) }, "Mars"},
		{"dangling", func(s string) string { return strings.Replace(s, "next: s2", "next: s9", 1) }, "s9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.mutate(minimalFunnel)))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestRegistry_VersionGate(t *testing.T) {
	reg := NewRegistry()
	f, err := Parse([]byte(minimalFunnel))
	require.NoError(t, err)
	require.NoError(t, reg.Register(f))

	err = reg.Register(f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not supersede")

	newer, err := Parse([]byte(strings.Replace(minimalFunnel, "0.1.0", "0.2.0", 1)))
	require.NoError(t, err)
	require.NoError(t, reg.Register(newer))

	got, ok := reg.Get("pedestrian")
	require.True(t, ok)
	assert.Equal(t, "0.2.0", got.Version.String())
}

func TestRegistry_LoadDir(t *testing.T) {
	reg, err := Builtin()
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pedestrian.yaml"), []byte(minimalFunnel), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o600))

	require.NoError(t, reg.LoadDir(dir))
	assert.Equal(t, []string{"commercial-mva", "pedestrian"}, reg.IDs())
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
