package model_test

import (
	"strings"
	"testing"

	"github.com/scanferry/scanferry/internal/model"
	"github.com/stretchr/testify/require"
)

const validYML = `
base_config:
  scan_type: nessus scan
  auto_create_context: true
  deduplication_on_engagement: true
  lead_user_id: 3
  max_requests: 5
  minimum_severity: medium
product_creation_config:
  description: "Findings for {}"
  prod_type: 1
`

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	cfg, err := model.LoadConfig(strings.NewReader(validYML))
	require.NoError(t, err)
	require.Equal(t, model.ScanTypeNessus, cfg.ScanType)
	require.True(t, cfg.AutoCreateContext)
	require.True(t, cfg.DeduplicationOnEngagement)
	require.Equal(t, 3, cfg.LeadUserID)
	require.Equal(t, 5, cfg.MaxRequests)
	require.Equal(t, model.SeverityMedium, cfg.MinimumSeverity)
}

func TestLoadConfigFail(t *testing.T) {
	t.Parallel()

	var testCases = []struct {
		scenario string
		mangle   func(string) string
		then     string
	}{
		{
			"unknown scan type",
			func(s string) string { return strings.Replace(s, "nessus scan", "qualys scan", 1) },
			"invalid scan type",
		},
		{
			"max requests too big",
			func(s string) string { return strings.Replace(s, "max_requests: 5", "max_requests: 42", 1) },
			"range 1-10",
		},
		{
			"max requests too small",
			func(s string) string { return strings.Replace(s, "max_requests: 5", "max_requests: 0", 1) },
			"range 1-10",
		},
		{
			"unknown severity",
			func(s string) string { return strings.Replace(s, "medium", "severe", 1) },
			"invalid minimum severity",
		},
		{
			"payload missing prod_type",
			func(s string) string { return strings.Replace(s, "  prod_type: 1\n", "", 1) },
			"product_creation_config",
		},
		{
			"payload missing entirely",
			func(s string) string { return strings.Split(s, "product_creation_config:")[0] },
			"product_creation_config",
		},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			_, err := model.LoadConfig(strings.NewReader(tt.mangle(validYML)))
			require.Error(t, err)
			require.ErrorContains(t, err, tt.then)
		})
	}
}

func TestScanTypeNormalization(t *testing.T) {
	t.Parallel()

	yml := strings.Replace(validYML, "nessus scan", " TENABLE SCAN ", 1)
	cfg, err := model.LoadConfig(strings.NewReader(yml))
	require.NoError(t, err)
	require.Equal(t, model.ScanTypeTenable, cfg.ScanType)
}

func TestProductPayloadFor(t *testing.T) {
	t.Parallel()

	cfg, err := model.LoadConfig(strings.NewReader(validYML))
	require.NoError(t, err)

	payload := cfg.ProductPayloadFor("acme")
	require.Equal(t, "acme", payload["name"])
	require.Equal(t, "Findings for acme", payload["description"])
	// template itself stays untouched
	require.Equal(t, "Findings for {}", cfg.ProductPayload["description"])

	// no placeholder: project name is appended
	yml := strings.Replace(validYML, "Findings for {}", "Auto-created product", 1)
	cfg, err = model.LoadConfig(strings.NewReader(yml))
	require.NoError(t, err)
	require.Equal(t, "Auto-created product acme", cfg.ProductPayloadFor("acme")["description"])
}

func TestSeverityFromString(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"info", "INFO", " Info "} {
		severity, err := model.SeverityFromString(raw)
		require.NoError(t, err)
		require.Equal(t, model.SeverityInfo, severity)
	}

	require.True(t, model.SeverityCritical > model.SeverityHigh)
	require.Equal(t, "Critical", model.SeverityCritical.String())

	_, err := model.SeverityFromString("catastrophic")
	require.Error(t, err)
}
