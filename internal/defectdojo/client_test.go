package defectdojo_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/scanferry/scanferry/internal/defectdojo"
	"github.com/scanferry/scanferry/internal/model"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, srv *httptest.Server) *defectdojo.Client {
	t.Helper()
	env, err := model.NewDestinationEnvironment(srv.URL, "api-token")
	require.NoError(t, err)
	return defectdojo.NewClient(env)
}

func testConfig() model.Config {
	return model.Config{
		ScanType:                  model.ScanTypeNessus,
		AutoCreateContext:         true,
		DeduplicationOnEngagement: true,
		ProductPayload:            map[string]any{"description": "Findings for {}", "prod_type": 1},
		LeadUserID:                3,
		MaxRequests:               5,
		MinimumSeverity:           model.SeverityLow,
	}
}

func TestCheckAccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2/users/", r.URL.Path)
		require.Equal(t, "Token api-token", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"count":1}`)
	}))
	defer srv.Close()

	require.NoError(t, newClient(t, srv).CheckAccess(t.Context()))
}

func TestCheckAccessFail(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	require.Error(t, newClient(t, srv).CheckAccess(t.Context()))
}

func TestCreateProduct(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v2/products/", r.URL.Path)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "acme", payload["name"])
		require.Equal(t, "Findings for acme", payload["description"])

		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":17,"name":"acme"}`)
	}))
	defer srv.Close()

	id, name, err := newClient(t, srv).CreateProduct(t.Context(), "acme", testConfig())
	require.NoError(t, err)
	require.Equal(t, 17, id)
	require.Equal(t, "acme", name)
}

func TestCreateProductFail(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"name":["product with this name already exists"]}`)
	}))
	defer srv.Close()

	_, _, err := newClient(t, srv).CreateProduct(t.Context(), "acme", testConfig())
	require.Error(t, err)
	require.ErrorContains(t, err, "acme")
}

func TestCreateEngagement(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2/engagements/", r.URL.Path)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "default acme", payload["name"])
		require.Equal(t, float64(17), payload["product"])
		require.Equal(t, "Interactive", payload["engagement_type"])
		require.Equal(t, "Prod", payload["environment"])
		require.Equal(t, float64(3), payload["lead"])
		require.Equal(t, true, payload["deduplication_on_engagement"])

		start, err := time.Parse("2006-01-02", payload["target_start"].(string))
		require.NoError(t, err)
		end, err := time.Parse("2006-01-02", payload["target_end"].(string))
		require.NoError(t, err)
		days := end.Sub(start).Hours() / 24
		require.InDelta(t, 365, days, 1)

		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":23,"name":"default acme"}`)
	}))
	defer srv.Close()

	id, name, err := newClient(t, srv).CreateEngagement(t.Context(), 17, "acme", testConfig())
	require.NoError(t, err)
	require.Equal(t, 23, id)
	require.Equal(t, "default acme", name)
}

func TestCheckEngagement(t *testing.T) {
	t.Parallel()

	var testCases = []struct {
		scenario string
		status   int
		body     string
		then     bool
	}{
		{"active", http.StatusOK, `{"active":true}`, true},
		{"inactive", http.StatusOK, `{"active":false}`, false},
		{"not found", http.StatusNotFound, `{}`, false},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/api/v2/engagements/23/", r.URL.Path)
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			product := &model.Product{ProjectID: "p-1", EngagementID: 23}
			require.Equal(t, tt.then, newClient(t, srv).CheckEngagement(t.Context(), product))
		})
	}
}

func TestImportScan(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2/import-scan/", r.URL.Path)
		require.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data"))
		require.NoError(t, r.ParseMultipartForm(1<<20))

		require.Equal(t, model.ScanTypeNessus, r.FormValue("scan_type"))
		require.Equal(t, "true", r.FormValue("verified"))
		require.Equal(t, "true", r.FormValue("active"))
		require.Equal(t, "23", r.FormValue("engagement"))
		require.Equal(t, "Low", r.FormValue("minimum_severity"))
		require.Equal(t, "true", r.FormValue("auto_create_context"))
		require.Equal(t, "true", r.FormValue("deduplication_on_engagement"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer func() {
			_ = file.Close()
		}()
		require.Equal(t, "nessus_task-7.xml", header.Filename)

		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"scan_id":5}`)
	}))
	defer srv.Close()

	d, err := model.NewReportDeliverable("task-7", "reports/scan.xml",
		&model.Product{ProjectID: "p-1", ProjectName: "acme", EngagementID: 23})
	require.NoError(t, err)
	d.Content = []byte("<NessusClientData_v2/>")

	require.NoError(t, newClient(t, srv).ImportScan(t.Context(), testConfig(), d))
}

func TestImportScanFail(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"detail":"unparsable report"}`)
	}))
	defer srv.Close()

	d, err := model.NewReportDeliverable("task-7", "reports/scan.csv",
		&model.Product{ProjectID: "p-1", ProjectName: "acme", EngagementID: 23})
	require.NoError(t, err)
	d.Content = []byte("header\n")

	err = newClient(t, srv).ImportScan(t.Context(), testConfig(), d)
	require.Error(t, err)
	require.ErrorContains(t, err, "acme/task-7")
}
