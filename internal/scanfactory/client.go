// Package scanfactory is the read side of the pipeline: it authenticates
// against the platform's Keycloak, lists projects, resolves alive hosts and
// the latest completed infrastructure-scan task per host, and streams report
// artifacts.
package scanfactory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/scanferry/scanferry/internal/model"
)

const clientTimeout = 25 * time.Second

// notFoundMarker comes back with status 200 when the platform has already
// rotated the artifact away.
const notFoundMarker = "File not found"

// Authenticate performs the password-grant exchange and returns a copy of the
// environment with the access token set. Callers treat an error as fatal:
// nothing downstream works without the token.
func Authenticate(ctx context.Context, env model.SourceEnvironment) (model.SourceEnvironment, error) {
	var zero model.SourceEnvironment

	form := url.Values{
		"client_id":  {env.ClientID},
		"username":   {env.Username},
		"password":   {env.Password},
		"grant_type": {"password"},
	}
	tokenURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", env.KcURL, env.Realm)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return zero, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := &http.Client{Timeout: clientTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return zero, fmt.Errorf("authenticating to scanfactory: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, fmt.Errorf("reading token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || bytes.Contains(body, []byte("error")) {
		return zero, fmt.Errorf("keycloak refused the login: status %d: %s", resp.StatusCode, body)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return zero, fmt.Errorf("decoding token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return zero, fmt.Errorf("keycloak response has no access_token")
	}
	return env.WithToken(tokenResp.AccessToken), nil
}

// Client talks to an already authenticated ScanFactory instance. One instance
// is shared by every fan-out worker of a run.
type Client struct {
	env    model.SourceEnvironment
	client *http.Client
}

func NewClient(env model.SourceEnvironment) (*Client, error) {
	if env.Token == "" {
		return nil, model.ErrNoToken
	}
	return &Client{
		env:    env,
		client: &http.Client{Timeout: clientTimeout},
	}, nil
}

// Projects lists every project visible to the authenticated user. An error
// here is fatal for the run: there is no work set without a project list.
// Entries without an id are dropped.
func (c *Client) Projects(ctx context.Context) ([]model.Project, error) {
	var payload struct {
		Items []model.Project `json:"items"`
	}
	if err := c.getJSON(ctx, "/api/projects/", nil, &payload); err != nil {
		return nil, fmt.Errorf("getting projects: %w", err)
	}
	projects := make([]model.Project, 0, len(payload.Items))
	for _, p := range payload.Items {
		if p.ID == "" {
			continue
		}
		projects = append(projects, p)
	}
	return projects, nil
}

// AliveHosts resolves reachable hosts of one project. Failures are logged and
// yield an empty list, excluding only this project from later stages.
func (c *Client) AliveHosts(ctx context.Context, product *model.Product) (*model.Product, []string) {
	var payload struct {
		Items []struct {
			IPv4 string `json:"ipv4"`
		} `json:"items"`
	}
	query := url.Values{
		"project_id": {product.ProjectID},
		"alive":      {"1"},
	}
	if err := c.getJSON(ctx, "/api/hosts/", query, &payload); err != nil {
		slog.ErrorContext(ctx, "getting hosts failed",
			"project_id", product.ProjectID, "error", err)
		return product, nil
	}
	hosts := make([]string, 0, len(payload.Items))
	for _, item := range payload.Items {
		if item.IPv4 == "" {
			continue
		}
		hosts = append(hosts, item.IPv4)
	}
	return product, hosts
}

// LatestTask resolves the newest completed infrastructure-scan task of one
// project+host and turns its report into a deliverable. Prefers the xml
// artifact over csv; nil when the host has no importable report. Errors are
// logged, never propagated: one host missing never aborts the batch.
func (c *Client) LatestTask(ctx context.Context, product *model.Product, ipv4 string) *model.ReportDeliverable {
	var payload struct {
		Items []struct {
			ID            string   `json:"id"`
			UploadedFiles []string `json:"uploaded_files"`
		} `json:"items"`
	}
	query := url.Values{
		"project_id": {product.ProjectID},
		"tool":       {"infrascan"},
		"sort":       {"-mdate"},
		"status":     {"6"},
		"host":       {ipv4},
		"limit":      {"1"},
	}
	if err := c.getJSON(ctx, "/api/tasks/", query, &payload); err != nil {
		slog.ErrorContext(ctx, "getting tasks failed",
			"project_id", product.ProjectID, "host", ipv4, "error", err)
		return nil
	}
	if len(payload.Items) == 0 {
		return nil
	}
	task := payload.Items[0]

	path := reportPath(task.UploadedFiles)
	if path == "" {
		return nil
	}
	deliverable, err := model.NewReportDeliverable(task.ID, path, product)
	if err != nil {
		slog.ErrorContext(ctx, "skipping report",
			"project_id", product.ProjectID, "host", ipv4, "error", err)
		return nil
	}
	return deliverable
}

// FetchReport fills the deliverable with the artifact bytes. On any failure,
// including the platform's in-band "File not found" body, the deliverable is
// left empty and the failure is logged.
func (c *Client) FetchReport(ctx context.Context, d *model.ReportDeliverable) {
	reqURL := fmt.Sprintf("%s/api/%s?token=%s", c.env.SfURL, d.Path, url.QueryEscape(c.env.Token))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		slog.ErrorContext(ctx, "building report request failed", "path", d.Path, "error", err)
		return
	}
	req.Header.Set("Accept", d.ContentType)

	resp, err := c.client.Do(req)
	if err != nil {
		slog.ErrorContext(ctx, "report not retrieved",
			"project", d.Product.ProjectName, "task", d.TaskID, "error", err)
		return
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.ErrorContext(ctx, "reading report body failed",
			"project", d.Product.ProjectName, "task", d.TaskID, "error", err)
		return
	}
	if resp.StatusCode != http.StatusOK || bytes.Contains(content, []byte(notFoundMarker)) {
		slog.ErrorContext(ctx, "report not found",
			"ext", d.Ext, "project", d.Product.ProjectName, "task", d.TaskID)
		return
	}
	d.Content = content
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("token", c.env.Token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.env.SfURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding json response failed: %w", err)
	}
	return nil
}

// reportPath picks the importable artifact of a task: xml when present,
// otherwise the first csv.
func reportPath(files []string) string {
	for _, f := range files {
		if strings.HasSuffix(f, ".xml") {
			return f
		}
	}
	for _, f := range files {
		if strings.HasSuffix(f, ".csv") {
			return f
		}
	}
	return ""
}
