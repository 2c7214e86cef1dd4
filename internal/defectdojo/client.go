// Package defectdojo is the write side of the pipeline: it provisions
// products and engagements and imports report artifacts through the
// DefectDojo v2 API.
package defectdojo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/scanferry/scanferry/internal/model"
)

const clientTimeout = 25 * time.Second

// Client talks to one DefectDojo instance, shared by all workers of a run.
type Client struct {
	env    model.DestinationEnvironment
	client *http.Client
}

func NewClient(env model.DestinationEnvironment) *Client {
	return &Client{
		env:    env,
		client: &http.Client{Timeout: clientTimeout},
	}
}

// CheckAccess probes the users endpoint. The batch never runs without
// confirmed destination access, so any failure here is fatal for the run.
func (c *Client) CheckAccess(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v2/users/", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("reaching defect dojo: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("defect dojo access check: status %d", resp.StatusCode)
	}
	slog.InfoContext(ctx, "authorized against defect dojo")
	return nil
}

// CreateProduct posts the configured creation template bound to projectName.
// Expects 201; id and name of the new product are returned.
func (c *Client) CreateProduct(ctx context.Context, projectName string, cfg model.Config) (int, string, error) {
	var created struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	err := c.postJSON(ctx, "/api/v2/products/", cfg.ProductPayloadFor(projectName), &created)
	if err != nil {
		return 0, "", fmt.Errorf("creating product for project %q: %w", projectName, err)
	}
	if created.ID == 0 || created.Name == "" {
		return 0, "", fmt.Errorf("creating product for project %q: unexpected response body", projectName)
	}
	slog.InfoContext(ctx, "product created", "project", projectName, "product_id", created.ID)
	return created.ID, created.Name, nil
}

// CreateEngagement opens a year-long interactive engagement under productID.
// Expects 201; id and name of the new engagement are returned.
func (c *Client) CreateEngagement(ctx context.Context, productID int, projectName string, cfg model.Config) (int, string, error) {
	now := time.Now().UTC()
	payload := map[string]any{
		"name":                        "default " + projectName,
		"description":                 fmt.Sprintf("Default engagement for '%s'", projectName),
		"target_start":                now.Format("2006-01-02"),
		"target_end":                  now.AddDate(1, 0, 0).Format("2006-01-02"),
		"product":                     productID,
		"environment":                 "Prod",
		"engagement_type":             "Interactive",
		"lead":                        cfg.LeadUserID,
		"deduplication_on_engagement": cfg.DeduplicationOnEngagement,
	}

	var created struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	err := c.postJSON(ctx, "/api/v2/engagements/", payload, &created)
	if err != nil {
		return 0, "", fmt.Errorf("creating engagement for project %q: %w", projectName, err)
	}
	if created.ID == 0 || created.Name == "" {
		return 0, "", fmt.Errorf("creating engagement for project %q: unexpected response body", projectName)
	}
	slog.InfoContext(ctx, "engagement created", "project", projectName, "engagement_id", created.ID)
	return created.ID, created.Name, nil
}

// CheckEngagement reports whether the product's engagement exists and is
// active. Reports are never imported against an inactive engagement.
func (c *Client) CheckEngagement(ctx context.Context, product *model.Product) bool {
	path := fmt.Sprintf("/api/v2/engagements/%d/", product.EngagementID)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		slog.ErrorContext(ctx, "building engagement request failed",
			"engagement_id", product.EngagementID, "error", err)
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		slog.ErrorContext(ctx, "engagement check failed, no reports will be imported for the project",
			"engagement_id", product.EngagementID, "project_id", product.ProjectID, "error", err)
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		slog.ErrorContext(ctx, "engagement not found",
			"engagement_id", product.EngagementID, "status", resp.StatusCode)
		return false
	}
	var engagement struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&engagement); err != nil {
		slog.ErrorContext(ctx, "decoding engagement failed",
			"engagement_id", product.EngagementID, "error", err)
		return false
	}
	if !engagement.Active {
		slog.ErrorContext(ctx, "engagement not active, create another active engagement for the project",
			"engagement_id", product.EngagementID, "project_id", product.ProjectID)
		return false
	}
	slog.InfoContext(ctx, "engagement active", "engagement_id", product.EngagementID)
	return true
}

// ImportScan uploads the deliverable's bytes as a new import under the
// product's engagement. Expects 201.
func (c *Client) ImportScan(ctx context.Context, cfg model.Config, d *model.ReportDeliverable) error {
	var body bytes.Buffer
	mp := multipart.NewWriter(&body)

	fields := map[string]string{
		"scan_type":                   cfg.ScanType,
		"verified":                    "true",
		"active":                      "true",
		"engagement":                  strconv.Itoa(d.Product.EngagementID),
		"minimum_severity":            cfg.MinimumSeverity.String(),
		"auto_create_context":         strconv.FormatBool(cfg.AutoCreateContext),
		"deduplication_on_engagement": strconv.FormatBool(cfg.DeduplicationOnEngagement),
	}
	for name, value := range fields {
		if err := mp.WriteField(name, value); err != nil {
			return fmt.Errorf("writing form field %q: %w", name, err)
		}
	}
	part, err := mp.CreateFormFile("file", d.FileName())
	if err != nil {
		return fmt.Errorf("creating file part: %w", err)
	}
	if _, err := part.Write(d.Content); err != nil {
		return fmt.Errorf("writing file part: %w", err)
	}
	if err := mp.Close(); err != nil {
		return fmt.Errorf("finalizing multipart body: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v2/import-scan/", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mp.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("uploading scan for '%s/%s': %w", d.Product.ProjectName, d.TaskID, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("uploading scan for '%s/%s': status %d: %s",
			d.Product.ProjectName, d.TaskID, resp.StatusCode, respBody)
	}
	slog.InfoContext(ctx, "scan uploaded", "project", d.Product.ProjectName, "task", d.TaskID)
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.env.URL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Token "+c.env.Token)
	return req, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding json response failed: %w", err)
	}
	return nil
}
