// Package store keeps the run-to-run product cache and reconciles it against
// the live project list, provisioning missing destination entities.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/scanferry/scanferry/internal/model"
)

// Provisioner creates the destination-side tracking entities for a project.
// Satisfied by *defectdojo.Client.
type Provisioner interface {
	CreateProduct(ctx context.Context, projectName string, cfg model.Config) (int, string, error)
	CreateEngagement(ctx context.Context, productID int, projectName string, cfg model.Config) (int, string, error)
}

// Load reads the cached product list. A missing or corrupted cache degrades
// to an empty list, every project is then provisioned as new.
func Load(path string) []model.Product {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("failed to read products cache", "path", path, "error", err)
		}
		return nil
	}
	if len(raw) == 0 {
		return nil
	}
	var products []model.Product
	if err := json.Unmarshal(raw, &products); err != nil {
		slog.Error("failed to load products from cache", "path", path, "error", err)
		return nil
	}
	return products
}

// Save rewrites the cache in full.
func Save(path string, products []model.Product) error {
	if products == nil {
		products = []model.Product{}
	}
	raw, err := json.MarshalIndent(products, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding products cache: %w", err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("writing products cache %q: %w", path, err)
	}
	return nil
}

// Reconcile provisions a product and engagement for every live project absent
// from the cache; either creation failing skips that project for this run, so
// it stays out of the cache and is retried on the next one. The full cache,
// old entries included, is persisted regardless of what happens later in the
// run. Returned is only the subset of the cache whose project is live.
func Reconcile(ctx context.Context, prov Provisioner, path string, live []model.Project, cfg model.Config) ([]model.Product, error) {
	products := Load(path)

	cached := make(map[string]struct{}, len(products))
	for _, product := range products {
		cached[product.ProjectID] = struct{}{}
	}

	for _, project := range live {
		if _, ok := cached[project.ID]; ok {
			continue
		}
		productID, productName, err := prov.CreateProduct(ctx, project.Name, cfg)
		if err != nil {
			slog.ErrorContext(ctx, "provisioning skipped", "project", project.Name, "error", err)
			continue
		}
		engagementID, engagementName, err := prov.CreateEngagement(ctx, productID, project.Name, cfg)
		if err != nil {
			slog.ErrorContext(ctx, "provisioning skipped", "project", project.Name, "error", err)
			continue
		}
		products = append(products, model.Product{
			ID:           productID,
			Name:         productName,
			Engagement:   engagementName,
			EngagementID: engagementID,
			ProjectName:  project.Name,
			ProjectID:    project.ID,
		})
	}

	if err := Save(path, products); err != nil {
		return nil, err
	}

	liveIDs := make(map[string]struct{}, len(live))
	for _, project := range live {
		liveIDs[project.ID] = struct{}{}
	}
	work := make([]model.Product, 0, len(products))
	for _, product := range products {
		if _, ok := liveIDs[product.ProjectID]; ok {
			work = append(work, product)
		}
	}
	return work, nil
}
