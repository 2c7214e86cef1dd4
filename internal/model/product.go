package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Project is one tracked project of the source platform.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Product pairs one ScanFactory project with its DefectDojo product and the
// engagement every import for that project targets. Read-only once created,
// shared by every deliverable derived from it. Two Products with the same
// ProjectID describe the same tracked unit.
type Product struct {
	ID   int    `json:"id_"`
	Name string `json:"name"`

	Engagement   string `json:"engagement"`
	EngagementID int    `json:"engagement_id"`

	ProjectName string `json:"project_name"`
	ProjectID   string `json:"project_id"`
}

// ParseProjectPairs turns explicit "<project UUID>:<engagement id>" arguments
// into placeholder Products. Pairs repeating a project id are collapsed.
func ParseProjectPairs(pairs []string) ([]Product, error) {
	products := make([]Product, 0, len(pairs))
	seen := make(map[string]struct{}, len(pairs))
	for _, pair := range pairs {
		projectID, engagement, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("%w: %q, want '<project UUID>:<engagement id>'", ErrBadProjectPair, pair)
		}
		if _, err := uuid.Parse(projectID); err != nil {
			return nil, fmt.Errorf("%w: project id in %q is not a UUID: %v", ErrBadProjectPair, pair, err)
		}
		engagementID, err := strconv.Atoi(engagement)
		if err != nil {
			return nil, fmt.Errorf("%w: engagement id in %q is not a number", ErrBadProjectPair, pair)
		}
		if _, dup := seen[projectID]; dup {
			continue
		}
		seen[projectID] = struct{}{}
		products = append(products, Product{
			Name:         "non-existent-" + projectID,
			Engagement:   "engagement-id-" + engagement,
			EngagementID: engagementID,
			ProjectName:  "project-id-" + projectID,
			ProjectID:    projectID,
		})
	}
	return products, nil
}
