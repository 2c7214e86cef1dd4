package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/scanferry/scanferry/internal/defectdojo"
	"github.com/scanferry/scanferry/internal/model"
	"github.com/scanferry/scanferry/internal/parallel"
	"github.com/scanferry/scanferry/internal/scanfactory"
	"github.com/scanferry/scanferry/internal/store"
)

// Options carries everything one batch pass needs. Explicit, when non-empty,
// replaces discovery-by-cache: only those project:engagement pairs are
// processed and each engagement must check out active.
type Options struct {
	Source      model.SourceEnvironment
	Destination model.DestinationEnvironment
	Config      model.Config
	CachePath   string
	Explicit    []model.Product
	Health      Health
}

type hostSet struct {
	product *model.Product
	hosts   []string
}

type hostUnit struct {
	product *model.Product
	ipv4    string
}

// Run performs one pass. The returned error is always fatal-tier; per-unit
// failures have already been logged and dropped by the time Run returns nil.
func Run(ctx context.Context, opts Options) error {
	opts.Health.Ping(ctx, opts.Health.Start)

	dojo := defectdojo.NewClient(opts.Destination)
	if err := dojo.CheckAccess(ctx); err != nil {
		return err
	}

	env, err := scanfactory.Authenticate(ctx, opts.Source)
	if err != nil {
		return err
	}
	sf, err := scanfactory.NewClient(env)
	if err != nil {
		return err
	}

	products, err := resolveProducts(ctx, sf, dojo, opts)
	if err != nil {
		return err
	}
	if len(products) == 0 {
		slog.InfoContext(ctx, "no products to process")
		opts.Health.Ping(ctx, opts.Health.End)
		return nil
	}

	gate := parallel.NewGate(opts.Config.MaxRequests)

	hostSets := discoverHosts(ctx, sf, gate, products)
	slog.InfoContext(ctx, "host discovery finished", "projects_with_hosts", len(hostSets))

	deliverables := discoverTasks(ctx, sf, gate, hostSets)
	slog.InfoContext(ctx, "task discovery finished", "deliverables", len(deliverables))

	for _, d := range deliverables {
		sf.FetchReport(ctx, d)
		if d.Content == nil {
			continue
		}
		if err := dojo.ImportScan(ctx, opts.Config, d); err != nil {
			slog.ErrorContext(ctx, "import failed", "error", err)
		}
	}

	opts.Health.Ping(ctx, opts.Health.End)
	return nil
}

// resolveProducts builds the run's work set: either the explicit pairs
// filtered to active engagements, or the live project list reconciled against
// the cache.
func resolveProducts(ctx context.Context, sf *scanfactory.Client, dojo *defectdojo.Client, opts Options) ([]model.Product, error) {
	if len(opts.Explicit) > 0 {
		active := make([]model.Product, 0, len(opts.Explicit))
		for _, product := range opts.Explicit {
			if dojo.CheckEngagement(ctx, &product) {
				active = append(active, product)
			}
		}
		return active, nil
	}

	projects, err := sf.Projects(ctx)
	if err != nil {
		return nil, fmt.Errorf("check your scanfactory url and try again: %w", err)
	}
	slog.InfoContext(ctx, "received projects", "count", len(projects))

	return store.Reconcile(ctx, dojo, opts.CachePath, projects, opts.Config)
}

// discoverHosts fans out alive-host resolution across all products under the
// shared gate and keeps only products that still have reachable hosts.
func discoverHosts(ctx context.Context, sf *scanfactory.Client, gate *parallel.Gate, products []model.Product) []hostSet {
	pointers := make([]*model.Product, len(products))
	for i := range products {
		pointers[i] = &products[i]
	}

	pmap := parallel.NewMap(ctx, gate, func(ctx context.Context, product *model.Product) (hostSet, error) {
		product, hosts := sf.AliveHosts(ctx, product)
		return hostSet{product: product, hosts: hosts}, nil
	})

	var sets []hostSet
	for set, err := range pmap.Iter(parallel.All(pointers)) {
		if err != nil {
			continue
		}
		if len(set.hosts) > 0 {
			sets = append(sets, set)
		}
	}
	return sets
}

// discoverTasks fans out latest-task resolution across every (product, host)
// pair under the same gate, collecting non-nil deliverables.
func discoverTasks(ctx context.Context, sf *scanfactory.Client, gate *parallel.Gate, sets []hostSet) []*model.ReportDeliverable {
	var units []hostUnit
	for _, set := range sets {
		for _, host := range set.hosts {
			units = append(units, hostUnit{product: set.product, ipv4: host})
		}
	}

	pmap := parallel.NewMap(ctx, gate, func(ctx context.Context, unit hostUnit) (*model.ReportDeliverable, error) {
		return sf.LatestTask(ctx, unit.product, unit.ipv4), nil
	})

	var deliverables []*model.ReportDeliverable
	for d, err := range pmap.Iter(parallel.All(units)) {
		if err != nil || d == nil {
			continue
		}
		deliverables = append(deliverables, d)
	}
	return deliverables
}
