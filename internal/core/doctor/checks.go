package doctor

import (
	"context"
	"fmt"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/colonyops/earn/internal/core/catalog"
	"github.com/colonyops/earn/internal/core/config"
	"github.com/colonyops/earn/internal/data/db"
)

// ConfigCheck reports configuration validation errors and warnings.
type ConfigCheck struct {
	cfg        *config.Config
	configPath string
}

// NewConfigCheck creates a new configuration check.
func NewConfigCheck(cfg *config.Config, configPath string) *ConfigCheck {
	return &ConfigCheck{cfg: cfg, configPath: configPath}
}

func (c *ConfigCheck) Name() string {
	return "Configuration"
}

func (c *ConfigCheck) Run(_ context.Context) Result {
	result := Result{Name: c.Name()}

	if err := c.cfg.ValidateDeep(c.configPath); err != nil {
		result.Items = append(result.Items, CheckItem{
			Label:  "validate",
			Status: StatusFail,
			Detail: err.Error(),
		})
		return result
	}

	result.Items = append(result.Items, CheckItem{
		Label:  "validate",
		Status: StatusPass,
		Detail: fmt.Sprintf("review window %s", c.cfg.Review.Window),
	})

	for _, w := range c.cfg.Warnings() {
		label := w.Category
		if w.Item != "" {
			label = w.Item
		}
		result.Items = append(result.Items, CheckItem{
			Label:  label,
			Status: StatusWarn,
			Detail: w.Message,
		})
	}

	return result
}

// CatalogCheck verifies that catalog patterns match files and that at least
// one task is active.
type CatalogCheck struct {
	catalog *catalog.FileCatalog
}

// NewCatalogCheck creates a new task catalog check.
func NewCatalogCheck(cat *catalog.FileCatalog) *CatalogCheck {
	return &CatalogCheck{catalog: cat}
}

func (c *CatalogCheck) Name() string {
	return "Task Catalog"
}

func (c *CatalogCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	for _, pattern := range c.catalog.Patterns() {
		matches, err := doublestar.FilepathGlob(pattern)
		switch {
		case err != nil:
			result.Items = append(result.Items, CheckItem{
				Label:  pattern,
				Status: StatusFail,
				Detail: fmt.Sprintf("invalid pattern: %v", err),
			})
		case len(matches) == 0:
			result.Items = append(result.Items, CheckItem{
				Label:   pattern,
				Status:  StatusWarn,
				Detail:  "no files match",
				Fixable: true,
			})
		default:
			result.Items = append(result.Items, CheckItem{
				Label:  pattern,
				Status: StatusPass,
				Detail: fmt.Sprintf("%d file(s)", len(matches)),
			})
		}
	}

	active, err := c.catalog.ListActiveTasks(ctx)
	switch {
	case err != nil:
		result.Items = append(result.Items, CheckItem{
			Label:  "active tasks",
			Status: StatusFail,
			Detail: err.Error(),
		})
	case len(active) == 0:
		result.Items = append(result.Items, CheckItem{
			Label:  "active tasks",
			Status: StatusWarn,
			Detail: "no active tasks",
		})
	default:
		result.Items = append(result.Items, CheckItem{
			Label:  "active tasks",
			Status: StatusPass,
			Detail: fmt.Sprintf("%d", len(active)),
		})
	}

	return result
}

// MigrationLister reports schema migration state.
type MigrationLister interface {
	Migrations(ctx context.Context) ([]db.MigrationStatus, error)
}

// DatabaseCheck verifies every embedded migration has been applied.
type DatabaseCheck struct {
	db MigrationLister
}

// NewDatabaseCheck creates a new database check.
func NewDatabaseCheck(db MigrationLister) *DatabaseCheck {
	return &DatabaseCheck{db: db}
}

func (c *DatabaseCheck) Name() string {
	return "Database"
}

func (c *DatabaseCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	migrations, err := c.db.Migrations(ctx)
	if err != nil {
		result.Items = append(result.Items, CheckItem{
			Label:  "migrations",
			Status: StatusFail,
			Detail: err.Error(),
		})
		return result
	}

	for _, m := range migrations {
		item := CheckItem{
			Label:  fmt.Sprintf("%04d_%s", m.Version, m.Name),
			Status: StatusPass,
		}
		switch {
		case !m.Applied:
			item.Status = StatusFail
			item.Detail = "not applied"
		case m.Ledger:
			item.Detail = fmt.Sprintf("%d ledger rows", m.Rows)
		}
		result.Items = append(result.Items, item)
	}

	return result
}
