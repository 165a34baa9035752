package earn

import (
	"github.com/colonyops/earn/internal/core/catalog"
	"github.com/colonyops/earn/internal/core/config"
	"github.com/colonyops/earn/internal/core/eventbus"
	"github.com/colonyops/earn/internal/data/db"
)

// App is the central entry point for all earn operations.
// Commands and the HTTP API consume App instead of cherry-picking raw dependencies.
type App struct {
	Rewards *RewardService
	Ledger  *Ledger
	Catalog *catalog.FileCatalog
	Bus     *eventbus.EventBus
	Config  *config.Config
	DB      *db.DB
}

// NewApp constructs an App from explicit dependencies.
func NewApp(
	rewards *RewardService,
	cat *catalog.FileCatalog,
	bus *eventbus.EventBus,
	cfg *config.Config,
	database *db.DB,
) *App {
	return &App{
		Rewards: rewards,
		Ledger:  rewards.Ledger(),
		Catalog: cat,
		Bus:     bus,
		Config:  cfg,
		DB:      database,
	}
}
