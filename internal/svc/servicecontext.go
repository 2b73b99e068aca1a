package svc

import (
	"fmt"
	"log"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"spotgrid-engine/internal/config"
	"spotgrid-engine/internal/fillmonitor"
	"spotgrid-engine/internal/lock"
	"spotgrid-engine/internal/model"
	"spotgrid-engine/internal/notify"
	"spotgrid-engine/internal/pool"
	"spotgrid-engine/internal/position"
	"spotgrid-engine/internal/precision"
	"spotgrid-engine/internal/queue"
	"spotgrid-engine/internal/repo"
	"spotgrid-engine/internal/risk"
	"spotgrid-engine/internal/signalrouter"
	"spotgrid-engine/pkg/exchange"
	"spotgrid-engine/pkg/exchange/binance"
	"spotgrid-engine/pkg/exchange/mock"
	"spotgrid-engine/pkg/gridcalc"
)

// ServiceContext wires every collaborator the engine's components need:
// the database connection and repo layer, the distributed lock/health
// store, the per-venue exchange providers, the precision cache, the
// operator notifier, and the component managers (C5-C9) built on top of
// them.
type ServiceContext struct {
	Config config.Config

	DBConn sqlx.SqlConn

	Users       *repo.UserRepo
	DCAConfigs  *repo.DCAConfigRepo
	Positions   *repo.PositionRepo
	Queue       *repo.QueueRepo
	RiskActions *repo.RiskRepo
	Transactor  repo.Transactor

	Lock *lock.Store

	ExchangeProviders map[string]exchange.Provider
	Precision         *precision.Cache

	Notifier notify.Notifier

	Pool         *pool.Manager
	QueueManager *queue.Manager
	Position     *position.Manager
	Router       *signalrouter.Router
	FillMonitor  *fillmonitor.Monitor
	RiskEngine   *risk.Engine
}

// NewServiceContext builds the full dependency graph from a loaded config.
// Construction failures are fatal: the engine has no meaningful degraded
// mode without its database or exchange connectors.
func NewServiceContext(c config.Config) *ServiceContext {
	svc := &ServiceContext{Config: c}

	if c.Postgres.DataSource == "" {
		log.Fatal("config: postgres.dataSource is required")
	}
	conn := sqlx.NewSqlConn("pgx", c.Postgres.DataSource)
	svc.DBConn = conn

	usersModel := model.NewUsersModel(conn)
	dcaConfigsModel := model.NewDCAConfigurationsModel(conn)
	groupsModel := model.NewPositionGroupsModel(conn)
	pyramidsModel := model.NewPyramidsModel(conn)
	ordersModel := model.NewDCAOrdersModel(conn)
	signalsModel := model.NewQueuedSignalsModel(conn)
	riskActionsModel := model.NewRiskActionsModel(conn)

	svc.Users = repo.NewUserRepo(usersModel)
	svc.DCAConfigs = repo.NewDCAConfigRepo(dcaConfigsModel)
	svc.Positions = repo.NewPositionRepo(groupsModel, pyramidsModel, ordersModel)
	svc.Queue = repo.NewQueueRepo(signalsModel)
	svc.RiskActions = repo.NewRiskRepo(riskActionsModel)
	svc.Transactor = repo.NewTransactor(conn)

	lockStore, err := lock.New(c.Redis)
	if err != nil {
		log.Fatalf("failed to init lock/health store: %v", err)
	}
	svc.Lock = lockStore

	svc.ExchangeProviders = buildExchangeProviders(c)
	svc.Precision = precision.New(precision.NewProviderSource(svc.ExchangeProviders), precision.Config{
		Mode: precision.Mode(c.Precision.Mode),
	})

	if c.Telegram.Enabled && c.Telegram.BotToken != "" {
		tg, err := notify.NewTelegram(c.Telegram.BotToken)
		if err != nil {
			log.Fatalf("failed to init telegram notifier: %v", err)
		}
		svc.Notifier = tg
	} else {
		svc.Notifier = notify.Noop{}
	}

	svc.Pool = pool.New(svc.Positions)
	svc.QueueManager = queue.New(svc.Queue, svc.Transactor)
	svc.Position = position.New(svc.Positions, svc.RiskActions, svc.Transactor, svc.Precision, svc.ExchangeProviders)
	svc.Router = signalrouter.New(svc.Users, svc.DCAConfigs, svc.Positions, svc.Lock, svc.Pool, svc.QueueManager, svc.Position, svc.Transactor)
	svc.FillMonitor = fillmonitor.New(svc.Positions, svc.Transactor, svc.Position, svc.ExchangeProviders, svc.Lock, c.FillMonitor.BatchSize)

	closingTimeout := time.Duration(c.Risk.StuckClosingAfterMinutes) * time.Minute
	svc.RiskEngine = risk.New(svc.Users, svc.Positions, svc.RiskActions, svc.Transactor, svc.Position, svc.Precision, svc.ExchangeProviders, svc.Lock, svc.Notifier, closingTimeout)

	return svc
}

func buildExchangeProviders(c config.Config) map[string]exchange.Provider {
	providers := make(map[string]exchange.Provider)
	if c.IsTestEnv() || c.Exchange.Value == nil {
		providers["mock"] = mock.New(map[string]gridcalc.PrecisionRules{}, map[string]decimal.Decimal{})
		return providers
	}

	for _, venue := range c.Exchange.Value.Venues {
		switch venue.Name {
		case "binance":
			providers[venue.Name] = binance.New(binance.Config{
				APIKey:    venue.APIKey,
				APISecret: venue.APISecret,
				Testnet:   venue.Testnet,
			})
		default:
			log.Fatal(fmt.Sprintf("config: unsupported exchange venue %q", venue.Name))
		}
	}
	return providers
}
