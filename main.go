package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/tanpawarit/Grace-Conversational-Commerce/agent/agents/language"
	orchestratorx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
	funnelx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/funnel"
	intentx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/intent"
	llmx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/llm"
	replyx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/reply"
	statex "github.com/tanpawarit/Grace-Conversational-Commerce/agent/state"
	tenantx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/tenant"
	toolx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/tool"
	configx "github.com/tanpawarit/Grace-Conversational-Commerce/pkg/config"
	eventsx "github.com/tanpawarit/Grace-Conversational-Commerce/pkg/events"
	_ "github.com/tanpawarit/Grace-Conversational-Commerce/pkg/logger/autoload"
	postgresx "github.com/tanpawarit/Grace-Conversational-Commerce/pkg/postgres"
	qstashx "github.com/tanpawarit/Grace-Conversational-Commerce/pkg/qstash"
	"github.com/tanpawarit/Grace-Conversational-Commerce/server"
	"github.com/uptrace/bun"
)

type AppConfig struct {
	TenantsFile     string        `envconfig:"TENANTS_FILE" default:"tenants.yaml"`
	SessionWindow   int           `split_words:"true" default:"10"`
	ArchiveAfter    time.Duration `split_words:"true" default:"720h"`
	ArchiveInterval time.Duration `split_words:"true" default:"1h"`
	// ArchiveCron registers a QStash schedule against /admin/sessions/archive instead of
	// the in-process ticker.
	ArchiveCron     string        `split_words:"true"`
	ShutdownTimeout time.Duration `split_words:"true" default:"15s"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appCfg := configx.MustNew[AppConfig]("APP")
	serverCfg := configx.MustNew[server.Config]("SERVER")

	resolver, err := tenantx.NewResolver(ctx, tenantx.FileLoader{Path: appCfg.TenantsFile})
	if err != nil {
		log.Fatal().Err(err).Str("file", appCfg.TenantsFile).Msg("failed to load tenants")
	}

	var db *bun.DB
	pgCfg := configx.MustNew[postgresx.Config]("POSTGRES")
	if pgCfg.Enabled() {
		db = postgresx.MustNew(ctx, *pgCfg)
		defer db.Close()
	}

	store := newStore(ctx, db)
	locker, closeLocker := newLocker()
	defer closeLocker()

	var (
		ledger    *toolx.LedgerPayments
		payments  toolx.Payments
		pLedger   contractx.PaymentLedger
		confirmer orchestratorx.PaymentConfirmer
	)
	if db != nil {
		ledger = toolx.NewLedgerPayments(db)
		if err := ledger.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate payment ledger")
		}
		payments = append(payments, ledger)
		pLedger, confirmer = ledger, ledger
	}
	midtransCfg := configx.MustNew[toolx.MidtransConfig]("MIDTRANS")
	if midtransCfg.Enabled() {
		payments = append(payments, toolx.NewMidtransPayments(*midtransCfg))
	}

	catalog, flusher := newCatalog()
	var images toolx.ImageMatcher
	imageCfg := configx.MustNew[toolx.ImageMatchConfig]("IMAGE_MATCH")
	if imageCfg.Enabled() {
		m, err := toolx.NewHTTPImageMatcher(*imageCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to configure image matcher")
		}
		images = m
	}

	var paymentProvider toolx.PaymentProvider
	if len(payments) > 0 {
		paymentProvider = payments
	}
	gateway := toolx.NewGateway(catalog, paymentProvider, images, *configx.MustNew[toolx.Config]("TOOL"))

	var (
		intentModel contractx.IntentModel
		writer      contractx.Writer
	)
	llmCfg := configx.MustNew[llmx.Config]("LLM")
	if llmCfg.Enabled() {
		models, err := language.NewModels(ctx, *llmCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build language models")
		}
		intentModel, writer = models.Intent, models.Writer
	} else {
		log.Warn().Msg("LLM_API_KEY not set, running on heuristics and templates only")
	}

	notifier, closeNotifier := newNotifier()
	defer closeNotifier()

	qstashCfg := configx.MustNew[qstashx.Config]("QSTASH")
	qstashClient := qstashx.MustNew(*qstashCfg)

	classifier := intentx.New(intentModel, *configx.MustNew[intentx.Config]("INTENT"))
	policy := configx.MustNew[funnelx.Policy]("FUNNEL")
	policy.ConfidenceThreshold = classifier.Threshold()

	orchestrator, err := orchestratorx.New(orchestratorx.Deps{
		Tenants:    resolver,
		Store:      store,
		Locker:     locker,
		Classifier: classifier,
		Machine:    funnelx.New(*policy),
		Tools:      gateway,
		Composer:   replyx.New(writer, *configx.MustNew[replyx.Config]("REPLY")),
		Ledger:     pLedger,
		Confirmer:  confirmer,
		Notifier:   notifier,
	}, orchestratorx.Config{
		WindowSize:   appCfg.SessionWindow,
		ArchiveAfter: appCfg.ArchiveAfter,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build orchestrator")
	}

	deps := server.Deps{Dialogue: orchestrator, Tenants: resolver}
	if flusher != nil {
		deps.Catalog = flusher
	}
	if qstashCfg.CanVerify() {
		deps.Signatures = qstashClient
	}
	srv, err := server.New(*serverCfg, deps)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build server")
	}

	scheduleArchive(ctx, appCfg, serverCfg, qstashCfg, qstashClient, orchestrator)

	go func() {
		if err := srv.Run(); err != nil {
			log.Error().Err(err).Msg("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), appCfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("grace stopped")
}

func newStore(ctx context.Context, db *bun.DB) statex.Store {
	if db != nil {
		pg := statex.NewPostgresStore(db)
		if err := pg.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate session store")
		}
		log.Info().Msg("session store: postgres")
		return pg
	}

	upstashCfg := configx.MustNew[statex.UpstashRedisConfig]("UPSTASH_REDIS")
	if strings.TrimSpace(upstashCfg.URL) != "" {
		s, err := statex.NewUpstashRedisStore(*upstashCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to configure upstash session store")
		}
		log.Info().Msg("session store: upstash redis")
		return s
	}

	log.Warn().Msg("session store: in-memory, sessions are lost on restart")
	return statex.NewMemoryStore()
}

func newLocker() (statex.Locker, func()) {
	cfg := configx.MustNew[statex.RedisLockerConfig]("REDIS")
	if !cfg.Enabled() {
		return statex.NewLocalLocker(), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	log.Info().Str("addr", cfg.Addr).Msg("session locks: redis")
	return statex.NewRedisLocker(client, *cfg), func() { _ = client.Close() }
}

func newCatalog() (toolx.CatalogProvider, server.CacheFlusher) {
	shopifyCfg := configx.MustNew[toolx.ShopifyConfig]("SHOPIFY")
	if shopifyCfg.Enabled() {
		c := toolx.NewShopifyCatalog(*shopifyCfg)
		return c, c
	}

	esCfg := configx.MustNew[toolx.ElasticConfig]("ELASTIC")
	if esCfg.Enabled() {
		c, err := toolx.NewElasticsearchCatalog(*esCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to configure elasticsearch catalog")
		}
		return c, nil
	}

	log.Warn().Msg("no catalog provider configured, catalog lookups will report unavailable")
	return nil, nil
}

func newNotifier() (contractx.Notifier, func()) {
	notifiers := eventsx.Multi{eventsx.LogNotifier{}}
	closers := []func(){}

	natsCfg := configx.MustNew[eventsx.NATSConfig]("NATS")
	if natsCfg.Enabled() {
		js, err := eventsx.NewJetStreamNotifier(*natsCfg)
		if err != nil {
			log.Error().Err(err).Msg("jetstream notifier disabled")
		} else {
			notifiers = append(notifiers, js)
			closers = append(closers, js.Close)
		}
	}

	webhookCfg := configx.MustNew[eventsx.WebhookConfig]("WEBHOOK")
	qstashCfg := configx.MustNew[qstashx.Config]("QSTASH")
	if webhookCfg.Enabled() && qstashCfg.Enabled() {
		notifiers = append(notifiers, eventsx.NewWebhookNotifier(qstashx.MustNew(*qstashCfg), *webhookCfg))
	}

	return notifiers, func() {
		for _, c := range closers {
			c()
		}
	}
}

func scheduleArchive(
	ctx context.Context,
	appCfg *AppConfig,
	serverCfg *server.Config,
	qstashCfg *qstashx.Config,
	qstashClient *qstashx.Client,
	o *orchestratorx.Orchestrator,
) {
	if appCfg.ArchiveCron != "" && qstashCfg.Enabled() && serverCfg.PublicURL != "" {
		dest := strings.TrimRight(serverCfg.PublicURL, "/") + "/admin/sessions/archive"
		id, err := qstashClient.Schedule(ctx, dest, appCfg.ArchiveCron)
		if err == nil {
			log.Info().Str("schedule_id", id).Str("cron", appCfg.ArchiveCron).Msg("archive schedule registered")
			return
		}
		log.Error().Err(err).Msg("failed to register archive schedule, using local ticker")
	}

	if appCfg.ArchiveInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(appCfg.ArchiveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := o.ArchiveIdle(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error().Err(err).Msg("archive idle sessions failed")
				}
			}
		}
	}()
}
