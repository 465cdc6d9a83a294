package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/inbox-autoresponder/internal/config"
	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
	"github.com/kirillkom/inbox-autoresponder/internal/core/ports"
	"github.com/kirillkom/inbox-autoresponder/internal/core/usecase"
	"github.com/kirillkom/inbox-autoresponder/internal/infrastructure/auth/oauthtoken"
	"github.com/kirillkom/inbox-autoresponder/internal/infrastructure/cache/redisguard"
	"github.com/kirillkom/inbox-autoresponder/internal/infrastructure/extractor"
	"github.com/kirillkom/inbox-autoresponder/internal/infrastructure/graph/neo4jcontacts"
	"github.com/kirillkom/inbox-autoresponder/internal/infrastructure/llm/openai"
	"github.com/kirillkom/inbox-autoresponder/internal/infrastructure/mailbox/goimap"
	"github.com/kirillkom/inbox-autoresponder/internal/infrastructure/mailbox/mimeparse"
	"github.com/kirillkom/inbox-autoresponder/internal/infrastructure/notify"
	"github.com/kirillkom/inbox-autoresponder/internal/infrastructure/queue/nats"
	"github.com/kirillkom/inbox-autoresponder/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/inbox-autoresponder/internal/infrastructure/resilience"
	"github.com/kirillkom/inbox-autoresponder/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/inbox-autoresponder/internal/infrastructure/transport/gmailapi"
	"github.com/kirillkom/inbox-autoresponder/internal/infrastructure/transport/smtpsend"
	"github.com/kirillkom/inbox-autoresponder/internal/observability/metrics"
)

const (
	processTimeout = 5 * time.Minute
	queueCapacity  = 256
	idleRenew      = 25 * time.Minute
	webhookTimeout = 10 * time.Second
	smtpTimeout    = 30 * time.Second
)

// Admin holds what the operator surfaces need: the store, the admin use
// cases and a health check. It never touches the mailbox or the LLM.
type Admin struct {
	Config config.Config

	DB       *sql.DB
	Service  *usecase.AdminService
	Uploader *usecase.KnowledgeUploadUseCase

	storage  *localfs.Storage
	closeFns []func()
}

// App is the worker: an Admin plus the mail pipeline.
type App struct {
	*Admin

	Metrics  *metrics.PipelineMetrics
	Watcher  *usecase.MailboxWatcher
	Pipeline *usecase.Pipeline
	Queue    chan domain.Message
}

// Migrate applies the schema and returns.
func Migrate(ctx context.Context, cfg config.Config) error {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func NewAdmin(ctx context.Context, cfg config.Config) (*Admin, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	a := &Admin{Config: cfg, DB: db}
	a.onClose(func() { _ = db.Close() })

	if err := postgres.EnsureSchema(ctx, db); err != nil {
		a.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}
	a.storage = storage

	a.Service = usecase.NewAdminService(
		postgres.NewEscalationRepository(db),
		postgres.NewOutcomeRepository(db),
		postgres.NewWatermarkRepository(db),
	)
	a.Uploader = usecase.NewKnowledgeUploadUseCase(postgres.NewKnowledgeRepository(db), storage, cfg.KnowledgeBucket)
	return a, nil
}

// Health pings the database.
func (a *Admin) Health(ctx context.Context) error {
	return a.DB.PingContext(ctx)
}

func (a *Admin) onClose(fn func()) {
	a.closeFns = append(a.closeFns, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *Admin) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	admin, err := NewAdmin(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app := &App{
		Admin:   admin,
		Metrics: metrics.NewPipelineMetrics("worker"),
		Queue:   make(chan domain.Message, queueCapacity),
	}
	if err := app.wire(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config
	mailbox := cfg.MailboxIdentity()

	watermarks := postgres.NewWatermarkRepository(a.DB)
	outcomes := postgres.NewOutcomeRepository(a.DB)
	escalations := postgres.NewEscalationRepository(a.DB)
	catalog := postgres.NewKnowledgeRepository(a.DB)

	contacts, err := a.contactHistory(ctx, outcomes)
	if err != nil {
		return err
	}

	observe := a.Metrics.ObserveBreakerState
	persistExec := resilience.NewExecutor(resilience.PersistenceConfig())
	dispatchExec := resilience.NewExecutor(resilience.DispatchConfig(cfg.DispatchMaxAttempts))
	notifyExec := resilience.NewExecutor(resilience.NotifyConfig().WithStateObserver(observe))

	pool, err := usecase.NewCredentialPool(cfg.LLMAPIKeys)
	if err != nil {
		return fmt.Errorf("init credential pool: %w", err)
	}
	llmClient := openai.New(cfg.LLMBaseURL, cfg.LLMModel, cfg.LLMTimeout, cfg.LLMRequestsPerSecond,
		openai.WithExecutor(resilience.NewExecutor(resilience.CredentialConfig().WithStateObserver(observe))))
	completer := usecase.NewFailoverCompleter(pool, llmClient, a.Metrics)

	var refresh *oauthtoken.RefreshSource
	var tokens ports.TokenSource = oauthtoken.Password{}
	if cfg.OAuthRefreshToken != "" {
		refresh = oauthtoken.NewRefreshSource(oauthtoken.Config{
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			RefreshToken: cfg.OAuthRefreshToken,
			TokenURL:     cfg.OAuthTokenURL,
		})
		tokens = refresh
	}

	transport, err := a.mailTransport(ctx, tokens, refresh)
	if err != nil {
		return err
	}

	var guard ports.SendGuard
	if cfg.RedisURL != "" {
		g, rdb, err := redisguard.Dial(cfg.RedisURL, cfg.SendGuardTTL)
		if err != nil {
			return fmt.Errorf("init send guard: %w", err)
		}
		a.onClose(func() { _ = rdb.Close() })
		if err := g.Ping(ctx); err != nil {
			slog.Warn("send_guard_unreachable", "error", err)
		}
		guard = g
	}

	notifiers, err := a.escalationNotifiers(transport, notifyExec)
	if err != nil {
		return err
	}

	classifier := usecase.NewClassifier(completer, contacts, usecase.ClassifierConfig{
		UrgencyKeywords: cfg.EscalationUrgencyKeywords,
		RepeatWindow:    cfg.EscalationRepeatWindow,
	})
	knowledge := usecase.NewKnowledgeRetriever(catalog, a.storage, extractor.NewRouter(), usecase.KnowledgeConfig{
		Owner:            cfg.KnowledgeOwner,
		Bucket:           cfg.KnowledgeBucket,
		DocumentCap:      cfg.KnowledgeDocumentCap,
		TotalCap:         cfg.KnowledgeTotalCap,
		TruncationMarker: cfg.KnowledgeTruncationMarker,
	})
	generator := usecase.NewResponseGenerator(completer, usecase.GeneratorConfig{
		Temperature: cfg.LLMTemperature,
		MaxTokens:   cfg.LLMMaxTokens,
	})
	dispatcher := usecase.NewDispatcher(transport, guard, dispatchExec, usecase.DispatcherConfig{
		Mailbox:  mailbox,
		From:     cfg.DispatchFrom,
		MinDelay: cfg.DispatchMinDelay,
	}, a.Metrics)
	escalator := usecase.NewEscalationManager(escalations, notifiers, usecase.EscalationConfig{
		Mailbox:         mailbox,
		RepeatThreshold: cfg.EscalationRepeatThreshold,
	}, a.Metrics)
	analytics := usecase.NewAnalyticsRecorder(outcomes, contacts)

	a.Pipeline = usecase.NewPipeline(
		classifier,
		knowledge,
		generator,
		dispatcher,
		escalator,
		analytics,
		watermarks,
		persistExec,
		usecase.PipelineConfig{Mailbox: mailbox, ProcessTimeout: processTimeout},
		a.Metrics,
	)

	dialer := goimap.NewDialer(goimap.Config{
		Host:      cfg.MailboxHost,
		Port:      cfg.MailboxPort,
		TLS:       cfg.MailboxTLS,
		Username:  cfg.MailboxUsername,
		Password:  cfg.MailboxPassword,
		Folder:    cfg.MailboxFolder,
		Writable:  cfg.MailboxMarkSeen,
		IdleRenew: idleRenew,
	})
	ingestor := usecase.NewMessageIngestor(mailbox, watermarks, mimeparse.NewParser(), cfg.MailboxMarkSeen)
	backoff := resilience.NewBackoff(cfg.MailboxReconnectBase, cfg.MailboxReconnectMax, 2, 0.2)
	a.Watcher = usecase.NewMailboxWatcher(mailbox, tokens, dialer, ingestor, backoff, a.Metrics)
	return nil
}

func (a *App) contactHistory(ctx context.Context, outcomes *postgres.OutcomeRepository) (ports.ContactHistory, error) {
	cfg := a.Config
	if cfg.ContactHistoryBackend != "neo4j" {
		return outcomes, nil
	}
	graph, err := neo4jcontacts.New(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, "")
	if err != nil {
		return nil, fmt.Errorf("init contact graph: %w", err)
	}
	a.onClose(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = graph.Close(closeCtx)
	})
	if err := graph.EnsureConstraints(ctx); err != nil {
		return nil, fmt.Errorf("ensure contact graph constraints: %w", err)
	}
	return graph, nil
}

func (a *App) mailTransport(ctx context.Context, tokens ports.TokenSource, refresh *oauthtoken.RefreshSource) (ports.MailTransport, error) {
	cfg := a.Config
	if cfg.DispatchTransport == "gmail" {
		if refresh == nil {
			return nil, errors.New("gmail transport requires OAUTH_REFRESH_TOKEN")
		}
		t, err := gmailapi.New(ctx, refresh)
		if err != nil {
			return nil, fmt.Errorf("init gmail transport: %w", err)
		}
		return t, nil
	}
	password := cfg.SMTPPassword
	if password == "" {
		password = cfg.MailboxPassword
	}
	return smtpsend.New(smtpsend.Config{
		Host:        cfg.SMTPHost,
		Port:        cfg.SMTPPort,
		ImplicitTLS: cfg.SMTPImplicitTLS,
		Username:    cfg.SMTPUsername,
		Password:    password,
		Timeout:     smtpTimeout,
	}, tokens), nil
}

func (a *App) escalationNotifiers(transport ports.MailTransport, exec *resilience.Executor) ([]ports.EscalationNotifier, error) {
	cfg := a.Config
	var notifiers []ports.EscalationNotifier
	if cfg.NATSURL != "" {
		publisher, err := nats.Connect(cfg.NATSURL, cfg.NATSSubject, nats.Options{ResilienceExecutor: exec})
		if err != nil {
			return nil, fmt.Errorf("init escalation queue: %w", err)
		}
		a.onClose(publisher.Close)
		notifiers = append(notifiers, publisher)
	}
	if cfg.EscalationWebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhook(cfg.EscalationWebhookURL, webhookTimeout, exec))
	}
	if len(cfg.EscalationAdminEmails) > 0 {
		notifiers = append(notifiers, notify.NewAdminEmail(transport, cfg.DispatchFrom, cfg.EscalationAdminEmails))
	}
	if len(notifiers) == 0 {
		return nil, errors.New("no escalation notifier configured")
	}
	return notifiers, nil
}
