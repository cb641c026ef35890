package routes

import (
	"context"
	"log/slog"

	"github.com/payease/payease/internal/auth"
	"github.com/payease/payease/internal/identity"
	"github.com/payease/payease/internal/ledger"
	"github.com/payease/payease/internal/logging"
	"github.com/payease/payease/internal/notification"
	"github.com/payease/payease/internal/payments"
	"github.com/payease/payease/internal/twofactor"
	"github.com/payease/payease/internal/wallet"
)

// Services holds the wired application services. Postgres-backed stores are
// used when Deps.DB is set and Redis-backed ones when Deps.Cache is set;
// otherwise the in-memory implementations stand in.
type Services struct {
	Accounts *identity.Service
	Wallets  *wallet.Service
	Issuer   *auth.Issuer
	Logins   *twofactor.Manager
	Payments *payments.Coordinator
	Notices  *notification.Dispatcher
	Logger   *slog.Logger
}

// Build wires the services for d.
func Build(ctx context.Context, d Deps) (*Services, error) {
	cfg := d.Cfg
	log := d.Logger
	if log == nil {
		log = logging.Discard()
	}

	var (
		ledgerBackend ledger.Ledger
		walletRepo    wallet.Repository
		identityRepo  identity.Repository
		paymentRepo   payments.Repository
	)
	if d.DB != nil {
		ledgerBackend = ledger.NewPostgresLedger(d.DB)
		walletRepo = wallet.NewPostgresRepository(d.DB)
		identityRepo = identity.NewPostgresRepository(d.DB)
		paymentRepo = payments.NewPostgresRepository(d.DB)
	} else {
		log.Warn("no database configured, using in-memory stores")
		ledgerBackend = ledger.NewInMemory()
		walletRepo = wallet.NewMemoryRepository()
		identityRepo = identity.NewMemoryRepository()
		paymentRepo = payments.NewMemoryRepository()
	}
	if err := ledger.EnsureSystemAccounts(ctx, ledgerBackend); err != nil {
		return nil, err
	}

	var (
		sessions    auth.SessionStore
		challenges  twofactor.ChallengeStore
		enrollments twofactor.EnrollmentStore
		notifier    notification.Notifier
	)
	if d.Cache != nil {
		sessions = auth.NewRedisSessionStore(d.Cache)
		challenges = twofactor.NewRedisChallengeStore(d.Cache)
		enrollments = twofactor.NewRedisEnrollmentStore(d.Cache)
		notifier = notification.NewRedisQueue(d.Cache, notification.DefaultOutbox)
	} else {
		log.Warn("no redis configured, sessions and challenges are process-local")
		sessions = auth.NewMemorySessionStore()
		challenges = twofactor.NewMemoryChallengeStore()
		enrollments = twofactor.NewMemoryEnrollmentStore()
		notifier = notification.NewLoggerNotifier(log)
	}

	wallets := wallet.NewService(walletRepo, ledgerBackend)
	accounts := identity.NewService(identityRepo,
		identity.WithBalances(wallets),
		identity.WithTimeout(cfg.CollaboratorTimeout),
	)
	issuer := auth.NewIssuer(auth.IssuerConfig{
		Secret:  cfg.SessionSecret,
		TTL:     cfg.SessionTTL,
		Timeout: cfg.CollaboratorTimeout,
	}, sessions, accounts, log)
	notices := notification.NewDispatcher(notifier, cfg.CollaboratorTimeout, log)

	logins := twofactor.NewManager(twofactor.Config{
		ChallengeTTL:  cfg.ChallengeTTL,
		EnrollmentTTL: cfg.EnrollmentTTL,
		MaxAttempts:   cfg.ChallengeMaxAttempts,
		Issuer:        cfg.TOTPIssuer,
		Timeout:       cfg.CollaboratorTimeout,
	}, twofactor.Deps{
		Credentials: accounts,
		Accounts:    accounts,
		Sessions:    issuer,
		Challenges:  challenges,
		Enrollments: enrollments,
		Notices:     notices,
		Logger:      log,
	})

	coordinator := payments.NewCoordinator(payments.Config{
		Timeout:             cfg.CollaboratorTimeout,
		LowBalanceThreshold: cfg.LowBalanceThreshold,
	}, paymentRepo, payments.NewSimulatedExecutor(wallets, cfg.PendingPolls), wallets, notices, log,
		payments.WithRecipients(accounts),
	)

	log.Info("services wired",
		slog.Bool("postgres", d.DB != nil),
		slog.Bool("redis", d.Cache != nil),
	)
	return &Services{
		Accounts: accounts,
		Wallets:  wallets,
		Issuer:   issuer,
		Logins:   logins,
		Payments: coordinator,
		Notices:  notices,
		Logger:   log,
	}, nil
}
