package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	flag "github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/malbeclabs/rewards/api/handlers"
	"github.com/malbeclabs/rewards/api/server"
	"github.com/malbeclabs/rewards/distributor/pkg/engine"
	"github.com/malbeclabs/rewards/distributor/pkg/solbalance"
	"github.com/malbeclabs/rewards/distributor/pkg/store/postgres"
	"github.com/malbeclabs/rewards/distributor/pkg/treestore"
	"github.com/malbeclabs/rewards/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr  = "0.0.0.0:8080"
	defaultMetricsAddr = "0.0.0.0:0"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func envOverride(flagValue *string, key string) {
	if v := os.Getenv(key); v != "" {
		*flagValue = v
	}
}

func run() error {
	// A missing .env file is fine; real deployments use the environment.
	_ = godotenv.Load()

	verboseFlag := flag.Bool("verbose", false, "Enable verbose (debug) logging")
	logFormatFlag := flag.String("log-format", logger.FormatText, "Log format: text or json (or set LOG_FORMAT env var)")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "Address to listen on for the API (or set LISTEN_ADDR env var)")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "Address to listen on for prometheus metrics (empty disables)")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", 30*time.Second, "Maximum time to wait for in-flight requests during graceful shutdown")
	corsOriginsFlag := flag.String("cors-origins", "*", "Comma-separated allowed CORS origins (or set CORS_ORIGINS env var)")
	claimRateFlag := flag.Int("claim-rate-per-minute", 30, "Per-IP limit on state-changing requests per minute (0 disables)")
	ownerHeaderFlag := flag.String("owner-header", "", "Header set by an authenticating gateway to the caller's public key (or set OWNER_HEADER env var)")

	// PostgreSQL configuration
	pgHostFlag := flag.String("postgres-host", "localhost", "PostgreSQL host (or set POSTGRES_HOST env var)")
	pgPortFlag := flag.String("postgres-port", "5432", "PostgreSQL port (or set POSTGRES_PORT env var)")
	pgDatabaseFlag := flag.String("postgres-db", "", "PostgreSQL database (or set POSTGRES_DB env var)")
	pgUsernameFlag := flag.String("postgres-user", "", "PostgreSQL username (or set POSTGRES_USER env var)")
	pgPasswordFlag := flag.String("postgres-password", "", "PostgreSQL password (or set POSTGRES_PASSWORD env var)")
	pgSSLModeFlag := flag.String("postgres-sslmode", "disable", "PostgreSQL sslmode (or set POSTGRES_SSLMODE env var)")
	migrationsEnableFlag := flag.Bool("migrations-enable", false, "Run PostgreSQL migrations on startup (or set POSTGRES_RUN_MIGRATIONS=true)")

	// Solana configuration
	solanaRPCURLFlag := flag.String("solana-rpc-url", "", "Solana RPC URL for on-chain balances (or set SOLANA_RPC_URL env var)")

	// Tree artifact configuration
	treeDirFlag := flag.String("tree-dir", "", "Directory of merkle tree artifacts (or set TREE_DIR env var)")
	s3BucketFlag := flag.String("s3-bucket", "", "S3 bucket of merkle tree artifacts (or set S3_BUCKET env var)")
	s3PrefixFlag := flag.String("s3-prefix", "", "Key prefix of merkle tree artifacts (or set S3_PREFIX env var)")
	s3RegionFlag := flag.String("s3-region", "", "S3 region (or set AWS_REGION env var)")
	s3EndpointFlag := flag.String("s3-endpoint", "", "S3-compatible endpoint URL (or set S3_ENDPOINT env var)")

	// Sentry configuration
	sentryDSNFlag := flag.String("sentry-dsn", "", "Sentry DSN (or set SENTRY_DSN env var)")
	sentryEnvFlag := flag.String("sentry-environment", "development", "Sentry environment (or set SENTRY_ENVIRONMENT env var)")

	flag.Parse()

	envOverride(logFormatFlag, "LOG_FORMAT")
	envOverride(listenAddrFlag, "LISTEN_ADDR")
	envOverride(corsOriginsFlag, "CORS_ORIGINS")
	envOverride(ownerHeaderFlag, "OWNER_HEADER")
	envOverride(pgHostFlag, "POSTGRES_HOST")
	envOverride(pgPortFlag, "POSTGRES_PORT")
	envOverride(pgDatabaseFlag, "POSTGRES_DB")
	envOverride(pgUsernameFlag, "POSTGRES_USER")
	envOverride(pgPasswordFlag, "POSTGRES_PASSWORD")
	envOverride(pgSSLModeFlag, "POSTGRES_SSLMODE")
	envOverride(solanaRPCURLFlag, "SOLANA_RPC_URL")
	envOverride(treeDirFlag, "TREE_DIR")
	envOverride(s3BucketFlag, "S3_BUCKET")
	envOverride(s3PrefixFlag, "S3_PREFIX")
	envOverride(s3RegionFlag, "AWS_REGION")
	envOverride(s3EndpointFlag, "S3_ENDPOINT")
	envOverride(sentryDSNFlag, "SENTRY_DSN")
	envOverride(sentryEnvFlag, "SENTRY_ENVIRONMENT")
	if os.Getenv("POSTGRES_RUN_MIGRATIONS") == "true" {
		*migrationsEnableFlag = true
	}

	log, err := logger.New(logger.Config{Verbose: *verboseFlag, Format: *logFormatFlag})
	if err != nil {
		return err
	}

	if *sentryDSNFlag != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              *sentryDSNFlag,
			Environment:      *sentryEnvFlag,
			Release:          version,
			TracesSampleRate: 0.1,
		}); err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
		log.Info("sentry initialized", "environment", *sentryEnvFlag)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	connCfg := postgres.ConnConfig{
		Host:     *pgHostFlag,
		Port:     *pgPortFlag,
		Database: *pgDatabaseFlag,
		Username: *pgUsernameFlag,
		Password: *pgPasswordFlag,
		SSLMode:  *pgSSLModeFlag,
	}
	pool, err := postgres.NewPool(ctx, log, connCfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if *migrationsEnableFlag {
		if err := postgres.MigrateUp(ctx, log, connCfg.ConnString()); err != nil {
			return err
		}
	}

	clock := clockwork.NewRealClock()
	store, err := postgres.New(postgres.Config{Logger: log, Pool: pool, Clock: clock})
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}

	engineCfg := engine.Config{Logger: log, Clock: clock, Store: store}
	if *solanaRPCURLFlag != "" {
		balances, err := solbalance.New(solbalance.Config{Logger: log, RPC: solanarpc.New(*solanaRPCURLFlag)})
		if err != nil {
			return fmt.Errorf("failed to create balance reader: %w", err)
		}
		engineCfg.Balances = balances
	} else {
		log.Warn("no solana rpc url configured, on-chain balance pools will reject balance reads")
	}
	eng, err := engine.New(engineCfg)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	trees, err := newTreeStore(ctx, log, *treeDirFlag, *s3BucketFlag, *s3PrefixFlag, *s3RegionFlag, *s3EndpointFlag)
	if err != nil {
		return err
	}

	handlersCfg := handlers.Config{
		Logger:         log,
		Engine:         eng,
		Trees:          trees,
		Ready:          pool.Ping,
		AllowedOrigins: splitList(*corsOriginsFlag),
	}
	if *ownerHeaderFlag != "" {
		handlersCfg.Authorize = handlers.OwnerHeader(*ownerHeaderFlag)
	} else {
		log.Warn("api: state-changing routes are not authenticated; run behind a gateway that authenticates callers")
	}
	if *claimRateFlag > 0 {
		limiter := handlers.NewRateLimiter(rate.Every(time.Minute/time.Duration(*claimRateFlag)), 5)
		defer limiter.Stop()
		handlersCfg.Limiter = limiter
	}

	srv, err := server.New(server.Config{
		ListenAddr:      *listenAddrFlag,
		MetricsAddr:     *metricsAddrFlag,
		ShutdownTimeout: *shutdownTimeoutFlag,
		VersionInfo:     server.VersionInfo{Version: version, Commit: commit, Date: date},
		HandlersConfig:  handlersCfg,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	log.Info("rewards api starting", "version", version, "commit", commit)
	return srv.Run(ctx)
}

// newTreeStore prefers S3 when a bucket is set. Without either setting merkle proofs are
// not served.
func newTreeStore(ctx context.Context, log *slog.Logger, dir, bucket, prefix, region, endpoint string) (treestore.TreeStore, error) {
	switch {
	case bucket != "":
		client, err := treestore.NewS3Client(ctx, region, endpoint)
		if err != nil {
			return nil, err
		}
		return treestore.NewS3(treestore.S3Config{Logger: log, Client: client, Bucket: bucket, Prefix: prefix})
	case dir != "":
		return treestore.NewDir(treestore.DirConfig{Logger: log, Dir: dir})
	default:
		log.Warn("no tree store configured, merkle proof lookups are disabled")
		return nil, nil
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
