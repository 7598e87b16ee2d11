package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/rewards/admin/internal/admin"
	"github.com/malbeclabs/rewards/distributor/pkg/engine"
	"github.com/malbeclabs/rewards/distributor/pkg/revocation"
	"github.com/malbeclabs/rewards/distributor/pkg/rewards"
	"github.com/malbeclabs/rewards/distributor/pkg/vesting"
	"github.com/malbeclabs/rewards/utils/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")

	// PostgreSQL configuration
	pgHostFlag := flag.String("postgres-host", "localhost", "PostgreSQL host (or set POSTGRES_HOST env var)")
	pgPortFlag := flag.String("postgres-port", "5432", "PostgreSQL port (or set POSTGRES_PORT env var)")
	pgDatabaseFlag := flag.String("postgres-db", "", "PostgreSQL database (or set POSTGRES_DB env var)")
	pgUsernameFlag := flag.String("postgres-user", "", "PostgreSQL username (or set POSTGRES_USER env var)")
	pgPasswordFlag := flag.String("postgres-password", "", "PostgreSQL password (or set POSTGRES_PASSWORD env var)")
	pgSSLModeFlag := flag.String("postgres-sslmode", "disable", "PostgreSQL sslmode (or set POSTGRES_SSLMODE env var)")

	// Commands
	pgMigrateFlag := flag.Bool("pg-migrate", false, "Run PostgreSQL migrations using goose")
	pgMigrateDownFlag := flag.Bool("pg-migrate-down", false, "Roll back the last PostgreSQL migration")
	pgMigrateStatusFlag := flag.Bool("pg-migrate-status", false, "Show PostgreSQL migration status")
	buildTreeFlag := flag.Bool("build-merkle-tree", false, "Build a merkle tree artifact from an allocations file")
	verifyProofFlag := flag.Bool("verify-proof", false, "Verify a claimant's proof in a tree artifact file")
	createDirectFlag := flag.Bool("create-direct-distribution", false, "Create a direct distribution (--address, --mint, --revocable)")
	addRecipientFlag := flag.Bool("add-recipient", false, "Add and fund a direct recipient (--address, --user, --amount, --schedule)")
	createMerkleFlag := flag.Bool("create-merkle-distribution", false, "Create and fund a merkle distribution from --tree-file (--address, --mint, --revocable, --clawback-ts)")
	createPoolFlag := flag.Bool("create-pool", false, "Create a reward pool (--address, --mint, --reward-mint, --balance-source, --revocable, --clawback-ts)")
	setBalanceFlag := flag.Bool("set-balance", false, "Set a user's balance in an authority_set pool (--address, --user, --balance)")
	distributeFlag := flag.Bool("distribute-reward", false, "Distribute rewards to a pool (--address, --amount)")
	revokeFlag := flag.Bool("revoke", false, "Revoke a user (--target, --address, --user, --mode; merkle also --tree-file)")
	closeFlag := flag.Bool("close", false, "Close a distribution or pool and return its reserve (--target, --address)")

	// Tree options
	allocationsFileFlag := flag.String("allocations-file", "", "Allocations JSON file for --build-merkle-tree")
	decimalsFlag := flag.Uint8("decimals", 9, "Mint decimals used to render UI amounts")
	treeOutFlag := flag.String("tree-out", "", "Write the tree artifact to this file")
	s3BucketFlag := flag.String("s3-bucket", "", "Upload the tree artifact to this bucket (or set S3_BUCKET env var)")
	s3KeyFlag := flag.String("s3-key", "", "Object key of the uploaded tree artifact")
	s3RegionFlag := flag.String("s3-region", "", "S3 region (or set AWS_REGION env var)")
	s3EndpointFlag := flag.String("s3-endpoint", "", "S3-compatible endpoint URL (or set S3_ENDPOINT env var)")
	treeFileFlag := flag.String("tree-file", "", "Tree artifact file for --verify-proof")
	claimantFlag := flag.String("claimant", "", "Claimant public key for --verify-proof")

	// Authority options
	authorityFlag := flag.String("authority", "", "Authority public key (or set REWARDS_AUTHORITY env var)")
	addressFlag := flag.String("address", "", "Distribution or pool address")
	userFlag := flag.String("user", "", "Recipient, claimant or pool user")
	mintFlag := flag.String("mint", "", "Distributed mint, or the tracked mint of a pool")
	rewardMintFlag := flag.String("reward-mint", "", "Reward mint of a pool (defaults to --mint)")
	revocableFlag := flag.String("revocable", "none", "Permitted revoke modes: none, non_vested, full or non_vested,full")
	clawbackTSFlag := flag.Int64("clawback-ts", 0, "Earliest unix time the distribution or pool may be closed (0 means any time)")
	amountFlag := flag.Uint64("amount", 0, "Token amount")
	balanceFlag := flag.Uint64("balance", 0, "Tracked balance for --set-balance")
	scheduleFlag := flag.String("schedule", `{"type":"immediate"}`, "Vesting schedule JSON for --add-recipient")
	balanceSourceFlag := flag.String("balance-source", "on_chain", "Pool balance source: on_chain or authority_set")
	modeFlag := flag.String("mode", "non_vested", "Revoke mode: non_vested or full")
	targetFlag := flag.String("target", "", "Kind of distribution for --revoke and --close: direct, merkle or pool")

	flag.Parse()

	log, err := logger.New(logger.Config{Verbose: *verboseFlag})
	if err != nil {
		return err
	}

	// Override flags with environment variables if set
	for flagValue, key := range map[*string]string{
		pgHostFlag:     "POSTGRES_HOST",
		pgPortFlag:     "POSTGRES_PORT",
		pgDatabaseFlag: "POSTGRES_DB",
		pgUsernameFlag: "POSTGRES_USER",
		pgPasswordFlag: "POSTGRES_PASSWORD",
		pgSSLModeFlag:  "POSTGRES_SSLMODE",
		s3BucketFlag:   "S3_BUCKET",
		s3RegionFlag:   "AWS_REGION",
		s3EndpointFlag: "S3_ENDPOINT",
		authorityFlag:  "REWARDS_AUTHORITY",
	} {
		if v := os.Getenv(key); v != "" {
			*flagValue = v
		}
	}

	ctx := context.Background()
	pgCfg := admin.PgConfig{
		Host:     *pgHostFlag,
		Port:     *pgPortFlag,
		Database: *pgDatabaseFlag,
		Username: *pgUsernameFlag,
		Password: *pgPasswordFlag,
		SSLMode:  *pgSSLModeFlag,
	}

	// Execute commands
	if *pgMigrateFlag {
		return admin.PgMigrateUp(ctx, log, pgCfg)
	}

	if *pgMigrateDownFlag {
		return admin.PgMigrateDown(ctx, log, pgCfg)
	}

	if *pgMigrateStatusFlag {
		return admin.PgMigrateStatus(ctx, log, pgCfg)
	}

	if *buildTreeFlag {
		_, err := admin.BuildTree(ctx, log, os.Stdout, admin.BuildTreeConfig{
			AllocationsFile: *allocationsFileFlag,
			Decimals:        *decimalsFlag,
			TreeOut:         *treeOutFlag,
			S3Bucket:        *s3BucketFlag,
			S3Key:           *s3KeyFlag,
			S3Region:        *s3RegionFlag,
			S3Endpoint:      *s3EndpointFlag,
		})
		return err
	}

	if *verifyProofFlag {
		if *treeFileFlag == "" || *claimantFlag == "" {
			return fmt.Errorf("--tree-file and --claimant are required for --verify-proof")
		}
		return admin.VerifyProof(log, os.Stdout, *treeFileFlag, *claimantFlag)
	}

	if *createDirectFlag || *addRecipientFlag || *createMerkleFlag || *createPoolFlag ||
		*setBalanceFlag || *distributeFlag || *revokeFlag || *closeFlag {
		authority, err := admin.ParseKey("authority", *authorityFlag)
		if err != nil {
			return err
		}
		address, err := admin.ParseKey("address", *addressFlag)
		if err != nil {
			return err
		}
		e, closeDB, err := admin.OpenEngine(ctx, log, pgCfg)
		if err != nil {
			return err
		}
		defer closeDB()
		op := &admin.Operator{Engine: e, Authority: authority, Out: os.Stdout}

		switch {
		case *createDirectFlag:
			mint, err := admin.ParseKey("mint", *mintFlag)
			if err != nil {
				return err
			}
			revocable, err := revocation.ParseCapabilities(*revocableFlag)
			if err != nil {
				return err
			}
			return op.CreateDirect(ctx, address, mint, *decimalsFlag, revocable)

		case *addRecipientFlag:
			user, err := admin.ParseKey("user", *userFlag)
			if err != nil {
				return err
			}
			var schedule vesting.Descriptor
			if err := json.Unmarshal([]byte(*scheduleFlag), &schedule); err != nil {
				return fmt.Errorf("invalid --schedule: %w", err)
			}
			return op.AddRecipient(ctx, address, user, *amountFlag, schedule)

		case *createMerkleFlag:
			if *treeFileFlag == "" {
				return fmt.Errorf("--tree-file is required for --create-merkle-distribution")
			}
			mint, err := admin.ParseKey("mint", *mintFlag)
			if err != nil {
				return err
			}
			revocable, err := revocation.ParseCapabilities(*revocableFlag)
			if err != nil {
				return err
			}
			return op.CreateMerkle(ctx, address, mint, *treeFileFlag, revocable, *clawbackTSFlag)

		case *createPoolFlag:
			mint, err := admin.ParseKey("mint", *mintFlag)
			if err != nil {
				return err
			}
			rewardMint := mint
			if *rewardMintFlag != "" {
				if rewardMint, err = admin.ParseKey("reward-mint", *rewardMintFlag); err != nil {
					return err
				}
			}
			source, err := rewards.ParseBalanceSource(*balanceSourceFlag)
			if err != nil {
				return err
			}
			revocable, err := revocation.ParseCapabilities(*revocableFlag)
			if err != nil {
				return err
			}
			return op.CreatePool(ctx, engine.CreatePoolParams{
				Address:       address,
				TrackedMint:   mint,
				RewardMint:    rewardMint,
				Decimals:      *decimalsFlag,
				BalanceSource: source,
				Revocable:     revocable,
				ClawbackTS:    *clawbackTSFlag,
			})

		case *setBalanceFlag:
			user, err := admin.ParseKey("user", *userFlag)
			if err != nil {
				return err
			}
			return op.SetBalance(ctx, address, user, *balanceFlag)

		case *distributeFlag:
			return op.DistributeReward(ctx, address, *amountFlag)

		case *revokeFlag:
			target, err := admin.ParseTarget(*targetFlag)
			if err != nil {
				return err
			}
			user, err := admin.ParseKey("user", *userFlag)
			if err != nil {
				return err
			}
			mode, err := revocation.ParseMode(*modeFlag)
			if err != nil {
				return err
			}
			return op.Revoke(ctx, target, address, user, mode, *treeFileFlag)

		default:
			target, err := admin.ParseTarget(*targetFlag)
			if err != nil {
				return err
			}
			return op.Close(ctx, target, address)
		}
	}

	flag.Usage()
	return nil
}
