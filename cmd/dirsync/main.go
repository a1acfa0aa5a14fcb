// dirsync propagates person-record changes from per-tenant relational
// source databases into a directory-service tree. It runs
// either as a forever CDC-consuming daemon (-action=etl, the default) or
// as a one-shot/sleep-forever bulk reconciliation (-action=initial_load).
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/hkdb/dirsync/internal/cipher"
	"github.com/hkdb/dirsync/internal/config"
	"github.com/hkdb/dirsync/internal/directory"
	"github.com/hkdb/dirsync/internal/fanout"
	"github.com/hkdb/dirsync/internal/initload"
	"github.com/hkdb/dirsync/internal/localdb"
	"github.com/hkdb/dirsync/internal/logging"
	"github.com/hkdb/dirsync/internal/person"
	"github.com/hkdb/dirsync/internal/reconcile"
	"github.com/hkdb/dirsync/internal/secrets"
	"github.com/hkdb/dirsync/internal/sourcedb"
	"github.com/hkdb/dirsync/internal/tenant"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "dirsync:", err)
		os.Exit(1)
	}
}

// run does all the configuration-time work that can fail with a clean
// exit code — non-zero only for configuration errors. Once the
// scheduler or initial-load runner starts, failures are logged and either
// hung on or terminated per the Terminate flag — they never reach here.
func run() error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	applyFlags(cfg)

	logging.Init(cfg.Verbose)
	log := logging.WithComponent("main")

	secretsDir := filepath.Join(os.TempDir(), "dirsync", "secrets")
	secretStore, err := secrets.NewStore(secretsDir, cfg.EncryptionPassword)
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	bindPassword, err := resolveSecret(secretStore, secrets.KeyBindPassword, cfg.BindPassword)
	if err != nil {
		return fmt.Errorf("resolve bind password: %w", err)
	}
	encryptionPassword, err := resolveSecret(secretStore, secrets.KeyEncryptionPassword, cfg.EncryptionPassword)
	if err != nil {
		return fmt.Errorf("resolve encryption password: %w", err)
	}

	ciph, err := cipher.New(encryptionPassword)
	if err != nil {
		return fmt.Errorf("cipher: %w", err)
	}
	var fixedIV []byte
	if hexIV := cfg.FixedCryptoIVHex; hexIV != "" {
		fixedIV, err = decodeFixedIV(hexIV)
		if err != nil {
			return fmt.Errorf("decode SYNC_FIXED_CRYPTO_IV: %w", err)
		}
		log.Warn().Msg("SYNC_FIXED_CRYPTO_IV set: password encryption is deterministic, test-only configuration")
	}

	dirGateway := directory.NewLDAPGateway(cfg.DirectoryURI, cfg.BindDN, bindPassword)
	if err := dirGateway.Bind(ctx); err != nil {
		return fmt.Errorf("initial LDAP bind: %w", err)
	}
	defer dirGateway.Close()

	pool, err := localdb.Open(filepath.Join(os.TempDir(), "dirsync", "fixture.db"))
	if err != nil {
		return fmt.Errorf("open fixture source database: %w", err)
	}
	defer pool.Close()
	if err := pool.Migrate(); err != nil {
		return fmt.Errorf("migrate fixture source database: %w", err)
	}

	tenants := buildTenants(cfg)

	readOnly := make([]bool, len(tenants))
	for i, t := range tenants {
		readOnly[i] = t.readOnly
	}
	pool.UpdateIdleConns(readOnly)
	go pool.StartCheckpointRoutine(ctx)

	rootDN := cfg.LDAPBaseDN
	isSharedDN := func(dn string) bool { return cfg.IsSharedTenant(dn) }
	fanoutQueue := fanout.NewQueue()
	reconciler := reconcile.New(dirGateway, ciph, fanoutQueue, rootDN, isSharedDN)
	reconciler.FixedIV = fixedIV

	switch cfg.Action {
	case config.ActionInitialLoad:
		return runInitialLoad(ctx, cfg, pool, reconciler, tenants)
	default:
		return runETL(ctx, cfg, pool, reconciler, fanoutQueue, ciph, tenants)
	}
}

// decodeFixedIV parses the hex-encoded 16-byte test-only IV override from
// SYNC_FIXED_CRYPTO_IV.
func decodeFixedIV(hexIV string) ([]byte, error) {
	iv, err := hex.DecodeString(hexIV)
	if err != nil {
		return nil, fmt.Errorf("not valid hex: %w", err)
	}
	if len(iv) != 16 {
		return nil, fmt.Errorf("must be 16 bytes, got %d", len(iv))
	}
	return iv, nil
}

func applyFlags(cfg *config.Config) {
	action := flag.String("action", string(cfg.Action), "etl or initial_load")
	verbose := flag.Bool("verbose", cfg.Verbose, "enable debug logging")
	terminate := flag.Bool("terminate", cfg.Terminate, "exit instead of hanging forever on fatal/initial-load completion")
	flag.Parse()

	cfg.Action = config.ActionMode(*action)
	cfg.Verbose = *verbose
	cfg.Terminate = *terminate
}

// resolveSecret reads key from the secret store, seeding it from envValue
// on first run so subsequent process restarts read from the keyring (or
// its encrypted-file fallback) instead of the environment.
func resolveSecret(store *secrets.Store, key, envValue string) (string, error) {
	v, err := store.Get(key)
	if err == nil {
		return v, nil
	}
	if err != secrets.ErrNotFound {
		return "", err
	}
	if envValue == "" {
		return "", fmt.Errorf("secrets: %s not found in store and no environment fallback provided", key)
	}
	if err := store.Set(key, envValue); err != nil {
		return "", err
	}
	return envValue, nil
}

// tenantRuntime bundles one configured tenant with its persistent
// *sql.DB-backed Source Gateway. "Per-tenant per-round" means per-round
// *use*, not per-round *open* — the underlying pool is held for the
// process lifetime rather than reopened every round.
type tenantRuntime struct {
	spec     config.TenantSpec
	baseDN   string
	shared   bool
	readOnly bool
	db       *localdb.DB
}

func buildTenants(cfg *config.Config) []tenantRuntime {
	out := make([]tenantRuntime, 0, len(cfg.Databases))
	for _, spec := range cfg.Databases {
		out = append(out, tenantRuntime{
			spec:     spec,
			baseDN:   cfg.BaseDN(spec.DB),
			shared:   cfg.IsSharedTenant(spec.DB),
			readOnly: cfg.IsReadOnly(spec.DB),
		})
	}
	return out
}

func (t *tenantRuntime) openGateway(pool *localdb.DB) sourcedb.Gateway {
	return sourcedb.NewSQLGateway(pool.DB, "persons", "event_log", t.readOnly)
}

func runETL(ctx context.Context, cfg *config.Config, pool *localdb.DB, reconciler *reconcile.Reconciler, queue *fanout.Queue, ciph *cipher.Cipher, tenants []tenantRuntime) error {
	var sharedTenant *tenantRuntime
	schedulerTenants := make([]tenant.Config, 0, len(tenants))
	for i := range tenants {
		t := &tenants[i]
		if t.shared {
			sharedTenant = t
		}
		schedulerTenants = append(schedulerTenants, tenant.Config{
			Label:    t.spec.Label,
			BaseDN:   t.baseDN,
			Shared:   t.shared,
			ReadOnly: t.readOnly,
			OpenRound: func(ctx context.Context) (sourcedb.Gateway, error) {
				return t.openGateway(pool), nil
			},
		})
	}

	var fanoutProcessor *fanout.Processor
	if sharedTenant != nil {
		sharedSource := sharedTenant.openGateway(pool)
		upsert := &sharedTenantUpserter{
			reconciler: reconciler,
			tenant:     reconcile.Tenant{Label: sharedTenant.spec.Label, BaseDN: sharedTenant.baseDN, Shared: true},
		}
		fanoutProcessor = fanout.NewProcessor(reconciler.Directory, ciph, sharedSource, upsert, sharedTenant.baseDN)
	}

	sched := tenant.NewScheduler(reconciler, fanoutProcessor, queue, schedulerTenants,
		cfg.MaxRecords, time.Duration(cfg.SleepSeconds)*time.Second, cfg.LivenessPath)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go awaitShutdown(cancel)

	log := logging.WithComponent("main")
	log.Info().Str("run_id", uuid.NewString()).Int("tenants", len(tenants)).Msg("starting etl scheduler")
	sched.Run(runCtx)
	return nil
}

func runInitialLoad(ctx context.Context, cfg *config.Config, pool *localdb.DB, reconciler *reconcile.Reconciler, tenants []tenantRuntime) error {
	reconciler.InitialLoad = true

	runnerTenants := make([]initload.Tenant, 0, len(tenants))
	for i := range tenants {
		t := &tenants[i]
		runnerTenants = append(runnerTenants, initload.Tenant{
			Config: reconcile.Tenant{Label: t.spec.Label, BaseDN: t.baseDN, Shared: t.shared},
			Source: t.openGateway(pool),
		})
	}

	runner := initload.New(reconciler.Directory, reconciler, initload.DefaultChunkSize, cfg.Terminate)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go awaitShutdown(cancel)

	err := runner.Run(runCtx, runnerTenants)
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	logging.WithComponent("main").Error().Err(err).Msg("initial load failed")
	if !cfg.Terminate {
		<-runCtx.Done()
	}
	return nil
}

// awaitShutdown cancels cancel on SIGINT/SIGTERM, the only cancellation
// this daemon recognizes; it responds to no other form of signal.
func awaitShutdown(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	cancel()
}

// sharedTenantUpserter adapts reconcile.Reconciler's four-argument Upsert
// to the narrow fanout.Upserter contract: end-of-cycle rename replay
// always targets the shared tenant as a regular, non-new event.
type sharedTenantUpserter struct {
	reconciler *reconcile.Reconciler
	tenant     reconcile.Tenant
}

func (u *sharedTenantUpserter) Upsert(ctx context.Context, row person.Record) error {
	_, err := u.reconciler.Upsert(ctx, u.tenant, row, false)
	return err
}
