// Command txbuild-server runs the transaction build server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/rpcclient"
	grpcZap "github.com/grpc-ecosystem/go-grpc-middleware/logging/zap"
	"github.com/jessevdk/go-flags"
	"github.com/redis/go-redis/v9"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/clock"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/metrics"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/protocol"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/transport"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/artifact"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/assembler"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/audit"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/boltdb"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/custody"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/dispatcher"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/evaluator"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/finalizer"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/identity"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/node"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/repository/clickhouse"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/reservation"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/server"
)

type config struct {
	Addr             string `long:"addr" env:"TXBUILD_ADDR" description:"command listener address" default:":7000"`
	OpsAddr          string `long:"ops-addr" env:"TXBUILD_OPS_ADDR" description:"metrics and health HTTP address" default:":2112"`
	GRPCAddr         string `long:"grpc-addr" env:"TXBUILD_GRPC_ADDR" description:"gRPC health address" default:":7001"`
	Network          string `long:"network" env:"TXBUILD_NETWORK" description:"network name used in metrics" default:"testnet"`
	NetworkID        uint8  `long:"network-id" env:"TXBUILD_NETWORK_ID" description:"address network id" default:"0"`
	AddressHRP       string `long:"address-hrp" env:"TXBUILD_ADDRESS_HRP" description:"bech32 prefix of payment addresses" default:"addr_test"`
	MinFeeA          uint64 `long:"min-fee-a" env:"TXBUILD_MIN_FEE_A" description:"fee per transaction byte" default:"44"`
	MinFeeB          uint64 `long:"min-fee-b" env:"TXBUILD_MIN_FEE_B" description:"constant fee per transaction" default:"155381"`
	CoinsPerUTxOByte uint64 `long:"coins-per-utxo-byte" env:"TXBUILD_COINS_PER_UTXO_BYTE" description:"min-ADA price per output byte" default:"4310"`
	KeyDeposit       uint64 `long:"key-deposit" env:"TXBUILD_KEY_DEPOSIT" description:"stake key registration deposit" default:"2000000"`
	StoreDriver      string `long:"store" env:"TXBUILD_STORE" description:"reservation and artifact backend" choice:"redis" choice:"bolt" default:"redis"`

	RedisAddr     string `long:"redis-addr" env:"TXBUILD_REDIS_ADDR" description:"redis address" default:"127.0.0.1:6379"`
	RedisPassword string `long:"redis-password" env:"TXBUILD_REDIS_PASSWORD" description:"redis password"`
	RedisDB       int    `long:"redis-db" env:"TXBUILD_REDIS_DB" description:"redis database" default:"0"`
	RedisPrefix   string `long:"redis-prefix" env:"TXBUILD_REDIS_PREFIX" description:"redis key prefix" default:"txbuild:"`
	BoltPath      string `long:"bolt-path" env:"TXBUILD_BOLT_PATH" description:"bolt database file" default:"data/txbuild.db"`

	RPCURL      string `long:"rpc-url" env:"TXBUILD_RPC_URL" description:"ledger gateway RPC URL" default:"http://127.0.0.1:8090"`
	RPCUser     string `long:"rpc-user" env:"TXBUILD_RPC_USER" description:"ledger gateway RPC username"`
	RPCPassword string `long:"rpc-password" env:"TXBUILD_RPC_PASSWORD" description:"ledger gateway RPC password"`
	RPCRPS      int    `long:"rpc-rps" env:"TXBUILD_RPC_RPS" description:"ledger gateway requests per second, 0 for unlimited" default:"50"`

	IdentityURL      string        `long:"identity-url" env:"TXBUILD_IDENTITY_URL" description:"identity provider base URL" required:"true"`
	IdentityTimeout  time.Duration `long:"identity-timeout" env:"TXBUILD_IDENTITY_TIMEOUT" description:"identity provider request timeout" default:"5s"`
	IdentityCacheTTL time.Duration `long:"identity-cache-ttl" env:"TXBUILD_IDENTITY_CACHE_TTL" description:"how long a verified token is trusted" default:"5m"`
	CustodyDir       string        `long:"custody-dir" env:"TXBUILD_CUSTODY_DIR" description:"directory of custodial signing keys"`
	ClickhouseDSN    string        `long:"clickhouse-dsn" env:"TXBUILD_CLICKHOUSE_DSN" description:"ClickHouse DSN for the audit trail; audit goes to the log when empty"`

	IdleTimeout       time.Duration `long:"idle-timeout" env:"TXBUILD_IDLE_TIMEOUT" description:"close connections idle this long" default:"5m"`
	WriteTimeout      time.Duration `long:"write-timeout" env:"TXBUILD_WRITE_TIMEOUT" description:"reply write timeout" default:"10s"`
	ReservationTTL    time.Duration `long:"reservation-ttl" env:"TXBUILD_RESERVATION_TTL" description:"how long built inputs stay reserved" default:"10m"`
	ValidityWindow    uint64        `long:"validity-window" env:"TXBUILD_VALIDITY_WINDOW" description:"slots added to the current slot for the TTL" default:"7200"`
	LedgerTimeout     time.Duration `long:"ledger-timeout" env:"TXBUILD_LEDGER_TIMEOUT" description:"ledger query timeout" default:"10s"`
	SubmitTimeout     time.Duration `long:"submit-timeout" env:"TXBUILD_SUBMIT_TIMEOUT" description:"submit timeout" default:"30s"`
	SweepInterval     time.Duration `long:"sweep-interval" env:"TXBUILD_SWEEP_INTERVAL" description:"bolt expiry sweep interval" default:"1m"`
	HealthInterval    time.Duration `long:"health-interval" env:"TXBUILD_HEALTH_INTERVAL" description:"dependency check interval" default:"15s"`
	ShutdownGrace     time.Duration `long:"shutdown-grace" env:"TXBUILD_SHUTDOWN_GRACE" description:"time allowed for in-flight commands after a signal" default:"30s"`
	DrainGrace        time.Duration `long:"drain-grace" env:"TXBUILD_DRAIN_GRACE" description:"time a half-read frame may hold a connection after a signal" default:"5s"`
	MaxFrameBytes     int           `long:"max-frame-bytes" env:"TXBUILD_MAX_FRAME_BYTES" description:"largest accepted bulk string" default:"4194304"`
	MaxArrayElements  int           `long:"max-array-elements" env:"TXBUILD_MAX_ARRAY_ELEMENTS" description:"largest accepted array" default:"1024"`
	AuditFlushSize    int           `long:"audit-flush-size" env:"TXBUILD_AUDIT_FLUSH_SIZE" description:"audit events per ClickHouse batch" default:"500"`
	AuditFlushTimeout time.Duration `long:"audit-flush-interval" env:"TXBUILD_AUDIT_FLUSH_INTERVAL" description:"audit flush interval" default:"2s"`
}

func main() {
	cfg := config{}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic("can't initialize zap logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync()
	}()
	grpcZap.ReplaceGrpcLoggerV2(logger)

	if _, err := flags.ParseArgs(&cfg, os.Args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		logger.Fatal("failed to parse flags", zap.Error(err))
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("txbuild server failed", zap.Error(err))
	}
}

type (
	artifactStore interface {
		assembler.ArtifactStore
		finalizer.ArtifactStore
	}
	reservationStore interface {
		assembler.Reservations
		finalizer.Reservations
	}
	auditor interface {
		Record(ctx context.Context, e model.AuditEvent)
	}
)

func run(ctx context.Context, cfg config, logger *zap.Logger) error {
	// Background workers outlive ctx until the command server has drained.
	bgCtx, stopBackground := context.WithCancel(context.WithoutCancel(ctx))
	var bg sync.WaitGroup
	defer func() {
		stopBackground()
		bg.Wait()
	}()
	goBackground := func(f func(context.Context)) {
		bg.Add(1)
		go func() {
			defer bg.Done()
			f(bgCtx)
		}()
	}

	probes := map[string]transport.Probe{}

	artifacts, reservations, closeStores, err := openStores(cfg, probes, goBackground, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	rpcClient, err := newRPCClient(cfg.RPCURL, cfg.RPCUser, cfg.RPCPassword)
	if err != nil {
		return fmt.Errorf("init ledger rpc client: %w", err)
	}
	defer func() {
		rpcClient.Shutdown()
		rpcClient.WaitForShutdown()
	}()
	ledgerClient, err := node.NewClient(rpcClient, metrics.NewRPCClient(cfg.Network), cfg.RPCRPS)
	if err != nil {
		return fmt.Errorf("init ledger client: %w", err)
	}
	probes["ledger"] = transport.ProbeFunc(func(ctx context.Context) error {
		_, err := ledgerClient.CurrentSlot(ctx)
		return err
	})

	idp, err := identity.New(ctx, identity.Config{
		BaseURL:  cfg.IdentityURL,
		Timeout:  cfg.IdentityTimeout,
		CacheTTL: cfg.IdentityCacheTTL,
	}, logger)
	if err != nil {
		return fmt.Errorf("init identity client: %w", err)
	}
	defer func() {
		if err := idp.Close(); err != nil {
			logger.Warn("close identity cache", zap.Error(err))
		}
	}()

	var vault finalizer.Custody
	if cfg.CustodyDir != "" {
		v, err := custody.NewFileVault(cfg.CustodyDir, logger)
		if err != nil {
			return fmt.Errorf("init custody vault: %w", err)
		}
		vault = v
	}

	var recorder auditor = audit.NewLogger(logger)
	if cfg.ClickhouseDSN != "" {
		repo, err := clickhouse.NewRepository(cfg.ClickhouseDSN, metrics.NewClickhouseRepository())
		if err != nil {
			return fmt.Errorf("init audit repository: %w", err)
		}
		defer func() {
			if err := repo.Close(); err != nil {
				logger.Warn("close audit repository", zap.Error(err))
			}
		}()
		probes["clickhouse"] = repo
		sink, err := audit.NewSink(repo, audit.Config{
			FlushSize:     cfg.AuditFlushSize,
			FlushInterval: cfg.AuditFlushTimeout,
		}, logger)
		if err != nil {
			return fmt.Errorf("init audit sink: %w", err)
		}
		sink.Start(bgCtx)
		defer sink.Stop()
		recorder = sink
	}

	asmCfg := assembler.DefaultConfig()
	asmCfg.Params.MinFeeA = cfg.MinFeeA
	asmCfg.Params.MinFeeB = cfg.MinFeeB
	asmCfg.Params.CoinsPerUTxOByte = cfg.CoinsPerUTxOByte
	asmCfg.Params.KeyDeposit = cfg.KeyDeposit
	asmCfg.FeeTolerance = cfg.MinFeeA * 8
	asmCfg.AddressHRP = cfg.AddressHRP
	asmCfg.NetworkID = cfg.NetworkID
	asmCfg.ValidityWindow = cfg.ValidityWindow
	asmCfg.ReservationTTL = cfg.ReservationTTL
	asmCfg.LedgerTimeout = cfg.LedgerTimeout
	asm, err := assembler.New(
		ledgerClient,
		reservations,
		artifacts,
		evaluator.New(evaluator.DefaultCostModel(), asmCfg.Params.MaxTxExUnits),
		metrics.NewAssembler(),
		recorder,
		clock.Real(),
		asmCfg,
		logger,
	)
	if err != nil {
		return fmt.Errorf("init assembler: %w", err)
	}

	fin, err := finalizer.New(
		artifacts,
		reservations,
		ledgerClient,
		vault,
		metrics.NewFinalizer(),
		recorder,
		clock.Real(),
		finalizer.Config{SubmitTimeout: cfg.SubmitTimeout},
		logger,
	)
	if err != nil {
		return fmt.Errorf("init finalizer: %w", err)
	}

	svc, err := dispatcher.NewService(asm, fin, idp)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}
	serverMetrics := metrics.NewServer()
	disp, err := dispatcher.New(svc, serverMetrics, logger)
	if err != nil {
		return fmt.Errorf("init dispatcher: %w", err)
	}
	limits := protocol.DefaultLimits
	limits.MaxBulk = cfg.MaxFrameBytes
	limits.MaxArray = cfg.MaxArrayElements
	srv, err := server.New(disp, serverMetrics, server.Config{
		IdleTimeout:  cfg.IdleTimeout,
		WriteTimeout: cfg.WriteTimeout,
		DrainGrace:   cfg.DrainGrace,
		Limits:       limits,
	}, logger)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	health := transport.NewHealthHandler(probes, 0, logger)
	goBackground(func(ctx context.Context) { health.Run(ctx, cfg.HealthInterval) })
	startOps(ctx, cfg, health, logger)

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}
	logger.Info("starting txbuild server", zap.String("addr", cfg.Addr), zap.String("store", cfg.StoreDriver))

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx, ln) }()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	logger.Info("draining connections", zap.Duration("grace", cfg.ShutdownGrace))
	select {
	case err := <-serveErr:
		return err
	case <-time.After(cfg.ShutdownGrace):
		return errors.New("shutdown grace period exceeded")
	}
}

func openStores(
	cfg config,
	probes map[string]transport.Probe,
	goBackground func(func(context.Context)),
	logger *zap.Logger,
) (artifactStore, reservationStore, func(), error) {
	switch cfg.StoreDriver {
	case "bolt":
		db, err := boltdb.Open(cfg.BoltPath)
		if err != nil {
			return nil, nil, nil, err
		}
		closeDB := func() {
			if err := db.Close(); err != nil {
				logger.Warn("close bolt db", zap.Error(err))
			}
		}
		reservations, err := reservation.NewBoltStore(db, clock.Real(), metrics.NewReservationStore("bolt"), logger)
		if err != nil {
			closeDB()
			return nil, nil, nil, fmt.Errorf("init reservation store: %w", err)
		}
		artifacts, err := artifact.NewBoltStore(db, clock.Real(), artifact.DefaultFinalizedRetention, metrics.NewArtifactStore("bolt"))
		if err != nil {
			closeDB()
			return nil, nil, nil, fmt.Errorf("init artifact store: %w", err)
		}
		goBackground(func(ctx context.Context) { reservations.RunSweeper(ctx, cfg.SweepInterval) })
		goBackground(func(ctx context.Context) { sweepArtifacts(ctx, artifacts, cfg.SweepInterval, logger) })
		probes["bolt"] = transport.ProbeFunc(func(context.Context) error {
			return db.View(func(*bbolt.Tx) error { return nil })
		})
		return artifacts, reservations, closeDB, nil
	default:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		closeClient := func() {
			if err := client.Close(); err != nil {
				logger.Warn("close redis client", zap.Error(err))
			}
		}
		probes["redis"] = transport.ProbeFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		reservations := reservation.NewRedisStore(client, cfg.RedisPrefix, metrics.NewReservationStore("redis"))
		artifacts := artifact.NewRedisStore(client, cfg.RedisPrefix, artifact.DefaultFinalizedRetention, metrics.NewArtifactStore("redis"))
		return artifacts, reservations, closeClient, nil
	}
}

func sweepArtifacts(ctx context.Context, store *artifact.BoltStore, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.Sweep()
			if err != nil {
				logger.Error("artifact sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Debug("expired artifacts swept", zap.Int("removed", removed))
			}
		}
	}
}

func startOps(ctx context.Context, cfg config, health *transport.HealthHandler, logger *zap.Logger) {
	grpcServer := transport.NewGRPCServer(health, logger)
	go func() {
		socket, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Error("grpc listen failed", zap.Error(err))
			return
		}
		logger.Info("starting grpc health server", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(socket); err != nil {
			logger.Error("grpc server failed", zap.Error(err))
		}
	}()

	srv := transport.NewOpsServer(cfg.OpsAddr, health)
	go func() {
		logger.Info("starting ops server", zap.String("addr", cfg.OpsAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server failed", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		grpcServer.GracefulStop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown ops server", zap.Error(err))
		}
	}()
}

func newRPCClient(rawURL, user, password string) (*rpcclient.Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse rpc url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("rpc url scheme %q not supported", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, errors.New("rpc url missing host")
	}

	return rpcclient.New(&rpcclient.ConnConfig{
		Host:         parsed.Host + parsed.Path,
		User:         user,
		Pass:         password,
		HTTPPostMode: true,
		DisableTLS:   parsed.Scheme == "http",
	}, nil)
}
