package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/template-gateway/api/gatewayhandler"
	"github.com/ruteri/template-gateway/cmd/flags"
	gwcommon "github.com/ruteri/template-gateway/common"
	"github.com/ruteri/template-gateway/cryptoutils"
	"github.com/ruteri/template-gateway/eventlog"
	"github.com/ruteri/template-gateway/gateway"
	"github.com/ruteri/template-gateway/host"
	"github.com/ruteri/template-gateway/httpserver"
	"github.com/ruteri/template-gateway/interfaces"
	"github.com/ruteri/template-gateway/metrics"
	"github.com/ruteri/template-gateway/state"
	"github.com/ruteri/template-gateway/storage"
	"github.com/ruteri/template-gateway/templates/widget"
	"github.com/ruteri/template-gateway/tracing"
	"github.com/urfave/cli/v2"
)

var flagListenAddr = &cli.StringFlag{
	Name:    "listen-addr",
	Value:   "127.0.0.1:8080",
	Usage:   "address to listen on for API",
	EnvVars: []string{"GATEWAY_LISTEN_ADDR"},
}
var flagGatewayAddress = &cli.StringFlag{
	Name:    "gateway-address",
	Value:   gateway.DefaultAddress.Hex(),
	Usage:   "identity of the gateway: creator of instances and holder of fees",
	EnvVars: []string{"GATEWAY_ADDRESS"},
}
var flagActionBudget = &cli.Uint64Flag{
	Name:    "action-budget",
	Value:   gateway.DefaultActionBudget,
	Usage:   "compute budget available to the forwarded calls of one action",
	EnvVars: []string{"GATEWAY_ACTION_BUDGET"},
}
var flagRecordsDB = &cli.StringFlag{
	Name:    "records-db",
	Value:   "data/records.db",
	Usage:   "SQLite database receiving committed records; empty disables the record log",
	EnvVars: []string{"GATEWAY_RECORDS_DB"},
}
var flagCheckpointStorage = &cli.StringSliceFlag{
	Name:    "checkpoint-storage",
	Usage:   "storage backend URI for state checkpoints (file://, s3://, vault://, ipfs://); repeat to replicate",
	EnvVars: []string{"GATEWAY_CHECKPOINT_STORAGE"},
}
var flagCheckpointInterval = &cli.DurationFlag{
	Name:    "checkpoint-interval",
	Value:   0,
	Usage:   "periodically checkpoint state and archive records; 0 checkpoints only on shutdown",
	EnvVars: []string{"GATEWAY_CHECKPOINT_INTERVAL"},
}
var flagRestoreCheckpoint = &cli.StringFlag{
	Name:    "restore-checkpoint",
	Usage:   "content ID of a checkpoint to restore at startup",
	EnvVars: []string{"GATEWAY_RESTORE_CHECKPOINT"},
}
var flagBootstrapOwner = &cli.StringFlag{
	Name:  "bootstrap-owner",
	Usage: "initialize an uninitialized gateway with this admin and register the built-in templates",
}
var flagBootstrapSigner = &cli.StringFlag{
	Name:  "bootstrap-signer",
	Usage: "initial signer used with --bootstrap-owner; defaults to the owner",
}
var flagGenesisBalance = &cli.StringSliceFlag{
	Name:  "genesis-balance",
	Usage: "ADDRESS=AMOUNT credited by the bootstrap owner after initialization (repeatable)",
}
var flagTrustCallerHeader = &cli.BoolFlag{
	Name:  "dev-trust-caller-header",
	Usage: "accept the X-Gateway-Caller header in place of request signatures (development only)",
}
var flagTracing = &cli.StringFlag{
	Name:    "tracing-exporter",
	Value:   "none",
	Usage:   "trace exporter: 'none' or 'stdout'",
	EnvVars: []string{"GATEWAY_TRACING_EXPORTER"},
}
var flagTraceSampleRate = &cli.Float64Flag{
	Name:  "trace-sample-rate",
	Value: 1.0,
	Usage: "fraction of actions traced",
}

func main() {
	app := &cli.App{
		Name:  "gatewayd",
		Usage: "Serve the template gateway API",
		Flags: append([]cli.Flag{
			flagListenAddr,
			flagGatewayAddress,
			flagActionBudget,
			flagRecordsDB,
			flagCheckpointStorage,
			flagCheckpointInterval,
			flagRestoreCheckpoint,
			flagBootstrapOwner,
			flagBootstrapSigner,
			flagGenesisBalance,
			flagTrustCallerHeader,
			flagTracing,
			flagTraceSampleRate,
			flags.LogServiceFlagFn("template-gateway"),
		}, flags.CommonFlags...),
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func parseAddress(flag, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid %s: %q is not an address", flag, value)
	}
	return common.HexToAddress(value), nil
}

func run(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	gatewayAddress, err := parseAddress(flagGatewayAddress.Name, cCtx.String(flagGatewayAddress.Name))
	if err != nil {
		return err
	}

	tracer, err := tracing.NewProvider(tracing.Config{
		Enabled:     cCtx.String(flagTracing.Name) != "none",
		Exporter:    cCtx.String(flagTracing.Name),
		SampleRate:  cCtx.Float64(flagTraceSampleRate.Name),
		ServiceName: cCtx.String("log-service"),
	})
	if err != nil {
		logger.Error("Failed to configure tracing", "err", err)
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(ctx); err != nil {
			logger.Error("Failed to flush traces", "err", err)
		}
	}()

	metricsSrv, err := metrics.New(gwcommon.PackageName, cCtx.String(flags.MetricsAddrFlag.Name))
	if err != nil {
		logger.Error("Failed to create metrics server", "err", err)
		return err
	}

	// Template code is compiled in; deploying the catalog in a fixed order keeps
	// implementation addresses stable across restarts and checkpoints.
	h := host.New(host.DefaultDeployer, host.DefaultCosts, logger)
	var catalog []common.Address
	for _, tmpl := range widget.Catalog() {
		addr := h.Deploy(tmpl)
		catalog = append(catalog, addr)
		logger.Info("Deployed template code",
			slog.String("name", tmpl.Name().String()),
			slog.String("version", tmpl.Version().String()),
			slog.String("implementation", addr.Hex()))
	}

	var (
		sinks   []interfaces.RecordSink
		records *eventlog.Store
	)
	if path := cCtx.String(flagRecordsDB.Name); path != "" {
		records, err = eventlog.Open(path, logger)
		if err != nil {
			logger.Error("Failed to open record log", "err", err)
			return err
		}
		defer records.Close()
		sinks = append(sinks, records)
	}

	checkpoints, err := checkpointBackend(cCtx, logger)
	if err != nil {
		return err
	}

	g := gateway.New(gateway.Config{
		Address:      gatewayAddress,
		ActionBudget: cCtx.Uint64(flagActionBudget.Name),
		Log:          logger,
		Sinks:        sinks,
		Metrics:      metricsSrv.Gateway,
		Tracer:       tracer.Tracer(),
		Verifier:     cryptoutils.NewVerifier(cryptoutils.DefaultRecoveryTTL),
	}, state.NewStore(state.NewWorld()), h)

	if idHex := cCtx.String(flagRestoreCheckpoint.Name); idHex != "" {
		if checkpoints == nil {
			return errors.New("--restore-checkpoint requires --checkpoint-storage")
		}
		id, err := interfaces.NewContentIDFromHex(idHex)
		if err != nil {
			return fmt.Errorf("invalid --restore-checkpoint: %w", err)
		}
		if err := g.Restore(cCtx.Context, checkpoints, id); err != nil {
			logger.Error("Failed to restore checkpoint", "err", err)
			return err
		}
	}

	if err := bootstrap(cCtx, g, catalog); err != nil {
		logger.Error("Failed to bootstrap gateway", "err", err)
		return err
	}

	handlerCfg := gatewayhandler.Config{
		Checkpoints:       checkpoints,
		TrustCallerHeader: cCtx.Bool(flagTrustCallerHeader.Name),
		Log:               logger,
	}
	if records != nil {
		handlerCfg.Records = records
	}
	if handlerCfg.TrustCallerHeader {
		logger.Warn("Trusting the caller header, requests are not authenticated")
	}

	cfg := flags.ConfigureServer(cCtx, logger, cCtx.String(flagListenAddr.Name))
	cfg.Metrics = metricsSrv
	server, err := httpserver.New(cfg, gatewayhandler.NewHandler(g, handlerCfg))
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}
	server.RunInBackground()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if interval := cCtx.Duration(flagCheckpointInterval.Name); interval > 0 && checkpoints != nil {
		go checkpointLoop(ctx, logger, g, records, checkpoints, interval)
	}

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server is running, press Ctrl+C to stop")
	<-exit
	logger.Info("Shutdown signal received")
	cancel()

	server.Shutdown()
	if checkpoints != nil {
		checkpoint(context.Background(), logger, g, records, checkpoints)
	}
	logger.Info("Server shutdown complete")
	return nil
}

// checkpointBackend builds the configured storage backend, replicating across
// every location when more than one is given.
func checkpointBackend(cCtx *cli.Context, logger *slog.Logger) (interfaces.StorageBackend, error) {
	uris := cCtx.StringSlice(flagCheckpointStorage.Name)
	if len(uris) == 0 {
		return nil, nil
	}

	creds, err := storage.CredentialsFromEnv()
	if err != nil {
		return nil, err
	}
	factory := storage.NewStorageBackendFactory(logger, creds)

	var locations []interfaces.StorageBackendLocation
	for _, uri := range uris {
		location, err := interfaces.NewStorageBackendLocation(uri)
		if err != nil {
			return nil, err
		}
		locations = append(locations, location)
	}
	if len(locations) == 1 {
		return factory.StorageBackendFor(locations[0])
	}
	return factory.CreateMultiBackend(locations)
}

// bootstrap initializes a fresh gateway and registers the built-in templates
// on behalf of the configured owner.
func bootstrap(cCtx *cli.Context, g *gateway.Gateway, catalog []common.Address) error {
	ownerHex := cCtx.String(flagBootstrapOwner.Name)
	if ownerHex == "" || g.Initialized() {
		return nil
	}
	owner, err := parseAddress(flagBootstrapOwner.Name, ownerHex)
	if err != nil {
		return err
	}
	signer := owner
	if signerHex := cCtx.String(flagBootstrapSigner.Name); signerHex != "" {
		if signer, err = parseAddress(flagBootstrapSigner.Name, signerHex); err != nil {
			return err
		}
	}

	balances, err := parseBalances(cCtx.StringSlice(flagGenesisBalance.Name))
	if err != nil {
		return err
	}

	ctx := cCtx.Context
	if _, err := g.Initialize(ctx, interfaces.NewMsg(owner), owner, signer); err != nil {
		return err
	}
	for _, impl := range catalog {
		if _, err := g.RegisterTemplate(ctx, interfaces.NewMsg(owner), impl); err != nil {
			return err
		}
	}
	for _, b := range balances {
		if _, err := g.Fund(ctx, interfaces.NewMsg(owner), b.account, b.amount); err != nil {
			return fmt.Errorf("funding %s: %w", b.account.Hex(), err)
		}
	}
	return nil
}

type genesisBalance struct {
	account common.Address
	amount  *big.Int
}

// parseBalances parses ADDRESS=AMOUNT pairs; amounts are decimal or 0x-prefixed.
func parseBalances(specs []string) ([]genesisBalance, error) {
	balances := make([]genesisBalance, 0, len(specs))
	for _, spec := range specs {
		addr, value, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --%s %q: expected ADDRESS=AMOUNT", flagGenesisBalance.Name, spec)
		}
		account, err := parseAddress(flagGenesisBalance.Name, addr)
		if err != nil {
			return nil, err
		}
		amount, ok := new(big.Int).SetString(value, 0)
		if !ok || amount.Sign() <= 0 {
			return nil, fmt.Errorf("invalid --%s amount %q", flagGenesisBalance.Name, value)
		}
		balances = append(balances, genesisBalance{account: account, amount: amount})
	}
	return balances, nil
}

func checkpointLoop(ctx context.Context, logger *slog.Logger, g *gateway.Gateway, records *eventlog.Store, backend interfaces.StorageBackend, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkpoint(ctx, logger, g, records, backend)
		}
	}
}

func checkpoint(ctx context.Context, logger *slog.Logger, g *gateway.Gateway, records *eventlog.Store, backend interfaces.StorageBackend) {
	if _, err := g.Checkpoint(ctx, backend); err != nil {
		logger.Error("Failed to checkpoint state", "err", err)
	}
	if records == nil {
		return
	}
	archive, err := records.Archive(ctx, backend)
	switch {
	case errors.Is(err, eventlog.ErrNothingToArchive):
	case err != nil:
		logger.Error("Failed to archive records", "err", err)
	default:
		logger.Info("Archived records", "contentID", archive.ContentID.String(), "count", archive.Count)
	}
}
