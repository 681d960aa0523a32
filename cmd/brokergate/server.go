package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/daon-network/broker-gateway/internal/auth"
	"github.com/daon-network/broker-gateway/internal/config"
	"github.com/daon-network/broker-gateway/internal/db"
	"github.com/daon-network/broker-gateway/internal/ledger"
	"github.com/daon-network/broker-gateway/internal/logging"
	"github.com/daon-network/broker-gateway/internal/ratelimit"
	"github.com/daon-network/broker-gateway/internal/security"
	"github.com/daon-network/broker-gateway/internal/server"
	"github.com/daon-network/broker-gateway/internal/signature"
	"github.com/daon-network/broker-gateway/internal/webhook"
)

var serverFlags struct {
	configFile string
	dbPath     string
	apiPort    int
	ledgerURL  string
	tlsCert    string
	tlsKey     string
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the broker API gateway",
	Long: `Start the gateway: the authenticated broker REST API, the webhook
dispatch worker pool, and the delivery retry sweep.

The gateway is stateless apart from its database; run several replicas
behind a load balancer and point them at the same database. TLS is manual
(--tls-cert/--tls-key) or terminated upstream.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringVar(&serverFlags.configFile, "config", getEnv("BROKERGATE_CONFIG", ""), "path to YAML config file")
	serverCmd.Flags().StringVar(&serverFlags.dbPath, "db", "", "database path (overrides config)")
	serverCmd.Flags().IntVar(&serverFlags.apiPort, "port", 0, "API port to listen on (overrides config)")
	serverCmd.Flags().StringVar(&serverFlags.ledgerURL, "ledger-url", "", "DAON API node base URL (overrides config)")
	serverCmd.Flags().StringVar(&serverFlags.tlsCert, "tls-cert", "", "path to TLS certificate file")
	serverCmd.Flags().StringVar(&serverFlags.tlsKey, "tls-key", "", "path to TLS key file")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serverFlags.configFile)
	if err != nil {
		return err
	}
	if serverFlags.dbPath != "" {
		cfg.DBPath = serverFlags.dbPath
	}
	if serverFlags.apiPort != 0 {
		cfg.APIPort = serverFlags.apiPort
	}
	if serverFlags.ledgerURL != "" {
		cfg.LedgerURL = serverFlags.ledgerURL
	}
	if serverFlags.tlsCert != "" {
		cfg.TLSCertFile = serverFlags.tlsCert
	}
	if serverFlags.tlsKey != "" {
		cfg.TLSKeyFile = serverFlags.tlsKey
	}

	// The config file may carry log settings the env-built logger missed.
	envLog := logging.FromEnv()
	if cfg.LogLevel != envLog.Level || cfg.LogFormat != envLog.Format {
		rebuilt, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
		if err != nil {
			return fmt.Errorf("configure logger: %w", err)
		}
		logger = rebuilt
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	monitor := security.NewMonitor(database, logger)
	gate := auth.NewGate(database, monitor, logger)
	limiter := ratelimit.NewLimiter(database, monitor, logger)
	verifier := signature.NewVerifier(monitor, logger)
	dispatcher := webhook.NewDispatcher(database, logger, cfg.DispatchWorkers, cfg.DispatchQueueSize)
	retryEngine := webhook.NewRetryEngine(database, dispatcher, logger, cfg.SweepInterval)

	apiServer := &server.APIServer{
		DB:         database,
		Logger:     logger,
		Gate:       gate,
		Limiter:    limiter,
		Verifier:   verifier,
		Dispatcher: dispatcher,
		Ledger:     ledger.NewHTTPClient(cfg.LedgerURL),
	}

	tlsConfig, err := server.LoadTLSConfig(cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		return fmt.Errorf("configure tls: %w", err)
	}

	srvCfg := server.DefaultServerConfig(fmt.Sprintf(":%d", cfg.APIPort), apiServer.Handler(), logger)
	srvCfg.TLSConfig = tlsConfig
	apiSrv := server.NewManagedServer("api", srvCfg)
	apiSrv.Start()
	if err := apiSrv.WaitForStartup(500 * time.Millisecond); err != nil {
		return err
	}
	logger.Info("api server listening",
		logging.Component("server"),
		logging.Addr(srvCfg.Addr),
		logging.Port(cfg.APIPort))

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		retryEngine.Run(sweepCtx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")

	cancelSweep()
	<-sweepDone
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	apiSrv.Shutdown(shutdownCtx)
	dispatcher.Close()
	gate.Wait()

	return nil
}
