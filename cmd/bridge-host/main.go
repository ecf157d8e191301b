package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/spirachain/wallet-bridge/internal/chainrpc"
	"github.com/spirachain/wallet-bridge/internal/host"
	"github.com/spirachain/wallet-bridge/internal/hostrpc"
	"github.com/spirachain/wallet-bridge/internal/keystore"
)

func main() {
	configPath := flag.String("config", "", "path to yaml config")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	store := keystore.NewFileStore(cfg.WalletPath)
	if !store.HasWallet() {
		logger.Warn("no wallet file present, capability calls will answer NO_WALLET", "path", cfg.WalletPath)
	}

	node, err := chainrpc.NewClient(chainrpc.Config{BaseURL: cfg.NodeURL, Logger: logger})
	if err != nil {
		logger.Error("failed to configure node client", "error", err)
		os.Exit(1)
	}

	bridgeHost, err := host.New(store, node, host.Config{
		ChainID:        cfg.ChainID,
		NetworkVersion: cfg.NetworkVersion,
		ConfirmTimeout: cfg.ConfirmTimeout,
		Logger:         logger,
		Metrics:        host.NewMetrics(nil),
		OnPrompt: func(view host.PromptView) {
			logger.Info("confirmation required",
				"token", view.Token,
				"origin", view.Origin,
				"to", view.Tx.To,
				"amount", view.Tx.Amount)
		},
	})
	if err != nil {
		logger.Error("failed to configure host", "error", err)
		os.Exit(1)
	}

	// gRPC server wiring
	lis, err := listen(cfg.Listen)
	if err != nil {
		logger.Error("failed to listen", "endpoint", cfg.Listen, "error", err)
		os.Exit(1)
	}
	grpcSrv := grpc.NewServer()
	hostrpc.RegisterHostServiceServer(grpcSrv, bridgeHost)
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(hostrpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	go func() {
		logger.Info("host service listening", "endpoint", cfg.Listen)
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("grpc server closed unexpectedly", "error", err)
			stop()
		}
	}()

	// metrics + confirmation surface wiring
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	registerConfirmHandlers(mux, bridgeHost.Confirmations())
	httpSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		logger.Info("metrics server listening", "addr", cfg.MetricsAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server closed unexpectedly", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down servers")
	healthSrv.SetServingStatus(hostrpc.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	grpcSrv.GracefulStop()
}

// registerConfirmHandlers 暴露确认界面所需的最小 HTTP 面：
// 列出待裁决提示、按令牌批准或拒绝。
func registerConfirmHandlers(mux *http.ServeMux, mgr *host.ConfirmManager) {
	mux.HandleFunc("/confirmations", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(mgr.Pending())
	})
	mux.HandleFunc("/confirmations/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		rest := strings.TrimPrefix(r.URL.Path, "/confirmations/")
		token, verdict, found := strings.Cut(rest, "/")
		if !found || token == "" {
			http.NotFound(w, r)
			return
		}
		var err error
		switch verdict {
		case "approve":
			err = mgr.Approve(token)
		case "decline":
			err = mgr.Decline(token)
		default:
			http.NotFound(w, r)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
