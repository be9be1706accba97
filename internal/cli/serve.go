package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tonview/rewards/internal/api"
	"github.com/tonview/rewards/internal/app/accrual"
	"github.com/tonview/rewards/internal/app/verifier"
	"github.com/tonview/rewards/internal/app/withdraw"
	"github.com/tonview/rewards/internal/domain"
	"github.com/tonview/rewards/internal/infra/ratelimit"
	"github.com/tonview/rewards/internal/infra/sqlite"
	"github.com/tonview/rewards/internal/logging"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("metrics", true, "Expose Prometheus metrics on /metrics")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the rewards engine",
	Long: `Start the HTTP API, the payment verifier poll loop, and the
withdrawal processor, serving until interrupted.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o700); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	db, err := sqlite.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	// ─── Engine assembly ────────────────────────────────────────────────

	rewards := accrual.New(accrual.Config{
		ReferralBase:        cfg.Referral.Base,
		ReferralMultipliers: cfg.Referral.Multipliers,
		DailyBonus:          cfg.Rewards.DailyBonus,
		DailyTimezone:       cfg.Rewards.Timezone(),
		PointsPerTON:        cfg.Rewards.PointsPerTON,
	}, db, nil, logger.Named("accrual"))

	hub := verifier.NewObservationHub()
	payments := verifier.New(verifier.Config{
		PollInterval:   cfg.Payments.PollIntervalDuration(),
		FinalityDepth:  cfg.Payments.FinalityDepth,
		MinInboundNano: cfg.Payments.MinInboundNano,
	}, db, hub, nil, logger.Named("verifier"))

	payouts := withdraw.New(withdraw.Config{
		MinPoints:      cfg.Withdrawals.MinPoints,
		FeeBasisPoints: cfg.Withdrawals.FeeBasisPoints,
		PointsPerTON:   cfg.Rewards.PointsPerTON,
		IntentTTL:      cfg.Withdrawals.IntentTTLDuration(),
	}, db, loggingExecutor{log: logger.Named("executor")}, nil, logger.Named("withdraw"))

	payments.OnInboundConfirmed(func(ctx context.Context, intent domain.PaymentIntent) error {
		_, _, err := rewards.CreditPurchase(ctx, intent)
		return err
	})
	payments.OnOutboundResolved(payouts.OnIntentResolved)

	limits := make(map[string]ratelimit.Limit, len(cfg.RateLimit))
	for category, l := range cfg.RateLimit {
		limits[category] = ratelimit.Limit{PerHour: l.PerHour, Burst: l.Burst}
	}
	guard := ratelimit.New(limits, nil)
	counters := make(map[string]domain.Counter, len(limits))
	for category := range limits {
		counters[category] = guard.Category(category)
	}

	server := api.NewServer(api.Config{
		ReferralMaxDepth: cfg.Referral.MaxDepth,
		PurchaseTTL:      cfg.Payments.PurchaseTTLDuration(),
		DepositAddress:   cfg.Payments.DepositAddress,
		MinInboundNano:   cfg.Payments.MinInboundNano,
	}, db, rewards, payments, payouts, hub, counters, logger.Named("api"))
	if metrics, _ := cmd.Flags().GetBool("metrics"); metrics {
		server.EnableMetrics()
	}

	// ─── Serve until interrupted ────────────────────────────────────────

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		Handler: server.Handler(),
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("api listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := payments.Run(ctx); !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("fatal", zap.Error(err))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// loggingExecutor stands in for the external transfer signer. It records
// the submission; settlement arrives through the chain observer like any
// other transfer, or the intent expires and refunds.
type loggingExecutor struct {
	log *zap.Logger
}

func (e loggingExecutor) Send(_ context.Context, intent domain.PaymentIntent) error {
	e.log.Info("outbound transfer submitted",
		zap.String("intent", intent.ID),
		zap.String("address", intent.Address),
		zap.Int64("nano", intent.AmountNano))
	return nil
}
