package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/roach88/tillpos/internal/cloud"
	"github.com/roach88/tillpos/internal/config"
	"github.com/roach88/tillpos/internal/logging"
	"github.com/roach88/tillpos/internal/notify"
)

// NewCloudCommand creates the cloud command group.
func NewCloudCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cloud",
		Short: "Run and administer the cloud ledger",
		Long: `The cloud ledger receives the outbox batches pushed by every till of a
tenant and applies each record once. Records are stored per tenant; a
record ID already owned by another tenant is rejected.`,
	}
	cmd.AddCommand(newCloudServeCommand(rootOpts))
	cmd.AddCommand(newCloudTenantCommand(rootOpts))
	cmd.AddCommand(newCloudSummaryCommand(rootOpts))
	return cmd
}

// cloudApp is the ledger opened from the cloud section of the config.
type cloudApp struct {
	cfg    config.Config
	logger *logrus.Logger
	db     *gorm.DB
	out    *OutputFormatter
}

func openCloud(opts *RootOptions, cmd *cobra.Command) (*cloudApp, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg, cmd)
	if err != nil {
		return nil, err
	}
	db, err := cloud.OpenDB(cloud.DBConfig{
		Driver:          cfg.Cloud.Driver,
		DSN:             cfg.Cloud.DSN,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open ledger database", err)
	}
	logger.WithField("driver", cfg.Cloud.Driver).Debug("ledger database ready")
	return &cloudApp{cfg: cfg, logger: logger, db: db, out: newFormatter(opts, cmd)}, nil
}

func (a *cloudApp) Close() {
	sqlDB, err := a.db.DB()
	if err == nil {
		err = sqlDB.Close()
	}
	if err != nil {
		logging.LogError(a.logger, "cli", "Close", "close ledger database", nil, err)
	}
}

func withCloud(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, a *cloudApp) error) error {
	a, err := openCloud(opts, cmd)
	if err != nil {
		return newFormatter(opts, cmd).Fail(err)
	}
	defer a.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := fn(ctx, a); err != nil {
		if IsReported(err) {
			return err
		}
		return a.out.Fail(err)
	}
	return nil
}

func newCloudServeCommand(rootOpts *RootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the sync API",
		Long: `Serve the sync API until interrupted.

Endpoints:
  GET  /healthz                          liveness and database check
  POST /api/v1/auth/token                exchange tenant ID and API key for a token
  POST /api/v1/sync/push                 apply a batch (bearer token)
  POST /api/v1/admin/tenants             create a tenant (X-Admin-Key)
  GET  /api/v1/admin/tenants/:id/summary back-office counts (X-Admin-Key)

With cloud.redis_addr set, batches of one tenant are serialized by a
redis lock across replicas. With cloud.amqp_url set, applied records are
announced on the configured exchange.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCloud(rootOpts, cmd, func(ctx context.Context, a *cloudApp) error {
				if cmd.Flags().Changed("listen") {
					a.cfg.Cloud.Listen = listen
				}
				return serveCloud(ctx, a)
			})
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default cloud.listen)")
	return cmd
}

func serveCloud(ctx context.Context, a *cloudApp) error {
	cc := a.cfg.Cloud
	if cc.JWTSecret == "" {
		return NewExitError(ExitCommandError, "cloud.jwt_secret is required to serve")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ledgerOpts := []cloud.LedgerOption{cloud.WithLogger(a.logger)}
	if cc.RedisAddr != "" {
		locker, closeRedis, err := cloud.NewLocker(ctx, cc.RedisAddr)
		if err != nil {
			a.logger.WithError(err).Warn("redis unavailable, batches are not serialized across replicas")
		} else {
			defer closeRedis()
			ledgerOpts = append(ledgerOpts, cloud.WithLocker(locker))
		}
	}

	broker := notify.NewBroker()
	defer broker.Close()
	publishers := notify.Multi{broker}
	if cc.AMQPURL != "" {
		amqpPub, err := notify.DialAMQP(cc.AMQPURL, cc.AMQPExchange, "cloud")
		if err != nil {
			a.logger.WithError(err).Warn("amqp unavailable, events stay in process")
		} else {
			defer amqpPub.Close()
			publishers = append(publishers, amqpPub)
		}
	}
	ledgerOpts = append(ledgerOpts, cloud.WithPublisher(publishers))

	events, unsubscribe := broker.Subscribe(64)
	defer unsubscribe()
	go func() {
		for ev := range events {
			a.logger.WithFields(logrus.Fields{
				"event":   ev.Type,
				"tenant":  ev.TenantID,
				"records": len(ev.RecordIDs),
			}).Info("ledger event")
		}
	}()

	ledger := cloud.NewLedger(a.db, ledgerOpts...)
	server := cloud.NewServer(ledger,
		cloud.NewTenants(a.db),
		cloud.NewTokenIssuer(cc.JWTSecret, cc.TokenTTL),
		cloud.WithAdminKey(cc.AdminKey),
		cloud.WithServerLogger(a.logger),
	)

	if a.cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cc.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		a.logger.WithField("addr", cc.Listen).Info("cloud ledger listening")
		errChan <- srv.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitCommandError, "server failed", err)
		}
		return nil
	case sig := <-sigChan:
		a.logger.WithField("signal", sig.String()).Info("received signal, shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "graceful shutdown failed", err)
	}
	a.logger.Info("cloud ledger stopped")
	return nil
}

func newCloudTenantCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage ledger tenants",
	}

	var name string
	create := &cobra.Command{
		Use:   "create <tenant-id>",
		Short: "Create a tenant and print its API key",
		Long: `Create a tenant and print its API key. The key is shown once; only its
hash is stored. Tills use it as sync.api_key together with sync.tenant_id.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCloud(rootOpts, cmd, func(ctx context.Context, a *cloudApp) error {
				tenantName := name
				if tenantName == "" {
					tenantName = args[0]
				}
				tenant, key, err := cloud.NewTenants(a.db).Create(ctx, args[0], tenantName)
				if errors.Is(err, cloud.ErrTenantExists) {
					return NewExitError(ExitFailure, fmt.Sprintf("tenant %q already exists", args[0]))
				}
				if err != nil {
					return err
				}
				data := map[string]string{"tenant_id": tenant.ID, "name": tenant.Name, "api_key": key}
				return a.out.Render(data, func(w io.Writer) error {
					fmt.Fprintf(w, "Created tenant %s (%s)\n", tenant.ID, tenant.Name)
					fmt.Fprintf(w, "API key: %s\n", key)
					return nil
				})
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "display name (defaults to the ID)")
	cmd.AddCommand(create)
	return cmd
}

func newCloudSummaryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "summary <tenant-id>",
		Short:         "Count what the ledger holds for a tenant",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCloud(rootOpts, cmd, func(ctx context.Context, a *cloudApp) error {
				sum, err := cloud.NewLedger(a.db, cloud.WithLogger(a.logger)).Summary(ctx, args[0])
				if err != nil {
					return err
				}
				return a.out.Render(sum, func(w io.Writer) error {
					fmt.Fprintf(w, "Tenant:           %s\n", sum.TenantID)
					fmt.Fprintf(w, "Sales:            %d (total %d)\n", sum.Sales, sum.SalesTotal)
					fmt.Fprintf(w, "Shifts:           %d (%d open)\n", sum.Shifts, sum.OpenShifts)
					fmt.Fprintf(w, "Cancelled orders: %d\n", sum.CancelledOrders)
					if sum.LastReceivedAt != nil {
						fmt.Fprintf(w, "Last received:    %s\n", sum.LastReceivedAt.Format(time.RFC3339))
					}
					return nil
				})
			})
		},
	}
}
