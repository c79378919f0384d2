package cli

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/roach88/tillpos/internal/config"
	"github.com/roach88/tillpos/internal/logging"
	"github.com/roach88/tillpos/internal/receipt"
	"github.com/roach88/tillpos/internal/store"
	"github.com/roach88/tillpos/internal/syncer"
	"github.com/roach88/tillpos/internal/till"
)

// loadConfig resolves settings: config file, .env, environment, then the
// global flags.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath, opts.EnvFile)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.DB != "" {
		cfg.Till.DB = opts.DB
	}
	if opts.TillID != "" {
		cfg.Till.ID = opts.TillID
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// newLogger logs to the command's stderr so stdout stays parseable.
func newLogger(cfg config.Config, cmd *cobra.Command) (*logrus.Logger, error) {
	logger, err := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid log settings", err)
	}
	return logger, nil
}

// tillApp is everything a till command needs, opened from the config.
type tillApp struct {
	cfg    config.Config
	logger *logrus.Logger
	store  *store.Store
	svc    *till.Service
	out    *OutputFormatter
}

func openTill(opts *RootOptions, cmd *cobra.Command) (*tillApp, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg, cmd)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Till.DB)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	logger.WithFields(logrus.Fields{"db": cfg.Till.DB, "till": cfg.Till.ID}).Debug("till database ready")

	// Receipts go to stderr in JSON mode so they do not corrupt the response.
	var paper io.Writer = cmd.OutOrStdout()
	if opts.Format == "json" {
		paper = cmd.ErrOrStderr()
	}
	var printerOpts []receipt.Option
	if cfg.Till.Venue != "" {
		printerOpts = append(printerOpts, receipt.WithHeader(cfg.Till.Venue))
	}

	svc := till.New(st,
		till.WithLogger(logger),
		till.WithServiceCharge(cfg.Till.ServiceChargePercent),
		till.WithPrinter(receipt.NewTextPrinter(paper, printerOpts...)),
	)
	return &tillApp{
		cfg:    cfg,
		logger: logger,
		store:  st,
		svc:    svc,
		out:    newFormatter(opts, cmd),
	}, nil
}

func (a *tillApp) Close() {
	if err := a.store.Close(); err != nil {
		logging.LogError(a.logger, "cli", "Close", "close till database", nil, err)
	}
}

// session rebuilds the operating session from the till's open shift.
func (a *tillApp) session(ctx context.Context) (till.Session, error) {
	return a.svc.Session(ctx, a.cfg.Till.ID)
}

// engine builds the outbox drain for the configured cloud. A fixed token
// takes precedence over tenant credentials.
func (a *tillApp) engine() (*syncer.Engine, error) {
	s := a.cfg.Sync
	if !s.Enabled() {
		return nil, NewExitError(ExitCommandError, "sync is not configured (set sync.url or TILLPOS_SYNC_URL)")
	}
	var pusher syncer.Pusher
	if s.Token != "" {
		pusher = syncer.NewHTTPPusher(s.URL, s.Token, s.Timeout)
	} else {
		if s.TenantID == "" || s.APIKey == "" {
			return nil, NewExitError(ExitCommandError, "sync needs sync.token or sync.tenant_id with sync.api_key")
		}
		pusher = syncer.NewHTTPPusherWithKey(s.URL, s.TenantID, s.APIKey, s.Timeout)
	}
	return syncer.New(a.store, pusher,
		syncer.WithInterval(s.Interval),
		syncer.WithBatchSize(s.BatchSize),
		syncer.WithTimeout(s.Timeout),
		syncer.WithLogger(a.logger),
	), nil
}

// withTill opens the till, runs fn and reports a failure through the
// command's formatter.
func withTill(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, a *tillApp) error) error {
	a, err := openTill(opts, cmd)
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
