package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"visa-rebooker/client"
	"visa-rebooker/config"
	"visa-rebooker/notify"
	"visa-rebooker/scheduler"
)

// app holds everything one command invocation needs.
type app struct {
	cfg      config.Config
	runID    string
	logger   *zap.Logger
	portal   *client.Client
	notifier notify.Notifier
	sentry   bool
}

// newApp loads and validates configuration before anything touches the
// network. Config problems come back as exit code 2.
func newApp(cmd *cobra.Command, f *flags, args []string) (*app, error) {
	cfg, err := config.Load(f.configPath, f.envFile)
	if err != nil {
		return nil, &exitError{code: exitConfigError, err: err}
	}
	applyFlags(cmd, f, args, &cfg)
	if err := cfg.Validate(); err != nil {
		return nil, &exitError{code: exitConfigError, err: err}
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, &exitError{code: exitConfigError, err: err}
	}

	logger.Debug("configuration loaded",
		zap.Strings("files", cfg.Sources),
		zap.String("env_file", f.envFile))

	a := &app{
		cfg:    cfg,
		runID:  uuid.NewString(),
		logger: logger,
	}

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Release:          "visa-rebooker@" + version,
			AttachStacktrace: true,
		})
		if err != nil {
			logger.Warn("sentry disabled", zap.Error(err))
		} else {
			a.sentry = true
		}
	}

	portal, err := client.New(client.Options{
		BaseURL:    cfg.Portal.BaseURL,
		Country:    cfg.Portal.Country,
		VisaType:   cfg.Portal.VisaType,
		ScheduleID: cfg.Portal.ScheduleID,
		Credentials: client.Credentials{
			Email:    cfg.Credentials.Email,
			Password: cfg.Credentials.Password,
		},
		UserAgent: cfg.Portal.UserAgent,
		Timeout:   cfg.Portal.Timeout(),
		ProxyURL:  cfg.Portal.Proxy,
		DryRun:    cfg.DryRun,
		Logger:    logger.Named("portal"),
	})
	if err != nil {
		a.close()
		return nil, &exitError{code: exitConfigError, err: err}
	}
	a.portal = portal
	a.notifier = buildNotifier(cfg.Notify, logger.Named("notify"))

	return a, nil
}

func (a *app) loop() (*scheduler.Loop, error) {
	booked, err := a.cfg.BookedDateValue()
	if err != nil {
		return nil, err
	}
	order, err := a.cfg.ProbeOrder()
	if err != nil {
		return nil, err
	}

	return scheduler.New(a.portal, a.notifier, a.logger, scheduler.Options{
		RunID:            a.runID,
		BookedDate:       booked,
		Locations:        order,
		ProbeAll:         a.cfg.ProbeAllLocations,
		Interval:         a.cfg.Polling.Interval(),
		Jitter:           a.cfg.Polling.Jitter,
		Cooldown:         a.cfg.Polling.Cooldown(),
		ErrorBackoff:     a.cfg.Polling.ErrorBackoff(),
		MaxRecoveries:    a.cfg.Polling.MaxRecoveries,
		AnnounceRestarts: a.cfg.Polling.AnnounceRestarts,
	}, scheduler.WithThrottle(a.portal.Safety())), nil
}

// finish prints the run report and appends it to the report file.
func (a *app) finish(report scheduler.RunReport, mode string) {
	report.Portal = a.portal.BaseURL()
	report.Mode = mode
	report.BookedDate = a.cfg.BookedDate
	report.Interval = a.cfg.Polling.Interval().String()
	if order, err := a.cfg.ProbeOrder(); err == nil {
		if !a.cfg.ProbeAllLocations && len(order) > 0 {
			order = order[:1]
		}
		for _, loc := range order {
			report.Locations = append(report.Locations, loc.String())
		}
	}

	a.logger.Info("run finished",
		zap.String("run_id", report.RunID),
		zap.String("disposition", report.Disposition))

	scheduler.PrintRunReport(os.Stdout, report)

	if a.cfg.Log.ReportFile != "" {
		if err := scheduler.WriteStructuredLog(report, a.cfg.Log.ReportFile); err != nil {
			a.logger.Warn("could not write run report", zap.String("file", a.cfg.Log.ReportFile), zap.Error(err))
		}
	}
}

func (a *app) close() {
	if a.sentry {
		sentry.Flush(2 * time.Second)
	}
	_ = a.logger.Sync()
}

func buildNotifier(cfg config.Notify, logger *zap.Logger) notify.Notifier {
	notifiers := notify.Multi{notify.Log{Logger: logger}}
	if cfg.Email.Enabled() {
		notifiers = append(notifiers, notify.NewEmail(cfg.Email))
	}
	if cfg.Telegram.Enabled() {
		notifiers = append(notifiers, notify.NewTelegram(cfg.Telegram, logger))
	}
	return notifiers
}

func newLogger(cfg config.Log) (*zap.Logger, error) {
	level := cfg.Level
	if level == "" {
		level = "info"
	}
	atomic, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, &config.ConfigError{Field: "log.level", Err: err}
	}

	var zc zap.Config
	switch strings.ToLower(cfg.Format) {
	case "json":
		zc = zap.NewProductionConfig()
	case "", "console":
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zc.DisableStacktrace = true
	default:
		return nil, &config.ConfigError{Field: "log.format", Err: fmt.Errorf("unknown format %q", cfg.Format)}
	}
	zc.Level = atomic
	return zc.Build()
}
