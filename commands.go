package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"visa-rebooker/client"
	"visa-rebooker/config"
	"visa-rebooker/scheduler"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitConfigError = 2
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func execute() int {
	if err := newRootCmd().Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			if exitErr.err != nil {
				fmt.Fprintln(os.Stderr, "error:", exitErr.err)
			}
			return exitErr.code
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitFailure
	}
	return exitOK
}

type flags struct {
	configPath string
	envFile    string
	logLevel   string

	booked   string
	location string
	interval int
	probeAll bool
	dryRun   bool
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:   "visa-rebooker [booked-date]",
		Short: "Watch the visa scheduling portal and rebook an earlier appointment",
		Long: `visa-rebooker signs in to the visa appointment portal, polls for open
dates earlier than the appointment you already hold, and books the first
earlier slot it finds. The booked date (YYYY-MM-DD) is required.`,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRebooker(cmd, f, args)
		},
	}

	root.PersistentFlags().StringVar(&f.configPath, "config", "config.json5", "config file (config.local.json5 is merged over it)")
	root.PersistentFlags().StringVar(&f.envFile, "env-file", ".env", "dotenv file to load")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&f.booked, "booked", "", "currently booked appointment date, YYYY-MM-DD")
	root.PersistentFlags().StringVar(&f.location, "location", "", "preferred facility id")
	root.PersistentFlags().BoolVar(&f.probeAll, "all-locations", false, "probe every catalog location each tick")
	addRunFlags(root, f)

	run := &cobra.Command{
		Use:   "run [booked-date]",
		Short: "Poll until an earlier slot appears, then book it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRebooker(cmd, f, args)
		},
	}
	addRunFlags(run, f)

	check := &cobra.Command{
		Use:   "check [booked-date]",
		Short: "Sign in and probe once without booking",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, f, args)
		},
	}

	root.AddCommand(run, check)
	return root
}

func addRunFlags(cmd *cobra.Command, f *flags) {
	cmd.Flags().IntVar(&f.interval, "interval", 0, "minutes between checks")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "find and report a slot but do not submit the booking")
}

// applyFlags overlays explicitly set flags and the positional date on cfg.
func applyFlags(cmd *cobra.Command, f *flags, args []string, cfg *config.Config) {
	changed := func(name string) bool {
		fl := cmd.Flags().Lookup(name)
		return fl != nil && fl.Changed
	}

	if changed("booked") {
		cfg.BookedDate = f.booked
	}
	if len(args) == 1 {
		cfg.BookedDate = args[0]
	}
	if changed("location") {
		cfg.PreferredLocation = f.location
	}
	if changed("all-locations") {
		cfg.ProbeAllLocations = f.probeAll
	}
	if changed("interval") {
		cfg.Polling.IntervalMinutes = f.interval
	}
	if changed("dry-run") {
		cfg.DryRun = f.dryRun
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
}

func runRebooker(cmd *cobra.Command, f *flags, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cmd, f, args)
	if err != nil {
		return err
	}
	defer a.close()

	loop, err := a.loop()
	if err != nil {
		return &exitError{code: exitConfigError, err: err}
	}

	out, runErr := loop.Run(ctx)
	mode := "live"
	if a.cfg.DryRun {
		mode = "dry run"
	}
	a.finish(scheduler.NewRunReport(out, runErr), mode)

	switch {
	case runErr != nil && errors.Is(runErr, context.Canceled):
		a.logger.Info("stopped before a slot was found")
		return nil
	case runErr != nil:
		return &exitError{code: exitFailure, err: runErr}
	case out.Booking != nil && out.Booking.Status != client.BookingBooked && out.Booking.Status != client.BookingDryRun:
		return &exitError{code: exitFailure, err: out.Booking.Err}
	}
	return nil
}

func runCheck(cmd *cobra.Command, f *flags, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cmd, f, args)
	if err != nil {
		return err
	}
	defer a.close()

	loop, err := a.loop()
	if err != nil {
		return &exitError{code: exitConfigError, err: err}
	}

	best, checkErr := loop.Check(ctx)
	a.finish(scheduler.NewRunReport(loop.Outcome(), checkErr), "check")
	if checkErr != nil {
		return &exitError{code: exitFailure, err: checkErr}
	}
	if best != nil {
		a.logger.Info("earlier slot available", zap.String("candidate", best.String()))
	}
	return nil
}
