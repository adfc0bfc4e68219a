// Package main runs a depth camera through the frame pipeline and optionally writes snapshots of
// the processed streams.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"golang.org/x/sync/errgroup"

	"go.viam.com/depthstream/config"
	"go.viam.com/depthstream/ftdc"
	"go.viam.com/depthstream/logging"
	"go.viam.com/depthstream/pipeline"
	"go.viam.com/depthstream/sensor"
	// register sensor models.
	_ "go.viam.com/depthstream/sensor/fake"
)

const (
	flagConfig     = "config"
	flagDuration   = "duration"
	flagWatch      = "watch"
	flagDebug      = "debug"
	flagDebugTicks = "debug-ticks"
)

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "depthstream",
		Usage: "acquire and process depth camera streams",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run the configured streams until interrupted",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     flagConfig,
						Aliases:  []string{"c"},
						Usage:    "load configuration from `FILE`",
						Required: true,
					},
					&cli.DurationFlag{
						Name:  flagDuration,
						Usage: "stop after this long; 0 runs until interrupted",
					},
					&cli.BoolFlag{
						Name:  flagWatch,
						Usage: "apply changes to the config file while running",
					},
					&cli.BoolFlag{
						Name:  flagDebug,
						Usage: "enable debug logging",
					},
					&cli.BoolFlag{
						Name:  flagDebugTicks,
						Usage: "log every tick",
					},
				},
				Action: runAction,
			},
			{
				Name:      "diagnostics",
				Usage:     "print the samples of a diagnostics file",
				ArgsUsage: "FILE",
				Action:    diagnosticsAction,
			},
			{
				Name:  "models",
				Usage: "list the available sensor models",
				Action: func(c *cli.Context) error {
					for _, model := range sensor.Models() {
						fmt.Fprintln(c.App.Writer, model)
					}
					return nil
				},
			},
		},
	}
}

func runAction(c *cli.Context) error {
	cfg, err := config.Read(c.String(flagConfig))
	if err != nil {
		return err
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	if c.Bool(flagDebug) {
		level = logging.DEBUG
	}
	logger := logging.NewLogger("depthstream")
	logger.SetLevel(level)
	defer utils.UncheckedErrorFunc(logger.Sync)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if d := c.Duration(flagDuration); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	if c.Bool(flagDebugTicks) {
		ctx = logging.EnableDebugMode(ctx, "ticks")
	}
	return run(ctx, cfg, c.Bool(flagWatch), logger)
}

func run(ctx context.Context, cfg *config.Config, watch bool, logger logging.Logger) (err error) {
	tick, err := cfg.Tick()
	if err != nil {
		return err
	}
	dev, err := sensor.New(ctx, cfg.Sensor.Model, cfg.Sensor.Attributes, logger)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(func() error { return dev.Close(context.Background()) })

	p := pipeline.New(dev, logger.Sublogger("pipeline"))
	defer func() {
		logger.Infow("pipeline stopped", "stats", p.Stats())
		err = multierr.Combine(err, errors.Wrap(p.Close(), "closing pipeline"))
	}()
	if err := syncStreams(p, cfg.Streams); err != nil {
		return err
	}
	if cfg.Output.Directory != "" {
		w, err := newSnapshotWriter(cfg.Output, logger.Sublogger("snapshots"))
		if err != nil {
			return err
		}
		p.AddObserver(w)
	}

	var recorder *ftdc.Recorder
	if cfg.Output.DiagnosticsFile != "" {
		//nolint:gosec
		f, err := os.Create(cfg.Output.DiagnosticsFile)
		if err != nil {
			return errors.Wrap(err, "cannot create diagnostics file")
		}
		defer utils.UncheckedErrorFunc(f.Close)
		recorder = ftdc.NewRecorder(p, f, nil, logger.Sublogger("ftdc"))
	}

	runner := pipeline.NewRunner(p, tick, nil, logger.Sublogger("runner"))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreDone(runner.Run(gctx))
	})
	if recorder != nil {
		g.Go(func() error {
			return ignoreDone(recorder.Run(gctx, ftdc.DefaultInterval))
		})
	}
	if watch && cfg.ConfigFilePath != "" {
		g.Go(func() error {
			return config.Watch(gctx, cfg.ConfigFilePath, 0, logger.Sublogger("config"), func(newCfg *config.Config) {
				if err := syncStreams(p, newCfg.Streams); err != nil {
					logger.Warnw("cannot apply stream changes", "error", err)
				}
			})
		})
	}
	logger.Infow("running", "sensor", cfg.Sensor.Model, "streams", p.StreamNames(), "tick", tick)
	started := time.Now()
	err = g.Wait()
	if recorder != nil {
		if recErr := recorder.Record(); recErr != nil {
			logger.Warnw("cannot record final diagnostics", "error", recErr)
		}
	}
	logger.Infow("finished", "elapsed", time.Since(started))
	return err
}

func diagnosticsAction(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return errors.New("expected exactly one diagnostics file")
	}
	//nolint:gosec
	f, err := os.Open(c.Args().First())
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	data, err := ftdc.Parse(f)
	for _, datum := range data {
		fmt.Fprintln(c.App.Writer, time.Unix(0, datum.Time).UTC().Format(time.RFC3339Nano))
		for _, reading := range datum.Readings {
			fmt.Fprintf(c.App.Writer, "\t%s: %v\n", reading.MetricName, reading.Value)
		}
	}
	return err
}

func ignoreDone(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
