package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/arloliu/go-gse/bridge"
	"github.com/arloliu/go-gse/config"
	"github.com/arloliu/go-gse/controller"
	"github.com/arloliu/go-gse/estop"
	"github.com/arloliu/go-gse/link"
	"github.com/arloliu/go-gse/logger"
	"github.com/arloliu/go-gse/metrics"
	"github.com/arloliu/go-gse/notify"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the stand core with an operator console",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		noConsole, _ := cmd.Flags().GetBool("no-console")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var in io.Reader
		if !noConsole {
			in = cmd.InOrStdin()
		}

		return runStand(ctx, cfg, in, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Bool("no-console", false, "do not read operator commands from stdin")
}

// runStand wires the core and its optional collaborators and blocks until ctx is done,
// the console quits or a component fails. A nil in disables the console.
func runStand(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	l := logger.NewSlog(level, cfg.Log.AddSource)
	logger.SetLogger(l)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	linkCfg, err := link.NewConfig(append(cfg.LinkOptions(), link.WithLogger(l))...)
	if err != nil {
		return err
	}
	mgr, err := link.NewManager(ctx, linkCfg)
	if err != nil {
		return err
	}
	defer mgr.Close()

	ctrl, err := controller.New(mgr, cfg.ControllerOptions(l)...)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(gctx) })

	if cfg.Metrics.Enabled {
		exp := metrics.NewExporter(l)
		if err := exp.RegisterLink(mgr.Metrics()); err != nil {
			return err
		}
		if err := exp.RegisterCounterFunc("telemetry_malformed_tokens_total",
			"Telemetry tokens dropped as malformed.", ctrl.MalformedTokens); err != nil {
			return err
		}
		g.Go(func() error { return exp.Run(gctx, ctrl.Bus()) })
		g.Go(func() error { return exp.Serve(gctx, cfg.Metrics.Listen) })
	}

	if cfg.MQTT.Enabled {
		client, err := bridge.NewPahoClient(bridge.PahoConfig{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			StatusTopic: bridge.StatusTopic(cfg.MQTT.TopicPrefix),
		}, l)
		if err != nil {
			return err
		}
		if err := client.Connect(); err != nil {
			return err
		}
		defer client.Close()

		br, err := bridge.New(client, ctrl,
			bridge.WithTopicPrefix(cfg.MQTT.TopicPrefix),
			bridge.WithBufferSize(cfg.MQTT.BufferSize),
			bridge.WithMCU(cfg.MCU.Host, cfg.MCU.Port),
			bridge.WithLogger(l),
		)
		if err != nil {
			return err
		}
		g.Go(func() error { return br.Run(gctx) })
	}

	if cfg.EStop.Enabled {
		btn, err := estop.NewGPIOButton(estop.Config{
			Chip:      cfg.EStop.Chip,
			Line:      cfg.EStop.Line,
			ActiveLow: cfg.EStop.ActiveLow,
			Debounce:  cfg.EStop.Debounce,
		})
		if err != nil {
			return err
		}
		defer btn.Close()
		g.Go(func() error { return estop.Watch(gctx, btn, ctrl, l) })
	}

	var con *console
	if in != nil {
		con = newConsole(ctrl, out, cfg.MCU.Host, cfg.MCU.Port)
		go con.printEvents(gctx, ctrl.Subscribe(256, notify.KindConnection, notify.KindAbort,
			notify.KindLockout, notify.KindOperation, notify.KindSequence, notify.KindCountdown))
	}

	if cfg.MCU.AutoConnect {
		if err := ctrl.Connect(gctx, cfg.MCU.Host, cfg.MCU.Port); err != nil {
			l.Error("auto connect failed", "error", err)
		}
	}

	if con != nil {
		// the reader may stay blocked on stdin, so it is not part of the group
		go func() {
			if err := con.run(gctx, in); err != nil {
				l.Error("console stopped", "error", err)
			}
			cancel()
		}()
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}
