package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/macsched/internal/config"
	"github.com/signalsfoundry/macsched/internal/emu"
	"github.com/signalsfoundry/macsched/internal/logging"
	"github.com/signalsfoundry/macsched/internal/observability"
	"github.com/signalsfoundry/macsched/sched"
	"github.com/signalsfoundry/macsched/ttictrl"
)

type runOptions struct {
	configPath    string
	ttis          uint32
	tick          time.Duration
	realTime      bool
	metricsAddr   string
	logLevel      string
	logFormat     string
	ues           int
	preambleEvery uint32
}

func newRunCmd() *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive the carrier pipeline for a number of TTIs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "carrier config YAML (defaults to a built-in 25-PRB cell)")
	cmd.Flags().Uint32Var(&opts.ttis, "ttis", 10240, "number of TTIs to run")
	cmd.Flags().DurationVar(&opts.tick, "tick", time.Millisecond, "tick interval in real-time mode")
	cmd.Flags().BoolVar(&opts.realTime, "realtime", false, "advance at wall-clock TTI cadence instead of as fast as possible")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "address for the /metrics endpoint (disabled when empty)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")
	cmd.Flags().IntVar(&opts.ues, "ues", 2, "number of emulated terminals")
	cmd.Flags().Uint32Var(&opts.preambleEvery, "preamble-every", 0, "inject a random access preamble every N TTIs (disabled when 0)")

	return cmd
}

func runSimulation(ctx context.Context, opts runOptions) error {
	log := logging.New(logging.Config{Level: opts.logLevel, Format: opts.logFormat})

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewSchedCollector(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if opts.metricsAddr != "" {
		go func() {
			if err := observability.ServeMetrics(ctx, opts.metricsAddr, collector.Gatherer(), log); err != nil {
				log.Warn(ctx, "metrics server stopped", logging.String("error", err.Error()))
			}
		}()
	}

	carrier := config.Default()
	if opts.configPath != "" {
		carrier, err = config.Load(opts.configPath)
		if err != nil {
			return err
		}
	}
	cell := carrier.Cell()

	users := emu.NewUserDB()
	for i := 0; i < opts.ues; i++ {
		users.Add(uint16(0x46+i), 0, 0)
	}

	pipeline := sched.NewCarrierPipeline(users, emu.PagingEvery{Period: 256, Payload: 11}, 0, log, collector)
	err = pipeline.CarrierCfg(sched.CarrierParams{
		Cell: cell,
		DL:   &emu.DLEngine{NofPRB: cell.NofPRB},
		UL:   &emu.ULEngine{},
		DCI:  emu.DCIResolver{},
	})
	if err != nil {
		return fmt.Errorf("configure carrier: %w", err)
	}
	if len(carrier.DLTTIMask) > 0 {
		pipeline.SetDLTTIMask(carrier.DLTTIMask)
	}

	tracer := otel.Tracer("macsched/simulator")
	ctx, span := tracer.Start(ctx, "carrier-run")
	span.SetAttributes(
		attribute.Int("ttis", int(opts.ttis)),
		attribute.Int("nof_prb", int(cell.NofPRB)),
	)
	defer span.End()

	mode := ttictrl.Accelerated
	if opts.realTime {
		mode = ttictrl.RealTime
	}
	ticker := ttictrl.New(0, opts.tick, mode)
	ticker.AddListener(func(tti uint32) {
		pipeline.GenerateTTIResult(ctx, tti)
	})

	// Preamble injection runs off the ticker goroutine, exercising the same
	// receive-path entry the PHY uses.
	if opts.preambleEvery > 0 {
		go injectPreambles(ctx, pipeline, ticker, opts.preambleEvery, log)
	}

	log.Info(ctx, "starting carrier run",
		logging.Uint32("ttis", opts.ttis),
		logging.Uint32("nof_prb", cell.NofPRB),
		logging.Int("ues", opts.ues),
	)

	elapsed := ticker.Run(ctx, opts.ttis)

	log.Info(ctx, "carrier run finished", logging.Uint32("ttis_elapsed", elapsed))
	return nil
}

func injectPreambles(ctx context.Context, pipeline *sched.CarrierPipeline, ticker *ttictrl.TTITicker, every uint32, log logging.Logger) {
	var rnti uint16 = 0x100
	last := uint32(0)
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Millisecond):
		}

		tti := ticker.Current()
		if tti == last || tti%every != 0 {
			continue
		}
		last = tti

		info := sched.RachInfo{
			PrachTTI:    tti,
			PreambleIdx: uint32(rnti) % 64,
			TempCRNTI:   rnti,
			Msg3Size:    7,
		}
		if err := pipeline.DLRachInfo(ctx, info); err != nil {
			log.Warn(ctx, "preamble rejected", logging.String("error", err.Error()))
		}
		rnti++
	}
}
