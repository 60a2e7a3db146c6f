package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/cp5337/sx9-sub010/internal/drift"
	"github.com/cp5337/sx9-sub010/internal/ring"
	"github.com/cp5337/sx9-sub010/internal/store"
)

// NewRingCommand creates the ring command group.
func NewRingCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ring",
		Short: "Token ring tools",
	}
	cmd.AddCommand(NewRingSimulateCommand(rootOpts))
	return cmd
}

// SimulateOptions holds flags for the ring simulate command.
type SimulateOptions struct {
	*RootOptions
	Nodes       int
	Duration    time.Duration
	Tick        time.Duration
	Broadcasts  int
	Kill        int
	KillAfter   time.Duration
	Database    string
	MetricsAddr string
}

// SimulationResult is the output of ring simulate.
type SimulationResult struct {
	Nodes     int          `json:"nodes"`
	Duration  string       `json:"duration"`
	Submitted int          `json:"submitted"`
	Rejected  int          `json:"rejected"`
	Delivered uint64       `json:"delivered"`
	Killed    *uint16      `json:"killed,omitempty"`
	Holders   []uint16     `json:"holders"`
	MaxEpoch  uint32       `json:"max_epoch"`
	Stats     ring.Stats   `json:"stats"`
	NodeStats []ring.Stats `json:"node_stats,omitempty"`
}

// NewRingSimulateCommand creates the ring simulate command.
func NewRingSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run an in-process ring in real time",
		Long: `Run an in-process ring for --duration, submitting drift updates
round-robin from every node, and report the counters.

With --kill the given node crashes after --kill-after; if it held the
token, the survivors regenerate it after the token timeout. With --db the
dedupe ledgers are kept in SQLite. With --metrics-addr the ring's
Prometheus metrics are served at /metrics while the simulation runs.

Examples:
  sx9 ring simulate --nodes 9 --duration 2s --broadcasts 200
  sx9 ring simulate --kill 0 --kill-after 100ms --duration 3s --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Nodes, "nodes", 0, "ring size (default: from configuration)")
	cmd.Flags().DurationVar(&opts.Duration, "duration", time.Second, "simulation length")
	cmd.Flags().DurationVar(&opts.Tick, "tick", time.Millisecond, "timer tick interval")
	cmd.Flags().IntVar(&opts.Broadcasts, "broadcasts", 100, "drift updates to submit")
	cmd.Flags().IntVar(&opts.Kill, "kill", -1, "node to crash (-1: none)")
	cmd.Flags().DurationVar(&opts.KillAfter, "kill-after", 100*time.Millisecond, "when to crash --kill")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database for durable dedupe ledgers")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

func runSimulate(opts *SimulateOptions, cmd *cobra.Command) error {
	cfg, err := opts.LoadConfig()
	if err != nil {
		return err
	}
	if opts.Nodes > 0 {
		cfg.Ring.Nodes = opts.Nodes
	}
	ringCfg, err := cfg.RingConfig()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid ring configuration", err)
	}
	if opts.Duration <= 0 || opts.Tick <= 0 {
		return NewExitError(ExitCommandError, "--duration and --tick must be positive")
	}
	if opts.Broadcasts < 0 {
		return NewExitError(ExitCommandError, "--broadcasts must be non-negative")
	}
	if opts.Kill >= ringCfg.Nodes {
		return NewExitError(ExitCommandError, fmt.Sprintf("--kill %d outside a %d-node ring", opts.Kill, ringCfg.Nodes))
	}

	logger := opts.Logger(cmd.ErrOrStderr())

	var delivered atomic.Uint64
	ringOpts := []ring.Option{
		ring.WithRingLogger(logger),
		ring.WithRingHandler(func(uint16, ring.Message) { delivered.Add(1) }),
	}
	if opts.Database != "" {
		st, err := store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer st.Close()
		ringOpts = append(ringOpts, ring.WithLedgers(st.Ledger), ring.WithSequences(st.Sequence))
	}

	r, err := ring.New(ringCfg, ringOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build ring", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Duration)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreDone(r.Run(gctx, opts.Tick))
	})

	var submitted, rejected int
	g.Go(func() error {
		if opts.Broadcasts == 0 {
			return nil
		}
		// Spread submissions over the first half of the run.
		lim := rate.NewLimiter(rate.Every(opts.Duration/time.Duration(2*opts.Broadcasts)), 1)
		for i := 0; i < opts.Broadcasts; i++ {
			if err := lim.Wait(gctx); err != nil {
				return ignoreDone(err)
			}
			node, _ := r.Node(uint16(i % ringCfg.Nodes))
			update := ring.DriftUpdate{
				Lineage:   fmt.Sprintf("sim-%d", node.Index()),
				Class:     drift.Micro,
				Magnitude: float64(i),
			}
			if err := node.Submit(gctx, ring.Broadcast, update, drift.Position{}); err != nil {
				rejected++
				logger.Debug("submission rejected", "node", node.Index(), "error", err)
				continue
			}
			submitted++
		}
		return nil
	})

	var killed *uint16
	if opts.Kill >= 0 {
		victim := uint16(opts.Kill)
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case <-time.After(opts.KillAfter):
			}
			killed = &victim
			return r.Kill(victim)
		})
	}

	if opts.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: opts.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("serving metrics", "addr", opts.MetricsAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "simulation failed", err)
	}

	res := SimulationResult{
		Nodes:     ringCfg.Nodes,
		Duration:  opts.Duration.String(),
		Submitted: submitted,
		Rejected:  rejected,
		Delivered: delivered.Load(),
		Killed:    killed,
		Holders:   r.TokenHolders(),
		Stats:     r.Stats(),
	}
	if res.Holders == nil {
		res.Holders = []uint16{}
	}
	for _, n := range r.Nodes() {
		res.MaxEpoch = max(res.MaxEpoch, n.Epoch())
		if opts.Verbose {
			res.NodeStats = append(res.NodeStats, n.Stats())
		}
	}

	return opts.formatter(cmd).Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "nodes=%d duration=%s submitted=%d rejected=%d delivered=%d\n",
			res.Nodes, res.Duration, res.Submitted, res.Rejected, res.Delivered)
		s := res.Stats
		fmt.Fprintf(w, "consumed=%d forwarded=%d duplicates=%d expired=%d corrupted=%d\n",
			s.Consumed, s.Forwarded, s.Duplicates, s.Expired, s.Corrupted)
		fmt.Fprintf(w, "token: holders=%v epoch=%d claims=%d stale=%d\n",
			res.Holders, res.MaxEpoch, s.Claims, s.StaleTokens)
		if res.Killed != nil {
			fmt.Fprintf(w, "killed node %d\n", *res.Killed)
		}
		for i, ns := range res.NodeStats {
			fmt.Fprintf(w, "  node %d: consumed=%d forwarded=%d originated=%d claims=%d\n",
				i, ns.Consumed, ns.Forwarded, ns.Originated, ns.Claims)
		}
	})
}

// ignoreDone treats the end of the simulation window as success.
func ignoreDone(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
