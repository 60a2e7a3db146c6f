package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/cp5337/sx9-sub010/internal/drift"
	"github.com/cp5337/sx9-sub010/internal/gate"
	"github.com/cp5337/sx9-sub010/internal/testutil"
)

// GateOptions holds flags for the gate command.
type GateOptions struct {
	*RootOptions
	Phase  string
	StepMS int64
}

// GateStep is one input and the state it produced.
type GateStep struct {
	AtMS       int64   `json:"at_ms"`
	Input      float64 `json:"input"`
	State      string  `json:"state"`
	Transition string  `json:"transition,omitempty"`
}

// GateResult is the output of the gate command.
type GateResult struct {
	Phase       string     `json:"phase"`
	Activation  float64    `json:"activation"`
	Hold        float64    `json:"hold"`
	RecoveryMS  int64      `json:"recovery_ms"`
	Steps       []GateStep `json:"steps"`
	Transitions int        `json:"transitions"`
	Final       string     `json:"final"`
}

// NewGateCommand creates the gate command.
func NewGateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "gate <input>...",
		Short: "Drive a latching gate with a series of inputs",
		Long: `Feed inputs to a gate configured for one phase and print each state.

Inputs are spaced --step-ms apart on a simulated clock, so recovery
windows behave as they would at that input rate.

Examples:
  sx9 gate 0.2 0.6 0.5 0.35 0.1 0 0 0
  sx9 gate --phase dominate --step-ms 50 0.9 0.1 0 0 0`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGate(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Phase, "phase", "hunt", "phase whose parameters to use")
	cmd.Flags().Int64Var(&opts.StepMS, "step-ms", 20, "milliseconds between inputs")

	return cmd
}

func runGate(opts *GateOptions, args []string, cmd *cobra.Command) error {
	cfg, err := opts.LoadConfig()
	if err != nil {
		return err
	}
	proc, err := cfg.Processor()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	phase, err := drift.ParsePhase(opts.Phase)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --phase", err)
	}
	if opts.StepMS < 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--step-ms %d is negative", opts.StepMS))
	}

	inputs := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("input %d", i), err)
		}
		inputs[i] = v
	}

	params := proc.Phases[phase]
	g, err := gate.New(params)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	res := GateResult{
		Phase:      phase.String(),
		Activation: params.Activation,
		Hold:       params.Hold,
		RecoveryMS: params.Recovery.Milliseconds(),
		Steps:      make([]GateStep, 0, len(inputs)),
	}
	clock := testutil.NewManualClock()
	step := time.Duration(opts.StepMS) * time.Millisecond
	for i, x := range inputs {
		now := clock.Now()
		if i > 0 {
			now = clock.Advance(step)
		}
		state, tr := g.Step(x, now)
		gs := GateStep{
			AtMS:  now.Sub(testutil.Epoch).Milliseconds(),
			Input: x,
			State: state.Kind.String(),
		}
		if tr != nil {
			gs.Transition = fmt.Sprintf("%s->%s", tr.From.Kind, tr.To.Kind)
			res.Transitions++
		}
		res.Steps = append(res.Steps, gs)
	}
	res.Final = g.State().Kind.String()

	return opts.formatter(cmd).Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "phase=%s activation=%.2f hold=%.2f recovery=%s\n",
			res.Phase, res.Activation, res.Hold, params.Recovery)
		for _, s := range res.Steps {
			fmt.Fprintf(w, "t=%dms input=%.3f state=%s", s.AtMS, s.Input, s.State)
			if s.Transition != "" {
				fmt.Fprintf(w, " (%s)", s.Transition)
			}
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "transitions=%d final=%s\n", res.Transitions, res.Final)
	})
}
