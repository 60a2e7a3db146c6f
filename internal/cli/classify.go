package cli

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cp5337/sx9-sub010/internal/drift"
)

// ClassifyOptions holds flags for the classify command.
type ClassifyOptions struct {
	*RootOptions
	Entropy float64
}

// ClassifyResult is the output of the classify command.
type ClassifyResult struct {
	From      drift.Position `json:"from"`
	To        drift.Position `json:"to"`
	Class     drift.Class    `json:"class"`
	Magnitude float64        `json:"magnitude"`
	Phase     string         `json:"phase"`
	Noise     float64        `json:"noise"`
	HighNoise bool           `json:"high_noise"`
}

// NewClassifyCommand creates the classify command.
func NewClassifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClassifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "classify <from> <to>",
		Short: "Classify the drift between two positions",
		Long: `Classify the move between two drift positions.

Positions are semantic,operational,temporal with every axis in [0, 1].
The magnitude is the Euclidean distance scaled to degrees; the bands come
from the configuration. The phase is read from the operational axis of
<to>, and the noise score combines the normalized distance, --entropy and
the semantic change.

Examples:
  sx9 classify 0.1,0.1,0.1 0.9,0.1,0.1
  sx9 classify 0.5,0.5,0.5 0.52,0.5,0.5 --entropy 0.4 --format json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClassify(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().Float64Var(&opts.Entropy, "entropy", 0, "entropy drift in [0, 1]")

	return cmd
}

func runClassify(opts *ClassifyOptions, fromArg, toArg string, cmd *cobra.Command) error {
	cfg, err := opts.LoadConfig()
	if err != nil {
		return err
	}
	from, err := parsePosition(fromArg)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid <from>", err)
	}
	to, err := parsePosition(toArg)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid <to>", err)
	}
	if math.IsNaN(opts.Entropy) || opts.Entropy < 0 || opts.Entropy > 1 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--entropy %v outside [0, 1]", opts.Entropy))
	}

	tracker, err := drift.NewTracker(cfg.Drift.Bands, from)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	res := tracker.Update(to)
	noise := drift.NoiseScore(res.Delta/math.Sqrt(3), opts.Entropy, math.Abs(to.Semantic-from.Semantic))

	out := ClassifyResult{
		From:      from,
		To:        to,
		Class:     res.Class,
		Magnitude: res.Magnitude,
		Phase:     drift.AxisToPhase(to.Operational).String(),
		Noise:     noise,
		HighNoise: drift.IsHighNoise(noise),
	}
	return opts.formatter(cmd).Success(out, func(w io.Writer) {
		fmt.Fprintf(w, "class=%s magnitude=%.2f phase=%s noise=%.3f", out.Class, out.Magnitude, out.Phase, out.Noise)
		if out.HighNoise {
			fmt.Fprint(w, " (high)")
		}
		fmt.Fprintln(w)
	})
}

// parsePosition reads "semantic,operational,temporal".
func parsePosition(s string) (drift.Position, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return drift.Position{}, fmt.Errorf("position %q: want 3 comma-separated axes", s)
	}
	var axes [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return drift.Position{}, fmt.Errorf("position %q: %w", s, err)
		}
		axes[i] = v
	}
	return drift.NewPosition(axes[0], axes[1], axes[2])
}
