package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/cp5337/sx9-sub010/internal/drift"
	"github.com/cp5337/sx9-sub010/internal/identity"
)

// MintOptions holds flags for the mint command.
type MintOptions struct {
	*RootOptions
	Content  string
	Lineage  string
	State    string
	Position string
	Nonce    uint16
	From     string // identifier to regenerate
	Class    string // drift class for --from
}

// MintResult is the output of the mint command.
type MintResult struct {
	Identifier  identity.Identifier `json:"identifier"`
	Content     string              `json:"content"`
	Context     string              `json:"context"`
	Persistence string              `json:"persistence"`
	UUID        string              `json:"uuid"`
	CreatedAt   time.Time           `json:"created_at"`
	Regenerated bool                `json:"regenerated"`
}

// NewMintCommand creates the mint command.
func NewMintCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MintOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint or regenerate a trivariate identifier",
		Long: `Mint a trivariate identifier for the given content.

Text content is NFC-normalized before hashing. Seed, environment and
agent come from the configuration. With --from and --class the existing
identifier is regenerated under the drift policy instead:
micro replaces the context code, soft and hard also replace the content
code, critical mints a new lineage.

Examples:
  sx9 mint --content "sensor reading" --lineage sensor-7 --state hot
  sx9 mint --content v2 --from 'id:...' --class soft`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMint(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Content, "content", "", "content to hash")
	cmd.Flags().StringVar(&opts.Lineage, "lineage", "", "lineage name for the context marker")
	cmd.Flags().StringVar(&opts.State, "state", "cold", "state flag (cold|warm|hot|fast-path)")
	cmd.Flags().StringVar(&opts.Position, "position", "0,0,0", "drift position semantic,operational,temporal")
	cmd.Flags().Uint16Var(&opts.Nonce, "nonce", 0, "context nonce")
	cmd.Flags().StringVar(&opts.From, "from", "", "identifier to regenerate")
	cmd.Flags().StringVar(&opts.Class, "class", "", "drift class applied to --from")
	cmd.MarkFlagsRequiredTogether("from", "class")

	return cmd
}

func runMint(opts *MintOptions, cmd *cobra.Command) error {
	cfg, err := opts.LoadConfig()
	if err != nil {
		return err
	}
	proc, err := cfg.Processor()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	state, err := identity.ParseStateFlag(opts.State)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --state", err)
	}
	pos, err := parsePosition(opts.Position)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --position", err)
	}

	desc := identity.ContextDescriptor{
		Timestamp:       time.Now(),
		Environment:     proc.Environment,
		Agent:           proc.Agent,
		DriftDerivative: identity.DriftFingerprint(pos),
		State:           state,
		Nonce:           opts.Nonce,
	}
	if opts.Lineage != "" {
		desc.Lineage = identity.LineageMarker(opts.Lineage)
	}

	gen := identity.NewGenerator(nil)
	var id identity.Identifier
	if opts.From != "" {
		old, err := identity.Parse(opts.From)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --from", err)
		}
		class, err := drift.ParseClass(opts.Class)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --class", err)
		}
		id, err = gen.Regenerate(old, []byte(opts.Content), proc.Seed, desc, class)
		if err != nil {
			return WrapExitError(ExitFailure, "regeneration failed", err)
		}
	} else {
		id, err = gen.MintText(opts.Content, proc.Seed, desc)
		if err != nil {
			return WrapExitError(ExitFailure, "mint failed", err)
		}
	}

	u, err := id.PersistenceUUID()
	if err != nil {
		return WrapExitError(ExitFailure, "persistence code", err)
	}
	res := MintResult{
		Identifier:  id,
		Content:     id.Content,
		Context:     id.Context,
		Persistence: id.Persistence,
		UUID:        u.String(),
		CreatedAt:   id.CreatedAt(),
		Regenerated: opts.From != "",
	}
	logger := opts.Logger(cmd.ErrOrStderr())
	logger.Debug("identifier ready", "identifier", id, "regenerated", res.Regenerated)

	return opts.formatter(cmd).Success(res, func(w io.Writer) {
		fmt.Fprintln(w, id)
		fmt.Fprintf(w, "  content:     %s\n", id.Content)
		fmt.Fprintf(w, "  context:     %s\n", id.Context)
		fmt.Fprintf(w, "  persistence: %s (%s)\n", id.Persistence, u)
		fmt.Fprintf(w, "  created:     %s\n", res.CreatedAt.Format(time.RFC3339Nano))
	})
}
