package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cp5337/sx9-sub010/internal/config"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration files",
	}
	cmd.AddCommand(newConfigValidateCommand(rootOpts))
	cmd.AddCommand(newConfigShowCommand(rootOpts))
	return cmd
}

// ValidateResult is the output of config validate.
type ValidateResult struct {
	File  string `json:"file"`
	Valid bool   `json:"valid"`
}

func newConfigValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a configuration file",
		Long: `Validate a configuration file: strict YAML decoding, the embedded CUE
schema, then the semantic checks that build every component.

Exit codes:
  0 - Valid
  1 - Invalid (issues are listed)
  2 - Command error (file unreadable, etc.)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			res := ValidateResult{File: args[0]}

			_, err := config.Load(args[0])
			var verr *config.ValidationError
			switch {
			case err == nil:
				res.Valid = true
				return out.Success(res, func(w io.Writer) {
					fmt.Fprintf(w, "✓ %s is valid\n", args[0])
				})
			case errors.As(err, &verr):
				msg := fmt.Sprintf("%s: %d issue(s) at %s stage", args[0], len(verr.Issues), verr.Stage)
				if err := out.Failure(CodeInvalidConfig, msg, res, verr, func(w io.Writer) {
					fmt.Fprintf(w, "✗ %s\n", args[0])
					for _, is := range verr.Issues {
						if is.Field != "" {
							fmt.Fprintf(w, "  %s: %s\n", is.Field, is.Message)
						} else {
							fmt.Fprintf(w, "  %s\n", is.Message)
						}
					}
				}); err != nil {
					return err
				}
				return WrapExitError(ExitFailure, "invalid configuration", err)
			default:
				return WrapExitError(ExitCommandError, "failed to load configuration", err)
			}
		},
	}
}

func newConfigShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the configuration in effect: the --config file over the
built-in defaults, or the defaults alone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.LoadConfig()
			if err != nil {
				return err
			}
			data, err := cfg.Marshal()
			if err != nil {
				return WrapExitError(ExitFailure, "failed to render configuration", err)
			}
			return rootOpts.formatter(cmd).Success(cfg, func(w io.Writer) {
				_, _ = w.Write(data)
			})
		},
	}
}
