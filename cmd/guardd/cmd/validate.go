package cmd

import (
	"errors"
	"fmt"

	"github.com/kirillm/trade-guard/internal/policy"
	"github.com/spf13/cobra"
)

var validateProfile string

var validateCmd = &cobra.Command{
	Use:   "validate <guardrails.yaml>",
	Short: "Validate a guardrails file",
	Long: `Parse a guardrails YAML file and report every invalid field.

Examples:
  guardd validate guardrails.yaml
  guardd validate guardrails.yaml --profile conservative`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVarP(&validateProfile, "profile", "p", "", "guardrail profile (default $GUARDRAIL_PROFILE or \"default\")")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	profile := validateProfile
	if profile == "" {
		// флаг не задан: профиль из окружения и --env файла, как у serve
		if cfg, err := loadConfig(); err == nil {
			profile = cfg.Guardrails.Profile
		}
	}

	g, err := policy.LoadFile(args[0], profile)
	if err != nil {
		var verr *policy.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(out, "✗ %s: %d invalid field(s)\n", args[0], len(verr.Fields))
			for _, f := range verr.Fields {
				fmt.Fprintf(out, "  - %s: %s\n", f.Field, f.Message)
			}
		}
		return err
	}

	fmt.Fprintf(out, "✓ %s is valid\n", args[0])
	if !g.Enabled {
		fmt.Fprintln(out, "  guardrails are disabled (enabled: false)")
		return nil
	}
	fmt.Fprintf(out, "  initial equity:       $%.2f\n", g.InitialEquityUSD)
	fmt.Fprintf(out, "  protected workflows:  %d (0 = all)\n", len(g.Protected.Workflows))
	fmt.Fprintf(out, "  circuit breaker:      %v\n", g.CircuitBreaker.Enabled)
	fmt.Fprintf(out, "  manual override:      %v\n", g.ManualOverride.Allow)
	return nil
}
