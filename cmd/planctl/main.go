// planctl inspects plan terms, prices proration credits, and prints the
// resolved browser-test configuration.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kuitang/plansite/internal/billing"
	"github.com/kuitang/plansite/internal/e2e"
	"github.com/kuitang/plansite/internal/terms"
)

var version = "dev"

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "planctl",
		Short:         "Inspect plansite billing terms",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.AddCommand(newTermsCmd(), newProrateCmd(), newE2EConfigCmd())
	return root
}

func newTermsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "terms",
		Short: "List the billing terms in display order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog := billing.DefaultCatalog()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TAG\tSLUG\tLABEL\tDAYS\tPRICE")
			for _, t := range terms.TermsList() {
				price := "-"
				if plan, ok := catalog.Plan(t); ok {
					price = plan.PriceDisplay()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", t, t.Slug(), t.Label(), t.PeriodDays(), price)
			}
			return w.Flush()
		},
	}
}

func newProrateCmd() *cobra.Command {
	var (
		term       string
		priceCents int
		daysUsed   int
	)
	cmd := &cobra.Command{
		Use:   "prorate",
		Short: "Compute the credit for the unused part of a paid period",
		Long: `Compute price * (period - days used) / period, rounded down and
clamped to [0, price]. --price-cents defaults to the catalog price of the term.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := terms.Parse(term)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("price-cents") {
				plan, ok := billing.DefaultCatalog().Plan(t)
				if !ok {
					return fmt.Errorf("no catalog price for %s; pass --price-cents", t)
				}
				priceCents = plan.PriceCents
			}
			if daysUsed < 0 {
				return fmt.Errorf("--days-used must not be negative")
			}
			credit := terms.ProratedCreditCents(t, priceCents, daysUsed)
			fmt.Fprintf(cmd.OutOrStdout(), "term: %s\nperiod_days: %d\nprice_cents: %d\ndays_used: %d\ncredit_cents: %d\n",
				t, t.PeriodDays(), priceCents, daysUsed, credit)
			return nil
		},
	}
	cmd.Flags().StringVar(&term, "term", "", "term tag or slug (monthly, annual, biennial)")
	cmd.Flags().IntVar(&priceCents, "price-cents", 0, "price paid for the period, in cents")
	cmd.Flags().IntVar(&daysUsed, "days-used", 0, "whole days already used")
	_ = cmd.MarkFlagRequired("term")
	return cmd
}

func newE2EConfigCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "e2e-config",
		Short: "Print the browser-test configuration resolved from E2E_* variables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = os.Getenv(e2e.ConfigPathEnv)
			}
			cfg, err := e2e.LoadConfigFile(file)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	}
	cmd.Flags().StringVarP(&file, "config", "c", "", "YAML file layered under the environment (default $"+e2e.ConfigPathEnv+")")
	return cmd
}
