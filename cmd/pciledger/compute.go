package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/pciledger/formula"
	"github.com/GoCodeAlone/pciledger/settings"
)

// computeResult is the offline computation printed by compute --json.
type computeResult struct {
	Factors    formula.Factors        `json:"factors"`
	Groups     formula.CategoryGroups `json:"groups"`
	PCIUnits   float64                `json:"pciUnits"`
	Rate       float64                `json:"rate"`
	Cost       float64                `json:"cost"`
	Hours      float64                `json:"hours"`
	Currency   string                 `json:"currency"`
	Formatted  string                 `json:"formatted"`
	Advisories []string               `json:"advisories,omitempty"`
}

func newComputeCmd() *cobra.Command {
	defaults := formula.DefaultFactors()
	values := make(map[string]*float64, len(formula.Names))
	var (
		rate     float64
		ratio    float64
		currency string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "compute",
		Short: "Compute PCI units and cost offline",
		Long: `Evaluate the PCI formula for the given factors without a server.

Examples:
  pciledger compute --isr 2 --cf 1.5 --rate 120
  pciledger compute --l 0.5 --currency EUR --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var f formula.Factors
			for _, name := range formula.Names {
				if err := f.Set(name, *values[name]); err != nil {
					return err
				}
			}
			if !f.Finite() {
				return fmt.Errorf("factors must be finite")
			}
			s := settings.Defaults(settings.DefaultAccount)
			s.DefaultHourlyRate = rate
			s.UnitToHourRatio = ratio
			s.Currency = strings.ToUpper(currency)
			if err := s.Validate(); err != nil {
				return err
			}

			units := formula.Compute(f)
			cost := formula.Cost(units, rate)
			res := computeResult{
				Factors:    f,
				Groups:     formula.Groups(f),
				PCIUnits:   units,
				Rate:       rate,
				Cost:       cost,
				Hours:      formula.Hours(units, ratio),
				Currency:   s.Currency,
				Formatted:  settings.FormatMoney(cost, s.Currency),
				Advisories: f.Advisories(),
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			g := res.Groups
			fmt.Fprintf(out, "scope/complexity:     %.2f\n", g.ScopeComplexity)
			fmt.Fprintf(out, "risk/engineering:     %.2f\n", g.RiskEngineering)
			fmt.Fprintf(out, "multi-layer:          %.2f\n", g.MultiLayer)
			fmt.Fprintf(out, "specialty/governance: %.2f\n", g.SpecialtyGovernance)
			fmt.Fprintf(out, "PCI units:            %.2f\n", res.PCIUnits)
			fmt.Fprintf(out, "estimated hours:      %.2f\n", res.Hours)
			fmt.Fprintf(out, "estimated cost:       %s\n", res.Formatted)
			for _, a := range res.Advisories {
				fmt.Fprintf(out, "note: %s\n", a)
			}
			return nil
		},
	}

	for _, name := range formula.Names {
		v, _ := defaults.Get(name)
		values[name] = cmd.Flags().Float64(strings.ToLower(name), v, name+" factor")
	}
	cmd.Flags().Float64Var(&rate, "rate", settings.FallbackHourlyRate, "hourly rate")
	cmd.Flags().Float64Var(&ratio, "ratio", 1, "unit-to-hour ratio")
	cmd.Flags().StringVar(&currency, "currency", "USD", "ISO 4217 currency code")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
