// Package settings resolves per-account pricing configuration.
package settings

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/GoCodeAlone/pciledger/apperr"
)

// FallbackHourlyRate is used when neither a task nor its settings carry a rate.
const FallbackHourlyRate = 100.0

// DefaultAccount is the account used when a caller does not name one.
const DefaultAccount = "default"

// Settings is one account's pricing configuration.
type Settings struct {
	AccountID         string    `json:"accountId"`
	DefaultHourlyRate float64   `json:"defaultHourlyRate"`
	UnitToHourRatio   float64   `json:"unitToHourRatio"`
	Currency          string    `json:"currency"`
	Preset            string    `json:"preset,omitempty"`
	UpdatedAt         time.Time `json:"updatedAt,omitzero"`
}

// Defaults returns the system defaults for accountID.
func Defaults(accountID string) Settings {
	return Settings{
		AccountID:         accountID,
		DefaultHourlyRate: FallbackHourlyRate,
		UnitToHourRatio:   1,
		Currency:          "USD",
	}
}

// Validate checks the settings invariants.
func (s Settings) Validate() error {
	const op = "settings.validate"
	if !(s.DefaultHourlyRate > 0) || math.IsInf(s.DefaultHourlyRate, 0) {
		return apperr.Validation(op, "defaultHourlyRate must be a positive number, got %v", s.DefaultHourlyRate)
	}
	if !(s.UnitToHourRatio >= 0) || math.IsInf(s.UnitToHourRatio, 0) {
		return apperr.Validation(op, "unitToHourRatio must be >= 0, got %v", s.UnitToHourRatio)
	}
	if _, err := ParseCurrency(s.Currency); err != nil {
		return err
	}
	if s.Preset != "" {
		if _, ok := presets[s.Preset]; !ok {
			return apperr.Validation(op, "unknown preset %q", s.Preset)
		}
	}
	return nil
}

// ResolveRate returns the effective hourly rate. Precedence:
//  1. override (a task's own rate), when set
//  2. s.DefaultHourlyRate, when positive
//  3. FallbackHourlyRate
func ResolveRate(override *float64, s Settings) float64 {
	if override != nil {
		return *override
	}
	if s.DefaultHourlyRate > 0 {
		return s.DefaultHourlyRate
	}
	return FallbackHourlyRate
}

// ParseCurrency validates an ISO 4217 code.
func ParseCurrency(code string) (currency.Unit, error) {
	u, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return currency.Unit{}, apperr.Validation("settings.currency", "invalid ISO 4217 currency %q", code)
	}
	return u, nil
}

// FormatMoney renders amount in the given currency for display. Unknown
// codes fall back to a plain two-decimal number followed by the code.
func FormatMoney(amount float64, code string) string {
	u, err := ParseCurrency(code)
	if err != nil {
		return fmt.Sprintf("%.2f %s", amount, code)
	}
	p := message.NewPrinter(language.English)
	return p.Sprint(currency.Symbol(u.Amount(amount)))
}

// Preset is a named industry template.
type Preset struct {
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	HourlyRate      float64 `json:"hourlyRate"`
	UnitToHourRatio float64 `json:"unitToHourRatio"`
}

var presets = map[string]Preset{
	"standard":   {Name: "standard", Description: "General software delivery", HourlyRate: 100, UnitToHourRatio: 1},
	"startup":    {Name: "startup", Description: "Lean teams, fast iteration", HourlyRate: 85, UnitToHourRatio: 0.8},
	"fintech":    {Name: "fintech", Description: "Regulated financial products", HourlyRate: 150, UnitToHourRatio: 1.25},
	"healthcare": {Name: "healthcare", Description: "Clinical and PHI-handling systems", HourlyRate: 140, UnitToHourRatio: 1.3},
	"government": {Name: "government", Description: "Public sector with audit overhead", HourlyRate: 120, UnitToHourRatio: 1.5},
}

// Presets returns all presets sorted by name.
func Presets() []Preset {
	out := make([]Preset, 0, len(presets))
	for _, p := range presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LookupPreset returns the preset called name.
func LookupPreset(name string) (Preset, bool) {
	p, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// ApplyPreset returns s with the preset's rate and ratio applied.
func (s Settings) ApplyPreset(name string) (Settings, error) {
	p, ok := LookupPreset(name)
	if !ok {
		return s, apperr.Validation("settings.preset", "unknown preset %q", name)
	}
	s.Preset = p.Name
	s.DefaultHourlyRate = p.HourlyRate
	s.UnitToHourRatio = p.UnitToHourRatio
	return s, nil
}
