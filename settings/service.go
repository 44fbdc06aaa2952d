package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/GoCodeAlone/pciledger/apperr"
	"github.com/GoCodeAlone/pciledger/audit"
	"github.com/GoCodeAlone/pciledger/internal/keylock"
	"github.com/GoCodeAlone/pciledger/kv"
)

// Patch is a partial settings update. Preset is applied first, then the
// explicit fields.
type Patch struct {
	Preset            *string  `json:"preset,omitempty"`
	DefaultHourlyRate *float64 `json:"defaultHourlyRate,omitempty"`
	UnitToHourRatio   *float64 `json:"unitToHourRatio,omitempty"`
	Currency          *string  `json:"currency,omitempty"`
}

// Service loads and updates settings, one record per account.
type Service struct {
	kv       kv.Store
	recorder *audit.Recorder
	defaults Settings
	logger   *slog.Logger
	now      func() time.Time
	locks    keylock.Set
}

// NewService creates a Service. defaults is the template for accounts that
// have never been configured; its AccountID is ignored.
func NewService(store kv.Store, recorder *audit.Recorder, defaults Settings, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		kv:       store,
		recorder: recorder,
		defaults: defaults,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func settingsKey(accountID string) string { return kv.Key("settings", accountID) }

func normalizeAccount(accountID string) string {
	if a := strings.TrimSpace(accountID); a != "" {
		return a
	}
	return DefaultAccount
}

// Get returns the stored settings for accountID, or the defaults when the
// account has none. Defaults are not persisted by Get.
func (s *Service) Get(ctx context.Context, accountID string) (Settings, error) {
	st, _, err := s.load(ctx, normalizeAccount(accountID))
	return st, err
}

func (s *Service) load(ctx context.Context, accountID string) (Settings, bool, error) {
	data, err := s.kv.Get(ctx, settingsKey(accountID))
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			d := s.defaults
			if d.DefaultHourlyRate == 0 && d.Currency == "" {
				d = Defaults(accountID)
			}
			d.AccountID = accountID
			return d, false, nil
		}
		return Settings{}, false, apperr.Storage("settings.get", err)
	}
	var st Settings
	if err := json.Unmarshal(data, &st); err != nil {
		return Settings{}, false, apperr.Storage("settings.get", fmt.Errorf("decode settings %s: %w", accountID, err))
	}
	return st, true, nil
}

// Update applies p to the account's settings, records the change and
// persists it. A patch that changes nothing returns the current settings
// without writing.
func (s *Service) Update(ctx context.Context, userID, accountID string, p Patch) (Settings, error) {
	accountID = normalizeAccount(accountID)
	unlock := s.locks.Lock(accountID)
	defer unlock()

	cur, exists, err := s.load(ctx, accountID)
	if err != nil {
		return Settings{}, err
	}

	next := cur
	if p.Preset != nil {
		if next, err = next.ApplyPreset(*p.Preset); err != nil {
			return Settings{}, err
		}
	}
	if p.DefaultHourlyRate != nil {
		next.DefaultHourlyRate = *p.DefaultHourlyRate
	}
	if p.UnitToHourRatio != nil {
		next.UnitToHourRatio = *p.UnitToHourRatio
	}
	if p.Currency != nil {
		next.Currency = strings.ToUpper(strings.TrimSpace(*p.Currency))
	}
	// A preset name only stands for its own rate and ratio.
	if pr, ok := LookupPreset(next.Preset); ok &&
		(pr.HourlyRate != next.DefaultHourlyRate || pr.UnitToHourRatio != next.UnitToHourRatio) {
		next.Preset = ""
	}
	if err := next.Validate(); err != nil {
		return Settings{}, err
	}

	changes := audit.FieldChanges{}
	changes.Set("defaultHourlyRate", cur.DefaultHourlyRate, next.DefaultHourlyRate)
	changes.Set("unitToHourRatio", cur.UnitToHourRatio, next.UnitToHourRatio)
	changes.Set("currency", cur.Currency, next.Currency)
	changes.Set("preset", cur.Preset, next.Preset)
	if len(changes) == 0 && exists {
		return cur, nil
	}

	action := audit.ActionUpdate
	if !exists {
		action = audit.ActionCreate
	}
	next.UpdatedAt = s.now()
	data, err := json.Marshal(next)
	if err != nil {
		return Settings{}, fmt.Errorf("marshal settings: %w", err)
	}
	e, err := s.recorder.Record(ctx, userID, action, audit.EntitySettings, accountID, changes, nil)
	if err != nil {
		return Settings{}, err
	}
	if err := s.kv.Set(ctx, settingsKey(accountID), data); err != nil {
		s.logger.Error("settings write failed after audit", "account_id", accountID, "err", err)
		_ = s.recorder.Rollback(ctx, e, err)
		return Settings{}, apperr.Storage("settings.update", err)
	}
	s.logger.Info("settings updated", "account_id", accountID, "user_id", userID, "fields", len(changes))
	return next, nil
}
