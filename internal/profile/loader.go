// Package profile loads automation definitions from a YAML file. Definitions
// are schema-checked before range validation; a bad automation is quarantined
// (paused with a critical alert) without poisoning the rest of the file. The
// file is hot-reloaded on change.
package profile

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"

	"wheelhouse/internal/logger"
	"wheelhouse/internal/store"
	"wheelhouse/internal/types"
)

//go:embed schema.json
var schemaJSON string

// reloadDebounce coalesces editor write bursts into a single reload.
const reloadDebounce = 500 * time.Millisecond

// AlertFunc receives quarantine alerts; fire-and-forget.
type AlertFunc func(types.Alert)

// Spec mirrors one automation entry in the profile file.
type Spec struct {
	Name                   string  `mapstructure:"name"`
	UserID                 string  `mapstructure:"user_id"`
	Symbol                 string  `mapstructure:"symbol"`
	Strategy               string  `mapstructure:"strategy"`
	MinConfidence          float64 `mapstructure:"min_confidence"`
	Quantity               int     `mapstructure:"quantity"`
	DTEMin                 int     `mapstructure:"dte_min"`
	DTEMax                 int     `mapstructure:"dte_max"`
	DeltaMin               float64 `mapstructure:"delta_min"`
	DeltaMax               float64 `mapstructure:"delta_max"`
	MinVolume              int64   `mapstructure:"min_volume"`
	MinOpenInterest        int64   `mapstructure:"min_open_interest"`
	MaxSpreadPct           float64 `mapstructure:"max_spread_pct"`
	ProfitTargetPct        float64 `mapstructure:"profit_target_pct"`
	ProfitTarget2Pct       float64 `mapstructure:"profit_target_2_pct"`
	Target2CloseRatio      float64 `mapstructure:"target_2_close_ratio"`
	StopLossPct            float64 `mapstructure:"stop_loss_pct"`
	MaxHoldDays            int     `mapstructure:"max_hold_days"`
	MinDTEExit             int     `mapstructure:"min_dte_exit"`
	TrailingTriggerPct     float64 `mapstructure:"trailing_trigger_pct"`
	TrailingStopPct        float64 `mapstructure:"trailing_stop_pct"`
	AllowMultiplePositions bool    `mapstructure:"allow_multiple_positions"`
	Active                 bool    `mapstructure:"active"`
}

func (s *Spec) automation(defaultUser string) types.Automation {
	user := s.UserID
	if user == "" {
		user = defaultUser
	}
	return types.Automation{
		UserID:                 user,
		Name:                   s.Name,
		Symbol:                 strings.ToUpper(strings.TrimSpace(s.Symbol)),
		Strategy:               types.Strategy(s.Strategy),
		MinConfidence:          s.MinConfidence,
		Quantity:               s.Quantity,
		DTEMin:                 s.DTEMin,
		DTEMax:                 s.DTEMax,
		DeltaMin:               s.DeltaMin,
		DeltaMax:               s.DeltaMax,
		MinVolume:              s.MinVolume,
		MinOpenInterest:        s.MinOpenInterest,
		MaxSpreadPct:           s.MaxSpreadPct,
		ProfitTargetPct:        s.ProfitTargetPct,
		ProfitTarget2Pct:       s.ProfitTarget2Pct,
		Target2CloseRatio:      s.Target2CloseRatio,
		StopLossPct:            s.StopLossPct,
		MaxHoldDays:            s.MaxHoldDays,
		MinDTEExit:             s.MinDTEExit,
		TrailingTriggerPct:     s.TrailingTriggerPct,
		TrailingStopPct:        s.TrailingStopPct,
		AllowMultiplePositions: s.AllowMultiplePositions,
		Active:                 s.Active,
	}
}

type Loader struct {
	path        string
	defaultUser string
	store       store.Store
	alertFn     AlertFunc
	schema      *jsonschema.Schema
}

func NewLoader(path, defaultUser string, st store.Store, alertFn AlertFunc) (*Loader, error) {
	schema, err := jsonschema.CompileString("profile/schema.json", schemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile profile schema: %w", err)
	}
	return &Loader{
		path:        path,
		defaultUser: defaultUser,
		store:       st,
		alertFn:     alertFn,
		schema:      schema,
	}, nil
}

// Load parses the profile file and upserts the automations it defines.
// Schema violations fail the whole load (the file shape is wrong); range
// violations quarantine only the offending automation.
func (l *Loader) Load(ctx context.Context) error {
	v := viper.New()
	v.SetConfigFile(l.path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read profile file %s: %w", l.path, err)
	}

	// The schema validator wants json-decoded values, so round-trip the
	// settings through encoding/json first.
	raw, err := json.Marshal(v.AllSettings())
	if err != nil {
		return fmt.Errorf("marshal profile settings: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("unmarshal profile settings: %w", err)
	}
	if err := l.schema.Validate(doc); err != nil {
		return fmt.Errorf("profile file %s rejected by schema: %w", l.path, err)
	}

	var specs []Spec
	if err := decode(v.Get("automations"), &specs); err != nil {
		return fmt.Errorf("decode automations: %w", err)
	}

	existing, err := l.existingByName(ctx, specs)
	if err != nil {
		return err
	}

	loaded, quarantined := 0, 0
	for i := range specs {
		auto := specs[i].automation(l.defaultUser)
		if prev, ok := existing[auto.UserID+"/"+auto.Name]; ok {
			// Preserve engine-owned fields across reloads.
			auto.ID = prev.ID
			auto.ExecutionCount = prev.ExecutionCount
			auto.LastExecuted = prev.LastExecuted
		}

		if err := auto.Validate(); err != nil {
			auto.Paused = true
			quarantined++
			logger.Errorf("profile: automation %q quarantined: %v", auto.Name, err)
			l.alert(types.Alert{
				UserID:   auto.UserID,
				Type:     "automation_quarantined",
				Priority: types.AlertCritical,
				Symbol:   auto.Symbol,
				Message:  fmt.Sprintf("automation %q paused: %v", auto.Name, err),
			})
		}
		if err := l.store.SaveAutomation(ctx, &auto); err != nil {
			return fmt.Errorf("save automation %q: %w", auto.Name, err)
		}
		loaded++
	}
	logger.Infof("profile: loaded %d automation(s) from %s (%d quarantined)", loaded, l.path, quarantined)
	return nil
}

// existingByName indexes stored automations for every user the file names,
// so reloads update rows in place regardless of user.
func (l *Loader) existingByName(ctx context.Context, specs []Spec) (map[string]types.Automation, error) {
	users := map[string]struct{}{l.defaultUser: {}}
	for i := range specs {
		if u := specs[i].UserID; u != "" {
			users[u] = struct{}{}
		}
	}

	out := make(map[string]types.Automation)
	for user := range users {
		autos, err := l.store.ListAutomations(ctx, user)
		if err != nil {
			return nil, fmt.Errorf("list automations for %s: %w", user, err)
		}
		for _, a := range autos {
			out[a.UserID+"/"+a.Name] = a
		}
	}
	return out, nil
}

// Watch reloads the profile file whenever it changes, until ctx is done.
// A reload that fails keeps the previous definitions in place.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("profile watcher: %w", err)
	}
	if err := watcher.Add(l.path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", l.path, err)
	}

	go func() {
		defer watcher.Close()
		var timer *time.Timer
		reload := func() {
			if err := l.Load(ctx); err != nil {
				logger.Errorf("profile: reload failed, keeping previous definitions: %v", err)
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDebounce, reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warnf("profile: watcher error: %v", err)
			}
		}
	}()
	return nil
}

func decode(in any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

func (l *Loader) alert(a types.Alert) {
	if l.alertFn == nil {
		return
	}
	a.CreatedAt = time.Now()
	l.alertFn(a)
}
