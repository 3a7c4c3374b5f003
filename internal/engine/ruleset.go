package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-botnet/internal/config"
	"github.com/miradorstack/mirador-botnet/internal/models"
)

// RuleSpec is one entry of a YAML rule pack.
type RuleSpec struct {
	Name      string        `yaml:"name"`
	Type      string        `yaml:"type"`
	Enabled   *bool         `yaml:"enabled"`
	Threshold *float64      `yaml:"threshold"`
	Mode      string        `yaml:"mode"`
	Bucket    time.Duration `yaml:"bucket"`
}

// RuleConfigFile is the YAML root structure.
type RuleConfigFile struct {
	Rules []RuleSpec `yaml:"rules"`
}

// RuleEngine evaluates independent rules in parallel.
type RuleEngine struct {
	rules  []Rule
	logger *slog.Logger
}

// NewRuleEngine loads the rule pack at cfg.Path. When no pack exists the
// built-in rules are created from the thresholds in cfg.
func NewRuleEngine(cfg config.RulesConfig, logger *slog.Logger) (*RuleEngine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	specs, err := loadRulePack(cfg.Path)
	if err != nil {
		return nil, err
	}
	if specs == nil {
		logger.Debug("no rule pack found, using configured defaults", "path", cfg.Path)
		specs = defaultSpecs(cfg)
	}
	rules, err := buildRules(specs, cfg)
	if err != nil {
		return nil, err
	}
	return &RuleEngine{rules: rules, logger: logger}, nil
}

// NewRuleEngineFromRules wraps already constructed rules.
func NewRuleEngineFromRules(logger *slog.Logger, rules ...Rule) *RuleEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleEngine{rules: rules, logger: logger}
}

func loadRulePack(path string) ([]RuleSpec, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read rule pack: %w", err)
	}
	var file RuleConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rule pack %s: %w", path, err)
	}
	if file.Rules == nil {
		file.Rules = []RuleSpec{}
	}
	return file.Rules, nil
}

func defaultSpecs(cfg config.RulesConfig) []RuleSpec {
	enabled := func(b bool) *bool { return &b }
	threshold := func(f float64) *float64 { return &f }
	return []RuleSpec{
		{Name: RuleTypeHighVolume, Type: RuleTypeHighVolume, Enabled: enabled(cfg.HighVolume.Enabled), Threshold: threshold(cfg.HighVolume.Threshold)},
		{Name: RuleTypeRepeatedInterval, Type: RuleTypeRepeatedInterval, Enabled: enabled(cfg.RepeatedInterval.Enabled), Threshold: threshold(cfg.RepeatedInterval.Threshold), Mode: cfg.RepeatedInterval.Mode},
		{Name: RuleTypeFrequentRequester, Type: RuleTypeFrequentRequester, Enabled: enabled(cfg.FrequentRequester.Enabled), Threshold: threshold(cfg.FrequentRequester.Threshold), Bucket: cfg.FrequentRequester.Bucket},
	}
}

// buildRules turns specs into rules. Unset thresholds, modes and buckets take
// the values from cfg, and a spec without enabled follows the enabled flag of
// its rule type in cfg.
func buildRules(specs []RuleSpec, cfg config.RulesConfig) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	seen := make(map[string]struct{}, len(specs))
	for i, spec := range specs {
		if !specEnabled(spec, cfg) {
			continue
		}
		name := spec.Name
		if name == "" {
			name = spec.Type
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("rule %d: duplicate rule name %q", i, name)
		}
		seen[name] = struct{}{}

		switch spec.Type {
		case RuleTypeHighVolume:
			rules = append(rules, HighVolumeRule{RuleName: name, Limit: thresholdOr(spec.Threshold, cfg.HighVolume.Threshold)})
		case RuleTypeRepeatedInterval:
			mode := spec.Mode
			if mode == "" {
				mode = cfg.RepeatedInterval.Mode
			}
			if err := config.ValidateIntervalMode(mode); err != nil {
				return nil, fmt.Errorf("rule %q: %w", name, err)
			}
			rules = append(rules, RepeatedIntervalRule{RuleName: name, Limit: thresholdOr(spec.Threshold, cfg.RepeatedInterval.Threshold), Mode: mode})
		case RuleTypeFrequentRequester:
			bucket := spec.Bucket
			if bucket <= 0 {
				bucket = cfg.FrequentRequester.Bucket
			}
			rules = append(rules, FrequentRequesterRule{RuleName: name, Limit: thresholdOr(spec.Threshold, cfg.FrequentRequester.Threshold), Bucket: bucket})
		default:
			return nil, fmt.Errorf("rule %q: unknown rule type %q", name, spec.Type)
		}
	}
	return rules, nil
}

func specEnabled(spec RuleSpec, cfg config.RulesConfig) bool {
	if spec.Enabled != nil {
		return *spec.Enabled
	}
	switch spec.Type {
	case RuleTypeHighVolume:
		return cfg.HighVolume.Enabled
	case RuleTypeRepeatedInterval:
		return cfg.RepeatedInterval.Enabled
	case RuleTypeFrequentRequester:
		return cfg.FrequentRequester.Enabled
	}
	// unknown types stay enabled so buildRules rejects them
	return true
}

func thresholdOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}

// Rules returns the active rules in declaration order.
func (e *RuleEngine) Rules() []Rule {
	if e == nil {
		return nil
	}
	return append([]Rule(nil), e.rules...)
}

// WithOverrides returns a copy of the engine whose rules use the override values.
// The receiver is left untouched.
func (e *RuleEngine) WithOverrides(o models.ThresholdOverrides) (*RuleEngine, error) {
	if o.IntervalMode != "" {
		if err := config.ValidateIntervalMode(o.IntervalMode); err != nil {
			return nil, err
		}
	}
	rules := make([]Rule, 0, len(e.rules))
	for _, rule := range e.rules {
		switch r := rule.(type) {
		case HighVolumeRule:
			if o.SizeThreshold != nil {
				r.Limit = *o.SizeThreshold
			}
			rule = r
		case RepeatedIntervalRule:
			if o.IntervalThreshold != nil {
				r.Limit = *o.IntervalThreshold
			}
			if o.IntervalMode != "" {
				r.Mode = o.IntervalMode
			}
			rule = r
		case FrequentRequesterRule:
			if o.RequestThreshold != nil {
				r.Limit = *o.RequestThreshold
			}
			rule = r
		}
		rules = append(rules, rule)
	}
	return &RuleEngine{rules: rules, logger: e.logger}, nil
}

// Evaluate runs one goroutine per rule and joins before returning the verdicts
// in declaration order. Rules only read the input, so no locking is needed.
func (e *RuleEngine) Evaluate(ctx context.Context, in Input) ([]models.RuleVerdict, error) {
	if e == nil || len(e.rules) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	verdicts := make([]models.RuleVerdict, len(e.rules))
	var wg sync.WaitGroup
	for i, rule := range e.rules {
		wg.Add(1)
		go func(i int, rule Rule) {
			defer wg.Done()
			start := time.Now()
			verdicts[i] = rule.Evaluate(in)
			e.logger.Debug("rule evaluated",
				slog.String("rule", rule.Name()),
				slog.Int("flagged_records", len(verdicts[i].RecordIDs)),
				slog.Duration("elapsed", time.Since(start)),
			)
		}(i, rule)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return verdicts, nil
}
