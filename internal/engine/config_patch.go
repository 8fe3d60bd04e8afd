package engine

import (
	"fmt"

	"github.com/quoroomlabs/quoroom/internal/errs"
	"github.com/quoroomlabs/quoroom/internal/store"
)

// applyConfigPatch merges a configure_room patch into the room config.
// Unknown keys and out-of-range values are rejected whole; a failed patch
// changes nothing.
func applyConfigPatch(cfg *store.RoomConfig, patch map[string]any) error {
	for key, raw := range patch {
		switch key {
		case "quorum_threshold":
			v, err := patchString(key, raw)
			if err != nil {
				return err
			}
			switch v {
			case store.ThresholdMajority, store.ThresholdSupermajority, store.ThresholdUnanimous:
				cfg.QuorumThreshold = v
			default:
				return errs.New(errs.KindInvalidInput, "unknown quorum threshold %q", v)
			}
		case "tie_break":
			v, err := patchString(key, raw)
			if err != nil {
				return err
			}
			switch v {
			case store.TieBreakExpire, store.TieBreakQueen:
				cfg.TieBreak = v
			default:
				return errs.New(errs.KindInvalidInput, "unknown tie break %q", v)
			}
		case "vote_timeout_minutes":
			n, err := patchInt(key, raw)
			if err != nil {
				return err
			}
			if n < 1 {
				return errs.New(errs.KindInvalidInput, "vote timeout must be at least 1 minute")
			}
			cfg.VoteTimeoutMinutes = n
		case "min_voters":
			n, err := patchInt(key, raw)
			if err != nil {
				return err
			}
			if n < 0 {
				return errs.New(errs.KindInvalidInput, "min voters cannot be negative")
			}
			cfg.MinVoters = n
		case "cycle_gap_ms":
			n, err := patchInt(key, raw)
			if err != nil {
				return err
			}
			if n < 1000 {
				return errs.New(errs.KindInvalidInput, "cycle gap must be at least 1000 ms")
			}
			cfg.CycleGapMs = n
		case "max_turns_per_cycle":
			n, err := patchInt(key, raw)
			if err != nil {
				return err
			}
			if n < 1 {
				return errs.New(errs.KindInvalidInput, "max turns per cycle must be positive")
			}
			cfg.MaxTurnsPerCycle = n
		case "max_concurrent_tasks":
			n, err := patchInt(key, raw)
			if err != nil {
				return err
			}
			if n < 1 {
				return errs.New(errs.KindInvalidInput, "max concurrent tasks must be positive")
			}
			cfg.MaxConcurrentTasks = n
		case "quiet_from":
			v, err := patchString(key, raw)
			if err != nil {
				return err
			}
			cfg.QuietFrom = v
		case "quiet_until":
			v, err := patchString(key, raw)
			if err != nil {
				return err
			}
			cfg.QuietUntil = v
		case "autonomy":
			v, err := patchString(key, raw)
			if err != nil {
				return err
			}
			if v != "auto" && v != "semi" {
				return errs.New(errs.KindInvalidInput, "autonomy must be \"auto\" or \"semi\"")
			}
			cfg.Autonomy = v
		case "auto_approve_low_impact":
			b, ok := raw.(bool)
			if !ok {
				return errs.New(errs.KindInvalidInput, "%s must be a boolean", key)
			}
			cfg.AutoApproveLowImpact = b
		default:
			return errs.New(errs.KindInvalidInput, "unknown room setting %q", key)
		}
	}
	return nil
}

// validateQuietWindow accepts an empty window or a well-formed HH:MM pair.
// from == until is rejected: it is ambiguous between "never" and "always".
func validateQuietWindow(from, until string) error {
	if from == "" && until == "" {
		return nil
	}
	if from == "" || until == "" {
		return errs.New(errs.KindInvalidInput, "quiet hours need both quiet_from and quiet_until")
	}
	if !validClock(from) {
		return errs.New(errs.KindInvalidInput, "quiet_from %q is not HH:MM", from)
	}
	if !validClock(until) {
		return errs.New(errs.KindInvalidInput, "quiet_until %q is not HH:MM", until)
	}
	if from == until {
		return errs.New(errs.KindInvalidInput, "quiet window cannot start and end at the same time")
	}
	return nil
}

func validClock(s string) bool {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return false
	}
	return h >= 0 && h <= 23 && m >= 0 && m <= 59
}

func patchString(key string, raw any) (string, error) {
	v, ok := raw.(string)
	if !ok || v == "" {
		return "", errs.New(errs.KindInvalidInput, "%s must be a non-empty string", key)
	}
	return v, nil
}

func patchInt(key string, raw any) (int, error) {
	switch v := raw.(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	default:
		return 0, errs.New(errs.KindInvalidInput, "%s must be a number", key)
	}
}
