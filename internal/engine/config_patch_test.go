package engine

import (
	"testing"

	"github.com/quoroomlabs/quoroom/internal/errs"
	"github.com/quoroomlabs/quoroom/internal/store"
)

func TestApplyConfigPatch(t *testing.T) {
	cases := []struct {
		name    string
		patch   map[string]any
		wantErr bool
		check   func(t *testing.T, cfg store.RoomConfig)
	}{
		{
			name:  "threshold and tie break",
			patch: map[string]any{"quorum_threshold": "unanimous", "tie_break": "queen_tiebreak"},
			check: func(t *testing.T, cfg store.RoomConfig) {
				if cfg.QuorumThreshold != store.ThresholdUnanimous {
					t.Errorf("threshold = %q", cfg.QuorumThreshold)
				}
				if cfg.TieBreak != store.TieBreakQueen {
					t.Errorf("tie break = %q", cfg.TieBreak)
				}
			},
		},
		{
			// JSON numbers arrive as float64 through the tool layer.
			name:  "numeric fields from json",
			patch: map[string]any{"cycle_gap_ms": float64(5000), "max_turns_per_cycle": float64(4), "max_concurrent_tasks": float64(2)},
			check: func(t *testing.T, cfg store.RoomConfig) {
				if cfg.CycleGapMs != 5000 || cfg.MaxTurnsPerCycle != 4 || cfg.MaxConcurrentTasks != 2 {
					t.Errorf("cfg = %+v", cfg)
				}
			},
		},
		{
			name:  "autonomy",
			patch: map[string]any{"autonomy": "auto", "auto_approve_low_impact": true},
			check: func(t *testing.T, cfg store.RoomConfig) {
				if cfg.Autonomy != "auto" || !cfg.AutoApproveLowImpact {
					t.Errorf("cfg = %+v", cfg)
				}
			},
		},
		{name: "unknown key", patch: map[string]any{"max_workers": 5}, wantErr: true},
		{name: "bad threshold", patch: map[string]any{"quorum_threshold": "plurality"}, wantErr: true},
		{name: "bad tie break", patch: map[string]any{"tie_break": "coin_flip"}, wantErr: true},
		{name: "zero vote timeout", patch: map[string]any{"vote_timeout_minutes": float64(0)}, wantErr: true},
		{name: "negative min voters", patch: map[string]any{"min_voters": float64(-1)}, wantErr: true},
		{name: "cycle gap too small", patch: map[string]any{"cycle_gap_ms": float64(500)}, wantErr: true},
		{name: "non-numeric turns", patch: map[string]any{"max_turns_per_cycle": "ten"}, wantErr: true},
		{name: "bad autonomy", patch: map[string]any{"autonomy": "full"}, wantErr: true},
		{name: "non-bool approve flag", patch: map[string]any{"auto_approve_low_impact": "yes"}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := store.DefaultRoomConfig()
			err := applyConfigPatch(&cfg, tc.patch)
			if tc.wantErr {
				if !errs.IsKind(err, errs.KindInvalidInput) {
					t.Fatalf("err = %v, want invalid_input", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("applyConfigPatch: %v", err)
			}
			tc.check(t, cfg)
		})
	}
}

func TestValidateQuietWindow(t *testing.T) {
	cases := []struct {
		from, until string
		wantErr     bool
	}{
		{"", "", false},
		{"22:00", "07:00", false},
		{"07:00", "22:00", false},
		{"0:05", "23:59", false},
		{"22:00", "", true},
		{"", "07:00", true},
		{"25:00", "07:00", true},
		{"22:00", "07:60", true},
		{"evening", "morning", true},
		{"22:00", "22:00", true},
	}
	for _, tc := range cases {
		err := validateQuietWindow(tc.from, tc.until)
		if tc.wantErr && !errs.IsKind(err, errs.KindInvalidInput) {
			t.Errorf("validateQuietWindow(%q, %q) = %v, want invalid_input", tc.from, tc.until, err)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("validateQuietWindow(%q, %q) = %v, want nil", tc.from, tc.until, err)
		}
	}
}
