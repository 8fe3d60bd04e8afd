package cmd

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quoroomlabs/quoroom/internal/config"
	"github.com/quoroomlabs/quoroom/internal/store"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the local installation and report problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor()
		},
	}
}

type check struct {
	name string
	ok   bool
	note string
}

func runDoctor() error {
	var checks []check
	add := func(name string, ok bool, note string) {
		checks = append(checks, check{name, ok, note})
	}

	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		add("config", false, err.Error())
		printChecks(checks)
		return fmt.Errorf("doctor found problems")
	}
	if verr := cfg.Validate(); verr != nil {
		add("config", false, verr.Error())
	} else {
		add("config", true, path)
	}

	dataDir := config.ExpandHome(cfg.DataDir)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		add("data dir", false, err.Error())
	} else {
		probe := filepath.Join(dataDir, ".doctor-probe")
		if err := os.WriteFile(probe, []byte("ok"), 0600); err != nil {
			add("data dir", false, "not writable: "+err.Error())
		} else {
			os.Remove(probe)
			add("data dir", true, dataDir)
		}
	}

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		add("database", false, err.Error())
	} else {
		version, dirty, verr := st.SchemaVersion()
		switch {
		case verr != nil:
			add("database", false, "schema version: "+verr.Error())
		case dirty:
			add("database", false, fmt.Sprintf("schema version %d is dirty; a migration failed midway", version))
		default:
			add("database", true, fmt.Sprintf("%s (schema v%d)", cfg.DatabasePath(), version))
		}
		st.Close()
	}

	switch cfg.Executor.Default {
	case "cli":
		if cfg.Executor.CLI.Command == "" {
			add("executor", false, "executor.default is cli but no cli.command is set")
		} else {
			add("executor", true, "cli: "+cfg.Executor.CLI.Command)
		}
	default:
		if cfg.Executor.APIKey == "" {
			add("executor", false, "no API key; set QUOROOM_ANTHROPIC_API_KEY")
		} else {
			add("executor", true, "api, model "+cfg.Executor.Model)
		}
	}

	if port, err := os.ReadFile(cfg.SidecarPath("api.port")); err != nil {
		add("engine", false, "not running (no api.port sidecar)")
	} else {
		url := "http://127.0.0.1:" + strings.TrimSpace(string(port)) + "/api/status"
		client := &http.Client{Timeout: 3 * time.Second}
		resp, err := client.Get(url)
		if err != nil {
			add("engine", false, "sidecar present but API unreachable: "+err.Error())
		} else {
			resp.Body.Close()
			add("engine", resp.StatusCode == http.StatusOK, url)
		}
	}

	printChecks(checks)
	for _, c := range checks {
		if !c.ok {
			return fmt.Errorf("doctor found problems")
		}
	}
	fmt.Println("All checks passed.")
	return nil
}

func printChecks(checks []check) {
	for _, c := range checks {
		mark := "ok  "
		if !c.ok {
			mark = "FAIL"
		}
		fmt.Printf("[%s] %-10s %s\n", mark, c.name, c.note)
	}
}
