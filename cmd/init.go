package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/quoroomlabs/quoroom/internal/config"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactive setup: write the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}
}

func runInit() error {
	path := resolveConfigPath()
	if _, err := os.Stat(path); err == nil {
		var overwrite bool
		confirm := huh.NewConfirm().
			Title(fmt.Sprintf("Config already exists at %s. Overwrite?", path)).
			Value(&overwrite)
		if err := confirm.Run(); err != nil {
			return err
		}
		if !overwrite {
			fmt.Println("Keeping existing config.")
			return nil
		}
	}

	cfg := config.Default()
	executorChoice := cfg.Executor.Default
	cliCommand := cfg.Executor.CLI.Command
	model := cfg.Executor.Model
	dataDir := cfg.DataDir
	browserEnabled := cfg.Tools.Browser.Enabled

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Data directory").
				Description("Database, run results, and sidecar files live here.").
				Value(&dataDir),
			huh.NewSelect[string]().
				Title("Agent executor").
				Description("api drives the Anthropic API; cli drives a local agent CLI.").
				Options(
					huh.NewOption("Anthropic API (needs QUOROOM_ANTHROPIC_API_KEY)", "api"),
					huh.NewOption("Agent CLI subprocess", "cli"),
				).
				Value(&executorChoice),
			huh.NewInput().
				Title("Model").
				Value(&model),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("CLI command").
				Description("Binary on PATH used when the cli executor is selected.").
				Value(&cliCommand),
			huh.NewConfirm().
				Title("Enable the headless browser tool?").
				Value(&browserEnabled),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	cfg.DataDir = dataDir
	cfg.Executor.Default = executorChoice
	cfg.Executor.Model = model
	cfg.Executor.CLI.Command = cliCommand
	cfg.Tools.Browser.Enabled = browserEnabled

	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Printf("Config written to %s\n", path)
	fmt.Println("Secrets stay in the environment: set QUOROOM_ANTHROPIC_API_KEY and")
	fmt.Println("QUOROOM_WALLET_SECRET (or a .env file) before starting the engine.")
	return nil
}
