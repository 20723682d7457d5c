package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/omegahq/gateway/internal/config"
	"github.com/omegahq/gateway/internal/gateway"
	"github.com/omegahq/gateway/internal/sandbox"
	"github.com/omegahq/gateway/internal/upgrade"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check config validity, store connectivity, and sandbox availability",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

// runDoctor is a trimmed descendant of the teacher's doctor command:
// config/DB/provider/channel checks survive, the managed-mode Postgres
// branch and its DB-backed provider/channel listing are dropped along with
// the rest of that scope (see DESIGN.md's internal/gateway entry).
func runDoctor() {
	fmt.Println("omega doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (using defaults, file not found)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	app, err := gateway.New(cfg)
	if err != nil {
		fmt.Printf("  Gateway wiring error: %s\n", err)
		return
	}
	defer app.Store.Close()

	fmt.Println()
	fmt.Println("  Store:")
	status, err := upgrade.CheckSchema(app.Store.DB())
	if err != nil {
		fmt.Printf("    %-12s CHECK FAILED (%s)\n", "Schema:", err)
	} else if status.Compatible {
		fmt.Printf("    %-12s v%d (up to date)\n", "Schema:", status.CurrentVersion)
	} else {
		fmt.Printf("    %-12s v%d\n", "Schema:", status.CurrentVersion)
		fmt.Print(upgrade.FormatError(status))
	}
	if pending, err := upgrade.PendingHooks(context.Background(), app.Store.DB()); err == nil && len(pending) > 0 {
		fmt.Printf("    %-12s %v (run: omega migrate up)\n", "Data hooks:", pending)
	}
	fmt.Printf("    %-12s %s\n", "Path:", config.ExpandHome(cfg.Store.Path))

	fmt.Println()
	fmt.Println("  Sandbox:")
	fmt.Printf("    %-12s %s\n", "Mode:", cfg.Sandbox.Mode)
	if cfg.Sandbox.Mode != "off" {
		guard := sandbox.NewGuard(config.ExpandHome(cfg.Build.WorkspaceDir), cfg.Sandbox.ToSandboxConfig())
		if guard.Enforced() {
			fmt.Printf("    %-12s OS-level profile active (%s)\n", "Enforcement:", runtime.GOOS)
		} else {
			fmt.Printf("    %-12s code-level path checks only (no OS profile for %s)\n", "Enforcement:", runtime.GOOS)
		}
	}

	fmt.Println()
	fmt.Println("  Providers:")
	checkProvider("Subprocess", cfg.Providers.Subprocess.Enabled, cfg.Providers.Subprocess.Executable)
	checkAPIProvider("Anthropic", cfg.Providers.Anthropic)
	checkAPIProvider("OpenAI", cfg.Providers.OpenAI)
	checkAPIProvider("OpenRouter", cfg.Providers.OpenRouter)

	fmt.Println()
	fmt.Println("  Channels:")
	names := app.Channels.Names()
	if len(names) == 0 {
		fmt.Println("    (none enabled)")
	}
	for _, name := range names {
		ch, _ := app.Channels.GetChannel(name)
		running := "not started"
		if r, ok := ch.(interface{ IsRunning() bool }); ok && r.IsRunning() {
			running = "running"
		}
		fmt.Printf("    %-12s %s (doctor does not start channels)\n", name+":", running)
	}

	fmt.Println()
	fmt.Println("  External Tools:")
	checkBinary("docker")
	checkBinary("git")

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkProvider(name string, enabled bool, executable string) {
	status := "disabled"
	switch {
	case enabled && executable != "":
		if _, err := exec.LookPath(executable); err == nil {
			status = fmt.Sprintf("enabled (%s found)", executable)
		} else {
			status = fmt.Sprintf("enabled (%s NOT FOUND)", executable)
		}
	case enabled:
		status = "enabled (no executable configured)"
	}
	fmt.Printf("    %-12s %s\n", name+":", status)
}

func checkAPIProvider(name string, cfg config.APIProviderConfig) {
	status := "disabled"
	if cfg.Enabled && cfg.APIKey != "" {
		status = "enabled (API key set)"
	} else if cfg.Enabled {
		status = "enabled (no API key)"
	}
	fmt.Printf("    %-12s %s\n", name+":", status)
}

func checkBinary(name string) {
	if path, err := exec.LookPath(name); err == nil {
		fmt.Printf("    %-12s %s\n", name+":", path)
	} else {
		fmt.Printf("    %-12s NOT FOUND\n", name+":")
	}
}
