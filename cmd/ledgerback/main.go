package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"ledgerback/internal/app"
	"ledgerback/internal/config"
	"ledgerback/internal/encryption"
	"ledgerback/internal/engine"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "backup", "restore").
func newApp(operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "ledgerback",
	Short: "Cloud backup engine for the ledger database",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		passphrase, _ := cmd.Flags().GetString("encrypt-passphrase")

		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		appID := engine.UUIDGenerator{}.New()
		cfg := config.NewConfig(appID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("App ID:   %s\n", appID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])

		if passphrase != "" {
			enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
			if err != nil {
				return fmt.Errorf("creating encryptor: %w", err)
			}
			if err := enc.Setup(passphrase); err != nil {
				return fmt.Errorf("generating encryption keys: %w", err)
			}
			fmt.Printf("Encryption keys written under %s\n", cfg.Encryption.PublicKeyPath)
			fmt.Println("Backups will be encrypted; keep the passphrase safe.")
		}

		fmt.Println("Fill in [google] client_id, client_secret and redirect_uri before connecting.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("App ID:   %s\n", cfg.AppID)
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:  %s\n", cfg.LogDir)
		fmt.Printf("Prefix:   %s\n", cfg.Backup.FilePrefix)
		return nil
	},
}

// connect command
var connectCmd = &cobra.Command{
	Use:   "connect [AUTHORIZATION_CODE]",
	Short: "Connect to the storage provider",
	Long: `Connect to the storage provider via the OAuth authorization-code flow.

Run without arguments to print the consent URL, open it in a browser, then
re-run with the authorization code the provider hands back.

An access token obtained elsewhere can be stored directly with
--access-token/--expires-in; such a credential has no refresh token and dies
at expiry.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		accessToken, _ := cmd.Flags().GetString("access-token")
		expiresIn, _ := cmd.Flags().GetInt("expires-in")

		a, err := newApp("connect")
		if err != nil {
			return err
		}
		defer a.Close()

		if accessToken != "" {
			if err := a.ConnectImplicit(accessToken, expiresIn); err != nil {
				return fmt.Errorf("storing access token: %w", err)
			}
			fmt.Println("Connected (ephemeral).")
			return nil
		}

		if len(args) == 0 {
			fmt.Println("Open this URL in a browser and authorize access:")
			fmt.Println()
			fmt.Println("  " + a.AuthCodeURL())
			fmt.Println()
			fmt.Println("Then run: ledgerback connect <authorization-code>")
			return nil
		}

		if err := a.Connect(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("connecting: %w", err)
		}
		fmt.Println("Connected.")
		return nil
	},
}

// disconnect command
var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Disconnect from the storage provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("disconnect")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Disconnect(cmd.Context()); err != nil {
			return fmt.Errorf("disconnecting: %w", err)
		}
		fmt.Println("Disconnected.")
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "View connection and backup status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("status")
		if err != nil {
			return err
		}
		defer a.Close()

		state, cred, err := a.Service().Tokens().State()
		if err != nil {
			return err
		}
		fmt.Printf("Connection: %s\n", state)
		if cred != nil {
			kind := "ephemeral"
			if cred.Persistent() {
				kind = "persistent"
			}
			fmt.Printf("Credential: %s (%s), expires %s\n", kind, cred.AcquiredVia, cred.AccessExpiry.Format("2006-01-02 15:04:05"))
		}

		enabled, err := a.Settings().AutoBackupEnabled()
		if err != nil {
			return err
		}
		fmt.Printf("Auto backup: %v\n", enabled)

		last, err := a.Settings().LastAutoBackupDay()
		if err != nil {
			return err
		}
		if last == "" {
			last = "never"
		}
		fmt.Printf("Last automatic backup: %s\n", last)

		if state != engine.Disconnected {
			files, err := a.Service().ListBackups(cmd.Context())
			if err != nil {
				fmt.Printf("Remote backups: unavailable (%v)\n", err)
			} else if len(files) == 0 {
				fmt.Println("Remote backups: none")
			} else {
				fmt.Printf("Newest remote backup: %s (%s)\n", files[0].Name, files[0].CreatedAt.Format("2006-01-02 15:04:05"))
			}
		}
		return nil
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Export the dataset and upload a backup now",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("backup")
		if err != nil {
			return err
		}
		defer a.Close()

		file, err := a.Service().BackupNow(cmd.Context(), printProgress)
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}
		fmt.Printf("\nUploaded %s (%d bytes)\n", file.Name, file.SizeBytes)
		return nil
	},
}

// backups command
var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List remote backup files",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("backups")
		if err != nil {
			return err
		}
		defer a.Close()

		files, err := a.Service().ListBackups(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing backups: %w", err)
		}
		if len(files) == 0 {
			fmt.Println("No backups found.")
			return nil
		}
		for _, f := range files {
			fmt.Printf("%s  %s  %10d  %s\n", f.ID, f.CreatedAt.Format("2006-01-02 15:04"), f.SizeBytes, f.Name)
		}
		return nil
	},
}

// inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect FILE_ID",
	Short: "Download a backup and compare it against the live dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		passphrase, _ := cmd.Flags().GetString("passphrase")

		a, err := newApp("inspect")
		if err != nil {
			return err
		}
		defer a.Close()

		decrypt, err := unlockIfNeeded(a, passphrase)
		if err != nil {
			return err
		}

		snap, err := a.Service().FetchSnapshot(cmd.Context(), args[0], decrypt)
		if err != nil {
			return fmt.Errorf("fetching backup: %w", err)
		}
		live, err := a.Service().LiveStats(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Snapshot %s from %s (app %s)\n\n", snap.Meta.Version, snap.Meta.Date.Format("2006-01-02 15:04:05"), snap.Meta.App)
		fmt.Printf("%-20s %10s %10s\n", "collection", "backup", "live")
		snapStats := snap.Stats()
		for i, st := range snapStats {
			fmt.Printf("%-20s %10d %10d\n", st.Collection, st.Records, live[i].Records)
		}
		return nil
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore FILE_ID",
	Short: "Replace the live dataset with a backup",
	Long: `Replace the live dataset with the contents of a backup file.

Restore is a replace, not a merge: records absent from the backup are deleted
from every restored collection. Use --exclude to leave collections untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		excludeRaw, _ := cmd.Flags().GetString("exclude")
		passphrase, _ := cmd.Flags().GetString("passphrase")

		a, err := newApp("restore")
		if err != nil {
			return err
		}
		defer a.Close()

		exclude := make(map[engine.Collection]bool)
		if excludeRaw != "" {
			for _, name := range strings.Split(excludeRaw, ",") {
				exclude[engine.Collection(strings.TrimSpace(name))] = true
			}
		}

		decrypt, err := unlockIfNeeded(a, passphrase)
		if err != nil {
			return err
		}

		result, err := a.Service().RestoreBackup(cmd.Context(), args[0], exclude, decrypt, printProgress)
		if err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}

		fmt.Printf("\nRestore finished: %s\n", result.Status)
		for _, w := range result.Warnings {
			fmt.Printf("warning: %s\n", w)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View recent backup and restore operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("history")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.Service().History(limit)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}
		for _, op := range ops {
			finished := "-"
			if op.FinishedAt != nil {
				finished = op.FinishedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%4d  %-8s %-8s started %s  finished %s\n",
				op.ID, op.Operation, op.Status, op.StartedAt.Format("2006-01-02 15:04:05"), finished)
		}
		return nil
	},
}

// auto command
var autoCmd = &cobra.Command{
	Use:   "auto on|off",
	Short: "Enable or disable automatic backups",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var enable bool
		switch args[0] {
		case "on":
			enable = true
		case "off":
			enable = false
		default:
			return fmt.Errorf("expected 'on' or 'off', got %q", args[0])
		}

		a, err := newApp("auto")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Settings().SetAutoBackupEnabled(enable); err != nil {
			return err
		}
		fmt.Printf("Automatic backups: %s\n", args[0])
		return nil
	},
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the backup scheduler and credential upkeep until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("watch")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Println("Watching. Press Ctrl-C to stop.")
		a.Watch(ctx)
		return nil
	},
}

// unlockIfNeeded turns a passphrase flag into a DecryptionContext, or nil
// when no passphrase was given.
func unlockIfNeeded(a *app.App, passphrase string) (engine.DecryptionContext, error) {
	if passphrase == "" {
		return nil, nil
	}
	decrypt, err := a.Encryptor().Unlock(passphrase)
	if err != nil {
		return nil, fmt.Errorf("unlocking encryption key: %w", err)
	}
	return decrypt, nil
}

func printProgress(percent int) {
	fmt.Printf("\r%3d%%", percent)
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().String("encrypt-passphrase", "", "generate age encryption keys protected by this passphrase")

	connectCmd.Flags().String("access-token", "", "store an externally obtained access token (ephemeral)")
	connectCmd.Flags().Int("expires-in", 3600, "lifetime in seconds of --access-token")
	inspectCmd.Flags().String("passphrase", "", "passphrase for encrypted backups")
	restoreCmd.Flags().String("passphrase", "", "passphrase for encrypted backups")
	restoreCmd.Flags().String("exclude", "", "comma-separated collections to leave untouched")
	historyCmd.Flags().Int("limit", 20, "maximum operations to show")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(disconnectCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(backupsCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(autoCmd)
	rootCmd.AddCommand(watchCmd)
}
