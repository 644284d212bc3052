package main

import (
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"nestfs/internal/app"
	"nestfs/internal/config"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer
// a.Close(). operation identifies the CLI command being run.
func newApp(operation, parameters string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(cfg, operation, parameters)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// readPassphrase prompts for a passphrase without echoing it.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	data, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(data), nil
}

var rootCmd = &cobra.Command{
	Use:   "nestfs",
	Short: "Hierarchical versioned file store",
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
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
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
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Database:   %s (%s)\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Blob store: %s\n", cfg.Blobs.Type)
		return nil
	},
}

var configEncryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "Generate backup encryption keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("SetupEncryption", "")
		if err != nil {
			return err
		}
		defer a.Close()

		passphrase, err := readPassphrase("Passphrase for private key: ")
		if err != nil {
			return err
		}

		if err := a.SetupEncryption(passphrase); err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}

		fmt.Println("Encryption keys generated.")
		return nil
	},
}

// mkdir command
var mkdirCmd = &cobra.Command{
	Use:   "mkdir PATH",
	Short: "Create a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("MakeCollection", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		c, err := a.MakeCollection(args[0])
		if err != nil {
			a.SetError()
			return fmt.Errorf("creating collection: %w", err)
		}

		fmt.Printf("Created collection %s (id %d)\n", args[0], c.ID)
		return nil
	},
}

// write command
var writeCmd = &cobra.Command{
	Use:   "write PATH [LOCALFILE]",
	Short: "Write a file revision (from LOCALFILE or stdin)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data []byte
		var err error
		if len(args) > 1 {
			data, err = os.ReadFile(args[1])
		} else {
			data, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}

		a, err := newApp("WriteFile", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := a.WriteFile(args[0], data)
		if err != nil {
			a.SetError()
			return fmt.Errorf("writing file: %w", err)
		}

		fmt.Printf("%s  %s  %d bytes  %s\n", f.ContentHash[:12], args[0], f.Size, f.MimeType)
		return nil
	},
}

// cat command
var catCmd = &cobra.Command{
	Use:   "cat PATH",
	Short: "Print a file's current content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ReadFile", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		_, data, err := a.ReadFile(args[0])
		if err != nil {
			return err
		}

		_, err = os.Stdout.Write(data)
		return err
	},
}

// ls command
var lsCmd = &cobra.Command{
	Use:   "ls [PATH]",
	Short: "List a collection",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := ""
		if len(args) > 0 {
			target = args[0]
		}

		a, err := newApp("List", target)
		if err != nil {
			return err
		}
		defer a.Close()

		collections, files, err := a.List(target)
		if err != nil {
			return err
		}

		for _, c := range collections {
			fmt.Printf("d  %s\n", c.Handle)
		}
		for _, f := range files {
			fmt.Printf("f  %-30s  %8d  %s\n", f.Handle, f.Size, f.MimeType)
		}
		return nil
	},
}

// mv command
var mvCmd = &cobra.Command{
	Use:   "mv SOURCE DEST",
	Short: "Move a collection or file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Move", args[0]+" -> "+args[1])
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Move(args[0], args[1])
		if err != nil {
			a.SetError()
			return fmt.Errorf("moving: %w", err)
		}

		fmt.Printf("Moved %d collection(s), %d file(s)\n", report.Collections, report.Files)
		return nil
	},
}

// rm command
var rmCmd = &cobra.Command{
	Use:   "rm PATH",
	Short: "Delete a collection or file (history is retained)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Delete", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Delete(args[0]); err != nil {
			a.SetError()
			return fmt.Errorf("deleting: %w", err)
		}

		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

// log command
var logCmd = &cobra.Command{
	Use:   "log PATH",
	Short: "View file revision history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("FileHistory", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		revisions, err := a.FileHistory(args[0])
		if err != nil {
			return err
		}

		for i, r := range revisions {
			current := ""
			if i == 0 {
				current = "  [current]"
			}
			hash := r.ContentHash
			if hash == "" {
				hash = "(deleted)    "
			} else {
				hash = hash[:12] + " "
			}
			fmt.Printf("%s %s  %d%s\n",
				hash,
				r.CreatedAt.Format("2006-01-02 15:04:05"),
				r.Size,
				current,
			)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View store operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("ListOperations", "")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.ListOperations(limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt != nil {
				d := op.FinishedAt.Sub(op.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-15s  %s  %-10s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
			)
		}
		return nil
	},
}

// renest command
var renestCmd = &cobra.Command{
	Use:   "renest",
	Short: "Rebuild the collection tree numbering from parent pointers",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Renest", "")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Renest()
		if err != nil {
			a.SetError()
			return fmt.Errorf("renesting: %w", err)
		}

		fmt.Printf("Renumbered %d collection(s)\n", n)
		return nil
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup NAME",
	Short: "Write an encrypted database backup to the blob store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("BackupDatabase", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.BackupDatabase(args[0]); err != nil {
			a.SetError()
			return fmt.Errorf("backing up: %w", err)
		}

		fmt.Printf("Backup %s written\n", args[0])
		return nil
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore NAME DEST",
	Short: "Decrypt a database backup to a local file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("RestoreDatabase", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		passphrase, err := readPassphrase("Passphrase for private key: ")
		if err != nil {
			return err
		}

		if err := a.RestoreDatabase(args[0], args[1], passphrase); err != nil {
			return fmt.Errorf("restoring: %w", err)
		}

		fmt.Printf("Backup %s restored to %s\n", args[0], args[1])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configEncryptCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(mkdirCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(mvCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
	rootCmd.AddCommand(renestCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
}
