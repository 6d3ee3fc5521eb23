// Package main is the entrypoint for the Quantiv desktop license CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/quantivhq/quantiv/internal/activation"
	"github.com/quantivhq/quantiv/internal/config"
	"github.com/quantivhq/quantiv/internal/fingerprint"
	"github.com/quantivhq/quantiv/internal/record"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

var verbose bool

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "quantiv",
		Short: "Quantiv license management",
		Long:  "Inspect, activate, and deactivate the Quantiv license on this device.",
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		newLicenseCmd(),
		newFingerprintCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func newLicenseCmd() *cobra.Command {
	licenseCmd := &cobra.Command{
		Use:   "license",
		Short: "Manage the license on this device",
	}
	licenseCmd.AddCommand(
		newStatusCmd(),
		newActivateCmd(),
		newDeactivateCmd(),
		newInfoCmd(),
	)
	return licenseCmd
}

func newLogger() zerolog.Logger {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).With().Timestamp().Logger()
}

// newMachine builds the activation machine from the user config, falling
// back to platform defaults for any unset path.
func newMachine() (*activation.Machine, *config.AppConfig, error) {
	cfg, err := config.LoadDefault()
	if err != nil {
		return nil, nil, err
	}

	var st *record.Store
	if cfg.LicenseDir != "" {
		st = record.NewStore(filepath.Join(cfg.LicenseDir, "license.dat"))
	} else {
		st, err = record.NewDefaultStore()
		if err != nil {
			return nil, nil, err
		}
	}
	return activation.NewMachine(st, newLogger()), cfg, nil
}

func downloadsDir(cfg *config.AppConfig) (string, error) {
	if cfg.DownloadsDir != "" {
		return cfg.DownloadsDir, nil
	}
	return activation.DefaultDownloadsDir()
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Verify the license on this device",
		Long: `Verify the stored license record, creating a trial record on first run.
If activation is still required, the downloads folder is scanned for a
license delivery file before reporting.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cfg, err := newMachine()
			if err != nil {
				return err
			}
			if !cfg.RequireLicense {
				fmt.Println("Licensing disabled by configuration.")
				return nil
			}

			res, err := m.VerifyOrCreate()
			if err != nil {
				return err
			}
			if res.Reason == activation.ReasonActivationRequired {
				dir, dirErr := downloadsDir(cfg)
				if dirErr == nil {
					if auto, autoErr := m.AutoActivate(dir); autoErr == nil && auto.OK {
						res = auto
					}
				}
			}

			printResult(res)
			if !res.OK {
				os.Exit(1)
			}
			return nil
		},
	}
}

func newActivateCmd() *cobra.Command {
	var key, email string

	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Activate this device with a license key",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, err := newMachine()
			if err != nil {
				return err
			}
			res, err := m.Activate(key, email)
			if err != nil {
				return err
			}
			printResult(res)
			if !res.OK {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "license key (required)")
	cmd.Flags().StringVar(&email, "email", "", "customer email the key was issued for")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func newDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate",
		Short: "Remove the license record from this device",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, err := newMachine()
			if err != nil {
				return err
			}
			if err := m.Deactivate(); err != nil {
				return err
			}
			fmt.Println("License removed.")
			return nil
		},
	}
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show details of the stored license record",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, err := newMachine()
			if err != nil {
				return err
			}
			info, err := m.Info()
			if err != nil {
				return err
			}
			if !info.Present {
				fmt.Println("No license record on this device.")
				return nil
			}

			fmt.Printf("License ID:  %s\n", info.LicenseID)
			fmt.Printf("Type:        %s\n", info.Type)
			if info.CustomerEmail != "" {
				fmt.Printf("Email:       %s\n", info.CustomerEmail)
			}
			if len(info.Device) >= 12 {
				fmt.Printf("Device:      %s...\n", info.Device[:12])
			}
			fmt.Printf("Created:     %s\n", info.CreatedAt)
			if info.ActivatedAt != "" {
				fmt.Printf("Activated:   %s\n", info.ActivatedAt)
			}
			if info.Valid {
				fmt.Println("Status:      valid")
			} else {
				fmt.Printf("Status:      invalid (%s)\n", info.Reason)
			}
			return nil
		},
	}
}

func newFingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print this device's fingerprint",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(fingerprint.Fingerprint())
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("quantiv %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		},
	}
}

func printResult(res activation.Result) {
	if res.OK {
		fmt.Printf("License OK (%s)", res.Type)
		if res.CustomerEmail != "" {
			fmt.Printf(" for %s", res.CustomerEmail)
		}
		fmt.Println()
		return
	}
	switch res.Reason {
	case activation.ReasonActivationRequired:
		if res.FirstRun {
			fmt.Println("Trial started. Activation required.")
		} else {
			fmt.Println("Activation required.")
		}
		fmt.Println("Run: quantiv license activate --key <key> --email <email>")
	case activation.ReasonLicenseTampered:
		fmt.Println("License record failed integrity check.")
	case activation.ReasonDeviceMismatch:
		fmt.Println("License record belongs to another device.")
	case activation.ReasonInvalidKeyFormat:
		fmt.Println("License key format not recognized.")
	default:
		fmt.Printf("License check failed: %s\n", res.Reason)
	}
}
