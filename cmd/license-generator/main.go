// Package main is the entrypoint for the Quantiv license generator CLI,
// used by support staff to mint customer keys offline.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quantivhq/quantiv/internal/license"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   `license-generator "Customer Name" "customer@email.com"`,
		Short: "Generate Quantiv license keys",
		Long: `Generate a customer-specific license key for Quantiv.

The same name and email always produce the same key, so a lost key can be
regenerated at any time.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(args[0], args[1])
		},
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newVerifyCmd(), newVersionCmd())
	return rootCmd
}

func runGenerate(customerName, customerEmail string) error {
	key, err := license.GenerateIssuedKey(customerName, customerEmail)
	if err != nil {
		return err
	}

	rule := strings.Repeat("=", 60)
	fmt.Println(rule)
	fmt.Println("Quantiv - License Key Generated")
	fmt.Println(rule)
	fmt.Printf("Customer Name: %s\n", customerName)
	fmt.Printf("Customer Email: %s\n", customerEmail)
	fmt.Printf("License Key: %s\n", key)
	fmt.Println(rule)
	fmt.Println()
	fmt.Println("Instructions for customer:")
	fmt.Println("1. Install the Quantiv application")
	fmt.Println("2. When prompted for activation, enter the license key above")
	fmt.Println("3. Enter the same email address used for purchase")
	fmt.Println("4. The application will be activated for this device")
	fmt.Println()
	fmt.Println("Note: This license is tied to the customer information provided.")
	fmt.Println("The customer must use the exact same email address for activation.")
	return nil
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <key> <name> <email>",
		Short: "Check that a key belongs to a customer",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, name, email := args[0], args[1], args[2]
			if !license.ValidateIssuedKeyFormat(key) {
				return fmt.Errorf("key %q is not in ABTK-XXXX-XXXX-XXXX-XXXX format", key)
			}
			if !license.VerifyIssuedKey(license.IssuedKey(key), name, email) {
				return fmt.Errorf("key does not match customer %q <%s>", name, email)
			}
			fmt.Printf("Key is valid for %s <%s>\n", name, email)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("license-generator %s\n", Version)
		},
	}
}
