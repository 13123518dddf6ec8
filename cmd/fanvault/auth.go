package main

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"fanvault/pkg/auth"
	"fanvault/pkg/models"
)

var authCookieDomain string

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage stored browser session bundles",
}

var authImportCmd = &cobra.Command{
	Use:   "import [profile]",
	Short: "Store browser session cookies for later archive runs",
	Long: `Import prompts for the Cookie header value copied out of an authenticated
browser tab (input is hidden) and stores it as a session bundle. Bundles go
to the system keychain when available, otherwise to an encrypted file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		profile := cfg.Platform.Profile
		if len(args) == 1 {
			profile = args[0]
		}
		if authCookieDomain == "" {
			return fmt.Errorf("--domain is required")
		}

		fmt.Fprintf(os.Stderr, "Paste Cookie header value for %s (input hidden): ", profile)
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("read cookie input: %w", err)
		}

		cookies := parseCookieHeader(string(raw), authCookieDomain)
		if len(cookies) == 0 {
			return fmt.Errorf("no cookies parsed from input")
		}

		manager, err := auth.NewManager()
		if err != nil {
			return err
		}
		if err := manager.Store(&auth.SessionBundle{
			Profile:   profile,
			Cookies:   cookies,
			UserAgent: cfg.Platform.UserAgent,
		}); err != nil {
			return err
		}

		fmt.Printf("Stored %d cookies under profile %q\n", len(cookies), profile)
		return nil
	},
}

var authListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored session profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := auth.NewManager()
		if err != nil {
			return err
		}
		profiles, err := manager.List()
		if err != nil {
			return err
		}
		if len(profiles) == 0 {
			fmt.Println("No stored sessions")
			return nil
		}
		for _, p := range profiles {
			fmt.Println(p)
		}
		return nil
	},
}

var authRemoveCmd = &cobra.Command{
	Use:   "remove <profile>",
	Short: "Delete a stored session profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := auth.NewManager()
		if err != nil {
			return err
		}
		if err := manager.Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("Removed session profile %q\n", args[0])
		return nil
	},
}

// parseCookieHeader splits a raw Cookie header ("a=1; b=2") into cookie
// records scoped to the given domain.
func parseCookieHeader(raw, domain string) []models.Cookie {
	var cookies []models.Cookie
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, found := strings.Cut(pair, "=")
		if !found || name == "" {
			continue
		}
		cookies = append(cookies, models.Cookie{
			Name:   strings.TrimSpace(name),
			Value:  strings.TrimSpace(value),
			Domain: domain,
			Path:   "/",
		})
	}
	return cookies
}

func init() {
	authImportCmd.Flags().StringVar(&authCookieDomain, "domain", "", "cookie domain, e.g. .example.com")
	authCmd.AddCommand(authImportCmd, authListCmd, authRemoveCmd)
	rootCmd.AddCommand(authCmd)
}
