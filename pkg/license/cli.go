package license

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// CLI provides a terminal's command-line interface for license management.
type CLI struct {
	manager       *Manager
	licenseServer string
	outputFormat  string // "text" or "json"
}

// NewCLI creates a new license CLI.
func NewCLI(manager *Manager, licenseServer string) *CLI {
	return &CLI{manager: manager, licenseServer: licenseServer, outputFormat: "text"}
}

// SetOutputFormat sets output format ("text" or "json").
func (c *CLI) SetOutputFormat(format string) { c.outputFormat = format }

// Activate activates a license key.
func (c *CLI) Activate(licenseKey string) error {
	key := LicenseKey(licenseKey)

	if err := c.manager.LoadFromKey(key); err != nil {
		return fmt.Errorf("invalid license key: %w", err)
	}

	client := NewLicenseClient(c.licenseServer)
	hardwareID := GetHardwareIDWithFallback()
	hostname, _ := os.Hostname()

	resp, err := client.Activate(key, hardwareID, hostname, osVersionString(), "")
	if err != nil {
		c.printSuccess("License activated (offline mode)")
		return nil
	}

	c.printSuccess(fmt.Sprintf("License activated: %s", resp.Status))
	return nil
}

func osVersionString() string {
	hostname, _ := os.Hostname()
	return hostname
}

// Status shows current license status.
func (c *CLI) Status() error {
	status := c.manager.GetStatus()
	lic := c.manager.GetLicense()

	if c.outputFormat == "json" {
		return c.outputJSON(map[string]interface{}{
			"status":      status,
			"license":     lic,
			"hardware_id": GetHardwareIDWithFallback(),
		})
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "┌─────────────────────────────────────────────────────────┐")
	fmt.Fprintln(w, "│                    GIRO LICENSE STATUS                  │")
	fmt.Fprintln(w, "└─────────────────────────────────────────────────────────┘")
	fmt.Fprintln(w, "")

	if lic == nil {
		fmt.Fprintln(w, "  Status:\tno license loaded")
		fmt.Fprintln(w, "")
		fmt.Fprintf(w, "  Hardware ID:\t%s\n", GetHardwareIDWithFallback())
		fmt.Fprintln(w, "")
		return nil
	}

	statusIcon := "OK"
	if !status.Valid {
		statusIcon = "INVALID"
	} else if status.GracePeriod {
		statusIcon = "GRACE"
	}

	fmt.Fprintf(w, "  Status:\t%s %s\n", statusIcon, c.statusText(status))
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "  License ID:\t%s\n", lic.ID)
	fmt.Fprintf(w, "  Admin:\t%s\n", lic.AdminName)
	fmt.Fprintf(w, "  Plan:\t\t%s\n", strings.ToUpper(string(lic.PlanType)))
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "  Issued:\t%s\n", lic.IssuedAt.Format("2006-01-02"))
	if lic.IsLifetime() {
		fmt.Fprintln(w, "  Expires:\tnever (lifetime)")
		if !lic.SupportExpiresAt.IsZero() {
			fmt.Fprintf(w, "  Support until:\t%s\n", lic.SupportExpiresAt.Format("2006-01-02"))
		}
	} else {
		fmt.Fprintf(w, "  Expires:\t%s\n", lic.ExpiresAt.Format("2006-01-02"))
		fmt.Fprintf(w, "  Days remaining:\t%d\n", status.DaysRemaining)
	}

	if lic.HardwareID != "" {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "  Hardware bound: yes")
	}

	if status.GracePeriod {
		fmt.Fprintln(w, "")
		fmt.Fprintf(w, "  Running in offline grace period: %s\n", status.Message)
	}

	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "  Hardware ID:\t%s\n", GetHardwareIDWithFallback())
	fmt.Fprintln(w, "")

	return nil
}

func (c *CLI) statusText(status LicenseStatus) string {
	if !status.Valid {
		if status.Message != "" {
			return status.Message
		}
		return "invalid"
	}
	if status.GracePeriod {
		return "valid (grace period)"
	}
	if status.DaysRemaining >= 0 && status.DaysRemaining <= 7 {
		return fmt.Sprintf("valid (expires in %d days)", status.DaysRemaining)
	}
	return "valid"
}

// Info shows detailed license information, even if expired.
func (c *CLI) Info(licenseKey string) error {
	parts := strings.Split(licenseKey, ".")
	if len(parts) != 2 {
		return fmt.Errorf("invalid license key format")
	}

	err := c.manager.LoadFromKey(LicenseKey(licenseKey))
	if err != nil && err != ErrLicenseExpired {
		return fmt.Errorf("invalid license: %w", err)
	}

	lic := c.manager.GetLicense()
	if lic == nil {
		return fmt.Errorf("could not parse license")
	}

	if c.outputFormat == "json" {
		return c.outputJSON(lic)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "License Information:")
	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "  ID:\t\t%s\n", lic.ID)
	fmt.Fprintf(w, "  Admin ID:\t%s\n", lic.AdminID)
	fmt.Fprintf(w, "  Admin:\t%s\n", lic.AdminName)
	fmt.Fprintf(w, "  Plan:\t\t%s\n", lic.PlanType)
	fmt.Fprintf(w, "  Issued:\t%s\n", lic.IssuedAt.Format(time.RFC3339))
	if !lic.IsLifetime() {
		fmt.Fprintf(w, "  Expires:\t%s\n", lic.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "  Issuer:\t%s\n", lic.Issuer)
	fmt.Fprintf(w, "  Version:\t%d\n", lic.Version)

	if lic.HardwareID != "" {
		fmt.Fprintf(w, "  Hardware:\t%s\n", lic.HardwareID)
	}

	if !lic.IsLifetime() && time.Now().After(lic.ExpiresAt) {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "  LICENSE EXPIRED")
	}

	fmt.Fprintln(w, "")
	return nil
}

// Verify checks if the current license is valid.
func (c *CLI) Verify() error {
	status := c.manager.GetStatus()

	if c.outputFormat == "json" {
		return c.outputJSON(status)
	}

	if !status.Valid {
		return fmt.Errorf("license is not valid: %s", status.Message)
	}

	c.printSuccess("License is valid")
	return nil
}

func (c *CLI) printSuccess(msg string) {
	if c.outputFormat == "json" {
		c.outputJSON(map[string]string{"status": "success", "message": msg})
		return
	}
	fmt.Println("OK:", msg)
}

func (c *CLI) outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// GenerateHardwareIDCommand prints the hardware ID.
func (c *CLI) GenerateHardwareIDCommand() error {
	hwID := GetHardwareIDWithFallback()

	if c.outputFormat == "json" {
		return c.outputJSON(map[string]string{"hardware_id": hwID})
	}

	fmt.Println("Hardware ID:", hwID)
	return nil
}
