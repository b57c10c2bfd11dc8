package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Config captures all options required to run the fetcher.
type Config struct {
	User          string
	Pass          string
	OutDir        string
	Host          string
	Port          int
	Mailbox       string
	MaxConcurrent int
	BatchSize     int
	LaunchDelay   time.Duration
	Timeout       time.Duration
	MboxArchive   string
	LogLevel      string
	LogDir        string
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("user", "", "Account email address (prompted if omitted)")
	flags.String("pass", "", "App password (falls back to IMAP_PASS env var, prompted if neither is set)")
	flags.String("out", "", "Directory for saved .eml files, created if absent (prompted if omitted)")
	flags.String("host", "imap.gmail.com", "IMAP server hostname")
	flags.Int("port", 993, "IMAP server port (implicit TLS)")
	flags.String("mailbox", "INBOX", "Mailbox to fetch")
	flags.Int("max-concurrent", 5, "Maximum simultaneous connections")
	flags.Int("batch-size", 10, "Messages fetched per connection")
	flags.Duration("launch-delay", 50*time.Millisecond, "Delay between successive batch launches")
	flags.Duration("timeout", 2*time.Minute, "Per-read/write deadline on each connection")
	flags.String("mbox-archive", "", "Additionally collect all messages into this mbox file")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for a timestamped log file (stdout only if empty)")
	flags.StringArray("include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
}

// LoadConfig converts the parsed Cobra flags into a Config struct, prompting
// for anything required that was not supplied, then validates it.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	return load(cmd, true)
}

// LoadDiscoveryConfig is LoadConfig for commands that inspect the mailbox
// without saving anything: the output directory is neither prompted for nor
// required.
func LoadDiscoveryConfig(cmd *cobra.Command) (Config, error) {
	return load(cmd, false)
}

func load(cmd *cobra.Command, needOut bool) (Config, error) {
	flags := cmd.Flags()

	user, err := flags.GetString("user")
	if err != nil {
		return Config{}, err
	}
	pass, err := flags.GetString("pass")
	if err != nil {
		return Config{}, err
	}
	outDir, err := flags.GetString("out")
	if err != nil {
		return Config{}, err
	}
	host, err := flags.GetString("host")
	if err != nil {
		return Config{}, err
	}
	port, err := flags.GetInt("port")
	if err != nil {
		return Config{}, err
	}
	mailbox, err := flags.GetString("mailbox")
	if err != nil {
		return Config{}, err
	}
	maxConcurrent, err := flags.GetInt("max-concurrent")
	if err != nil {
		return Config{}, err
	}
	batchSize, err := flags.GetInt("batch-size")
	if err != nil {
		return Config{}, err
	}
	launchDelay, err := flags.GetDuration("launch-delay")
	if err != nil {
		return Config{}, err
	}
	timeout, err := flags.GetDuration("timeout")
	if err != nil {
		return Config{}, err
	}
	mboxArchive, err := flags.GetString("mbox-archive")
	if err != nil {
		return Config{}, err
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return Config{}, err
	}
	logDir, err := flags.GetString("log-dir")
	if err != nil {
		return Config{}, err
	}
	includeHeader, err := flags.GetStringArray("include-header")
	if err != nil {
		return Config{}, err
	}
	includeBody, err := flags.GetStringArray("include-body")
	if err != nil {
		return Config{}, err
	}
	excludeHeader, err := flags.GetStringArray("exclude-header")
	if err != nil {
		return Config{}, err
	}
	excludeBody, err := flags.GetStringArray("exclude-body")
	if err != nil {
		return Config{}, err
	}

	if pass == "" {
		pass = os.Getenv("IMAP_PASS")
	}

	if user == "" {
		user, err = promptLine("Enter your email address: ")
		if err != nil {
			return Config{}, err
		}
	}
	if pass == "" {
		pass, err = promptSecret("Enter your app password: ")
		if err != nil {
			return Config{}, err
		}
	}
	if outDir == "" && needOut {
		outDir, err = promptLine("Enter path for saving emails: ")
		if err != nil {
			return Config{}, err
		}
	}
	if outDir != "" {
		outDir = filepath.Clean(outDir)
	}

	logLevel = strings.ToLower(logLevel)
	if logLevel == "warning" {
		logLevel = "warn"
	}

	cfg := Config{
		User:          user,
		Pass:          pass,
		OutDir:        outDir,
		Host:          host,
		Port:          port,
		Mailbox:       mailbox,
		MaxConcurrent: maxConcurrent,
		BatchSize:     batchSize,
		LaunchDelay:   launchDelay,
		Timeout:       timeout,
		MboxArchive:   mboxArchive,
		LogLevel:      logLevel,
		LogDir:        logDir,
		IncludeHeader: includeHeader,
		IncludeBody:   includeBody,
		ExcludeHeader: excludeHeader,
		ExcludeBody:   excludeBody,
	}

	if err := validate(cfg, needOut); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects malformed configuration before any connection is opened.
func Validate(cfg Config) error {
	return validate(cfg, true)
}

func validate(cfg Config, needOut bool) error {
	if cfg.User == "" {
		return fmt.Errorf("email address is required")
	}
	if !strings.Contains(cfg.User, "@") || !strings.Contains(cfg.User, ".") {
		return fmt.Errorf("invalid email address: %s", cfg.User)
	}
	if cfg.Pass == "" {
		return fmt.Errorf("password must be provided via --pass, IMAP_PASS env var or prompt")
	}
	if cfg.OutDir == "" && needOut {
		return fmt.Errorf("output directory is required")
	}
	if cfg.Host == "" {
		return fmt.Errorf("--host must not be empty")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("--port must be between 1 and 65535")
	}
	if cfg.Mailbox == "" {
		return fmt.Errorf("--mailbox must not be empty")
	}
	if cfg.MaxConcurrent <= 0 {
		return fmt.Errorf("--max-concurrent must be positive")
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("--batch-size must be positive")
	}
	if cfg.LaunchDelay < 0 {
		return fmt.Errorf("--launch-delay must not be negative")
	}
	if cfg.Timeout < 0 {
		return fmt.Errorf("--timeout must not be negative")
	}

	includeActive := len(cfg.IncludeHeader) > 0 || len(cfg.IncludeBody) > 0
	excludeActive := len(cfg.ExcludeHeader) > 0 || len(cfg.ExcludeBody) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

func promptLine(prompt string) (string, error) {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("empty input")
	}
	return line, nil
}

func promptSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	secret := strings.TrimSpace(string(b))
	if secret == "" {
		return "", fmt.Errorf("empty password")
	}
	return secret, nil
}
