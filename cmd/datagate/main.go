// ABOUTME: Entry point for the datagate MCP gateway
// ABOUTME: Subcommands serve, probe, health, token, hash-token and version

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/datagate/internal/auth"
	"github.com/2389/datagate/internal/config"
	"github.com/2389/datagate/internal/gateway"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const banner = `
     _       _                    _
  __| | __ _| |_ __ _  __ _  __ _| |_ ___
 / _' |/ _' | __/ _' |/ _' |/ _' | __/ _ \
| (_| | (_| | || (_| | (_| | (_| | ||  __/
 \__,_|\__,_|\__\__,_|\__, |\__,_|\__\___|
                      |___/
`

const defaultConfigFile = "datagate.yaml"

func usage() {
	fmt.Println("Usage: datagate <command> [--config PATH]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                      Start the gateway server")
	fmt.Println("  probe                      Check every configured source and print a JSON report")
	fmt.Println("  health                     Check a running gateway's health endpoint")
	fmt.Println("  token --sub NAME [--ttl D] Issue a JWT for auth.type jwt")
	fmt.Println("  hash-token                 Read a token on stdin and print its bcrypt hash")
	fmt.Println("  version                    Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, args)
	case "probe":
		err = runProbe(ctx, args)
	case "health":
		err = runHealth(ctx, args)
	case "token":
		err = runToken(args)
	case "hash-token":
		err = runHashToken(os.Stdin, os.Stdout)
	case "version", "--version", "-v":
		fmt.Println(version)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// flagValue matches "--name value", "--name=value" and the short forms.
func flagValue(args []string, i int, long, short string) (value string, consumed int, ok bool, err error) {
	arg := args[i]
	switch {
	case arg == long || arg == short:
		if i+1 >= len(args) {
			return "", 0, true, fmt.Errorf("%s requires a value", long)
		}
		return args[i+1], 2, true, nil
	case strings.HasPrefix(arg, long+"="):
		return strings.TrimPrefix(arg, long+"="), 1, true, nil
	case strings.HasPrefix(arg, short+"="):
		return strings.TrimPrefix(arg, short+"="), 1, true, nil
	}
	return "", 0, false, nil
}

// parseConfigFlag extracts --config/-c and returns the remaining arguments.
func parseConfigFlag(args []string) (string, []string, error) {
	var path string
	var rest []string
	for i := 0; i < len(args); {
		v, n, ok, err := flagValue(args, i, "--config", "-c")
		if err != nil {
			return "", nil, err
		}
		if ok {
			path = v
			i += n
			continue
		}
		rest = append(rest, args[i])
		i++
	}
	return path, rest, nil
}

// getConfigPath returns the config file path.
// Priority: --config flag > DATAGATE_CONFIG env var > ./datagate.yaml
func getConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if envPath := os.Getenv("DATAGATE_CONFIG"); envPath != "" {
		return envPath
	}
	return defaultConfigFile
}

func loadConfig(args []string) (*config.Config, string, []string, error) {
	flagPath, rest, err := parseConfigFlag(args)
	if err != nil {
		return nil, "", nil, err
	}
	path := getConfigPath(flagPath)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, rest, nil
}

func rejectExtra(rest []string) error {
	for _, arg := range rest {
		if strings.HasPrefix(arg, "-") {
			return fmt.Errorf("unknown flag: %s", arg)
		}
		return fmt.Errorf("unexpected argument: %s", arg)
	}
	return nil
}

func runServe(ctx context.Context, args []string) error {
	cfg, configPath, rest, err := loadConfig(args)
	if err != nil {
		return err
	}
	if err := rejectExtra(rest); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	logger := setupLogger(cfg.Logging, os.Stderr)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	mode := "stateful"
	if !cfg.Transport.IsStateful() {
		mode = "stateless"
	}

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s%s (%s)\n", cfg.Transport.HTTPAddr, cfg.Transport.Path, mode)
	green.Print("    ▶ ")
	fmt.Printf("Sources:   %d\n", len(cfg.Sources))
	for _, src := range cfg.Sources {
		gray.Printf("                 %s (%s)\n", src.ID, src.Type)
	}
	green.Print("    ▶ ")
	fmt.Printf("Auth:      ")
	if cfg.Auth.Type == config.AuthNone {
		yellow.Println("none")
	} else {
		fmt.Println(cfg.Auth.Type)
	}
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   %s\n", cfg.Metrics.Path)
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.HTTPS {
			yellow.Print(" [https]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting datagate",
		"config", configPath,
		"http_addr", cfg.Transport.HTTPAddr,
		"sources", len(cfg.Sources),
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runProbe(ctx context.Context, args []string) error {
	cfg, _, rest, err := loadConfig(args)
	if err != nil {
		return err
	}
	if err := rejectExtra(rest); err != nil {
		return err
	}

	cfg.Metrics.Enabled = false
	logger := setupLogger(cfg.Logging, os.Stderr)
	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	defer func() { _ = gw.Shutdown(context.Background()) }()

	reports := gw.Probe(ctx)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reports); err != nil {
		return err
	}

	failed := 0
	for _, r := range reports {
		if !r.OK {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d sources failed", failed, len(reports))
	}
	return nil
}

// healthURL points at the local gateway even when it binds every interface.
func healthURL(httpAddr string) string {
	host, port, err := net.SplitHostPort(httpAddr)
	if err != nil {
		return "http://" + httpAddr + "/health"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/health"
}

func runHealth(ctx context.Context, args []string) error {
	cfg, _, rest, err := loadConfig(args)
	if err != nil {
		return err
	}
	if err := rejectExtra(rest); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL(cfg.Transport.HTTPAddr), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runToken(args []string) error {
	var subject string
	ttl := 24 * time.Hour

	cfgPath, rest, err := parseConfigFlag(args)
	if err != nil {
		return err
	}
	for i := 0; i < len(rest); {
		if v, n, ok, err := flagValue(rest, i, "--sub", "-s"); ok {
			if err != nil {
				return err
			}
			subject = v
			i += n
			continue
		}
		if v, n, ok, err := flagValue(rest, i, "--ttl", "-t"); ok {
			if err != nil {
				return err
			}
			if ttl, err = time.ParseDuration(v); err != nil || ttl <= 0 {
				return fmt.Errorf("--ttl must be a positive duration")
			}
			i += n
			continue
		}
		return rejectExtra(rest[i:])
	}

	subject = strings.TrimSpace(subject)
	if subject == "" {
		return fmt.Errorf("--sub flag is required")
	}

	cfg, err := config.Load(getConfigPath(cfgPath))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.Type != config.AuthJWT {
		return fmt.Errorf("auth.type is %q; tokens are only issued for jwt", cfg.Auth.Type)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return err
	}
	token, err := verifier.Generate(subject, ttl)
	if err != nil {
		return fmt.Errorf("signing token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func runHashToken(in io.Reader, out io.Writer) error {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return fmt.Errorf("reading token: %w", err)
	}
	token := strings.TrimSpace(line)
	if token == "" {
		return fmt.Errorf("no token on stdin")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing token: %w", err)
	}
	_, err = fmt.Fprintln(out, string(hash))
	return err
}
