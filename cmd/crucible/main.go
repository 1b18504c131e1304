// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/wingedpig/crucible/internal/app"
	"github.com/wingedpig/crucible/internal/config"
)

var (
	version = "1.0.0"
)

func main() {
	// Check for subcommands before flag parsing
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Parse flags
	var (
		configPath       string
		host             string
		port             int
		apiKey           string
		maxKernels       int
		kernelTimeout    int
		maxExecutionTime int
		showVersion      bool
		debug            bool
	)

	flag.StringVar(&configPath, "config", "", "Path to config file (default: auto-detect)")
	flag.StringVar(&configPath, "c", "", "Path to config file (short)")
	flag.StringVar(&host, "host", "", "HTTP server host (overrides config)")
	flag.IntVar(&port, "port", 0, "HTTP server port (overrides config)")
	flag.StringVar(&apiKey, "api-key", "", "Bearer token required on API requests (overrides config)")
	flag.IntVar(&maxKernels, "max-kernels", 0, "Maximum concurrent kernel sessions (overrides config)")
	flag.IntVar(&kernelTimeout, "kernel-timeout", 0, "Idle session lifetime in seconds (overrides config)")
	flag.IntVar(&maxExecutionTime, "max-execution-time", 0, "Default execution timeout in seconds (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.BoolVar(&showVersion, "v", false, "Show version (short)")
	flag.BoolVar(&debug, "debug", false, "Enable debug mode")
	flag.Parse()

	if showVersion {
		fmt.Printf("crucible %s\n", version)
		os.Exit(0)
	}

	// Find config file if not specified. Running without one is fine:
	// defaults plus environment cover everything.
	if configPath == "" {
		loader := config.NewLoader()
		if found, err := loader.FindConfig(); err == nil {
			configPath = found
		}
	}
	if configPath != "" {
		log.Printf("Using config: %s", configPath)
	} else {
		log.Printf("No config file found, using defaults and environment")
	}

	// Create and run app
	application, err := app.New(app.Options{
		ConfigPath:       configPath,
		Host:             host,
		Port:             port,
		Debug:            debug,
		APIKey:           apiKey,
		MaxKernels:       maxKernels,
		KernelTimeout:    kernelTimeout,
		MaxExecutionTime: maxExecutionTime,
		Version:          version,
	})
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}

	ctx := context.Background()
	if err := application.Run(ctx); err != nil {
		log.Fatalf("App error: %v", err)
	}
}

// runInit handles the "crucible init" command
func runInit() error {
	// Parse init-specific flags
	initFlags := flag.NewFlagSet("init", flag.ExitOnError)
	showHelp := initFlags.Bool("help", false, "Show help for init command")
	initFlags.BoolVar(showHelp, "h", false, "Show help for init command")
	initFlags.Parse(os.Args[2:])

	if *showHelp {
		fmt.Println(`Usage: crucible init [options]

Create a new crucible.hjson configuration file in the current directory.

This command walks you through setting up a Crucible configuration with
interactive prompts. The generated file is fully commented to help you
understand and customize all available options.

Options:
  -h, -help    Show this help message

The command will ask about:
  - Server port (defaults to 16010)
  - API key (empty disables authentication)
  - Python interpreter for kernel sessions
  - Session limits and timeouts

After running init:
  1. Review and edit crucible.hjson as needed
  2. Run: ./crucible
  3. Check: curl http://localhost:16010/ai/sandbox/v1/api/health`)
		return nil
	}

	configFile := "crucible.hjson"

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("%s already exists; remove it first or use a different directory", configFile)
	}

	reader := bufio.NewReader(os.Stdin)

	fmt.Println("Crucible Configuration Setup")
	fmt.Println("============================")
	fmt.Println()
	fmt.Println("This will create a crucible.hjson configuration file in the current directory.")
	fmt.Println("Press Enter to accept defaults shown in [brackets].")
	fmt.Println()

	portStr := prompt(reader, "Server port", "16010")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = 16010
	}

	apiKey := prompt(reader, "API key (empty disables authentication)", "")
	python := prompt(reader, "Python interpreter", "python3")

	maxStr := prompt(reader, "Maximum concurrent sessions", "10")
	maxKernels, err := strconv.Atoi(maxStr)
	if err != nil {
		maxKernels = 10
	}

	idleStr := prompt(reader, "Idle session lifetime (seconds)", "300")
	idle, err := strconv.Atoi(idleStr)
	if err != nil {
		idle = 300
	}

	// Generate the config file
	configContent := generateConfig(port, apiKey, python, maxKernels, idle)

	// Write the file
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Println()
	fmt.Printf("Created %s\n", configFile)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Review and edit crucible.hjson as needed")
	fmt.Println("  2. Run: ./crucible")
	fmt.Println("  3. Check: curl http://localhost:" + strconv.Itoa(port) + "/ai/sandbox/v1/api/health")
	fmt.Println()

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}

// escapeHJSONValue escapes a string for safe inclusion in an HJSON double-quoted value.
func escapeHJSONValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

func generateConfig(port int, apiKey, python string, maxKernels, idle int) string {
	var sb strings.Builder

	sb.WriteString(`{
  // =============================================================================
  // Crucible Configuration
  // =============================================================================
  //
  // This is an HJSON file (JSON with comments and relaxed syntax).
  // Environment variables override these values (PORT, API_KEY, MAX_KERNELS,
  // KERNEL_TIMEOUT, MAX_EXECUTION_TIME, SESSION_POOL_SIZE, ...).

  // ---------------------------------------------------------------------------
  // Server Settings
  // ---------------------------------------------------------------------------
  server: {
    // Host to bind to (use "0.0.0.0" to allow remote access)
    host: "0.0.0.0"

    // Port for the HTTP API and MCP endpoint
    port: `)
	sb.WriteString(strconv.Itoa(port))
	sb.WriteString(`

`)
	if apiKey != "" {
		sb.WriteString(`    // Bearer token required on every request (health and / are exempt)
    api_key: "`)
		sb.WriteString(escapeHJSONValue(apiKey))
		sb.WriteString(`"
`)
	} else {
		sb.WriteString(`    // Uncomment to require a bearer token on every request:
    // api_key: "change-me"
`)
	}
	sb.WriteString(`
    // Serve HTTPS with certificates from the local Tailscale daemon:
    // tailscale_tls: true

    // Origins allowed by CORS
    allowed_origins: ["*"]
  }

  // ---------------------------------------------------------------------------
  // Kernel Sessions
  // ---------------------------------------------------------------------------
  kernel: {
    // Python interpreter the workers run under
    python: "`)
	sb.WriteString(escapeHJSONValue(python))
	sb.WriteString(`"

    // Parent directory of per-session working directories
    workdir_root: "/tmp/sandbox_sessions"

    // Idle sessions are reaped after this many seconds
    timeout: `)
	sb.WriteString(strconv.Itoa(idle))
	sb.WriteString(`

    // Maximum concurrent sessions (all-busy overshoots rather than rejects)
    max_kernels: `)
	sb.WriteString(strconv.Itoa(maxKernels))
	sb.WriteString(`

    // How often the reaper runs, in seconds
    cleanup_interval: 60

    // Default per-execution wall clock limit, in seconds
    max_execution_time: 30

    // Prime every worker with the socket kill switch
    // disable_network: true
  }

  // ---------------------------------------------------------------------------
  // Warm Pool
  // ---------------------------------------------------------------------------
  //
  // Pre-started workers that make the first execution of a new session fast.
  pool: {
    size: 2
    refill_interval: 30
  }

  // ---------------------------------------------------------------------------
  // Execution History
  // ---------------------------------------------------------------------------
  //
  // Uncomment to persist an execution log per session in SQLite:
  // history: {
  //   db: "/var/lib/crucible/history.db"
  // }
}
`)

	return sb.String()
}
