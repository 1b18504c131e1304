// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// crucible-ctl is a command-line tool for talking to a running Crucible server.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wingedpig/crucible/pkg/client"
)

var (
	version    = "1.0.0"
	apiURL     = "http://localhost:16010"
	jsonOutput = false

	// API client instance
	apiClient *client.Client
)

func main() {
	// Environment defaults, overridable by global flags
	if env := os.Getenv("CRUCIBLE_API"); env != "" {
		apiURL = strings.TrimSuffix(env, "/")
	}
	apiKey := os.Getenv("CRUCIBLE_API_KEY")

	// Parse global flags and filter them out
	var filteredArgs []string
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-json":
			jsonOutput = true
		case args[i] == "-server" && i+1 < len(args):
			i++
			apiURL = strings.TrimSuffix(args[i], "/")
		case args[i] == "-api-key" && i+1 < len(args):
			i++
			apiKey = args[i]
		default:
			filteredArgs = append(filteredArgs, args[i])
		}
	}

	// Initialize API client. Streaming executions can run for minutes, so
	// disable the client-side timeout and rely on the server's limit.
	apiClient = client.New(apiURL, client.WithAPIKey(apiKey), client.WithTimeout(0))

	if len(filteredArgs) < 1 {
		printUsage()
		os.Exit(1)
	}

	cmd := filteredArgs[0]
	cmdArgs := filteredArgs[1:]

	var err error
	switch cmd {
	case "health":
		err = cmdHealth(cmdArgs)
	case "exec":
		err = cmdExec(cmdArgs, true)
	case "exec-sync":
		err = cmdExec(cmdArgs, false)
	case "sessions":
		err = cmdSessions(cmdArgs)
	case "session":
		err = cmdSession(cmdArgs)
	case "create":
		err = cmdCreate(cmdArgs)
	case "terminate":
		err = cmdTerminate(cmdArgs)
	case "interrupt":
		err = cmdInterrupt(cmdArgs)
	case "history":
		err = cmdHistory(cmdArgs)
	case "version", "-v", "--version":
		fmt.Printf("crucible-ctl %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`crucible-ctl - Control a running Crucible server

Usage:
  crucible-ctl [global flags] <command> [arguments]

Global Flags:
  -json               Output in JSON format
  -server <url>       Base URL of the Crucible API
  -api-key <key>      Bearer token for authenticated servers

Environment:
  CRUCIBLE_API        Base URL of Crucible API (default: http://localhost:16010)
  CRUCIBLE_API_KEY    Bearer token for authenticated servers

Commands:
  health                   Show server health

  exec [options] <code>    Run code, streaming output as it is produced
  exec-sync [options] <code>  Run code, printing aggregated output at the end
    -session <id>          Session to run in (default: fresh session)
    -timeout <seconds>     Execution time limit (default: server setting)
    -stdin                 Read code from standard input instead
    -images <dir>          Save image output into dir as PNG files

  sessions                 List live sessions
  session <id>             Show one session and its files
  create [options]         Create a session, optionally staging files
    -session <id>          Session id to bind (default: generated)
    -file <url>            File URL to download (can repeat)
  terminate <id>           Terminate a session
  interrupt <id>           Interrupt a session's running execution
  history <id> [-n N]      Show recent executions (default: 50)

  version                  Show version
  help                     Show this help`)
}

// printJSON outputs any value as formatted JSON
func printJSON(v interface{}) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}

func cmdHealth(args []string) error {
	ctx := context.Background()

	health, err := apiClient.Health(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(health)
		return nil
	}

	fmt.Printf("Status:          %s\n", health.Status)
	fmt.Printf("Version:         %s\n", health.Version)
	fmt.Printf("Active sessions: %d\n", health.ActiveSessions)
	fmt.Printf("Uptime:          %s\n", health.Uptime)
	return nil
}

// execConfig holds parsed command-line options for exec and exec-sync.
type execConfig struct {
	code      string
	session   string
	timeout   *int
	fromStdin bool
	imagesDir string
}

func parseExecArgs(args []string) (*execConfig, error) {
	cfg := &execConfig{}

	var rest []string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-session" && i+1 < len(args):
			i++
			cfg.session = args[i]
		case args[i] == "-timeout" && i+1 < len(args):
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid value for -timeout: %s", args[i])
			}
			cfg.timeout = &n
		case args[i] == "-stdin":
			cfg.fromStdin = true
		case args[i] == "-images" && i+1 < len(args):
			i++
			cfg.imagesDir = args[i]
		default:
			rest = append(rest, args[i])
		}
	}

	if cfg.fromStdin {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		cfg.code = string(data)
	} else {
		if len(rest) == 0 {
			return nil, fmt.Errorf("no code given (pass it as an argument or use -stdin)")
		}
		cfg.code = strings.Join(rest, " ")
	}

	if strings.TrimSpace(cfg.code) == "" {
		return nil, fmt.Errorf("code is empty")
	}
	return cfg, nil
}

func cmdExec(args []string, streaming bool) error {
	cfg, err := parseExecArgs(args)
	if err != nil {
		return err
	}

	ctx := context.Background()
	opts := &client.ExecuteOptions{Timeout: cfg.timeout}

	if !streaming {
		res, err := apiClient.Execute.Sync(ctx, cfg.code, cfg.session, opts)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(res)
			return nil
		}
		for _, text := range res.Texts {
			fmt.Print(text)
		}
		for i, img := range res.Images {
			if err := saveImage(cfg.imagesDir, res.SessionID, i, img); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}
		}
		for _, e := range res.Errors {
			fmt.Fprintln(os.Stderr, e.Error)
			for _, frame := range e.Traceback {
				fmt.Fprintln(os.Stderr, frame)
			}
		}
		if len(res.Errors) > 0 {
			os.Exit(1)
		}
		return nil
	}

	stream, err := apiClient.Execute.Stream(ctx, cfg.code, cfg.session, opts)
	if err != nil {
		return err
	}
	defer stream.Close()

	failed := false
	imageCount := 0
	for {
		ev, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		if jsonOutput {
			printJSON(ev)
			continue
		}

		switch {
		case ev.IsText():
			fmt.Print(ev.Text)
		case ev.IsImage():
			if err := saveImage(cfg.imagesDir, stream.SessionID(), imageCount, ev.Image); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}
			imageCount++
		case ev.IsError():
			failed = true
			fmt.Fprintln(os.Stderr, ev.Error)
			for _, frame := range ev.Traceback {
				fmt.Fprintln(os.Stderr, frame)
			}
		}
	}

	if failed {
		os.Exit(1)
	}
	return nil
}

// saveImage decodes base64 image data into dir. Without -images the image
// is only announced, not written.
func saveImage(dir, sessionID string, index int, data string) error {
	if dir == "" {
		fmt.Fprintf(os.Stderr, "[image output suppressed; use -images <dir> to save]\n")
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return fmt.Errorf("failed to decode image %d: %w", index, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	name := fmt.Sprintf("%s-%d.png", sessionID, index)
	path := dir + string(os.PathSeparator) + name
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Fprintf(os.Stderr, "[saved image %s]\n", path)
	return nil
}

func cmdSessions(args []string) error {
	ctx := context.Background()

	list, err := apiClient.Sessions.List(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(list)
		return nil
	}

	ids := make([]string, 0, len(list.Sessions))
	for id := range list.Sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Printf("%-38s %-6s %-10s %s\n", "SESSION", "BUSY", "EXECS", "LAST ACTIVITY")
	fmt.Println(strings.Repeat("-", 80))
	for _, id := range ids {
		info := list.Sessions[id]
		busy := "-"
		if info.Busy {
			busy = "yes"
		}
		fmt.Printf("%-38s %-6s %-10d %s\n", id, busy, info.ExecCount,
			info.LastActivity.Local().Format(time.RFC3339))
	}
	fmt.Printf("\n%d total\n", list.Total)
	return nil
}

func cmdSession(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: crucible-ctl session <id>")
	}
	ctx := context.Background()

	detail, err := apiClient.Sessions.Get(ctx, args[0])
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(detail)
		return nil
	}

	fmt.Printf("Session:       %s\n", detail.SessionID)
	fmt.Printf("Created:       %s\n", detail.CreatedAt.Local().Format(time.RFC3339))
	fmt.Printf("Last activity: %s\n", detail.LastActivity.Local().Format(time.RFC3339))
	fmt.Printf("Busy:          %t\n", detail.Busy)
	fmt.Printf("Executions:    %d\n", detail.ExecCount)
	fmt.Printf("Workdir:       %s\n", detail.WorkingDirectory)
	if len(detail.Files) > 0 {
		fmt.Println("Files:")
		names := make([]string, 0, len(detail.Files))
		for name := range detail.Files {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %-40s %s\n", name, detail.Files[name])
		}
	}
	return nil
}

func cmdCreate(args []string) error {
	req := &client.CreateSessionRequest{}

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-session" && i+1 < len(args):
			i++
			req.SessionID = args[i]
		case args[i] == "-file" && i+1 < len(args):
			i++
			req.FileURLs = append(req.FileURLs, args[i])
		default:
			return fmt.Errorf("unknown argument: %s", args[i])
		}
	}

	ctx := context.Background()
	created, err := apiClient.Sessions.Create(ctx, req)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(created)
		return nil
	}

	fmt.Printf("Session: %s\n", created.SessionID)
	fmt.Printf("Workdir: %s\n", created.WorkingDirectory)
	for _, name := range created.DownloadedFiles {
		fmt.Printf("Downloaded: %s\n", name)
	}
	for _, msg := range created.Errors {
		fmt.Fprintf(os.Stderr, "Download error: %s\n", msg)
	}
	return nil
}

func cmdTerminate(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: crucible-ctl terminate <id>")
	}
	if err := apiClient.Sessions.Delete(context.Background(), args[0]); err != nil {
		return err
	}
	if !jsonOutput {
		fmt.Printf("Session %s terminated\n", args[0])
	}
	return nil
}

func cmdInterrupt(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: crucible-ctl interrupt <id>")
	}
	if err := apiClient.Sessions.Interrupt(context.Background(), args[0]); err != nil {
		return err
	}
	if !jsonOutput {
		fmt.Printf("Session %s interrupted\n", args[0])
	}
	return nil
}

func cmdHistory(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: crucible-ctl history <id> [-n N]")
	}
	id := args[0]
	limit := 50

	for i := 1; i < len(args); i++ {
		if args[i] == "-n" && i+1 < len(args) {
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid value for -n: %s", args[i])
			}
			limit = n
		}
	}

	ctx := context.Background()
	page, err := apiClient.Sessions.History(ctx, id, limit)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(page)
		return nil
	}

	fmt.Printf("%-20s %-11s %-8s %-8s %s\n", "STARTED", "STATUS", "EVENTS", "MS", "CODE")
	fmt.Println(strings.Repeat("-", 80))
	for _, rec := range page.Executions {
		code := strings.ReplaceAll(rec.Code, "\n", " ")
		if len(code) > 38 {
			code = code[:38] + "..."
		}
		fmt.Printf("%-20s %-11s %-8d %-8d %s\n",
			rec.StartedAt.Local().Format("2006-01-02 15:04:05"),
			rec.Status, rec.Events, rec.DurationMS, code)
	}
	fmt.Printf("\n%d total\n", page.Total)
	return nil
}
