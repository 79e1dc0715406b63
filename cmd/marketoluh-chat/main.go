// ABOUTME: Interactive terminal client for the market research chat backend.
// ABOUTME: Supports sync sends, WebSocket streaming, transcript cache, and export.

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/marketoluh/chat/internal/api"
	"github.com/marketoluh/chat/internal/auth"
	"github.com/marketoluh/chat/internal/chat"
	"github.com/marketoluh/chat/internal/config"
	"github.com/marketoluh/chat/internal/export"
	"github.com/marketoluh/chat/internal/store"
	"github.com/marketoluh/chat/internal/stream"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                       _        _        _       _
  _ __ ___   __ _ _ __| | _____| |_ ___ | |_   _| |__
 | '_ ' _ \ / _' | '__| |/ / _ \ __/ _ \| | | | | '_ \
 | | | | | | (_| | |  |   <  __/ || (_) | | |_| | | | |
 |_| |_| |_|\__,_|_|  |_|\_\___|\__\___/|_|\__,_|_| |_|
`

func main() {
	configPath := flag.String("config", "", "Config file path (default: "+config.DefaultPath()+")")
	server := flag.String("server", "", "Backend base URL (overrides config)")
	research := flag.String("research", "default", "Research ID to start in")
	openStream := flag.Bool("stream", false, "Open a streaming connection on startup")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath, *server, *research, *openStream); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}

func run(ctx context.Context, configPath, serverOverride, research string, openStream bool) error {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	cyan.Print(banner)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if serverOverride != "" {
		cfg.Server.BaseURL = serverOverride
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	tokenPath := cfg.Auth.TokenFile
	if tokenPath == "" {
		tokenPath = auth.DefaultTokenPath()
	}
	tokens := &auth.FileSource{Path: tokenPath}

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Server:   %s\n", cfg.Server.BaseURL)
	green.Print("    ▶ ")
	fmt.Printf("Research: %s\n", research)
	printTokenStatus(tokens, tokenPath)

	var history chat.TranscriptStore
	if cfg.History.Enabled {
		db, err := store.New(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("opening transcript cache: %w", err)
		}
		defer db.Close()
		history = db
		green.Print("    ▶ ")
		fmt.Printf("History:  %s\n", cfg.History.Path)
	}
	fmt.Println()

	wsBase := cfg.Server.WSURL
	if wsBase == "" {
		wsBase = cfg.Server.BaseURL
	}

	a := &app{
		tokens: tokens,
		turnCh: make(chan struct{}, 1),
	}
	a.manager = chat.NewManager(chat.ManagerOptions{
		Sender:        api.New(cfg.Server.BaseURL, tokens, logger),
		Dialer:        stream.NewDialer(wsBase, logger),
		Tokens:        tokens,
		History:       history,
		OnStreamEvent: a.onStreamEvent,
		Logger:        logger,
	})
	a.manager.SetActive(research)
	a.restore(ctx, research)

	if openStream {
		if err := a.manager.OpenStream(ctx, research); err != nil {
			fmt.Printf("[error] opening stream: %v\n", err)
		} else {
			fmt.Println("Streaming connection open.")
		}
	}

	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	return a.loop(ctx)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	defaultPath := config.DefaultPath()
	if _, err := os.Stat(defaultPath); err == nil {
		return config.Load(defaultPath)
	}
	return config.Default(), nil
}

func printTokenStatus(tokens *auth.FileSource, tokenPath string) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	token, err := tokens.Token()
	if err != nil {
		yellow.Print("    ▶ ")
		fmt.Printf("Auth:     none (set %s or write %s)\n", auth.EnvToken, tokenPath)
		return
	}

	green.Print("    ▶ ")
	info, err := auth.Inspect(token)
	if err != nil {
		fmt.Println("Auth:     token configured")
		return
	}
	label := "token configured"
	if info.Subject != "" {
		label = "signed in as " + info.Subject
	}
	fmt.Printf("Auth:     %s", label)
	if info.Expired() {
		yellow.Print("  [expired]")
	}
	fmt.Println()
}

// app holds the interactive session state shared between the input
// loop and the stream event observer.
type app struct {
	manager *chat.Manager
	tokens  auth.Source

	// turnCh receives a signal when a streaming turn finishes, so
	// the input loop knows when to re-prompt.
	turnCh chan struct{}

	mu        sync.Mutex
	streaming bool
}

func (a *app) loop(ctx context.Context) error {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Printf("[%s]> ", a.manager.ActiveKey())

		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)
		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
			} else if err := scanner.Err(); err != nil {
				errCh <- err
			} else {
				errCh <- io.EOF
			}
		}()

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if quit := a.command(ctx, input); quit {
				return nil
			}
			fmt.Println()
			continue
		}

		a.send(ctx, input)
		fmt.Println()
	}
}

// command dispatches a slash command. Returns true when the loop
// should exit.
func (a *app) command(ctx context.Context, input string) bool {
	cmd, args, _ := strings.Cut(input, " ")
	args = strings.TrimSpace(args)
	key := a.manager.ActiveKey()

	switch cmd {
	case "/quit", "/exit", "/q":
		return true

	case "/help":
		printHelp()

	case "/research":
		if args == "" {
			fmt.Printf("Current research: %s\n", key)
			break
		}
		a.manager.SetActive(args)
		a.restore(ctx, args)
		snap := a.manager.Snapshot(args)
		fmt.Printf("Switched to %s (%d messages)\n", args, len(snap.Messages))

	case "/stream":
		if err := a.manager.OpenStream(ctx, key); err != nil {
			fmt.Printf("[error] %v\n", err)
		} else {
			fmt.Println("Streaming connection open.")
		}

	case "/close":
		a.manager.CloseStream(key)
		fmt.Println("Streaming connection closed.")

	case "/clear":
		a.manager.Clear(key)
		fmt.Println("Conversation cleared.")

	case "/history":
		a.printHistory(key)

	case "/export":
		if args == "" {
			fmt.Println("Usage: /export <path.md|path.html>")
			break
		}
		if err := a.export(key, args); err != nil {
			fmt.Printf("[error] %v\n", err)
		} else {
			fmt.Printf("Wrote %s\n", args)
		}

	case "/whoami":
		a.whoami()

	default:
		fmt.Printf("Unknown command: %s (/help for commands)\n", cmd)
	}
	return false
}

// send delivers a message over the open stream when one exists,
// otherwise via the synchronous endpoint.
func (a *app) send(ctx context.Context, text string) {
	key := a.manager.ActiveKey()
	snap := a.manager.Snapshot(key)

	if snap.Connected {
		if err := a.manager.SendStreaming(key, text); err != nil {
			fmt.Printf("[error] %v\n", err)
			return
		}
		a.waitTurn(ctx, key)
		return
	}

	if err := a.manager.Send(ctx, key, text); err != nil {
		fmt.Printf("[error] %v\n", err)
		return
	}
	snap = a.manager.Snapshot(key)
	if len(snap.Messages) > 0 {
		printMessage(snap.Messages[len(snap.Messages)-1])
	}
}

// waitTurn blocks until the current streaming turn completes, the
// connection drops, or the context is cancelled.
func (a *app) waitTurn(ctx context.Context, key string) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.turnCh:
			return
		case <-ticker.C:
			snap := a.manager.Snapshot(key)
			if !snap.Connected {
				if snap.LastError != "" {
					fmt.Printf("\n[error] %s\n", snap.LastError)
				} else {
					fmt.Println("\n[stream closed]")
				}
				return
			}
		}
	}
}

// onStreamEvent renders incremental streaming output. Frames for
// conversations other than the active one are applied silently by the
// manager; only the active conversation is drawn.
func (a *app) onStreamEvent(researchID string, frame chat.FrameType, content string) {
	if researchID != a.manager.ActiveKey() {
		return
	}

	switch frame {
	case chat.FrameChunk:
		a.mu.Lock()
		if !a.streaming {
			a.streaming = true
			color.New(color.FgGreen).Print("assistant: ")
		}
		a.mu.Unlock()
		fmt.Print(content)

	case chat.FrameComplete:
		a.mu.Lock()
		a.streaming = false
		a.mu.Unlock()
		fmt.Println()
		a.signalTurn()

	case chat.FrameError:
		a.mu.Lock()
		a.streaming = false
		a.mu.Unlock()
		color.New(color.FgRed).Printf("\n[error] %s\n", content)
		a.signalTurn()

	case chat.FrameToolUse:
		color.New(color.FgYellow).Printf("\n[tool] %s\n", content)
	}
}

func (a *app) signalTurn() {
	select {
	case a.turnCh <- struct{}{}:
	default:
	}
}

// restore loads cached transcript messages for a research ID that has
// no in-memory state yet. Failures are informational only.
func (a *app) restore(ctx context.Context, key string) {
	n, err := a.manager.Restore(ctx, key)
	if err != nil {
		slog.Debug("transcript restore failed", "research_id", key, "error", err)
		return
	}
	if n > 0 {
		fmt.Printf("Restored %d cached messages.\n", n)
	}
}

func (a *app) printHistory(key string) {
	snap := a.manager.Snapshot(key)
	if len(snap.Messages) == 0 {
		fmt.Println("No conversation history")
		return
	}

	gray := color.New(color.FgHiBlack)
	fmt.Printf("History for %s (%d messages):\n", key, len(snap.Messages))
	gray.Println(strings.Repeat("-", 60))
	for _, msg := range snap.Messages {
		printMessage(msg)
	}
	gray.Println(strings.Repeat("-", 60))

	if snap.LastError != "" {
		color.New(color.FgRed).Printf("last error: %s\n", snap.LastError)
	}
}

func printMessage(msg *chat.Message) {
	switch msg.Role {
	case chat.RoleUser:
		color.New(color.FgBlue).Print("you: ")
	case chat.RoleAssistant:
		color.New(color.FgGreen).Print("assistant: ")
	default:
		color.New(color.FgHiBlack).Printf("%s: ", msg.Role)
	}
	fmt.Println(msg.Content)
	for _, tu := range msg.ToolUses {
		color.New(color.FgYellow).Printf("  [tool] %s\n", tu.Tool)
	}
}

func (a *app) export(key, path string) error {
	snap := a.manager.Snapshot(key)

	var out string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		html, err := export.HTML(key, snap.Messages)
		if err != nil {
			return err
		}
		out = html
	default:
		out = export.Markdown(key, snap.Messages)
	}

	return os.WriteFile(path, []byte(out), 0644)
}

func (a *app) whoami() {
	token, err := a.tokens.Token()
	if err != nil {
		fmt.Println("Not signed in (no token configured)")
		return
	}
	info, err := auth.Inspect(token)
	if err != nil {
		fmt.Println("Token configured (not a parseable JWT)")
		return
	}
	if info.Subject != "" {
		fmt.Printf("Subject:    %s\n", info.Subject)
	}
	if !info.ExpiresAt.IsZero() {
		fmt.Printf("Expires:    %s\n", info.ExpiresAt.Format(time.RFC3339))
		if info.Expired() {
			color.New(color.FgYellow).Println("Token is expired; requests will be rejected.")
		}
	}
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /research <id>   Switch to another research conversation")
	fmt.Println("  /stream          Open a streaming connection for this research")
	fmt.Println("  /close           Close the streaming connection")
	fmt.Println("  /history         Show the conversation transcript")
	fmt.Println("  /clear           Clear the conversation and its cached transcript")
	fmt.Println("  /export <path>   Export the transcript (.md or .html)")
	fmt.Println("  /whoami          Show token subject and expiry")
	fmt.Println("  /help            Show this help")
	fmt.Println("  /quit            Exit")
}
