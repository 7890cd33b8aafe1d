package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/NicolasHaas/relaychat/pkg/client"
	"github.com/NicolasHaas/relaychat/pkg/logging"
	"github.com/NicolasHaas/relaychat/pkg/protocol"
	"github.com/NicolasHaas/relaychat/pkg/version"
)

func main() {
	// Default to "warn" so log lines do not interleave with chat; override
	// with RELAYCHAT_LOG_LEVEL (debug, info, warn, error).
	level := "warn"
	if v := os.Getenv("RELAYCHAT_LOG_LEVEL"); v != "" {
		level = v
	}
	format := "text"
	if v := os.Getenv("RELAYCHAT_LOG_FORMAT"); v != "" {
		format = v
	}
	if err := logging.Setup(logging.Options{
		Level:  level,
		Format: format,
		Output: os.Stderr,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	addr := flag.String("addr", "", fmt.Sprintf("Server address (default: last used, else 127.0.0.1:%d)", protocol.DefaultPort))
	name := flag.String("name", "", "Display name (default: last used on this server; prompted if unknown)")
	bookmarkPath := flag.String("bookmarks", client.DefaultBookmarkPath(), "Saved servers file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	bookmarks := client.NewBookmarkStore(*bookmarkPath)
	if err := bookmarks.Load(); err != nil {
		slog.Warn("load bookmarks", "err", err)
	}
	if *addr == "" {
		*addr = fmt.Sprintf("127.0.0.1:%d", protocol.DefaultPort)
		if b := bookmarks.MostRecent(); b != nil {
			*addr = b.Addr
		}
	}
	if *name == "" {
		if b := bookmarks.FindByAddr(*addr); b != nil {
			*name = b.Name
		}
	}

	if err := run(*addr, *name, bookmarks); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(addr, name string, bookmarks *client.BookmarkStore) error {
	e := client.NewEngine()
	out := bufio.NewWriter(os.Stdout)
	say := func(format string, args ...any) {
		_, _ = fmt.Fprintf(out, format+"\n", args...)
		_ = out.Flush()
	}

	lost := make(chan string, 1)
	e.OnChatMessage = func(sender, text string) { say("%s : %s", sender, text) }
	e.OnUserJoined = func(n string) { say("* %s joined", n) }
	e.OnUserLeft = func(n string) { say("* %s left", n) }
	e.OnLoginError = func(reason string) { say("login failed: %s (enter another name)", reason) }
	e.OnRoster = func(self string, others []string) {
		say("logged in as %s; online: %s", self, strings.Join(append([]string{self}, others...), ", "))
		bookmarks.Add(client.Bookmark{Addr: addr, Name: self, LastUsed: time.Now().Unix()})
		if err := bookmarks.Save(); err != nil {
			slog.Warn("save bookmarks", "err", err)
		}
	}
	e.OnDisconnect = func(reason string) { lost <- reason }

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := e.Connect(dialCtx, addr)
	cancel()
	if err != nil {
		return err
	}
	defer e.Disconnect()

	if name != "" {
		if err := e.Login(name); err != nil {
			return err
		}
	} else {
		say("connected to %s; enter your name", addr)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case reason := <-lost:
			return fmt.Errorf("disconnected: %s", reason)
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/quit" {
				return nil
			}
			if err := handleLine(e, line); err != nil {
				say("error: %v", err)
			}
		}
	}
}

// handleLine treats input as a name until the login succeeds, then as chat.
func handleLine(e *client.Engine, line string) error {
	if e.State() == client.StateLoggedIn {
		return e.SendChat(line)
	}
	if strings.TrimSpace(line) == "" {
		return nil
	}
	return e.Login(line)
}
