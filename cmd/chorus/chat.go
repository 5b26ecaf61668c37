package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/harunnryd/chorus/internal/api"
	"github.com/harunnryd/chorus/internal/speaker"
	"github.com/harunnryd/chorus/internal/stream"

	"github.com/google/shlex"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
)

const chatHelp = `Commands:
  /help              show this help
  /limit             show the message allowance of this session
  /session [id|new]  show, switch or start a session
  /speaker <id>      ask for a persona on the next message
  /tools on|off      allow or forbid tool use
  /exit              leave the chat`

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a running chorus service",
	Long:  `Opens an interactive chat against the service's streaming API. Each persona's reply is labelled in its catalog colour.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		catalog, err := speaker.LoadCatalog(cfg.Speakers.CatalogPath, speaker.Normalize(cfg.Speakers.Default))
		if err != nil {
			return fmt.Errorf("failed to load persona catalog: %w", err)
		}

		sessionID, _ := cmd.Flags().GetString("session")
		principal, _ := cmd.Flags().GetString("principal")
		noTools, _ := cmd.Flags().GetBool("no-tools")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		repl := newChatREPL(newAPIClient(resolveServerURL(cmd)), newRenderer(cmd.OutOrStdout(), catalog), catalog)
		repl.sessionID = sessionID
		repl.principal = principal
		repl.useTools = !noTools
		return repl.Run(ctx, cmd.InOrStdin())
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("url", "", "service base URL (default http://localhost:<server.port>)")
	chatCmd.Flags().StringP("session", "s", "", "session ID to resume (default: a new session)")
	chatCmd.Flags().StringP("principal", "p", "", "principal the messages are counted against")
	chatCmd.Flags().Bool("no-tools", false, "forbid tool use")
}

type chatREPL struct {
	client  *apiClient
	render  *renderer
	catalog *speaker.Catalog

	sessionID string
	principal string
	speaker   string
	useTools  bool
}

func newChatREPL(client *apiClient, render *renderer, catalog *speaker.Catalog) *chatREPL {
	return &chatREPL{client: client, render: render, catalog: catalog, useTools: true}
}

func newSessionID() string {
	return "cli-" + strings.ToLower(ulid.Make().String())
}

func (c *chatREPL) Run(ctx context.Context, in io.Reader) error {
	if c.sessionID == "" {
		c.sessionID = newSessionID()
	}
	c.render.Notice(fmt.Sprintf("Chorus session %s. Type /help for commands, /exit to quit.", c.sessionID))

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(c.render.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(c.render.out)
			return scanner.Err()
		}

		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		if cmd, ok := parseSlash(text); ok {
			if cmd.name == "exit" || cmd.name == "quit" {
				return nil
			}
			c.runCommand(ctx, cmd)
			continue
		}

		if err := c.send(ctx, text); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			c.render.Failure(err.Error())
		}
	}
}

func (c *chatREPL) send(ctx context.Context, message string) error {
	req := api.ChatRequest{
		Message: message,
		Session: api.ChatSession{ID: c.sessionID, Principal: c.principal, Speaker: c.speaker},
	}
	if !c.useTools {
		off := false
		req.UseTools = &off
	}

	c.render.Begin(c.speaker)
	err := c.client.Chat(ctx, req, func(ev stream.Event) error {
		c.render.Event(ev)
		if ev.Type == stream.TypeComplete && ev.Speaker != "" {
			c.speaker = ev.Speaker
		}
		return nil
	})

	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests {
		c.render.LimitReached(apiErr)
		return nil
	}
	return err
}

type slashCommand struct {
	name string
	args []string
}

// parseSlash splits a /command line with shell quoting rules.
func parseSlash(line string) (slashCommand, bool) {
	if !strings.HasPrefix(line, "/") {
		return slashCommand{}, false
	}

	parts, err := shlex.Split(line[1:])
	if err != nil {
		parts = strings.Fields(line[1:])
	}
	if len(parts) == 0 {
		return slashCommand{}, false
	}
	return slashCommand{name: strings.ToLower(parts[0]), args: parts[1:]}, true
}

func (c *chatREPL) runCommand(ctx context.Context, cmd slashCommand) {
	slog.Debug("Executing slash command", "cmd", cmd.name, "session", c.sessionID)

	switch cmd.name {
	case "help":
		c.render.Notice(chatHelp)

	case "limit":
		status, err := c.client.Limit(ctx, c.sessionID, c.principal)
		if err != nil {
			c.render.Failure(err.Error())
			return
		}
		out, err := newTableFormatter().FormatLimit(c.sessionID, status)
		if err != nil {
			c.render.Failure(err.Error())
			return
		}
		fmt.Fprintln(c.render.out, out)

	case "session":
		if len(cmd.args) == 0 {
			c.render.Notice("Session: " + c.sessionID)
			return
		}
		if cmd.args[0] == "new" {
			c.sessionID = newSessionID()
		} else {
			c.sessionID = cmd.args[0]
		}
		c.speaker = ""
		c.render.Notice("Switched to session " + c.sessionID)

	case "speaker":
		if len(cmd.args) == 0 {
			c.render.Notice("Personas: " + strings.Join(c.catalog.IDs(), ", "))
			return
		}
		if !c.catalog.Has(cmd.args[0]) {
			c.render.Failure(fmt.Sprintf("unknown persona %q (available: %s)", cmd.args[0], strings.Join(c.catalog.IDs(), ", ")))
			return
		}
		c.speaker = string(speaker.Normalize(cmd.args[0]))
		c.render.Notice("Next message goes to " + c.render.name(speaker.Speaker(c.speaker)))

	case "tools":
		if len(cmd.args) == 0 {
			c.render.Notice(fmt.Sprintf("Tools enabled: %t", c.useTools))
			return
		}
		switch strings.ToLower(cmd.args[0]) {
		case "on":
			c.useTools = true
		case "off":
			c.useTools = false
		default:
			c.render.Failure("usage: /tools on|off")
			return
		}
		c.render.Notice(fmt.Sprintf("Tools enabled: %t", c.useTools))

	default:
		c.render.Failure(fmt.Sprintf("unknown command /%s, type /help", cmd.name))
	}
}
