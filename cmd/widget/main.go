// Command widget is a terminal rendition of the support chat widget. It
// identifies the visitor, then submits each stdin line and redraws the
// conversation whenever it changes.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-widget/internal/client"
	"github.com/capitalize-ai/support-widget/internal/config"
	"github.com/capitalize-ai/support-widget/internal/widget"
	"github.com/capitalize-ai/support-widget/pkg/logger"
)

type flags struct {
	name      string
	email     string
	chatbotID int64
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "widget",
		Short: "Chat with a support chatbot from the terminal",
		Long: "Identifies you as a visitor, then sends each line you type to the chatbot.\n" +
			"Type /refresh to re-read the conversation, /quit to leave.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, f, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&f.name, "name", "", "visitor name")
	cmd.Flags().StringVar(&f.email, "email", "", "visitor email")
	cmd.Flags().Int64Var(&f.chatbotID, "chatbot", 0, "chatbot id (defaults to WIDGET_CHATBOT_ID)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func run(ctx context.Context, f flags, in io.Reader, out io.Writer) error {
	cfg, err := config.LoadWidget()
	if err != nil {
		return err
	}
	log, err := logger.NewStderr(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Sync()

	chatbotID := cfg.ChatbotID
	if f.chatbotID > 0 {
		chatbotID = f.chatbotID
	}

	store, deliverer := backends(cfg, log)
	screen := newScreen(out)

	var conv *widget.Conversation
	conv = widget.New(chatbotID, store, deliverer,
		widget.WithLogger(log.With(zap.Int64("chatbot_id", chatbotID))),
		widget.WithDeliveryTimeout(cfg.RequestTimeout),
		widget.WithEventHandler(func(ev widget.Event) {
			switch ev.Kind {
			case widget.EventChanged:
				screen.draw(conv.View())
			case widget.EventDeliveryFailed:
				screen.notice("The agent could not answer that message.")
			case widget.EventStoreReadFailed:
				screen.notice("Could not refresh the conversation; showing the last copy.")
			case widget.EventIdentificationRequired:
				screen.notice("Please identify yourself first.")
			}
		}),
	)
	defer conv.Close()

	if bot, err := conv.Chatbot(ctx); err == nil {
		screen.header(bot.Name)
	} else {
		log.Warn("chatbot lookup failed", zap.Error(err))
	}

	if _, err := conv.Identify(ctx, f.name, f.email); err != nil {
		return fmt.Errorf("start chat: %w", err)
	}
	if err := conv.Refresh(ctx); err != nil {
		log.Warn("initial refresh failed", zap.Error(err))
	}
	screen.draw(conv.View())

	if cfg.RefreshInterval > 0 {
		go poll(ctx, conv, cfg.RefreshInterval)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				conv.Wait()
				return nil
			}
			if quit := handleLine(ctx, conv, screen, line); quit {
				return nil
			}
		}
	}
}

// handleLine submits a line or runs a slash command. It reports whether the
// user asked to quit.
func handleLine(ctx context.Context, conv *widget.Conversation, screen *screen, line string) bool {
	switch strings.TrimSpace(line) {
	case "":
		return false
	case "/quit":
		return true
	case "/refresh":
		if err := conv.Refresh(ctx); err == nil {
			screen.draw(conv.View())
		}
		return false
	}

	if _, err := conv.Submit(line); err != nil {
		var verr *widget.ValidationError
		switch {
		case errors.As(err, &verr):
			screen.notice(verr.Error())
		case errors.Is(err, widget.ErrSessionRequired), errors.Is(err, widget.ErrClosed):
		default:
			screen.notice(err.Error())
		}
	}
	return false
}

func poll(ctx context.Context, conv *widget.Conversation, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = conv.Refresh(ctx)
		}
	}
}

// backends picks the store the widget reads from and the endpoint it
// delivers to. A GraphQL URL switches reads and session creation to the
// hosted GraphQL endpoint; delivery always goes through the REST API.
func backends(cfg *config.Widget, log *logger.Logger) (widget.Store, widget.Deliverer) {
	hc := &http.Client{Timeout: cfg.RequestTimeout}
	opts := []client.Option{client.WithHTTPClient(hc)}
	if cfg.DeliveryURL != "" {
		opts = append(opts, client.WithDeliveryURL(cfg.DeliveryURL))
	}
	rest := client.New(cfg.APIURL, opts...)

	if cfg.GraphQLURL == "" {
		return rest, rest
	}
	gql := client.NewGraphQLStore(cfg.GraphQLURL, cfg.GraphQLAPIKey,
		client.WithGraphQLHTTPClient(hc),
		client.WithGraphQLLogger(log),
	)
	return gql, rest
}
