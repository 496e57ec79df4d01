// Command widgetchat runs the support widget in a terminal against a widget
// backend: it fetches signed URLs from the backend, talks to the provider
// directly and reports feedback back to the backend.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/civaigentics/widget/backend/internal/config"
	"github.com/civaigentics/widget/backend/internal/logging"
	"github.com/civaigentics/widget/backend/internal/service/credential"
	"github.com/civaigentics/widget/backend/internal/service/feedback"
	"github.com/civaigentics/widget/backend/internal/service/provider/elevenlabs"
	"github.com/civaigentics/widget/backend/internal/service/session"
	transcriptsvc "github.com/civaigentics/widget/backend/internal/service/transcript"
)

var errQuit = errors.New("quit")

type options struct {
	backendURL     string
	agentName      string
	voiceCapable   bool
	settleDelay    time.Duration
	connectTimeout time.Duration
	logLevel       string
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	cobra.CheckErr(err)

	opts := options{
		backendURL:     cfg.Widget.BackendURL,
		agentName:      cfg.Widget.AgentName,
		voiceCapable:   cfg.Widget.VoiceCapable,
		settleDelay:    cfg.Widget.SettleDelay,
		connectTimeout: cfg.Widget.ConnectTimeout,
		logLevel:       "warn",
	}

	root := &cobra.Command{
		Use:          "widgetchat",
		Short:        "Chat with the support agent from a terminal",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, os.Stdin, cmd.OutOrStdout())
		},
	}

	flags := root.Flags()
	flags.StringVar(&opts.backendURL, "backend", opts.backendURL, "widget backend base URL")
	flags.StringVar(&opts.agentName, "agent-name", opts.agentName, "name shown for the agent")
	flags.BoolVar(&opts.voiceCapable, "voice", opts.voiceCapable, "allow the microphone to be unmuted")
	flags.DurationVar(&opts.settleDelay, "settle-delay", opts.settleDelay, "delay before a voice session unmutes")
	flags.DurationVar(&opts.connectTimeout, "connect-timeout", opts.connectTimeout, "give up connecting after this long")
	flags.StringVar(&opts.logLevel, "log-level", opts.logLevel, "log level (debug, info, warn, error)")

	cobra.CheckErr(root.Execute())
}

func run(ctx context.Context, opts options, in io.Reader, out io.Writer) error {
	logger := logging.New(opts.logLevel, true, os.Stderr)

	fetcher := credential.NewHTTPFetcher(opts.backendURL, nil)
	dialer := elevenlabs.NewDialer(elevenlabs.Options{VoiceCapable: opts.voiceCapable}, logger)
	store := transcriptsvc.NewStore()
	manager := session.NewManager(fetcher, dialer, store, session.Config{
		AgentName:      opts.agentName,
		SettleDelay:    opts.settleDelay,
		ConnectTimeout: opts.connectTimeout,
	}, logger)
	tracker := feedback.NewTracker(
		store,
		func() string { return manager.State().ConversationID },
		feedback.NewHTTPReporter(opts.backendURL, nil),
		10*time.Second,
		logger,
	)

	view := renderer{out: out, agentName: opts.agentName}
	fmt.Fprintf(out, "Chatting with %s via %s. Type /help for commands.\n", opts.agentName, opts.backendURL)

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

	eg, groupCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return renderLoop(groupCtx, manager, store, view) })
	eg.Go(func() error {
		// Connect and send run beside the input loop so /end can abandon them.
		return inputLoop(groupCtx, lines, manager, tracker, view, func(fn func()) {
			eg.Go(func() error {
				fn()
				return nil
			})
		})
	})

	err := eg.Wait()
	if manager.State().Live {
		_ = manager.Disconnect()
	}
	tracker.Wait()

	if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func renderLoop(ctx context.Context, manager *session.Manager, store *transcriptsvc.Store, view renderer) error {
	entries, cancelEntries := store.Subscribe()
	defer cancelEntries()
	states, cancelStates := manager.Subscribe()
	defer cancelStates()

	shown := 0
	last := manager.State()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-entries:
			for _, e := range store.Since(shown) {
				view.entry(shown, e)
				shown++
			}
		case <-states:
			current := manager.State()
			if current.Status != last.Status || current.AgentActivity() != last.AgentActivity() {
				view.state(current)
			}
			last = current
		}
	}
}

func inputLoop(ctx context.Context, lines <-chan string, manager *session.Manager, tracker *feedback.Tracker, view renderer, async func(func())) error {
	for {
		var line string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				return errQuit
			}
			line = l
		}

		cmd, err := parseCommand(line)
		if err != nil {
			view.errorf("%v", err)
			continue
		}
		if err := execute(ctx, cmd, manager, tracker, view, async); err != nil {
			return err
		}
	}
}

func execute(ctx context.Context, cmd command, manager *session.Manager, tracker *feedback.Tracker, view renderer, async func(func())) error {
	switch cmd.action {
	case actionQuit:
		return errQuit
	case actionHelp:
		fmt.Fprintln(view.out, helpText)
	case actionSend:
		if cmd.text == "" {
			return nil
		}
		async(func() { reportIntentError(view, manager.SendText(ctx, cmd.text)) })
	case actionVoice:
		async(func() { reportIntentError(view, manager.Connect(ctx)) })
	case actionMic:
		manager.ToggleMic()
	case actionSpeaker:
		manager.ToggleOutput()
	case actionEnd:
		_ = manager.Disconnect()
	case actionMark:
		if err := tracker.Mark(ctx, cmd.index, cmd.mark); err != nil {
			view.errorf("cannot mark entry %d: %v", cmd.index, err)
		}
	case actionRate:
		if err := tracker.Rate(ctx, cmd.rating); err != nil {
			view.errorf("cannot rate: %v", err)
			return nil
		}
		fmt.Fprintf(view.out, "Thanks for rating %d/5.\n", cmd.rating)
	case actionCopy:
		entry, ok := manager.Transcript().Get(cmd.index)
		if !ok {
			view.errorf("no entry %d", cmd.index)
			return nil
		}
		if err := copyText(entry.Content); err != nil {
			view.errorf("copy failed: %v", err)
			return nil
		}
		fmt.Fprintf(view.out, "Copied entry %d.\n", cmd.index)
	}
	return nil
}

// intentErrorMessage returns what to print for err, or "" when the manager
// already put it in the transcript.
func intentErrorMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, session.ErrSessionActive):
		return "a conversation is already running, use /end first"
	case errors.Is(err, session.ErrEmptyMessage):
		return "nothing to send"
	}
	return ""
}

func reportIntentError(view renderer, err error) {
	if msg := intentErrorMessage(err); msg != "" {
		view.errorf("%s", msg)
	}
}
