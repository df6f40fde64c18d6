// Package cli holds the carelink command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"carelink/internal/app"
	"carelink/internal/connection"
	"carelink/internal/eventbus"
	"carelink/internal/transport"
)

// Version is stamped at build time with -ldflags "-X carelink/internal/cli.Version=...".
var Version = "dev"

const stopTimeout = 10 * time.Second

func RootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:     "carelink",
		Short:   "carelink - care companion notification pipeline",
		Version: Version,
		Long: `carelink keeps a live connection to the companion service, filters and
paces incoming notifications, and tracks unread counts per contact.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./carelink.yaml", "path to config file (json or yaml)")

	root.AddCommand(runCmd(&cfgPath))
	root.AddCommand(tailCmd(&cfgPath))
	root.AddCommand(chatCmd(&cfgPath))
	return root
}

// runner owns a started app and the reason it will be stopped with.
type runner struct {
	app    *app.App
	reason app.StopReason
}

func startApp(ctx context.Context, cfgPath string) (*app.App, error) {
	a, err := app.New(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return nil, err
	}
	return a, nil
}

// wait blocks until a signal, a fatal app error, or a terminal connection
// error when exitOnTerminal is set.
func (s *runner) wait(exitOnTerminal bool) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	errs, unsub := s.app.Bus().Subscribe(8, eventbus.TopicConnectionError)
	defer unsub()

	for {
		select {
		case sig := <-sigs:
			s.reason = app.StopSIGINT
			if sig == syscall.SIGTERM {
				s.reason = app.StopSIGTERM
			}
			return nil
		case <-s.app.Done():
			s.reason = app.StopFatalError
			return s.app.Err()
		case e := <-errs:
			te, ok := e.Data.(*transport.TransportError)
			if exitOnTerminal && ok && te.Terminal {
				s.reason = app.StopTerminal
				return te
			}
		}
	}
}

func (s *runner) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return s.app.Stop(ctx, s.reason)
}

func runCmd(cfgPath *string) *cobra.Command {
	var exitOnTerminal bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline as a service",
		Long: `Run the pipeline in the foreground until SIGINT/SIGTERM.

Under systemd (Type=notify) readiness and shutdown are reported via sd_notify.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := startApp(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
				fmt.Fprintln(os.Stderr, "sd_notify:", err)
			}
			s := &runner{app: a}
			werr := s.wait(exitOnTerminal)
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
			return errors.Join(werr, s.stop())
		},
	}
	cmd.Flags().BoolVar(&exitOnTerminal, "exit-on-terminal", false, "exit non-zero once reconnect attempts are exhausted")
	return cmd
}

func tailCmd(cfgPath *string) *cobra.Command {
	var topics []string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Run the pipeline and print its events",
		Long: `Run the pipeline and print what it does: notifications shown, dismissed
or filtered, unread counters, connection state and reminders.

Examples:
  carelink tail
  carelink tail --topic display.shown --topic contact.unread`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := startApp(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			events, unsub := a.Bus().Subscribe(256, topics...)
			go func() {
				for e := range events {
					if line := formatEvent(e); line != "" {
						fmt.Fprintln(cmd.OutOrStdout(), line)
					}
				}
			}()
			s := &runner{app: a}
			werr := s.wait(false)
			serr := s.stop()
			unsub()
			return errors.Join(werr, serr)
		},
	}
	cmd.Flags().StringSliceVar(&topics, "topic", nil, "only print these topics (repeatable)")
	return cmd
}

func chatCmd(cfgPath *string) *cobra.Command {
	var (
		role    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "chat [text]",
		Short: "Send one chat message and print the reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			a, err := startApp(ctx, *cfgPath)
			if err != nil {
				return err
			}
			s := &runner{app: a, reason: app.StopAppStop}
			defer func() { _ = s.stop() }()

			if err := waitOpen(ctx, a); err != nil {
				return err
			}
			resp, err := a.Connection().Exchange(ctx, connection.ChatRequest{Type: "text", Text: args[0], AiRoleID: role})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Text)
			if resp.AudioURL != "" {
				fmt.Fprintln(cmd.OutOrStdout(), resp.AudioURL)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "companion role id (aiRoleId)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func waitOpen(ctx context.Context, a *app.App) error {
	states, unsub := a.Bus().Subscribe(8, eventbus.TopicConnectionState, eventbus.TopicConnectionError)
	defer unsub()
	if a.Connection().State() == connection.StateOpen {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for connection: %w", ctx.Err())
		case e := <-states:
			if st, ok := e.Data.(connection.State); ok && st == connection.StateOpen {
				return nil
			}
			if te, ok := e.Data.(*transport.TransportError); ok && te.Terminal {
				return te
			}
		}
	}
}
