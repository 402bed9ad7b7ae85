package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codeready-toolchain/notebookchat/pkg/aggregate"
	"github.com/codeready-toolchain/notebookchat/pkg/analytics"
	"github.com/codeready-toolchain/notebookchat/pkg/config"
	"github.com/codeready-toolchain/notebookchat/pkg/models"
	"github.com/codeready-toolchain/notebookchat/pkg/session"
)

var (
	askScope  string
	askTarget string
	askChat   string
)

func init() {
	askCmd.Flags().StringVar(&askScope, "scope", string(models.ScopeNotebook), "Chat scope: notebook or datasource")
	askCmd.Flags().StringVar(&askTarget, "target", "", "Notebook or datasource id")
	askCmd.Flags().StringVar(&askChat, "chat", "", "Existing chat id to continue")
	_ = askCmd.MarkFlagRequired("target")
	rootCmd.AddCommand(askCmd)
}

var askCmd = &cobra.Command{
	Use:   "ask [flags] question",
	Short: "Ask one question and print the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	client := analytics.NewClient(analytics.ClientConfig{
		BaseURL:        cfg.Upstream.BaseURL,
		Token:          cfg.Upstream.Token(),
		RequestTimeout: cfg.Upstream.RequestTimeout,
	})
	conversations := session.NewManager(client, sessionConfig(cfg.Chat))
	defer conversations.Close()

	ctrl, err := conversations.Create(models.CreateConversationRequest{
		Scope:    models.Scope(askScope),
		TargetID: askTarget,
		ChatID:   askChat,
	})
	if err != nil {
		return err
	}

	settled := make(chan session.Snapshot, 1)
	progress := make(chan string, 16)
	submitted := false
	lastLabel := ""
	detach := ctrl.OnChange(func(snap session.Snapshot) {
		if snap.Phase.InFlight() {
			submitted = true
		}
		if snap.ProgressLabel != "" && snap.ProgressLabel != lastLabel {
			lastLabel = snap.ProgressLabel
			select {
			case progress <- snap.ProgressLabel:
			default:
			}
		}
		if submitted && snap.Phase == session.PhaseSettled {
			select {
			case settled <- snap:
			default:
			}
		}
	})
	defer detach()

	if err := ctrl.Submit(ctx, strings.Join(args, " ")); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()
	for {
		select {
		case label := <-progress:
			fmt.Fprintf(errOut, "... %s\n", label)
		case snap := <-settled:
			if snap.ChatID != "" {
				fmt.Fprintf(errOut, "chat: %s\n", snap.ChatID)
			}
			return printAnswer(out, snap)
		case <-ctx.Done():
			cancelCtx, cancel := context.WithTimeout(context.Background(), cfg.Chat.StopTimeout)
			defer cancel()
			if err := ctrl.Cancel(cancelCtx); err != nil && !errors.Is(err, session.ErrNothingToCancel) {
				return err
			}
			return ctx.Err()
		}
	}
}

// printAnswer writes the last assistant turn of snap.
func printAnswer(w io.Writer, snap session.Snapshot) error {
	var turn *models.Turn
	for i := len(snap.Turns) - 1; i >= 0; i-- {
		if snap.Turns[i].Role == models.RoleAssistant {
			turn = &snap.Turns[i]
			break
		}
	}
	if turn == nil {
		return errors.New("no answer received")
	}

	if turn.View != nil {
		for _, f := range turn.View.Fragments {
			printFragment(w, f)
		}
		for _, failure := range turn.View.Failures {
			fmt.Fprintf(w, "[failed query] %s\n", failure.ErrorMessage)
		}
	}

	switch turn.Status {
	case models.StatusError:
		return fmt.Errorf("turn failed: %s", turn.ErrorMessage)
	case models.StatusStopped:
		fmt.Fprintln(w, "[stopped]")
	}
	return nil
}

func printFragment(w io.Writer, f aggregate.Fragment) {
	switch f.Type {
	case aggregate.FragmentAssistantResponse:
		fmt.Fprintln(w, f.Text)
	case aggregate.FragmentToolExecutionGroup:
		if f.Execution != nil && f.Execution.SQL != "" {
			fmt.Fprintf(w, "```sql\n%s\n```\n", f.Execution.SQL)
		}
		if len(f.ResultTable) > 0 {
			fmt.Fprintf(w, "%s\n", f.ResultTable)
		}
	}
}
