package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"supportdesk/backend/internal/language"
	"supportdesk/backend/internal/models"
	"supportdesk/backend/internal/pending"
	"supportdesk/backend/internal/queue"
	"supportdesk/backend/internal/sessions"
	"supportdesk/backend/internal/storage"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newAddOperatorCmd(get func() *app) *cobra.Command {
	var (
		name  string
		langs []string
	)
	cmd := &cobra.Command{
		Use:   "add-operator <chatId>",
		Short: "Register a chat as an operator (starts paused until /begin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			served, err := parseLanguages(langs)
			if err != nil {
				return err
			}

			op := &models.Participant{
				ChatID:       args[0],
				Name:         name,
				Role:         models.RoleOperator,
				Language:     served[0],
				Languages:    language.Strings(served),
				SessionEnded: true,
			}
			if err := a.store.CreateParticipant(cmd.Context(), op); err != nil {
				if errors.Is(err, storage.ErrDuplicate) {
					return fmt.Errorf("chat %s is already registered", args[0])
				}
				return err
			}
			a.log.WithFields(logrus.Fields{"operator": op.ChatID, "languages": op.Languages}).Info("operator added")
			fmt.Fprintf(a.out, "Operator %s added (%s).\n", op.ChatID, strings.Join(op.Languages, ", "))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringSliceVar(&langs, "lang", nil, "Served languages in priority order (UZB, RUS, ENG)")
	_ = cmd.MarkFlagRequired("lang")
	return cmd
}

func parseLanguages(codes []string) ([]language.Language, error) {
	for i, c := range codes {
		codes[i] = strings.ToUpper(strings.TrimSpace(c))
		if !language.Valid(codes[i]) {
			return nil, fmt.Errorf("unknown language %q", c)
		}
	}
	served := language.ParseList(codes)
	if len(served) == 0 {
		return nil, errors.New("at least one language is required")
	}
	return served, nil
}

func newRemoveCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <chatId>",
		Short: "Soft-delete a participant and close its sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			ctx := cmd.Context()
			chatID := args[0]

			p, err := a.store.FindParticipant(ctx, chatID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("chat %s not found", chatID)
				}
				return err
			}

			dir := sessions.NewDirectory(a.store, a.log)
			var ended []string
			if p.IsOperator() {
				ended, err = dir.EndByOperator(ctx, chatID)
			} else {
				ended, err = dir.EndByUser(ctx, chatID)
			}
			if err != nil {
				return err
			}
			if err := a.store.SoftDelete(ctx, chatID); err != nil {
				return err
			}

			a.log.WithFields(logrus.Fields{"chat_id": chatID, "role": p.Role, "sessions_closed": len(ended)}).Info("participant removed")
			fmt.Fprintf(a.out, "%s %s removed, %d session(s) closed.\n", strings.ToLower(string(p.Role)), chatID, len(ended))
			return nil
		},
	}
}

func newOperatorsCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "operators",
		Short: "List operators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			ops, err := a.store.ListOperators(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CHAT ID\tNAME\tLANGUAGES\tBUSY\tPAUSED")
			for _, op := range ops {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\n", op.ChatID, op.Name, strings.Join(op.Languages, ","), op.Busy, op.SessionEnded)
			}
			return w.Flush()
		},
	}
}

func newDiscardPendingCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "discard-pending <chatId>",
		Short: "Drop the buffered messages of a waiting user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			n, err := pending.NewBuffer(a.store, a.log).Discard(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Discarded %d pending message(s) for %s.\n", n, args[0])
			return nil
		},
	}
}

func newQueuesCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "queues",
		Short: "Show waiting users per language (needs queue.backend=redis)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			if a.queues == nil {
				return errors.New("queue state is only visible with queue.backend=redis")
			}
			snap, err := queue.Snapshot(cmd.Context(), a.queues)
			if err != nil {
				return err
			}
			for _, l := range language.Members() {
				fmt.Fprintf(a.out, "%s\t%d\n", l, snap[l])
			}
			return nil
		},
	}
}
