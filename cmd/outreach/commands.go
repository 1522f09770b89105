package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/outreachpro/outreach/internal/mailer"
	"github.com/outreachpro/outreach/internal/model"
	"github.com/outreachpro/outreach/internal/service"
	"github.com/spf13/cobra"
)

func accountCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "account", Short: "Manage accounts"}

	var email, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an account with the starting credit grant",
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := a.Accounts.CreateAccount(cmd.Context(), email, name)
			if err != nil {
				return err
			}
			return printJSON(account)
		},
	}
	create.Flags().StringVar(&email, "email", "", "account email")
	create.Flags().StringVar(&name, "name", "", "display name")
	create.MarkFlagRequired("email")

	var access, refresh string
	connect := &cobra.Command{
		Use:   "connect",
		Short: "Store mailbox OAuth tokens for the account",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := requireAccount()
			if err != nil {
				return err
			}
			if err := a.Accounts.ConnectMailbox(cmd.Context(), id, access, refresh, nil); err != nil {
				return err
			}
			fmt.Println("mailbox connected")
			return nil
		},
	}
	connect.Flags().StringVar(&access, "access-token", "", "OAuth access token")
	connect.Flags().StringVar(&refresh, "refresh-token", "", "OAuth refresh token")

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the account",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := requireAccount()
			if err != nil {
				return err
			}
			account, err := a.Accounts.GetAccount(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(account)
		},
	}

	cmd.AddCommand(create, connect, show)
	return cmd
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token for the account",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := requireAccount()
			if err != nil {
				return err
			}
			if a.Tokens == nil {
				return fmt.Errorf("security.tokens.secret is not configured")
			}
			account, err := a.Accounts.GetAccount(cmd.Context(), id)
			if err != nil {
				return err
			}
			token, err := a.Tokens.Issue(account.ID, account.Email)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}

func creditsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "credits", Short: "Inspect and top up credits"}

	var amount int
	var reference string
	add := &cobra.Command{
		Use:   "add",
		Short: "Apply a verified purchase",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := requireAccount()
			if err != nil {
				return err
			}
			balance, err := a.Credits.AddCredits(cmd.Context(), id, amount, reference)
			if err != nil {
				return err
			}
			fmt.Printf("credits: %d\n", balance)
			return nil
		},
	}
	add.Flags().IntVar(&amount, "amount", 0, "credits to add")
	add.Flags().StringVar(&reference, "reference", "", "payment reference; replays are ignored")
	add.MarkFlagRequired("amount")

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "Show the credit ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := requireAccount()
			if err != nil {
				return err
			}
			txs, err := a.Credits.Transactions(cmd.Context(), id, limit)
			if err != nil {
				return err
			}
			return printJSON(txs)
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "entries to show")

	cmd.AddCommand(add, list)
	return cmd
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Import contacts from a CSV (standard or Apollo export) or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := requireAccount()
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			result, err := a.Imports.ImportFile(cmd.Context(), id, filepath.Base(args[0]), f)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

func contactsCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "List contacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := requireAccount()
			if err != nil {
				return err
			}
			contacts, err := a.Outreach.ListContacts(cmd.Context(), id, model.ContactStatus(status), limit)
			if err != nil {
				return err
			}
			return printJSON(contacts)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new, contacted or replied")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum contacts")
	return cmd
}

func previewCmd() *cobra.Command {
	var kind string
	var limit int
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Render emails for new contacts without drafting them",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := requireAccount()
			if err != nil {
				return err
			}
			previews, err := a.Outreach.Preview(cmd.Context(), id, limit, kind)
			if err != nil {
				return err
			}
			for _, p := range previews {
				fmt.Printf("To: %s <%s>\nSubject: %s\n\n%s\n\n----\n", p.Name, p.To, p.Subject, p.Body)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "generator", "", "template or llm (default from config)")
	cmd.Flags().IntVar(&limit, "limit", 3, "contacts to preview")
	return cmd
}

func draftCmd() *cobra.Command {
	var kind string
	var limit int
	var attach []string
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Create a mailbox draft for every new contact, one credit each",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := requireAccount()
			if err != nil {
				return err
			}
			attachments, err := readAttachments(attach)
			if err != nil {
				return err
			}
			result, err := a.Outreach.CreateDraftsForNewContacts(cmd.Context(), id, service.DraftOptions{
				Generator:   kind,
				Limit:       limit,
				Attachments: attachments,
			})
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringVar(&kind, "generator", "", "template or llm (default from config)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum contacts to draft (0 drafts all)")
	cmd.Flags().StringArrayVar(&attach, "attach", nil, "file to attach to every draft (repeatable)")
	return cmd
}

func readAttachments(paths []string) ([]mailer.Attachment, error) {
	var total int64
	out := make([]mailer.Attachment, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		total += int64(len(data))
		if limit := a.Config.Outreach.MaxAttachmentBytes; limit > 0 && total > limit {
			return nil, fmt.Errorf("attachments exceed %d bytes", limit)
		}
		out = append(out, mailer.Attachment{
			Filename:    filepath.Base(p),
			ContentType: mime.TypeByExtension(filepath.Ext(p)),
			Data:        data,
		})
	}
	return out, nil
}

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send ATTEMPT_ID",
		Short: "Send one drafted attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := requireAccount()
			if err != nil {
				return err
			}
			result, err := a.Outreach.SendAttempt(cmd.Context(), id, args[0])
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

func sendAllCmd() *cobra.Command {
	var delay time.Duration
	cmd := &cobra.Command{
		Use:   "send-all",
		Short: "Send every draft, waiting between sends; Ctrl-C cancels",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := requireAccount()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("delay") {
				delay = a.Config.Outreach.DefaultBatchDelay
			}

			ctx := cmd.Context()
			batch, err := a.Dispatcher.EnqueueBatch(ctx, id, delay)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "batch %s: %d queued, %s apart\n", batch.ID, batch.QueuedCount(), delay)

			interrupted, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := a.Dispatcher.Wait(interrupted, batch.ID); err != nil {
				fmt.Fprintln(os.Stderr, "cancelling...")
				if _, cerr := a.Dispatcher.CancelBatch(context.Background(), id, batch.ID); cerr != nil {
					fmt.Fprintf(os.Stderr, "cancel: %v\n", cerr)
				}
				if err := a.Dispatcher.Wait(context.Background(), batch.ID); err != nil {
					return err
				}
			}

			final, err := a.Dispatcher.GetBatch(context.Background(), id, batch.ID)
			if err != nil {
				return err
			}
			return printJSON(final)
		},
	}
	cmd.Flags().DurationVar(&delay, "delay", 30*time.Second, "wait between sends")
	return cmd
}

func batchCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "batch", Short: "Inspect or cancel batch sends"}

	status := &cobra.Command{
		Use:   "status BATCH_ID",
		Short: "Show batch progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := requireAccount()
			if err != nil {
				return err
			}
			b, err := a.Dispatcher.GetBatch(cmd.Context(), id, args[0])
			if err != nil {
				return err
			}
			return printJSON(b)
		},
	}

	cancel := &cobra.Command{
		Use:   "cancel BATCH_ID",
		Short: "Cancel a batch before its next send",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := requireAccount()
			if err != nil {
				return err
			}
			b, err := a.Dispatcher.CancelBatch(cmd.Context(), id, args[0])
			if err != nil {
				return err
			}
			return printJSON(b)
		},
	}

	cmd.AddCommand(status, cancel)
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show credits and attempt counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := requireAccount()
			if err != nil {
				return err
			}
			stats, err := a.Outreach.GetStats(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}
}

func historyCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List attempts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := requireAccount()
			if err != nil {
				return err
			}
			attempts, err := a.Outreach.GetHistory(cmd.Context(), id, model.AttemptStatus(status), limit)
			if err != nil {
				return err
			}
			return printJSON(attempts)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "draft, sent or failed")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum attempts")
	return cmd
}
