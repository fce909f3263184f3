// Package cli implements the operator command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakturace/fakturace/internal/ares"
	"github.com/fakturace/fakturace/internal/banking"
	"github.com/fakturace/fakturace/internal/invoicing"
	"github.com/fakturace/fakturace/jobs"
)

// Extractor reads structured data out of free text.
type Extractor interface {
	ExtractPayments(ctx context.Context, raw string) []banking.Payment
	ExtractInvoiceFields(ctx context.Context, text string) (invoicing.Draft, error)
}

// Registry looks companies up in ARES.
type Registry interface {
	LookupByICO(ctx context.Context, ico string) (*ares.Company, error)
	SearchByName(ctx context.Context, name string) ([]ares.Company, error)
}

// Queue enqueues and inspects background jobs. *JobsCLI satisfies it.
type Queue interface {
	Trigger(ctx context.Context, req TriggerRequest) (string, error)
	InspectQueue(ctx context.Context) (QueueStats, error)
	Close() error
}

// Deps builds collaborators lazily so commands only connect to what they use.
type Deps struct {
	Extractor func() (Extractor, error)
	Registry  func() (Registry, error)
	Queue     func() (Queue, error)
}

// NewRootCommand assembles the command tree.
func NewRootCommand(deps Deps) *cobra.Command {
	root := &cobra.Command{
		Use:           "fakturace-cli",
		Short:         "Operator tools for the invoicing backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newExtractCommand(deps), newAresCommand(deps), newJobsCommand(deps))
	return root
}

func newExtractCommand(deps Deps) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "extract [file]",
		Short: "Run payment or invoice extraction on a file or stdin",
		Example: `  fakturace-cli extract bank-email.txt
  echo "Faktura pro Alfa s.r.o. na 5000 Kč" | fakturace-cli extract --kind invoice`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			ex, err := deps.Extractor()
			if err != nil {
				return err
			}
			switch kind {
			case "payments":
				return printJSON(cmd.OutOrStdout(), ex.ExtractPayments(cmd.Context(), text))
			case "invoice":
				draft, err := ex.ExtractInvoiceFields(cmd.Context(), text)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), draft)
			default:
				return fmt.Errorf("unknown kind %q, use payments or invoice", kind)
			}
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "payments", "what to extract: payments or invoice")
	return cmd
}

func newAresCommand(deps Deps) *cobra.Command {
	cmd := &cobra.Command{Use: "ares", Short: "Query the ARES business registry"}
	cmd.AddCommand(&cobra.Command{
		Use:   "lookup <ico|name>",
		Short: "Look a company up by IČO, or search by name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := deps.Registry()
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")
			if ico, ok := ares.ExtractICO(query); ok && ico == strings.TrimSpace(query) {
				company, err := reg.LookupByICO(cmd.Context(), ico)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), company)
			}
			companies, err := reg.SearchByName(cmd.Context(), query)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), companies)
		},
	})
	return cmd
}

func newJobsCommand(deps Deps) *cobra.Command {
	cmd := &cobra.Command{Use: "jobs", Short: "Manage background jobs"}

	var (
		asOf      string
		companyID int64
		accountID int64
		file      string
	)
	trigger := &cobra.Command{
		Use:   "trigger <job>",
		Short: "Enqueue " + jobs.TaskInvoicesOverdueSweep + " or " + jobs.TaskBankProcessEmail,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := TriggerRequest{Name: args[0]}
			if asOf != "" {
				t, err := time.Parse(time.DateOnly, asOf)
				if err != nil {
					return fmt.Errorf("--as-of: %w", err)
				}
				req.AsOf = t
			}
			if req.Name == jobs.TaskBankProcessEmail {
				var in []string
				if file != "" {
					in = []string{file}
				}
				body, err := readInput(cmd.InOrStdin(), in)
				if err != nil {
					return err
				}
				req.Email = jobs.ProcessEmailPayload{CompanyID: companyID, BankAccountID: accountID, Body: body}
			}
			q, err := deps.Queue()
			if err != nil {
				return err
			}
			defer q.Close()
			id, err := q.Trigger(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s\n", req.Name, id)
			return nil
		},
	}
	trigger.Flags().StringVar(&asOf, "as-of", "", "reference day for the overdue sweep (YYYY-MM-DD)")
	trigger.Flags().Int64Var(&companyID, "company", 0, "company id for a bank email")
	trigger.Flags().Int64Var(&accountID, "account", 0, "bank account id for a bank email")
	trigger.Flags().StringVar(&file, "file", "", "bank email file, stdin when empty")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show default queue counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := deps.Queue()
			if err != nil {
				return err
			}
			defer q.Close()
			s, err := q.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
				s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry)
			return nil
		},
	}
	cmd.AddCommand(trigger, stats)
	return cmd
}

func readInput(stdin io.Reader, args []string) (string, error) {
	var (
		raw []byte
		err error
	)
	if len(args) > 0 && args[0] != "-" {
		raw, err = os.ReadFile(args[0])
	} else {
		raw, err = io.ReadAll(stdin)
	}
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "", fmt.Errorf("empty input")
	}
	return text, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
