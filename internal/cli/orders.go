package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmeshcher/leadmatch/internal/model"
)

const timeLayout = time.RFC3339

func (a *app) ordersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Manage attorney orders",
	}

	cmd.AddCommand(a.ordersCreateCmd())
	cmd.AddCommand(a.ordersShowCmd())
	cmd.AddCommand(a.ordersAssignmentsCmd())

	return cmd
}

func (a *app) ordersCreateCmd() *cobra.Command {
	var (
		draft   model.OrderDraft
		states  []string
		expires string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an open order",
		RunE: func(cmd *cobra.Command, args []string) error {
			draft.TargetStates = states

			switch {
			case expires != "":
				t, err := time.Parse(timeLayout, expires)
				if err != nil {
					return fmt.Errorf("parse --expires: %w", err)
				}
				draft.ExpiresAt = t
			case ttl > 0:
				draft.ExpiresAt = time.Now().Add(ttl)
			default:
				return fmt.Errorf("either --expires or --ttl is required")
			}

			o, err := a.svc.CreateOrder(cmd.Context(), draft)
			if err != nil {
				return fmt.Errorf("failed to create order: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Created order %s (%s, quota %d, expires %s)\n",
				o.ID, statusLabel(o.Status), o.QuotaTotal, o.ExpiresAt.Format(timeLayout))
			return nil
		},
	}

	cmd.Flags().StringVar(&draft.ID, "id", "", "order ID (generated when empty)")
	cmd.Flags().StringVar(&draft.AttorneyID, "attorney", "", "attorney ID")
	cmd.Flags().StringSliceVar(&states, "states", nil, "target jurisdictions, e.g. TX,OK")
	cmd.Flags().StringVar(&draft.CaseType, "case-type", "", "case type")
	cmd.Flags().StringVar(&draft.CaseSubtype, "subtype", "", "case subtype")
	cmd.Flags().IntVar(&draft.QuotaTotal, "quota", 0, "number of leads to deliver")
	cmd.Flags().StringVar(&expires, "expires", "", "expiry time (RFC 3339)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "expiry relative to now, e.g. 720h")

	return cmd
}

func (a *app) ordersShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [order-id]",
		Short: "Show order details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, effective, err := a.svc.GetOrder(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get order: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Order: %s\n", o.ID)
			fmt.Fprintf(out, "Attorney: %s\n", o.AttorneyID)
			fmt.Fprintf(out, "States: %s\n", strings.Join(o.TargetStates, ","))
			fmt.Fprintf(out, "Case: %s", o.CaseType)
			if o.CaseSubtype != "" {
				fmt.Fprintf(out, " / %s", o.CaseSubtype)
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "Quota: %d/%d (%d remaining)\n", o.QuotaFilled, o.QuotaTotal, o.Remaining())
			fmt.Fprintf(out, "Status: %s", statusLabel(o.Status))
			if effective != o.Status {
				fmt.Fprintf(out, " (effective %s)", statusLabel(effective))
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "Expires: %s\n", o.ExpiresAt.Format(timeLayout))
			fmt.Fprintf(out, "Created: %s\n", o.CreatedAt.Format(timeLayout))

			return nil
		},
	}
}

func (a *app) ordersAssignmentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assignments [order-id]",
		Short: "List leads assigned to an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			assignments, err := a.svc.ListAssignments(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to list assignments: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(assignments) == 0 {
				fmt.Fprintln(out, "No assignments found.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "LEAD\tSUBMISSION\tAGENT\tASSIGNED")
			fmt.Fprintln(w, "----\t----------\t-----\t--------")
			for _, item := range assignments {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					item.LeadID,
					item.SubmissionID,
					item.AgentID,
					item.AssignedAt.Format(timeLayout),
				)
			}
			return w.Flush()
		},
	}
}
