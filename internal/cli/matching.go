package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mmeshcher/leadmatch/internal/attorney"
	"github.com/mmeshcher/leadmatch/internal/model"
)

func (a *app) recommendCmd() *cobra.Command {
	var (
		lead      model.LeadDescriptor
		limit     int
		attorneys string
	)

	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Preview ranked orders for a lead",
		RunE: func(cmd *cobra.Command, args []string) error {
			var dir *attorney.Directory
			if attorneys != "" {
				d, err := attorney.Load(attorneys)
				if err != nil {
					return err
				}
				dir = d
			}

			recs, err := a.svc.Recommend(cmd.Context(), lead, limit)
			if err != nil {
				return fmt.Errorf("failed to recommend orders: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(recs) == 0 {
				fmt.Fprintln(out, "No eligible orders.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ORDER\tATTORNEY\tSCORE\tQUOTA\tEXPIRES\tREASONS")
			fmt.Fprintln(w, "-----\t--------\t-----\t-----\t-------\t-------")
			for _, r := range recs {
				fmt.Fprintf(w, "%s\t%s\t%.2f\t%d/%d\t%s\t%s\n",
					r.OrderID,
					dir.LabelFor(r.AttorneyID),
					r.Score,
					r.QuotaFilled,
					r.QuotaTotal,
					r.ExpiresAt.Format(timeLayout),
					strings.Join(r.Reasons, ", "),
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&lead.SubmissionID, "submission", "", "submission ID")
	cmd.Flags().StringVar(&lead.LeadID, "lead", "", "lead ID")
	cmd.Flags().StringVar(&lead.State, "state", "", "lead jurisdiction")
	cmd.Flags().StringVar(&lead.CaseType, "case-type", "", "case type")
	cmd.Flags().StringVar(&lead.CaseSubtype, "subtype", "", "case subtype")
	cmd.Flags().StringToStringVar(&lead.Attributes, "attr", nil, "extra lead attributes, key=value")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of orders")
	cmd.Flags().StringVar(&attorneys, "attorneys", "", "attorney directory YAML file")

	return cmd
}

func (a *app) assignCmd() *cobra.Command {
	var submissionID, agentID string

	cmd := &cobra.Command{
		Use:   "assign [order-id]",
		Short: "Assign the lead of a submission to an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.svc.Assign(cmd.Context(), args[0], submissionID, agentID)
			if err != nil {
				return fmt.Errorf("failed to assign lead: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Assigned lead %s to order %s at %s\n",
				res.LeadID, res.OrderID, res.AssignedAt.Format(timeLayout))
			return nil
		},
	}

	cmd.Flags().StringVar(&submissionID, "submission", "", "submission ID")
	cmd.Flags().StringVar(&agentID, "agent", "", "agent performing the assignment")

	return cmd
}

func (a *app) sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Persist EXPIRED status for open orders past their deadline",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.svc.SweepExpired(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to sweep orders: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Expired %d order(s).\n", n)
			return nil
		},
	}
}

func (a *app) leadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leads",
		Short: "Manage the submission to lead mapping",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set [submission-id] [lead-id]",
		Short: "Map a submission to a lead",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.UpsertLead(cmd.Context(), args[0], args[1]); err != nil {
				return fmt.Errorf("failed to set lead: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Submission %s -> lead %s\n", args[0], args[1])
			return nil
		},
	})

	return cmd
}
