package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"site-decisions/internal/remote"
	"site-decisions/internal/workflow"
)

var approvalCmd = &cobra.Command{
	Use:     "approval",
	Aliases: []string{"approvals"},
	Short:   "Create and decide equipment and material approval requests",
}

var (
	approvalTitle   string
	approvalRoles   []string
	approvalSubmit  bool
	approvalQuery   remote.ApprovalQuery
	decisionComment string
)

var approvalCreateCmd = &cobra.Command{
	Use:   "create <equipment|material> <entity_id>",
	Short: "Create a draft approval request",
	Long:  `Create a draft approval request. Approver roles default to the chain configured on the server for the entity type.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		r, err := c.CreateApproval(ctx, workflow.ApprovalInput{
			EntityType:    workflow.EntityType(args[0]),
			EntityID:      args[1],
			Title:         approvalTitle,
			ApproverRoles: approvalRoles,
		})
		if err != nil {
			return err
		}
		if approvalSubmit {
			if r, err = await(c.SubmitApproval(ctx, r.ID)); err != nil {
				return err
			}
		}
		printApproval(r)
		return nil
	},
}

var approvalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List approval requests",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		list, err := c.ListApprovals(cmd.Context(), approvalQuery)
		if err != nil {
			return err
		}
		printApprovals(list)
		return nil
	},
}

var approvalShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an approval request and its steps",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		r, err := c.OpenApproval(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printApproval(r)
		return nil
	},
}

var approvalSubmitCmd = &cobra.Command{
	Use:   "submit <id>",
	Short: "Submit a draft request to its approvers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if _, err := c.OpenApproval(ctx, args[0]); err != nil {
			return err
		}
		r, err := await(c.SubmitApproval(ctx, args[0]))
		if err != nil {
			return err
		}
		printApproval(r)
		return nil
	},
}

var approvalClaimCmd = &cobra.Command{
	Use:   "claim <id> <step>",
	Short: "Take ownership of a step",
	Long:  `Take ownership of a step. The step is given by its id or its order number.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		r, err := c.OpenApproval(ctx, args[0])
		if err != nil {
			return err
		}
		step, err := stepFor(r, args[1])
		if err != nil {
			return err
		}
		if r, err = await(c.ClaimStep(ctx, r.ID, step.ID)); err != nil {
			return err
		}
		printApproval(r)
		return nil
	},
}

var approvalDecideCmd = &cobra.Command{
	Use:   "decide <id> <step> <approve|reject>",
	Short: "Approve or reject a step",
	Long:  `Approve or reject a step. Steps are decided in order and a rejection requires --comment.`,
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		r, err := c.OpenApproval(ctx, args[0])
		if err != nil {
			return err
		}
		step, err := stepFor(r, args[1])
		if err != nil {
			return err
		}
		r, err = await(c.SubmitApprovalDecision(ctx, r.ID, step.ID, workflow.Decision(args[2]), decisionComment))
		if workflow.IsSilent(err) {
			fmt.Printf("Step %d was already decided.\n", step.StepOrder)
			r, _ = c.Approval(args[0])
		} else if err != nil {
			return err
		}
		printApproval(r)
		return nil
	},
}

// stepFor accepts a step id or its order number.
func stepFor(r workflow.ApprovalRequest, ref string) (workflow.ApprovalStep, error) {
	for _, s := range r.Steps {
		if s.ID == ref || fmt.Sprint(s.StepOrder) == ref {
			return s, nil
		}
	}
	return workflow.ApprovalStep{}, fmt.Errorf("request %s has no step %s", r.ID, ref)
}

func init() {
	rootCmd.AddCommand(approvalCmd)
	approvalCmd.AddCommand(approvalCreateCmd, approvalListCmd, approvalShowCmd,
		approvalSubmitCmd, approvalClaimCmd, approvalDecideCmd)

	approvalCreateCmd.Flags().StringVar(&approvalTitle, "title", "", "request title")
	approvalCreateCmd.Flags().StringSliceVar(&approvalRoles, "approver", nil, "approver role, in decision order (repeatable)")
	approvalCreateCmd.Flags().BoolVar(&approvalSubmit, "submit", false, "submit the request right away")

	approvalListCmd.Flags().StringVar((*string)(&approvalQuery.EntityType), "entity-type", "", "filter by entity type")
	approvalListCmd.Flags().StringVar(&approvalQuery.EntityID, "entity-id", "", "filter by entity id")
	approvalListCmd.Flags().StringVar((*string)(&approvalQuery.Status), "status", "", "filter by status")

	approvalDecideCmd.Flags().StringVarP(&decisionComment, "comment", "m", "", "decision comment")
}
