package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/digkill/genstudio/internal/models"
	"github.com/digkill/genstudio/internal/service"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer st.db.Close()
		fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", st.db.Dialect)
		return nil
	},
}

var grantFlags struct {
	userID      string
	amount      int64
	txType      string
	description string
	create      bool
}

var grantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Credit a user's balance",
	Long: `Credit a user's balance through the ledger.

Examples:
  # Goodwill credits
  studio grant --user u_123 --amount 50 --description "support ticket 88"

  # Record an offline purchase, creating the account if needed
  studio grant --user u_123 --amount 500 --type purchase --create`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer st.db.Close()
		svc := st.services(nil, nil)

		if grantFlags.create {
			if _, _, err := svc.Accounts.Ensure(ctx, grantFlags.userID, ""); err != nil {
				return err
			}
		}
		entry, err := svc.Ledger.Credit(ctx, service.CreditInput{
			UserID:      grantFlags.userID,
			Amount:      grantFlags.amount,
			Type:        models.TxType(grantFlags.txType),
			Description: grantFlags.description,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "transaction %s: balance is now %d\n", entry.TransactionID, entry.BalanceAfter)
		return nil
	},
}

var setPlanFlags struct {
	userID string
	plan   string
}

var setPlanCmd = &cobra.Command{
	Use:   "set-plan",
	Short: "Move a user to another plan tier",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer st.db.Close()
		svc := st.services(nil, nil)

		if err := svc.Accounts.SetPlan(ctx, setPlanFlags.userID, models.PlanTier(setPlanFlags.plan)); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is now on %s\n", setPlanFlags.userID, setPlanFlags.plan)
		return nil
	},
}

var resetMonthlyCmd = &cobra.Command{
	Use:   "reset-monthly",
	Short: "Top up every plan's monthly allowance once",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer st.db.Close()

		summary, err := st.services(nil, nil).MonthlyReset.Run(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "checked %d accounts, topped up %d with %d credits\n", summary.Checked, summary.ToppedUp, summary.Credits)
		return nil
	},
}

var retryRefundsCmd = &cobra.Command{
	Use:   "retry-refunds",
	Short: "Retry refunds that failed during a guarded run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer st.db.Close()

		summary, err := st.services(nil, nil).RefundRetry.Run(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "attempted %d, refunded %d, failed %d\n", summary.Attempted, summary.Refunded, summary.Failed)
		return nil
	},
}

func init() {
	grantCmd.Flags().StringVar(&grantFlags.userID, "user", "", "user id to credit")
	grantCmd.Flags().Int64Var(&grantFlags.amount, "amount", 0, "credits to add")
	grantCmd.Flags().StringVar(&grantFlags.txType, "type", string(models.TxGrant), "transaction type: grant, purchase or monthly_reset")
	grantCmd.Flags().StringVar(&grantFlags.description, "description", "Operator grant", "ledger description")
	grantCmd.Flags().BoolVar(&grantFlags.create, "create", false, "create the account when it does not exist")
	_ = grantCmd.MarkFlagRequired("user")
	_ = grantCmd.MarkFlagRequired("amount")

	setPlanCmd.Flags().StringVar(&setPlanFlags.userID, "user", "", "user id")
	setPlanCmd.Flags().StringVar(&setPlanFlags.plan, "plan", "", "free, starter, professional or enterprise")
	_ = setPlanCmd.MarkFlagRequired("user")
	_ = setPlanCmd.MarkFlagRequired("plan")

	rootCmd.AddCommand(migrateCmd, grantCmd, setPlanCmd, resetMonthlyCmd, retryRefundsCmd)
}
