package cmd

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mergestat/timediff"
	"github.com/spf13/cobra"

	"github.com/checkloops/checkloops/internal/database"
	"github.com/checkloops/checkloops/internal/engine"
	"github.com/checkloops/checkloops/internal/invite"
	"github.com/checkloops/checkloops/internal/staff"
)

var inviteCmd = &cobra.Command{
	Use:   "invite",
	Short: "Manage site invitations",
}

var inviteCreateFlags struct {
	Email    string
	FullName string
	Role     string
	SiteID   int64
}

var inviteCreateCmd = &cobra.Command{
	Use:     "create",
	Short:   "Invite a new member to a site",
	Example: `checkloops invite create --email ann@example.com --name "Ann Smith" --role staff --site 1`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, closeEngine, err := openEngine()
		if err != nil {
			return err
		}
		defer closeEngine()

		inv, err := e.Invites().Create(cmd.Context(), invite.CreateRequest{
			Email:    inviteCreateFlags.Email,
			FullName: inviteCreateFlags.FullName,
			Role:     inviteCreateFlags.Role,
			SiteID:   inviteCreateFlags.SiteID,
		})
		if err != nil {
			return err
		}
		log.Info("Invite sent", "id", inv.ID, "email", inv.Email, "expires", inv.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

var inviteCancelCmd = &cobra.Command{
	Use:   "cancel <invite-id>",
	Short: "Cancel a pending invite",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid invite id %q: %w", args[0], err)
		}
		e, closeEngine, err := openEngine()
		if err != nil {
			return err
		}
		defer closeEngine()

		inv, err := e.Invites().Cancel(cmd.Context(), id, database.SystemActor)
		if err != nil {
			return err
		}
		log.Info("Invite cancelled", "id", inv.ID, "email", inv.Email)
		return nil
	},
}

var inviteListFlags struct {
	SiteID int64
	Status string
}

var inviteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the invites of a site",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, closeEngine, err := openEngine()
		if err != nil {
			return err
		}
		defer closeEngine()

		invites, err := e.Invites().List(cmd.Context(), inviteListFlags.SiteID, staff.InviteStatus(inviteListFlags.Status))
		if err != nil {
			return err
		}
		if len(invites) == 0 {
			fmt.Println("No invites found.")
			return nil
		}

		now := time.Now()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tEMAIL\tROLE\tSTATUS\tEXPIRES") //nolint:errcheck
		for _, inv := range invites {
			expires := "-"
			if !inv.ExpiresAt.IsZero() {
				expires = timediff.TimeDiff(inv.ExpiresAt, timediff.WithStartTime(now))
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", inv.ID, inv.Email, inv.Role, inv.Status, expires) //nolint:errcheck
		}
		return w.Flush()
	},
}

var inviteExpireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Expire pending invites past their expiry date",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, closeEngine, err := openEngine()
		if err != nil {
			return err
		}
		defer closeEngine()

		n, err := e.RunJob(cmd.Context(), engine.JobExpireInvites)
		if err != nil {
			return err
		}
		log.Info("Expired stale invites", "count", n)
		return nil
	},
}

func init() {
	inviteCreateCmd.Flags().StringVar(&inviteCreateFlags.Email, "email", "", "Email address to invite")
	inviteCreateCmd.Flags().StringVar(&inviteCreateFlags.FullName, "name", "", "Full name of the invitee")
	inviteCreateCmd.Flags().StringVar(&inviteCreateFlags.Role, "role", "staff", "Role of the new member")
	inviteCreateCmd.Flags().Int64Var(&inviteCreateFlags.SiteID, "site", 0, "Site ID")
	_ = inviteCreateCmd.MarkFlagRequired("email")
	_ = inviteCreateCmd.MarkFlagRequired("site")

	inviteListCmd.Flags().Int64Var(&inviteListFlags.SiteID, "site", 0, "Site ID")
	inviteListCmd.Flags().StringVar(&inviteListFlags.Status, "status", "", "Only list invites with this status (pending, accepted, expired, revoked, cancelled)")
	_ = inviteListCmd.MarkFlagRequired("site")

	inviteCmd.AddCommand(inviteCreateCmd, inviteCancelCmd, inviteListCmd, inviteExpireCmd)
	rootCmd.AddCommand(inviteCmd)
}
