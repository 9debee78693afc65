package cmd

import (
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/checkloops/checkloops/internal/database"
	"github.com/checkloops/checkloops/internal/users"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage staff accounts",
}

var userCreateFlags struct {
	Email    string
	Password string
	FullName string
	Role     string
	SiteID   int64
	PIN      string
}

var userCreateCmd = &cobra.Command{
	Use:     "create",
	Short:   "Create a confirmed account with a password",
	Example: `checkloops user create --email ann@example.com --password 'correct horse' --name "Ann Smith" --site 1 --pin 1234`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, closeEngine, err := openEngine()
		if err != nil {
			return err
		}
		defer closeEngine()

		u, err := e.Users().CreateUser(cmd.Context(), users.CreateRequest{
			Email:     userCreateFlags.Email,
			Password:  userCreateFlags.Password,
			FullName:  userCreateFlags.FullName,
			Role:      userCreateFlags.Role,
			SiteID:    userCreateFlags.SiteID,
			PIN:       userCreateFlags.PIN,
			CreatedBy: database.SystemActor,
		})
		if err != nil {
			return err
		}
		log.Info("User created", "id", u.ID, "auth_user_id", u.AuthUserID, "email", u.Email)
		return nil
	},
}

var userSetRoleCmd = &cobra.Command{
	Use:   "set-role <auth-user-id> <role>",
	Short: "Change the role of a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, closeEngine, err := openEngine()
		if err != nil {
			return err
		}
		defer closeEngine()

		if err := e.Users().SetRole(cmd.Context(), args[0], args[1], database.SystemActor); err != nil {
			return err
		}
		log.Info("Role updated", "user", args[0], "role", args[1])
		return nil
	},
}

var userSetPINCmd = &cobra.Command{
	Use:   "set-pin <auth-user-id> <pin>",
	Short: "Set the kiosk PIN of a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, closeEngine, err := openEngine()
		if err != nil {
			return err
		}
		defer closeEngine()

		if err := e.Users().SetKioskPIN(cmd.Context(), args[0], args[1], database.SystemActor); err != nil {
			return err
		}
		log.Info("Kiosk PIN updated", "user", args[0])
		return nil
	},
}

func init() {
	f := userCreateCmd.Flags()
	f.StringVar(&userCreateFlags.Email, "email", "", "Email address of the account")
	f.StringVar(&userCreateFlags.Password, "password", "", "Initial password")
	f.StringVar(&userCreateFlags.FullName, "name", "", "Full name")
	f.StringVar(&userCreateFlags.Role, "role", "staff", "Role of the user")
	f.Int64Var(&userCreateFlags.SiteID, "site", 0, "Site ID")
	f.StringVar(&userCreateFlags.PIN, "pin", "", "Optional kiosk PIN of 4 to 6 digits")
	_ = userCreateCmd.MarkFlagRequired("email")
	_ = userCreateCmd.MarkFlagRequired("password")
	_ = userCreateCmd.MarkFlagRequired("site")

	userCmd.AddCommand(userCreateCmd, userSetRoleCmd, userSetPINCmd)
	rootCmd.AddCommand(userCmd)
}
