package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/tutorlink/auth-client/internal/core/domain"
	"github.com/tutorlink/auth-client/internal/core/ports"
)

func newLoginCmd(a *app) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with TutorLink",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := a.credentials.Login(cmd.Context(), username, password)
			if err != nil {
				var pending *domain.PendingDeletionError
				if errors.As(err, &pending) {
					pterm.Warning.Printf("This account is scheduled for deletion on %s (%d days remaining).\n",
						pending.ScheduledAt, pending.DaysRemaining)
					pterm.Warning.Println("Contact support to recover it.")
					return nil
				}
				return err
			}
			pterm.Success.Printf("Logged in as %s (%s)\n", user.DisplayName(), user.ActiveRole)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "email or phone")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newRegisterCmd(a *app) *cobra.Command {
	var input ports.RegisterInput
	var role string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a TutorLink account",
		RunE: func(cmd *cobra.Command, args []string) error {
			input.Role = domain.RoleName(role)
			user, err := a.credentials.Register(cmd.Context(), input)
			if err != nil {
				return err
			}
			pterm.Success.Printf("Registered %s as %s\n", user.DisplayName(), user.ActiveRole)
			return nil
		},
	}
	cmd.Flags().StringVar(&input.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&input.FatherName, "father-name", "", "father name")
	cmd.Flags().StringVar(&input.Email, "email", "", "email address")
	cmd.Flags().StringVar(&input.Phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&input.Password, "password", "", "password (min 8 characters)")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleStudent), "initial role (student, tutor, parent, ...)")
	_ = cmd.MarkFlagRequired("first-name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Display the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := a.session.Restore(cmd.Context())
			if err != nil {
				return err
			}
			if !ok {
				pterm.Info.Println("Not logged in.")
				return nil
			}

			user := a.session.CurrentUser()
			pterm.DefaultSection.Println("Session")
			pterm.Info.Printf("User: %s (id %d)\n", user.DisplayName(), user.ID)
			pterm.Info.Printf("Active role: %s\n", user.ActiveRole)

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ROLE\tPROFILE ID")
			for _, role := range user.Roles {
				if id, ok := user.RoleIDs[role]; ok {
					fmt.Fprintf(w, "%s\t%d\n", role, id)
				} else {
					fmt.Fprintf(w, "%s\t-\n", role)
				}
			}
			w.Flush()
			return nil
		},
	}
}

func newSwitchRoleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "switch-role <role>",
		Short: "Switch the active role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ok, err := a.session.Restore(cmd.Context()); err != nil {
				return err
			} else if !ok {
				return domain.ErrNotAuthenticated
			}

			role := domain.RoleName(strings.ToLower(args[0]))
			if err := a.session.SwitchRole(cmd.Context(), role); err != nil {
				if errors.Is(err, domain.ErrRoleNotHeld) {
					return fmt.Errorf("you do not hold the %q role", role)
				}
				return err
			}
			pterm.Success.Printf("Active role is now %s\n", role)
			return nil
		},
	}
}

func newLogoutCmd(a *app) *cobra.Command {
	var redirect bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "End the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.credentials.Logout(cmd.Context(), redirect); err != nil {
				return err
			}
			pterm.Success.Println("Logged out.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&redirect, "redirect", false, "run the post-logout hook")
	return cmd
}
