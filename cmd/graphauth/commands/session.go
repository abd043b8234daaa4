package commands

import (
	"errors"

	"github.com/spf13/cobra"
)

var errNotLoggedIn = errors.New("no active session")

func restoreCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Re-authenticate the persisted session",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, args []string) error {
			res := c.rt.Service.RestoreSession(cmd.Context())
			if err := c.print(res); err != nil {
				return err
			}
			if res.Error != "" {
				return errors.New(res.Error)
			}
			return nil
		}),
	}
}

func logoutCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget the persisted envelope",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c.rt.Service.RestoreSession(ctx)
			c.rt.Service.Logout(ctx)
			return c.print(map[string]bool{"loggedOut": true})
		}),
	}
}

func whoamiCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the user of the persisted session",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, args []string) error {
			c.rt.Service.RestoreSession(cmd.Context())
			user, ok := c.rt.Service.CurrentUser()
			if !ok {
				return errNotLoggedIn
			}
			return c.print(user)
		}),
	}
}
