package commands

import (
	"github.com/spf13/cobra"

	"graphauth/go-backend/internal/domains/contracts"
	"graphauth/go-backend/internal/identity"
	"graphauth/go-backend/pkg/models"
)

func resolveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve [alias]",
		Short: "Resolve an alias to its public key",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, args []string) error {
			res, found, err := c.rt.Registry.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !found {
				return contracts.NewError(contracts.CodeAliasNotFound, "")
			}
			alias := res.Username
			if alias == "" {
				alias = args[0]
			}
			out := models.AliasResolution{
				Alias:     alias,
				Pub:       res.Pub,
				Source:    string(res.Source),
				Immutable: res.Immutable,
			}
			if res.Profile != nil {
				out.EPub = res.Profile.EPub
				out.CreatedAt = res.Profile.CreatedAt
				out.LastLogin = res.Profile.LastLogin
			}
			return c.print(out)
		}),
	}
}

func deriveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "derive [purpose]",
		Short: "Derive the child keypair of the session user for a purpose",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c.rt.Service.RestoreSession(ctx)
			child, err := c.rt.Service.DeriveChildKey(ctx, args[0])
			if err != nil {
				return err
			}
			return c.print(map[string]string{
				"purpose": args[0],
				"pub":     child.Pub,
				"epub":    child.EPub,
			})
		}),
	}
}

func phraseCmd(c *cli) *cobra.Command {
	var check string
	cmd := &cobra.Command{
		Use:         "phrase",
		Short:       "Generate a new 24-word recovery phrase, or validate one with --check",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{offlineAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if check != "" {
				if !identity.ValidateRecoveryPhrase(check) {
					return identity.ErrInvalidMnemonic
				}
				return c.print(map[string]bool{"valid": true})
			}
			phrase, err := identity.NewRecoveryPhrase()
			if err != nil {
				return err
			}
			return c.print(map[string]string{"phrase": phrase})
		},
	}
	cmd.Flags().StringVar(&check, "check", "", "recovery phrase to validate instead of generating one")
	return cmd
}
