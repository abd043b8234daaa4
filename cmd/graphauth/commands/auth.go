package commands

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"graphauth/go-backend/internal/crypto"
	"graphauth/go-backend/internal/identity"
)

func signupCmd(c *cli) *cobra.Command {
	var password string
	var phrase string
	cmd := &cobra.Command{
		Use:   "signup [username]",
		Short: "Create an account and claim its alias",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, args []string) error {
			secret, err := readSecret(cmd, password, "password")
			if err != nil {
				return err
			}
			pair, err := c.pairFromPhrase(phrase)
			if err != nil {
				return err
			}
			res, err := c.rt.Service.SignUp(cmd.Context(), args[0], secret, pair)
			if perr := c.print(res); perr != nil {
				return perr
			}
			return err
		}),
	}
	cmd.Flags().StringVar(&password, "password", "", "account password (read from stdin when empty)")
	cmd.Flags().StringVar(&phrase, "phrase", "", "recovery phrase to derive the account keypair from")
	return cmd
}

func loginCmd(c *cli) *cobra.Command {
	var password string
	var phrase string
	cmd := &cobra.Command{
		Use:   "login [username]",
		Short: "Authenticate and persist the session",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, args []string) error {
			pair, err := c.pairFromPhrase(phrase)
			if err != nil {
				return err
			}
			secret := ""
			if pair == nil {
				if secret, err = readSecret(cmd, password, "password"); err != nil {
					return err
				}
			}
			res, err := c.rt.Service.Login(cmd.Context(), args[0], secret, pair)
			if perr := c.print(res); perr != nil {
				return perr
			}
			return err
		}),
	}
	cmd.Flags().StringVar(&password, "password", "", "account password (read from stdin when empty)")
	cmd.Flags().StringVar(&phrase, "phrase", "", "log in with the keypair of a recovery phrase")
	return cmd
}

func (c *cli) pairFromPhrase(phrase string) (*crypto.Keypair, error) {
	if strings.TrimSpace(phrase) == "" {
		return nil, nil
	}
	pair, err := identity.MasterFromRecoveryPhrase(c.rt.Provider, phrase, "")
	if err != nil {
		return nil, err
	}
	return &pair, nil
}

// readSecret returns value, or the first line of stdin when value is empty.
func readSecret(cmd *cobra.Command, value, name string) (string, error) {
	if value != "" {
		return value, nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		if err != nil {
			return "", fmt.Errorf("read %s from stdin: %w", name, err)
		}
		return "", errors.New(name + " is required")
	}
	return line, nil
}
