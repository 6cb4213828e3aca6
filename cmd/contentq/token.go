package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/phrazzld/contentq/internal/auth"
)

func (c *cli) tokenCmd() *cobra.Command {
	var (
		subject  string
		lifetime time.Duration
	)

	command := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.config.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret is not configured")
			}
			tokens, err := auth.NewTokenService(c.config.Auth)
			if err != nil {
				return err
			}
			token, err := tokens.Generate(cmd.Context(), subject, lifetime)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	command.Flags().StringVar(&subject, "subject", "", "who the token identifies (required)")
	command.Flags().DurationVar(&lifetime, "ttl", 0, "token lifetime (default auth.token_lifetime)")
	_ = command.MarkFlagRequired("subject")
	return command
}
