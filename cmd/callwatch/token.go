package main

import (
	"fmt"
	"time"

	"dialer-realtime/internal/auth"

	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var userID, email string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token accepted by the dev server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.RequireDevServer(); err != nil {
				return err
			}
			if userID == "" {
				userID = cfg.Dev.UserID
			}
			m, err := auth.NewManager(cfg.Auth)
			if err != nil {
				return err
			}
			tok, err := m.Issue(time.Now(), userID, email)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (DEV_USER_ID)")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	return cmd
}
