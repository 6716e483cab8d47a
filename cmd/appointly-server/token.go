package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"appointly/backend/internal/config"
	"appointly/backend/internal/domain"
	grpcTransport "appointly/backend/internal/transport/grpc"
)

// newTokenCmd signs an access token with the configured secret, for local
// development against a running server.
func newTokenCmd() *cobra.Command {
	var (
		userID string
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a development access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config load: %w", err)
			}
			id, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("--user-id: %w", err)
			}
			r := domain.Role(role)
			if !r.Valid() {
				return fmt.Errorf("--role must be client, staff or admin, got %q", role)
			}

			auth, err := grpcTransport.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer)
			if err != nil {
				return err
			}
			token, err := auth.Issue(domain.Actor{UserID: id, Role: r}, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "user id (UUID) placed in the sub claim")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleClient), "client, staff or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}
