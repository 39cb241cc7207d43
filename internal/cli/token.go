package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-arbiter/internal/auth"
)

// EnvJWTSecret is the daemon's secret, shared with token.
const EnvJWTSecret = "GRAYLOGIC_JWT_SECRET"

// NewTokenCommand mints an API token offline from the daemon's JWT secret.
func NewTokenCommand() *cobra.Command {
	var (
		subject string
		role    string
		issuer  string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token from the shared JWT secret",
		Long: fmt.Sprintf(`Mint a signed API token.

The secret is read from %s and must match the daemon's
security.jwt.secret. Roles: viewer (read), operator (actions),
admin (lock reset).`, EnvJWTSecret),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := os.Getenv(EnvJWTSecret)
			if secret == "" {
				return fmt.Errorf("%w: set %s", auth.ErrNoSecret, EnvJWTSecret)
			}
			token, err := auth.GenerateToken(subject, auth.Role(role), secret, issuer, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "token subject, usually a service or operator name")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleViewer), "viewer, operator or admin")
	cmd.Flags().StringVar(&issuer, "issuer", "", "issuer; must match security.jwt.issuer when that is set")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
