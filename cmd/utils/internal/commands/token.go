package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/appetiteclub/fulfillment/pkg/lib/auth"
	"github.com/spf13/cobra"
)

func newTokenCommand(e *env) *cobra.Command {
	var (
		p       auth.Principal
		secret  string
		ttl     time.Duration
		service string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for calling the services",
		Example: `  fulfillment-utils token --user demo-user-1 --email asha@example.com
  fulfillment-utils token --user ops-1 --role ADMIN --ttl 1h
  fulfillment-utils token --service payment`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := secretOr(secret, e, "auth.jwt.secret")
			if key == "" {
				return fmt.Errorf("no signing secret: pass --secret or set auth.jwt.secret")
			}

			principal := p
			if service != "" {
				principal = auth.ServicePrincipal(service)
			}
			if strings.TrimSpace(principal.UserID) == "" {
				return fmt.Errorf("--user or --service is required")
			}

			token, err := auth.NewTokenIssuer(key, ttl).Issue(principal)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVar(&p.UserID, "user", "", "user id carried in the token")
	cmd.Flags().StringVar(&p.Email, "email", "", "email carried in the token")
	cmd.Flags().StringVar(&p.Role, "role", "USER", "role carried in the token")
	cmd.Flags().StringVar(&p.FullName, "name", "", "full name carried in the token")
	cmd.Flags().StringVar(&service, "service", "", "mint a service token for this service instead of a user")
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (defaults to auth.jwt.secret)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
