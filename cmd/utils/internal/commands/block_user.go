package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/appetiteclub/fulfillment/pkg/lib/auth"
	"github.com/spf13/cobra"
)

// blockList is the part of auth.RedisBlockList the command drives.
type blockList interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Block(ctx context.Context, userID string, ttl time.Duration) error
	Unblock(ctx context.Context, userID string) error
}

func newBlockUserCommand(e *env) *cobra.Command {
	var (
		ttl     time.Duration
		unblock bool
	)

	cmd := &cobra.Command{
		Use:   "block-user <user-id>",
		Short: "Block or unblock a user in the shared Redis block list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := e.config.GetStringOrDef("auth.redis.addr", "")
			if addr == "" {
				return fmt.Errorf("auth.redis.addr is not configured")
			}
			list := auth.NewRedisBlockList(addr, e.config.GetStringOrDef("auth.redis.password", ""), e.config.GetIntOrDef("auth.redis.db", 0))
			return setBlocked(cmd.Context(), list, e, args[0], unblock, ttl)
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "how long the block lasts (0 keeps it until unblocked)")
	cmd.Flags().BoolVar(&unblock, "unblock", false, "remove the block instead")
	return cmd
}

func setBlocked(ctx context.Context, list blockList, e *env, userID string, unblock bool, ttl time.Duration) error {
	log := e.logger.With("command", "block-user", "user_id", userID)

	if err := list.Start(ctx); err != nil {
		return err
	}
	defer list.Stop(context.Background())

	if unblock {
		if err := list.Unblock(ctx, userID); err != nil {
			return err
		}
		log.Info("user unblocked")
		return nil
	}

	if err := list.Block(ctx, userID, ttl); err != nil {
		return err
	}
	log.Info("user blocked", "ttl", ttl.String())
	return nil
}
