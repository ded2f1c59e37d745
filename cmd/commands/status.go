package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/taskgate/internal/config"
	"github.com/dohr-michael/taskgate/internal/heartbeat"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show taskgate gateway status",
		Action: func(_ context.Context, _ *cli.Command) error {
			hb, err := heartbeat.Read(config.HeartbeatPath())
			if err != nil {
				return fmt.Errorf("check heartbeat: %w", err)
			}

			switch hb.Status(time.Now(), heartbeat.DefaultMaxAge) {
			case heartbeat.StatusAlive:
				fmt.Printf("Gateway: ALIVE (PID %d, uptime %s, addr %s)\n", hb.PID, hb.Uptime(), hb.Addr)
				fmt.Printf("Visits: %d active, %d total, %d locked out\n", hb.ActiveVisits, hb.TotalVisits, hb.Lockouts)
			case heartbeat.StatusStale:
				fmt.Printf("Gateway: STALE (PID %d, last heartbeat %s ago)\n",
					hb.PID, time.Since(hb.Timestamp).Truncate(time.Second))
			case heartbeat.StatusDead:
				fmt.Println("Gateway: NOT RUNNING")
			}

			return nil
		},
	}
}
