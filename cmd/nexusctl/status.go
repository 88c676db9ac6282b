package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/AngkinV/Nexus-Chat/internal/daemon"
	"github.com/AngkinV/Nexus-Chat/internal/lock"
	"github.com/AngkinV/Nexus-Chat/internal/profile"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/structpb"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and channel status",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := call(daemon.MethodStatus, nil)
		if err != nil {
			return offlineStatus(err)
		}
		if jsonOutput {
			return printJSON(out)
		}
		fmt.Printf("Profile:       %s\n", str(out, "profile"))
		fmt.Printf("Channel:       %s\n", str(out, "state"))
		if id := num(out, "userId"); id > 0 {
			fmt.Printf("User:          %d (%s)\n", id, str(out, "username"))
		} else {
			fmt.Println("User:          (signed out)")
		}
		if boolField(out, "retryPending") {
			fmt.Printf("Reconnect:     attempt %d pending\n", num(out, "attempts"))
		}
		fmt.Printf("Conversations: %d\n", num(out, "conversations"))
		fmt.Printf("Requests:      %d pending\n", num(out, "pendingCount"))
		fmt.Printf("Online users:  %d\n", num(out, "onlineUsers"))
		if id := num(out, "activeChatId"); id > 0 {
			fmt.Printf("Active chat:   %d\n", id)
		}
		fmt.Printf("Uptime:        %s\n", (time.Duration(num(out, "uptimeMs")) * time.Millisecond).Round(time.Second))
		return healthLine()
	},
}

func healthLine() error {
	c, err := daemon.Dial(profile.SocketPath(profileFlag))
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	up, err := c.Connected(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Health:        %s\n", map[bool]string{true: "SERVING", false: "NOT_SERVING"}[up])
	return nil
}

// offlineStatus reports what the lock file says when the daemon does not answer.
func offlineStatus(cause error) error {
	h, err := lock.ReadHolder(profile.Dir(profileFlag))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("daemon for profile %q has never run: %w", profileFlag, cause)
	}
	if err != nil {
		return cause
	}
	if jsonOutput {
		out, _ := structpb.NewStruct(map[string]any{
			"profile": profileFlag,
			"running": false,
			"lastPid": h.PID,
			"since":   h.Since.Format(time.RFC3339),
		})
		return printJSON(out)
	}
	fmt.Printf("Profile: %s\n", profileFlag)
	fmt.Printf("Daemon:  not reachable (last started by PID %d at %s)\n", h.PID, h.Since.Format(time.RFC3339))
	return nil
}
