package main

import (
	"fmt"

	"github.com/AngkinV/Nexus-Chat/internal/daemon"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/structpb"
)

var (
	loginUsername string
	loginNickname string
	loginToken    string
)

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd, reconnectCmd, reloadCmd)

	loginCmd.Flags().StringVar(&loginUsername, "username", "", "username")
	loginCmd.Flags().StringVar(&loginNickname, "nickname", "", "display name")
	loginCmd.Flags().StringVar(&loginToken, "token", "", "bearer token for REST calls")
}

var loginCmd = &cobra.Command{
	Use:   "login <user-id>",
	Short: "Sign the daemon in with an identity obtained elsewhere",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		req := map[string]any{
			"userId":   id,
			"username": loginUsername,
			"nickname": loginNickname,
			"token":    loginToken,
		}
		return run(daemon.MethodSignIn, req, func(out *structpb.Struct) {
			fmt.Printf("Signed in as %d.\n", num(out, "userId"))
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Disconnect, clear every cache and forget the stored identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(daemon.MethodLogout, nil, func(*structpb.Struct) {
			fmt.Println("Signed out.")
		})
	},
}

var reconnectCmd = &cobra.Command{
	Use:   "reconnect",
	Short: "Reconnect now, resetting the retry counter",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(daemon.MethodReconnect, nil, func(out *structpb.Struct) {
			fmt.Printf("Channel: %s\n", str(out, "state"))
		})
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Refetch conversations, contacts and requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(daemon.MethodReload, nil, func(out *structpb.Struct) {
			fmt.Printf("Conversations: %d\n", num(out, "conversations"))
		})
	},
}
