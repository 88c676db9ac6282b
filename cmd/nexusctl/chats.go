package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/AngkinV/Nexus-Chat/internal/daemon"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/structpb"
)

var (
	sendKind    string
	sendFileURL string
	toggleOff   bool
)

func init() {
	chatsCmd.AddCommand(chatsListCmd, chatsOpenCmd, chatsPinCmd, chatsMuteCmd)
	rootCmd.AddCommand(chatsCmd, messagesCmd, historyCmd, sendCmd, retryCmd)

	sendCmd.Flags().StringVar(&sendKind, "kind", "text", "message kind: text, image or file")
	sendCmd.Flags().StringVar(&sendFileURL, "file-url", "", "file reference for image and file messages")
	chatsPinCmd.Flags().BoolVar(&toggleOff, "off", false, "clear the flag instead of setting it")
	chatsMuteCmd.Flags().BoolVar(&toggleOff, "off", false, "clear the flag instead of setting it")
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List and manage conversations",
	RunE:  chatsListCmd.RunE,
}

var chatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations in display order",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(daemon.MethodConversations, nil, func(out *structpb.Struct) {
			convs := list(out, "conversations")
			if len(convs) == 0 {
				fmt.Println("No conversations.")
				return
			}
			for _, c := range convs {
				marks := ""
				if boolField(c, "pinned") {
					marks += "*"
				}
				if boolField(c, "muted") {
					marks += "~"
				}
				unread := ""
				if n := num(c, "unread"); n > 0 {
					unread = fmt.Sprintf(" (%d)", n)
				}
				fmt.Printf("%-2s %6d  %-6s %-24s%s  %s\n", marks, num(c, "id"), str(c, "kind"), str(c, "name"), unread, str(c, "lastMessage"))
			}
		})
	},
}

var chatsOpenCmd = &cobra.Command{
	Use:   "open <chat-id>",
	Short: "Make a conversation active, or close it if it already is",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return run(daemon.MethodSetActive, map[string]any{"chatId": id}, func(out *structpb.Struct) {
			if active := num(out, "activeChatId"); active > 0 {
				fmt.Printf("Active chat: %d\n", active)
			} else {
				fmt.Println("No active chat.")
			}
		})
	},
}

var chatsPinCmd = &cobra.Command{
	Use:   "pin <chat-id>",
	Short: "Pin a conversation to the top of the list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggle(daemon.MethodSetPinned, args[0], "pinned")
	},
}

var chatsMuteCmd = &cobra.Command{
	Use:   "mute <chat-id>",
	Short: "Silence notifications for a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggle(daemon.MethodSetMuted, args[0], "muted")
	},
}

func toggle(method, arg, field string) error {
	id, err := parseID(arg)
	if err != nil {
		return err
	}
	return run(method, map[string]any{"chatId": id, "on": !toggleOff}, func(out *structpb.Struct) {
		fmt.Printf("Chat %d %s: %v\n", num(out, "chatId"), field, boolField(out, field))
	})
}

var messagesCmd = &cobra.Command{
	Use:   "messages <chat-id>",
	Short: "Print the cached message log of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return run(daemon.MethodMessages, map[string]any{"chatId": id}, func(out *structpb.Struct) {
			for _, m := range list(out, "messages") {
				who := str(m, "sender")
				if boolField(m, "self") {
					who = "me"
				}
				state := ""
				if s := str(m, "state"); s != "confirmed" {
					state = " [" + s + "]"
				}
				fmt.Printf("%s  %-12s %s%s\n", str(m, "createdAt"), who, str(m, "content"), state)
			}
			var typing []string
			for _, v := range out.GetFields()["typing"].GetListValue().GetValues() {
				typing = append(typing, strconv.FormatInt(int64(v.GetNumberValue()), 10))
			}
			if len(typing) > 0 {
				fmt.Printf("typing: %s\n", strings.Join(typing, ", "))
			}
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <chat-id>",
	Short: "Fetch the next older page of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return run(daemon.MethodLoadHistory, map[string]any{"chatId": id}, func(out *structpb.Struct) {
			if n := num(out, "added"); n > 0 {
				fmt.Printf("Loaded %d older messages.\n", n)
			} else {
				fmt.Println("Start of history reached.")
			}
		})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <chat-id> <text>...",
	Short: "Send a message",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		req := map[string]any{
			"chatId":  id,
			"content": strings.Join(args[1:], " "),
			"kind":    sendKind,
			"fileUrl": sendFileURL,
		}
		return run(daemon.MethodSend, req, func(out *structpb.Struct) {
			fmt.Printf("Queued %s (%s)\n", str(out, "id"), str(out, "state"))
		})
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <chat-id> <message-id>",
	Short: "Resend a failed message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return run(daemon.MethodRetry, map[string]any{"chatId": id, "messageId": args[1]}, func(out *structpb.Struct) {
			fmt.Printf("Resent %s\n", str(out, "messageId"))
		})
	},
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
