package main

import (
	"fmt"

	"github.com/AngkinV/Nexus-Chat/internal/daemon"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/structpb"
)

var addMessage string

func init() {
	contactsCmd.AddCommand(contactsAddCmd, contactsAcceptCmd, contactsRejectCmd)
	rootCmd.AddCommand(contactsCmd)

	contactsAddCmd.Flags().StringVarP(&addMessage, "message", "m", "", "note attached to the request")
}

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "List contacts and pending requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(daemon.MethodContacts, nil, func(out *structpb.Struct) {
			contacts := list(out, "contacts")
			if len(contacts) == 0 {
				fmt.Println("No contacts.")
			}
			for _, c := range contacts {
				online := "offline"
				if boolField(c, "isOnline") {
					online = "online"
				}
				fmt.Printf("%6d  %-20s %-20s %s\n", num(c, "userId"), str(c, "username"), str(c, "nickname"), online)
			}
			if in := list(out, "inbound"); len(in) > 0 {
				fmt.Printf("\nIncoming requests (%d):\n", num(out, "pendingCount"))
				for _, r := range in {
					fmt.Printf("  #%d from %d %s  %s\n", num(r, "id"), num(r, "from"), str(r, "nickname"), str(r, "message"))
				}
			}
			if sent := list(out, "outbound"); len(sent) > 0 {
				fmt.Println("\nSent requests:")
				for _, r := range sent {
					fmt.Printf("  #%d to %d  %s\n", num(r, "id"), num(r, "to"), str(r, "status"))
				}
			}
		})
	},
}

var contactsAddCmd = &cobra.Command{
	Use:   "add <user-id>",
	Short: "Add a contact, or send a request when the peer requires one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return run(daemon.MethodAddContact, map[string]any{"userId": id, "message": addMessage}, func(out *structpb.Struct) {
			if str(out, "result") == "direct" {
				fmt.Printf("Added %d.\n", id)
			} else {
				fmt.Printf("Request sent to %d.\n", id)
			}
		})
	},
}

var contactsAcceptCmd = &cobra.Command{
	Use:   "accept <request-id>",
	Short: "Accept an incoming request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return answer(daemon.MethodAccept, args[0], "Accepted")
	},
}

var contactsRejectCmd = &cobra.Command{
	Use:   "reject <request-id>",
	Short: "Reject an incoming request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return answer(daemon.MethodReject, args[0], "Rejected")
	},
}

func answer(method, arg, verb string) error {
	id, err := parseID(arg)
	if err != nil {
		return err
	}
	return run(method, map[string]any{"requestId": id}, func(out *structpb.Struct) {
		fmt.Printf("%s request #%d.\n", verb, num(out, "requestId"))
	})
}
