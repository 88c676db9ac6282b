package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/AngkinV/Nexus-Chat/internal/daemon"
	"github.com/AngkinV/Nexus-Chat/internal/profile"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

var (
	profileFlag string
	jsonOutput  bool
	timeout     time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "nexusctl",
	Short:         "Control a running nexusd daemon",
	Long:          "Command-line control for the Nexus chat sync daemon.\nInspect the cache, send messages and manage the session of one profile.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		profileFlag = profile.Resolve(profileFlag)
		return profile.ValidateName(profileFlag)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&profileFlag, "profile", "", "profile name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "call timeout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// call dials the profile's daemon and invokes one control method.
func call(method string, args map[string]any) (*structpb.Struct, error) {
	c, err := daemon.Dial(profile.SocketPath(profileFlag))
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	out, err := c.Call(ctx, method, args)
	if err != nil {
		return nil, fmt.Errorf("%s (profile %q): %w", method, profileFlag, err)
	}
	return out, nil
}

// run calls method and prints the reply, as JSON or through text.
func run(method string, args map[string]any, text func(*structpb.Struct)) error {
	out, err := call(method, args)
	if err != nil {
		return err
	}
	if jsonOutput || text == nil {
		return printJSON(out)
	}
	text(out)
	return nil
}

func printJSON(out *structpb.Struct) error {
	data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(out)
	if err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func str(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func num(s *structpb.Struct, key string) int64 {
	return int64(s.GetFields()[key].GetNumberValue())
}

func boolField(s *structpb.Struct, key string) bool {
	return s.GetFields()[key].GetBoolValue()
}

func list(s *structpb.Struct, key string) []*structpb.Struct {
	var out []*structpb.Struct
	for _, v := range s.GetFields()[key].GetListValue().GetValues() {
		out = append(out, v.GetStructValue())
	}
	return out
}
