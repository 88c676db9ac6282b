package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/AngkinV/Nexus-Chat/internal/daemon"
	"github.com/AngkinV/Nexus-Chat/internal/profile"
	"github.com/AngkinV/Nexus-Chat/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap/zapcore"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	configFlag := flag.String("config", "", "config file (default ~/.nexus/config.toml)")
	userID := flag.Int64("user-id", 0, "sign in as this user id, replacing the stored profile")
	username := flag.String("username", "", "username for --user-id")
	token := flag.String("token", "", "bearer token for REST calls")
	level := zapcore.InfoLevel
	flag.TextVar(&level, "log-level", zapcore.InfoLevel, "log level (debug, info, warn, error)")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	p := daemon.Params{
		Profile:    name,
		ConfigPath: *configFlag,
		LogLevel:   level,
		Token:      *token,
	}
	if *userID > 0 {
		p.Identity = &store.Profile{ID: *userID, Username: *username}
	}

	app := fx.New(
		daemon.Module(p),
	)

	app.Run()
}
