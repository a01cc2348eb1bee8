package main

import (
	"fmt"
	"os"

	"wallet-engine/internal/config"
	"wallet-engine/internal/logger"
)

const usage = `usage: wallet-engine <command> [flags]

commands:
  serve      run the wallet API (default)
  session    open a wallet session for WALLET_USER_ID
  add-user   create a user record without a wallet`

func main() {
	defer func() {
		if r := recover(); r != nil {
			logger.GetLogger().Error().Interface("panic", r).Msg("Application panicked, recovering")
			os.Exit(1)
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, cfg.LogJSON)

	command, args := "serve", os.Args[1:]
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	switch command {
	case "serve":
		err = runServe(cfg)
	case "session":
		err = runSession(cfg, args)
	case "add-user":
		err = runAddUser(cfg, args)
	case "help", "-h", "--help":
		fmt.Println(usage)
		return
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		logger.GetLogger().Fatal().Err(err).Str("command", command).Msg("Command failed")
	}
}
