package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"wallet-engine/internal/apiclient"
	"wallet-engine/internal/chain"
	"wallet-engine/internal/config"
	"wallet-engine/internal/emitters"
	"wallet-engine/internal/events"
	"wallet-engine/internal/logger"
	"wallet-engine/internal/models"
	"wallet-engine/internal/session"
	"wallet-engine/internal/transfer"
)

// runSession drives a wallet session the way the wallet view does: load or
// create the wallet, track the balance, show history and send a transfer.
func runSession(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("session", flag.ContinueOnError)
	to := fs.String("to", "", "recipient address of a transfer")
	amount := fs.String("amount", "", "ether amount of a transfer")
	showHistory := fs.Bool("history", false, "print the transfer history")
	watch := fs.Bool("watch", false, "keep tracking the wallet until interrupted")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if cfg.Session.UserID == "" {
		return errors.New("WALLET_USER_ID must be set")
	}

	log := logger.Component("session")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := apiclient.New(cfg.Session.APIBaseURL, cfg.Session.UserID, cfg.MaxRetries, cfg.RetryDelay, cfg.HTTP.Timeout, logger.Component("apiclient"))

	user, err := api.Account(ctx)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}

	ethClient, err := chain.Dial(ctx, cfg.Chain, cfg.HTTP.Timeout, logger.Component("chain"))
	if err != nil {
		return err
	}
	defer ethClient.Close()

	emitter := &events.PrintEmitter{}
	if cfg.Kafka.Enabled {
		kafkaEmitter := emitters.NewKafkaEmitter(cfg.Kafka)
		defer kafkaEmitter.Close()
		emitter.WrappedEmitter = kafkaEmitter
	}

	s := session.New(session.Deps{
		Chain:       ethClient,
		Provisioner: api,
		History:     api,
		Emitter:     emitter,
		Session:     cfg.Session,
		ChainCfg:    cfg.Chain,
		MaxRetries:  cfg.MaxRetries,
		RetryDelay:  cfg.RetryDelay,
		Logger:      logger.Component("wallet"),
	})
	defer s.Close()

	s.OnWarning = func(err error) {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	s.OnBalance = func(snap models.BalanceSnapshot) {
		fmt.Printf("balance: %s ETH (nonce %d)\n", snap.Ether, snap.Nonce)
	}
	s.OnHistory = func(t models.Transfers, err error) {
		if err != nil {
			log.Warn().Err(err).Msg("History refresh failed")
			return
		}
		log.Debug().Int("incoming", len(t.Incoming)).Int("outgoing", len(t.Outgoing)).Msg("History refreshed")
	}

	if err := s.Open(ctx, *user); err != nil {
		return err
	}
	fmt.Printf("wallet: %s\n", s.Wallet().Address().Hex())

	if *showHistory {
		if err := s.OpenHistory(ctx); err != nil {
			return err
		}
		printHistory(s)
	}

	if *to != "" || *amount != "" {
		res, err := s.Transfer(ctx, models.TransferRequest{Recipient: *to, Amount: *amount})
		if err != nil {
			fmt.Fprintf(os.Stderr, "transfer failed: %s\n", transfer.UserMessage(err))
			log.Debug().Err(err).Msg("Transfer failure detail")
		} else {
			fmt.Printf("Transaction successful! %s\n", res.ExplorerURL)
		}
	}

	if *watch {
		<-ctx.Done()
	}
	return nil
}

func printHistory(s *session.Session) {
	snap, err := s.History()
	if err != nil {
		return
	}
	if snap.Err != nil {
		fmt.Fprintf(os.Stderr, "history unavailable, retry later: %v\n", snap.Err)
		return
	}

	address := s.Wallet().Address().Hex()
	for _, list := range [][]models.TransferRecord{snap.Transfers.Incoming, snap.Transfers.Outgoing} {
		for _, r := range list {
			value := "?"
			if r.Value != nil {
				value = fmt.Sprintf("%g", *r.Value)
			}
			fmt.Printf("%-8s %s %s %s %s -> %s\n", r.Direction(address), r.Hash, value, r.Asset, r.From, r.To)
		}
	}
}
