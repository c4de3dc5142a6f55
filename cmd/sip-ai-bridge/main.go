// Command sip-ai-bridge runs the SIP-to-realtime-AI media bridge: it
// accepts inbound SIP calls, negotiates audio codecs, and pipes the
// call's RTP audio to and from a conversational AI realtime WebSocket
// endpoint for the lifetime of the call.
//
// Adapted from the teacher's cmd/sip-tg-bridge/main.go: the Telegram
// client/bridge wiring is replaced with the AI realtime client (C7) and
// the notify webhook (C11); the SIP UA/transport/codec/service setup
// follows the teacher almost unchanged.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/emiago/diago"
	"github.com/emiago/sipgo"

	"sipaibridge/internal/asynclog"
	"sipaibridge/internal/call"
	"sipaibridge/internal/config"
	"sipaibridge/internal/notify"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}

	logHandler := asynclog.NewHandler(ctx, slog.NewTextHandler(os.Stdout, nil))
	logger := slog.New(logHandler)
	slog.SetDefault(logger)
	defer logHandler.Close()

	ua, err := sipgo.NewUA()
	if err != nil {
		logger.Error("sip ua init failed", "error", err)
		os.Exit(1)
	}

	udpTransport := diago.Transport{
		Transport:    "udp",
		BindHost:     "0.0.0.0",
		BindPort:     cfg.SIP.BindPort,
		ExternalHost: cfg.SIP.ExternalIP,
	}
	tcpTransport := diago.Transport{
		Transport:    "tcp",
		BindHost:     "0.0.0.0",
		BindPort:     cfg.SIP.BindPort,
		ExternalHost: cfg.SIP.ExternalIP,
	}

	sipUA := diago.NewDiago(ua,
		diago.WithTransport(udpTransport),
		diago.WithTransport(tcpTransport),
		diago.WithLogger(logger),
		diago.WithMediaConfig(diago.MediaConfig{
			Codecs: call.CodecOffer(cfg),
		}),
	)

	notifier := notify.New(cfg.Notify.WebhookURL, logger)

	handler := call.New(cfg, sipUA, logger, notifier)

	logger.Info("sip-ai-bridge: starting",
		"bind_port", cfg.SIP.BindPort,
		"sip_server", cfg.SIP.Server,
		"sip_user", cfg.SIP.User,
		"ai_mode", cfg.AI.Mode)

	if err := handler.Start(ctx); err != nil && ctx.Err() == nil {
		logger.Error("bridge stopped with error", "error", err)
		os.Exit(1)
	}

	logger.Info("sip-ai-bridge: shutdown complete")
}
