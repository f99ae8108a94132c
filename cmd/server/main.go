package main

import (
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/driftchat/drift/internal/coordinator"
	"github.com/driftchat/drift/internal/protocol"
	"github.com/driftchat/drift/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	coordConfig := coordinator.DefaultConfig()
	if v := os.Getenv("MESSAGE_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			coordConfig.MessageCooldown = d
		}
	}
	if v := os.Getenv("MAX_MESSAGE_CHARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			coordConfig.MaxMessageChars = n
		}
	}

	log.Printf("Drift coordinator starting")
	log.Printf("  listen_addr:      %s", config.ListenAddr)
	log.Printf("  worker_pool:      %d", config.WorkerPoolSize)
	log.Printf("  max_connections:  %d", config.MaxConnections)
	log.Printf("  read_timeout:     %s", config.ReadTimeout)
	log.Printf("  write_timeout:    %s", config.WriteTimeout)
	log.Printf("  message_cooldown: %s", coordConfig.MessageCooldown)
	log.Printf("  max_message_len:  %d chars", coordConfig.MaxMessageChars)

	dispatcher := ws.NewMessageDispatcher()
	server := ws.NewServer(config, dispatcher.Dispatch)
	coord := coordinator.New(coordConfig, server)

	server.SetOnConnect(coord.Connect)
	server.SetOnDisconnect(coord.Disconnect)

	// -----------------------------------------------------------------------
	// Lifecycle
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeSetNickname, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.SetNicknameMsg)
		if !ok {
			return
		}
		coord.SetNickname(conn.ID, m.Name)
	})

	dispatcher.Register(protocol.TypeStart, func(conn *ws.Connection, msg interface{}) {
		coord.Start(conn.ID)
	})

	dispatcher.Register(protocol.TypeNext, func(conn *ws.Connection, msg interface{}) {
		coord.Next(conn.ID)
	})

	// -----------------------------------------------------------------------
	// Chat
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeMessage, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.ChatMsg)
		if !ok {
			return
		}
		coord.Message(conn.ID, m.Text, m.Kind, m.Image)
	})

	dispatcher.Register(protocol.TypeTyping, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.TypingMsg)
		if !ok {
			return
		}
		coord.Typing(conn.ID, m.IsTyping)
	})

	dispatcher.Register(protocol.TypeReport, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.ReportMsg)
		if !ok {
			return
		}
		coord.Report(conn.ID, m.Reason)
	})

	// -----------------------------------------------------------------------
	// Call signaling, relayed verbatim to the partner
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeVideoCallRequest, func(conn *ws.Connection, msg interface{}) {
		coord.CallRequest(conn.ID)
	})

	dispatcher.Register(protocol.TypeVideoCallResponse, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.VideoCallResponseMsg)
		if !ok {
			return
		}
		coord.CallResponse(conn.ID, m.Accepted)
	})

	dispatcher.Register(protocol.TypeVideoCallEnd, func(conn *ws.Connection, msg interface{}) {
		coord.CallEnd(conn.ID)
	})

	dispatcher.Register(protocol.TypeWebRTCOffer, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.WebRTCOfferMsg)
		if !ok {
			return
		}
		coord.RelayOffer(conn.ID, m.Offer)
	})

	dispatcher.Register(protocol.TypeWebRTCAnswer, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.WebRTCAnswerMsg)
		if !ok {
			return
		}
		coord.RelayAnswer(conn.ID, m.Answer)
	})

	dispatcher.Register(protocol.TypeWebRTCICE, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.WebRTCICEMsg)
		if !ok {
			return
		}
		coord.RelayICECandidate(conn.ID, m.Candidate)
	})

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
