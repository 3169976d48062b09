package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/tradepost/chat-service/internal/auth"
	"github.com/tradepost/chat-service/internal/chat"
	"github.com/tradepost/chat-service/internal/config"
	"github.com/tradepost/chat-service/internal/messaging"
	"github.com/tradepost/chat-service/internal/metrics"
	"github.com/tradepost/chat-service/internal/obs"
	"github.com/tradepost/chat-service/internal/presence"
	"github.com/tradepost/chat-service/internal/protocol"
	"github.com/tradepost/chat-service/internal/ratelimit"
	"github.com/tradepost/chat-service/internal/readstate"
	"github.com/tradepost/chat-service/internal/room"
	"github.com/tradepost/chat-service/internal/session"
	"github.com/tradepost/chat-service/internal/store"
	"github.com/tradepost/chat-service/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	logger := obs.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	// --- PostgreSQL (store of record) ---
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		slog.Error("failed to open postgres", "err", err)
		os.Exit(1)
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		slog.Error("failed to connect to postgres", "err", err)
		os.Exit(1)
	}
	if err := store.Migrate(db); err != nil {
		slog.Error("failed to migrate schema", "err", err)
		os.Exit(1)
	}
	convStore := store.New(db)

	// --- Redis (auth tokens, session mirror, watermarks, rate limits) ---
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		slog.Error("failed to connect to redis", "err", err)
		os.Exit(1)
	}

	// --- NATS (cross-instance fan-out) ---
	relayConfig := messaging.DefaultRelayConfig()
	relayConfig.URL = cfg.NatsURL
	relayConfig.Name = "chatserver-" + cfg.ServerName
	relayConfig.Origin = cfg.ServerName
	relay, err := messaging.NewRelay(relayConfig)
	if err != nil {
		slog.Error("failed to connect to NATS", "err", err)
		os.Exit(1)
	}

	rooms := room.NewRegistry()
	fanout := &messaging.Fanout{Local: rooms, Relay: relay}
	pipeline := chat.NewPipeline(convStore, fanout, logger)
	marks := readstate.NewStore(rdb)
	propagator := readstate.NewPropagator(marks, convStore, fanout, logger)
	tracker := presence.NewTracker(cfg.TypingTimeout)
	limiter := ratelimit.NewLimiter(rdb)
	manager := session.NewManager()
	mirror := session.NewMirror(rdb, cfg.ServerName)
	resolver := auth.NewRedisResolver(rdb)

	serverConfig := ws.DefaultServerConfig()
	serverConfig.ListenAddr = cfg.ListenAddr
	serverConfig.WorkerPoolSize = cfg.WorkerPoolSize
	serverConfig.MaxConnections = cfg.MaxConnections
	serverConfig.ReadTimeout = cfg.ReadTimeout
	serverConfig.WriteTimeout = cfg.WriteTimeout

	slog.Info("listing chat server starting",
		"listen_addr", cfg.ListenAddr,
		"metrics_addr", cfg.MetricsAddr,
		"server_name", cfg.ServerName,
		"worker_pool", cfg.WorkerPoolSize,
		"max_connections", cfg.MaxConnections,
		"typing_timeout", cfg.TypingTimeout,
		"redis_addr", cfg.RedisAddr,
		"nats_url", cfg.NatsURL)

	done := make(chan struct{})

	// respondError reports an intent-level failure back to the originating
	// connection. Per the propagation policy these never close the connection.
	respondError := func(conn *ws.Connection, code, message string) {
		data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
			Code:    code,
			Message: message,
		})
		if err != nil {
			slog.Error("failed to build error message", "session_id", conn.ID, "err", err)
			return
		}
		_ = conn.WriteMessage(data)
	}

	respondPipelineError := func(conn *ws.Connection, err error) {
		respondError(conn, chat.ErrorCode(err), err.Error())
	}

	// requireSession returns the live authenticated session for a connection,
	// or reports not_authenticated and returns nil.
	requireSession := func(conn *ws.Connection) *session.Session {
		sess := manager.Get(conn.ID)
		if sess == nil || !sess.Authenticated() {
			respondError(conn, "not_authenticated", "authenticate before sending intents")
			return nil
		}
		return sess
	}

	// broadcastTypingChanged tells the room that a user's typing flag flipped.
	broadcastTypingChanged := func(conversationID, userID string, isTyping bool) {
		data, err := protocol.NewServerMessage(protocol.TypeTypingChanged, protocol.TypingChangedMsg{
			ConversationID: conversationID,
			UserID:         userID,
			IsTyping:       isTyping,
		})
		if err != nil {
			slog.Error("failed to build typing_changed", "conversation_id", conversationID, "err", err)
			return
		}
		fanout.Broadcast(conversationID, data)
		metrics.TypingActive.Set(float64(tracker.ActiveCount()))
	}

	dispatcher := ws.NewMessageDispatcher(nil)

	// -----------------------------------------------------------------------
	// join_conversation — subscribe to a room and replay history
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeJoinConversation, func(conn *ws.Connection, msg interface{}) {
		joinMsg, ok := msg.(protocol.JoinConversationMsg)
		if !ok {
			return
		}
		sess := requireSession(conn)
		if sess == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		convID := joinMsg.ConversationID
		if err := pipeline.Authorize(ctx, convID, sess.UserID()); err != nil {
			respondPipelineError(conn, err)
			return
		}

		// Register with the room before reading history: a message landing in
		// between is then broadcast to this session, and the overlap with the
		// replay is resolved by client-side message-ID dedup. The other order
		// leaves a window where a message is in neither. Membership dedup: a
		// second join is a no-op on the room but still gets its replay below.
		if rooms.Join(convID, sess) {
			if _, err := sess.Join(convID); err != nil {
				rooms.Leave(convID, sess.ID())
				respondPipelineError(conn, err)
				return
			}
			if err := relay.Subscribe(convID, sess.ID(), func(data []byte) {
				rooms.Broadcast(convID, data)
			}); err != nil {
				slog.Warn("relay subscribe failed", "conversation_id", convID, "err", err)
			}
			metrics.RoomMemberships.Inc()

			// Disconnect cleanup may have run while registration was in
			// flight; if the session died, undo our registration so nothing
			// is left owned by a closed session. Both undo calls are
			// idempotent against the cleanup having done them already.
			if !sess.Authenticated() {
				if rooms.Leave(convID, sess.ID()) {
					metrics.RoomMemberships.Dec()
				}
				_ = relay.Unsubscribe(convID, sess.ID())
				return
			}
		}

		msgs, err := pipeline.History(ctx, convID, sess.UserID())
		if err != nil {
			respondPipelineError(conn, err)
			return
		}

		records := make([]protocol.MessageRecord, len(msgs))
		for i, m := range msgs {
			records[i] = protocol.MessageRecord{
				ID:       m.ID,
				SenderID: m.SenderID,
				Body:     m.Body,
				Seq:      m.Seq,
				Ts:       m.CreatedAt.UnixMilli(),
			}
		}
		data, err := protocol.NewServerMessage(protocol.TypeHistory, protocol.HistoryMsg{
			ConversationID: joinMsg.ConversationID,
			Messages:       records,
		})
		if err != nil {
			slog.Error("failed to build history", "conversation_id", joinMsg.ConversationID, "err", err)
			return
		}
		if err := conn.WriteMessage(data); err != nil {
			slog.Debug("failed to send history", "session_id", conn.ID, "err", err)
		}

		_ = mirror.Touch(ctx, sess.ID())
		slog.Info("join_conversation",
			"session_id", sess.ID(), "user_id", sess.UserID(),
			"conversation_id", joinMsg.ConversationID, "history_len", len(records))
	})

	// -----------------------------------------------------------------------
	// leave_conversation — unsubscribe from a room
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeLeaveConversation, func(conn *ws.Connection, msg interface{}) {
		leaveMsg, ok := msg.(protocol.LeaveConversationMsg)
		if !ok {
			return
		}
		sess := requireSession(conn)
		if sess == nil {
			return
		}

		if rooms.Leave(leaveMsg.ConversationID, sess.ID()) {
			sess.Leave(leaveMsg.ConversationID)
			_ = relay.Unsubscribe(leaveMsg.ConversationID, sess.ID())
			metrics.RoomMemberships.Dec()
		}
		if tracker.Clear(leaveMsg.ConversationID, sess.UserID()) {
			broadcastTypingChanged(leaveMsg.ConversationID, sess.UserID(), false)
		}

		slog.Info("leave_conversation",
			"session_id", sess.ID(), "conversation_id", leaveMsg.ConversationID)
	})

	// -----------------------------------------------------------------------
	// send_message — validate, persist, fan out
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeSendMessage, func(conn *ws.Connection, msg interface{}) {
		sendMsg, ok := msg.(protocol.SendMessageMsg)
		if !ok {
			return
		}
		sess := requireSession(conn)
		if sess == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if allowed, _ := limiter.Allow(ctx, sess.UserID(), ratelimit.RuleMessage); !allowed {
			metrics.MessagesTotal.WithLabelValues("rate_limited").Inc()
			respondError(conn, "rate_limited", "too many messages, slow down")
			return
		}

		start := time.Now()
		persisted, err := pipeline.Send(ctx, chat.SendIntent{
			ConversationID: sendMsg.ConversationID,
			ListingID:      sendMsg.ListingID,
			To:             sendMsg.To,
			SenderID:       sess.UserID(),
			Body:           sendMsg.Body,
		})
		if err != nil {
			metrics.MessagesTotal.WithLabelValues("rejected").Inc()
			respondPipelineError(conn, err)
			return
		}
		metrics.MessagesTotal.WithLabelValues("sent").Inc()
		metrics.SendLatency.Observe(time.Since(start).Seconds())

		// Sending clears the sender's typing flag.
		if tracker.Clear(persisted.ConversationID, sess.UserID()) {
			broadcastTypingChanged(persisted.ConversationID, sess.UserID(), false)
		}

		_ = mirror.Touch(ctx, sess.ID())
		slog.Info("send_message",
			"session_id", sess.ID(), "user_id", sess.UserID(),
			"conversation_id", persisted.ConversationID,
			"message_id", persisted.ID, "seq", persisted.Seq)
	})

	// -----------------------------------------------------------------------
	// typing_start / typing_stop — ephemeral typing indicator
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeTypingStart, func(conn *ws.Connection, msg interface{}) {
		typingMsg, ok := msg.(protocol.TypingStartMsg)
		if !ok {
			return
		}
		sess := requireSession(conn)
		if sess == nil {
			return
		}
		if tracker.Set(typingMsg.ConversationID, sess.UserID(), true) {
			broadcastTypingChanged(typingMsg.ConversationID, sess.UserID(), true)
		}
	})

	dispatcher.Register(protocol.TypeTypingStop, func(conn *ws.Connection, msg interface{}) {
		typingMsg, ok := msg.(protocol.TypingStopMsg)
		if !ok {
			return
		}
		sess := requireSession(conn)
		if sess == nil {
			return
		}
		if tracker.Set(typingMsg.ConversationID, sess.UserID(), false) {
			broadcastTypingChanged(typingMsg.ConversationID, sess.UserID(), false)
		}
	})

	// -----------------------------------------------------------------------
	// read — advance the read watermark and notify the room
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeRead, func(conn *ws.Connection, msg interface{}) {
		readMsg, ok := msg.(protocol.ReadMsg)
		if !ok {
			return
		}
		sess := requireSession(conn)
		if sess == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		ts, err := propagator.MarkRead(ctx, readMsg.ConversationID, sess.UserID())
		if err != nil {
			respondPipelineError(conn, err)
			return
		}
		slog.Debug("read",
			"session_id", sess.ID(), "user_id", sess.UserID(),
			"conversation_id", readMsg.ConversationID, "ts", ts)
	})

	server := ws.NewServer(serverConfig, resolver, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	// Admission control: per-IP connection attempts.
	server.SetConnectGate(func(remoteIP string) bool {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		allowed, _ := limiter.Allow(ctx, remoteIP, ratelimit.RuleConnect)
		return allowed
	})

	// Session creation: runs after credential resolution, before the first
	// intent can arrive.
	server.SetOnConnect(func(conn *ws.Connection) {
		sess := manager.Create(conn.ID, conn)
		if err := sess.Authenticate(conn.UserID); err != nil {
			slog.Error("session authenticate failed", "session_id", conn.ID, "err", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := mirror.Create(ctx, conn.ID, conn.UserID); err != nil {
			slog.Warn("session mirror create failed", "session_id", conn.ID, "err", err)
		}
		metrics.ConnectionsActive.Inc()
	})

	// Disconnect cleanup: evict from every room, clear typing state, release
	// relay subscriptions. Manager.Remove is first-wins, so this runs exactly
	// once per session no matter how many times disconnect is signaled. The
	// room registry is the authority on what to clean up: EvictSession catches
	// a membership added by an in-flight join even when it never reached the
	// session's own join set.
	server.SetOnDisconnect(func(connID string) {
		sess, ok := manager.Remove(connID)
		if !ok {
			return
		}
		metrics.ConnectionsActive.Dec()

		userID := sess.UserID()
		sess.Close()
		for _, conversationID := range rooms.EvictSession(sess.ID()) {
			metrics.RoomMemberships.Dec()
			_ = relay.Unsubscribe(conversationID, sess.ID())
			if tracker.Clear(conversationID, userID) {
				broadcastTypingChanged(conversationID, userID, false)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := mirror.Delete(ctx, connID); err != nil {
			slog.Warn("session mirror delete failed", "session_id", connID, "err", err)
		}

		slog.Info("disconnect cleanup complete", "session_id", connID, "user_id", userID)
	})

	// Typing flags with no stop event expire via the sweeper.
	presence.StartSweeper(tracker, time.Second, done, func(e presence.Entry) {
		broadcastTypingChanged(e.ConversationID, e.UserID, false)
	})

	// Prometheus metrics on a separate listener.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			slog.Error("metrics listener failed", "err", err)
		}
	}()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, initiating graceful shutdown", "signal", sig.String())
		close(done)
		if err := server.Shutdown(); err != nil {
			slog.Warn("shutdown error", "err", err)
		}
		relay.Close()
		if err := rdb.Close(); err != nil {
			slog.Warn("redis close error", "err", err)
		}
		if err := db.Close(); err != nil {
			slog.Warn("postgres close error", "err", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
