package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/victornm/chatquiz/internal/api"
	"github.com/victornm/chatquiz/internal/bot"
	"github.com/victornm/chatquiz/internal/chat"
	"github.com/victornm/chatquiz/internal/chat/discord"
	"github.com/victornm/chatquiz/internal/event"
	"github.com/victornm/chatquiz/internal/game"
	"github.com/victornm/chatquiz/internal/gate"
	"github.com/victornm/chatquiz/internal/leaderboard"
	"github.com/victornm/chatquiz/internal/quiz"
	"github.com/victornm/chatquiz/internal/score"
	"github.com/victornm/chatquiz/internal/session"
	"github.com/victornm/chatquiz/internal/telemetry"
)

type Config struct {
	Discord struct {
		Token string
		// Guild restricts the bot to one server. Empty accepts all.
		Guild string
	}

	Bot struct {
		Prefix         string
		QuizMasterRole string
		ChannelKeyword string
	}

	Quiz struct {
		FallbackDir string
	}

	Wait struct {
		// Timeout bounds every wait for a human. Zero waits forever.
		Timeout time.Duration
	}

	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Redis struct {
		Leaderboard struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Archive struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}
}

// DefaultConfig is the configuration used for everything the config file and
// environment leave unset.
func DefaultConfig() Config {
	var c Config
	c.Bot.Prefix = bot.DefaultPrefix
	c.Bot.QuizMasterRole = bot.DefaultQuizMasterRole
	c.Bot.ChannelKeyword = bot.DefaultChannelKeyword
	c.Quiz.FallbackDir = "quizzes"
	c.HTTP.Port = 8080
	c.GRPC.Port = 8081
	c.Redis.Leaderboard.Prefix = "chatquiz"
	c.Redis.Pubsub.Prefix = "chatquiz"
	return c
}

type Server struct {
	c Config

	eb  *event.Bus
	hub *chat.Hub

	infra struct {
		discord *discord.Transport

		redis struct {
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
		}

		postgres struct {
			archive *pgxpool.Pool
		}
	}

	service struct {
		session     *session.Session
		game        *game.Service
		bot         *bot.Bot
		leaderboard *leaderboard.Service
		archive     *score.Archive
	}

	http *http.Server
	grpc *grpc.Server
}

// Init builds the server and connects to Discord and the configured stores.
func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()
	s.hub = chat.NewHub()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initAPI()

	// Events only flow once everything they reach is in place.
	if err := s.infra.discord.Open(); err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	return s, nil
}

func (s *Server) initInfra() error {
	var err error
	s.infra.discord, err = discord.New(discord.Config{
		Token:    s.c.Discord.Token,
		Handlers: []discord.Handler{s.onChatEvent},
	})
	if err != nil {
		return err
	}

	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		if len(addrs) == 0 {
			return nil, nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.leaderboard, err = connect(s.c.Redis.Leaderboard.Addrs, s.c.Redis.Leaderboard.Pass)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() (err error) {
	connect := func(addr, user, pass, name string) (*pgxpool.Pool, error) {
		if addr == "" {
			return nil, nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", user, pass, addr, name))
		if err != nil {
			return nil, err
		}

		db, err := pgxpool.NewWithConfig(ctx, cc)
		if err != nil {
			return nil, err
		}

		if err := db.Ping(ctx); err != nil {
			return nil, err
		}

		return db, nil
	}

	a := s.c.Postgres.Archive
	s.infra.postgres.archive, err = connect(a.Addr, a.User, a.Pass, a.Name)
	if err != nil {
		return fmt.Errorf("postgres: archive: %w", err)
	}

	return nil
}

func (s *Server) initService() error {
	tr := s.infra.discord

	s.service.session = session.New(session.Config{
		EventBus: s.eb,
	})

	s.service.game = game.NewService(game.Config{
		Session:   s.service.session,
		Transport: tr,
		Hub:       s.hub,
		Gate: gate.New(gate.Config{
			Transport: tr,
			Hub:       s.hub,
			Timeout:   s.c.Wait.Timeout,
		}),
		Quizzes:  quiz.NewLoader(s.c.Quiz.FallbackDir),
		EventBus: s.eb,
	})

	s.service.bot = bot.New(bot.Config{
		Transport:      tr,
		Game:           s.service.game,
		Session:        s.service.session,
		Prefix:         s.c.Bot.Prefix,
		QuizMasterRole: s.c.Bot.QuizMasterRole,
		ChannelKeyword: s.c.Bot.ChannelKeyword,
	})

	if r := s.infra.redis.leaderboard; r != nil {
		s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
			EventBus: s.eb,
			Redis:    r,
			Prefix:   s.c.Redis.Leaderboard.Prefix,
		})
	}

	if db := s.infra.postgres.archive; db != nil {
		s.service.archive = score.NewArchive(score.ArchiveConfig{
			EventBus: s.eb,
			DB:       db,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.service.archive.Migrate(ctx); err != nil {
			return err
		}
	}

	return nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor())

	c := api.Config{
		GRPC:         s.grpc,
		HTTP:         e,
		EventBus:     s.eb,
		Session:      s.service.session,
		Leaderboard:  s.service.leaderboard,
		Archive:      s.service.archive,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	}
	if s.infra.redis.pubsub != nil {
		c.Redis = s.infra.redis.pubsub
	}
	api.New(c)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

// onChatEvent feeds every inbound event to the hub first, so waiting flows see
// it, and then to the command router.
func (s *Server) onChatEvent(ctx context.Context, e chat.Event) {
	if s.c.Discord.Guild != "" && !e.Direct && e.GuildID != s.c.Discord.Guild {
		return
	}

	s.hub.Dispatch(e)
	s.service.bot.Handle(ctx, e)
}

func (s *Server) Start() {
	ctx := context.TODO()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.infra.discord.Close(); err != nil {
		slog.ErrorContext(ctx, "server: close discord failed", "error", err)
	}

	// Stops a quiz that is still waiting for someone.
	if err := s.service.session.Abort(ctx); err != nil && !errors.Is(err, session.ErrIdle) {
		slog.ErrorContext(ctx, "server: abort waiting flow failed", "error", err)
	}

	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()

	for _, r := range []redis.UniversalClient{s.infra.redis.leaderboard, s.infra.redis.pubsub} {
		if r != nil {
			_ = r.Close()
		}
	}
	if db := s.infra.postgres.archive; db != nil {
		db.Close()
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
