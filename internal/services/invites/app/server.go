// Package server hosts the invites service: the lifecycle engine, its
// SQLite store and a gRPC endpoint with health checking.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/tabsplit/tabsplit/internal/platform/config"
	"github.com/tabsplit/tabsplit/internal/platform/timeouts"
	"github.com/tabsplit/tabsplit/internal/services/invites/domain/invite"
	"github.com/tabsplit/tabsplit/internal/services/invites/engine"
	"github.com/tabsplit/tabsplit/internal/services/invites/notify"
	invsqlite "github.com/tabsplit/tabsplit/internal/services/invites/storage/sqlite"
)

// serverEnv holds env-parsed configuration for the invites server.
type serverEnv struct {
	DBPath          string        `env:"TABSPLIT_INVITES_DB_PATH"`
	InviteLinkURL   string        `env:"TABSPLIT_INVITE_LINK_BASE_URL"`
	SweepInterval   time.Duration `env:"TABSPLIT_INVITES_SWEEP_INTERVAL"`
	JoinGrantIssuer string        `env:"TABSPLIT_JOIN_GRANT_ISSUER"`
}

func loadServerEnv() serverEnv {
	var cfg serverEnv
	_ = config.ParseEnv(&cfg)
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join("data", "invites.db")
	}
	if cfg.InviteLinkURL == "" {
		cfg.InviteLinkURL = "https://tabsplit.app/join"
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = timeouts.SweepInterval
	}
	return cfg
}

// Server hosts the invites service.
type Server struct {
	listener      net.Listener
	grpcServer    *grpc.Server
	health        *health.Server
	store         *invsqlite.Store
	engine        *engine.Engine
	sweepInterval time.Duration
	closeOnce     sync.Once
}

// New creates a configured invites server listening on the provided port.
func New(port int) (*Server, error) {
	return NewWithAddr(fmt.Sprintf(":%d", port))
}

// NewWithAddr creates a configured invites server listening on the provided
// address.
func NewWithAddr(addr string) (*Server, error) {
	srvEnv := loadServerEnv()

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	store, err := openInviteStore(srvEnv.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	codec, err := invite.LoadTokenCodecFromEnv()
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		// Refuse startup without key material so invite secrets are never
		// minted from an unverifiable key.
		return nil, fmt.Errorf("load invite token keys: %w", err)
	}

	dispatcher, err := notify.NewDispatcher(store, srvEnv.InviteLinkURL)
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, fmt.Errorf("build invite dispatcher: %w", err)
	}

	engineOpts := []engine.Option{engine.WithNotifier(dispatcher)}
	if strings.TrimSpace(srvEnv.JoinGrantIssuer) != "" {
		grants, err := invite.LoadJoinGrantConfigFromEnv(nil)
		if err != nil {
			_ = listener.Close()
			_ = store.Close()
			return nil, fmt.Errorf("load join grant config: %w", err)
		}
		engineOpts = append(engineOpts, engine.WithJoinGrants(grants))
	}

	inviteEngine, err := engine.New(store, store, codec, engineOpts...)
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, fmt.Errorf("build invite engine: %w", err)
	}

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("tabsplit.invites", grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{
		listener:      listener,
		grpcServer:    grpcServer,
		health:        healthServer,
		store:         store,
		engine:        inviteEngine,
		sweepInterval: srvEnv.SweepInterval,
	}, nil
}

// Addr returns the listener address for the invites server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Engine exposes the invite lifecycle engine for in-process callers.
func (s *Server) Engine() *engine.Engine {
	if s == nil {
		return nil
	}
	return s.engine
}

// Run creates and serves an invites server until the context ends.
func Run(ctx context.Context, port int) error {
	server, err := New(port)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// RunWithAddr creates and serves an invites server until the context ends.
func RunWithAddr(ctx context.Context, addr string) error {
	server, err := NewWithAddr(addr)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the invites server and blocks until it stops or context ends.
// A background sweep periodically expires stale pending invites.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go s.runSweepLoop(sweepCtx)

	log.Printf("invites server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		if s.health != nil {
			s.health.Shutdown()
		}
		s.grpcServer.GracefulStop()
		err := <-serveErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}
}

func (s *Server) runSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := s.engine.SweepExpired(ctx)
			if err != nil {
				log.Printf("invite expiry sweep: %v", err)
				continue
			}
			if swept > 0 {
				log.Printf("invite expiry sweep: expired %d invites", swept)
			}
		}
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}

	s.closeOnce.Do(func() {
		if s.health != nil {
			s.health.Shutdown()
		}
		if s.grpcServer != nil {
			s.grpcServer.Stop()
		}
		if s.listener != nil {
			if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				log.Printf("close invites listener: %v", err)
			}
		}
		if s.store != nil {
			if err := s.store.Close(); err != nil {
				log.Printf("close invites store: %v", err)
			}
		}
	})
}

func openInviteStore(path string) (*invsqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := invsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open invites sqlite store: %w", err)
	}
	return store, nil
}
