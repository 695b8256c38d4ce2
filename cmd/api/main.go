package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"agenthub.io/internal/auth"
	"agenthub.io/internal/config"
	"agenthub.io/internal/credentials"
	"agenthub.io/internal/envelope"
	"agenthub.io/internal/gate"
	"agenthub.io/internal/httpapi"
	"agenthub.io/internal/mcpoauth"
	"agenthub.io/internal/obs"
	"agenthub.io/internal/ratelimit"
	"agenthub.io/internal/store/pg"
	"agenthub.io/internal/store/redisstore"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		obs.Logger().Fatal("agenthub-api stopped", zap.Error(err))
	}
}

type stores struct {
	auth    auth.Store
	creds   credentials.Store
	catalog credentials.Catalog
	db      *sql.DB
}

func openStores(cfg config.Config) (stores, error) {
	if cfg.PGDSN == "" {
		obs.Logger().Warn("AGENTHUB_PG_DSN not set; using in-memory stores")
		mem := credentials.NewMemoryStore()
		return stores{auth: auth.NewMemoryStore(), creds: mem, catalog: mem}, nil
	}
	st, err := pg.Open(cfg.PGDSN)
	if err != nil {
		return stores{}, err
	}
	return stores{auth: st, creds: st, catalog: st, db: st.DB()}, nil
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := obs.SetLevel(cfg.LogLevel); err != nil {
		obs.Logger().Warn("invalid log level", zap.String("level", cfg.LogLevel), zap.Error(err))
	}
	log := obs.Logger()
	obs.Init()
	obs.InitBuildInfo(version, commit)
	if len(cfg.InsecureDefaults) > 0 {
		log.Warn("running with development secrets", zap.Strings("variables", cfg.InsecureDefaults))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	if st.db != nil {
		defer st.db.Close()
	}

	var (
		rdb             redis.UniversalClient
		revocations     auth.RevocationList = auth.NewMemoryRevocations()
		loginLimiter    ratelimit.Limiter   = ratelimit.NewMemory(cfg.LoginLimit, cfg.LoginWindow)
		registerLimiter ratelimit.Limiter   = ratelimit.NewMemory(cfg.RegisterLimit, cfg.RegisterWindow)
	)
	if cfg.RedisAddr != "" {
		openCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rdb, err = redisstore.Open(openCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		cancel()
		if err != nil {
			return err
		}
		defer rdb.Close()
		revocations = redisstore.NewRevocations(rdb)
		loginLimiter = redisstore.NewLimiter(rdb, cfg.LoginLimit, cfg.LoginWindow)
		registerLimiter = redisstore.NewLimiter(rdb, cfg.RegisterLimit, cfg.RegisterWindow)
	} else {
		log.Warn("AGENTHUB_REDIS_ADDR not set; limiter and revocations are per-process")
	}

	cipher, err := envelope.New(cfg.EncryptionKey)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.JWTRefreshSecret,
		auth.WithAccessTTL(cfg.AccessTokenTTL),
		auth.WithRefreshTTL(cfg.RefreshTokenTTL))
	if err != nil {
		return err
	}
	authSvc, err := auth.NewService(st.auth, tokens,
		auth.WithRevocationList(revocations),
		auth.WithSealer(cipher))
	if err != nil {
		return err
	}
	credSvc, err := credentials.NewService(st.creds, st.catalog, cipher)
	if err != nil {
		return err
	}
	signer, err := mcpoauth.NewStateSigner(cfg.OAuthStateSecret)
	if err != nil {
		return err
	}
	flow, err := mcpoauth.NewFlow(credSvc, signer, cfg.OAuthRedirectURL)
	if err != nil {
		return err
	}
	g := gate.New(tokens)
	ready := httpapi.ReadyProbe{DB: st.db, Redis: rdb}

	api := httpapi.New(httpapi.Deps{
		Auth:            authSvc,
		Credentials:     credSvc,
		Gate:            g,
		OAuth:           flow,
		LoginLimiter:    loginLimiter,
		RegisterLimiter: registerLimiter,
		Ready:           ready,
	}, httpapi.Options{
		Version:      version,
		CORSOrigin:   cfg.CORSOrigin,
		RatePerSec:   cfg.APIRatePerSec,
		RateBurst:    cfg.APIRateBurst,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv := httpapi.NewGRPCServer(g, ready, nil)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		log.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error("server failed", zap.Error(err))
	}
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	grpcSrv.GracefulStop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}
