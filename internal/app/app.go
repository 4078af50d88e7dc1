// Package app wires configuration, storage and the HTTP surface into a server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/moodmash/authcore/internal/auth"
	"github.com/moodmash/authcore/internal/challenge"
	"github.com/moodmash/authcore/internal/config"
	"github.com/moodmash/authcore/internal/db"
	"github.com/moodmash/authcore/internal/http/api/front"
	"github.com/moodmash/authcore/internal/logging"
	"github.com/moodmash/authcore/internal/mfa"
	"github.com/moodmash/authcore/internal/passkey"
	"github.com/moodmash/authcore/internal/ratelimit"
	"github.com/moodmash/authcore/internal/security"
	"github.com/moodmash/authcore/internal/store"
	"github.com/moodmash/authcore/internal/tokens"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const tokenPurgeInterval = 10 * time.Minute

// Migrate opens the database, runs migrations and closes the connection.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	defer closeDB(conn)
	return db.Migrate(conn.WithContext(ctx))
}

// Components is the assembled service graph.
type Components struct {
	DB      *gorm.DB
	Redis   redis.UniversalClient
	Limiter *ratelimit.Manager
	Tokens  *tokens.Service
	Auth    *auth.Service
}

// Close releases the redis client.
func (c *Components) Close() {
	if c == nil {
		return
	}
	if c.Redis != nil {
		if errClose := c.Redis.Close(); errClose != nil {
			log.WithError(errClose).Warn("close redis client")
		}
	}
	closeDB(c.DB)
}

func closeDB(conn *gorm.DB) {
	if conn == nil {
		return
	}
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		log.WithError(errDB).Warn("resolve database handle")
		return
	}
	if errClose := sqlDB.Close(); errClose != nil {
		log.WithError(errClose).Warn("close database")
	}
}

// Build loads every config section and assembles the service graph.
func Build(ctx context.Context, configPath string) (*Components, error) {
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return nil, err
	}
	jwtCfg, err := config.LoadJWTConfig(configPath)
	if err != nil {
		return nil, err
	}
	redisCfg, err := config.LoadRedisConfig(configPath)
	if err != nil {
		return nil, err
	}
	webAuthnCfg, err := config.LoadWebAuthnConfig(configPath)
	if err != nil {
		return nil, err
	}
	mfaCfg, err := config.LoadMFAConfig(configPath)
	if err != nil {
		return nil, err
	}
	tokenCfg, err := config.LoadTokenConfig(configPath)
	if err != nil {
		return nil, err
	}
	rateCfg, err := config.LoadRateLimitConfig(configPath)
	if err != nil {
		return nil, err
	}

	wa, err := security.NewWebAuthn(webAuthnCfg)
	if err != nil {
		return nil, err
	}

	conn, err := db.Open(dsn)
	if err != nil {
		return nil, err
	}
	if errMigrate := db.Migrate(conn.WithContext(ctx)); errMigrate != nil {
		closeDB(conn)
		return nil, errMigrate
	}
	s := store.New(conn)

	var (
		rdb        redis.UniversalClient
		shared     ratelimit.Limiter
		challenges challenge.Store
	)
	if redisCfg.Enabled {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{redisCfg.Addr},
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		})
		if errPing := rdb.Ping(ctx).Err(); errPing != nil {
			log.WithError(errPing).Warn("redis unreachable at startup, rate limiting fails open until it recovers")
		}
		shared = ratelimit.NewRedisLimiter(rdb, redisCfg.Prefix)
		challenges = challenge.NewRedisStore(rdb, redisCfg.Prefix)
	} else {
		log.Warn("redis disabled, rate limits and challenges are kept in process memory")
		challenges = challenge.NewMemoryStore(nil)
	}

	limiter := ratelimit.NewManager(ratelimit.SettingsFromConfig(rateCfg), shared, nil)
	tokenService := tokens.NewService(s.Tokens, tokenCfg, nil)
	svc := auth.New(auth.Deps{
		Store:      s,
		Limiter:    limiter,
		Tokens:     tokenService,
		MFA:        mfa.NewManager(s.Users, mfaCfg, nil),
		Passkeys:   passkey.NewManager(wa, s, challenges, webAuthnCfg.ChallengeTTL, nil),
		Challenges: challenges,
		Mailer:     auth.LogMailer{},
		JWT:        jwtCfg,
		MFATicket:  mfaCfg.TicketTTL,
	})

	return &Components{
		DB:      conn,
		Redis:   rdb,
		Limiter: limiter,
		Tokens:  tokenService,
		Auth:    svc,
	}, nil
}

// NewEngine builds the gin engine for the components.
func NewEngine(components *Components, serverCfg config.ServerConfig) (*gin.Engine, error) {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger())
	if errProxies := engine.SetTrustedProxies(serverCfg.TrustedProxies); errProxies != nil {
		return nil, fmt.Errorf("trusted proxies: %w", errProxies)
	}
	front.RegisterFrontRoutes(engine, front.Deps{
		DB:      components.DB,
		Redis:   components.Redis,
		Auth:    components.Auth,
		Limiter: components.Limiter,
	})
	return engine, nil
}

// RunServer boots the auth server and blocks until ctx is cancelled.
func RunServer(ctx context.Context, cfg config.AppConfig, defaultPort int) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)

	logCloser, errLogging := logging.Setup(config.LoadLoggingConfig(configPath))
	if errLogging != nil {
		return errLogging
	}
	defer func() {
		_ = logCloser.Close()
	}()

	components, err := Build(ctx, configPath)
	if err != nil {
		return err
	}
	defer components.Close()

	serverCfg := config.LoadServerConfig(configPath, defaultPort)
	gin.SetMode(gin.ReleaseMode)
	engine, err := NewEngine(components, serverCfg)
	if err != nil {
		return err
	}

	go purgeExpiredTokens(ctx, components.Tokens, tokenPurgeInterval)

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(serverCfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("starting auth server on %s with config=%s", server.Addr, configPath)
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			errCh <- errServe
		}
		close(errCh)
	}()

	select {
	case errServe := <-errCh:
		return errServe
	case <-ctx.Done():
	}

	log.Info("shutting down auth server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
	defer cancel()
	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
		return fmt.Errorf("shutdown: %w", errShutdown)
	}
	return nil
}

func purgeExpiredTokens(ctx context.Context, svc *tokens.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, errPurge := svc.PurgeExpired(ctx)
			if errPurge != nil {
				log.WithError(errPurge).Warn("purge expired tokens")
				continue
			}
			if removed > 0 {
				log.WithField("removed", removed).Debug("purged expired tokens")
			}
		}
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"ip":      c.ClientIP(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Error("request")
			return
		}
		entry.Debug("request")
	}
}
