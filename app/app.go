package app

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"Gin_postgres_redis_rent_tracker/db"
	"Gin_postgres_redis_rent_tracker/ledger"
	"Gin_postgres_redis_rent_tracker/localstore"
	"Gin_postgres_redis_rent_tracker/persist"
	"Gin_postgres_redis_rent_tracker/session"
)

// 简化别名，便于 handlers 调用
type Ctx = gin.Context
type H = gin.H

const (
	BackendSQL    = "sql"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// App 聚合各依赖
type App struct {
	Router  *gin.Engine
	DB      *gorm.DB
	Repo    *db.Repo
	RDB     *redis.Client
	WA      *webauthn.WebAuthn
	Config  Config
	Tracker *Tracker
	Limiter *RateLimiter

	appSess *session.AppSessionStore
	sess    *session.Store
	bolt    *localstore.Store
	sched   *cron.Cron
	cancel  context.CancelFunc
}

// Config 从环境变量读取
type Config struct {
	Port           string
	DatabaseURL    string
	Backend        string
	BoltPath       string
	RedisAddr      string
	RedisPwd       string
	WebOrigin      string
	RPID           string
	RPOrigins      []string
	SessionTTL     time.Duration
	AppSessionTTL  time.Duration
	AdminEmails    []string
	BootstrapEmail string
	UseSerials     bool
	UploadDir      string
	UploadURLBase  string
	LogMode        string
	LogFile        string
	SaveWorkers    int
	ReconcileSpec  string
	RateLimitRPS   float64
	RateLimitBurst int
	NodeID         int64
}

func (a *App) AppSessions() *session.AppSessionStore { return a.appSess }

func (a *App) Ceremonies() *session.Store { return a.sess }

func MustNew() *App {
	a, err := New(LoadConfig())
	if err != nil {
		zap.L().Fatal("init app", zap.Error(err))
	}
	return a
}

func New(cfg Config) (*App, error) {
	InitLogger(cfg)

	// --- DB: 用户/凭据/邀请始终走 SQL ---
	dbConn, err := db.ConnectDB(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	repo := db.NewRepo(dbConn)

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPwd, DB: 0})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancelPing()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	// --- WebAuthn RP ---
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: "Rent Tracker Passkeys",
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("webauthn: %w", err)
	}

	a := &App{
		DB: dbConn, Repo: repo, RDB: rdb, WA: wa, Config: cfg,
		appSess: session.NewAppSessionStore(rdb, cfg.AppSessionTTL),
		sess:    session.NewStore(rdb, cfg.SessionTTL),
	}

	// --- 设备持久化后端 ---
	var backing persist.Persistence
	switch cfg.Backend {
	case BackendBolt:
		a.bolt, err = localstore.Open(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		backing = a.bolt
	case BackendMemory:
		backing = persist.NewMemory()
	default:
		backing = repo
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.Tracker, err = NewTracker(ctx, TrackerOptions{
		Persistence:   backing,
		SaveWorkers:   cfg.SaveWorkers,
		NodeID:        cfg.NodeID,
		UseSerials:    cfg.UseSerials,
		Mirror:        ledger.NewRedisMirror(rdb),
		Locks:         session.NewActionLock(rdb, session.DefaultActionTTL),
		UploadDir:     cfg.UploadDir,
		UploadURLBase: cfg.UploadURLBase,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	a.Limiter = NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	a.sched, err = StartJobs(cfg.ReconcileSpec, a.Tracker.Store, a.Limiter)
	if err != nil {
		cancel()
		a.Tracker.Close()
		return nil, err
	}

	BootstrapFirstAdmin(ctx, cfg, repo)

	// --- Gin ---
	gin.SetMode(ginMode(cfg.LogMode))
	r := gin.New()
	r.Use(RequestLogger(), Recovery())
	useCORS(r, cfg.WebOrigin, cfg.RPOrigins)
	a.Router = r
	return a, nil
}

func (a *App) Close() {
	if a.sched != nil {
		<-a.sched.Stop().Done()
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.Tracker != nil {
		a.Tracker.Close()
	}
	if a.bolt != nil {
		_ = a.bolt.Close()
	}
	_ = a.RDB.Close()
	_ = zap.L().Sync()
}

func ginMode(logMode string) string {
	if logMode == "production" {
		return gin.ReleaseMode
	}
	return gin.DebugMode
}

func LoadConfig() Config {
	get := func(k, def string) string {
		v := strings.TrimSpace(os.Getenv(k))
		if v == "" {
			return def
		}
		return v
	}
	getInt := func(k string, def int) int {
		if n, err := strconv.Atoi(get(k, "")); err == nil {
			return n
		}
		return def
	}
	seconds := func(k string, def time.Duration) time.Duration {
		if n := getInt(k, 0); n > 0 {
			return time.Duration(n) * time.Second
		}
		return def
	}

	rps, err := strconv.ParseFloat(get("RATE_LIMIT_RPS", "10"), 64)
	if err != nil || rps <= 0 {
		rps = 10
	}
	useSerials, _ := strconv.ParseBool(get("USE_SERIALS", "true"))

	webOrigin := get("WEB_ORIGIN", "http://localhost:5173")
	return Config{
		Port:           get("PORT", "3001"),
		DatabaseURL:    get("DATABASE_URL", "rent_tracker.db"),
		Backend:        strings.ToLower(get("EQUIPMENT_BACKEND", BackendSQL)),
		BoltPath:       get("BOLT_PATH", "equipment.bolt"),
		RedisAddr:      get("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPwd:       os.Getenv("REDIS_PASSWORD"),
		WebOrigin:      webOrigin,
		RPID:           get("RP_ID", "localhost"),
		RPOrigins:      splitCSV(get("RP_ORIGINS", webOrigin), false),
		SessionTTL:     seconds("SESSION_TTL_SECONDS", 10*time.Minute),
		AppSessionTTL:  seconds("APP_SESSION_TTL_SECONDS", 24*time.Hour),
		AdminEmails:    splitCSV(os.Getenv("ADMIN_EMAILS"), true), // 例如: "admin@ex.com,ops@ex.com"
		BootstrapEmail: strings.ToLower(os.Getenv("BOOTSTRAP_EMAIL")),
		UseSerials:     useSerials,
		UploadDir:      get("UPLOAD_DIR", "uploads"),
		UploadURLBase:  get("UPLOAD_URL_BASE", "/static/photos"),
		LogMode:        get("LOG_MODE", "development"),
		LogFile:        os.Getenv("LOG_FILE"),
		SaveWorkers:    getInt("SAVE_WORKERS", 4),
		ReconcileSpec:  get("RECONCILE_SPEC", "@every 10m"),
		RateLimitRPS:   rps,
		RateLimitBurst: getInt("RATE_LIMIT_BURST", 20),
		NodeID:         int64(getInt("NODE_ID", 1)),
	}
}

func splitCSV(csv string, lower bool) []string {
	var out []string
	for _, s := range strings.Split(csv, ",") {
		t := strings.TrimSpace(s)
		if t == "" {
			continue
		}
		if lower {
			t = strings.ToLower(t)
		}
		out = append(out, t)
	}
	return out
}

// IsAdminEmail 配置里的管理员邮箱总是按管理员处理
func (c Config) IsAdminEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, admin := range c.AdminEmails {
		if email == admin {
			return true
		}
	}
	return false
}

// 帮助函数：新用户 ID（UUID 字符串 → []byte 作为 userHandle）
func NewUserID() []byte { id := uuid.New(); return id[:] }
