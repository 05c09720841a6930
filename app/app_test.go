package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Gin_postgres_redis_rent_tracker/lifecycle"
	"Gin_postgres_redis_rent_tracker/models"
	"Gin_postgres_redis_rent_tracker/persist"
	"Gin_postgres_redis_rent_tracker/realtime"
)

func init() { gin.SetMode(gin.TestMode) }

func TestLoadConfigDefaultsAndOverrides(t *testing.T) {
	t.Setenv("ADMIN_EMAILS", " Boss@Example.com , ,ops@example.com")
	t.Setenv("RP_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("SESSION_TTL_SECONDS", "120")
	t.Setenv("RATE_LIMIT_RPS", "bogus")
	t.Setenv("USE_SERIALS", "false")
	t.Setenv("EQUIPMENT_BACKEND", "BOLT")

	cfg := LoadConfig()
	assert.Equal(t, []string{"boss@example.com", "ops@example.com"}, cfg.AdminEmails)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.RPOrigins)
	assert.Equal(t, 2*time.Minute, cfg.SessionTTL)
	assert.Equal(t, 24*time.Hour, cfg.AppSessionTTL)
	assert.Equal(t, float64(10), cfg.RateLimitRPS)
	assert.False(t, cfg.UseSerials)
	assert.Equal(t, BackendBolt, cfg.Backend)
	assert.True(t, cfg.IsAdminEmail("BOSS@example.com"))
	assert.False(t, cfg.IsAdminEmail("someone@example.com"))
}

func serve(h ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(h...)
	r.GET("/x", func(c *gin.Context) { c.JSON(http.StatusOK, H{"ok": true}) })
	return r
}

func withUser(u models.User, cfg Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		SetUser(c, u, cfg)
		c.Next()
	}
}

func get(r http.Handler) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	r.ServeHTTP(w, req)
	return w
}

func TestApprovedOnly(t *testing.T) {
	cfg := Config{AdminEmails: []string{"boss@example.com"}}

	assert.Equal(t, http.StatusUnauthorized, get(serve(ApprovedOnly())).Code)

	pending := models.User{ID: "u1", Username: "new@example.com", Role: models.RoleUser}
	assert.Equal(t, http.StatusForbidden, get(serve(withUser(pending, cfg), ApprovedOnly())).Code)

	approved := pending
	approved.Approved = true
	assert.Equal(t, http.StatusOK, get(serve(withUser(approved, cfg), ApprovedOnly())).Code)

	// 配置里的管理员无需审批
	boss := models.User{ID: "u2", Username: "boss@example.com", Role: models.RoleUser}
	assert.Equal(t, http.StatusOK, get(serve(withUser(boss, cfg), ApprovedOnly())).Code)
}

func TestAdminOnly(t *testing.T) {
	cfg := Config{}
	user := models.User{ID: "u1", Username: "a@example.com", Role: models.RoleUser, Approved: true}
	admin := models.User{ID: "u2", Username: "b@example.com", Role: models.RoleAdmin}
	super := models.User{ID: "u3", Username: "c@example.com", Role: models.RoleSuperAdmin}

	assert.Equal(t, http.StatusForbidden, get(serve(withUser(user, cfg), AdminOnly())).Code)
	assert.Equal(t, http.StatusOK, get(serve(withUser(admin, cfg), AdminOnly())).Code)
	assert.Equal(t, http.StatusOK, get(serve(withUser(super, cfg), AdminOnly())).Code)
	assert.Equal(t, http.StatusUnauthorized, get(serve(AdminOnly())).Code)
}

func TestRateLimiterPerClient(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)
	r := serve(rl.Middleware())

	assert.Equal(t, http.StatusOK, get(r).Code)
	assert.Equal(t, http.StatusOK, get(r).Code)
	w := get(r)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// 其他 IP 不受影响
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiterSweep(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 1)
	rl.now = func() time.Time { return now }
	rl.get("10.0.0.1")
	now = now.Add(5 * time.Minute)
	rl.get("10.0.0.2")
	now = now.Add(6 * time.Minute)

	assert.Equal(t, 1, rl.Sweep())
	assert.Len(t, rl.clients, 1)
}

func TestRecoveryReturnsJSON(t *testing.T) {
	r := gin.New()
	r.Use(RequestLogger(), Recovery())
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, w.Body.String())
}

type fakeSnapshot struct {
	err   error
	calls int
}

func (f *fakeSnapshot) SaveAll(context.Context) error { f.calls++; return f.err }
func (f *fakeSnapshot) Len() int                      { return 3 }

func TestReconcile(t *testing.T) {
	ok := &fakeSnapshot{}
	assert.NoError(t, Reconcile(context.Background(), ok))
	assert.Equal(t, 1, ok.calls)

	bad := &fakeSnapshot{err: errors.New("disk full")}
	assert.Error(t, Reconcile(context.Background(), bad))
}

func TestStartJobs(t *testing.T) {
	sched, err := StartJobs("@every 1h", &fakeSnapshot{}, NewRateLimiter(1, 1))
	require.NoError(t, err)
	assert.Len(t, sched.Entries(), 2)
	<-sched.Stop().Done()

	sched, err = StartJobs("off", &fakeSnapshot{}, nil)
	require.NoError(t, err)
	assert.Empty(t, sched.Entries())
	<-sched.Stop().Done()

	_, err = StartJobs("every now and then", &fakeSnapshot{}, nil)
	assert.Error(t, err)
}

func TestTrackerWiring(t *testing.T) {
	mem := persist.NewMemory()
	require.NoError(t, mem.SaveOne(context.Background(), models.Equipment{ID: "P001", Name: "Drill", CreatedAt: time.Now()}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr, err := NewTracker(ctx, TrackerOptions{Persistence: mem, NodeID: 1, UploadDir: t.TempDir(), UploadURLBase: "/static"})
	require.NoError(t, err)
	defer tr.Close()

	assert.Equal(t, 1, tr.Store.Len())
	assert.NotNil(t, tr.Locks)

	failures := make(chan *persist.StorageError, 4)
	require.NoError(t, tr.Bus.SubscribeAsync(realtime.TopicStorageFailure, func(se *persist.StorageError) {
		failures <- se
	}, false))

	actor := lifecycle.Actor{ID: "u1", Name: "kim"}
	_, _, err = tr.Engine.Rent(ctx, lifecycle.RentCmd{Actor: actor, ID: "P001", Company: "Acme"})
	require.NoError(t, err)
	tr.Flush()

	saved, ok := mem.Get("P001")
	require.True(t, ok)
	assert.True(t, saved.IsRented)
	page, err := mem.ListLedger(ctx, models.LedgerQuery{})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, models.EntryRental, page.Entries[0].Type)

	// 写失败经总线上报
	mem.Fail = errors.New("offline")
	_, _, err = tr.Engine.ChangeStatus(ctx, lifecycle.ChangeStatusCmd{Actor: actor, ID: "P001", Status: models.StatusRepairing})
	require.ErrorIs(t, err, lifecycle.ErrInvalidState)
	_, _, err = tr.Engine.Return(ctx, lifecycle.ReturnCmd{Actor: actor, ID: "P001", RemainingHours: 10, Status: models.StatusUnchecked})
	require.NoError(t, err)
	tr.Flush()

	select {
	case se := <-failures:
		assert.ErrorContains(t, se, "offline")
	case <-time.After(2 * time.Second):
		t.Fatal("no storage failure published")
	}
}
