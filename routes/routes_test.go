package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Gin_postgres_redis_rent_tracker/app"
	"Gin_postgres_redis_rent_tracker/models"
	"Gin_postgres_redis_rent_tracker/persist"
	"Gin_postgres_redis_rent_tracker/scan"
	"Gin_postgres_redis_rent_tracker/view"
)

func init() { gin.SetMode(gin.TestMode) }

var (
	staff   = models.User{ID: "u-staff", Username: "kim@example.com", Role: models.RoleUser, Approved: true}
	boss    = models.User{ID: "u-admin", Username: "lee@example.com", Role: models.RoleAdmin, Approved: true}
	pending = models.User{ID: "u-new", Username: "new@example.com", Role: models.RoleUser}
)

type harness struct {
	t       *testing.T
	tracker *app.Tracker
	mem     *persist.Memory
	router  *gin.Engine
}

// X-Test-User 选择当前用户，模拟 AuthRequired
func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mem := persist.NewMemory()
	tr, err := app.NewTracker(ctx, app.TrackerOptions{
		Persistence:   mem,
		NodeID:        1,
		UseSerials:    true,
		UploadDir:     t.TempDir(),
		UploadURLBase: "/static/photos",
	})
	require.NoError(t, err)
	t.Cleanup(tr.Close)

	users := map[string]models.User{staff.ID: staff, boss.ID: boss, pending.ID: pending}
	fakeAuth := func(c *gin.Context) {
		u, ok := users[c.GetHeader("X-Test-User")]
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, app.H{"error": "unauthorized"})
			return
		}
		app.SetUser(c, u, app.Config{})
		c.Next()
	}

	r := gin.New()
	api := r.Group("/api", fakeAuth, app.ApprovedOnly())
	RegisterTrackerRoutes(api, app.AdminOnly(), tr)
	return &harness{t: t, tracker: tr, mem: mem, router: r}
}

func (h *harness) do(user models.User, method, path string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(h.t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if _, isText := body.(string); isText {
		req.Header.Set("Content-Type", "text/plain")
	} else if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Test-User", user.ID)
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

type recordResp struct {
	Record models.Equipment    `json:"record"`
	Entry  *models.LedgerEntry `json:"entry"`
}

func (h *harness) register(id string, hours int) {
	h.t.Helper()
	w := h.do(staff, http.MethodPost, "/api/equipment", app.H{"id": id, "name": "Generator " + id, "category": "power", "totalHours": hours})
	require.Equal(h.t, http.StatusCreated, w.Code, w.Body.String())
}

func TestRegisterEquipment(t *testing.T) {
	h := newHarness(t)

	w := h.do(staff, http.MethodPost, "/api/equipment", app.H{"id": "P001", "name": "Generator", "totalHours": 500})
	require.Equal(t, http.StatusCreated, w.Code)
	res := decode[recordResp](t, w)
	assert.Equal(t, 500, res.Record.RemainingHours)
	assert.Equal(t, models.StatusUnchecked, res.Record.Status)
	assert.True(t, strings.HasPrefix(res.Record.SerialNumber, "SN-"))
	require.NotNil(t, res.Entry)
	assert.Equal(t, models.EntryProductRegistered, res.Entry.Type)
	assert.Equal(t, staff.ID, res.Entry.ActorID)

	w = h.do(staff, http.MethodPost, "/api/equipment", app.H{"id": "P001", "name": "Other"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = h.do(staff, http.MethodPost, "/api/equipment", app.H{"id": "P002"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(staff, http.MethodGet, "/api/equipment/next-id", nil)
	assert.JSONEq(t, `{"id":"P002"}`, w.Body.String())
}

func TestRentReturnFlow(t *testing.T) {
	h := newHarness(t)
	h.register("P001", 500)

	w := h.do(staff, http.MethodPost, "/api/equipment/P001/rent", app.H{"company": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(staff, http.MethodPost, "/api/equipment/P404/rent", app.H{"company": "ACME Co"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(staff, http.MethodPost, "/api/equipment/P001/rent", app.H{"company": "ACME Co"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rented := decode[recordResp](t, w).Record
	assert.True(t, rented.IsRented)
	assert.Len(t, rented.RentalHistory, 1)

	w = h.do(staff, http.MethodPost, "/api/equipment/P001/rent", app.H{"company": "Other"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = h.do(staff, http.MethodPost, "/api/equipment/P001/status", app.H{"status": "repairing"})
	assert.Equal(t, http.StatusConflict, w.Code)

	// remainingHours 必填
	w = h.do(staff, http.MethodPost, "/api/equipment/P001/return", app.H{"status": "cleaning-pending"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(staff, http.MethodPost, "/api/equipment/P001/return", app.H{"remainingHours": 450})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(staff, http.MethodPost, "/api/equipment/P001/return", app.H{"remainingHours": -1, "status": "cleaning-pending"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(staff, http.MethodPost, "/api/equipment/P001/return", app.H{"remainingHours": 450, "status": "cleaning-pending", "note": "dusty"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[recordResp](t, w)
	assert.False(t, res.Record.IsRented)
	assert.Equal(t, 450, res.Record.RemainingHours)
	assert.Equal(t, models.StatusCleaningPending, res.Record.Status)
	require.NotNil(t, res.Entry.UsedHours)
	assert.Equal(t, 50, *res.Entry.UsedHours)

	w = h.do(staff, http.MethodPost, "/api/equipment/P001/return", app.H{"remainingHours": 400, "status": "unchecked"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = h.do(staff, http.MethodGet, "/api/equipment/P001/rentals", nil)
	require.Equal(t, http.StatusOK, w.Code)
	hist := decode[struct {
		RentalHistory []models.RentalCycle `json:"rentalHistory"`
	}](t, w)
	require.Len(t, hist.RentalHistory, 1)
	assert.False(t, hist.RentalHistory[0].Open())
	assert.Equal(t, 50, *hist.RentalHistory[0].UsedHours)

	h.tracker.Flush()
	saved, ok := h.mem.Get("P001")
	require.True(t, ok)
	assert.Equal(t, 450, saved.RemainingHours)
}

func TestChangeStatus(t *testing.T) {
	h := newHarness(t)
	h.register("P001", 100)

	w := h.do(staff, http.MethodPost, "/api/equipment/P001/status", app.H{"status": "reserved"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(staff, http.MethodPost, "/api/equipment/P001/status", app.H{"status": "flying"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(staff, http.MethodPost, "/api/equipment/P001/status", app.H{"status": "reserved", "reservedBy": "Ops"})
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[recordResp](t, w)
	assert.Equal(t, "Ops", res.Record.ReservedBy)
	require.NotNil(t, res.Entry)

	// 状态不变：保存备注但不写流水
	w = h.do(staff, http.MethodPost, "/api/equipment/P001/status", app.H{"status": "reserved", "reservedBy": "Ops", "note": "again"})
	require.Equal(t, http.StatusOK, w.Code)
	res = decode[recordResp](t, w)
	assert.Nil(t, res.Entry)
	assert.Equal(t, "again", res.Record.LastNote)
}

func TestActionInFlight(t *testing.T) {
	h := newHarness(t)
	h.register("P001", 100)

	release, err := h.tracker.Locks.Acquire(context.Background(), "P001")
	require.NoError(t, err)
	w := h.do(staff, http.MethodPost, "/api/equipment/P001/rent", app.H{"company": "ACME"})
	assert.Equal(t, http.StatusConflict, w.Code)

	release()
	w = h.do(staff, http.MethodPost, "/api/equipment/P001/rent", app.H{"company": "ACME"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBulkRegister(t *testing.T) {
	h := newHarness(t)
	h.register("P001", 10)

	text := "P002, Heater, heat, 120\nP001, Dup, x, 1\nbroken line\nP003, Fan, , 80h\n"
	w := h.do(staff, http.MethodPost, "/api/equipment/bulk", text)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[struct {
		Added   int                  `json:"added"`
		Skipped int                  `json:"skipped"`
		Entries []models.LedgerEntry `json:"entries"`
	}](t, w)
	assert.Equal(t, 2, res.Added)
	assert.Equal(t, 2, res.Skipped)
	assert.Len(t, res.Entries, 2)

	w = h.do(staff, http.MethodPost, "/api/equipment/bulk", app.H{"text": "P004, Light, light, 5"})
	require.Equal(t, http.StatusOK, w.Code)

	fan, err := h.tracker.Store.FindByID("P003")
	require.NoError(t, err)
	assert.Equal(t, "other", fan.Category)
	assert.Equal(t, 80, fan.TotalHours)
	assert.Equal(t, 4, h.tracker.Store.Len())
}

func TestListDashboardAndExport(t *testing.T) {
	h := newHarness(t)
	h.register("P001", 100)
	h.register("P002", 100)
	require.Equal(t, http.StatusOK, h.do(staff, http.MethodPost, "/api/equipment/P002/rent", app.H{"company": "Zeta Events"}).Code)

	w := h.do(staff, http.MethodGet, "/api/equipment?filter=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(staff, http.MethodGet, "/api/equipment?filter=rented", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Total int                `json:"total"`
		Items []models.Equipment `json:"items"`
	}](t, w)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "P002", list.Items[0].ID)

	w = h.do(staff, http.MethodGet, "/api/equipment?q=zeta", nil)
	assert.Equal(t, 1, decode[struct {
		Total int `json:"total"`
	}](t, w).Total)

	w = h.do(staff, http.MethodGet, "/api/dashboard", nil)
	require.Equal(t, http.StatusOK, w.Code)
	dash := decode[view.Dashboard](t, w)
	assert.Equal(t, 2, dash.Total)
	assert.Equal(t, 1, dash.Rented)
	assert.Equal(t, 1, dash.Counts[view.FilterRented])

	w = h.do(staff, http.MethodGet, "/api/equipment/export.csv", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "id,serial_number,name"))
	assert.True(t, strings.HasPrefix(lines[2], "P002,"))
	assert.Contains(t, lines[2], "Zeta Events")
}

func TestScan(t *testing.T) {
	h := newHarness(t)
	h.register("P001", 100)
	rec, err := h.tracker.Store.FindByID("P001")
	require.NoError(t, err)

	w := h.do(staff, http.MethodPost, "/api/scan", app.H{"payload": "  P001 \n"})
	require.Equal(t, http.StatusOK, w.Code)
	panel := decode[scan.Panel](t, w)
	assert.True(t, panel.Actions.Rent)
	assert.False(t, panel.Actions.Return)

	w = h.do(staff, http.MethodPost, "/api/scan", app.H{"payload": rec.SerialNumber})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "P001", decode[scan.Panel](t, w).Record.ID)

	w = h.do(staff, http.MethodPost, "/api/scan", app.H{"payload": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(staff, http.MethodPost, "/api/scan", app.H{"payload": "P999"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLedgerEndpoints(t *testing.T) {
	h := newHarness(t)
	h.register("P001", 100)
	require.Equal(t, http.StatusOK, h.do(staff, http.MethodPost, "/api/equipment/P001/rent", app.H{"company": "ACME"}).Code)
	h.tracker.Flush()

	w := h.do(staff, http.MethodGet, "/api/ledger/recent?n=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	recent := decode[struct {
		Entries []models.LedgerEntry `json:"entries"`
	}](t, w)
	require.Len(t, recent.Entries, 1)
	assert.Equal(t, models.EntryRental, recent.Entries[0].Type)

	w = h.do(staff, http.MethodGet, "/api/ledger?type=product-registered", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[models.LedgerPage](t, w)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "P001", page.Entries[0].ProductID)

	w = h.do(staff, http.MethodGet, "/api/ledger?type=nope", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(staff, http.MethodGet, "/api/ledger?actorId=someone-else", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"entries":[]}`, w.Body.String())
}

func TestDeletePermissions(t *testing.T) {
	h := newHarness(t)
	h.register("P001", 100)
	h.register("P002", 100)

	assert.Equal(t, http.StatusForbidden, h.do(staff, http.MethodDelete, "/api/equipment/P001", nil).Code)
	assert.Equal(t, http.StatusOK, h.do(boss, http.MethodDelete, "/api/equipment/P001", nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(boss, http.MethodDelete, "/api/equipment/P001", nil).Code)

	assert.Equal(t, http.StatusBadRequest, h.do(boss, http.MethodDelete, "/api/equipment", nil).Code)
	w := h.do(boss, http.MethodDelete, "/api/equipment?confirm=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"deleted":1}`, w.Body.String())
	assert.Equal(t, 0, h.tracker.Store.Len())
}

func TestPendingUserIsBlocked(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, http.StatusForbidden, h.do(pending, http.MethodGet, "/api/equipment", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, h.do(models.User{ID: "ghost"}, http.MethodGet, "/api/equipment", nil).Code)
}

func (h *harness) upload(path string, name string, content []byte) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("photos", name)
	require.NoError(h.t, err)
	_, _ = fw.Write(content)
	require.NoError(h.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Test-User", staff.ID)
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func TestPhotoUpload(t *testing.T) {
	h := newHarness(t)
	h.register("P001", 100)
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

	w := h.upload("/api/equipment/P001/photos?kind=rental", "front.png", png)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	refs := decode[struct {
		Photos []string `json:"photos"`
	}](t, w).Photos
	require.Len(t, refs, 1)
	assert.True(t, strings.HasPrefix(refs[0], "/static/photos/P001/rental/"))
	assert.True(t, strings.HasSuffix(refs[0], "/0.png"))

	w = h.upload("/api/equipment/P001/photos?kind=rental", "notes.txt", []byte("just text"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.upload("/api/equipment/P001/photos?kind=other", "front.png", png)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.upload("/api/equipment/P404/photos?kind=rental", "front.png", png)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// 引用随借出请求写入租赁记录
	w = h.do(staff, http.MethodPost, "/api/equipment/P001/rent", app.H{"company": "ACME", "photos": refs})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, refs, decode[recordResp](t, w).Record.RentalHistory[0].PhotosBefore)
}
