package routes

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"Gin_postgres_redis_rent_tracker/app"
	"Gin_postgres_redis_rent_tracker/controllers"
)

func RegisterRoutes(r *gin.Engine, a *app.App) {
	// 控制器与依赖
	s := controllers.GetSrv(a)
	uc := controllers.GetUserController(s.Repo, s.AppSess, a.Config)
	inviteCtl := controllers.GetInviteController(s)

	// 复用的中间件
	authMW := app.AuthRequired(s.AppSess, s.Repo, a.Config)
	adminMW := app.AdminOnly()
	approvedMW := app.ApprovedOnly()
	seenMW := app.TouchLastSeen(s.Repo, a.RDB, 5*time.Minute)
	limitMW := a.Limiter.Middleware()

	r.GET("/healthz", func(c *app.Ctx) { c.JSON(http.StatusOK, app.H{"ok": true}) })

	// ------------------------------
	// WebAuthn（公开+受保护）
	// ------------------------------
	wa := r.Group("/webauthn", limitMW)
	{
		// 公开：注册/登录流程
		wa.POST("/register/begin", s.BeginRegistration)
		wa.POST("/register/finish", s.FinishRegistration)

		wa.POST("/login/begin", s.BeginLogin)
		wa.POST("/login/finish", s.FinishLogin)
	}

	waAuth := wa.Group("", authMW, seenMW)
	{
		waAuth.GET("/whoami", s.WhoAmI)
		waAuth.POST("/logout", s.Logout)
	}

	// 已登录用户添加新凭据（绑定手机等）
	creds := r.Group("/api/credentials", limitMW, authMW, seenMW)
	{
		creds.POST("/add/begin", s.BeginAddCredential)
		creds.POST("/add/finish", s.FinishAddCredential)
	}

	// ------------------------------
	// 邀请（仅管理员）
	// ------------------------------
	admin := r.Group("/admin", limitMW, authMW, adminMW)
	{
		admin.POST("/invites", inviteCtl.CreateInvite)
	}

	// ------------------------------
	// 用户管理（仅管理员）
	// ------------------------------
	users := r.Group("/api/users", limitMW, authMW, adminMW)
	{
		users.GET("", uc.ListUsers) // ?q=&pending=&page=&size=
		users.GET("/activity", uc.Activity)
		users.GET("/:id", uc.GetUser)
		users.PATCH("/:id", uc.UpdateUser)
		users.DELETE("/:id", uc.DeleteUser)
	}

	// ------------------------------
	// 设备 / 流水 / 实时推送（已审批用户）
	// ------------------------------
	api := r.Group("/api", limitMW, authMW, approvedMW, seenMW)
	RegisterTrackerRoutes(api, adminMW, a.Tracker)

	// 照片证据
	photos := r.Group("", authMW, approvedMW)
	photos.Static(a.Config.UploadURLBase, a.Config.UploadDir)

	ws := controllers.NewWSController(a.Tracker.Hub, append([]string{a.Config.WebOrigin}, a.Config.RPOrigins...))
	r.GET("/ws", authMW, approvedMW, ws.Serve)
}

// RegisterTrackerRoutes 挂载设备相关接口；api 组上应已有登录与审批中间件
func RegisterTrackerRoutes(api *gin.RouterGroup, adminMW gin.HandlerFunc, t *app.Tracker) {
	ec := controllers.NewEquipmentController(t)
	lc := controllers.NewLedgerController(t.Ledger)

	equipment := api.Group("/equipment")
	{
		equipment.GET("", ec.List) // ?filter=&q=
		equipment.POST("", ec.Create)
		equipment.POST("/bulk", ec.Bulk)
		equipment.GET("/next-id", ec.NextID)
		equipment.GET("/export.csv", ec.ExportCSV)
		equipment.GET("/:id", ec.Get)
		equipment.GET("/:id/rentals", ec.Rentals)
		equipment.POST("/:id/rent", ec.Rent)
		equipment.POST("/:id/return", ec.Return)
		equipment.POST("/:id/status", ec.ChangeStatus)
		equipment.POST("/:id/photos", ec.Photos) // ?kind=rental|return

		// 删除仅管理员
		equipment.DELETE("/:id", adminMW, ec.Delete)
		equipment.DELETE("", adminMW, ec.DeleteAll) // ?confirm=true
	}

	api.POST("/scan", ec.Scan)
	api.GET("/dashboard", ec.Dashboard)
	api.GET("/ledger", lc.List) // ?actorId=&type=&productId=&before=&limit=
	api.GET("/ledger/recent", lc.Recent)
}
