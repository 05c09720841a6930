// controllers/webauthn_controller.go
package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"Gin_postgres_redis_rent_tracker/app"
	"Gin_postgres_redis_rent_tracker/models"
)

const ceremonyTimeout = 3 * time.Second

// GET /webauthn/whoami
func (s *Srv) WhoAmI(c *app.Ctx) {
	uid := c.GetString(app.CtxUserID)
	if uid == "" {
		c.JSON(http.StatusUnauthorized, app.H{"error": "unauthorized"})
		return
	}
	u, err := s.Repo.FindUserByID(c.Request.Context(), uid)
	if err != nil {
		c.JSON(http.StatusUnauthorized, app.H{"error": "unauthorized"})
		return
	}
	credCount, _ := s.Repo.CountCredentials(c.Request.Context(), uid)
	c.JSON(http.StatusOK, app.H{
		"userID":      uid,
		"username":    u.Username,
		"displayName": u.DisplayName,
		"role":        u.Role,
		"isAdmin":     c.GetBool(app.CtxIsAdmin),
		"approved":    c.GetBool(app.CtxApproved),
		"credentials": credCount,
	})
}

// POST /webauthn/logout
func (s *Srv) Logout(c *app.Ctx) {
	if ck, err := c.Request.Cookie(app.AppSessionCookie); err == nil && ck.Value != "" {
		_ = s.AppSess.Delete(c.Request.Context(), ck.Value)
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     app.AppSessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.secureCookie(),
	})
	c.JSON(http.StatusOK, app.H{"ok": true})
}

// ===== 注册（邀请制） =====

// 注册和添加凭据都要求常驻密钥 + 用户验证
var passkeyOptions = []webauthn.RegistrationOption{
	webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
		UserVerification: protocol.VerificationRequired,
	}),
}

// openInvite 返回仍可使用的邀请
func (s *Srv) openInvite(ctx context.Context, token string) (*models.Invite, bool) {
	inv, err := s.Repo.GetInviteByToken(ctx, token)
	if err != nil || inv.UsedAt != nil || time.Now().After(inv.ExpiresAt) {
		return nil, false
	}
	return inv, true
}

func (s *Srv) BeginRegistration(c *gin.Context) {
	var in struct {
		InviteToken string `json:"inviteToken" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(c, ceremonyTimeout)
	defer cancel()

	inv, ok := s.openInvite(ctx, in.InviteToken)
	if !ok {
		c.JSON(http.StatusForbidden, app.H{"error": "invalid or expired invite"})
		return
	}

	// 用户名即邀请邮箱；普通用户需管理员审批，管理员邀请直接通过
	approved := inv.Role != models.RoleUser || s.Cfg.IsAdminEmail(inv.Email)
	u, err := s.Repo.FindOrCreateUser(ctx, inv.Email, uuid.NewString(), inv.Role, approved)
	if err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}

	opts, sd, err := s.WA.BeginRegistration(s.waUserFor(ctx, u), passkeyOptions...)
	if err == nil {
		err = s.Sess.SaveRegByToken(ctx, in.InviteToken, sd)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, app.H{"opts": opts})
}

func (s *Srv) FinishRegistration(c *gin.Context) {
	token := c.Query("inviteToken")
	if token == "" {
		c.JSON(http.StatusBadRequest, app.H{"error": "missing inviteToken"})
		return
	}
	ctx, cancel := context.WithTimeout(c, ceremonyTimeout)
	defer cancel()

	inv, ok := s.openInvite(ctx, token)
	if !ok {
		c.JSON(http.StatusForbidden, app.H{"error": "invalid or expired invite"})
		return
	}
	wUser, err := s.loadWAUserByUsername(ctx, inv.Email)
	if err != nil {
		c.JSON(http.StatusNotFound, app.H{"error": "user not found"})
		return
	}
	sd, err := s.Sess.TakeRegByToken(ctx, token)
	if err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": "session expired or invalid"})
		return
	}
	if !s.storeCredential(ctx, c, wUser, sd) {
		return
	}
	if err := s.Repo.MarkInviteUsed(ctx, token); err != nil {
		zap.L().Warn("mark invite used", zap.String("email", inv.Email), zap.Error(err))
	}

	// 注册即登录
	if err := s.issueSession(ctx, c.Writer, wUser.user.ID, c.ClientIP(), c.Request.UserAgent()); err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": "create app session failed"})
		return
	}
	c.JSON(http.StatusOK, app.H{"ok": true, "username": wUser.user.Username})
}

// storeCredential 校验注册响应并保存凭据；失败时已写好响应
func (s *Srv) storeCredential(ctx context.Context, c *gin.Context, wUser *waUser, sd *webauthn.SessionData) bool {
	cred, err := s.WA.FinishRegistration(wUser, *sd, c.Request)
	if err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": err.Error()})
		return false
	}
	if err := s.Repo.AddCredential(ctx, fromWaCred(wUser.user.ID, cred)); err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return false
	}
	return true
}

// ===== 添加新凭据（已登录，例如绑定手机） =====

func (s *Srv) currentWAUser(ctx context.Context, c *gin.Context) (*waUser, bool) {
	uid := c.GetString(app.CtxUserID)
	if uid != "" {
		if wUser, err := s.loadWAUserByID(ctx, uid); err == nil {
			return wUser, true
		}
	}
	c.JSON(http.StatusUnauthorized, app.H{"error": "unauthorized"})
	return nil, false
}

func (s *Srv) BeginAddCredential(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c, ceremonyTimeout)
	defer cancel()
	wUser, ok := s.currentWAUser(ctx, c)
	if !ok {
		return
	}

	opts, sd, err := s.WA.BeginRegistration(wUser, passkeyOptions...)
	if err == nil {
		err = s.Sess.SaveReg(ctx, wUser.user.Username, sd)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, app.H{"opts": opts})
}

func (s *Srv) FinishAddCredential(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c, ceremonyTimeout)
	defer cancel()
	wUser, ok := s.currentWAUser(ctx, c)
	if !ok {
		return
	}

	sd, err := s.Sess.TakeReg(ctx, wUser.user.Username)
	if err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": "session expired or invalid"})
		return
	}
	if !s.storeCredential(ctx, c, wUser, sd) {
		return
	}
	c.JSON(http.StatusOK, app.H{"ok": true})
}

// ===== 登录 =====

type loginBeginReq struct {
	Username     string `json:"username"`
	Discoverable bool   `json:"discoverable"`
}
type loginBeginResp struct {
	Options   *protocol.CredentialAssertion `json:"options"`
	SessionID string                        `json:"sessionId"`
}

func (s *Srv) BeginLogin(c *gin.Context) {
	var req loginBeginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": "bad request"})
		return
	}
	ctx, cancel := context.WithTimeout(c, ceremonyTimeout)
	defer cancel()

	uv := webauthn.WithUserVerification(protocol.VerificationRequired)
	var (
		opts *protocol.CredentialAssertion
		sd   *webauthn.SessionData
		err  error
	)
	if req.Discoverable {
		opts, sd, err = s.WA.BeginDiscoverableLogin(uv)
	} else {
		wUser, lookupErr := s.loadWAUserByUsername(ctx, req.Username)
		if lookupErr != nil {
			c.JSON(http.StatusNotFound, app.H{"error": "user not found"})
			return
		}
		opts, sd, err = s.WA.BeginLogin(wUser, uv)
	}
	sid := uuid.NewString()
	if err == nil {
		err = s.Sess.SaveAuth(ctx, sid, sd)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, loginBeginResp{Options: opts, SessionID: sid})
}

func (s *Srv) FinishLogin(c *gin.Context) {
	sid := c.Query("sessionId")
	if sid == "" {
		c.JSON(http.StatusBadRequest, app.H{"error": "missing sessionId"})
		return
	}
	ctx, cancel := context.WithTimeout(c, ceremonyTimeout)
	defer cancel()
	sd, err := s.Sess.TakeAuth(ctx, sid)
	if err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": "session expired or invalid"})
		return
	}

	var (
		wUser *waUser
		cred  *webauthn.Credential
	)
	if username := c.Query("username"); username != "" {
		if wUser, err = s.loadWAUserByUsername(ctx, username); err != nil {
			c.JSON(http.StatusNotFound, app.H{"error": "user not found"})
			return
		}
		cred, err = s.WA.FinishLogin(wUser, *sd, c.Request)
	} else {
		// 可发现凭据：按 credential id 反查用户
		var user webauthn.User
		user, cred, err = s.WA.FinishPasskeyLogin(func(rawID, _ []byte) (webauthn.User, error) {
			u, err := s.Repo.FindUserByCredentialID(ctx, rawID)
			if err != nil {
				return nil, protocol.ErrBadRequest.WithDetails("credential not found")
			}
			return s.waUserFor(ctx, u), nil
		}, *sd, c.Request)
		if err == nil {
			wUser = user.(*waUser)
		}
	}
	if err != nil {
		c.JSON(http.StatusUnauthorized, app.H{"error": err.Error()})
		return
	}

	if err := s.Repo.RecordCredentialUse(ctx, cred.ID, cred.Authenticator.SignCount, cred.Authenticator.CloneWarning); err != nil {
		zap.L().Warn("record credential use", zap.String("user", wUser.user.ID), zap.Error(err))
	}

	if err := s.issueSession(ctx, c.Writer, wUser.user.ID, c.ClientIP(), c.Request.UserAgent()); err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": "create app session failed"})
		return
	}
	c.JSON(http.StatusOK, app.H{"ok": true, "redirect": "/dashboard"})
}
