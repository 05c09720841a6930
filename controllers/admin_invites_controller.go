package controllers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"Gin_postgres_redis_rent_tracker/app"
	"Gin_postgres_redis_rent_tracker/models"
)

// InviteMailer 发送邀请邮件
type InviteMailer func(toEmail, link string, expiresDays int) error

type InviteController struct {
	*Srv
	send InviteMailer
}

// 用新的 *Srv 作为依赖入口
func GetInviteController(s *Srv) *InviteController {
	return &InviteController{Srv: s, send: smtpMailer(loadSMTP())}
}

// POST /admin/invites
func (ic *InviteController) CreateInvite(c *gin.Context) {
	var in struct {
		Email   string `json:"email" binding:"required,email"`
		Role    string `json:"role"`
		Expires int    `json:"expiresDays"` // 默认 1 天
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": err.Error()})
		return
	}
	if in.Expires <= 0 {
		in.Expires = 1
	}
	switch in.Role {
	case "":
		in.Role = models.RoleUser
	case models.RoleUser:
	case models.RoleAdmin, models.RoleSuperAdmin:
		// 只有 superadmin 能邀请管理员
		if c.GetString(app.CtxRole) != models.RoleSuperAdmin && !ic.Cfg.IsAdminEmail(c.GetString(app.CtxUsername)) {
			c.JSON(http.StatusForbidden, app.H{"error": "only a superadmin may invite admins"})
			return
		}
	default:
		c.JSON(http.StatusBadRequest, app.H{"error": "unknown role " + in.Role})
		return
	}

	// 生成一次性 token
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}
	token := hex.EncodeToString(buf)

	// 落库
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	inv, err := ic.Repo.CreateInvite(
		ctx,
		strings.ToLower(in.Email),
		token,
		in.Role,
		time.Now().AddDate(0, 0, in.Expires),
		c.GetString(app.CtxUsername),
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}

	// 拼邀请链接（前端登录页带 inviteToken）
	link := strings.TrimRight(ic.Cfg.WebOrigin, "/") + "/login?inviteToken=" + token

	// 发邮件（若未配置 SMTP，打印日志但不报错）
	if err := ic.send(in.Email, link, in.Expires); err != nil {
		zap.L().Warn("invite email send failed", zap.String("to", in.Email), zap.Error(err))
	}

	c.JSON(http.StatusCreated, app.H{
		"token":  token,
		"link":   link, // 方便开发环境直接点
		"invite": inv,
	})
}

// -------------------- 邮件发送 --------------------

type smtpConf struct {
	Host     string // SMTP_HOST, e.g. smtp.gmail.com
	Port     int    // SMTP_PORT, e.g. 587
	Username string // SMTP_USERNAME
	Password string // SMTP_PASSWORD, app password or smtp password
	From     string // SMTP_FROM, 为空时回退 Username
	AppName  string // APP_NAME, e.g. Rent Tracker
}

func loadSMTP() smtpConf {
	get := func(k, d string) string {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
		return d
	}
	port, err := strconv.Atoi(get("SMTP_PORT", "587"))
	if err != nil {
		port = 587
	}
	return smtpConf{
		Host:     get("SMTP_HOST", ""),
		Port:     port,
		Username: get("SMTP_USERNAME", ""),
		Password: get("SMTP_PASSWORD", ""),
		From:     get("SMTP_FROM", ""),
		AppName:  get("APP_NAME", "Rent Tracker"),
	}
}

func smtpMailer(conf smtpConf) InviteMailer {
	return func(toEmail, link string, expiresDays int) error {
		// 未配置 SMTP → 开发模式：打印即可，不报错
		if conf.Host == "" || (conf.Username == "" && conf.From == "") {
			zap.L().Info("[DEV] invite link", zap.String("to", toEmail), zap.String("link", link), zap.Int("expiresDays", expiresDays))
			return nil
		}
		fromAddr := conf.From
		if fromAddr == "" {
			fromAddr = conf.Username
		}

		m := gomail.NewMessage()
		m.SetAddressHeader("From", fromAddr, conf.AppName)
		m.SetHeader("To", toEmail)
		m.SetHeader("Subject", fmt.Sprintf("%s Invitation", conf.AppName))
		m.SetBody("text/html", inviteHTML(conf.AppName, link, expiresDays))

		d := gomail.NewDialer(conf.Host, conf.Port, conf.Username, conf.Password)
		return d.DialAndSend(m)
	}
}

func inviteHTML(appName, link string, expiresDays int) string {
	return fmt.Sprintf(`
<div style="font-family:Arial,sans-serif; font-size:14px; color:#222">
  <p>Hello,</p>
  <p>You have been invited to join <b>%s</b>. Click the button below to create your passkey and sign in:</p>
  <p>
    <a href="%s" style="display:inline-block; padding:10px 16px; background:#2563EB; color:#fff; text-decoration:none; border-radius:6px;">
      Accept Invitation
    </a>
  </p>
  <p>Or open this link directly:</p>
  <p><a href="%s">%s</a></p>
  <p>This invitation will expire in %d day(s).</p>
  <hr/>
  <p style="color:#666">If you did not expect this email, you can safely ignore it.</p>
</div>
`, appName, link, link, link, expiresDays)
}
