package sessions

import (
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// noStoreDirectives forbids any intermediary caching of identity checks.
const noStoreDirectives = "no-store, no-cache, must-revalidate, proxy-revalidate"

// SessionControllerRoutes names the HTTP surface. Paths are a contract
// between client and authority, override as needed.
type SessionControllerRoutes struct {
	Register           string
	Login              string
	Me                 string
	Logout             string
	PasswordReset      string
	VerifyEmail        string
	ResendVerification string
}

type SessionController struct {
	Debug        bool
	Logger       Logger
	Authority    *Authority
	Config       Config
	Routes       *SessionControllerRoutes
	ErrorHandler router.ErrorHandler
}

type SessionControllerOption func(*SessionController) *SessionController

func WithControllerAuthority(authority *Authority) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		c.Authority = authority
		return c
	}
}

func WithControllerConfig(cfg Config) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		c.Config = cfg
		return c
	}
}

func WithControllerLogger(logger Logger) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		c.Logger = logger
		return c
	}
}

func WithControllerErrorHandler(handler router.ErrorHandler) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		if handler != nil {
			c.ErrorHandler = handler
		}
		return c
	}
}

func WithControllerDebug(debug bool) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		c.Debug = debug
		return c
	}
}

func NewSessionController(opts ...SessionControllerOption) *SessionController {
	c := &SessionController{
		Logger:       defLogger{},
		ErrorHandler: defaultErrHandler,
		Routes: &SessionControllerRoutes{
			Register:           "/auth/register",
			Login:              "/auth/login",
			Me:                 "/auth/me",
			Logout:             "/auth/logout",
			PasswordReset:      "/auth/password-reset",
			VerifyEmail:        "/auth/verify-email",
			ResendVerification: "/auth/resend-verification",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Authority == nil {
		panic("Missing Authority in session controller...")
	}

	if c.Config == nil {
		panic("Missing Config in session controller...")
	}

	return c
}

// RegisterSessionRoutes mounts the authentication surface on the router.
func RegisterSessionRoutes[T any](app router.Router[T], opts ...SessionControllerOption) {

	controller := NewSessionController(opts...)

	app.Post(controller.Routes.Register, controller.RegisterPost).
		SetName("auth.register")

	app.Post(controller.Routes.Login, controller.LoginPost).
		SetName("auth.login")

	app.Get(controller.Routes.Me, controller.MeGet).
		SetName("auth.me")

	app.Get(controller.Routes.Logout, controller.LogoutGet).
		SetName("auth.logout")

	app.Post(controller.Routes.PasswordReset, controller.PasswordResetPost).
		SetName("auth.pwd-reset.request")

	app.Post(fmt.Sprintf("%s/:uuid", controller.Routes.PasswordReset), controller.PasswordResetExecute).
		SetName("auth.pwd-reset.execute")

	app.Get(fmt.Sprintf("%s/:uuid", controller.Routes.VerifyEmail), controller.VerifyEmailGet).
		SetName("auth.verify-email")

	app.Post(controller.Routes.ResendVerification, controller.ResendVerificationPost).
		SetName("auth.resend-verification")
}

// RegisterRequest payload
type RegisterRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
	Username string `form:"username" json:"username"`
	Avatar   string `form:"avatar" json:"avatar"`
}

// Validate will run validation rules
func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(6, 100)),
		validation.Field(&r.Username, validation.Length(0, 200)),
	)
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

// EmailRequest payload for reset requests and verification resends.
type EmailRequest struct {
	Email string `form:"email" json:"email"`
}

// Validate will run validation rules
func (r EmailRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

// NewPasswordRequest payload
type NewPasswordRequest struct {
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will run validation rules
func (r NewPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Password, validation.Required, validation.Length(6, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *SessionController) RegisterPost(ctx router.Context) error {
	payload := new(RegisterRequest)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("register parse payload: ", "error", err)
		return ctx.JSON(fiber.StatusBadRequest, errBody("Error parsing body"))
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("register validate payload: ", "error", err)
		return ctx.JSON(fiber.StatusBadRequest, errBody(err.Error()))
	}

	if a.Debug {
		fmt.Println("======= AUTH REGISTER ======")
		fmt.Println(print.MaybePrettyJSON(payload))
		fmt.Println("============================")
	}

	result, err := a.Authority.Register(ctx.Context(), RegisterPayload{
		Email:    payload.Email,
		Password: payload.Password,
		Username: payload.Username,
		Avatar:   payload.Avatar,
	})
	if err != nil {
		return a.errJSON(ctx, err)
	}

	return ctx.JSON(fiber.StatusCreated, map[string]any{
		"success":           true,
		"data":              result.User,
		"verification_sent": result.VerificationSent,
	})
}

func (a *SessionController) LoginPost(ctx router.Context) error {
	payload := new(LoginRequest)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("login parse payload: ", "error", err)
		return ctx.JSON(fiber.StatusBadRequest, errBody("Error parsing body"))
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(fiber.StatusBadRequest, errBody(err.Error()))
	}

	result, err := a.Authority.Login(ctx.Context(), payload.Email, payload.Password)
	if err != nil {
		return a.errJSON(ctx, err)
	}

	a.setSessionCookies(ctx, result)

	return ctx.JSON(router.StatusOK, map[string]any{
		"success": true,
		"data":    result.User,
	})
}

// MeGet is the identity-freshness check. The response is never cacheable:
// this endpoint exists precisely to bypass any stale client belief.
func (a *SessionController) MeGet(ctx router.Context) error {
	ctx.SetHeader("Cache-Control", noStoreDirectives)

	token := a.sessionToken(ctx)
	if token == "" {
		return a.errJSON(ctx, ErrNoActiveSession)
	}

	user, err := a.Authority.CheckSession(ctx.Context(), token)
	if err != nil {
		return a.errJSON(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"success": true,
		"data":    user,
	})
}

// LogoutGet always succeeds; logging out twice must not fail.
func (a *SessionController) LogoutGet(ctx router.Context) error {
	token := a.sessionToken(ctx)
	if token != "" {
		if err := a.Authority.Logout(ctx.Context(), token); err != nil {
			a.Logger.Error("logout revoke error: ", "error", err)
		}
	}

	a.clearSessionCookies(ctx)

	return ctx.JSON(router.StatusOK, map[string]any{
		"success": true,
	})
}

// PasswordResetPost responds 200 whether or not the email exists.
func (a *SessionController) PasswordResetPost(ctx router.Context) error {
	payload := new(EmailRequest)

	if err := ctx.Bind(payload); err != nil {
		return ctx.JSON(fiber.StatusBadRequest, errBody("Error parsing body"))
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(fiber.StatusBadRequest, errBody(err.Error()))
	}

	if err := a.Authority.RequestPasswordReset(ctx.Context(), payload.Email); err != nil {
		return a.errJSON(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"success": true,
	})
}

func (a *SessionController) PasswordResetExecute(ctx router.Context) error {
	artifactID, err := uuid.Parse(ctx.Param("uuid", ""))
	if err != nil {
		return a.errJSON(ctx, ErrArtifactNotFound)
	}

	payload := new(NewPasswordRequest)

	if err := ctx.Bind(payload); err != nil {
		return ctx.JSON(fiber.StatusBadRequest, errBody("Error parsing body"))
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(fiber.StatusBadRequest, errBody(err.Error()))
	}

	if err := a.Authority.CompletePasswordReset(ctx.Context(), artifactID, payload.Password); err != nil {
		return a.errJSON(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"success": true,
	})
}

func (a *SessionController) VerifyEmailGet(ctx router.Context) error {
	artifactID, err := uuid.Parse(ctx.Param("uuid", ""))
	if err != nil {
		return a.errJSON(ctx, ErrArtifactNotFound)
	}

	user, err := a.Authority.CompleteVerification(ctx.Context(), artifactID)
	if err != nil {
		return a.errJSON(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"success": true,
		"data":    user,
	})
}

func (a *SessionController) ResendVerificationPost(ctx router.Context) error {
	payload := new(EmailRequest)

	if err := ctx.Bind(payload); err != nil {
		return ctx.JSON(fiber.StatusBadRequest, errBody("Error parsing body"))
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(fiber.StatusBadRequest, errBody(err.Error()))
	}

	if err := a.Authority.ResendVerification(ctx.Context(), payload.Email); err != nil {
		return a.errJSON(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"success": true,
	})
}

// ProtectedRoute guards application routes with the short-lived access
// grant, taken from the grant cookie or an Authorization bearer header.
func (a *SessionController) ProtectedRoute() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			token := ctx.Cookies(a.Config.GetGrantCookieName())
			if token == "" {
				header := ctx.Header("Authorization")
				if strings.HasPrefix(header, "Bearer ") {
					token = strings.TrimPrefix(header, "Bearer ")
				}
			}

			if token == "" {
				return a.errJSON(ctx, ErrNoActiveSession)
			}

			subjectID, err := a.Authority.VerifyAccessGrant(token)
			if err != nil {
				return a.errJSON(ctx, err)
			}

			ctx.Locals(SubjectContextKey, subjectID)
			ctx.SetContext(WithSubjectID(ctx.Context(), subjectID))

			return next(ctx)
		}
	}
}

func (a *SessionController) sessionToken(ctx router.Context) string {
	return ctx.Cookies(a.Config.GetSessionCookieName())
}

func (a *SessionController) setSessionCookies(ctx router.Context, result *LoginResult) {
	ctx.Cookie(&router.Cookie{
		Name:     a.Config.GetSessionCookieName(),
		Value:    result.Session.ID.String(),
		Expires:  result.Session.ExpiresAt,
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})

	ctx.Cookie(&router.Cookie{
		Name:     a.Config.GetGrantCookieName(),
		Value:    result.AccessGrant,
		Expires:  time.Now().Add(AccessGrantLifetime),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (a *SessionController) clearSessionCookies(ctx router.Context) {
	for _, name := range []string{a.Config.GetSessionCookieName(), a.Config.GetGrantCookieName()} {
		ctx.Cookie(&router.Cookie{
			Name:     name,
			Value:    "",
			Expires:  time.Now().Add(-time.Hour * (24 * 365)),
			HTTPOnly: true,
			Secure:   true,
			SameSite: "Lax",
		})
	}
}

// errJSON renders a rich error without leaking internals: internal
// categories collapse to a generic 500 message, and anything that is not
// a rich error goes to the controller's ErrorHandler.
func (a *SessionController) errJSON(ctx router.Context, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		a.Logger.Error("session controller unexpected error", "error", err)
		if a.ErrorHandler != nil {
			return a.ErrorHandler(ctx, err)
		}
		return defaultErrHandler(ctx, err)
	}

	status := richErr.Code
	if status == 0 {
		status = fiber.StatusInternalServerError
	}

	message := richErr.Message
	if richErr.Category == goerrors.CategoryInternal {
		message = "An unexpected server error occurred"
		a.Logger.Error("session controller internal error", "error", err)
	}

	body := map[string]any{
		"success": false,
		"error":   message,
	}
	if richErr.TextCode != "" {
		body["code"] = richErr.TextCode
	}

	return ctx.JSON(status, body)
}

func errBody(message string) map[string]any {
	return map[string]any{
		"success": false,
		"error":   message,
	}
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return fmt.Errorf("values must match")
		}
		return nil
	}
}

func defaultErrHandler(c router.Context, _ error) error {
	return c.JSON(fiber.StatusInternalServerError, errBody("An unexpected server error occurred"))
}
