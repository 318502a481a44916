package access

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// HTTPConfig configures the HTTP controller.
type HTTPConfig struct {
	// ContextKey is the router locals key holding the session user (default: DefaultContextKey)
	ContextKey string

	// AuthHeader carries the bearer token (default: "Authorization")
	AuthHeader string

	// Debug dumps redacted request payloads
	Debug bool
}

// HTTPController exposes the Service as JSON endpoints. Every response
// body is a Response envelope.
type HTTPController struct {
	service  *Service
	config   HTTPConfig
	logger   Logger
	provider LoggerProvider
}

// HTTPControllerOption customizes the controller.
type HTTPControllerOption func(*HTTPController)

// WithControllerLogger overrides the controller logger.
func WithControllerLogger(logger Logger) HTTPControllerOption {
	return func(c *HTTPController) {
		c.provider, c.logger = ResolveLogger("access.http", c.provider, logger)
	}
}

// WithControllerLoggerProvider resolves the controller logger from a provider.
func WithControllerLoggerProvider(provider LoggerProvider) HTTPControllerOption {
	return func(c *HTTPController) {
		c.provider, c.logger = ResolveLogger("access.http", provider, c.logger)
	}
}

// NewHTTPController creates the JSON controller.
func NewHTTPController(service *Service, cfg HTTPConfig, opts ...HTTPControllerOption) *HTTPController {
	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}
	if cfg.AuthHeader == "" {
		cfg.AuthHeader = "Authorization"
	}

	provider, logger := ResolveLogger("access.http", nil, nil)
	c := &HTTPController{
		service:  service,
		config:   cfg,
		logger:   logger,
		provider: provider,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// RegisterRoutes registers the access routes.
func (c *HTTPController) RegisterRoutes(group RouteRegistrar) {
	group.Post("/hospitals", c.RegisterHospital)
	group.Post("/access-requests", c.RequestDoctorAccess)
	group.Post("/login", c.Login)
	group.Post("/logout", c.Logout)
	group.Post("/password/forgot", c.ForgotPassword)
	group.Post("/password/reset", c.ResetPassword)
	group.Post("/email/verify", c.ConfirmEmail)

	admin := c.RequireSession()
	group.Get("/admin/doctors", c.ListDoctors, admin)
	group.Get("/admin/doctors/pending", c.ListPendingRequests, admin)
	group.Post("/admin/doctors/:id/approve", c.ApproveDoctor, admin)
	group.Post("/admin/doctors/:id/reject", c.RejectDoctor, admin)
	group.Post("/admin/doctors/:id/suspend", c.SuspendDoctor, admin)
}

// RequireSession resolves the bearer token to a user, stores it in the
// router locals under ContextKey and attaches it to the request context.
func (c *HTTPController) RequireSession() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			token := bearerToken(ctx.Header(c.config.AuthHeader))
			if token == "" {
				return c.respondError(ctx, NewPermissionError())
			}

			user, err := c.service.SessionUser(ctx.Context(), token)
			if err != nil {
				return c.respondError(ctx, err)
			}

			ctx.Locals(c.config.ContextKey, user)
			ctx.SetContext(WithContext(ctx.Context(), user))
			return next(ctx)
		}
	}
}

// sessionUser returns the user set by RequireSession, preferring the
// request context over router locals.
func (c *HTTPController) sessionUser(ctx router.Context) (*User, bool) {
	if user, ok := FromContext(ctx.Context()); ok {
		return user, true
	}
	return GetRouterUser(ctx, c.config.ContextKey)
}

func (c *HTTPController) RegisterHospital(ctx router.Context) error {
	payload := new(RegisterHospitalRequest)
	if err := ctx.Bind(payload); err != nil {
		return c.respondError(ctx, NewValidationError(err, "Invalid request payload"))
	}
	c.debug("register hospital", redactRegister(*payload))

	res, err := c.service.RegisterHospital(ctx.Context(), *payload)
	if err != nil {
		return c.respondError(ctx, err)
	}
	return ctx.JSON(http.StatusCreated, OK(MessageHospitalRegistered, res))
}

func (c *HTTPController) RequestDoctorAccess(ctx router.Context) error {
	payload := new(DoctorAccessRequest)
	if err := ctx.Bind(payload); err != nil {
		return c.respondError(ctx, NewValidationError(err, "Invalid request payload"))
	}
	c.debug("request doctor access", redactAccess(*payload))

	res, err := c.service.RequestDoctorAccess(ctx.Context(), *payload)
	if err != nil {
		return c.respondError(ctx, err)
	}
	return ctx.JSON(http.StatusCreated, OK(MessageAccessRequested, res))
}

func (c *HTTPController) Login(ctx router.Context) error {
	payload := new(LoginRequest)
	if err := ctx.Bind(payload); err != nil {
		return c.respondError(ctx, NewValidationError(err, "Invalid request payload"))
	}

	res, err := c.service.Login(ctx.Context(), *payload)
	if err != nil {
		return c.respondError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, OK(MessageLoginSuccess, res))
}

func (c *HTTPController) Logout(ctx router.Context) error {
	token := bearerToken(ctx.Header(c.config.AuthHeader))
	if err := c.service.Logout(ctx.Context(), token); err != nil {
		return c.respondError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, OK(MessageLogoutSuccess, nil))
}

func (c *HTTPController) ForgotPassword(ctx router.Context) error {
	payload := new(ForgotPasswordRequest)
	if err := ctx.Bind(payload); err != nil {
		return c.respondError(ctx, NewValidationError(err, "Invalid request payload"))
	}

	if err := c.service.ForgotPassword(ctx.Context(), *payload); err != nil {
		return c.respondError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, OK(MessageResetLinkSent, nil))
}

func (c *HTTPController) ResetPassword(ctx router.Context) error {
	payload := new(ResetPasswordRequest)
	if err := ctx.Bind(payload); err != nil {
		return c.respondError(ctx, NewValidationError(err, "Invalid request payload"))
	}

	if err := c.service.ResetPassword(ctx.Context(), *payload); err != nil {
		return c.respondError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, OK(MessagePasswordReset, nil))
}

func (c *HTTPController) ConfirmEmail(ctx router.Context) error {
	payload := new(ConfirmEmailRequest)
	if err := ctx.Bind(payload); err != nil {
		return c.respondError(ctx, NewValidationError(err, "Invalid request payload"))
	}

	if err := c.service.ConfirmEmail(ctx.Context(), *payload); err != nil {
		return c.respondError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, OK(MessageEmailVerified, nil))
}

func (c *HTTPController) ListDoctors(ctx router.Context) error {
	admin, ok := c.sessionUser(ctx)
	if !ok {
		return c.respondError(ctx, NewPermissionError())
	}

	var statuses []UserStatus
	if raw := ctx.Query("status", ""); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				statuses = append(statuses, UserStatus(strings.ToLower(part)))
			}
		}
	}

	doctors, err := c.service.ListDoctorsForAdmin(ctx.Context(), admin.ID.String(), statuses...)
	if err != nil {
		return c.respondError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, OK("", doctors))
}

func (c *HTTPController) ListPendingRequests(ctx router.Context) error {
	admin, ok := c.sessionUser(ctx)
	if !ok {
		return c.respondError(ctx, NewPermissionError())
	}

	doctors, err := c.service.ListPendingRequests(ctx.Context(), admin.ID.String())
	if err != nil {
		return c.respondError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, OK("", doctors))
}

func (c *HTTPController) ApproveDoctor(ctx router.Context) error {
	return c.transition(ctx, c.service.ApproveDoctor, MessageDoctorApproved)
}

func (c *HTTPController) RejectDoctor(ctx router.Context) error {
	return c.transition(ctx, c.service.RejectDoctor, MessageDoctorRejected)
}

func (c *HTTPController) SuspendDoctor(ctx router.Context) error {
	return c.transition(ctx, c.service.SuspendDoctor, MessageDoctorSuspended)
}

type transitionFunc func(ctx context.Context, actingAdminID, targetUserID string, opts ...TransitionOption) (*User, error)

func (c *HTTPController) transition(ctx router.Context, fn transitionFunc, message string) error {
	admin, ok := c.sessionUser(ctx)
	if !ok {
		return c.respondError(ctx, NewPermissionError())
	}

	var opts []TransitionOption
	if reason := strings.TrimSpace(ctx.Query("reason", "")); reason != "" {
		opts = append(opts, WithTransitionReason(reason))
	}

	user, err := fn(ctx.Context(), admin.ID.String(), ctx.Param("id"), opts...)
	if err != nil {
		return c.respondError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, OK(message, user))
}

func (c *HTTPController) respondError(ctx router.Context, err error) error {
	status := StatusCodeFromError(err)
	if status >= http.StatusInternalServerError {
		c.logger.Error("access request failed", "error", err)
	}
	return ctx.JSON(status, ResponseFromError(err))
}

func (c *HTTPController) debug(label string, payload any) {
	if !c.config.Debug {
		return
	}
	c.logger.Debug(fmt.Sprintf("%s payload:\n%s", label, print.MaybePrettyJSON(payload)))
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func redactRegister(r RegisterHospitalRequest) RegisterHospitalRequest {
	if r.AdminPassword != "" {
		r.AdminPassword = "****"
	}
	return r
}

func redactAccess(r DoctorAccessRequest) DoctorAccessRequest {
	if r.Password != "" {
		r.Password = "****"
	}
	return r
}
