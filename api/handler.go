package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/eboxsecure/ebox/core/device"
	"github.com/eboxsecure/ebox/core/domain"
	"github.com/eboxsecure/ebox/core/identity"
	"github.com/eboxsecure/ebox/core/logger"
	"github.com/eboxsecure/ebox/core/order"
	"github.com/eboxsecure/ebox/core/pickup"
	"github.com/eboxsecure/ebox/core/ratelimit"
	"github.com/eboxsecure/ebox/core/session"
	"github.com/eboxsecure/ebox/core/telemetry"
	"github.com/labstack/echo/v4"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

const (
	ctxSession = "session"
	ctxDevice  = "device"

	qrSize = 256
)

type Handler struct {
	pickup         *pickup.Service
	sessionManager *session.Manager
	users          domain.UserStorage
	orders         domain.OrderStorage
	devices        *device.Authenticator
	limiter        echo.MiddlewareFunc
	telemetry      *telemetry.Provider
	log            *zap.Logger
}

func NewHandler(svc *pickup.Service, sm *session.Manager, users domain.UserStorage, orders domain.OrderStorage) *Handler {
	return &Handler{
		pickup:         svc,
		sessionManager: sm,
		users:          users,
		orders:         orders,
		log:            logger.Named(nil, "api"),
	}
}

// SetDeviceAuthenticator guards the verification endpoint with device
// credentials. Without it the endpoint is open.
func (h *Handler) SetDeviceAuthenticator(a *device.Authenticator) {
	h.devices = a
}

func (h *Handler) SetTelemetry(p *telemetry.Provider) {
	h.telemetry = p
}

// SetVerifyLimiter caps verification attempts per device, or per client IP
// when devices are not authenticated. Call before RegisterRoutes.
func (h *Handler) SetVerifyLimiter(l ratelimit.RateLimiter, limit int, window time.Duration) {
	h.limiter = ratelimit.Middleware(l, ratelimit.Config{
		Limit:  limit,
		Window: window,
		KeyFunc: func(c echo.Context) string {
			if dev, ok := c.Get(ctxDevice).(*device.Device); ok {
				return "device:" + dev.ID
			}
			return "ip:" + c.RealIP()
		},
		OnDeny: func(c echo.Context, key string) {
			h.log.Warn("pickup verification rate limited", zap.String("key", key))
		},
	})
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	verify := []echo.MiddlewareFunc{h.DeviceMiddleware}
	if h.limiter != nil {
		verify = append(verify, h.limiter)
	}
	g.POST("/pickup/verify", h.HandleVerify, verify...)

	// Protected routes
	g.POST("/pickup/token", h.HandleIssue, h.AuthMiddleware)
	g.GET("/pickup/token/qr", h.HandleIssueQR, h.AuthMiddleware)
	g.GET("/orders", h.HandleListOrders, h.AuthMiddleware)
}

func bearer(c echo.Context) string {
	v := c.Request().Header.Get(echo.HeaderAuthorization)
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return strings.TrimSpace(v)
}

func (h *Handler) AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		sid := bearer(c)
		if sid == "" {
			return h.Error(c, http.StatusUnauthorized, "Authorization header required", nil)
		}

		s, err := h.sessionManager.Validate(c.Request().Context(), sid)
		if err != nil {
			return h.Error(c, http.StatusUnauthorized, "Unauthorized", nil)
		}

		c.Set(ctxSession, s)
		return next(c)
	}
}

// DeviceMiddleware authenticates the handoff device calling the verification
// endpoint. It is a no-op when no device authenticator is configured.
func (h *Handler) DeviceMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.devices == nil {
			return next(c)
		}

		ctx := c.Request().Context()
		raw := bearer(c)
		if raw == "" {
			h.telemetry.RecordDeviceAuth(ctx, false)
			return h.Error(c, http.StatusUnauthorized, "Device credential required", nil)
		}

		dev, err := h.devices.Parse(raw)
		h.telemetry.RecordDeviceAuth(ctx, err == nil)
		if err != nil {
			h.log.Warn("device authentication failed", zap.Error(err))
			return h.Error(c, http.StatusUnauthorized, "Unauthorized", nil)
		}

		c.Set(ctxDevice, dev)
		c.SetRequest(c.Request().WithContext(pickup.ContextWithDevice(ctx, dev.ID)))
		return next(c)
	}
}

func (h *Handler) HandleIssue(c echo.Context) error {
	var body struct {
		OrderID int64 `json:"orderId"`
	}
	if err := c.Bind(&body); err != nil {
		return h.Error(c, http.StatusBadRequest, "Invalid request body", err)
	}

	token, status, err := h.issue(c, body.OrderID)
	if err != nil {
		return h.issueError(c, status, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"token": token})
}

// HandleIssueQR returns the pickup token as a PNG QR code for display at the
// handoff counter.
func (h *Handler) HandleIssueQR(c echo.Context) error {
	orderID, err := strconv.ParseInt(c.QueryParam("orderId"), 10, 64)
	if err != nil {
		return h.Error(c, http.StatusBadRequest, "Invalid orderId", pickup.ErrInvalidOrderID)
	}

	token, status, err := h.issue(c, orderID)
	if err != nil {
		return h.issueError(c, status, err)
	}

	png, err := qrcode.Encode(token, qrcode.Medium, qrSize)
	if err != nil {
		return h.Error(c, http.StatusInternalServerError, "Internal server error", err)
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.Blob(http.StatusOK, "image/png", png)
}

// issue mints a token for an order the session owns. Orders of other users
// are reported as missing.
func (h *Handler) issue(c echo.Context, orderID int64) (string, int, error) {
	ctx := c.Request().Context()
	s := c.Get(ctxSession).(*identity.Session)

	if err := order.ValidateID(orderID); err != nil {
		return "", http.StatusBadRequest, err
	}

	o, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return "", http.StatusNotFound, err
		}
		return "", http.StatusInternalServerError, err
	}
	if o.OwnerID != s.IdentityID {
		return "", http.StatusNotFound, order.ErrNotFound
	}

	token, err := h.pickup.Issue(ctx, s.ID, orderID)
	if err != nil {
		if errors.Is(err, pickup.ErrInvalidOrderID) {
			return "", http.StatusBadRequest, err
		}
		return "", http.StatusInternalServerError, err
	}
	return token, http.StatusOK, nil
}

func (h *Handler) issueError(c echo.Context, status int, err error) error {
	switch status {
	case http.StatusBadRequest:
		return h.Error(c, status, "Invalid orderId", err)
	case http.StatusNotFound:
		return h.Error(c, status, "Order not found", nil)
	}
	var cfgErr *pickup.ConfigurationError
	if errors.As(err, &cfgErr) {
		return h.Error(c, status, "Pickup tokens unavailable", nil)
	}
	h.log.Error("pickup token issuance failed", zap.Error(err))
	return h.Error(c, status, "Internal server error", nil)
}

// HandleVerify answers 200 with the verdict for every well-formed body; the
// rejection reason stays in the service logs.
func (h *Handler) HandleVerify(c echo.Context) error {
	var body struct {
		PickupToken string `json:"pickupToken"`
	}
	if err := c.Bind(&body); err != nil {
		return h.Error(c, http.StatusBadRequest, "Invalid request body", err)
	}

	ok := h.pickup.Verify(c.Request().Context(), body.PickupToken)
	return c.JSON(http.StatusOK, map[string]bool{"authorized": ok})
}

func (h *Handler) HandleListOrders(c echo.Context) error {
	ctx := c.Request().Context()
	s := c.Get(ctxSession).(*identity.Session)

	u, err := h.users.GetUser(ctx, s.IdentityID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return h.Error(c, http.StatusForbidden, "Forbidden", nil)
		}
		return h.Error(c, http.StatusInternalServerError, "Internal server error", nil)
	}

	scope, err := order.ScopeFor(u)
	if err != nil {
		h.log.Warn("order listing denied", zap.String("user_id", u.ID), zap.Error(err))
		return h.Error(c, http.StatusForbidden, "Forbidden", nil)
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if page < 1 {
		page = 1
	}

	orders, err := h.orders.ListOrders(ctx, scope, page, limit)
	if err != nil {
		h.log.Error("order listing failed", zap.Error(err))
		return h.Error(c, http.StatusInternalServerError, "Internal server error", nil)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"orders": orders,
		"page":   page,
	})
}

// Helper for professional errors
func (h *Handler) Error(c echo.Context, code int, message string, err error) error {
	resp := map[string]interface{}{
		"status": message,
		"code":   code,
	}
	if err != nil {
		resp["error"] = err.Error()
	}
	return c.JSON(code, resp)
}
