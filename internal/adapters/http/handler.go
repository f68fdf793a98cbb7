package http

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/melih/lighthouse-sandbox/internal/core/domain"
	"github.com/melih/lighthouse-sandbox/internal/core/ports"
	"github.com/melih/lighthouse-sandbox/internal/core/services"
)

// ExpiryNotifier receives out-of-band expiry and orphan notifications and
// schedules their cleanup asynchronously.
type ExpiryNotifier interface {
	HandleSessionExpired(ctx context.Context, sessionID string)
	HandleOrphanedContainer(ctx context.Context, containerID string)
}

// SessionHandler exposes the session and exec operations over HTTP. The
// handlers are thin: validation and JSON plumbing only, all semantics live
// in the orchestrator.
type SessionHandler struct {
	orch     *services.Orchestrator
	store    ports.SessionStore
	notifier ExpiryNotifier
}

// NewSessionHandler creates the HTTP handler set.
func NewSessionHandler(orch *services.Orchestrator, store ports.SessionStore, notifier ExpiryNotifier) *SessionHandler {
	return &SessionHandler{orch: orch, store: store, notifier: notifier}
}

type createSessionRequest struct {
	UserID string `json:"user_id"`
}

func (h *SessionHandler) CreateSession(c *fiber.Ctx) error {
	var req createSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user_id is required",
		})
	}

	sess, err := h.orch.StartSession(c.Context(), req.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.Status(fiber.StatusCreated).JSON(sess)
}

func (h *SessionHandler) ListSessions(c *fiber.Ctx) error {
	sessions, err := h.orch.Sessions(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(sessions)
}

func (h *SessionHandler) DeleteSession(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.orch.StopSession(c.Context(), id); err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, domain.ErrSessionNotFound) {
			status = fiber.StatusNotFound
		}
		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.SendStatus(fiber.StatusOK)
}

type createExecRequest struct {
	Key        string   `json:"key"`
	Cmd        []string `json:"cmd"`
	Env        []string `json:"env"`
	WorkingDir string   `json:"working_dir"`
	TTY        bool     `json:"tty"`
}

func (h *SessionHandler) CreateExec(c *fiber.Ctx) error {
	var req createExecRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Key == "" || len(req.Cmd) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "key and cmd are required",
		})
	}

	exec, err := h.execFor(c)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	spec := domain.ExecSpec{
		Cmd:          req.Cmd,
		Env:          req.Env,
		WorkingDir:   req.WorkingDir,
		TTY:          req.TTY,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: !req.TTY,
	}
	if err := exec.CreateSession(c.Context(), req.Key, spec); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.SendStatus(fiber.StatusCreated)
}

func (h *SessionHandler) StartExec(c *fiber.Ctx) error {
	exec, err := h.execFor(c)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err := exec.StartSession(c.Context(), c.Params("key")); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	_ = h.store.Touch(c.Context(), c.Params("id"))
	return c.SendStatus(fiber.StatusOK)
}

type execInputRequest struct {
	Data string `json:"data"`
}

func (h *SessionHandler) ExecInput(c *fiber.Ctx) error {
	var req execInputRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	exec, err := h.execFor(c)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	accepted := exec.Write(c.Params("key"), []byte(req.Data))
	_ = h.store.Touch(c.Context(), c.Params("id"))
	return c.JSON(fiber.Map{"accepted": accepted})
}

type execResizeRequest struct {
	Cols uint `json:"cols"`
	Rows uint `json:"rows"`
}

func (h *SessionHandler) ExecResize(c *fiber.Ctx) error {
	var req execResizeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	exec, err := h.execFor(c)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err := exec.Resize(c.Context(), c.Params("key"), req.Cols, req.Rows); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *SessionHandler) KillExec(c *fiber.Ctx) error {
	exec, err := h.execFor(c)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	signal := c.Query("signal", "SIGTERM")
	if err := exec.Kill(c.Context(), c.Params("key"), signal); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.SendStatus(fiber.StatusOK)
}

// NotifySessionExpired accepts an out-of-band expiry notification and hands
// the session to the reaper without waiting for its next timer cycle. The
// cleanup runs detached from the request, so the request context is not
// carried into it.
func (h *SessionHandler) NotifySessionExpired(c *fiber.Ctx) error {
	h.notifier.HandleSessionExpired(context.Background(), c.Params("id"))
	return c.SendStatus(fiber.StatusAccepted)
}

// NotifyOrphanedContainer accepts a notification about a container whose
// session record is already gone and schedules its teardown.
func (h *SessionHandler) NotifyOrphanedContainer(c *fiber.Ctx) error {
	h.notifier.HandleOrphanedContainer(context.Background(), c.Params("id"))
	return c.SendStatus(fiber.StatusAccepted)
}

// execFor resolves the exec service bound to the session in the route.
func (h *SessionHandler) execFor(c *fiber.Ctx) (ports.ExecService, error) {
	return h.orch.Exec(c.Params("id"))
}
