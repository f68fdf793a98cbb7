package http

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/melih/lighthouse-sandbox/internal/core/domain"
	"github.com/melih/lighthouse-sandbox/internal/core/ports"
)

// ProxyHandler routes subdomain requests (e.g. <sessionId>.localhost) to the
// session's sandbox container via its dynamically mapped app port.
type ProxyHandler struct {
	store      ports.SessionStore
	containers ports.ContainerService
	appPort    string
}

// NewProxyHandler creates a new proxy handler. appPort is the fixed
// container port ("8080/tcp") whose host mapping requests are forwarded to.
func NewProxyHandler(store ports.SessionStore, containers ports.ContainerService, appPort string) *ProxyHandler {
	return &ProxyHandler{store: store, containers: containers, appPort: appPort}
}

// ProxyRequest intercepts requests whose host carries a session subdomain
// and forwards them to the sandbox's published app port on the loopback.
func (h *ProxyHandler) ProxyRequest(c *fiber.Ctx) error {
	host := c.Hostname()

	parts := strings.Split(host, ".")
	if len(parts) < 2 {
		return c.Next()
	}
	subdomain := parts[0]
	if subdomain == "www" || subdomain == "" {
		return c.Next()
	}

	sess, err := h.store.Get(c.Context(), subdomain)
	if err != nil {
		return c.Next()
	}
	if sess.Status != domain.SessionRunning || sess.ContainerID == "" {
		return c.Status(fiber.StatusNotFound).SendString(fmt.Sprintf("Session '%s' is not running", subdomain))
	}

	rec, err := h.containers.Inspect(c.Context(), sess.ContainerID)
	if err != nil || rec == nil {
		return c.Status(fiber.StatusNotFound).SendString(fmt.Sprintf("Sandbox for session '%s' not found", subdomain))
	}
	hostPort := rec.Ports[h.appPort]
	if hostPort == "" {
		return c.Status(fiber.StatusBadGateway).SendString("Sandbox app port is not mapped")
	}

	remote, err := url.Parse("http://127.0.0.1:" + hostPort)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("Invalid target URL")
	}

	proxy := httputil.NewSingleHostReverseProxy(remote)

	// Rewrite the Host header so the app inside the sandbox sees a host it
	// recognizes instead of the public subdomain.
	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		req.Host = remote.Host
		req.URL.Host = remote.Host
		req.URL.Scheme = remote.Scheme
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprintf(w, "Proxy Info: target=%s error=%v", remote.Host, err)
	}

	return adaptor.HTTPHandler(proxy)(c)
}
