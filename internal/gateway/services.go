package gateway

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/avagate/internal/health"
	"github.com/vyrodovalexey/avagate/internal/router"
)

// Endpoints answered by the gateway itself. They are matched before the
// pipeline, so they need no token and cost no quota.
const (
	PathBackendHealth = "/api/v1/gateway/health"
	PathServices      = "/api/v1/gateway/services"
)

// ServiceRoute is one route served by a backend.
type ServiceRoute struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Prefix  string `json:"prefix"`
	Public  bool   `json:"public,omitempty"`
}

// Service is a distinct backend and the routes that reach it.
type Service struct {
	Backend string         `json:"backend"`
	Routes  []ServiceRoute `json:"routes"`
}

// ServicesResponse lists the backends of the current route table.
type ServicesResponse struct {
	Services []Service `json:"services"`
	Count    int       `json:"count"`
}

// BackendHealth is the check result of one backend.
type BackendHealth struct {
	Backend string        `json:"backend"`
	Status  health.Status `json:"status"`
	Code    int           `json:"code,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// BackendHealthResponse aggregates the backend checks. Status is
// degraded as soon as one backend is not healthy.
type BackendHealthResponse struct {
	Status    health.Status   `json:"status"`
	Total     int             `json:"total"`
	Healthy   int             `json:"healthy"`
	Services  []BackendHealth `json:"services"`
	Timestamp time.Time       `json:"timestamp"`
}

// services groups routes by backend, keyed by the redacted backend URL.
func services(routes []router.Route) []Service {
	byBackend := make(map[string]*Service)
	for i := range routes {
		r := &routes[i]
		key := r.Target().Redacted()
		svc, ok := byBackend[key]
		if !ok {
			svc = &Service{Backend: key}
			byBackend[key] = svc
		}
		svc.Routes = append(svc.Routes, ServiceRoute{
			Name:    r.Name,
			Version: r.Version,
			Prefix:  r.Prefix,
			Public:  r.Public,
		})
	}

	out := make([]Service, 0, len(byBackend))
	for _, svc := range byBackend {
		slices.SortFunc(svc.Routes, func(a, b ServiceRoute) int { return strings.Compare(a.Name, b.Name) })
		out = append(out, *svc)
	}
	slices.SortFunc(out, func(a, b Service) int { return strings.Compare(a.Backend, b.Backend) })
	return out
}

// backendChecks returns one HTTP check per distinct backend of routes.
func backendChecks(client *http.Client, routes []router.Route, healthPath string) map[string]health.CheckFunc {
	checks := make(map[string]health.CheckFunc)
	for i := range routes {
		u := routes[i].Target()
		key := u.Redacted()
		if _, ok := checks[key]; ok {
			continue
		}
		u.Path = strings.TrimSuffix(u.Path, "/") + healthPath
		u.RawPath = ""
		u.RawQuery = ""
		checks[key] = health.HTTPCheck(client, u.String())
	}
	return checks
}

// syncBackendChecks registers a check for every backend of the current
// route table and drops checks for backends no longer routed to.
func (g *Gateway) syncBackendChecks() {
	g.backends.ReplaceChecks(backendChecks(g.healthClient, g.table.Routes(), g.healthPath))
}

func (g *Gateway) handleServices(c *gin.Context) {
	svcs := services(g.table.Routes())
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, ServicesResponse{Services: svcs, Count: len(svcs)})
}

// handleBackendHealth checks every backend concurrently. It answers 200
// even when backends are down; the body carries the verdict.
func (g *Gateway) handleBackendHealth(c *gin.Context) {
	readiness := g.backends.Readiness(c.Request.Context())

	resp := BackendHealthResponse{
		Status:    health.StatusHealthy,
		Total:     len(readiness.Checks),
		Services:  make([]BackendHealth, 0, len(readiness.Checks)),
		Timestamp: readiness.Timestamp,
	}
	for backend, check := range readiness.Checks {
		bh := BackendHealth{Backend: backend, Status: check.Status, Code: check.Code}
		if check.Status == health.StatusHealthy {
			resp.Healthy++
		} else {
			bh.Error = check.Message
		}
		resp.Services = append(resp.Services, bh)
	}
	if resp.Healthy < resp.Total {
		resp.Status = health.StatusDegraded
	}
	slices.SortFunc(resp.Services, func(a, b BackendHealth) int { return strings.Compare(a.Backend, b.Backend) })

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, resp)
}
