package server

import (
	"fmt"
	"net/http"
	"strings"
)

// DashboardHTTP defines the minimal surface the lifecycle router needs from
// the dashboard runtime to serve HTTP requests.
type DashboardHTTP interface {
	ServeView(http.ResponseWriter, *http.Request)
	ServeHealth(http.ResponseWriter, *http.Request)
	ServeLoad(http.ResponseWriter, *http.Request, string)
	ServeSelectPeriod(http.ResponseWriter, *http.Request)
	ServeRefresh(http.ResponseWriter, *http.Request)
	ServePrefetch(http.ResponseWriter, *http.Request, string)
	ReportExists(string) bool
	WriteError(http.ResponseWriter, int, string)
}

const (
	routeView     = "view"
	routeHealth   = "healthz"
	routeReports  = "reports"
	routePeriod   = "period"
	routeRefresh  = "refresh"
	routePrefetch = "prefetch"
)

// NewDashboardHandler wires the HTTP routing facade to the dashboard runtime
// so the lifecycle server owns URL dispatch without embedding routing logic
// into the runtime itself.
func NewDashboardHandler(d DashboardHTTP) http.Handler {
	if d == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "dashboard unavailable", http.StatusServiceUnavailable)
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, target, ok := parseRoute(r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}
		if want := routeMethod(route); r.Method != want {
			w.Header().Set("Allow", want)
			d.WriteError(w, http.StatusMethodNotAllowed, fmt.Sprintf("%s requires %s", r.URL.Path, want))
			return
		}

		switch route {
		case routeView:
			d.ServeView(w, r)
		case routeHealth:
			d.ServeHealth(w, r)
		case routePeriod:
			d.ServeSelectPeriod(w, r)
		case routeRefresh:
			d.ServeRefresh(w, r)
		case routeReports, routePrefetch:
			if !d.ReportExists(target) {
				d.WriteError(w, http.StatusNotFound, fmt.Sprintf("report %q not found", target))
				return
			}
			if route == routeReports {
				d.ServeLoad(w, r, target)
				return
			}
			d.ServePrefetch(w, r, target)
		default:
			http.NotFound(w, r)
		}
	})
}

func routeMethod(route string) string {
	switch route {
	case routeView, routeHealth:
		return http.MethodGet
	default:
		return http.MethodPost
	}
}

func parseRoute(path string) (string, string, bool) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "", "", false
	}
	parts := strings.Split(trimmed, "/")
	switch len(parts) {
	case 1:
		route := strings.ToLower(parts[0])
		switch route {
		case routeView, routePeriod, routeRefresh:
			return route, "", true
		case "health", "healthz":
			return routeHealth, "", true
		}
	case 2:
		if parts[1] == "" {
			return "", "", false
		}
		route := strings.ToLower(parts[0])
		switch route {
		case routeReports, routePrefetch:
			return route, parts[1], true
		}
	}
	return "", "", false
}
