package server

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

type stubDashboard struct {
	reports           map[string]bool
	calls             []string
	targets           []string
	writeErrorCalled  bool
	writeErrorStatus  int
	writeErrorMessage string
}

func (s *stubDashboard) record(name string, w http.ResponseWriter) {
	s.calls = append(s.calls, name)
	w.WriteHeader(http.StatusOK)
}

func (s *stubDashboard) ServeView(w http.ResponseWriter, r *http.Request) {
	s.record("view", w)
}

func (s *stubDashboard) ServeHealth(w http.ResponseWriter, r *http.Request) {
	s.record("health", w)
}

func (s *stubDashboard) ServeLoad(w http.ResponseWriter, r *http.Request, target string) {
	s.targets = append(s.targets, target)
	s.record("load", w)
}

func (s *stubDashboard) ServeSelectPeriod(w http.ResponseWriter, r *http.Request) {
	s.record("period", w)
}

func (s *stubDashboard) ServeRefresh(w http.ResponseWriter, r *http.Request) {
	s.record("refresh", w)
}

func (s *stubDashboard) ServePrefetch(w http.ResponseWriter, r *http.Request, target string) {
	s.targets = append(s.targets, target)
	s.record("prefetch", w)
}

func (s *stubDashboard) ReportExists(name string) bool {
	return s.reports[name]
}

func (s *stubDashboard) WriteError(w http.ResponseWriter, status int, message string) {
	s.writeErrorCalled = true
	s.writeErrorStatus = status
	s.writeErrorMessage = message
	w.WriteHeader(status)
	_, _ = w.Write([]byte(message))
}

func TestParseRoute(t *testing.T) {
	cases := map[string]struct {
		path   string
		route  string
		target string
		ok     bool
	}{
		"view":             {path: "/view", route: "view", ok: true},
		"health":           {path: "/health", route: "healthz", ok: true},
		"healthz":          {path: "/healthz", route: "healthz", ok: true},
		"period":           {path: "/period", route: "period", ok: true},
		"refresh":          {path: "/refresh/", route: "refresh", ok: true},
		"report":           {path: "/reports/sales", route: "reports", target: "sales", ok: true},
		"prefetch":         {path: "/prefetch/summary", route: "prefetch", target: "summary", ok: true},
		"report needs id":  {path: "/reports", ok: false},
		"double slash":     {path: "//reports//sales//", ok: false},
		"unknown root":     {path: "/unknown", ok: false},
		"unknown scoped":   {path: "/view/sales", ok: false},
		"too deep":         {path: "/reports/sales/extra", ok: false},
		"empty path":       {path: "/", ok: false},
		"blank path":       {path: "", ok: false},
		"case insensitive": {path: "/REPORTS/sales", route: "reports", target: "sales", ok: true},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			route, target, ok := parseRoute(tc.path)
			if route != tc.route || target != tc.target || ok != tc.ok {
				t.Fatalf("parseRoute(%q) = (%q, %q, %t), want (%q, %q, %t)",
					tc.path, route, target, ok, tc.route, tc.target, tc.ok)
			}
		})
	}
}

func TestNewDashboardHandlerNilDashboard(t *testing.T) {
	handler := NewDashboardHandler(nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/view", http.NoBody)

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 when dashboard unavailable, got %d", rec.Code)
	}
}

func TestDashboardHandlerDispatchesRoutes(t *testing.T) {
	stub := &stubDashboard{reports: map[string]bool{"sales": true, "summary": true}}
	handler := NewDashboardHandler(stub)

	tests := []struct {
		name        string
		method      string
		path        string
		wantCalls   []string
		wantTargets []string
	}{
		{name: "view", method: http.MethodGet, path: "/view", wantCalls: []string{"view"}},
		{name: "health alias", method: http.MethodGet, path: "/health", wantCalls: []string{"health"}},
		{name: "period", method: http.MethodPost, path: "/period", wantCalls: []string{"period"}},
		{name: "refresh", method: http.MethodPost, path: "/refresh", wantCalls: []string{"refresh"}},
		{
			name:        "load report",
			method:      http.MethodPost,
			path:        "/reports/sales",
			wantCalls:   []string{"load"},
			wantTargets: []string{"sales"},
		},
		{
			name:        "prefetch report",
			method:      http.MethodPost,
			path:        "/prefetch/summary",
			wantCalls:   []string{"prefetch"},
			wantTargets: []string{"summary"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stub.calls = nil
			stub.targets = nil

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(tc.method, tc.path, http.NoBody)

			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", rec.Code)
			}
			if !reflect.DeepEqual(stub.calls, tc.wantCalls) {
				t.Fatalf("expected calls %v, got %v", tc.wantCalls, stub.calls)
			}
			if !reflect.DeepEqual(stub.targets, tc.wantTargets) {
				t.Fatalf("expected targets %v, got %v", tc.wantTargets, stub.targets)
			}
		})
	}
}

func TestDashboardHandlerMissingReport(t *testing.T) {
	stub := &stubDashboard{reports: map[string]bool{}}
	handler := NewDashboardHandler(stub)

	for _, path := range []string{"/reports/missing", "/prefetch/missing"} {
		stub.writeErrorCalled = false
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, http.NoBody)

		handler.ServeHTTP(rec, req)

		if !stub.writeErrorCalled {
			t.Fatalf("expected WriteError to be invoked for %s", path)
		}
		if stub.writeErrorStatus != http.StatusNotFound {
			t.Fatalf("expected WriteError to use 404, got %d", stub.writeErrorStatus)
		}
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected recorder to capture 404, got %d", rec.Code)
		}
	}
	if len(stub.calls) != 0 {
		t.Fatalf("expected no dashboard calls for missing report, got %v", stub.calls)
	}
}

func TestDashboardHandlerRejectsWrongMethod(t *testing.T) {
	stub := &stubDashboard{reports: map[string]bool{"sales": true}}
	handler := NewDashboardHandler(stub)

	cases := map[string]string{
		"/view":          http.MethodPost,
		"/refresh":       http.MethodGet,
		"/reports/sales": http.MethodGet,
	}
	for path, method := range cases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(method, path, http.NoBody)

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected 405 for %s %s, got %d", method, path, rec.Code)
		}
		if rec.Header().Get("Allow") == "" {
			t.Fatalf("expected Allow header for %s %s", method, path)
		}
	}
	if len(stub.calls) != 0 {
		t.Fatalf("expected no dashboard calls, got %v", stub.calls)
	}
}

func TestDashboardHandlerNotFound(t *testing.T) {
	stub := &stubDashboard{}
	handler := NewDashboardHandler(stub)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/unsupported/path", http.NoBody)

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unsupported route, got %d", rec.Code)
	}
	if len(stub.calls) != 0 {
		t.Fatalf("expected no dashboard calls for unsupported route")
	}
}
