/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the sheet frontend

ROUTE GROUPS:
  /api/materials/*      Catalog document, cell commits, edit history
  /api/agent/*          Preview/confirm broker and read queries
  /api/demo/*           Demo catalog seeding
  /metrics              Prometheus scrape endpoint
  /*                    Static files (frontend)

STATIC FILE SERVING:
  Serves the built sheet frontend from web/dist/ when present, with an
  index.html fallback for client-side routing.

SECURITY NOTE:
  No authentication middleware. All endpoints are public; front with a
  gateway before exposing this beyond a trusted network.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Materials document routes
		r.Route("/materials", func(r chi.Router) {
			r.Get("/", h.GetMaterials)
			r.Put("/", h.PutMaterials)
			r.Post("/cell", h.CommitCell)
			r.Get("/history", h.GetHistory)
		})

		// Agent routes
		r.Route("/agent", func(r chi.Router) {
			r.Post("/preview", h.AgentPreview)
			r.Post("/confirm", h.AgentConfirm)
			r.Route("/actions", func(r chi.Router) {
				r.Get("/pending", h.GetPendingAction)
				r.Get("/{id}", h.GetAction)
			})
			r.Get("/validation", h.GetValidationItems)
			r.Get("/todo", h.GetTodoItems)
			r.Get("/pricing", h.GetPricingSummary)
			r.Get("/sections/{ident}/items", h.GetSectionItems)
			r.Get("/search", h.SearchItems)
		})

		// Demo routes
		r.Route("/demo", func(r chi.Router) {
			r.Post("/load", h.LoadDemo)
		})
	})

	// Prometheus scrape endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Serve static files (sheet frontend)
	// First try ./web/dist (development), then fall back to message
	staticDir := "./web/dist"
	if _, err := os.Stat(staticDir); os.IsNotExist(err) {
		// Try relative to executable
		exe, _ := os.Executable()
		staticDir = filepath.Join(filepath.Dir(exe), "web", "dist")
	}

	if _, err := os.Stat(staticDir); err == nil {
		fileServer := http.FileServer(http.Dir(staticDir))
		r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			fullPath := filepath.Join(staticDir, path)

			// Check if file exists
			if _, err := os.Stat(fullPath); os.IsNotExist(err) {
				// SPA routing: serve index.html
				http.ServeFile(w, r, filepath.Join(staticDir, "index.html"))
				return
			}
			fileServer.ServeHTTP(w, r)
		})
	} else {
		r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Materials Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Materials Engine API</h1>
<p>The frontend is not built yet. Run <code>cd web && npm install && npm run build</code></p>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/materials">/api/materials</a> - Catalog document</li>
<li><a href="/api/materials/history">/api/materials/history</a> - Edit history</li>
<li><a href="/api/agent/pricing">/api/agent/pricing</a> - Price totals</li>
</ul>
</body>
</html>`))
		})
	}

	return r
}
