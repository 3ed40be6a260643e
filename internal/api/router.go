package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RequestTimeout bounds a single request, including answer generation and
// image resolution.
const RequestTimeout = 90 * time.Second

func NewRouter(apiHandler *APIHandler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(middleware.Timeout(RequestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Post("/chat", apiHandler.ChatHandler)
		r.Get("/sessions/{sessionID}/messages", apiHandler.SessionMessagesHandler)
		r.Delete("/sessions/{sessionID}", apiHandler.DeleteSessionHandler)

		r.Post("/create-ticket", apiHandler.CreateTicketHandler)
		r.Get("/image-proxy", apiHandler.ImageProxyHandler)
		r.Post("/image-url", apiHandler.ImageURLHandler)

		// Staff routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Get("/tickets", apiHandler.ListTicketsHandler)
			r.Get("/tickets/{ticketID}", apiHandler.GetTicketHandler)
			r.Patch("/tickets/{ticketID}", apiHandler.UpdateTicketHandler)
		})
	})

	return r
}
