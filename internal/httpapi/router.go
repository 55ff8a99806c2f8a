package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Deps carries everything the router needs; cmd/api wires it.
type Deps struct {
	Service chatService
	Users   userResolver
	Usage   recentUsageReader
	Pepper  string
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(serverErrorLoggerMiddleware)
	r.Use(corsMiddleware)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(newIPRateLimiter(120, time.Minute).middleware)
	r.Use(middleware.Heartbeat("/healthz"))

	s := server{
		svc:    d.Service,
		users:  d.Users,
		usage:  d.Usage,
		pepper: d.Pepper,
	}

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.userAuthMiddleware)

			r.Post("/chat", s.handleChat)

			r.Get("/usage", s.handleGetUsage)
			r.Get("/usage/history", s.handleGetUsageHistory)

			r.Get("/conversations", s.handleListConversations)
			r.Get("/conversations/{conversationID}/messages", s.handleListMessages)
			r.Patch("/conversations/{conversationID}", s.handleRenameConversation)
			r.Delete("/conversations/{conversationID}", s.handleDeleteConversation)

			r.Delete("/messages/{messageID}", s.handleDeleteMessage)
			r.Post("/pins", s.handleSetPin)
			r.Get("/pins", s.handleListPins)

			r.Get("/profile", s.handleGetProfile)
			r.Patch("/profile", s.handleUpdateProfile)
			r.Put("/profile/model-key", s.handleSetModelKey)
			r.Delete("/profile/model-key", s.handleClearModelKey)
		})
	})

	return r
}
