package web

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/facelink/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	// Create handlers
	sessionHandler := handlers.NewSessionHandler(s.orch, s.logger)
	eventsHandler := handlers.NewEventsHandler(s.orch, s.origins.Allowed, s.logger)
	permissionsHandler := handlers.NewPermissionsHandler(s.orch, s.logger)
	contactsHandler := handlers.NewContactsHandler(s.orch.Contacts(), s.logger)
	galleryHandler := handlers.NewGalleryHandler(s.orch.Gallery(), s.logger)

	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		// The event stream is long lived and stays outside the request timeout.
		r.Get("/session/events", eventsHandler.Stream)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(s.requestTimeout()))

			// Session
			r.Get("/session", sessionHandler.Get)
			r.Put("/session/mode", sessionHandler.SetMode)
			r.Post("/session/capture", sessionHandler.Capture)
			r.Post("/session/upload", sessionHandler.Upload)
			r.Post("/session/select", sessionHandler.Select)
			r.Post("/session/link", sessionHandler.Link)
			r.Delete("/session/selection", sessionHandler.ClearSelection)

			// Permissions
			r.Get("/permissions", permissionsHandler.List)
			r.Post("/permissions/{resource}/allow", permissionsHandler.Allow)
			r.Post("/permissions/{resource}/deny", permissionsHandler.Deny)

			// Contacts
			r.Get("/contacts", contactsHandler.List)
			r.Post("/contacts", contactsHandler.Create)
			r.Post("/contacts/sync", contactsHandler.Sync)

			// Gallery
			r.Get("/gallery/photos", galleryHandler.Photos)
			r.Post("/gallery/photos", galleryHandler.Upload)
			r.Post("/gallery/photos/{id}/link-face", galleryHandler.LinkFace)
			r.Post("/gallery/scan", galleryHandler.Scan)
			r.Post("/gallery/rescan", galleryHandler.Rescan)
			r.Get("/gallery/groups", galleryHandler.Groups)
			r.Get("/gallery/blobs/{filename}", galleryHandler.Blob)
		})
	})
}
