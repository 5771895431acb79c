package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Routes builds the router for the whole API.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(Logger(h.logger))
	r.Use(CORS(h.opts.CORSOrigin))

	r.Get("/health", h.HealthCheck)

	// Public
	r.Post("/register", h.Register)
	r.Post("/login", h.Login)
	r.Get("/library", h.ListBooks)
	r.Get("/library/book/{id}", h.GetBook)
	r.Get("/library/reading-activity/recent", h.RecentActivity)
	r.Post("/library/chat", h.Chat)

	if h.opts.UploadDir != "" {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(h.opts.UploadDir))))
	}

	// Authenticated
	r.Group(func(r chi.Router) {
		r.Use(h.RequireAuth)

		r.Post("/library/signout", h.Signout)

		r.Post("/library/requestBook/{bookId}", h.RequestBook)
		r.Post("/library/returnBook", h.ReturnBook)
		r.Post("/library/rate", h.RateBook)
		r.Delete("/library/book/{id}", h.DeleteBook)
		r.Post("/library/add-book", h.AddBook)
		r.Get("/library/issued-books/{userId}", h.IssuedBooks)
		r.Get("/library/requests/{userId}", h.UserRequests)

		r.Post("/library/reading-progress", h.SaveProgress)
		r.Get("/library/reading-progress/{userId}", h.GetProgress)

		r.Post("/library/request-new-book", h.CreateBookRequest)
		r.Get("/library/book-requests", h.ListBookRequests)
		r.Put("/library/book-requests/{id}", h.DecideBookRequest)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/handle-request", h.HandleRequest)
			r.Get("/pending-requests", h.PendingRequests)
			r.Post("/pending-requests", h.PendingRequests)
		})

		// {id} is a user id except for /read, where it names a notification.
		r.Get("/notifications/{id}", h.ListNotifications)
		r.Post("/notifications/{id}/clear", h.ClearNotifications)
		r.Post("/notifications/{id}/read", h.MarkNotificationRead)
	})

	r.With(h.RequireStreamAuth).Get("/notifications/{id}/stream", h.StreamNotifications)

	return r
}
