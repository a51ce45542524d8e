package http

import (
	"github.com/go-chi/chi/v5"

	"github.com/mapcrew/tasking/internal/middleware"
)

// MountRoutes registers all API routes on the given chi router. Every
// lifecycle operation requires an acting user (X-User-ID).
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Actor)

		r.Route("/projects/{projectID}", func(r chi.Router) {
			r.Post("/revert", h.RevertUserTasks)

			r.Route("/tasks", func(r chi.Router) {
				r.Post("/lock-for-validation", h.LockForValidation)
				r.Post("/unlock-after-validation", h.UnlockAfterValidation)

				r.Route("/{taskID}", func(r chi.Router) {
					r.Post("/lock-for-mapping", h.LockForMapping)
					r.Post("/unlock-after-mapping", h.UnlockAfterMapping)
					r.Post("/reset-lock", h.ResetLock)
					r.Post("/split", h.Split)
					r.Get("/history", h.TaskHistory)
				})
			})
		})
	})
}
