package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kevinaaaquil/bookcatalog/handlers"
	"github.com/kevinaaaquil/bookcatalog/middleware"
	"github.com/kevinaaaquil/bookcatalog/models"
	"github.com/kevinaaaquil/bookcatalog/service"
)

func (a *app) routes() http.Handler {
	health := &handlers.HealthHandler{DB: a.db}
	auth := &handlers.AuthHandler{Users: a.db, JWTSecret: a.cfg.Auth.JWTSecret, TokenTTL: a.cfg.Auth.TokenTTL}
	books := &handlers.BooksHandler{Books: a.db, Recommend: service.NewRecommender(a.db)}
	search := &handlers.SearchHandler{Metadata: a.metadata}
	upload := &handlers.UploadHandler{MaxBytes: a.cfg.MaxUploadBytes()}
	users := &handlers.UsersHandler{Users: a.db}
	admin := &handlers.AdminHandler{Backups: a.backups, Analytics: a.db}

	// Optional backends stay nil interfaces when unconfigured.
	if a.search != nil {
		books.Index = a.search
		search.Index = a.search
	}
	if a.covers != nil {
		books.Covers = a.covers
		upload.Images = a.covers
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.SecureHeaders)
	r.Use(middleware.CORS(a.cfg.Server.AllowedOrigins))
	r.Use(middleware.Track(a.requests))
	r.Use(middleware.ErrorLog(a.db))

	r.Get("/", health.Welcome)
	r.Get("/health", health.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", auth.Register)
			r.With(httprate.LimitByIP(10, time.Minute)).Post("/login", auth.Login)
			r.Group(func(r chi.Router) {
				r.Use(middleware.Auth(a.cfg.Auth.JWTSecret, a.db))
				r.Get("/me", auth.Me)
				r.Put("/preferences", auth.UpdatePreferences)
			})
		})

		r.Get("/upload/placeholder/{title}", upload.Placeholder)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(a.cfg.Auth.JWTSecret, a.db))

			r.Route("/books", func(r chi.Router) {
				r.Get("/", books.List)
				r.Post("/", books.Create)
				r.Get("/recommendations", books.Recommendations)
				r.Get("/recommendations/personalized", books.Personalized)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", books.Get)
					r.Put("/", books.Update)
					r.Delete("/", books.Delete)
					r.Post("/reviews", books.AddReview)
					r.Patch("/status", books.UpdateStatus)
					r.Get("/similar", books.Similar)
				})
			})

			r.Route("/search", func(r chi.Router) {
				r.Use(httprate.LimitByIP(100, 15*time.Minute))
				r.Get("/isbn/{isbn}", search.LookupISBN)
				r.Post("/isbn/validate", search.ValidateISBN)
				r.Post("/isbn/convert", search.ConvertISBN)
				r.Post("/isbn/extract", search.ExtractISBN)
				r.Get("/books", search.SearchBooks)
				r.Get("/books/search", search.SearchExternal)
				r.Get("/suggest", search.Suggest)
			})

			r.Route("/upload", func(r chi.Router) {
				r.Post("/single", upload.Single)
				r.Put("/{publicId}", upload.Replace)
				r.Delete("/{publicId}", upload.Delete)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireCapability(models.CapManage))
				r.Post("/backup", admin.CreateBackup)
				r.Post("/backup/restore", admin.RestoreBackup)
				r.Post("/backup/schedule", admin.ScheduleBackup)
				r.Get("/backups", admin.ListBackups)
				r.Get("/metrics/system", admin.SystemMetrics)
				r.Get("/metrics/users", admin.UserMetrics)
				r.Get("/metrics/books", admin.BookMetrics)
				r.Get("/logs/errors", admin.ErrorLogs)
				r.Delete("/logs/errors", admin.ClearErrorLogs)
				r.Get("/users", users.ListUsers)
				r.Patch("/users/{id}", users.UpdateUser)
				r.Delete("/users/{id}", users.DeleteUser)
			})
		})
	})
	return r
}
