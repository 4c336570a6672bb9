package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	api "github.com/skillforge/skillforge-training/internal/api/http"
	"github.com/skillforge/skillforge-training/internal/audit"
	auth "github.com/skillforge/skillforge-training/internal/auth/middleware"
	"github.com/skillforge/skillforge-training/internal/cache"
	"github.com/skillforge/skillforge-training/internal/config"
	"github.com/skillforge/skillforge-training/internal/db"
	"github.com/skillforge/skillforge-training/internal/rbac"
	"github.com/skillforge/skillforge-training/internal/training"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	store := training.NewSQLStore(dbh)

	// --- Engine ---
	opts := []training.ServiceOption{
		training.WithAudit(audit.NewEventRepo(dbh)),
	}
	if cfg.RedisAddr != "" {
		pc, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.CacheTTL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer pc.Close()
		opts = append(opts, training.WithCache(pc))
	}
	svc := training.NewService(store, opts...)

	// --- Auth ---
	authSvc := auth.NewAuthService(cfg.AuthSecret)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	origins := cfg.CORSOriginsOffline
	if cfg.Mode == config.ModeOnline {
		origins = cfg.CORSOriginsOnline
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if cfg.EnableLocalAuth {
		r.Post("/auth/login", auth.LoginHandler(authSvc, dbh))
	}

	// Protected API (JWT -> subject+role in context -> RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))

		// Learner progression
		pr.With(rbac.Require("progress:view")).
			Get("/api/trainings/{trainingID}/progress", api.GetProgressHandler(svc))
		pr.With(rbac.Require("module:view")).
			Post("/api/modules/{moduleID}/view", api.ViewModuleHandler(svc))
		pr.With(rbac.Require("module:complete")).
			Post("/api/modules/{moduleID}/complete", api.CompleteModuleHandler(svc))

		// Quizzes
		pr.With(rbac.Require("quiz:view")).
			Get("/api/modules/{moduleID}/quiz", api.GetModuleQuizHandler(svc))
		pr.With(rbac.Require("quiz:attempt")).
			Post("/api/modules/{moduleID}/quiz/attempts", api.SubmitModuleQuizHandler(svc))
		pr.With(rbac.Require("quiz:view")).
			Get("/api/trainings/{trainingID}/quiz", api.GetFinalQuizHandler(svc))
		pr.With(rbac.Require("quiz:attempt")).
			Post("/api/trainings/{trainingID}/quiz/attempts", api.SubmitFinalQuizHandler(svc))
		pr.With(rbac.RequireAny("attempt:list-own", "attempt:list-all")).
			Get("/api/enrollments/{enrollmentID}/attempts", api.ListAttemptsHandler(svc))

		// Certificates
		pr.With(rbac.RequireAny("certificate:view-own", "certificate:view-all")).
			Get("/api/certificates", api.GetCertificateHandler(svc))
		pr.With(rbac.RequireAny("certificate:issue-own", "certificate:issue-all")).
			Post("/api/certificates/issue", api.IssueCertificateHandler(svc))

		// Catalog + privileged actions
		pr.With(rbac.Require("training:create")).
			Post("/api/trainings", api.CreateTrainingHandler(svc))
		pr.With(rbac.Require("training:publish")).
			Post("/api/trainings/{trainingID}/publish", api.SetTrainingStatusHandler(svc, training.TrainingPublished))
		pr.With(rbac.Require("training:archive")).
			Post("/api/trainings/{trainingID}/archive", api.SetTrainingStatusHandler(svc, training.TrainingArchived))
		pr.With(rbac.Require("enrollment:reset")).
			Post("/api/enrollments/{enrollmentID}/reset", api.ResetEnrollmentHandler(svc))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	log.Printf("listening on %s (mode=%s, db=%s)", cfg.HTTPAddr, cfg.Mode, cfg.DBDriver)
	log.Fatal(http.ListenAndServe(cfg.HTTPAddr, r))
}
