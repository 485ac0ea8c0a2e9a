package main

import (
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"homeoclinic-agent/internal/agent"
	"homeoclinic-agent/internal/config"
	"homeoclinic-agent/internal/consultation"
	"homeoclinic-agent/internal/report"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// 1. Infrastructure
	var db *sql.DB
	for i := 0; i < 10; i++ {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err == nil {
			err = db.Ping()
		}
		if err == nil {
			break
		}
		fmt.Printf("Waiting for DB... (%d/10)\n", i+1)
		time.Sleep(2 * time.Second)
	}

	var repo consultation.Repository
	if err != nil {
		log.Printf("Could not connect to DB: %v. Falling back to in-memory storage (data will not survive a restart).\n", err)
		repo = consultation.NewMemoryRepository()
	} else {
		log.Println("Connected to Database.")
		repo = consultation.NewRepository(db)

		m, err := migrate.New(cfg.MigrationsPath, cfg.DatabaseURL)
		if err != nil {
			log.Printf("Migration init failed: %v", err)
		} else {
			if err := m.Up(); err != nil && err != migrate.ErrNoChange {
				log.Printf("Migration up failed: %v", err)
			} else {
				log.Println("Migrations applied successfully!")
			}
		}
	}

	// 2. Clients
	backend := agent.NewOpenAIBackend(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	persona := agent.PersonaByName(cfg.Persona)
	log.Printf("Doctor persona: %s", persona.Name)

	newDialogue := func() consultation.Dialogue {
		return agent.NewChatSession(backend, persona, cfg.RequestTimeout)
	}

	// 3. Services
	consultationSvc := consultation.NewService(repo, newDialogue)
	consultationHandler := consultation.NewHandler(consultationSvc, report.NewService())

	// 4. Router
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS for frontend
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")
			if r.Method == "OPTIONS" {
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Route("/api", func(r chi.Router) {
		consultation.RegisterRoutes(r, consultationHandler)
	})

	fmt.Printf("Server starting on port %s...\n", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal(err)
	}
}
