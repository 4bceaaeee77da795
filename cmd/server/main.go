package main

import (
	"log"
	"net/http"
	"os"

	"expense-control/internal/handlers"
	"expense-control/internal/storage"

	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	port := envOr("PORT", "8080")
	dbPath := envOr("DB_PATH", "expenses.db")
	secureCookies := os.Getenv("SECURE_COOKIES") == "true"

	db, err := storage.NewDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.CleanExpiredSessions(); err != nil {
		log.Printf("Failed to clean expired sessions: %v", err)
	}

	h := handlers.NewHandlers(db, "web/templates", secureCookies)
	mux := setupRouter(h, "web/static")

	log.Printf("Listening on :%s", port)
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func setupRouter(h *handlers.Handlers, staticDir string) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))

	mux.HandleFunc("GET /login", h.LoginForm)
	mux.HandleFunc("POST /login", h.Login)
	mux.HandleFunc("POST /logout", h.Logout)

	auth := func(fn http.HandlerFunc) http.Handler { return h.AuthMiddleware(fn) }
	mux.Handle("GET /expenses", auth(h.ListExpenses))
	mux.Handle("GET /expenses/new", auth(h.CreateExpenseForm))
	mux.Handle("POST /expenses", auth(h.CreateExpense))
	mux.Handle("GET /expenses/{id}/edit", auth(h.EditExpenseForm))
	mux.Handle("POST /expenses/{id}", auth(h.UpdateExpense))
	mux.Handle("POST /expenses/{id}/delete", auth(h.DeleteExpense))
	mux.Handle("GET /stats", auth(h.Statistics))

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/expenses", http.StatusFound)
	})

	return mux
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
