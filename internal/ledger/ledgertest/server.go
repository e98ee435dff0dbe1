// Package ledgertest runs an in-memory ledger service for tests.
package ledgertest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"

	"github.com/gorilla/mux"

	"transaction-uploader/internal/ledger"
	"transaction-uploader/internal/models"
)

// Credentials accepted by the server.
const (
	ClientID     = "bank-admin"
	ClientSecret = "bank-admin-secret"
	Username     = "bank-admin"
	Password     = "bank-admin-password"
	AccessToken  = "test-access-token"
)

// Server is a fake ledger. Zero Fail* fields mean the endpoint succeeds;
// otherwise the endpoint responds with that status code.
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	transactions []map[string]interface{}
	posts        [][]map[string]interface{}
	balances     []models.Balance
	batches      []models.Batch
	batchQueries []string
	tokens       int

	FailToken        int
	FailTransactions int
	FailBalances     int
	FailBatches      int

	// FailTransactionsAfter lets that many transaction posts succeed before
	// FailTransactions applies.
	FailTransactionsAfter int
}

// NewServer starts a fake ledger. Callers must Close it.
func NewServer() *Server {
	s := &Server{}

	r := mux.NewRouter()
	r.HandleFunc(ledger.TokenPath, s.token).Methods(http.MethodPost)

	api := r.NewRoute().Subrouter()
	api.Use(s.authenticated)
	api.HandleFunc(ledger.TransactionsPath, s.listTransactions).Methods(http.MethodGet)
	api.HandleFunc(ledger.TransactionsPath, s.createTransactions).Methods(http.MethodPost)
	api.HandleFunc(ledger.BalancesPath, s.listBalances).Methods(http.MethodGet)
	api.HandleFunc(ledger.BalancesPath, s.createBalance).Methods(http.MethodPost)
	api.HandleFunc(ledger.BatchesPath, s.listBatches).Methods(http.MethodGet)

	s.Server = httptest.NewServer(r)
	return s
}

// Config returns client settings for this server.
func (s *Server) Config() *ledger.Config {
	return &ledger.Config{
		URL:          s.URL,
		ClientID:     ClientID,
		ClientSecret: ClientSecret,
		Username:     Username,
		Password:     Password,
	}
}

// AddTransaction seeds a stored transaction received at receivedAt.
func (s *Server) AddTransaction(receivedAt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions = append(s.transactions, map[string]interface{}{"received_at": receivedAt})
}

// AddBalance seeds a stored balance.
func (s *Server) AddBalance(b models.Balance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances = append(s.balances, b)
}

// AddBatch seeds a stored batch.
func (s *Server) AddBatch(b models.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, b)
}

// SetFailTransactions makes transaction posts respond with status once
// after posts have succeeded. A zero status lets every post through.
func (s *Server) SetFailTransactions(status, after int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailTransactions = status
	s.FailTransactionsAfter = after
}

// Posts returns the transaction payloads of each POST, in order.
func (s *Server) Posts() [][]map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]map[string]interface{}(nil), s.posts...)
}

// Balances returns all stored balances, including seeded ones.
func (s *Server) Balances() []models.Balance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Balance(nil), s.balances...)
}

// BatchQueries returns the dates batches were requested for.
func (s *Server) BatchQueries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.batchQueries...)
}

// TokenRequests returns how many tokens were issued.
func (s *Server) TokenRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	if s.FailToken != 0 {
		writeJSON(w, s.FailToken, map[string]string{"error": "invalid_grant"})
		return
	}
	id, secret, ok := r.BasicAuth()
	if !ok || id != ClientID || secret != ClientSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}
	if err := r.ParseForm(); err != nil ||
		r.PostForm.Get("grant_type") != "password" ||
		r.PostForm.Get("username") != Username ||
		r.PostForm.Get("password") != Password {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}

	s.mu.Lock()
	s.tokens++
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": AccessToken,
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

func (s *Server) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+AccessToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication credentials were not provided."})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := append([]map[string]interface{}(nil), s.transactions...)
	if r.URL.Query().Get("ordering") == "-received_at" {
		sort.SliceStable(results, func(i, j int) bool {
			return receivedAt(results[i]) > receivedAt(results[j])
		})
	}
	writePage(w, limit(r, len(results)), results)
}

func (s *Server) createTransactions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	reject := s.FailTransactions != 0 && len(s.posts) >= s.FailTransactionsAfter
	s.mu.Unlock()
	if reject {
		writeJSON(w, s.FailTransactions, map[string]string{"detail": "transactions rejected"})
		return
	}
	var payload []map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}

	s.mu.Lock()
	s.transactions = append(s.transactions, payload...)
	s.posts = append(s.posts, payload)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, payload)
}

func (s *Server) listBalances(w http.ResponseWriter, r *http.Request) {
	if s.FailBalances != 0 {
		writeJSON(w, s.FailBalances, map[string]string{"detail": "balances unavailable"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	before := r.URL.Query().Get("date__lt")
	var results []models.Balance
	for _, b := range s.balances {
		if before == "" || models.FormatDate(b.Date) < before {
			results = append(results, b)
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Date.After(results[j].Date)
	})
	writePage(w, limit(r, len(results)), results)
}

func (s *Server) createBalance(w http.ResponseWriter, r *http.Request) {
	if s.FailBalances != 0 {
		writeJSON(w, s.FailBalances, map[string]string{"detail": "balance rejected"})
		return
	}
	var b models.Balance
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}

	s.mu.Lock()
	s.balances = append(s.balances, b)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) listBatches(w http.ResponseWriter, r *http.Request) {
	if s.FailBatches != 0 {
		writeJSON(w, s.FailBatches, map[string]string{"detail": "batches unavailable"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	date := r.URL.Query().Get("date")
	s.batchQueries = append(s.batchQueries, date)
	results := []models.Batch{}
	for _, b := range s.batches {
		if date == "" || b.Date == date {
			results = append(results, b)
		}
	}
	writePage(w, len(results), results)
}

func receivedAt(tx map[string]interface{}) string {
	s, _ := tx["received_at"].(string)
	return s
}

func limit(r *http.Request, total int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 0 || n > total {
		return total
	}
	return n
}

func writePage[T any](w http.ResponseWriter, n int, results []T) {
	if results == nil {
		results = []T{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(results),
		"results": results[:n],
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
