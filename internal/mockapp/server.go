// Package mockapp is an in-memory stand-in for the Local Deep Research web
// application. It implements the conventional surfaces the suites drive:
// login/registration with a session cookie, the research form with a
// progress/results flow that advances through phases over wall-clock time,
// settings, collections, subscriptions, and the JSON API endpoints. It
// exists so the full scenario path can run hermetically.
package mockapp

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/cberranger/local-deep-research/internal/common"
)

const sessionCookie = "ldr_session"

// Options configures the simulated application.
type Options struct {
	// ResearchDuration is how long a research job takes to complete.
	// Default 4s.
	ResearchDuration time.Duration
	// FailMarker forces a research to fail when the query contains it.
	// Default "[fail]".
	FailMarker string
}

// Research is one simulated background job.
type Research struct {
	ID        string
	Query     string
	Mode      string
	Owner     string
	StartedAt time.Time
	Fails     bool
}

// Server is the mock application.
type Server struct {
	opts Options
	log  arbor.ILogger

	mu            sync.Mutex
	users         map[string]string
	sessions      map[string]string
	settings      map[string]map[string]string
	collections   map[string][]string
	subscriptions map[string][]string
	research      map[string]*Research
	nextID        int

	httpServer *http.Server
}

// New creates a mock application server.
func New(opts Options) *Server {
	if opts.ResearchDuration <= 0 {
		opts.ResearchDuration = 4 * time.Second
	}
	if opts.FailMarker == "" {
		opts.FailMarker = "[fail]"
	}
	return &Server{
		opts:          opts,
		log:           common.GetLogger(),
		users:         make(map[string]string),
		sessions:      make(map[string]string),
		settings:      make(map[string]map[string]string),
		collections:   make(map[string][]string),
		subscriptions: make(map[string][]string),
		research:      make(map[string]*Research),
	}
}

// Start serves the mock application on the given port.
func (s *Server) Start(port int) error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Handler(),
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("Mock application server error")
		}
	}()
	return nil
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the application's route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/auth/login", s.handleLogin)
	mux.HandleFunc("/auth/register", s.handleRegister)
	mux.HandleFunc("/auth/logout", s.handleLogout)

	mux.HandleFunc("/", s.requireAuth(s.handleHome))
	mux.HandleFunc("/progress/", s.requireAuth(s.handleProgress))
	mux.HandleFunc("/results/", s.requireAuth(s.handleResults))
	mux.HandleFunc("/history", s.requireAuth(s.handleHistory))
	mux.HandleFunc("/settings", s.requireAuth(s.handleSettings))
	mux.HandleFunc("/collections", s.requireAuth(s.handleCollections))
	mux.HandleFunc("/news/subscriptions", s.requireAuth(s.handleSubscriptions))

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/settings/api", s.requireAuth(s.handleSettingsAPI))
	mux.HandleFunc("/settings/api/available-search-engines", s.requireAuth(s.handleEnginesAPI))
	mux.HandleFunc("/history/api", s.requireAuth(s.handleHistoryAPI))
	mux.HandleFunc("/api/research/", s.requireAuth(s.handleResearchStatusAPI))

	return mux
}

// ---------------------------------------------------------------------------
// Auth

func (s *Server) currentUser(r *http.Request) string {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[cookie.Value]
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.currentUser(r) == "" {
			http.Redirect(w, r, "/auth/login?next="+r.URL.Path, http.StatusFound)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		username := r.FormValue("username")
		password := r.FormValue("password")

		s.mu.Lock()
		stored, ok := s.users[username]
		s.mu.Unlock()

		if !ok || stored != password {
			// Failed login re-renders in place: the address still denotes
			// the login surface.
			w.WriteHeader(http.StatusOK)
			s.renderLogin(w, "Invalid username or password")
			return
		}

		token := uuid.New().String()
		s.mu.Lock()
		s.sessions[token] = username
		s.mu.Unlock()

		http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: token, Path: "/"})
		next := r.URL.Query().Get("next")
		if next == "" {
			next = "/"
		}
		http.Redirect(w, r, next, http.StatusFound)
		return
	}
	s.renderLogin(w, "")
}

func (s *Server) renderLogin(w http.ResponseWriter, errMsg string) {
	errHTML := ""
	if errMsg != "" {
		errHTML = fmt.Sprintf(`<div class="alert alert-error">%s</div>`, html.EscapeString(errMsg))
	}
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Local Deep Research - Login</title></head>
<body>
<h1 class="page-title">Sign In</h1>
%s
<form method="POST" action="">
  <input type="text" id="username" name="username" placeholder="Username">
  <input type="password" id="password" name="password" placeholder="Password">
  <button type="submit">Sign In</button>
</form>
<a href="/auth/register">Create an account</a>
</body>
</html>`, errHTML)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		username := r.FormValue("username")
		password := r.FormValue("password")
		confirm := r.FormValue("confirm_password")
		acknowledged := r.FormValue("acknowledge") != ""

		if username == "" || password == "" || password != confirm || !acknowledged {
			w.WriteHeader(http.StatusOK)
			s.renderRegister(w, "Registration incomplete")
			return
		}

		s.mu.Lock()
		_, exists := s.users[username]
		if !exists {
			s.users[username] = password
		}
		s.mu.Unlock()

		if exists {
			w.WriteHeader(http.StatusOK)
			s.renderRegister(w, "Username already taken")
			return
		}

		http.Redirect(w, r, "/auth/login", http.StatusFound)
		return
	}
	s.renderRegister(w, "")
}

func (s *Server) renderRegister(w http.ResponseWriter, errMsg string) {
	errHTML := ""
	if errMsg != "" {
		errHTML = fmt.Sprintf(`<div class="alert alert-error">%s</div>`, html.EscapeString(errMsg))
	}
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Local Deep Research - Register</title></head>
<body>
<h1 class="page-title">Create Account</h1>
%s
<form method="POST" action="">
  <input type="text" id="username" name="username" placeholder="Username">
  <input type="password" id="password" name="password" placeholder="Password">
  <input type="password" id="confirm_password" name="confirm_password" placeholder="Confirm Password">
  <label><input type="checkbox" id="acknowledge" name="acknowledge" value="yes"> I understand this data is stored locally</label>
  <button type="submit">Register</button>
</form>
</body>
</html>`, errHTML)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		s.mu.Lock()
		delete(s.sessions, cookie.Value)
		s.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1})
	http.Redirect(w, r, "/auth/login", http.StatusFound)
}

// ---------------------------------------------------------------------------
// Research workflow

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if r.Method == http.MethodPost {
		query := strings.TrimSpace(r.FormValue("query"))
		mode := r.FormValue("mode")
		if mode == "" {
			mode = "quick"
		}
		if query == "" {
			// Client-side failure keeps the user on the originating address.
			w.WriteHeader(http.StatusOK)
			s.renderHome(w, "Please enter a research query")
			return
		}

		s.mu.Lock()
		s.nextID++
		id := fmt.Sprintf("%d", s.nextID)
		s.research[id] = &Research{
			ID:        id,
			Query:     query,
			Mode:      mode,
			Owner:     s.currentUserLocked(r),
			StartedAt: time.Now(),
			Fails:     strings.Contains(query, s.opts.FailMarker),
		}
		s.mu.Unlock()

		http.Redirect(w, r, "/progress/"+id, http.StatusFound)
		return
	}
	s.renderHome(w, "")
}

// currentUserLocked resolves the session owner. Caller holds s.mu; sessions
// reads are safe because sessions is only written under s.mu as well.
func (s *Server) currentUserLocked(r *http.Request) string {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return ""
	}
	return s.sessions[cookie.Value]
}

func (s *Server) renderHome(w http.ResponseWriter, errMsg string) {
	errHTML := ""
	if errMsg != "" {
		errHTML = fmt.Sprintf(`<div class="alert alert-error">%s</div>`, html.EscapeString(errMsg))
	}
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Local Deep Research</title></head>
<body>
<h1 class="page-title">Deep Research</h1>
%s
<form method="POST" action="/">
  <textarea id="query" name="query" placeholder="What would you like to research?"></textarea>
  <select id="mode" name="mode">
    <option value="quick">Quick Summary</option>
    <option value="detailed">Detailed Report</option>
  </select>
  <button type="submit" id="start-research">Start Research</button>
</form>
<nav>
  <a href="/history">History</a>
  <a href="/settings">Settings</a>
  <a href="/collections">Collections</a>
  <a href="/news/subscriptions">Subscriptions</a>
</nav>
</body>
</html>`, errHTML)
}

// phaseFor derives the research status from elapsed wall-clock time.
func (s *Server) phaseFor(research *Research) (status, label string) {
	if research.Fails {
		return "failed", "An error occurred while running the research"
	}
	elapsed := time.Since(research.StartedAt)
	total := s.opts.ResearchDuration
	switch {
	case elapsed >= total:
		return "completed", "Research completed"
	case elapsed >= total*3/4:
		return "in_progress", "Generating report"
	case elapsed >= total/2:
		return "in_progress", "Analyzing sources"
	case elapsed >= total/4:
		return "in_progress", "Searching the web"
	default:
		return "in_progress", "Initializing research"
	}
}

func (s *Server) researchByPath(r *http.Request, prefix string) *Research {
	id := strings.TrimPrefix(r.URL.Path, prefix)
	id = strings.SplitN(id, "/", 2)[0]
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.research[id]
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	research := s.researchByPath(r, "/progress/")
	if research == nil {
		http.NotFound(w, r)
		return
	}

	status, label := s.phaseFor(research)
	resultsLink := ""
	if status == "completed" {
		resultsLink = fmt.Sprintf(`<a id="view-results" href="/results/%s">View Results</a>`, research.ID)
	}

	// The progress surface updates in place; clients must probe content,
	// not wait for a navigation event.
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Research Progress</title></head>
<body>
<h1 class="page-title">Research in Progress</h1>
<div class="progress-status" data-status="%s">%s</div>
<p class="research-query">Query: %s</p>
%s
<script>
  if (%t) { setTimeout(() => location.reload(), 1000); }
</script>
</body>
</html>`, status, html.EscapeString(label), html.EscapeString(research.Query), resultsLink, status == "in_progress")
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	research := s.researchByPath(r, "/results/")
	if research == nil {
		http.NotFound(w, r)
		return
	}
	status, _ := s.phaseFor(research)
	if status != "completed" {
		http.Redirect(w, r, "/progress/"+research.ID, http.StatusFound)
		return
	}

	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Research Results</title></head>
<body>
<h1 class="page-title">Research Report</h1>
<p>Research completed.</p>
<article id="report">
  <h2>%s</h2>
  <p>Summary of findings for the %s research.</p>
</article>
</body>
</html>`, html.EscapeString(research.Query), html.EscapeString(research.Mode))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)

	s.mu.Lock()
	var rows strings.Builder
	for _, research := range s.research {
		if research.Owner != user {
			continue
		}
		status, _ := s.phaseFor(research)
		rows.WriteString(fmt.Sprintf(`<li class="history-item" data-status="%s"><a href="/progress/%s">%s</a></li>`,
			status, research.ID, html.EscapeString(research.Query)))
	}
	s.mu.Unlock()

	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Research History</title></head>
<body>
<h1 class="page-title">History</h1>
<ul id="history-list">%s</ul>
</body>
</html>`, rows.String())
}

// ---------------------------------------------------------------------------
// Settings / collections / subscriptions

func (s *Server) userSettings(user string) map[string]string {
	if _, ok := s.settings[user]; !ok {
		s.settings[user] = map[string]string{
			"llm.provider":   "ollama",
			"search.engine":  "auto",
			"search.detail":  "standard",
			"context.window": "8192",
		}
	}
	return s.settings[user]
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)

	if r.Method == http.MethodPost {
		s.mu.Lock()
		settings := s.userSettings(user)
		for _, key := range []string{"llm.provider", "search.engine", "context.window"} {
			if v := r.FormValue(key); v != "" {
				settings[key] = v
			}
		}
		s.mu.Unlock()
		http.Redirect(w, r, "/settings", http.StatusFound)
		return
	}

	s.mu.Lock()
	settings := s.userSettings(user)
	provider := settings["llm.provider"]
	engine := settings["search.engine"]
	window := settings["context.window"]
	s.mu.Unlock()

	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Settings</title></head>
<body>
<h1 class="page-title">Settings</h1>
<form method="POST" action="/settings">
  <input type="text" id="llm-provider" name="llm.provider" value="%s">
  <input type="text" id="search-engine" name="search.engine" value="%s">
  <input type="text" id="context-window" name="context.window" value="%s">
  <button type="submit" id="save-settings">Save</button>
</form>
</body>
</html>`, html.EscapeString(provider), html.EscapeString(engine), html.EscapeString(window))
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)

	if r.Method == http.MethodPost {
		name := strings.TrimSpace(r.FormValue("name"))
		if name != "" {
			s.mu.Lock()
			s.collections[user] = append(s.collections[user], name)
			s.mu.Unlock()
		}
		http.Redirect(w, r, "/collections", http.StatusFound)
		return
	}

	s.mu.Lock()
	var items strings.Builder
	for _, name := range s.collections[user] {
		items.WriteString(fmt.Sprintf(`<li class="collection-name">%s</li>`, html.EscapeString(name)))
	}
	s.mu.Unlock()

	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Collections</title></head>
<body>
<h1 class="page-title">Collections</h1>
<form method="POST" action="/collections">
  <input type="text" id="collection-name" name="name" placeholder="Collection name">
  <button type="submit" id="create-collection">Create</button>
</form>
<ul id="collection-list">%s</ul>
</body>
</html>`, items.String())
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)

	if r.Method == http.MethodPost {
		query := strings.TrimSpace(r.FormValue("query"))
		if query != "" {
			s.mu.Lock()
			s.subscriptions[user] = append(s.subscriptions[user], query)
			s.mu.Unlock()
		}
		http.Redirect(w, r, "/news/subscriptions", http.StatusFound)
		return
	}

	s.mu.Lock()
	var items strings.Builder
	for _, query := range s.subscriptions[user] {
		items.WriteString(fmt.Sprintf(`<li class="subscription-query">%s</li>`, html.EscapeString(query)))
	}
	s.mu.Unlock()

	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>News Subscriptions</title></head>
<body>
<h1 class="page-title">Subscriptions</h1>
<form method="POST" action="/news/subscriptions">
  <input type="text" id="subscription-query" name="query" placeholder="Topic to follow">
  <button type="submit" id="create-subscription">Subscribe</button>
</form>
<ul id="subscription-list">%s</ul>
</body>
</html>`, items.String())
}

// ---------------------------------------------------------------------------
// JSON API

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"server":    "local-deep-research-mock",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleSettingsAPI(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	s.mu.Lock()
	settings := make(map[string]string, len(s.userSettings(user)))
	for k, v := range s.userSettings(user) {
		settings[k] = v
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"settings": settings})
}

func (s *Server) handleEnginesAPI(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"engines": []string{"auto", "wikipedia", "duckduckgo", "searxng"},
	})
}

func (s *Server) handleHistoryAPI(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)

	type item struct {
		ID     string `json:"id"`
		Query  string `json:"query"`
		Mode   string `json:"mode"`
		Status string `json:"status"`
	}

	s.mu.Lock()
	items := make([]item, 0, len(s.research))
	for _, research := range s.research {
		if research.Owner != user {
			continue
		}
		status, _ := s.phaseFor(research)
		items = append(items, item{ID: research.ID, Query: research.Query, Mode: research.Mode, Status: status})
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items, "total_count": len(items)})
}

func (s *Server) handleResearchStatusAPI(w http.ResponseWriter, r *http.Request) {
	research := s.researchByPath(r, "/api/research/")
	if research == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	status, label := s.phaseFor(research)
	writeJSON(w, http.StatusOK, map[string]string{
		"id":     research.ID,
		"status": status,
		"phase":  label,
	})
}
