package fakebackend

import (
	"crypto/rand"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultSessionSeconds is the session length granted for bins added without one.
	DefaultSessionSeconds = 180
	// PointsPerItem is awarded for every accepted barcode.
	PointsPerItem = 10

	maxUploadBytes = 8 << 20
)

// Options configures a Server. Zero values select defaults.
type Options struct {
	// SigningKey signs bearer tokens. A random key is generated when empty.
	SigningKey []byte
	TokenTTL   time.Duration
	Clock      func() time.Time
	Logger     logrus.FieldLogger
}

// Bin is a recycling bin reachable by its QR key.
type Bin struct {
	QRKey           string
	Name            string
	DurationSeconds float64
}

type user struct {
	id           int64
	email        string
	passwordHash string
	points       int
	profile      *profile
}

type profile struct {
	ID        int64   `json:"id"`
	UserID    int64   `json:"user_id"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Username  string  `json:"username"`
	Bio       *string `json:"bio"`
	BirthDate string  `json:"birth_date"`
	Points    int     `json:"points"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

type binSession struct {
	userID        int64
	bin           Bin
	startedAt     time.Time
	scanned       map[string]struct{}
	proofUploaded bool
	ended         bool
}

// Server is an http.Handler. It is safe for concurrent use.
type Server struct {
	mux    *http.ServeMux
	tokens tokenIssuer
	hasher hasher
	clock  func() time.Time
	log    logrus.FieldLogger

	mu          sync.Mutex
	nextID      int64
	users       map[string]*user
	usersByID   map[int64]*user
	revoked     map[string]struct{}
	bins        map[string]Bin
	sessions    map[string]*binSession
	rejected    map[string]string
	calls       map[string]int
	pingStatus  int
	unavailable bool
	rejectProof bool
	submitHook  func(barcode string)
}

// New returns a Server with no users and no bins.
func New(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if len(opts.SigningKey) == 0 {
		opts.SigningKey = make([]byte, 32)
		_, _ = rand.Read(opts.SigningKey)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger().WithField("pkg", "fakebackend")
	}

	s := &Server{
		mux: http.NewServeMux(),
		tokens: tokenIssuer{
			key:    opts.SigningKey,
			ttl:    opts.TokenTTL,
			issuer: "gorecycle-fakebackend",
			clock:  opts.Clock,
		},
		hasher:     hasher{config: defaultHasherConfig},
		clock:      opts.Clock,
		log:        opts.Logger,
		users:      make(map[string]*user),
		usersByID:  make(map[int64]*user),
		revoked:    make(map[string]struct{}),
		bins:       make(map[string]Bin),
		sessions:   make(map[string]*binSession),
		rejected:   make(map[string]string),
		calls:      make(map[string]int),
		pingStatus: http.StatusOK,
	}

	s.mux.HandleFunc("GET /ping", s.handlePing)
	s.mux.HandleFunc("POST /login", s.handleLogin)
	s.mux.HandleFunc("POST /register", s.handleRegister)
	s.mux.Handle("POST /logout", s.guard(s.handleLogout))
	s.mux.Handle("POST /profile", s.guard(s.handleStoreProfile))
	s.mux.Handle("GET /profile/me", s.guard(s.handleMe))
	s.mux.Handle("GET /leaderboard/{scope}", s.guard(s.handleLeaderboard))
	s.mux.Handle("POST /start-session", s.guard(s.handleStartSession))
	s.mux.Handle("POST /submit-item", s.guard(s.handleSubmitItem))
	s.mux.Handle("POST /upload-proof", s.guard(s.handleUploadProof))
	s.mux.Handle("POST /end-session", s.guard(s.handleEndSession))
	return s
}

// ServeHTTP counts the call by route and dispatches it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.calls[r.URL.Path]++
	unavailable := s.unavailable && r.URL.Path != "/ping"
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"method":     r.Method,
		"path":       r.URL.Path,
		"request_id": r.Header.Get("X-Request-ID"),
	}).Debug("fake backend request")

	if unavailable {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "Service unavailable"})
		return
	}
	s.mux.ServeHTTP(w, r)
}

/*
====================================
TEST HOOKS
====================================
*/

// AddBin registers a bin. A non-positive duration selects DefaultSessionSeconds.
func (s *Server) AddBin(b Bin) {
	if b.DurationSeconds <= 0 {
		b.DurationSeconds = DefaultSessionSeconds
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bins[b.QRKey] = b
}

// AddUser creates an account and returns a valid bearer token for it.
func (s *Server) AddUser(email, password string) (string, error) {
	u, err := s.createUser(email, password)
	if err != nil {
		return "", err
	}
	return s.issuer().issue(u.id)
}

// RejectBarcode makes submit-item answer 422 with message for barcode.
func (s *Server) RejectBarcode(barcode, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected[barcode] = message
}

// MarkScanned records barcode as already recycled in every session, as if another
// device had submitted it.
func (s *Server) MarkScanned(barcode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		sess.scanned[barcode] = struct{}{}
	}
}

// SetPingStatus sets the status code GET /ping answers with.
func (s *Server) SetPingStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingStatus = status
}

// SetUnavailable makes every endpoint except /ping answer 503.
func (s *Server) SetUnavailable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = v
}

// SetRejectProof makes upload-proof refuse every photo.
func (s *Server) SetRejectProof(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectProof = v
}

// SetSubmitHook installs fn to run before submit-item answers. It may block.
func (s *Server) SetSubmitHook(fn func(barcode string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitHook = fn
}

// RevokeAll invalidates every issued bearer token.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens.key = append([]byte("revoked:"), s.tokens.key...)
}

// Calls returns how often path was requested.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// Points returns the points of the account registered under email.
func (s *Server) Points(email string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[strings.ToLower(email)]; ok {
		return u.points
	}
	return 0
}

/*
====================================
AUTH
====================================
*/

type authedHandler func(w http.ResponseWriter, r *http.Request, uid int64, token string)

// guard rejects requests without a valid, unrevoked bearer token with 401.
func (s *Server) guard(next authedHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthenticated."})
			return
		}

		s.mu.Lock()
		_, revoked := s.revoked[token]
		s.mu.Unlock()

		claims, err := s.issuer().parse(token)
		if err != nil || revoked {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthenticated."})
			return
		}

		next(w, r, claims.UID, token)
	})
}

func (s *Server) issuer() tokenIssuer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

func (s *Server) createUser(email, password string) (*user, error) {
	hash, err := s.hasher.hash(password)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(email)
	if _, exists := s.users[key]; exists {
		return nil, errEmailTaken
	}
	s.nextID++
	u := &user{id: s.nextID, email: key, passwordHash: hash}
	s.users[key] = u
	s.usersByID[u.id] = u
	return u, nil
}

/*
====================================
HELPERS
====================================
*/

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type failure struct {
	Message       string              `json:"message"`
	Errors        map[string][]string `json:"errors,omitempty"`
	RequiresProof bool                `json:"requires_proof,omitempty"`
}

func writeFieldError(w http.ResponseWriter, field, message string) {
	writeJSON(w, http.StatusUnprocessableEntity, failure{
		Message: message,
		Errors:  map[string][]string{field: {message}},
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, failure{Message: "Malformed JSON body."})
		return false
	}
	return true
}

func newSessionToken() string {
	return uuid.NewString()
}
