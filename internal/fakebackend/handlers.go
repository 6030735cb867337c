package fakebackend

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"
)

var errEmailTaken = errors.New("email already taken")

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	status := s.pingStatus
	s.mu.Unlock()
	writeJSON(w, status, map[string]string{"status": http.StatusText(status)})
}

/*
====================================
ACCOUNT
====================================
*/

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	s.mu.Lock()
	u, ok := s.users[strings.ToLower(body.Email)]
	s.mu.Unlock()
	if !ok {
		writeFieldError(w, "email", "These credentials do not match our records.")
		return
	}
	match, err := s.hasher.verify(body.Password, u.passwordHash)
	if err != nil || !match {
		writeFieldError(w, "email", "These credentials do not match our records.")
		return
	}

	token, err := s.issuer().issue(u.id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, failure{Message: "Could not issue token."})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email                string `json:"email"`
		Password             string `json:"password"`
		PasswordConfirmation string `json:"password_confirmation"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if !strings.Contains(body.Email, "@") {
		writeFieldError(w, "email", "The email field must be a valid email address.")
		return
	}
	if len(body.Password) < 8 {
		writeFieldError(w, "password", "The password field must be at least 8 characters.")
		return
	}
	if body.Password != body.PasswordConfirmation {
		writeFieldError(w, "password", "The password field confirmation does not match.")
		return
	}

	u, err := s.createUser(body.Email, body.Password)
	if errors.Is(err, errEmailTaken) {
		writeFieldError(w, "email", "The email has already been taken.")
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, failure{Message: "Could not create account."})
		return
	}

	token, err := s.issuer().issue(u.id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, failure{Message: "Could not issue token."})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"token": token})
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request, _ int64, token string) {
	s.mu.Lock()
	s.revoked[token] = struct{}{}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out."})
}

func (s *Server) handleStoreProfile(w http.ResponseWriter, r *http.Request, uid int64, _ string) {
	var body struct {
		FirstName string  `json:"first_name"`
		LastName  string  `json:"last_name"`
		Username  string  `json:"username"`
		Bio       *string `json:"bio"`
		BirthDate string  `json:"birth_date"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Username) == "" {
		writeFieldError(w, "username", "The username field is required.")
		return
	}
	if _, err := time.Parse("2006-01-02", body.BirthDate); err != nil {
		writeFieldError(w, "birth_date", "The birth date field must be a valid date.")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.usersByID[uid]
	if u == nil {
		writeJSON(w, http.StatusUnauthorized, failure{Message: "Unauthenticated."})
		return
	}
	for _, other := range s.usersByID {
		if other.profile != nil && other.id != uid && strings.EqualFold(other.profile.Username, body.Username) {
			writeFieldError(w, "username", "The username has already been taken.")
			return
		}
	}
	if u.profile != nil {
		writeFieldError(w, "profile", "A profile already exists for this account.")
		return
	}

	now := s.clock().UTC().Format(time.RFC3339)
	u.profile = &profile{
		ID:        uid,
		UserID:    uid,
		FirstName: body.FirstName,
		LastName:  body.LastName,
		Username:  body.Username,
		Bio:       body.Bio,
		BirthDate: body.BirthDate,
		CreatedAt: now,
		UpdatedAt: now,
	}
	writeJSON(w, http.StatusCreated, u.profileView())
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, uid int64, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.usersByID[uid]
	if u == nil || u.profile == nil {
		writeJSON(w, http.StatusOK, map[string]any{"profile": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profile": u.profileView()})
}

func (u *user) profileView() profile {
	p := *u.profile
	p.Points = u.points
	return p
}

type leaderboardEntry struct {
	Rank     int    `json:"rank"`
	Username string `json:"username"`
	Points   int    `json:"points"`
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request, uid int64, _ string) {
	scope := r.PathValue("scope")
	if scope != "current-season" && scope != "all-time" {
		writeJSON(w, http.StatusNotFound, failure{Message: "Unknown leaderboard."})
		return
	}

	s.mu.Lock()
	ranked := make([]*user, 0, len(s.usersByID))
	for _, u := range s.usersByID {
		if u.profile != nil && u.points > 0 {
			ranked = append(ranked, u)
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].points != ranked[j].points {
			return ranked[i].points > ranked[j].points
		}
		return ranked[i].id < ranked[j].id
	})

	entries := make([]leaderboardEntry, 0, len(ranked))
	var stats map[string]any
	for i, u := range ranked {
		entries = append(entries, leaderboardEntry{Rank: i + 1, Username: u.profile.Username, Points: u.points})
		if u.id == uid {
			stats = map[string]any{"rank": i + 1, "username": u.profile.Username, "points": u.points}
		}
	}
	if me := s.usersByID[uid]; stats == nil && me != nil && me.profile != nil {
		stats = map[string]any{"rank": "-", "username": me.profile.Username, "points": me.points}
	}
	now := s.clock()
	s.mu.Unlock()

	body := map[string]any{
		"type":        scope,
		"leaderboard": entries,
		"user_stats":  stats,
	}
	if scope == "current-season" {
		body["title"] = "Current season"
		body["month_number"] = int(now.Month())
		body["year"] = now.Year()
	} else {
		body["title"] = "All time"
	}
	writeJSON(w, http.StatusOK, body)
}

/*
====================================
RECYCLING SESSIONS
====================================
*/

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request, uid int64, _ string) {
	var body struct {
		QRKey     string  `json:"qr_key"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if math.Abs(body.Latitude) > 90 || math.Abs(body.Longitude) > 180 {
		writeFieldError(w, "latitude", "The location is invalid.")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	bin, ok := s.bins[body.QRKey]
	if !ok {
		writeFieldError(w, "qr_key", "The selected bin is invalid.")
		return
	}

	token := newSessionToken()
	s.sessions[token] = &binSession{
		userID:    uid,
		bin:       bin,
		startedAt: s.clock(),
		scanned:   make(map[string]struct{}),
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bin_name":      bin.Name,
		"session_token": token,
		"time_left":     bin.DurationSeconds,
	})
}

// liveSession returns the caller's unexpired session or writes a 422.
func (s *Server) liveSession(w http.ResponseWriter, uid int64, token string) (*binSession, bool) {
	sess, ok := s.sessions[token]
	if !ok || sess.userID != uid {
		writeFieldError(w, "session_token", "The session is invalid.")
		return nil, false
	}
	elapsed := s.clock().Sub(sess.startedAt).Seconds()
	if sess.ended || elapsed >= sess.bin.DurationSeconds {
		writeFieldError(w, "session_token", "The session has ended.")
		return nil, false
	}
	return sess, true
}

func (s *Server) handleSubmitItem(w http.ResponseWriter, r *http.Request, uid int64, _ string) {
	var body struct {
		SessionToken string `json:"session_token"`
		Barcode      string `json:"barcode"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	s.mu.Lock()
	hook := s.submitHook
	s.mu.Unlock()
	if hook != nil {
		hook(body.Barcode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.liveSession(w, uid, body.SessionToken)
	if !ok {
		return
	}
	if msg, rejected := s.rejected[body.Barcode]; rejected {
		writeFieldError(w, "barcode", msg)
		return
	}

	status := "recycled"
	if _, dup := sess.scanned[body.Barcode]; dup {
		if !sess.proofUploaded {
			writeJSON(w, http.StatusUnprocessableEntity, failure{
				Message:       "This item was already scanned. Please upload a photo as proof.",
				RequiresProof: true,
			})
			return
		}
		status = "pending"
	}
	sess.scanned[body.Barcode] = struct{}{}

	points := PointsPerItem
	if u := s.usersByID[uid]; u != nil {
		u.points += points
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"points_awarded": points,
		"item_name":      fmt.Sprintf("Item %s", body.Barcode),
		"status":         status,
		"message":        "Item recycled.",
	})
}

func (s *Server) handleUploadProof(w http.ResponseWriter, r *http.Request, uid int64, _ string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeFieldError(w, "proof_photo", "The proof photo upload failed.")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("proof_photo")
	if err != nil {
		writeFieldError(w, "proof_photo", "The proof photo field is required.")
		return
	}
	file.Close()
	if !strings.HasPrefix(header.Header.Get("Content-Type"), "image/") {
		writeFieldError(w, "proof_photo", "The proof photo must be an image.")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.liveSession(w, uid, r.FormValue("session_token"))
	if !ok {
		return
	}
	if s.rejectProof {
		writeFieldError(w, "proof_photo", "The photo could not be verified.")
		return
	}
	sess.proofUploaded = true
	writeJSON(w, http.StatusOK, map[string]string{"message": "Proof uploaded."})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request, uid int64, _ string) {
	var body struct {
		SessionToken string `json:"session_token"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[body.SessionToken]
	if !ok || sess.userID != uid {
		writeFieldError(w, "session_token", "The session is invalid.")
		return
	}
	sess.ended = true
	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Session at %s ended.", sess.bin.Name)})
}
