package api

import (
	"encoding/json"
	"strconv"
)

// StartSessionRequest opens a session at the bin identified by QRKey.
type StartSessionRequest struct {
	QRKey     string  `json:"qr_key" validate:"required,max=255"`
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

type StartSessionResult struct {
	BinName      string `json:"bin_name"`
	SessionToken string `json:"session_token"`
	// TimeLeft is the session duration in seconds.
	TimeLeft float64 `json:"time_left"`
}

type SubmitItemRequest struct {
	SessionToken string `json:"session_token" validate:"required"`
	Barcode      string `json:"barcode" validate:"required,max=128"`
}

type SubmitItemResult struct {
	PointsAwarded int    `json:"points_awarded"`
	ItemName      string `json:"item_name"`
	Status        string `json:"status"`
	Message       string `json:"message"`
}

type EndSessionRequest struct {
	SessionToken string `json:"session_token" validate:"required"`
}

// MessageResult is the body of endpoints that only answer with a message.
type MessageResult struct {
	Message string `json:"message"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RegisterRequest struct {
	Email                string `json:"email" validate:"required,email"`
	Password             string `json:"password" validate:"required,min=8"`
	PasswordConfirmation string `json:"password_confirmation" validate:"required,eqfield=Password"`
}

// TokenResult carries the bearer credential issued by login or register.
type TokenResult struct {
	Token string `json:"token"`
}

type ProfileRequest struct {
	FirstName string  `json:"first_name" validate:"required,max=255"`
	LastName  string  `json:"last_name" validate:"required,max=255"`
	Username  string  `json:"username" validate:"required,max=255"`
	Bio       *string `json:"bio" validate:"omitempty,max=1000"`
	BirthDate string  `json:"birth_date" validate:"required,datetime=2006-01-02"`
}

type Profile struct {
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

// LeaderboardScope selects which leaderboard to fetch.
type LeaderboardScope string

const (
	ScopeCurrentSeason LeaderboardScope = "current-season"
	ScopeAllTime       LeaderboardScope = "all-time"
)

func (s LeaderboardScope) valid() bool {
	return s == ScopeCurrentSeason || s == ScopeAllTime
}

// Rank is a leaderboard position. The backend sends a number, or a placeholder
// string such as "-" for unranked users.
type Rank string

func (r *Rank) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*r = Rank(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*r = Rank(n.String())
	return nil
}

// Position returns the numeric rank, if the rank is numeric.
func (r Rank) Position() (int, bool) {
	n, err := strconv.Atoi(string(r))
	return n, err == nil
}

type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	Username string `json:"username"`
	Points   int    `json:"points"`
}

type UserStats struct {
	Rank     Rank   `json:"rank"`
	Username string `json:"username"`
	Points   int    `json:"points"`
}

type Leaderboard struct {
	Title       string             `json:"title"`
	Type        string             `json:"type"`
	StartsAt    string             `json:"starts_at,omitempty"`
	EndsAt      string             `json:"ends_at,omitempty"`
	MonthNumber int                `json:"month_number,omitempty"`
	Year        int                `json:"year,omitempty"`
	Message     string             `json:"message,omitempty"`
	Entries     []LeaderboardEntry `json:"leaderboard"`
	UserStats   *UserStats         `json:"user_stats"`
}

// envelope holds the failure fields every endpoint may return.
type envelope struct {
	Message       string              `json:"message"`
	Errors        map[string][]string `json:"errors"`
	RequiresProof bool                `json:"requires_proof"`
}
