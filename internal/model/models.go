// Package model defines the persisted entities of the league engine.
package model

import (
	"time"

	"github.com/google/uuid"
)

// User is a participant directory entry. ExternalID is whatever identifier
// the calling layer uses; the engine never talks to a chat platform itself.
type User struct {
	ID          int64     `db:"id"`
	ExternalID  string    `db:"external_id"`
	DisplayName string    `db:"display_name"`
	Experience  float64   `db:"experience"`
	Priority    int       `db:"priority"`
	CreatedAt   time.Time `db:"created_at"`
}

// Season is one bounded competitive period. At most one season is active.
type Season struct {
	ID        int64      `db:"id"`
	Name      string     `db:"name"`
	StartsAt  time.Time  `db:"starts_at"`
	EndsAt    *time.Time `db:"ends_at"`
	IsActive  bool       `db:"is_active"`
	CreatedAt time.Time  `db:"created_at"`
}

// SeasonScore accumulates a participant's season totals. Rating and
// WinPoints are written only through the settlement ledger; EntryPoints
// come from pool participation and survive a season recompute.
type SeasonScore struct {
	SeasonID    int64     `db:"season_id"`
	UserID      int64     `db:"user_id"`
	Rating      float64   `db:"rating"`
	SeedRating  float64   `db:"seed_rating"`
	WinPoints   int       `db:"win_points"`
	EntryPoints float64   `db:"entry_points"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// EntryPool is the per-week sign-up window before rooms are finalized.
type EntryPool struct {
	ID         int64      `db:"id"`
	SeasonID   int64      `db:"season_id"`
	WeekNumber int        `db:"week_number"`
	Status     string     `db:"status"`
	OpenedAt   time.Time  `db:"opened_at"`
	ClosedAt   *time.Time `db:"closed_at"`
}

// EntryApplication is one participant's application to a pool.
type EntryApplication struct {
	ID          int64     `db:"id"`
	PoolID      int64     `db:"pool_id"`
	UserID      int64     `db:"user_id"`
	Status      string    `db:"status"`
	SubmittedAt time.Time `db:"submitted_at"`
}

// Session is a fixed-capacity room playing a sequence of matches.
type Session struct {
	ID          int64     `db:"id"`
	SeasonID    int64     `db:"season_id"`
	WeekNumber  int       `db:"week_number"`
	RoomLabel   string    `db:"room_label"`
	Capacity    int       `db:"capacity"`
	Status      string    `db:"status"`
	ScheduledAt time.Time `db:"scheduled_at"`
	CreatedAt   time.Time `db:"created_at"`
}

// SessionMember ties a participant to a room.
type SessionMember struct {
	SessionID int64     `db:"session_id"`
	UserID    int64     `db:"user_id"`
	Status    string    `db:"status"`
	JoinedAt  time.Time `db:"joined_at"`
}

// SessionStat is the running win counter for one participant in one room.
type SessionStat struct {
	SessionID int64 `db:"session_id"`
	UserID    int64 `db:"user_id"`
	Wins      int   `db:"wins"`
}

// Match is one game inside a session. Winner stays nil while the match is
// open; at most one open match exists per session.
type Match struct {
	ID         int64      `db:"id"`
	SessionID  int64      `db:"session_id"`
	MatchIndex int        `db:"match_index"`
	TeamA      []int64    `db:"team_a"`
	TeamB      []int64    `db:"team_b"`
	Winner     *string    `db:"winner"`
	Stage      *string    `db:"stage"`
	DecidedAt  *time.Time `db:"decided_at"`
	CreatedAt  time.Time  `db:"created_at"`
}

// SettlementEntry is one ledger row: exactly how much win count and rating
// one session contributed to one participant. Entries written by the same
// settle call share a batch id.
type SettlementEntry struct {
	SeasonID     int64     `db:"season_id"`
	SessionID    int64     `db:"session_id"`
	UserID       int64     `db:"user_id"`
	WinDelta     int       `db:"win_delta"`
	RateDelta    float64   `db:"rate_delta"`
	BatchID      uuid.UUID `db:"batch_id"`
	CalculatedAt time.Time `db:"calculated_at"`
}

// Standing is one leaderboard row, ordered by EntryPoints+WinPoints.
type Standing struct {
	UserID      int64   `db:"user_id"`
	DisplayName string  `db:"display_name"`
	EntryPoints float64 `db:"entry_points"`
	WinPoints   int     `db:"win_points"`
	Rating      float64 `db:"rating"`
}

// AdmissionCandidate is a confirmed application joined with the user's
// current priority, in the order the close sweep admits.
type AdmissionCandidate struct {
	UserID      int64     `db:"user_id"`
	Priority    int       `db:"priority"`
	SubmittedAt time.Time `db:"submitted_at"`
}

// LedgerSum pairs a participant's settled rating sum with their score row,
// for verifying that the ledger fully explains the current rating.
type LedgerSum struct {
	UserID     int64   `db:"user_id"`
	RateSum    float64 `db:"rate_sum"`
	Rating     float64 `db:"rating"`
	SeedRating float64 `db:"seed_rating"`
}

// Entry pool statuses.
const (
	PoolStatusOpen     = "open"
	PoolStatusClosed   = "closed"
	PoolStatusCanceled = "canceled"
)

// Entry application statuses.
const (
	ApplicationConfirmed = "confirmed"
	ApplicationCanceled  = "canceled"
)

// Session statuses.
const (
	SessionPending   = "pending"   // placeholder while the week's pool is open
	SessionScheduled = "scheduled" // room formed, not started
	SessionLive      = "live"      // matches being played
	SessionCanceled  = "canceled"  // dropped out or failed refill
	SessionFinished  = "finished"  // settled, terminal
)

// Session member statuses.
const (
	MemberConfirmed = "confirmed"
	MemberCanceled  = "canceled"
)

// Match winner sides.
const (
	WinnerA = "A"
	WinnerB = "B"
)

// PendingRoomLabel marks the placeholder session held while a week's entry
// pool is still open. Real rooms get labels "1", "2", ...
const PendingRoomLabel = "PENDING"

// ValidWinner reports whether side is a recordable winner value.
func ValidWinner(side string) bool {
	return side == WinnerA || side == WinnerB
}
