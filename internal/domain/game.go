package domain

import (
	"time"
)

// DateLayout is the calendar date format used for every date key
const DateLayout = "2006-01-02"

// DateKey returns the UTC calendar date of t as YYYY-MM-DD
func DateKey(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// DailyGame is the word active for one calendar date
type DailyGame struct {
	Word      string    `json:"word"`
	Date      string    `json:"date"`
	CreatedAt time.Time `json:"created_at"`
}

// Result is a single finished game submitted by a player
type Result struct {
	ID            int64     `json:"id"`
	Word          string    `json:"word"`
	Moves         int       `json:"moves"`
	TimeSeconds   int       `json:"time"`
	PlayerName    string    `json:"player_name"`
	Date          string    `json:"date"`
	OriginAddress string    `json:"ip_address"`
	ClientAgent   string    `json:"user_agent"`
	CreatedAt     time.Time `json:"created_at"`
}

// Submission is a player's request to record a result
type Submission struct {
	Word          string `json:"word"`
	Moves         int    `json:"moves"`
	TimeSeconds   int    `json:"time"`
	PlayerName    string `json:"player_name"`
	OriginAddress string `json:"ip_address,omitempty"`
	ClientAgent   string `json:"user_agent,omitempty"`
}

// ArchivedScore is one row of an archived top 10
type ArchivedScore struct {
	PlayerName  string `json:"player_name"`
	Moves       int    `json:"moves"`
	TimeSeconds int    `json:"time"`
	Word        string `json:"word"`
}

// ArchiveEntry summarizes a finished day
type ArchiveEntry struct {
	Word         string          `json:"word"`
	Date         string          `json:"date"`
	Top10        []ArchivedScore `json:"top10"`
	TotalPlayers int             `json:"total_players"`
	CreatedAt    time.Time       `json:"created_at"`
}

// LeaderboardEntry represents a single ranked row of a day's leaderboard
type LeaderboardEntry struct {
	Rank        int       `json:"rank"`
	PlayerName  string    `json:"player_name"`
	Moves       int       `json:"moves"`
	TimeSeconds int       `json:"time"`
	CreatedAt   time.Time `json:"created_at"`
}

// Leaderboard is the ranked top of one date plus the count of all its results
type Leaderboard struct {
	Entries      []LeaderboardEntry `json:"leaderboard"`
	Date         string             `json:"date"`
	TotalPlayers int                `json:"total_players"`
}

// CurrentWord is the answer to "what is today's word"
type CurrentWord struct {
	Word          string `json:"word"`
	Date          string `json:"date"`
	AutoGenerated bool   `json:"auto_generated,omitempty"`
}

// Stats contains aggregate statistics over all stored results
type Stats struct {
	TotalPlayers int    `json:"total_players"`
	TotalGames   int    `json:"total_games"`
	TodayGames   int    `json:"today_games"`
	ArchivedDays int    `json:"archived_days"`
	TopPlayer    string `json:"top_player"`
	UsingRedis   bool   `json:"using_redis"`
}

// Storage backend kinds
const (
	BackendRedis  = "Redis"
	BackendMemory = "Memory"
)

// StoreHealth describes the storage backend without ever failing
type StoreHealth struct {
	Database   string `json:"database"`
	Connected  bool   `json:"connected"`
	RedisPing  string `json:"redis_ping,omitempty"`
	RedisError string `json:"redis_error,omitempty"`
}

// Health is the service health report
type Health struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Version   string      `json:"version"`
	Database  StoreHealth `json:"database"`
}
