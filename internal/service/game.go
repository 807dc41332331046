package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"

	"github.com/pismenka-api/internal/config"
	"github.com/pismenka-api/internal/domain"
	"github.com/pismenka-api/internal/storage"
	"github.com/pismenka-api/internal/words"
)

// Longest origin and client agent kept on a result
const (
	maxOriginLength = 128
	maxAgentLength  = 512
)

// Notifier receives state changes worth pushing to connected players
type Notifier interface {
	BroadcastLeaderboard(board domain.Leaderboard)
	BroadcastWordChanged(game domain.DailyGame)
}

// HistoryRecorder keeps a durable copy of words and archive entries
type HistoryRecorder interface {
	RecordDailyGame(ctx context.Context, game domain.DailyGame) error
	RecordArchiveEntry(ctx context.Context, entry domain.ArchiveEntry) error
}

// GameService provides the business logic of the daily word game
type GameService struct {
	store    storage.Store
	config   *config.GameConfig
	logger   *slog.Logger
	now      func() time.Time
	lastID   atomic.Int64
	notifier Notifier
	history  HistoryRecorder
}

// NewGameService creates a new game service
func NewGameService(store storage.Store, cfg *config.GameConfig, logger *slog.Logger) *GameService {
	return &GameService{
		store:  store,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock replaces the time source
func (s *GameService) SetClock(now func() time.Time) {
	s.now = now
}

// SetNotifier sets the live update broadcaster
func (s *GameService) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetHistory sets the durable history recorder
func (s *GameService) SetHistory(h HistoryRecorder) {
	s.history = h
}

func (s *GameService) today() string {
	return domain.DateKey(s.now())
}

// nextID returns a millisecond timestamp, bumped when needed so ids issued by
// this process strictly increase.
func (s *GameService) nextID() int64 {
	for {
		last := s.lastID.Load()
		id := s.now().UnixMilli()
		if id <= last {
			id = last + 1
		}
		if s.lastID.CompareAndSwap(last, id) {
			return id
		}
	}
}

// CurrentWord returns today's game, creating it from the word list when the
// stored game belongs to another day. Rolling over this way never archives.
func (s *GameService) CurrentWord(ctx context.Context) domain.CurrentWord {
	today := s.today()

	if game := s.store.CurrentGame(ctx); game != nil && game.Date == today {
		return domain.CurrentWord{Word: game.Word, Date: today}
	}

	game := domain.DailyGame{
		Word:      words.Daily(s.now()),
		Date:      today,
		CreatedAt: s.now().UTC(),
	}
	if !s.store.SetCurrentGame(ctx, game) {
		s.logger.Warn("daily word kept in memory only", "date", today)
	}
	s.logger.Info("daily word generated", "date", today)

	return domain.CurrentWord{Word: game.Word, Date: today, AutoGenerated: true}
}

// SubmitResult validates and records a finished game
func (s *GameService) SubmitResult(ctx context.Context, sub domain.Submission) error {
	word := sub.Word

	if word == "" || sub.Moves <= 0 || sub.TimeSeconds <= 0 {
		return domain.ErrValidation
	}
	if sub.Moves > s.config.MaxMoves || sub.TimeSeconds > s.config.MaxTimeSeconds {
		return fmt.Errorf("%w: moves=%d time=%d", domain.ErrImplausibleValue, sub.Moves, sub.TimeSeconds)
	}

	current := s.CurrentWord(ctx)
	if word != current.Word {
		return fmt.Errorf("%w: submitted %q for %s", domain.ErrWordMismatch, word, current.Date)
	}

	origin := truncate(defaultString(strings.TrimSpace(sub.OriginAddress), "unknown"), maxOriginLength)
	today := s.today()
	results := s.store.Results(ctx)
	fromOrigin := lo.CountBy(results, func(r domain.Result) bool {
		return r.Date == today && r.OriginAddress == origin
	})
	if fromOrigin >= s.config.MaxDailySubmissions {
		return domain.ErrRateLimited
	}

	result := domain.Result{
		ID:            s.nextID(),
		Word:          word,
		Moves:         sub.Moves,
		TimeSeconds:   sub.TimeSeconds,
		PlayerName:    s.playerName(sub.PlayerName),
		Date:          today,
		OriginAddress: origin,
		ClientAgent:   truncate(defaultString(strings.TrimSpace(sub.ClientAgent), "unknown"), maxAgentLength),
		CreatedAt:     s.now().UTC(),
	}
	if !s.store.AppendResult(ctx, result, s.config.ResultsLimit) {
		s.logger.Warn("result kept in memory only", "result_id", result.ID)
	}

	if s.notifier != nil {
		s.notifier.BroadcastLeaderboard(s.Leaderboard(ctx, today))
	}
	return nil
}

func (s *GameService) playerName(raw string) string {
	name := strings.TrimSpace(raw)
	if name == "" {
		return s.config.DefaultPlayerName
	}
	return truncate(name, s.config.MaxPlayerName)
}

// truncate cuts value to at most limit runes
func truncate(value string, limit int) string {
	if utf8.RuneCountInString(value) > limit {
		return string([]rune(value)[:limit])
	}
	return value
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// rank returns the date's results ordered fewest moves first, then fastest,
// cut to limit, together with the number of results that date has.
func rank(results []domain.Result, date string, limit int) ([]domain.Result, int) {
	forDate := lo.Filter(results, func(r domain.Result, _ int) bool {
		return r.Date == date
	})
	sort.SliceStable(forDate, func(i, j int) bool {
		if forDate[i].Moves != forDate[j].Moves {
			return forDate[i].Moves < forDate[j].Moves
		}
		return forDate[i].TimeSeconds < forDate[j].TimeSeconds
	})
	total := len(forDate)
	if limit > 0 && len(forDate) > limit {
		forDate = forDate[:limit]
	}
	return forDate, total
}

// Leaderboard returns the ranked top of date (today when empty)
func (s *GameService) Leaderboard(ctx context.Context, date string) domain.Leaderboard {
	if date == "" {
		date = s.today()
	}
	top, total := rank(s.store.Results(ctx), date, s.config.LeaderboardSize)

	entries := lo.Map(top, func(r domain.Result, i int) domain.LeaderboardEntry {
		return domain.LeaderboardEntry{
			Rank:        i + 1,
			PlayerName:  r.PlayerName,
			Moves:       r.Moves,
			TimeSeconds: r.TimeSeconds,
			CreatedAt:   r.CreatedAt,
		}
	})

	return domain.Leaderboard{
		Entries:      entries,
		Date:         date,
		TotalPlayers: total,
	}
}

func (s *GameService) checkAdmin(password string) error {
	secret := s.config.AdminPassword
	if secret == "" || subtle.ConstantTimeCompare([]byte(password), []byte(secret)) != 1 {
		return domain.ErrUnauthorized
	}
	return nil
}

// AdminSetWord archives yesterday and installs a new word for today,
// replacing any generated one.
func (s *GameService) AdminSetWord(ctx context.Context, password, rawWord string) (domain.DailyGame, error) {
	if err := s.checkAdmin(password); err != nil {
		s.logger.Warn("admin word change rejected", "reason", "bad password")
		return domain.DailyGame{}, err
	}

	word := words.Normalize(rawWord)
	if err := words.Validate(word); err != nil {
		return domain.DailyGame{}, err
	}

	now := s.now().UTC()
	s.ArchiveDay(ctx, domain.DateKey(now.AddDate(0, 0, -1)))

	game := domain.DailyGame{
		Word:      word,
		Date:      domain.DateKey(now),
		CreatedAt: now,
	}
	if !s.store.SetCurrentGame(ctx, game) {
		s.logger.Warn("admin word kept in memory only", "date", game.Date)
	}
	s.logger.Info("admin set new word", "date", game.Date)

	if s.history != nil {
		if err := s.history.RecordDailyGame(ctx, game); err != nil {
			s.logger.Warn("failed to record daily game history", "error", err)
		}
	}
	if s.notifier != nil {
		s.notifier.BroadcastWordChanged(game)
	}
	return game, nil
}

// ArchiveDay stores the top 10 of date in the archive. A date without results
// is skipped and reports false.
func (s *GameService) ArchiveDay(ctx context.Context, date string) (domain.ArchiveEntry, bool) {
	top, total := rank(s.store.Results(ctx), date, s.config.LeaderboardSize)
	if len(top) == 0 {
		s.logger.Info("no results to archive", "date", date)
		return domain.ArchiveEntry{}, false
	}

	entry := domain.ArchiveEntry{
		Word: top[0].Word,
		Date: date,
		Top10: lo.Map(top, func(r domain.Result, _ int) domain.ArchivedScore {
			return domain.ArchivedScore{
				PlayerName:  r.PlayerName,
				Moves:       r.Moves,
				TimeSeconds: r.TimeSeconds,
				Word:        r.Word,
			}
		}),
		TotalPlayers: total,
		CreatedAt:    s.now().UTC(),
	}
	if !s.store.AppendArchive(ctx, entry, s.config.ArchiveLimit) {
		s.logger.Warn("archive entry kept in memory only", "date", date)
	}
	s.logger.Info("archived day", "date", date, "total_players", total)

	if s.history != nil {
		if err := s.history.RecordArchiveEntry(ctx, entry); err != nil {
			s.logger.Warn("failed to record archive history", "date", date, "error", err)
		}
	}
	return entry, true
}

// Stats aggregates all stored results
func (s *GameService) Stats(ctx context.Context) domain.Stats {
	results := s.store.Results(ctx)
	today := s.today()

	names := lo.Map(results, func(r domain.Result, _ int) string { return r.PlayerName })
	unique := lo.Uniq(names)
	counts := lo.CountValues(names)

	topPlayer := s.config.NoPlayerLabel
	best := 0
	for _, name := range unique {
		if counts[name] > best {
			topPlayer, best = name, counts[name]
		}
	}

	return domain.Stats{
		TotalPlayers: len(unique),
		TotalGames:   len(results),
		TodayGames:   lo.CountBy(results, func(r domain.Result) bool { return r.Date == today }),
		ArchivedDays: len(s.store.Archive(ctx)),
		TopPlayer:    topPlayer,
		UsingRedis:   s.store.Kind() == domain.BackendRedis,
	}
}

// AdminStats returns Stats after checking the admin password
func (s *GameService) AdminStats(ctx context.Context, password string) (domain.Stats, error) {
	if err := s.checkAdmin(password); err != nil {
		return domain.Stats{}, err
	}
	return s.Stats(ctx), nil
}

// Archive returns archived days newest first
func (s *GameService) Archive(ctx context.Context) []domain.ArchiveEntry {
	archive := s.store.Archive(ctx)
	sort.SliceStable(archive, func(i, j int) bool {
		return archive[i].Date > archive[j].Date
	})
	if limit := s.config.ArchiveLimit; limit > 0 && len(archive) > limit {
		archive = archive[:limit]
	}
	return archive
}

// Health reports service and storage status
func (s *GameService) Health(ctx context.Context) domain.Health {
	return domain.Health{
		Status:    "OK",
		Timestamp: s.now().UTC(),
		Version:   s.config.Version,
		Database:  s.store.Health(ctx),
	}
}
