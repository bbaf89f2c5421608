package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/CTAG07/ecg/pkg/compose"
	"github.com/CTAG07/ecg/pkg/registry"
)

const statsSchema = `
CREATE TABLE IF NOT EXISTS generations (
    id            TEXT     PRIMARY KEY,
    origin        TEXT     NOT NULL,
    theme         TEXT     NOT NULL,
    created_at    DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS stats_option (
    option_group     TEXT     NOT NULL,
    option_key       TEXT     NOT NULL,
    total_selections INTEGER  NOT NULL DEFAULT 1,
    first_seen       DATETIME NOT NULL,
    last_seen        DATETIME NOT NULL,
    PRIMARY KEY (option_group, option_key)
);
`

// statsGroupTheme records the chosen theme next to the registry groups.
const statsGroupTheme = "theme"

const (
	defaultTopLimit = 20
	maxTopLimit     = 100
)

// StatsSummary provides a high-level overview of all recorded generations.
type StatsSummary struct {
	TotalGenerations int64            `json:"total_generations"`
	ByOrigin         map[string]int64 `json:"by_origin"`
	DistinctOptions  int64            `json:"distinct_options"`
	LastGeneration   *time.Time       `json:"last_generation,omitempty"`
}

// OptionStat is the popularity of one option.
type OptionStat struct {
	Group           string    `json:"group"`
	Key             string    `json:"key"`
	TotalSelections int64     `json:"total_selections"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
}

// StatsAPI records option popularity and serves the statistics handlers.
type StatsAPI struct {
	db     *sql.DB
	logger *slog.Logger
}

func setupStatsSchema(db *sql.DB) error {
	_, err := db.Exec(statsSchema)
	return err
}

func NewStatsAPI(db *sql.DB, logger *slog.Logger) *StatsAPI {
	return &StatsAPI{
		db:     db,
		logger: logger,
	}
}

func (s *StatsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/stats/summary", s.handleSummary)
	mux.HandleFunc("/api/stats/top_options", s.handleTopOptions)
}

// RecordGeneration stores one generation and bumps the counters of its
// theme and matched keys in a single transaction. Each distinct key counts
// once per generation. The font is free text and is not recorded.
func (s *StatsAPI) RecordGeneration(ctx context.Context, gen *compose.Generation, origin string) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO generations (id, origin, theme, created_at) VALUES (?, ?, ?, ?)`,
		gen.ID, origin, gen.Theme, now)
	if err != nil {
		return fmt.Errorf("failed to insert generation: %w", err)
	}

	bump := func(group, key string) error {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO stats_option (option_group, option_key, first_seen, last_seen) VALUES (?, ?, ?, ?)
            ON CONFLICT(option_group, option_key) DO UPDATE SET total_selections = total_selections + 1, last_seen = ?
        `, group, key, now, now, now)
		if err != nil {
			return fmt.Errorf("failed to upsert stats_option %s/%s: %w", group, key, err)
		}
		return nil
	}

	if err = bump(statsGroupTheme, gen.Theme); err != nil {
		return err
	}
	for _, sel := range []struct {
		group registry.Group
		keys  []string
	}{
		{registry.GroupFeature, gen.FeatureKeys},
		{registry.GroupLanguage, gen.LanguageKeys},
	} {
		seen := make(map[string]struct{}, len(sel.keys))
		for _, key := range sel.keys {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			if err = bump(string(sel.group), key); err != nil {
				return err
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit stats transaction: %w", err)
	}
	return nil
}

// Summary aggregates the recorded generations.
func (s *StatsAPI) Summary(ctx context.Context) (*StatsSummary, error) {
	summary := &StatsSummary{ByOrigin: map[string]int64{}}

	rows, err := s.db.QueryContext(ctx, "SELECT origin, COUNT(*) FROM generations GROUP BY origin")
	if err != nil {
		return nil, fmt.Errorf("failed to count generations: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)
	for rows.Next() {
		var origin string
		var n int64
		if err = rows.Scan(&origin, &n); err != nil {
			return nil, fmt.Errorf("failed to scan generation count: %w", err)
		}
		summary.ByOrigin[origin] = n
		summary.TotalGenerations += n
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	if err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM stats_option WHERE option_group != ?", statsGroupTheme).Scan(&summary.DistinctOptions); err != nil {
		return nil, fmt.Errorf("failed to count options: %w", err)
	}

	if summary.TotalGenerations > 0 {
		var last time.Time
		if err = s.db.QueryRowContext(ctx, "SELECT created_at FROM generations ORDER BY created_at DESC LIMIT 1").Scan(&last); err != nil {
			return nil, fmt.Errorf("failed to read last generation: %w", err)
		}
		summary.LastGeneration = &last
	}
	return summary, nil
}

// TopOptions returns the most selected options, optionally limited to group.
func (s *StatsAPI) TopOptions(ctx context.Context, group string, limit int) ([]OptionStat, error) {
	query := "SELECT option_group, option_key, total_selections, first_seen, last_seen FROM stats_option"
	var args []any
	if group != "" {
		query += " WHERE option_group = ?"
		args = append(args, group)
	}
	query += " ORDER BY total_selections DESC, option_group, option_key LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query top options: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	results := []OptionStat{}
	for rows.Next() {
		var st OptionStat
		if err = rows.Scan(&st.Group, &st.Key, &st.TotalSelections, &st.FirstSeen, &st.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan top options: %w", err)
		}
		results = append(results, st)
	}
	return results, rows.Err()
}

func (s *StatsAPI) available(w http.ResponseWriter, r *http.Request) bool {
	if !allowMethods(w, r, http.MethodGet) {
		return false
	}
	if !hasScope(r, scopeStatsRead) {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'stats:read' scope")
		return false
	}
	if s.db == nil {
		respondWithError(w, http.StatusServiceUnavailable, "Statistics are disabled")
		return false
	}
	return true
}

func (s *StatsAPI) handleSummary(w http.ResponseWriter, r *http.Request) {
	if !s.available(w, r) {
		return
	}
	summary, err := s.Summary(r.Context())
	if err != nil {
		s.logger.Error("Failed to build stats summary", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

func (s *StatsAPI) handleTopOptions(w http.ResponseWriter, r *http.Request) {
	if !s.available(w, r) {
		return
	}

	group := r.URL.Query().Get("group")
	validGroups := []string{statsGroupTheme, string(registry.GroupFeature), string(registry.GroupLanguage)}
	if group != "" && !slices.Contains(validGroups, group) {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Unknown group '%s'", group))
		return
	}

	limit := defaultTopLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondWithError(w, http.StatusBadRequest, "Query parameter 'limit' must be a positive integer")
			return
		}
		limit = min(n, maxTopLimit)
	}

	results, err := s.TopOptions(r.Context(), group, limit)
	if err != nil {
		s.logger.Error("Failed to query top options", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, results)
}
