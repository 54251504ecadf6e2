package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect names accepted by OpenSQLStore; each is also the database/sql
// driver name.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// SQLStore is a database/sql backed FixtureStore. Promotions created in mock
// mode survive restarts.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// OpenSQLStore opens the database, creates the schema if needed and seeds
// it with f when it holds no environments yet.
func OpenSQLStore(ctx context.Context, dialect, dsn string, f Fixture) (*SQLStore, error) {
	if dialect != DialectSQLite && dialect != DialectPostgres {
		return nil, fmt.Errorf("unsupported fixture dialect %q", dialect)
	}

	db, err := sql.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect == DialectSQLite {
		// One writer; keeps :memory: databases on a single connection.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	if err := s.seed(ctx, f); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to seed fixture: %w", err)
	}
	return s, nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	seq := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect == DialectPostgres {
		seq = "BIGSERIAL PRIMARY KEY"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS copado_environments (
			seq ` + seq + `,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS copado_user_stories (
			seq ` + seq + `,
			id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			priority TEXT NOT NULL DEFAULT '',
			project TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS copado_promotions (
			seq ` + seq + `,
			id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			source_env TEXT NOT NULL,
			target_env TEXT NOT NULL,
			user_stories TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) seed(ctx context.Context, f Fixture) error {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM copado_environments").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, name := range f.Environments {
		if _, err := tx.ExecContext(ctx, s.rebind("INSERT INTO copado_environments (name) VALUES (?)"), name); err != nil {
			return fmt.Errorf("insert environment %s: %w", name, err)
		}
	}
	for _, us := range f.UserStories {
		_, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO copado_user_stories
			(id, name, title, status, priority, project, description) VALUES (?, ?, ?, ?, ?, ?, ?)`),
			us.ID, us.Name, us.Title, us.Status, us.Priority, us.Project, us.Description)
		if err != nil {
			return fmt.Errorf("insert user story %s: %w", us.ID, err)
		}
	}
	for _, p := range f.Promotions {
		if err := s.insertPromotion(ctx, tx, p); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// rebind rewrites ? placeholders into $N for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *SQLStore) insertPromotion(ctx context.Context, ex execer, p Promotion) error {
	stories, err := json.Marshal(append([]string{}, p.UserStories...))
	if err != nil {
		return fmt.Errorf("failed to marshal user stories: %w", err)
	}
	_, err = ex.ExecContext(ctx, s.rebind(`INSERT INTO copado_promotions
		(id, name, status, source_env, target_env, user_stories, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		p.ID, p.Name, p.Status, p.SourceEnv, p.TargetEnv, string(stories), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert promotion %s: %w", p.ID, err)
	}
	return nil
}

func (s *SQLStore) UserStories(ctx context.Context, status string) ([]UserStory, error) {
	query := "SELECT id, name, title, status, priority, project, description FROM copado_user_stories"
	var args []interface{}
	if status != "" {
		query += " WHERE LOWER(status) = LOWER(?)"
		args = append(args, status)
	}
	query += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query user stories: %w", err)
	}
	defer rows.Close()

	stories := []UserStory{}
	for rows.Next() {
		var us UserStory
		if err := rows.Scan(&us.ID, &us.Name, &us.Title, &us.Status, &us.Priority, &us.Project, &us.Description); err != nil {
			return nil, fmt.Errorf("failed to scan user story: %w", err)
		}
		stories = append(stories, us)
	}
	return stories, rows.Err()
}

const promotionColumns = "id, name, status, source_env, target_env, user_stories, created_at"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPromotion(row rowScanner) (Promotion, error) {
	var p Promotion
	var stories string
	if err := row.Scan(&p.ID, &p.Name, &p.Status, &p.SourceEnv, &p.TargetEnv, &stories, &p.CreatedAt); err != nil {
		return p, err
	}
	p.UserStories = []string{}
	if stories != "" {
		if err := json.Unmarshal([]byte(stories), &p.UserStories); err != nil {
			return p, fmt.Errorf("failed to unmarshal user stories of %s: %w", p.ID, err)
		}
	}
	return p, nil
}

func (s *SQLStore) Promotions(ctx context.Context) ([]Promotion, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+promotionColumns+" FROM copado_promotions ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("failed to query promotions: %w", err)
	}
	defer rows.Close()

	promotions := []Promotion{}
	for rows.Next() {
		p, err := scanPromotion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan promotion: %w", err)
		}
		promotions = append(promotions, p)
	}
	return promotions, rows.Err()
}

func (s *SQLStore) Environments(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM copado_environments ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("failed to query environments: %w", err)
	}
	defer rows.Close()

	var envs []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan environment: %w", err)
		}
		envs = append(envs, name)
	}
	return envs, rows.Err()
}

func (s *SQLStore) AppendPromotion(ctx context.Context, p Promotion) error {
	return s.insertPromotion(ctx, s.db, p)
}

func (s *SQLStore) FindPromotion(ctx context.Context, id string) (*Promotion, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+promotionColumns+" FROM copado_promotions WHERE id = ?"), id)
	p, err := scanPromotion(row)
	if err == sql.ErrNoRows {
		return nil, notFoundError("find promotion", "Promotion %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get promotion: %w", err)
	}
	return &p, nil
}

func (s *SQLStore) SetPromotionStatus(ctx context.Context, id, status string) (*Promotion, error) {
	res, err := s.db.ExecContext(ctx, s.rebind("UPDATE copado_promotions SET status = ? WHERE id = ?"), status, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update promotion: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to update promotion: %w", err)
	}
	if n == 0 {
		return nil, notFoundError("update promotion", "Promotion %s not found", id)
	}
	return s.FindPromotion(ctx, id)
}

// describePostgres names the target database for the startup log line.
func describePostgres(dsn string) string {
	opts, err := pq.ParseURL(dsn)
	if err != nil || opts == "" {
		return "postgres"
	}
	for _, kv := range strings.Fields(opts) {
		if name, ok := strings.CutPrefix(kv, "dbname="); ok {
			return "postgres database " + strings.Trim(name, "'")
		}
	}
	return "postgres"
}
