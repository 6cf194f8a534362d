// Package postgres is the production backend.Store driver, using
// github.com/jackc/pgx/v5's connection pool. Selected by
// config.BackendConfig.Driver == "postgres" for deployments that need a
// shared, horizontally-scaled backend rather than the sqlite driver's
// single-file database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relay-ci/revpipe/internal/backend"
	"github.com/relay-ci/revpipe/internal/domain"
)

// Store implements backend.Store over a Postgres connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS repositories (
		slug TEXT PRIMARY KEY,
		url  TEXT NOT NULL,
		kind TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS revisions (
		id BIGSERIAL PRIMARY KEY,
		provider_id TEXT NOT NULL,
		provider_name TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		bug_id TEXT NOT NULL DEFAULT '',
		base_repository TEXT NOT NULL REFERENCES repositories(slug),
		author TEXT NOT NULL DEFAULT '',
		UNIQUE(provider_id, provider_name)
	);

	CREATE TABLE IF NOT EXISTS diffs (
		id BIGSERIAL PRIMARY KEY,
		revision_id BIGINT NOT NULL REFERENCES revisions(id),
		commit_hash TEXT NOT NULL,
		review_task_id TEXT NOT NULL,
		base_revision TEXT NOT NULL,
		repository TEXT NOT NULL REFERENCES repositories(slug),
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE(revision_id, review_task_id)
	);

	CREATE TABLE IF NOT EXISTS issues (
		hash TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		line INTEGER,
		nb_lines INTEGER NOT NULL DEFAULT 1,
		check_id TEXT NOT NULL DEFAULT '',
		analyzer TEXT NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS issue_links (
		issue_hash TEXT NOT NULL REFERENCES issues(hash),
		diff_id BIGINT NOT NULL REFERENCES diffs(id),
		revision_id BIGINT NOT NULL,
		in_patch BOOLEAN NOT NULL DEFAULT FALSE,
		new_for_revision BOOLEAN NOT NULL DEFAULT FALSE,
		publishable BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (issue_hash, diff_id)
	);

	CREATE INDEX IF NOT EXISTS idx_issue_links_diff ON issue_links(diff_id);
	CREATE INDEX IF NOT EXISTS idx_issue_links_revision ON issue_links(revision_id);
	CREATE INDEX IF NOT EXISTS idx_issues_analyzer_check ON issues(analyzer, check_id);
	`)
	return err
}

func (s *Store) UpsertRepository(ctx context.Context, repo domain.Repository) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO repositories (slug, url, kind) VALUES ($1, $2, $3)
		ON CONFLICT (slug) DO NOTHING
	`, repo.Slug, repo.URL, repo.Kind)
	if err != nil {
		return fmt.Errorf("upsert repository %s: %w", repo.Slug, err)
	}
	return nil
}

func (s *Store) GetRepository(ctx context.Context, slug string) (domain.Repository, error) {
	var r domain.Repository
	err := s.pool.QueryRow(ctx, `SELECT slug, url, kind FROM repositories WHERE slug = $1`, slug).
		Scan(&r.Slug, &r.URL, &r.Kind)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Repository{}, backend.ErrNotFound
	}
	if err != nil {
		return domain.Repository{}, fmt.Errorf("get repository %s: %w", slug, err)
	}
	return r, nil
}

func (s *Store) ListRepositories(ctx context.Context) ([]domain.Repository, error) {
	rows, err := s.pool.Query(ctx, `SELECT slug, url, kind FROM repositories ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	var out []domain.Repository
	for rows.Next() {
		var r domain.Repository
		if err := rows.Scan(&r.Slug, &r.URL, &r.Kind); err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) UpsertRevision(ctx context.Context, rev domain.Revision) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO revisions (provider_id, provider_name, title, bug_id, base_repository, author)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider_id, provider_name) DO UPDATE SET
			title = excluded.title, bug_id = excluded.bug_id, author = excluded.author
		RETURNING id
	`, rev.ProviderID, string(rev.ProviderName), rev.Title, rev.BugID, rev.BaseRepository, rev.Author).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert revision %s: %w", rev.ProviderID, err)
	}
	return id, nil
}

func (s *Store) GetRevision(ctx context.Context, id int64) (domain.Revision, error) {
	var r domain.Revision
	var providerName string
	err := s.pool.QueryRow(ctx, `
		SELECT id, provider_id, provider_name, title, bug_id, base_repository, author
		FROM revisions WHERE id = $1
	`, id).Scan(&r.ID, &r.ProviderID, &providerName, &r.Title, &r.BugID, &r.BaseRepository, &r.Author)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Revision{}, backend.ErrNotFound
	}
	if err != nil {
		return domain.Revision{}, fmt.Errorf("get revision %d: %w", id, err)
	}
	r.ProviderName = domain.ProviderName(providerName)
	return r, nil
}

func (s *Store) ListDiffsForRevision(ctx context.Context, revisionID int64) ([]domain.Diff, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, revision_id, commit_hash, review_task_id, base_revision, repository, created_at
		FROM diffs WHERE revision_id = $1 ORDER BY created_at
	`, revisionID)
	if err != nil {
		return nil, fmt.Errorf("list diffs for revision %d: %w", revisionID, err)
	}
	defer rows.Close()
	return scanDiffs(rows)
}

func (s *Store) CreateDiff(ctx context.Context, d domain.Diff) (int64, error) {
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO diffs (revision_id, commit_hash, review_task_id, base_revision, repository, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (revision_id, review_task_id) DO UPDATE SET revision_id = excluded.revision_id
		RETURNING id
	`, d.RevisionID, d.CommitHash, d.ReviewTaskID, d.BaseRevision, d.Repository, createdAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create diff for revision %d: %w", d.RevisionID, err)
	}
	return id, nil
}

func (s *Store) GetDiff(ctx context.Context, id int64) (domain.Diff, error) {
	var d domain.Diff
	err := s.pool.QueryRow(ctx, `
		SELECT id, revision_id, commit_hash, review_task_id, base_revision, repository, created_at
		FROM diffs WHERE id = $1
	`, id).Scan(&d.ID, &d.RevisionID, &d.CommitHash, &d.ReviewTaskID, &d.BaseRevision, &d.Repository, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Diff{}, backend.ErrNotFound
	}
	if err != nil {
		return domain.Diff{}, fmt.Errorf("get diff %d: %w", id, err)
	}
	return d, nil
}

func (s *Store) ListDiffs(ctx context.Context, filter backend.DiffFilter) (backend.Page[domain.Diff], error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	where := "WHERE 1=1"
	var args []interface{}
	argN := 1
	arg := func(v interface{}) string {
		args = append(args, v)
		s := fmt.Sprintf("$%d", argN)
		argN++
		return s
	}

	if filter.Repository != "" {
		where += " AND d.repository = " + arg(filter.Repository)
	}
	if filter.Search != "" {
		where += " AND r.title ILIKE " + arg("%"+filter.Search+"%")
	}
	if filter.Issues == "any" || filter.Issues == "publishable" {
		extra := ""
		if filter.Issues == "publishable" {
			extra = " AND il.publishable"
		}
		where += fmt.Sprintf(" AND EXISTS (SELECT 1 FROM issue_links il WHERE il.diff_id = d.id%s)", extra)
	} else if filter.Issues == "no" {
		where += " AND NOT EXISTS (SELECT 1 FROM issue_links il WHERE il.diff_id = d.id)"
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM diffs d JOIN revisions r ON r.id = d.revision_id %s`, where)
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return backend.Page[domain.Diff]{}, fmt.Errorf("count diffs: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT d.id, d.revision_id, d.commit_hash, d.review_task_id, d.base_revision, d.repository, d.created_at
		FROM diffs d JOIN revisions r ON r.id = d.revision_id %s
		ORDER BY d.created_at DESC LIMIT %s OFFSET %s
	`, where, arg(limit), arg(filter.Offset))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return backend.Page[domain.Diff]{}, fmt.Errorf("list diffs: %w", err)
	}
	defer rows.Close()

	items, err := scanDiffs(rows)
	if err != nil {
		return backend.Page[domain.Diff]{}, err
	}

	return backend.Page[domain.Diff]{
		Items:      items,
		TotalCount: total,
		NextOffset: filter.Offset + len(items),
		HasMore:    filter.Offset+len(items) < total,
	}, nil
}

func scanDiffs(rows pgx.Rows) ([]domain.Diff, error) {
	var out []domain.Diff
	for rows.Next() {
		var d domain.Diff
		if err := rows.Scan(&d.ID, &d.RevisionID, &d.CommitHash, &d.ReviewTaskID, &d.BaseRevision, &d.Repository, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan diff: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) UpsertIssue(ctx context.Context, issue domain.Issue) error {
	createdAt := issue.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO issues (hash, path, line, nb_lines, check_id, analyzer, level, message, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (hash) DO NOTHING
	`, issue.Hash, issue.Path, issue.Line, issue.NbLines, issue.Check, issue.Analyzer,
		string(issue.Level), issue.Message, issue.Body, createdAt)
	if err != nil {
		return fmt.Errorf("upsert issue %s: %w", issue.Hash, err)
	}
	return nil
}

func (s *Store) GetIssue(ctx context.Context, hash string) (domain.Issue, error) {
	var issue domain.Issue
	var level string
	err := s.pool.QueryRow(ctx, `
		SELECT hash, path, line, nb_lines, check_id, analyzer, level, message, body, created_at
		FROM issues WHERE hash = $1
	`, hash).Scan(&issue.Hash, &issue.Path, &issue.Line, &issue.NbLines, &issue.Check, &issue.Analyzer, &level, &issue.Message, &issue.Body, &issue.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Issue{}, backend.ErrNotFound
	}
	if err != nil {
		return domain.Issue{}, fmt.Errorf("get issue %s: %w", hash, err)
	}
	issue.Level = domain.Level(level)
	return issue, nil
}

func (s *Store) ListIssuesForDiff(ctx context.Context, diffID int64, limit, offset int) (backend.Page[domain.Issue], error) {
	if limit <= 0 {
		limit = 50
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM issue_links WHERE diff_id = $1`, diffID).Scan(&total); err != nil {
		return backend.Page[domain.Issue]{}, fmt.Errorf("count issues for diff %d: %w", diffID, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT i.hash, i.path, i.line, i.nb_lines, i.check_id, i.analyzer, i.level, i.message, i.body, i.created_at
		FROM issues i JOIN issue_links il ON il.issue_hash = i.hash
		WHERE il.diff_id = $1
		ORDER BY i.path, i.line
		LIMIT $2 OFFSET $3
	`, diffID, limit, offset)
	if err != nil {
		return backend.Page[domain.Issue]{}, fmt.Errorf("list issues for diff %d: %w", diffID, err)
	}
	defer rows.Close()

	items, err := scanIssues(rows)
	if err != nil {
		return backend.Page[domain.Issue]{}, err
	}

	return backend.Page[domain.Issue]{
		Items:      items,
		TotalCount: total,
		NextOffset: offset + len(items),
		HasMore:    offset+len(items) < total,
	}, nil
}

func scanIssues(rows pgx.Rows) ([]domain.Issue, error) {
	var out []domain.Issue
	for rows.Next() {
		var issue domain.Issue
		var level string
		if err := rows.Scan(&issue.Hash, &issue.Path, &issue.Line, &issue.NbLines, &issue.Check, &issue.Analyzer, &level, &issue.Message, &issue.Body, &issue.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issue.Level = domain.Level(level)
		out = append(out, issue)
	}
	return out, rows.Err()
}

func (s *Store) UpsertIssueLink(ctx context.Context, link domain.IssueLink) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO issue_links (issue_hash, diff_id, revision_id, in_patch, new_for_revision, publishable)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (issue_hash, diff_id) DO UPDATE SET
			in_patch = excluded.in_patch,
			new_for_revision = excluded.new_for_revision,
			publishable = excluded.publishable
	`, link.IssueHash, link.DiffID, link.RevisionID, link.InPatch, link.NewForRevision, link.Publishable)
	if err != nil {
		return fmt.Errorf("upsert issue link %s/%d: %w", link.IssueHash, link.DiffID, err)
	}
	return nil
}

func (s *Store) PriorHashes(ctx context.Context, revisionID int64, excludeDiffID int64) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT issue_hash FROM issue_links
		WHERE revision_id = $1 AND diff_id != $2
	`, revisionID, excludeDiffID)
	if err != nil {
		return nil, fmt.Errorf("prior hashes for revision %d: %w", revisionID, err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("scan prior hash: %w", err)
		}
		out[hash] = true
	}
	return out, rows.Err()
}

func (s *Store) CheckIssues(ctx context.Context, repository, analyzer, check string, publishableOnly bool) ([]domain.Issue, error) {
	query := `
		SELECT DISTINCT i.hash, i.path, i.line, i.nb_lines, i.check_id, i.analyzer, i.level, i.message, i.body, i.created_at
		FROM issues i
		JOIN issue_links il ON il.issue_hash = i.hash
		JOIN diffs d ON d.id = il.diff_id
		WHERE d.repository = $1 AND i.analyzer = $2 AND i.check_id = $3
	`
	if publishableOnly {
		query += " AND il.publishable"
	}

	rows, err := s.pool.Query(ctx, query, repository, analyzer, check)
	if err != nil {
		return nil, fmt.Errorf("check issues %s/%s/%s: %w", repository, analyzer, check, err)
	}
	defer rows.Close()
	return scanIssues(rows)
}

func (s *Store) CheckStats(ctx context.Context, since time.Time) ([]backend.CheckStat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT d.repository, i.analyzer, i.check_id,
			COUNT(*) AS total,
			SUM(CASE WHEN il.publishable THEN 1 ELSE 0 END) AS publishable
		FROM issues i
		JOIN issue_links il ON il.issue_hash = i.hash
		JOIN diffs d ON d.id = il.diff_id
		WHERE i.created_at >= $1
		GROUP BY d.repository, i.analyzer, i.check_id
		ORDER BY d.repository, i.analyzer, i.check_id
	`, since)
	if err != nil {
		return nil, fmt.Errorf("check stats: %w", err)
	}
	defer rows.Close()

	var out []backend.CheckStat
	for rows.Next() {
		var cs backend.CheckStat
		if err := rows.Scan(&cs.Repository, &cs.Analyzer, &cs.Check, &cs.Total, &cs.Publishable); err != nil {
			return nil, fmt.Errorf("scan check stat: %w", err)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

func (s *Store) CheckHistory(ctx context.Context, repository, analyzer, check string, since time.Time) ([]backend.CheckHistoryPoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT date_trunc('day', i.created_at) AS day, COUNT(*) AS total
		FROM issues i
		JOIN issue_links il ON il.issue_hash = i.hash
		JOIN diffs d ON d.id = il.diff_id
		WHERE d.repository = $1 AND i.analyzer = $2 AND i.check_id = $3 AND i.created_at >= $4
		GROUP BY day
		ORDER BY day
	`, repository, analyzer, check, since)
	if err != nil {
		return nil, fmt.Errorf("check history %s/%s/%s: %w", repository, analyzer, check, err)
	}
	defer rows.Close()

	var out []backend.CheckHistoryPoint
	for rows.Next() {
		var p backend.CheckHistoryPoint
		if err := rows.Scan(&p.Date, &p.Total); err != nil {
			return nil, fmt.Errorf("scan check history point: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
