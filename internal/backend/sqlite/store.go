// Package sqlite is the default backend.Store driver, using
// github.com/mattn/go-sqlite3 as the teacher's store package does. It is
// the right choice for a single-process deployment or for tests (":memory:").
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/relay-ci/revpipe/internal/backend"
	"github.com/relay-ci/revpipe/internal/domain"
	_ "github.com/mattn/go-sqlite3"
)

// Store implements backend.Store over a local SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) a SQLite-backed Store at path. Use
// ":memory:" for a fresh in-memory database, as the teacher's tests do.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS repositories (
		slug TEXT PRIMARY KEY,
		url  TEXT NOT NULL,
		kind TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS revisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		provider_id TEXT NOT NULL,
		provider_name TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		bug_id TEXT NOT NULL DEFAULT '',
		base_repository TEXT NOT NULL,
		author TEXT NOT NULL DEFAULT '',
		UNIQUE(provider_id, provider_name),
		FOREIGN KEY (base_repository) REFERENCES repositories(slug)
	);

	CREATE TABLE IF NOT EXISTS diffs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		revision_id INTEGER NOT NULL,
		commit_hash TEXT NOT NULL,
		review_task_id TEXT NOT NULL,
		base_revision TEXT NOT NULL,
		repository TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(revision_id, review_task_id),
		FOREIGN KEY (revision_id) REFERENCES revisions(id),
		FOREIGN KEY (repository) REFERENCES repositories(slug)
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
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS issue_links (
		issue_hash TEXT NOT NULL,
		diff_id INTEGER NOT NULL,
		revision_id INTEGER NOT NULL,
		in_patch INTEGER NOT NULL DEFAULT 0,
		new_for_revision INTEGER NOT NULL DEFAULT 0,
		publishable INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (issue_hash, diff_id),
		FOREIGN KEY (issue_hash) REFERENCES issues(hash),
		FOREIGN KEY (diff_id) REFERENCES diffs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_issue_links_diff ON issue_links(diff_id);
	CREATE INDEX IF NOT EXISTS idx_issue_links_revision ON issue_links(revision_id);
	CREATE INDEX IF NOT EXISTS idx_issues_analyzer_check ON issues(analyzer, check_id);
	CREATE INDEX IF NOT EXISTS idx_diffs_repository ON diffs(repository);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) UpsertRepository(ctx context.Context, repo domain.Repository) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repositories (slug, url, kind) VALUES (?, ?, ?)
		ON CONFLICT(slug) DO NOTHING
	`, repo.Slug, repo.URL, repo.Kind)
	if err != nil {
		return fmt.Errorf("upsert repository %s: %w", repo.Slug, err)
	}
	return nil
}

func (s *Store) GetRepository(ctx context.Context, slug string) (domain.Repository, error) {
	var r domain.Repository
	err := s.db.QueryRowContext(ctx, `SELECT slug, url, kind FROM repositories WHERE slug = ?`, slug).
		Scan(&r.Slug, &r.URL, &r.Kind)
	if err == sql.ErrNoRows {
		return domain.Repository{}, backend.ErrNotFound
	}
	if err != nil {
		return domain.Repository{}, fmt.Errorf("get repository %s: %w", slug, err)
	}
	return r, nil
}

func (s *Store) ListRepositories(ctx context.Context) ([]domain.Repository, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slug, url, kind FROM repositories ORDER BY slug`)
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
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO revisions (provider_id, provider_name, title, bug_id, base_repository, author)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider_id, provider_name) DO UPDATE SET
			title = excluded.title,
			bug_id = excluded.bug_id,
			author = excluded.author
	`, rev.ProviderID, string(rev.ProviderName), rev.Title, rev.BugID, rev.BaseRepository, rev.Author)
	if err != nil {
		return 0, fmt.Errorf("upsert revision %s: %w", rev.ProviderID, err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		SELECT id FROM revisions WHERE provider_id = ? AND provider_name = ?
	`, rev.ProviderID, string(rev.ProviderName)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("fetch revision id after upsert: %w", err)
	}
	_ = res
	return id, nil
}

func (s *Store) GetRevision(ctx context.Context, id int64) (domain.Revision, error) {
	var r domain.Revision
	var providerName string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, provider_id, provider_name, title, bug_id, base_repository, author
		FROM revisions WHERE id = ?
	`, id).Scan(&r.ID, &r.ProviderID, &providerName, &r.Title, &r.BugID, &r.BaseRepository, &r.Author)
	if err == sql.ErrNoRows {
		return domain.Revision{}, backend.ErrNotFound
	}
	if err != nil {
		return domain.Revision{}, fmt.Errorf("get revision %d: %w", id, err)
	}
	r.ProviderName = domain.ProviderName(providerName)
	return r, nil
}

func (s *Store) ListDiffsForRevision(ctx context.Context, revisionID int64) ([]domain.Diff, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, revision_id, commit_hash, review_task_id, base_revision, repository, created_at
		FROM diffs WHERE revision_id = ? ORDER BY created_at
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
		createdAt = time.Unix(0, 0).UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO diffs (revision_id, commit_hash, review_task_id, base_revision, repository, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(revision_id, review_task_id) DO NOTHING
	`, d.RevisionID, d.CommitHash, d.ReviewTaskID, d.BaseRevision, d.Repository, createdAt.Unix())
	if err != nil {
		return 0, fmt.Errorf("create diff for revision %d: %w", d.RevisionID, err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		SELECT id FROM diffs WHERE revision_id = ? AND review_task_id = ?
	`, d.RevisionID, d.ReviewTaskID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("fetch diff id after create: %w", err)
	}
	return id, nil
}

func (s *Store) GetDiff(ctx context.Context, id int64) (domain.Diff, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, revision_id, commit_hash, review_task_id, base_revision, repository, created_at
		FROM diffs WHERE id = ?
	`, id)
	d, err := scanDiffRow(row)
	if err == sql.ErrNoRows {
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

	query := `
		SELECT d.id, d.revision_id, d.commit_hash, d.review_task_id, d.base_revision, d.repository, d.created_at
		FROM diffs d
		JOIN revisions r ON r.id = d.revision_id
		WHERE 1=1
	`
	var args []interface{}
	if filter.Repository != "" {
		query += " AND d.repository = ?"
		args = append(args, filter.Repository)
	}
	if filter.Search != "" {
		query += " AND r.title LIKE ?"
		args = append(args, "%"+filter.Search+"%")
	}
	if filter.Issues == "any" || filter.Issues == "publishable" {
		query += " AND EXISTS (SELECT 1 FROM issue_links il WHERE il.diff_id = d.id"
		if filter.Issues == "publishable" {
			query += " AND il.publishable = 1"
		}
		query += ")"
	} else if filter.Issues == "no" {
		query += " AND NOT EXISTS (SELECT 1 FROM issue_links il WHERE il.diff_id = d.id)"
	}

	countQuery := "SELECT COUNT(*) FROM (" + query + ")"
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return backend.Page[domain.Diff]{}, fmt.Errorf("count diffs: %w", err)
	}

	query += " ORDER BY d.created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
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

func scanDiffs(rows *sql.Rows) ([]domain.Diff, error) {
	var out []domain.Diff
	for rows.Next() {
		var d domain.Diff
		var createdAt int64
		if err := rows.Scan(&d.ID, &d.RevisionID, &d.CommitHash, &d.ReviewTaskID, &d.BaseRevision, &d.Repository, &createdAt); err != nil {
			return nil, fmt.Errorf("scan diff: %w", err)
		}
		d.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDiffRow(row *sql.Row) (domain.Diff, error) {
	var d domain.Diff
	var createdAt int64
	err := row.Scan(&d.ID, &d.RevisionID, &d.CommitHash, &d.ReviewTaskID, &d.BaseRevision, &d.Repository, &createdAt)
	if err != nil {
		return domain.Diff{}, err
	}
	d.CreatedAt = time.Unix(createdAt, 0).UTC()
	return d, nil
}

func (s *Store) UpsertIssue(ctx context.Context, issue domain.Issue) error {
	createdAt := issue.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Unix(0, 0).UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issues (hash, path, line, nb_lines, check_id, analyzer, level, message, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING
	`, issue.Hash, issue.Path, nullableInt(issue.Line), issue.NbLines, issue.Check, issue.Analyzer,
		string(issue.Level), issue.Message, issue.Body, createdAt.Unix())
	if err != nil {
		return fmt.Errorf("upsert issue %s: %w", issue.Hash, err)
	}
	return nil
}

func (s *Store) GetIssue(ctx context.Context, hash string) (domain.Issue, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT hash, path, line, nb_lines, check_id, analyzer, level, message, body, created_at
		FROM issues WHERE hash = ?
	`, hash)
	issue, err := scanIssueRow(row)
	if err == sql.ErrNoRows {
		return domain.Issue{}, backend.ErrNotFound
	}
	if err != nil {
		return domain.Issue{}, fmt.Errorf("get issue %s: %w", hash, err)
	}
	return issue, nil
}

func (s *Store) ListIssuesForDiff(ctx context.Context, diffID int64, limit, offset int) (backend.Page[domain.Issue], error) {
	if limit <= 0 {
		limit = 50
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM issue_links WHERE diff_id = ?`, diffID).Scan(&total); err != nil {
		return backend.Page[domain.Issue]{}, fmt.Errorf("count issues for diff %d: %w", diffID, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT i.hash, i.path, i.line, i.nb_lines, i.check_id, i.analyzer, i.level, i.message, i.body, i.created_at
		FROM issues i
		JOIN issue_links il ON il.issue_hash = i.hash
		WHERE il.diff_id = ?
		ORDER BY i.path, i.line
		LIMIT ? OFFSET ?
	`, diffID, limit, offset)
	if err != nil {
		return backend.Page[domain.Issue]{}, fmt.Errorf("list issues for diff %d: %w", diffID, err)
	}
	defer rows.Close()

	var items []domain.Issue
	for rows.Next() {
		issue, err := scanIssueRows(rows)
		if err != nil {
			return backend.Page[domain.Issue]{}, err
		}
		items = append(items, issue)
	}
	if err := rows.Err(); err != nil {
		return backend.Page[domain.Issue]{}, err
	}

	return backend.Page[domain.Issue]{
		Items:      items,
		TotalCount: total,
		NextOffset: offset + len(items),
		HasMore:    offset+len(items) < total,
	}, nil
}

func scanIssueRow(row *sql.Row) (domain.Issue, error) {
	var issue domain.Issue
	var line sql.NullInt64
	var level string
	var createdAt int64
	err := row.Scan(&issue.Hash, &issue.Path, &line, &issue.NbLines, &issue.Check, &issue.Analyzer, &level, &issue.Message, &issue.Body, &createdAt)
	if err != nil {
		return domain.Issue{}, err
	}
	if line.Valid {
		v := int(line.Int64)
		issue.Line = &v
	}
	issue.Level = domain.Level(level)
	issue.CreatedAt = time.Unix(createdAt, 0).UTC()
	return issue, nil
}

func scanIssueRows(rows *sql.Rows) (domain.Issue, error) {
	var issue domain.Issue
	var line sql.NullInt64
	var level string
	var createdAt int64
	err := rows.Scan(&issue.Hash, &issue.Path, &line, &issue.NbLines, &issue.Check, &issue.Analyzer, &level, &issue.Message, &issue.Body, &createdAt)
	if err != nil {
		return domain.Issue{}, fmt.Errorf("scan issue: %w", err)
	}
	if line.Valid {
		v := int(line.Int64)
		issue.Line = &v
	}
	issue.Level = domain.Level(level)
	issue.CreatedAt = time.Unix(createdAt, 0).UTC()
	return issue, nil
}

func (s *Store) UpsertIssueLink(ctx context.Context, link domain.IssueLink) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issue_links (issue_hash, diff_id, revision_id, in_patch, new_for_revision, publishable)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(issue_hash, diff_id) DO UPDATE SET
			in_patch = excluded.in_patch,
			new_for_revision = excluded.new_for_revision,
			publishable = excluded.publishable
	`, link.IssueHash, link.DiffID, link.RevisionID, boolInt(link.InPatch), boolInt(link.NewForRevision), boolInt(link.Publishable))
	if err != nil {
		return fmt.Errorf("upsert issue link %s/%d: %w", link.IssueHash, link.DiffID, err)
	}
	return nil
}

func (s *Store) PriorHashes(ctx context.Context, revisionID int64, excludeDiffID int64) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT issue_hash FROM issue_links
		WHERE revision_id = ? AND diff_id != ?
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
		WHERE d.repository = ? AND i.analyzer = ? AND i.check_id = ?
	`
	args := []interface{}{repository, analyzer, check}
	if publishableOnly {
		query += " AND il.publishable = 1"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("check issues %s/%s/%s: %w", repository, analyzer, check, err)
	}
	defer rows.Close()

	var out []domain.Issue
	for rows.Next() {
		issue, err := scanIssueRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, issue)
	}
	return out, rows.Err()
}

func (s *Store) CheckStats(ctx context.Context, since time.Time) ([]backend.CheckStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.repository, i.analyzer, i.check_id,
			COUNT(*) AS total,
			SUM(CASE WHEN il.publishable = 1 THEN 1 ELSE 0 END) AS publishable
		FROM issues i
		JOIN issue_links il ON il.issue_hash = i.hash
		JOIN diffs d ON d.id = il.diff_id
		WHERE i.created_at >= ?
		GROUP BY d.repository, i.analyzer, i.check_id
		ORDER BY d.repository, i.analyzer, i.check_id
	`, since.Unix())
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
	rows, err := s.db.QueryContext(ctx, `
		SELECT date(i.created_at, 'unixepoch') AS day, COUNT(*) AS total
		FROM issues i
		JOIN issue_links il ON il.issue_hash = i.hash
		JOIN diffs d ON d.id = il.diff_id
		WHERE d.repository = ? AND i.analyzer = ? AND i.check_id = ? AND i.created_at >= ?
		GROUP BY day
		ORDER BY day
	`, repository, analyzer, check, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("check history %s/%s/%s: %w", repository, analyzer, check, err)
	}
	defer rows.Close()

	var out []backend.CheckHistoryPoint
	for rows.Next() {
		var day string
		var total int
		if err := rows.Scan(&day, &total); err != nil {
			return nil, fmt.Errorf("scan check history point: %w", err)
		}
		t, err := time.Parse("2006-01-02", day)
		if err != nil {
			continue
		}
		out = append(out, backend.CheckHistoryPoint{Date: t, Total: total})
	}
	return out, rows.Err()
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
