package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pbaille/pulse/internal/domain"
)

const tagColumns = "t.id, t.name, t.tag_type, t.parent_tag_id, t.created_at"

// TagByName finds a tag by name
func (q *queries) TagByName(ctx context.Context, name string) (*domain.Tag, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+tagColumns+" FROM tag t WHERE t.name = ?", name)
	tag, err := scanTag(row)
	if err != nil {
		return nil, notFound(err, "find tag "+name)
	}
	return tag, nil
}

// GetOrCreateTag finds a tag by name or creates it
func (q *queries) GetOrCreateTag(ctx context.Context, name string, tagType, parentID *string) (*domain.Tag, error) {
	tag, err := q.TagByName(ctx, name)
	if err == nil {
		return tag, nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	tag = &domain.Tag{
		ID:        uuid.New().String(),
		Name:      name,
		TagType:   tagType,
		ParentID:  parentID,
		CreatedAt: q.now(),
	}
	_, err = q.q.ExecContext(ctx,
		"INSERT INTO tag (id, name, tag_type, parent_tag_id, created_at) VALUES (?, ?, ?, ?, ?)",
		tag.ID, tag.Name, nullString(tagType), nullString(parentID), toNanos(tag.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return q.TagByName(ctx, name)
		}
		return nil, fmt.Errorf("insert tag: %w", err)
	}
	return tag, nil
}

// ListTags returns all tags
func (q *queries) ListTags(ctx context.Context) ([]domain.Tag, error) {
	rows, err := q.q.QueryContext(ctx, "SELECT "+tagColumns+" FROM tag t ORDER BY t.name")
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()
	return scanTags(rows)
}

// DefaultTagsForApps returns the default-type tags attached to each of the
// given applications, keyed by application id. Applications without tags are absent.
func (q *queries) DefaultTagsForApps(ctx context.Context, appIDs []string) (map[string][]domain.Tag, error) {
	out := make(map[string][]domain.Tag)
	if len(appIDs) == 0 {
		return out, nil
	}

	args := make([]any, 0, len(appIDs)+1)
	args = append(args, domain.TagTypeDefault)
	for _, id := range appIDs {
		args = append(args, id)
	}
	rows, err := q.q.QueryContext(ctx,
		"SELECT apt.app_id, "+tagColumns+` FROM tag t
		JOIN app_tag apt ON t.id = apt.tag_id
		WHERE t.tag_type = ? AND apt.app_id IN (`+placeholders(len(appIDs))+`)
		ORDER BY apt.app_id, t.name`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("get app tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			appID             string
			t                 domain.Tag
			tagType, parentID sql.NullString
			created           int64
		)
		if err := rows.Scan(&appID, &t.ID, &t.Name, &tagType, &parentID, &created); err != nil {
			return nil, fmt.Errorf("scan app tag: %w", err)
		}
		t.TagType = stringPtr(tagType)
		t.ParentID = stringPtr(parentID)
		t.CreatedAt = fromNanos(created)
		out[appID] = append(out[appID], t)
	}
	return out, rows.Err()
}

// AddStateTags links tags to activity states. Pairs already present are
// skipped; the number of newly inserted rows is returned.
func (q *queries) AddStateTags(ctx context.Context, links []domain.StateTag) (int64, error) {
	if len(links) == 0 {
		return 0, nil
	}

	values := make([]string, 0, len(links))
	args := make([]any, 0, len(links)*4)
	now := toNanos(q.now())
	for _, l := range links {
		values = append(values, "(?, ?, ?, ?)")
		args = append(args, l.ActivityStateID, l.TagID, l.AppID, now)
	}
	res, err := q.q.ExecContext(ctx,
		"INSERT OR IGNORE INTO activity_state_tag (activity_state_id, tag_id, app_id, created_at) VALUES "+
			strings.Join(values, ","),
		args...)
	if err != nil {
		return 0, fmt.Errorf("link activity state tags: %w", err)
	}
	return res.RowsAffected()
}

// StateTags returns the tag links of an activity state
func (q *queries) StateTags(ctx context.Context, stateID int64) ([]domain.StateTag, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT activity_state_id, tag_id, app_id FROM activity_state_tag
		WHERE activity_state_id = ? ORDER BY tag_id, app_id`, stateID)
	if err != nil {
		return nil, fmt.Errorf("get activity state tags: %w", err)
	}
	defer rows.Close()

	var links []domain.StateTag
	for rows.Next() {
		var l domain.StateTag
		if err := rows.Scan(&l.ActivityStateID, &l.TagID, &l.AppID); err != nil {
			return nil, fmt.Errorf("scan activity state tag: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// TagsForState returns the distinct tags attached to an activity state
func (q *queries) TagsForState(ctx context.Context, stateID int64) ([]domain.Tag, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT DISTINCT "+tagColumns+` FROM tag t
		JOIN activity_state_tag ast ON t.id = ast.tag_id
		WHERE ast.activity_state_id = ?
		ORDER BY t.name`, stateID)
	if err != nil {
		return nil, fmt.Errorf("get state tags: %w", err)
	}
	defer rows.Close()
	return scanTags(rows)
}

func scanTags(rows *sql.Rows) ([]domain.Tag, error) {
	var tags []domain.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, *t)
	}
	return tags, rows.Err()
}

func scanTag(s scanner) (*domain.Tag, error) {
	var (
		t                 domain.Tag
		tagType, parentID sql.NullString
		created           int64
	)
	if err := s.Scan(&t.ID, &t.Name, &tagType, &parentID, &created); err != nil {
		return nil, err
	}
	t.TagType = stringPtr(tagType)
	t.ParentID = stringPtr(parentID)
	t.CreatedAt = fromNanos(created)
	return &t, nil
}
