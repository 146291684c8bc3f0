package quartermaster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

const (
	// TagNameMaxLength is the maximum length of a tag name, in characters
	TagNameMaxLength = 255

	// TagContentMaxLength is the maximum length of tag content, in characters
	TagContentMaxLength = 1000

	// tagDateAddedFormat is how [Tag.DateAdded] is rendered in /tag info
	tagDateAddedFormat = "January 02, 2006"
)

var (
	// ErrTagNotFound indicates no tag exists with the requested name
	ErrTagNotFound = errors.New("tag not found")

	// ErrTagExists indicates a tag with the requested name already exists
	ErrTagExists = errors.New("tag already exists")

	// ErrTagNotOwner indicates the requester doesn't own the tag
	ErrTagNotOwner = errors.New("requester is not the tag owner")

	// ErrTagNameTooLong indicates the tag name exceeds [TagNameMaxLength]
	ErrTagNameTooLong = errors.New("tag name is too long")

	// ErrTagContentTooLong indicates the tag content exceeds [TagContentMaxLength]
	ErrTagContentTooLong = errors.New("tag content is too long")
)

var columnTagCalled = "called"

// Tag is a named, owned text snippet. Lookups are case-sensitive on Name.
type Tag struct {
	ModelUintID
	ModelUnixTime

	// Name uniquely identifies the tag
	Name string `json:"name" gorm:"uniqueIndex;size:255;not null"`

	// Content is the text returned when the tag is fetched
	Content string `json:"content" gorm:"size:1000;not null"`

	// OwnerID is the Discord user ID of the current owner. Only the owner
	// may edit, delete, or transfer the tag.
	OwnerID string `json:"owner_id" gorm:"index;not null"`

	// DateAdded is set at creation and never updated afterward
	DateAdded time.Time `json:"date_added"`

	// Called counts successful fetches
	Called int64 `json:"called" gorm:"not null;default:0"`
}

func (t Tag) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", t.Name),
		slog.String("owner_id", t.OwnerID),
		slog.Int64(columnTagCalled, t.Called),
	)
}

// TagStore owns the lifecycle of [Tag] records. Every mutating operation
// runs in its own transaction; a persistence failure rolls back and is
// returned as-is for the caller to log and translate into a generic
// user-facing message. Expected outcomes (not found, not owner, validation)
// are sentinel errors checked with errors.Is.
type TagStore struct {
	db     DBI
	logger *slog.Logger
}

func NewTagStore(db DBI, log *slog.Logger) *TagStore {
	if log == nil {
		log = slog.Default()
	}
	return &TagStore{
		db:     db,
		logger: log.With(loggerNameKey, "tag_store"),
	}
}

// Get returns the tag with the given name and increments its usage
// counter. Returns [ErrTagNotFound] if no tag matches.
func (s *TagStore) Get(ctx context.Context, name string) (*Tag, error) {
	var tag Tag
	err := s.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			if findErr := tx.Where("name = ?", name).Take(&tag).Error; findErr != nil {
				return findErr
			}
			// SQL-side increment, so concurrent fetches don't lose counts
			return tx.Model(&tag).UpdateColumn(
				columnTagCalled,
				gorm.Expr("called + ?", 1),
			).Error
		},
	)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTagNotFound
		}
		return nil, err
	}
	tag.Called++
	return &tag, nil
}

// Add validates and inserts a new tag. The name must be unused; a
// uniqueness constraint backs the in-transaction existence check.
// createdAt becomes the tag's immutable DateAdded.
func (s *TagStore) Add(
	ctx context.Context,
	name string,
	content string,
	ownerID string,
	createdAt time.Time,
) (*Tag, error) {
	if err := validateTag(name, content); err != nil {
		return nil, err
	}
	tag := Tag{
		Name:      name,
		Content:   content,
		OwnerID:   ownerID,
		DateAdded: createdAt.UTC(),
	}
	err := s.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			var count int64
			if countErr := tx.Model(&Tag{}).Where(
				"name = ?",
				name,
			).Count(&count).Error; countErr != nil {
				return countErr
			}
			if count > 0 {
				return ErrTagExists
			}
			return tx.Create(&tag).Error
		},
	)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "added tag", "tag", tag)
	return &tag, nil
}

// Edit replaces the tag's content. Only the current owner may edit;
// validation happens before anything is touched.
func (s *TagStore) Edit(
	ctx context.Context,
	name string,
	newContent string,
	requesterID string,
) (*Tag, error) {
	if err := validateTag(name, newContent); err != nil {
		return nil, err
	}
	var tag Tag
	err := s.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			if findErr := tx.Where("name = ?", name).Take(&tag).Error; findErr != nil {
				return findErr
			}
			if tag.OwnerID != requesterID {
				return ErrTagNotOwner
			}
			tag.Content = newContent
			return tx.Model(&tag).Update("content", newContent).Error
		},
	)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTagNotFound
		}
		return nil, err
	}
	s.logger.InfoContext(ctx, "edited tag", "tag", tag)
	return &tag, nil
}

// Delete physically removes the tag. Only the current owner may delete.
func (s *TagStore) Delete(
	ctx context.Context,
	name string,
	requesterID string,
) error {
	err := s.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			var tag Tag
			if findErr := tx.Where("name = ?", name).Take(&tag).Error; findErr != nil {
				return findErr
			}
			if tag.OwnerID != requesterID {
				return ErrTagNotOwner
			}
			return tx.Delete(&tag).Error
		},
	)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTagNotFound
		}
		return err
	}
	s.logger.InfoContext(ctx, "deleted tag", "name", name)
	return nil
}

// ChangeOwner transfers the tag to newOwnerID. Only the current owner may
// transfer ownership.
func (s *TagStore) ChangeOwner(
	ctx context.Context,
	name string,
	requesterID string,
	newOwnerID string,
) (*Tag, error) {
	var tag Tag
	err := s.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			if findErr := tx.Where("name = ?", name).Take(&tag).Error; findErr != nil {
				return findErr
			}
			if tag.OwnerID != requesterID {
				return ErrTagNotOwner
			}
			tag.OwnerID = newOwnerID
			return tx.Model(&tag).Update("owner_id", newOwnerID).Error
		},
	)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTagNotFound
		}
		return nil, err
	}
	s.logger.InfoContext(
		ctx,
		"changed tag owner",
		"tag", tag,
		"previous_owner_id", requesterID,
	)
	return &tag, nil
}

// Stats returns the tag without incrementing its usage counter.
func (s *TagStore) Stats(ctx context.Context, name string) (*Tag, error) {
	var tag Tag
	err := s.db.DB().WithContext(ctx).Where("name = ?", name).Take(&tag).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTagNotFound
		}
		return nil, err
	}
	return &tag, nil
}

// List returns all tags, ordered by usage count descending. Used by the
// status API.
func (s *TagStore) List(ctx context.Context) ([]Tag, error) {
	var tags []Tag
	err := s.db.DB().WithContext(ctx).Order("called desc").Find(&tags).Error
	return tags, err
}

// FormattedDateAdded renders DateAdded the way /tag info displays it
func (t Tag) FormattedDateAdded() string {
	return t.DateAdded.Format(tagDateAddedFormat)
}

func validateTag(name string, content string) error {
	if len([]rune(name)) > TagNameMaxLength {
		return ErrTagNameTooLong
	}
	if len([]rune(content)) > TagContentMaxLength {
		return ErrTagContentTooLong
	}
	return nil
}

// tagUserError returns the plain user-facing message for expected tag
// outcomes, or "" if err warrants the generic error message instead.
func tagUserError(name string, err error) string {
	switch {
	case errors.Is(err, ErrTagNotFound):
		return fmt.Sprintf("Tag `%s` not found.", name)
	case errors.Is(err, ErrTagExists):
		return fmt.Sprintf("Tag `%s` already exists.", name)
	case errors.Is(err, ErrTagNotOwner):
		return "You are not the owner of this tag."
	case errors.Is(err, ErrTagNameTooLong):
		return "Tag name is too long."
	case errors.Is(err, ErrTagContentTooLong):
		return "Tag content is too long."
	default:
		return ""
	}
}
