package flowstore

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/c360/flowcanvas/errors"
	"github.com/c360/flowcanvas/model"
)

// Store persists documents with optimistic versioning
type Store interface {
	Create(ctx context.Context, doc *model.Document) error
	Get(ctx context.Context, id string) (*model.Document, error)
	Update(ctx context.Context, doc *model.Document) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*model.Document, error)
}

// prepareCreate assigns an id when missing, resets the version and stamps
// both timestamps, then validates
func prepareCreate(op string, doc *model.Document, now time.Time) error {
	if doc == nil {
		return errors.WrapInvalid(errors.Newf(errors.ErrInvalidArgument, "document is nil"), "flowstore", op, "validate document")
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	doc.Version = 1
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if err := doc.Validate(); err != nil {
		return errors.WrapInvalid(err, "flowstore", op, "validate document")
	}
	return nil
}

// prepareUpdate checks doc against the stored version and advances it.
// On failure doc is left untouched.
func prepareUpdate(op string, doc, current *model.Document, now time.Time) error {
	if current.Version != doc.Version {
		return errors.WrapInvalid(
			errors.Newf(errors.ErrConflict, "document %s is at version %d, update was based on %d",
				doc.ID, current.Version, doc.Version),
			"flowstore", op, "check version")
	}
	if err := doc.Validate(); err != nil {
		return errors.WrapInvalid(err, "flowstore", op, "validate document")
	}
	doc.Version = current.Version + 1
	doc.CreatedAt = current.CreatedAt
	doc.UpdatedAt = now
	return nil
}

func checkID(op, id string) error {
	if id == "" {
		return errors.WrapInvalid(errors.Newf(errors.ErrInvalidArgument, "document id is empty"), "flowstore", op, "validate id")
	}
	return nil
}

func checkDoc(op string, doc *model.Document) error {
	if doc == nil {
		return errors.WrapInvalid(errors.Newf(errors.ErrInvalidArgument, "document is nil"), "flowstore", op, "validate document")
	}
	return checkID(op, doc.ID)
}

func notFound(op, id string) error {
	return errors.WrapInvalid(errors.Newf(errors.ErrNotFound, "document %s", id), "flowstore", op, "load document")
}

func sortByID(docs []*model.Document) {
	slices.SortFunc(docs, func(a, b *model.Document) int {
		return strings.Compare(a.ID, b.ID)
	})
}
