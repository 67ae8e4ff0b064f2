package domain

import "context"

// DreamRepository persists the flat collection of dream records. Load is
// called once at startup; Save and Delete after every mutation.
type DreamRepository interface {
	Load(ctx context.Context) ([]DreamRecord, error)
	Save(ctx context.Context, record DreamRecord) error
	Delete(ctx context.Context, id string) error
}
