// Package store defines the collaborators the sync engine talks to: the
// external note source and the similarity index, plus the error types shared
// by their implementations.
package store

import (
	"context"

	"github.com/nvandessel/cardsync/internal/models"
	"github.com/nvandessel/cardsync/internal/vecmath"
)

// NoteSource is the external system that owns the notes.
type NoteSource interface {
	// ListIDs returns the ids of every note matching filter. Order is unspecified.
	ListIDs(ctx context.Context, filter string) ([]models.NoteID, error)

	// Fetch returns the notes for ids. Ids the source no longer knows are omitted.
	Fetch(ctx context.Context, ids []models.NoteID) ([]models.Note, error)

	// Create adds a note to deck and returns its assigned id.
	Create(ctx context.Context, deck string, fields models.Fields) (models.NoteID, error)

	// Update replaces the named fields of an existing note.
	Update(ctx context.Context, id models.NoteID, fields models.Fields) error
}

// QueryResult is one nearest neighbor returned by SimilarityIndex.Query.
type QueryResult struct {
	ID       string
	Distance float64
	Metadata models.EntryMetadata
}

// SimilarityIndex stores embedded entries partitioned by namespace.
// Namespaces are created implicitly on first write.
type SimilarityIndex interface {
	// ListAll returns every entry in namespace. A missing namespace yields an
	// empty slice.
	ListAll(ctx context.Context, namespace string) ([]models.IndexEntry, error)

	// Upsert embeds and stores entries, replacing any with the same id.
	Upsert(ctx context.Context, namespace string, entries []models.IndexEntry) error

	// Delete removes the entries with the given ids. Unknown ids are ignored.
	Delete(ctx context.Context, namespace string, ids []string) error

	// Query returns up to k entries nearest to text, nearest first.
	Query(ctx context.Context, namespace, text string, k int) ([]QueryResult, error)

	// Metric reports the distance metric used in QueryResult.Distance.
	Metric() vecmath.Metric
}

// NamespaceOwners is implemented by indexes that record which collection a
// namespace belongs to. Distinct collection names can sanitize to the same
// namespace, so the first collection to claim one keeps it.
type NamespaceOwners interface {
	// ClaimNamespace records collection as the owner of namespace when it has
	// none, and returns ErrNamespaceCollision when another collection owns it.
	ClaimNamespace(ctx context.Context, namespace, collection string) error

	// NamespaceOwner returns the collection owning namespace, or "" when the
	// namespace is unknown or unowned.
	NamespaceOwner(ctx context.Context, namespace string) (string, error)
}

// ClaimNamespace claims coll's namespace for coll when index records owners.
func ClaimNamespace(ctx context.Context, index SimilarityIndex, coll models.Collection) error {
	owners, ok := index.(NamespaceOwners)
	if !ok {
		return nil
	}
	return owners.ClaimNamespace(ctx, coll.Namespace, coll.Name)
}

// CheckNamespace returns ErrNamespaceCollision when coll's namespace is owned
// by a different collection. It never claims.
func CheckNamespace(ctx context.Context, index SimilarityIndex, coll models.Collection) error {
	owners, ok := index.(NamespaceOwners)
	if !ok {
		return nil
	}
	owner, err := owners.NamespaceOwner(ctx, coll.Namespace)
	if err != nil {
		return err
	}
	if owner != "" && owner != coll.Name {
		return &CollisionError{Namespace: coll.Namespace, Owner: owner, Collection: coll.Name}
	}
	return nil
}
