package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/engardedata/engarde-chat/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltDB is the content repository of the site. It keeps blog posts and portfolio items in a BoltDB file,
// in the order they were imported.
type BoltDB struct {
	db *bolt.DB
}

var (
	postsBucket     = []byte("posts")
	portfolioBucket = []byte("portfolio")
)

// NewBoltDB opens (or creates with 0600 permissions) the database at path and initializes its buckets.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{postsBucket, portfolioBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return BoltDB{}, err
	}

	return BoltDB{db: db}, nil
}

// Close releases the database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

// ReplaceContent atomically replaces every stored post and portfolio item.
func (b BoltDB) ReplaceContent(_ context.Context, posts []models.BlogPost, items []models.PortfolioItem) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := resetBucket(tx, postsBucket); err != nil {
			return err
		}
		if err := resetBucket(tx, portfolioBucket); err != nil {
			return err
		}

		pb := tx.Bucket(postsBucket)
		for _, p := range posts {
			if err := putSequenced(pb, p); err != nil {
				return fmt.Errorf("failed to put post %s: %w", p.ID, err)
			}
		}

		ib := tx.Bucket(portfolioBucket)
		for _, it := range items {
			if err := putSequenced(ib, it); err != nil {
				return fmt.Errorf("failed to put portfolio item %s: %w", it.ID, err)
			}
		}
		return nil
	})
}

// Posts retrieves all stored blog posts in import order.
func (b BoltDB) Posts(context.Context) ([]models.BlogPost, error) {
	var posts []models.BlogPost
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(postsBucket).ForEach(func(_, v []byte) error {
			var post models.BlogPost
			if err := json.Unmarshal(v, &post); err != nil {
				return fmt.Errorf("failed to unmarshal post: %w", err)
			}
			posts = append(posts, post)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return posts, nil
}

// PortfolioItems retrieves all stored portfolio items in import order.
func (b BoltDB) PortfolioItems(context.Context) ([]models.PortfolioItem, error) {
	var items []models.PortfolioItem
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(portfolioBucket).ForEach(func(_, v []byte) error {
			var item models.PortfolioItem
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("failed to unmarshal portfolio item: %w", err)
			}
			items = append(items, item)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func resetBucket(tx *bolt.Tx, name []byte) error {
	if tx.Bucket(name) != nil {
		if err := tx.DeleteBucket(name); err != nil {
			return fmt.Errorf("failed to delete bucket %s: %w", name, err)
		}
	}
	if _, err := tx.CreateBucket(name); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", name, err)
	}
	return nil
}

// putSequenced stores v under a zero-padded sequence key, so cursor order is insertion order.
func putSequenced(b *bolt.Bucket, v any) error {
	seq, err := b.NextSequence()
	if err != nil {
		return fmt.Errorf("failed to get next sequence: %w", err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}
	return b.Put([]byte(fmt.Sprintf("%020d", seq)), data)
}
