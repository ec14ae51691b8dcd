package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/starford/nbstore/internal/docstore"
)

// Collection is a handle on one named collection.
type Collection struct {
	store *Store
	name  string
}

type row struct {
	id  string
	doc docstore.Document
}

// scan returns matching rows in insertion order. limit <= 0 means all.
func (c *Collection) scan(ctx context.Context, q queryer, filter docstore.Filter, limit int) ([]row, error) {
	query := `SELECT id, body FROM documents WHERE collection = ?`
	args := []any{c.name}
	if p, ok := filter[pathField].(string); ok {
		query += ` AND path = ?`
		args = append(args, p)
	}
	query += ` ORDER BY rowid`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query %s: %w", c.name, err)
	}
	defer rows.Close()

	var out []row
	for rows.Next() {
		var id string
		var body []byte
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("sqlite: scan %s: %w", c.name, err)
		}
		doc, err := decode(body)
		if err != nil {
			return nil, err
		}
		if !docstore.Matches(doc, filter) {
			continue
		}
		out = append(out, row{id: id, doc: doc})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, rows.Err()
}

func (c *Collection) Find(ctx context.Context, filter docstore.Filter, fields ...string) ([]docstore.Document, error) {
	rows, err := c.scan(ctx, c.store.read(ctx), filter, 0)
	if err != nil {
		return nil, err
	}
	out := make([]docstore.Document, 0, len(rows))
	for _, r := range rows {
		out = append(out, docstore.Project(r.doc, fields))
	}
	return out, nil
}

func (c *Collection) FindOne(ctx context.Context, filter docstore.Filter, fields ...string) (docstore.Document, error) {
	rows, err := c.scan(ctx, c.store.read(ctx), filter, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, docstore.ErrNoDocuments
	}
	return docstore.Project(rows[0].doc, fields), nil
}

func (c *Collection) Count(ctx context.Context, filter docstore.Filter) (int64, error) {
	rows, err := c.scan(ctx, c.store.read(ctx), filter, 0)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

func (c *Collection) Insert(ctx context.Context, doc docstore.Document) (any, error) {
	d := docstore.Clone(doc)
	if _, ok := d[docstore.IDField]; !ok {
		d[docstore.IDField] = docstore.NewID()
	}
	err := c.store.write(ctx, func(q queryer) error {
		return c.insert(ctx, q, d)
	})
	if err != nil {
		return nil, err
	}
	return d[docstore.IDField], nil
}

func (c *Collection) insert(ctx context.Context, q queryer, d docstore.Document) error {
	if err := c.checkUnique(ctx, q, d); err != nil {
		return err
	}
	body, err := encode(d)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO documents (collection, id, path, body) VALUES (?, ?, ?, ?)`,
		c.name, docstore.IDKey(d[docstore.IDField]), pathValue(d), body)
	if isUniqueViolation(err) {
		return docstore.ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("sqlite: insert into %s: %w", c.name, err)
	}
	return nil
}

func (c *Collection) Update(ctx context.Context, filter docstore.Filter, set docstore.Document, opts docstore.UpdateOptions) (docstore.UpdateResult, error) {
	var res docstore.UpdateResult
	err := c.store.write(ctx, func(q queryer) error {
		limit := 1
		if opts.Multi {
			limit = 0
		}
		rows, err := c.scan(ctx, q, filter, limit)
		if err != nil {
			return err
		}
		res.Matched = int64(len(rows))

		if len(rows) == 0 {
			if !opts.Upsert {
				return nil
			}
			d := docstore.UpsertDocument(filter, set, opts.SetOnInsert)
			if err := c.insert(ctx, q, d); err != nil {
				return err
			}
			res.UpsertedID = d[docstore.IDField]
			return nil
		}

		for _, r := range rows {
			if !docstore.ApplySet(r.doc, set) {
				continue
			}
			if err := c.checkUnique(ctx, q, r.doc); err != nil {
				return err
			}
			body, err := encode(r.doc)
			if err != nil {
				return err
			}
			if _, err := q.ExecContext(ctx, `UPDATE documents SET path = ?, body = ? WHERE collection = ? AND id = ?`,
				pathValue(r.doc), body, c.name, r.id); err != nil {
				return fmt.Errorf("sqlite: update %s: %w", c.name, err)
			}
			res.Modified++
		}
		return nil
	})
	if err != nil {
		return docstore.UpdateResult{}, err
	}
	return res, nil
}

func (c *Collection) Remove(ctx context.Context, filter docstore.Filter) (int64, error) {
	var n int64
	err := c.store.write(ctx, func(q queryer) error {
		rows, err := c.scan(ctx, q, filter, 0)
		if err != nil {
			return err
		}
		for _, r := range rows {
			if _, err := q.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, c.name, r.id); err != nil {
				return fmt.Errorf("sqlite: delete from %s: %w", c.name, err)
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (c *Collection) EnsureUniqueIndex(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return errors.New("sqlite: unique index needs at least one key")
	}
	return c.store.write(ctx, func(q queryer) error {
		rows, err := c.scan(ctx, q, nil, 0)
		if err != nil {
			return err
		}
		seen := make(map[string]struct{}, len(rows))
		for _, r := range rows {
			vals := make([]any, len(keys))
			for i, k := range keys {
				vals[i] = r.doc[k]
			}
			key := fmt.Sprintf("%#v", vals)
			if _, dup := seen[key]; dup {
				return fmt.Errorf("sqlite: create unique index on %s(%s): %w", c.name, strings.Join(keys, ","), docstore.ErrDuplicateKey)
			}
			seen[key] = struct{}{}
		}
		if _, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO unique_indexes (collection, keys) VALUES (?, ?)`,
			c.name, strings.Join(keys, ",")); err != nil {
			return fmt.Errorf("sqlite: create unique index on %s: %w", c.name, err)
		}
		return nil
	})
}

func (c *Collection) indexes(ctx context.Context, q queryer) ([]docstore.UniqueIndex, error) {
	rows, err := q.QueryContext(ctx, `SELECT keys FROM unique_indexes WHERE collection = ?`, c.name)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load indexes of %s: %w", c.name, err)
	}
	defer rows.Close()
	var out []docstore.UniqueIndex
	for rows.Next() {
		var keys string
		if err := rows.Scan(&keys); err != nil {
			return nil, fmt.Errorf("sqlite: load indexes of %s: %w", c.name, err)
		}
		out = append(out, docstore.UniqueIndex(strings.Split(keys, ",")))
	}
	return out, rows.Err()
}

// checkUnique fails when d collides with another document on any unique index.
func (c *Collection) checkUnique(ctx context.Context, q queryer, d docstore.Document) error {
	indexes, err := c.indexes(ctx, q)
	if err != nil || len(indexes) == 0 {
		return err
	}
	for _, ix := range indexes {
		peers := docstore.Filter{}
		for _, k := range ix {
			if v, ok := d[k]; ok {
				peers[k] = v
			}
		}
		rows, err := c.scan(ctx, q, peers, 0)
		if err != nil {
			return err
		}
		docs := make([]docstore.Document, len(rows))
		for i, r := range rows {
			docs[i] = r.doc
		}
		if ix.Violated(docs, d, d[docstore.IDField]) {
			return docstore.ErrDuplicateKey
		}
	}
	return nil
}
