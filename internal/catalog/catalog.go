// Package catalog stores collection membership and metadata in the backend.
//
// Layout:
//
//	dir:<owner>:<coll>   hash  raw ObjectID -> backend-encoded CollEntry
//	dirs:<owner>         hash  collection name -> {"cover":"<hex>"}
package catalog

import (
	"context"
	"fmt"
	"slices"

	"hrb-go/internal/hrb"
	"hrb-go/internal/redis"
)

// Submitter is the part of the backend pipeline the catalog needs.
type Submitter interface {
	Submit(cmd redis.Command, done redis.Completion)
}

// Catalog reads and writes collections through a pipelined backend.
type Catalog struct {
	db     Submitter
	logger hrb.Logger
}

func New(db Submitter, logger hrb.Logger) *Catalog {
	return &Catalog{db: db, logger: logger}
}

func dirKey(owner, coll string) string {
	return "dir:" + owner + ":" + coll
}

func dirsKey(owner string) string {
	return "dirs:" + owner
}

type outcome struct {
	reply redis.Reply
	err   error
}

// send submits cmd and returns a channel that receives its outcome. Several
// sends before the first wait share one round trip.
func (c *Catalog) send(cmd redis.Command) <-chan outcome {
	ch := make(chan outcome, 1)
	c.db.Submit(cmd, func(reply redis.Reply, err error) {
		if err == nil {
			err = reply.Err()
		}
		if err != nil {
			c.logger.Warn("catalog command failed", "command", cmd.Name(), "key", string(cmd[1]), "error", err)
		}
		ch <- outcome{reply, err}
	})
	return ch
}

func wait(ctx context.Context, ch <-chan outcome) (redis.Reply, error) {
	select {
	case o := <-ch:
		return o.reply, o.err
	case <-ctx.Done():
		return redis.Reply{}, ctx.Err()
	}
}

// Load reads a collection. A collection that was never written loads empty.
func (c *Catalog) Load(ctx context.Context, owner, coll string) (*hrb.Collection, error) {
	entriesCh := c.send(redis.Cmd("HGETALL", dirKey(owner, coll)))
	metaCh := c.send(redis.Cmd("HGET", dirsKey(owner), coll))

	entries, err := wait(ctx, entriesCh)
	if err != nil {
		return nil, fmt.Errorf("reading entries of %s/%s: %w", owner, coll, err)
	}
	meta, err := wait(ctx, metaCh)
	if err != nil {
		return nil, fmt.Errorf("reading metadata of %s/%s: %w", owner, coll, err)
	}

	fields, err := entries.Map()
	if err != nil {
		return nil, fmt.Errorf("decoding entries of %s/%s: %w", owner, coll, err)
	}

	rec := hrb.BackendRecord{Entries: make(map[string][]byte, len(fields))}
	for name, value := range fields {
		rec.Entries[name] = value.Str
		if len(value.Str) > 0 {
			if _, ok := hrb.PermissionFromChar(value.Str[0]); !ok {
				c.logger.Warn("unknown permission, treating entry as private",
					"collection", owner+"/"+coll, "permission", string(value.Str[:1]))
			}
		}
	}
	if !meta.IsNil() {
		rec.Meta = meta.Str
	}

	return hrb.DecodeBackend(owner, coll, rec)
}

// Link adds id to the collection, replacing any previous entry for it. The
// first blob linked into a collection becomes its cover.
func (c *Catalog) Link(ctx context.Context, owner, coll string, id hrb.ObjectID, entry hrb.CollEntry) error {
	first := hrb.NewCollection(owner, coll)
	first.SetCover(id)
	meta := first.EncodeBackend().Meta

	setCh := c.send(redis.Cmd("HSET", dirKey(owner, coll), id[:], entry.MarshalBackend()))
	metaCh := c.send(redis.Cmd("HSETNX", dirsKey(owner), coll, meta))

	if _, err := wait(ctx, setCh); err != nil {
		return fmt.Errorf("linking %s into %s/%s: %w", id, owner, coll, err)
	}
	if _, err := wait(ctx, metaCh); err != nil {
		return fmt.Errorf("registering collection %s/%s: %w", owner, coll, err)
	}
	return nil
}

// Unlink removes id from the collection. A collection left empty is removed
// from the owner's list.
func (c *Catalog) Unlink(ctx context.Context, owner, coll string, id hrb.ObjectID) error {
	delCh := c.send(redis.Cmd("HDEL", dirKey(owner, coll), id[:]))
	lenCh := c.send(redis.Cmd("HLEN", dirKey(owner, coll)))

	if _, err := wait(ctx, delCh); err != nil {
		return fmt.Errorf("unlinking %s from %s/%s: %w", id, owner, coll, err)
	}
	remaining, err := wait(ctx, lenCh)
	if err != nil {
		return fmt.Errorf("counting entries of %s/%s: %w", owner, coll, err)
	}

	if n, ok := remaining.Integer(); ok && n == 0 {
		if _, err := wait(ctx, c.send(redis.Cmd("HDEL", dirsKey(owner), coll))); err != nil {
			return fmt.Errorf("removing empty collection %s/%s: %w", owner, coll, err)
		}
	}
	return nil
}

// Save writes every entry and the cover of coll. Existing entries not in
// coll are left alone.
func (c *Catalog) Save(ctx context.Context, coll *hrb.Collection) error {
	rec := coll.EncodeBackend()

	var pending []<-chan outcome
	if len(rec.Entries) > 0 {
		args := []any{"HSET", dirKey(coll.Owner(), coll.Name())}
		for field, value := range rec.Entries {
			args = append(args, field, value)
		}
		pending = append(pending, c.send(redis.Cmd(args...)))
	}
	pending = append(pending, c.send(redis.Cmd("HSET", dirsKey(coll.Owner()), coll.Name(), rec.Meta)))

	for _, ch := range pending {
		if _, err := wait(ctx, ch); err != nil {
			return fmt.Errorf("saving %s/%s: %w", coll.Owner(), coll.Name(), err)
		}
	}
	return nil
}

// Collections lists the names of the owner's collections, sorted.
func (c *Catalog) Collections(ctx context.Context, owner string) ([]string, error) {
	reply, err := wait(ctx, c.send(redis.Cmd("HKEYS", dirsKey(owner))))
	if err != nil {
		return nil, fmt.Errorf("listing collections of %s: %w", owner, err)
	}
	if reply.IsNil() {
		return nil, nil
	}
	if reply.Type != redis.ReplyArray {
		return nil, fmt.Errorf("listing collections of %s: %w: HKEYS returned %s", owner, redis.ErrUnexpectedReply, reply.Type)
	}

	names := make([]string, 0, len(reply.Elems))
	for _, e := range reply.Elems {
		names = append(names, e.Text())
	}
	slices.Sort(names)
	return names, nil
}

var (
	_ hrb.CollectionSource = (*Catalog)(nil)
	_ hrb.CollectionLinker = (*Catalog)(nil)
)
