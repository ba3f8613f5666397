// Package index maintains per-user secondary indexes in the backend.
package index

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"hrb-go/internal/hrb"
	"hrb-go/internal/redis"
)

// Submitter is the part of the backend pipeline the index needs.
type Submitter interface {
	Submit(cmd redis.Command, done redis.Completion)
	Do(ctx context.Context, args ...any) (redis.Reply, error)
}

// TimeIndex orders each user's blobs by timestamp in the sorted set
// timeidx:<user>, scored by milliseconds since the epoch.
type TimeIndex struct {
	db     Submitter
	logger hrb.Logger
}

func NewTimeIndex(db Submitter, logger hrb.Logger) *TimeIndex {
	return &TimeIndex{db: db, logger: logger}
}

func key(user string) string {
	return "timeidx:" + user
}

// Add indexes id at ts. The outcome is logged on failure and passed to done,
// which may be nil.
func (t *TimeIndex) Add(user string, id hrb.ObjectID, ts hrb.Timestamp, done func(error)) {
	t.db.Submit(redis.Cmd("ZADD", key(user), int64(ts), id[:]), func(reply redis.Reply, err error) {
		if err == nil {
			err = reply.Err()
		}
		if err != nil {
			err = fmt.Errorf("adding %s to time index of %s: %w", id, user, err)
			t.logger.Error("time index update failed", "user", user, "id", id.String(), "error", err)
		}
		if done != nil {
			done(err)
		}
	})
}

// Entry is one indexed blob.
type Entry struct {
	ID        hrb.ObjectID
	Timestamp hrb.Timestamp
}

// Range returns the blobs indexed between from and to inclusive, oldest first.
func (t *TimeIndex) Range(ctx context.Context, user string, from, to hrb.Timestamp) ([]Entry, error) {
	reply, err := t.db.Do(ctx, "ZRANGEBYSCORE", key(user), int64(from), int64(to), "WITHSCORES")
	if err != nil {
		return nil, fmt.Errorf("reading time index of %s: %w", user, err)
	}
	return decodeEntries(reply)
}

// Latest returns up to n of the newest blobs, newest first.
func (t *TimeIndex) Latest(ctx context.Context, user string, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	reply, err := t.db.Do(ctx, "ZREVRANGE", key(user), 0, n-1, "WITHSCORES")
	if err != nil {
		return nil, fmt.Errorf("reading time index of %s: %w", user, err)
	}
	return decodeEntries(reply)
}

func decodeEntries(reply redis.Reply) ([]Entry, error) {
	if reply.IsNil() {
		return nil, nil
	}
	if reply.Type != redis.ReplyArray || len(reply.Elems)%2 != 0 {
		return nil, fmt.Errorf("%w: time index range returned %s", redis.ErrUnexpectedReply, reply.Type)
	}

	entries := make([]Entry, 0, len(reply.Elems)/2)
	for i := 0; i < len(reply.Elems); i += 2 {
		id, ok := hrb.ObjectIDFromBytes(reply.Elems[i].Str)
		if !ok {
			return nil, fmt.Errorf("time index member of %d bytes: %w", len(reply.Elems[i].Str), hrb.ErrInvalidObjectID)
		}
		score, err := parseScore(reply.Elems[i+1].Text())
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{ID: id, Timestamp: hrb.Timestamp(score)})
	}
	return entries, nil
}

// parseScore reads a sorted set score. Millisecond timestamps fit in a
// float64 mantissa.
func parseScore(s string) (int64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad score %q", redis.ErrUnexpectedReply, s)
	}
	return int64(math.Round(f)), nil
}

var _ hrb.TimeIndexer = (*TimeIndex)(nil)
