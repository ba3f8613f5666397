package hrb

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"
)

// DefaultRendition is the original, unmodified content of a blob.
const DefaultRendition = "master"

const defaultConcurrency = 4

// SyncRequest names the local directory and remote collection to reconcile.
type SyncRequest struct {
	Owner      string
	Collection string
	Dir        string
	Rendition  string
	Mode       Mode

	// OnItem, if set, is called once per transfer as soon as it finishes.
	// Calls may come from several goroutines at once.
	OnItem func(ItemResult)
}

func (r SyncRequest) withDefaults() SyncRequest {
	if r.Rendition == "" {
		r.Rendition = DefaultRendition
	}
	if r.Mode == "" {
		r.Mode = ModeBoth
	}
	return r
}

// SyncService reconciles a local directory with a remote collection: it
// snapshots both sides, compares them, and transfers every differing blob.
type SyncService struct {
	source      CollectionSource
	transport   Transport
	local       LocalStore
	linker      CollectionLinker
	index       TimeIndexer
	recorder    SessionRecorder
	logger      Logger
	clock       Clock
	idgen       IDGenerator
	concurrency int
}

// NewSyncService creates a SyncService. Uploaded blobs are only announced to
// the transport until WithMetadata supplies a linker and time index.
func NewSyncService(source CollectionSource, transport Transport, local LocalStore, logger Logger, clock Clock, idgen IDGenerator) *SyncService {
	return &SyncService{
		source:      source,
		transport:   transport,
		local:       local,
		logger:      logger,
		clock:       clock,
		idgen:       idgen,
		concurrency: defaultConcurrency,
	}
}

// WithMetadata makes uploads persist collection membership and time-index
// entries after the content has been stored. Either argument may be nil.
func (s *SyncService) WithMetadata(linker CollectionLinker, index TimeIndexer) *SyncService {
	s.linker = linker
	s.index = index
	return s
}

// WithRecorder makes Sync record every finished session.
func (s *SyncService) WithRecorder(r SessionRecorder) *SyncService {
	s.recorder = r
	return s
}

// WithConcurrency bounds the number of transfers in flight. n < 1 means 1.
func (s *SyncService) WithConcurrency(n int) *SyncService {
	s.concurrency = max(n, 1)
	return s
}

// Diff snapshots both sides and compares them without transferring anything.
func (s *SyncService) Diff(ctx context.Context, req SyncRequest) (*Comparison, error) {
	local, err := s.local.Scan(req.Dir, req.Owner, req.Collection)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", req.Dir, err)
	}

	remote, err := s.source.Load(ctx, req.Owner, req.Collection)
	if err != nil {
		return nil, fmt.Errorf("loading collection %s/%s: %w", req.Owner, req.Collection, err)
	}

	cmp := Compare(local, remote)
	s.logger.Debug("collections compared",
		"collection", req.Collection,
		"local", local.Len(),
		"remote", remote.Len(),
		"upload", cmp.Upload.Len(),
		"download", cmp.Download.Len(),
		"drift", len(cmp.Drift))
	return cmp, nil
}

// job is one transfer to dispatch.
type job struct {
	id        ObjectID
	entry     CollEntry
	direction Direction
}

func plan(mode Mode, cmp *Comparison) []job {
	var jobs []job
	if mode.downloads() {
		for _, id := range cmp.Download.IDs() {
			e, _ := cmp.Download.Get(id)
			jobs = append(jobs, job{id: id, entry: e, direction: DirectionDownload})
		}
	}
	if mode.uploads() {
		for _, id := range cmp.Upload.IDs() {
			e, _ := cmp.Upload.Get(id)
			jobs = append(jobs, job{id: id, entry: e, direction: DirectionUpload})
		}
	}
	return jobs
}

// Sync transfers every blob in the difference between req.Dir and the remote
// collection. Every item is attempted even when others fail and none is
// retried. The returned Report holds one ItemResult per transfer; a non-nil
// error means the session could not start.
func (s *SyncService) Sync(ctx context.Context, req SyncRequest) (*Report, error) {
	req = req.withDefaults()

	report := &Report{
		SessionID:  s.idgen.New(),
		Owner:      req.Owner,
		Collection: req.Collection,
		Mode:       req.Mode,
		StartedAt:  s.clock.Now(),
	}

	cmp, err := s.Diff(ctx, req)
	if err != nil {
		return nil, err
	}
	report.Drift = cmp.Drift
	for _, d := range cmp.Drift {
		s.logger.Warn("metadata differs for synchronized blob",
			"id", d.ID.String(),
			"local_filename", d.Local.Filename,
			"remote_filename", d.Remote.Filename,
			"local_perm", d.Local.Perm.String(),
			"remote_perm", d.Remote.Perm.String())
	}

	jobs := plan(req.Mode, cmp)
	report.Items = make([]ItemResult, len(jobs))

	finished := make(chan struct{})
	all := NewAggregatedCallback(len(jobs), func() { close(finished) })
	if len(jobs) == 0 {
		close(finished)
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, j := range jobs {
		g.Go(func() error {
			res := s.transfer(ctx, req, j)
			report.Items[i] = res
			s.itemDone(req, res)
			all.Done()
			return nil
		})
	}
	<-finished

	report.FinishedAt = s.clock.Now()
	s.logger.Info("sync finished",
		"collection", req.Collection,
		"session", report.SessionID,
		"succeeded", report.Succeeded(),
		"failed", report.Failed())

	if s.recorder != nil {
		if err := s.recorder.RecordSession(report); err != nil {
			s.logger.Error("recording sync session failed", "session", report.SessionID, "error", err)
		}
	}
	return report, nil
}

func (s *SyncService) itemDone(req SyncRequest, res ItemResult) {
	if res.Err != nil {
		s.logger.Warn("transfer failed",
			"id", res.ID.String(),
			"direction", string(res.Direction),
			"filename", res.Filename,
			"error", res.Err)
	} else {
		s.logger.Debug("transfer done",
			"id", res.ID.String(),
			"direction", string(res.Direction),
			"filename", res.Filename)
	}
	if req.OnItem != nil {
		req.OnItem(res)
	}
}

func (s *SyncService) transfer(ctx context.Context, req SyncRequest, j job) ItemResult {
	res := ItemResult{ID: j.id, Direction: j.direction, Filename: j.entry.Filename}
	if j.direction == DirectionDownload {
		res.Path, res.Err = s.download(ctx, req, j)
	} else {
		res.Err = s.upload(ctx, req, j)
	}
	return res
}

func (s *SyncService) download(ctx context.Context, req SyncRequest, j job) (string, error) {
	f := LocalFile{
		Dir:       req.Dir,
		Name:      j.entry.Filename,
		Timestamp: j.entry.Timestamp,
	}
	if f.Name == "" {
		f.Name = j.id.String()
	}
	// Other renditions are derived from the blob and hash differently.
	if req.Rendition == DefaultRendition {
		f.ID = j.id
	}

	path, err := s.local.Write(f, func(w io.Writer) error {
		return s.transport.Download(ctx, req.Owner, req.Collection, j.id, req.Rendition, w)
	})
	if err != nil {
		return "", fmt.Errorf("downloading %s: %w", j.id, err)
	}
	return path, nil
}

func (s *SyncService) upload(ctx context.Context, req SyncRequest, j job) error {
	rc, size, err := s.local.Open(req.Dir, j.entry.Filename)
	if err != nil {
		return fmt.Errorf("opening %s: %w", j.entry.Filename, err)
	}
	defer rc.Close()

	if err := s.transport.Upload(ctx, req.Owner, req.Collection, j.id, j.entry, rc, size); err != nil {
		return fmt.Errorf("uploading %s: %w", j.id, err)
	}

	if s.linker != nil {
		if err := s.linker.Link(ctx, req.Owner, req.Collection, j.id, j.entry); err != nil {
			return fmt.Errorf("linking %s: %w", j.id, err)
		}
	}

	if s.index != nil {
		if err := s.indexBlob(ctx, req.Owner, j.id, j.entry.Timestamp); err != nil {
			return fmt.Errorf("indexing %s: %w", j.id, err)
		}
	}
	return nil
}

// indexBlob waits for the time index outcome on a channel so the upload
// sequence stays linear.
func (s *SyncService) indexBlob(ctx context.Context, user string, id ObjectID, ts Timestamp) error {
	done := make(chan error, 1)
	s.index.Add(user, id, ts, func(err error) { done <- err })
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// History returns the most recent recorded sessions.
func (s *SyncService) History(limit int) ([]*SessionSummary, error) {
	if s.recorder == nil {
		return nil, fmt.Errorf("no session recorder configured")
	}
	return s.recorder.ListSessions(limit)
}

// SessionItems returns the recorded transfers of one session.
func (s *SyncService) SessionItems(sessionID string) ([]*ItemRecord, error) {
	if s.recorder == nil {
		return nil, fmt.Errorf("no session recorder configured")
	}
	return s.recorder.SessionItems(sessionID)
}
