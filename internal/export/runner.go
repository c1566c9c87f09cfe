package export

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/chatarc/chatarc/internal/account"
	"github.com/chatarc/chatarc/internal/contact"
	"github.com/chatarc/chatarc/internal/decode"
	"github.com/chatarc/chatarc/internal/media"
	"github.com/chatarc/chatarc/internal/sessiondb"
	"github.com/chatarc/chatarc/internal/shard"
)

// errCancelled flows out of the drive loop when the cooperative flag is
// observed.
var errCancelled = errors.New("export cancelled")

func isCancelled(err error) bool { return errors.Is(err, errCancelled) }

// cancelCheckInterval bounds how often the drive loop takes the registry
// lock to poll for cancellation and sync progress counters.
const cancelCheckInterval = 64

// target is one conversation to export.
type target struct {
	ID      string
	IsGroup bool
}

// runner owns the per-job pipeline state: its shard connections, media
// engine, archive writer and dedup caches. Nothing here is shared across
// jobs.
type runner struct {
	m      *Manager
	job    *Job
	acct   *account.Account
	logger *zap.Logger

	engine   *media.Engine
	contacts *contact.DB
	shards   []*shard.Shard
	archive  *Archive
	scrub    *Scrubber

	// mediaPaths memoizes (kind, identity) to archive path, with ""
	// recording a known-missing identity so it is never retried.
	mediaPaths map[string]string
	// written tracks archive entry names so each blob is written once.
	written map[string]bool
	// avatars memoizes sender to avatar archive path.
	avatars map[string]string

	missing []MissingMedia
	errs    []ReportError
	stats   Stats
}

func newRunner(m *Manager, j *Job) *runner {
	return &runner{
		m:          m,
		job:        j,
		acct:       m.env.Account,
		logger:     m.logger.With(zap.String("job_id", j.id)),
		mediaPaths: make(map[string]string),
		written:    make(map[string]bool),
		avatars:    make(map[string]string),
	}
}

// execute runs the job to completion and returns the published archive
// path. Row- and media-level failures are absorbed into the report; only
// errors that make the whole job meaningless (no targets, no shards, a
// failed archive write) propagate.
func (r *runner) execute() (string, error) {
	ctx := context.Background()
	opts := r.job.opts

	targets, err := r.resolveTargets()
	if err != nil {
		return "", err
	}
	if len(targets) == 0 {
		return "", errors.New("no target conversations resolved")
	}
	total := len(targets)
	r.m.updateProgress(r.job, func(p *Progress) { p.ConversationsAll = total })

	shards, err := shard.OpenAll(r.acct, r.logger)
	if err != nil {
		return "", err
	}
	r.shards = shards
	defer func() { _ = shard.CloseAll(shards) }()

	if opts.Media {
		r.engine = media.NewEngine(r.acct, r.m.env.Keys, r.m.env.Codec, r.m.env.CacheDir, r.logger)
		defer r.engine.Close()
	}
	if dir, err := contact.Open(r.acct.ContactDBPath()); err != nil {
		r.logger.Debug("contact store unavailable", zap.Error(err))
	} else {
		r.contacts = dir
		defer r.contacts.Close()
	}
	if opts.Privacy {
		r.scrub = NewScrubber()
	}

	outDir := opts.OutputDir
	if outDir == "" {
		outDir = "."
	}
	base := fmt.Sprintf("chatarc_%s_%s",
		sanitizeName(r.acct.ID), time.Now().UTC().Format("20060102_150405"))
	archive, err := NewArchive(outDir, base)
	if err != nil {
		return "", err
	}
	r.archive = archive
	defer archive.Discard()

	for i, tgt := range targets {
		if r.m.isCancelledJob(r.job) {
			return "", errCancelled
		}
		if err := r.exportConversation(ctx, i, tgt); err != nil {
			return "", err
		}
	}

	if err := archive.AddJSON("manifest.json", r.manifest()); err != nil {
		return "", err
	}
	if err := archive.AddJSON("report.json", r.report()); err != nil {
		return "", err
	}
	return archive.Publish()
}

// resolveTargets turns the job options into a conversation list: the
// explicit list when given, else the session index narrowed by the filter.
func (r *runner) resolveTargets() ([]target, error) {
	opts := r.job.opts
	if len(opts.Conversations) > 0 {
		out := make([]target, 0, len(opts.Conversations))
		for _, id := range opts.Conversations {
			out = append(out, target{ID: id, IsGroup: sessiondb.IsGroup(id)})
		}
		return out, nil
	}
	sessions, err := sessiondb.ListFiltered(r.acct.SessionDBPath(), opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("resolve conversations: %w", err)
	}
	out := make([]target, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, target{ID: s.Username, IsGroup: sessiondb.IsGroup(s.Username)})
	}
	return out, nil
}

func (r *runner) exportConversation(ctx context.Context, idx int, tgt target) error {
	opts := r.job.opts
	name := r.contacts.DisplayName(tgt.ID)
	dir := conversationDir(idx, name, tgt.ID, opts.Privacy)
	r.syncProgress(tgt.ID)

	var cursors []shard.Cursor
	for _, sh := range r.shards {
		cur, err := sh.Conversation(tgt.ID, tgt.IsGroup, opts.Window)
		if err != nil {
			r.recordError(tgt.ID, "open conversation", err)
			continue
		}
		cursors = append(cursors, cur)
	}
	merged := shard.Merge(cursors, func(err error) {
		r.recordError(tgt.ID, "read row", err)
	})
	defer merged.Close()

	info := convInfo{IDHash: shortHash(tgt.ID), IsGroup: tgt.IsGroup}
	if !opts.Privacy {
		info.ID = tgt.ID
		info.Name = name
	}

	startExported := r.stats.MediaExported
	startMissing := r.stats.MediaMissing
	var (
		msgs            []jsonMessage
		count           int
		firstTS, lastTS int64
	)
	for {
		if count%cancelCheckInterval == 0 {
			if r.m.isCancelledJob(r.job) {
				return errCancelled
			}
			r.syncProgress(tgt.ID)
		}
		row, err := merged.Next()
		if err != nil {
			r.recordError(tgt.ID, "read row", err)
			break
		}
		if row == nil {
			break
		}
		count++
		r.stats.MessagesExported++
		if firstTS == 0 {
			firstTS = row.CreateTime
		}
		lastTS = row.CreateTime

		pm := decode.Decode(row, tgt.IsGroup)
		jm, err := r.render(ctx, pm, tgt, info)
		if err != nil {
			return err
		}
		msgs = append(msgs, jm)
	}
	r.stats.Conversations++

	meta := metaDoc{
		Index:         idx + 1,
		Conversation:  info,
		Messages:      count,
		MediaExported: r.stats.MediaExported - startExported,
		MediaMissing:  r.stats.MediaMissing - startMissing,
	}
	if count > 0 {
		meta.FirstTime = timeText(firstTS)
		meta.LastTime = timeText(lastTS)
	}
	entryBase := path.Join("conversations", dir)
	if err := r.archive.AddJSON(path.Join(entryBase, "meta.json"), meta); err != nil {
		return err
	}
	if opts.Format == FormatText {
		if err := r.archive.AddText(path.Join(entryBase, "messages.txt"), func(w io.Writer) error {
			return writeTranscript(w, info, msgs)
		}); err != nil {
			return err
		}
	} else {
		if msgs == nil {
			msgs = []jsonMessage{}
		}
		doc := conversationDoc{
			SchemaVersion: schemaVersion,
			ExportedAt:    time.Now().UTC().Format(timeLayout),
			Conversation:  info,
			Filters:       r.filterInfo(),
			Messages:      msgs,
		}
		if err := r.archive.AddJSON(path.Join(entryBase, "messages.json"), doc); err != nil {
			return err
		}
	}
	r.syncProgress(tgt.ID)
	return nil
}

// render maps one parsed message to its serialized form, resolving media
// and applying the privacy scrub. The only errors are archive writes.
func (r *runner) render(ctx context.Context, pm *decode.ParsedMessage, tgt target, info convInfo) (jsonMessage, error) {
	opts := r.job.opts

	var offline []OfflineMedia
	display, avatar := "", ""
	if !opts.Privacy {
		if r.engine != nil {
			var err error
			offline, err = r.resolveMedia(ctx, pm)
			if err != nil {
				return jsonMessage{}, err
			}
		}
		display = r.contacts.DisplayName(pm.Sender)
		if opts.Media {
			var err error
			avatar, err = r.exportAvatar(pm.Sender)
			if err != nil {
				return jsonMessage{}, err
			}
		}
	}

	conv := tgt.ID
	if opts.Privacy {
		r.scrub.Apply(pm, tgt.IsGroup)
		conv = info.IDHash
	}

	return jsonMessage{
		ID:                pm.Row.CompositeID(),
		CreateTime:        pm.Row.CreateTime,
		CreateTimeText:    timeText(pm.Row.CreateTime),
		Type:              pm.Row.Type,
		Kind:              string(pm.Kind),
		IsSender:          pm.IsSender,
		SenderUsername:    pm.Sender,
		SenderDisplayName: display,
		SenderAvatar:      avatar,
		Conversation:      conv,
		Content:           pm.Content,
		URL:               pm.URL,
		Title:             pm.Title,
		FileName:          pm.FileName,
		FileSize:          pm.FileSize,
		Duration:          pm.Duration,
		Amount:            pm.Amount,
		TransferStatus:    pm.TransferStatus,
		QuoteTitle:        pm.QuoteTitle,
		QuoteContent:      pm.QuoteContent,
		MD5:               pm.MD5,
		ThumbMD5:          pm.ThumbMD5,
		FileID:            pm.FileID,
		OfflineMedia:      offline,
	}, nil
}

// resolveMedia exports every reference the message carries. A video whose
// full file cannot be found still renders as its thumbnail when that
// resolved.
func (r *runner) resolveMedia(ctx context.Context, pm *decode.ParsedMessage) ([]OfflineMedia, error) {
	var out []OfflineMedia
	got := make(map[media.Kind]bool)
	for _, ref := range pm.Media {
		apath, identity, err := r.exportRef(ctx, pm, ref)
		if err != nil {
			return nil, err
		}
		if apath == "" {
			continue
		}
		got[ref.Kind] = true
		out = append(out, OfflineMedia{Kind: string(ref.Kind), Path: apath, Identity: identity})
	}
	if pm.Kind == decode.KindVideo && !got[media.KindVideo] && got[media.KindVideoThumb] {
		pm.Kind = decode.KindVideoThumb
	}
	return out, nil
}

// exportRef resolves one reference and writes it into the archive exactly
// once per (kind, identity). Failed identities are negatively cached so a
// missing item is searched once per job, not once per message.
func (r *runner) exportRef(ctx context.Context, pm *decode.ParsedMessage, ref media.Ref) (string, string, error) {
	identity := ref.Identity()
	key := string(ref.Kind) + "/" + identity
	if identity != "" {
		if p, seen := r.mediaPaths[key]; seen {
			if p == "" {
				if !ref.Optional {
					r.reportMissing(pm, ref, identity)
				}
				return "", "", nil
			}
			return p, identity, nil
		}
	}

	res, err := r.engine.Resolve(ctx, ref)
	if err != nil {
		if identity != "" {
			r.mediaPaths[key] = ""
		}
		if !ref.Optional {
			r.reportMissing(pm, ref, identity)
		}
		return "", "", nil
	}
	if identity == "" {
		// Resolved through the resource index; identify by content.
		sum := md5.Sum(res.Data)
		identity = hex.EncodeToString(sum[:])
	}

	apath := path.Join("media", ref.Kind.ArchiveDir(), identity+"."+res.Ext)
	if !r.written[apath] {
		if err := r.archive.AddStore(apath, res.Data); err != nil {
			return "", "", err
		}
		r.written[apath] = true
		r.stats.MediaExported++
	}
	if ref.Identity() != "" {
		r.mediaPaths[key] = apath
	}
	return apath, identity, nil
}

func (r *runner) reportMissing(pm *decode.ParsedMessage, ref media.Ref, identity string) {
	r.stats.MediaMissing++
	r.missing = append(r.missing, MissingMedia{
		Conversation: pm.Row.Conversation,
		MessageID:    pm.Row.CompositeID(),
		Kind:         string(ref.Kind),
		Identity:     identity,
	})
}

// exportAvatar writes a sender's avatar once and returns its archive path,
// or "" when the contact store has none.
func (r *runner) exportAvatar(sender string) (string, error) {
	if sender == "" {
		return "", nil
	}
	if p, seen := r.avatars[sender]; seen {
		return p, nil
	}
	data := r.contacts.Avatar(sender)
	if len(data) == 0 {
		r.avatars[sender] = ""
		return "", nil
	}
	ext, ok := media.Sniff(data)
	if !ok {
		r.avatars[sender] = ""
		return "", nil
	}
	name := sanitizeName(sender)
	if name == "" {
		name = shortHash(sender)
	}
	apath := path.Join("media", media.KindAvatar.ArchiveDir(), name+"."+ext)
	if !r.written[apath] {
		if err := r.archive.AddStore(apath, data); err != nil {
			return "", err
		}
		r.written[apath] = true
	}
	r.avatars[sender] = apath
	return apath, nil
}

func (r *runner) recordError(conv, context string, err error) {
	r.stats.Errors++
	r.errs = append(r.errs, ReportError{Conversation: conv, Context: context, Error: err.Error()})
	r.logger.Warn("export item skipped",
		zap.String("conversation", conv),
		zap.String("context", context),
		zap.Error(err))
}

// syncProgress copies the runner's counters into the guarded job record.
func (r *runner) syncProgress(current string) {
	s := r.stats
	r.m.updateProgress(r.job, func(p *Progress) {
		p.Conversation = current
		p.ConversationsDone = s.Conversations
		p.Messages = s.MessagesExported
		p.MediaExported = s.MediaExported
		p.MediaMissing = s.MediaMissing
		p.Errors = s.Errors
	})
}

func (r *runner) filterInfo() filterInfo {
	opts := r.job.opts
	return filterInfo{
		Groups:   opts.Filter.Groups,
		Singles:  opts.Filter.Singles,
		Hidden:   opts.Filter.Hidden,
		Official: opts.Filter.Official,
		From:     opts.Window.From,
		To:       opts.Window.To,
	}
}

func (r *runner) manifest() Manifest {
	opts := r.job.opts
	return Manifest{
		SchemaVersion: schemaVersion,
		GeneratedAt:   time.Now().UTC().Format(timeLayout),
		Accounts:      []string{r.acct.ID},
		Options: manifestOptions{
			Format:  opts.Format,
			Media:   opts.Media,
			Privacy: opts.Privacy,
		},
		Filters: r.filterInfo(),
		Stats:   r.stats,
	}
}

func (r *runner) report() Report {
	rep := Report{MissingMedia: r.missing, Errors: r.errs}
	if rep.MissingMedia == nil {
		rep.MissingMedia = []MissingMedia{}
	}
	if rep.Errors == nil {
		rep.Errors = []ReportError{}
	}
	return rep
}
