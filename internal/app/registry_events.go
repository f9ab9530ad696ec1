package app

import (
	"context"

	"github.com/yourusername/offline-downloads-go/internal/domain"
	"go.uber.org/zap"
)

// run processes engine and adapter events one at a time until Shutdown
func (r *Registry) run(engineEvents <-chan domain.Event) {
	defer close(r.loopDone)

	for {
		select {
		case <-r.done:
			return
		case ev, ok := <-engineEvents:
			if !ok {
				r.logger.Warn("Stream engine event channel closed")
				engineEvents = nil
				continue
			}
			r.handle(ev)
		case ev := <-r.inbound:
			r.handle(ev)
		}
	}
}

// enqueue hands an adapter event to the loop. It gives up once the registry
// is shut down.
func (r *Registry) enqueue(ev domain.Event) {
	select {
	case r.inbound <- ev:
	case <-r.done:
	}
}

func (r *Registry) handle(ev domain.Event) {
	ctx := context.Background()

	switch {
	case ev.Kind.IsLicense():
		r.logger.Info("License event",
			zap.String("event", string(ev.Kind)),
			zap.String("manifest", ev.Manifest),
			zap.String("error", ev.Error),
			zap.Int("code", ev.Code))
		r.bus.Publish(domain.TopicLicense, domain.LicensePayload{
			Event:    ev.Kind,
			Manifest: ev.Manifest,
			Error:    ev.Error,
			Code:     ev.Code,
		})
	case ev.Kind == domain.EventCompleted || ev.Kind == domain.EventRemoved:
		r.logger.Info("Stream engine event", zap.String("event", string(ev.Kind)), zap.String("id", ev.ID))
		return
	}

	r.apply(ctx, ev)
}

// apply reduces one event into the list, then persists and announces the
// result outside the lock
func (r *Registry) apply(ctx context.Context, ev domain.Event) domain.Effects {
	r.mu.Lock()
	next, fx := domain.Reduce(r.items, ev)
	var version uint64
	if fx.Changed {
		r.items = next
		r.version++
		version = r.version
	}
	r.mu.Unlock()

	if fx.Unresolved {
		r.logger.Debug("Event for a download not in the list",
			zap.String("event", string(ev.Kind)),
			zap.String("id", ev.ID),
			zap.String("manifest", ev.Manifest))
	}

	if fx.Changed {
		r.persist(ctx, version, next)
		r.publishEffects(ctx, ev, fx)
	}

	if fx.Failure != nil {
		r.logger.Warn("Download failed",
			zap.String("id", fx.Failure.ID),
			zap.String("message", fx.Failure.Message))
		r.journalError("download_failed",
			zap.String("id", fx.Failure.ID),
			zap.String("message", fx.Failure.Message))
		r.bus.Publish(domain.TopicDownloadError, *fx.Failure)
	}

	return fx
}

func (r *Registry) publishEffects(ctx context.Context, ev domain.Event, fx domain.Effects) {
	if fx.Item != nil {
		r.bus.Publish(domain.TopicOfflineData, domain.OfflineDataPayload{Index: fx.Index, Item: *fx.Item})
	}
	if fx.ListChanged {
		r.logList()
		r.bus.Publish(domain.TopicDownloadsList, domain.DownloadsListPayload{Count: len(r.List())})
	}

	switch ev.Kind {
	case domain.EventProgress, domain.EventBinaryProgress:
	default:
		fields := []zap.Field{zap.String("id", ev.ID)}
		if fx.Item != nil {
			fields = append(fields,
				zap.String("uri", fx.Item.URI()),
				zap.String("state", string(fx.Item.OfflineData.State)))
		}
		r.journalEvent(string(ev.Kind), fields...)
	}

	r.checkDownloadsStatus()
	if fx.RecomputeSize {
		r.refreshSize(ctx)
	}
}

func (r *Registry) persist(ctx context.Context, version uint64, items []domain.DownloadItem) {
	if _, err := r.storage.SaveVersion(context.WithoutCancel(ctx), version, items); err != nil {
		r.logger.Error("Failed to persist downloads", zap.Uint64("version", version), zap.Error(err))
		r.journalError("persist_failed", zap.Uint64("version", version), zap.Error(err))
	}
}

// checkDownloadsStatus publishes whether the current user has unfinished downloads
func (r *Registry) checkDownloadsStatus() {
	r.mu.Lock()
	pending := domain.CountPending(r.items, r.userLocked())
	started := r.isStarted
	r.mu.Unlock()

	r.bus.Publish(domain.TopicDownloads, domain.DownloadsStatusPayload{
		IsStarted: pending > 0 && started,
		Pending:   pending > 0,
	})
}

func (r *Registry) refreshSize(ctx context.Context) {
	size := r.size.CalculateTotalDownloadsSize(ctx)
	r.mu.Lock()
	r.totalSize = size
	r.mu.Unlock()
	r.bus.Publish(domain.TopicDownloadsSize, domain.DownloadsSizePayload{Size: size})
}

func (r *Registry) publishEnabled() {
	r.bus.Publish(domain.TopicDownloadsEnable, domain.DownloadsEnablePayload{Enabled: r.CanDownload()})
}

func (r *Registry) publishResult(batch domain.BatchResult) {
	if err := batch.Err(); err != nil {
		r.logger.Warn("Batch finished with failures", zap.String("operation", batch.Operation), zap.Error(err))
	}
	r.bus.Publish(domain.TopicDownloadsResult, batch.Payload())
}

func (r *Registry) onNetworkChange(state domain.NetworkState) {
	r.logger.Info("Network changed",
		zap.Bool("is_connected", state.IsConnected),
		zap.String("type", state.Type))
	r.publishEnabled()

	r.mu.Lock()
	resume := r.firstMounted && r.initialized && !r.closed
	r.mu.Unlock()

	if resume {
		if _, err := r.Resume(context.Background()); err != nil {
			r.logger.Warn("Automatic resume failed", zap.Error(err))
		}
	}
}

func (r *Registry) logList() {
	if ce := r.logger.Check(zap.DebugLevel, "Downloads list"); ce == nil {
		return
	}
	for i, item := range r.List() {
		r.logger.Debug("Downloads list",
			zap.Int("index", i),
			zap.String("title", item.OfflineData.Source.Title),
			zap.String("uri", item.URI()),
			zap.String("state", string(item.OfflineData.State)),
			zap.Float64("percent", item.OfflineData.Percent),
			zap.Strings("session_ids", item.OfflineData.SessionIDs))
	}
}

func (r *Registry) journalEvent(event string, fields ...zap.Field) {
	if r.journal != nil {
		r.journal.LogDownloadEvent(event, fields...)
	}
}

func (r *Registry) journalError(msg string, fields ...zap.Field) {
	if r.journal != nil {
		r.journal.LogAppError(msg, fields...)
	}
}
