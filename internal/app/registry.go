package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/yourusername/offline-downloads-go/internal/domain"
	"github.com/yourusername/offline-downloads-go/pkg/logger"
	"go.uber.org/zap"
)

// DefaultUserID owns downloads requested while no user is set and login is
// not required
const DefaultUserID = "local"

// ListStore persists the download list
type ListStore interface {
	LegacyStore
	Read(ctx context.Context) []domain.DownloadItem
	SaveVersion(ctx context.Context, version uint64, items []domain.DownloadItem) (bool, error)
}

// NetworkWatcher exposes the connectivity snapshot and its changes
type NetworkWatcher interface {
	Snapshot() domain.NetworkState
	Refresh(ctx context.Context) domain.NetworkState
	Subscribe(fn func(domain.NetworkState)) func()
}

// SizeCalculator computes the bytes consumed by downloads
type SizeCalculator interface {
	CalculateTotalDownloadsSize(ctx context.Context) int64
}

// RegistryDeps holds the collaborators of a Registry. Binary, Fs and Journal
// are optional.
type RegistryDeps struct {
	Config  *domain.DownloadsConfig
	Storage ListStore
	Monitor NetworkWatcher
	Size    SizeCalculator
	Bridge  domain.StreamEngine
	Binary  domain.BinaryEngine
	Fs      afero.Fs
	Bus     *EventBus
	Journal *logger.MultiLogger
	Logger  *zap.Logger
}

// Status is the aggregate view of the registry
type Status struct {
	Initialized bool                `json:"initialized"`
	Enabled     bool                `json:"enabled"`
	IsStarted   bool                `json:"isStarted"`
	Pending     int                 `json:"pending"`
	Items       int                 `json:"items"`
	Size        int64               `json:"size"`
	CanDownload bool                `json:"canDownload"`
	UserID      string              `json:"user_id"`
	UserLogged  bool                `json:"user_logged"`
	Network     domain.NetworkState `json:"network"`
}

// Registry owns the download list. Every mutation goes through the reducer,
// is persisted and is announced on the event bus.
type Registry struct {
	config   *domain.DownloadsConfig
	storage  ListStore
	migrator *Migrator
	monitor  NetworkWatcher
	size     SizeCalculator
	bridge   domain.StreamEngine
	stream   Backend
	binary   Backend
	bus      *EventBus
	journal  *logger.MultiLogger
	base     *zap.Logger
	logger   *zap.Logger

	mu           sync.Mutex
	items        []domain.DownloadItem
	version      uint64
	opts         domain.InitOptions
	enabled      bool
	initialized  bool
	isStarted    bool
	firstMounted bool
	closed       bool
	userID       string
	userLogged   bool
	totalSize    int64
	unsubscribe  func()

	inbound      chan domain.Event
	done         chan struct{}
	loopDone     chan struct{}
	shutdownOnce sync.Once
}

// NewRegistry creates a new download registry. Init must be called before
// any other operation.
func NewRegistry(deps RegistryDeps) *Registry {
	buffer := deps.Config.EventBuffer
	if buffer < 1 {
		buffer = 1
	}

	r := &Registry{
		config:   deps.Config,
		storage:  deps.Storage,
		migrator: NewMigrator(deps.Storage, deps.Config.Platform, deps.Logger.Named("migrator")),
		monitor:  deps.Monitor,
		size:     deps.Size,
		bridge:   deps.Bridge,
		stream:   NewStreamDownload(deps.Bridge),
		bus:      deps.Bus,
		journal:  deps.Journal,
		base:     deps.Logger,
		logger:   logger.Component(deps.Logger, "registry", deps.Config.LogKey),
		items:    []domain.DownloadItem{},
		inbound:  make(chan domain.Event, buffer),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}

	if deps.Binary != nil && deps.Config.BinaryEnabled {
		fs := deps.Fs
		if fs == nil {
			fs = afero.NewOsFs()
		}
		adapter := NewBinaryAdapter(deps.Binary, fs, deps.Config.BinaryDir, r.enqueue, deps.Logger.Named("binary"))
		r.binary = NewBinaryDownload(adapter)
	}

	return r
}

// Init loads the persisted list, migrates legacy rows, reads the network and
// computes the size. The first successful call also activates the stream
// engine and starts event processing; it fails only when that activation does.
func (r *Registry) Init(ctx context.Context, opts domain.InitOptions) ([]domain.DownloadItem, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, domain.ErrShutdown
	}
	r.opts = opts
	r.enabled = !opts.Disabled
	if opts.LogKey != "" && !r.initialized {
		r.logger = logger.Component(r.base, "registry", opts.LogKey)
	}
	enabled := r.enabled
	r.mu.Unlock()

	if !enabled {
		r.logger.Info("Downloads disabled")
		r.checkDownloadsStatus()
		return r.List(), nil
	}

	items := r.storage.Read(ctx)
	items, dropped := domain.DropRemoving(items)
	items = domain.ApplyRecovery(r.config.Platform, items)
	version := r.replace(items)
	if dropped > 0 {
		r.logger.Info("Dropped downloads persisted mid-removal", zap.Int("count", dropped))
		r.persist(ctx, version, items)
	}

	r.migrator.Migrate(ctx, items, func(merged []domain.DownloadItem) error {
		_, err := r.storage.SaveVersion(ctx, r.replace(merged), merged)
		return err
	})

	network := r.monitor.Refresh(ctx)
	r.refreshSize(ctx)

	r.mu.Lock()
	first := !r.initialized
	r.mu.Unlock()

	if first {
		if err := r.bridge.ModuleInit(ctx); err != nil {
			r.logger.Error("Failed to initialize download module", zap.Error(err))
			r.journalError("module_init_failed", zap.Error(err))
			return nil, fmt.Errorf("failed to initialize download module: %w", err)
		}
		if restorer, ok := r.bridge.(domain.StreamRestorer); ok {
			if n := restorer.Restore(r.List()); n > 0 {
				r.logger.Info("Restored persisted streams into engine", zap.Int("count", n))
			}
		}
		r.start()
	}

	r.logger.Info("Initialized",
		zap.Int("items", len(r.List())),
		zap.String("platform", string(r.config.Platform)),
		zap.String("network_type", network.Type),
		zap.Bool("can_download", r.CanDownload()))
	r.logList()

	r.publishEnabled()
	r.checkDownloadsStatus()
	return r.List(), nil
}

func (r *Registry) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return
	}
	r.initialized = true
	r.unsubscribe = r.monitor.Subscribe(r.onNetworkChange)
	go r.run(r.bridge.Events())
}

// Shutdown stops event processing and releases the network subscription
func (r *Registry) Shutdown() {
	r.shutdownOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		unsubscribe := r.unsubscribe
		r.unsubscribe = nil
		running := r.initialized
		r.mu.Unlock()

		if unsubscribe != nil {
			unsubscribe()
		}
		close(r.done)
		if running {
			<-r.loopDone
		}
		r.logger.Info("Registry shut down")
	})
}

// SetUser switches the active session
func (r *Registry) SetUser(userID string, logged bool) {
	r.mu.Lock()
	r.userID = userID
	r.userLogged = logged
	r.mu.Unlock()

	r.logger.Info("Session changed", zap.String("user_id", userID), zap.Bool("logged", logged))
	r.publishEnabled()
	r.checkDownloadsStatus()
}

// InitialStart marks the host as started and resumes downloads. Network
// changes only resume automatically after this call.
func (r *Registry) InitialStart(ctx context.Context) (domain.BatchResult, error) {
	if err := r.ready(); err != nil {
		return domain.BatchResult{Operation: "resume"}, err
	}
	r.mu.Lock()
	r.firstMounted = true
	r.mu.Unlock()
	return r.Resume(ctx)
}

// AddItem registers a download for the current user. A uri already in the
// list only gains the user id; a new one is dispatched to its backend.
func (r *Registry) AddItem(ctx context.Context, req domain.NewDownloadItem) (domain.DownloadItem, error) {
	if err := r.ready(); err != nil {
		return domain.DownloadItem{}, err
	}
	if req.OfflineData.Source.URI == "" {
		return domain.DownloadItem{}, fmt.Errorf("%w: missing uri", domain.ErrInvalidContentID)
	}
	userID, err := r.sessionUser()
	if err != nil {
		return domain.DownloadItem{}, err
	}
	if req.OfflineData.Source.ID == "" {
		req.OfflineData.Source.ID = uuid.NewString()
	}

	source := req.OfflineData.Source
	r.logger.Info("Add", zap.String("title", source.Title), zap.String("uri", source.URI))

	if _, existing, err := r.GetItemBySrc(source.URI); err == nil {
		if existing.HasSession(userID) {
			return existing, nil
		}
		return r.joinSession(ctx, existing.URI(), userID)
	}

	item := domain.NewItemFromRequest(req, userID, domain.IsBinarySource(r.config.Platform, source))
	backend := r.backendFor(item)
	if backend.Kind() == BackendBinary {
		item.OfflineData.FileURI = domain.BinaryFilePath(r.config.BinaryDir, source)
	}

	if fx := r.apply(ctx, domain.Event{Kind: domain.EventItemAdded, Item: &item}); !fx.Changed {
		return r.joinSession(ctx, item.URI(), userID)
	}

	if err := backend.Start(ctx, item); err != nil {
		r.logger.Error("Failed to start download", zap.String("uri", item.URI()), zap.Error(err))
		r.journalError("add_failed", zap.String("uri", item.URI()), zap.Error(err))
		r.apply(ctx, domain.Event{Kind: domain.EventItemDeleted, ID: item.URI()})
		return domain.DownloadItem{}, fmt.Errorf("failed to add %s: %w", item.URI(), err)
	}

	r.journalEvent("item_added",
		zap.String("uri", item.URI()),
		zap.String("backend", string(backend.Kind())),
		zap.String("user_id", userID))
	r.refreshSize(ctx)
	return item, nil
}

func (r *Registry) joinSession(ctx context.Context, uri, userID string) (domain.DownloadItem, error) {
	r.logger.Info("Already in the list, adding user", zap.String("uri", uri), zap.String("user_id", userID))
	r.apply(ctx, domain.Event{Kind: domain.EventSessionJoined, ID: uri, UserID: userID})
	_, item, err := r.GetItemBySrc(uri)
	return item, err
}

// RemoveItem removes the download of uri for the current user. A download
// shared with other users only loses the current user id.
func (r *Registry) RemoveItem(ctx context.Context, uri string) error {
	if err := r.ready(); err != nil {
		return err
	}
	if uri == "" {
		return fmt.Errorf("%w: missing uri", domain.ErrInvalidContentID)
	}
	_, item, err := r.GetItemBySrc(uri)
	if err != nil {
		return err
	}

	userID := r.currentUser()
	if item.SharedWithOthers(userID) {
		r.logger.Info("Download shared, releasing user only",
			zap.String("uri", item.URI()),
			zap.String("user_id", userID))
		r.apply(ctx, domain.Event{Kind: domain.EventSessionLeft, ID: item.URI(), UserID: userID})
		r.journalEvent("session_left", zap.String("uri", item.URI()), zap.String("user_id", userID))
		return nil
	}

	backend := r.backendFor(item)
	if err := backend.Remove(ctx, item); err != nil {
		r.logger.Error("Failed to remove download", zap.String("uri", item.URI()), zap.Error(err))
		r.journalError("remove_failed", zap.String("uri", item.URI()), zap.Error(err))
		r.dropLocal(ctx, backend, item)
		return fmt.Errorf("failed to remove %s: %w", item.URI(), err)
	}

	r.dropLocal(ctx, backend, item)
	r.journalEvent("item_removed", zap.String("uri", item.URI()), zap.String("backend", string(backend.Kind())))
	return nil
}

// dropLocal deletes the row after a removal attempt. The engine may already
// have removed it through its own events.
func (r *Registry) dropLocal(ctx context.Context, backend Backend, item domain.DownloadItem) {
	ev := domain.Event{Kind: domain.EventItemDeleted, ID: item.URI()}
	if backend.Kind() == BackendBinary && item.OfflineData.Source.ID != "" {
		ev = domain.Event{Kind: domain.EventBinaryRemoved, ID: item.OfflineData.Source.ID}
	}
	if fx := r.apply(ctx, ev); !fx.Changed {
		r.refreshSize(ctx)
	}
}

// Resume starts the downloads of the current user when the policy allows it,
// and pauses them otherwise
func (r *Registry) Resume(ctx context.Context) (domain.BatchResult, error) {
	batch := domain.BatchResult{Operation: "resume"}
	if err := r.ready(); err != nil {
		return batch, err
	}

	network := r.monitor.Snapshot()
	canDownload := r.CanDownload()
	r.logger.Info("Resume",
		zap.Bool("is_started", r.started()),
		zap.Bool("is_connected", network.IsConnected),
		zap.String("network_type", network.Type),
		zap.Bool("can_download", canDownload))

	if !canDownload {
		return r.Pause(ctx)
	}

	if r.config.Platform == domain.PlatformAndroid {
		if err := r.bridge.ResumeAll(ctx); err != nil {
			r.logger.Warn("Couldn't resume downloads", zap.Error(err))
			batch.Add("", err)
		} else {
			batch.Add("", nil)
			r.setStarted(true)
		}
		for _, item := range r.ownedPending(true) {
			batch.Add(item.URI(), r.binary.Resume(ctx, item))
		}
	} else {
		for _, item := range r.ownedPending(false) {
			batch.Add(item.URI(), r.backendFor(item).Resume(ctx, item))
		}
		r.setStarted(true)
	}

	if r.started() {
		r.checkRestartItems(ctx)
	}
	r.checkDownloadsStatus()
	r.publishResult(batch)
	return batch, nil
}

// Pause stops the downloads of the current user
func (r *Registry) Pause(ctx context.Context) (domain.BatchResult, error) {
	batch := domain.BatchResult{Operation: "pause"}
	if err := r.ready(); err != nil {
		return batch, err
	}

	if !r.started() {
		r.logger.Info("Paused but it wasn't started")
		r.checkDownloadsStatus()
		r.publishResult(batch)
		return batch, nil
	}

	if r.config.Platform == domain.PlatformAndroid {
		if err := r.bridge.PauseAll(ctx); err != nil {
			r.logger.Warn("Couldn't pause downloads", zap.Error(err))
			batch.Add("", err)
		} else {
			batch.Add("", nil)
			r.setStarted(false)
		}
		for _, item := range r.ownedPending(true) {
			batch.Add(item.URI(), r.binary.Pause(ctx, item))
		}
	} else {
		for _, item := range r.ownedPending(false) {
			batch.Add(item.URI(), r.backendFor(item).Pause(ctx, item))
		}
		r.setStarted(false)
	}

	r.checkDownloadsStatus()
	r.publishResult(batch)
	return batch, nil
}

// CheckRestartItems resubmits the items of the current user waiting in RESTART
func (r *Registry) CheckRestartItems(ctx context.Context) (domain.BatchResult, error) {
	if err := r.ready(); err != nil {
		return domain.BatchResult{Operation: "restart"}, err
	}
	return r.checkRestartItems(ctx), nil
}

func (r *Registry) checkRestartItems(ctx context.Context) domain.BatchResult {
	batch := domain.BatchResult{Operation: "restart"}
	for _, item := range r.owned(func(item *domain.DownloadItem) bool {
		return item.OfflineData.State == domain.StateRestart
	}) {
		err := r.backendFor(item).Start(ctx, item)
		batch.Add(item.URI(), err)
		if err != nil {
			r.logger.Warn("Couldn't restart", zap.String("uri", item.URI()), zap.Error(err))
			r.apply(ctx, domain.Event{
				Kind:  domain.EventStateChanged,
				ID:    item.URI(),
				State: domain.StateFailed,
				Error: err.Error(),
			})
			continue
		}
		r.logger.Info("Restarting", zap.String("uri", item.URI()))
	}
	if len(batch.Results) > 0 {
		r.publishResult(batch)
	}
	return batch
}

// CheckItem asks the stream engine for its view of uri
func (r *Registry) CheckItem(ctx context.Context, uri string) (*domain.DownloadItem, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if uri == "" {
		return nil, fmt.Errorf("%w: missing uri", domain.ErrInvalidContentID)
	}
	item, err := r.bridge.GetItem(ctx, uri)
	if err != nil {
		r.logger.Warn("checkItem failed", zap.String("uri", uri), zap.Error(err))
		return nil, err
	}
	return item, nil
}

// GetItemByID returns the item with the source id owned by the current user
func (r *Registry) GetItemByID(id string) (domain.DownloadItem, error) {
	if id == "" {
		return domain.DownloadItem{}, fmt.Errorf("%w: missing id", domain.ErrInvalidContentID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	user := r.userLocked()
	for i := range r.items {
		if r.items[i].OfflineData.Source.ID == id && r.items[i].HasSession(user) {
			return r.items[i].Clone(), nil
		}
	}
	return domain.DownloadItem{}, domain.ErrItemNotFound
}

// GetItemBySrc returns the index and the item matching uri in raw or escaped form
func (r *Registry) GetItemBySrc(uri string) (int, domain.DownloadItem, error) {
	if uri == "" {
		return -1, domain.DownloadItem{}, fmt.Errorf("%w: missing uri", domain.ErrInvalidContentID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := domain.FindBySrc(r.items, uri)
	if idx < 0 {
		return -1, domain.DownloadItem{}, domain.ErrItemNotFound
	}
	return idx, r.items[idx].Clone(), nil
}

// List returns every download
func (r *Registry) List() []domain.DownloadItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.CloneList(r.items)
}

// UserList returns the downloads of the current user
func (r *Registry) UserList() []domain.DownloadItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.CloneList(domain.FilterByUser(r.items, r.userLocked()))
}

// Size returns the last computed size in bytes
func (r *Registry) Size() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalSize
}

// CanDownload evaluates the download gate
func (r *Registry) CanDownload() bool {
	network := r.monitor.Snapshot()
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.CanDownload(r.policyLocked(), network)
}

// Status returns the aggregate state of the registry
func (r *Registry) Status() Status {
	network := r.monitor.Snapshot()
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		Initialized: r.initialized,
		Enabled:     r.enabled,
		IsStarted:   r.isStarted,
		Pending:     domain.CountPending(r.items, r.userLocked()),
		Items:       len(r.items),
		Size:        r.totalSize,
		CanDownload: domain.CanDownload(r.policyLocked(), network),
		UserID:      r.userID,
		UserLogged:  r.userLogged,
		Network:     network,
	}
}

// Ready reports whether Init completed
func (r *Registry) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialized && !r.closed
}

func (r *Registry) ready() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.closed:
		return domain.ErrShutdown
	case r.opts.Disabled:
		return domain.ErrModuleUnavailable
	case !r.initialized:
		return domain.ErrNotInitialized
	}
	return nil
}

func (r *Registry) backendFor(item domain.DownloadItem) Backend {
	if item.OfflineData.IsBinary && r.binary != nil {
		return r.binary
	}
	return r.stream
}

func (r *Registry) policyLocked() domain.DownloadPolicy {
	return domain.DownloadPolicy{
		Enabled:          r.enabled,
		DownloadJustWifi: r.opts.DownloadJustWifi,
		UserRequired:     r.opts.UserRequired,
		UserLogged:       r.userLogged,
	}
}

func (r *Registry) userLocked() string {
	if r.userID != "" {
		return r.userID
	}
	if !r.opts.UserRequired {
		return DefaultUserID
	}
	return ""
}

func (r *Registry) currentUser() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userLocked()
}

func (r *Registry) sessionUser() (string, error) {
	user := r.currentUser()
	if user == "" {
		return "", domain.ErrNoUser
	}
	return user, nil
}

func (r *Registry) started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isStarted
}

func (r *Registry) setStarted(started bool) {
	r.mu.Lock()
	r.isStarted = started
	r.mu.Unlock()
}

// owned returns copies of the current user's items accepted by keep
func (r *Registry) owned(keep func(*domain.DownloadItem) bool) []domain.DownloadItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	user := r.userLocked()
	var out []domain.DownloadItem
	for i := range r.items {
		if r.items[i].HasSession(user) && keep(&r.items[i]) {
			out = append(out, r.items[i].Clone())
		}
	}
	return out
}

// ownedPending returns the unfinished items of the current user, leaving the
// RESTART ones to checkRestartItems. binaryOnly narrows to binary items.
func (r *Registry) ownedPending(binaryOnly bool) []domain.DownloadItem {
	if binaryOnly && r.binary == nil {
		return nil
	}
	return r.owned(func(item *domain.DownloadItem) bool {
		if !item.IsPending() || item.OfflineData.State == domain.StateRestart {
			return false
		}
		return !binaryOnly || item.OfflineData.IsBinary
	})
}

func (r *Registry) replace(items []domain.DownloadItem) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = items
	r.version++
	return r.version
}
