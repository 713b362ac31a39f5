// Package daemon runs the background sync loops: draining the offline
// mutation queue, refreshing local entities from the remote store, and
// running calendar sync passes.
//
// The daemon:
// 1. Probes connectivity and drains the queue when online
// 2. Periodically refreshes source entities from the remote store
// 3. Runs calendar sync passes per connection
// 4. Watches the config file and reloads on change
// 5. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"

	"github.com/kincareapp/kincare/internal/calendar"
	"github.com/kincareapp/kincare/internal/dashboard"
	"github.com/kincareapp/kincare/internal/syncer"
)

// Config holds configuration for the daemon.
type Config struct {
	// DrainInterval is how often the pending queue is drained
	DrainInterval time.Duration

	// RefreshInterval is how often source entities are pulled from the
	// remote store
	RefreshInterval time.Duration

	// CalendarInterval is how often calendar sync passes run
	CalendarInterval time.Duration

	// ProbeInterval is how often connectivity is re-checked
	ProbeInterval time.Duration

	// Probe reports whether the remote store is reachable. Nil means
	// always assume online.
	Probe func(ctx context.Context) error

	// ConfigPath, when set, is watched for changes; OnConfigChange fires
	// after a debounced write
	ConfigPath     string
	OnConfigChange func()

	// LockPath guards against a second daemon on the same data directory.
	// Empty disables locking.
	LockPath string

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DrainInterval:    15 * time.Second,
		RefreshInterval:  2 * time.Minute,
		CalendarInterval: 5 * time.Minute,
		ProbeInterval:    30 * time.Second,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates the background sync loops.
type Daemon struct {
	coordinator *syncer.Coordinator
	engine      *calendar.Engine
	dash        *dashboard.Server
	config      *Config

	lock    *flock.Flock
	watcher *fsnotify.Watcher

	kick chan struct{}

	onlineMu sync.Mutex
	online   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon. dash may be nil to run without the dashboard
// broadcast.
func New(coordinator *syncer.Coordinator, engine *calendar.Engine, dash *dashboard.Server, config *Config) (*Daemon, error) {
	if coordinator == nil {
		return nil, fmt.Errorf("coordinator cannot be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		coordinator: coordinator,
		engine:      engine,
		dash:        dash,
		config:      config,
		kick:        make(chan struct{}, 1),
		online:      true,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins the daemon's loops. This blocks until ctx is cancelled or
// startup fails.
func (d *Daemon) Start(ctx context.Context) error {
	if d.config.LockPath != "" {
		d.lock = flock.New(d.config.LockPath)
		locked, err := d.lock.TryLock()
		if err != nil {
			return fmt.Errorf("failed to acquire daemon lock: %w", err)
		}
		if !locked {
			return fmt.Errorf("another daemon is already running (lock: %s)", d.config.LockPath)
		}
	}

	d.config.Logger.Println("Starting daemon")

	if d.config.ConfigPath != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create config watcher: %w", err)
		}
		d.watcher = watcher
		// Watch the directory: editors replace the file, which would
		// drop a watch on the file itself.
		if err := watcher.Add(filepath.Dir(d.config.ConfigPath)); err != nil {
			return fmt.Errorf("failed to watch config: %w", err)
		}
		d.wg.Add(1)
		go d.watchConfig()
	}

	d.wg.Add(3)
	go d.drainLoop()
	go d.refreshLoop()
	go d.calendarLoop()

	if d.config.Probe != nil {
		d.wg.Add(1)
		go d.probeLoop()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
	}

	d.wg.Wait()

	if d.lock != nil {
		if err := d.lock.Unlock(); err != nil {
			d.config.Logger.Printf("Error releasing lock: %v", err)
		}
	}

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// Kick requests an immediate drain. Multiple kicks before the drain runs
// coalesce into one pass.
func (d *Daemon) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Online reports the last observed connectivity state.
func (d *Daemon) Online() bool {
	d.onlineMu.Lock()
	defer d.onlineMu.Unlock()
	return d.online
}

func (d *Daemon) setOnline(online bool) {
	d.onlineMu.Lock()
	changed := d.online != online
	d.online = online
	d.onlineMu.Unlock()

	if !changed {
		return
	}
	if online {
		d.config.Logger.Println("Connectivity restored")
		d.broadcast(dashboard.NewMessage(dashboard.MessageTypeConnectivity, map[string]bool{"online": true}))
		d.Kick()
	} else {
		d.config.Logger.Println("Connectivity lost, queueing mutations locally")
		d.broadcast(dashboard.NewMessage(dashboard.MessageTypeConnectivity, map[string]bool{"online": false}))
	}
}

func (d *Daemon) drainLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
		case <-d.kick:
		}
		d.drainOnce()
	}
}

func (d *Daemon) drainOnce() {
	if !d.Online() {
		return
	}

	res, err := d.coordinator.DrainNow(d.ctx)
	if err != nil {
		if err != syncer.ErrDrainInProgress {
			d.config.Logger.Printf("Drain error: %v", err)
		}
		return
	}
	if res.Attempted > 0 {
		d.broadcast(dashboard.NewMessage(dashboard.MessageTypeDrain, res))
	}
}

func (d *Daemon) refreshLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if d.Online() {
				d.coordinator.RefreshAll(d.ctx)
			}
		}
	}
}

func (d *Daemon) calendarLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.CalendarInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if !d.Online() {
				continue
			}
			results := d.engine.SyncAll(d.ctx)
			for _, res := range results {
				if !res.Skipped {
					d.broadcast(dashboard.NewMessage(dashboard.MessageTypeCalendarPass, res))
				}
			}
		}
	}
}

func (d *Daemon) probeLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(d.ctx, 10*time.Second)
			err := d.config.Probe(ctx)
			cancel()
			d.setOnline(err == nil)
		}
	}
}

// watchConfig fires OnConfigChange after a debounced write to the config
// file.
func (d *Daemon) watchConfig() {
	defer d.wg.Done()

	var pending *time.Timer
	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(d.config.ConfigPath) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			d.config.Logger.Printf("Config event: %s %s", event.Op, event.Name)
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(250*time.Millisecond, func() {
				d.config.Logger.Println("Reloading config")
				if d.config.OnConfigChange != nil {
					d.config.OnConfigChange()
				}
			})

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) broadcast(msg dashboard.Message) {
	if d.dash != nil {
		d.dash.Broadcast(msg)
	}
}
