// Package server orchestrates the bridge: COMMS connection, dispatcher, static
// routes, attached clients, browser entities, the request journal and HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/rtbus/internal/config"
	"github.com/morezero/rtbus/internal/topology"
	"github.com/morezero/rtbus/pkg/browser"
	"github.com/morezero/rtbus/pkg/channel"
	"github.com/morezero/rtbus/pkg/commsutil"
	"github.com/morezero/rtbus/pkg/db"
	"github.com/morezero/rtbus/pkg/dispatcher"
	"github.com/morezero/rtbus/pkg/entity"
	"github.com/morezero/rtbus/pkg/events"
	"github.com/morezero/rtbus/pkg/rtid"
)

const logPrefix = "server:server"

const (
	refreshInterval = 2 * time.Second
	pruneInterval   = time.Hour
)

// journalStore is the part of db.JournalRepository the server uses.
type journalStore interface {
	events.RequestStore
	ListRequests(ctx context.Context, params db.ListRequestsParams) ([]db.RequestRecord, error)
	PruneRequests(ctx context.Context, before time.Time) (int64, error)
}

// Options injects collaborators. Nil fields are built from the config.
type Options struct {
	Conn     *comms.Conn
	Facade   browser.Facade
	Topology *topology.File
}

// Server is the rtbridge orchestrator.
type Server struct {
	cfg     *config.Config
	ct      rtid.ContextType
	self    rtid.RTID
	inbox   string
	codec   commsutil.Codec
	started time.Time

	nc         *comms.Conn
	ownsConn   bool
	pool       *pgxpool.Pool
	journal    journalStore
	disp       *dispatcher.Dispatcher
	facade     browser.Facade
	ownsFacade bool
	entities   *entity.Registry

	mu      sync.Mutex
	clients map[string]channel.Channel
	statics []channel.Channel
	subs    []*comms.Subscription

	httpServer *http.Server
	wsServer   *http.Server
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// Run starts the bridge, blocks until a shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	SetupLogging(cfg.LogLevel)
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("%s - Starting rtbridge (%s context)", logPrefix, cfg.Context))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := New(ctx, cfg, Options{})
	if err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		s.Shutdown(ctx)
		return err
	}
	slog.Info(fmt.Sprintf("%s - rtbridge is ready on %s", logPrefix, s.inbox))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	s.Shutdown(shutdownCtx)

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// SetupLogging installs the default text logger at the named level.
func SetupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

// New wires every component. Background loops and listeners start with Start.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Server, error) {
	ct, err := cfg.ContextType()
	if err != nil {
		return nil, err
	}
	codec, err := commsutil.CodecByName(cfg.Codec)
	if err != nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, err)
	}
	s := &Server{cfg: cfg, ct: ct, codec: codec, started: time.Now(), clients: make(map[string]channel.Channel)}

	// Step 1: Load topology
	file := opts.Topology
	if file == nil {
		var paths []string
		if cfg.TopologyFile != "" {
			paths = append(paths, cfg.TopologyFile)
		}
		if file, err = topology.Load(paths...); err != nil {
			return nil, fmt.Errorf("%s - failed to load topology: %w", logPrefix, err)
		}
	}
	if s.self, err = rtid.Parse(file.Self); err != nil {
		return nil, fmt.Errorf("%s - topology self: %w", logPrefix, err)
	}
	s.inbox = cfg.InboxSubject
	if s.inbox == "" {
		s.inbox = commsutil.BuildInboxSubject(ct, s.self)
	}
	topo, err := topology.Resolve(file, s.inbox)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid topology: %w", logPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Inbox subject: %s, %d static routes", logPrefix, s.inbox, len(topo.Routes)))

	// Step 2: Connect to COMMS
	if opts.Conn != nil {
		s.nc = opts.Conn
		commsutil.NotifyClosed(s.nc, s.commsClosed)
	} else {
		nc, err := commsutil.Connect(cfg.COMMSURL, commsutil.ConnectOptions{Name: cfg.COMMSName, OnClosed: s.commsClosed})
		if err != nil {
			return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
		}
		s.nc = nc
		s.ownsConn = true
	}

	// Step 3: Request journal
	var publishers events.MultiPublisher
	publishers = append(publishers, events.NewCommsPublisher(s.nc, nil))
	if cfg.JournalEnabled() {
		if err := s.setupJournal(ctx); err != nil {
			s.Shutdown(ctx)
			return nil, err
		}
		publishers = append(publishers, events.NewJournalPublisher(s.journal))
	}

	// Step 4: Dispatcher
	router, err := dispatcher.RouterFor(ct, s.self)
	if err != nil {
		s.Shutdown(ctx)
		return nil, err
	}
	s.disp, err = dispatcher.New(dispatcher.Params{
		Name:      cfg.COMMSName,
		Router:    router,
		Timeout:   cfg.RequestTimeout,
		Publisher: publishers,
	})
	if err != nil {
		s.Shutdown(ctx)
		return nil, err
	}

	// Step 5: Static routes
	for _, r := range topo.Routes {
		if err := s.openStatic(r); err != nil {
			s.Shutdown(ctx)
			return nil, err
		}
	}

	// Step 6: Attach handshake for external clients
	if ct == rtid.ContextBackground {
		if err := s.subscribeAttach(); err != nil {
			s.Shutdown(ctx)
			return nil, err
		}
	}

	// Step 7: Browser entities
	if ct == rtid.ContextBackground {
		if err := s.setupEntities(ctx, opts.Facade); err != nil {
			s.Shutdown(ctx)
			return nil, err
		}
	}
	return s, nil
}

func (s *Server) setupJournal(ctx context.Context) error {
	created, err := db.EnsureDatabase(ctx, s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("%s - failed to ensure database: %w", logPrefix, err)
	}
	if created {
		slog.Info(fmt.Sprintf("%s - Created journal database", logPrefix))
	}
	pool, err := db.NewPool(ctx, s.cfg.DatabaseURL, db.PoolOptions{})
	if err != nil {
		return fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
	}
	s.pool = pool

	if s.cfg.RunMigrations {
		migrations, err := db.LoadMigrationFiles(s.cfg.MigrationPath)
		if err != nil {
			return fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
		}
		if _, err := db.RunMigrations(ctx, pool, migrations); err != nil {
			return fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
		}
	}
	s.journal = db.NewJournalRepository(pool)
	return nil
}

func (s *Server) openStatic(r topology.Route) error {
	codec, err := commsutil.CodecByName(r.Codec)
	if err != nil {
		return fmt.Errorf("%s - route %s: %w", logPrefix, r.Name, err)
	}
	ch, err := channel.NewNATSChannel(channel.NATSParams{
		ID:        r.Name,
		Conn:      s.nc,
		Publish:   r.Publish,
		Subscribe: r.Subscribe,
		Codec:     codec,
	})
	if err != nil {
		return fmt.Errorf("%s - route %s: %w", logPrefix, r.Name, err)
	}
	s.mu.Lock()
	s.statics = append(s.statics, ch)
	s.mu.Unlock()
	s.disp.AddRoutingChannel(r.Context, r.Peer, ch)
	return nil
}

// commsClosed disconnects every channel carried by the COMMS connection, which
// drops their routes.
func (s *Server) commsClosed(err error) {
	s.mu.Lock()
	chans := append([]channel.Channel(nil), s.statics...)
	s.statics = nil
	for _, ch := range s.clients {
		if _, ok := ch.(*channel.NATSChannel); ok {
			chans = append(chans, ch)
		}
	}
	s.mu.Unlock()

	if len(chans) > 0 {
		slog.Warn(fmt.Sprintf("%s - COMMS connection closed (%v), disconnecting %d channels", logPrefix, err, len(chans)))
	}
	for _, ch := range chans {
		ch.Disconnect("COMMS connection closed")
	}
}

func (s *Server) setupEntities(ctx context.Context, facade browser.Facade) error {
	if facade == nil {
		if s.cfg.BrowserEnabled {
			pw, err := browser.NewPlaywrightFacade(browser.PlaywrightOptions{Headless: s.cfg.BrowserHeadless})
			if err != nil {
				return fmt.Errorf("%s - failed to start browser: %w", logPrefix, err)
			}
			facade = pw
		} else {
			mem := browser.NewMemoryFacade()
			mem.AddWindow()
			facade = mem
		}
		s.ownsFacade = true
	}
	s.facade = facade

	reg, err := entity.NewRegistry(ctx, facade, s.disp)
	if err != nil {
		return err
	}
	s.entities = reg
	slog.Info(fmt.Sprintf("%s - Registered %d browser entities", logPrefix, len(reg.Addresses())))
	return nil
}

// Start launches the HTTP and websocket listeners and the background loops.
func (s *Server) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.entities != nil {
		s.every(loopCtx, refreshInterval, func(ctx context.Context) {
			if err := s.entities.Refresh(ctx); err != nil {
				slog.Warn(fmt.Sprintf("%s - entity refresh: %v", logPrefix, err))
			}
		})
	}
	if s.journal != nil && s.cfg.JournalTTL > 0 {
		s.every(loopCtx, pruneInterval, s.pruneJournal)
	}

	httpAddr := fmt.Sprintf(":%d", s.cfg.HTTPPort)
	s.httpServer = &http.Server{Addr: httpAddr, Handler: s.Handler()}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, httpAddr))
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	if s.cfg.WSAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", s.handleWebSocket())
		s.wsServer = &http.Server{Addr: s.cfg.WSAddr, Handler: mux}
		go func() {
			slog.Info(fmt.Sprintf("%s - WebSocket endpoint listening on %s/ws", logPrefix, s.cfg.WSAddr))
			if err := s.wsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				slog.Error(fmt.Sprintf("%s - WebSocket server error: %v", logPrefix, err))
			}
		}()
	}
	return nil
}

func (s *Server) every(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

func (s *Server) pruneJournal(ctx context.Context) {
	n, err := s.journal.PruneRequests(ctx, time.Now().Add(-s.cfg.JournalTTL))
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - journal prune: %v", logPrefix, err))
		return
	}
	if n > 0 {
		slog.Info(fmt.Sprintf("%s - Pruned %d journal rows", logPrefix, n))
	}
}

// Dispatcher returns the bridge dispatcher.
func (s *Server) Dispatcher() *dispatcher.Dispatcher { return s.disp }

// Inbox returns the subject prefix peers publish to.
func (s *Server) Inbox() string { return s.inbox }

// Shutdown stops listeners and loops and releases every resource. It is safe
// on a partially built server.
func (s *Server) Shutdown(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	for _, srv := range []*http.Server{s.httpServer, s.wsServer} {
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				slog.Warn(fmt.Sprintf("%s - HTTP shutdown: %v", logPrefix, err))
			}
		}
	}

	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	chans := append([]channel.Channel(nil), s.statics...)
	s.statics = nil
	for id, ch := range s.clients {
		chans = append(chans, ch)
		delete(s.clients, id)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, comms.ErrConnectionClosed) {
			slog.Warn(fmt.Sprintf("%s - unsubscribe %s: %v", logPrefix, sub.Subject, err))
		}
	}
	if s.entities != nil {
		s.entities.Close()
	}
	for _, ch := range chans {
		ch.Disconnect("shutdown")
	}
	if s.disp != nil {
		s.disp.Close()
	}
	if closer, ok := s.facade.(interface{ Close() error }); ok && s.ownsFacade {
		if err := closer.Close(); err != nil {
			slog.Warn(fmt.Sprintf("%s - browser close: %v", logPrefix, err))
		}
	}
	if s.nc != nil && s.ownsConn {
		if err := s.nc.Drain(); err != nil {
			slog.Warn(fmt.Sprintf("%s - COMMS drain: %v", logPrefix, err))
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
}
