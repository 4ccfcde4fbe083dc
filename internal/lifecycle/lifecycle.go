// Package lifecycle implements spec.md §4.10/§9 (Lifecycle, C10): startup
// validation, wiring the nine other components together, running the
// stdio tool-dispatch loop, and graceful shutdown. The signal-driven
// cancellation context mirrors the teacher's cmd/kilroy/main.go
// signalCancelContext helper.
package lifecycle

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mikeychann-hash/fgd-server/internal/approval"
	"github.com/mikeychann-hash/fgd-server/internal/config"
	"github.com/mikeychann-hash/fgd-server/internal/dispatcher"
	"github.com/mikeychann-hash/fgd-server/internal/fileops"
	"github.com/mikeychann-hash/fgd-server/internal/gitbridge"
	"github.com/mikeychann-hash/fgd-server/internal/llmrouter"
	"github.com/mikeychann-hash/fgd-server/internal/memory"
	"github.com/mikeychann-hash/fgd-server/internal/watcher"
	"github.com/mikeychann-hash/fgd-server/internal/workspace"
)

const observerJoinTimeout = 5 * time.Second

// Server owns every Core component for the lifetime of one process: one
// WatchedRoot, one MemoryStore, one ChangeObserver, one ApprovalProtocol
// background task, and the ToolDispatcher/Transport pair that serves
// stdio.
type Server struct {
	cfg    *config.Config
	root   workspace.Root
	store  *memory.Store
	files  *fileops.FileOps
	bridge *gitbridge.Bridge
	router *llmrouter.Router
	proto  *approval.Protocol
	obs    *watcher.Observer

	dispatcher *dispatcher.Dispatcher
	transport  *dispatcher.Transport
	logger     *log.Logger
}

// New validates cfg and constructs every component, but starts nothing
// background yet (Run does that). A failure here means the process must
// not start: an invalid or unwritable WatchedRoot, for instance.
func New(cfg *config.Config, logger *log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[fgd-server] ", log.LstdFlags)
	}

	root, err := workspace.NewRoot(cfg.WatchDir)
	if err != nil {
		return nil, fmt.Errorf("validate watch_dir: %w", err)
	}

	memPath := cfg.MemoryFile
	if !filepath.IsAbs(memPath) {
		memPath = filepath.Join(root.String(), memPath)
	}
	store, err := memory.Open(memPath, memory.Options{
		ContextLimit: *cfg.ContextLimit,
		MaxEntries:   *cfg.MaxMemoryEntries,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}

	files := fileops.New(root, store, fileops.Limits{
		MaxFileSizeKB:   *cfg.Scan.MaxFileSizeKB,
		MaxDirSizeGB:    float64(*cfg.Scan.MaxDirSizeGB),
		MaxFilesPerScan: *cfg.Scan.MaxFilesPerScan,
	})
	bridge := gitbridge.New(root.String())
	router := llmrouter.New(cfg.LLM, store, logger)
	proto := approval.New(root, files, store, logger)

	d := dispatcher.New()
	if err := dispatcher.RegisterWorkspaceTools(d, files, proto, bridge, router, store); err != nil {
		return nil, fmt.Errorf("register tool catalogue: %w", err)
	}
	transport := dispatcher.NewTransport(d, logger)

	return &Server{
		cfg: cfg, root: root, store: store, files: files, bridge: bridge,
		router: router, proto: proto, dispatcher: d, transport: transport, logger: logger,
	}, nil
}

// Run starts the ChangeObserver and the ApprovalProtocol background loop,
// then serves the stdio transport on (stdin, stdout) until ctx is
// cancelled or the transport sees EOF. On return, both background tasks
// are stopped (spec.md §4.6/§4.5 shutdown requirements) before Run
// returns.
func (s *Server) Run(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	s.obs = watcher.Start(s.root.String(), s.store, s.logger)

	approvalDone := make(chan error, 1)
	approvalCtx, cancelApproval := context.WithCancel(ctx)
	go func() { approvalDone <- s.proto.Run(approvalCtx) }()

	serveErr := s.transport.Serve(ctx, stdin, stdout)

	cancelApproval()
	select {
	case <-approvalDone:
	case <-time.After(s.proto.PollPeriod + time.Second):
		s.logger.Printf("WARN: approval loop did not exit within one poll period")
	}

	s.obs.Stop(observerJoinTimeout)

	return serveErr
}

// SignalContext returns a context cancelled on SIGINT/SIGTERM, and a
// cleanup function that must run (typically deferred) once the context is
// no longer needed, mirroring the teacher's cmd/kilroy/main.go pattern.
func SignalContext() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	stopped := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-stopped:
		}
	}()
	cleanup := func() {
		signal.Stop(sigCh)
		close(stopped)
		cancel()
	}
	return ctx, cleanup
}
