package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OpenLoomCore/internal/api/rest"
	"github.com/KevinKickass/OpenLoomCore/internal/api/websocket"
	"github.com/KevinKickass/OpenLoomCore/internal/config"
	"github.com/KevinKickass/OpenLoomCore/internal/interfaces"
	"github.com/KevinKickass/OpenLoomCore/internal/machine"
	"github.com/KevinKickass/OpenLoomCore/internal/metrics"
	"github.com/KevinKickass/OpenLoomCore/internal/profiles"
	"github.com/KevinKickass/OpenLoomCore/internal/protocol"
	"github.com/KevinKickass/OpenLoomCore/internal/serial"
	"github.com/KevinKickass/OpenLoomCore/internal/simulator"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// healthService is the gRPC health service name that tracks the loom link.
const healthService = "loom"

var (
	ErrLoomNotConnected = interfaces.ErrLoomNotConnected
	ErrNotSimulated     = interfaces.ErrNotSimulated
	ErrUnknownCommand   = interfaces.ErrUnknownCommand
)

type LifecycleManager struct {
	config  *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	profile *profiles.Profile
	wsHub   *websocket.Hub
	picks   *PickScheduler
	health  *health.Server

	restServer *rest.Server
	grpcServer *grpc.Server

	loomMu     sync.RWMutex
	sessionID  uuid.UUID
	link       machine.Link
	controller *machine.Controller
	poller     *machine.Poller
	loopDone   chan struct{}

	stateMu      sync.RWMutex
	currentState SystemState

	shutdownOnce sync.Once
}

func NewLifecycleManager(cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	loader, err := profiles.NewLoader(cfg.Profiles.SearchPaths)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile loader: %w", err)
	}

	profile, err := loader.Load(cfg.Loom.Profile)
	if err != nil {
		return nil, fmt.Errorf("failed to load loom profile: %w", err)
	}

	lm := &LifecycleManager{
		config:       cfg,
		logger:       logger,
		metrics:      metrics.New(),
		profile:      profile,
		wsHub:        websocket.NewHub(logger),
		health:       health.NewServer(),
		currentState: StateInitializing,
	}
	lm.picks = NewPickScheduler(lm, logger)
	lm.wsHub.SetCommandHandler(lm)

	return lm, nil
}

// Start starts the entire system
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting OpenLoomCore",
		zap.String("loom_port", lm.config.Loom.Port),
		zap.String("profile", lm.profile.Loom.ID))

	go lm.wsHub.Run()

	if err := lm.ConnectLoom(context.Background()); err != nil {
		lm.setState(StateError)
		return fmt.Errorf("failed to connect loom: %w", err)
	}

	if err := lm.startGRPCServer(); err != nil {
		lm.setState(StateError)
		return fmt.Errorf("failed to start gRPC: %w", err)
	}

	lm.restServer = rest.NewServer(lm.config, lm, lm.wsHub, lm.logger)
	if err := lm.restServer.Start(); err != nil {
		lm.setState(StateError)
		return fmt.Errorf("failed to start REST API: %w", err)
	}

	lm.setState(StateRunning)

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Bool("simulated", lm.config.Loom.IsMock()))

	return nil
}

// ConnectLoom opens the loom link unless it is already connected. Every new
// connection starts with fresh controller state.
func (lm *LifecycleManager) ConnectLoom(ctx context.Context) error {
	lm.loomMu.Lock()
	if lm.link != nil && lm.link.IsConnected() {
		lm.loomMu.Unlock()
		return nil
	}

	link, err := lm.openLink()
	if err != nil {
		lm.loomMu.Unlock()
		return err
	}

	sessionID := uuid.New()
	logger := lm.logger.With(zap.String("session_id", sessionID.String()))
	controller := machine.NewController(logger.Named("loom"), link, lm)
	poller := machine.NewPoller(controller, lm.config.Loom.PollInterval, logger)
	loopDone := make(chan struct{})

	lm.sessionID = sessionID
	lm.link = link
	lm.controller = controller
	lm.poller = poller
	lm.loopDone = loopDone
	lm.loomMu.Unlock()

	// The scheduler takes loomMu under its own lock; never reset it while holding loomMu.
	lm.picks.Reset()

	poller.Start()
	go lm.runController(sessionID, controller, poller, loopDone)

	lm.metrics.Connected.Set(1)
	lm.health.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeLoomConnection,
		websocket.LoomConnectionData{Connected: true, SessionID: sessionID.String()}))

	logger.Info("Loom connected", zap.String("port", lm.config.Loom.Port))

	if !lm.config.Loom.IsMock() {
		// The simulator greets with its state; real hardware has to be asked.
		if err := controller.QueryStatus(ctx); err != nil {
			logger.Warn("Initial status query failed", zap.Error(err))
		}
	}

	return nil
}

func (lm *LifecycleManager) openLink() (machine.Link, error) {
	if lm.config.Loom.IsMock() {
		settle := lm.config.Simulator.SettleDuration
		if settle == 0 {
			settle = lm.profile.SettleDuration()
		}
		return simulator.Open(simulator.Config{
			SettleDuration: settle,
			Version:        lm.profile.Simulator.Version,
			Verbose:        lm.config.Simulator.Verbose,
		}, lm.logger.Named("simulator")), nil
	}

	baudRate := lm.config.Loom.BaudRate
	if baudRate == 0 {
		baudRate = lm.profile.Connection.BaudRate
	}
	port, err := serial.Open(serial.Config{
		Device:     lm.config.Loom.Port,
		BaudRate:   baudRate,
		Terminator: lm.profile.TerminatorByte(),
	}, lm.logger)
	if err != nil {
		return nil, err
	}
	return port, nil
}

func (lm *LifecycleManager) runController(sessionID uuid.UUID, controller *machine.Controller, poller *machine.Poller, done chan struct{}) {
	defer close(done)

	if err := controller.Run(context.Background()); err != nil {
		lm.logger.Error("Loom reply loop failed", zap.Error(err))
	}
	poller.Stop()

	lm.loomMu.Lock()
	current := lm.sessionID == sessionID
	if current && lm.link != nil {
		lm.link.Close()
	}
	lm.loomMu.Unlock()

	if !current {
		return
	}

	lm.metrics.Connected.Set(0)
	lm.health.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)
	lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeLoomConnection,
		websocket.LoomConnectionData{Connected: false, SessionID: sessionID.String()}))
	lm.logger.Info("Loom disconnected", zap.String("session_id", sessionID.String()))
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lm.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(lm.grpcServer, lm.health)

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.Int("port", lm.config.Server.GRPCPort),
			zap.String("services", "grpc.health.v1.Health"))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		lm.setState(StateStopping)

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var errs []error

	lm.health.Shutdown()

	lm.loomMu.Lock()
	link, loopDone := lm.link, lm.loopDone
	lm.loomMu.Unlock()

	if link != nil {
		if err := link.Close(); err != nil {
			errs = append(errs, fmt.Errorf("loom close failed: %w", err))
		}
		select {
		case <-loopDone:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("loom reply loop did not stop: %w", ctx.Err()))
		}
	}

	if lm.restServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("rest api shutdown failed: %w", err))
		}
	}

	if lm.grpcServer != nil {
		lm.grpcServer.GracefulStop()
	}

	lm.wsHub.Stop()

	return errors.Join(errs...)
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Unexpected system state change", zap.Error(err))
	}
	lm.currentState = state
}

func (lm *LifecycleManager) currentController() *machine.Controller {
	lm.loomMu.RLock()
	defer lm.loomMu.RUnlock()

	if lm.controller == nil || !lm.link.IsConnected() {
		return nil
	}
	return lm.controller
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state := lm.currentState
	lm.stateMu.RUnlock()

	lm.loomMu.RLock()
	connected := lm.link != nil && lm.link.IsConnected()
	sessionID := ""
	if lm.link != nil {
		sessionID = lm.sessionID.String()
	}
	lm.loomMu.RUnlock()

	return interfaces.SystemStatus{
		State:         state.String(),
		SessionID:     sessionID,
		LoomPort:      lm.config.Loom.Port,
		LoomProfile:   lm.profile.Loom.ID,
		LoomConnected: connected,
		Simulated:     lm.config.Loom.IsMock(),
		PickPending:   lm.picks.Pending(),
		Clients:       lm.wsHub.GetClientCount(),
	}
}

func (lm *LifecycleManager) LoomStatus() (machine.LoomStatus, error) {
	lm.loomMu.RLock()
	controller := lm.controller
	lm.loomMu.RUnlock()

	if controller == nil {
		return machine.LoomStatus{}, ErrLoomNotConnected
	}
	return controller.GetStatus(), nil
}

// PickWanted reports whether the loom's latest status asked for a pick.
func (lm *LifecycleManager) PickWanted() bool {
	status, err := lm.LoomStatus()
	return err == nil && status.PickWanted
}

func (lm *LifecycleManager) ShaftMask() uint32 {
	return lm.profile.ShaftMask()
}

// SendShaftWord writes a shaft word to the loom right away.
func (lm *LifecycleManager) SendShaftWord(ctx context.Context, word uint32) error {
	controller := lm.currentController()
	if controller == nil {
		return ErrLoomNotConnected
	}
	if err := controller.SendShaftWord(ctx, word); err != nil {
		return err
	}
	lm.metrics.ShaftWordsSent.Inc()
	return nil
}

// StageShaftWord hands the next shaft word to the pick scheduler.
func (lm *LifecycleManager) StageShaftWord(ctx context.Context, word uint32) (bool, error) {
	if lm.currentController() == nil {
		return false, ErrLoomNotConnected
	}
	return lm.picks.Stage(ctx, word)
}

func (lm *LifecycleManager) SetDirection(ctx context.Context, forward bool) error {
	controller := lm.currentController()
	if controller == nil {
		return ErrLoomNotConnected
	}
	return controller.SendDirection(ctx, forward)
}

func (lm *LifecycleManager) QueryStatus(ctx context.Context) error {
	controller := lm.currentController()
	if controller == nil {
		return ErrLoomNotConnected
	}
	return controller.QueryStatus(ctx)
}

// SendDebugCommand forwards an out of band command to the simulated loom.
func (lm *LifecycleManager) SendDebugCommand(ctx context.Context, command string) error {
	if !lm.config.Loom.IsMock() {
		return ErrNotSimulated
	}

	code := strings.ToLower(strings.TrimSpace(command))
	if len(code) != 1 || !strings.Contains("denc", code) {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}

	lm.loomMu.RLock()
	link := lm.link
	lm.loomMu.RUnlock()

	if link == nil || !link.IsConnected() {
		return ErrLoomNotConnected
	}
	return link.Write(ctx, protocol.EncodeOutOfBand(code[0]))
}

// HandleClientCommand executes commands received over the websocket.
func (lm *LifecycleManager) HandleClientCommand(ctx context.Context, cmd websocket.ClientCommand) error {
	switch cmd.Type {
	case websocket.MessageTypeSetDirection:
		if cmd.Forward == nil {
			return errors.New("set_direction requires forward")
		}
		return lm.SetDirection(ctx, *cmd.Forward)
	case websocket.MessageTypeOOBCommand:
		return lm.SendDebugCommand(ctx, cmd.Command)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
}

func (lm *LifecycleManager) Metrics() *metrics.Metrics {
	return lm.metrics
}
