package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"refocus/internal/collector"
	"refocus/internal/collector/x11"
	"refocus/internal/config"
	"refocus/internal/decision"
	"refocus/internal/event"
	"refocus/internal/eventlog"
	"refocus/internal/idle"
	"refocus/internal/ipc"
	"refocus/internal/notify"

	sqlitestore "refocus/internal/notify/sqlite"
)

const categoryIdleWarning = "idle_warning"

type App struct {
	cfg      *config.Config
	store    *eventlog.Store
	records  notify.RecordStore
	gate     *notify.Gate
	notifier notify.Notifier
	col      collector.Collector
	detector *idle.Detector
	wake     *idle.WakeWatcher

	// selector is swapped at runtime, provider is the failsafe wrapper
	// the decision loop actually calls.
	selector *decision.Selector
	provider decision.Provider

	sessionID string
	startedAt time.Time

	// --- Socket Handling ---
	socketPath string
	listener   *net.UnixListener

	// Communication channels
	eventChan      chan event.Event
	transitionChan chan idle.Transition

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewApp(cfg *config.Config) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		cfg:            cfg,
		notifier:       notify.LogNotifier{},
		sessionID:      uuid.NewString(),
		startedAt:      time.Now(),
		socketPath:     cfg.SocketPath,
		eventChan:      make(chan event.Event, 100),
		transitionChan: make(chan idle.Transition, 16),
		ctx:            ctx,
		cancel:         cancel,
	}

	// Initialize event log
	a.store = eventlog.NewStore(cfg.StoragePath, cfg.BatchSize)
	if err := a.store.Init(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize event log: %w", err)
	}

	// Initialize notification record store
	a.records = sqlitestore.NewRecordStore(cfg.NotificationsDBPath)
	if err := a.records.Init(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize notification store: %w", err)
	}
	a.gate = notify.NewGate(a.records)

	// Initialize decision provider behind a runtime selector. The
	// failsafe guarantees a verdict even when the model misbehaves.
	a.selector = decision.NewSelector(providerFromConfig(cfg))
	a.provider = decision.NewFailsafe(a.selector, decision.NewFallback())

	// Initialize idle detection
	a.wake = idle.NewWakeWatcher(cfg.IdlePollInterval())
	a.detector = idle.NewDetector(cfg.IdleThreshold(), cfg.IdlePollInterval(),
		a.sessionID, a.eventChan, a.transitionChan, a.wake.Resumes())

	// Initialize collector
	switch cfg.CollectorMode {
	case "x11":
		col, err := x11.NewX11Collector(a.sessionID)
		if err != nil {
			log.Printf("Warning: Failed to initialize X11 collector: %v. Focus tracking disabled.", err)
			a.col = nil
		} else {
			a.col = col
		}
	default:
		a.col = collector.NewNoop()
	}

	return a, nil
}

func providerFromConfig(cfg *config.Config) decision.Provider {
	if cfg.Provider.Type == "openai" {
		return decision.NewModelProvider(cfg.Provider.Endpoint, cfg.Provider.Model,
			cfg.Provider.APIKey, cfg.Provider.Timeout())
	}
	return decision.NewFallback()
}

// setupSocket checks for existing socket and creates the listener
func (a *App) setupSocket() error {
	// Check if socket file exists and try connecting
	if _, err := os.Stat(a.socketPath); err == nil {
		// Socket file exists, try to connect
		conn, err := net.DialTimeout("unix", a.socketPath, 1*time.Second)
		if err == nil {
			// Connection successful - another instance is likely running
			conn.Close()
			return fmt.Errorf("socket %s already active, another instance might be running", a.socketPath)
		}
		// Connection failed - socket file is stale, remove it
		log.Printf("Stale socket file found at %s, removing.", a.socketPath)
		if err := os.Remove(a.socketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket file %s: %w", a.socketPath, err)
		}
	} else if !os.IsNotExist(err) {
		// Other error stating the file (permission denied?)
		return fmt.Errorf("error checking socket file %s: %w", a.socketPath, err)
	}

	// Resolve the address
	addr, err := net.ResolveUnixAddr("unix", a.socketPath)
	if err != nil {
		return fmt.Errorf("failed to resolve unix addr %s: %w", a.socketPath, err)
	}

	// Listen on the socket
	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on socket %s: %w", a.socketPath, err)
	}

	a.listener = listener
	log.Printf("Listening for commands on %s", a.socketPath)
	return nil
}

// listenForCommands accepts connections and handles them
func (a *App) listenForCommands() {
	defer a.wg.Done()
	defer log.Println("Socket command listener stopped.")

	if a.listener == nil {
		log.Println("Error: Socket listener not initialized.")
		return
	}

	for {
		conn, err := a.listener.AcceptUnix()
		if err != nil {
			// Check if the error is due to the listener being closed
			select {
			case <-a.ctx.Done():
				log.Println("Listener closing due to context cancellation.")
				return // Expected error on shutdown
			default:
				log.Printf("Failed to accept connection: %v", err)
				// Avoid tight loop on persistent error
				if ne, ok := err.(net.Error); ok && !ne.Temporary() {
					log.Printf("Non-temporary accept error, stopping listener.")
					return
				}
				time.Sleep(100 * time.Millisecond) // Small delay before retrying
			}
			continue
		}
		// Handle each connection in a new goroutine
		a.wg.Add(1)
		go a.handleConnection(conn)
	}
}

// handleConnection reads command, processes it, and sends response
func (a *App) handleConnection(conn *net.UnixConn) {
	defer conn.Close()
	defer a.wg.Done()

	// Set a deadline for reading the command
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var cmd ipc.Command
	if err := decoder.Decode(&cmd); err != nil {
		if err != io.EOF {
			log.Printf("Failed to decode command: %v", err)
		}
		// Send error response even if decoding failed partially
		_ = encoder.Encode(ipc.Response{Success: false, Message: "Failed to decode command: " + err.Error()})
		return
	}

	// Reset read deadline
	conn.SetReadDeadline(time.Time{})
	// Set write deadline for response
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	log.Printf("Received command: %s", cmd.Name)

	// Process command
	response := a.processCommand(cmd)

	// Send response
	if err := encoder.Encode(response); err != nil {
		log.Printf("Failed to send response: %v", err)
	}
}

// processCommand routes the command to the correct handler
func (a *App) processCommand(cmd ipc.Command) ipc.Response {
	ctx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
	defer cancel()

	switch cmd.Name {
	case ipc.CmdPing:
		return ipc.Response{Success: true, Message: "pong"}

	case ipc.CmdGetStatus:
		return ipc.Response{Success: true, Data: a.statusData()}

	case ipc.CmdGetStats:
		stats, err := a.gate.Stats(ctx)
		if err != nil {
			return ipc.Response{Success: false, Message: fmt.Sprintf("Failed to compute stats: %v", err)}
		}
		return ipc.Response{Success: true, Data: stats}

	case ipc.CmdRecentEvents:
		var args ipc.RecentEventsArgs
		if err := mapToStruct(cmd.Args, &args); err != nil {
			return ipc.Response{Success: false, Message: fmt.Sprintf("Invalid args for %s: %v", cmd.Name, err)}
		}
		if args.Minutes < 1 {
			args.Minutes = a.cfg.ContextWindowMinutes
		}
		// Flush first so buffered events show up in the query
		if err := a.store.Flush(); err != nil {
			log.Printf("Warning: flush before query failed: %v", err)
		}
		events, err := a.store.QueryRecent(args.Minutes)
		if err != nil {
			return ipc.Response{Success: false, Message: fmt.Sprintf("Failed to query events: %v", err)}
		}
		return ipc.Response{Success: true, Data: ipc.EventsData{Events: events}}

	case ipc.CmdRecentRecords:
		var args ipc.RecentRecordsArgs
		if err := mapToStruct(cmd.Args, &args); err != nil {
			return ipc.Response{Success: false, Message: fmt.Sprintf("Invalid args for %s: %v", cmd.Name, err)}
		}
		if args.Minutes < 1 {
			args.Minutes = 60
		}
		records, err := a.gate.RecentRecords(ctx, args.Minutes)
		if err != nil {
			return ipc.Response{Success: false, Message: fmt.Sprintf("Failed to query records: %v", err)}
		}
		return ipc.Response{Success: true, Data: ipc.RecordsData{Records: records}}

	case ipc.CmdInteraction:
		var args ipc.InteractionArgs
		if err := mapToStruct(cmd.Args, &args); err != nil {
			return ipc.Response{Success: false, Message: fmt.Sprintf("Invalid args for %s: %v", cmd.Name, err)}
		}
		if args.RecordID == "" {
			return ipc.Response{Success: false, Message: "record_id cannot be empty"}
		}
		if args.Clicked == nil && args.Dismissed == nil {
			return ipc.Response{Success: false, Message: "Nothing to record, set clicked or dismissed"}
		}
		if err := a.gate.RecordInteraction(ctx, args.RecordID, args.Clicked, args.Dismissed); err != nil {
			return ipc.Response{Success: false, Message: fmt.Sprintf("Failed to record interaction: %v", err)}
		}
		return ipc.Response{Success: true, Message: "Interaction recorded"}

	case ipc.CmdCleanup:
		var args ipc.CleanupArgs
		if err := mapToStruct(cmd.Args, &args); err != nil {
			return ipc.Response{Success: false, Message: fmt.Sprintf("Invalid args for %s: %v", cmd.Name, err)}
		}
		days := args.Days
		if days < 1 {
			days = a.cfg.NotificationRetentionDays
		}
		deleted, err := a.gate.Cleanup(ctx, days)
		if err != nil {
			return ipc.Response{Success: false, Message: fmt.Sprintf("Cleanup failed: %v", err)}
		}
		return ipc.Response{
			Success: true,
			Message: fmt.Sprintf("Removed %d records older than %d days", deleted, days),
			Data:    ipc.CleanupData{Deleted: deleted},
		}

	case ipc.CmdFlush:
		if err := a.store.Flush(); err != nil {
			return ipc.Response{Success: false, Message: fmt.Sprintf("Flush failed: %v", err)}
		}
		return ipc.Response{Success: true, Message: "Buffered events flushed"}

	case ipc.CmdSetProvider:
		var args ipc.SetProviderArgs
		if err := mapToStruct(cmd.Args, &args); err != nil {
			return ipc.Response{Success: false, Message: fmt.Sprintf("Invalid args for %s: %v", cmd.Name, err)}
		}
		switch args.Type {
		case "fallback":
			a.selector.SetProvider(decision.NewFallback())
		case "openai":
			a.selector.SetProvider(decision.NewModelProvider(a.cfg.Provider.Endpoint,
				a.cfg.Provider.Model, a.cfg.Provider.APIKey, a.cfg.Provider.Timeout()))
		default:
			return ipc.Response{Success: false, Message: fmt.Sprintf("Unknown provider type: %s", args.Type)}
		}
		log.Printf("Decision provider switched to %s", args.Type)
		return ipc.Response{Success: true, Message: fmt.Sprintf("Provider switched to %s", args.Type)}

	case ipc.CmdActivity:
		var args ipc.ActivityArgs
		if err := mapToStruct(cmd.Args, &args); err != nil {
			return ipc.Response{Success: false, Message: fmt.Sprintf("Invalid args for %s: %v", cmd.Name, err)}
		}
		trigger := event.Trigger(args.Trigger)
		switch trigger {
		case "", event.TriggerMouse, event.TriggerKeyboard, event.TriggerUnknown:
		default:
			return ipc.Response{Success: false, Message: fmt.Sprintf("Unknown trigger: %s", args.Trigger)}
		}
		a.detector.NotifyActivity(trigger)
		return ipc.Response{Success: true, Message: "Activity recorded"}

	default:
		return ipc.Response{Success: false, Message: fmt.Sprintf("Unknown command: %s", cmd.Name)}
	}
}

func (a *App) statusData() ipc.StatusData {
	state := "active"
	if a.detector.IsIdle() {
		state = "idle"
	}
	return ipc.StatusData{
		SessionID:        a.sessionID,
		IdleState:        state,
		LastActivityUnix: a.detector.LastActivity().Unix(),
		PendingEvents:    a.store.Pending(),
		Provider:         a.selector.Name(),
		CollectorMode:    a.cfg.CollectorMode,
		UptimeSecs:       int64(time.Since(a.startedAt).Seconds()),
	}
}

// Helper function to convert map[string]interface{} (from json unmarshal) to struct
func mapToStruct(input interface{}, output interface{}) error {
	if input == nil {
		return nil // No args provided, might be okay for some commands
	}
	// Convert map to JSON bytes
	jsonBytes, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("failed to marshal args map: %w", err)
	}
	// Unmarshal JSON bytes into the target struct
	if err := json.Unmarshal(jsonBytes, output); err != nil {
		return fmt.Errorf("failed to unmarshal args into struct: %w", err)
	}
	return nil
}

func (a *App) Run() error {
	defer a.cleanup() // Ensure cleanup runs

	log.Println("Starting Refocus daemon...")
	log.Printf("Session ID: %s", a.sessionID)
	if a.col == nil {
		log.Println("Window focus monitoring: DISABLED")
	} else {
		log.Println("Window focus monitoring: ENABLED")
	}

	// --- Setup Socket ---
	if err := a.setupSocket(); err != nil {
		return fmt.Errorf("failed to set up socket: %w", err)
	}
	// Listener is closed below, socket file removed in cleanup

	// Start signal handling
	a.handleSignals()

	// Start event processor
	a.wg.Add(1)
	go a.processEvents()

	// Start idle detection
	a.wake.Start()
	if err := a.detector.Start(); err != nil {
		return fmt.Errorf("failed to start idle detector: %w", err)
	}

	// Start collector if initialized
	if a.col != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			log.Println("Launching collector goroutine")
			err := a.col.Start(a.ctx, a.cfg.CollectionInterval(), a.eventChan, a.detector.NotifyActivity)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Collector error: %v", err)
			}
			log.Println("Collector goroutine finished.")
		}()
	}

	// Start decision loop
	a.wg.Add(1)
	go a.decisionLoop()

	// --- Start Socket Listener ---
	a.wg.Add(1)
	go a.listenForCommands()

	// Record session start
	a.store.Append(event.NewMarker(a.sessionID, time.Now(), event.MarkerSessionStart))

	log.Println("Refocus daemon running. Send commands via refocus-cli or socket.")
	<-a.ctx.Done() // Block here until context is cancelled

	log.Println("Shutdown signal received, waiting for components...")

	// Close the listener *before* waiting for goroutines to allow accept() to return
	if a.listener != nil {
		log.Println("Closing command socket listener...")
		if err := a.listener.Close(); err != nil {
			log.Printf("Error closing socket listener: %v", err)
		}
	}

	waitChan := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(waitChan)
	}()

	select {
	case <-waitChan:
		log.Println("All application goroutines finished.")
	case <-time.After(5 * time.Second):
		log.Println("Warning: Timeout waiting for application goroutines to stop.")
	}

	log.Println("Refocus daemon finished.")
	return nil
}

// decisionLoop reacts to idle state transitions
func (a *App) decisionLoop() {
	defer a.wg.Done()
	defer log.Println("Decision loop stopped.")

	for {
		select {
		case <-a.ctx.Done():
			return
		case tr := <-a.transitionChan:
			a.handleTransition(tr)
		}
	}
}

// handleTransition runs the verdict pipeline for one transition. The
// cooldown admission check comes first so a blocked category never
// costs a provider round trip.
func (a *App) handleTransition(tr idle.Transition) {
	if tr.To == idle.StateIdle {
		log.Printf("User went idle after %s of inactivity.", formatDuration(tr.IdleDuration))
	} else {
		log.Printf("User active again after %s idle (trigger: %s).", formatDuration(tr.IdleDuration), tr.Trigger)
	}

	ctx, cancel := context.WithTimeout(a.ctx, 15*time.Second)
	defer cancel()

	cooldown := a.cfg.CooldownFor(categoryIdleWarning)
	if !a.gate.ShouldSend(ctx, categoryIdleWarning, cooldown) {
		log.Printf("Cooldown active for %s, skipping verdict check.", categoryIdleWarning)
		return
	}

	// Flush first so the context query sees everything up to now
	if err := a.store.Flush(); err != nil {
		log.Printf("Warning: flush before decision failed: %v", err)
	}
	recent, err := a.store.QueryRecent(a.cfg.ContextWindowMinutes)
	if err != nil {
		log.Printf("Warning: recent event lookup failed: %v", err)
	}

	in := decision.BuildInput(tr.IdleDuration, recent, a.startedAt, tr.At)
	verdict, err := a.provider.Generate(ctx, in)
	if err != nil {
		log.Printf("Warning: no verdict for idle transition: %v", err)
		return
	}
	log.Printf("Verdict from %s: notify=%t, confidence=%.2f (%s)",
		a.selector.Name(), verdict.ShouldNotify, verdict.Confidence, verdict.Reasoning)

	if !verdict.ShouldNotify {
		return
	}

	metadata := map[string]interface{}{
		"idle_seconds": in.IdleSeconds,
		"confidence":   verdict.Confidence,
		"provider":     a.selector.Name(),
		"trigger":      string(tr.Trigger),
	}
	recordID, err := a.gate.RecordAttempt(ctx, categoryIdleWarning, verdict.Message, metadata)
	if err != nil {
		log.Printf("Warning: failed to record notification: %v", err)
		return
	}
	if err := a.notifier.Send(notify.Outgoing{RecordID: recordID, Category: categoryIdleWarning, Message: verdict.Message}); err != nil {
		log.Printf("Warning: failed to deliver notification: %v", err)
	}
}

// processEvents drains the event channel into the log
func (a *App) processEvents() {
	defer a.wg.Done()
	defer log.Println("Event processor stopped.")

	for {
		select {
		case <-a.ctx.Done():
			log.Println("Event processor shutting down.")
			return
		case e := <-a.eventChan:
			a.store.Append(e)
		}
	}
}

// handleSignals remains the same
func (a *App) handleSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v. Initiating shutdown...", sig)
		a.cancel() // Trigger context cancellation for graceful shutdown
	}()
}

// cleanup needs to ensure socket removal
func (a *App) cleanup() {
	log.Println("Running cleanup...")

	// Record session stop before the final flush
	a.store.Append(event.NewMarker(a.sessionID, time.Now(), event.MarkerSessionStop))

	// Stop components
	if a.col != nil {
		if err := a.col.Stop(); err != nil {
			log.Printf("Error stopping collector: %v", err)
		}
	}
	a.detector.Stop()
	a.wake.Stop()

	// Flush and close stores
	if err := a.store.Shutdown(); err != nil {
		log.Printf("Error flushing event log: %v", err)
	}
	if a.records != nil {
		if err := a.records.Close(); err != nil {
			log.Printf("Error closing notification store: %v", err)
		}
	}

	// --- Remove Socket File ---
	// Note: Listener is closed in Run() before wg.Wait()
	if _, err := os.Stat(a.socketPath); err == nil {
		log.Printf("Removing socket file: %s", a.socketPath)
		if err := os.Remove(a.socketPath); err != nil {
			log.Printf("Warning: Failed to remove socket file %s: %v", a.socketPath, err)
		}
	}

	log.Println("Cleanup finished.")
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
