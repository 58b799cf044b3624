package x11

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/BurntSushi/xgb/screensaver"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/icccm"

	"refocus/internal/event"
)

type X11Collector struct {
	X            *xgbutil.XUtil
	sessionID    string
	lastFocus    event.FocusInfo
	lastPointerX int16
	lastPointerY int16
	idleSupport  bool
	stopChan     chan struct{}
	focusRequest chan chan event.FocusInfo // Channel to request current focus
}

func NewX11Collector(sessionID string) (*X11Collector, error) {
	X, err := xgbutil.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	// Check if EWMH is supported (needed for _NET_ACTIVE_WINDOW, _NET_WM_NAME)
	if _, err := ewmh.CurrentDesktopGet(X); err != nil {
		log.Printf("Warning: EWMH potentially not supported by Window Manager: %v", err)
	}

	// Input activity sampling rides on MIT-SCREEN-SAVER. Without it we
	// still report focus changes, the idle detector just never sees
	// activity from this collector.
	idleSupport := true
	if err := screensaver.Init(X.Conn()); err != nil {
		log.Printf("Warning: MIT-SCREEN-SAVER extension unavailable, activity sampling disabled: %v", err)
		idleSupport = false
	}

	return &X11Collector{
		X:            X,
		sessionID:    sessionID,
		idleSupport:  idleSupport,
		stopChan:     make(chan struct{}),
		focusRequest: make(chan chan event.FocusInfo),
	}, nil
}

func (c *X11Collector) getActiveWindowInfo() (event.FocusInfo, error) {
	activeWinID, err := ewmh.ActiveWindowGet(c.X)
	if err != nil {
		// Don't log every time, could be window manager switching desktops etc.
		return event.FocusInfo{}, fmt.Errorf("could not get active window ID: %w", err)
	}

	if activeWinID == 0 {
		return event.FocusInfo{AppName: "None", Title: "No Active Window"}, nil // No window focused
	}

	// Get window title (_NET_WM_NAME preferred, fallback to WM_NAME)
	title, err := ewmh.WmNameGet(c.X, activeWinID)
	if err != nil || title == "" {
		title, err = icccm.WmNameGet(c.X, activeWinID)
		if err != nil || title == "" {
			title = "Unknown Title"
		}
	}

	// Get application name (WM_CLASS)
	appName := "Unknown App"
	classHints, err := icccm.WmClassGet(c.X, activeWinID)
	if err == nil && classHints != nil {
		// Often, the Class is the application name
		appName = classHints.Class
	}

	return event.FocusInfo{AppName: appName, Title: title}, nil
}

// sampleActivity reports input seen during the last tick. The idle
// counter resets on any input; a pointer move since the previous
// sample classifies it as mouse, anything else as keyboard.
func (c *X11Collector) sampleActivity(interval time.Duration, activity func(event.Trigger)) {
	if !c.idleSupport || activity == nil {
		return
	}

	info, err := screensaver.QueryInfo(c.X.Conn(), xproto.Drawable(c.X.RootWin())).Reply()
	if err != nil {
		return
	}
	if int64(info.MsSinceUserInput) >= interval.Milliseconds() {
		return
	}

	trigger := event.TriggerKeyboard
	if ptr, err := xproto.QueryPointer(c.X.Conn(), c.X.RootWin()).Reply(); err == nil {
		if ptr.RootX != c.lastPointerX || ptr.RootY != c.lastPointerY {
			trigger = event.TriggerMouse
		}
		c.lastPointerX, c.lastPointerY = ptr.RootX, ptr.RootY
	}
	activity(trigger)
}

func (c *X11Collector) Start(ctx context.Context, interval time.Duration, output chan<- event.Event, activity func(event.Trigger)) error {
	log.Printf("Starting X11 collector (interval: %s)", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Get initial focus to establish baseline
	// Sometimes immediately after start, WM might not report correctly, try a few times
	var initialFocus event.FocusInfo
	var err error
	for i := 0; i < 3; i++ {
		initialFocus, err = c.getActiveWindowInfo()
		if err == nil {
			c.lastFocus = initialFocus
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err != nil {
		log.Printf("Warning: Failed to get initial window focus: %v", err)
		// Continue anyway, maybe it recovers
	}

	// Baseline pointer position so the first activity sample does not
	// misread a resting pointer as a move.
	if ptr, perr := xproto.QueryPointer(c.X.Conn(), c.X.RootWin()).Reply(); perr == nil {
		c.lastPointerX, c.lastPointerY = ptr.RootX, ptr.RootY
	}

	for {
		select {
		case <-ctx.Done():
			log.Println("X11 collector stopping due to context cancellation.")
			return ctx.Err()
		case <-c.stopChan:
			log.Println("X11 collector stopping.")
			return nil
		case respChan := <-c.focusRequest:
			// Handle synchronous request for current focus
			currentFocus, err := c.getActiveWindowInfo()
			if err != nil {
				log.Printf("Error getting current focus on request: %v", err)
			}
			respChan <- currentFocus // Send back result (even if empty/error)
		case <-ticker.C:
			c.sampleActivity(interval, activity)

			currentFocus, err := c.getActiveWindowInfo()
			if err != nil {
				// Don't spam logs if window is temporarily unavailable
				continue
			}

			// Normalize empty strings for comparison
			if c.lastFocus.AppName == "" {
				c.lastFocus.AppName = "Unknown App"
			}
			if c.lastFocus.Title == "" {
				c.lastFocus.Title = "Unknown Title"
			}

			if currentFocus.AppName != c.lastFocus.AppName || currentFocus.Title != c.lastFocus.Title {
				log.Printf("Focus changed: App='%s', Title='%s'", currentFocus.AppName, currentFocus.Title)
				changeEvent := event.NewWindowChange(c.sessionID, time.Now(), currentFocus.AppName, currentFocus.Title)
				select {
				case output <- changeEvent:
					c.lastFocus = currentFocus
				case <-ctx.Done():
					return ctx.Err()
				case <-c.stopChan:
					return nil
				}
			}
		}
	}
}

func (c *X11Collector) GetCurrentFocus() (event.FocusInfo, error) {
	respChan := make(chan event.FocusInfo)
	select {
	case c.focusRequest <- respChan:
		select {
		case focus := <-respChan:
			return focus, nil
		case <-time.After(1 * time.Second): // Timeout
			return event.FocusInfo{}, fmt.Errorf("timeout waiting for current focus response")
		}
	case <-time.After(100 * time.Millisecond): // Timeout if collector loop is blocked
		return event.FocusInfo{}, fmt.Errorf("timeout sending focus request to collector")
	}
}

func (c *X11Collector) Stop() error {
	log.Println("Sending stop signal to X11 collector.")
	close(c.stopChan)
	// xgbutil owns the X connection, rely on process exit to close it.
	return nil
}
