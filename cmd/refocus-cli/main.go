package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"refocus/internal/event"
	"refocus/internal/eventlog"
	"refocus/internal/ipc"
)

var (
	socketPath  string
	storagePath string
)

var rootCmd = &cobra.Command{
	Use:   "refocus-cli",
	Short: "CLI tool to interact with the Refocus daemon",
	Long:  `A command-line interface to query and control the running Refocus daemon via its Unix socket, plus offline inspection of the event log.`,
}

// --- Client Helper Function ---
func sendCommand(cmd ipc.Command) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		log.Fatalf("Error connecting to daemon socket (%s): %v\nIs the Refocus daemon running?", socketPath, err)
	}
	defer conn.Close()

	// Set deadlines
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second)) // For response

	encoder := json.NewEncoder(conn)
	decoder := json.NewDecoder(conn)

	// Send command
	if err := encoder.Encode(cmd); err != nil {
		log.Fatalf("Error sending command: %v", err)
	}

	// Receive response
	var resp ipc.Response
	if err := decoder.Decode(&resp); err != nil {
		log.Fatalf("Error receiving response: %v", err)
	}

	// Print response
	if resp.Success {
		fmt.Println("Success:", resp.Message)
		if resp.Data != nil {
			// Pretty print JSON data if available
			prettyData, err := json.MarshalIndent(resp.Data, "", "  ")
			if err == nil {
				fmt.Println("Data:")
				fmt.Println(string(prettyData))
			} else {
				fmt.Println("Data (raw):", resp.Data)
			}
		}
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", resp.Message)
		os.Exit(1) // Exit with error code if command failed server-side
	}
}

// --- Command Definitions ---

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check if the Refocus daemon is running",
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.Command{Name: ipc.CmdPing})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the daemon status (session, idle state, pending events)",
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.Command{Name: ipc.CmdGetStatus})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show notification outcome statistics",
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.Command{Name: ipc.CmdGetStats})
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List recent activity events from the daemon",
	Run: func(cmd *cobra.Command, args []string) {
		minutes, _ := cmd.Flags().GetInt("minutes")
		sendCommand(ipc.Command{
			Name: ipc.CmdRecentEvents,
			Args: ipc.RecentEventsArgs{Minutes: minutes},
		})
	},
}

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List recent notification records",
	Run: func(cmd *cobra.Command, args []string) {
		minutes, _ := cmd.Flags().GetInt("minutes")
		sendCommand(ipc.Command{
			Name: ipc.CmdRecentRecords,
			Args: ipc.RecentRecordsArgs{Minutes: minutes},
		})
	},
}

var interactionCmd = &cobra.Command{
	Use:   "interaction",
	Short: "Report a click or dismissal for a notification record",
	Run: func(cmd *cobra.Command, args []string) {
		id, _ := cmd.Flags().GetString("id")
		if id == "" {
			log.Fatal("Error: --id flag is required")
		}

		// Only flags the user actually set are reported, the daemon
		// keeps whichever flag was recorded first
		var clicked, dismissed *bool
		if cmd.Flags().Changed("clicked") {
			v, _ := cmd.Flags().GetBool("clicked")
			clicked = &v
		}
		if cmd.Flags().Changed("dismissed") {
			v, _ := cmd.Flags().GetBool("dismissed")
			dismissed = &v
		}
		if clicked == nil && dismissed == nil {
			log.Fatal("Error: set --clicked or --dismissed")
		}

		sendCommand(ipc.Command{
			Name: ipc.CmdInteraction,
			Args: ipc.InteractionArgs{RecordID: id, Clicked: clicked, Dismissed: dismissed},
		})
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old notification records",
	Run: func(cmd *cobra.Command, args []string) {
		days, _ := cmd.Flags().GetInt("days")
		sendCommand(ipc.Command{
			Name: ipc.CmdCleanup,
			Args: ipc.CleanupArgs{Days: days},
		})
	},
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Force the daemon to write buffered events to disk",
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.Command{Name: ipc.CmdFlush})
	},
}

var providerCmd = &cobra.Command{
	Use:   "provider",
	Short: "Switch the decision provider at runtime",
	Run: func(cmd *cobra.Command, args []string) {
		providerType, _ := cmd.Flags().GetString("type")
		switch providerType {
		case "fallback", "openai":
		default:
			log.Fatalf("Invalid provider type: %s. Use 'fallback' or 'openai'", providerType)
		}
		sendCommand(ipc.Command{
			Name: ipc.CmdSetProvider,
			Args: ipc.SetProviderArgs{Type: providerType},
		})
	},
}

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Signal user activity to the idle detector",
	Run: func(cmd *cobra.Command, args []string) {
		trigger, _ := cmd.Flags().GetString("trigger")
		switch trigger {
		case "", "mouse", "keyboard", "unknown":
		default:
			log.Fatalf("Invalid trigger: %s. Use 'mouse', 'keyboard' or 'unknown' (the default)", trigger)
		}
		sendCommand(ipc.Command{
			Name: ipc.CmdActivity,
			Args: ipc.ActivityArgs{Trigger: trigger},
		})
	},
}

// summaryCmd reads the event log directly, no daemon required.
var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize logged activity (works offline, reads the event log directly)",
	Run: func(cmd *cobra.Command, args []string) {
		hours, _ := cmd.Flags().GetInt("hours")
		if hours < 1 {
			hours = 24
		}

		store := eventlog.NewStore(storagePath, eventlog.DefaultBatchSize)
		end := time.Now()
		start := end.Add(-time.Duration(hours) * time.Hour)

		events, err := store.QueryRange(start.UnixMilli(), end.UnixMilli())
		if err != nil {
			log.Fatalf("Failed to read event log at %s: %v", storagePath, err)
		}
		if len(events) == 0 {
			fmt.Printf("No events logged in the last %dh (storage: %s).\n", hours, storagePath)
			return
		}

		printSummary(events, hours)
	},
}

func printSummary(events []event.Event, hours int) {
	windowChanges := 0
	appCounts := make(map[string]int)
	idleSpans := 0
	var idleTotal time.Duration
	sessionStarts, sessionStops := 0, 0

	for _, e := range events {
		switch e.Category {
		case event.CategoryWindowChange:
			p, err := e.WindowChange()
			if err != nil {
				continue
			}
			windowChanges++
			appCounts[p.ApplicationName]++
		case event.CategoryIdle:
			p, err := e.Idle()
			if err != nil {
				continue
			}
			// Exit events carry the full span length
			if !p.WasIdle {
				idleSpans++
				idleTotal += time.Duration(p.IdleDuration) * time.Second
			}
		case event.CategoryOther:
			var marker event.MarkerPayload
			if err := json.Unmarshal(e.Payload, &marker); err != nil {
				continue
			}
			switch marker.Kind {
			case event.MarkerSessionStart:
				sessionStarts++
			case event.MarkerSessionStop:
				sessionStops++
			}
		}
	}

	fmt.Printf("Activity summary (last %dh)\n", hours)
	fmt.Printf("Events:         %d\n", len(events))
	fmt.Printf("Window changes: %d across %d applications\n", windowChanges, len(appCounts))
	fmt.Printf("Idle spans:     %d (total %s idle)\n", idleSpans, formatDurationHuman(idleTotal))
	fmt.Printf("Sessions:       %d started, %d stopped\n", sessionStarts, sessionStops)

	if len(appCounts) == 0 {
		return
	}

	type appCount struct {
		Name  string
		Count int
	}
	counts := make([]appCount, 0, len(appCounts))
	for name, n := range appCounts {
		counts = append(counts, appCount{name, n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Name < counts[j].Name
	})
	if len(counts) > 10 {
		counts = counts[:10]
	}

	fmt.Println("\nTop applications:")
	for _, c := range counts {
		fmt.Printf("  %-24s %d changes\n", c.Name, c.Count)
	}
}

func formatDurationHuman(d time.Duration) string {
	d = d.Round(time.Minute) // Round to nearest minute for summary
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute

	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

func main() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", ipc.SocketPath, "Path to the daemon Unix socket")
	rootCmd.PersistentFlags().StringVar(&storagePath, "storage", "events", "Path to the event log directory (offline commands)")

	eventsCmd.Flags().IntP("minutes", "m", 30, "How many minutes back to list")
	recordsCmd.Flags().IntP("minutes", "m", 60, "How many minutes back to list")

	interactionCmd.Flags().String("id", "", "Notification record id (required)")
	interactionCmd.Flags().Bool("clicked", false, "Mark the notification as clicked")
	interactionCmd.Flags().Bool("dismissed", false, "Mark the notification as dismissed")
	interactionCmd.MarkFlagRequired("id")

	cleanupCmd.Flags().IntP("days", "d", 0, "Delete records older than this many days (0 uses the daemon's configured retention)")

	providerCmd.Flags().StringP("type", "t", "fallback", "Provider type (fallback, openai)")
	activityCmd.Flags().StringP("trigger", "t", "", "Input trigger (mouse, keyboard, unknown); empty reports unknown")

	summaryCmd.Flags().IntP("hours", "H", 24, "How many hours back to summarize")

	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(recordsCmd)
	rootCmd.AddCommand(interactionCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(flushCmd)
	rootCmd.AddCommand(providerCmd)
	rootCmd.AddCommand(activityCmd)
	rootCmd.AddCommand(summaryCmd)

	// --- Execute ---
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}
