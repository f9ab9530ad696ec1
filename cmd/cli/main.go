package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/yourusername/offline-downloads-go/api/handlers"
	"github.com/yourusername/offline-downloads-go/internal/app"
	"github.com/yourusername/offline-downloads-go/internal/domain"
)

var (
	serverURL   string
	noAutoStart bool
	rootCmd     = &cobra.Command{
		Use:   "offline-downloads",
		Short: "Offline downloads CLI - manage downloads of streams and audio files",
		Long:  `A command-line interface for the offline downloads server: add, remove, pause and resume downloads and follow their progress.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8090", "Server URL")
	rootCmd.PersistentFlags().BoolVar(&noAutoStart, "no-auto-start", false, "Don't auto-start server if not running")

	rootCmd.AddCommand(addCmd, listCmd, removeCmd, checkCmd, statusCmd)
	rootCmd.AddCommand(batchCmd("resume", "Resume pending downloads"))
	rootCmd.AddCommand(batchCmd("pause", "Pause running downloads"))
	rootCmd.AddCommand(batchCmd("restart", "Restart interrupted downloads"))
	rootCmd.AddCommand(batchCmd("start", "Run the first start of the download queue"))
	rootCmd.AddCommand(loginCmd, logoutCmd, networkCmd, watchCmd)
}

// ensureServer checks if server is running and starts it if needed (unless --no-auto-start)
func ensureServer() *apiClient {
	if !noAutoStart {
		if err := ensureServerRunning(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}
	return newAPIClient(serverURL)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

var addCmd = &cobra.Command{
	Use:   "add [uri]",
	Short: "Add a download",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := ensureServer()

		id, _ := cmd.Flags().GetString("id")
		title, _ := cmd.Flags().GetString("title")
		scheme, _ := cmd.Flags().GetString("drm-scheme")
		drm, _ := cmd.Flags().GetString("drm")
		media, _ := cmd.Flags().GetString("media")

		req := domain.NewDownloadItem{
			OfflineData: domain.NewOfflineData{
				Source: domain.Source{ID: id, Title: title, URI: args[0], DrmScheme: scheme},
			},
		}
		if drm != "" {
			if !json.Valid([]byte(drm)) {
				fail(fmt.Errorf("--drm is not valid JSON"))
			}
			req.OfflineData.Drm = json.RawMessage(drm)
		}
		if media != "" {
			if !json.Valid([]byte(media)) {
				fail(fmt.Errorf("--media is not valid JSON"))
			}
			req.Media = json.RawMessage(media)
		}

		var item domain.DownloadItem
		if err := client.do(http.MethodPost, "/api/v1/downloads", nil, req, &item); err != nil {
			fail(err)
		}

		fmt.Printf("Download added successfully!\n")
		fmt.Printf("ID:    %s\n", item.OfflineData.Source.ID)
		fmt.Printf("State: %s\n", item.OfflineData.State)
		if item.OfflineData.IsBinary {
			fmt.Printf("File:  %s\n", item.OfflineData.FileURI)
		}
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List downloads of the current user",
	Run: func(cmd *cobra.Command, args []string) {
		client := ensureServer()
		all, _ := cmd.Flags().GetBool("all")

		var query map[string][]string
		if all {
			query = map[string][]string{"all": {"true"}}
		}

		var list handlers.ListResponse
		if err := client.do(http.MethodGet, "/api/v1/downloads", query, nil, &list); err != nil {
			fail(err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tURI\tSTATE\tPERCENT\tKIND")
		for _, d := range list.Downloads {
			kind := "stream"
			if d.OfflineData.IsBinary {
				kind = "binary"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.0f%%\t%s\n",
				truncate(d.OfflineData.Source.ID, 8),
				truncate(d.OfflineData.Source.Title, 24),
				truncate(d.URI(), 40),
				d.OfflineData.State,
				d.OfflineData.Percent,
				kind)
		}
		w.Flush()
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove [uri]",
	Short: "Remove a download",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := ensureServer()
		if err := client.do(http.MethodDelete, "/api/v1/downloads", uriQuery(args[0]), nil, nil); err != nil {
			fail(err)
		}
		fmt.Println("Download removed successfully")
	},
}

var checkCmd = &cobra.Command{
	Use:   "check [uri]",
	Short: "Show download details",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := ensureServer()
		native, _ := cmd.Flags().GetBool("native")

		query := uriQuery(args[0])
		var item domain.DownloadItem
		if native {
			query.Set("native", "true")
			if err := client.do(http.MethodGet, "/api/v1/downloads/item", query, nil, &item); err != nil {
				fail(err)
			}
		} else {
			var found struct {
				Index int                 `json:"index"`
				Item  domain.DownloadItem `json:"item"`
			}
			if err := client.do(http.MethodGet, "/api/v1/downloads/item", query, nil, &found); err != nil {
				fail(err)
			}
			item = found.Item
		}

		fmt.Printf("Download Details:\n")
		fmt.Printf("  ID:       %s\n", item.OfflineData.Source.ID)
		fmt.Printf("  Title:    %s\n", item.OfflineData.Source.Title)
		fmt.Printf("  URI:      %s\n", item.URI())
		fmt.Printf("  State:    %s\n", item.OfflineData.State)
		fmt.Printf("  Percent:  %.1f%%\n", item.OfflineData.Percent)
		fmt.Printf("  Sessions: %v\n", item.OfflineData.SessionIDs)
		if item.OfflineData.FileURI != "" {
			fmt.Printf("  File:     %s\n", item.OfflineData.FileURI)
		}
	},
}

func batchCmd(op, short string) *cobra.Command {
	return &cobra.Command{
		Use:   op,
		Short: short,
		Run: func(cmd *cobra.Command, args []string) {
			client := ensureServer()

			var result domain.OperationResultPayload
			if err := client.do(http.MethodPost, "/api/v1/downloads/"+op, nil, nil, &result); err != nil {
				fail(err)
			}
			if result.OK {
				fmt.Printf("%s succeeded\n", op)
				return
			}
			fmt.Printf("%s finished with %d failure(s):\n", op, len(result.Failures))
			for _, f := range result.Failures {
				uri := f.URI
				if uri == "" {
					uri = "(all)"
				}
				fmt.Printf("  %s: %s\n", uri, f.Reason)
			}
			os.Exit(1)
		},
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show downloads status",
	Run: func(cmd *cobra.Command, args []string) {
		client := ensureServer()

		var status app.Status
		if err := client.do(http.MethodGet, "/api/v1/downloads/status", nil, nil, &status); err != nil {
			fail(err)
		}
		printStatus(status)
	},
}

func printStatus(status app.Status) {
	user := status.UserID
	if user == "" {
		user = "(none)"
	}
	fmt.Println("Downloads Status:")
	fmt.Printf("  Initialized:  %v\n", status.Initialized)
	fmt.Printf("  Enabled:      %v\n", status.Enabled)
	fmt.Printf("  Started:      %v\n", status.IsStarted)
	fmt.Printf("  Items:        %d (%d pending)\n", status.Items, status.Pending)
	fmt.Printf("  Size:         %s\n", humanize.Bytes(uint64(status.Size)))
	fmt.Printf("  Can download: %v\n", status.CanDownload)
	fmt.Printf("  User:         %s (logged: %v)\n", user, status.UserLogged)
	fmt.Printf("  Network:      %s\n", describeNetwork(status.Network))
}

func describeNetwork(n domain.NetworkState) string {
	if !n.IsConnected {
		return "offline"
	}
	kind := n.Type
	if kind == "" {
		kind = "unknown"
	}
	if !n.IsInternetReachable {
		return kind + " (unreachable)"
	}
	return kind
}

var loginCmd = &cobra.Command{
	Use:   "login [user-id]",
	Short: "Set the current user",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := ensureServer()

		var status app.Status
		req := handlers.SessionRequest{UserID: args[0], Logged: true}
		if err := client.do(http.MethodPut, "/api/v1/session", nil, req, &status); err != nil {
			fail(err)
		}
		fmt.Printf("Logged in as %s\n", status.UserID)
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the current user",
	Run: func(cmd *cobra.Command, args []string) {
		client := ensureServer()
		if err := client.do(http.MethodPut, "/api/v1/session", nil, handlers.SessionRequest{}, nil); err != nil {
			fail(err)
		}
		fmt.Println("Logged out")
	},
}

var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "Show or set the network state",
	Long:  `Without flags the current network state is shown. With --type the state is pushed to the server.`,
	Run: func(cmd *cobra.Command, args []string) {
		client := ensureServer()

		var state domain.NetworkState
		if !cmd.Flags().Changed("type") {
			if err := client.do(http.MethodGet, "/api/v1/network", nil, nil, &state); err != nil {
				fail(err)
			}
			fmt.Printf("Network: %s\n", describeNetwork(state))
			return
		}

		kind, _ := cmd.Flags().GetString("type")
		reachable, _ := cmd.Flags().GetBool("reachable")
		push := domain.NetworkState{
			IsConnected:         kind != domain.NetworkTypeNone,
			IsInternetReachable: reachable && kind != domain.NetworkTypeNone,
			IsWifiEnabled:       kind == domain.NetworkTypeWifi,
			Type:                kind,
		}
		if err := client.do(http.MethodPut, "/api/v1/network", nil, push, &state); err != nil {
			fail(err)
		}
		fmt.Printf("Network set: %s\n", describeNetwork(state))
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream download events",
	Run: func(cmd *cobra.Command, args []string) {
		client := ensureServer()
		topics, _ := cmd.Flags().GetStringSlice("topic")

		conn, _, err := websocket.DefaultDialer.Dial(client.eventsURL(topics), nil)
		if err != nil {
			fail(err)
		}
		defer conn.Close()

		for {
			var msg struct {
				Topic     string          `json:"type"`
				Payload   json.RawMessage `json:"payload"`
				Timestamp string          `json:"timestamp"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				fail(err)
			}
			fmt.Printf("%s  %-16s %s\n", msg.Timestamp, msg.Topic, string(msg.Payload))
		}
	},
}

func init() {
	addCmd.Flags().String("id", "", "Content id (generated when empty)")
	addCmd.Flags().StringP("title", "t", "", "Content title")
	addCmd.Flags().String("drm-scheme", "", "DRM scheme (mp3 for plain audio files)")
	addCmd.Flags().String("drm", "", "DRM descriptor as JSON")
	addCmd.Flags().String("media", "", "Media metadata as JSON")
	listCmd.Flags().BoolP("all", "a", false, "List downloads of every user")
	checkCmd.Flags().Bool("native", false, "Ask the download engine instead of the registry")
	networkCmd.Flags().String("type", "", "Network type (wifi, cellular, ethernet, none)")
	networkCmd.Flags().Bool("reachable", true, "Whether the internet is reachable")
	watchCmd.Flags().StringSlice("topic", nil, "Only print these topics")
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
