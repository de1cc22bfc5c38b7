// Command racectl is an operator CLI for the race session server. It can
// check server health, list live rooms over HTTP, and join a room over the
// websocket protocol to watch its events.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var serverURL string

func main() {
	rootCmd := &cobra.Command{
		Use:          "racectl",
		Short:        "CLI tool for the race session server",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer(), "Server URL (env: RACECTL_SERVER)")

	rootCmd.AddCommand(newHealthCmd())
	rootCmd.AddCommand(newRoomsCmd())
	rootCmd.AddCommand(newWatchCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultServer() string {
	if s := os.Getenv("RACECTL_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result map[string]string
			if err := getJSON("/health", &result); err != nil {
				return err
			}
			fmt.Println(result["status"])
			return nil
		},
	}
}

func newRoomsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List live rooms",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result struct {
				Rooms []struct {
					ID          string `json:"id"`
					Host        string `json:"host"`
					PlayerCount int    `json:"playerCount"`
					IsRacing    bool   `json:"isRacing"`
				} `json:"rooms"`
			}
			if err := getJSON("/rooms", &result); err != nil {
				return err
			}
			if len(result.Rooms) == 0 {
				fmt.Println("no rooms")
				return nil
			}
			for _, r := range result.Rooms {
				state := "open"
				if r.IsRacing {
					state = "racing"
				}
				fmt.Printf("%s  players=%d  state=%s  host=%s\n", r.ID, r.PlayerCount, state, r.Host)
			}
			return nil
		},
	}
}

func newWatchCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "watch <roomId>",
		Short: "Join a room and print its events until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watch(args[0], name)
		},
	}

	cmd.Flags().StringVar(&name, "name", "racectl", "Player name to join as")

	return cmd
}

func watch(roomID, name string) error {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL(), err)
	}
	defer conn.Close()

	join, _ := json.Marshal(map[string]string{
		"action":     "join_room",
		"roomId":     roomID,
		"playerName": name,
	})
	if err := conn.WriteMessage(websocket.TextMessage, join); err != nil {
		return err
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	events := make(chan []byte)
	errCh := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			events <- data
		}
	}()

	for {
		select {
		case data := <-events:
			fmt.Println(string(data))
		case err := <-errCh:
			return err
		case <-interrupt:
			leave, _ := json.Marshal(map[string]string{"action": "leave_room"})
			_ = conn.WriteMessage(websocket.TextMessage, leave)
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			select {
			case <-errCh:
			case <-time.After(time.Second):
			}
			return nil
		}
	}
}

func wsURL() string {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "ws://localhost:8080/ws"
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	return u.String()
}

func getJSON(path string, v any) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(strings.TrimRight(serverURL, "/") + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
