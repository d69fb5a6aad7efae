package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/circuit-labs/circuit/internal/client"
	"github.com/circuit-labs/circuit/internal/config"
	"github.com/circuit-labs/circuit/internal/protocol"
)

var (
	configPath = flag.String("config", "", "Path to a client config file (overrides -server-url and -auth-token)")
	serverURL  = flag.String("server-url", "ws://localhost:8421/ws", "Circuit server WebSocket URL")
	authToken  = flag.String("auth-token", "", "Authentication token (or set CIRCUITCTL_AUTH_TOKEN env var)")
	format     = flag.String("format", "table", "Output format: table or json")
	timeout    = flag.Duration("timeout", 10*time.Second, "How long to wait for a server reply")
)

var clientCfg *config.ClientConfig

func main() {
	flag.Parse()

	if *configPath != "" {
		cfg, err := config.LoadClientConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		clientCfg = cfg
		*serverURL = cfg.URL
		if cfg.AuthToken != "" {
			*authToken = cfg.AuthToken
		}
	}

	if *authToken == "" {
		*authToken = os.Getenv("CIRCUITCTL_AUTH_TOKEN")
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "login":
		handleLogin(args[1:])
	case "settings":
		handleSettings(args[1:])
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", args[0])
		os.Exit(1)
	}
}

// connect builds a manager wired to print server error frames, starts
// the connection, and returns it alongside a channel carrying the
// first error frame text.
func connect() (*client.Manager, <-chan string) {
	// one-shot commands do not reconnect unless a config file asks for it
	opts := []client.Option{client.WithAutoReconnect(false)}
	if clientCfg != nil {
		opts = []client.Option{
			client.WithAutoReconnect(*clientCfg.AutoReconnect),
			client.WithHeartbeatInterval(time.Duration(clientCfg.HeartbeatMs) * time.Millisecond),
			client.WithBackoff(&client.Backoff{
				Min:    250 * time.Millisecond,
				Max:    time.Duration(clientCfg.MaxBackoffMs) * time.Millisecond,
				Factor: 2.0,
			}),
		}
	}
	m := client.NewManager(*serverURL, *authToken, nil, opts...)

	errCh := make(chan string, 4)
	client.Handle(m, func(e protocol.JSONParseError) { errCh <- e.Error })
	client.Handle(m, func(e protocol.MessageParseError) { errCh <- e.Error })
	client.Handle(m, func(e protocol.MissingHandlerError) { errCh <- e.Error })
	client.Handle(m, func(e protocol.HandlerError) { errCh <- e.Error })

	m.Connect()
	return m, errCh
}

// await blocks until a reply, a server error frame, or the timeout.
func await[M protocol.Outbound](reply <-chan M, errCh <-chan string) M {
	select {
	case msg := <-reply:
		return msg
	case errText := <-errCh:
		fmt.Fprintf(os.Stderr, "Error: server rejected request: %s\n", errText)
		os.Exit(1)
	case <-time.After(*timeout):
		fmt.Fprintf(os.Stderr, "Error: timed out waiting for server reply\n")
		os.Exit(1)
	}
	panic("unreachable")
}

func parseFid(arg string) int64 {
	fid, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || fid <= 0 {
		fmt.Fprintf(os.Stderr, "Error: invalid fid %q\n", arg)
		os.Exit(1)
	}
	return fid
}

func handleLogin(args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Error: login requires fid\n")
		os.Exit(1)
	}
	fid := parseFid(args[0])

	m, errCh := connect()
	defer m.Close()

	reply := client.Once(m, func(ack protocol.UserLoginAck) bool { return ack.Fid == fid })
	if err := m.Send(protocol.NewUserLogin(fid)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ack := await(reply, errCh)
	if *format == "json" {
		printJSON(ack)
	} else {
		fmt.Printf("logged in as fid %d\n", ack.Fid)
	}
}

func handleSettings(args []string) {
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "Error: settings command requires subcommand (get, set)\n")
		os.Exit(1)
	}

	switch args[0] {
	case "get":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "Error: settings get requires fid\n")
			os.Exit(1)
		}
		fid := parseFid(args[1])

		m, errCh := connect()
		defer m.Close()

		reply := client.Once(m, func(ack protocol.UserGetSettingsAck) bool { return ack.Fid == fid })
		if err := m.Send(protocol.NewUserGetSettings(fid)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ack := await(reply, errCh)
		if *format == "json" {
			printJSON(ack.Settings)
		} else {
			printSettingsTable(ack.Fid, ack.Settings)
		}

	case "set":
		if len(args) < 3 {
			fmt.Fprintf(os.Stderr, "Error: settings set requires fid and a JSON patch\n")
			os.Exit(1)
		}
		fid := parseFid(args[1])

		var patch protocol.SettingsPatch
		if err := json.Unmarshal([]byte(args[2]), &patch); err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid settings patch: %v\n", err)
			os.Exit(1)
		}

		m, errCh := connect()
		defer m.Close()

		reply := client.Once(m, func(ack protocol.UserSetSettingsAck) bool { return ack.Fid == fid })
		if err := m.Send(protocol.NewUserSetSettings(fid, patch)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ack := await(reply, errCh)
		if !ack.Success {
			fmt.Fprintf(os.Stderr, "Error: server could not persist settings for fid %d\n", ack.Fid)
			os.Exit(1)
		}
		if *format == "json" {
			printJSON(ack)
		} else {
			fmt.Printf("settings updated for fid %d\n", ack.Fid)
		}

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown settings subcommand %q\n", args[0])
		os.Exit(1)
	}
}

func printJSON(data interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}

func printSettingsTable(fid int64, s protocol.UserSettings) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FIELD\tVALUE")
	fmt.Fprintf(w, "FID\t%d\n", fid)
	printInteraction(w, "LIKE", s.InteractionSettings.LikeSetting)
	printInteraction(w, "RECAST", s.InteractionSettings.RecastSetting)
	printInteraction(w, "COMMENT", s.InteractionSettings.CommentSetting)
	printInteraction(w, "QUOTE", s.InteractionSettings.QuoteSetting)
	printInteraction(w, "FOLLOW", s.InteractionSettings.FollowSetting)
	fmt.Fprintf(w, "TIPS_ON\t%t\n", s.TipSettings.TipsOn)
	fmt.Fprintf(w, "TIP_TOKEN\t%s\n", s.TipSettings.TipToken)
	fmt.Fprintf(w, "MIN_SCORE\t%.2f\n", s.TipSettings.MinScore)
	fmt.Fprintf(w, "FOLLOWERS_ONLY\t%t\n", s.TipSettings.FollowersOnly)
	fmt.Fprintf(w, "FOLLOWING_ONLY\t%t\n", s.TipSettings.FollowingOnly)
	fmt.Fprintf(w, "POST_PAYOUT_LIMIT\t%d\n", s.TipSettings.PostPayoutLimit)
	fmt.Fprintf(w, "ONE_PAYOUT_PER_POST\t%t\n", s.TipSettings.OnePayoutPerPost)
	w.Flush()
}

func printInteraction(w *tabwriter.Writer, name string, s protocol.InteractionSetting) {
	fmt.Fprintf(w, "%s_ON\t%t\n", name, s.IsOn)
	fmt.Fprintf(w, "%s_AMOUNT\t%s\n", name, s.Amount)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `circuitctl - Circuit CLI

Usage:
  circuitctl [global-flags] <command> [subcommand] [args]

Global Flags:
  -config string
        Path to a client config file (overrides -server-url and -auth-token)
  -server-url string
        Circuit server WebSocket URL (default "ws://localhost:8421/ws")
  -auth-token string
        Authentication token (or set CIRCUITCTL_AUTH_TOKEN env var)
  -format string
        Output format: table or json (default "table")
  -timeout duration
        How long to wait for a server reply (default 10s)

Commands:
  login <fid>                      Announce a session for fid
  settings get <fid>               Fetch settings for fid
  settings set <fid> <patch-json>  Patch settings for fid

  help                             Show this help message

Examples:
  circuitctl login 42
  circuitctl -format json settings get 42
  circuitctl settings set 42 '{"tipSettings":{"tipsOn":true,"tipToken":"0xusdc","minScore":0.5,"followersOnly":true,"followingOnly":false,"postPayoutLimit":10,"onePayoutPerPost":true}}'
`)
}
