package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

// show fetches path and either prints it raw or decodes it into view.
func show(cmd *cobra.Command, path string, view any) (printed bool, err error) {
	var raw json.RawMessage
	if err := api.get(cmd.Context(), path, &raw); err != nil {
		return false, err
	}
	if rawJSON {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return false, err
		}
		return true, printJSON(v)
	}
	return false, json.Unmarshal(raw, view)
}

func table() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return time.Since(t).Truncate(time.Second).String() + " ago"
}

type channelRow struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Mode  string `json:"mode"`
	State struct {
		Status              string    `json:"status"`
		ConsecutiveFailures int       `json:"consecutiveFailures"`
		LastStateChange     time.Time `json:"lastStateChangeTimestamp"`
		BackoffMultiplier   float64   `json:"backoffMultiplier"`
		LastSample          *struct {
			Success   bool     `json:"success"`
			LatencyMS *float64 `json:"latencyMs"`
			Error     string   `json:"error"`
		} `json:"lastSample"`
	} `json:"state"`
	OpenOutage *struct {
		StartTime time.Time `json:"startTime"`
		Reason    string    `json:"reason"`
	} `json:"openOutage"`
}

var channelsCmd = &cobra.Command{
	Use:     "channels",
	Short:   "List channels with their current state",
	Aliases: []string{"ls"},
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var rows []channelRow
		if printed, err := show(cmd, "/api/channels", &rows); err != nil || printed {
			return err
		}
		tw := table()
		fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tMODE\tFAILS\tBACKOFF\tCHANGED\tLAST ERROR")
		for _, r := range rows {
			lastErr := "-"
			if ls := r.State.LastSample; ls != nil && !ls.Success {
				lastErr = ls.Error
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%gx\t%s\t%s\n",
				r.ID, r.Type, r.State.Status, r.Mode, r.State.ConsecutiveFailures,
				r.State.BackoffMultiplier, ago(r.State.LastStateChange), lastErr)
		}
		return tw.Flush()
	},
}

var channelCmd = &cobra.Command{
	Use:   "channel <id>",
	Short: "Show one channel in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var v any
		if err := api.get(cmd.Context(), "/api/channels/"+url.PathEscape(args[0]), &v); err != nil {
			return err
		}
		return printJSON(v)
	},
}

var statsWindow time.Duration

type channelStats struct {
	ChannelID        string  `json:"channelId"`
	Status           string  `json:"status"`
	TotalSamples     int     `json:"totalSamples"`
	Availability     float64 `json:"availability"`
	P50LatencyMS     float64 `json:"p50LatencyMs"`
	P95LatencyMS     float64 `json:"p95LatencyMs"`
	OutageCount      int     `json:"outageCount"`
	MTTRMS           int64   `json:"mttrMs"`
	TopFailureReason string  `json:"topFailureReason"`
}

type report struct {
	Global struct {
		Channels     int     `json:"channels"`
		Online       int     `json:"online"`
		Offline      int     `json:"offline"`
		Unknown      int     `json:"unknown"`
		Availability float64 `json:"availability"`
		TotalOutages int     `json:"totalOutages"`
		BestChannel  string  `json:"bestChannel"`
		WorstChannel string  `json:"worstChannel"`
	} `json:"global"`
	Channels  []channelStats `json:"channels"`
	SLOTarget float64        `json:"sloTarget"`
	Breaches  []struct {
		ChannelID    string  `json:"channelId"`
		Availability float64 `json:"availability"`
		Shortfall    float64 `json:"shortfall"`
	} `json:"breaches"`
	Recommendations []struct {
		ChannelID string `json:"channelId"`
		Priority  string `json:"priority"`
		Message   string `json:"message"`
	} `json:"recommendations"`
}

var statsCmd = &cobra.Command{
	Use:   "stats [channel]",
	Short: "Availability, latency and SLO report",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := ""
		if statsWindow > 0 {
			q = "?window=" + url.QueryEscape(statsWindow.String())
		}
		if len(args) == 1 {
			var cs channelStats
			if printed, err := show(cmd, "/api/channels/"+url.PathEscape(args[0])+"/stats"+q, &cs); err != nil || printed {
				return err
			}
			return printStats([]channelStats{cs})
		}

		var rep report
		if printed, err := show(cmd, "/api/stats"+q, &rep); err != nil || printed {
			return err
		}
		g := rep.Global
		fmt.Printf("%d channels: %d online, %d offline, %d unknown. Availability %.2f%%, %d outages.\n",
			g.Channels, g.Online, g.Offline, g.Unknown, g.Availability, g.TotalOutages)
		if g.BestChannel != "" {
			fmt.Printf("Best %s, worst %s.\n", g.BestChannel, g.WorstChannel)
		}
		fmt.Println()
		if err := printStats(rep.Channels); err != nil {
			return err
		}
		if len(rep.Breaches) > 0 {
			fmt.Printf("\nSLO %.2f%% breached by:\n", rep.SLOTarget)
			for _, b := range rep.Breaches {
				fmt.Printf("  %s at %.2f%% (short %.2f)\n", b.ChannelID, b.Availability, b.Shortfall)
			}
		}
		if len(rep.Recommendations) > 0 {
			fmt.Println("\nRecommendations:")
			for _, r := range rep.Recommendations {
				fmt.Printf("  [%s] %s: %s\n", r.Priority, r.ChannelID, r.Message)
			}
		}
		return nil
	},
}

func printStats(rows []channelStats) error {
	tw := table()
	fmt.Fprintln(tw, "CHANNEL\tSTATUS\tSAMPLES\tAVAIL\tP50\tP95\tOUTAGES\tMTTR\tTOP FAILURE")
	for _, s := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.2f%%\t%.0fms\t%.0fms\t%d\t%s\t%s\n",
			s.ChannelID, s.Status, s.TotalSamples, s.Availability, s.P50LatencyMS, s.P95LatencyMS,
			s.OutageCount, time.Duration(s.MTTRMS)*time.Millisecond, s.TopFailureReason)
	}
	return tw.Flush()
}

var (
	outageChannel string
	outageLimit   int
)

var outagesCmd = &cobra.Command{
	Use:   "outages",
	Short: "List recent outages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if outageChannel != "" {
			q.Set("channel", outageChannel)
		}
		if outageLimit > 0 {
			q.Set("limit", strconv.Itoa(outageLimit))
		}
		var rows []struct {
			ChannelID string     `json:"channelId"`
			StartTime time.Time  `json:"startTime"`
			EndTime   *time.Time `json:"endTime"`
			ActualMS  int64      `json:"actualDurationMs"`
			Reason    string     `json:"reason"`
		}
		if printed, err := show(cmd, "/api/outages?"+q.Encode(), &rows); err != nil || printed {
			return err
		}
		tw := table()
		fmt.Fprintln(tw, "CHANNEL\tSTARTED\tENDED\tDURATION\tREASON")
		for _, o := range rows {
			ended, dur := "open", "-"
			if o.EndTime != nil {
				ended = o.EndTime.Local().Format(time.DateTime)
				dur = (time.Duration(o.ActualMS) * time.Millisecond).Truncate(time.Second).String()
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", o.ChannelID, o.StartTime.Local().Format(time.DateTime), ended, dur, o.Reason)
		}
		return tw.Flush()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the coordination role of the daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var st struct {
			InstanceID     string    `json:"instanceId"`
			Role           string    `json:"role"`
			Leader         string    `json:"leader"`
			Disabled       bool      `json:"disabled"`
			DisabledReason string    `json:"disabledReason"`
			LeaseExpiresAt time.Time `json:"leaseExpiresAt"`
		}
		if printed, err := show(cmd, "/api/coordination", &st); err != nil || printed {
			return err
		}
		fmt.Printf("instance %s is %s", st.InstanceID, st.Role)
		if st.Leader != "" && st.Leader != st.InstanceID {
			fmt.Printf(" (leader %s)", st.Leader)
		}
		fmt.Println()
		if st.Disabled {
			fmt.Println("coordination disabled:", st.DisabledReason)
		} else if !st.LeaseExpiresAt.IsZero() {
			fmt.Println("lease expires", st.LeaseExpiresAt.Local().Format(time.DateTime))
		}
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run [channel]",
	Short: "Probe one or every channel now",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/run"
		if len(args) == 1 {
			path = "/api/channels/" + url.PathEscape(args[0]) + "/run"
		}
		var raw json.RawMessage
		if err := api.do(cmd.Context(), http.MethodPost, path, nil, &raw); err != nil {
			return err
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		return printJSON(v)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Control high-frequency watch sessions",
}

var watchStartCmd = &cobra.Command{
	Use:   "start [duration]",
	Short: "Start a global watch, e.g. 30m or forever (default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d := "forever"
		if len(args) == 1 {
			d = args[0]
		}
		var ws map[string]any
		if err := api.do(cmd.Context(), http.MethodPost, "/api/watch", map[string]string{"duration": d}, &ws); err != nil {
			return err
		}
		return printJSON(ws)
	},
}

func watchAction(use, short, method, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var v any
			if err := api.do(cmd.Context(), method, path, nil, &v); err != nil {
				return err
			}
			return printJSON(v)
		},
	}
}

var (
	watchInterval time.Duration
	watchTimeout  time.Duration
	watchFor      string
	watchStop     bool
)

var watchChannelCmd = &cobra.Command{
	Use:   "channel <id>",
	Short: "Watch a single channel at its own cadence",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/channels/" + url.PathEscape(args[0]) + "/watch"
		if watchStop {
			if err := api.do(cmd.Context(), http.MethodDelete, path, nil, nil); err != nil {
				return err
			}
			fmt.Println("✔ individual watch stopped for", args[0])
			return nil
		}
		body := map[string]any{
			"intervalMs": watchInterval.Milliseconds(),
			"timeoutMs":  watchTimeout.Milliseconds(),
			"duration":   watchFor,
		}
		if err := api.do(cmd.Context(), http.MethodPost, path, body, nil); err != nil {
			return err
		}
		fmt.Println("✔ watching", args[0])
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Stream live events until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, api.wsURL("/api/events"), api.header())
		if err != nil {
			return fmt.Errorf("connecting to event stream: %w", err)
		}
		defer conn.Close()
		go func() {
			<-ctx.Done()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		}()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if rawJSON {
				fmt.Println(string(msg))
				continue
			}
			var e struct {
				Kind      string    `json:"kind"`
				At        time.Time `json:"at"`
				ChannelID string    `json:"channelId"`
				Mirrored  bool      `json:"mirrored"`
				From      string    `json:"from"`
				To        string    `json:"to"`
				Role      string    `json:"role"`
				Reason    string    `json:"reason"`
			}
			if err := json.Unmarshal(msg, &e); err != nil {
				continue
			}
			line := e.At.Local().Format(time.TimeOnly) + " " + e.Kind
			if e.ChannelID != "" {
				line += " " + e.ChannelID
			}
			if e.From != "" || e.To != "" {
				line += " " + e.From + " → " + e.To
			}
			if e.Role != "" {
				line += " role=" + e.Role
			}
			if e.Reason != "" {
				line += " reason=" + e.Reason
			}
			if e.Mirrored {
				line += " (mirrored)"
			}
			fmt.Println(line)
		}
	},
}

func init() {
	statsCmd.Flags().DurationVar(&statsWindow, "window", 0, "trailing window, e.g. 1h (default 24h)")
	outagesCmd.Flags().StringVar(&outageChannel, "channel", "", "only this channel")
	outagesCmd.Flags().IntVar(&outageLimit, "limit", 20, "newest N outages")

	watchChannelCmd.Flags().DurationVar(&watchInterval, "interval", 0, "probe interval (default: global watch interval)")
	watchChannelCmd.Flags().DurationVar(&watchTimeout, "timeout", 0, "probe timeout (default: global watch timeout)")
	watchChannelCmd.Flags().StringVar(&watchFor, "for", "forever", "how long to watch, e.g. 10m")
	watchChannelCmd.Flags().BoolVar(&watchStop, "stop", false, "stop the channel's watch instead")

	watchCmd.AddCommand(
		watchStartCmd,
		watchAction("stop", "End the global watch", http.MethodDelete, "/api/watch"),
		watchAction("pause", "Pause the global watch", http.MethodPost, "/api/watch/pause"),
		watchAction("resume", "Resume a paused watch", http.MethodPost, "/api/watch/resume"),
		watchAction("status", "Show watch sessions", http.MethodGet, "/api/watch"),
		watchChannelCmd,
	)
	rootCmd.AddCommand(channelsCmd, channelCmd, statsCmd, outagesCmd, statusCmd, runCmd, watchCmd, eventsCmd)
}
