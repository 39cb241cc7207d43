package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-arbiter/internal/api"
	"github.com/nerrad567/gray-logic-arbiter/internal/engine"
	"github.com/nerrad567/gray-logic-arbiter/internal/journal"
)

// fetch runs one GET and either passes the body through as JSON or hands
// it to text for rendering.
func fetch(cmd *cobra.Command, opts *RootOptions, path string, query url.Values, text func(*OutputFormatter, []byte) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	raw, err := opts.client().Get(ctx, path, query)
	if err != nil {
		return err
	}
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if out.IsJSON() {
		return out.JSON(raw)
	}
	return text(out, raw)
}

func decode(raw []byte, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// NewStatusCommand reports daemon health and headline metrics.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon version, uptime and queue depths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return fetch(cmd, opts, "/metrics", nil, func(out *OutputFormatter, raw []byte) error {
				var m api.SystemMetrics
				if err := decode(raw, &m); err != nil {
					return err
				}
				out.Line("version:     %s", m.Version)
				out.Line("uptime:      %s", time.Duration(m.UptimeSeconds)*time.Second)
				out.Line("mqtt:        %s", connected(m.MQTT.Connected))
				out.Line("devices:     %d (%d quarantined, %d locked, %d tracked, %d checked)",
					m.Devices.Total, m.Devices.Quarantined, m.Devices.Locked, m.Devices.Tracked, m.Devices.Checked)
				rows := make([][]string, 0, len(m.Queues))
				for _, q := range m.Queues {
					rows = append(rows, []string{q.Name, strconv.Itoa(q.Depth), strconv.Itoa(q.HighWater), strconv.Itoa(q.Capacity)})
				}
				return out.Table([]string{"QUEUE", "DEPTH", "HIGH", "CAPACITY"}, rows)
			})
		},
	}
}

func connected(ok bool) string {
	if ok {
		return "connected"
	}
	return "disconnected"
}

type deviceRow struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Quarantined bool         `json:"quarantined"`
	Phase       string       `json:"phase"`
	Lock        *engine.Lock `json:"lock"`
}

// NewDevicesCommand lists registered devices, or shows one.
func NewDevicesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "devices [device-id]",
		Short: "List devices with their quarantine, drift and lock state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return fetch(cmd, opts, "/devices/"+url.PathEscape(args[0]), nil, func(out *OutputFormatter, raw []byte) error {
					return out.JSON(raw)
				})
			}
			return fetch(cmd, opts, "/devices", nil, func(out *OutputFormatter, raw []byte) error {
				var body struct {
					Devices []deviceRow `json:"devices"`
				}
				if err := decode(raw, &body); err != nil {
					return err
				}
				rows := make([][]string, 0, len(body.Devices))
				for _, d := range body.Devices {
					lock := "-"
					if d.Lock != nil {
						lock = fmt.Sprintf("%d until %s", d.Lock.Level, d.Lock.Expires.Local().Format(time.TimeOnly))
					}
					rows = append(rows, []string{d.ID, d.Name, strconv.FormatBool(d.Quarantined), d.Phase, lock})
				}
				return out.Table([]string{"ID", "NAME", "QUARANTINED", "PHASE", "LOCK"}, rows)
			})
		},
	}
}

// NewQuarantineCommand lists quarantined devices.
func NewQuarantineCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "quarantine",
		Short: "List quarantined devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return fetch(cmd, opts, "/quarantine", nil, func(out *OutputFormatter, raw []byte) error {
				var body struct {
					Quarantined []struct {
						engine.QuarantineRecord
						Name         string  `json:"name"`
						Notices      int     `json:"notices"`
						FailureRatio float64 `json:"failure_ratio"`
					} `json:"quarantined"`
				}
				if err := decode(raw, &body); err != nil {
					return err
				}
				rows := make([][]string, 0, len(body.Quarantined))
				for _, q := range body.Quarantined {
					pending := "no"
					if q.Pending != nil {
						pending = "yes"
					}
					rows = append(rows, []string{
						q.DeviceID, q.Name, q.Since.Local().Format(time.DateTime),
						pending, strconv.Itoa(q.Notices), strconv.FormatFloat(q.FailureRatio, 'f', 3, 64),
					})
				}
				return out.Table([]string{"ID", "NAME", "SINCE", "PENDING", "NOTICES", "FAILURE"}, rows)
			})
		},
	}
}

// NewLocksCommand lists active locks; its reset subcommand clears them.
func NewLocksCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locks",
		Short: "List active priority locks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return fetch(cmd, opts, "/locks", nil, func(out *OutputFormatter, raw []byte) error {
				var body struct {
					Locks []engine.Lock `json:"locks"`
				}
				if err := decode(raw, &body); err != nil {
					return err
				}
				rows := make([][]string, 0, len(body.Locks))
				for _, l := range body.Locks {
					rows = append(rows, []string{l.DeviceID, strconv.Itoa(l.Level), l.Expires.Local().Format(time.DateTime)})
				}
				return out.Table([]string{"DEVICE", "LEVEL", "EXPIRES"}, rows)
			})
		},
	}
	cmd.AddCommand(newResetLocksCommand(opts))
	return cmd
}

func newResetLocksCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear every priority lock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()

			raw, err := opts.client().Post(ctx, "/locks/reset", nil)
			if err != nil {
				return err
			}
			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			if out.IsJSON() {
				return out.JSON(raw)
			}
			var body struct {
				Cleared int `json:"cleared"`
			}
			if err := decode(raw, &body); err != nil {
				return err
			}
			out.Line("cleared %d lock(s)", body.Cleared)
			return nil
		},
	}
}

// NewHistoryCommand prints recent journal events.
func NewHistoryCommand(opts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [device-id]",
		Short: "Show recent quarantine, override and mismatch events",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{"limit": {strconv.Itoa(limit)}}
			if len(args) == 1 {
				query.Set("device_id", args[0])
			}
			return fetch(cmd, opts, "/history", query, func(out *OutputFormatter, raw []byte) error {
				var body struct {
					Events []journal.Event `json:"events"`
				}
				if err := decode(raw, &body); err != nil {
					return err
				}
				rows := make([][]string, 0, len(body.Events))
				for _, e := range body.Events {
					rows = append(rows, []string{e.CreatedAt.Local().Format(time.DateTime), e.DeviceID, e.Kind, e.Detail})
				}
				return out.Table([]string{"TIME", "DEVICE", "KIND", "DETAIL"}, rows)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum events")
	return cmd
}
