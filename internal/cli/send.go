package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-arbiter/internal/api"
	"github.com/nerrad567/gray-logic-arbiter/internal/device"
)

// ErrDenied is returned when a higher priority lock refuses an action.
var ErrDenied = errors.New("cli: action denied by lock")

type sendFlags struct {
	priority    int
	ttl         time.Duration
	check       bool
	checkable   bool
	async       bool
	verifyFirst bool
}

// NewSendCommand submits one capability change for a device.
func NewSendCommand(opts *RootOptions) *cobra.Command {
	f := &sendFlags{}

	cmd := &cobra.Command{
		Use:   "send <device-id> <type> <instance> <value>",
		Short: "Send a capability change to a device",
		Long: `Send a capability change to a device through the arbiter.

The value is read as JSON when it parses (true, 40, {"any_of":[...]})
and as a plain string otherwise.

  arbiterctl send lamp-hall on_off on true --check
  arbiterctl send lamp-hall range brightness 40 --priority 5 --ttl 10m`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, opts, f, args)
		},
	}

	cmd.Flags().IntVar(&f.priority, "priority", 0, "lock level requested")
	cmd.Flags().DurationVar(&f.ttl, "ttl", 0, "how long the lock is held")
	cmd.Flags().BoolVar(&f.check, "check", false, "verify the effect and retry on mismatch")
	cmd.Flags().BoolVar(&f.checkable, "checkable", false, "track the device for drift without verifying now")
	cmd.Flags().BoolVar(&f.async, "async", false, "queue the action instead of waiting")
	cmd.Flags().BoolVar(&f.verifyFirst, "verify-first", false, "queue the action, sending it only when the device differs")
	return cmd
}

func runSend(cmd *cobra.Command, opts *RootOptions, f *sendFlags, args []string) error {
	capability := device.Capability{Type: args[1], Instance: args[2], Value: parseValue(args[3])}
	if err := device.ValidateCapability(capability); err != nil {
		return err
	}

	req := api.ActionRequest{
		Capabilities: []device.Capability{capability},
		Priority:     f.priority,
		TTLSeconds:   int(f.ttl / time.Second),
		Check:        f.check,
		Checkable:    f.checkable,
		Async:        f.async,
		VerifyFirst:  f.verifyFirst,
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	raw, err := opts.client().Post(ctx, "/devices/"+url.PathEscape(args[0])+"/actions", req)
	if err != nil {
		return err
	}

	var resp api.ActionResponse
	if err := decode(raw, &resp); err != nil {
		return err
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if out.IsJSON() {
		if err := out.JSON(raw); err != nil {
			return err
		}
	} else {
		out.Line("%s", describe(resp))
	}
	if resp.Status == api.ActionDenied {
		return ErrDenied
	}
	return nil
}

// parseValue reads s as JSON, falling back to the literal string.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	if obj, ok := v.(map[string]any); ok {
		if set, ok := obj["any_of"].([]any); ok {
			return device.AnyOf(set)
		}
	}
	return v
}

func describe(r api.ActionResponse) string {
	switch r.Status {
	case api.ActionQueued:
		return fmt.Sprintf("queued on %s as %s", r.Queue, r.JobID)
	case api.ActionHeld:
		return "held: device is quarantined, the action replays on recovery"
	case api.ActionDenied:
		if r.Lock != nil {
			return fmt.Sprintf("denied: lock level %d until %s", r.Lock.Level, r.Lock.Expires.Local().Format(time.DateTime))
		}
		return "denied"
	default:
		return r.Status
	}
}
