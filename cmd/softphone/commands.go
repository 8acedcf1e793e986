package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opd-ai/softphone"
	"github.com/opd-ai/softphone/call"
	"github.com/opd-ai/softphone/config"
	"github.com/opd-ai/softphone/quality"
	"github.com/spf13/cobra"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyLogging()
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newCallCmd() *cobra.Command {
	var (
		contactID string
		duration  time.Duration
		digits    string
	)
	cmd := &cobra.Command{
		Use:   "call <number>",
		Short: "Place one call and print its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			phone, err := softphone.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer phone.Close()

			events, unsubscribe := phone.Subscribe(cfg.Call.EventBuffer)
			defer unsubscribe()

			id, err := phone.InitiateCall(ctx, args[0], contactID)
			if err != nil {
				return fmt.Errorf("initiate call: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "call %s to %s\n", id, args[0])
			return followCall(ctx, cmd.OutOrStdout(), phone, events, duration, digits)
		},
	}
	cmd.Flags().StringVar(&contactID, "contact", "", "CRM contact ID recorded with the call")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 10*time.Second, "hang up after this long connected")
	cmd.Flags().StringVar(&digits, "digits", "", "DTMF digits to send once connected")
	return cmd
}

// followCall prints events until the call ends, hanging up after duration
// connected or when ctx is cancelled.
func followCall(ctx context.Context, out io.Writer, phone *softphone.Phone, events <-chan call.Event, duration time.Duration, digits string) error {
	var hangup <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "interrupted, hanging up")
			if err := phone.Hangup(); err != nil && !errors.Is(err, call.ErrNoActiveCall) {
				return err
			}
			return nil
		case <-hangup:
			hangup = nil
			if err := phone.Hangup(); err != nil {
				return err
			}
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch e := ev.(type) {
			case call.StateChanged:
				fmt.Fprintf(out, "state   %-10s -> %s\n", e.From, e.To)
				if e.To == call.StateConnected {
					hangup = time.After(duration)
					if digits != "" {
						if err := phone.SendDigits(digits); err != nil {
							fmt.Fprintf(out, "digits  %v\n", err)
						}
					}
				}
				if e.To.Terminal() {
					fmt.Fprintf(out, "ended   reason=%s duration=%ds codec=%s network=%s\n",
						e.Meta.EndReason, e.Meta.DurationSeconds, e.Meta.Codec, e.Meta.NetworkClass)
					if e.Meta.Err != nil {
						return e.Meta.Err
					}
					return nil
				}
			case call.NetworkProfileChanged:
				fmt.Fprintf(out, "network %s %dbps jitter=%dms plc=%t\n",
					e.Profile.Class, e.Profile.TargetBitrate, e.Profile.JitterBufferMs, e.Profile.PLCEnabled)
			case call.CodecChanged:
				fmt.Fprintf(out, "codec   %s (%s)\n", e.To, e.Reason)
			case call.NetworkWarning:
				fmt.Fprintf(out, "warning %s active=%t\n", e.Name, e.Active)
			case call.DurationTick:
				if e.Seconds%5 == 0 {
					fmt.Fprintf(out, "time    %ds\n", e.Seconds)
				}
			case call.QualityUpdated:
				if e.Metrics.Level() >= quality.LevelPoor {
					fmt.Fprintf(out, "quality %d (%s)\n", e.Metrics.CompositeScore, e.Metrics.Level())
				}
			}
		}
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run a registered phone with the metrics and event endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Metrics.Enabled = true
			cfg.Events.Enabled = true

			ctx, cancel := signalContext()
			defer cancel()

			phone, err := softphone.New(ctx, cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "metrics http://%s/metrics\n", phone.Addr("metrics"))
			fmt.Fprintf(cmd.OutOrStdout(), "events  ws://%s/events\n", phone.Addr("events"))

			<-ctx.Done()
			fmt.Fprintln(cmd.OutOrStdout(), "shutting down")
			return phone.Close()
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "softphone %s\n", version)
		},
	}
}
