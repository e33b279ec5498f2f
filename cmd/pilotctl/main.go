package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/pilot/internal/client"
	"github.com/example/pilot/internal/dashboard"
	"github.com/example/pilot/pkg/pilotapi"
)

var (
	flagURL     string
	flagToken   string
	flagJSON    bool
	flagTimeout time.Duration
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pilotctl",
		Short: "Inspect and drive a running pilotd",
		Long: `pilotctl talks to the pilotd gateway: it submits and cancels tasks,
reads queue and cascade statistics, toggles the emergency stop and shows a
live dashboard.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagURL, "url", envOr("PILOT_URL", "http://localhost:8080"), "pilotd gateway URL")
	root.PersistentFlags().StringVar(&flagToken, "token", os.Getenv("PILOT_TOKEN"), "API token")
	root.PersistentFlags().BoolVar(&flagJSON, "json", false, "Machine-readable JSON output")
	root.PersistentFlags().DurationVar(&flagTimeout, "timeout", 10*time.Second, "Request timeout")

	root.AddCommand(submitCmd())
	root.AddCommand(resultCmd())
	root.AddCommand(cancelCmd())
	root.AddCommand(queueCmd())
	root.AddCommand(capabilitiesCmd())
	root.AddCommand(statsCmd())
	root.AddCommand(estopCmd())
	root.AddCommand(topCmd())
	return root
}

func newClient() *client.Client {
	return client.New(flagURL, flagToken)
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), flagTimeout)
}

func submitCmd() *cobra.Command {
	var (
		kind     string
		goal     string
		id       string
		priority int
		params   []string
		deadline time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue a task for the specialists",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseParams(params)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			taskID, err := newClient().Submit(ctx, pilotapi.SubmitTaskRequest{
				ID:             id,
				Kind:           kind,
				Goal:           goal,
				Params:         p,
				Priority:       priority,
				DeadlineMillis: deadline.Milliseconds(),
			})
			if err != nil {
				return err
			}
			if flagJSON {
				return outputJSON(pilotapi.SubmitTaskResponse{TaskID: taskID})
			}
			fmt.Printf("%s queued %s\n", Green("✓"), BoldMagenta(taskID))
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "Task kind (grasp, dock, explore, report, ...)")
	cmd.Flags().StringVar(&goal, "goal", "", "Free-form goal text")
	cmd.Flags().StringVar(&id, "id", "", "Explicit task ID (generated when empty)")
	cmd.Flags().IntVar(&priority, "priority", 3, "Priority 1..5, higher runs first")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Task parameter as key=value (repeatable)")
	cmd.Flags().DurationVar(&deadline, "deadline", 0, "Execution deadline, 0 for none")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func resultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "result <task-id>",
		Short: "Show the status or result of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			res, err := newClient().Result(ctx, args[0])
			if err != nil {
				return err
			}
			if flagJSON {
				return outputJSON(res)
			}
			printResult(res)
			return nil
		},
	}
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a queued or running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			ok, err := newClient().Cancel(ctx, args[0])
			if err != nil {
				return err
			}
			if flagJSON {
				return outputJSON(pilotapi.CancelTaskResponse{Accepted: ok})
			}
			if ok {
				fmt.Printf("%s cancel accepted for %s\n", Green("✓"), BoldMagenta(args[0]))
			} else {
				fmt.Printf("%s %s is unknown or already finished\n", Yellow("⊘"), BoldMagenta(args[0]))
			}
			return nil
		},
	}
}

func queueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show task queue counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			st, err := newClient().Queue(ctx)
			if err != nil {
				return err
			}
			if flagJSON {
				return outputJSON(st)
			}
			printQueue(st)
			return nil
		},
	}
}

func capabilitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "capabilities",
		Aliases: []string{"caps"},
		Short:   "List registered specialists and their health",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			caps, err := newClient().Capabilities(ctx)
			if err != nil {
				return err
			}
			if flagJSON {
				return outputJSON(caps)
			}
			for _, c := range caps.Capabilities {
				fmt.Printf("  %s %-10s %s\n", HealthIcon(c.Status), Bold(c.Name), Dim(strings.Join(c.Kinds, ", ")))
			}
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the cascade tier breakdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			st, err := newClient().CascadeStats(ctx)
			if err != nil {
				return err
			}
			if flagJSON {
				return outputJSON(st)
			}
			printStats(st)
			return nil
		},
	}
}

func estopCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "estop <on|off>",
		Short:     "Engage or release the emergency stop",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			active, err := parseSwitch(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			on, err := newClient().SetEstop(ctx, active)
			if err != nil {
				return err
			}
			if flagJSON {
				return outputJSON(pilotapi.EstopResponse{Active: on})
			}
			if on {
				fmt.Printf("%s emergency stop engaged\n", BoldRed("■"))
			} else {
				fmt.Printf("%s emergency stop released\n", BoldGreen("▶"))
			}
			return nil
		},
	}
}

func topCmd() *cobra.Command {
	var refresh time.Duration
	cmd := &cobra.Command{
		Use:   "top",
		Short: "Live terminal dashboard of the cascade and queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return dashboard.Run(newClient(), refresh)
		},
	}
	cmd.Flags().DurationVar(&refresh, "refresh", time.Second, "Refresh interval")
	return cmd
}

// parseParams turns repeated key=value flags into a map.
func parseParams(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(raw))
	for _, kv := range raw {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --param %q, want key=value", kv)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

func parseSwitch(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "true", "1", "engage":
		return true, nil
	case "off", "false", "0", "release":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", v)
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
