package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/clawinfra/rapport/internal/queue"
	"github.com/clawinfra/rapport/internal/sdk"
)

// StatusCommand handles the 'rapport status' subcommand. It reads the
// stores without touching the network.
func StatusCommand(args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("rapport status", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var common commonFlags
	common.register(fs)
	asJSON := fs.Bool("json", false, "Print status as JSON")
	showItems := fs.Bool("items", false, "List queued items")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	client, cfg, err := common.openClient(ctx, errOut, true)
	if err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return 1
	}
	defer client.Close()

	st := client.Status(ctx)
	var items map[string][]queue.Item
	if *showItems {
		items = make(map[string][]queue.Item, len(queue.Kinds))
		for _, kind := range queue.Kinds {
			list, err := client.Engine(kind).Items(ctx)
			if err != nil {
				fmt.Fprintf(errOut, "Error: %v\n", err)
				return 1
			}
			items[string(kind)] = list
		}
	}

	if *asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			InstallID string                  `json:"installId"`
			Backend   string                  `json:"backend"`
			Endpoint  string                  `json:"endpoint,omitempty"`
			Queues    map[string]int          `json:"queues"`
			Items     map[string][]queue.Item `json:"items,omitempty"`
		}{st.InstallID, cfg.Store.Backend, cfg.API.Endpoint, st.Queues, items}); err != nil {
			fmt.Fprintf(errOut, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	endpoint := cfg.API.Endpoint
	if endpoint == "" {
		endpoint = "(not configured)"
	}
	fmt.Fprintf(out, "Install ID: %s\n", st.InstallID)
	fmt.Fprintf(out, "Endpoint:   %s\n", endpoint)
	fmt.Fprintf(out, "Store:      %s (%s)\n", cfg.Store.Backend, cfg.StorePath())
	fmt.Fprintln(out, "Queues:")
	for _, name := range sortedKeys(st.Queues) {
		fmt.Fprintf(out, "  %-12s %d/%d\n", name, st.Queues[name], cfg.Queue.MaxQueueSize)
		for _, it := range items[name] {
			fmt.Fprintf(out, "    %s  retries=%d  enqueued=%s\n", it.ID, it.RetryCount, it.EnqueuedAt.Format(time.RFC3339))
		}
	}
	return 0
}

// FlushCommand handles the 'rapport flush' subcommand.
func FlushCommand(args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("rapport flush", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var common commonFlags
	common.register(fs)
	timeout := fs.Duration("timeout", time.Minute, "Give up after this long")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client, _, err := common.openClient(ctx, errOut, false)
	if err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return 1
	}
	defer client.Close()

	before := client.Status(ctx).Queues
	if err := client.Start(ctx); err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return 1
	}

	if err := client.Flush(ctx); err != nil {
		if errors.Is(err, sdk.ErrOffline) {
			fmt.Fprintln(errOut, "Error: endpoint unreachable, items stay queued")
		} else {
			fmt.Fprintf(errOut, "Error: %v\n", err)
		}
		return 1
	}
	// Start may have kicked off a pass of its own.
	for _, k := range queue.Kinds {
		client.Engine(k).Wait()
	}

	after := client.Status(ctx).Queues
	for _, name := range sortedKeys(after) {
		fmt.Fprintf(out, "%-12s %d -> %d\n", name, before[name], after[name])
	}
	return 0
}

// ClearCommand handles the 'rapport clear' subcommand.
func ClearCommand(args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("rapport clear", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var common commonFlags
	common.register(fs)
	name := fs.String("queue", "", "Queue to clear (default: all)")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	kinds := queue.Kinds
	if *name != "" {
		k, err := queue.ParseKind(*name)
		if err != nil {
			fmt.Fprintf(errOut, "Error: %v\n", err)
			return 2
		}
		kinds = []queue.Kind{k}
	}

	ctx := context.Background()
	client, _, err := common.openClient(ctx, errOut, true)
	if err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return 1
	}
	defer client.Close()

	for _, k := range kinds {
		n := client.QueueSize(ctx, k)
		if err := client.ClearQueue(ctx, k); err != nil {
			fmt.Fprintf(errOut, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(out, "%s: cleared %d item(s)\n", k, n)
	}
	return 0
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
