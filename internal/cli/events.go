package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/clawinfra/rapport/internal/sdk"
)

// eventTimeout bounds a one-shot submission, probe included.
const eventTimeout = 45 * time.Second

// FeedbackCommand handles the 'rapport feedback' subcommand.
func FeedbackCommand(args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("rapport feedback", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var common commonFlags
	common.register(fs)
	rating := fs.Int("rating", 0, "Rating from 1 to 5 (required)")
	text := fs.String("text", "", "Free-form feedback text")
	offline := fs.Bool("offline", false, "Queue without trying the network")
	asJSON := fs.Bool("json", false, "Print the receipt as JSON")
	meta := metaFlag{}
	fs.Var(meta, "meta", "Metadata as key=value (repeatable)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *rating < 1 || *rating > 5 {
		fmt.Fprintln(errOut, "Error: --rating must be between 1 and 5")
		return 2
	}

	var m map[string]string
	if len(meta) > 0 {
		m = meta
	}
	return sendEvent(&common, *offline, *asJSON, out, errOut, func(ctx context.Context, c *sdk.Client) (sdk.Receipt, error) {
		return c.SubmitFeedback(ctx, *rating, *text, m)
	})
}

// ExperienceCommand handles the 'rapport experience' subcommand.
func ExperienceCommand(args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("rapport experience", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var common commonFlags
	common.register(fs)
	value := fs.Int("value", 0, "Experience value")
	where := fs.String("context", "", "Where in the app the experience happened")
	offline := fs.Bool("offline", false, "Queue without trying the network")
	asJSON := fs.Bool("json", false, "Print the receipt as JSON")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	return sendEvent(&common, *offline, *asJSON, out, errOut, func(ctx context.Context, c *sdk.Client) (sdk.Receipt, error) {
		return c.TrackExperience(ctx, *value, *where)
	})
}

func sendEvent(common *commonFlags, offline, asJSON bool, out, errOut io.Writer,
	send func(context.Context, *sdk.Client) (sdk.Receipt, error)) int {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	client, _, err := common.openClient(ctx, errOut, offline)
	if err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return 1
	}
	defer client.Close()

	if err := client.Start(ctx); err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return 1
	}

	receipt, err := send(ctx, client)
	if err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return 1
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(receipt); err != nil {
			fmt.Fprintf(errOut, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	state := "delivered"
	if receipt.Queued {
		state = "queued"
	}
	fmt.Fprintf(out, "%s %s %s\n", receipt.Kind, receipt.ID, state)
	return 0
}
