// Package watch streams a run's refinement-iteration events to a writer, for
// live monitoring of a search in progress.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/qflowhq/bandscan/pkg/runstore"
)

// OutputFormat specifies how to format streamed events.
type OutputFormat string

const (
	// OutputFormatDefault is a human-readable line per iteration
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSON outputs events as line-delimited JSON
	OutputFormatJSON OutputFormat = "json"
)

// StreamIterations subscribes to the run's iteration events and writes one
// line per event to w until ctx is cancelled or the event stream closes.
// Malformed events are reported to stderr and skipped.
func StreamIterations(ctx context.Context, client *runstore.Client, format OutputFormat, w io.Writer) error {
	sub, err := client.SubscribeIterations(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to iteration events: %w", err)
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-sub.Errors():
			if ok && err != nil {
				fmt.Fprintf(os.Stderr, "Warning: skipping event: %v\n", err)
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := WriteEvent(w, format, ev); err != nil {
				return err
			}
		}
	}
}

// WriteEvent formats a single iteration event onto w.
func WriteEvent(w io.Writer, format OutputFormat, ev *runstore.IterationEvent) error {
	if format == OutputFormatJSON {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}

	ts := time.UnixMilli(ev.CreatedAtMs).Format("15:04:05")
	_, err := fmt.Fprintf(w, "[%s] iteration %d: %d pinned, %d found (distance=%g, threshold=%g)\n",
		ts, ev.Iteration, ev.NumPinned, ev.NumFound, ev.Distance, ev.Threshold)
	return err
}
