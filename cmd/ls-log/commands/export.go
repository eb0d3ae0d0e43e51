package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/lightstreamer/ls-go-client/pkg/log"
)

// RunExport writes the events of path matching filter to output, or to
// stdout when output is empty.
func RunExport(path, format, output string, filter log.Filter) error {
	var export func(*log.Reader, io.Writer) error
	switch format {
	case "jsonl":
		export = exportJSONL
	case "csv":
		export = exportCSV
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	return export(reader, w)
}

func exportJSONL(reader *log.Reader, w io.Writer) error {
	encoder := json.NewEncoder(w)
	return each(reader, func(event log.Event) error {
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		return nil
	})
}

var csvHeader = []string{"timestamp", "connection_id", "session_id", "transport", "direction", "layer", "kind", "request", "text"}

func exportCSV(reader *log.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	return each(reader, func(event log.Event) error {
		var request, text string
		switch {
		case event.Line != nil:
			request, text = event.Line.Request, event.Line.Text
		case event.StateChange != nil:
			text = event.StateChange.OldState + " -> " + event.StateChange.NewState
		case event.Error != nil:
			text = event.Error.Message
		}

		row := []string{
			event.Timestamp.UTC().Format(timestampFormat),
			event.ConnectionID,
			event.SessionID,
			event.Transport,
			event.Direction.String(),
			event.Layer.String(),
			event.Kind.String(),
			request,
			text,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
		return nil
	})
}
