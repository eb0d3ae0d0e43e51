package commands

import (
	"fmt"
	"io"

	"github.com/lightstreamer/ls-go-client/pkg/log"
)

// RunFilter copies the events of path matching filter to a new capture
// file, compressed when output ends in .zst.
func RunFilter(path, output string, filter log.Filter, w io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	recorder, err := log.NewFileRecorder(output)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	count := 0
	err = each(reader, func(event log.Event) error {
		recorder.Record(event)
		count++
		return nil
	})
	if cerr := recorder.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close output file: %w", cerr)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Filtered %d events to %s\n", count, output)
	return nil
}
