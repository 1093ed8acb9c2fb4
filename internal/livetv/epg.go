package livetv

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/streamarc/streamarc/internal/models"
)

const (
	// Guides under this size are unmarshaled in one piece; larger ones go
	// through the streaming decoder.
	domSizeLimit = 10 << 20 // 10 MiB

	streamTimeout    = 30 * time.Minute
	progressInterval = 50000
)

var errGuideTimeout = errors.New("guide parse exceeded time limit")

// ParseGuide reads an XMLTV document, transparently decompressing gzip, and
// returns the admitted programs. tvgIDs is the provider's channel filter.
func ParseGuide(ctx context.Context, r io.Reader, providerID string, tvgIDs map[string]struct{}, log *logrus.Logger) ([]*models.Program, int, error) {
	br := bufio.NewReaderSize(r, 64<<10)
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, 0, fmt.Errorf("guide gzip: %w", err)
		}
		defer gz.Close()
		return parseGuideXML(ctx, gz, providerID, tvgIDs, log)
	}
	return parseGuideXML(ctx, br, providerID, tvgIDs, log)
}

func parseGuideXML(ctx context.Context, r io.Reader, providerID string, tvgIDs map[string]struct{}, log *logrus.Logger) ([]*models.Program, int, error) {
	head, err := io.ReadAll(io.LimitReader(r, domSizeLimit))
	if err != nil {
		return nil, 0, fmt.Errorf("guide read: %w", err)
	}

	collector := newProgramCollector(providerID, tvgIDs)
	if len(head) < domSizeLimit {
		if err := parseDOM(head, collector); err != nil {
			return nil, 0, err
		}
		return collector.programs, collector.skipped, nil
	}

	err = parseStreaming(ctx, io.MultiReader(bytes.NewReader(head), r), collector, log)
	if err != nil {
		return nil, 0, err
	}
	return collector.programs, collector.skipped, nil
}

func parseDOM(data []byte, collector *programCollector) error {
	var doc struct {
		Programmes []xmltvProgramme `xml:"programme"`
	}
	if err := xml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("guide parse: %w", err)
	}
	for _, p := range doc.Programmes {
		collector.add(p)
	}
	return nil
}

// parseStreaming walks programme elements one token at a time under a
// wall-clock deadline. Whichever of decoder end, caller cancellation, or the
// deadline fires first finishes the parse exactly once.
func parseStreaming(ctx context.Context, r io.Reader, collector *programCollector, log *logrus.Logger) error {
	ctx, cancel := context.WithTimeoutCause(ctx, streamTimeout, errGuideTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		dec := xml.NewDecoder(r)
		count := 0
		for {
			if err := ctx.Err(); err != nil {
				done <- context.Cause(ctx)
				return
			}
			tok, err := dec.Token()
			if errors.Is(err, io.EOF) {
				done <- nil
				return
			}
			if err != nil {
				done <- fmt.Errorf("guide parse: %w", err)
				return
			}
			start, ok := tok.(xml.StartElement)
			if !ok || start.Name.Local != "programme" {
				continue
			}
			var p xmltvProgramme
			if err := dec.DecodeElement(&p, &start); err != nil {
				done <- fmt.Errorf("guide parse: %w", err)
				return
			}
			collector.add(p)
			count++
			if count%progressInterval == 0 {
				log.WithField("programs", count).Info("EPG: streaming parse progress")
			}
		}
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
