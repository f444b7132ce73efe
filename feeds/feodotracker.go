package feeds

import (
	"context"
	"encoding/csv"
	"io"
	"strings"
	"time"

	"github.com/basilisk-ti/basilisk/errors"
	"github.com/basilisk-ti/basilisk/kb"
	"github.com/basilisk-ti/basilisk/kb/tagging"
	"github.com/basilisk-ti/basilisk/sym"
)

// FeodoTracker ingests the abuse.ch Feodo Tracker botnet C2 IP blocklist.
type FeodoTracker struct{}

func (f *FeodoTracker) Name() string   { return "FeodoTracker" }
func (f *FeodoTracker) Source() string { return "https://feodotracker.abuse.ch/downloads/ipblocklist.csv" }
func (f *FeodoTracker) Frequency() time.Duration { return 24 * time.Hour }
func (f *FeodoTracker) Description() string {
	return "Feodo Tracker IP feed, a full list of botnet C2 servers."
}

// Run fetches the CSV blocklist and ingests each row. The wire format is
// best-effort: malformed rows are skipped and logged, never fatal.
func (f *FeodoTracker) Run(ctx context.Context, deps *Deps) error {
	body, err := deps.Fetcher.Fetch(ctx, f.Source())
	if err != nil {
		return err
	}
	defer body.Close()

	reader := csv.NewReader(body)
	reader.Comment = '#'
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return errors.Wrap(err, "failed to read csv header")
	}
	col := columnIndex(header)

	var ingested, skipped int
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			deps.Logger.Warnw(sym.Feed+" Skipping malformed row", "feed", f.Name(), "error", err)
			continue
		}

		if err := f.ingestRow(ctx, deps, col, record); err != nil {
			skipped++
			deps.Logger.Warnw(sym.Feed+" Skipping row", "feed", f.Name(), "error", err)
			continue
		}
		ingested++
	}

	deps.Logger.Infow(sym.Feed+" Feodo Tracker ingest done",
		"ingested", ingested, "skipped", skipped)
	return nil
}

func (f *FeodoTracker) ingestRow(ctx context.Context, deps *Deps, col map[string]int, record []string) error {
	ip := field(col, record, "dst_ip")
	if ip == "" {
		return errors.New("row missing dst_ip")
	}
	malware := strings.ToLower(field(col, record, "malware"))

	obs, err := deps.Observables.GetOrCreateTyped(ctx, ip, kb.TypeIP)
	if err != nil {
		return errors.Wrapf(err, "observable %s", ip)
	}

	entry := map[string]string{
		"source":      f.Name(),
		"first_seen":  field(col, record, "first_seen_utc"),
		"last_online": field(col, record, "last_online"),
		"c2_status":   field(col, record, "c2_status"),
		"port":        field(col, record, "dst_port"),
	}
	if obs, err = deps.Observables.AddContext(ctx, obs, entry, ""); err != nil {
		return errors.Wrapf(err, "context for %s", ip)
	}

	tags := []string{"c2", "blocklist"}
	if malware != "" {
		tags = append(tags, malware)
	}
	if _, err := deps.Engine.Tag(ctx, obs, tags, tagging.TagOptions{}); err != nil {
		return errors.Wrapf(err, "tagging %s", ip)
	}

	return nil
}

// columnIndex maps header names to positions so column reordering upstream
// does not break ingestion.
func columnIndex(header []string) map[string]int {
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	return col
}

func field(col map[string]int, record []string, name string) string {
	i, ok := col[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}
