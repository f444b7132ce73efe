package feeds

import (
	"context"
	"encoding/csv"
	"io"
	"strings"
	"time"

	"github.com/basilisk-ti/basilisk/errors"
	"github.com/basilisk-ti/basilisk/graph"
	"github.com/basilisk-ti/basilisk/kb"
	"github.com/basilisk-ti/basilisk/kb/tagging"
	"github.com/basilisk-ti/basilisk/sym"
)

// sslReasonTags maps the listing reason's kind to tags.
var sslReasonTags = map[string][]string{
	"MITM":         {"mitm"},
	"C&C":          {"c2"},
	"distribution": {"payload_delivery"},
	"sinkhole":     {"sinkhole"},
}

// SSLBlacklist ingests the abuse.ch SSL certificate blacklist. Each row
// yields a certificate observable and a bare SHA1 hash observable, linked by
// a cert_sha1 edge.
type SSLBlacklist struct{}

func (f *SSLBlacklist) Name() string   { return "SSLBlacklist" }
func (f *SSLBlacklist) Source() string { return "https://sslbl.abuse.ch/blacklist/sslblacklist.csv" }
func (f *SSLBlacklist) Frequency() time.Duration { return time.Hour }
func (f *SSLBlacklist) Description() string {
	return "SSL Blacklist, a community feed of malicious SSL certificate fingerprints."
}

// Run fetches the CSV and ingests each fingerprint row. Rows are
// (listing date, SHA1, listing reason); the file has no header, only
// comment lines.
func (f *SSLBlacklist) Run(ctx context.Context, deps *Deps) error {
	body, err := deps.Fetcher.Fetch(ctx, f.Source())
	if err != nil {
		return err
	}
	defer body.Close()

	reader := csv.NewReader(body)
	reader.Comment = '#'
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

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

		if err := f.ingestRow(ctx, deps, record); err != nil {
			skipped++
			deps.Logger.Warnw(sym.Feed+" Skipping row", "feed", f.Name(), "error", err)
			continue
		}
		ingested++
	}

	deps.Logger.Infow(sym.Feed+" SSL blacklist ingest done",
		"ingested", ingested, "skipped", skipped)
	return nil
}

func (f *SSLBlacklist) ingestRow(ctx context.Context, deps *Deps, record []string) error {
	if len(record) < 3 {
		return errors.Newf("row has %d fields, want 3", len(record))
	}
	listingDate := strings.TrimSpace(record[0])
	sha1 := strings.TrimSpace(record[1])
	reason := strings.TrimSpace(record[2])
	if sha1 == "" {
		return errors.New("row missing SHA1")
	}

	tags := reasonToTags(reason)
	entry := map[string]string{
		"source":     f.Name(),
		"first_seen": listingDate,
	}

	certObs, err := deps.Observables.GetOrCreateTyped(ctx, "CERT:"+sha1, kb.TypeCertificate)
	if err != nil {
		return errors.Wrapf(err, "certificate observable %s", sha1)
	}
	if certObs, err = deps.Observables.AddContext(ctx, certObs, entry, ""); err != nil {
		return errors.Wrapf(err, "certificate context %s", sha1)
	}
	if _, err := deps.Engine.Tag(ctx, certObs, tags, tagging.TagOptions{}); err != nil {
		return errors.Wrapf(err, "tagging certificate %s", sha1)
	}

	sha1Obs, err := deps.Observables.GetOrCreateTyped(ctx, sha1, kb.TypeHash)
	if err != nil {
		return errors.Wrapf(err, "hash observable %s", sha1)
	}
	if sha1Obs, err = deps.Observables.AddContext(ctx, sha1Obs, entry, ""); err != nil {
		return errors.Wrapf(err, "hash context %s", sha1)
	}
	if _, err := deps.Engine.Tag(ctx, sha1Obs, tags, tagging.TagOptions{}); err != nil {
		return errors.Wrapf(err, "tagging hash %s", sha1)
	}

	_, err = deps.Links.LinkTo(ctx,
		graph.ObservableRef(certObs.ID),
		graph.ObservableRef(sha1Obs.ID),
		"cert_sha1", f.Name())
	if err != nil {
		return errors.Wrapf(err, "linking certificate to hash %s", sha1)
	}

	return nil
}

// reasonToTags derives tags from a listing reason like "Dridex C&C": the
// malware family (first word, lowercased) plus the mapped reason kind (last
// word), plus ssl_fingerprint always.
func reasonToTags(reason string) []string {
	var tags []string

	words := strings.Fields(reason)
	if len(words) >= 2 {
		tags = append(tags, strings.ToLower(words[0]))
	}
	if len(words) > 0 {
		if mapped, ok := sslReasonTags[words[len(words)-1]]; ok {
			tags = append(tags, mapped...)
		}
	}

	return append(tags, "ssl_fingerprint")
}
