// Package idhash computes the deterministic SHA-256 identifiers that make
// dataset versions, manifests and runs content-addressed. Every hash here is
// a pure function of its inputs; no other package computes identifiers.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"market-pit-lab/internal/domain"
)

// ComputeDatasetHash computes the content hash of one dataset slice.
// Rows must already be in their canonical store order (publication ts ASC,
// ingest seq ASC); the hash covers the dataset name and every serialized row.
func ComputeDatasetHash(datasetName string, rows []string) string {
	h := sha256.New()
	h.Write([]byte(datasetName))
	for _, row := range rows {
		h.Write([]byte{'\n'})
		h.Write([]byte(row))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SerializeCandle renders a candle into its canonical hash form.
func SerializeCandle(c *domain.Candle) string {
	return fmt.Sprintf("%s|%d|%s|%s|%s|%s|%s",
		c.Symbol, c.TimestampMs,
		formatFloat(c.Open), formatFloat(c.High), formatFloat(c.Low),
		formatFloat(c.Close), formatFloat(c.Volume),
	)
}

// SerializeFeature renders a feature point into its canonical hash form.
func SerializeFeature(f *domain.FeaturePoint) string {
	return fmt.Sprintf("%s|%d|%s|%s", f.Symbol, f.TimestampMs, f.Name, formatFloat(f.Value))
}

// SerializeFundamentals renders a fundamentals row into its canonical hash
// form. Field keys are sorted so map iteration order never leaks into the hash.
func SerializeFundamentals(r *domain.FundamentalsRow) string {
	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "%s|%d|%d", r.Symbol, r.PublishedAtMs, r.IngestSeq)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%s", k, formatFloat(r.Fields[k]))
	}
	return b.String()
}

// SerializeCorporateAction renders a corporate action into its canonical hash form.
func SerializeCorporateAction(a *domain.CorporateAction) string {
	return fmt.Sprintf("%s|%d|%d|%s|%s", a.Symbol, a.EffectiveAtMs, a.IngestSeq, a.ActionType, formatFloat(a.Value))
}

// SerializeRating renders a rating event into its canonical hash form.
func SerializeRating(r *domain.RatingEvent) string {
	return fmt.Sprintf("%s|%d|%d|%s|%s", r.Symbol, r.RevisedAtMs, r.IngestSeq, r.Agency, r.Rating)
}

// formatFloat renders a float in shortest round-trippable form so the same
// value always serializes identically.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
