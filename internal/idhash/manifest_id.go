package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"market-pit-lab/internal/domain"
)

// ComputeManifestID derives the world-state manifest identifier from the
// build request and the per-dataset content hashes. Two builds over the same
// inputs with the same policies yield the same ID.
func ComputeManifestID(universe []string, startDate, endDate string, policy domain.AdjustmentPolicy, tieBreak domain.TieBreak, versions []domain.DatasetVersion) string {
	syms := make([]string, len(universe))
	copy(syms, universe)
	sort.Strings(syms)

	names := make([]string, 0, len(versions))
	byName := make(map[string]domain.DatasetVersion, len(versions))
	for _, v := range versions {
		names = append(names, v.DatasetName)
		byName[v.DatasetName] = v
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%s|%s|%s",
		strings.Join(syms, ","), startDate, endDate, policy, tieBreak)
	for _, name := range names {
		v := byName[name]
		fmt.Fprintf(&b, "|%s:%s:%d", name, v.ContentHash, v.RowCount)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
