package processor

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ohler55/ojg/jp"

	"github.com/JakeFAU/contributor-crawler/internal/crawler"
)

// Default JSONPath selectors over a GitHub commit object.
const (
	DefaultIdentityPath  = "$.commit.author.email"
	DefaultNamePath      = "$.commit.author.name"
	DefaultTimestampPath = "$.commit.author.date"
)

// Selectors names the JSONPath expressions used to read one commit.
type Selectors struct {
	Identity  string
	Name      string
	Timestamp string
}

// Occurrence is one identity sighting in one commit.
type Occurrence struct {
	Identity    string
	DisplayName string
	Timestamp   time.Time
}

// Extractor pulls occurrences out of decoded commit JSON.
type Extractor struct {
	identity  jp.Expr
	name      jp.Expr
	timestamp jp.Expr
}

// NewExtractor compiles sel, filling blanks with the defaults.
func NewExtractor(sel Selectors) (*Extractor, error) {
	if sel.Identity == "" {
		sel.Identity = DefaultIdentityPath
	}
	if sel.Name == "" {
		sel.Name = DefaultNamePath
	}
	if sel.Timestamp == "" {
		sel.Timestamp = DefaultTimestampPath
	}
	var (
		x   Extractor
		err error
	)
	if x.identity, err = jp.ParseString(sel.Identity); err != nil {
		return nil, fmt.Errorf("invalid identity jsonpath %q: %w", sel.Identity, err)
	}
	if x.name, err = jp.ParseString(sel.Name); err != nil {
		return nil, fmt.Errorf("invalid name jsonpath %q: %w", sel.Name, err)
	}
	if x.timestamp, err = jp.ParseString(sel.Timestamp); err != nil {
		return nil, fmt.Errorf("invalid timestamp jsonpath %q: %w", sel.Timestamp, err)
	}
	return &x, nil
}

// Extract reads one commit. It reports false when the commit carries no identity.
func (x *Extractor) Extract(commit any) (Occurrence, bool) {
	identity := Normalize(firstString(x.identity, commit))
	if identity == "" {
		return Occurrence{}, false
	}
	occ := Occurrence{
		Identity:    identity,
		DisplayName: strings.TrimSpace(firstString(x.name, commit)),
	}
	if raw := firstString(x.timestamp, commit); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			occ.Timestamp = ts.UTC()
		}
	}
	return occ, true
}

// Normalize lower-cases and trims an identity.
func Normalize(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

func firstString(expr jp.Expr, data any) string {
	s, _ := expr.First(data).(string)
	return s
}

// Aggregate folds occurrences into one sub-record per identity, owned by
// entity. The first non-empty display name wins and LastSeen is the latest
// timestamp. Output is ordered by occurrence count, then identity.
func Aggregate(entity string, occs []Occurrence) []crawler.SubRecord {
	byID := make(map[string]*crawler.SubRecord, len(occs))
	for _, o := range occs {
		rec, ok := byID[o.Identity]
		if !ok {
			rec = &crawler.SubRecord{Identity: o.Identity, OwningEntity: entity}
			byID[o.Identity] = rec
		}
		rec.OccurrenceCount++
		if rec.DisplayName == "" {
			rec.DisplayName = o.DisplayName
		}
		if o.Timestamp.After(rec.LastSeen) {
			rec.LastSeen = o.Timestamp
		}
	}
	out := make([]crawler.SubRecord, 0, len(byID))
	for _, rec := range byID {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurrenceCount != out[j].OccurrenceCount {
			return out[i].OccurrenceCount > out[j].OccurrenceCount
		}
		return out[i].Identity < out[j].Identity
	})
	return out
}
