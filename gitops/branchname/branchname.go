package branchname

import (
	"fmt"
	"strings"
	"time"

	"github.com/byte4ever/prbot/gitops/git"
)

// DefaultTag separates the source branch from the
// time bucket in staging branch names.
const DefaultTag = "intermediate"

// Scheme versions. VersionLegacy names carry no time
// bucket ("{source}-{tag}") and are only ever parsed.
const (
	VersionLegacy  = 0
	VersionStamped = 1
)

// Bucket is the coarse time granularity embedded in a
// staging branch name. Reruns within one bucket derive
// the same name.
type Bucket int

// Supported buckets.
const (
	BucketDaily Bucket = iota
	BucketMinute
)

var bucketLayouts = map[Bucket]string{
	BucketDaily:  "20060102",
	BucketMinute: "200601021504",
}

// ParseBucket maps "daily" or "minute" to a Bucket.
// An empty string selects BucketDaily.
func ParseBucket(s string) (Bucket, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "daily", "day":
		return BucketDaily, nil
	case "minute", "min":
		return BucketMinute, nil
	default:
		return 0, fmt.Errorf(
			"parsing bucket: unknown bucket %q", s,
		)
	}
}

// String returns the configuration name of b.
func (b Bucket) String() string {
	if b == BucketMinute {
		return "minute"
	}

	return "daily"
}

func (b Bucket) layout() string {
	if l, ok := bucketLayouts[b]; ok {
		return l
	}

	return bucketLayouts[BucketDaily]
}

// Name is a parsed staging branch name.
type Name struct {
	Version int
	Source  string
	Tag     string
	// Stamp is the formatted time bucket. It is empty
	// for VersionLegacy names.
	Stamp string
}

// String renders the branch name (without the
// refs/heads/ prefix).
func (n Name) String() string {
	if n.Version == VersionLegacy || n.Stamp == "" {
		return n.Source + "-" + n.Tag
	}

	return n.Source + "-" + n.Tag + "-" + n.Stamp
}

// Scheme generates and parses staging branch names of
// the form "{source}-{tag}-{stamp}".
type Scheme struct {
	Tag    string
	Bucket Bucket
}

// DefaultScheme returns the daily "intermediate"
// scheme.
func DefaultScheme() Scheme {
	return Scheme{Tag: DefaultTag, Bucket: BucketDaily}
}

func (s Scheme) tag() string {
	if s.Tag == "" {
		return DefaultTag
	}

	return s.Tag
}

// Generate derives the staging branch name for source
// at now. The stamp is computed in UTC.
func (s Scheme) Generate(source string, now time.Time) Name {
	return Name{
		Version: VersionStamped,
		Source:  git.ShortBranchName(source),
		Tag:     s.tag(),
		Stamp:   now.UTC().Format(s.Bucket.layout()),
	}
}

// Parse splits branch (short name or full ref) into a
// staging Name. Stamps of every known bucket are
// accepted so that names generated under another
// bucket setting are still recognised.
func (s Scheme) Parse(branch string) (Name, bool) {
	short := git.ShortBranchName(branch)
	marker := "-" + s.tag()

	if src, ok := strings.CutSuffix(short, marker); ok {
		if src == "" {
			return Name{}, false
		}

		return Name{
			Version: VersionLegacy,
			Source:  src,
			Tag:     s.tag(),
		}, true
	}

	idx := strings.LastIndex(short, marker+"-")
	if idx <= 0 {
		return Name{}, false
	}

	stamp := short[idx+len(marker)+1:]
	if !validStamp(stamp) {
		return Name{}, false
	}

	return Name{
		Version: VersionStamped,
		Source:  short[:idx],
		Tag:     s.tag(),
		Stamp:   stamp,
	}, true
}

// Matches reports whether ref is the source branch
// itself or a staging branch derived from it under
// any bucket.
func (s Scheme) Matches(source string, ref string) bool {
	source = git.ShortBranchName(source)
	short := git.ShortBranchName(ref)

	if short == source {
		return true
	}

	name, ok := s.Parse(short)

	return ok && name.Source == source
}

func validStamp(stamp string) bool {
	for _, layout := range bucketLayouts {
		if len(stamp) != len(layout) {
			continue
		}

		if _, err := time.Parse(layout, stamp); err == nil {
			return true
		}
	}

	return false
}
