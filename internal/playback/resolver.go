package playback

import (
	"context"
	"fmt"
	"log"
	"net/url"

	"github.com/cadenza-player/cadenza/internal/config"
	"github.com/cadenza-player/cadenza/pkg/types"
)

// CatalogClient is the slice of the API surface the resolver consumes.
type CatalogClient interface {
	GetTrack(ctx context.Context, id int64) (*types.Track, error)
	GetStreamURL(ctx context.Context, trackID int64, quality string) (string, error)
}

// Result is the outcome of a resolution attempt. Failures are values, not
// panics, so callers decide whether to skip the track or show an error.
type Result struct {
	OK     bool
	URL    string
	Reason string
}

// Resolver turns a track into a playable URL, trying sources in priority
// order: the URL already on the track, a signed URL from the backend, and
// finally a URL derived from object-storage conventions.
type Resolver struct {
	catalog CatalogClient
	bucket  string
	region  string
	quality string
	debug   bool
}

func NewResolver(cfg *config.Config, catalog CatalogClient) *Resolver {
	return &Resolver{
		catalog: catalog,
		bucket:  cfg.Playback.AssetBucket,
		region:  cfg.Playback.AssetRegion,
		quality: cfg.Playback.DefaultQuality,
		debug:   cfg.Debug,
	}
}

func (r *Resolver) debugLog(format string, args ...interface{}) {
	if !r.debug {
		return
	}
	log.Printf("[RESOLVER] "+format, args...)
}

// Resolve finds a playable URL for track at the given quality (empty means
// the configured default). The first source to yield a non-empty URL wins.
func (r *Resolver) Resolve(ctx context.Context, track *types.Track, quality string) Result {
	if track == nil {
		return Result{Reason: "no track"}
	}
	if quality == "" {
		quality = r.quality
	}

	if track.URL != "" {
		r.debugLog("Track %d: using embedded URL", track.ID)
		return Result{OK: true, URL: track.URL}
	}

	// A failing backend call is "no URL from this source", not fatal.
	signed, err := r.catalog.GetStreamURL(ctx, track.ID, quality)
	if err != nil {
		r.debugLog("Track %d: signed URL unavailable: %v", track.ID, err)
	} else if signed != "" {
		r.debugLog("Track %d: using signed URL", track.ID)
		return Result{OK: true, URL: signed}
	}

	if derived := r.deriveAssetURL(track.AssetKey); derived != "" {
		r.debugLog("Track %d: using derived asset URL", track.ID)
		return Result{OK: true, URL: derived}
	}

	return Result{Reason: fmt.Sprintf("no playable source for track %d", track.ID)}
}

// ResolveTrackID fetches the track first, then resolves it. Used by the
// player's URL provider for queue entries that carry no media URL.
func (r *Resolver) ResolveTrackID(ctx context.Context, trackID int64, quality string) Result {
	track, err := r.catalog.GetTrack(ctx, trackID)
	if err != nil {
		r.debugLog("Track %d: lookup failed: %v", trackID, err)
		return Result{Reason: fmt.Sprintf("track %d lookup failed", trackID)}
	}
	return r.Resolve(ctx, track, quality)
}

// deriveAssetURL builds a last-resort URL from known object-storage
// conventions. Only usable when a bucket is configured and the track
// carries an asset key.
func (r *Resolver) deriveAssetURL(assetKey string) string {
	if r.bucket == "" || assetKey == "" {
		return ""
	}

	u := url.URL{
		Scheme: "https",
		Host:   fmt.Sprintf("%s.s3.%s.amazonaws.com", r.bucket, r.region),
		Path:   "/" + assetKey,
	}
	return u.String()
}
