package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/cadenza-player/cadenza/pkg/types"
)

func (c *Client) GetTrack(ctx context.Context, id int64) (*types.Track, error) {
	payload, err := c.Request(ctx, "GET", "/songs/"+strconv.FormatInt(id, 10), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get track: %w", err)
	}

	var track types.Track
	if err := json.Unmarshal(payload, &track); err != nil {
		return nil, fmt.Errorf("decode track response: %w", err)
	}

	return &track, nil
}

func (c *Client) GetTracks(ctx context.Context, page int, search string) (*types.TrackListResponse, error) {
	params := url.Values{}
	if page > 0 {
		params.Set("page", strconv.Itoa(page))
	}
	if search != "" {
		params.Set("search", search)
	}

	payload, err := c.Request(ctx, "GET", "/songs", params, nil)
	if err != nil {
		return nil, fmt.Errorf("get tracks: %w", err)
	}

	var result types.TrackListResponse
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decode tracks response: %w", err)
	}

	return &result, nil
}

func (c *Client) GetAlbum(ctx context.Context, id int64) (*types.Album, error) {
	payload, err := c.Request(ctx, "GET", "/albums/"+strconv.FormatInt(id, 10), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get album: %w", err)
	}

	var album types.Album
	if err := json.Unmarshal(payload, &album); err != nil {
		return nil, fmt.Errorf("decode album response: %w", err)
	}

	return &album, nil
}

func (c *Client) GetPlaylist(ctx context.Context, id int64) (*types.Playlist, error) {
	payload, err := c.Request(ctx, "GET", "/playlists/"+strconv.FormatInt(id, 10), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get playlist: %w", err)
	}

	var playlist types.Playlist
	if err := json.Unmarshal(payload, &playlist); err != nil {
		return nil, fmt.Errorf("decode playlist response: %w", err)
	}

	return &playlist, nil
}

func (c *Client) AddFavorite(ctx context.Context, trackID int64) error {
	body := map[string]int64{"songId": trackID}
	if _, err := c.Request(ctx, "POST", "/favorites", nil, body); err != nil {
		return fmt.Errorf("add favorite: %w", err)
	}
	return nil
}

func (c *Client) RemoveFavorite(ctx context.Context, trackID int64) error {
	path := "/favorites/" + strconv.FormatInt(trackID, 10)
	if _, err := c.Request(ctx, "DELETE", path, nil, nil); err != nil {
		return fmt.Errorf("remove favorite: %w", err)
	}
	return nil
}

// GetStreamURL asks the backend for a time-limited signed playback URL for
// the track at the requested quality. An empty URL in the response is
// treated as absence.
func (c *Client) GetStreamURL(ctx context.Context, trackID int64, quality string) (string, error) {
	params := url.Values{}
	if quality != "" {
		params.Set("quality", quality)
	}

	path := "/songs/" + strconv.FormatInt(trackID, 10) + "/stream-url"
	payload, err := c.Request(ctx, "GET", path, params, nil)
	if err != nil {
		return "", fmt.Errorf("get stream url: %w", err)
	}

	var resp types.StreamURLResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return "", fmt.Errorf("decode stream url response: %w", err)
	}
	if resp.URL == "" {
		return "", fmt.Errorf("stream url response is empty")
	}

	return resp.URL, nil
}
