package types

import (
	"time"
)

type Track struct {
	ID       int64     `json:"id"`
	Title    string    `json:"title"`
	Duration int       `json:"duration"`
	URL      string    `json:"url"`
	AssetKey string    `json:"assetKey"`
	Image    *string   `json:"image"`
	Liked    *bool     `json:"liked"`
	Album    *Album    `json:"album"`
	Artists  []*Artist `json:"artists"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Playable reports whether the track already carries a resolved media URL.
func (t *Track) Playable() bool {
	return t != nil && t.URL != ""
}

type Album struct {
	ID      int64     `json:"id"`
	Title   string    `json:"title"`
	Image   *string   `json:"image"`
	Artists []*Artist `json:"artists"`
	Tracks  []*Track  `json:"tracks"`
}

type Artist struct {
	ID    int64   `json:"id"`
	Name  string  `json:"name"`
	Image *string `json:"image"`
}

type Playlist struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Private bool     `json:"private"`
	Owner   *User    `json:"owner"`
	Tracks  []*Track `json:"tracks"`
}

type User struct {
	ID          int64   `json:"id"`
	Email       string  `json:"email"`
	DisplayName string  `json:"displayName"`
	Avatar      *string `json:"avatar"`
	Status      string  `json:"status"`
	Role        string  `json:"role"`
}

type TrackListResponse struct {
	Count    int      `json:"count"`
	Next     *string  `json:"next"`
	Previous *string  `json:"previous"`
	Results  []*Track `json:"results"`
}

type AlbumListResponse struct {
	Count    int      `json:"count"`
	Next     *string  `json:"next"`
	Previous *string  `json:"previous"`
	Results  []*Album `json:"results"`
}

type StreamURLResponse struct {
	URL       string     `json:"url"`
	Quality   string     `json:"quality"`
	ExpiresAt *time.Time `json:"expiresAt"`
}
