package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cadenza-player/cadenza/internal/api"
	"github.com/cadenza-player/cadenza/internal/audio"
	"github.com/cadenza-player/cadenza/internal/config"
	"github.com/cadenza-player/cadenza/internal/playback"
	"github.com/cadenza-player/cadenza/internal/player"
	"github.com/cadenza-player/cadenza/internal/session"
	"github.com/cadenza-player/cadenza/internal/storage"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	debug       = flag.Bool("debug", false, "Enable debug logging for all components")
	trackID     = flag.Int64("play", 0, "Track id to play after startup")
	albumID     = flag.Int64("album", 0, "Album id to queue and play after startup")
	playlistID  = flag.Int64("playlist", 0, "Playlist id to queue and play after startup")
	likeID      = flag.Int64("like", 0, "Track id to add to favorites")
	unlikeID    = flag.Int64("unlike", 0, "Track id to remove from favorites")
	searchQuery = flag.String("search", "", "Print catalog tracks matching a query")
	Version     = "dev"
)

func main() {
	flag.Parse()

	if *debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
		log.Println("[MAIN] Debug mode enabled")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[MAIN] Failed to load config: %v", err)
	}
	if *debug {
		cfg.Debug = true
		log.Printf("[MAIN] - API Base URL: %s", cfg.API.BaseURL)
		log.Printf("[MAIN] - Database Path: %s", cfg.Storage.DatabasePath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// An unusable durable store degrades to in-memory: the client runs
	// logged-out instead of failing to start.
	var kv storage.KV
	db, err := storage.Open(cfg.Storage.DatabasePath, cfg.Storage.EnableWAL, cfg.Debug)
	if err != nil {
		log.Printf("[MAIN] Durable session store unavailable, sessions will not persist: %v", err)
		kv = storage.NewMemory()
	} else {
		kv = db
	}
	defer func() {
		if closeErr := kv.Close(); closeErr != nil {
			log.Printf("[MAIN] Failed to close session store: %v", closeErr)
		}
	}()

	store := session.NewTokenStore(kv, cfg)
	client := api.NewClient(cfg, store)
	sessions := session.NewManager(cfg, client, store)

	sessions.OnSessionExpired(func() {
		log.Printf("[MAIN] Session expired, please log in again")
	})

	resolver := playback.NewResolver(cfg, client)

	device, err := audio.NewSpeaker(cfg)
	if err != nil {
		log.Fatalf("[MAIN] Failed to initialize audio output: %v", err)
	}

	engine := player.NewEngine(cfg, device, player.URLProviderFunc(
		func(ctx context.Context, trackID int64) (string, error) {
			result := resolver.ResolveTrackID(ctx, trackID, "")
			if !result.OK {
				return "", errors.New(result.Reason)
			}
			return result.URL, nil
		}))
	defer func() {
		if closeErr := engine.Close(); closeErr != nil {
			log.Printf("[MAIN] Failed to close player: %v", closeErr)
		}
	}()

	engine.Subscribe(player.EventTrackChanged, func(data interface{}) {
		log.Printf("[MAIN] Track changed: %v", data)
	})
	engine.Subscribe(player.EventPlaybackError, func(data interface{}) {
		log.Printf("[MAIN] Playback error: %v", data)
	})

	if user := sessions.CurrentUser(); user != nil {
		log.Printf("[MAIN] Signed in as %s", user.Email)
	} else {
		log.Printf("[MAIN] Not signed in")
	}

	if *searchQuery != "" {
		page, err := client.GetTracks(ctx, 1, *searchQuery)
		if err != nil {
			log.Fatalf("[MAIN] Search failed: %v", err)
		}
		log.Printf("[MAIN] %d tracks match %q", page.Count, *searchQuery)
		for _, track := range page.Results {
			log.Printf("[MAIN] - %d: %s", track.ID, track.Title)
		}
	}

	if *likeID != 0 {
		if err := client.AddFavorite(ctx, *likeID); err != nil {
			log.Fatalf("[MAIN] Failed to favorite track %d: %v", *likeID, err)
		}
		log.Printf("[MAIN] Track %d added to favorites", *likeID)
	}
	if *unlikeID != 0 {
		if err := client.RemoveFavorite(ctx, *unlikeID); err != nil {
			log.Fatalf("[MAIN] Failed to unfavorite track %d: %v", *unlikeID, err)
		}
		log.Printf("[MAIN] Track %d removed from favorites", *unlikeID)
	}

	switch {
	case *trackID != 0:
		track, err := client.GetTrack(ctx, *trackID)
		if err != nil {
			log.Fatalf("[MAIN] Failed to fetch track %d: %v", *trackID, err)
		}
		if err := engine.Play(ctx, track, nil); err != nil {
			log.Fatalf("[MAIN] Failed to play track %d: %v", *trackID, err)
		}
	case *albumID != 0:
		album, err := client.GetAlbum(ctx, *albumID)
		if err != nil {
			log.Fatalf("[MAIN] Failed to fetch album %d: %v", *albumID, err)
		}
		if len(album.Tracks) == 0 {
			log.Fatalf("[MAIN] Album %q has no tracks", album.Title)
		}
		if err := engine.Play(ctx, album.Tracks[0], album.Tracks); err != nil {
			log.Fatalf("[MAIN] Failed to play album %q: %v", album.Title, err)
		}
	case *playlistID != 0:
		playlist, err := client.GetPlaylist(ctx, *playlistID)
		if err != nil {
			log.Fatalf("[MAIN] Failed to fetch playlist %d: %v", *playlistID, err)
		}
		if len(playlist.Tracks) == 0 {
			log.Fatalf("[MAIN] Playlist %q has no tracks", playlist.Name)
		}
		if err := engine.Play(ctx, playlist.Tracks[0], playlist.Tracks); err != nil {
			log.Fatalf("[MAIN] Failed to play playlist %q: %v", playlist.Name, err)
		}
	}

	waitForShutdown(cancel)

	if cfg.Debug {
		log.Printf("[MAIN] API stats: %v", client.Stats())
	}
}

func waitForShutdown(cancel context.CancelFunc) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	sig := <-c
	log.Printf("[MAIN] Received signal: %v", sig)
	cancel()
}
