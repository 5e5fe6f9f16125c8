// Command participant is a headless session client: it connects to the
// gateway, reconciles the presenter's event stream, and drives route playback
// against a logging render surface. It exercises the full client pipeline
// without a map renderer attached.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Pi2608/storymap-live/internal/config"
	"github.com/Pi2608/storymap-live/internal/playback"
	"github.com/Pi2608/storymap-live/internal/session"
	"github.com/Pi2608/storymap-live/internal/storymap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.Participant.SessionID == "" {
		log.Fatal().Msg("SESSION_ID is required")
	}
	if cfg.Participant.StorymapPath == "" {
		log.Fatal().Msg("STORYMAP_PATH is required")
	}

	doc, err := storymap.LoadDocument(cfg.Participant.StorymapPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load storymap document")
	}
	log.Info().
		Str("storymap", doc.Title).
		Int("segments", len(doc.Segments)).
		Msg("storymap loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewRealClock()
	scheduler := playback.NewClockScheduler(clock, playback.DefaultFrameInterval)
	go scheduler.Run(ctx)

	surface := newLogSurface()
	camera := playback.NewCameraFollowController(surface.Viewport(), clock, playback.DefaultCameraConfig())
	coordinator := playback.NewCoordinator(scheduler, surface, clock, camera, playback.CoordinatorConfig{
		FollowByDefault: true,
	})
	defer coordinator.Close()

	reconciler := session.NewReconciler(clock, session.DefaultReconcilerConfig())
	defer reconciler.Close()

	reconciler.SetOnPlayback(func(state session.SegmentPlaybackState) {
		applyPlayback(coordinator, doc, state)
	})
	reconciler.SetOnStatus(func(status session.Status) {
		log.Info().Str("status", string(status)).Msg("session status changed")
	})
	reconciler.SetOnQuestion(func(q *session.QuestionBroadcastPayload, r *session.QuestionResultsPayload) {
		if q != nil {
			log.Info().Str("question_id", q.QuestionID).Str("prompt", q.Prompt).Msg("question opened")
		}
		if r != nil {
			log.Info().Str("question_id", r.QuestionID).Interface("counts", r.Counts).Msg("question closed")
		}
	})

	go runClient(ctx, cfg, reconciler)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	cancel()
	time.Sleep(500 * time.Millisecond)
	log.Info().Msg("participant shutdown complete")
}

// applyPlayback drives the coordinator from a reconciled playback state.
func applyPlayback(coordinator *playback.Coordinator, doc *storymap.Storymap, state session.SegmentPlaybackState) {
	log.Info().
		Int("segment_index", state.ActiveSegmentIndex).
		Bool("is_playing", state.IsPlaying).
		Msg("playback state changed")
	coordinator.SetSegment(state.ActiveSegmentIndex, doc.SegmentAt(state.ActiveSegmentIndex))
	coordinator.SetPlaying(state.IsPlaying)
}

// runClient maintains the WebSocket connection, reconnecting with backoff.
func runClient(ctx context.Context, cfg *config.Config, reconciler *session.Reconciler) {
	url := cfg.Participant.GatewayURL + "?session_id=" + cfg.Participant.SessionID

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		reconciler.Connecting()
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			log.Error().Err(err).Str("url", url).Msg("failed to connect, retrying")
			reconciler.Disconnect()
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		log.Info().Str("url", url).Msg("connected to gateway")

		readLoop(ctx, conn, reconciler)
		conn.Close()
		reconciler.Disconnect()
		log.Warn().Msg("connection lost")
	}
}

func readLoop(ctx context.Context, conn *websocket.Conn, reconciler *session.Reconciler) {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Msg("read failed")
			}
			return
		}

		var env session.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Error().Err(err).Msg("malformed event envelope")
			continue
		}
		if err := reconciler.HandleEvent(&env); err != nil {
			log.Error().Err(err).Str("kind", string(env.Kind)).Msg("failed to handle event")
		}
	}
}
