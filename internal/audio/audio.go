// Package audio resolves board transitions to sound cues. Playback itself
// sits behind Player; the relay and stores never depend on it.
package audio

import (
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/signalboard/signalboard/internal/protocol"
)

// Settings is the user-adjustable playback configuration. It is passed to
// whoever plays sounds; there is no package-level default instance.
type Settings struct {
	mu      sync.RWMutex
	enabled bool
	volume  float64
}

// NewSettings returns settings with volume clamped to [0, 1].
func NewSettings(enabled bool, volume float64) *Settings {
	return &Settings{enabled: enabled, volume: clamp(volume)}
}

func (s *Settings) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

func (s *Settings) Volume() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.volume
}

func (s *Settings) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

// SetVolume stores volume clamped to [0, 1].
func (s *Settings) SetVolume(volume float64) {
	s.mu.Lock()
	s.volume = clamp(volume)
	s.mu.Unlock()
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Cue is one sound to play.
type Cue struct {
	Path   string
	Volume float64
}

// Cues maps transitions to sound files.
type Cues struct {
	Status map[protocol.Status]string
	Rooms  map[string]string
	Test   string
}

func DefaultCues() Cues {
	return Cues{
		Status: map[protocol.Status]string{
			protocol.StatusSeen:     "/sounds/seen.wav",
			protocol.StatusResolved: "/sounds/resolved.wav",
		},
		Rooms: map[string]string{
			"dashboard-a": "/sounds/room-a.wav",
			"dashboard-b": "/sounds/room-b.wav",
		},
		Test: "/sounds/button-1.wav",
	}
}

// Player plays a cue. Implementations must not block for long.
type Player interface {
	Play(cue Cue) error
}

// WriterPlayer prints cues instead of playing them.
type WriterPlayer struct {
	W io.Writer
}

func (p WriterPlayer) Play(cue Cue) error {
	_, err := fmt.Fprintf(p.W, "♪ %s (volume %.2f)\n", cue.Path, cue.Volume)
	return err
}

// Announcer plays the cue for a transition when sound is enabled and a
// cue is mapped. Playback errors are logged and dropped.
type Announcer struct {
	settings *Settings
	cues     Cues
	player   Player
	logger   zerolog.Logger
}

func NewAnnouncer(settings *Settings, cues Cues, player Player, logger zerolog.Logger) *Announcer {
	return &Announcer{
		settings: settings,
		cues:     cues,
		player:   player,
		logger:   logger.With().Str("component", "audio").Logger(),
	}
}

// RoomAlert plays the alert for a new message from roomID.
func (a *Announcer) RoomAlert(roomID string) {
	a.play(a.cues.Rooms[roomID])
}

// StatusChange plays the sound for a seen or resolved transition.
func (a *Announcer) StatusChange(status protocol.Status) {
	a.play(a.cues.Status[status])
}

// Test plays the settings test sound.
func (a *Announcer) Test() {
	a.play(a.cues.Test)
}

func (a *Announcer) play(path string) {
	if path == "" || a.player == nil || !a.settings.Enabled() {
		return
	}
	cue := Cue{Path: path, Volume: a.settings.Volume()}
	if err := a.player.Play(cue); err != nil {
		a.logger.Warn().Err(err).Str("cue", path).Msg("audio playback failed")
	}
}
