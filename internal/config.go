package internal

import (
	"fmt"
	"time"
)

// Config holds every tunable of the relay server, loaded from environment
// variables. Values with defaults run out of the box; the JWT secret is the
// only setting that must be provided.
type Config struct {
	Host string `env:"HOST,default=0.0.0.0"`
	Port int    `env:"PORT,default=8080"`

	JWTSecret string `env:"JWT_SECRET,required=true"`

	// Empty means every pair of users may chat.
	SocialGraphURL     string        `env:"SOCIAL_GRAPH_URL"`
	SocialGraphTimeout time.Duration `env:"SOCIAL_GRAPH_TIMEOUT,default=2s"`

	BadgerFilepath string `env:"BADGER_FILEPATH,default=./data/badger"`
	BlugeFilepath  string `env:"BLUGE_FILEPATH,default=./data/bluge"`

	RoomBufferSize       int           `env:"ROOM_BUFFER_SIZE,default=256"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64"`
	AppendTimeout        time.Duration `env:"APPEND_TIMEOUT,default=5s"`
	SendTimeout          time.Duration `env:"SEND_TIMEOUT,default=10s"`
	AuthFrameTimeout     time.Duration `env:"AUTH_FRAME_TIMEOUT,default=10s"`
	MetricInterval       time.Duration `env:"METRIC_INTERVAL,default=30s"`

	CharReplacement string `env:"CHARACTER_REPLACEMENT,default=*"`
	LogLevel        string `env:"LOG_LEVEL,default=INFO"`

	DebugInspectorPort int `env:"DEBUG_INSPECTOR_PORT,default=8081"`
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
