package worker

import (
	"os"
	"strconv"
	"time"
)

// Config collects every NATS_*/MAGICRUNE_*/ACK_ACK_*/JS_PUBLISH_* environment
// variable spec.md §6 names for worker mode.
type Config struct {
	URL             string
	ReqSubject      string
	Stream          string
	Durable         string
	DupWindow       time.Duration
	MaxAckPending   int
	AckWait         time.Duration
	MaxDeliver      int
	DedupeMax       int
	MetricsEvery    int
	MetricsFile     string
	MetricsTextfile string
	AckAckWait      time.Duration
	PublishTimeout  time.Duration
	QuarantineDir   string
}

// ConfigFromEnv builds a Config from the environment, applying spec.md §6's
// documented defaults for anything unset.
func ConfigFromEnv() Config {
	return Config{
		URL:             envOr("NATS_URL", "nats://127.0.0.1:4222"),
		ReqSubject:      envOr("NATS_REQ_SUBJ", "run.req.default"),
		Stream:          envOr("NATS_STREAM", "MAGICRUNE"),
		Durable:         envOr("NATS_DURABLE", "magicrune-worker"),
		DupWindow:       envSeconds("NATS_DUP_WINDOW_SEC", 120),
		MaxAckPending:   envInt("NATS_MAX_ACK_PENDING", 64),
		AckWait:         envSeconds("NATS_ACK_WAIT_SEC", 30),
		MaxDeliver:      envInt("NATS_CONSUMER_MAX_DELIVER", 5),
		DedupeMax:       envInt("MAGICRUNE_DEDUPE_MAX", 1024),
		MetricsEvery:    envInt("MAGICRUNE_METRICS_EVERY", 10),
		MetricsFile:     os.Getenv("MAGICRUNE_METRICS_FILE"),
		MetricsTextfile: os.Getenv("MAGICRUNE_METRICS_TEXTFILE"),
		AckAckWait:      envSeconds("ACK_ACK_WAIT_SEC", 2),
		PublishTimeout:  envSeconds("JS_PUBLISH_TIMEOUT_SEC", 5),
		QuarantineDir:   envOr("MAGICRUNE_QUARANTINE_DIR", "quarantine"),
	}
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envSeconds(name string, defSec int) time.Duration {
	return time.Duration(envInt(name, defSec)) * time.Second
}
