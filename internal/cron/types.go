package cron

import (
	"time"

	"github.com/google/uuid"
)

// Schedule describes when a job fires. Kind "cron" uses a six-field
// expression with a seconds column, "every" re-runs EveryMs after the
// previous run, and "at" fires once at AtMs.
type Schedule struct {
	Kind    string `json:"kind"`
	Expr    string `json:"expr,omitempty"`
	EveryMs int64  `json:"everyMs,omitempty"`
	AtMs    int64  `json:"atMs,omitempty"`
}

// Payload names the work a job performs. Kind selects the gateway
// handler (directory refresh, history checkpoint, daily digest);
// Message carries free text for handlers that want it.
type Payload struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

// JobState records the outcome of the most recent run. It persists with
// the job so "every" schedules survive restarts without re-firing.
type JobState struct {
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

type CronJob struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	DeleteAfterRun bool     `json:"deleteAfterRun,omitempty"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	State          JobState `json:"state"`
	CreatedAtMs    int64    `json:"createdAtMs"`
}

func NewCronJob(name string, schedule Schedule, payload Payload) CronJob {
	return CronJob{
		ID:          uuid.NewString(),
		Name:        name,
		Enabled:     true,
		Schedule:    schedule,
		Payload:     payload,
		CreatedAtMs: time.Now().UnixMilli(),
	}
}
