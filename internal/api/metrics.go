package api

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

type apiMetrics struct {
	startedAtUnix               int64
	planningRunsTotal           atomic.Int64
	planningFailuresTotal       atomic.Int64
	executionJobsStartedTotal   atomic.Int64
	executionJobsCancelledTotal atomic.Int64
	videoShotsGeneratedTotal    atomic.Int64
	videoShotsFailedTotal       atomic.Int64
	cleanupRunsTotal            atomic.Int64
	rateLimitedTotal            atomic.Int64
}

func newAPIMetrics() *apiMetrics {
	return &apiMetrics{startedAtUnix: time.Now().Unix()}
}

func (m *apiMetrics) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)

	uptimeSeconds := time.Now().Unix() - m.startedAtUnix
	_, _ = fmt.Fprintf(w, "# HELP studio_uptime_seconds Process uptime in seconds.\n")
	_, _ = fmt.Fprintf(w, "# TYPE studio_uptime_seconds gauge\n")
	_, _ = fmt.Fprintf(w, "studio_uptime_seconds %d\n", uptimeSeconds)

	_, _ = fmt.Fprintf(w, "# HELP studio_planning_runs_total Planning runs started.\n")
	_, _ = fmt.Fprintf(w, "# TYPE studio_planning_runs_total counter\n")
	_, _ = fmt.Fprintf(w, "studio_planning_runs_total %d\n", m.planningRunsTotal.Load())

	_, _ = fmt.Fprintf(w, "# HELP studio_planning_failures_total Planning runs that ended in an error.\n")
	_, _ = fmt.Fprintf(w, "# TYPE studio_planning_failures_total counter\n")
	_, _ = fmt.Fprintf(w, "studio_planning_failures_total %d\n", m.planningFailuresTotal.Load())

	_, _ = fmt.Fprintf(w, "# HELP studio_execution_jobs_started_total Execution jobs accepted for processing.\n")
	_, _ = fmt.Fprintf(w, "# TYPE studio_execution_jobs_started_total counter\n")
	_, _ = fmt.Fprintf(w, "studio_execution_jobs_started_total %d\n", m.executionJobsStartedTotal.Load())

	_, _ = fmt.Fprintf(w, "# HELP studio_execution_jobs_cancelled_total Execution jobs cancelled by request.\n")
	_, _ = fmt.Fprintf(w, "# TYPE studio_execution_jobs_cancelled_total counter\n")
	_, _ = fmt.Fprintf(w, "studio_execution_jobs_cancelled_total %d\n", m.executionJobsCancelledTotal.Load())

	_, _ = fmt.Fprintf(w, "# HELP studio_video_shots_generated_total Video shots that completed generation.\n")
	_, _ = fmt.Fprintf(w, "# TYPE studio_video_shots_generated_total counter\n")
	_, _ = fmt.Fprintf(w, "studio_video_shots_generated_total %d\n", m.videoShotsGeneratedTotal.Load())

	_, _ = fmt.Fprintf(w, "# HELP studio_video_shots_failed_total Video shots that failed or timed out.\n")
	_, _ = fmt.Fprintf(w, "# TYPE studio_video_shots_failed_total counter\n")
	_, _ = fmt.Fprintf(w, "studio_video_shots_failed_total %d\n", m.videoShotsFailedTotal.Load())

	_, _ = fmt.Fprintf(w, "# HELP studio_cleanup_runs_total Retention cleanup runs executed.\n")
	_, _ = fmt.Fprintf(w, "# TYPE studio_cleanup_runs_total counter\n")
	_, _ = fmt.Fprintf(w, "studio_cleanup_runs_total %d\n", m.cleanupRunsTotal.Load())

	_, _ = fmt.Fprintf(w, "# HELP studio_rate_limited_total Requests rejected due to rate limiting.\n")
	_, _ = fmt.Fprintf(w, "# TYPE studio_rate_limited_total counter\n")
	_, _ = fmt.Fprintf(w, "studio_rate_limited_total %d\n", m.rateLimitedTotal.Load())
}
