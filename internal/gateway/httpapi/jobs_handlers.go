package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jkaninda/okapi"

	"github.com/bosco-os/bosco/internal/scheduler"
)

// **** Scheduled job handlers ****

func (g *Gateway) handleJobList(c *okapi.Context) error {
	return c.OK(g.jobs.Jobs())
}

// handleJobRun runs a configured job immediately and returns its status once
// the workflow has finished.
func (g *Gateway) handleJobRun(c *okapi.Context) error {
	name := c.Param("name")
	err := g.jobs.RunNow(c.Context(), name)
	if errors.Is(err, scheduler.ErrUnknownJob) {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "job not found"})
	}
	if err != nil {
		g.logger.Warn("manual job run failed",
			slog.String("job", name),
			slog.String("user_id", c.GetString("userID")),
			slog.String("error", err.Error()),
		)
	}

	for _, j := range g.jobs.Jobs() {
		if j.Name == name {
			return c.OK(j)
		}
	}
	return c.JSON(http.StatusNotFound, okapi.M{"error": "job not found"})
}
