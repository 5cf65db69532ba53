// Package jobs launches the batch jobs that chat commands trigger.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/chat"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/cloud"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/hookerr"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/route"
)

// Definition is one launchable job.
type Definition struct {
	// Prefix starts the job name; the launch time in unix millis follows.
	Prefix     string `mapstructure:"prefix" json:"prefix"`
	Label      string `mapstructure:"label" json:"label"`
	Queue      string `mapstructure:"queue" json:"queue"`
	Definition string `mapstructure:"definition" json:"definition"`
}

const defaultQueue = "arn:aws:batch:us-east-1:880392359248:job-queue/BSS-DevOps-Queue"

// Defaults returns the built-in job set keyed by route.
func Defaults() map[route.ID]Definition {
	return map[route.ID]Definition{
		route.PlaygroundBusyboxJob: {
			Prefix:     "Playground",
			Label:      "Playground Busybox",
			Queue:      defaultQueue,
			Definition: "arn:aws:batch:us-east-1:880392359248:job-definition/DevOpsPlaygroundBusybox-083777d4404ac84:1",
		},
		route.NetSuiteJob: {
			Prefix:     "NetSuite",
			Label:      "NetSuite Manager",
			Queue:      defaultQueue,
			Definition: "arn:aws:batch:us-east-1:880392359248:job-definition/DevOpsNscManager-d29acf5d2f263e0:1",
		},
	}
}

// Result is what a launch reports back to the event hook.
type Result struct {
	Route route.ID `json:"route"`
	JobID string   `json:"jobId,omitempty"`
	Text  string   `json:"text"`
}

// Launcher submits jobs and announces them in the originating channel.
type Launcher struct {
	submitter cloud.JobSubmitter
	messenger chat.Messenger
	defs      map[route.ID]Definition
	now       func() time.Time
}

// NewLauncher creates a launcher. A nil defs uses Defaults.
func NewLauncher(submitter cloud.JobSubmitter, messenger chat.Messenger, defs map[route.ID]Definition) *Launcher {
	if defs == nil {
		defs = Defaults()
	}
	return &Launcher{submitter: submitter, messenger: messenger, defs: defs, now: time.Now}
}

// Handles reports whether id names a configured job.
func (l *Launcher) Handles(id route.ID) bool {
	_, ok := l.defs[id]
	return ok
}

// JobName returns the submitted job name for def at t.
func JobName(def Definition, t time.Time) string {
	return fmt.Sprintf("%s-%d", def.Prefix, t.UnixMilli())
}

// Launch submits the job for id and posts the outcome to channel. A submit
// error or an empty job id posts the failure text; only submit errors and
// post errors are returned.
func (l *Launcher) Launch(ctx context.Context, id route.ID, channel string) (Result, error) {
	def, ok := l.defs[id]
	if !ok {
		return Result{}, hookerr.New(hookerr.KindUnknownRoute, "launch job", fmt.Errorf("no job for %s", id))
	}

	name := JobName(def, l.now())
	jobID, submitErr := l.submitter.SubmitJob(ctx, cloud.JobSpec{
		Name:       name,
		Queue:      def.Queue,
		Definition: def.Definition,
	})

	res := Result{Route: id, JobID: jobID}
	if submitErr != nil || jobID == "" {
		res.Text = fmt.Sprintf("Failed to run `%s`", id)
		slog.Warn("batch job not started", "route", id, "job_name", name, "error", submitErr)
	} else {
		res.Text = fmt.Sprintf("Running %s, JobId: `%s`", def.Label, jobID)
		slog.Info("batch job started", "route", id, "job_name", name, "job_id", jobID)
	}

	if _, err := l.messenger.Post(ctx, chat.Message{Channel: channel, Text: res.Text}); err != nil {
		return res, hookerr.Downstreamf(err, "post job status to %s", channel)
	}
	if submitErr != nil {
		return res, hookerr.Downstreamf(submitErr, "submit %s", name)
	}
	return res, nil
}
