package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/shahamT/valley-luz/internal/model"
	"github.com/shahamT/valley-luz/internal/pipeline"
)

var reprocessCmd = &cobra.Command{
	Use:   "reprocess <record-id>",
	Short: "Run a stranded pending record through the pipeline again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initPipeline(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		rec := env.Docs.Get(ctx, args[0])
		job, err := reprocessJob(rec)
		if err != nil {
			return err
		}
		out := env.Pipeline.Process(ctx, job)
		return printIngest(cmd.OutOrStdout(), &pipeline.IntakeResult{Status: pipeline.StatusQueued, RecordID: job.RecordID}, &out)
	},
}

// reprocessJob rebuilds the job for a pending record. Stored messages keep
// no inline bytes, so previously uploaded media is re-attached by URL.
func reprocessJob(rec *model.EventRecord) (pipeline.Job, error) {
	if rec == nil {
		return pipeline.Job{}, eris.New("reprocess: record not found")
	}
	if state := rec.State(); state != model.RecordPending {
		return pipeline.Job{}, eris.Errorf("reprocess: record %s is %s, only pending records can be reprocessed", rec.ID, state)
	}
	msg := rec.RawMessage
	if rec.Media != nil && rec.Media.URL != "" {
		msg.Media = &model.Media{URL: rec.Media.URL, MimeType: rec.Media.MimeType}
	}
	return pipeline.Job{RecordID: rec.ID, Message: msg, Signature: rec.MessageSignature}, nil
}

func init() {
	rootCmd.AddCommand(reprocessCmd)
}
