package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/shahamT/valley-luz/internal/model"
	"github.com/shahamT/valley-luz/internal/pipeline"
)

var (
	ingestText   string
	ingestFile   string
	ingestSender string
	ingestGroup  string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one message through the pipeline and print the outcome",
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, err := buildMessage(ingestText, ingestFile, ingestSender, ingestGroup, time.Now())
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		env, err := initPipeline(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		sub := &syncSubmitter{ctx: ctx, p: env.Pipeline}
		gate := pipeline.NewGate(env.Docs, sub, env.confirmer(), env.Metrics)
		res, err := gate.HandleIncomingMessage(ctx, msg)
		if err != nil {
			return eris.Wrap(err, "ingest")
		}
		return printIngest(cmd.OutOrStdout(), res, sub.outcome)
	},
}

// syncSubmitter processes each job immediately on the caller's goroutine.
type syncSubmitter struct {
	ctx     context.Context
	p       *pipeline.Pipeline
	outcome *pipeline.Outcome
}

func (s *syncSubmitter) Submit(job pipeline.Job) error {
	out := s.p.Process(s.ctx, job)
	s.outcome = &out
	return nil
}

// buildMessage assembles a RawMessage from command flags. file, when set,
// is attached as inline media.
func buildMessage(text, file, sender, group string, now time.Time) (model.RawMessage, error) {
	msg := model.RawMessage{
		Sender:    sender,
		Group:     group,
		Text:      text,
		Timestamp: now.Unix(),
	}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return msg, eris.Wrapf(err, "read %s", file)
		}
		msg.Media = &model.Media{
			Data:     data,
			MimeType: detectMIME(file, data),
			Filename: filepath.Base(file),
		}
	}
	if strings.TrimSpace(msg.Text) == "" && msg.Media == nil {
		return msg, eris.New("ingest: --text or --file is required")
	}
	return msg, nil
}

func detectMIME(name string, data []byte) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		return t
	}
	return http.DetectContentType(data)
}

func printIngest(w io.Writer, res *pipeline.IntakeResult, out *pipeline.Outcome) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(struct {
		Intake  *pipeline.IntakeResult `json:"intake"`
		Outcome *pipeline.Outcome      `json:"outcome,omitempty"`
	}{res, out}); err != nil {
		return fmt.Errorf("write outcome: %w", err)
	}
	return nil
}

func init() {
	ingestCmd.Flags().StringVar(&ingestText, "text", "", "message text")
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "image to attach")
	ingestCmd.Flags().StringVar(&ingestSender, "sender", "cli@c.us", "sender id")
	ingestCmd.Flags().StringVar(&ingestGroup, "group", "cli", "group id")
	rootCmd.AddCommand(ingestCmd)
}
