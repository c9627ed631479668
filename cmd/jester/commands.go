package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sentimentjester/jester/internal/api"
	"github.com/sentimentjester/jester/internal/client"
	"github.com/sentimentjester/jester/internal/model"
	"github.com/sentimentjester/jester/internal/orchestrator"
	"github.com/sentimentjester/jester/internal/subject"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the orchestrator and serve the job API",
	RunE:  doServe,
}

func doServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// collectors inherit the environment of the server
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	o, err := orchestrator.New(ctx, config)
	if err != nil {
		return err
	}
	if err := o.Start(ctx); err != nil {
		_ = o.Close(context.WithoutCancel(ctx))
		return err
	}

	srv := api.NewServer(config.Listen, o)
	errs := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "serving job API", "listen", config.Listen)
		errs <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.InfoContext(ctx, "shutting down")
	case err = <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(sctx); serr != nil {
		err = errors.Join(err, fmt.Errorf("shutting down server: %w", serr))
	}
	if cerr := o.Close(sctx); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}

func newClient() *client.Client {
	url := flagServer
	if url == "" {
		url = "http://" + config.Listen
	}
	return client.New(url)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "manage sentiment reports on a running server",
	}

	var (
		subjectID, subjectName, name, start, end string
		platforms                                []string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "create a report and start its collectors",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := orchestrator.CreateReportRequest{
				SubjectID:   subjectID,
				SubjectName: subjectName,
				ReportName:  name,
				Platforms:   make(map[model.Platform]bool, len(platforms)),
			}
			var err error
			if req.StartDate, err = orchestrator.ParseDate(start); err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			if req.EndDate, err = orchestrator.ParseDate(end); err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			for _, s := range platforms {
				p, err := model.ParsePlatform(s)
				if err != nil {
					return fmt.Errorf("--platform: %w", err)
				}
				req.Platforms[p] = true
			}
			id, err := newClient().CreateReport(cmdContext(cmd), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	create.Flags().StringVar(&subjectID, "subject", "", "id of the tracked subject")
	create.Flags().StringVar(&subjectName, "subject-name", "", "display name, defaults to the name of the subject")
	create.Flags().StringVar(&name, "name", "", "report name")
	create.Flags().StringVar(&start, "start", "", "window start, unix seconds or a date like 2024-05-01")
	create.Flags().StringVar(&end, "end", "", "window end, unix seconds or a date like 2024-05-08")
	create.Flags().StringSliceVar(&platforms, "platform", []string{"reddit", "twitter", "youtube"}, "platforms to collect")
	_ = create.MarkFlagRequired("subject")
	_ = create.MarkFlagRequired("start")
	_ = create.MarkFlagRequired("end")

	list := &cobra.Command{
		Use:   "list",
		Short: "list all reports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reports, err := newClient().ListReports(cmdContext(cmd))
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, r := range reports {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Status, r.SubjectName, platformStatus(r))
			}
			return nil
		},
	}

	get := &cobra.Command{
		Use:   "get ID",
		Short: "print a report with its merged result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().GetReport(cmdContext(cmd), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}

	cancel := &cobra.Command{
		Use:   "cancel ID",
		Short: "terminate the collectors of a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient().CancelReport(cmdContext(cmd), args[0])
		},
	}

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "cancel a report and remove it with its result file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient().DeleteReport(cmdContext(cmd), args[0])
		},
	}

	logs := &cobra.Command{
		Use:   "log ID",
		Short: "print the collector log of a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := newClient().ReportLog(cmdContext(cmd), args[0])
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), content)
			return err
		},
	}

	var format, output string
	export := &cobra.Command{
		Use:   "export ID",
		Short: "export the merged result of a report as csv or xlsx",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newClient().Export(cmdContext(cmd), args[0], format)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(b)
				return err
			}
			return os.WriteFile(output, b, 0644)
		},
	}
	export.Flags().StringVar(&format, "format", "csv", "csv or xlsx")
	export.Flags().StringVarP(&output, "output", "o", "", "output file, - for stdout")

	cmd.AddCommand(create, list, get, cancel, del, logs, export)
	return cmd
}

func platformStatus(r model.Report) string {
	var parts []string
	for _, p := range r.Enabled() {
		parts = append(parts, p.String()+"="+string(r.PlatformStatus[p]))
	}
	return strings.Join(parts, ",")
}

func subjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subject",
		Short: "manage tracked subjects on a running server",
	}

	var p subject.AddParams
	add := &cobra.Command{
		Use:   "add NAME",
		Short: "track a new subject",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p.Name = args[0]
			s, err := newClient().AddSubject(cmdContext(cmd), p)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s.ID)
			return nil
		},
	}
	add.Flags().StringVar(&p.Subreddit, "subreddit", "", "subreddit searched by the reddit collector")
	add.Flags().StringVar(&p.Hashtag, "hashtag", "", "hashtag searched by the twitter collector")
	add.Flags().StringVar(&p.VideoLink, "video", "", "search term of the youtube collector")
	add.Flags().StringVar(&p.Img, "img", "", "image URL")

	list := &cobra.Command{
		Use:   "list",
		Short: "list tracked subjects",
		RunE: func(cmd *cobra.Command, _ []string) error {
			subjects, err := newClient().ListSubjects(cmdContext(cmd))
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, s := range subjects {
				fmt.Fprintf(w, "%s\t%s\n", s.ID, s.Name)
			}
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "stop tracking a subject",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient().DeleteSubject(cmdContext(cmd), args[0])
		},
	}

	cmd.AddCommand(add, list, del)
	return cmd
}
