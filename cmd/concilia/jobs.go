package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/concilia/concilia/internal/timeparsing"
	"github.com/concilia/concilia/internal/types"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Submit and inspect reconciliation jobs",
}

var (
	submitNome           string
	submitEstornoID      int64
	submitCancelamentoID int64
	submitBaseAID        int64
	submitBaseBID        int64
)

var jobsSubmitCmd = &cobra.Command{
	Use:   "submit <config-conciliacao-id>",
	Short: "Enqueue a reconciliation job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid config id %q", args[0])
		}

		job := &types.Job{Nome: submitNome, ConfigConciliacaoID: cfgID}
		if cmd.Flags().Changed("estorno") {
			job.ConfigEstornoID = &submitEstornoID
		}
		if cmd.Flags().Changed("cancelamento") {
			job.ConfigCancelamentoID = &submitCancelamentoID
		}
		if cmd.Flags().Changed("base-contabil") {
			job.BaseContabilID = &submitBaseAID
		}
		if cmd.Flags().Changed("base-fiscal") {
			job.BaseFiscalID = &submitBaseBID
		}

		if err := store.CreateJob(rootCtx, job); err != nil {
			return err
		}
		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(job)
		}
		printPass("Submitted job %d (config %d)", job.ID, cfgID)
		return nil
	},
}

var (
	listStatus string
	listSince  string
	listLimit  int
	listSort   string
)

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := types.JobFilter{Limit: listLimit}
		if listStatus != "" {
			status := types.JobStatus(strings.ToUpper(listStatus))
			if !status.IsValid() {
				return fmt.Errorf("invalid status %q (want PENDING, RUNNING, DONE or FAILED)", listStatus)
			}
			filter.Status = status
		}
		if listSince != "" {
			since, err := timeparsing.ParseRelativeTime(listSince, time.Now())
			if err != nil {
				return fmt.Errorf("invalid --since %q: %w", listSince, err)
			}
			filter.CreatedAfter = since
		}

		jobs, err := store.ListJobs(rootCtx, filter, types.ParseJobSortOrder(listSort))
		if err != nil {
			return err
		}

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(jobs)
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs found.")
			return nil
		}

		headers := []string{"ID", "STATUS", "STAGE", "PROGRESS", "CONFIG", "CREATED"}
		var rows, plain [][]string
		for _, job := range jobs {
			p := []string{
				strconv.FormatInt(job.ID, 10),
				string(job.Status),
				job.PipelineStage,
				fmt.Sprintf("%d%%", job.PipelineProgress),
				strconv.FormatInt(job.ConfigConciliacaoID, 10),
				job.CreatedAt.Format("2006-01-02 15:04"),
			}
			styled := append([]string{}, p...)
			styled[1] = styleJobStatus(job.Status)
			rows = append(rows, styled)
			plain = append(plain, p)
		}
		renderTable(headers, rows, plain)
		return nil
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job with its result summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid job id %q", args[0])
		}
		job, err := store.GetJob(rootCtx, id)
		if err != nil {
			return err
		}

		summary := map[string]int64{}
		if job.Status == types.JobDone {
			if summary, err = store.ResultSummary(rootCtx, id); err != nil {
				return err
			}
		}

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(struct {
				*types.Job
				Summary map[string]int64 `json:"summary,omitempty"`
			}{job, summary})
		}

		fmt.Printf("Job %d  %s\n", job.ID, styleJobStatus(job.Status))
		if job.Nome != "" {
			fmt.Printf("  nome:      %s\n", job.Nome)
		}
		fmt.Printf("  config:    %d\n", job.ConfigConciliacaoID)
		fmt.Printf("  stage:     %s (%d%%) %s\n", job.PipelineStage, job.PipelineProgress, job.PipelineStageLabel)
		if job.Erro != "" {
			fmt.Printf("  erro:      %s\n", render(failStyle, job.Erro))
		}
		if job.ArquivoExportado != "" {
			fmt.Printf("  exportado: %s (%s)\n", job.ArquivoExportado, job.ExportStatus)
		}
		for status, count := range summary {
			fmt.Printf("  %-28s %d\n", status, count)
		}
		return nil
	},
}

var jobsRequeueCmd = &cobra.Command{
	Use:   "requeue <job-id>",
	Short: "Drop a job's results and reset it to PENDING",
	Long: `Requeue is the recovery path after a failed or interrupted run: the
job's result table is dropped, its error cleared, and its status reset to
PENDING so the worker picks it up again. RUNNING jobs cannot be requeued.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid job id %q", args[0])
		}
		if err := store.RequeueJob(rootCtx, id); err != nil {
			return err
		}
		printPass("Requeued job %d", id)
		return nil
	},
}

func init() {
	jobsSubmitCmd.Flags().StringVar(&submitNome, "nome", "", "Job name")
	jobsSubmitCmd.Flags().Int64Var(&submitEstornoID, "estorno", 0, "ConfigEstorno id to apply")
	jobsSubmitCmd.Flags().Int64Var(&submitCancelamentoID, "cancelamento", 0, "ConfigCancelamento id to apply")
	jobsSubmitCmd.Flags().Int64Var(&submitBaseAID, "base-contabil", 0, "Override the CONTABIL base")
	jobsSubmitCmd.Flags().Int64Var(&submitBaseBID, "base-fiscal", 0, "Override the FISCAL base")

	jobsListCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (PENDING, RUNNING, DONE, FAILED)")
	jobsListCmd.Flags().StringVar(&listSince, "since", "", "Only jobs created after (e.g. -1d, 'yesterday', 2026-08-01)")
	jobsListCmd.Flags().IntVar(&listLimit, "limit", 0, "Maximum number of jobs")
	jobsListCmd.Flags().StringVar(&listSort, "sort", "", "Sort order (e.g. created-desc, status-asc)")

	jobsCmd.AddCommand(jobsSubmitCmd, jobsListCmd, jobsShowCmd, jobsRequeueCmd)
	rootCmd.AddCommand(jobsCmd)
}
