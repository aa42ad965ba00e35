package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/vidcompose/vidcompose/pkg/models"
)

var (
	listStatus   string
	listPriority string
	listLimit    int
	followStatus bool
	downloadOut  string
)

// jobsCmd represents the jobs command
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage composition jobs",
	Long:  `Commands for listing, inspecting, cancelling and downloading composition jobs.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Get job status",
	Long:  `Retrieve the current status of a job, including progress and state history.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job",
	Long:  `Cancel a queued or in-flight job. Cancelling a finished job is a no-op.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsCancel,
}

var jobsDownloadCmd = &cobra.Command{
	Use:   "download <job-id>",
	Short: "Download the rendered output of a completed job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsDownload,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsCancelCmd)
	jobsCmd.AddCommand(jobsDownloadCmd)

	jobsListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (pending, processing, completed, failed, cancelled)")
	jobsListCmd.Flags().StringVar(&listPriority, "priority", "", "filter by priority (high, normal, low)")
	jobsListCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum jobs to return")

	jobsStatusCmd.Flags().BoolVar(&followStatus, "follow", false, "poll job status every 2 seconds until it finishes")

	jobsDownloadCmd.Flags().StringVarP(&downloadOut, "out", "o", "", "output file (default: <job-id>.<format>)")
}

type jobsListResponse struct {
	Jobs  []models.Job `json:"jobs"`
	Count int          `json:"count"`
}

func runJobsList(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/jobs?status=%s&priority=%s", GetServerURL(), listStatus, listPriority)
	if listLimit > 0 {
		url = fmt.Sprintf("%s&limit=%d", url, listLimit)
	}

	var result jobsListResponse
	if err := getJSON(url, &result); err != nil {
		return err
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Job ID", "Status", "Priority", "Progress", "Webhook", "Created")

	for _, job := range result.Jobs {
		webhook := "-"
		if job.WebhookURL != "" {
			webhook = string(job.WebhookStatus)
			if webhook == "" {
				webhook = "pending"
			}
		}
		table.Append(
			shortID(job.ID),
			string(job.Status),
			string(job.Priority),
			fmt.Sprintf("%d%%", job.Progress),
			webhook,
			job.CreatedAt.Format("2006-01-02 15:04"),
		)
	}

	table.Render()
	fmt.Printf("\nTotal jobs: %d\n", result.Count)
	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	if followStatus {
		fmt.Printf("Following job %s (press Ctrl+C to stop)...\n\n", jobID)
		for {
			job, err := fetchJob(jobID)
			if err != nil {
				return err
			}
			fmt.Print("\033[H\033[2J")
			displayJob(job)
			if models.IsTerminalState(job.Status) {
				fmt.Println("\n✓ Job finished")
				return nil
			}
			time.Sleep(2 * time.Second)
		}
	}

	job, err := fetchJob(jobID)
	if err != nil {
		return err
	}
	displayJob(job)
	return nil
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	jobID := args[0]
	url := fmt.Sprintf("%s/jobs/%s", GetServerURL(), jobID)

	httpReq, err := NewAuthenticatedRequest(http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := GetHTTPClient().Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	fmt.Printf("✓ Cancellation requested for job %s\n", jobID)
	return nil
}

func runJobsDownload(cmd *cobra.Command, args []string) error {
	jobID := args[0]
	url := fmt.Sprintf("%s/jobs/%s/download", GetServerURL(), jobID)

	httpReq, err := NewAuthenticatedRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := GetHTTPClient().Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	out := downloadOut
	if out == "" {
		out = jobID + ".mp4"
	}
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", out, err)
	}
	defer f.Close()

	n, err := io.Copy(f, resp.Body)
	if err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	fmt.Printf("✓ Saved %d bytes to %s\n", n, out)
	return nil
}

func fetchJob(jobID string) (*models.Job, error) {
	var job models.Job
	if err := getJSON(fmt.Sprintf("%s/jobs/%s", GetServerURL(), jobID), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func displayJob(job *models.Job) {
	if IsJSONOutput() {
		output, _ := json.MarshalIndent(job, "", "  ")
		fmt.Println(string(output))
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")

	table.Append("Job ID", job.ID)
	table.Append("Status", string(job.Status))
	table.Append("Priority", string(job.Priority))
	table.Append("Progress", fmt.Sprintf("%d%%", job.Progress))
	table.Append("Created At", job.CreatedAt.Format(time.RFC3339))

	if job.StartedAt != nil {
		table.Append("Started At", job.StartedAt.Format(time.RFC3339))
	}
	if job.FinishedAt != nil {
		table.Append("Finished At", job.FinishedAt.Format(time.RFC3339))
	}
	if job.OutputRef != "" {
		table.Append("Output", job.OutputRef)
	}
	if job.Error != nil {
		table.Append("Error", fmt.Sprintf("%s: %s", job.Error.Code, job.Error.Message))
	}
	if job.WebhookURL != "" {
		table.Append("Webhook", string(job.WebhookStatus))
	}

	table.Render()

	if len(job.StateTransitions) > 0 {
		fmt.Println("\nState history:")
		for _, tr := range job.StateTransitions {
			fmt.Printf("  %s  %s -> %s", tr.Timestamp.Format(time.RFC3339), tr.From, tr.To)
			if tr.Reason != "" {
				fmt.Printf("  (%s)", tr.Reason)
			}
			fmt.Println()
		}
	}
}

func getJSON(url string, v interface{}) error {
	httpReq, err := NewAuthenticatedRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := GetHTTPClient().Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
