package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vidcompose/vidcompose/pkg/models"
)

var (
	composePriority string
	composeWebhook  string
)

// composeCmd represents the compose command
var composeCmd = &cobra.Command{
	Use:   "compose <composition-file>",
	Short: "Submit a composition job",
	Long: `Submit a composition described in a YAML or JSON file. The file lists
the scenes, audio and video settings; source IDs must reference media
already uploaded under your identity.`,
	Args: cobra.ExactArgs(1),
	RunE: runCompose,
}

func init() {
	rootCmd.AddCommand(composeCmd)

	composeCmd.Flags().StringVar(&composePriority, "priority", "normal", "job priority (high, normal, low)")
	composeCmd.Flags().StringVar(&composeWebhook, "webhook", "", "URL notified when the job finishes")
}

// compositionFile mirrors the POST /compose body; YAML tags let the
// same struct read both formats.
type compositionFile struct {
	Scenes     []models.Scene        `json:"scenes" yaml:"scenes"`
	Audio      *models.AudioSettings `json:"audio,omitempty" yaml:"audio,omitempty"`
	Video      models.VideoSettings  `json:"video" yaml:"video"`
	WebhookURL string                `json:"webhook_url,omitempty" yaml:"webhook_url,omitempty"`
	Priority   string                `json:"priority,omitempty" yaml:"priority,omitempty"`
}

func runCompose(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	var file compositionFile
	switch filepath.Ext(path) {
	case ".json":
		if err := json.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if composeWebhook != "" {
		file.WebhookURL = composeWebhook
	}
	if file.Priority == "" {
		file.Priority = composePriority
	}

	reqBody, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/compose", GetServerURL())
	httpReq, err := NewAuthenticatedRequest(http.MethodPost, url, bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := GetHTTPClient().Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("rate limited, retry after %s seconds", resp.Header.Get("Retry-After"))
	}
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var job models.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(job, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Job ID", job.ID)
	table.Append("Status", string(job.Status))
	table.Append("Priority", string(job.Priority))
	table.Append("Scenes", fmt.Sprintf("%d", len(file.Scenes)))
	table.Append("Created At", job.CreatedAt.Format(time.RFC3339))
	table.Render()

	fmt.Printf("\nJob submitted! Track it with: vcc jobs status %s\n", job.ID)
	return nil
}
