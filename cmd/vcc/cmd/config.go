package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/vidcompose/vidcompose/pkg/auth"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Client configuration and key management",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	Long:  `Creates $HOME/.vidcompose/config.yaml with the current server URL and API key so they don't have to be passed on every invocation.`,
	RunE:  runConfigInit,
}

var configKeygenCmd = &cobra.Command{
	Use:   "keygen <identity>",
	Short: "Generate a new API key",
	Long: `Generates a random API key for an identity and prints both the plaintext
key (give this to the client) and the hashed key-file line (append this to
the server's key file). The plaintext is shown once and not stored.`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigKeygen,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configKeygenCmd)
}

type clientConfig struct {
	ServerURL string `yaml:"server_url"`
	APIKey    string `yaml:"api_key,omitempty"`
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to find home directory: %w", err)
	}

	configDir := filepath.Join(home, ".vidcompose")
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", configDir, err)
	}

	path := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists, remove it first to re-initialize", path)
	}

	data, err := yaml.Marshal(clientConfig{
		ServerURL: GetServerURL(),
		APIKey:    apiKey,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	fmt.Printf("✓ Wrote %s\n", path)
	return nil
}

func runConfigKeygen(cmd *cobra.Command, args []string) error {
	identity := args[0]

	key, err := auth.GenerateKey(identity)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash key: %w", err)
	}

	fmt.Printf("API key (give to client, shown once):\n  %s\n\n", key)
	fmt.Printf("Key file line (append to server key file):\n  %s:%s\n", identity, string(hash))
	return nil
}
