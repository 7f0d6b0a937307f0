package commands

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	sshpkg "golang.org/x/crypto/ssh"

	"github.com/stagecast/stagecast/pkg/stores"
)

const defaultConfigFile = `# Stagecast configuration

# Default stage environment
environment: base

# Host inventory
inventory: hosts.yaml

# Rego policies gating stage documents (empty disables gating)
policy_dir: policies

# Pass history
store:
  enabled: true
  path: stagecast.db

# Fleet dispatch defaults
ssh:
  user: root
  port: 22
  private_key_path: keys/default-ed25519
  strict_host_key_checking: false
  connect_timeout: 15s
  exec_timeout: 5m
  runner_path: /tmp/stage-runner

logging:
  level: info
  format: console
`

const defaultInventoryFile = `# Stagecast host inventory
hosts:
  - id: web1
    address: 10.0.0.11
    labels:
      role: web
  - id: web2
    address: 10.0.0.12
    labels:
      role: web
  - id: db1
    address: 10.0.0.21
    labels:
      role: db
`

const defaultStageDocument = `# Stagecast stage document
environment: base

mysql:
  match: 'role=db'
  highstate: true

webserver:
  match: 'role=web'
  highstate: true
  require:
    - mysql
`

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a Stagecast workspace",
		Long: `Initialize a new Stagecast workspace in the current directory.

This command creates:
  - stagecast.yaml with commented defaults
  - hosts.yaml with a sample inventory
  - stages/site.yaml with a sample stage document
  - policies/ for Rego policies
  - the SQLite pass history database
  - a default ed25519 SSH keypair`,
		Example: `  # Initialize a workspace
  stagecast init

  # Overwrite existing workspace files
  stagecast init --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Info().
				Str("config", configPath).
				Bool("force", force).
				Msg("Initializing workspace")

			ctx := context.Background()

			fmt.Printf("Initializing Stagecast workspace\n\n")

			for _, dir := range []string{"stages", "policies", "keys"} {
				if err := os.MkdirAll(dir, 0700); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", dir, err)
				}
				fmt.Printf("✓ Created directory: %s\n", dir)
			}

			files := []struct {
				path    string
				content string
			}{
				{configPath, defaultConfigFile},
				{"hosts.yaml", defaultInventoryFile},
				{filepath.Join("stages", "site.yaml"), defaultStageDocument},
			}
			for _, f := range files {
				if _, err := os.Stat(f.path); err == nil && !force {
					fmt.Printf("✓ Already exists: %s\n", f.path)
					continue
				}
				if err := os.WriteFile(f.path, []byte(f.content), 0644); err != nil {
					return fmt.Errorf("failed to write %s: %w", f.path, err)
				}
				fmt.Printf("✓ Created file: %s\n", f.path)
			}

			store, err := stores.NewSQLiteStore(stores.Config{Path: "stagecast.db"})
			if err != nil {
				return fmt.Errorf("failed to create store: %w", err)
			}
			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			if err := store.Close(); err != nil {
				return fmt.Errorf("failed to close store: %w", err)
			}
			fmt.Printf("✓ Initialized pass history database: stagecast.db\n")

			keyPath := filepath.Join("keys", "default-ed25519")
			if _, err := os.Stat(keyPath); os.IsNotExist(err) {
				if err := generateKeypair(keyPath); err != nil {
					return err
				}
				fmt.Printf("✓ Generated SSH keypair: %s\n", keyPath)
			} else {
				fmt.Printf("✓ SSH keypair already exists: %s\n", keyPath)
			}

			fmt.Printf("\n✅ Workspace initialized successfully!\n\n")
			fmt.Printf("Next steps:\n")
			fmt.Printf("  1. Edit hosts.yaml with your fleet\n")
			fmt.Printf("  2. Show the sample plan:\n")
			fmt.Printf("     stagecast show stages/site.yaml\n\n")
			fmt.Printf("  3. Run a pass:\n")
			fmt.Printf("     stagecast run stages/site.yaml\n\n")

			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing workspace files")

	return cmd
}

// generateKeypair writes an ed25519 SSH keypair at path and path.pub.
func generateKeypair(path string) error {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate keypair: %w", err)
	}

	privKeyBytes, err := sshpkg.MarshalPrivateKey(privKey, "")
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}
	privPEM := pem.EncodeToMemory(privKeyBytes)
	if err := os.WriteFile(path, privPEM, 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}

	sshPubKey, err := sshpkg.NewPublicKey(pubKey)
	if err != nil {
		return fmt.Errorf("failed to create SSH public key: %w", err)
	}
	pubKeyStr := sshpkg.MarshalAuthorizedKey(sshPubKey)
	if err := os.WriteFile(path+".pub", pubKeyStr, 0644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}
	return nil
}
