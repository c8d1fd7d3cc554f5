// Package main provides the llmserv CLI entry point.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dumitrescustefan/llm-serv/llm"
	"github.com/dumitrescustefan/llm-serv/registry"
	"github.com/dumitrescustefan/llm-serv/server"
	"github.com/dumitrescustefan/llm-serv/storage"
)

var (
	modelsPath string
	addr       string
	usageDB    string
	provider   string
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "llmserv",
		Short: "Uniform chat gateway over multiple LLM vendor backends",
		Long: `llmserv exposes a single chat API and dispatches requests to cloud
LLM backends, normalizing conversation format, enforcing structured
output and translating vendor errors into a stable taxonomy.`,
	}

	rootCmd.PersistentFlags().StringVar(&modelsPath, "models", "models.yaml", "path to the model/provider registry")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.Load(modelsPath)
			if err != nil {
				return err
			}

			opts := []llm.Option{}
			if usageDB != "" {
				store, err := storage.Open(usageDB)
				if err != nil {
					return err
				}
				defer store.Close()
				opts = append(opts, llm.WithRecorder(store))
			}

			dispatcher := llm.NewDispatcher(reg, opts...)
			defer dispatcher.Close()

			log.Printf("llmserv listening on %s (%d models)", addr, len(reg.Models("")))
			return http.ListenAndServe(addr, server.New(dispatcher).Handler())
		},
	}
	serveCmd.Flags().StringVar(&addr, "addr", ":9999", "listen address")
	serveCmd.Flags().StringVar(&usageDB, "usage-db", "", "SQLite path for per-dispatch usage accounting (disabled when empty)")

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "List registered models",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.Load(modelsPath)
			if err != nil {
				return err
			}
			for _, m := range reg.Models(provider) {
				fmt.Printf("%s\t(max_tokens=%d, max_output_tokens=%d)\n", m.ID, m.MaxTokens, m.MaxOutputTokens)
			}
			return nil
		},
	}
	modelsCmd.Flags().StringVar(&provider, "provider", "", "filter by provider name")

	checkCmd := &cobra.Command{
		Use:   "check MODEL_ID",
		Short: "Check provider credentials for a model without calling it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.Load(modelsPath)
			if err != nil {
				return err
			}
			dispatcher := llm.NewDispatcher(reg)
			if err := dispatcher.CheckCredentials(args[0]); err != nil {
				return err
			}
			fmt.Printf("credentials ok for %s\n", args[0])
			return nil
		},
	}

	rootCmd.AddCommand(serveCmd, modelsCmd, checkCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
