package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"transcript-rag/internal/config"
	"transcript-rag/internal/embedding"
	"transcript-rag/internal/helper"
	"transcript-rag/internal/rag"
	"transcript-rag/internal/store"
	"transcript-rag/internal/synthesis"
)

const defaultConfigPath = "./configs/config.yaml"

var (
	cfgPath string
	verbose bool
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "transcript-rag",
	Short: "Index voice transcripts and answer questions over them",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		if verbose {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

		// secrets may live in .env next to the binary
		_ = godotenv.Load()

		var err error
		cfg, err = config.LoadConfig(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the chunk table and vector index if absent",
	RunE: func(cmd *cobra.Command, args []string) error {
		// init only touches the store; no provider clients needed
		if !cfg.RAG.Enabled {
			return fmt.Errorf("rag feature is disabled: set rag.enabled to true in %s", cfgPath)
		}
		st, err := store.Open(&cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer st.Close()

		if err := st.EnsureIndex(cmd.Context(), cfg.RAG.EmbeddingDim); err != nil {
			return err
		}
		count, err := st.Count(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("index ready (%s backend, dimension %d, %d chunks)\n",
			cfg.Database.Backend, cfg.RAG.EmbeddingDim, count)
		return nil
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <transcript-file>",
	Short: "Chunk, embed and index one transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		documentID, _ := cmd.Flags().GetString("id")
		tag, _ := cmd.Flags().GetString("tag")

		text, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		if documentID == "" {
			if documentID, err = helper.GenerateUUID(); err != nil {
				return err
			}
		}

		svc, st, err := buildService(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		metadata := map[string]string{
			"file_path":   args[0],
			"recorded_at": time.Now().Format("2006-01-02 15:04"),
		}
		if tag != "" {
			metadata["tag"] = tag
		}
		if err := svc.Ingest(cmd.Context(), documentID, string(text), metadata); err != nil {
			return err
		}
		fmt.Printf("indexed %s as document %s\n", args[0], documentID)
		return nil
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill <glob>",
	Short: "Index historical transcripts matching a glob pattern",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		matches, err := filepath.Glob(args[0])
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			return fmt.Errorf("no files match %q", args[0])
		}

		svc, st, err := buildService(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		var failed int
		for _, path := range matches {
			text, err := os.ReadFile(path)
			if err != nil {
				log.Error().Err(err).Str("file", path).Msg("skipping unreadable file")
				failed++
				continue
			}
			documentID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			metadata := map[string]string{"file_path": path}
			if err := svc.Backfill(cmd.Context(), documentID, string(text), metadata); err != nil {
				log.Error().Err(err).Str("document_id", documentID).Msg("backfill failed")
				failed++
			}
		}
		fmt.Printf("backfill complete: %d indexed, %d failed\n", len(matches)-failed, failed)
		if failed > 0 {
			return fmt.Errorf("%d of %d documents failed", failed, len(matches))
		}
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from the indexed transcripts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, _ := cmd.Flags().GetInt("top-k")
		question := strings.Join(args, " ")

		svc, st, err := buildService(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		stream, err := svc.Answer(cmd.Context(), question, k, nil)
		if err != nil {
			return err
		}
		if len(stream.Contexts()) == 0 {
			fmt.Println("(no matching transcripts found; answering without context)")
		}

		for fragment := range stream.Fragments() {
			fmt.Print(fragment)
		}
		fmt.Println()

		_, cited, err := stream.Result()
		if err != nil {
			return fmt.Errorf("answer failed: %w", err)
		}
		if len(cited) > 0 {
			fmt.Println("\nSources:")
			for _, c := range cited {
				fmt.Printf("  [%s #%d] score %.3f", c.Chunk.DocumentID, c.Chunk.Ordinal, c.Score)
				if v := c.Chunk.Metadata["file_path"]; v != "" {
					fmt.Printf(" %s", v)
				}
				fmt.Println()
			}
		}
		if verbose {
			if err := helper.PrettyPrint(stream.Contexts()); err != nil {
				log.Warn().Err(err).Msg("could not render contexts")
			}
		}
		return nil
	},
}

// buildService wires store, embedder and synthesizer from config and
// establishes the vector index.
func buildService(ctx context.Context) (*rag.Service, store.Store, error) {
	st, err := store.Open(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM, cfg.RAG.EmbeddingDim, cfg.RAG.EmbedBatchSize)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	synth, err := synthesis.NewSynthesizer(&cfg.CompletionLLM, cfg.RAG.ContextMaxChunks, cfg.RAG.ContextMaxChars)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	svc, err := rag.NewService(&cfg.RAG, st, embedder, synth)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	svc.SetChatLogger(chatLogger{})

	if err := svc.EnsureIndex(ctx); err != nil {
		st.Close()
		if errors.Is(err, rag.ErrDisabled) {
			return nil, nil, fmt.Errorf("rag feature is disabled: set rag.enabled to true in %s", cfgPath)
		}
		return nil, nil, err
	}
	return svc, st, nil
}

// chatLogger records completed exchanges to the application log.
type chatLogger struct{}

func (chatLogger) Record(_ context.Context, entry rag.ChatEntry) {
	log.Info().
		Str("question", entry.Question).
		Int("contexts", len(entry.Contexts)).
		Int("cited", len(entry.Cited)).
		Msg("answer recorded")
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultConfigPath, "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	ingestCmd.Flags().String("id", "", "document id (generated when omitted)")
	ingestCmd.Flags().String("tag", "", "tag stored with every chunk")
	askCmd.Flags().Int("top-k", 0, "number of chunks to retrieve (default from config)")
	rootCmd.AddCommand(initCmd, ingestCmd, backfillCmd, askCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
