package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/engardedata/engarde-chat/internal/chat"
	"github.com/engardedata/engarde-chat/internal/services"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "engarde",
		Short:        "En Garde Data site assistant",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/engarde/config.yaml)")

	cmd.AddCommand(
		newServeCmd(opts),
		newChatCmd(opts),
		newImportCmd(opts),
	)
	return cmd
}

// load reads the config and builds the logger every command shares.
func (o *rootOptions) load() (config, *slog.Logger, error) {
	path := o.configPath
	if path == "" {
		var err error
		if path, err = defaultConfigPath(); err != nil {
			return config{}, nil, err
		}
	}

	cfg, err := loadConfig(path)
	if err != nil {
		return config{}, nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.logLevel()}))
	return cfg, logger, nil
}

func openStore(cfg config) (services.BoltDB, error) {
	path := cfg.StorePath
	if path == "" {
		cfgDir, err := os.UserConfigDir()
		if err != nil {
			return services.BoltDB{}, fmt.Errorf("error getting user config dir: %w", err)
		}
		path = filepath.Join(cfgDir, "engarde", "store.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return services.BoltDB{}, fmt.Errorf("error creating store directory: %w", err)
	}
	return services.NewBoltDB(path)
}

func importContent(ctx context.Context, store services.BoltDB, path string) (services.Content, error) {
	content, err := services.LoadContentFile(path)
	if err != nil {
		return services.Content{}, err
	}
	if err := store.ReplaceContent(ctx, content.Posts, content.PortfolioItems); err != nil {
		return services.Content{}, fmt.Errorf("error storing content: %w", err)
	}
	return content, nil
}

// newStreamClient builds the stream client of the configured provider. The credential is resolved here,
// once; when it is missing the client is built without a provider and answers with the unavailable notice.
func newStreamClient(ctx context.Context, cfg config, logger *slog.Logger) (chat.StreamClient, error) {
	store, err := openStore(cfg)
	if err != nil {
		return chat.StreamClient{}, err
	}
	defer store.Close()

	if cfg.ContentFile != "" {
		if _, err := importContent(ctx, store, cfg.ContentFile); err != nil {
			return chat.StreamClient{}, err
		}
	}

	posts, err := store.Posts(ctx)
	if err != nil {
		return chat.StreamClient{}, fmt.Errorf("error reading posts: %w", err)
	}
	items, err := store.PortfolioItems(ctx)
	if err != nil {
		return chat.StreamClient{}, fmt.Errorf("error reading portfolio items: %w", err)
	}

	instruction, err := chat.BuildInstruction(cfg.Site, posts, items)
	if err != nil {
		return chat.StreamClient{}, err
	}

	provider, err := cfg.LLM.provider(ctx, logger)
	switch {
	case errors.Is(err, services.ErrMissingAPIKey):
		logger.Warn("No API key configured, the assistant will report itself unavailable")
		provider = nil
	case err != nil:
		return chat.StreamClient{}, err
	}

	logger.Info("Stream client ready",
		slog.Int("posts", len(posts)),
		slog.Int("portfolioItems", len(items)),
		slog.Bool("available", provider != nil))

	return chat.NewStreamClient(provider, instruction, logger), nil
}

func sessionOptions(cfg config, logger *slog.Logger) []chat.SessionOption {
	return []chat.SessionOption{
		chat.WithGreeting(cfg.Greeting),
		chat.WithTurnTimeout(cfg.TurnTimeout),
		chat.WithLogger(logger),
	}
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <content.yaml>",
		Short: "Replace the stored blog posts and portfolio items with the content of a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			content, err := importContent(cmd.Context(), store, args[0])
			if err != nil {
				return err
			}

			logger.Info("Imported content",
				slog.Int("posts", len(content.Posts)),
				slog.Int("portfolioItems", len(content.PortfolioItems)))
			return nil
		},
	}
}
