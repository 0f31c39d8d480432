package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CodingDoug/universal-translator/internal/cfg"
	"github.com/CodingDoug/universal-translator/internal/recording"
	"github.com/CodingDoug/universal-translator/internal/speech"
)

type audioFlags struct {
	file        string
	contentType string
	encoding    string
	sampleRate  int
	language    string
}

func (f *audioFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "local audio file")
	cmd.Flags().StringVar(&f.contentType, "content-type", "audio/amr", "MIME type of the audio")
	cmd.Flags().StringVar(&f.encoding, "encoding", "AMR", "audio encoding name")
	cmd.Flags().IntVar(&f.sampleRate, "sample-rate", 8000, "sample rate in hertz")
	cmd.Flags().StringVarP(&f.language, "language", "l", "en-US", "spoken language code")
	_ = cmd.MarkFlagRequired("file")
}

func newSeedCmd() *cobra.Command {
	var audio audioFlags
	var owner string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a recording record and upload a local audio file for it",
		Long: `seed writes a metadata record and uploads the audio to the recordings
bucket, the same way a client does. The running service picks up the upload
and fills in the translations.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), cmd.OutOrStdout(), owner, audio)
		},
	}
	cmd.Flags().StringVarP(&owner, "owner", "o", "", "owner id (random when empty)")
	audio.register(cmd)
	return cmd
}

func runSeed(ctx context.Context, out io.Writer, owner string, audio audioFlags) error {
	config, err := cfg.LoadConfig()
	if err != nil {
		return err
	}
	if err := config.ValidateStorage(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	file, err := os.Open(audio.file)
	if err != nil {
		return err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return err
	}

	mongoClient, store, err := connectStore(ctx, config)
	if err != nil {
		return err
	}
	defer func() { _ = mongoClient.Disconnect(context.Background()) }()

	blobs, err := recording.NewMinioBlobs(config.MinioEndpoint, config.MinioAccessKey, config.MinioSecretKey, config.MinioUseSSL, config.MinioBucket)
	if err != nil {
		return fmt.Errorf("init minio: %w", err)
	}

	if owner == "" {
		owner = uuid.NewString()
	}
	id := uuid.NewString()
	key := recording.ObjectPath(owner, id)

	rec := recording.Record{
		ID:          id,
		OwnerID:     owner,
		StoragePath: "/" + key,
		ContentType: audio.contentType,
		Encoding:    audio.encoding,
		SampleRate:  audio.sampleRate,
		Language:    audio.language,
		TimeCreated: time.Now().UTC(),
	}
	if err := store.Insert(ctx, rec); err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	if err := blobs.Put(ctx, key, audio.contentType, file, info.Size()); err != nil {
		return fmt.Errorf("upload audio: %w", err)
	}

	_, _ = fmt.Fprintf(out, "ok %s %s\n", id, blobs.URI(key))
	return nil
}

type localAudio struct {
	path string
}

func (l localAudio) Open(_ context.Context, uri string) (io.ReadCloser, error) {
	if uri != "file://"+l.path {
		return nil, errors.New("unknown audio location " + uri)
	}
	return os.Open(l.path)
}

func newTranscribeCmd() *cobra.Command {
	var audio audioFlags

	cmd := &cobra.Command{
		Use:   "transcribe",
		Short: "Run speech recognition on a local audio file and print the transcript",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := cfg.LoadConfig()
			if err != nil {
				return err
			}
			if config.OpenAIAPIKey == "" {
				return errors.New("OPENAI_API_KEY must be set")
			}

			openaiConfig := openai.DefaultConfig(config.OpenAIAPIKey)
			if config.OpenAIBaseURL != "" {
				openaiConfig.BaseURL = config.OpenAIBaseURL
			}
			engine := speech.NewWhisperEngine(openai.NewClientWithConfig(openaiConfig), localAudio{path: audio.file}, config.WhisperModel, zap.NewNop())

			transcript, err := speech.NewRecognizer(engine).Recognize(cmd.Context(), "file://"+audio.file, audio.encoding, audio.sampleRate, audio.language)
			if err != nil {
				return err
			}
			cmd.Println(transcript)
			return nil
		},
	}
	audio.register(cmd)
	return cmd
}
