package main

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kittclouds/storykeep/pkg/imagegen"
)

func newImageCommand(flags *globalFlags) *cobra.Command {
	imageCommand := &cobra.Command{
		Use:   "image",
		Short: "Generate and store character images",
	}
	imageCommand.AddCommand(
		newImageGenerateCommand(flags),
		&cobra.Command{
			Use:   "save <character id> <file>",
			Short: "Store an image file as the character's picture",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				charID, err := parseID(args[0])
				if err != nil {
					return err
				}
				blob, err := os.ReadFile(args[1])
				if err != nil {
					return fmt.Errorf("read image: %w", err)
				}
				return flags.run(cmd, func(ctx context.Context, a *app) error {
					img, err := a.session.SaveCharacterImage(ctx, charID, blob)
					if err != nil {
						return err
					}
					a.ok("Saved image %s for character %d", img.ImageID, charID)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "purge-orphans",
			Short: "Delete images whose character no longer exists",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return flags.run(cmd, func(ctx context.Context, a *app) error {
					n, err := a.session.PurgeOrphanImages(ctx)
					if err != nil {
						return err
					}
					a.ok("Deleted %d orphaned images", n)
					return nil
				})
			},
		},
	)
	return imageCommand
}

func newImageGenerateCommand(flags *globalFlags) *cobra.Command {
	var (
		save    bool
		outFile string
	)
	cmd := &cobra.Command{
		Use:   "generate <book id> <character id>",
		Short: "Generate a portrait for a character",
		Long: "Generate a portrait from the character's description. The image is only\n" +
			"stored with --save; --out writes it to a file.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			charID, err := parseID(args[1])
			if err != nil {
				return err
			}
			if !save && outFile == "" {
				return fmt.Errorf("pass --save and/or --out, otherwise the generated image is discarded")
			}

			return flags.run(cmd, func(ctx context.Context, a *app) error {
				gen := newGenerator(a)
				defer gen.Close()

				cand, err := a.session.GenerateCharacterImage(ctx, gen, args[0], charID)
				if err != nil {
					return err
				}
				if cand.RevisedPrompt != "" {
					a.log.Debug("Service revised the prompt", zap.String("prompt", cand.RevisedPrompt))
				}
				if outFile != "" {
					if err := atomic.WriteFile(outFile, bytes.NewReader(cand.Bytes)); err != nil {
						return fmt.Errorf("failed to write image file: %w", err)
					}
					a.ok("Wrote %s (%s, %d bytes)", outFile, cand.MIME, len(cand.Bytes))
				}
				if save {
					img, err := a.session.SaveCharacterImage(ctx, charID, cand.Bytes)
					if err != nil {
						return err
					}
					a.ok("Saved image %s for character %d", img.ImageID, charID)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "store the generated image")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "also write the image to this file")
	return cmd
}

func newGenerator(a *app) *imagegen.Client {
	c := a.cfg.ImageGen
	return imagegen.NewClient(imagegen.Config{
		BaseURL:     c.BaseURL,
		APIKey:      c.APIKey,
		Model:       c.Model,
		Size:        c.Size,
		Timeout:     c.Timeout,
		MaxAttempts: c.MaxAttempts,
		Logger:      a.log.Named("imagegen"),
	})
}
