// Command cardscan crops, identifies, and renames Pokémon card photos
// against a per-set reference catalog.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cardscan/internal/catalog"
	"cardscan/internal/config"
	"cardscan/internal/crop"
	"cardscan/internal/identify"
	"cardscan/internal/imageio"
	"cardscan/internal/logging"
	"cardscan/internal/memory"
	"cardscan/internal/ocr"
	"cardscan/internal/pipeline"
)

var (
	flagConfig  string
	flagVerbose bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "cardscan",
		Short:        "Identify and rename Pokémon card photos",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Setup(flagVerbose)
		},
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ~/.config/cardscan/config.toml)")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newProcessCmd())
	root.AddCommand(newCropCmd())
	root.AddCommand(newOCRCmd())
	root.AddCommand(newMemoryCmd())
	root.AddCommand(newWatchCmd())
	return root
}

func loadConfig() (*config.Config, error) {
	return config.Load(flagConfig)
}

func parseLanguages(codes []string) ([]catalog.Language, error) {
	if len(codes) == 0 {
		return catalog.Languages(), nil
	}
	var langs []catalog.Language
	for _, code := range codes {
		lang, ok := catalog.ParseLanguage(code)
		if !ok {
			return nil, fmt.Errorf("unknown language %q", code)
		}
		langs = append(langs, lang)
	}
	return langs, nil
}

func newProcessCmd() *cobra.Command {
	var (
		languages []string
		useOCR    bool
		useMatch  bool
	)
	cmd := &cobra.Command{
		Use:   "process <set folder>",
		Short: "Process every raw photo pair in a set folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			langs, err := parseLanguages(languages)
			if err != nil {
				return err
			}

			opts := identify.Options{UseOCR: useOCR, UseMatch: useMatch}
			prompter := identify.NewTerminalPrompter(os.TempDir())
			runner, err := pipeline.NewRunner(cfg, args[0], opts, prompter)
			if err != nil {
				return err
			}
			defer runner.Close()

			results := runner.Run(langs)
			pipeline.RenderSummary(os.Stdout, results, runner.Memory().Stats())
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&languages, "language", "l", nil, "languages to process (default all)")
	cmd.Flags().BoolVar(&useOCR, "ocr", true, "try OCR number lookup")
	cmd.Flags().BoolVar(&useMatch, "match", true, "try visual matching")
	return cmd
}

func newCropCmd() *cobra.Command {
	var (
		mode string
		out  string
	)
	cmd := &cobra.Command{
		Use:   "crop <image>",
		Short: "Crop a single photo and write the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			img, err := imageio.LoadMat(args[0])
			if err != nil {
				return err
			}
			defer img.Close()

			cropper := crop.New(cfg.Crop)
			var result *crop.RectifiedCrop
			switch mode {
			case "front":
				result, err = cropper.CropFront(img)
			case "back":
				result = cropper.CropBack(img)
			case "dark":
				result, err = cropper.CropDark(img)
			default:
				return fmt.Errorf("unknown crop mode %q (front, back, dark)", mode)
			}
			if err != nil {
				return err
			}
			defer result.Close()

			if result.Angle != 0 {
				fmt.Printf("Deskewed by %.2f degrees\n", result.Angle)
			}
			return imageio.SaveMat(out, result.Mat)
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", "front", "crop mode: front, back, dark")
	cmd.Flags().StringVarP(&out, "out", "o", "crop.jpg", "output file")
	return cmd
}

func newOCRCmd() *cobra.Command {
	var setCode string
	cmd := &cobra.Command{
		Use:   "ocr <cropped image>",
		Short: "Read the collector number from a cropped card front",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			img, err := imageio.LoadMat(args[0])
			if err != nil {
				return err
			}
			defer img.Close()

			totalCount := 0
			if setCode != "" {
				cat, err := catalog.Load(cfg.CatalogRoot, setCode)
				if err != nil {
					return err
				}
				totalCount = cat.TotalCount()
				cat.Close()
			}

			engine, err := ocr.NewEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			reading, err := engine.ReadNumber(img, cfg.NumberRegion(setCode), totalCount)
			if err != nil {
				return err
			}
			fmt.Println(reading)
			return nil
		},
	}
	cmd.Flags().StringVarP(&setCode, "set", "s", "", "set code for region and card-count validation")
	return cmd
}

func newMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect or reset a set's learning memory",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats <set folder>",
		Short: "Show learning statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openMemory(args[0])
			if err != nil {
				return err
			}
			stats := store.Stats()
			fmt.Printf("Learned cards:   %d\n", store.ConfirmedCount())
			fmt.Printf("Rejections:      %d\n", store.BlacklistCount())
			fmt.Printf("Processed:       %d\n", stats.TotalProcessed)
			fmt.Printf("Auto matches:    %d\n", stats.AutoMatches)
			fmt.Printf("Manual entries:  %d\n", stats.ManualEntries)
			fmt.Printf("Auto-match rate: %.1f%%\n", stats.AutoMatchRate()*100)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear <set folder>",
		Short: "Forget everything learned for a set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openMemory(args[0])
			if err != nil {
				return err
			}
			store.Clear()
			fmt.Println("Learning memory cleared.")
			return nil
		},
	})
	return cmd
}

func openMemory(setDir string) (*memory.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return memory.Open(setDir, pipeline.SetCodeFromDir(setDir), cfg.Thresholds.HashProximity)
}

func newWatchCmd() *cobra.Command {
	var (
		language string
		useOCR   bool
		useMatch bool
	)
	cmd := &cobra.Command{
		Use:   "watch <set folder>",
		Short: "Watch a language folder and process photo pairs as they arrive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			lang, ok := catalog.ParseLanguage(language)
			if !ok {
				return fmt.Errorf("unknown language %q", language)
			}

			opts := identify.Options{UseOCR: useOCR, UseMatch: useMatch}
			prompter := identify.NewTerminalPrompter(os.TempDir())
			runner, err := pipeline.NewRunner(cfg, args[0], opts, prompter)
			if err != nil {
				return err
			}
			defer runner.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runner.Watch(ctx, lang)
		},
	}
	cmd.Flags().StringVarP(&language, "language", "l", "EN", "language folder to watch")
	cmd.Flags().BoolVar(&useOCR, "ocr", true, "try OCR number lookup")
	cmd.Flags().BoolVar(&useMatch, "match", true, "try visual matching")
	return cmd
}
