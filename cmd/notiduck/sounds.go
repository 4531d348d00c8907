package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/notiduck/notiduck/internal/config"
)

// soundsCmd lists the sound aliases defined in the config file.
var soundsCmd = &cobra.Command{
	Use:   "sounds",
	Short: "List configured sound aliases",
	Long: `List the sound aliases defined in the [sounds] section of the
config file, along with the file each alias points at.`,
	RunE: runSounds,
}

func init() {
	rootCmd.AddCommand(soundsCmd)
}

func runSounds(cmd *cobra.Command, args []string) error {
	if len(cfg.Sounds) == 0 {
		fmt.Println("No sound aliases configured.")
		fmt.Println("Define aliases in the [sounds] section of ~/.config/notiduck/config.toml.")
		return nil
	}

	aliases := make([]string, 0, len(cfg.Sounds))
	for alias := range cfg.Sounds {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	for _, alias := range aliases {
		path := config.ExpandPath(cfg.Sounds[alias])

		info, err := os.Stat(path)
		if err != nil {
			fmt.Printf("  %-16s %s (missing)\n", alias, path)
			continue
		}
		fmt.Printf("  %-16s %s (%s, modified %s)\n",
			alias, path,
			humanize.Bytes(uint64(info.Size())),
			humanize.Time(info.ModTime()))
	}
	return nil
}
