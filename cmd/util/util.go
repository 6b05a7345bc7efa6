package util

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/polystore/polystore/lib/adapters/fs"
	"github.com/polystore/polystore/lib/adapters/memory"
	"github.com/polystore/polystore/lib/adapters/sqlite"
	"github.com/polystore/polystore/lib/codec"
	"github.com/polystore/polystore/lib/storage"
	"github.com/polystore/polystore/lib/storage/dispatcher"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupAdapterFlags adds the backend selection flags to a command
func SetupAdapterFlags(cmd *cobra.Command) {
	key := "adapter"
	cmd.PersistentFlags().String(key, "memory", WrapString("Storage backend to use (memory, fs, sqlite)"))

	key = "name"
	cmd.PersistentFlags().String(key, "", WrapString("Instance name used in error attribution and metrics (defaults to the adapter type)"))

	key = "codec"
	cmd.PersistentFlags().String(key, "json", WrapString("Document codec for persisting backends (json, gob)"))

	key = "fs-root"
	cmd.PersistentFlags().String(key, "./data", WrapString("Root directory of the fs adapter"))

	key = "sqlite-path"
	cmd.PersistentFlags().String(key, "./polystore.db", WrapString("Database file of the sqlite adapter"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("polystore")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetLogger creates a console logger at the configured level
func GetLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}

// GetCodec creates a document codec based on configuration
func GetCodec() (codec.ICodec, error) {
	switch viper.GetString("codec") {
	case "json":
		return codec.NewJSONCodec(), nil
	case "gob":
		return codec.NewGOBCodec(), nil
	default:
		return nil, fmt.Errorf("invalid codec %s", viper.GetString("codec"))
	}
}

// GetAdapter creates the configured storage adapter
func GetAdapter() (storage.IAdapter, error) {
	name := viper.GetString("name")

	switch viper.GetString("adapter") {
	case "memory":
		opts := memory.DefaultOptions()
		if name != "" {
			opts.Name = name
		}
		return memory.New(opts), nil
	case "fs":
		c, err := GetCodec()
		if err != nil {
			return nil, err
		}
		return fs.New(&fs.Options{
			Name:   name,
			Root:   viper.GetString("fs-root"),
			Codec:  c,
			Logger: GetLogger(),
		})
	case "sqlite":
		c, err := GetCodec()
		if err != nil {
			return nil, err
		}
		return sqlite.New(&sqlite.Options{
			Name:  name,
			Path:  viper.GetString("sqlite-path"),
			Codec: c,
		})
	default:
		return nil, fmt.Errorf("invalid adapter %s", viper.GetString("adapter"))
	}
}

// GetStorage creates the configured adapter and binds a dispatcher to it
func GetStorage() (dispatcher.IStorage, error) {
	adapter, err := GetAdapter()
	if err != nil {
		return nil, err
	}
	return dispatcher.New(adapter, &dispatcher.Options{Logger: GetLogger()})
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
