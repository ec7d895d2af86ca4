// Точка входа certledger — реестр доверия к сертификатам файлов.
// Команды: serve (HTTP API), migrate (миграции PostgreSQL) и прямые
// операции над реестром от имени оператора.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bigkaa/certledger/internal/config"
)

const programName = "certledger"

// app — общее состояние команд: конфигурация и логгер.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCommand собирает дерево команд.
func newRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:          programName,
		Short:        "Реестр доверия к сертификатам файлов",
		Version:      config.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// hash не обращается к хранилищу и не требует конфигурации
			if cmd.Name() == "hash" {
				return nil
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			if cmd.Name() == "serve" {
				a.logger = config.SetupLogger(cfg)
			} else {
				a.logger = config.NewLogger(cfg, cmd.ErrOrStderr())
			}
			return nil
		},
	}

	rootCmd.AddCommand(
		serveCommand(a),
		migrateCommand(a),
		initializeCommand(a),
		registerCommand(a),
		approveCommand(a),
		rejectCommand(a),
		getCommand(a),
		verifyCommand(a),
		hashCommand(),
	)

	rootCmd.SetErrPrefix(programName + ":")
	return rootCmd
}

// printJSON выводит v в формате JSON с отступами.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("вывод JSON: %w", err)
	}
	return nil
}
