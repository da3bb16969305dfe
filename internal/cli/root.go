// Package cli содержит команды операторской утилиты leadmatchctl.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mmeshcher/leadmatch/internal/model"
	"github.com/mmeshcher/leadmatch/internal/repository"
	"github.com/mmeshcher/leadmatch/internal/service"
)

const databaseURIEnv = "DATABASE_URI"

// app хранит зависимости, открытые для выполнения одной команды.
type app struct {
	dsn     string
	verbose bool

	store repository.Store
	svc   *service.Service
}

// Run выполняет команду leadmatchctl с аргументами args и закрывает хранилище по завершении.
func Run(args []string, stdout, stderr io.Writer) error {
	a := &app{}
	defer a.close()

	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	return root.Execute()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "leadmatchctl",
		Short: "Operator tool for lead orders and assignments",
		Long: `leadmatchctl works directly against the leadmatch database: it creates and
inspects orders, previews recommendations, assigns leads and runs the expiry sweep.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open()
		},
	}

	root.PersistentFlags().StringVarP(&a.dsn, "database", "d", "", "database URI (default $DATABASE_URI)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log service events to stderr")

	root.AddCommand(a.ordersCmd())
	root.AddCommand(a.recommendCmd())
	root.AddCommand(a.assignCmd())
	root.AddCommand(a.sweepCmd())
	root.AddCommand(a.leadsCmd())

	return root
}

func (a *app) open() error {
	dsn := a.dsn
	if dsn == "" {
		dsn = os.Getenv(databaseURIEnv)
	}

	store, err := repository.Open(dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	logger := zap.NewNop()
	if a.verbose {
		logger, err = zap.NewDevelopment()
		if err != nil {
			store.Close()
			return fmt.Errorf("create logger: %w", err)
		}
	}

	a.store = store
	a.svc = service.NewService(store, store, logger, nil)
	return nil
}

func (a *app) close() error {
	if a.svc == nil {
		return nil
	}
	err := a.svc.Close()
	a.svc = nil
	a.store = nil
	return err
}

// statusLabel раскрашивает статус заявки для вывода в терминал.
func statusLabel(s model.OrderStatus) string {
	switch s {
	case model.OrderStatusOpen:
		return color.New(color.FgGreen).Sprint(s)
	case model.OrderStatusFulfilled:
		return color.New(color.FgCyan).Sprint(s)
	case model.OrderStatusExpired:
		return color.New(color.FgRed).Sprint(s)
	default:
		return string(s)
	}
}
