package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-venue-backend/internal/backup"
	"github.com/tbourn/go-venue-backend/internal/services"
)

// errResendFailed makes the command exit non-zero after reporting every file.
var errResendFailed = errors.New("one or more submissions were not delivered")

func newResendCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "resend [file...]",
		Short: "Send the notification again for saved submissions",
		Long: "Reads submission backup files and pushes each one through the delivery chain again.\n" +
			"No new backup file is written. With --all every file in SUBMISSIONS_DIR is resent.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			svc, store, _, err := newPipeline(rt.cfg)
			if err != nil {
				return err
			}
			files := args
			if all {
				if files, err = store.List(); err != nil {
					return err
				}
			}
			if len(files) == 0 {
				return errors.New("no submission files given (pass paths or --all)")
			}
			return resend(rt.log.WithContext(cmd.Context()), svc, files, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "resend every saved submission")
	return cmd
}

// resend delivers each file independently and reports one line per file.
func resend(ctx context.Context, svc *services.SubmissionService, files []string, out io.Writer) error {
	lg := zerolog.Ctx(ctx)
	failed := 0
	for _, path := range files {
		rec, err := backup.Load(path)
		if err != nil {
			failed++
			fmt.Fprintf(out, "%s: unreadable: %v\n", path, err)
			continue
		}
		attempts, err := svc.Resend(lg.With().Str("file", path).Logger().WithContext(ctx), rec)
		if err != nil {
			failed++
			fmt.Fprintf(out, "%s: not delivered: %v\n", path, err)
			continue
		}
		last := attempts[len(attempts)-1]
		fmt.Fprintf(out, "%s: delivered via %s (attempt %d)\n", path, last.Strategy, last.Ordinal)
	}
	if failed > 0 {
		return fmt.Errorf("%w (%d of %d)", errResendFailed, failed, len(files))
	}
	return nil
}
