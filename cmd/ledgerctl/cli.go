package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"

	"academy-ledger/internal/repository"
)

var errHelp = errors.New("help provided")

type tenantBackfiller interface {
	BackfillTenant(ctx context.Context, tenantID string, dryRun bool) (repository.BackfillResult, error)
}

type commandLine struct {
	db      *sql.DB
	ledgers tenantBackfiller
	out     io.Writer

	migrate func(ctx context.Context, db *sql.DB) ([]string, error)
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate                              - apply the database schema")
	fmt.Fprintln(cli.out, "  backfill-tenant -tenant ID [-dry-run] - assign a tenant to legacy ledgers and transactions")
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	backfillCmd := flag.NewFlagSet("backfill-tenant", flag.ContinueOnError)
	backfillCmd.SetOutput(cli.out)
	backfillTenant := backfillCmd.String("tenant", "", "Tenant id to assign to records stored without one.")
	backfillDryRun := backfillCmd.Bool("dry-run", false, "Report the counts without keeping the changes.")

	switch args[1] {
	case "migrate":
		return cli.runMigrate(ctx)
	case "backfill-tenant":
		if err := backfillCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *backfillTenant == "" {
			backfillCmd.Usage()
			return errHelp
		}
		return cli.runBackfill(ctx, *backfillTenant, *backfillDryRun)
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) runMigrate(ctx context.Context) error {
	applied, err := cli.migrate(ctx, cli.db)
	if err != nil {
		return err
	}
	for _, name := range applied {
		fmt.Fprintf(cli.out, "applied %s\n", name)
	}
	return nil
}

func (cli *commandLine) runBackfill(ctx context.Context, tenantID string, dryRun bool) error {
	res, err := cli.ledgers.BackfillTenant(ctx, tenantID, dryRun)
	if err != nil {
		return err
	}
	mode := "updated"
	if res.DryRun {
		mode = "would update"
	}
	fmt.Fprintf(cli.out, "%s %d ledgers and %d transactions for tenant %s\n", mode, res.Ledgers, res.Transactions, tenantID)
	if len(res.Conflicts) > 0 {
		fmt.Fprintf(cli.out, "skipped %d students that already have a ledger for tenant %s:\n", len(res.Conflicts), tenantID)
		for _, id := range res.Conflicts {
			fmt.Fprintf(cli.out, "  %s\n", id)
		}
	}
	return nil
}
