// Command import загружает историю платежей из CSV-выгрузки старой базы.
//
// Ожидаемые колонки (первая строка заголовок, порядок любой):
// payment_id, user_id, amount, status, payment_method, description, created_at, captured_at.
// Повторный импорт безопасен: записи обновляются по payment_id.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	"vpnkeys-bot/internal/infra/database"
	"vpnkeys-bot/internal/storage"
	"vpnkeys-bot/internal/stories/payment"
)

func main() {
	driver := flag.String("driver", database.DriverSQLite3, "database driver: sqlite3 or mysql")
	dsn := flag.String("dsn", "./data/vpnkeys.db", "database DSN (file path for sqlite3)")
	csvPath := flag.String("csv", "./payments.csv", "path to CSV export")
	markProvisioned := flag.Bool("mark-provisioned", true, "mark imported succeeded payments as already provisioned")
	dryRun := flag.Bool("dry-run", false, "show what would be imported without writing to DB")
	flag.Parse()

	ctx := context.Background()

	file, err := os.Open(*csvPath)
	if err != nil {
		log.Fatalf("failed to open %s: %v", *csvPath, err)
	}
	defer file.Close()

	rows, skipped, err := readPayments(file)
	if err != nil {
		log.Fatalf("failed to read %s: %v", *csvPath, err)
	}
	for _, s := range skipped {
		fmt.Printf("  SKIP row %d: %v\n", s.line, s.err)
	}

	if *dryRun {
		for _, r := range rows {
			fmt.Printf("  DRY: %s user=%d amount=%s status=%s\n",
				r.PaymentID, r.UserID, r.Amount.StringFixed(2), r.Status)
		}
		fmt.Printf("\nParsed: %d, Skipped: %d\n(DRY RUN - nothing was written to database)\n", len(rows), len(skipped))
		return
	}

	db, err := database.New(ctx,
		database.WithDriver(*driver),
		database.WithDSN(*dsn),
		database.WithMigrations(),
	)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	payments := payment.NewService(storage.New(db.DB), nil, logger)

	res := importPayments(ctx, payments, rows, *markProvisioned)
	for _, e := range res.errors {
		fmt.Printf("  ERROR %v\n", e)
	}

	fmt.Printf("\n=== TOTAL ===\n")
	fmt.Printf("Created: %d\n", res.created)
	fmt.Printf("Updated: %d\n", res.updated)
	fmt.Printf("Skipped: %d\n", len(skipped))
	fmt.Printf("Errors: %d\n", len(res.errors))
}
