package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/Smoaflie/invoice-collection/internal/bitable"
	"github.com/Smoaflie/invoice-collection/internal/config"
	"github.com/Smoaflie/invoice-collection/internal/database"
	"github.com/Smoaflie/invoice-collection/internal/database/repository"
	"github.com/Smoaflie/invoice-collection/internal/ocr"
	"github.com/Smoaflie/invoice-collection/internal/service"
)

const usage = `usage: invoices <command> [args]

commands:
  fetch               pull reimbursement records, OCR new invoice files, write results back
  recheck             re-run the validation rules over every extracted invoice
  sync                compare revisions and push or pull accordingly
  push                force a push of the local store to the remote table
  pull                force a pull of remote status onto the local store
  group <file.json>   bulk-assign statuses from a grouping file
  create-table <name> bootstrap a fresh remote invoice table and push into it
  reset               wipe the local store (schema kept)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]

	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("mkdir db dir: %v", err)
		}
	}

	if err := database.RunMigrations(cfg.Database.Path, cfg.Database.MigrationsPath); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	invoiceRepo := repository.NewInvoiceRepo(db)
	recordRepo := repository.NewRemoteRecordRepo(db)
	revisionRepo := repository.NewRevisionRepo(db)

	// reset is local-only; no remote credentials needed.
	if command == "reset" {
		maint := &service.MaintenanceService{DB: db}
		if err := maint.Reset(ctx); err != nil {
			log.Fatalf("reset: %v", err)
		}
		log.Printf("local store wiped")
		return
	}

	appToken, tableID, err := bitable.ParseTableURL(cfg.Remote.TableURL)
	if err != nil {
		log.Fatalf("remote table: %v", err)
	}

	store := bitable.NewClient(cfg.Remote.AppID, cfg.Remote.AppSecret, appToken, tableID)
	if err := store.Verify(ctx); err != nil {
		log.Fatalf("remote store credentials: %v", err)
	}

	validator := &service.ValidationService{
		Invoices: invoiceRepo,
		Rules:    buildRules(cfg.Validation),
	}
	syncer := &service.SyncService{
		Invoices:  invoiceRepo,
		Records:   recordRepo,
		Revisions: revisionRepo,
		Store:     store,
		TableID:   tableID,
	}

	switch command {
	case "fetch":
		extractor := ocr.NewClient(cfg.OCR.APIKey, cfg.OCR.SecretKey)
		if err := extractor.Verify(ctx); err != nil {
			log.Fatalf("ocr credentials: %v", err)
		}
		intake := &service.IntakeService{
			Invoices:  invoiceRepo,
			Records:   recordRepo,
			Source:    store,
			OCR:       extractor,
			Validator: validator,
			TableID:   tableID,
			Columns: service.RecordColumns{
				Uploader: cfg.Remote.UploaderColumn,
				Belonger: cfg.Remote.BelongerColumn,
				Invoices: cfg.Remote.InvoiceColumn,
				Amount:   cfg.Remote.AmountColumn,
				Remarks:  cfg.Remote.RemarksColumn,
			},
			UseFallback: cfg.OCR.UseFallback,
		}
		if err := intake.FetchAll(ctx); err != nil {
			log.Fatalf("fetch: %v", err)
		}

	case "recheck":
		res, err := validator.RecheckAll(ctx)
		if err != nil {
			log.Fatalf("recheck: %v", err)
		}
		log.Printf("rechecked %d invoices, %d rejected", res.Checked, res.Rejected)

	case "sync":
		direction, err := syncer.AutoSync(ctx)
		if err != nil {
			log.Fatalf("sync (%s): %v", direction, err)
		}
		log.Printf("sync complete, direction=%s", direction)

	case "push":
		if err := syncer.Push(ctx); err != nil {
			log.Fatalf("push: %v", err)
		}
		after, err := store.TableRevision(ctx)
		if err != nil {
			log.Fatalf("push: refresh remote revision: %v", err)
		}
		if err := revisionRepo.Set(ctx, tableID, after); err != nil {
			log.Fatalf("push: record revision: %v", err)
		}
		log.Printf("push complete, revision=%d", after)

	case "pull":
		remote, err := store.TableRevision(ctx)
		if err != nil {
			log.Fatalf("pull: fetch remote revision: %v", err)
		}
		if err := syncer.Pull(ctx); err != nil {
			log.Fatalf("pull: %v", err)
		}
		if err := revisionRepo.Set(ctx, tableID, remote); err != nil {
			log.Fatalf("pull: record revision: %v", err)
		}
		log.Printf("pull complete, revision=%d", remote)

	case "group":
		if len(os.Args) < 3 {
			log.Fatalf("group needs a request file, e.g. invoices group groups.json")
		}
		req, err := service.LoadGroupRequest(os.Args[2])
		if err != nil {
			log.Fatalf("group: %v", err)
		}
		grouper := &service.GroupService{Invoices: invoiceRepo}
		n, err := grouper.Apply(ctx, req)
		if err != nil {
			log.Fatalf("group: %v", err)
		}
		log.Printf("grouped %d invoices by %s", n, req.Key)

	case "create-table":
		if len(os.Args) < 3 {
			log.Fatalf("create-table needs a table name")
		}
		newID, err := store.CreateTable(ctx, os.Args[2], "发票总表", bitable.InvoiceTableFields())
		if err != nil {
			log.Fatalf("create table: %v", err)
		}
		log.Printf("created table %s", newID)
		// Point the client and the syncer at the fresh table; with no known
		// remote ids every local invoice becomes a create.
		store.TableID = newID
		syncer.TableID = newID
		if err := syncer.Push(ctx); err != nil {
			log.Fatalf("seed new table: %v", err)
		}
		after, err := store.TableRevision(ctx)
		if err != nil {
			log.Fatalf("seed new table: refresh revision: %v", err)
		}
		if err := revisionRepo.Set(ctx, newID, after); err != nil {
			log.Fatalf("seed new table: record revision: %v", err)
		}
		log.Printf("seeded table %s, revision=%d", newID, after)

	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func buildRules(v config.ValidationConfig) []service.Rule {
	var rules []service.Rule
	if v.BuyerName != "" {
		rules = append(rules, service.BuyerNameRule{Expected: v.BuyerName, Tolerance: v.BuyerNameTolerance})
	}
	for _, kw := range v.ForbiddenKeywords {
		rules = append(rules, service.ForbiddenKeywordRule{Keyword: kw})
	}
	return rules
}
