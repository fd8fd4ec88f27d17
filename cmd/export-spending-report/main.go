package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mmdatafocus/household_backend/config"
	"github.com/mmdatafocus/household_backend/models"
	"github.com/mmdatafocus/household_backend/procurement"
	"github.com/mmdatafocus/household_backend/utils"
)

const contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func main() {
	depth := flag.Int("depth", 0, "Optional: analysis depth in days (engine defaults when 0).")
	granularity := flag.String("granularity", "", "Optional: trend granularity (daily|weekly|monthly).")
	out := flag.String("out", "", "Write the workbook to this local path.")
	upload := flag.Bool("upload", false, "Upload the workbook to GCS_BUCKET under reports/.")
	flag.Parse()

	if strings.TrimSpace(*out) == "" && !*upload {
		fmt.Fprintln(os.Stderr, "either --out or --upload is required")
		os.Exit(2)
	}

	ctx := utils.SetActorInContext(context.Background(), "ExportSpendingReport")
	cfg, err := config.LoadEngineConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine config: %v\n", err)
		os.Exit(1)
	}
	store, _, err := models.OpenStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	engine := procurement.NewEngine(store, cfg)

	req := procurement.SpendingReportRequest{Granularity: *granularity}
	if *depth > 0 {
		req.AnalysisDepthDays = depth
	}
	f, err := engine.BuildSpendingReport(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build report: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		fmt.Fprintf(os.Stderr, "render report: %v\n", err)
		os.Exit(1)
	}

	if p := strings.TrimSpace(*out); p != "" {
		if err := os.WriteFile(p, buf.Bytes(), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write %s: %v\n", p, err)
			os.Exit(1)
		}
		fmt.Printf("Report written to %s\n", p)
	}
	if *upload {
		object := fmt.Sprintf("reports/spending-%s.xlsx", time.Now().In(engine.Location()).Format("20060102-150405"))
		uri, err := utils.UploadBytesToGCS(ctx, object, contentTypeXLSX, buf.Bytes())
		if err != nil {
			fmt.Fprintf(os.Stderr, "upload: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Report uploaded to %s\n", uri)
	}
}
