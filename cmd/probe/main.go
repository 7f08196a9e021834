// Command probe runs shield modules locally against a single target and
// prints the findings, without needing a control plane. It is the fastest
// way to answer "what would a scan of this host say" from a laptop.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/intel"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/shield"
)

var severityRank = map[string]int{
	models.SeverityCritical: 0,
	models.SeverityHigh:     1,
	models.SeverityMedium:   2,
	models.SeverityLow:      3,
	models.SeverityInfo:     4,
}

func main() {
	godotenv.Load()

	depth := flag.String("depth", models.DepthStandard, "module set: quick, standard or deep")
	moduleCSV := flag.String("modules", "", "comma-separated module names, overrides -depth")
	sensitivity := flag.String("sensitivity", models.SensitivitySafe, "target sensitivity: fragile, cautious or safe")
	port := flag.Int("port", 0, "port hint passed to the modules (0 = module defaults)")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall scan deadline")
	asJSON := flag.Bool("json", false, "emit the raw result as JSON instead of a report")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <target>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}
	target := flag.Arg(0)

	logger := log.New(os.Stderr, "[PROBE] ", log.LstdFlags)

	if _, err := shield.TargetTypeOf(target); err != nil {
		logger.Fatalf("❌ %v", err)
	}
	switch *sensitivity {
	case models.SensitivityFragile, models.SensitivityCautious, models.SensitivitySafe:
	default:
		logger.Fatalf("❌ Unknown sensitivity %q", *sensitivity)
	}

	var names []string
	if *moduleCSV != "" {
		for _, n := range strings.Split(*moduleCSV, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
		if len(names) == 0 {
			logger.Fatalf("❌ -modules given but empty")
		}
	} else {
		if names = shield.ModulesForDepth(*depth); len(names) == 0 {
			logger.Fatalf("❌ Unknown depth %q", *depth)
		}
	}
	names = shield.ApplySensitivity(names, *sensitivity)
	if len(names) == 0 {
		logger.Fatalf("❌ Sensitivity %s excludes every selected module", *sensitivity)
	}

	source := intel.NewService(os.Getenv("NVD_API_KEY"), intel.NewMemoryCache())
	registry, err := shield.DefaultRegistry(source)
	if err != nil {
		logger.Fatalf("❌ %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	logger.Printf("🚀 Probing %s with modules %s", target, strings.Join(names, ", "))
	res := shield.RunModules(ctx, registry, target, *port, names, logger)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			logger.Fatalf("❌ %v", err)
		}
		return
	}
	printReport(res)
}

func printReport(res *shield.RunResult) {
	fmt.Printf("Target:   %s\n", res.Target)
	fmt.Printf("Modules:  %s\n", strings.Join(res.ModulesRun, ", "))
	fmt.Printf("Duration: %.1fs\n\n", res.CompletedAt.Sub(res.StartedAt).Seconds())

	if len(res.Findings) == 0 {
		fmt.Println("No findings.")
	} else {
		findings := make([]models.ShieldFinding, len(res.Findings))
		copy(findings, res.Findings)
		sort.SliceStable(findings, func(i, j int) bool {
			return severityRank[findings[i].Severity] < severityRank[findings[j].Severity]
		})

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SEVERITY\tMODULE\tFINDING\tWHERE")
		for _, f := range findings {
			title := f.Title
			if f.CVEID != "" {
				title += " (" + f.CVEID + ")"
			}
			where := f.TargetIP
			if f.TargetPort > 0 {
				where = fmt.Sprintf("%s:%d", where, f.TargetPort)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", strings.ToUpper(f.Severity), f.Module, title, where)
		}
		tw.Flush()
	}

	fmt.Println()
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODULE\tSCORE\tWEIGHT\tPASS\tWARN\tFAIL")
	modNames := make([]string, 0, len(res.ModuleScores))
	for name := range res.ModuleScores {
		modNames = append(modNames, name)
	}
	sort.Strings(modNames)
	for _, name := range modNames {
		ms := res.ModuleScores[name]
		fmt.Fprintf(tw, "%s\t%.1f\t%d\t%d\t%d\t%d\n",
			name, ms.Score, ms.Weight, ms.PassedChecks, ms.WarningChecks, ms.FailedChecks)
	}
	tw.Flush()

	fmt.Printf("\nShield score: %.1f (%s)\n", res.Score, res.Grade)
}
