package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"dispatch-route-server/config"
	"dispatch-route-server/dispatch"
	"dispatch-route-server/preprocessing"
)

type facilityDump struct {
	Index   *preprocessing.FacilityIndex `json:"index"`
	Summary map[string]int               `json:"summary"`
}

func main() {
	var in string
	var out string
	flag.StringVar(&in, "in", "", "Path to a facilities .hcl or .csv file (empty uses the built-in Tunja seeds)")
	flag.StringVar(&out, "out", "preprocessing/cache/facility_index.json", "Path to write JSON dump of the facility index")
	flag.Parse()

	rawLog := config.NewLogger(false, config.LogFormatConsole)
	defer rawLog.Sync() //nolint:errcheck
	log := rawLog.Sugar()

	facilities := dispatch.DefaultFacilities()
	if in != "" {
		log.Infof("Loading facilities from %s...", in)
		loaded, err := preprocessing.LoadFacilities(in)
		if err != nil {
			log.Fatalf("failed to load facilities: %v", err)
		}
		facilities = loaded
	} else {
		log.Info("No input file given, indexing built-in facilities")
	}

	idx := preprocessing.BuildFacilityIndex(facilities)
	dump := facilityDump{
		Index: idx,
		Summary: map[string]int{
			"facilities": len(idx.IDs),
			"maxId":      idx.IDs[len(idx.IDs)-1],
		},
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		log.Fatalf("failed to ensure cache dir: %v", err)
	}

	f, err := os.Create(out)
	if err != nil {
		log.Fatalf("failed to create output file %s: %v", out, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&dump); err != nil {
		log.Fatalf("failed to write JSON: %v", err)
	}

	fmt.Printf("Facility index written to %s\n", out)
	fmt.Printf("Summary: facilities=%d centroid=(%.6f, %.6f)\n",
		len(idx.IDs), idx.Centroid[0], idx.Centroid[1])
}
