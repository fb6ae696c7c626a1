package preprocessing

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"dispatch-route-server/dispatch"
)

var ErrUnsupportedFormat = errors.New("preprocessing: unsupported facility file format")

// facilityFile is the HCL layout of a seed file:
//
//	facility "Hospital San Rafael" {
//	  id  = 2
//	  lat = 5.5404943
//	  lng = -73.3612242
//	}
type facilityFile struct {
	Facilities []facilityBlock `hcl:"facility,block"`
}

type facilityBlock struct {
	Name string  `hcl:"name,label"`
	ID   int     `hcl:"id"`
	Lat  float64 `hcl:"lat"`
	Lng  float64 `hcl:"lng"`
}

// LoadFacilities reads fixed facility seeds from an .hcl or .csv file.
// CSV files need a header with id, name, lat and lng columns.
func LoadFacilities(path string) ([]dispatch.Facility, error) {
	var (
		facilities []dispatch.Facility
		err        error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		facilities, err = loadFacilitiesHCL(path)
	case ".csv":
		facilities, err = loadFacilitiesCSV(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return nil, err
	}

	if err := ValidateFacilities(facilities); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return facilities, nil
}

func loadFacilitiesHCL(path string) ([]dispatch.Facility, error) {
	var file facilityFile
	if err := hclsimple.DecodeFile(path, nil, &file); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	out := make([]dispatch.Facility, 0, len(file.Facilities))
	for _, b := range file.Facilities {
		out = append(out, dispatch.Facility{
			ID:    b.ID,
			Name:  strings.TrimSpace(b.Name),
			Lat:   b.Lat,
			Lng:   b.Lng,
			Fixed: true,
		})
	}
	return out, nil
}

func loadFacilitiesCSV(path string) ([]dispatch.Facility, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read facilities header: %w", err)
	}
	h := headerIndex(header)
	for _, col := range []string{"id", "name", "lat", "lng"} {
		if _, ok := h[col]; !ok {
			return nil, fmt.Errorf("facilities header is missing column %q", col)
		}
	}

	out := make([]dispatch.Facility, 0)
	line := 1
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read facilities row: %w", err)
		}
		line++

		get := func(k string) string {
			i, ok := h[k]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		id, err := strconv.Atoi(get("id"))
		if err != nil {
			return nil, fmt.Errorf("line %d: bad id: %w", line, err)
		}
		lat, err := strconv.ParseFloat(get("lat"), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad lat: %w", line, err)
		}
		lng, err := strconv.ParseFloat(get("lng"), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad lng: %w", line, err)
		}

		out = append(out, dispatch.Facility{ID: id, Name: get("name"), Lat: lat, Lng: lng, Fixed: true})
	}
	return out, nil
}

// ValidateFacilities checks ids are positive and unique, names are set and
// coordinates are finite.
func ValidateFacilities(facilities []dispatch.Facility) error {
	if len(facilities) == 0 {
		return errors.New("no facilities defined")
	}
	seen := make(map[int]bool, len(facilities))
	for _, f := range facilities {
		switch {
		case f.ID <= 0:
			return fmt.Errorf("facility %q: id must be positive, got %d", f.Name, f.ID)
		case seen[f.ID]:
			return fmt.Errorf("duplicate facility id %d", f.ID)
		case strings.TrimSpace(f.Name) == "":
			return fmt.Errorf("facility %d: name is empty", f.ID)
		case math.IsNaN(f.Lat) || math.IsInf(f.Lat, 0) || math.IsNaN(f.Lng) || math.IsInf(f.Lng, 0):
			return fmt.Errorf("facility %d: coordinates are not finite", f.ID)
		}
		seen[f.ID] = true
	}
	return nil
}

// FacilityIndex is a lookup-friendly view of a seed table.
type FacilityIndex struct {
	ByID      map[int]dispatch.Facility `json:"byId"`
	IDs       []int                     `json:"ids"`
	Centroid  [2]float64                `json:"centroid"`
	BoundsMin [2]float64                `json:"boundsMin"`
	BoundsMax [2]float64                `json:"boundsMax"`
}

func BuildFacilityIndex(facilities []dispatch.Facility) *FacilityIndex {
	idx := &FacilityIndex{
		ByID:      make(map[int]dispatch.Facility, len(facilities)),
		BoundsMin: [2]float64{math.Inf(1), math.Inf(1)},
		BoundsMax: [2]float64{math.Inf(-1), math.Inf(-1)},
	}
	if len(facilities) == 0 {
		idx.BoundsMin, idx.BoundsMax = [2]float64{}, [2]float64{}
		return idx
	}

	for _, f := range facilities {
		idx.ByID[f.ID] = f
		idx.IDs = append(idx.IDs, f.ID)
		idx.Centroid[0] += f.Lat
		idx.Centroid[1] += f.Lng
		idx.BoundsMin[0] = math.Min(idx.BoundsMin[0], f.Lat)
		idx.BoundsMin[1] = math.Min(idx.BoundsMin[1], f.Lng)
		idx.BoundsMax[0] = math.Max(idx.BoundsMax[0], f.Lat)
		idx.BoundsMax[1] = math.Max(idx.BoundsMax[1], f.Lng)
	}
	n := float64(len(facilities))
	idx.Centroid[0] /= n
	idx.Centroid[1] /= n
	sort.Ints(idx.IDs)
	return idx
}

func headerIndex(hdr []string) map[string]int {
	m := make(map[string]int, len(hdr))
	for i, k := range hdr {
		m[strings.ToLower(strings.TrimSpace(k))] = i
	}
	return m
}
