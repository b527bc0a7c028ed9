package branches

import (
	_ "embed"
	"fmt"
	"sort"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

//go:embed branches.yaml
var defaultData []byte

// DefaultTimezone is used for states without an explicit mapping.
const DefaultTimezone = "Australia/Sydney"

var stateZones = map[string]string{
	"NSW": "Australia/Sydney",
	"VIC": "Australia/Melbourne",
	"QLD": "Australia/Brisbane",
}

// Branch is a physical store known to both systems.
type Branch struct {
	LocationID int    `yaml:"location_id" json:"locationId"`
	Code       string `yaml:"code" json:"branch"`
	Name       string `yaml:"name" json:"storeName"`
	State      string `yaml:"state" json:"state"`

	loc *time.Location
}

// Location returns the branch's local timezone.
func (b Branch) Location() *time.Location {
	if b.loc == nil {
		loc, err := time.LoadLocation(TimezoneForState(b.State))
		if err != nil {
			return time.UTC
		}
		return loc
	}
	return b.loc
}

// TimezoneForState maps an Australian state code to its IANA zone.
func TimezoneForState(state string) string {
	if tz, ok := stateZones[state]; ok {
		return tz
	}
	return DefaultTimezone
}

// Directory is read-only after Load and safe for concurrent use.
type Directory struct {
	branches   []Branch
	byLocation map[int]Branch
	byCode     map[string]Branch
}

type file struct {
	Branches []Branch `yaml:"branches"`
}

// Load parses a YAML branch list.
func Load(data []byte) (*Directory, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse branches: %w", err)
	}

	d := &Directory{
		byLocation: make(map[int]Branch, len(f.Branches)),
		byCode:     make(map[string]Branch, len(f.Branches)),
	}
	for _, b := range f.Branches {
		if b.LocationID == 0 || b.Code == "" {
			return nil, fmt.Errorf("branch %q: location_id and code are required", b.Name)
		}
		if _, dup := d.byLocation[b.LocationID]; dup {
			return nil, fmt.Errorf("duplicate location_id %d", b.LocationID)
		}
		if _, dup := d.byCode[b.Code]; dup {
			return nil, fmt.Errorf("duplicate branch code %s", b.Code)
		}
		loc, err := time.LoadLocation(TimezoneForState(b.State))
		if err != nil {
			return nil, fmt.Errorf("branch %s timezone: %w", b.Code, err)
		}
		b.loc = loc
		d.branches = append(d.branches, b)
		d.byLocation[b.LocationID] = b
		d.byCode[b.Code] = b
	}
	return d, nil
}

// Default returns the embedded directory.
func Default() *Directory {
	d, err := Load(defaultData)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Directory) ByLocation(id int) (Branch, bool) {
	b, ok := d.byLocation[id]
	return b, ok
}

func (d *Directory) ByCode(code string) (Branch, bool) {
	b, ok := d.byCode[code]
	return b, ok
}

// All returns the branches in file order.
func (d *Directory) All() []Branch {
	out := make([]Branch, len(d.branches))
	copy(out, d.branches)
	return out
}

func (d *Directory) LocationIDs() []int {
	ids := make([]int, 0, len(d.branches))
	for _, b := range d.branches {
		ids = append(ids, b.LocationID)
	}
	sort.Ints(ids)
	return ids
}

func (d *Directory) Codes() []string {
	codes := make([]string, 0, len(d.branches))
	for _, b := range d.branches {
		codes = append(codes, b.Code)
	}
	return codes
}
