package ingest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Profile is a named, reusable column mapping for a known export
// format.
type Profile struct {
	Name    string            `toml:"name"`
	Mapping map[string]string `toml:"mapping"`
}

// profilesFile is the top-level TOML structure.
type profilesFile struct {
	Profiles []Profile `toml:"profile"`
}

const defaultProfilesTOML = `# Column mapping profiles.
# Add new [[profile]] blocks for other export formats.

[[profile]]
name = "default"

[profile.mapping]
billNumber = "Bill No."
location = "Location"
projectName = "Project"
customerName = "Customer"
vendorName = "Vendor"
className = "Class"
billDate = "Bill Date"
billLineDescription = "Description"
billLineAmount = "Amount"
currency = "Currency"
invoiceDate = "Invoice Date"
poNumber = "PO Number"
pointOfContact = "Point of Contact"
attachments = "Attachments"
`

// LoadProfiles reads mapping profiles from path. A missing file is
// created with the default profile first, so a fresh install has
// something to edit.
func LoadProfiles(path string) (map[string]Mapping, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if dir := filepath.Dir(path); dir != "." {
			if mkErr := os.MkdirAll(dir, 0755); mkErr != nil {
				return nil, fmt.Errorf("create profiles dir: %w", mkErr)
			}
		}
		if wErr := os.WriteFile(path, []byte(defaultProfilesTOML), 0644); wErr != nil {
			return nil, fmt.Errorf("write default profiles: %w", wErr)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	return parseProfiles(data)
}

func parseProfiles(data []byte) (map[string]Mapping, error) {
	var file profilesFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}

	profiles := make(map[string]Mapping, len(file.Profiles))
	for _, p := range file.Profiles {
		if p.Name == "" {
			return nil, fmt.Errorf("profile without a name")
		}
		profiles[p.Name] = Mapping(p.Mapping)
	}
	return profiles, nil
}
